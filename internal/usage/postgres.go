package usage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLedger stores generations in the generation_usage table.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

var _ Ledger = (*PostgresLedger)(nil)

// NewPostgresLedger creates a Ledger on an existing pool.
func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

// CountSince counts the user's generations at or after since.
func (l *PostgresLedger) CountSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	var n int
	err := l.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM generation_usage WHERE user_id = $1 AND generated_at >= $2`,
		userID, since.UTC(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting generations: %w", err)
	}
	return n, nil
}

// Insert appends a record. ID and GeneratedAt are filled in when empty.
func (l *PostgresLedger) Insert(ctx context.Context, rec *Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	var at *time.Time
	if !rec.GeneratedAt.IsZero() {
		t := rec.GeneratedAt.UTC()
		at = &t
	}

	err := l.pool.QueryRow(ctx,
		`INSERT INTO generation_usage (id, user_id, generated_at, tool, language, framework, prompt_type, tokens_used)
		 VALUES ($1, $2, COALESCE($3::timestamptz, NOW()), $4, $5, $6, $7, $8)
		 RETURNING generated_at`,
		rec.ID, rec.UserID, at, rec.Tool, rec.Language, rec.Framework, rec.PromptType, rec.TokensUsed,
	).Scan(&rec.GeneratedAt)
	if err != nil {
		return fmt.Errorf("inserting generation usage: %w", err)
	}
	return nil
}

// ListByUser returns the user's generations, newest first.
func (l *PostgresLedger) ListByUser(ctx context.Context, userID uuid.UUID, params ListParams) ([]Record, int64, error) {
	params.normalize()

	where, args := l.filter(userID, params.From, params.To)

	var total int64
	if err := l.pool.QueryRow(ctx, "SELECT COUNT(*) FROM generation_usage WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting generation usage: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT id, user_id, generated_at, tool, language, framework, prompt_type, tokens_used
		 FROM generation_usage WHERE %s
		 ORDER BY generated_at DESC
		 LIMIT $%d OFFSET $%d`, where, len(args)+1, len(args)+2)
	args = append(args, params.PageSize, params.offset())

	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying generation usage: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.UserID, &r.GeneratedAt, &r.Tool, &r.Language,
			&r.Framework, &r.PromptType, &r.TokensUsed); err != nil {
			return nil, 0, fmt.Errorf("scanning generation usage: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating generation usage: %w", err)
	}

	return records, total, nil
}

// Stats aggregates the user's generations in [from, to].
func (l *PostgresLedger) Stats(ctx context.Context, userID uuid.UUID, from, to *time.Time) (*Stats, error) {
	where, args := l.filter(userID, from, to)

	stats := &Stats{ByTool: map[string]int{}, ByPromptType: map[string]int{}}
	err := l.pool.QueryRow(ctx,
		"SELECT COUNT(*), COALESCE(SUM(tokens_used), 0) FROM generation_usage WHERE "+where, args...,
	).Scan(&stats.Generations, &stats.TokensUsed)
	if err != nil {
		return nil, fmt.Errorf("aggregating generation usage: %w", err)
	}

	for column, into := range map[string]map[string]int{"tool": stats.ByTool, "prompt_type": stats.ByPromptType} {
		rows, err := l.pool.Query(ctx,
			fmt.Sprintf("SELECT %s, COUNT(*) FROM generation_usage WHERE %s GROUP BY %s", column, where, column), args...)
		if err != nil {
			return nil, fmt.Errorf("grouping generation usage by %s: %w", column, err)
		}
		for rows.Next() {
			var key string
			var n int
			if err := rows.Scan(&key, &n); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scanning %s breakdown: %w", column, err)
			}
			into[key] = n
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("iterating %s breakdown: %w", column, err)
		}
	}

	return stats, nil
}

func (l *PostgresLedger) Ping(ctx context.Context) error {
	return l.pool.Ping(ctx)
}

func (l *PostgresLedger) filter(userID uuid.UUID, from, to *time.Time) (string, []any) {
	conditions := []string{"user_id = $1"}
	args := []any{userID}

	if from != nil {
		args = append(args, from.UTC())
		conditions = append(conditions, fmt.Sprintf("generated_at >= $%d", len(args)))
	}
	if to != nil {
		args = append(args, to.UTC())
		conditions = append(conditions, fmt.Sprintf("generated_at <= $%d", len(args)))
	}

	return strings.Join(conditions, " AND "), args
}
