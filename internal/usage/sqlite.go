package usage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// SQLiteLedger stores generations in a local SQLite file.
// generated_at is kept as unix milliseconds so range scans compare integers.
type SQLiteLedger struct {
	conn *sql.DB
	now  func() time.Time
}

var _ Ledger = (*SQLiteLedger)(nil)

// OpenSQLite opens (creating if needed) the database at path and applies the schema.
// Use ":memory:" for a private in-memory database.
func OpenSQLite(path string) (*SQLiteLedger, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating ledger directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite ledger: %w", err)
	}
	// A single connection keeps ":memory:" one database.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec(sqliteSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("applying sqlite schema: %w", err)
	}

	return &SQLiteLedger{conn: conn, now: time.Now}, nil
}

func (l *SQLiteLedger) Close() error {
	return l.conn.Close()
}

func (l *SQLiteLedger) CountSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	var n int
	err := l.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM generation_usage WHERE user_id = ? AND generated_at >= ?`,
		userID.String(), since.UnixMilli(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting generations: %w", err)
	}
	return n, nil
}

func (l *SQLiteLedger) Insert(ctx context.Context, rec *Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.GeneratedAt.IsZero() {
		rec.GeneratedAt = l.now()
	}
	rec.GeneratedAt = time.UnixMilli(rec.GeneratedAt.UnixMilli()).UTC()

	_, err := l.conn.ExecContext(ctx,
		`INSERT INTO generation_usage (id, user_id, generated_at, tool, language, framework, prompt_type, tokens_used)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID.String(), rec.UserID.String(), rec.GeneratedAt.UnixMilli(),
		rec.Tool, rec.Language, rec.Framework, rec.PromptType, rec.TokensUsed,
	)
	if err != nil {
		return fmt.Errorf("inserting generation usage: %w", err)
	}
	return nil
}

func (l *SQLiteLedger) ListByUser(ctx context.Context, userID uuid.UUID, params ListParams) ([]Record, int64, error) {
	params.normalize()

	where, args := sqliteFilter(userID, params.From, params.To)

	var total int64
	if err := l.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM generation_usage WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting generation usage: %w", err)
	}

	rows, err := l.conn.QueryContext(ctx,
		`SELECT id, user_id, generated_at, tool, language, framework, prompt_type, tokens_used
		 FROM generation_usage WHERE `+where+`
		 ORDER BY generated_at DESC LIMIT ? OFFSET ?`,
		append(args, params.PageSize, params.offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying generation usage: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var (
			r       Record
			id, uid string
			at      int64
		)
		if err := rows.Scan(&id, &uid, &at, &r.Tool, &r.Language, &r.Framework, &r.PromptType, &r.TokensUsed); err != nil {
			return nil, 0, fmt.Errorf("scanning generation usage: %w", err)
		}
		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, 0, fmt.Errorf("parsing record id: %w", err)
		}
		if r.UserID, err = uuid.Parse(uid); err != nil {
			return nil, 0, fmt.Errorf("parsing user id: %w", err)
		}
		r.GeneratedAt = time.UnixMilli(at).UTC()
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating generation usage: %w", err)
	}

	return records, total, nil
}

func (l *SQLiteLedger) Stats(ctx context.Context, userID uuid.UUID, from, to *time.Time) (*Stats, error) {
	where, args := sqliteFilter(userID, from, to)

	stats := &Stats{ByTool: map[string]int{}, ByPromptType: map[string]int{}}
	err := l.conn.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(tokens_used), 0) FROM generation_usage WHERE "+where, args...,
	).Scan(&stats.Generations, &stats.TokensUsed)
	if err != nil {
		return nil, fmt.Errorf("aggregating generation usage: %w", err)
	}

	for column, into := range map[string]map[string]int{"tool": stats.ByTool, "prompt_type": stats.ByPromptType} {
		if err := l.breakdown(ctx, column, where, args, into); err != nil {
			return nil, err
		}
	}
	return stats, nil
}

func (l *SQLiteLedger) breakdown(ctx context.Context, column, where string, args []any, into map[string]int) error {
	rows, err := l.conn.QueryContext(ctx,
		fmt.Sprintf("SELECT %s, COUNT(*) FROM generation_usage WHERE %s GROUP BY %s", column, where, column), args...)
	if err != nil {
		return fmt.Errorf("grouping generation usage by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scanning %s breakdown: %w", column, err)
		}
		into[key] = n
	}
	return rows.Err()
}

func (l *SQLiteLedger) Ping(ctx context.Context) error {
	return l.conn.PingContext(ctx)
}

func sqliteFilter(userID uuid.UUID, from, to *time.Time) (string, []any) {
	conditions := []string{"user_id = ?"}
	args := []any{userID.String()}

	if from != nil {
		conditions = append(conditions, "generated_at >= ?")
		args = append(args, from.UnixMilli())
	}
	if to != nil {
		conditions = append(conditions, "generated_at <= ?")
		args = append(args, to.UnixMilli())
	}

	return strings.Join(conditions, " AND "), args
}
