package usage

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Record is one successful generation, as stored in generation_usage.
type Record struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	GeneratedAt time.Time `json:"generated_at"`
	Tool        string    `json:"tool"`
	Language    string    `json:"language"`
	Framework   string    `json:"framework"`
	PromptType  string    `json:"prompt_type"`
	TokensUsed  int       `json:"tokens_used"`
}

// Stats aggregates a user's generations over a period.
type Stats struct {
	Generations  int64          `json:"generations"`
	TokensUsed   int64          `json:"tokens_used"`
	ByTool       map[string]int `json:"by_tool"`
	ByPromptType map[string]int `json:"by_prompt_type"`
}

// ListParams holds pagination and time filters for history queries.
type ListParams struct {
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}

// DefaultListParams is the first page of twenty records.
func DefaultListParams() ListParams {
	return ListParams{
		Page:     1,
		PageSize: 20,
	}
}

func (p *ListParams) normalize() {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 || p.PageSize > 100 {
		p.PageSize = 20
	}
}

func (p ListParams) offset() int {
	return (p.Page - 1) * p.PageSize
}

// Ledger is the append-only store of generations.
//
// Records are never updated or deleted through this interface. A zero
// GeneratedAt on Insert is replaced by the insert time.
type Ledger interface {
	CountSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error)
	Insert(ctx context.Context, rec *Record) error
	ListByUser(ctx context.Context, userID uuid.UUID, params ListParams) ([]Record, int64, error)
	Stats(ctx context.Context, userID uuid.UUID, from, to *time.Time) (*Stats, error)
	Ping(ctx context.Context) error
}
