package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Entry matches the generation_events table schema.
type Entry struct {
	ID         uuid.UUID       `json:"id"`
	UserID     uuid.UUID       `json:"user_id"`
	Outcome    string          `json:"outcome"`
	Tool       string          `json:"tool,omitempty"`
	PromptType string          `json:"prompt_type,omitempty"`
	TokensUsed int             `json:"tokens_used"`
	Remaining  int             `json:"remaining"`
	Details    json.RawMessage `json:"details,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// ListParams holds pagination and filtering parameters for event queries.
type ListParams struct {
	Outcome  string
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}

func DefaultListParams() ListParams {
	return ListParams{
		Page:     1,
		PageSize: 20,
	}
}
