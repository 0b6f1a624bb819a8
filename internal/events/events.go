package events

import (
	"time"

	"github.com/google/uuid"
)

// FetchTimeout is the default timeout for batch fetching messages from consumers.
const FetchTimeout = 2 * time.Second

const (
	StreamEvents = "PROMPTS_EVENTS"

	SubjectPrefix     = "prompts.events"
	SubjectGeneration = SubjectPrefix + ".generation"
)

// GenerationEvent records the outcome of one generation attempt by an
// authenticated user. Outcome is one of the metrics.Outcome* values.
type GenerationEvent struct {
	ID         uuid.UUID `json:"id"`
	UserID     uuid.UUID `json:"user_id"`
	Outcome    string    `json:"outcome"`
	Tool       string    `json:"tool,omitempty"`
	PromptType string    `json:"prompt_type,omitempty"`
	TokensUsed int       `json:"tokens_used"`
	Remaining  int       `json:"remaining"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
