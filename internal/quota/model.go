package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrExhausted is returned by Reserve when the user has no generations left today.
var ErrExhausted = errors.New("quota: daily limit reached")

// Counter atomically tracks generations per user per UTC day.
//
// Reserve checks and increments in one step: concurrent callers for the same
// user and day can never together exceed limit. seed is the usage already
// recorded in the ledger; the counter never reports less than it.
type Counter interface {
	Reserve(ctx context.Context, userID uuid.UUID, day time.Time, limit, seed int) (Reservation, error)
	Release(ctx context.Context, res Reservation) error
	Current(ctx context.Context, userID uuid.UUID, day time.Time) (int, error)
}

// Reservation is one granted generation slot.
type Reservation struct {
	UserID uuid.UUID
	Day    time.Time
	Limit  int
	// Used is the usage before this reservation was granted.
	Used int
}

// Remaining is what is left once this reservation is consumed.
func (r Reservation) Remaining() int {
	n := r.Limit - r.Used - 1
	if n < 0 {
		return 0
	}
	return n
}

// UsedToday is the larger of the ledger count and the counter's value for day.
// The counter runs ahead of the ledger after a failed ledger write. When the
// counter cannot be read the ledger count comes back with the error.
func UsedToday(ctx context.Context, c Counter, userID uuid.UUID, day time.Time, ledgerCount int) (int, error) {
	current, err := c.Current(ctx, userID, day)
	if err != nil {
		return ledgerCount, fmt.Errorf("reading quota counter: %w", err)
	}
	return max(ledgerCount, current), nil
}

// Status is the API response showing today's usage and limit.
type Status struct {
	Used      int       `json:"used"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetsAt  time.Time `json:"resets_at"`
}

// NewStatus builds a Status for the day containing now.
func NewStatus(used, limit int, now time.Time) Status {
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return Status{
		Used:      used,
		Limit:     limit,
		Remaining: remaining,
		ResetsAt:  NextReset(now),
	}
}
