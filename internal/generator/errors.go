package generator

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUnauthenticated     = errors.New("generator: unauthenticated")
	ErrInvalidSession      = fmt.Errorf("%w: invalid session", ErrUnauthenticated)
	ErrInvalidRequest      = errors.New("generator: invalid request")
	ErrQuotaExceeded       = errors.New("generator: daily quota exceeded")
	ErrUpstreamBusy        = errors.New("generator: upstream busy")
	ErrUpstreamUnavailable = errors.New("generator: upstream unavailable")
	ErrGenerationFailed    = errors.New("generator: generation failed")
)

// ValidationError is a request that cannot be served as sent.
type ValidationError struct {
	Missing []string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "Missing required fields: " + strings.Join(e.Missing, ", ")
}

func (e *ValidationError) Unwrap() error { return ErrInvalidRequest }

// QuotaError reports that the caller has used the whole daily limit.
type QuotaError struct {
	Limit    int
	ResetsAt time.Time
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("generator: daily limit of %d reached, resets at %s", e.Limit, e.ResetsAt.Format(time.RFC3339))
}

func (e *QuotaError) Unwrap() error { return ErrQuotaExceeded }
