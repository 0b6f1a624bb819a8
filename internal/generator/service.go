// Package generator turns a project description into a ready-to-use AI
// assistant prompt while enforcing each user's daily generation limit.
package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/convertscout/awesome-ai-prompts-sub000/internal/auth"
	"github.com/convertscout/awesome-ai-prompts-sub000/internal/events"
	"github.com/convertscout/awesome-ai-prompts-sub000/internal/metrics"
	"github.com/convertscout/awesome-ai-prompts-sub000/internal/prompts"
	"github.com/convertscout/awesome-ai-prompts-sub000/internal/quota"
	"github.com/convertscout/awesome-ai-prompts-sub000/internal/upstream"
	"github.com/convertscout/awesome-ai-prompts-sub000/internal/usage"
)

// Completer calls the chat completion service.
type Completer interface {
	Complete(ctx context.Context, req upstream.Request) (*upstream.Completion, error)
}

// EventPublisher receives one event per finished generation attempt.
type EventPublisher interface {
	PublishGenerationEvent(ctx context.Context, event events.GenerationEvent) error
}

type Service struct {
	verifier  auth.TokenVerifier
	ledger    usage.Ledger
	counter   quota.Counter
	completer Completer
	catalog   *prompts.Catalog
	publisher EventPublisher
	validate  *validator.Validate
	cfg       Config
	now       func() time.Time
}

// NewService wires the generator. publisher may be nil.
func NewService(
	verifier auth.TokenVerifier,
	ledger usage.Ledger,
	counter quota.Counter,
	completer Completer,
	catalog *prompts.Catalog,
	publisher EventPublisher,
	cfg Config,
) *Service {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})

	return &Service{
		verifier:  verifier,
		ledger:    ledger,
		counter:   counter,
		completer: completer,
		catalog:   catalog,
		publisher: publisher,
		validate:  validate,
		cfg:       cfg,
		now:       time.Now,
	}
}

// DailyLimit is the number of generations each user gets per UTC day.
func (s *Service) DailyLimit() int {
	return s.cfg.DailyLimit
}

// Authenticate resolves a bearer token to the caller's identity.
func (s *Service) Authenticate(ctx context.Context, token string) (*auth.Identity, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}
	identity, err := s.verifier.Verify(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}
	return identity, nil
}

// Generate authenticates the caller, reserves one of today's generations,
// and asks the upstream model for a prompt. Failed upstream calls give the
// reservation back.
func (s *Service) Generate(ctx context.Context, token string, req *Request) (*Result, error) {
	identity, err := s.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	userID := identity.UserID

	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	promptType, ok := prompts.ParsePromptType(req.PromptType)
	if !ok {
		if s.cfg.StrictPromptType {
			return nil, &ValidationError{Message: fmt.Sprintf("Unsupported promptType %q", req.PromptType)}
		}
		slog.Warn("unknown prompt type, using default",
			"prompt_type", req.PromptType,
			"default", prompts.Default,
			"user_id", userID,
		)
		promptType = prompts.Default
	}

	systemPrompt, err := s.catalog.Render(promptType, prompts.Vars{
		Tool:      req.Tool,
		Language:  req.Language,
		Framework: req.Framework,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	event := events.GenerationEvent{
		UserID:     userID,
		Tool:       req.Tool,
		PromptType: string(promptType),
	}

	now := s.now()
	res, releaser, err := s.reserve(ctx, userID, now)
	if err != nil {
		var qe *QuotaError
		if errors.As(err, &qe) {
			metrics.QuotaRejections.Inc()
			event.Outcome = metrics.OutcomeQuotaExceeded
		} else {
			event.Outcome = metrics.OutcomeFailed
			event.Detail = err.Error()
		}
		s.record(ctx, event, now)
		return nil, err
	}

	completion, err := s.completer.Complete(ctx, upstream.Request{
		Model: s.cfg.Model,
		Messages: []upstream.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: "Project description: " + req.Description},
		},
	})
	if err != nil {
		s.release(ctx, releaser, res)
		mapped := mapUpstreamError(err)
		slog.Error("upstream completion failed", "error", err, "user_id", userID)

		event.Outcome = outcomeFor(mapped)
		event.Remaining = res.Limit - res.Used
		event.Detail = err.Error()
		s.record(ctx, event, now)
		return nil, mapped
	}

	// Stamped when the row is written, after the upstream call returns. A
	// generation that straddles midnight is charged to the day it started by
	// the counter and lands in the ledger on the next day.
	rec := &usage.Record{
		UserID:      userID,
		GeneratedAt: s.now().UTC(),
		Tool:        req.Tool,
		Language:    req.Language,
		Framework:   req.Framework,
		PromptType:  string(promptType),
		TokensUsed:  completion.TotalTokens,
	}
	// The generation already happened; the caller gets it even if the ledger
	// write fails, and the reservation keeps counting it.
	if err := s.ledger.Insert(context.WithoutCancel(ctx), rec); err != nil {
		metrics.UsageTrackingFailures.Inc()
		slog.Error("recording generation usage", "error", err, "user_id", userID)
	}

	remaining := res.Remaining()
	event.Outcome = metrics.OutcomeCompleted
	event.TokensUsed = completion.TotalTokens
	event.Remaining = remaining
	s.record(ctx, event, now)

	return &Result{
		Content:   completion.Content,
		Remaining: remaining,
		Message:   resultMessage(remaining),
	}, nil
}

func (s *Service) validateRequest(req *Request) error {
	if req == nil {
		return &ValidationError{Missing: []string{"tool", "promptType", "description"}}
	}
	req.trim()
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	missing := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		missing = append(missing, fe.Field())
	}
	return &ValidationError{Missing: missing}
}

// reserve takes one generation slot for userID. When the counter itself is
// unreachable it falls back to the ledger count alone and returns the counter
// that must later release the slot.
func (s *Service) reserve(ctx context.Context, userID uuid.UUID, now time.Time) (quota.Reservation, quota.Counter, error) {
	today := quota.DayStart(now)
	limit := s.cfg.DailyLimit

	used, err := s.ledger.CountSince(ctx, userID, today)
	if err != nil {
		slog.Error("counting today's generations", "error", err, "user_id", userID)
		return quota.Reservation{}, nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	counter := s.counter
	res, err := counter.Reserve(ctx, userID, today, limit, used)
	if err != nil && !errors.Is(err, quota.ErrExhausted) {
		metrics.QuotaCounterErrors.Inc()
		slog.Warn("quota counter unavailable, falling back to ledger count", "error", err, "user_id", userID)
		counter = quota.LedgerCounter{}
		res, err = counter.Reserve(ctx, userID, today, limit, used)
	}
	if errors.Is(err, quota.ErrExhausted) {
		return res, nil, &QuotaError{Limit: limit, ResetsAt: quota.NextReset(now)}
	}
	return res, counter, err
}

func (s *Service) release(ctx context.Context, counter quota.Counter, res quota.Reservation) {
	if err := counter.Release(context.WithoutCancel(ctx), res); err != nil {
		metrics.QuotaCounterErrors.Inc()
		slog.Error("releasing quota reservation", "error", err, "user_id", res.UserID)
	}
}

func (s *Service) record(ctx context.Context, event events.GenerationEvent, now time.Time) {
	metrics.GenerationsTotal.WithLabelValues(event.Outcome).Inc()
	if s.publisher == nil {
		return
	}

	event.ID = uuid.New()
	event.OccurredAt = now.UTC()
	if err := s.publisher.PublishGenerationEvent(context.WithoutCancel(ctx), event); err != nil {
		slog.Warn("publishing generation event", "error", err, "outcome", event.Outcome)
	}
}

func mapUpstreamError(err error) error {
	switch {
	case errors.Is(err, upstream.ErrRateLimited):
		return fmt.Errorf("%w: %w", ErrUpstreamBusy, err)
	case errors.Is(err, upstream.ErrPaymentRequired):
		return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	default:
		return fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, ErrUpstreamBusy):
		return metrics.OutcomeUpstreamBusy
	case errors.Is(err, ErrUpstreamUnavailable):
		return metrics.OutcomeUpstreamUnavailable
	default:
		return metrics.OutcomeFailed
	}
}

// Status reports the caller's usage for the current UTC day. The counter may
// run ahead of the ledger when an insert failed, so the larger value wins.
func (s *Service) Status(ctx context.Context, userID uuid.UUID) (quota.Status, error) {
	now := s.now()
	today := quota.DayStart(now)

	used, err := s.ledger.CountSince(ctx, userID, today)
	if err != nil {
		return quota.Status{}, fmt.Errorf("counting today's generations: %w", err)
	}

	used, err = quota.UsedToday(ctx, s.counter, userID, today, used)
	if err != nil {
		metrics.QuotaCounterErrors.Inc()
		slog.Warn("quota counter unavailable, using ledger count", "error", err, "user_id", userID)
	}

	return quota.NewStatus(used, s.cfg.DailyLimit, now), nil
}

// History returns the caller's past generations, newest first.
func (s *Service) History(ctx context.Context, userID uuid.UUID, params usage.ListParams) ([]usage.Record, int64, error) {
	records, total, err := s.ledger.ListByUser(ctx, userID, params)
	if err != nil {
		return nil, 0, fmt.Errorf("listing generations: %w", err)
	}
	return records, total, nil
}

func (s *Service) Stats(ctx context.Context, userID uuid.UUID, from, to *time.Time) (*usage.Stats, error) {
	stats, err := s.ledger.Stats(ctx, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("aggregating generations: %w", err)
	}
	return stats, nil
}

// PromptTypes lists the supported templates.
func (s *Service) PromptTypes() []prompts.Info {
	return s.catalog.Types()
}
