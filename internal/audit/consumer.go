// Package audit persists generation events from JetStream into Postgres.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/convertscout/awesome-ai-prompts-sub000/internal/events"
)

const consumerName = "generation-audit"

// Store persists entries. *Repository implements it.
type Store interface {
	Insert(ctx context.Context, e *Entry) error
}

// Consumer listens on the generation event subject and persists entries.
type Consumer struct {
	store       Store
	consumerMgr *events.ConsumerManager
}

func NewConsumer(store Store, consumerMgr *events.ConsumerManager) *Consumer {
	return &Consumer{
		store:       store,
		consumerMgr: consumerMgr,
	}
}

// Start begins the consume loop. Blocks until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	consumer, err := c.consumerMgr.EnsureConsumer(ctx, events.ConsumerSpec{
		Stream:      events.StreamEvents,
		Name:        consumerName,
		Subject:     events.SubjectGeneration,
		Description: "persists generation events to generation_events",
	})
	if err != nil {
		return err
	}

	slog.Info("audit consumer started", "consumer", consumerName)

	for {
		msgs, err := consumer.Fetch(10, jetstream.FetchMaxWait(events.FetchTimeout))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Debug("audit consumer: fetching events", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			c.handle(ctx, msg)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

// ackable is the part of jetstream.Msg the handler needs.
type ackable interface {
	Data() []byte
	Ack() error
	Nak() error
	Term() error
}

func (c *Consumer) handle(ctx context.Context, msg ackable) {
	var event events.GenerationEvent
	if err := json.Unmarshal(msg.Data(), &event); err != nil {
		// Redelivery cannot fix a malformed payload.
		slog.Error("audit consumer: unmarshaling event", "error", err)
		_ = msg.Term()
		return
	}

	entry := toEntry(event)
	if err := c.store.Insert(ctx, entry); err != nil {
		slog.Error("audit consumer: persisting event", "error", err, "outcome", event.Outcome)
		_ = msg.Nak()
		return
	}

	_ = msg.Ack()

	slog.Debug("audit consumer: persisted event",
		"outcome", event.Outcome,
		"user", event.UserID,
	)
}

func toEntry(event events.GenerationEvent) *Entry {
	e := &Entry{
		ID:         event.ID,
		UserID:     event.UserID,
		Outcome:    event.Outcome,
		Tool:       event.Tool,
		PromptType: event.PromptType,
		TokensUsed: event.TokensUsed,
		Remaining:  event.Remaining,
		OccurredAt: event.OccurredAt,
	}

	details := map[string]string{}
	if event.Detail != "" {
		details["message"] = event.Detail
	}
	if data, err := json.Marshal(details); err == nil {
		e.Details = data
	}
	return e
}
