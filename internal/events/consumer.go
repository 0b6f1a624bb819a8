package events

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// ConsumerSpec names a durable pull consumer and the subject it reads.
type ConsumerSpec struct {
	Stream      string
	Name        string
	Subject     string
	Description string
}

// Redelivery schedule for unacknowledged or nak'd events. The last delivery
// attempt waits the longest; after MaxDeliver attempts the event is dropped.
var redeliveryBackoff = []time.Duration{
	time.Second,
	5 * time.Second,
	30 * time.Second,
	2 * time.Minute,
}

const maxAckPending = 256

// ConsumerManager creates durable consumers on the events stream.
type ConsumerManager struct {
	js jetstream.JetStream
}

func NewConsumerManager(js jetstream.JetStream) *ConsumerManager {
	return &ConsumerManager{js: js}
}

// EnsureConsumer creates the consumer described by spec, or updates it in place.
func (cm *ConsumerManager) EnsureConsumer(ctx context.Context, spec ConsumerSpec) (jetstream.Consumer, error) {
	consumer, err := cm.js.CreateOrUpdateConsumer(ctx, spec.Stream, consumerConfig(spec))
	if err != nil {
		return nil, fmt.Errorf("ensuring consumer %s on %s: %w", spec.Name, spec.Stream, err)
	}
	return consumer, nil
}

func consumerConfig(spec ConsumerSpec) jetstream.ConsumerConfig {
	return jetstream.ConsumerConfig{
		Durable:       spec.Name,
		Description:   spec.Description,
		FilterSubject: spec.Subject,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		BackOff:       redeliveryBackoff,
		MaxDeliver:    len(redeliveryBackoff) + 1,
		MaxAckPending: maxAckPending,
	}
}
