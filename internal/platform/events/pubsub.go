package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/shopsite/fulfillment/internal/services"
)

const defaultPublishTimeout = 5 * time.Second

// PubSubPublisher publishes order events to a Pub/Sub topic.
type PubSubPublisher struct {
	topic   *pubsub.Topic
	timeout time.Duration
}

var _ services.OrderEventPublisher = (*PubSubPublisher)(nil)

// NewPubSubPublisher constructs a Pub/Sub backed order event publisher.
func NewPubSubPublisher(topic *pubsub.Topic, timeout time.Duration) (*PubSubPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub publisher: topic is required")
	}
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	return &PubSubPublisher{topic: topic, timeout: timeout}, nil
}

// PublishOrderEvent waits for the broker acknowledgement, bounded by the publish timeout.
func (p *PubSubPublisher) PublishOrderEvent(ctx context.Context, event services.OrderLifecycleEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub publisher: not initialised")
	}
	if !validType(event.Type) {
		return fmt.Errorf("pubsub publisher: unsupported event type %q", event.Type)
	}

	envelope := NewEnvelope(event)
	data, err := envelope.marshal()
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: envelope.Attributes(),
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

// Close flushes buffered messages.
func (p *PubSubPublisher) Close() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}
