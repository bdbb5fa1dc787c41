package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/shopsite/fulfillment/internal/services"
)

type recordProducer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Ping(ctx context.Context) error
	Close()
}

// KafkaPublisher produces order events to a Kafka topic keyed by order id, so every
// event of one order lands on the same partition.
type KafkaPublisher struct {
	client  recordProducer
	topic   string
	timeout time.Duration
}

var _ services.OrderEventPublisher = (*KafkaPublisher)(nil)

// KafkaOptions configures NewKafkaPublisher.
type KafkaOptions struct {
	Brokers  []string
	Topic    string
	ClientID string
	Timeout  time.Duration
}

// NewKafkaPublisher dials the seed brokers lazily and returns a publisher.
func NewKafkaPublisher(opts KafkaOptions) (*KafkaPublisher, error) {
	topic := strings.TrimSpace(opts.Topic)
	if topic == "" {
		return nil, errors.New("kafka publisher: topic is required")
	}
	if len(opts.Brokers) == 0 {
		return nil, errors.New("kafka publisher: at least one broker is required")
	}

	kopts := []kgo.Opt{
		kgo.SeedBrokers(opts.Brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.SnappyCompression(), kgo.NoCompression()),
	}
	if id := strings.TrimSpace(opts.ClientID); id != "" {
		kopts = append(kopts, kgo.ClientID(id))
	}
	client, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, fmt.Errorf("kafka publisher: new client: %w", err)
	}
	return newKafkaPublisher(client, topic, opts.Timeout), nil
}

func newKafkaPublisher(client recordProducer, topic string, timeout time.Duration) *KafkaPublisher {
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	return &KafkaPublisher{client: client, topic: topic, timeout: timeout}
}

func (p *KafkaPublisher) PublishOrderEvent(ctx context.Context, event services.OrderLifecycleEvent) error {
	if p == nil || p.client == nil {
		return errors.New("kafka publisher: not initialised")
	}
	if !validType(event.Type) {
		return fmt.Errorf("kafka publisher: unsupported event type %q", event.Type)
	}

	envelope := NewEnvelope(event)
	data, err := envelope.marshal()
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	attrs := envelope.Attributes()
	headers := make([]kgo.RecordHeader, 0, len(attrs))
	for key, value := range attrs {
		headers = append(headers, kgo.RecordHeader{Key: key, Value: []byte(value)})
	}

	record := &kgo.Record{
		Topic:     p.topic,
		Key:       []byte(envelope.OrderID),
		Value:     data,
		Headers:   headers,
		Timestamp: envelope.OccurredAt,
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce order event: %w", err)
	}
	return nil
}

// Ping checks that at least one seed broker answers a metadata request.
func (p *KafkaPublisher) Ping(ctx context.Context) error {
	if p == nil || p.client == nil {
		return errors.New("kafka publisher: not initialised")
	}
	return p.client.Ping(ctx)
}

// Close flushes and closes the underlying client.
func (p *KafkaPublisher) Close() {
	if p != nil && p.client != nil {
		p.client.Close()
	}
}
