package events

import (
	"context"

	"go.uber.org/zap"

	"github.com/shopsite/fulfillment/internal/services"
)

// LogPublisher writes order events to the structured log. It is the default for local
// runs without a broker.
type LogPublisher struct {
	logger *zap.Logger
}

var _ services.OrderEventPublisher = (*LogPublisher)(nil)

// NewLogPublisher returns a publisher logging through logger; nil uses a no-op logger.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) PublishOrderEvent(_ context.Context, event services.OrderLifecycleEvent) error {
	envelope := NewEnvelope(event)
	p.logger.Info("order event",
		zap.String("eventId", envelope.ID),
		zap.String("eventType", envelope.Type),
		zap.String("orderId", envelope.OrderID),
		zap.String("status", envelope.Status),
		zap.String("previousStatus", envelope.PreviousStatus),
		zap.Strings("merchantIds", envelope.MerchantIDs),
		zap.Time("occurredAt", envelope.OccurredAt),
	)
	return nil
}
