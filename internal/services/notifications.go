package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	domain "github.com/shopsite/fulfillment/internal/domain"
	"github.com/shopsite/fulfillment/internal/platform/textutil"
	"github.com/shopsite/fulfillment/internal/repositories"
)

const (
	messageIDPrefix     = "msg_"
	messageContentLimit = 1000
)

// NotificationFormatter renders order notifications for a locale and currency.
type NotificationFormatter struct {
	tag  language.Tag
	unit currency.Unit
}

// NewNotificationFormatter parses a BCP 47 locale and an ISO 4217 currency code.
// Unknown values fall back to en-US and USD.
func NewNotificationFormatter(locale, currencyCode string) NotificationFormatter {
	tag, err := language.Parse(strings.TrimSpace(locale))
	if err != nil {
		tag = language.AmericanEnglish
	}
	unit, err := currency.ParseISO(strings.TrimSpace(currencyCode))
	if err != nil {
		unit = currency.USD
	}
	return NotificationFormatter{tag: tag, unit: unit}
}

// OrderShipped renders the message sent to a customer when their order ships.
func (f NotificationFormatter) OrderShipped(order domain.Order) string {
	p := message.NewPrinter(f.tag)
	units := 0
	for _, item := range order.Items {
		units += item.Quantity
	}
	return p.Sprintf("Your order %s has shipped: %d item(s), total %s %.2f.",
		order.ID, units, f.unit.String(), order.TotalAmount.InexactFloat64())
}

// InboxNotificationSinkDeps bundles the collaborators of the inbox sink.
type InboxNotificationSinkDeps struct {
	Messages    repositories.MessageRepository
	Events      OrderEventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type inboxNotificationSink struct {
	messages repositories.MessageRepository
	events   OrderEventPublisher
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

var _ NotificationSink = (*inboxNotificationSink)(nil)

// NewInboxNotificationSink stores notifications as inbox messages and mirrors them
// to the event publisher when one is configured.
func NewInboxNotificationSink(deps InboxNotificationSinkDeps) (NotificationSink, error) {
	if deps.Messages == nil {
		return nil, errors.New("notification sink: message repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &inboxNotificationSink{
		messages: deps.Messages,
		events:   deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *inboxNotificationSink) Notify(ctx context.Context, userID, text, orderID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: notification recipient is required", ErrValidation)
	}
	content := textutil.PlainText(text, messageContentLimit)
	if content == "" {
		return fmt.Errorf("%w: notification content is required", ErrValidation)
	}

	now := s.clock()
	msg := domain.Message{
		ID:             messageIDPrefix + s.newID(),
		UserID:         userID,
		Content:        content,
		RelatedOrderID: strings.TrimSpace(orderID),
		CreatedAt:      now,
	}
	if err := s.messages.Insert(ctx, msg); err != nil {
		return mapStoreError("notification.insert", err)
	}

	publishOrderEvent(ctx, s.events, s.logger, OrderLifecycleEvent{
		Type:       OrderEventNotification,
		OrderID:    msg.RelatedOrderID,
		CustomerID: userID,
		Message:    content,
		OccurredAt: now,
	})
	return nil
}
