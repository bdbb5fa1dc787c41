package events

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/shopsite/fulfillment/internal/platform/textutil"
	"github.com/shopsite/fulfillment/internal/services"
)

// Envelope is the wire form of an order lifecycle event shared by every transport.
type Envelope struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	OrderID        string    `json:"orderId,omitempty"`
	CustomerID     string    `json:"customerId,omitempty"`
	ActorID        string    `json:"actorId,omitempty"`
	PreviousStatus string    `json:"previousStatus,omitempty"`
	Status         string    `json:"status,omitempty"`
	TotalAmount    string    `json:"totalAmount,omitempty"`
	MerchantIDs    []string  `json:"merchantIds,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	Message        string    `json:"message,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// NewEnvelope stamps an event with a unique id.
func NewEnvelope(event services.OrderLifecycleEvent) Envelope {
	occurred := event.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now()
	}
	return Envelope{
		ID:             "evt_" + ulid.Make().String(),
		Type:           event.Type,
		OrderID:        event.OrderID,
		CustomerID:     event.CustomerID,
		ActorID:        event.ActorID,
		PreviousStatus: string(event.PreviousStatus),
		Status:         string(event.Status),
		TotalAmount:    event.TotalAmount,
		MerchantIDs:    event.MerchantIDs,
		Reason:         event.Reason,
		Message:        event.Message,
		OccurredAt:     occurred.UTC(),
	}
}

// Attributes returns the routing metadata attached alongside the payload.
func (e Envelope) Attributes() map[string]string {
	return textutil.CompactMap(map[string]string{
		"eventId":    e.ID,
		"eventType":  e.Type,
		"orderId":    e.OrderID,
		"customerId": e.CustomerID,
		"status":     e.Status,
	})
}

func (e Envelope) marshal() ([]byte, error) {
	return json.Marshal(e)
}

func validType(eventType string) bool {
	return strings.HasPrefix(strings.TrimSpace(eventType), "order.")
}
