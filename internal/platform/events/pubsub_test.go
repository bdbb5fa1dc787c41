package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	domain "github.com/shopsite/fulfillment/internal/domain"
	"github.com/shopsite/fulfillment/internal/services"
)

func TestPubSubPublisherPublishesEnvelope(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "order-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubPublisher(topic, time.Second)
	if err != nil {
		t.Fatalf("NewPubSubPublisher: %v", err)
	}
	defer publisher.Close()

	occurred := time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC)
	event := services.OrderLifecycleEvent{
		Type:           services.OrderEventStatusChanged,
		OrderID:        "ord_1",
		CustomerID:     "cus-1",
		PreviousStatus: domain.OrderStatusProcessing,
		Status:         domain.OrderStatusShipped,
		MerchantIDs:    []string{"mer-1"},
		OccurredAt:     occurred,
	}
	if err := publisher.PublishOrderEvent(ctx, event); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload Envelope
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.OrderID != "ord_1" || payload.Status != "SHIPPED" || payload.PreviousStatus != "PROCESSING" {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if !payload.OccurredAt.Equal(occurred) {
		t.Fatalf("expected occurredAt %s, got %s", occurred, payload.OccurredAt)
	}
	if attr := messages[0].Attributes["eventType"]; attr != services.OrderEventStatusChanged {
		t.Fatalf("expected eventType attribute, got %q", attr)
	}
	if _, ok := messages[0].Attributes["actorId"]; ok {
		t.Fatalf("actorId attribute should not be present")
	}
}

func TestPubSubPublisherRejectsUnknownType(t *testing.T) {
	publisher := &PubSubPublisher{topic: &pubsub.Topic{}, timeout: time.Second}
	if err := publisher.PublishOrderEvent(context.Background(), services.OrderLifecycleEvent{Type: "cart.updated"}); err == nil {
		t.Fatalf("expected error for non-order event")
	}
}

func TestNewPubSubPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubPublisher(nil, 0); err == nil {
		t.Fatalf("expected error when topic missing")
	}
}
