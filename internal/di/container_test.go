package di

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/shopsite/fulfillment/internal/domain"
	"github.com/shopsite/fulfillment/internal/platform/config"
	"github.com/shopsite/fulfillment/internal/services"
)

func memoryConfig() config.Config {
	return config.Config{
		Database: config.DatabaseConfig{Driver: config.DriverMemory},
		Events:   config.EventsConfig{Driver: config.EventsDriverLog},
		Orders: config.OrdersConfig{
			MaxLines:           10,
			MaxQuantityPerLine: 50,
			DefaultLocale:      "en",
			Currency:           "USD",
		},
	}
}

func TestNewContainerMemoryDriverRunsOrderLifecycle(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	c, err := NewContainer(ctx, memoryConfig(), WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(ctx) })

	require.NoError(t, c.Repositories.Products().Upsert(ctx, domain.Product{
		ID:          "prd_tray",
		Name:        "Walnut tray",
		Price:       decimal.RequireFromString("12.50"),
		Stock:       5,
		IsAvailable: true,
		MerchantID:  "mer-1",
		UpdatedAt:   now,
	}))

	customer := domain.Caller{UserID: "cus-1", Role: domain.RoleCustomer}
	placed, err := c.Services.Checkout.PlaceOrder(ctx, services.CheckoutCommand{
		Caller: customer,
		Lines:  []services.LineRequest{{ProductID: "prd_tray", Quantity: 2}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPendingPayment, placed.Order.Status)
	assert.True(t, placed.Order.TotalAmount.Equal(decimal.RequireFromString("25")))

	product, err := c.Repositories.Products().FindByID(ctx, "prd_tray")
	require.NoError(t, err)
	assert.Equal(t, 3, product.Stock)

	result, err := c.Services.StateMachine.Apply(ctx, services.TransitionCommand{
		Caller:  customer,
		OrderID: placed.Order.ID,
		Event:   domain.OrderEventCancel,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, result.Order.Status)
	assert.Equal(t, 2, result.ReleasedUnits)

	product, err = c.Repositories.Products().FindByID(ctx, "prd_tray")
	require.NoError(t, err)
	assert.Equal(t, 5, product.Stock)

	view, err := c.Services.Orders.Get(ctx, customer, placed.Order.ID, services.ScopeOwner)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, view.Status)
}

func TestNewContainerMemoryDriverReportsReady(t *testing.T) {
	ctx := context.Background()
	c, err := NewContainer(ctx, memoryConfig(), WithBuildInfo(services.BuildInfo{Version: "1.2.3"}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(ctx) })

	require.NotNil(t, c.Services.System)
	require.NotNil(t, c.Idempotency)

	report, err := c.Services.System.Readiness(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.HealthStatusOK, report.Status)
	assert.Equal(t, "1.2.3", report.Version)
	assert.Contains(t, report.Checks, "store")
}

func TestNewContainerRejectsIncompleteKafkaConfig(t *testing.T) {
	cfg := memoryConfig()
	cfg.Events = config.EventsConfig{Driver: config.EventsDriverKafka, KafkaBrokers: []string{"localhost:9092"}}

	_, err := NewContainer(context.Background(), cfg)
	require.ErrorContains(t, err, "build kafka publisher")
}

func TestContainerCloseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c, err := NewContainer(ctx, memoryConfig())
	require.NoError(t, err)

	require.NoError(t, c.Close(ctx))
	require.NoError(t, c.Close(ctx))

	var nilContainer *Container
	require.NoError(t, nilContainer.Close(ctx))
}
