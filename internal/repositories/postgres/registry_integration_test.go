//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopsite/fulfillment/internal/di"
	domain "github.com/shopsite/fulfillment/internal/domain"
	"github.com/shopsite/fulfillment/internal/platform/config"
	pgplatform "github.com/shopsite/fulfillment/internal/platform/postgres"
	"github.com/shopsite/fulfillment/internal/repositories/postgres"
	"github.com/shopsite/fulfillment/internal/services"
)

func integrationConfig(t *testing.T) config.Config {
	t.Helper()
	url := strings.TrimSpace(os.Getenv("FULFILLMENT_TEST_DATABASE_URL"))
	if url == "" {
		t.Skip("FULFILLMENT_TEST_DATABASE_URL not set")
	}
	return config.Config{
		Database: config.DatabaseConfig{
			Driver:         config.DriverPostgres,
			URL:            url,
			MaxConns:       10,
			ConnectTimeout: 5 * time.Second,
			TxTimeout:      5 * time.Second,
			TxAttempts:     5,
		},
		Events: config.EventsConfig{Driver: config.EventsDriverLog},
		Orders: config.OrdersConfig{MaxLines: 10, MaxQuantityPerLine: 50, DefaultLocale: "en", Currency: "USD"},
	}
}

func migrate(t *testing.T, cfg config.Config) {
	t.Helper()
	ctx := context.Background()
	provider := pgplatform.NewProvider(cfg.Database)
	t.Cleanup(func() { _ = provider.Close(ctx) })

	m, err := postgres.NewMigrator(ctx, provider)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	_, err = m.Up(ctx)
	require.NoError(t, err)
}

func TestConcurrentBuildsNeverOversell(t *testing.T) {
	cfg := integrationConfig(t)
	migrate(t, cfg)

	ctx := context.Background()
	c, err := di.NewContainer(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(ctx) })

	productID := "prd_it_" + strings.ToLower(ulid.Make().String())
	require.NoError(t, c.Repositories.Products().Upsert(ctx, domain.Product{
		ID:          productID,
		Name:        "Integration lamp",
		Price:       decimal.RequireFromString("19.99"),
		Stock:       5,
		IsAvailable: true,
		MerchantID:  "mer-it",
		UpdatedAt:   time.Now().UTC(),
	}))

	const attempts = 20
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		placed       []string
		insufficient int
		unexpected   []error
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := c.Services.Checkout.PlaceOrder(ctx, services.CheckoutCommand{
				Caller: domain.Caller{UserID: "cus-it", Role: domain.RoleCustomer},
				Lines:  []services.LineRequest{{ProductID: productID, Quantity: 1}},
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				placed = append(placed, result.Order.ID)
			case errors.Is(err, services.ErrInsufficientStock):
				insufficient++
			default:
				unexpected = append(unexpected, err)
			}
		}()
	}
	wg.Wait()

	require.Empty(t, unexpected)
	assert.Len(t, placed, 5)
	assert.Equal(t, attempts-5, insufficient)

	product, err := c.Repositories.Products().FindByID(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, 0, product.Stock)

	result, err := c.Services.StateMachine.Apply(ctx, services.TransitionCommand{
		Caller:  domain.Caller{UserID: "cus-it", Role: domain.RoleCustomer},
		OrderID: placed[0],
		Event:   domain.OrderEventCancel,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.ReleasedUnits)

	_, err = c.Services.StateMachine.Apply(ctx, services.TransitionCommand{
		Caller:  domain.Caller{UserID: "cus-it", Role: domain.RoleCustomer},
		OrderID: placed[0],
		Event:   domain.OrderEventCancel,
	})
	assert.Equal(t, services.KindIllegalTransition, services.KindOf(err))

	product, err = c.Repositories.Products().FindByID(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, 1, product.Stock)
}

func TestDeletedProductKeepsOrdersCancellable(t *testing.T) {
	cfg := integrationConfig(t)
	migrate(t, cfg)

	ctx := context.Background()
	c, err := di.NewContainer(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(ctx) })

	suffix := strings.ToLower(ulid.Make().String())
	productID := "prd_gone_" + suffix
	merchantID := "mer-gone-" + suffix
	customer := domain.Caller{UserID: "cus-gone-" + suffix, Role: domain.RoleCustomer}
	require.NoError(t, c.Repositories.Products().Upsert(ctx, domain.Product{
		ID:          productID,
		Name:        "Retired vase",
		Price:       decimal.RequireFromString("30.00"),
		Stock:       3,
		IsAvailable: true,
		MerchantID:  merchantID,
		UpdatedAt:   time.Now().UTC(),
	}))

	placed, err := c.Services.Checkout.PlaceOrder(ctx, services.CheckoutCommand{
		Caller: customer,
		Lines:  []services.LineRequest{{ProductID: productID, Quantity: 2}},
	})
	require.NoError(t, err)
	require.NoError(t, c.Repositories.Products().Delete(ctx, productID))

	result, err := c.Services.StateMachine.Apply(ctx, services.TransitionCommand{
		Caller:  customer,
		OrderID: placed.Order.ID,
		Event:   domain.OrderEventCancel,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, result.Order.Status)
	assert.Zero(t, result.ReleasedUnits)

	order, err := c.Repositories.Orders().FindWithItems(ctx, placed.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, "Retired vase", order.Items[0].ProductName)
	assert.False(t, order.Items[0].StockReserved)

	activity, err := c.Services.Reports.CustomerActivity(ctx,
		domain.Caller{UserID: merchantID, Role: domain.RoleMerchant}, services.ReportScopeMerchant, customer.UserID, "PURCHASE")
	require.NoError(t, err)
	assert.Equal(t, 1, activity.Summary.OrderCount)
	require.Len(t, activity.Logs, 1)
	assert.Equal(t, productID, activity.Logs[0].ProductID)
}

func TestReadinessReportsPostgres(t *testing.T) {
	cfg := integrationConfig(t)
	ctx := context.Background()
	c, err := di.NewContainer(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(ctx) })

	report, err := c.Services.System.Readiness(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.HealthStatusOK, report.Status)
	assert.Contains(t, report.Checks, "postgres")
}
