package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/shopsite/fulfillment/internal/domain"
	"github.com/shopsite/fulfillment/internal/repositories"
)

type stubCartRepository struct {
	repositories.CartRepository
	removeFn func(ctx context.Context, customerID string, lineIDs []string) error
}

func (s *stubCartRepository) RemoveLines(ctx context.Context, customerID string, lineIDs []string) error {
	if s.removeFn != nil {
		return s.removeFn(ctx, customerID, lineIDs)
	}
	return s.CartRepository.RemoveLines(ctx, customerID, lineIDs)
}

func newCheckout(t *testing.T, f *fixture, carts repositories.CartRepository) CheckoutService {
	t.Helper()
	reader, err := NewCartSnapshotReader(CartSnapshotReaderDeps{Carts: f.store.Carts()})
	require.NoError(t, err)
	svc, err := NewCheckoutService(CheckoutServiceDeps{
		Reader:  reader,
		Builder: f.builder,
		Carts:   carts,
		Logger:  f.logs.log,
	})
	require.NoError(t, err)
	return svc
}

func TestCheckoutFromCartClearsConsumedLines(t *testing.T) {
	f := newFixture(t)
	f.seedProduct(t, "p-1", "mer-1", "2.00", 10)
	f.seedProduct(t, "p-2", "mer-1", "3.00", 10)
	seedCart(t, f.store,
		domain.CartLine{ID: "l1", CustomerID: customer.UserID, ProductID: "p-1", Quantity: 1},
		domain.CartLine{ID: "l2", CustomerID: customer.UserID, ProductID: "p-2", Quantity: 1},
		domain.CartLine{ID: "l3", CustomerID: customer.UserID, ProductID: "p-1", Quantity: 2},
	)

	svc := newCheckout(t, f, f.store.Carts())
	result, err := svc.PlaceOrder(context.Background(), CheckoutCommand{
		Caller:      customer,
		FromCart:    true,
		CartLineIDs: []string{"l1", "l3"},
	})
	require.NoError(t, err)
	require.Len(t, result.Order.Items, 1)
	assert.Equal(t, 3, result.Order.Items[0].Quantity)
	assert.Empty(t, result.Warnings)

	remaining, err := f.store.Carts().ListLines(context.Background(), customer.UserID)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "l2", remaining[0].ID)
}

func TestCheckoutCartCleanupFailureIsWarning(t *testing.T) {
	f := newFixture(t)
	f.seedProduct(t, "p-1", "mer-1", "2.00", 10)
	seedCart(t, f.store, domain.CartLine{ID: "l1", CustomerID: customer.UserID, ProductID: "p-1", Quantity: 1})

	carts := &stubCartRepository{
		CartRepository: f.store.Carts(),
		removeFn: func(context.Context, string, []string) error {
			return errBoom
		},
	}
	svc := newCheckout(t, f, carts)
	result, err := svc.PlaceOrder(context.Background(), CheckoutCommand{Caller: customer, FromCart: true})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Order.ID)
	assert.Len(t, result.Warnings, 1)
	assert.True(t, f.logs.has("checkout.cart_cleanup.failed"))
	assert.NotContains(t, f.logs.fieldsOf("checkout.cart_cleanup.failed"), "severity")
}

func TestCheckoutExplicitLinesLeaveCartAlone(t *testing.T) {
	f := newFixture(t)
	f.seedProduct(t, "p-1", "mer-1", "2.00", 10)
	seedCart(t, f.store, domain.CartLine{ID: "l1", CustomerID: customer.UserID, ProductID: "p-1", Quantity: 1})

	svc := newCheckout(t, f, f.store.Carts())
	_, err := svc.PlaceOrder(context.Background(), CheckoutCommand{
		Caller: customer,
		Lines:  []LineRequest{{ProductID: "p-1", Quantity: 2}},
	})
	require.NoError(t, err)
	assert.Equal(t, 8, f.stock(t, "p-1"))

	remaining, err := f.store.Carts().ListLines(context.Background(), customer.UserID)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestCheckoutEmptyCartFailsBeforeStock(t *testing.T) {
	f := newFixture(t)
	f.seedProduct(t, "p-1", "mer-1", "2.00", 10)

	svc := newCheckout(t, f, f.store.Carts())
	_, err := svc.PlaceOrder(context.Background(), CheckoutCommand{Caller: customer, FromCart: true})
	require.ErrorIs(t, err, ErrEmptyCandidateSet)
	assert.Equal(t, 10, f.stock(t, "p-1"))
}
