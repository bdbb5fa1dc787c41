package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shopsite/fulfillment/internal/repositories"
)

func TestMapStoreError(t *testing.T) {
	insufficient := repositories.NewStockError("reserve", repositories.StockErrorInsufficient, "p-1")
	insufficient.Requested, insufficient.Available = 3, 1

	cases := []struct {
		name string
		err  error
		kind ErrorKind
	}{
		{"nil", nil, KindNone},
		{"insufficient", insufficient, KindInsufficientStock},
		{"unavailable product", repositories.NewStockError("reserve", repositories.StockErrorUnavailable, "p-1"), KindProductUnavailable},
		{"unknown product", repositories.NewStockError("reserve", repositories.StockErrorProductNotFound, "p-1"), KindProductNotFound},
		{"bad quantity", repositories.NewStockError("reserve", repositories.StockErrorInvalidQuantity, "p-1"), KindValidation},
		{"not found", repositories.NewNotFound("orders.find", "order", "o-1"), KindNotFound},
		{"conflict", repositories.NewConflict("orders.update", errors.New("stale")), KindTransient},
		{"unavailable store", repositories.NewUnavailable("commit", errors.New("down")), KindTransient},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), KindTransient},
		{"already classified", fmt.Errorf("%w: order o-1", ErrForbidden), KindForbidden},
		{"unknown", errors.New("disk on fire"), KindInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.kind, KindOf(mapStoreError("op", tc.err)))
		})
	}
}

func TestMapStoreErrorKeepsContext(t *testing.T) {
	insufficient := repositories.NewStockError("reserve", repositories.StockErrorInsufficient, "p-1")
	insufficient.Requested, insufficient.Available = 3, 1

	err := mapStoreError("order.build", insufficient)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Contains(t, err.Error(), "requested 3, available 1")
}
