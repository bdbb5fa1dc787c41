package services

import (
	"context"
	"errors"

	"github.com/shopsite/fulfillment/internal/repositories"
)

// CheckoutServiceDeps bundles the collaborators of the checkout flow.
type CheckoutServiceDeps struct {
	Reader  CartSnapshotReader
	Builder OrderBuilder
	Carts   repositories.CartRepository
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	reader  CartSnapshotReader
	builder OrderBuilder
	carts   repositories.CartRepository
	logger  func(context.Context, string, map[string]any)
}

var _ CheckoutService = (*checkoutService)(nil)

// NewCheckoutService wires the cart reader and order builder into a CheckoutService.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Reader == nil {
		return nil, errors.New("checkout service: cart reader is required")
	}
	if deps.Builder == nil {
		return nil, errors.New("checkout service: order builder is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &checkoutService{
		reader:  deps.Reader,
		builder: deps.Builder,
		carts:   deps.Carts,
		logger:  logger,
	}, nil
}

func (s *checkoutService) PlaceOrder(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error) {
	var (
		lines []CandidateLine
		err   error
	)
	if cmd.FromCart {
		lines, err = s.reader.Snapshot(ctx, CartSnapshotQuery{
			CustomerID: cmd.Caller.UserID,
			LineIDs:    cmd.CartLineIDs,
		})
	} else {
		lines, err = s.reader.FromLines(cmd.Lines)
	}
	if err != nil {
		return CheckoutResult{}, err
	}

	order, err := s.builder.Build(ctx, BuildOrderCommand{Caller: cmd.Caller, Lines: lines})
	if err != nil {
		return CheckoutResult{}, err
	}

	result := CheckoutResult{Order: order}
	if !cmd.FromCart || s.carts == nil {
		return result, nil
	}

	var consumed []string
	for _, line := range lines {
		consumed = append(consumed, line.CartLineIDs...)
	}
	if len(consumed) == 0 {
		return result, nil
	}
	if err := s.carts.RemoveLines(ctx, cmd.Caller.UserID, consumed); err != nil {
		s.logger(ctx, "checkout.cart_cleanup.failed", map[string]any{
			"orderId":    order.ID,
			"customerId": cmd.Caller.UserID,
			"lines":      len(consumed),
			"error":      err.Error(),
		})
		result.Warnings = append(result.Warnings, "cart could not be cleared")
	}
	return result, nil
}
