package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/shopsite/fulfillment/internal/domain"
	"github.com/shopsite/fulfillment/internal/platform/pagination"
	"github.com/shopsite/fulfillment/internal/repositories"
)

// OrderQueryServiceDeps bundles the collaborators of the order query service.
type OrderQueryServiceDeps struct {
	Orders repositories.OrderRepository
}

type orderQueryService struct {
	orders repositories.OrderRepository
}

var _ OrderQueryService = (*orderQueryService)(nil)

// NewOrderQueryService wires the order repository into an OrderQueryService.
func NewOrderQueryService(deps OrderQueryServiceDeps) (OrderQueryService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order query service: order repository is required")
	}
	return &orderQueryService{orders: deps.Orders}, nil
}

func (s *orderQueryService) Get(ctx context.Context, caller domain.Caller, orderID string, scope QueryScope) (OrderView, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return OrderView{}, fmt.Errorf("%w: order id is required", ErrValidation)
	}
	if err := validateScope(scope); err != nil {
		return OrderView{}, err
	}
	if strings.TrimSpace(caller.UserID) == "" {
		return OrderView{}, fmt.Errorf("%w: order %s", ErrNotFound, orderID)
	}

	order, err := s.orders.FindWithItems(ctx, orderID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return OrderView{}, fmt.Errorf("%w: order %s", ErrNotFound, orderID)
		}
		return OrderView{}, mapStoreError("order.get", err)
	}
	if !visibleInScope(caller, order, scope) {
		return OrderView{}, fmt.Errorf("%w: order %s", ErrNotFound, orderID)
	}
	return newOrderView(caller, order, scope), nil
}

func (s *orderQueryService) List(ctx context.Context, query OrderListQuery) (domain.CursorPage[OrderView], error) {
	if err := validateScope(query.Scope); err != nil {
		return domain.CursorPage[OrderView]{}, err
	}
	caller := query.Caller
	if strings.TrimSpace(caller.UserID) == "" {
		return domain.CursorPage[OrderView]{}, fmt.Errorf("%w: caller is required", ErrValidation)
	}

	filter := repositories.OrderListFilter{
		Statuses:   query.Statuses,
		Pagination: query.Pagination,
	}
	switch query.Scope {
	case ScopeOwner:
		filter.CustomerID = caller.UserID
	case ScopeMerchant:
		if !caller.IsMerchant() {
			return domain.CursorPage[OrderView]{}, fmt.Errorf("%w: merchant role required", ErrForbidden)
		}
		filter.MerchantID = caller.UserID
	case ScopeAdmin:
		if !caller.IsAdmin() {
			return domain.CursorPage[OrderView]{}, fmt.Errorf("%w: admin role required", ErrForbidden)
		}
	}

	page, err := s.orders.List(ctx, filter)
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidPageToken) {
			return domain.CursorPage[OrderView]{}, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return domain.CursorPage[OrderView]{}, mapStoreError("order.list", err)
	}

	views := make([]OrderView, 0, len(page.Items))
	for _, order := range page.Items {
		views = append(views, newOrderView(caller, order, query.Scope))
	}
	return domain.CursorPage[OrderView]{Items: views, NextPageToken: page.NextPageToken}, nil
}

func validateScope(scope QueryScope) error {
	switch scope {
	case ScopeOwner, ScopeMerchant, ScopeAdmin:
		return nil
	default:
		return fmt.Errorf("%w: unknown scope %q", ErrValidation, scope)
	}
}

func visibleInScope(caller domain.Caller, order domain.Order, scope QueryScope) bool {
	switch scope {
	case ScopeOwner:
		return order.CustomerID == caller.UserID
	case ScopeMerchant:
		return caller.IsMerchant() && order.HasMerchant(caller.UserID)
	case ScopeAdmin:
		return caller.IsAdmin()
	default:
		return false
	}
}

// newOrderView flags the items the caller owns: every item for the order owner,
// the merchant's own items in merchant scope, none for admins.
func newOrderView(caller domain.Caller, order domain.Order, scope QueryScope) OrderView {
	items := make([]OrderItemView, 0, len(order.Items))
	for _, item := range order.Items {
		owned := false
		switch scope {
		case ScopeOwner:
			owned = true
		case ScopeMerchant:
			owned = item.MerchantID == caller.UserID
		}
		items = append(items, OrderItemView{OrderItem: item, OwnedByCaller: owned})
	}
	return OrderView{
		ID:          order.ID,
		CustomerID:  order.CustomerID,
		TotalAmount: order.TotalAmount,
		Status:      order.Status,
		OrderedAt:   order.OrderedAt,
		UpdatedAt:   order.UpdatedAt,
		Items:       items,
	}
}
