package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	domain "github.com/shopsite/fulfillment/internal/domain"
	"github.com/shopsite/fulfillment/internal/repositories"
)

const reasonLimit = 500

// OrderStateMachineDeps bundles the collaborators required by the state machine.
type OrderStateMachineDeps struct {
	UnitOfWork    repositories.UnitOfWork
	Orders        repositories.OrderRepository
	Ledger        StockLedger
	Notifications NotificationSink
	Formatter     *NotificationFormatter
	Events        OrderEventPublisher
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
	Telemetry     Telemetry
}

type orderStateMachine struct {
	uow       repositories.UnitOfWork
	orders    repositories.OrderRepository
	ledger    StockLedger
	notifier  NotificationSink
	formatter NotificationFormatter
	events    OrderEventPublisher
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
	inst      *instruments
}

var _ OrderStateMachine = (*orderStateMachine)(nil)

// NewOrderStateMachine wires dependencies into an OrderStateMachine.
func NewOrderStateMachine(deps OrderStateMachineDeps) (OrderStateMachine, error) {
	if deps.UnitOfWork == nil {
		return nil, errors.New("order state machine: unit of work is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("order state machine: order repository is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("order state machine: stock ledger is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	formatter := NewNotificationFormatter("", "")
	if deps.Formatter != nil {
		formatter = *deps.Formatter
	}

	return &orderStateMachine{
		uow:       deps.UnitOfWork,
		orders:    deps.Orders,
		ledger:    deps.Ledger,
		notifier:  deps.Notifications,
		formatter: formatter,
		events:    deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
		inst:   newInstruments(deps.Telemetry),
	}, nil
}

func (m *orderStateMachine) Apply(ctx context.Context, cmd TransitionCommand) (TransitionResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return TransitionResult{}, fmt.Errorf("%w: order id is required", ErrValidation)
	}
	if strings.TrimSpace(cmd.Caller.UserID) == "" {
		return TransitionResult{}, fmt.Errorf("%w: caller is required", ErrValidation)
	}
	event, ok := domain.ParseOrderEvent(string(cmd.Event))
	if !ok {
		return TransitionResult{}, fmt.Errorf("%w: unknown event %q", ErrValidation, cmd.Event)
	}

	ctx, span := m.inst.start(ctx, "order.transition",
		attribute.String("order.id", orderID),
		attribute.String("order.event", string(event)))

	var (
		result  TransitionResult
		missing []string
	)
	err := m.uow.RunInTx(ctx, func(txCtx context.Context) error {
		applied, gone, err := m.applyInTx(txCtx, cmd.Caller, orderID, event)
		if err != nil {
			return err
		}
		result, missing = applied, gone
		return nil
	})
	err = mapStoreError("order.transition", err)
	endSpan(span, err)
	if err != nil {
		m.inst.add(ctx, m.inst.transitions, 1,
			attribute.String("event", string(event)),
			attribute.String("outcome", string(KindOf(err))))
		m.logger(ctx, "order.transition.failed", map[string]any{
			"orderId": orderID,
			"event":   string(event),
			"actorId": cmd.Caller.UserID,
			"kind":    string(KindOf(err)),
			"error":   err.Error(),
		})
		return TransitionResult{}, err
	}

	m.inst.add(ctx, m.inst.transitions, 1,
		attribute.String("event", string(event)),
		attribute.String("outcome", "applied"))
	m.inst.add(ctx, m.inst.released, int64(result.ReleasedUnits))
	m.logger(ctx, "order.transition.applied", map[string]any{
		"orderId":       orderID,
		"event":         string(event),
		"from":          string(result.Previous),
		"to":            string(result.Order.Status),
		"actorId":       cmd.Caller.UserID,
		"releasedUnits": result.ReleasedUnits,
	})
	if len(missing) > 0 {
		m.logger(ctx, "order.cancel.product_missing", map[string]any{
			"orderId":    orderID,
			"productIds": missing,
		})
	}

	if event == domain.OrderEventShip {
		if warning := m.notifyShipped(ctx, result.Order); warning != "" {
			result.Warnings = append(result.Warnings, warning)
		}
	}

	publishOrderEvent(ctx, m.events, m.logger, OrderLifecycleEvent{
		Type:           OrderEventStatusChanged,
		OrderID:        result.Order.ID,
		CustomerID:     result.Order.CustomerID,
		ActorID:        cmd.Caller.UserID,
		PreviousStatus: result.Previous,
		Status:         result.Order.Status,
		TotalAmount:    result.Order.TotalAmount.StringFixed(2),
		MerchantIDs:    merchantIDs(result.Order),
		Reason:         truncateRunes(strings.TrimSpace(cmd.Reason), reasonLimit),
		OccurredAt:     result.Order.UpdatedAt,
	})
	return result, nil
}

// applyInTx loads and locks the order, checks permission before legality and
// performs the transition with its stock side effects. It also returns the ids of
// reserved products that no longer exist.
func (m *orderStateMachine) applyInTx(ctx context.Context, caller domain.Caller, orderID string, event domain.OrderEvent) (TransitionResult, []string, error) {
	order, err := m.orders.LockWithItems(ctx, orderID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return TransitionResult{}, nil, fmt.Errorf("%w: order %s", ErrNotFound, orderID)
		}
		return TransitionResult{}, nil, err
	}

	if domain.Permission(caller, order, event) != domain.AuthAllow {
		return TransitionResult{}, nil, fmt.Errorf("%w: %s may not %s order %s", ErrForbidden, caller.Role, event, orderID)
	}

	previous := order.Status
	next, ok := domain.NextStatus(previous, event)
	if !ok {
		return TransitionResult{}, nil, fmt.Errorf("%w: cannot %s an order in status %s", ErrIllegalTransition, event, previous)
	}

	now := m.clock()
	released := 0
	var missing []string
	if event == domain.OrderEventCancel {
		released, missing, err = m.releaseStock(ctx, &order, now)
		if err != nil {
			return TransitionResult{}, nil, err
		}
	}

	if err := m.orders.UpdateStatus(ctx, orderID, previous, next, now); err != nil {
		return TransitionResult{}, nil, err
	}
	order.Status = next
	order.UpdatedAt = now

	return TransitionResult{
		Order:         order,
		Previous:      previous,
		ReleasedUnits: released,
	}, missing, nil
}

// releaseStock returns every still-reserved item to stock in ascending product
// order and clears the reserved markers on the aggregate. Items whose product was
// deleted have nothing to restore; their markers are cleared all the same.
func (m *orderStateMachine) releaseStock(ctx context.Context, order *domain.Order, now time.Time) (int, []string, error) {
	pending := make([]int, 0, len(order.Items))
	for i, item := range order.Items {
		if item.StockReserved {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		return 0, nil, nil
	}
	sort.SliceStable(pending, func(a, b int) bool {
		return order.Items[pending[a]].ProductID < order.Items[pending[b]].ProductID
	})

	units := 0
	var missing []string
	itemIDs := make([]string, 0, len(pending))
	for _, idx := range pending {
		item := order.Items[idx]
		itemIDs = append(itemIDs, item.ID)
		err := m.ledger.Release(ctx, item.ProductID, item.Quantity)
		switch {
		case errors.Is(err, ErrProductNotFound):
			missing = append(missing, item.ProductID)
		case err != nil:
			return 0, nil, err
		default:
			units += item.Quantity
		}
	}
	if err := m.orders.MarkItemsReleased(ctx, order.ID, itemIDs, now); err != nil {
		return 0, nil, err
	}

	for _, idx := range pending {
		releasedAt := now
		order.Items[idx].StockReserved = false
		order.Items[idx].StockReleasedAt = &releasedAt
	}
	return units, missing, nil
}

// notifyShipped tells the owner about the shipment. The transition is already
// committed, so a failure becomes a warning.
func (m *orderStateMachine) notifyShipped(ctx context.Context, order domain.Order) string {
	if m.notifier == nil {
		return ""
	}
	err := m.notifier.Notify(ctx, order.CustomerID, m.formatter.OrderShipped(order), order.ID)
	if err == nil {
		return ""
	}
	m.logger(ctx, "order.notify.failed", map[string]any{
		"orderId":    order.ID,
		"customerId": order.CustomerID,
		"error":      err.Error(),
	})
	return "shipment notification could not be delivered"
}

func truncateRunes(value string, limit int) string {
	if limit <= 0 {
		return value
	}
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}
