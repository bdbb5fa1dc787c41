package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"

	domain "github.com/shopsite/fulfillment/internal/domain"
	"github.com/shopsite/fulfillment/internal/platform/textutil"
	"github.com/shopsite/fulfillment/internal/repositories"
)

const (
	orderIDPrefix     = "ord_"
	orderItemIDPrefix = "itm_"
	productNameLimit  = 200
)

// OrderBuilderDeps bundles the collaborators required to construct an order builder.
type OrderBuilderDeps struct {
	UnitOfWork  repositories.UnitOfWork
	Ledger      StockLedger
	Orders      repositories.OrderRepository
	SalesLog    repositories.SalesLogRepository
	Events      OrderEventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
	Telemetry   Telemetry
}

type orderBuilder struct {
	uow      repositories.UnitOfWork
	ledger   StockLedger
	orders   repositories.OrderRepository
	salesLog repositories.SalesLogRepository
	events   OrderEventPublisher
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
	inst     *instruments
}

var _ OrderBuilder = (*orderBuilder)(nil)

// NewOrderBuilder wires dependencies into an OrderBuilder.
func NewOrderBuilder(deps OrderBuilderDeps) (OrderBuilder, error) {
	if deps.UnitOfWork == nil {
		return nil, errors.New("order builder: unit of work is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("order builder: stock ledger is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("order builder: order repository is required")
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

	return &orderBuilder{
		uow:      deps.UnitOfWork,
		ledger:   deps.Ledger,
		orders:   deps.Orders,
		salesLog: deps.SalesLog,
		events:   deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
		inst:   newInstruments(deps.Telemetry),
	}, nil
}

func (b *orderBuilder) Build(ctx context.Context, cmd BuildOrderCommand) (domain.Order, error) {
	customerID := strings.TrimSpace(cmd.Caller.UserID)
	if customerID == "" {
		return domain.Order{}, fmt.Errorf("%w: caller is required", ErrValidation)
	}
	if len(cmd.Lines) == 0 {
		return domain.Order{}, ErrEmptyCandidateSet
	}
	seen := make(map[string]struct{}, len(cmd.Lines))
	for i, line := range cmd.Lines {
		if strings.TrimSpace(line.ProductID) == "" {
			return domain.Order{}, fmt.Errorf("%w: line %d: product id is required", ErrValidation, i)
		}
		if line.Quantity < 1 {
			return domain.Order{}, fmt.Errorf("%w: line %d: quantity must be at least 1", ErrValidation, i)
		}
		if _, dup := seen[line.ProductID]; dup {
			return domain.Order{}, fmt.Errorf("%w: product %s listed twice", ErrValidation, line.ProductID)
		}
		seen[line.ProductID] = struct{}{}
	}

	ctx, span := b.inst.start(ctx, "order.build",
		attribute.String("customer.id", customerID),
		attribute.Int("order.lines", len(cmd.Lines)))

	orderID := orderIDPrefix + b.newID()
	var order domain.Order
	err := b.uow.RunInTx(ctx, func(txCtx context.Context) error {
		built, err := b.buildInTx(txCtx, orderID, customerID, cmd.Lines)
		if err != nil {
			return err
		}
		order = built
		return nil
	})
	err = mapStoreError("order.build", err)
	endSpan(span, err)
	if err != nil {
		b.inst.add(ctx, b.inst.buildFailures, 1, attribute.String("kind", string(KindOf(err))))
		b.logger(ctx, "order.build.failed", map[string]any{
			"orderId":    orderID,
			"customerId": customerID,
			"kind":       string(KindOf(err)),
			"error":      err.Error(),
		})
		return domain.Order{}, err
	}

	b.inst.add(ctx, b.inst.built, 1)
	b.logger(ctx, "order.build.committed", map[string]any{
		"orderId":    order.ID,
		"customerId": customerID,
		"items":      len(order.Items),
		"total":      order.TotalAmount.StringFixed(2),
	})
	b.publish(ctx, OrderLifecycleEvent{
		Type:        OrderEventCreated,
		OrderID:     order.ID,
		CustomerID:  order.CustomerID,
		ActorID:     customerID,
		Status:      order.Status,
		TotalAmount: order.TotalAmount.StringFixed(2),
		MerchantIDs: merchantIDs(order),
		OccurredAt:  order.OrderedAt,
	})
	return order, nil
}

// buildInTx reserves every line in ascending product order, then persists the
// order, its items and the purchase log rows.
func (b *orderBuilder) buildInTx(ctx context.Context, orderID, customerID string, lines []CandidateLine) (domain.Order, error) {
	reserveOrder := append([]CandidateLine(nil), lines...)
	sort.SliceStable(reserveOrder, func(i, j int) bool {
		return reserveOrder[i].ProductID < reserveOrder[j].ProductID
	})

	products := make(map[string]domain.Product, len(lines))
	reserved := make([]CandidateLine, 0, len(lines))
	for _, line := range reserveOrder {
		product, err := b.ledger.Reserve(ctx, line.ProductID, line.Quantity)
		if err != nil {
			b.releaseReserved(ctx, orderID, reserved)
			return domain.Order{}, err
		}
		products[line.ProductID] = product
		reserved = append(reserved, line)
	}

	now := b.clock()
	items := make([]domain.OrderItem, 0, len(lines))
	for _, line := range lines {
		product := products[line.ProductID]
		items = append(items, domain.OrderItem{
			ID:            orderItemIDPrefix + b.newID(),
			OrderID:       orderID,
			ProductID:     product.ID,
			ProductName:   textutil.PlainText(product.Name, productNameLimit),
			MerchantID:    product.MerchantID,
			Quantity:      line.Quantity,
			PriceAtOrder:  product.Price,
			StockReserved: true,
		})
	}

	order := domain.Order{
		ID:          orderID,
		CustomerID:  customerID,
		TotalAmount: domain.ComputeTotal(items),
		Status:      domain.OrderStatusPendingPayment,
		OrderedAt:   now,
		UpdatedAt:   now,
		Items:       items,
	}
	if err := b.orders.Insert(ctx, order); err != nil {
		return domain.Order{}, err
	}

	if b.salesLog != nil {
		entries := make([]domain.SalesLogEntry, 0, len(items))
		for _, item := range items {
			entries = append(entries, domain.SalesLogEntry{
				UserID:    customerID,
				Action:    domain.SalesLogPurchase,
				ProductID: item.ProductID,
				OrderID:   orderID,
				Quantity:  item.Quantity,
				LoggedAt:  now,
			})
		}
		if err := b.salesLog.Append(ctx, entries); err != nil {
			return domain.Order{}, err
		}
	}
	return order, nil
}

// releaseReserved undoes reservations made earlier in the same build, newest first.
// The enclosing rollback restores the rows regardless; failures are only logged.
func (b *orderBuilder) releaseReserved(ctx context.Context, orderID string, reserved []CandidateLine) {
	for i := len(reserved) - 1; i >= 0; i-- {
		line := reserved[i]
		if err := b.ledger.Release(ctx, line.ProductID, line.Quantity); err != nil {
			b.logger(ctx, "order.build.release.failed", map[string]any{
				"orderId":   orderID,
				"productId": line.ProductID,
				"quantity":  line.Quantity,
				"error":     err.Error(),
			})
		}
	}
}

func (b *orderBuilder) publish(ctx context.Context, event OrderLifecycleEvent) {
	publishOrderEvent(ctx, b.events, b.logger, event)
}

func publishOrderEvent(ctx context.Context, events OrderEventPublisher, logger func(context.Context, string, map[string]any), event OrderLifecycleEvent) {
	if events == nil {
		return
	}
	if err := events.PublishOrderEvent(ctx, event); err != nil {
		logger(ctx, "order.event.publish.failed", map[string]any{
			"orderId": event.OrderID,
			"type":    event.Type,
			"error":   err.Error(),
		})
	}
}

func merchantIDs(order domain.Order) []string {
	seen := make(map[string]struct{}, len(order.Items))
	ids := make([]string, 0, len(order.Items))
	for _, item := range order.Items {
		if item.MerchantID == "" {
			continue
		}
		if _, ok := seen[item.MerchantID]; ok {
			continue
		}
		seen[item.MerchantID] = struct{}{}
		ids = append(ids, item.MerchantID)
	}
	sort.Strings(ids)
	return ids
}
