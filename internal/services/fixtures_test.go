package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	domain "github.com/shopsite/fulfillment/internal/domain"
	"github.com/shopsite/fulfillment/internal/repositories/memory"
)

var (
	customer = domain.Caller{UserID: "cus-1", Role: domain.RoleCustomer}
	stranger = domain.Caller{UserID: "cus-2", Role: domain.RoleCustomer}
	merchant = domain.Caller{UserID: "mer-1", Role: domain.RoleMerchant}
	rival    = domain.Caller{UserID: "mer-2", Role: domain.RoleMerchant}
	admin    = domain.Caller{UserID: "adm-1", Role: domain.RoleAdmin}
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []OrderLifecycleEvent
	err    error
}

func (p *recordingPublisher) PublishOrderEvent(_ context.Context, event OrderLifecycleEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, event := range p.events {
		out = append(out, event.Type)
	}
	return out
}

type stubNotificationSink struct {
	notifyFn func(ctx context.Context, userID, message, orderID string) error
	calls    []string
}

func (s *stubNotificationSink) Notify(ctx context.Context, userID, message, orderID string) error {
	s.calls = append(s.calls, userID+"|"+orderID+"|"+message)
	if s.notifyFn != nil {
		return s.notifyFn(ctx, userID, message, orderID)
	}
	return nil
}

type logRecorder struct {
	mu     sync.Mutex
	events []string
	fields []map[string]any
}

func (l *logRecorder) log(_ context.Context, event string, fields map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	l.fields = append(l.fields, fields)
}

// fieldsOf returns the fields of the first entry logged as event.
func (l *logRecorder) fieldsOf(event string) map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.events {
		if e == event {
			return l.fields[i]
		}
	}
	return nil
}

func (l *logRecorder) has(event string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e == event {
			return true
		}
	}
	return false
}

type fixture struct {
	store    *memory.Store
	ledger   StockLedger
	builder  OrderBuilder
	machine  OrderStateMachine
	events   *recordingPublisher
	notifier *stubNotificationSink
	logs     *logRecorder
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.NewStore()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	var seq atomic.Int64
	ids := func() string {
		return fmt.Sprintf("%04d", seq.Add(1))
	}
	clock := func() time.Time { return now }

	f := &fixture{
		store:    store,
		events:   &recordingPublisher{},
		notifier: &stubNotificationSink{},
		logs:     &logRecorder{},
		now:      now,
	}

	ledger, err := NewStockLedger(StockLedgerDeps{Products: store.Products(), Clock: clock})
	require.NoError(t, err)
	f.ledger = ledger

	builder, err := NewOrderBuilder(OrderBuilderDeps{
		UnitOfWork:  store,
		Ledger:      ledger,
		Orders:      store.Orders(),
		SalesLog:    store.SalesLog(),
		Events:      f.events,
		Clock:       clock,
		IDGenerator: ids,
		Logger:      f.logs.log,
	})
	require.NoError(t, err)
	f.builder = builder

	formatter := NewNotificationFormatter("en-US", "USD")
	machine, err := NewOrderStateMachine(OrderStateMachineDeps{
		UnitOfWork:    store,
		Orders:        store.Orders(),
		Ledger:        ledger,
		Notifications: f.notifier,
		Formatter:     &formatter,
		Events:        f.events,
		Clock:         clock,
		Logger:        f.logs.log,
	})
	require.NoError(t, err)
	f.machine = machine

	return f
}

func (f *fixture) seedProduct(t *testing.T, id, merchantID, price string, stock int) {
	t.Helper()
	require.NoError(t, f.store.Products().Upsert(context.Background(), domain.Product{
		ID:          id,
		Name:        "Product " + id,
		Price:       decimal.RequireFromString(price),
		Stock:       stock,
		IsAvailable: true,
		MerchantID:  merchantID,
	}))
}

func (f *fixture) stock(t *testing.T, id string) int {
	t.Helper()
	product, err := f.store.Products().FindByID(context.Background(), id)
	require.NoError(t, err)
	return product.Stock
}

func (f *fixture) order(t *testing.T, id string) domain.Order {
	t.Helper()
	order, err := f.store.Orders().FindWithItems(context.Background(), id)
	require.NoError(t, err)
	return order
}

// placeOrder builds an order for customer with one unit of each product.
func (f *fixture) placeOrder(t *testing.T, productIDs ...string) domain.Order {
	t.Helper()
	lines := make([]CandidateLine, 0, len(productIDs))
	for _, id := range productIDs {
		lines = append(lines, CandidateLine{ProductID: id, Quantity: 1})
	}
	order, err := f.builder.Build(context.Background(), BuildOrderCommand{Caller: customer, Lines: lines})
	require.NoError(t, err)
	return order
}

func (f *fixture) apply(t *testing.T, caller domain.Caller, orderID string, event domain.OrderEvent) TransitionResult {
	t.Helper()
	result, err := f.machine.Apply(context.Background(), TransitionCommand{Caller: caller, OrderID: orderID, Event: event})
	require.NoError(t, err)
	return result
}

var errBoom = errors.New("boom")
