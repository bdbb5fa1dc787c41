// Package memory implements the repository contracts in process. Transactions are serialised
// behind one lock and roll back by restoring a snapshot, so the store gives the same atomicity
// guarantees the order flow relies on from Postgres.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	domain "github.com/shopsite/fulfillment/internal/domain"
	"github.com/shopsite/fulfillment/internal/repositories"
)

type state struct {
	products map[string]domain.Product
	orders   map[string]domain.Order
	cart     map[string]domain.CartLine
	messages []domain.Message
	salesLog []domain.SalesLogEntry
}

func newState() *state {
	return &state{
		products: make(map[string]domain.Product),
		orders:   make(map[string]domain.Order),
		cart:     make(map[string]domain.CartLine),
	}
}

func (s *state) clone() *state {
	out := &state{
		products: make(map[string]domain.Product, len(s.products)),
		orders:   make(map[string]domain.Order, len(s.orders)),
		cart:     make(map[string]domain.CartLine, len(s.cart)),
		messages: append([]domain.Message(nil), s.messages...),
		salesLog: append([]domain.SalesLogEntry(nil), s.salesLog...),
	}
	for id, product := range s.products {
		out.products[id] = product
	}
	for id, order := range s.orders {
		out.orders[id] = cloneOrder(order)
	}
	for id, line := range s.cart {
		out.cart[id] = line
	}
	return out
}

func cloneOrder(order domain.Order) domain.Order {
	items := make([]domain.OrderItem, len(order.Items))
	for i, item := range order.Items {
		if item.StockReleasedAt != nil {
			released := *item.StockReleasedAt
			item.StockReleasedAt = &released
		}
		items[i] = item
	}
	order.Items = items
	return order
}

// Store is the in-process repositories.Registry.
type Store struct {
	mu         sync.Mutex
	data       *state
	failCommit error
	health     repositories.HealthRepository
}

// Option customises the Store.
type Option func(*Store)

// WithHealthRepository sets the repository returned by Health.
func WithHealthRepository(repo repositories.HealthRepository) Option {
	return func(s *Store) {
		s.health = repo
	}
}

var _ repositories.Registry = (*Store)(nil)

// NewStore returns an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{data: newState()}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

type txKey struct{}

func (s *Store) inTx(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// RunInTx serialises fn against every other transaction and rolls its writes back on error.
// Nested calls with a transactional context join the outer transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("memory: transaction function is nil")
	}
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	txCtx := context.WithValue(context.WithoutCancel(ctx), txKey{}, s)
	if err := fn(txCtx); err != nil {
		s.data = snapshot
		return err
	}
	if s.failCommit != nil {
		err := s.failCommit
		s.failCommit = nil
		s.data = snapshot
		return repositories.NewUnavailable("memory.commit", err)
	}
	return nil
}

// FailNextCommit makes the next outermost transaction roll back at commit time with err.
func (s *Store) FailNextCommit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCommit = err
}

// with runs fn against the live state, joining the caller's transaction when there is one.
func (s *Store) with(ctx context.Context, fn func(*state) error) error {
	if s.inTx(ctx) {
		return fn(s.data)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.data)
}

func (s *Store) Close(context.Context) error { return nil }
func (s *Store) Products() repositories.ProductRepository { return productRepository{s} }
func (s *Store) Orders() repositories.OrderRepository { return orderRepository{s} }
func (s *Store) Carts() repositories.CartRepository { return cartRepository{s} }
func (s *Store) Messages() repositories.MessageRepository { return messageRepository{s} }
func (s *Store) SalesLog() repositories.SalesLogRepository { return salesLogRepository{s} }
func (s *Store) Reports() repositories.ReportRepository { return reportRepository{s} }
func (s *Store) Health() repositories.HealthRepository { return s.health }

// SalesLogEntries returns a copy of every appended sales log row, oldest first.
func (s *Store) SalesLogEntries() []domain.SalesLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.SalesLogEntry(nil), s.data.salesLog...)
}

func sortedOrders(orders map[string]domain.Order) []domain.Order {
	out := make([]domain.Order, 0, len(orders))
	for _, order := range orders {
		out = append(out, order)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OrderedAt.Equal(out[j].OrderedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].OrderedAt.After(out[j].OrderedAt)
	})
	return out
}
