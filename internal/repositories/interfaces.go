package repositories

import (
	"context"
	"time"

	domain "github.com/shopsite/fulfillment/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Orders() OrderRepository
	Carts() CartRepository
	Messages() MessageRepository
	SalesLog() SalesLogRepository
	Reports() ReportRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations in one transaction. The transaction
// travels in the context handed to fn; repositories called with that context
// join it. Implementations detach fn from the caller's cancellation and bound it
// with their own timeout.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ProductRepository reads products and owns the stock counters.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	// Reserve locks the product row, validates availability and stock, and
	// decrements stock by quantity. Failures are *StockError values.
	Reserve(ctx context.Context, productID string, quantity int, now time.Time) (domain.Product, error)
	// Release locks the product row and increments stock by quantity.
	Release(ctx context.Context, productID string, quantity int, now time.Time) (domain.Product, error)
	// Upsert and Delete are used by seeding and tests; they are not reachable from
	// the order flow. Orders keep their snapshots after a product is deleted.
	Upsert(ctx context.Context, product domain.Product) error
	Delete(ctx context.Context, productID string) error
}

// OrderRepository persists order aggregates.
type OrderRepository interface {
	// Insert writes the order row and all of its items.
	Insert(ctx context.Context, order domain.Order) error
	// FindWithItems loads the aggregate with every item populated.
	FindWithItems(ctx context.Context, orderID string) (domain.Order, error)
	// LockWithItems is FindWithItems holding a row lock on the order until the transaction ends.
	LockWithItems(ctx context.Context, orderID string) (domain.Order, error)
	// UpdateStatus moves the order from expected to next. A mismatch on expected is a conflict.
	UpdateStatus(ctx context.Context, orderID string, expected, next domain.OrderStatus, now time.Time) error
	// MarkItemsReleased clears the reserved marker on the given items.
	MarkItemsReleased(ctx context.Context, orderID string, itemIDs []string, now time.Time) error
	// List returns orders with items for the filter, newest first.
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// OrderListFilter scopes an order listing. Zero-valued scope fields are unrestricted.
type OrderListFilter struct {
	CustomerID string
	MerchantID string
	Statuses   []domain.OrderStatus
	Pagination domain.Pagination
}

// CartRepository is the read/remove surface of the cart store.
type CartRepository interface {
	ListLines(ctx context.Context, customerID string) ([]domain.CartLine, error)
	RemoveLines(ctx context.Context, customerID string, lineIDs []string) error
	// AddLine exists for seeding and tests; cart editing is owned by the cart service.
	AddLine(ctx context.Context, line domain.CartLine) error
}

// MessageRepository stores inbox notifications.
type MessageRepository interface {
	Insert(ctx context.Context, message domain.Message) error
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.Message, error)
}

// SalesLogFilter selects one customer's sales log rows. A MerchantID limits rows to
// products the merchant lists or has sold; an empty Action matches every action.
type SalesLogFilter struct {
	UserID     string
	MerchantID string
	Action     domain.SalesLogAction
	Limit      int
}

// SalesLogRepository appends and reads sales log rows.
type SalesLogRepository interface {
	Append(ctx context.Context, entries []domain.SalesLogEntry) error
	// List returns matching rows newest first.
	List(ctx context.Context, filter SalesLogFilter) ([]domain.SalesLogEntry, error)
}

// ReportScope restricts reporting queries. An empty MerchantID means all merchants.
type ReportScope struct {
	MerchantID string
}

// ReportRepository computes read-only aggregates over orders.
type ReportRepository interface {
	SalesSummary(ctx context.Context, scope ReportScope) (domain.SalesSummary, error)
	StatusCounts(ctx context.Context, scope ReportScope) (map[domain.OrderStatus]int, error)
	TopProducts(ctx context.Context, scope ReportScope, limit int) ([]domain.ProductSales, error)
	// Customers lists customers with at least one scoped order, most recent order
	// first. A non-empty customerID restricts the result to that customer.
	Customers(ctx context.Context, scope ReportScope, customerID string) ([]domain.CustomerSummary, error)
}

// HealthRepository reports dependency health for readiness checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
