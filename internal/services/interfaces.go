package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/shopsite/fulfillment/internal/domain"
)

// StockLedger is the only path that mutates product stock. Both operations join the
// unit of work carried by ctx.
type StockLedger interface {
	Reserve(ctx context.Context, productID string, quantity int) (domain.Product, error)
	Release(ctx context.Context, productID string, quantity int) error
}

// CandidateLine is a validated request to buy quantity units of a product.
type CandidateLine struct {
	ProductID   string
	Quantity    int
	// CartLineIDs lists the cart lines merged into this candidate, if any.
	CartLineIDs []string
}

// LineRequest is an explicit "buy now" line supplied by the caller.
type LineRequest struct {
	ProductID string
	Quantity  int
}

// CartSnapshotQuery selects cart lines. Empty LineIDs selects the whole cart.
type CartSnapshotQuery struct {
	CustomerID string
	LineIDs    []string
}

// CartSnapshotReader turns a cart or an explicit line list into candidate lines.
type CartSnapshotReader interface {
	Snapshot(ctx context.Context, query CartSnapshotQuery) ([]CandidateLine, error)
	FromLines(lines []LineRequest) ([]CandidateLine, error)
}

// BuildOrderCommand asks the builder to reserve stock and persist an order for Caller.
type BuildOrderCommand struct {
	Caller domain.Caller
	Lines  []CandidateLine
}

// OrderBuilder creates orders atomically with their stock reservations.
type OrderBuilder interface {
	Build(ctx context.Context, cmd BuildOrderCommand) (domain.Order, error)
}

// TransitionCommand applies Event to the order on behalf of Caller.
type TransitionCommand struct {
	Caller  domain.Caller
	OrderID string
	Event   domain.OrderEvent
	Reason  string
}

// TransitionResult carries the updated aggregate. Warnings lists post-commit side
// effects that failed without affecting the transition.
type TransitionResult struct {
	Order         domain.Order
	Previous      domain.OrderStatus
	ReleasedUnits int
	Warnings      []string
}

// OrderStateMachine applies lifecycle events to orders.
type OrderStateMachine interface {
	Apply(ctx context.Context, cmd TransitionCommand) (TransitionResult, error)
}

// QueryScope selects the visibility rule of an order query.
type QueryScope string

const (
	ScopeOwner    QueryScope = "owner"
	ScopeMerchant QueryScope = "merchant"
	ScopeAdmin    QueryScope = "admin"
)

// OrderItemView is an order item as seen by a specific caller.
type OrderItemView struct {
	domain.OrderItem
	OwnedByCaller bool
}

// OrderView is an order as seen by a specific caller.
type OrderView struct {
	ID          string
	CustomerID  string
	TotalAmount decimal.Decimal
	Status      domain.OrderStatus
	OrderedAt   time.Time
	UpdatedAt   time.Time
	Items       []OrderItemView
}

// OrderListQuery describes a paged order listing.
type OrderListQuery struct {
	Caller     domain.Caller
	Scope      QueryScope
	Statuses   []domain.OrderStatus
	Pagination domain.Pagination
}

// OrderQueryService exposes read access to orders filtered by visibility.
type OrderQueryService interface {
	Get(ctx context.Context, caller domain.Caller, orderID string, scope QueryScope) (OrderView, error)
	List(ctx context.Context, query OrderListQuery) (domain.CursorPage[OrderView], error)
}

// ReportScope selects whose orders a report covers.
type ReportScope string

const (
	ReportScopeMerchant ReportScope = "merchant"
	ReportScopeAdmin    ReportScope = "admin"
)

// ReportingService computes merchant and admin statistics.
type ReportingService interface {
	SalesSummary(ctx context.Context, caller domain.Caller, scope ReportScope) (domain.SalesSummary, error)
	StatusCounts(ctx context.Context, caller domain.Caller, scope ReportScope) (map[domain.OrderStatus]int, error)
	TopProducts(ctx context.Context, caller domain.Caller, scope ReportScope, limit int) ([]domain.ProductSales, error)
	Customers(ctx context.Context, caller domain.Caller, scope ReportScope) ([]domain.CustomerSummary, error)
	CustomerActivity(ctx context.Context, caller domain.Caller, scope ReportScope, customerID string, action string) (domain.CustomerActivity, error)
}

// NotificationSink delivers a user-facing message about an order.
type NotificationSink interface {
	Notify(ctx context.Context, userID, message, orderID string) error
}

// Order lifecycle event types published after commit.
const (
	OrderEventCreated       = "order.created"
	OrderEventStatusChanged = "order.status_changed"
	OrderEventNotification  = "order.notification"
)

// OrderLifecycleEvent is the payload published after an order commit.
type OrderLifecycleEvent struct {
	Type           string
	OrderID        string
	CustomerID     string
	ActorID        string
	PreviousStatus domain.OrderStatus
	Status         domain.OrderStatus
	TotalAmount    string
	MerchantIDs    []string
	Reason         string
	Message        string
	OccurredAt     time.Time
}

// OrderEventPublisher emits order lifecycle events to downstream consumers. Failures
// never affect the committed state.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderLifecycleEvent) error
}

// CheckoutCommand places an order from the caller's cart or an explicit line list.
type CheckoutCommand struct {
	Caller      domain.Caller
	FromCart    bool
	CartLineIDs []string
	Lines       []LineRequest
}

// CheckoutService glues the cart reader and the builder and clears consumed cart lines.
type CheckoutService interface {
	PlaceOrder(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error)
}

// CheckoutResult is the placed order plus non-fatal post-commit warnings.
type CheckoutResult struct {
	Order    domain.Order
	Warnings []string
}

// SystemService exposes liveness and readiness reports.
type SystemService interface {
	// Liveness reports process metadata without probing dependencies.
	Liveness(ctx context.Context) domain.SystemHealthReport
	// Readiness probes every dependency.
	Readiness(ctx context.Context) (domain.SystemHealthReport, error)
}
