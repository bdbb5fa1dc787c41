package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Role enumerates the caller roles resolved by the identity provider.
type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleMerchant Role = "MERCHANT"
	RoleAdmin    Role = "ADMIN"
)

// Caller is the explicit identity threaded through every core operation.
type Caller struct {
	UserID string
	Role   Role
	Locale string
}

// IsAdmin reports whether the caller carries the admin role.
func (c Caller) IsAdmin() bool { return c.Role == RoleAdmin }

// IsMerchant reports whether the caller carries the merchant role.
func (c Caller) IsMerchant() bool { return c.Role == RoleMerchant }

// Product is owned by the catalog; the fulfillment core only reads it and mutates stock.
type Product struct {
	ID          string
	Name        string
	Price       decimal.Decimal
	Stock       int
	IsAvailable bool
	MerchantID  string
	UpdatedAt   time.Time
}

// OrderStatus enumerates valid lifecycle states for orders. Values are persisted as-is.
type OrderStatus string

const (
	OrderStatusPendingPayment OrderStatus = "PENDING_PAYMENT"
	OrderStatusProcessing     OrderStatus = "PROCESSING"
	OrderStatusShipped        OrderStatus = "SHIPPED"
	OrderStatusDelivered      OrderStatus = "DELIVERED"
	OrderStatusCompleted      OrderStatus = "COMPLETED"
	OrderStatusCancelled      OrderStatus = "CANCELLED"
)

// OrderStatuses lists every status in lifecycle order.
var OrderStatuses = []OrderStatus{
	OrderStatusPendingPayment,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCompleted,
	OrderStatusCancelled,
}

// ParseOrderStatus resolves a persisted or user supplied status string.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	for _, status := range OrderStatuses {
		if string(status) == raw {
			return status, true
		}
	}
	return "", false
}

// IsTerminal reports whether no further transition can leave the status.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// CountsAsSale reports whether the status contributes to sales figures (paid or later, not cancelled).
func (s OrderStatus) CountsAsSale() bool {
	switch s {
	case OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCompleted:
		return true
	default:
		return false
	}
}

// OrderEvent names a state-machine input.
type OrderEvent string

const (
	OrderEventPay      OrderEvent = "pay"
	OrderEventShip     OrderEvent = "ship"
	OrderEventDeliver  OrderEvent = "deliver"
	OrderEventComplete OrderEvent = "complete"
	OrderEventCancel   OrderEvent = "cancel"
)

// ParseOrderEvent resolves an event name from the transport layer.
func ParseOrderEvent(raw string) (OrderEvent, bool) {
	switch OrderEvent(raw) {
	case OrderEventPay, OrderEventShip, OrderEventDeliver, OrderEventComplete, OrderEventCancel:
		return OrderEvent(raw), true
	default:
		return "", false
	}
}

// Order is the aggregate root; Items is always fully populated when loaded.
type Order struct {
	ID          string
	CustomerID  string
	TotalAmount decimal.Decimal
	Status      OrderStatus
	OrderedAt   time.Time
	UpdatedAt   time.Time
	Items       []OrderItem
}

// OrderItem is an immutable purchase snapshot. StockReserved tracks whether the
// item's quantity is still held against the product stock.
type OrderItem struct {
	ID              string
	OrderID         string
	ProductID       string
	ProductName     string
	MerchantID      string
	Quantity        int
	PriceAtOrder    decimal.Decimal
	StockReserved   bool
	StockReleasedAt *time.Time
}

// LineTotal returns quantity × priceAtOrder.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.PriceAtOrder.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// ComputeTotal sums the line totals of the supplied items.
func ComputeTotal(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.LineTotal())
	}
	return total
}

// HasMerchant reports whether at least one item belongs to the merchant.
func (o Order) HasMerchant(merchantID string) bool {
	if merchantID == "" {
		return false
	}
	for _, item := range o.Items {
		if item.MerchantID == merchantID {
			return true
		}
	}
	return false
}

// CartLine is a pending line in a customer's cart.
type CartLine struct {
	ID         string
	CustomerID string
	ProductID  string
	Quantity   int
	CreatedAt  time.Time
}

// Message is an inbox notification addressed to a user.
type Message struct {
	ID             string
	UserID         string
	Content        string
	RelatedOrderID string
	IsRead         bool
	CreatedAt      time.Time
}

// SalesLogAction enumerates the sales log action types.
type SalesLogAction string

const (
	SalesLogPurchase SalesLogAction = "PURCHASE"
)

// ParseSalesLogAction accepts the exact upper-case action name.
func ParseSalesLogAction(raw string) (SalesLogAction, bool) {
	if SalesLogAction(raw) == SalesLogPurchase {
		return SalesLogPurchase, true
	}
	return "", false
}

// SalesLogEntry records a customer action against a product.
type SalesLogEntry struct {
	UserID    string
	Action    SalesLogAction
	ProductID string
	OrderID   string
	Quantity  int
	LoggedAt  time.Time
}

// SalesSummary aggregates order figures for a reporting scope.
type SalesSummary struct {
	TotalSales      decimal.Decimal
	TotalOrders     int
	CompletedOrders int
}

// CustomerSummary aggregates one customer's orders within a reporting scope.
// TotalSpent only counts scoped items of orders in a sale status.
type CustomerSummary struct {
	CustomerID  string
	OrderCount  int
	TotalSpent  decimal.Decimal
	LastOrderAt time.Time
}

// CustomerActivity is a customer summary with the matching sales log, newest first.
type CustomerActivity struct {
	Summary CustomerSummary
	Logs    []SalesLogEntry
}

// ProductSales is a row in the top-products view.
type ProductSales struct {
	ProductID   string
	ProductName string
	Quantity    int
	Revenue     decimal.Decimal
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

var healthSeverity = map[string]int{
	HealthStatusOK:       0,
	HealthStatusDegraded: 1,
	HealthStatusError:    2,
}

// WorseHealth returns the more severe of two statuses. Unknown values count as ok.
func WorseHealth(a, b string) string {
	if healthSeverity[b] > healthSeverity[a] {
		return b
	}
	return a
}

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
