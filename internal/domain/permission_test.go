package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleOrder() Order {
	return Order{
		ID:         "ord_1",
		CustomerID: "cust-1",
		Status:     OrderStatusProcessing,
		Items: []OrderItem{
			{ProductID: "prd_a", MerchantID: "merch-1", Quantity: 2, PriceAtOrder: decimal.RequireFromString("10.50")},
			{ProductID: "prd_b", MerchantID: "merch-2", Quantity: 1, PriceAtOrder: decimal.RequireFromString("3.25")},
		},
	}
}

func TestPermissionMatrix(t *testing.T) {
	order := sampleOrder()

	owner := Caller{UserID: "cust-1", Role: RoleCustomer}
	stranger := Caller{UserID: "cust-2", Role: RoleCustomer}
	merchant := Caller{UserID: "merch-1", Role: RoleMerchant}
	otherMerchant := Caller{UserID: "merch-9", Role: RoleMerchant}
	admin := Caller{UserID: "root", Role: RoleAdmin}

	cases := []struct {
		name   string
		caller Caller
		event  OrderEvent
		want   AuthDecision
	}{
		{"owner pays", owner, OrderEventPay, AuthAllow},
		{"merchant cannot pay", merchant, OrderEventPay, AuthDeny},
		{"admin cannot pay", admin, OrderEventPay, AuthDeny},
		{"owning merchant ships", merchant, OrderEventShip, AuthAllow},
		{"owner cannot ship", owner, OrderEventShip, AuthDeny},
		{"admin cannot ship", admin, OrderEventShip, AuthDeny},
		{"non-owning merchant cannot ship", otherMerchant, OrderEventShip, AuthDeny},
		{"stranger cannot cancel", stranger, OrderEventCancel, AuthDeny},
		{"non-owning merchant cannot cancel", otherMerchant, OrderEventCancel, AuthDeny},
		{"owner cancels", owner, OrderEventCancel, AuthAllow},
		{"merchant cancels", merchant, OrderEventCancel, AuthAllow},
		{"admin cancels", admin, OrderEventCancel, AuthAllow},
		{"admin delivers", admin, OrderEventDeliver, AuthAllow},
		{"merchant completes", merchant, OrderEventComplete, AuthAllow},
		{"owner cannot complete", owner, OrderEventComplete, AuthDeny},
		{"anonymous is denied", Caller{UserID: "", Role: RoleAdmin}, OrderEventCancel, AuthDeny},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Permission(tc.caller, order, tc.event))
		})
	}
}

func TestNextStatus(t *testing.T) {
	next, ok := NextStatus(OrderStatusPendingPayment, OrderEventPay)
	require.True(t, ok)
	assert.Equal(t, OrderStatusProcessing, next)

	next, ok = NextStatus(OrderStatusDelivered, OrderEventComplete)
	require.True(t, ok)
	assert.Equal(t, OrderStatusCompleted, next)

	for _, status := range []OrderStatus{OrderStatusShipped, OrderStatusDelivered, OrderStatusCompleted, OrderStatusCancelled} {
		_, ok := NextStatus(status, OrderEventCancel)
		assert.False(t, ok, "cancel from %s must be illegal", status)
	}
	for _, event := range []OrderEvent{OrderEventPay, OrderEventShip, OrderEventDeliver, OrderEventComplete, OrderEventCancel} {
		_, ok := NextStatus(OrderStatusCancelled, event)
		assert.False(t, ok, "%s from CANCELLED must be illegal", event)
		_, ok = NextStatus(OrderStatusCompleted, event)
		assert.False(t, ok, "%s from COMPLETED must be illegal", event)
	}

	_, ok = NextStatus(OrderStatusProcessing, OrderEventPay)
	assert.False(t, ok, "re-applying pay must be illegal")
}

func TestComputeTotalIsExact(t *testing.T) {
	order := sampleOrder()
	total := ComputeTotal(order.Items)
	assert.True(t, total.Equal(decimal.RequireFromString("24.25")), "got %s", total)

	items := make([]OrderItem, 0, 10)
	for i := 0; i < 10; i++ {
		items = append(items, OrderItem{Quantity: 3, PriceAtOrder: decimal.RequireFromString("0.10")})
	}
	assert.True(t, ComputeTotal(items).Equal(decimal.RequireFromString("3")))
}

func TestParseHelpers(t *testing.T) {
	status, ok := ParseOrderStatus("SHIPPED")
	require.True(t, ok)
	assert.Equal(t, OrderStatusShipped, status)

	_, ok = ParseOrderStatus("shipped")
	assert.False(t, ok)

	event, ok := ParseOrderEvent("cancel")
	require.True(t, ok)
	assert.Equal(t, OrderEventCancel, event)

	_, ok = ParseOrderEvent("refund")
	assert.False(t, ok)
}
