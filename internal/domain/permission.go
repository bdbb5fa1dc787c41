package domain

// AuthDecision is the outcome of a permission check against a loaded order.
type AuthDecision int

const (
	AuthDeny AuthDecision = iota
	AuthAllow
)

func (d AuthDecision) String() string {
	if d == AuthAllow {
		return "allow"
	}
	return "deny"
}

// Permission decides whether caller may apply event to order. It only inspects
// identity and ownership; state legality is checked separately. Callers with no
// relation to the order are denied like any other unauthorized caller.
func Permission(caller Caller, order Order, event OrderEvent) AuthDecision {
	if caller.UserID == "" {
		return AuthDeny
	}

	owner := order.CustomerID == caller.UserID
	owningMerchant := caller.IsMerchant() && order.HasMerchant(caller.UserID)

	var allowed bool
	switch event {
	case OrderEventPay:
		allowed = owner
	case OrderEventShip:
		allowed = owningMerchant
	case OrderEventDeliver, OrderEventComplete:
		allowed = owningMerchant || caller.IsAdmin()
	case OrderEventCancel:
		allowed = owner || owningMerchant || caller.IsAdmin()
	}

	if allowed {
		return AuthAllow
	}
	return AuthDeny
}

var orderTransitions = map[OrderEvent]map[OrderStatus]OrderStatus{
	OrderEventPay: {
		OrderStatusPendingPayment: OrderStatusProcessing,
	},
	OrderEventShip: {
		OrderStatusProcessing: OrderStatusShipped,
	},
	OrderEventDeliver: {
		OrderStatusShipped: OrderStatusDelivered,
	},
	OrderEventComplete: {
		OrderStatusShipped:   OrderStatusCompleted,
		OrderStatusDelivered: OrderStatusCompleted,
	},
	OrderEventCancel: {
		OrderStatusPendingPayment: OrderStatusCancelled,
		OrderStatusProcessing:     OrderStatusCancelled,
	},
}

// NextStatus returns the target status for event applied from current, or false
// when the edge does not exist.
func NextStatus(current OrderStatus, event OrderEvent) (OrderStatus, bool) {
	edges, ok := orderTransitions[event]
	if !ok {
		return "", false
	}
	next, ok := edges[current]
	return next, ok
}
