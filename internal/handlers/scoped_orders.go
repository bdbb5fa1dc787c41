package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shopsite/fulfillment/internal/services"
)

// ScopedOrderHandlers serves the read-only merchant and admin order views.
type ScopedOrderHandlers struct {
	orders services.OrderQueryService
	scope  services.QueryScope
}

// NewMerchantOrderHandlers lists and reads orders containing the merchant's items.
func NewMerchantOrderHandlers(orders services.OrderQueryService) *ScopedOrderHandlers {
	return &ScopedOrderHandlers{orders: orders, scope: services.ScopeMerchant}
}

// NewAdminOrderHandlers lists and reads every order.
func NewAdminOrderHandlers(orders services.OrderQueryService) *ScopedOrderHandlers {
	return &ScopedOrderHandlers{orders: orders, scope: services.ScopeAdmin}
}

// Routes registers GET /orders and GET /orders/{orderID} relative to the group.
func (h *ScopedOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/orders", h.list)
	r.Get("/orders/{orderID}", h.get)
}

func (h *ScopedOrderHandlers) list(w http.ResponseWriter, r *http.Request) {
	listOrders(w, r, h.orders, h.scope)
}

func (h *ScopedOrderHandlers) get(w http.ResponseWriter, r *http.Request) {
	getOrder(w, r, h.orders, h.scope)
}
