package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/shopsite/fulfillment/internal/domain"
	"github.com/shopsite/fulfillment/internal/platform/httpx"
	"github.com/shopsite/fulfillment/internal/platform/pagination"
	"github.com/shopsite/fulfillment/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderBodySize     = 32 * 1024
	maxTransitionBody    = 4 * 1024
)

var orderListLimits = pagination.Limits{
	DefaultPageSize: defaultOrderPageSize,
	MaxPageSize:     maxOrderPageSize,
	Filters:         orderStatusNames(),
}

type placeOrderRequest struct {
	Lines []placeOrderLine `json:"lines"`
}

type placeOrderLine struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type placeFromCartRequest struct {
	LineIDs []string `json:"lineIds"`
}

type transitionRequest struct {
	Reason string `json:"reason"`
}

// OrderHandlers serves the customer facing /orders endpoints.
type OrderHandlers struct {
	checkout     services.CheckoutService
	orders       services.OrderQueryService
	stateMachine services.OrderStateMachine

	placementLimiter rateLimiter
	clock            func() time.Time
}

// OrderHandlersOption customises OrderHandlers.
type OrderHandlersOption func(*OrderHandlers)

// WithPlacementLimit throttles order placement per user. A zero limit disables it.
func WithPlacementLimit(limit int, window time.Duration) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.placementLimiter = newUserBuckets(limit, window, func() time.Time { return h.clock() })
	}
}

// WithOrderHandlersClock overrides the clock used by the placement limiter.
func WithOrderHandlersClock(clock func() time.Time) OrderHandlersOption {
	return func(h *OrderHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewOrderHandlers constructs the order endpoints.
func NewOrderHandlers(checkout services.CheckoutService, orders services.OrderQueryService, stateMachine services.OrderStateMachine, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{
		checkout:     checkout,
		orders:       orders,
		stateMachine: stateMachine,
		clock:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints. Placement routes accept extra middleware,
// typically the idempotency guard.
func (h *OrderHandlers) Routes(placement ...func(http.Handler) http.Handler) RouteRegistrar {
	return func(r chi.Router) {
		r.Group(func(place chi.Router) {
			place.Use(throttlePerUser(h.placementLimiter))
			for _, mw := range placement {
				if mw != nil {
					place.Use(mw)
				}
			}
			place.Post("/", h.placeOrder)
			place.Post("/from-cart", h.placeOrderFromCart)
		})
		r.Get("/mine", h.listMine)
		r.Get("/{orderID}", h.getOrder)
		r.Post("/{orderID}/{event}", h.applyTransition)
	}
}

func (h *OrderHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}
	caller, ok := callerFromRequest(w, r)
	if !ok {
		return
	}

	var req placeOrderRequest
	if err := httpx.DecodeJSON(r, &req, maxOrderBodySize); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	lines := make([]services.LineRequest, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, services.LineRequest{
			ProductID: strings.TrimSpace(line.ProductID),
			Quantity:  line.Quantity,
		})
	}

	result, err := h.checkout.PlaceOrder(ctx, services.CheckoutCommand{Caller: caller, Lines: lines})
	if err != nil {
		writeServiceError(ctx, w, "order.place", "", err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, orderResponse{
		Order:    buildOrderPayload(result.Order),
		Warnings: result.Warnings,
	})
}

func (h *OrderHandlers) placeOrderFromCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}
	caller, ok := callerFromRequest(w, r)
	if !ok {
		return
	}

	var req placeFromCartRequest
	if err := httpx.DecodeJSON(r, &req, maxOrderBodySize); err != nil && !errors.Is(err, httpx.ErrEmptyBody) {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	lineIDs := make([]string, 0, len(req.LineIDs))
	for _, id := range req.LineIDs {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			lineIDs = append(lineIDs, trimmed)
		}
	}

	result, err := h.checkout.PlaceOrder(ctx, services.CheckoutCommand{
		Caller:      caller,
		FromCart:    true,
		CartLineIDs: lineIDs,
	})
	if err != nil {
		writeServiceError(ctx, w, "order.place_from_cart", "", err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, orderResponse{
		Order:    buildOrderPayload(result.Order),
		Warnings: result.Warnings,
	})
}

func (h *OrderHandlers) listMine(w http.ResponseWriter, r *http.Request) {
	listOrders(w, r, h.orders, services.ScopeOwner)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	getOrder(w, r, h.orders, services.ScopeOwner)
}

func (h *OrderHandlers) applyTransition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stateMachine == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	caller, ok := callerFromRequest(w, r)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}
	event, ok := domain.ParseOrderEvent(strings.ToLower(strings.TrimSpace(chi.URLParam(r, "event"))))
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("route_not_found", "unknown order action", http.StatusNotFound))
		return
	}

	var req transitionRequest
	if err := httpx.DecodeJSON(r, &req, maxTransitionBody); err != nil && !errors.Is(err, httpx.ErrEmptyBody) {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	result, err := h.stateMachine.Apply(ctx, services.TransitionCommand{
		Caller:  caller,
		OrderID: orderID,
		Event:   event,
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeServiceError(ctx, w, "order."+string(event), orderID, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, transitionResponse{
		Order:          buildOrderPayload(result.Order),
		PreviousStatus: string(result.Previous),
		ReleasedUnits:  result.ReleasedUnits,
		Warnings:       result.Warnings,
	})
}

func listOrders(w http.ResponseWriter, r *http.Request, orders services.OrderQueryService, scope services.QueryScope) {
	ctx := r.Context()
	if orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	caller, ok := callerFromRequest(w, r)
	if !ok {
		return
	}

	req, err := pagination.FromQuery(r.URL.Query(), orderListLimits)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	statuses := make([]domain.OrderStatus, 0, len(req.Filters))
	for _, name := range req.Filters {
		statuses = append(statuses, domain.OrderStatus(name))
	}

	page, err := orders.List(ctx, services.OrderListQuery{
		Caller:   caller,
		Scope:    scope,
		Statuses: statuses,
		Pagination: domain.Pagination{
			PageSize:  req.PageSize,
			PageToken: req.PageToken,
		},
	})
	if err != nil {
		writeServiceError(ctx, w, "order.list."+string(scope), "", err)
		return
	}

	items := make([]orderPayload, 0, len(page.Items))
	for _, view := range page.Items {
		items = append(items, buildOrderViewPayload(view))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: page.NextPageToken,
	})
}

func getOrder(w http.ResponseWriter, r *http.Request, orders services.OrderQueryService, scope services.QueryScope) {
	ctx := r.Context()
	if orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	caller, ok := callerFromRequest(w, r)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	view, err := orders.Get(ctx, caller, orderID, scope)
	if err != nil {
		writeServiceError(ctx, w, "order.get."+string(scope), orderID, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, struct {
		Order orderPayload `json:"order"`
	}{Order: buildOrderViewPayload(view)})
}

func orderStatusNames() []string {
	names := make([]string, 0, len(domain.OrderStatuses))
	for _, status := range domain.OrderStatuses {
		names = append(names, string(status))
	}
	return names
}
