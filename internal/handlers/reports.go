package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/shopsite/fulfillment/internal/domain"
	"github.com/shopsite/fulfillment/internal/platform/httpx"
	"github.com/shopsite/fulfillment/internal/services"
)

type salesSummaryResponse struct {
	TotalSales      string `json:"totalSales"`
	TotalOrders     int    `json:"totalOrders"`
	CompletedOrders int    `json:"completedOrders"`
}

type statusCountsResponse struct {
	Counts map[string]int `json:"counts"`
}

type productSalesPayload struct {
	ProductID   string `json:"productId"`
	ProductName string `json:"productName"`
	Quantity    int    `json:"quantity"`
	Revenue     string `json:"revenue"`
}

type topProductsResponse struct {
	Items []productSalesPayload `json:"items"`
}

type customerSummaryPayload struct {
	CustomerID  string `json:"customerId"`
	OrderCount  int    `json:"orderCount"`
	TotalSpent  string `json:"totalSpent"`
	LastOrderAt string `json:"lastOrderAt"`
}

type customersResponse struct {
	Items []customerSummaryPayload `json:"items"`
}

type salesLogPayload struct {
	Action    string `json:"action"`
	ProductID string `json:"productId"`
	OrderID   string `json:"orderId,omitempty"`
	Quantity  int    `json:"quantity"`
	LoggedAt  string `json:"loggedAt"`
}

type customerActivityResponse struct {
	Customer customerSummaryPayload `json:"customer"`
	Logs     []salesLogPayload      `json:"logs"`
}

// ReportHandlers serves the merchant or admin statistics endpoints.
type ReportHandlers struct {
	reports services.ReportingService
	scope   services.ReportScope
}

// NewMerchantReportHandlers reports over orders containing the merchant's items.
func NewMerchantReportHandlers(reports services.ReportingService) *ReportHandlers {
	return &ReportHandlers{reports: reports, scope: services.ReportScopeMerchant}
}

// NewAdminReportHandlers reports over every order.
func NewAdminReportHandlers(reports services.ReportingService) *ReportHandlers {
	return &ReportHandlers{reports: reports, scope: services.ReportScopeAdmin}
}

// Routes registers the /reports endpoints relative to the group.
func (h *ReportHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Route("/reports", func(reports chi.Router) {
		reports.Get("/summary", h.summary)
		reports.Get("/status-counts", h.statusCounts)
		reports.Get("/top-products", h.topProducts)
		reports.Get("/customers", h.customers)
		reports.Get("/customers/{customerID}", h.customerActivity)
	})
}

func (h *ReportHandlers) summary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	caller, ok := callerFromRequest(w, r)
	if !ok {
		return
	}
	summary, err := h.reports.SalesSummary(ctx, caller, h.scope)
	if err != nil {
		writeServiceError(ctx, w, "report.summary", "", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, salesSummaryResponse{
		TotalSales:      summary.TotalSales.StringFixed(2),
		TotalOrders:     summary.TotalOrders,
		CompletedOrders: summary.CompletedOrders,
	})
}

func (h *ReportHandlers) statusCounts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	caller, ok := callerFromRequest(w, r)
	if !ok {
		return
	}
	counts, err := h.reports.StatusCounts(ctx, caller, h.scope)
	if err != nil {
		writeServiceError(ctx, w, "report.status_counts", "", err)
		return
	}
	payload := make(map[string]int, len(domain.OrderStatuses))
	for _, status := range domain.OrderStatuses {
		payload[string(status)] = counts[status]
	}
	writeJSONResponse(w, http.StatusOK, statusCountsResponse{Counts: payload})
}

func (h *ReportHandlers) topProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	caller, ok := callerFromRequest(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be an integer", http.StatusBadRequest))
			return
		}
		limit = parsed
	}

	rows, err := h.reports.TopProducts(ctx, caller, h.scope, limit)
	if err != nil {
		writeServiceError(ctx, w, "report.top_products", "", err)
		return
	}
	items := make([]productSalesPayload, 0, len(rows))
	for _, row := range rows {
		items = append(items, productSalesPayload{
			ProductID:   row.ProductID,
			ProductName: row.ProductName,
			Quantity:    row.Quantity,
			Revenue:     row.Revenue.StringFixed(2),
		})
	}
	writeJSONResponse(w, http.StatusOK, topProductsResponse{Items: items})
}

func (h *ReportHandlers) customers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	caller, ok := callerFromRequest(w, r)
	if !ok {
		return
	}
	rows, err := h.reports.Customers(ctx, caller, h.scope)
	if err != nil {
		writeServiceError(ctx, w, "report.customers", "", err)
		return
	}
	items := make([]customerSummaryPayload, 0, len(rows))
	for _, row := range rows {
		items = append(items, newCustomerSummaryPayload(row))
	}
	writeJSONResponse(w, http.StatusOK, customersResponse{Items: items})
}

func (h *ReportHandlers) customerActivity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	caller, ok := callerFromRequest(w, r)
	if !ok {
		return
	}
	customerID := chi.URLParam(r, "customerID")
	activity, err := h.reports.CustomerActivity(ctx, caller, h.scope, customerID, r.URL.Query().Get("action"))
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			httpx.WriteError(ctx, w, httpx.NewError("customer_not_found", "customer not found", http.StatusNotFound))
			return
		}
		writeServiceError(ctx, w, "report.customer_activity", "", err)
		return
	}
	logs := make([]salesLogPayload, 0, len(activity.Logs))
	for _, entry := range activity.Logs {
		logs = append(logs, salesLogPayload{
			Action:    string(entry.Action),
			ProductID: entry.ProductID,
			OrderID:   entry.OrderID,
			Quantity:  entry.Quantity,
			LoggedAt:  formatTime(entry.LoggedAt),
		})
	}
	writeJSONResponse(w, http.StatusOK, customerActivityResponse{
		Customer: newCustomerSummaryPayload(activity.Summary),
		Logs:     logs,
	})
}

func newCustomerSummaryPayload(row domain.CustomerSummary) customerSummaryPayload {
	return customerSummaryPayload{
		CustomerID:  row.CustomerID,
		OrderCount:  row.OrderCount,
		TotalSpent:  row.TotalSpent.StringFixed(2),
		LastOrderAt: formatTime(row.LastOrderAt),
	}
}

func (h *ReportHandlers) available(w http.ResponseWriter, r *http.Request) bool {
	if h.reports != nil {
		return true
	}
	httpx.WriteError(r.Context(), w, httpx.NewError("reporting_unavailable", "reporting service unavailable", http.StatusServiceUnavailable))
	return false
}
