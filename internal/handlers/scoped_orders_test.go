package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	domain "github.com/shopsite/fulfillment/internal/domain"
	"github.com/shopsite/fulfillment/internal/platform/auth"
	"github.com/shopsite/fulfillment/internal/services"
)

func TestMerchantOrdersListFlagsOwnItems(t *testing.T) {
	var captured services.OrderListQuery
	orders := &stubOrderQueryService{
		listFn: func(_ context.Context, query services.OrderListQuery) (domain.CursorPage[services.OrderView], error) {
			captured = query
			return domain.CursorPage[services.OrderView]{Items: []services.OrderView{{
				ID:          "ord_1",
				CustomerID:  "cus-1",
				Status:      domain.OrderStatusProcessing,
				TotalAmount: decimal.RequireFromString("13.75"),
				Items: []services.OrderItemView{
					{OrderItem: domain.OrderItem{ID: "itm_1", MerchantID: "mer-1", Quantity: 1, PriceAtOrder: decimal.RequireFromString("10.5")}, OwnedByCaller: true},
					{OrderItem: domain.OrderItem{ID: "itm_2", MerchantID: "mer-2", Quantity: 1, PriceAtOrder: decimal.RequireFromString("3.25")}, OwnedByCaller: false},
				},
			}}}, nil
		},
	}
	router := NewRouter(WithMerchantRoutes(NewMerchantOrderHandlers(orders).Routes, withIdentity("mer-1", auth.RoleMerchant)))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/merchant/orders?status=PROCESSING", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Scope != services.ScopeMerchant || captured.Caller.Role != domain.RoleMerchant {
		t.Fatalf("unexpected query %+v", captured)
	}
	if captured.Pagination.PageSize != defaultOrderPageSize {
		t.Fatalf("expected default page size, got %d", captured.Pagination.PageSize)
	}

	var payload orderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	items := payload.Items[0].Items
	if len(items) != 2 || !*items[0].OwnedByCaller || *items[1].OwnedByCaller {
		t.Fatalf("unexpected ownership flags %+v", items)
	}
	if payload.Items[0].TotalAmount != "13.75" {
		t.Fatalf("unexpected total %s", payload.Items[0].TotalAmount)
	}
}

func TestMerchantOrdersListForbiddenForCustomers(t *testing.T) {
	orders := &stubOrderQueryService{
		listFn: func(context.Context, services.OrderListQuery) (domain.CursorPage[services.OrderView], error) {
			return domain.CursorPage[services.OrderView]{}, services.ErrForbidden
		},
	}
	router := NewRouter(WithMerchantRoutes(NewMerchantOrderHandlers(orders).Routes, withIdentity("cus-1", auth.RoleCustomer)))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/merchant/orders", nil))

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestAdminOrderGetUsesAdminScope(t *testing.T) {
	var gotScope services.QueryScope
	var gotID string
	orders := &stubOrderQueryService{
		getFn: func(_ context.Context, _ domain.Caller, orderID string, scope services.QueryScope) (services.OrderView, error) {
			gotScope, gotID = scope, orderID
			return services.OrderView{ID: orderID, Status: domain.OrderStatusShipped}, nil
		},
	}
	router := NewRouter(WithAdminRoutes(NewAdminOrderHandlers(orders).Routes, withIdentity("root", auth.RoleAdmin)))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/admin/orders/ord_7", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if gotScope != services.ScopeAdmin || gotID != "ord_7" {
		t.Fatalf("unexpected scope %s id %s", gotScope, gotID)
	}
	body := decodeBody(t, rr)
	order, _ := body["order"].(map[string]any)
	if order["status"] != "SHIPPED" {
		t.Fatalf("unexpected body %v", body)
	}
}
