package handlers

import (
	"context"
	"net/http"

	domain "github.com/shopsite/fulfillment/internal/domain"
	"github.com/shopsite/fulfillment/internal/platform/auth"
	"github.com/shopsite/fulfillment/internal/services"
)

type stubCheckoutService struct {
	placeFn func(ctx context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error)
}

func (s *stubCheckoutService) PlaceOrder(ctx context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error) {
	if s.placeFn == nil {
		return services.CheckoutResult{}, nil
	}
	return s.placeFn(ctx, cmd)
}

type stubOrderQueryService struct {
	getFn  func(ctx context.Context, caller domain.Caller, orderID string, scope services.QueryScope) (services.OrderView, error)
	listFn func(ctx context.Context, query services.OrderListQuery) (domain.CursorPage[services.OrderView], error)
}

func (s *stubOrderQueryService) Get(ctx context.Context, caller domain.Caller, orderID string, scope services.QueryScope) (services.OrderView, error) {
	if s.getFn == nil {
		return services.OrderView{}, services.ErrNotFound
	}
	return s.getFn(ctx, caller, orderID, scope)
}

func (s *stubOrderQueryService) List(ctx context.Context, query services.OrderListQuery) (domain.CursorPage[services.OrderView], error) {
	if s.listFn == nil {
		return domain.CursorPage[services.OrderView]{}, nil
	}
	return s.listFn(ctx, query)
}

type stubStateMachine struct {
	applyFn func(ctx context.Context, cmd services.TransitionCommand) (services.TransitionResult, error)
}

func (s *stubStateMachine) Apply(ctx context.Context, cmd services.TransitionCommand) (services.TransitionResult, error) {
	if s.applyFn == nil {
		return services.TransitionResult{}, nil
	}
	return s.applyFn(ctx, cmd)
}

type stubReportingService struct {
	summaryFn   func(ctx context.Context, caller domain.Caller, scope services.ReportScope) (domain.SalesSummary, error)
	countsFn    func(ctx context.Context, caller domain.Caller, scope services.ReportScope) (map[domain.OrderStatus]int, error)
	topFn       func(ctx context.Context, caller domain.Caller, scope services.ReportScope, limit int) ([]domain.ProductSales, error)
	customersFn func(ctx context.Context, caller domain.Caller, scope services.ReportScope) ([]domain.CustomerSummary, error)
	activityFn  func(ctx context.Context, caller domain.Caller, scope services.ReportScope, customerID, action string) (domain.CustomerActivity, error)
}

func (s *stubReportingService) SalesSummary(ctx context.Context, caller domain.Caller, scope services.ReportScope) (domain.SalesSummary, error) {
	return s.summaryFn(ctx, caller, scope)
}

func (s *stubReportingService) StatusCounts(ctx context.Context, caller domain.Caller, scope services.ReportScope) (map[domain.OrderStatus]int, error) {
	return s.countsFn(ctx, caller, scope)
}

func (s *stubReportingService) TopProducts(ctx context.Context, caller domain.Caller, scope services.ReportScope, limit int) ([]domain.ProductSales, error) {
	return s.topFn(ctx, caller, scope, limit)
}

func (s *stubReportingService) Customers(ctx context.Context, caller domain.Caller, scope services.ReportScope) ([]domain.CustomerSummary, error) {
	return s.customersFn(ctx, caller, scope)
}

func (s *stubReportingService) CustomerActivity(ctx context.Context, caller domain.Caller, scope services.ReportScope, customerID, action string) (domain.CustomerActivity, error) {
	return s.activityFn(ctx, caller, scope, customerID, action)
}

type stubSystemService struct {
	liveness  domain.SystemHealthReport
	readiness domain.SystemHealthReport
	err       error
}

func (s *stubSystemService) Liveness(context.Context) domain.SystemHealthReport {
	return s.liveness
}

func (s *stubSystemService) Readiness(context.Context) (domain.SystemHealthReport, error) {
	return s.readiness, s.err
}

var (
	_ services.CheckoutService   = (*stubCheckoutService)(nil)
	_ services.OrderQueryService = (*stubOrderQueryService)(nil)
	_ services.OrderStateMachine = (*stubStateMachine)(nil)
	_ services.ReportingService  = (*stubReportingService)(nil)
	_ services.SystemService     = (*stubSystemService)(nil)
)

// withIdentity stands in for the auth middleware.
func withIdentity(uid string, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if uid == "" {
				next.ServeHTTP(w, r)
				return
			}
			identity := &auth.Identity{UID: uid, Roles: roles}
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), identity)))
		})
	}
}
