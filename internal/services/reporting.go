package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/shopsite/fulfillment/internal/domain"
	"github.com/shopsite/fulfillment/internal/repositories"
)

const (
	defaultTopProductsLimit = 10
	maxTopProductsLimit     = 50
	customerLogLimit        = 200
)

// ReportingServiceDeps bundles the collaborators of the reporting service.
// Without a SalesLog, customer activity carries no log rows.
type ReportingServiceDeps struct {
	Reports  repositories.ReportRepository
	SalesLog repositories.SalesLogRepository
}

type reportingService struct {
	reports  repositories.ReportRepository
	salesLog repositories.SalesLogRepository
}

var _ ReportingService = (*reportingService)(nil)

// NewReportingService wires the report repository into a ReportingService.
func NewReportingService(deps ReportingServiceDeps) (ReportingService, error) {
	if deps.Reports == nil {
		return nil, errors.New("reporting service: report repository is required")
	}
	return &reportingService{reports: deps.Reports, salesLog: deps.SalesLog}, nil
}

func (s *reportingService) SalesSummary(ctx context.Context, caller domain.Caller, scope ReportScope) (domain.SalesSummary, error) {
	repoScope, err := reportScope(caller, scope)
	if err != nil {
		return domain.SalesSummary{}, err
	}
	summary, err := s.reports.SalesSummary(ctx, repoScope)
	if err != nil {
		return domain.SalesSummary{}, mapStoreError("report.sales_summary", err)
	}
	return summary, nil
}

func (s *reportingService) StatusCounts(ctx context.Context, caller domain.Caller, scope ReportScope) (map[domain.OrderStatus]int, error) {
	repoScope, err := reportScope(caller, scope)
	if err != nil {
		return nil, err
	}
	counts, err := s.reports.StatusCounts(ctx, repoScope)
	if err != nil {
		return nil, mapStoreError("report.status_counts", err)
	}
	result := make(map[domain.OrderStatus]int, len(domain.OrderStatuses))
	for _, status := range domain.OrderStatuses {
		result[status] = counts[status]
	}
	return result, nil
}

func (s *reportingService) TopProducts(ctx context.Context, caller domain.Caller, scope ReportScope, limit int) ([]domain.ProductSales, error) {
	repoScope, err := reportScope(caller, scope)
	if err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = defaultTopProductsLimit
	case limit > maxTopProductsLimit:
		limit = maxTopProductsLimit
	}
	rows, err := s.reports.TopProducts(ctx, repoScope, limit)
	if err != nil {
		return nil, mapStoreError("report.top_products", err)
	}
	return rows, nil
}

func (s *reportingService) Customers(ctx context.Context, caller domain.Caller, scope ReportScope) ([]domain.CustomerSummary, error) {
	repoScope, err := reportScope(caller, scope)
	if err != nil {
		return nil, err
	}
	customers, err := s.reports.Customers(ctx, repoScope, "")
	if err != nil {
		return nil, mapStoreError("report.customers", err)
	}
	return customers, nil
}

// CustomerActivity returns the customer's summary and sales log within scope. A
// customer with no order in scope is reported as not found.
func (s *reportingService) CustomerActivity(ctx context.Context, caller domain.Caller, scope ReportScope, customerID string, action string) (domain.CustomerActivity, error) {
	repoScope, err := reportScope(caller, scope)
	if err != nil {
		return domain.CustomerActivity{}, err
	}
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return domain.CustomerActivity{}, fmt.Errorf("%w: customer id is required", ErrValidation)
	}
	var logAction domain.SalesLogAction
	if action = strings.TrimSpace(action); action != "" {
		parsed, ok := domain.ParseSalesLogAction(action)
		if !ok {
			return domain.CustomerActivity{}, fmt.Errorf("%w: unknown action %q", ErrValidation, action)
		}
		logAction = parsed
	}

	customers, err := s.reports.Customers(ctx, repoScope, customerID)
	if err != nil {
		return domain.CustomerActivity{}, mapStoreError("report.customer", err)
	}
	if len(customers) == 0 {
		return domain.CustomerActivity{}, fmt.Errorf("%w: customer %s", ErrNotFound, customerID)
	}
	activity := domain.CustomerActivity{Summary: customers[0], Logs: []domain.SalesLogEntry{}}
	if s.salesLog == nil {
		return activity, nil
	}

	logs, err := s.salesLog.List(ctx, repositories.SalesLogFilter{
		UserID:     customerID,
		MerchantID: repoScope.MerchantID,
		Action:     logAction,
		Limit:      customerLogLimit,
	})
	if err != nil {
		return domain.CustomerActivity{}, mapStoreError("report.customer_logs", err)
	}
	if logs != nil {
		activity.Logs = logs
	}
	return activity, nil
}

func reportScope(caller domain.Caller, scope ReportScope) (repositories.ReportScope, error) {
	if caller.UserID == "" {
		return repositories.ReportScope{}, fmt.Errorf("%w: caller is required", ErrValidation)
	}
	switch scope {
	case ReportScopeMerchant:
		if !caller.IsMerchant() {
			return repositories.ReportScope{}, fmt.Errorf("%w: merchant role required", ErrForbidden)
		}
		return repositories.ReportScope{MerchantID: caller.UserID}, nil
	case ReportScopeAdmin:
		if !caller.IsAdmin() {
			return repositories.ReportScope{}, fmt.Errorf("%w: admin role required", ErrForbidden)
		}
		return repositories.ReportScope{}, nil
	default:
		return repositories.ReportScope{}, fmt.Errorf("%w: unknown report scope %q", ErrValidation, scope)
	}
}
