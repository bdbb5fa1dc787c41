package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	domain "github.com/shopsite/fulfillment/internal/domain"
	pgplatform "github.com/shopsite/fulfillment/internal/platform/postgres"
	"github.com/shopsite/fulfillment/internal/repositories"
)

// ReportRepository computes reporting aggregates directly in SQL.
type ReportRepository struct {
	store
}

var _ repositories.ReportRepository = (*ReportRepository)(nil)

func NewReportRepository(provider *pgplatform.Provider) (*ReportRepository, error) {
	if provider == nil {
		return nil, errors.New("report repository requires postgres provider")
	}
	return &ReportRepository{store: store{provider: provider}}, nil
}

func saleStatuses() []string {
	out := make([]string, 0, len(domain.OrderStatuses))
	for _, status := range domain.OrderStatuses {
		if status.CountsAsSale() {
			out = append(out, string(status))
		}
	}
	return out
}

func (r *ReportRepository) SalesSummary(ctx context.Context, scope repositories.ReportScope) (domain.SalesSummary, error) {
	const op = "reports.sales_summary"
	q, err := r.conn(ctx)
	if err != nil {
		return domain.SalesSummary{}, err
	}

	var total string
	err = q.QueryRow(ctx, `
		SELECT COALESCE(SUM(i.quantity * i.price_at_order), 0)::text
		FROM order_item i JOIN shop_order o ON o.id = i.order_id
		WHERE o.status = ANY($1) AND ($2::text = '' OR i.merchant_id = $2)`,
		saleStatuses(), scope.MerchantID,
	).Scan(&total)
	if err != nil {
		return domain.SalesSummary{}, pgplatform.WrapError(op, err)
	}

	var summary domain.SalesSummary
	err = q.QueryRow(ctx, `
		SELECT COUNT(DISTINCT o.id), COUNT(DISTINCT o.id) FILTER (WHERE o.status = $2)
		FROM shop_order o JOIN order_item i ON i.order_id = o.id
		WHERE ($1::text = '' OR i.merchant_id = $1)`,
		scope.MerchantID, string(domain.OrderStatusCompleted),
	).Scan(&summary.TotalOrders, &summary.CompletedOrders)
	if err != nil {
		return domain.SalesSummary{}, pgplatform.WrapError(op, err)
	}

	summary.TotalSales, err = parseDecimal("sales_summary.total", total)
	if err != nil {
		return domain.SalesSummary{}, pgplatform.WrapError(op, err)
	}
	return summary, nil
}

func (r *ReportRepository) StatusCounts(ctx context.Context, scope repositories.ReportScope) (map[domain.OrderStatus]int, error) {
	const op = "reports.status_counts"
	q, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := q.Query(ctx, `
		SELECT o.status, COUNT(DISTINCT o.id)
		FROM shop_order o JOIN order_item i ON i.order_id = o.id
		WHERE ($1::text = '' OR i.merchant_id = $1)
		GROUP BY o.status`, scope.MerchantID)
	if err != nil {
		return nil, pgplatform.WrapError(op, err)
	}
	defer rows.Close()

	counts := make(map[domain.OrderStatus]int, len(domain.OrderStatuses))
	for _, status := range domain.OrderStatuses {
		counts[status] = 0
	}
	for rows.Next() {
		var (
			raw   string
			count int
		)
		if err := rows.Scan(&raw, &count); err != nil {
			return nil, pgplatform.WrapError(op, err)
		}
		if status, ok := domain.ParseOrderStatus(raw); ok {
			counts[status] = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, pgplatform.WrapError(op, err)
	}
	return counts, nil
}

func (r *ReportRepository) TopProducts(ctx context.Context, scope repositories.ReportScope, limit int) ([]domain.ProductSales, error) {
	const op = "reports.top_products"
	q, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := q.Query(ctx, `
		SELECT i.product_id, MAX(i.product_name), SUM(i.quantity), SUM(i.quantity * i.price_at_order)::text
		FROM order_item i JOIN shop_order o ON o.id = i.order_id
		WHERE o.status = ANY($1) AND ($2::text = '' OR i.merchant_id = $2)
		GROUP BY i.product_id
		ORDER BY SUM(i.quantity) DESC, i.product_id
		LIMIT $3`, saleStatuses(), scope.MerchantID, limit)
	if err != nil {
		return nil, pgplatform.WrapError(op, err)
	}
	sales, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.ProductSales, error) {
		var (
			entry   domain.ProductSales
			revenue string
		)
		if err := row.Scan(&entry.ProductID, &entry.ProductName, &entry.Quantity, &revenue); err != nil {
			return domain.ProductSales{}, err
		}
		parsed, err := parseDecimal("top_products.revenue", revenue)
		entry.Revenue = parsed
		return entry, err
	})
	if err != nil {
		return nil, pgplatform.WrapError(op, err)
	}
	return sales, nil
}

func (r *ReportRepository) Customers(ctx context.Context, scope repositories.ReportScope, customerID string) ([]domain.CustomerSummary, error) {
	const op = "reports.customers"
	q, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := q.Query(ctx, `
		SELECT o.customer_id,
			COUNT(DISTINCT o.id),
			COALESCE(SUM(i.quantity * i.price_at_order) FILTER (WHERE o.status = ANY($1)), 0)::text,
			MAX(o.ordered_at)
		FROM shop_order o JOIN order_item i ON i.order_id = o.id
		WHERE ($2::text = '' OR i.merchant_id = $2)
			AND ($3::text = '' OR o.customer_id = $3)
		GROUP BY o.customer_id
		ORDER BY MAX(o.ordered_at) DESC, o.customer_id`,
		saleStatuses(), scope.MerchantID, customerID,
	)
	if err != nil {
		return nil, pgplatform.WrapError(op, err)
	}
	customers, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.CustomerSummary, error) {
		var (
			entry domain.CustomerSummary
			spent string
		)
		if err := row.Scan(&entry.CustomerID, &entry.OrderCount, &spent, &entry.LastOrderAt); err != nil {
			return domain.CustomerSummary{}, err
		}
		entry.LastOrderAt = entry.LastOrderAt.UTC()
		parsed, err := parseDecimal("customers.total_spent", spent)
		entry.TotalSpent = parsed
		return entry, err
	})
	if err != nil {
		return nil, pgplatform.WrapError(op, err)
	}
	return customers, nil
}
