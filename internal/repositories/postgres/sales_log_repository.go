package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	domain "github.com/shopsite/fulfillment/internal/domain"
	pgplatform "github.com/shopsite/fulfillment/internal/platform/postgres"
	"github.com/shopsite/fulfillment/internal/repositories"
)

// SalesLogRepository appends and reads sales_log rows.
type SalesLogRepository struct {
	store
}

var _ repositories.SalesLogRepository = (*SalesLogRepository)(nil)

func NewSalesLogRepository(provider *pgplatform.Provider) (*SalesLogRepository, error) {
	if provider == nil {
		return nil, errors.New("sales log repository requires postgres provider")
	}
	return &SalesLogRepository{store: store{provider: provider}}, nil
}

func (r *SalesLogRepository) Append(ctx context.Context, entries []domain.SalesLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return r.inTx(ctx, func(ctx context.Context, q pgplatform.Querier) error {
		for _, entry := range entries {
			var orderID *string
			if entry.OrderID != "" {
				id := entry.OrderID
				orderID = &id
			}
			if _, err := q.Exec(ctx, `
				INSERT INTO sales_log (user_id, action_type, product_id, order_id, quantity, log_time)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				entry.UserID, string(entry.Action), entry.ProductID, orderID, entry.Quantity, utc(entry.LoggedAt),
			); err != nil {
				return pgplatform.WrapError("sales_log.append", err)
			}
		}
		return nil
	})
}

func (r *SalesLogRepository) List(ctx context.Context, filter repositories.SalesLogFilter) ([]domain.SalesLogEntry, error) {
	const op = "sales_log.list"
	q, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	rows, err := q.Query(ctx, `
		SELECT user_id, action_type, product_id, COALESCE(order_id, ''), quantity, log_time
		FROM sales_log
		WHERE user_id = $1
			AND ($2::text = '' OR action_type = $2)
			AND ($3::text = '' OR product_id IN (
				SELECT id FROM product WHERE merchant_id = $3
				UNION
				SELECT product_id FROM order_item WHERE merchant_id = $3))
		ORDER BY log_time DESC, id DESC
		LIMIT $4`,
		filter.UserID, string(filter.Action), filter.MerchantID, limit,
	)
	if err != nil {
		return nil, pgplatform.WrapError(op, err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.SalesLogEntry, error) {
		var (
			entry  domain.SalesLogEntry
			action string
		)
		err := row.Scan(&entry.UserID, &action, &entry.ProductID, &entry.OrderID, &entry.Quantity, &entry.LoggedAt)
		entry.Action = domain.SalesLogAction(action)
		entry.LoggedAt = entry.LoggedAt.UTC()
		return entry, err
	})
	if err != nil {
		return nil, pgplatform.WrapError(op, err)
	}
	return entries, nil
}
