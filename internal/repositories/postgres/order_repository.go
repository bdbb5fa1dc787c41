package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	domain "github.com/shopsite/fulfillment/internal/domain"
	"github.com/shopsite/fulfillment/internal/platform/pagination"
	pgplatform "github.com/shopsite/fulfillment/internal/platform/postgres"
	"github.com/shopsite/fulfillment/internal/repositories"
)

const (
	orderColumns = `o.id, o.customer_id, o.total_amount::text, o.status, o.ordered_at, o.updated_at`
	itemColumns  = `id, order_id, product_id, product_name, merchant_id, quantity, price_at_order::text, stock_reserved, stock_released_at`

	defaultListPageSize = 20
)

// OrderRepository persists order aggregates in shop_order and order_item.
type OrderRepository struct {
	store
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

func NewOrderRepository(provider *pgplatform.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires postgres provider")
	}
	return &OrderRepository{store: store{provider: provider}}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	const op = "orders.insert"
	if strings.TrimSpace(order.ID) == "" {
		return pgplatform.WrapError(op, errors.New("order id is required"))
	}
	return r.inTx(ctx, func(ctx context.Context, q pgplatform.Querier) error {
		_, err := q.Exec(ctx, `
			INSERT INTO shop_order (id, customer_id, total_amount, status, ordered_at, updated_at)
			VALUES ($1, $2, $3::numeric, $4, $5, $6)`,
			order.ID, order.CustomerID, order.TotalAmount.String(), string(order.Status), utc(order.OrderedAt), utc(order.UpdatedAt),
		)
		if err != nil {
			return pgplatform.WrapError(op, err)
		}
		for position, item := range order.Items {
			_, err := q.Exec(ctx, `
				INSERT INTO order_item (id, order_id, position, product_id, product_name, merchant_id, quantity,
					price_at_order, stock_reserved, stock_released_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10)`,
				item.ID, order.ID, position, item.ProductID, item.ProductName, item.MerchantID, item.Quantity,
				item.PriceAtOrder.String(), item.StockReserved, item.StockReleasedAt,
			)
			if err != nil {
				return pgplatform.WrapError(op, fmt.Errorf("item %s: %w", item.ID, err))
			}
		}
		return nil
	})
}

func (r *OrderRepository) FindWithItems(ctx context.Context, orderID string) (domain.Order, error) {
	return r.load(ctx, "orders.find", orderID, false)
}

func (r *OrderRepository) LockWithItems(ctx context.Context, orderID string) (domain.Order, error) {
	if _, ok := pgplatform.TxFromContext(ctx); !ok {
		return domain.Order{}, pgplatform.WrapError("orders.lock", errors.New("row lock requires a transaction"))
	}
	return r.load(ctx, "orders.lock", orderID, true)
}

func (r *OrderRepository) load(ctx context.Context, op, orderID string, lock bool) (domain.Order, error) {
	q, err := r.conn(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	query := `SELECT ` + orderColumns + ` FROM shop_order o WHERE o.id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	order, err := scanOrder(q.QueryRow(ctx, query, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, repositories.NewNotFound(op, "order", orderID)
	}
	if err != nil {
		return domain.Order{}, pgplatform.WrapError(op, err)
	}

	items, err := r.loadItems(ctx, q, []string{order.ID})
	if err != nil {
		return domain.Order{}, pgplatform.WrapError(op, err)
	}
	order.Items = items[order.ID]
	return order, nil
}

func (r *OrderRepository) loadItems(ctx context.Context, q pgplatform.Querier, orderIDs []string) (map[string][]domain.OrderItem, error) {
	out := make(map[string][]domain.OrderItem, len(orderIDs))
	if len(orderIDs) == 0 {
		return out, nil
	}
	rows, err := q.Query(ctx, `SELECT `+itemColumns+` FROM order_item WHERE order_id = ANY($1) ORDER BY order_id, position`, orderIDs)
	if err != nil {
		return nil, err
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.OrderItem, error) {
		return scanItem(row)
	})
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		out[item.OrderID] = append(out[item.OrderID], item)
	}
	return out, nil
}

func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID string, expected, next domain.OrderStatus, now time.Time) error {
	const op = "orders.update_status"
	q, err := r.conn(ctx)
	if err != nil {
		return err
	}
	tag, err := q.Exec(ctx,
		`UPDATE shop_order SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`,
		orderID, string(expected), string(next), utc(now),
	)
	if err != nil {
		return pgplatform.WrapError(op, err)
	}
	if tag.RowsAffected() == 0 {
		return repositories.NewConflict(op, fmt.Errorf("order %s is no longer %s", orderID, expected))
	}
	return nil
}

func (r *OrderRepository) MarkItemsReleased(ctx context.Context, orderID string, itemIDs []string, now time.Time) error {
	const op = "orders.mark_items_released"
	if len(itemIDs) == 0 {
		return nil
	}
	q, err := r.conn(ctx)
	if err != nil {
		return err
	}
	tag, err := q.Exec(ctx, `
		UPDATE order_item SET stock_reserved = FALSE, stock_released_at = $3
		WHERE order_id = $1 AND id = ANY($2) AND stock_reserved`,
		orderID, itemIDs, utc(now),
	)
	if err != nil {
		return pgplatform.WrapError(op, err)
	}
	if int(tag.RowsAffected()) != len(itemIDs) {
		return repositories.NewConflict(op, fmt.Errorf("released %d of %d items on order %s", tag.RowsAffected(), len(itemIDs), orderID))
	}
	return nil
}

// List pages through orders newest first using a (ordered_at, id) keyset.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	const op = "orders.list"
	keyset, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = defaultListPageSize
	}

	var (
		where []string
		args  []any
	)
	arg := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.CustomerID != "" {
		where = append(where, "o.customer_id = "+arg(filter.CustomerID))
	}
	if filter.MerchantID != "" {
		where = append(where, "EXISTS (SELECT 1 FROM order_item i WHERE i.order_id = o.id AND i.merchant_id = "+arg(filter.MerchantID)+")")
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, status := range filter.Statuses {
			statuses = append(statuses, string(status))
		}
		where = append(where, "o.status = ANY("+arg(statuses)+")")
	}
	if !keyset.IsZero() {
		where = append(where, fmt.Sprintf("(o.ordered_at, o.id) < (%s, %s)", arg(keyset.After), arg(keyset.ID)))
	}

	query := `SELECT ` + orderColumns + ` FROM shop_order o`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY o.ordered_at DESC, o.id DESC LIMIT ` + arg(pageSize+1)

	q, err := r.conn(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pgplatform.WrapError(op, err)
	}
	orders, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Order, error) {
		return scanOrder(row)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pgplatform.WrapError(op, err)
	}

	page := domain.CursorPage[domain.Order]{}
	if len(orders) > pageSize {
		orders = orders[:pageSize]
		last := orders[len(orders)-1]
		token, err := pagination.EncodeToken(pagination.Keyset{After: last.OrderedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
	}

	ids := make([]string, 0, len(orders))
	for _, order := range orders {
		ids = append(ids, order.ID)
	}
	items, err := r.loadItems(ctx, q, ids)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pgplatform.WrapError(op, err)
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	page.Items = orders
	return page, nil
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		order  domain.Order
		total  string
		status string
	)
	if err := row.Scan(&order.ID, &order.CustomerID, &total, &status, &order.OrderedAt, &order.UpdatedAt); err != nil {
		return domain.Order{}, err
	}
	parsedTotal, err := parseDecimal("order.total_amount", total)
	if err != nil {
		return domain.Order{}, err
	}
	parsedStatus, ok := domain.ParseOrderStatus(status)
	if !ok {
		return domain.Order{}, fmt.Errorf("decode order %s: unknown status %q", order.ID, status)
	}
	order.TotalAmount = parsedTotal
	order.Status = parsedStatus
	order.OrderedAt = utc(order.OrderedAt)
	order.UpdatedAt = utc(order.UpdatedAt)
	return order, nil
}

func scanItem(row pgx.Row) (domain.OrderItem, error) {
	var (
		item       domain.OrderItem
		price      string
		releasedAt *time.Time
	)
	if err := row.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.ProductName, &item.MerchantID,
		&item.Quantity, &price, &item.StockReserved, &releasedAt); err != nil {
		return domain.OrderItem{}, err
	}
	parsed, err := parseDecimal("order_item.price_at_order", price)
	if err != nil {
		return domain.OrderItem{}, err
	}
	item.PriceAtOrder = parsed
	if releasedAt != nil {
		t := releasedAt.UTC()
		item.StockReleasedAt = &t
	}
	return item, nil
}
