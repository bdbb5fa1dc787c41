package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	domain "github.com/shopsite/fulfillment/internal/domain"
	pgplatform "github.com/shopsite/fulfillment/internal/platform/postgres"
	"github.com/shopsite/fulfillment/internal/repositories"
)

// CartRepository reads and trims cart_line rows.
type CartRepository struct {
	store
}

var _ repositories.CartRepository = (*CartRepository)(nil)

func NewCartRepository(provider *pgplatform.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires postgres provider")
	}
	return &CartRepository{store: store{provider: provider}}, nil
}

func (r *CartRepository) ListLines(ctx context.Context, customerID string) ([]domain.CartLine, error) {
	q, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := q.Query(ctx, `
		SELECT id, customer_id, product_id, quantity, created_at
		FROM cart_line WHERE customer_id = $1 ORDER BY created_at, id`, customerID)
	if err != nil {
		return nil, pgplatform.WrapError("carts.list", err)
	}
	lines, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.CartLine, error) {
		var line domain.CartLine
		err := row.Scan(&line.ID, &line.CustomerID, &line.ProductID, &line.Quantity, &line.CreatedAt)
		line.CreatedAt = utc(line.CreatedAt)
		return line, err
	})
	if err != nil {
		return nil, pgplatform.WrapError("carts.list", err)
	}
	return lines, nil
}

// RemoveLines deletes the named lines owned by the customer. Unknown ids are ignored.
func (r *CartRepository) RemoveLines(ctx context.Context, customerID string, lineIDs []string) error {
	if len(lineIDs) == 0 {
		return nil
	}
	q, err := r.conn(ctx)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `DELETE FROM cart_line WHERE customer_id = $1 AND id = ANY($2)`, customerID, lineIDs)
	return pgplatform.WrapError("carts.remove", err)
}

func (r *CartRepository) AddLine(ctx context.Context, line domain.CartLine) error {
	q, err := r.conn(ctx)
	if err != nil {
		return err
	}
	createdAt := line.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err = q.Exec(ctx, `
		INSERT INTO cart_line (id, customer_id, product_id, quantity, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		line.ID, line.CustomerID, line.ProductID, line.Quantity, utc(createdAt),
	)
	return pgplatform.WrapError("carts.add", err)
}
