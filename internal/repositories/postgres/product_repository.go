package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	domain "github.com/shopsite/fulfillment/internal/domain"
	pgplatform "github.com/shopsite/fulfillment/internal/platform/postgres"
	"github.com/shopsite/fulfillment/internal/repositories"
)

const productColumns = `id, merchant_id, name, price::text, stock, is_available, updated_at`

// ProductRepository owns the product stock counters.
type ProductRepository struct {
	store
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

func NewProductRepository(provider *pgplatform.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires postgres provider")
	}
	return &ProductRepository{store: store{provider: provider}}, nil
}

func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	q, err := r.conn(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	product, err := scanProduct(q.QueryRow(ctx, `SELECT `+productColumns+` FROM product WHERE id = $1`, productID))
	if err != nil {
		return domain.Product{}, pgplatform.WrapError("products.find", err)
	}
	return product, nil
}

// Reserve locks the product row for the rest of the transaction, then decrements stock.
func (r *ProductRepository) Reserve(ctx context.Context, productID string, quantity int, now time.Time) (domain.Product, error) {
	const op = "products.reserve"
	productID = strings.TrimSpace(productID)
	if quantity <= 0 {
		return domain.Product{}, repositories.NewStockError(op, repositories.StockErrorInvalidQuantity, productID)
	}

	var product domain.Product
	err := r.inTx(ctx, func(ctx context.Context, q pgplatform.Querier) error {
		locked, err := scanProduct(q.QueryRow(ctx, `SELECT `+productColumns+` FROM product WHERE id = $1 FOR UPDATE`, productID))
		if errors.Is(err, pgx.ErrNoRows) {
			return repositories.NewStockError(op, repositories.StockErrorProductNotFound, productID)
		}
		if err != nil {
			return pgplatform.WrapError(op, err)
		}
		if !locked.IsAvailable {
			return repositories.NewStockError(op, repositories.StockErrorUnavailable, productID)
		}
		if locked.Stock < quantity {
			stockErr := repositories.NewStockError(op, repositories.StockErrorInsufficient, productID)
			stockErr.Requested = quantity
			stockErr.Available = locked.Stock
			return stockErr
		}

		var remaining int
		err = q.QueryRow(ctx,
			`UPDATE product SET stock = stock - $2, updated_at = $3 WHERE id = $1 RETURNING stock`,
			productID, quantity, utc(now),
		).Scan(&remaining)
		if err != nil {
			return pgplatform.WrapError(op, err)
		}
		locked.Stock = remaining
		locked.UpdatedAt = utc(now)
		product = locked
		return nil
	})
	return product, err
}

// Release increments stock. Availability is not checked; returned units always go back.
func (r *ProductRepository) Release(ctx context.Context, productID string, quantity int, now time.Time) (domain.Product, error) {
	const op = "products.release"
	if quantity <= 0 {
		return domain.Product{}, repositories.NewStockError(op, repositories.StockErrorInvalidQuantity, productID)
	}

	var product domain.Product
	err := r.inTx(ctx, func(ctx context.Context, q pgplatform.Querier) error {
		updated, err := scanProduct(q.QueryRow(ctx,
			`UPDATE product SET stock = stock + $2, updated_at = $3 WHERE id = $1 RETURNING `+productColumns,
			productID, quantity, utc(now),
		))
		if errors.Is(err, pgx.ErrNoRows) {
			return repositories.NewStockError(op, repositories.StockErrorProductNotFound, productID)
		}
		if err != nil {
			return pgplatform.WrapError(op, err)
		}
		product = updated
		return nil
	})
	return product, err
}

func (r *ProductRepository) Upsert(ctx context.Context, product domain.Product) error {
	q, err := r.conn(ctx)
	if err != nil {
		return err
	}
	updatedAt := product.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	_, err = q.Exec(ctx, `
		INSERT INTO product (id, merchant_id, name, price, stock, is_available, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			merchant_id = EXCLUDED.merchant_id,
			name = EXCLUDED.name,
			price = EXCLUDED.price,
			stock = EXCLUDED.stock,
			is_available = EXCLUDED.is_available,
			updated_at = EXCLUDED.updated_at`,
		product.ID, product.MerchantID, product.Name, product.Price.String(), product.Stock, product.IsAvailable, utc(updatedAt),
	)
	return pgplatform.WrapError("products.upsert", err)
}

func (r *ProductRepository) Delete(ctx context.Context, productID string) error {
	q, err := r.conn(ctx)
	if err != nil {
		return err
	}
	tag, err := q.Exec(ctx, `DELETE FROM product WHERE id = $1`, productID)
	if err != nil {
		return pgplatform.WrapError("products.delete", err)
	}
	if tag.RowsAffected() == 0 {
		return repositories.NewNotFound("products.delete", "product", productID)
	}
	return nil
}

func scanProduct(row pgx.Row) (domain.Product, error) {
	var (
		product domain.Product
		price   string
	)
	if err := row.Scan(&product.ID, &product.MerchantID, &product.Name, &price, &product.Stock, &product.IsAvailable, &product.UpdatedAt); err != nil {
		return domain.Product{}, err
	}
	parsed, err := parseDecimal("product.price", price)
	if err != nil {
		return domain.Product{}, err
	}
	product.Price = parsed
	product.UpdatedAt = utc(product.UpdatedAt)
	return product, nil
}
