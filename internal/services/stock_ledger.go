package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	domain "github.com/shopsite/fulfillment/internal/domain"
	"github.com/shopsite/fulfillment/internal/repositories"
)

// StockLedgerDeps bundles the collaborators required by the stock ledger.
type StockLedgerDeps struct {
	Products  repositories.ProductRepository
	Clock     func() time.Time
	Telemetry Telemetry
}

type stockLedger struct {
	products repositories.ProductRepository
	clock    func() time.Time
	inst     *instruments
}

var _ StockLedger = (*stockLedger)(nil)

// NewStockLedger wires the product repository into a StockLedger.
func NewStockLedger(deps StockLedgerDeps) (StockLedger, error) {
	if deps.Products == nil {
		return nil, errors.New("stock ledger: product repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &stockLedger{
		products: deps.Products,
		clock: func() time.Time {
			return clock().UTC()
		},
		inst: newInstruments(deps.Telemetry),
	}, nil
}

func (l *stockLedger) Reserve(ctx context.Context, productID string, quantity int) (domain.Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, fmt.Errorf("%w: product id is required", ErrValidation)
	}
	if quantity < 1 {
		return domain.Product{}, fmt.Errorf("%w: quantity must be at least 1", ErrValidation)
	}

	ctx, span := l.inst.start(ctx, "stock.reserve",
		attribute.String("product.id", productID),
		attribute.Int("stock.quantity", quantity))
	product, err := l.products.Reserve(ctx, productID, quantity, l.clock())
	err = mapStoreError("stock.reserve", err)
	endSpan(span, err)
	if err != nil {
		return domain.Product{}, err
	}
	return product, nil
}

func (l *stockLedger) Release(ctx context.Context, productID string, quantity int) error {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return fmt.Errorf("%w: product id is required", ErrValidation)
	}
	if quantity < 1 {
		return fmt.Errorf("%w: quantity must be at least 1", ErrValidation)
	}

	ctx, span := l.inst.start(ctx, "stock.release",
		attribute.String("product.id", productID),
		attribute.Int("stock.quantity", quantity))
	_, err := l.products.Release(ctx, productID, quantity, l.clock())
	err = mapStoreError("stock.release", err)
	endSpan(span, err)
	return err
}
