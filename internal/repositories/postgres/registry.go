package postgres

import (
	"context"
	"errors"

	pgplatform "github.com/shopsite/fulfillment/internal/platform/postgres"
	"github.com/shopsite/fulfillment/internal/repositories"
)

// Registry wires every Postgres repository around one provider.
type Registry struct {
	provider *pgplatform.Provider
	products *ProductRepository
	orders   *OrderRepository
	carts    *CartRepository
	messages *MessageRepository
	salesLog *SalesLogRepository
	reports  *ReportRepository
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds the repositories. health may be nil when readiness probes are not wired.
func NewRegistry(provider *pgplatform.Provider, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("postgres registry requires provider")
	}
	reg := &Registry{provider: provider, health: health}
	var err error
	if reg.products, err = NewProductRepository(provider); err != nil {
		return nil, err
	}
	if reg.orders, err = NewOrderRepository(provider); err != nil {
		return nil, err
	}
	if reg.carts, err = NewCartRepository(provider); err != nil {
		return nil, err
	}
	if reg.messages, err = NewMessageRepository(provider); err != nil {
		return nil, err
	}
	if reg.salesLog, err = NewSalesLogRepository(provider); err != nil {
		return nil, err
	}
	if reg.reports, err = NewReportRepository(provider); err != nil {
		return nil, err
	}
	return reg, nil
}

func (r *Registry) Close(ctx context.Context) error { return r.provider.Close(ctx) }
func (r *Registry) Products() repositories.ProductRepository { return r.products }
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }
func (r *Registry) Carts() repositories.CartRepository { return r.carts }
func (r *Registry) Messages() repositories.MessageRepository { return r.messages }
func (r *Registry) SalesLog() repositories.SalesLogRepository { return r.salesLog }
func (r *Registry) Reports() repositories.ReportRepository { return r.reports }
func (r *Registry) Health() repositories.HealthRepository { return r.health }

// RunInTx implements repositories.UnitOfWork.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.provider.RunInTx(ctx, fn)
}
