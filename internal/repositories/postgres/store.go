package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	pgplatform "github.com/shopsite/fulfillment/internal/platform/postgres"
)

var errNotInitialised = errors.New("postgres repository not initialised")

// store resolves the statement target for a call: the transaction carried by ctx when present,
// otherwise the shared pool.
type store struct {
	provider *pgplatform.Provider
}

func (s store) conn(ctx context.Context) (pgplatform.Querier, error) {
	if s.provider == nil {
		return nil, errNotInitialised
	}
	if tx, ok := pgplatform.TxFromContext(ctx); ok {
		return tx, nil
	}
	pool, err := s.provider.Pool(ctx)
	if err != nil {
		return nil, err
	}
	return pool, nil
}

// inTx runs fn in the transaction carried by ctx, or a new one.
func (s store) inTx(ctx context.Context, fn func(ctx context.Context, q pgplatform.Querier) error) error {
	if s.provider == nil {
		return errNotInitialised
	}
	return s.provider.RunInTx(ctx, func(ctx context.Context) error {
		q, err := s.conn(ctx)
		if err != nil {
			return err
		}
		return fn(ctx, q)
	})
}

func parseDecimal(field, raw string) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode %s: %w", field, err)
	}
	return value, nil
}

func utc(t time.Time) time.Time {
	return t.UTC()
}
