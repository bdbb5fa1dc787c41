package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopsite/fulfillment/internal/platform/config"
)

const defaultConnectTimeout = 5 * time.Second

var ErrProviderClosed = errors.New("postgres: provider is closed")

// Provider lazily initialises a shared pgx connection pool.
type Provider struct {
	cfg       config.DatabaseConfig
	configure []func(*pgxpool.Config)

	stateMu sync.Mutex
	pool    *pgxpool.Pool

	closed atomic.Bool
}

// ProviderOption customises the Provider behaviour.
type ProviderOption func(*Provider)

// WithPoolConfig registers a hook applied to the parsed pool configuration.
func WithPoolConfig(fn func(*pgxpool.Config)) ProviderOption {
	return func(p *Provider) {
		if fn != nil {
			p.configure = append(p.configure, fn)
		}
	}
}

// WithQueryTracing attaches OpenTelemetry spans to every statement.
func WithQueryTracing() ProviderOption {
	return WithPoolConfig(func(cfg *pgxpool.Config) {
		cfg.ConnConfig.Tracer = newQueryTracer()
	})
}

// NewProvider constructs a Provider using the supplied configuration.
func NewProvider(cfg config.DatabaseConfig, opts ...ProviderOption) *Provider {
	provider := &Provider{cfg: cfg}
	for _, opt := range opts {
		if opt != nil {
			opt(provider)
		}
	}
	return provider
}

// Pool returns the lazily initialised pool.
func (p *Provider) Pool(ctx context.Context) (*pgxpool.Pool, error) {
	if ctx == nil {
		return nil, errors.New("postgres: context is required")
	}
	if p.closed.Load() {
		return nil, ErrProviderClosed
	}

	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	if p.closed.Load() {
		return nil, ErrProviderClosed
	}
	if p.pool != nil {
		return p.pool, nil
	}

	pool, err := p.createPool(ctx)
	if err != nil {
		return nil, err
	}
	p.pool = pool
	return pool, nil
}

func (p *Provider) createPool(ctx context.Context) (*pgxpool.Pool, error) {
	url := strings.TrimSpace(p.cfg.URL)
	if url == "" {
		return nil, errors.New("postgres: database url is required")
	}

	poolCfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse database url: %w", err)
	}
	if p.cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(p.cfg.MaxConns)
	}
	if p.cfg.MinConns > 0 {
		poolCfg.MinConns = int32(p.cfg.MinConns)
	}
	timeout := p.cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	poolCfg.ConnConfig.ConnectTimeout = timeout
	for _, fn := range p.configure {
		fn(poolCfg)
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(dialCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	return pool, nil
}

// Ping checks connectivity; used by readiness probes.
func (p *Provider) Ping(ctx context.Context) error {
	pool, err := p.Pool(ctx)
	if err != nil {
		return err
	}
	return WrapError("ping", pool.Ping(ctx))
}

// Close releases the pool. The Provider cannot be reused afterwards.
func (p *Provider) Close(ctx context.Context) error {
	if p == nil || p.closed.Swap(true) {
		return nil
	}
	p.stateMu.Lock()
	pool := p.pool
	p.pool = nil
	p.stateMu.Unlock()
	if pool == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// RunInTx runs fn inside a transaction configured from the provider settings.
func (p *Provider) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	pool, err := p.Pool(ctx)
	if err != nil {
		return err
	}
	return RunTransaction(ctx, pool, func(ctx context.Context, _ pgx.Tx) error {
		return fn(ctx)
	}, WithTxAttempts(p.cfg.TxAttempts), WithTxTimeout(p.cfg.TxTimeout))
}
