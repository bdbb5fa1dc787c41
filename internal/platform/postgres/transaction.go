package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/googleapis/gax-go/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	defaultTxAttempts = 5
	defaultTxTimeout  = 15 * time.Second
)

// Querier is the statement surface shared by pools and transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Beginner starts transactions; *pgxpool.Pool satisfies it.
type Beginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// TxFunc is executed within a Postgres transaction.
type TxFunc func(ctx context.Context, tx pgx.Tx) error

// TxOption customises transaction behaviour.
type TxOption func(*txConfig)

type txConfig struct {
	attempts int
	timeout  time.Duration
	backoff  gax.Backoff
	options  pgx.TxOptions
}

// WithTxAttempts overrides the retry attempts for a transaction.
func WithTxAttempts(attempts int) TxOption {
	return func(cfg *txConfig) {
		if attempts > 0 {
			cfg.attempts = attempts
		}
	}
}

// WithTxTimeout bounds the whole transaction, retries included.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(cfg *txConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// WithTxBackoff overrides the pause between retried attempts.
func WithTxBackoff(backoff gax.Backoff) TxOption {
	return func(cfg *txConfig) {
		cfg.backoff = backoff
	}
}

type txKey struct{}

// WithTx returns a context carrying tx. Repositories resolve their Querier from it.
func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFromContext returns the transaction carried by ctx, if any.
func TxFromContext(ctx context.Context) (pgx.Tx, bool) {
	if ctx == nil {
		return nil, false
	}
	tx, ok := ctx.Value(txKey{}).(pgx.Tx)
	return tx, ok && tx != nil
}

// Conn returns the transaction in ctx or falls back to q.
func Conn(ctx context.Context, q Querier) Querier {
	if tx, ok := TxFromContext(ctx); ok {
		return tx
	}
	return q
}

// RunTransaction executes fn within a transaction started from db.
//
// The transaction is detached from the caller's cancellation and bounded by its own timeout, so a
// client disconnect cannot abort a half-applied unit of work. Serialization failures and deadlocks
// re-run fn from the start. When ctx already carries a transaction fn joins it instead.
func RunTransaction(ctx context.Context, db Beginner, fn TxFunc, opts ...TxOption) error {
	if db == nil {
		return WrapError("transaction", errors.New("postgres: pool is nil"))
	}
	if fn == nil {
		return WrapError("transaction", errors.New("postgres: transaction function is nil"))
	}
	if tx, ok := TxFromContext(ctx); ok {
		return fn(ctx, tx)
	}

	cfg := txConfig{
		attempts: defaultTxAttempts,
		timeout:  defaultTxTimeout,
		backoff:  gax.Backoff{Initial: 20 * time.Millisecond, Max: time.Second, Multiplier: 2},
		options:  pgx.TxOptions{IsoLevel: pgx.ReadCommitted},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	txnCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.timeout)
	defer cancel()

	backoff := cfg.backoff
	for attempt := 1; ; attempt++ {
		err := runOnce(txnCtx, db, fn, cfg.options)
		if err == nil {
			return nil
		}
		if attempt >= cfg.attempts || !IsRetryable(err) {
			return err
		}
		if sleepErr := gax.Sleep(txnCtx, backoff.Pause()); sleepErr != nil {
			return WrapError("transaction", err)
		}
	}
}

func runOnce(ctx context.Context, db Beginner, fn TxFunc, options pgx.TxOptions) (err error) {
	tx, err := db.BeginTx(ctx, options)
	if err != nil {
		return WrapError("transaction.begin", err)
	}
	defer func() {
		if err != nil {
			// Rollback on a fresh context so a timed-out transaction is still released.
			rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = tx.Rollback(rbCtx)
		}
	}()

	if err = fn(WithTx(ctx, tx), tx); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return &Error{op: "transaction.commit", err: err, unavailable: true, conflict: IsRetryable(err)}
	}
	return nil
}
