package idempotency

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// SweepOptions tunes Sweep.
type SweepOptions struct {
	Interval  time.Duration
	BatchSize int
	Clock     func() time.Time
	Logger    *zap.Logger
}

func (o SweepOptions) withDefaults() SweepOptions {
	if o.Interval <= 0 {
		o.Interval = time.Hour
	}
	if o.BatchSize <= 0 {
		o.BatchSize = defaultPurgeBatch
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Sweep purges expired entries on every tick until ctx is done.
func Sweep(ctx context.Context, store Store, opts SweepOptions) {
	if store == nil {
		return
	}
	opts = opts.withDefaults()

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		removed, err := PurgeExpired(ctx, store, opts.Clock().UTC(), opts.BatchSize)
		switch {
		case err != nil:
			opts.Logger.Warn("idempotency sweep failed", zap.Error(err), zap.Int("removed", removed))
		case removed > 0:
			opts.Logger.Info("idempotency sweep completed", zap.Int("removed", removed))
		}
	}
}

// PurgeExpired calls Store.Purge until a batch comes back short.
func PurgeExpired(ctx context.Context, store Store, now time.Time, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = defaultPurgeBatch
	}
	total := 0
	for ctx.Err() == nil {
		removed, err := store.Purge(ctx, now, batchSize)
		total += removed
		if err != nil || removed < batchSize {
			return total, err
		}
	}
	return total, nil
}
