package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	pgplatform "github.com/shopsite/fulfillment/internal/platform/postgres"
)

const defaultPurgeBatch = 100

// PostgresStore keeps entries in the idempotency_key table.
type PostgresStore struct {
	provider *pgplatform.Provider
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(provider *pgplatform.Provider) (*PostgresStore, error) {
	if provider == nil {
		return nil, errors.New("idempotency: postgres provider is required")
	}
	return &PostgresStore{provider: provider}, nil
}

// Claim inserts the key, or takes over an expired row. When the row is live the
// conflicting upsert leaves it locked, so the follow-up read sees a stable entry.
func (s *PostgresStore) Claim(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Claim, error) {
	now = now.UTC()
	id := entryID(key)
	fresh := Entry{
		Key:         key,
		Fingerprint: fingerprint,
		Phase:       PhaseInFlight,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(normalizeTTL(ttl)),
	}

	pool, err := s.provider.Pool(ctx)
	if err != nil {
		return Claim{}, err
	}

	var claim Claim
	err = pgplatform.RunTransaction(ctx, pool, func(ctx context.Context, tx pgx.Tx) error {
		var returned string
		err := tx.QueryRow(ctx, `
			INSERT INTO idempotency_key (id, scoped_key, fingerprint, phase, created_at, updated_at, expires_at)
			VALUES ($1, $2, $3, $4, $5, $5, $6)
			ON CONFLICT (id) DO UPDATE SET
				scoped_key = EXCLUDED.scoped_key,
				fingerprint = EXCLUDED.fingerprint,
				phase = EXCLUDED.phase,
				reply_status = 0,
				reply_headers = NULL,
				reply_body = NULL,
				created_at = EXCLUDED.created_at,
				updated_at = EXCLUDED.updated_at,
				expires_at = EXCLUDED.expires_at
			WHERE idempotency_key.expires_at <= $5
			RETURNING id`,
			id, key, fingerprint, string(PhaseInFlight), now, fresh.ExpiresAt).Scan(&returned)
		if err == nil {
			claim = Claim{Outcome: OutcomeAcquired, Entry: fresh}
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return pgplatform.WrapError("idempotency.claim", err)
		}

		entry, err := loadEntry(ctx, tx, id)
		if err != nil {
			return err
		}
		if entry.Fingerprint != fingerprint {
			return ErrFingerprintMismatch
		}
		claim = Claim{Outcome: entry.outcome(), Entry: entry}
		return nil
	})
	if err != nil {
		return Claim{}, err
	}
	return claim, nil
}

// Settle records the reply. A live row held by another fingerprint is left untouched.
func (s *PostgresStore) Settle(ctx context.Context, key, fingerprint string, reply Reply, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	header, err := json.Marshal(replayableHeader(reply.Header))
	if err != nil {
		return fmt.Errorf("idempotency: encode reply header: %w", err)
	}
	pool, err := s.provider.Pool(ctx)
	if err != nil {
		return err
	}

	tag, err := pgplatform.Conn(ctx, pool).Exec(ctx, `
		INSERT INTO idempotency_key (id, scoped_key, fingerprint, phase, reply_status, reply_headers, reply_body, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			phase = EXCLUDED.phase,
			reply_status = EXCLUDED.reply_status,
			reply_headers = EXCLUDED.reply_headers,
			reply_body = EXCLUDED.reply_body,
			updated_at = EXCLUDED.updated_at,
			expires_at = EXCLUDED.expires_at
		WHERE idempotency_key.fingerprint = EXCLUDED.fingerprint`,
		entryID(key), key, fingerprint, string(PhaseSettled), reply.Status, header, reply.Body, now, now.Add(normalizeTTL(ttl)))
	if err != nil {
		return pgplatform.WrapError("idempotency.settle", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFingerprintMismatch
	}
	return nil
}

func (s *PostgresStore) Abandon(ctx context.Context, key, fingerprint string) error {
	pool, err := s.provider.Pool(ctx)
	if err != nil {
		return err
	}
	_, err = pgplatform.Conn(ctx, pool).Exec(ctx,
		`DELETE FROM idempotency_key WHERE id = $1 AND fingerprint = $2`, entryID(key), fingerprint)
	return pgplatform.WrapError("idempotency.abandon", err)
}

// Purge deletes the oldest expired rows first.
func (s *PostgresStore) Purge(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultPurgeBatch
	}
	pool, err := s.provider.Pool(ctx)
	if err != nil {
		return 0, err
	}
	tag, err := pool.Exec(ctx, `
		DELETE FROM idempotency_key WHERE id IN (
			SELECT id FROM idempotency_key WHERE expires_at <= $1 ORDER BY expires_at LIMIT $2
		)`, now.UTC(), limit)
	if err != nil {
		return 0, pgplatform.WrapError("idempotency.purge", err)
	}
	return int(tag.RowsAffected()), nil
}

func loadEntry(ctx context.Context, q pgplatform.Querier, id string) (Entry, error) {
	var (
		entry  Entry
		phase  string
		header []byte
	)
	err := q.QueryRow(ctx, `
		SELECT scoped_key, fingerprint, phase, reply_status, reply_headers, reply_body, created_at, updated_at, expires_at
		FROM idempotency_key WHERE id = $1`, id).Scan(
		&entry.Key, &entry.Fingerprint, &phase, &entry.Reply.Status,
		&header, &entry.Reply.Body, &entry.CreatedAt, &entry.UpdatedAt, &entry.ExpiresAt,
	)
	if err != nil {
		return Entry{}, pgplatform.WrapError("idempotency.load", err)
	}
	entry.Phase = Phase(phase)
	entry.CreatedAt = entry.CreatedAt.UTC()
	entry.UpdatedAt = entry.UpdatedAt.UTC()
	entry.ExpiresAt = entry.ExpiresAt.UTC()
	if len(header) > 0 && string(header) != "null" {
		if err := json.Unmarshal(header, &entry.Reply.Header); err != nil {
			return Entry{}, fmt.Errorf("idempotency: decode reply header: %w", err)
		}
	}
	return entry, nil
}
