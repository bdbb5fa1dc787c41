package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	domain "github.com/shopsite/fulfillment/internal/domain"
	pgplatform "github.com/shopsite/fulfillment/internal/platform/postgres"
	"github.com/shopsite/fulfillment/internal/repositories"
)

// MessageRepository stores inbox notifications.
type MessageRepository struct {
	store
}

var _ repositories.MessageRepository = (*MessageRepository)(nil)

func NewMessageRepository(provider *pgplatform.Provider) (*MessageRepository, error) {
	if provider == nil {
		return nil, errors.New("message repository requires postgres provider")
	}
	return &MessageRepository{store: store{provider: provider}}, nil
}

func (r *MessageRepository) Insert(ctx context.Context, message domain.Message) error {
	q, err := r.conn(ctx)
	if err != nil {
		return err
	}
	var related *string
	if message.RelatedOrderID != "" {
		related = &message.RelatedOrderID
	}
	_, err = q.Exec(ctx, `
		INSERT INTO message (id, user_id, content, related_order_id, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		message.ID, message.UserID, message.Content, related, message.IsRead, utc(message.CreatedAt),
	)
	return pgplatform.WrapError("messages.insert", err)
}

func (r *MessageRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	q, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := q.Query(ctx, `
		SELECT id, user_id, content, COALESCE(related_order_id, ''), is_read, created_at
		FROM message WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, pgplatform.WrapError("messages.list", err)
	}
	messages, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Message, error) {
		var message domain.Message
		err := row.Scan(&message.ID, &message.UserID, &message.Content, &message.RelatedOrderID, &message.IsRead, &message.CreatedAt)
		message.CreatedAt = utc(message.CreatedAt)
		return message, err
	})
	return messages, pgplatform.WrapError("messages.list", err)
}
