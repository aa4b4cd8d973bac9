package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mailroom-io/mailroom/internal/model"
	"github.com/mailroom-io/mailroom/internal/repository"
)

type sendRepository struct {
	BaseRepository
}

func NewSendRepository(base BaseRepository) repository.SendRepository {
	return &sendRepository{base}
}

func (r *sendRepository) Create(ctx context.Context, send *model.Send) error {
	if send.ID == uuid.Nil {
		send.ID = uuid.New()
	}
	now := time.Now().UTC()
	send.CreatedAt = now
	send.UpdatedAt = now

	query := `
		INSERT INTO sends (
			id, recipient_id, status, provider_message_id, last_error, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		send.ID, send.RecipientID, send.Status,
		send.ProviderMessageID, send.LastError,
		send.CreatedAt, send.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create send: %w", err)
	}
	return nil
}

func (r *sendRepository) GetByProviderMessageID(ctx context.Context, providerMessageID string) (*model.Send, error) {
	query := `
		SELECT id, recipient_id, status, provider_message_id, last_error, created_at, updated_at
		FROM sends
		WHERE provider_message_id = $1
	`
	var send model.Send
	if err := r.db.GetContext(ctx, &send, query, providerMessageID); err != nil {
		if err == sql.ErrNoRows {
			// Webhooks routinely reference messages we never recorded;
			// the caller treats a nil send as a no-op.
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get send: %w", err)
	}
	return &send, nil
}

func (r *sendRepository) ListByRecipient(ctx context.Context, recipientID uuid.UUID) ([]*model.Send, error) {
	query := `
		SELECT id, recipient_id, status, provider_message_id, last_error, created_at, updated_at
		FROM sends
		WHERE recipient_id = $1
		ORDER BY created_at ASC
	`
	var sends []*model.Send
	if err := r.db.SelectContext(ctx, &sends, query, recipientID); err != nil {
		return nil, fmt.Errorf("failed to list sends: %w", err)
	}
	return sends, nil
}

// UpdateStatus applies a delivery event. The SENT guard keeps terminal
// rows immutable when events arrive out of order or twice.
func (r *sendRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.SendStatus) error {
	query := `
		UPDATE sends
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'SENT'
	`
	res, err := r.db.ExecContext(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to update send status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("send %s not found or already terminal", id)
	}
	return nil
}
