package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mailroom-io/mailroom/internal/model"
	"github.com/mailroom-io/mailroom/internal/repository"
)

type recipientRepository struct {
	BaseRepository
}

func NewRecipientRepository(base BaseRepository) repository.RecipientRepository {
	return &recipientRepository{base}
}

// BulkInsert writes the audience snapshot in a single transaction so a
// failed build never leaves a partial recipient set behind.
func (r *recipientRepository) BulkInsert(ctx context.Context, recipients []*model.Recipient) error {
	if len(recipients) == 0 {
		return nil
	}
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		query := `
			INSERT INTO recipients (
				id, run_id, subject_id, email, vars, status, created_at, updated_at
			) VALUES (:id, :run_id, :subject_id, :email, :vars, :status, :created_at, :updated_at)
		`
		now := time.Now().UTC()
		for _, rec := range recipients {
			if rec.ID == uuid.Nil {
				rec.ID = uuid.New()
			}
			rec.CreatedAt = now
			rec.UpdatedAt = now
			if _, err := tx.NamedExecContext(ctx, query, rec); err != nil {
				return fmt.Errorf("failed to insert recipient %s: %w", rec.SubjectID, err)
			}
		}
		return nil
	})
}

func (r *recipientRepository) Get(ctx context.Context, id uuid.UUID) (*model.Recipient, error) {
	query := `
		SELECT id, run_id, subject_id, email, vars, status, skip_reason, last_error, created_at, updated_at
		FROM recipients
		WHERE id = $1
	`
	var rec model.Recipient
	if err := r.db.GetContext(ctx, &rec, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("recipient %s not found", id)
		}
		return nil, fmt.Errorf("failed to get recipient: %w", err)
	}
	return &rec, nil
}

func (r *recipientRepository) ListPending(ctx context.Context, runID uuid.UUID) ([]*model.Recipient, error) {
	query := `
		SELECT id, run_id, subject_id, email, vars, status, skip_reason, last_error, created_at, updated_at
		FROM recipients
		WHERE run_id = $1 AND status IN ('PENDING', 'QUEUED')
		ORDER BY subject_id ASC
	`
	var recipients []*model.Recipient
	if err := r.db.SelectContext(ctx, &recipients, query, runID); err != nil {
		return nil, fmt.Errorf("failed to list pending recipients: %w", err)
	}
	return recipients, nil
}

func (r *recipientRepository) List(ctx context.Context, runID uuid.UUID) ([]*model.Recipient, error) {
	query := `
		SELECT id, run_id, subject_id, email, vars, status, skip_reason, last_error, created_at, updated_at
		FROM recipients
		WHERE run_id = $1
		ORDER BY subject_id ASC
	`
	var recipients []*model.Recipient
	if err := r.db.SelectContext(ctx, &recipients, query, runID); err != nil {
		return nil, fmt.Errorf("failed to list recipients: %w", err)
	}
	return recipients, nil
}

// MarkTerminal guards against double-dispatch: the WHERE clause refuses to
// move a recipient that already left PENDING/QUEUED.
func (r *recipientRepository) MarkTerminal(ctx context.Context, id uuid.UUID, status model.RecipientStatus, reason *string) error {
	if !status.Terminal() {
		return fmt.Errorf("status %s is not terminal", status)
	}
	query := `
		UPDATE recipients
		SET status = $2,
		    skip_reason = CASE WHEN $2 = 'SKIPPED' THEN $3 ELSE skip_reason END,
		    last_error = CASE WHEN $2 = 'FAILED' THEN $3 ELSE last_error END,
		    updated_at = NOW()
		WHERE id = $1 AND status IN ('PENDING', 'QUEUED')
	`
	res, err := r.db.ExecContext(ctx, query, id, status, reason)
	if err != nil {
		return fmt.Errorf("failed to mark recipient terminal: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("recipient %s already terminal", id)
	}
	return nil
}

func (r *recipientRepository) MarkQueued(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE recipients
		SET status = 'QUEUED', updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'
	`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to queue recipient: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("recipient %s not pending", id)
	}
	return nil
}

func (r *recipientRepository) FailPending(ctx context.Context, runID uuid.UUID, reason string) (int64, error) {
	query := `
		UPDATE recipients
		SET status = 'FAILED', last_error = $2, updated_at = NOW()
		WHERE run_id = $1 AND status IN ('PENDING', 'QUEUED')
	`
	res, err := r.db.ExecContext(ctx, query, runID, reason)
	if err != nil {
		return 0, fmt.Errorf("failed to fail pending recipients: %w", err)
	}
	return res.RowsAffected()
}

func (r *recipientRepository) CountByStatus(ctx context.Context, runID uuid.UUID) (map[model.RecipientStatus]int, error) {
	query := `
		SELECT status, COUNT(*) AS n
		FROM recipients
		WHERE run_id = $1
		GROUP BY status
	`
	rows, err := r.db.QueryxContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to count recipients: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.RecipientStatus]int)
	for rows.Next() {
		var status model.RecipientStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
