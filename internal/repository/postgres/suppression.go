package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/mailroom-io/mailroom/internal/model"
	"github.com/mailroom-io/mailroom/internal/repository"
)

type suppressionRepository struct {
	BaseRepository
}

func NewSuppressionRepository(base BaseRepository) repository.SuppressionRepository {
	return &suppressionRepository{base}
}

func (r *suppressionRepository) Get(ctx context.Context, workspaceID uuid.UUID, email string) (*model.Suppression, error) {
	query := `
		SELECT id, workspace_id, email, reason, created_at, updated_at
		FROM suppressions
		WHERE workspace_id = $1 AND email = $2
	`
	var s model.Suppression
	err := r.db.GetContext(ctx, &s, query, workspaceID, model.NormalizeEmail(email))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get suppression: %w", err)
	}
	return &s, nil
}

// Upsert overwrites the reason for an existing entry; last reason wins.
func (r *suppressionRepository) Upsert(ctx context.Context, s *model.Suppression) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.Email = model.NormalizeEmail(s.Email)
	query := `
		INSERT INTO suppressions (id, workspace_id, email, reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (workspace_id, email)
		DO UPDATE SET reason = EXCLUDED.reason, updated_at = NOW()
	`
	if _, err := r.db.ExecContext(ctx, query, s.ID, s.WorkspaceID, s.Email, s.Reason); err != nil {
		return fmt.Errorf("failed to upsert suppression: %w", err)
	}
	return nil
}

func (r *suppressionRepository) List(ctx context.Context, workspaceID uuid.UUID) ([]*model.Suppression, error) {
	query := `
		SELECT id, workspace_id, email, reason, created_at, updated_at
		FROM suppressions
		WHERE workspace_id = $1
		ORDER BY email ASC
	`
	var suppressions []*model.Suppression
	if err := r.db.SelectContext(ctx, &suppressions, query, workspaceID); err != nil {
		return nil, fmt.Errorf("failed to list suppressions: %w", err)
	}
	return suppressions, nil
}
