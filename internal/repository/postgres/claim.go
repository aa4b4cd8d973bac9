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

type claimRepository struct {
	BaseRepository
}

func NewClaimRepository(base BaseRepository) repository.ClaimRepository {
	return &claimRepository{base}
}

// Claim relies on the (group_id, subject_id) primary key: the upsert
// either takes the slot or returns no row. Expired claims and
// uncommitted claims outranked by the candidate are replaced in the same
// statement, so the takeover decision is atomic.
func (r *claimRepository) Claim(ctx context.Context, claim *model.CollisionClaim) (bool, *model.CollisionClaim, error) {
	insert := `
		INSERT INTO collision_claims (
			group_id, subject_id, campaign_id, run_id, priority,
			run_created_at, rank, committed, claimed_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, NOW(), $8)
		ON CONFLICT (group_id, subject_id) DO UPDATE SET
			campaign_id = EXCLUDED.campaign_id,
			run_id = EXCLUDED.run_id,
			priority = EXCLUDED.priority,
			run_created_at = EXCLUDED.run_created_at,
			rank = EXCLUDED.rank,
			committed = FALSE,
			claimed_at = EXCLUDED.claimed_at,
			expires_at = EXCLUDED.expires_at
		WHERE collision_claims.expires_at <= NOW()
		   OR (NOT collision_claims.committed AND EXCLUDED.rank < collision_claims.rank)
		RETURNING claimed_at
	`
	var claimedAt time.Time
	err := r.db.QueryRowContext(ctx, insert,
		claim.GroupID, claim.SubjectID, claim.CampaignID, claim.RunID,
		claim.Priority, claim.RunCreatedAt, claim.Rank, claim.ExpiresAt,
	).Scan(&claimedAt)
	if err == nil {
		claim.ClaimedAt = claimedAt
		return true, claim, nil
	}
	if err != sql.ErrNoRows {
		return false, nil, fmt.Errorf("failed to claim collision slot: %w", err)
	}

	// Lost; read the live claim back.
	query := `
		SELECT group_id, subject_id, campaign_id, run_id, priority,
		       run_created_at, rank, committed, claimed_at, expires_at
		FROM collision_claims
		WHERE group_id = $1 AND subject_id = $2 AND expires_at > NOW()
	`
	var existing model.CollisionClaim
	if err := r.db.GetContext(ctx, &existing, query, claim.GroupID, claim.SubjectID); err != nil {
		if err == sql.ErrNoRows {
			// Expired between statements; transient race the caller retries.
			return false, nil, nil
		}
		return false, nil, fmt.Errorf("failed to read collision claim: %w", err)
	}
	return false, &existing, nil
}

// Commit succeeds only while the run still owns the slot. Re-committing
// an already committed claim of the same run is a no-op success, which
// keeps resume idempotent.
func (r *claimRepository) Commit(ctx context.Context, groupID uuid.UUID, subjectID string, runID uuid.UUID) (bool, error) {
	query := `
		UPDATE collision_claims
		SET committed = TRUE
		WHERE group_id = $1 AND subject_id = $2 AND run_id = $3 AND expires_at > NOW()
	`
	res, err := r.db.ExecContext(ctx, query, groupID, subjectID, runID)
	if err != nil {
		return false, fmt.Errorf("failed to commit collision claim: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *claimRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM collision_claims WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired claims: %w", err)
	}
	return res.RowsAffected()
}
