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

type runRepository struct {
	BaseRepository
}

func NewRunRepository(base BaseRepository) repository.RunRepository {
	return &runRepository{base}
}

func (r *runRepository) Create(ctx context.Context, run *model.Run) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO runs (
			id, campaign_id, status,
			stat_queued, stat_sent, stat_skipped, stat_failed,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		run.ID, run.CampaignID, run.Status,
		run.Stats.Queued, run.Stats.Sent, run.Stats.Skipped, run.Stats.Failed,
		run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

func (r *runRepository) Get(ctx context.Context, id uuid.UUID) (*model.Run, error) {
	query := `
		SELECT id, campaign_id, status,
		       stat_queued, stat_sent, stat_skipped, stat_failed,
		       error, created_at, started_at, finished_at
		FROM runs
		WHERE id = $1
	`
	row := r.db.QueryRowxContext(ctx, query, id)
	run, err := scanRun(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("run %s not found", id)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

func (r *runRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.RunStatus, runErr *string) error {
	query := `
		UPDATE runs
		SET status = $2,
		    error = $3,
		    started_at = CASE WHEN $2 = 'BUILDING_AUDIENCE' THEN NOW() ELSE started_at END,
		    finished_at = CASE WHEN $2 IN ('COMPLETED', 'FAILED') THEN NOW() ELSE finished_at END
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id, status, runErr)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not found", id)
	}
	return nil
}

func (r *runRepository) UpdateStats(ctx context.Context, id uuid.UUID, stats model.RunStats) error {
	query := `
		UPDATE runs
		SET stat_queued = $2, stat_sent = $3, stat_skipped = $4, stat_failed = $5
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id, stats.Queued, stats.Sent, stats.Skipped, stats.Failed)
	if err != nil {
		return fmt.Errorf("failed to update run stats: %w", err)
	}
	return nil
}

// ClaimQueued moves up to limit QUEUED runs to BUILDING_AUDIENCE under a
// row lock so concurrent workers never pick up the same run.
func (r *runRepository) ClaimQueued(ctx context.Context, limit int) ([]*model.Run, error) {
	var claimed []*model.Run
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		query := `
			SELECT id, campaign_id, status,
			       stat_queued, stat_sent, stat_skipped, stat_failed,
			       error, created_at, started_at, finished_at
			FROM runs
			WHERE status = 'QUEUED'
			ORDER BY created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $1
		`
		rows, err := tx.QueryxContext(ctx, query, limit)
		if err != nil {
			return fmt.Errorf("failed to lock queued runs: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			run, err := scanRun(rows)
			if err != nil {
				return err
			}
			claimed = append(claimed, run)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		for _, run := range claimed {
			if _, err := tx.ExecContext(ctx,
				`UPDATE runs SET status = 'BUILDING_AUDIENCE', started_at = NOW() WHERE id = $1`,
				run.ID,
			); err != nil {
				return fmt.Errorf("failed to claim run %s: %w", run.ID, err)
			}
			run.Status = model.RunStatusBuildingAudience
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *runRepository) ListActiveByCampaign(ctx context.Context, campaignID uuid.UUID) ([]*model.Run, error) {
	query := `
		SELECT id, campaign_id, status,
		       stat_queued, stat_sent, stat_skipped, stat_failed,
		       error, created_at, started_at, finished_at
		FROM runs
		WHERE campaign_id = $1 AND status NOT IN ('COMPLETED', 'FAILED')
		ORDER BY created_at ASC
	`
	rows, err := r.db.QueryxContext(ctx, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active runs: %w", err)
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*model.Run, error) {
	var run model.Run
	err := row.Scan(
		&run.ID, &run.CampaignID, &run.Status,
		&run.Stats.Queued, &run.Stats.Sent, &run.Stats.Skipped, &run.Stats.Failed,
		&run.Error, &run.CreatedAt, &run.StartedAt, &run.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	return &run, nil
}
