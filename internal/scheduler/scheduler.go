// Package scheduler turns CRON-scheduled campaigns into queued runs.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/mailroom-io/mailroom/internal/model"
	"github.com/mailroom-io/mailroom/internal/repository"
	"github.com/mailroom-io/mailroom/pkg/logger"
)

// Triggerer is the slice of the orchestrator the scheduler needs to
// queue a run when an entry fires.
type Triggerer interface {
	Trigger(ctx context.Context, campaignID uuid.UUID, manualOverride bool) (*model.Run, error)
}

// refreshInterval is how often campaign schedules are reloaded from the
// repository so edits take effect without a restart.
const refreshInterval = time.Minute

// Scheduler keeps a cron entry per ACTIVE campaign with a CRON schedule
// and triggers a run when the entry fires. A campaign with a run still
// in flight is skipped until that run finishes.
type Scheduler struct {
	campaigns    repository.CampaignRepository
	runs         repository.RunRepository
	orchestrator Triggerer
	logger       *logger.Logger

	cron *cron.Cron

	mu      sync.Mutex
	entries map[uuid.UUID]scheduledEntry
}

type scheduledEntry struct {
	id   cron.EntryID
	expr string
}

func New(
	campaigns repository.CampaignRepository,
	runs repository.RunRepository,
	orchestrator Triggerer,
	log *logger.Logger,
) *Scheduler {
	return &Scheduler{
		campaigns:    campaigns,
		runs:         runs,
		orchestrator: orchestrator,
		logger:       log.WithComponent("scheduler"),
		cron:         cron.New(cron.WithLocation(time.UTC)),
		entries:      make(map[uuid.UUID]scheduledEntry),
	}
}

// Run loads schedules, starts the cron loop, and refreshes entries until
// the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.refresh(ctx); err != nil {
		return err
	}
	s.cron.Start()
	defer s.cron.Stop()

	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.refresh(ctx); err != nil {
				s.logger.Error(err, "failed to refresh campaign schedules")
			}
		}
	}
}

// refresh reconciles cron entries against the current set of scheduled
// campaigns: new ones are added, edited expressions replaced, and
// campaigns no longer ACTIVE removed.
func (s *Scheduler) refresh(ctx context.Context) error {
	campaigns, err := s.campaigns.ListScheduled(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[uuid.UUID]bool, len(campaigns))
	for _, c := range campaigns {
		seen[c.ID] = true
		if entry, ok := s.entries[c.ID]; ok {
			if entry.expr == c.CronExpr {
				continue
			}
			s.cron.Remove(entry.id)
			delete(s.entries, c.ID)
		}
		campaignID := c.ID
		id, err := s.cron.AddFunc(c.CronExpr, func() { s.fire(campaignID) })
		if err != nil {
			s.logger.Warn("skipping campaign with bad cron expression",
				"campaign_id", c.ID.String(), "cron_expr", c.CronExpr, "error", err.Error())
			continue
		}
		s.entries[c.ID] = scheduledEntry{id: id, expr: c.CronExpr}
	}

	for campaignID, entry := range s.entries {
		if !seen[campaignID] {
			s.cron.Remove(entry.id)
			delete(s.entries, campaignID)
		}
	}
	return nil
}

func (s *Scheduler) fire(campaignID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	active, err := s.runs.ListActiveByCampaign(ctx, campaignID)
	if err != nil {
		s.logger.Error(err, "failed to check active runs", "campaign_id", campaignID.String())
		return
	}
	if len(active) > 0 {
		s.logger.Info("skipping scheduled trigger, run in flight",
			"campaign_id", campaignID.String(), "run_id", active[0].ID.String())
		return
	}

	run, err := s.orchestrator.Trigger(ctx, campaignID, false)
	if err != nil {
		s.logger.Error(err, "scheduled trigger failed", "campaign_id", campaignID.String())
		return
	}
	s.logger.Info("scheduled run queued",
		"campaign_id", campaignID.String(), "run_id", run.ID.String())
}

// Validate reports whether a cron expression parses with the standard
// 5-field format.
func Validate(expr string) error {
	_, err := cron.ParseStandard(expr)
	return err
}
