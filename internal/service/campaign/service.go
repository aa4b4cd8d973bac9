package campaign

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/mailroom-io/mailroom/internal/engine"
	"github.com/mailroom-io/mailroom/internal/model"
	"github.com/mailroom-io/mailroom/internal/repository"
)

// CampaignServicer is the campaign and run surface the HTTP layer uses.
type CampaignServicer interface {
	Trigger(ctx context.Context, campaignID uuid.UUID, manualOverride bool) (*model.Run, error)
	GetRun(ctx context.Context, runID uuid.UUID) (*model.Run, error)
	ListRecipients(ctx context.Context, runID uuid.UUID) ([]*model.Recipient, error)
	PauseRun(ctx context.Context, runID uuid.UUID) (*model.Run, error)
	ResumeRun(ctx context.Context, runID uuid.UUID) (*model.Run, error)
}

// Pauser broadcasts a pause request to the worker executing the run.
type Pauser interface {
	Pause(ctx context.Context, runID uuid.UUID) error
}

type Service struct {
	orchestrator *engine.Orchestrator
	runs         repository.RunRepository
	recipients   repository.RecipientRepository
	pauser       Pauser
}

func NewService(
	orchestrator *engine.Orchestrator,
	runs repository.RunRepository,
	recipients repository.RecipientRepository,
	pauser Pauser,
) *Service {
	return &Service{
		orchestrator: orchestrator,
		runs:         runs,
		recipients:   recipients,
		pauser:       pauser,
	}
}

// Trigger queues a run; execution happens on a worker.
func (s *Service) Trigger(ctx context.Context, campaignID uuid.UUID, manualOverride bool) (*model.Run, error) {
	return s.orchestrator.Trigger(ctx, campaignID, manualOverride)
}

func (s *Service) GetRun(ctx context.Context, runID uuid.UUID) (*model.Run, error) {
	return s.runs.Get(ctx, runID)
}

func (s *Service) ListRecipients(ctx context.Context, runID uuid.UUID) ([]*model.Recipient, error) {
	if _, err := s.runs.Get(ctx, runID); err != nil {
		return nil, err
	}
	return s.recipients.List(ctx, runID)
}

// PauseRun asks the worker executing the run to stop dispatch after its
// in-flight sends finish. The status flips to PAUSED once the worker
// has drained, so callers poll the run to observe the change.
func (s *Service) PauseRun(ctx context.Context, runID uuid.UUID) (*model.Run, error) {
	run, err := s.runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != model.RunStatusDispatching {
		return nil, fmt.Errorf("%w: run %s is %s", engine.ErrInvalidState, runID, run.Status)
	}
	if err := s.pauser.Pause(ctx, runID); err != nil {
		return nil, err
	}
	return run, nil
}

func (s *Service) ResumeRun(ctx context.Context, runID uuid.UUID) (*model.Run, error) {
	return s.orchestrator.Resume(ctx, runID)
}
