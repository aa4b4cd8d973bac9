package scheduler

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailroom-io/mailroom/internal/model"
	"github.com/mailroom-io/mailroom/internal/repository/memory"
	"github.com/mailroom-io/mailroom/pkg/logger"
)

type stubTriggerer struct {
	mu        sync.Mutex
	triggered []uuid.UUID
}

func (s *stubTriggerer) Trigger(_ context.Context, campaignID uuid.UUID, _ bool) (*model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggered = append(s.triggered, campaignID)
	return &model.Run{ID: uuid.New(), CampaignID: campaignID, Status: model.RunStatusQueued}, nil
}

func (s *stubTriggerer) calls() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uuid.UUID(nil), s.triggered...)
}

func newTestScheduler(t *testing.T) (*Scheduler, *memory.Store, *stubTriggerer) {
	t.Helper()
	store := memory.NewStore()
	trig := &stubTriggerer{}
	log := logger.New(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
	s := New(memory.NewCampaignRepo(store), memory.NewRunRepo(store), trig, log)
	return s, store, trig
}

func putCampaign(store *memory.Store, status model.CampaignStatus, schedule model.ScheduleType, expr string) *model.Campaign {
	c := &model.Campaign{
		ID:           uuid.New(),
		WorkspaceID:  uuid.New(),
		Name:         "campaign",
		Status:       status,
		ScheduleType: schedule,
		CronExpr:     expr,
	}
	store.PutCampaign(c)
	return c
}

func TestRefreshRegistersOnlyActiveCronCampaigns(t *testing.T) {
	s, store, _ := newTestScheduler(t)
	ctx := context.Background()

	active := putCampaign(store, model.CampaignStatusActive, model.ScheduleCron, "0 9 * * *")
	putCampaign(store, model.CampaignStatusPaused, model.ScheduleCron, "0 9 * * *")
	putCampaign(store, model.CampaignStatusDraft, model.ScheduleCron, "0 9 * * *")
	putCampaign(store, model.CampaignStatusActive, model.ScheduleManual, "")

	require.NoError(t, s.refresh(ctx))

	assert.Len(t, s.entries, 1)
	assert.Contains(t, s.entries, active.ID)
}

func TestRefreshSkipsBadCronExpression(t *testing.T) {
	s, store, _ := newTestScheduler(t)
	ctx := context.Background()

	putCampaign(store, model.CampaignStatusActive, model.ScheduleCron, "not a schedule")
	ok := putCampaign(store, model.CampaignStatusActive, model.ScheduleCron, "*/5 * * * *")

	require.NoError(t, s.refresh(ctx))

	assert.Len(t, s.entries, 1)
	assert.Contains(t, s.entries, ok.ID)
}

func TestRefreshReplacesEditedExpression(t *testing.T) {
	s, store, _ := newTestScheduler(t)
	ctx := context.Background()

	c := putCampaign(store, model.CampaignStatusActive, model.ScheduleCron, "0 9 * * *")
	require.NoError(t, s.refresh(ctx))
	first := s.entries[c.ID]

	c.CronExpr = "0 18 * * *"
	store.PutCampaign(c)
	require.NoError(t, s.refresh(ctx))

	require.Contains(t, s.entries, c.ID)
	assert.Equal(t, "0 18 * * *", s.entries[c.ID].expr)
	assert.NotEqual(t, first.id, s.entries[c.ID].id)
}

func TestRefreshRemovesDeactivatedCampaign(t *testing.T) {
	s, store, _ := newTestScheduler(t)
	ctx := context.Background()

	c := putCampaign(store, model.CampaignStatusActive, model.ScheduleCron, "0 9 * * *")
	require.NoError(t, s.refresh(ctx))
	require.Contains(t, s.entries, c.ID)

	c.Status = model.CampaignStatusPaused
	store.PutCampaign(c)
	require.NoError(t, s.refresh(ctx))

	assert.Empty(t, s.entries)
}

func TestFireTriggersRun(t *testing.T) {
	s, store, trig := newTestScheduler(t)

	c := putCampaign(store, model.CampaignStatusActive, model.ScheduleCron, "0 9 * * *")
	s.fire(c.ID)

	calls := trig.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, c.ID, calls[0])
}

func TestFireSkipsWhenRunInFlight(t *testing.T) {
	s, store, trig := newTestScheduler(t)
	ctx := context.Background()

	c := putCampaign(store, model.CampaignStatusActive, model.ScheduleCron, "0 9 * * *")
	runs := memory.NewRunRepo(store)
	require.NoError(t, runs.Create(ctx, &model.Run{
		ID:         uuid.New(),
		CampaignID: c.ID,
		Status:     model.RunStatusDispatching,
	}))

	s.fire(c.ID)

	assert.Empty(t, trig.calls())
}

func TestFireAfterRunFinishes(t *testing.T) {
	s, store, trig := newTestScheduler(t)
	ctx := context.Background()

	c := putCampaign(store, model.CampaignStatusActive, model.ScheduleCron, "0 9 * * *")
	runs := memory.NewRunRepo(store)
	run := &model.Run{ID: uuid.New(), CampaignID: c.ID, Status: model.RunStatusCompleted}
	require.NoError(t, runs.Create(ctx, run))

	s.fire(c.ID)

	require.Len(t, trig.calls(), 1)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("*/5 * * * *"))
	assert.NoError(t, Validate("0 9 * * MON"))
	assert.Error(t, Validate("every day at nine"))
	assert.Error(t, Validate("* * * *"))
}
