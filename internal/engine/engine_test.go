package engine

import (
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/mailroom-io/mailroom/internal/model"
	"github.com/mailroom-io/mailroom/internal/ratelimit"
	"github.com/mailroom-io/mailroom/internal/render"
	"github.com/mailroom-io/mailroom/internal/repository/memory"
	"github.com/mailroom-io/mailroom/internal/source"
	"github.com/mailroom-io/mailroom/internal/suppression"
	"github.com/mailroom-io/mailroom/internal/transport"
	"github.com/mailroom-io/mailroom/pkg/logger"
	"github.com/mailroom-io/mailroom/pkg/metrics"
)

// testEnv assembles the engine over in-memory repositories, a fake
// audience source, and a scripted transport.
type testEnv struct {
	store        *memory.Store
	campaigns    *memory.CampaignRepo
	runs         *memory.RunRepo
	recipients   *memory.RecipientRepo
	sends        *memory.SendRepo
	suppressions *memory.SuppressionRepo
	claims       *memory.ClaimRepo

	source    *source.FakeSource
	transport *transport.FakeTransport
	renderer  *render.SubstitutionRenderer
	resolver  *Resolver

	dispatcher   *Dispatcher
	orchestrator *Orchestrator

	workspaceID uuid.UUID
	templateID  uuid.UUID
	segmentID   uuid.UUID
	profileID   uuid.UUID
}

func newTestEnv(t *testing.T, rows []source.Row, cfg Config) *testEnv {
	t.Helper()

	store := memory.NewStore()
	env := &testEnv{
		store:        store,
		campaigns:    memory.NewCampaignRepo(store),
		runs:         memory.NewRunRepo(store),
		recipients:   memory.NewRecipientRepo(store),
		sends:        memory.NewSendRepo(store),
		suppressions: memory.NewSuppressionRepo(store),
		claims:       memory.NewClaimRepo(store),
		source:       &source.FakeSource{RowSet: rows},
		transport:    transport.NewFakeTransport(),
		renderer:     render.NewSubstitutionRenderer(),
		workspaceID:  uuid.New(),
		templateID:   uuid.New(),
		segmentID:    uuid.New(),
		profileID:    uuid.New(),
	}

	env.renderer.Register(env.templateID, render.Template{
		Subject: "Welcome",
		HTML:    "<p>Hello</p>",
	})
	store.PutSegment(&model.Segment{
		ID:          env.segmentID,
		WorkspaceID: env.workspaceID,
		Name:        "everyone",
		Query:       "SELECT subject_id, email FROM customers",
	})
	store.PutSenderProfile(&model.SenderProfile{
		ID:                 env.profileID,
		WorkspaceID:        env.workspaceID,
		FromName:           "Mailroom",
		FromEmail:          "noreply@mailroom.test",
		RateLimitPerSecond: 1000,
	})

	log := logger.New(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
	m := metrics.NewUnregistered("test")

	env.resolver = NewResolver(env.claims, log, m)
	index := suppression.NewIndex(env.suppressions, 0)
	env.dispatcher = NewDispatcher(
		env.recipients, env.sends, index, env.resolver, env.renderer,
		env.transport, cfg.Retry, log, m,
	)
	builder := NewAudienceBuilder(env.source, env.recipients, log, m)
	env.orchestrator = NewOrchestrator(
		env.campaigns, env.runs, env.recipients, builder, env.dispatcher,
		ratelimit.NewLocalRegistry(0), cfg, log, m,
	)
	return env
}

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: 1, MaxDelay: 2}
}

func (e *testEnv) addCampaign(t *testing.T, priority int, groupID *uuid.UUID) *model.Campaign {
	t.Helper()
	c := &model.Campaign{
		ID:              uuid.New(),
		WorkspaceID:     e.workspaceID,
		GroupID:         groupID,
		Name:            "campaign",
		TemplateID:      e.templateID,
		SegmentID:       e.segmentID,
		SenderProfileID: e.profileID,
		Priority:        priority,
		Status:          model.CampaignStatusActive,
		ScheduleType:    model.ScheduleManual,
	}
	e.store.PutCampaign(c)
	return c
}

func (e *testEnv) addGroup(t *testing.T, policy model.CollisionPolicy) *model.CampaignGroup {
	t.Helper()
	g := &model.CampaignGroup{
		ID:                     uuid.New(),
		WorkspaceID:            e.workspaceID,
		Name:                   "group",
		CollisionWindowSeconds: model.MinCollisionWindowSeconds,
		CollisionPolicy:        policy,
	}
	require.NoError(t, g.Validate())
	e.store.PutGroup(g)
	return g
}

// runToCompletion triggers the campaign and executes the claimed run,
// the way the worker loop does.
func (e *testEnv) runToCompletion(t *testing.T, ctx context.Context, campaignID uuid.UUID) *model.Run {
	t.Helper()
	queued, err := e.orchestrator.Trigger(ctx, campaignID, false)
	require.NoError(t, err)

	claimed, err := e.runs.ClaimQueued(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, queued.ID, claimed[0].ID)

	_ = e.orchestrator.Execute(ctx, claimed[0])

	run, err := e.runs.Get(ctx, queued.ID)
	require.NoError(t, err)
	return run
}

func rowsFor(n int) []source.Row {
	rows := make([]source.Row, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, source.Row{
			SubjectID: string(rune('a' + i)),
			Email:     string(rune('a'+i)) + "@example.com",
		})
	}
	return rows
}
