package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailroom-io/mailroom/internal/model"
	"github.com/mailroom-io/mailroom/internal/source"
	"github.com/mailroom-io/mailroom/internal/suppression"
	"github.com/mailroom-io/mailroom/internal/transport"
)

func TestTriggerRejectsUntriggerableCampaign(t *testing.T) {
	env := newTestEnv(t, rowsFor(1), Config{Retry: fastRetry()})
	ctx := context.Background()

	c := env.addCampaign(t, 0, nil)
	c.Status = model.CampaignStatusPaused
	env.store.PutCampaign(c)

	_, err := env.orchestrator.Trigger(ctx, c.ID, false)
	require.ErrorIs(t, err, ErrInvalidState)

	c.Status = model.CampaignStatusDraft
	env.store.PutCampaign(c)
	_, err = env.orchestrator.Trigger(ctx, c.ID, false)
	require.ErrorIs(t, err, ErrInvalidState)

	run, err := env.orchestrator.Trigger(ctx, c.ID, true)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusQueued, run.Status)
}

func TestExecuteHappyPath(t *testing.T) {
	env := newTestEnv(t, rowsFor(3), Config{Retry: fastRetry()})
	ctx := context.Background()
	c := env.addCampaign(t, 0, nil)

	run := env.runToCompletion(t, ctx, c.ID)

	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, 3, run.Stats.Sent)
	assert.Equal(t, 0, run.Stats.Queued)
	assert.Equal(t, 0, run.Stats.Skipped)
	assert.Equal(t, 0, run.Stats.Failed)
	assert.Len(t, env.transport.Calls, 3)

	recipients, err := env.recipients.List(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, recipients, 3)
	for _, rec := range recipients {
		assert.Equal(t, model.RecipientStatusSent, rec.Status)
		sends, err := env.sends.ListByRecipient(ctx, rec.ID)
		require.NoError(t, err)
		require.Len(t, sends, 1)
		assert.Equal(t, model.SendStatusSent, sends[0].Status)
		assert.NotNil(t, sends[0].ProviderMessageID)
	}
}

func TestExecuteDedupesAudience(t *testing.T) {
	rows := []source.Row{
		{SubjectID: "u1", Email: "old@example.com"},
		{SubjectID: " u1 ", Email: "NEW@example.com", Vars: json.RawMessage(`{"name":"Ada"}`)},
		{SubjectID: "u2", Email: "u2@example.com"},
	}
	env := newTestEnv(t, rows, Config{Retry: fastRetry()})
	ctx := context.Background()
	c := env.addCampaign(t, 0, nil)

	run := env.runToCompletion(t, ctx, c.ID)
	assert.Equal(t, model.RunStatusCompleted, run.Status)

	recipients, err := env.recipients.List(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, recipients, 2, "duplicate subject ids collapse")

	var u1 *model.Recipient
	for _, rec := range recipients {
		if rec.SubjectID == "u1" {
			u1 = rec
		}
	}
	require.NotNil(t, u1)
	assert.Equal(t, "new@example.com", u1.Email, "last occurrence wins and email is normalized")
	assert.JSONEq(t, `{"name":"Ada"}`, string(u1.Vars))
}

func TestExecuteAudienceFailureFailsRunWithZeroRecipients(t *testing.T) {
	env := newTestEnv(t, rowsFor(5), Config{Retry: fastRetry()})
	env.source.QueryErr = &source.BuildError{Reason: "query timeout"}
	ctx := context.Background()
	c := env.addCampaign(t, 0, nil)

	run := env.runToCompletion(t, ctx, c.ID)

	assert.Equal(t, model.RunStatusFailed, run.Status)
	require.NotNil(t, run.Error)

	recipients, err := env.recipients.List(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, recipients, "failed builds persist no snapshot")
	assert.Empty(t, env.transport.Calls)

	// The campaign itself is untouched and can be retriggered.
	c2, err := env.campaigns.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignStatusActive, c2.Status)
}

func TestExecuteMidStreamFailurePersistsNothing(t *testing.T) {
	env := newTestEnv(t, rowsFor(5), Config{Retry: fastRetry()})
	env.source.RowErr = errors.New("connection reset")
	env.source.FailAfter = 3
	ctx := context.Background()
	c := env.addCampaign(t, 0, nil)

	run := env.runToCompletion(t, ctx, c.ID)

	assert.Equal(t, model.RunStatusFailed, run.Status)
	recipients, err := env.recipients.List(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, recipients)
}

func TestExecuteSuppressedRecipientsSkipped(t *testing.T) {
	env := newTestEnv(t, rowsFor(3), Config{Retry: fastRetry()})
	ctx := context.Background()
	c := env.addCampaign(t, 0, nil)

	require.NoError(t, env.suppressions.Upsert(ctx, &model.Suppression{
		ID:          uuid.New(),
		WorkspaceID: env.workspaceID,
		Email:       "b@example.com",
		Reason:      model.SuppressionReasonBounce,
	}))

	run := env.runToCompletion(t, ctx, c.ID)

	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, 2, run.Stats.Sent)
	assert.Equal(t, 1, run.Stats.Skipped)
	assert.Equal(t, 0, env.transport.SentTo("b@example.com"), "suppressed address never reaches the transport")

	recipients, err := env.recipients.List(ctx, run.ID)
	require.NoError(t, err)
	for _, rec := range recipients {
		if rec.Email == "b@example.com" {
			assert.Equal(t, model.RecipientStatusSkipped, rec.Status)
			require.NotNil(t, rec.SkipReason)
			assert.Equal(t, model.SkipReasonSuppressed, *rec.SkipReason)
		}
	}
}

type failingSuppressionRepo struct{}

func (failingSuppressionRepo) Get(context.Context, uuid.UUID, string) (*model.Suppression, error) {
	return nil, errors.New("suppression store unavailable")
}

func (failingSuppressionRepo) Upsert(context.Context, *model.Suppression) error { return nil }

func (failingSuppressionRepo) List(context.Context, uuid.UUID) ([]*model.Suppression, error) {
	return nil, nil
}

func TestExecuteSuppressionLookupFailureSkipsWithDistinctReason(t *testing.T) {
	env := newTestEnv(t, rowsFor(2), Config{Retry: fastRetry()})
	ctx := context.Background()
	c := env.addCampaign(t, 0, nil)

	// A broken suppression store must never let a send through, but the
	// skip is distinguishable from a real hit so it can be retried.
	env.dispatcher.index = suppression.NewIndex(failingSuppressionRepo{}, 0)

	run := env.runToCompletion(t, ctx, c.ID)

	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, 0, run.Stats.Sent)
	assert.Equal(t, 2, run.Stats.Skipped)

	recipients, err := env.recipients.List(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, recipients, 2)
	for _, rec := range recipients {
		assert.Equal(t, model.RecipientStatusSkipped, rec.Status)
		require.NotNil(t, rec.SkipReason)
		assert.Equal(t, model.SkipReasonSuppressionUnverified, *rec.SkipReason)
		assert.Equal(t, 0, env.transport.SentTo(rec.Email))
	}
}

func TestExecuteFatalTransportErrorAbortsRun(t *testing.T) {
	env := newTestEnv(t, rowsFor(4), Config{Concurrency: 1, Retry: fastRetry()})
	ctx := context.Background()
	c := env.addCampaign(t, 0, nil)

	// Recipients dispatch in subject order; the first one hits an auth
	// failure that dooms the rest.
	env.transport.FailNext("a@example.com", transport.NewFatal("535", errors.New("authentication failed")))

	run := env.runToCompletion(t, ctx, c.ID)

	assert.Equal(t, model.RunStatusFailed, run.Status)
	require.NotNil(t, run.Error)

	recipients, err := env.recipients.List(ctx, run.ID)
	require.NoError(t, err)
	aborted := 0
	var trigger *model.Recipient
	for _, rec := range recipients {
		require.True(t, rec.Status.Terminal(), "abort leaves no recipient in limbo")
		if rec.LastError != nil && *rec.LastError == model.FailReasonRunAborted {
			aborted++
		}
		if rec.Email == "a@example.com" {
			trigger = rec
		}
	}
	assert.Equal(t, 3, aborted, "undispatched recipients fail with the abort reason")

	// The recipient that hit the auth failure carries the transport error,
	// not the generic abort reason, and its attempt is on record.
	require.NotNil(t, trigger)
	assert.Equal(t, model.RecipientStatusFailed, trigger.Status)
	require.NotNil(t, trigger.LastError)
	assert.Contains(t, *trigger.LastError, "authentication failed")
	sends, err := env.sends.ListByRecipient(ctx, trigger.ID)
	require.NoError(t, err)
	require.Len(t, sends, 1)
	assert.Equal(t, model.SendStatusFailed, sends[0].Status)
	assert.Equal(t, run.Stats.Sent+run.Stats.Skipped+run.Stats.Failed, len(recipients))
}

func TestExecuteRetryableErrorsRetryThenSucceed(t *testing.T) {
	env := newTestEnv(t, rowsFor(1), Config{Retry: fastRetry()})
	ctx := context.Background()
	c := env.addCampaign(t, 0, nil)

	env.transport.FailNext("a@example.com",
		transport.NewRetryable("421", errors.New("try again")),
		transport.NewRetryable("451", errors.New("greylisted")),
	)

	run := env.runToCompletion(t, ctx, c.ID)

	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, 1, run.Stats.Sent)
	assert.Equal(t, 3, env.transport.SentTo("a@example.com"), "two failures then success")

	// Only the final outcome is recorded as a send row.
	recipients, err := env.recipients.List(ctx, run.ID)
	require.NoError(t, err)
	sends, err := env.sends.ListByRecipient(ctx, recipients[0].ID)
	require.NoError(t, err)
	require.Len(t, sends, 1)
	assert.Equal(t, model.SendStatusSent, sends[0].Status)
}

func TestExecuteRetriesExhaustedFailsRecipientOnly(t *testing.T) {
	env := newTestEnv(t, rowsFor(2), Config{Retry: fastRetry()})
	ctx := context.Background()
	c := env.addCampaign(t, 0, nil)

	boom := transport.NewRetryable("421", errors.New("busy"))
	env.transport.FailNext("a@example.com", boom, boom, boom, boom)

	run := env.runToCompletion(t, ctx, c.ID)

	assert.Equal(t, model.RunStatusCompleted, run.Status, "one failed recipient does not fail the run")
	assert.Equal(t, 1, run.Stats.Sent)
	assert.Equal(t, 1, run.Stats.Failed)
	assert.Equal(t, 3, env.transport.SentTo("a@example.com"), "attempts stop at the configured cap")
}

func TestExecuteTerminalErrorFailsRecipientWithoutRetry(t *testing.T) {
	env := newTestEnv(t, rowsFor(2), Config{Retry: fastRetry()})
	ctx := context.Background()
	c := env.addCampaign(t, 0, nil)

	env.transport.FailNext("b@example.com", transport.NewTerminal("550", errors.New("no such user")))

	run := env.runToCompletion(t, ctx, c.ID)

	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, 1, run.Stats.Sent)
	assert.Equal(t, 1, run.Stats.Failed)
	assert.Equal(t, 1, env.transport.SentTo("b@example.com"))
}

func TestPauseAndResume(t *testing.T) {
	env := newTestEnv(t, rowsFor(3), Config{
		Concurrency: 1,
		// One send per second after the one-token burst keeps the run
		// dispatching long enough to pause it.
		DefaultRatePerSecond: 1,
		Retry:                fastRetry(),
	})
	// Profile without a rate override falls back to the engine default.
	env.store.PutSenderProfile(&model.SenderProfile{
		ID:          env.profileID,
		WorkspaceID: env.workspaceID,
		FromName:    "Mailroom",
		FromEmail:   "noreply@mailroom.test",
	})

	ctx := context.Background()
	c := env.addCampaign(t, 0, nil)

	queued, err := env.orchestrator.Trigger(ctx, c.ID, false)
	require.NoError(t, err)
	claimed, err := env.runs.ClaimQueued(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	done := make(chan error, 1)
	go func() { done <- env.orchestrator.Execute(ctx, claimed[0]) }()

	require.Eventually(t, func() bool {
		run, err := env.runs.Get(ctx, queued.ID)
		return err == nil && run.Status == model.RunStatusDispatching && len(env.transport.CallTimes()) >= 1
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, env.orchestrator.Pause(queued.ID))
	require.NoError(t, <-done)

	run, err := env.runs.Get(ctx, queued.ID)
	require.NoError(t, err)
	require.Equal(t, model.RunStatusPaused, run.Status)

	sentBeforeResume := run.Stats.Sent
	assert.Greater(t, sentBeforeResume, 0)
	assert.Less(t, sentBeforeResume, 3)

	require.Error(t, env.orchestrator.Pause(queued.ID), "pausing a run nobody is executing fails")

	resumed, err := env.orchestrator.Resume(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusQueued, resumed.Status)

	_, err = env.orchestrator.Resume(ctx, queued.ID)
	require.ErrorIs(t, err, ErrInvalidState, "resume only applies to paused runs")

	claimed, err = env.runs.ClaimQueued(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, env.orchestrator.Execute(ctx, claimed[0]))

	final, err := env.runs.Get(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, final.Status)
	assert.Equal(t, 3, final.Stats.Sent)
	assert.Equal(t, 3, len(env.transport.Calls), "resume never re-sends to finished recipients")
}

func TestStatsConsistentAtTerminal(t *testing.T) {
	env := newTestEnv(t, rowsFor(5), Config{Retry: fastRetry()})
	ctx := context.Background()
	c := env.addCampaign(t, 0, nil)

	env.transport.FailNext("c@example.com", transport.NewTerminal("550", errors.New("bad address")))
	require.NoError(t, env.suppressions.Upsert(ctx, &model.Suppression{
		ID:          uuid.New(),
		WorkspaceID: env.workspaceID,
		Email:       "e@example.com",
		Reason:      model.SuppressionReasonManual,
	}))

	run := env.runToCompletion(t, ctx, c.ID)

	require.Equal(t, model.RunStatusCompleted, run.Status)
	recipients, err := env.recipients.List(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, len(recipients), run.Stats.Sent+run.Stats.Skipped+run.Stats.Failed)
	assert.Equal(t, 0, run.Stats.Queued)
	assert.Equal(t, 3, run.Stats.Sent)
	assert.Equal(t, 1, run.Stats.Skipped)
	assert.Equal(t, 1, run.Stats.Failed)
}
