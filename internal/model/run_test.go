package model

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunTransitions(t *testing.T) {
	run := &Run{Status: RunStatusQueued}

	require.NoError(t, run.Transition(RunStatusBuildingAudience))
	require.NoError(t, run.Transition(RunStatusDispatching))
	require.NoError(t, run.Transition(RunStatusPaused))
	require.NoError(t, run.Transition(RunStatusQueued))
	require.NoError(t, run.Transition(RunStatusBuildingAudience))
	require.NoError(t, run.Transition(RunStatusDispatching))
	require.NoError(t, run.Transition(RunStatusCompleted))

	assert.Error(t, run.Transition(RunStatusDispatching), "terminal runs accept no transitions")
}

func TestRunTransitionRejectsSkips(t *testing.T) {
	run := &Run{Status: RunStatusQueued}
	assert.Error(t, run.Transition(RunStatusDispatching), "cannot skip audience build")
	assert.Error(t, run.Transition(RunStatusCompleted))
	assert.Error(t, run.Transition(RunStatusPaused), "only dispatching runs pause")
	assert.Equal(t, RunStatusQueued, run.Status, "failed transition leaves status untouched")
}

func TestRunStatusTerminal(t *testing.T) {
	assert.True(t, RunStatusCompleted.Terminal())
	assert.True(t, RunStatusFailed.Terminal())
	assert.False(t, RunStatusPaused.Terminal())
	assert.False(t, RunStatusDispatching.Terminal())
}

func TestRunStatsTotal(t *testing.T) {
	stats := RunStats{Queued: 2, Sent: 5, Skipped: 1, Failed: 3}
	assert.Equal(t, 11, stats.Total())
}

func TestRecipientTransitions(t *testing.T) {
	rec := &Recipient{Status: RecipientStatusPending}
	require.NoError(t, rec.Transition(RecipientStatusQueued))
	require.NoError(t, rec.Transition(RecipientStatusSent))
	assert.Error(t, rec.Transition(RecipientStatusFailed), "sent recipients stay sent")

	skipped := &Recipient{Status: RecipientStatusPending}
	require.NoError(t, skipped.Transition(RecipientStatusSkipped))
	assert.Error(t, skipped.Transition(RecipientStatusQueued))
}

func TestSendStatusTerminal(t *testing.T) {
	assert.False(t, SendStatusSent.Terminal(), "delivery events still apply to SENT")
	assert.True(t, SendStatusDelivered.Terminal())
	assert.True(t, SendStatusBounced.Terminal())
	assert.True(t, SendStatusComplaint.Terminal())
	assert.True(t, SendStatusFailed.Terminal())
}

func TestCampaignTriggerable(t *testing.T) {
	c := &Campaign{Status: CampaignStatusActive}
	assert.True(t, c.Triggerable(false))

	c.Status = CampaignStatusDraft
	assert.False(t, c.Triggerable(false))
	assert.True(t, c.Triggerable(true), "draft triggers need the manual override")

	for _, status := range []CampaignStatus{CampaignStatusPaused, CampaignStatusArchived, CampaignStatusCompleted} {
		c.Status = status
		assert.False(t, c.Triggerable(true), "override never revives %s", status)
	}
}

func TestCampaignGroupValidate(t *testing.T) {
	g := &CampaignGroup{
		ID:                     uuid.New(),
		CollisionWindowSeconds: 3600,
		CollisionPolicy:        HighestPriorityWins,
	}
	require.NoError(t, g.Validate())
	assert.Equal(t, time.Hour, g.CollisionWindow())

	g.CollisionWindowSeconds = 3599
	assert.Error(t, g.Validate(), "window below one hour")

	g.CollisionWindowSeconds = 604801
	assert.Error(t, g.Validate(), "window above seven days")

	g.CollisionWindowSeconds = 604800
	g.CollisionPolicy = "SOMETIMES_WINS"
	assert.Error(t, g.Validate())
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "ada@example.com", NormalizeEmail("  Ada@Example.COM "))
	assert.Equal(t, "", NormalizeEmail("   "))
}
