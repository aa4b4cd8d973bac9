package suppression

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailroom-io/mailroom/internal/model"
	"github.com/mailroom-io/mailroom/internal/repository/memory"
)

type failingRepo struct{}

func (failingRepo) Get(context.Context, uuid.UUID, string) (*model.Suppression, error) {
	return nil, errors.New("connection refused")
}
func (failingRepo) Upsert(context.Context, *model.Suppression) error { return nil }
func (failingRepo) List(context.Context, uuid.UUID) ([]*model.Suppression, error) {
	return nil, nil
}

func TestIsSuppressedMissAndHit(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewSuppressionRepo(memory.NewStore())
	idx := NewIndex(repo, time.Minute)
	ws := uuid.New()

	blocked, err := idx.IsSuppressed(ctx, ws, "clean@example.com")
	require.NoError(t, err)
	assert.False(t, blocked)

	require.NoError(t, repo.Upsert(ctx, &model.Suppression{
		WorkspaceID: ws,
		Email:       "bounced@example.com",
		Reason:      model.SuppressionReasonBounce,
	}))

	blocked, err = idx.IsSuppressed(ctx, ws, "bounced@example.com")
	require.NoError(t, err)
	assert.True(t, blocked)
}

func TestIsSuppressedNewEntryVisibleImmediately(t *testing.T) {
	// Only positive hits are cached, so a suppression written after a
	// miss must show up on the very next lookup.
	ctx := context.Background()
	repo := memory.NewSuppressionRepo(memory.NewStore())
	idx := NewIndex(repo, time.Hour)
	ws := uuid.New()

	blocked, err := idx.IsSuppressed(ctx, ws, "late@example.com")
	require.NoError(t, err)
	require.False(t, blocked)

	require.NoError(t, repo.Upsert(ctx, &model.Suppression{
		WorkspaceID: ws,
		Email:       "late@example.com",
		Reason:      model.SuppressionReasonComplaint,
	}))

	blocked, err = idx.IsSuppressed(ctx, ws, "late@example.com")
	require.NoError(t, err)
	assert.True(t, blocked)
}

func TestIsSuppressedNormalizesAddress(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewSuppressionRepo(memory.NewStore())
	idx := NewIndex(repo, time.Minute)
	ws := uuid.New()

	require.NoError(t, repo.Upsert(ctx, &model.Suppression{
		WorkspaceID: ws,
		Email:       "User@Example.COM",
		Reason:      model.SuppressionReasonManual,
	}))

	blocked, err := idx.IsSuppressed(ctx, ws, "  user@example.com ")
	require.NoError(t, err)
	assert.True(t, blocked)
}

func TestIsSuppressedScopedToWorkspace(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewSuppressionRepo(memory.NewStore())
	idx := NewIndex(repo, time.Minute)
	ws := uuid.New()

	require.NoError(t, repo.Upsert(ctx, &model.Suppression{
		WorkspaceID: ws,
		Email:       "x@example.com",
		Reason:      model.SuppressionReasonManual,
	}))

	blocked, err := idx.IsSuppressed(ctx, uuid.New(), "x@example.com")
	require.NoError(t, err)
	assert.False(t, blocked, "suppressions do not leak across workspaces")
}

func TestIsSuppressedPropagatesLookupErrors(t *testing.T) {
	idx := NewIndex(failingRepo{}, time.Minute)

	_, err := idx.IsSuppressed(context.Background(), uuid.New(), "x@example.com")
	assert.Error(t, err)
}
