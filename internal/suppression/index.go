// Package suppression answers "may we send to this address" for the
// dispatch pipeline.
package suppression

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/mailroom-io/mailroom/internal/model"
	"github.com/mailroom-io/mailroom/internal/repository"
)

// Index is a read-through view over the suppression table. Positive hits
// are cached; misses always go to the repository so a suppression
// upserted by bounce processing is visible on the next lookup
// (read-after-write inside the workspace).
type Index struct {
	repo  repository.SuppressionRepository
	cache *gocache.Cache
}

func NewIndex(repo repository.SuppressionRepository, ttl time.Duration) *Index {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Index{
		repo:  repo,
		cache: gocache.New(ttl, 2*ttl),
	}
}

// IsSuppressed reports whether the address is blocked in the workspace.
// Lookup errors propagate; the dispatch pipeline treats them as
// fail-safe and skips the recipient.
func (i *Index) IsSuppressed(ctx context.Context, workspaceID uuid.UUID, email string) (bool, error) {
	key := cacheKey(workspaceID, model.NormalizeEmail(email))
	if _, hit := i.cache.Get(key); hit {
		return true, nil
	}

	s, err := i.repo.Get(ctx, workspaceID, email)
	if err != nil {
		return false, fmt.Errorf("suppression lookup: %w", err)
	}
	if s == nil {
		return false, nil
	}
	i.cache.SetDefault(key, s.Reason)
	return true, nil
}

func cacheKey(workspaceID uuid.UUID, email string) string {
	return workspaceID.String() + ":" + email
}
