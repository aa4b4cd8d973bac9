package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mailroom-io/mailroom/internal/model"
	"github.com/mailroom-io/mailroom/internal/repository"
	"github.com/mailroom-io/mailroom/pkg/logger"
	"github.com/mailroom-io/mailroom/pkg/metrics"
)

// claimAttempts bounds re-evaluation when a claim expires between the
// losing upsert and the read-back.
const claimAttempts = 3

// Decision is the collision resolver's verdict for one recipient.
type Decision struct {
	Allowed    bool
	SkipReason string
}

// Resolver decides whether a recipient may receive a campaign's email
// or must be skipped for a cross-campaign collision. All decisions go
// through the claim store, which is the single serialization point per
// (group, subject): two runs racing for the same subject never both
// win.
type Resolver struct {
	claims  repository.ClaimRepository
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewResolver(claims repository.ClaimRepository, log *logger.Logger, m *metrics.Metrics) *Resolver {
	return &Resolver{claims: claims, logger: log.WithComponent("collision"), metrics: m}
}

// Gate tentatively claims the (group, subject) slot for the run. A
// campaign without a group, or a group with SEND_ALL, is never gated.
func (r *Resolver) Gate(ctx context.Context, campaign *model.Campaign, group *model.CampaignGroup, run *model.Run, subjectID string) (Decision, error) {
	if group == nil || group.CollisionPolicy == model.SendAll {
		r.metrics.CollisionChecks.WithLabelValues("allowed").Inc()
		return Decision{Allowed: true}, nil
	}

	claim := &model.CollisionClaim{
		GroupID:      group.ID,
		SubjectID:    subjectID,
		CampaignID:   campaign.ID,
		RunID:        run.ID,
		Priority:     campaign.Priority,
		RunCreatedAt: run.CreatedAt,
		Rank:         model.ClaimRank(group.CollisionPolicy, campaign.Priority, run.CreatedAt, campaign.ID),
		ExpiresAt:    time.Now().UTC().Add(group.CollisionWindow()),
	}

	for attempt := 0; attempt < claimAttempts; attempt++ {
		won, existing, err := r.claims.Claim(ctx, claim)
		if err != nil {
			return Decision{}, fmt.Errorf("collision gate: %w", err)
		}
		if won {
			r.metrics.CollisionChecks.WithLabelValues("claimed").Inc()
			return Decision{Allowed: true}, nil
		}
		if existing == nil {
			// The blocking claim expired mid-decision; re-evaluate.
			continue
		}
		if existing.RunID == run.ID {
			// Our own claim from a previous attempt or a resume.
			return Decision{Allowed: true}, nil
		}

		r.metrics.CollisionChecks.WithLabelValues("skipped").Inc()
		r.logger.Debug("recipient lost collision claim",
			"subject_id", subjectID,
			"group_id", group.ID.String(),
			"winner_campaign", existing.CampaignID.String(),
		)
		switch group.CollisionPolicy {
		case model.FirstQueuedWins:
			return Decision{SkipReason: model.SkipReasonCollisionFirst}, nil
		default:
			return Decision{SkipReason: model.SkipReasonCollision}, nil
		}
	}
	return Decision{}, ErrClaimRace
}

// Confirm finalizes the claim immediately before the transport call. A
// false return means an outranking run took the slot after Gate; the
// recipient must be skipped, not sent.
func (r *Resolver) Confirm(ctx context.Context, group *model.CampaignGroup, run *model.Run, subjectID string) (bool, error) {
	if group == nil || group.CollisionPolicy == model.SendAll {
		return true, nil
	}
	ok, err := r.claims.Commit(ctx, group.ID, subjectID, run.ID)
	if err != nil {
		return false, fmt.Errorf("collision confirm: %w", err)
	}
	return ok, nil
}

// Sweep drops expired claims. The worker runs it periodically; correctness
// does not depend on it since reads check expiry.
func (r *Resolver) Sweep(ctx context.Context) {
	n, err := r.claims.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		r.logger.Error(err, "failed to sweep expired claims")
		return
	}
	if n > 0 {
		r.logger.Debug("swept expired collision claims", "count", n)
	}
}

// skipReasonFor maps a policy to the reason recorded on skipped
// recipients.
func skipReasonFor(policy model.CollisionPolicy) string {
	if policy == model.FirstQueuedWins {
		return model.SkipReasonCollisionFirst
	}
	return model.SkipReasonCollision
}

// GroupFor resolves a campaign's group, if any.
func GroupFor(ctx context.Context, campaigns repository.CampaignRepository, campaign *model.Campaign) (*model.CampaignGroup, error) {
	if campaign.GroupID == nil || *campaign.GroupID == uuid.Nil {
		return nil, nil
	}
	return campaigns.GetGroup(ctx, *campaign.GroupID)
}
