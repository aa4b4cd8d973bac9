package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mailroom-io/mailroom/internal/model"
)

// All repository interfaces in one file
type (
	// CampaignRepository reads campaign configuration. The engine never
	// creates campaigns; the admin surface owns that.
	CampaignRepository interface {
		Get(ctx context.Context, id uuid.UUID) (*model.Campaign, error)
		GetGroup(ctx context.Context, id uuid.UUID) (*model.CampaignGroup, error)
		GetSenderProfile(ctx context.Context, id uuid.UUID) (*model.SenderProfile, error)
		GetSegment(ctx context.Context, id uuid.UUID) (*model.Segment, error)
		GetTemplate(ctx context.Context, id uuid.UUID) (*model.Template, error)
		ListScheduled(ctx context.Context) ([]*model.Campaign, error)
	}

	RunRepository interface {
		Create(ctx context.Context, run *model.Run) error
		Get(ctx context.Context, id uuid.UUID) (*model.Run, error)
		// UpdateStatus persists a status change together with the error
		// message, if any. The caller validates the transition.
		UpdateStatus(ctx context.Context, id uuid.UUID, status model.RunStatus, runErr *string) error
		UpdateStats(ctx context.Context, id uuid.UUID, stats model.RunStats) error
		// ClaimQueued locks up to limit QUEUED runs for this worker so
		// concurrent workers never execute the same run.
		ClaimQueued(ctx context.Context, limit int) ([]*model.Run, error)
		ListActiveByCampaign(ctx context.Context, campaignID uuid.UUID) ([]*model.Run, error)
	}

	RecipientRepository interface {
		// BulkInsert persists an audience snapshot atomically. A failed
		// build must leave zero recipient rows behind.
		BulkInsert(ctx context.Context, recipients []*model.Recipient) error
		Get(ctx context.Context, id uuid.UUID) (*model.Recipient, error)
		// ListPending returns the run's non-terminal recipients in
		// deterministic order (ascending subject id).
		ListPending(ctx context.Context, runID uuid.UUID) ([]*model.Recipient, error)
		List(ctx context.Context, runID uuid.UUID) ([]*model.Recipient, error)
		// MarkTerminal sets a terminal status with an optional reason.
		// It must refuse to overwrite a recipient already terminal.
		MarkTerminal(ctx context.Context, id uuid.UUID, status model.RecipientStatus, reason *string) error
		MarkQueued(ctx context.Context, id uuid.UUID) error
		// FailPending marks every remaining non-terminal recipient of a
		// run FAILED with the given reason; used on run abort.
		FailPending(ctx context.Context, runID uuid.UUID, reason string) (int64, error)
		CountByStatus(ctx context.Context, runID uuid.UUID) (map[model.RecipientStatus]int, error)
	}

	SendRepository interface {
		Create(ctx context.Context, send *model.Send) error
		// GetByProviderMessageID returns nil, nil when no send matches;
		// delivery webhooks reference ids we may never have recorded.
		GetByProviderMessageID(ctx context.Context, providerMessageID string) (*model.Send, error)
		ListByRecipient(ctx context.Context, recipientID uuid.UUID) ([]*model.Send, error)
		// UpdateStatus applies a delivery event. Terminal rows are left
		// untouched; only the ingestion path calls this.
		UpdateStatus(ctx context.Context, id uuid.UUID, status model.SendStatus) error
	}

	SuppressionRepository interface {
		Get(ctx context.Context, workspaceID uuid.UUID, email string) (*model.Suppression, error)
		// Upsert inserts or overwrites the reason for an address.
		Upsert(ctx context.Context, s *model.Suppression) error
		List(ctx context.Context, workspaceID uuid.UUID) ([]*model.Suppression, error)
	}

	// ClaimRepository is the serialization point for collision decisions.
	// Claim and Commit are atomic: for a given (group, subject) exactly
	// one run holds the committed claim within the window.
	ClaimRepository interface {
		// Claim tentatively takes the (group, subject) slot. It wins when
		// no live claim exists, when the live claim is expired, or when
		// the live claim is uncommitted and outranked by this one. On
		// loss it returns the live claim; a nil existing claim with
		// won=false signals a transient race the caller re-evaluates.
		Claim(ctx context.Context, claim *model.CollisionClaim) (won bool, existing *model.CollisionClaim, err error)
		// Commit finalizes ownership immediately before the transport
		// call. It returns false when the claim was taken over since the
		// tentative Claim, in which case the caller must not send.
		Commit(ctx context.Context, groupID uuid.UUID, subjectID string, runID uuid.UUID) (bool, error)
		DeleteExpired(ctx context.Context, before time.Time) (int64, error)
	}
)
