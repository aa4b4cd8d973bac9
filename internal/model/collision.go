package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CollisionClaim is the single-writer decision record for a
// (group, subject) pair. A run tentatively claims the pair before
// gating a recipient and commits the claim immediately before the
// transport call. Uncommitted claims can be taken over by a
// better-ranked competitor; committed claims stand until they expire
// with the collision window.
type CollisionClaim struct {
	GroupID      uuid.UUID `db:"group_id" json:"group_id"`
	SubjectID    string    `db:"subject_id" json:"subject_id"`
	CampaignID   uuid.UUID `db:"campaign_id" json:"campaign_id"`
	RunID        uuid.UUID `db:"run_id" json:"run_id"`
	Priority     int       `db:"priority" json:"priority"`
	RunCreatedAt time.Time `db:"run_created_at" json:"run_created_at"`
	Rank         string    `db:"rank" json:"rank"`
	Committed    bool      `db:"committed" json:"committed"`
	ClaimedAt    time.Time `db:"claimed_at" json:"claimed_at"`
	ExpiresAt    time.Time `db:"expires_at" json:"expires_at"`
}

// ClaimRank builds the fixed-width sortable key deciding claim races.
// Lower rank wins. Under HIGHEST_PRIORITY_WINS the lower priority number
// leads; ties break on the earlier run creation time, then on campaign
// id. FIRST_QUEUED_WINS ranks on run creation time alone (plus the
// campaign id tiebreak), regardless of priority. Negative priorities
// clamp to zero: the fixed-width encoding sorts "-" after digits and
// would otherwise invert their order.
func ClaimRank(policy CollisionPolicy, priority int, runCreatedAt time.Time, campaignID uuid.UUID) string {
	if priority < 0 {
		priority = 0
	}
	switch policy {
	case FirstQueuedWins:
		return fmt.Sprintf("%020d|%s", runCreatedAt.UnixNano(), campaignID)
	default:
		return fmt.Sprintf("%010d|%020d|%s", priority, runCreatedAt.UnixNano(), campaignID)
	}
}
