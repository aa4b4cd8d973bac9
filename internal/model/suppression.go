package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type SuppressionReason string

const (
	SuppressionReasonBounce      SuppressionReason = "BOUNCE"
	SuppressionReasonComplaint   SuppressionReason = "COMPLAINT"
	SuppressionReasonUnsubscribe SuppressionReason = "UNSUBSCRIBE"
	SuppressionReasonManual      SuppressionReason = "MANUAL"
)

// Suppression blocks sending to an address within a workspace. Unique per
// (workspace, normalized email); upserts overwrite the reason.
type Suppression struct {
	ID          uuid.UUID         `db:"id" json:"id"`
	WorkspaceID uuid.UUID         `db:"workspace_id" json:"workspace_id"`
	Email       string            `db:"email" json:"email"`
	Reason      SuppressionReason `db:"reason" json:"reason"`
	CreatedAt   time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time         `db:"updated_at" json:"updated_at"`
}

// NormalizeEmail lowercases and trims an address for suppression and
// dedup keys. Addresses are compared case-insensitively throughout.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
