package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type RecipientStatus string

const (
	RecipientStatusPending RecipientStatus = "PENDING"
	RecipientStatusQueued  RecipientStatus = "QUEUED"
	RecipientStatusSent    RecipientStatus = "SENT"
	RecipientStatusSkipped RecipientStatus = "SKIPPED"
	RecipientStatusFailed  RecipientStatus = "FAILED"
)

// Terminal reports whether the recipient has reached a final status.
func (s RecipientStatus) Terminal() bool {
	switch s {
	case RecipientStatusSent, RecipientStatusSkipped, RecipientStatusFailed:
		return true
	}
	return false
}

var recipientTransitions = map[RecipientStatus][]RecipientStatus{
	RecipientStatusPending: {RecipientStatusQueued, RecipientStatusSkipped, RecipientStatusFailed},
	RecipientStatusQueued:  {RecipientStatusSent, RecipientStatusSkipped, RecipientStatusFailed},
}

func (s RecipientStatus) CanTransition(to RecipientStatus) bool {
	for _, next := range recipientTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Skip reasons recorded on terminal SKIPPED/FAILED recipients.
const (
	SkipReasonSuppressed            = "SUPPRESSED"
	SkipReasonSuppressionUnverified = "SUPPRESSION_UNVERIFIED"
	SkipReasonCollision             = "COLLISION_LOWER_PRIORITY"
	SkipReasonCollisionFirst        = "COLLISION_NOT_FIRST"
	FailReasonRunAborted            = "RUN_ABORTED"
)

type Recipient struct {
	ID         uuid.UUID       `db:"id" json:"id"`
	RunID      uuid.UUID       `db:"run_id" json:"run_id"`
	SubjectID  string          `db:"subject_id" json:"subject_id"`
	Email      string          `db:"email" json:"email"`
	Vars       json.RawMessage `db:"vars" json:"vars,omitempty"`
	Status     RecipientStatus `db:"status" json:"status"`
	SkipReason *string         `db:"skip_reason" json:"skip_reason,omitempty"`
	LastError  *string         `db:"last_error" json:"last_error,omitempty"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time       `db:"updated_at" json:"updated_at"`
}

// Transition mutates the recipient status after validating the edge.
func (r *Recipient) Transition(to RecipientStatus) error {
	if !r.Status.CanTransition(to) {
		return fmt.Errorf("invalid recipient transition %s -> %s", r.Status, to)
	}
	r.Status = to
	return nil
}
