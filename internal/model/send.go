package model

import (
	"time"

	"github.com/google/uuid"
)

type SendStatus string

const (
	SendStatusSent      SendStatus = "SENT"
	SendStatusDelivered SendStatus = "DELIVERED"
	SendStatusBounced   SendStatus = "BOUNCED"
	SendStatusFailed    SendStatus = "FAILED"
	SendStatusComplaint SendStatus = "COMPLAINT"
)

// Terminal reports whether delivery events may no longer change the status.
// SENT is the only non-terminal send status: delivery, bounce, and complaint
// events move it forward; FAILED sends never received a provider message id.
func (s SendStatus) Terminal() bool {
	return s != SendStatusSent
}

// Send records one transport attempt for a recipient. Retries create new
// rows; terminal rows are never mutated. After creation only the event
// ingestion path updates a row's status.
type Send struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	RecipientID       uuid.UUID  `db:"recipient_id" json:"recipient_id"`
	Status            SendStatus `db:"status" json:"status"`
	ProviderMessageID *string    `db:"provider_message_id" json:"provider_message_id,omitempty"`
	LastError         *string    `db:"last_error" json:"last_error,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}
