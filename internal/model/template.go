package model

import (
	"time"

	"github.com/google/uuid"
)

// Template is the stored email template a campaign references. Bodies
// use {name} placeholders filled from recipient vars at dispatch time.
type Template struct {
	ID          uuid.UUID `db:"id" json:"id"`
	WorkspaceID uuid.UUID `db:"workspace_id" json:"workspace_id"`
	Name        string    `db:"name" json:"name"`
	Subject     string    `db:"subject" json:"subject"`
	HTML        string    `db:"html" json:"html"`
	Text        string    `db:"text" json:"text"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}
