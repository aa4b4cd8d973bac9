package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunStatusQueued           RunStatus = "QUEUED"
	RunStatusBuildingAudience RunStatus = "BUILDING_AUDIENCE"
	RunStatusDispatching      RunStatus = "DISPATCHING"
	RunStatusPaused           RunStatus = "PAUSED"
	RunStatusCompleted        RunStatus = "COMPLETED"
	RunStatusFailed           RunStatus = "FAILED"
)

// Terminal reports whether no further transitions may leave the status.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// runTransitions is the closed set of legal run status transitions.
var runTransitions = map[RunStatus][]RunStatus{
	RunStatusQueued:           {RunStatusBuildingAudience, RunStatusFailed},
	RunStatusBuildingAudience: {RunStatusDispatching, RunStatusFailed},
	RunStatusDispatching:      {RunStatusCompleted, RunStatusFailed, RunStatusPaused},
	// PAUSED -> QUEUED is the resume path: the run goes back on the
	// claim queue and the worker that picks it up skips the audience
	// build because the snapshot already exists.
	RunStatusPaused: {RunStatusQueued, RunStatusDispatching, RunStatusFailed},
}

// CanTransition reports whether from -> to is a legal run transition.
func (s RunStatus) CanTransition(to RunStatus) bool {
	for _, next := range runTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

type RunStats struct {
	Queued  int `db:"stat_queued" json:"queued"`
	Sent    int `db:"stat_sent" json:"sent"`
	Skipped int `db:"stat_skipped" json:"skipped"`
	Failed  int `db:"stat_failed" json:"failed"`
}

// Total is the number of recipients accounted for in terminal states plus
// those still queued.
func (s RunStats) Total() int {
	return s.Queued + s.Sent + s.Skipped + s.Failed
}

type Run struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	CampaignID uuid.UUID  `db:"campaign_id" json:"campaign_id"`
	Status     RunStatus  `db:"status" json:"status"`
	Stats      RunStats   `db:"stats" json:"stats"`
	Error      *string    `db:"error" json:"error,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	StartedAt  *time.Time `db:"started_at" json:"started_at,omitempty"`
	FinishedAt *time.Time `db:"finished_at" json:"finished_at,omitempty"`
}

// Transition mutates the run status after validating the edge.
func (r *Run) Transition(to RunStatus) error {
	if !r.Status.CanTransition(to) {
		return fmt.Errorf("invalid run transition %s -> %s", r.Status, to)
	}
	r.Status = to
	return nil
}
