package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "DRAFT"
	CampaignStatusActive    CampaignStatus = "ACTIVE"
	CampaignStatusPaused    CampaignStatus = "PAUSED"
	CampaignStatusArchived  CampaignStatus = "ARCHIVED"
	CampaignStatusCompleted CampaignStatus = "COMPLETED"
)

type ScheduleType string

const (
	ScheduleManual ScheduleType = "MANUAL"
	ScheduleCron   ScheduleType = "CRON"
)

type CollisionPolicy string

const (
	// HighestPriorityWins skips a recipient when another campaign in the
	// group with a higher priority targeted the same subject inside the
	// collision window. Lower numeric priority value means higher priority.
	HighestPriorityWins CollisionPolicy = "HIGHEST_PRIORITY_WINS"
	// FirstQueuedWins skips a recipient when any other campaign in the
	// group queued the same subject first, regardless of priority.
	FirstQueuedWins CollisionPolicy = "FIRST_QUEUED_WINS"
	// SendAll disables collision detection for the group.
	SendAll CollisionPolicy = "SEND_ALL"
)

const (
	MinCollisionWindowSeconds = 3600
	MaxCollisionWindowSeconds = 604800
)

type CampaignGroup struct {
	ID                     uuid.UUID       `db:"id" json:"id"`
	WorkspaceID            uuid.UUID       `db:"workspace_id" json:"workspace_id"`
	Name                   string          `db:"name" json:"name"`
	CollisionWindowSeconds int             `db:"collision_window_seconds" json:"collision_window_seconds"`
	CollisionPolicy        CollisionPolicy `db:"collision_policy" json:"collision_policy"`
	CreatedAt              time.Time       `db:"created_at" json:"created_at"`
}

func (g *CampaignGroup) Validate() error {
	if g.CollisionWindowSeconds < MinCollisionWindowSeconds || g.CollisionWindowSeconds > MaxCollisionWindowSeconds {
		return fmt.Errorf("collision window %ds outside [%d, %d]",
			g.CollisionWindowSeconds, MinCollisionWindowSeconds, MaxCollisionWindowSeconds)
	}
	switch g.CollisionPolicy {
	case HighestPriorityWins, FirstQueuedWins, SendAll:
		return nil
	default:
		return fmt.Errorf("unknown collision policy %q", g.CollisionPolicy)
	}
}

// CollisionWindow returns the group's window as a duration.
func (g *CampaignGroup) CollisionWindow() time.Duration {
	return time.Duration(g.CollisionWindowSeconds) * time.Second
}

type Campaign struct {
	ID              uuid.UUID      `db:"id" json:"id"`
	WorkspaceID     uuid.UUID      `db:"workspace_id" json:"workspace_id"`
	GroupID         *uuid.UUID     `db:"group_id" json:"group_id,omitempty"`
	Name            string         `db:"name" json:"name"`
	TemplateID      uuid.UUID      `db:"template_id" json:"template_id"`
	SegmentID       uuid.UUID      `db:"segment_id" json:"segment_id"`
	SenderProfileID uuid.UUID      `db:"sender_profile_id" json:"sender_profile_id"`
	Priority        int            `db:"priority" json:"priority"`
	Status          CampaignStatus `db:"status" json:"status"`
	ScheduleType    ScheduleType   `db:"schedule_type" json:"schedule_type"`
	CronExpr        string         `db:"cron_expr" json:"cron_expr,omitempty"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`
}

// Triggerable reports whether a run may be created for the campaign.
// DRAFT campaigns can only be triggered with an explicit manual override.
func (c *Campaign) Triggerable(manualOverride bool) bool {
	switch c.Status {
	case CampaignStatusActive:
		return true
	case CampaignStatusDraft:
		return manualOverride
	default:
		return false
	}
}

type SenderProfile struct {
	ID                 uuid.UUID `db:"id" json:"id"`
	WorkspaceID        uuid.UUID `db:"workspace_id" json:"workspace_id"`
	FromName           string    `db:"from_name" json:"from_name"`
	FromEmail          string    `db:"from_email" json:"from_email"`
	RateLimitPerSecond int       `db:"rate_limit_per_second" json:"rate_limit_per_second"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
}

type Segment struct {
	ID              uuid.UUID `db:"id" json:"id"`
	WorkspaceID     uuid.UUID `db:"workspace_id" json:"workspace_id"`
	Name            string    `db:"name" json:"name"`
	Query           string    `db:"query" json:"query"`
	DataConnectorID uuid.UUID `db:"data_connector_id" json:"data_connector_id"`
	RowLimit        int       `db:"row_limit" json:"row_limit"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}
