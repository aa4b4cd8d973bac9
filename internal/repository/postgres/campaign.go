package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/mailroom-io/mailroom/internal/model"
	"github.com/mailroom-io/mailroom/internal/repository"
)

type campaignRepository struct {
	BaseRepository
}

func NewCampaignRepository(base BaseRepository) repository.CampaignRepository {
	return &campaignRepository{base}
}

func (r *campaignRepository) Get(ctx context.Context, id uuid.UUID) (*model.Campaign, error) {
	query := `
		SELECT id, workspace_id, group_id, name, template_id, segment_id,
		       sender_profile_id, priority, status, schedule_type, cron_expr,
		       created_at, updated_at
		FROM campaigns
		WHERE id = $1
	`
	var campaign model.Campaign
	if err := r.db.GetContext(ctx, &campaign, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("campaign %s not found", id)
		}
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	return &campaign, nil
}

func (r *campaignRepository) GetGroup(ctx context.Context, id uuid.UUID) (*model.CampaignGroup, error) {
	query := `
		SELECT id, workspace_id, name, collision_window_seconds, collision_policy, created_at
		FROM campaign_groups
		WHERE id = $1
	`
	var group model.CampaignGroup
	if err := r.db.GetContext(ctx, &group, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("campaign group %s not found", id)
		}
		return nil, fmt.Errorf("failed to get campaign group: %w", err)
	}
	return &group, nil
}

func (r *campaignRepository) GetSenderProfile(ctx context.Context, id uuid.UUID) (*model.SenderProfile, error) {
	query := `
		SELECT id, workspace_id, from_name, from_email, rate_limit_per_second, created_at
		FROM sender_profiles
		WHERE id = $1
	`
	var profile model.SenderProfile
	if err := r.db.GetContext(ctx, &profile, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("sender profile %s not found", id)
		}
		return nil, fmt.Errorf("failed to get sender profile: %w", err)
	}
	return &profile, nil
}

func (r *campaignRepository) GetSegment(ctx context.Context, id uuid.UUID) (*model.Segment, error) {
	query := `
		SELECT id, workspace_id, name, query, data_connector_id, row_limit, created_at
		FROM segments
		WHERE id = $1
	`
	var segment model.Segment
	if err := r.db.GetContext(ctx, &segment, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("segment %s not found", id)
		}
		return nil, fmt.Errorf("failed to get segment: %w", err)
	}
	return &segment, nil
}

func (r *campaignRepository) GetTemplate(ctx context.Context, id uuid.UUID) (*model.Template, error) {
	query := `
		SELECT id, workspace_id, name, subject, html, text, created_at, updated_at
		FROM templates
		WHERE id = $1
	`
	var tpl model.Template
	if err := r.db.GetContext(ctx, &tpl, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("template %s not found", id)
		}
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return &tpl, nil
}

func (r *campaignRepository) ListScheduled(ctx context.Context) ([]*model.Campaign, error) {
	query := `
		SELECT id, workspace_id, group_id, name, template_id, segment_id,
		       sender_profile_id, priority, status, schedule_type, cron_expr,
		       created_at, updated_at
		FROM campaigns
		WHERE status = $1 AND schedule_type = $2 AND cron_expr <> ''
	`
	var campaigns []*model.Campaign
	err := r.db.SelectContext(ctx, &campaigns, query, model.CampaignStatusActive, model.ScheduleCron)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled campaigns: %w", err)
	}
	return campaigns, nil
}
