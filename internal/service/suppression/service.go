package suppression

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mailroom-io/mailroom/internal/model"
	"github.com/mailroom-io/mailroom/internal/repository"
)

// SuppressionServicer manages the per-workspace suppression list.
type SuppressionServicer interface {
	List(ctx context.Context, workspaceID uuid.UUID) ([]*model.Suppression, error)
	Add(ctx context.Context, workspaceID uuid.UUID, email string, reason model.SuppressionReason) (*model.Suppression, error)
}

type Service struct {
	suppressions repository.SuppressionRepository
}

func NewService(suppressions repository.SuppressionRepository) *Service {
	return &Service{suppressions: suppressions}
}

func (s *Service) List(ctx context.Context, workspaceID uuid.UUID) ([]*model.Suppression, error) {
	return s.suppressions.List(ctx, workspaceID)
}

// Add upserts a manual suppression. The address is normalized before
// storage so lookups at dispatch time match regardless of input casing.
func (s *Service) Add(ctx context.Context, workspaceID uuid.UUID, email string, reason model.SuppressionReason) (*model.Suppression, error) {
	email = model.NormalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("invalid email address %q", email)
	}
	switch reason {
	case model.SuppressionReasonBounce, model.SuppressionReasonComplaint,
		model.SuppressionReasonUnsubscribe, model.SuppressionReasonManual:
	case "":
		reason = model.SuppressionReasonManual
	default:
		return nil, fmt.Errorf("unknown suppression reason %q", reason)
	}

	now := time.Now().UTC()
	sup := &model.Suppression{
		ID:          uuid.New(),
		WorkspaceID: workspaceID,
		Email:       email,
		Reason:      reason,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.suppressions.Upsert(ctx, sup); err != nil {
		return nil, err
	}
	return sup, nil
}
