// Package memory provides in-memory repository implementations backing
// tests and demo mode. Semantics mirror the postgres package, including
// the terminal-status guards and atomic claim insert.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mailroom-io/mailroom/internal/model"
)

// Store holds all in-memory tables behind one lock.
type Store struct {
	mu sync.Mutex

	campaigns  map[uuid.UUID]*model.Campaign
	groups     map[uuid.UUID]*model.CampaignGroup
	profiles   map[uuid.UUID]*model.SenderProfile
	segments   map[uuid.UUID]*model.Segment
	templates  map[uuid.UUID]*model.Template
	runs       map[uuid.UUID]*model.Run
	recipients map[uuid.UUID]*model.Recipient
	sends      map[uuid.UUID]*model.Send

	suppressions map[suppressionKey]*model.Suppression
	claims       map[claimKey]*model.CollisionClaim
}

type suppressionKey struct {
	workspaceID uuid.UUID
	email       string
}

type claimKey struct {
	groupID   uuid.UUID
	subjectID string
}

func NewStore() *Store {
	return &Store{
		campaigns:    make(map[uuid.UUID]*model.Campaign),
		groups:       make(map[uuid.UUID]*model.CampaignGroup),
		profiles:     make(map[uuid.UUID]*model.SenderProfile),
		segments:     make(map[uuid.UUID]*model.Segment),
		templates:    make(map[uuid.UUID]*model.Template),
		runs:         make(map[uuid.UUID]*model.Run),
		recipients:   make(map[uuid.UUID]*model.Recipient),
		sends:        make(map[uuid.UUID]*model.Send),
		suppressions: make(map[suppressionKey]*model.Suppression),
		claims:       make(map[claimKey]*model.CollisionClaim),
	}
}

// Seed helpers for tests and demo fixtures.

func (s *Store) PutCampaign(c *model.Campaign) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.campaigns[c.ID] = &cp
}

func (s *Store) PutGroup(g *model.CampaignGroup) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *g
	s.groups[g.ID] = &cp
}

func (s *Store) PutSenderProfile(p *model.SenderProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.profiles[p.ID] = &cp
}

func (s *Store) PutSegment(seg *model.Segment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *seg
	s.segments[seg.ID] = &cp
}

func (s *Store) PutTemplate(t *model.Template) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.templates[t.ID] = &cp
}

// CampaignRepository

type CampaignRepo struct{ store *Store }

func NewCampaignRepo(store *Store) *CampaignRepo { return &CampaignRepo{store} }

func (r *CampaignRepo) Get(_ context.Context, id uuid.UUID) (*model.Campaign, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c, ok := r.store.campaigns[id]
	if !ok {
		return nil, fmt.Errorf("campaign %s not found", id)
	}
	cp := *c
	return &cp, nil
}

func (r *CampaignRepo) GetGroup(_ context.Context, id uuid.UUID) (*model.CampaignGroup, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	g, ok := r.store.groups[id]
	if !ok {
		return nil, fmt.Errorf("campaign group %s not found", id)
	}
	cp := *g
	return &cp, nil
}

func (r *CampaignRepo) GetSenderProfile(_ context.Context, id uuid.UUID) (*model.SenderProfile, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	p, ok := r.store.profiles[id]
	if !ok {
		return nil, fmt.Errorf("sender profile %s not found", id)
	}
	cp := *p
	return &cp, nil
}

func (r *CampaignRepo) GetSegment(_ context.Context, id uuid.UUID) (*model.Segment, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	seg, ok := r.store.segments[id]
	if !ok {
		return nil, fmt.Errorf("segment %s not found", id)
	}
	cp := *seg
	return &cp, nil
}

func (r *CampaignRepo) GetTemplate(_ context.Context, id uuid.UUID) (*model.Template, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	t, ok := r.store.templates[id]
	if !ok {
		return nil, fmt.Errorf("template %s not found", id)
	}
	cp := *t
	return &cp, nil
}

func (r *CampaignRepo) ListScheduled(_ context.Context) ([]*model.Campaign, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []*model.Campaign
	for _, c := range r.store.campaigns {
		if c.Status == model.CampaignStatusActive && c.ScheduleType == model.ScheduleCron && c.CronExpr != "" {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

// RunRepository

type RunRepo struct{ store *Store }

func NewRunRepo(store *Store) *RunRepo { return &RunRepo{store} }

func (r *RunRepo) Create(_ context.Context, run *model.Run) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	cp := *run
	r.store.runs[run.ID] = &cp
	return nil
}

func (r *RunRepo) Get(_ context.Context, id uuid.UUID) (*model.Run, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	run, ok := r.store.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s not found", id)
	}
	cp := *run
	return &cp, nil
}

func (r *RunRepo) UpdateStatus(_ context.Context, id uuid.UUID, status model.RunStatus, runErr *string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	run, ok := r.store.runs[id]
	if !ok {
		return fmt.Errorf("run %s not found", id)
	}
	now := time.Now().UTC()
	run.Status = status
	run.Error = runErr
	switch status {
	case model.RunStatusBuildingAudience:
		run.StartedAt = &now
	case model.RunStatusCompleted, model.RunStatusFailed:
		run.FinishedAt = &now
	}
	return nil
}

func (r *RunRepo) UpdateStats(_ context.Context, id uuid.UUID, stats model.RunStats) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	run, ok := r.store.runs[id]
	if !ok {
		return fmt.Errorf("run %s not found", id)
	}
	run.Stats = stats
	return nil
}

func (r *RunRepo) ClaimQueued(_ context.Context, limit int) ([]*model.Run, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var queued []*model.Run
	for _, run := range r.store.runs {
		if run.Status == model.RunStatusQueued {
			queued = append(queued, run)
		}
	}
	sort.Slice(queued, func(i, j int) bool { return queued[i].CreatedAt.Before(queued[j].CreatedAt) })
	if len(queued) > limit {
		queued = queued[:limit]
	}
	now := time.Now().UTC()
	out := make([]*model.Run, 0, len(queued))
	for _, run := range queued {
		run.Status = model.RunStatusBuildingAudience
		run.StartedAt = &now
		cp := *run
		out = append(out, &cp)
	}
	return out, nil
}

func (r *RunRepo) ListActiveByCampaign(_ context.Context, campaignID uuid.UUID) ([]*model.Run, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []*model.Run
	for _, run := range r.store.runs {
		if run.CampaignID == campaignID && !run.Status.Terminal() {
			cp := *run
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// RecipientRepository

type RecipientRepo struct{ store *Store }

func NewRecipientRepo(store *Store) *RecipientRepo { return &RecipientRepo{store} }

func (r *RecipientRepo) BulkInsert(_ context.Context, recipients []*model.Recipient) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	now := time.Now().UTC()
	for _, rec := range recipients {
		if rec.ID == uuid.Nil {
			rec.ID = uuid.New()
		}
		rec.CreatedAt = now
		rec.UpdatedAt = now
		cp := *rec
		r.store.recipients[rec.ID] = &cp
	}
	return nil
}

func (r *RecipientRepo) Get(_ context.Context, id uuid.UUID) (*model.Recipient, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	rec, ok := r.store.recipients[id]
	if !ok {
		return nil, fmt.Errorf("recipient %s not found", id)
	}
	cp := *rec
	return &cp, nil
}

func (r *RecipientRepo) ListPending(_ context.Context, runID uuid.UUID) ([]*model.Recipient, error) {
	return r.list(runID, true), nil
}

func (r *RecipientRepo) List(_ context.Context, runID uuid.UUID) ([]*model.Recipient, error) {
	return r.list(runID, false), nil
}

func (r *RecipientRepo) list(runID uuid.UUID, pendingOnly bool) []*model.Recipient {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []*model.Recipient
	for _, rec := range r.store.recipients {
		if rec.RunID != runID {
			continue
		}
		if pendingOnly && rec.Status.Terminal() {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubjectID < out[j].SubjectID })
	return out
}

func (r *RecipientRepo) MarkTerminal(_ context.Context, id uuid.UUID, status model.RecipientStatus, reason *string) error {
	if !status.Terminal() {
		return fmt.Errorf("status %s is not terminal", status)
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	rec, ok := r.store.recipients[id]
	if !ok {
		return fmt.Errorf("recipient %s not found", id)
	}
	if rec.Status.Terminal() {
		return fmt.Errorf("recipient %s already terminal", id)
	}
	rec.Status = status
	switch status {
	case model.RecipientStatusSkipped:
		rec.SkipReason = reason
	case model.RecipientStatusFailed:
		rec.LastError = reason
	}
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *RecipientRepo) MarkQueued(_ context.Context, id uuid.UUID) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	rec, ok := r.store.recipients[id]
	if !ok {
		return fmt.Errorf("recipient %s not found", id)
	}
	if rec.Status != model.RecipientStatusPending {
		return fmt.Errorf("recipient %s not pending", id)
	}
	rec.Status = model.RecipientStatusQueued
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *RecipientRepo) FailPending(_ context.Context, runID uuid.UUID, reason string) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var n int64
	for _, rec := range r.store.recipients {
		if rec.RunID == runID && !rec.Status.Terminal() {
			rec.Status = model.RecipientStatusFailed
			msg := reason
			rec.LastError = &msg
			rec.UpdatedAt = time.Now().UTC()
			n++
		}
	}
	return n, nil
}

func (r *RecipientRepo) CountByStatus(_ context.Context, runID uuid.UUID) (map[model.RecipientStatus]int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	counts := make(map[model.RecipientStatus]int)
	for _, rec := range r.store.recipients {
		if rec.RunID == runID {
			counts[rec.Status]++
		}
	}
	return counts, nil
}

// SendRepository

type SendRepo struct{ store *Store }

func NewSendRepo(store *Store) *SendRepo { return &SendRepo{store} }

func (r *SendRepo) Create(_ context.Context, send *model.Send) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if send.ID == uuid.Nil {
		send.ID = uuid.New()
	}
	now := time.Now().UTC()
	send.CreatedAt = now
	send.UpdatedAt = now
	cp := *send
	r.store.sends[send.ID] = &cp
	return nil
}

func (r *SendRepo) GetByProviderMessageID(_ context.Context, providerMessageID string) (*model.Send, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, send := range r.store.sends {
		if send.ProviderMessageID != nil && *send.ProviderMessageID == providerMessageID {
			cp := *send
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *SendRepo) ListByRecipient(_ context.Context, recipientID uuid.UUID) ([]*model.Send, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []*model.Send
	for _, send := range r.store.sends {
		if send.RecipientID == recipientID {
			cp := *send
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *SendRepo) UpdateStatus(_ context.Context, id uuid.UUID, status model.SendStatus) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	send, ok := r.store.sends[id]
	if !ok {
		return fmt.Errorf("send %s not found", id)
	}
	if send.Status.Terminal() {
		return fmt.Errorf("send %s already terminal", id)
	}
	send.Status = status
	send.UpdatedAt = time.Now().UTC()
	return nil
}

// SuppressionRepository

type SuppressionRepo struct{ store *Store }

func NewSuppressionRepo(store *Store) *SuppressionRepo { return &SuppressionRepo{store} }

func (r *SuppressionRepo) Get(_ context.Context, workspaceID uuid.UUID, email string) (*model.Suppression, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	s, ok := r.store.suppressions[suppressionKey{workspaceID, model.NormalizeEmail(email)}]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *SuppressionRepo) Upsert(_ context.Context, s *model.Suppression) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.Email = model.NormalizeEmail(s.Email)
	now := time.Now().UTC()
	key := suppressionKey{s.WorkspaceID, s.Email}
	if existing, ok := r.store.suppressions[key]; ok {
		existing.Reason = s.Reason
		existing.UpdatedAt = now
		return nil
	}
	s.CreatedAt = now
	s.UpdatedAt = now
	cp := *s
	r.store.suppressions[key] = &cp
	return nil
}

func (r *SuppressionRepo) List(_ context.Context, workspaceID uuid.UUID) ([]*model.Suppression, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []*model.Suppression
	for key, s := range r.store.suppressions {
		if key.workspaceID == workspaceID {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

// ClaimRepository

type ClaimRepo struct{ store *Store }

func NewClaimRepo(store *Store) *ClaimRepo { return &ClaimRepo{store} }

func (r *ClaimRepo) Claim(_ context.Context, claim *model.CollisionClaim) (bool, *model.CollisionClaim, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	key := claimKey{claim.GroupID, claim.SubjectID}
	now := time.Now().UTC()
	existing, ok := r.store.claims[key]
	if ok && existing.ExpiresAt.After(now) {
		takeover := !existing.Committed && claim.Rank < existing.Rank
		if !takeover {
			cp := *existing
			return false, &cp, nil
		}
	}
	claim.ClaimedAt = now
	claim.Committed = false
	cp := *claim
	r.store.claims[key] = &cp
	return true, claim, nil
}

func (r *ClaimRepo) Commit(_ context.Context, groupID uuid.UUID, subjectID string, runID uuid.UUID) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	claim, ok := r.store.claims[claimKey{groupID, subjectID}]
	if !ok || claim.RunID != runID || !claim.ExpiresAt.After(time.Now().UTC()) {
		return false, nil
	}
	claim.Committed = true
	return true, nil
}

func (r *ClaimRepo) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var n int64
	for key, claim := range r.store.claims {
		if claim.ExpiresAt.Before(before) {
			delete(r.store.claims, key)
			n++
		}
	}
	return n, nil
}
