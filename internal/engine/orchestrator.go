package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mailroom-io/mailroom/internal/model"
	"github.com/mailroom-io/mailroom/internal/ratelimit"
	"github.com/mailroom-io/mailroom/internal/repository"
	"github.com/mailroom-io/mailroom/pkg/logger"
	"github.com/mailroom-io/mailroom/pkg/metrics"
)

// Config tunes run execution.
type Config struct {
	// Concurrency bounds the per-run dispatch fan-out. The rate limiter
	// caps throughput; this caps in-flight work.
	Concurrency int
	// DefaultRatePerSecond applies to sender profiles without an
	// override.
	DefaultRatePerSecond int
	Retry                RetryConfig
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	if c.DefaultRatePerSecond <= 0 {
		c.DefaultRatePerSecond = 10
	}
	c.Retry = c.Retry.withDefaults()
	return c
}

// Orchestrator drives a campaign run through its state machine:
// QUEUED -> BUILDING_AUDIENCE -> DISPATCHING -> COMPLETED/FAILED, with
// PAUSED as the resumable side exit from DISPATCHING.
type Orchestrator struct {
	campaigns  repository.CampaignRepository
	runs       repository.RunRepository
	recipients repository.RecipientRepository
	builder    *AudienceBuilder
	dispatcher *Dispatcher
	limiters   ratelimit.Registry
	cfg        Config
	logger     *logger.Logger
	metrics    *metrics.Metrics

	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc
}

func NewOrchestrator(
	campaigns repository.CampaignRepository,
	runs repository.RunRepository,
	recipients repository.RecipientRepository,
	builder *AudienceBuilder,
	dispatcher *Dispatcher,
	limiters ratelimit.Registry,
	cfg Config,
	log *logger.Logger,
	m *metrics.Metrics,
) *Orchestrator {
	return &Orchestrator{
		campaigns:  campaigns,
		runs:       runs,
		recipients: recipients,
		builder:    builder,
		dispatcher: dispatcher,
		limiters:   limiters,
		cfg:        cfg.withDefaults(),
		logger:     log.WithComponent("orchestrator"),
		metrics:    m,
	}
}

// Trigger creates a QUEUED run for the campaign and returns it
// immediately; a worker executes it asynchronously. Campaigns that are
// neither ACTIVE nor DRAFT-with-override are rejected.
func (o *Orchestrator) Trigger(ctx context.Context, campaignID uuid.UUID, manualOverride bool) (*model.Run, error) {
	campaign, err := o.campaigns.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if !campaign.Triggerable(manualOverride) {
		return nil, fmt.Errorf("%w: campaign %s is %s", ErrInvalidState, campaignID, campaign.Status)
	}

	run := &model.Run{
		ID:         uuid.New(),
		CampaignID: campaignID,
		Status:     model.RunStatusQueued,
		CreatedAt:  time.Now().UTC(),
	}
	if err := o.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	o.logger.Info("run queued", "run_id", run.ID.String(), "campaign_id", campaignID.String())
	return run, nil
}

// Execute drives a run to COMPLETED, FAILED, or PAUSED. The run arrives
// QUEUED (direct execution), BUILDING_AUDIENCE (claimed by a worker), or
// PAUSED (resume).
func (o *Orchestrator) Execute(ctx context.Context, run *model.Run) error {
	started := time.Now()
	o.metrics.RunsStarted.WithLabelValues(run.CampaignID.String()).Inc()

	scope, err := o.loadScope(ctx, run)
	if err != nil {
		return o.abort(ctx, run, &RunFatalError{Reason: "failed to load run configuration", Err: err})
	}

	switch run.Status {
	case model.RunStatusQueued:
		if err := o.transition(ctx, run, model.RunStatusBuildingAudience, nil); err != nil {
			return err
		}
		fallthrough
	case model.RunStatusBuildingAudience:
		built, err := o.snapshotExists(ctx, run)
		if err != nil {
			return o.abort(ctx, run, &RunFatalError{Reason: "failed to inspect audience", Err: err})
		}
		if !built {
			segment, err := o.campaigns.GetSegment(ctx, scope.campaign.SegmentID)
			if err != nil {
				return o.abort(ctx, run, &RunFatalError{Reason: "segment unavailable", Err: err})
			}
			n, err := o.builder.Build(ctx, run, segment)
			if err != nil {
				// Audience failures persist zero recipients; the campaign
				// itself is untouched and can be retriggered.
				return o.abort(ctx, run, err)
			}
			run.Stats.Queued = n
			if err := o.runs.UpdateStats(ctx, run.ID, run.Stats); err != nil {
				return o.abort(ctx, run, &RunFatalError{Reason: "failed to persist stats", Err: err})
			}
		}
		if err := o.transition(ctx, run, model.RunStatusDispatching, nil); err != nil {
			return err
		}
	case model.RunStatusPaused:
		if err := o.transition(ctx, run, model.RunStatusDispatching, nil); err != nil {
			return err
		}
	case model.RunStatusDispatching:
		// Crash recovery: re-enter dispatch against the persisted
		// snapshot; terminal recipients are skipped.
	default:
		return fmt.Errorf("run %s is %s, not executable", run.ID, run.Status)
	}

	err = o.dispatchAll(ctx, scope)
	switch {
	case err == nil:
		if err := o.finalizeStats(ctx, scope.run); err != nil {
			return o.abort(ctx, scope.run, &RunFatalError{Reason: "failed to finalize stats", Err: err})
		}
		if err := o.transition(ctx, scope.run, model.RunStatusCompleted, nil); err != nil {
			return err
		}
		o.metrics.RunsFinished.WithLabelValues(string(model.RunStatusCompleted)).Inc()
		o.metrics.RunDuration.Observe(time.Since(started).Seconds())
		o.logger.Info("run completed",
			"run_id", scope.run.ID.String(),
			"sent", scope.run.Stats.Sent,
			"skipped", scope.run.Stats.Skipped,
			"failed", scope.run.Stats.Failed,
		)
		return nil
	case isCancellation(err):
		// Pause or shutdown: in-flight dispatches have completed, the
		// rest of the snapshot stays for the resume.
		if err := o.finalizeStats(context.WithoutCancel(ctx), scope.run); err != nil {
			o.logger.Error(err, "failed to persist stats on pause", "run_id", scope.run.ID.String())
		}
		if terr := o.transition(context.WithoutCancel(ctx), scope.run, model.RunStatusPaused, nil); terr != nil {
			return terr
		}
		o.logger.Info("run paused", "run_id", scope.run.ID.String())
		return nil
	default:
		return o.abort(context.WithoutCancel(ctx), scope.run, err)
	}
}

// Pause stops an executing run after its in-flight dispatches complete.
func (o *Orchestrator) Pause(runID uuid.UUID) error {
	o.mu.Lock()
	cancel, ok := o.cancels[runID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("run %s is not executing", runID)
	}
	cancel()
	return nil
}

// Resume puts a PAUSED run back on the claim queue. Whichever worker
// claims it skips the audience build, since the snapshot already
// exists, and dispatch ignores recipients already terminal.
func (o *Orchestrator) Resume(ctx context.Context, runID uuid.UUID) (*model.Run, error) {
	run, err := o.runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != model.RunStatusPaused {
		return nil, fmt.Errorf("%w: run %s is %s", ErrInvalidState, runID, run.Status)
	}
	if err := o.transition(ctx, run, model.RunStatusQueued, nil); err != nil {
		return nil, err
	}
	o.logger.Info("run requeued for resume", "run_id", runID.String())
	return run, nil
}

// snapshotExists reports whether a recipient snapshot was already
// persisted for the run, distinguishing a fresh run from a resumed or
// crash-recovered one.
func (o *Orchestrator) snapshotExists(ctx context.Context, run *model.Run) (bool, error) {
	counts, err := o.recipients.CountByStatus(ctx, run.ID)
	if err != nil {
		return false, err
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	return total > 0, nil
}

func (o *Orchestrator) loadScope(ctx context.Context, run *model.Run) (*runScope, error) {
	campaign, err := o.campaigns.Get(ctx, run.CampaignID)
	if err != nil {
		return nil, err
	}
	group, err := GroupFor(ctx, o.campaigns, campaign)
	if err != nil {
		return nil, err
	}
	profile, err := o.campaigns.GetSenderProfile(ctx, campaign.SenderProfileID)
	if err != nil {
		return nil, err
	}
	rate := profile.RateLimitPerSecond
	if rate <= 0 {
		rate = o.cfg.DefaultRatePerSecond
	}
	return &runScope{
		run:      run,
		campaign: campaign,
		group:    group,
		profile:  profile,
		limiter:  o.limiters.For(profile.ID, rate),
	}, nil
}

// dispatchAll fans recipient dispatch across a bounded worker pool.
// Recipient order is the repository's deterministic subject order; the
// pool does not preserve it, which is fine since only collision
// decisions are order-sensitive and those serialize on claims.
func (o *Orchestrator) dispatchAll(ctx context.Context, scope *runScope) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.mu.Lock()
	if o.cancels == nil {
		o.cancels = make(map[uuid.UUID]context.CancelFunc)
	}
	o.cancels[scope.run.ID] = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.cancels, scope.run.ID)
		o.mu.Unlock()
	}()

	pending, err := o.recipients.ListPending(runCtx, scope.run.ID)
	if err != nil {
		return &RunFatalError{Reason: "failed to list recipients", Err: err}
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(o.cfg.Concurrency)
	for _, rec := range pending {
		rec := rec
		g.Go(func() error {
			return o.dispatcher.dispatch(gctx, scope, rec)
		})
	}
	return g.Wait()
}

// abort fails the run: remaining non-terminal recipients are marked
// FAILED with RUN_ABORTED, already-terminal recipients are untouched.
func (o *Orchestrator) abort(ctx context.Context, run *model.Run, cause error) error {
	var fatal *RunFatalError
	if !errors.As(cause, &fatal) {
		fatal = &RunFatalError{Reason: "unexpected failure", Err: cause}
	}

	if _, err := o.recipients.FailPending(ctx, run.ID, model.FailReasonRunAborted); err != nil {
		o.logger.Error(err, "failed to mark pending recipients aborted", "run_id", run.ID.String())
	}
	if err := o.finalizeStats(ctx, run); err != nil {
		o.logger.Error(err, "failed to finalize stats on abort", "run_id", run.ID.String())
	}

	msg := fatal.Error()
	if err := o.transition(ctx, run, model.RunStatusFailed, &msg); err != nil {
		return err
	}
	o.metrics.RunsFinished.WithLabelValues(string(model.RunStatusFailed)).Inc()
	o.logger.Error(fatal, "run failed", "run_id", run.ID.String())
	return fatal
}

// finalizeStats recomputes stats from the recipient table so the
// persisted counts are consistent with recipient rows at terminal time.
func (o *Orchestrator) finalizeStats(ctx context.Context, run *model.Run) error {
	counts, err := o.recipients.CountByStatus(ctx, run.ID)
	if err != nil {
		return err
	}
	run.Stats = model.RunStats{
		Queued:  counts[model.RecipientStatusPending] + counts[model.RecipientStatusQueued],
		Sent:    counts[model.RecipientStatusSent],
		Skipped: counts[model.RecipientStatusSkipped],
		Failed:  counts[model.RecipientStatusFailed],
	}
	return o.runs.UpdateStats(ctx, run.ID, run.Stats)
}

func (o *Orchestrator) transition(ctx context.Context, run *model.Run, to model.RunStatus, runErr *string) error {
	if err := run.Transition(to); err != nil {
		return err
	}
	return o.runs.UpdateStatus(ctx, run.ID, to, runErr)
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
