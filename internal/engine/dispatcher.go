package engine

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mailroom-io/mailroom/internal/model"
	"github.com/mailroom-io/mailroom/internal/ratelimit"
	"github.com/mailroom-io/mailroom/internal/render"
	"github.com/mailroom-io/mailroom/internal/repository"
	"github.com/mailroom-io/mailroom/internal/suppression"
	"github.com/mailroom-io/mailroom/internal/transport"
	"github.com/mailroom-io/mailroom/pkg/logger"
	"github.com/mailroom-io/mailroom/pkg/metrics"
)

// RetryConfig bounds per-recipient transport retries.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	return c
}

// backoff returns the delay before the given retry (1-based attempt that
// just failed), doubling from BaseDelay up to MaxDelay.
func (c RetryConfig) backoff(attempt int) time.Duration {
	d := c.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	return d
}

// runScope carries the per-run context every dispatch shares.
type runScope struct {
	run      *model.Run
	campaign *model.Campaign
	group    *model.CampaignGroup
	profile  *model.SenderProfile
	limiter  ratelimit.Limiter
}

// Dispatcher executes the per-recipient pipeline: suppression gate,
// collision gate, render, rate-limit token, claim confirm, transport
// send with bounded retries. Every recipient it touches ends terminal
// unless the run context is cancelled first (pause), in which case the
// recipient keeps its QUEUED status for the resume.
type Dispatcher struct {
	recipients repository.RecipientRepository
	sends      repository.SendRepository
	index      *suppression.Index
	resolver   *Resolver
	renderer   render.Renderer
	transport  transport.Transport
	retry      RetryConfig
	logger     *logger.Logger
	metrics    *metrics.Metrics
}

func NewDispatcher(
	recipients repository.RecipientRepository,
	sends repository.SendRepository,
	index *suppression.Index,
	resolver *Resolver,
	renderer render.Renderer,
	tr transport.Transport,
	retry RetryConfig,
	log *logger.Logger,
	m *metrics.Metrics,
) *Dispatcher {
	return &Dispatcher{
		recipients: recipients,
		sends:      sends,
		index:      index,
		resolver:   resolver,
		renderer:   renderer,
		transport:  tr,
		retry:      retry.withDefaults(),
		logger:     log.WithComponent("dispatcher"),
		metrics:    m,
	}
}

// dispatch drives one recipient to a terminal status. It returns a
// *RunFatalError when the failure dooms every remaining recipient
// (auth/config class); any other error is recorded on the recipient and
// swallowed so siblings keep going.
func (d *Dispatcher) dispatch(ctx context.Context, scope *runScope, rec *model.Recipient) error {
	if rec.Status.Terminal() {
		// Resume never re-dispatches a finished recipient.
		return nil
	}

	// Suppression gate. Lookup failures skip rather than risk sending
	// to a suppressed address, under a reason of their own so operators
	// can tell them from real hits and retry.
	suppressed, err := d.index.IsSuppressed(ctx, scope.campaign.WorkspaceID, rec.Email)
	if err != nil {
		d.logger.Warn("suppression lookup failed, skipping recipient",
			"recipient_id", rec.ID.String(), "error", err.Error())
		return d.skip(ctx, rec, model.SkipReasonSuppressionUnverified)
	}
	if suppressed {
		d.metrics.SuppressionHits.Inc()
		return d.skip(ctx, rec, model.SkipReasonSuppressed)
	}

	// Collision gate.
	decision, err := d.resolver.Gate(ctx, scope.campaign, scope.group, scope.run, rec.SubjectID)
	if err != nil {
		if errors.Is(err, ErrClaimRace) {
			// Exhausted re-evaluation: losing the slot is always safe.
			return d.skip(ctx, rec, skipReasonFor(scope.group.CollisionPolicy))
		}
		return d.fail(ctx, rec, err.Error())
	}
	if !decision.Allowed {
		return d.skip(ctx, rec, decision.SkipReason)
	}

	if rec.Status == model.RecipientStatusPending {
		if err := d.recipients.MarkQueued(ctx, rec.ID); err != nil {
			return d.fail(ctx, rec, err.Error())
		}
		rec.Status = model.RecipientStatusQueued
	}

	rendered, err := d.renderer.Render(ctx, scope.campaign.TemplateID, rec.Vars)
	if err != nil {
		// Render failures are terminal for the recipient, never for the run.
		return d.fail(ctx, rec, err.Error())
	}

	return d.send(ctx, scope, rec, rendered)
}

func (d *Dispatcher) send(ctx context.Context, scope *runScope, rec *model.Recipient, rendered *render.Rendered) error {
	msg := &transport.Message{
		FromName:  scope.profile.FromName,
		FromEmail: scope.profile.FromEmail,
		To:        rec.Email,
		Subject:   rendered.Subject,
		HTML:      rendered.HTML,
		Text:      rendered.Text,
	}

	for attempt := 1; ; attempt++ {
		timer := prometheus.NewTimer(d.metrics.TokenWait)
		err := scope.limiter.Wait(ctx)
		timer.ObserveDuration()
		if err != nil {
			// Pause/cancel while waiting for a token: the recipient
			// stays QUEUED and resumes later.
			return err
		}

		// Past the rate-limit gate the attempt runs to completion even
		// if the run is paused meanwhile.
		sendCtx := context.WithoutCancel(ctx)

		ok, err := d.resolver.Confirm(sendCtx, scope.group, scope.run, rec.SubjectID)
		if err != nil {
			return d.fail(sendCtx, rec, err.Error())
		}
		if !ok {
			return d.skip(sendCtx, rec, skipReasonFor(scope.group.CollisionPolicy))
		}

		res, sendErr := d.transport.Send(sendCtx, msg)
		if sendErr == nil {
			d.metrics.SendsAttempted.WithLabelValues("sent").Inc()
			return d.sent(sendCtx, rec, res.ProviderMessageID)
		}

		switch transport.Classify(sendErr) {
		case transport.Fatal:
			d.metrics.SendsAttempted.WithLabelValues("fatal").Inc()
			// The recipient that surfaced the failure keeps the real
			// transport error; abort handles the rest.
			if err := d.failWithSend(sendCtx, rec, sendErr.Error()); err != nil {
				d.logger.Error(err, "failed to record fatal send", "recipient_id", rec.ID.String())
			}
			return &RunFatalError{Reason: "transport configuration failure", Err: sendErr}
		case transport.Terminal:
			d.metrics.SendsAttempted.WithLabelValues("rejected").Inc()
			return d.failWithSend(sendCtx, rec, sendErr.Error())
		default:
			d.metrics.SendsAttempted.WithLabelValues("retryable").Inc()
			if attempt >= d.retry.MaxAttempts {
				return d.failWithSend(sendCtx, rec, sendErr.Error())
			}
			d.metrics.SendRetries.Inc()
			d.logger.Debug("retrying send",
				"recipient_id", rec.ID.String(),
				"attempt", attempt,
				"error", sendErr.Error(),
			)
			if err := sleep(ctx, d.retry.backoff(attempt)); err != nil {
				return err
			}
		}
	}
}

func (d *Dispatcher) sent(ctx context.Context, rec *model.Recipient, providerMessageID string) error {
	send := &model.Send{
		RecipientID:       rec.ID,
		Status:            model.SendStatusSent,
		ProviderMessageID: &providerMessageID,
	}
	if err := d.sends.Create(ctx, send); err != nil {
		d.logger.Error(err, "failed to persist send", "recipient_id", rec.ID.String())
	}
	if err := d.recipients.MarkTerminal(ctx, rec.ID, model.RecipientStatusSent, nil); err != nil {
		return err
	}
	rec.Status = model.RecipientStatusSent
	d.metrics.RecipientsDone.WithLabelValues(string(model.RecipientStatusSent)).Inc()
	return nil
}

func (d *Dispatcher) skip(ctx context.Context, rec *model.Recipient, reason string) error {
	if err := d.recipients.MarkTerminal(ctx, rec.ID, model.RecipientStatusSkipped, &reason); err != nil {
		return err
	}
	rec.Status = model.RecipientStatusSkipped
	rec.SkipReason = &reason
	d.metrics.RecipientsDone.WithLabelValues(string(model.RecipientStatusSkipped)).Inc()
	return nil
}

func (d *Dispatcher) fail(ctx context.Context, rec *model.Recipient, reason string) error {
	if err := d.recipients.MarkTerminal(ctx, rec.ID, model.RecipientStatusFailed, &reason); err != nil {
		return err
	}
	rec.Status = model.RecipientStatusFailed
	rec.LastError = &reason
	d.metrics.RecipientsDone.WithLabelValues(string(model.RecipientStatusFailed)).Inc()
	return nil
}

// failWithSend records the failed transport attempt as a Send row before
// failing the recipient.
func (d *Dispatcher) failWithSend(ctx context.Context, rec *model.Recipient, reason string) error {
	send := &model.Send{
		RecipientID: rec.ID,
		Status:      model.SendStatusFailed,
		LastError:   &reason,
	}
	if err := d.sends.Create(ctx, send); err != nil {
		d.logger.Error(err, "failed to persist failed send", "recipient_id", rec.ID.String())
	}
	return d.fail(ctx, rec, reason)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
