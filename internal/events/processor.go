package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mailroom-io/mailroom/internal/model"
	"github.com/mailroom-io/mailroom/internal/repository"
	"github.com/mailroom-io/mailroom/pkg/logger"
	"github.com/mailroom-io/mailroom/pkg/messaging"
	"github.com/mailroom-io/mailroom/pkg/metrics"
)

// Processor consumes delivery events from the broker and applies them to
// send rows. It is the only writer of post-SENT send state. Bounces and
// complaints also feed the suppression list so later runs skip the
// address.
type Processor struct {
	broker       messaging.Broker
	sends        repository.SendRepository
	suppressions repository.SuppressionRepository
	logger       *logger.Logger
	metrics      *metrics.Metrics
}

func NewProcessor(
	broker messaging.Broker,
	sends repository.SendRepository,
	suppressions repository.SuppressionRepository,
	log *logger.Logger,
	m *metrics.Metrics,
) *Processor {
	return &Processor{
		broker:       broker,
		sends:        sends,
		suppressions: suppressions,
		logger:       log.WithComponent("events"),
		metrics:      m,
	}
}

// Run subscribes to the delivery channel and processes events until the
// context is cancelled. Malformed or unmatched events are logged and
// dropped; providers redeliver webhooks, so this stays at-least-once.
func (p *Processor) Run(ctx context.Context) error {
	ch, err := p.broker.Subscribe(ctx, ChannelDelivery)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", ChannelDelivery, err)
	}
	p.logger.Info("event processor started", "channel", ChannelDelivery)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-ch:
			if !ok {
				return nil
			}
			var ev DeliveryEvent
			if err := json.Unmarshal(payload, &ev); err != nil {
				p.logger.Warn("dropping malformed delivery event", "error", err.Error())
				continue
			}
			if err := p.Apply(ctx, &ev); err != nil {
				p.logger.Error(err, "failed to apply delivery event",
					"type", string(ev.Type),
					"provider_message_id", ev.ProviderMessageID,
				)
			}
		}
	}
}

// Apply resolves the event to its send row and advances the row's status.
// Events for unknown message ids or already-terminal rows are no-ops.
func (p *Processor) Apply(ctx context.Context, ev *DeliveryEvent) error {
	status, ok := sendStatusFor(ev.Type)
	if !ok {
		return fmt.Errorf("unknown delivery event type %q", ev.Type)
	}

	send, err := p.sends.GetByProviderMessageID(ctx, ev.ProviderMessageID)
	if err != nil {
		return err
	}
	if send == nil {
		p.logger.Warn("delivery event for unknown message",
			"provider_message_id", ev.ProviderMessageID)
		return nil
	}
	if send.Status.Terminal() {
		return nil
	}

	if err := p.sends.UpdateStatus(ctx, send.ID, status); err != nil {
		return err
	}
	p.metrics.EventsIngested.WithLabelValues(string(ev.Type)).Inc()

	if reason, suppress := suppressionReasonFor(ev.Type); suppress {
		if err := p.suppress(ctx, ev, reason); err != nil {
			return fmt.Errorf("failed to suppress %s: %w", model.NormalizeEmail(ev.Email), err)
		}
	}
	return nil
}

func (p *Processor) suppress(ctx context.Context, ev *DeliveryEvent, reason model.SuppressionReason) error {
	now := time.Now().UTC()
	return p.suppressions.Upsert(ctx, &model.Suppression{
		ID:          uuid.New(),
		WorkspaceID: ev.WorkspaceID,
		Email:       model.NormalizeEmail(ev.Email),
		Reason:      reason,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

func sendStatusFor(t EventType) (model.SendStatus, bool) {
	switch t {
	case EventDelivered:
		return model.SendStatusDelivered, true
	case EventBounced:
		return model.SendStatusBounced, true
	case EventComplaint:
		return model.SendStatusComplaint, true
	default:
		return "", false
	}
}

func suppressionReasonFor(t EventType) (model.SuppressionReason, bool) {
	switch t {
	case EventBounced:
		return model.SuppressionReasonBounce, true
	case EventComplaint:
		return model.SuppressionReasonComplaint, true
	default:
		return "", false
	}
}
