package events

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mailroom-io/mailroom/internal/transport"
	"github.com/mailroom-io/mailroom/pkg/logger"
	"github.com/mailroom-io/mailroom/pkg/messaging"
)

// Simulator decorates a Transport for demo deployments without a real
// provider webhook: after each accepted send it publishes a synthetic
// delivery event a short delay later. Roughly 94% of sends deliver, 5%
// bounce, 1% draw a complaint.
type Simulator struct {
	inner       transport.Transport
	broker      messaging.Broker
	workspaceID uuid.UUID
	logger      *logger.Logger

	mu  sync.Mutex
	rng *rand.Rand
	wg  sync.WaitGroup
}

func NewSimulator(inner transport.Transport, broker messaging.Broker, workspaceID uuid.UUID, log *logger.Logger) *Simulator {
	return &Simulator{
		inner:       inner,
		broker:      broker,
		workspaceID: workspaceID,
		logger:      log.WithComponent("simulator"),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *Simulator) Send(ctx context.Context, msg *transport.Message) (*transport.Result, error) {
	res, err := s.inner.Send(ctx, msg)
	if err != nil {
		return nil, err
	}

	ev := DeliveryEvent{
		Type:              s.draw(),
		ProviderMessageID: res.ProviderMessageID,
		WorkspaceID:       s.workspaceID,
		Email:             msg.To,
		OccurredAt:        time.Now().UTC(),
	}
	delay := s.delay()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		if err := s.broker.Publish(ctx, ChannelDelivery, ev); err != nil {
			s.logger.Warn("failed to publish synthetic event", "error", err.Error())
		}
	}()
	return res, nil
}

// Drain waits for pending synthetic events, for orderly shutdown.
func (s *Simulator) Drain() { s.wg.Wait() }

func (s *Simulator) draw() EventType {
	s.mu.Lock()
	n := s.rng.Intn(100)
	s.mu.Unlock()
	switch {
	case n < 94:
		return EventDelivered
	case n < 99:
		return EventBounced
	default:
		return EventComplaint
	}
}

func (s *Simulator) delay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return 200*time.Millisecond + time.Duration(s.rng.Intn(800))*time.Millisecond
}
