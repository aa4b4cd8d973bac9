package events

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/mailroom-io/mailroom/pkg/logger"
	"github.com/mailroom-io/mailroom/pkg/messaging"
)

// ChannelControl carries run control requests from the API to whichever
// worker is executing the run.
const ChannelControl = "mailroom.control"

type ControlAction string

const ControlPause ControlAction = "PAUSE"

type ControlMessage struct {
	Action ControlAction `json:"action"`
	RunID  uuid.UUID     `json:"run_id"`
}

// ControlPublisher broadcasts control requests. The API process is not
// executing runs, so pausing has to go over the broker.
type ControlPublisher struct {
	broker messaging.Broker
}

func NewControlPublisher(broker messaging.Broker) *ControlPublisher {
	return &ControlPublisher{broker: broker}
}

func (p *ControlPublisher) Pause(ctx context.Context, runID uuid.UUID) error {
	return p.broker.Publish(ctx, ChannelControl, ControlMessage{
		Action: ControlPause,
		RunID:  runID,
	})
}

// RunPauser is the slice of the orchestrator the control listener uses.
type RunPauser interface {
	Pause(runID uuid.UUID) error
}

// ControlListener applies control requests on the worker side. Requests
// for runs this worker is not executing are ignored; the worker that
// holds the run also receives the broadcast.
type ControlListener struct {
	broker messaging.Broker
	pauser RunPauser
	logger *logger.Logger
}

func NewControlListener(broker messaging.Broker, pauser RunPauser, log *logger.Logger) *ControlListener {
	return &ControlListener{
		broker: broker,
		pauser: pauser,
		logger: log.WithComponent("control"),
	}
}

func (l *ControlListener) Run(ctx context.Context) error {
	ch, err := l.broker.Subscribe(ctx, ChannelControl)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-ch:
			if !ok {
				return nil
			}
			var msg ControlMessage
			if err := json.Unmarshal(payload, &msg); err != nil {
				l.logger.Warn("dropping malformed control message", "error", err.Error())
				continue
			}
			if msg.Action != ControlPause {
				l.logger.Warn("unknown control action", "action", string(msg.Action))
				continue
			}
			if err := l.pauser.Pause(msg.RunID); err != nil {
				// Some other worker owns the run.
				l.logger.Debug("ignoring pause for run not executing here",
					"run_id", msg.RunID.String())
			}
		}
	}
}
