package messaging

import (
	"context"
)

// Broker is the pub/sub contract used for delivery event ingestion.
// Messages are JSON-encoded by Publish.
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}
