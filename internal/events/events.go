package events

import (
	"time"

	"github.com/google/uuid"
)

// ChannelDelivery is the broker channel delivery events arrive on.
const ChannelDelivery = "mailroom.delivery"

type EventType string

const (
	EventDelivered EventType = "DELIVERED"
	EventBounced   EventType = "BOUNCED"
	EventComplaint EventType = "COMPLAINT"
)

// DeliveryEvent is the provider-neutral shape a webhook adapter or the
// demo simulator publishes onto the broker. Correlation is by provider
// message id, the only identifier a provider echoes back.
type DeliveryEvent struct {
	Type              EventType `json:"type"`
	ProviderMessageID string    `json:"provider_message_id"`
	WorkspaceID       uuid.UUID `json:"workspace_id"`
	Email             string    `json:"email"`
	OccurredAt        time.Time `json:"occurred_at"`
}
