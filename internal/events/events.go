package events

import (
	"time"

	"github.com/spec-kit/ticket-bridge/internal/domain"
)

// EventAny subscribes a handler to every published event.
const EventAny domain.EventType = "*"

// Event is a verified webhook delivery travelling on the bus.
type Event struct {
	Name       domain.EventType
	DeliveryID string
	HookID     string
	ReceivedAt time.Time
	Payload    domain.WebhookPayload
}
