package messagingadapter

import (
	"context"
	"time"

	"acorn/internal/platform/messaging"
	"acorn/internal/shared/events"

	"github.com/google/uuid"
)

// TopicBoostEvents is where boost domain events land on the bus.
const TopicBoostEvents = "savings-incentives.boost-events"

// Publisher bridges the boost engine's EventPublisher port onto the shared
// platform bus, one envelope per affected user.
type Publisher struct {
	Bus *messaging.Bus
}

func NewPublisher(bus *messaging.Bus) *Publisher {
	return &Publisher{Bus: bus}
}

func (p *Publisher) Publish(ctx context.Context, userID string, eventType string, payload map[string]any) error {
	return p.Bus.Publish(ctx, TopicBoostEvents, events.Envelope{
		EventID:        uuid.NewString(),
		EventType:      eventType,
		SourceService:  "boost-engine",
		OccurredAtUTC:  time.Now().UTC(),
		EntityType:     "user",
		EntityID:       userID,
		PayloadVersion: 1,
		Payload:        payload,
	})
}
