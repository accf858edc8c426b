// Package broker abstracts the message broker used for event fan-out.
package broker

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"relay/internal/domain"
)

// Publisher delivers an event payload on a subject. Publish must not
// return nil unless the broker acknowledged the message.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte) error
	Close()
}

// Subject derives the deterministic routing key for an outbox event.
// Unknown event types route to a sentinel key instead of being dropped
// silently.
func Subject(eventType string, aggregateID uuid.UUID) string {
	switch eventType {
	case domain.EventTypeMessageCreated:
		return fmt.Sprintf("room.%s.message.created", aggregateID)
	default:
		return fmt.Sprintf("room.%s.unknown", aggregateID)
	}
}
