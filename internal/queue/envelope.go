// Package queue forwards domain events to RabbitMQ and consumes them back
// into an append-only audit log.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/contract-lifecycle/internal/event"
)

// Envelope is the JSON body of every message on the events queue.
type Envelope struct {
	ID         string          `json:"id"`
	Event      string          `json:"event"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// NewEnvelope wraps ev for publishing.
func NewEnvelope(ev event.Event, at time.Time) (Envelope, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s: %w", ev.Name(), err)
	}
	return Envelope{ID: uuid.NewString(), Event: ev.Name(), OccurredAt: at.UTC(), Payload: payload}, nil
}
