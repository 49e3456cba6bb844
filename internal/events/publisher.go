package events

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
)

// Event is a lifecycle fact published to external collaborators.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Recipient  string    `json:"recipient,omitempty"`
	Payload    any       `json:"payload"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewEvent builds an event with a fresh ID.
func NewEvent(eventType, recipient string, payload any) Event {
	return Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		Recipient:  recipient,
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher delivers events. Delivery happens after the state change is committed.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// LogPublisher writes events to the process log. It is used when no broker is configured.
type LogPublisher struct{}

// NewLogPublisher creates a new LogPublisher.
func NewLogPublisher() *LogPublisher {
	return &LogPublisher{}
}

// Publish logs the event.
func (p *LogPublisher) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event.Payload)
	if err != nil {
		return err
	}
	log.Printf("[EVENT] Type=%s, Recipient=%s, Payload=%s", event.Type, event.Recipient, body)
	return nil
}

// Close is a no-op.
func (p *LogPublisher) Close() error {
	return nil
}

var (
	_ Publisher = (*LogPublisher)(nil)
	_ Publisher = (*AMQPPublisher)(nil)
)
