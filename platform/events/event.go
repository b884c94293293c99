// Package events is the in-process event bus the follow-up engine, scoring
// and the live stream use to talk to each other.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is implemented by every domain event. Embedding BaseEvent supplies
// everything but EventName.
type Event interface {
	EventName() string
	EventID() uuid.UUID
	OccurredAt() time.Time
}

// BaseEvent carries the identity and time of an event. The ID lets stream
// consumers drop an event they have already seen after a reconnect.
type BaseEvent struct {
	ID        uuid.UUID `json:"eventId"`
	Timestamp time.Time `json:"timestamp"`
}

func (e BaseEvent) EventID() uuid.UUID    { return e.ID }
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }

// NewBaseEvent stamps an event with the wall clock.
func NewBaseEvent() BaseEvent {
	return NewBaseEventAt(time.Now())
}

// NewBaseEventAt stamps an event with the instant of the pass that produced
// it, so replays at a fixed time publish reproducible timestamps.
func NewBaseEventAt(at time.Time) BaseEvent {
	return BaseEvent{ID: uuid.New(), Timestamp: at.UTC()}
}

// Handler processes one event type.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Bus routes events by EventName.
type Bus interface {
	// Publish runs the subscribed handlers in the background.
	Publish(ctx context.Context, event Event)
	// PublishSync runs them inline and joins their errors.
	PublishSync(ctx context.Context, event Event) error
	Subscribe(eventName string, handler Handler)
}

// NopBus drops every event. One-shot commands have no subscribers.
type NopBus struct{}

func (NopBus) Publish(context.Context, Event)           {}
func (NopBus) PublishSync(context.Context, Event) error { return nil }
func (NopBus) Subscribe(string, Handler)                {}
