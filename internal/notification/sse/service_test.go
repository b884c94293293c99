package sse

import (
	"context"
	"io"
	"testing"
	"time"

	"travel_crm_backend/internal/events"
	"travel_crm_backend/platform/logger"

	"github.com/google/uuid"
)

func newTestService() *Service {
	return New(logger.NewWithWriter("production", io.Discard))
}

func TestBroadcastFiltersByLead(t *testing.T) {
	svc := newTestService()
	leadA, leadB := uuid.New(), uuid.New()

	all := &client{events: make(chan Event, 4)}
	onlyA := &client{leadID: leadA, events: make(chan Event, 4)}
	svc.addClient(all)
	svc.addClient(onlyA)

	svc.Broadcast(Event{Type: EventFollowUpScheduled, LeadID: leadB})
	svc.Broadcast(Event{Type: EventFollowUpDelivered, LeadID: leadA})

	if len(all.events) != 2 {
		t.Fatalf("expected unfiltered client to get 2 events, got %d", len(all.events))
	}
	if len(onlyA.events) != 1 {
		t.Fatalf("expected filtered client to get 1 event, got %d", len(onlyA.events))
	}
	if got := <-onlyA.events; got.Type != EventFollowUpDelivered {
		t.Fatalf("unexpected event %s", got.Type)
	}
}

func TestBroadcastDropsWhenBufferFull(t *testing.T) {
	svc := newTestService()
	slow := &client{events: make(chan Event, 1)}
	svc.addClient(slow)

	svc.Broadcast(Event{Type: EventRunCompleted})
	svc.Broadcast(Event{Type: EventRunCompleted})

	if len(slow.events) != 1 {
		t.Fatalf("expected one buffered event, got %d", len(slow.events))
	}
}

func TestSubscribeToForwardsBusEvents(t *testing.T) {
	svc := newTestService()
	bus := events.NewInMemoryBus(logger.NewWithWriter("production", io.Discard))
	svc.SubscribeTo(bus)

	c := &client{events: make(chan Event, 4)}
	svc.addClient(c)

	leadID := uuid.New()
	if err := bus.PublishSync(context.Background(), events.FollowUpCancelled{
		BaseEvent: events.NewBaseEventAt(time.Now()),
		LeadID:    leadID,
		Reason:    "customer replied",
	}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	got := <-c.events
	if got.Type != EventFollowUpCancelled || got.LeadID != leadID {
		t.Fatalf("unexpected forwarded event %+v", got)
	}
}

func TestRemoveClientAfterCloseIsSafe(t *testing.T) {
	svc := newTestService()
	c := &client{events: make(chan Event, 1)}
	svc.addClient(c)
	svc.Close()
	svc.removeClient(c)

	if svc.ClientCount() != 0 {
		t.Fatalf("expected no clients, got %d", svc.ClientCount())
	}
}
