package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"travel_crm_backend/platform/logger"
)

type pingEvent struct {
	BaseEvent
}

func (pingEvent) EventName() string { return "test.ping" }

func TestPublishSyncJoinsHandlerErrors(t *testing.T) {
	bus := NewInMemoryBus(logger.New("development"))
	var calls int32

	bus.Subscribe("test.ping", HandlerFunc(func(context.Context, Event) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("first failed")
	}))
	bus.Subscribe("test.ping", HandlerFunc(func(context.Context, Event) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}))

	err := bus.PublishSync(context.Background(), pingEvent{BaseEvent: NewBaseEvent()})
	if err == nil {
		t.Fatal("expected joined handler error")
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected both handlers to run, got %d", calls)
	}
}

func TestPublishRunsHandlersAfterCancellation(t *testing.T) {
	bus := NewInMemoryBus(logger.New("development"))
	done := make(chan error, 1)

	bus.Subscribe("test.ping", HandlerFunc(func(ctx context.Context, _ Event) error {
		done <- ctx.Err()
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bus.Publish(ctx, pingEvent{BaseEvent: NewBaseEventAt(time.Now())})
	bus.Wait()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected detached context, got %v", err)
		}
	default:
		t.Fatal("expected handler to run")
	}
}

func TestPublishRecoversHandlerPanics(t *testing.T) {
	bus := NewInMemoryBus(logger.New("development"))
	bus.Subscribe("test.ping", HandlerFunc(func(context.Context, Event) error {
		panic("boom")
	}))

	bus.Publish(context.Background(), pingEvent{BaseEvent: NewBaseEvent()})
	bus.Wait()
}

func TestBaseEventsAreUniqueAndUTC(t *testing.T) {
	at := time.Date(2026, 10, 15, 9, 0, 0, 0, time.FixedZone("BRT", -3*60*60))
	a, b := NewBaseEventAt(at), NewBaseEventAt(at)
	if a.EventID() == b.EventID() {
		t.Fatal("expected distinct event ids")
	}
	if a.OccurredAt().Location() != time.UTC || !a.OccurredAt().Equal(at) {
		t.Fatalf("expected the instant in UTC, got %s", a.OccurredAt())
	}
}
