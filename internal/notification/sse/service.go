// Package sse streams follow-up activity to connected operators over Server-Sent Events.
package sse

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"travel_crm_backend/internal/events"
	"travel_crm_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// EventType represents different types of SSE events
type EventType string

const (
	EventScoreUpdated      EventType = "score_updated"
	EventStageChanged      EventType = "stage_changed"
	EventFollowUpScheduled EventType = "followup_scheduled"
	EventFollowUpDelivered EventType = "followup_delivered"
	EventFollowUpFailed    EventType = "followup_failed"
	EventFollowUpCancelled EventType = "followup_cancelled"
	EventRunCompleted      EventType = "run_completed"
)

// Event represents an SSE event payload
type Event struct {
	Type   EventType `json:"type"`
	LeadID uuid.UUID `json:"leadId,omitempty"`
	Data   any       `json:"data,omitempty"`
}

type client struct {
	leadID uuid.UUID // uuid.Nil receives everything
	events chan Event
}

// Service fans bus events out to connected streams.
type Service struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	log     *logger.Logger
}

func New(log *logger.Logger) *Service {
	return &Service{
		clients: make(map[*client]struct{}),
		log:     log,
	}
}

func (s *Service) addClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c] = struct{}{}
}

func (s *Service) removeClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; !ok {
		return
	}
	delete(s.clients, c)
	close(c.events)
}

// ClientCount reports the number of open streams.
func (s *Service) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Broadcast sends an event to every stream watching its lead. Slow clients drop events.
func (s *Service) Broadcast(event Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for c := range s.clients {
		if c.leadID != uuid.Nil && c.leadID != event.LeadID {
			continue
		}
		select {
		case c.events <- event:
		default:
			s.log.Warn("sse buffer full, dropping event", "type", event.Type)
		}
	}
}

// SubscribeTo forwards domain events from the bus to connected streams.
func (s *Service) SubscribeTo(bus events.Bus) {
	forward := func(eventType EventType, leadOf func(events.Event) uuid.UUID) events.HandlerFunc {
		return func(_ context.Context, e events.Event) error {
			s.Broadcast(Event{Type: eventType, LeadID: leadOf(e), Data: e})
			return nil
		}
	}

	bus.Subscribe(events.LeadScoreUpdated{}.EventName(), forward(EventScoreUpdated, func(e events.Event) uuid.UUID {
		return e.(events.LeadScoreUpdated).LeadID
	}))
	bus.Subscribe(events.LeadStageChanged{}.EventName(), forward(EventStageChanged, func(e events.Event) uuid.UUID {
		return e.(events.LeadStageChanged).LeadID
	}))
	bus.Subscribe(events.FollowUpScheduled{}.EventName(), forward(EventFollowUpScheduled, func(e events.Event) uuid.UUID {
		return e.(events.FollowUpScheduled).LeadID
	}))
	bus.Subscribe(events.FollowUpDelivered{}.EventName(), forward(EventFollowUpDelivered, func(e events.Event) uuid.UUID {
		return e.(events.FollowUpDelivered).LeadID
	}))
	bus.Subscribe(events.FollowUpFailed{}.EventName(), forward(EventFollowUpFailed, func(e events.Event) uuid.UUID {
		return e.(events.FollowUpFailed).LeadID
	}))
	bus.Subscribe(events.FollowUpCancelled{}.EventName(), forward(EventFollowUpCancelled, func(e events.Event) uuid.UUID {
		return e.(events.FollowUpCancelled).LeadID
	}))
	bus.Subscribe(events.FollowUpRunCompleted{}.EventName(), forward(EventRunCompleted, func(events.Event) uuid.UUID {
		return uuid.Nil
	}))
}

// Handler returns a Gin handler for SSE connections. An optional leadId query
// parameter narrows the stream to one lead.
func (s *Service) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var leadID uuid.UUID
		if raw := c.Query("leadId"); raw != "" {
			parsed, err := uuid.Parse(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid leadId"})
				return
			}
			leadID = parsed
		}

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.Header().Set("X-Accel-Buffering", "no")

		cl := &client{leadID: leadID, events: make(chan Event, 32)}
		s.addClient(cl)
		defer s.removeClient(cl)

		c.SSEvent("connected", gin.H{"leadId": leadID})
		c.Writer.Flush()

		clientGone := c.Request.Context().Done()
		for {
			select {
			case <-clientGone:
				return
			case event, ok := <-cl.events:
				if !ok {
					return
				}
				data, err := json.Marshal(event)
				if err != nil {
					s.log.Error("sse marshal failed", "type", event.Type, "error", err)
					continue
				}
				c.SSEvent(string(event.Type), string(data))
				c.Writer.Flush()
			}
		}
	}
}

// Close disconnects every stream.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		close(c.events)
		delete(s.clients, c)
	}
}
