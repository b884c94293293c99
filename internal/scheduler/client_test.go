package scheduler

import (
	"context"
	"testing"

	"travel_crm_backend/platform/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
)

func TestClientEnqueuesOnConfiguredQueue(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewClient(&config.Config{RedisURL: "redis://" + mr.Addr(), AsynqQueueName: "followups"})
	if err != nil {
		t.Fatalf("expected client, got %v", err)
	}
	defer func() { _ = client.Close() }()

	if err := client.EnqueueContactUpdated(context.Background(), uuid.New()); err != nil {
		t.Fatalf("expected enqueue, got %v", err)
	}
	pending, err := mr.List("asynq:{followups}:pending")
	if err != nil {
		t.Fatalf("expected pending list, got %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected one pending task, got %d", len(pending))
	}
}

func TestNewClientRequiresRedisURL(t *testing.T) {
	if _, err := NewClient(&config.Config{}); err == nil {
		t.Fatal("expected missing redis url to fail")
	}
}
