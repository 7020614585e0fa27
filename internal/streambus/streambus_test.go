package streambus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/darkvelocity/retailcore/internal/platform/config"
)

func newTestBus(t *testing.T) (*Bus, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cfg := config.StreamBusConfig{
		ConsumerGroup:   "retailcore",
		BlockTimeout:    100 * time.Millisecond,
		ClaimMinIdle:    10 * time.Millisecond,
		MaxPendingBatch: 10,
	}
	return NewWithClient(client, cfg), mr
}

func TestPublishAndConsumeDelivers(t *testing.T) {
	bus, _ := newTestBus(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	payload, _ := json.Marshal(map[string]any{"qty": 5})
	if err := bus.Publish(ctx, "inventory.movements", "org1", Envelope{
		AggregateKey: "org1:site1:sku1",
		EventType:    "Received",
		Payload:      payload,
	}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	received := make(chan Delivery, 1)
	go bus.Consume(ctx, "inventory.movements", "org1", "consumer-1", func(ctx context.Context, d Delivery) error {
		received <- d
		return nil
	})

	select {
	case d := <-received:
		if d.Envelope.EventType != "Received" {
			t.Fatalf("got event type %s, want Received", d.Envelope.EventType)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for delivery")
	}
}

func TestFailedHandlerLeavesMessagePending(t *testing.T) {
	bus, _ := newTestBus(t)
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	bus.Publish(ctx, "ns", "tenant", Envelope{EventType: "X"})

	attempts := make(chan struct{}, 5)
	go bus.Consume(ctx, "ns", "tenant", "consumer-1", func(ctx context.Context, d Delivery) error {
		attempts <- struct{}{}
		return context.DeadlineExceeded
	})

	<-attempts

	pending, err := bus.PendingCount(context.Background(), "ns", "tenant")
	if err != nil {
		t.Fatalf("pending count: %v", err)
	}
	if pending != 1 {
		t.Fatalf("expected 1 pending message after failed handler, got %d", pending)
	}
}

func TestReclaimStaleRedeliversToNewConsumer(t *testing.T) {
	bus, _ := newTestBus(t)
	ctx := context.Background()

	bus.Publish(ctx, "ns", "tenant", Envelope{EventType: "X"})
	bus.EnsureGroup(ctx, "ns", "tenant")

	// First consumer reads but never acks (simulating a crash).
	firstCtx, firstCancel := context.WithTimeout(ctx, 200*time.Millisecond)
	bus.Consume(firstCtx, "ns", "tenant", "consumer-1", func(ctx context.Context, d Delivery) error {
		return context.DeadlineExceeded
	})
	firstCancel()

	time.Sleep(20 * time.Millisecond)

	redelivered := make(chan struct{}, 1)
	err := bus.ReclaimStale(ctx, "ns", "tenant", "consumer-2", func(ctx context.Context, d Delivery) error {
		redelivered <- struct{}{}
		return nil
	})
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}

	select {
	case <-redelivered:
	default:
		t.Fatal("expected stale message to be reclaimed and redelivered")
	}
}
