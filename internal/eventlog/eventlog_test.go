package eventlog

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/darkvelocity/retailcore/internal/platform/apierr"
	"github.com/darkvelocity/retailcore/internal/platform/clock"
)

func TestMemoryStoreAppendAndLoad(t *testing.T) {
	store := NewMemoryStore(clock.Fixed{})
	ctx := context.Background()

	err := store.Append(ctx, "org:site:1", 0, []NewEvent{
		{EventType: "Received", Payload: map[string]any{"qty": 10}},
		{EventType: "Consumed", Payload: map[string]any{"qty": 3}},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	events, err := store.Load(ctx, "org:site:1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Sequence != 1 || events[1].Sequence != 2 {
		t.Fatalf("expected sequential sequence numbers, got %d,%d", events[0].Sequence, events[1].Sequence)
	}
}

func TestMemoryStoreRejectsConcurrentConflict(t *testing.T) {
	store := NewMemoryStore(clock.Fixed{})
	ctx := context.Background()

	if err := store.Append(ctx, "k1", 0, []NewEvent{{EventType: "A"}}); err != nil {
		t.Fatalf("first append: %v", err)
	}

	err := store.Append(ctx, "k1", 0, []NewEvent{{EventType: "B"}})
	if !apierr.Is(err, apierr.Conflict) {
		t.Fatalf("expected Conflict error for stale expectedSeq, got %v", err)
	}
}

func TestLastSequenceOfEmptyStreamIsZero(t *testing.T) {
	store := NewMemoryStore(clock.Fixed{})
	seq, err := store.LastSequence(context.Background(), "missing")
	if err != nil {
		t.Fatalf("last sequence: %v", err)
	}
	if seq != 0 {
		t.Fatalf("expected 0 for empty stream, got %d", seq)
	}
}

type counterState struct {
	Total int
}

func TestReplayFoldsEventsInOrder(t *testing.T) {
	store := NewMemoryStore(clock.Fixed{})
	ctx := context.Background()
	store.Append(ctx, "k1", 0, []NewEvent{
		{EventType: "Add", Payload: map[string]any{"n": 5}},
		{EventType: "Add", Payload: map[string]any{"n": 7}},
	})
	events, _ := store.Load(ctx, "k1")

	transition := func(state counterState, eventType string, payload json.RawMessage) (counterState, error) {
		var body struct{ N int }
		if err := json.Unmarshal(payload, &body); err != nil {
			return state, err
		}
		state.Total += body.N
		return state, nil
	}

	final, seq, err := Replay(counterState{}, events, transition)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if final.Total != 12 {
		t.Fatalf("expected total 12, got %d", final.Total)
	}
	if seq != 2 {
		t.Fatalf("expected final sequence 2, got %d", seq)
	}
}

func TestPrefixEnumeratesMatchingKeys(t *testing.T) {
	store := NewMemoryStore(clock.Fixed{})
	ctx := context.Background()
	store.Append(ctx, "org1:site1:a", 0, []NewEvent{{EventType: "X"}})
	store.Append(ctx, "org1:site1:b", 0, []NewEvent{{EventType: "X"}})
	store.Append(ctx, "org2:site1:a", 0, []NewEvent{{EventType: "X"}})

	keys := store.Prefix("org1:")
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys under org1:, got %v", keys)
	}
}
