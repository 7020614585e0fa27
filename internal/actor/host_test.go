package actor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/darkvelocity/retailcore/infrastructure/logging"
	"github.com/darkvelocity/retailcore/infrastructure/metrics"
	"github.com/darkvelocity/retailcore/internal/platform/config"
)

type countingHandler struct {
	key         string
	activated   int32
	deactivated int32
	commands    int32
	failActivate bool
}

func (h *countingHandler) OnActivate(ctx context.Context, key string) error {
	if h.failActivate {
		return errors.New("activation refused")
	}
	atomic.AddInt32(&h.activated, 1)
	h.key = key
	return nil
}

func (h *countingHandler) HandleCommand(ctx context.Context, cmd Command) (any, error) {
	atomic.AddInt32(&h.commands, 1)
	if cmd.Name == "fail" {
		return nil, errors.New("command failed")
	}
	return cmd.Payload, nil
}

func (h *countingHandler) OnDeactivate(ctx context.Context) error {
	atomic.AddInt32(&h.deactivated, 1)
	return nil
}

func newTestHost(factory Factory) *Host {
	logger := logging.New("actor-test", "error", "text")
	m := metrics.New("actor-test")
	cfg := config.ActorHostConfig{MailboxSize: 8, IdleDeactivateAfter: 0}
	return NewHost("test-kind", factory, cfg, logger, m)
}

func TestDispatchActivatesOnFirstUse(t *testing.T) {
	handler := &countingHandler{}
	host := newTestHost(func(key string) Handler { return handler })

	val, err := host.Dispatch(context.Background(), "org:site:1", Command{Name: "ping", Payload: 42})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if val != 42 {
		t.Fatalf("got %v, want 42", val)
	}
	if atomic.LoadInt32(&handler.activated) != 1 {
		t.Fatalf("expected exactly one activation, got %d", handler.activated)
	}
}

func TestDispatchReusesActivation(t *testing.T) {
	handler := &countingHandler{}
	host := newTestHost(func(key string) Handler { return handler })

	for i := 0; i < 5; i++ {
		if _, err := host.Dispatch(context.Background(), "k1", Command{Name: "ping"}); err != nil {
			t.Fatalf("dispatch %d: %v", i, err)
		}
	}
	if atomic.LoadInt32(&handler.activated) != 1 {
		t.Fatalf("expected single activation across repeated dispatch, got %d", handler.activated)
	}
	if atomic.LoadInt32(&handler.commands) != 5 {
		t.Fatalf("expected 5 commands handled, got %d", handler.commands)
	}
}

func TestDispatchPropagatesCommandError(t *testing.T) {
	handler := &countingHandler{}
	host := newTestHost(func(key string) Handler { return handler })

	_, err := host.Dispatch(context.Background(), "k1", Command{Name: "fail"})
	if err == nil {
		t.Fatal("expected error from failing command")
	}
}

func TestActivationFailureDoesNotRegister(t *testing.T) {
	handler := &countingHandler{failActivate: true}
	host := newTestHost(func(key string) Handler { return handler })

	if _, err := host.Dispatch(context.Background(), "k1", Command{Name: "ping"}); err == nil {
		t.Fatal("expected activation error")
	}
	if len(host.ActiveKeys()) != 0 {
		t.Fatalf("failed activation should leave no active keys, got %v", host.ActiveKeys())
	}
}

func TestDeactivateInvokesHook(t *testing.T) {
	handler := &countingHandler{}
	host := newTestHost(func(key string) Handler { return handler })

	if _, err := host.Dispatch(context.Background(), "k1", Command{Name: "ping"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := host.Deactivate(context.Background(), "k1"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if atomic.LoadInt32(&handler.deactivated) != 1 {
		t.Fatalf("expected OnDeactivate to run once, got %d", handler.deactivated)
	}
	if len(host.ActiveKeys()) != 0 {
		t.Fatalf("expected no active keys after deactivate, got %v", host.ActiveKeys())
	}
}

func TestDispatchReactivatesAfterDeactivate(t *testing.T) {
	handler := &countingHandler{}
	host := newTestHost(func(key string) Handler { return handler })

	host.Dispatch(context.Background(), "k1", Command{Name: "ping"})
	host.Deactivate(context.Background(), "k1")
	host.Dispatch(context.Background(), "k1", Command{Name: "ping"})

	if atomic.LoadInt32(&handler.activated) != 2 {
		t.Fatalf("expected two activations across the deactivate boundary, got %d", handler.activated)
	}
}

func TestConcurrentDispatchSingleKeySerializes(t *testing.T) {
	var concurrent int32
	var maxConcurrent int32
	handler := &serializingHandler{concurrent: &concurrent, maxConcurrent: &maxConcurrent}
	host := newTestHost(func(key string) Handler { return handler })

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			host.Dispatch(context.Background(), "shared-key", Command{Name: "work"})
		}()
	}
	wg.Wait()

	if atomic.LoadInt32(&maxConcurrent) > 1 {
		t.Fatalf("expected strictly serialized execution, observed max concurrency %d", maxConcurrent)
	}
}

type serializingHandler struct {
	concurrent, maxConcurrent *int32
}

func (h *serializingHandler) OnActivate(ctx context.Context, key string) error { return nil }

func (h *serializingHandler) HandleCommand(ctx context.Context, cmd Command) (any, error) {
	n := atomic.AddInt32(h.concurrent, 1)
	defer atomic.AddInt32(h.concurrent, -1)
	for {
		cur := atomic.LoadInt32(h.maxConcurrent)
		if n <= cur || atomic.CompareAndSwapInt32(h.maxConcurrent, cur, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)
	return nil, nil
}

func (h *serializingHandler) OnDeactivate(ctx context.Context) error { return nil }

func TestRegisterTimerDispatchesRepeatedly(t *testing.T) {
	handler := &countingHandler{}
	host := newTestHost(func(key string) Handler { return handler })

	if _, err := host.Dispatch(context.Background(), "k1", Command{Name: "ping"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := host.RegisterTimer("k1", time.Millisecond, time.Millisecond*5, Command{Name: "tick"}); err != nil {
		t.Fatalf("register timer: %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	host.Deactivate(context.Background(), "k1")

	if atomic.LoadInt32(&handler.commands) < 2 {
		t.Fatalf("expected timer to have fired at least once beyond the initial dispatch, got %d commands", handler.commands)
	}
}

func TestIdleSweeperDeactivatesStaleActors(t *testing.T) {
	handler := &countingHandler{}
	logger := logging.New("actor-test", "error", "text")
	m := metrics.New("actor-test")
	cfg := config.ActorHostConfig{MailboxSize: 8, IdleDeactivateAfter: 20 * time.Millisecond}
	host := NewHost("test-kind", func(key string) Handler { return handler }, cfg, logger, m)
	defer host.Close(context.Background())

	if _, err := host.Dispatch(context.Background(), "k1", Command{Name: "ping"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&handler.deactivated) == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected idle sweeper to deactivate the actor")
}
