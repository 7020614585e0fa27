// Package actor implements the virtual-actor runtime contract: keyed
// activation, single-threaded execution per key, a registerTimer
// facility, and onActivate/onDeactivate lifecycle hooks. Two activations
// of the same key are forbidden globally — the host's activation map,
// guarded by one mutex, is the enforcement point.
package actor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/darkvelocity/retailcore/infrastructure/logging"
	"github.com/darkvelocity/retailcore/infrastructure/metrics"
	"github.com/darkvelocity/retailcore/internal/platform/config"
)

type request struct {
	ctx   context.Context
	cmd   Command
	reply chan response
}

type response struct {
	value any
	err   error
}

type timerHandle struct {
	cancel context.CancelFunc
}

type activation struct {
	key     string
	handler Handler
	inbox   chan request
	done    chan struct{}

	mu         sync.Mutex
	lastActive time.Time
	timers     []*timerHandle
}

// Host activates and hosts actors of one kind. Each key addressed through
// Dispatch gets its own mailbox goroutine; callers block on that mailbox,
// never on another key's.
type Host struct {
	kind    string
	factory Factory
	cfg     config.ActorHostConfig
	logger  *logging.Logger
	metrics *metrics.Metrics

	mu          sync.Mutex
	activations map[string]*activation

	stopSweep context.CancelFunc
}

// NewHost creates a Host for actors of the given kind (used only for
// logging and metrics labels — it does not constrain which keys may be
// addressed).
func NewHost(kind string, factory Factory, cfg config.ActorHostConfig, logger *logging.Logger, m *metrics.Metrics) *Host {
	h := &Host{
		kind:        kind,
		factory:     factory,
		cfg:         cfg,
		logger:      logger,
		metrics:     m,
		activations: make(map[string]*activation),
	}
	if cfg.IdleDeactivateAfter > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		h.stopSweep = cancel
		go h.sweepIdle(ctx)
	}
	return h
}

// Close deactivates every hosted actor and stops the idle sweeper.
func (h *Host) Close(ctx context.Context) {
	if h.stopSweep != nil {
		h.stopSweep()
	}
	h.mu.Lock()
	keys := make([]string, 0, len(h.activations))
	for k := range h.activations {
		keys = append(keys, k)
	}
	h.mu.Unlock()

	for _, k := range keys {
		_ = h.Deactivate(ctx, k)
	}
}

// Dispatch routes a command to the actor identified by key, activating it
// lazily on first use. It blocks until the command completes or ctx is
// cancelled; cancellation does not stop the handler from running to
// completion, per the runtime's cooperative-cancellation contract.
func (h *Host) Dispatch(ctx context.Context, key string, cmd Command) (any, error) {
	act, err := h.getOrActivate(ctx, key)
	if err != nil {
		return nil, err
	}

	reply := make(chan response, 1)
	req := request{ctx: ctx, cmd: cmd, reply: reply}

	select {
	case act.inbox <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-act.done:
		return nil, fmt.Errorf("actor %s: deactivated before command %s was accepted", key, cmd.Name)
	}

	select {
	case resp := <-reply:
		return resp.value, resp.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// getOrActivate returns the activation for key, creating and activating it
// synchronously if this is the first use. Holding the host mutex across
// OnActivate keeps activation strictly serialized across all keys — for
// this runtime's expected actor population (thousands, not millions) that
// is an acceptable trade against a more elaborate per-key activation lock.
func (h *Host) getOrActivate(ctx context.Context, key string) (*activation, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if act, ok := h.activations[key]; ok {
		return act, nil
	}

	handler := h.factory(key)
	if err := handler.OnActivate(ctx, key); err != nil {
		return nil, fmt.Errorf("activate %s %s: %w", h.kind, key, err)
	}

	act := &activation{
		key:        key,
		handler:    handler,
		inbox:      make(chan request, h.cfg.MailboxSize),
		done:       make(chan struct{}),
		lastActive: time.Now(),
	}
	h.activations[key] = act
	go h.run(act)

	if h.metrics != nil {
		h.metrics.SetActorsActive(h.kind, h.kind, len(h.activations))
	}
	h.logger.WithField("actor_key", key).WithField("actor_kind", h.kind).Info("actor activated")
	return act, nil
}

func (h *Host) run(act *activation) {
	for req := range act.inbox {
		start := time.Now()
		value, err := act.handler.HandleCommand(req.ctx, req.cmd)

		act.mu.Lock()
		act.lastActive = time.Now()
		act.mu.Unlock()

		status := "ok"
		if err != nil {
			status = "error"
		}
		if h.metrics != nil {
			h.metrics.RecordActorCommand(h.kind, h.kind, req.cmd.Name, status, time.Since(start))
		}
		req.reply <- response{value: value, err: err}
	}
}

// RegisterTimer schedules cmd to be dispatched to key after initialDelay,
// repeating every period thereafter (period <= 0 means fire once). The
// timer is cancelled automatically when the actor is deactivated.
func (h *Host) RegisterTimer(key string, initialDelay, period time.Duration, cmd Command) error {
	h.mu.Lock()
	act, ok := h.activations[key]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("register timer: actor %s is not activated", key)
	}

	ctx, cancel := context.WithCancel(context.Background())
	act.mu.Lock()
	act.timers = append(act.timers, &timerHandle{cancel: cancel})
	act.mu.Unlock()

	go func() {
		timer := time.NewTimer(initialDelay)
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				dispatchCtx, dispatchCancel := context.WithTimeout(context.Background(), 30*time.Second)
				if _, err := h.Dispatch(dispatchCtx, key, cmd); err != nil {
					h.logger.WithField("actor_key", key).WithField("command", cmd.Name).
						Warn(fmt.Sprintf("timer dispatch failed: %v", err))
				}
				dispatchCancel()
				if period <= 0 {
					return
				}
				timer.Reset(period)
			}
		}
	}()
	return nil
}

// Deactivate tears down the actor identified by key, invoking its
// OnDeactivate hook and cancelling any registered timers.
func (h *Host) Deactivate(ctx context.Context, key string) error {
	h.mu.Lock()
	act, ok := h.activations[key]
	if ok {
		delete(h.activations, key)
	}
	count := len(h.activations)
	h.mu.Unlock()
	if !ok {
		return nil
	}

	act.mu.Lock()
	for _, t := range act.timers {
		t.cancel()
	}
	act.mu.Unlock()

	close(act.inbox)
	close(act.done)

	if h.metrics != nil {
		h.metrics.SetActorsActive(h.kind, h.kind, count)
	}
	h.logger.WithField("actor_key", key).WithField("actor_kind", h.kind).Info("actor deactivated")
	return act.handler.OnDeactivate(ctx)
}

// ActiveKeys returns the keys of all currently activated actors.
func (h *Host) ActiveKeys() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	keys := make([]string, 0, len(h.activations))
	for k := range h.activations {
		keys = append(keys, k)
	}
	return keys
}

func (h *Host) sweepIdle(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.IdleDeactivateAfter / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.deactivateIdle()
		}
	}
}

func (h *Host) deactivateIdle() {
	cutoff := time.Now().Add(-h.cfg.IdleDeactivateAfter)

	h.mu.Lock()
	var idle []string
	for key, act := range h.activations {
		act.mu.Lock()
		last := act.lastActive
		act.mu.Unlock()
		if last.Before(cutoff) {
			idle = append(idle, key)
		}
	}
	h.mu.Unlock()

	for _, key := range idle {
		_ = h.Deactivate(context.Background(), key)
	}
}
