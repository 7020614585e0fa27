package stocktake

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/darkvelocity/retailcore/internal/actor"
	"github.com/darkvelocity/retailcore/internal/eventlog"
	"github.com/darkvelocity/retailcore/internal/platform/apierr"
	"github.com/darkvelocity/retailcore/internal/streambus"
)

// Command names dispatched through the actor host.
const (
	CmdStart             = "Start"
	CmdRecordCount       = "RecordCount"
	CmdSubmitForApproval = "SubmitForApproval"
	CmdFinalize          = "Finalize"
	CmdCancel            = "Cancel"
)

const streamNamespace = "stocktake.lifecycle"

const (
	eventStarted    = "StockTakeStartedEvent"
	eventCounted    = "StockTakeCountRecordedEvent"
	eventSubmitted  = "StockTakeSubmittedForApprovalEvent"
	eventFinalized  = "StockTakeFinalizedEvent"
	eventCancelled  = "StockTakeCancelledEvent"
)

// FinalizeParams is the payload for CmdFinalize.
type FinalizeParams struct {
	ApprovedBy       string
	ApplyAdjustments bool
	Notes            string
}

// Actor hosts one stock-take aggregate, reconciling counted variances
// back into inventory at Finalize time through an InventoryAdjuster.
type Actor struct {
	key      string
	store    eventlog.Store
	bus      *streambus.Bus
	engine   *Engine
	adjuster InventoryAdjuster
	state    *State
}

// NewFactory returns an actor.Factory for stock-take aggregates.
func NewFactory(store eventlog.Store, bus *streambus.Bus, engine *Engine, adjuster InventoryAdjuster) actor.Factory {
	return func(key string) actor.Handler {
		return &Actor{key: key, store: store, bus: bus, engine: engine, adjuster: adjuster}
	}
}

// OnActivate replays the stock-take's event log into a fresh State.
func (a *Actor) OnActivate(ctx context.Context, key string) error {
	parts := actor.Split(key)
	if err := actor.ValidateArity("stocktake", parts, 4); err != nil {
		return err
	}

	events, err := a.store.Load(ctx, key)
	if err != nil {
		return err
	}
	state := &State{}
	_, _, err = eventlog.Replay(state, events, a.transition)
	if err != nil {
		return fmt.Errorf("replay stock-take %s: %w", key, err)
	}
	a.state = state
	return nil
}

func (a *Actor) transition(state *State, eventType string, payload json.RawMessage) (*State, error) {
	switch eventType {
	case eventStarted:
		var p StartParams
		json.Unmarshal(payload, &p)
		*state = State{}
		a.engine.Start(state, p)
	case eventCounted:
		var p RecordCountParams
		json.Unmarshal(payload, &p)
		a.engine.RecordCount(state, p)
	case eventSubmitted:
		var p struct{ By string }
		json.Unmarshal(payload, &p)
		state.Status = StatusPendingApproval
	case eventFinalized:
		var p FinalizeParams
		json.Unmarshal(payload, &p)
		state.ApprovedBy = p.ApprovedBy
		state.ApplyAdjustments = p.ApplyAdjustments
		state.FinalizeNotes = p.Notes
		state.Status = StatusFinalized
	case eventCancelled:
		state.Status = StatusCancelled
	}
	return state, nil
}

// HandleCommand dispatches one stock-take command.
func (a *Actor) HandleCommand(ctx context.Context, cmd actor.Command) (any, error) {
	var (
		eventType string
		payload   any
		err       error
	)

	switch cmd.Name {
	case CmdStart:
		p := cmd.Payload.(StartParams)
		err = a.engine.Start(a.state, p)
		eventType, payload = eventStarted, p
	case CmdRecordCount:
		p := cmd.Payload.(RecordCountParams)
		err = a.engine.RecordCount(a.state, p)
		eventType, payload = eventCounted, p
	case CmdSubmitForApproval:
		by := cmd.Payload.(string)
		err = a.engine.SubmitForApproval(a.state, by)
		eventType, payload = eventSubmitted, struct{ By string }{by}
	case CmdFinalize:
		p := cmd.Payload.(FinalizeParams)
		err = a.engine.Finalize(a.state, p.ApprovedBy, p.ApplyAdjustments, p.Notes, a.adjuster)
		eventType, payload = eventFinalized, p
	case CmdCancel:
		err = a.engine.Cancel(a.state)
		eventType, payload = eventCancelled, struct{}{}
	default:
		return nil, apierr.New(apierr.PreconditionViolation, "UNKNOWN_COMMAND", fmt.Sprintf("unknown stock-take command %q", cmd.Name))
	}
	if err != nil {
		return nil, err
	}

	if err := a.commit(ctx, eventType, payload); err != nil {
		return nil, err
	}
	return a.state, nil
}

func (a *Actor) commit(ctx context.Context, eventType string, payload any) error {
	expectedSeq, err := a.store.LastSequence(ctx, a.key)
	if err != nil {
		return apierr.ErrPersistenceFailure("read stock-take sequence", err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return apierr.ErrPersistenceFailure("marshal stock-take event", err)
	}
	if err := a.store.Append(ctx, a.key, expectedSeq, []eventlog.NewEvent{{EventType: eventType, Payload: json.RawMessage(body)}}); err != nil {
		return err
	}

	if a.bus != nil {
		_ = a.bus.Publish(ctx, streamNamespace, a.state.OrgID, streambus.Envelope{
			AggregateKey: a.key,
			EventType:    eventType,
			Payload:      body,
		})
	}
	return nil
}

// OnDeactivate has nothing to flush.
func (a *Actor) OnDeactivate(ctx context.Context) error { return nil }
