package inventory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/darkvelocity/retailcore/internal/actor"
	"github.com/darkvelocity/retailcore/internal/eventlog"
	"github.com/darkvelocity/retailcore/internal/platform/apierr"
	"github.com/darkvelocity/retailcore/internal/streambus"
)

// Command names dispatched through the actor host. HandleCommand has no
// case for CmdReverseConsumption or CmdReverseOrderConsumption: both are
// rejected with UNKNOWN_COMMAND, and reversals run only through
// Engine.ReverseConsumption and Engine.ReverseOrderConsumption.
const (
	CmdInitialize             = "Initialize"
	CmdReceive                 = "Receive"
	CmdConsume                 = "Consume"
	CmdRecordWaste             = "RecordWaste"
	CmdAdjustQuantity          = "AdjustQuantity"
	CmdTransferOut             = "TransferOut"
	CmdReceiveTransfer         = "ReceiveTransfer"
	CmdReverseConsumption      = "ReverseConsumption"
	CmdReverseOrderConsumption = "ReverseOrderConsumption"
	CmdWriteOffExpiredBatches  = "WriteOffExpiredBatches"
	CmdSnapshot                = "Snapshot"
)

const streamNamespace = "inventory.movements"

// Actor implements actor.Handler for one inventory aggregate, replaying
// its state from the event log on activation and publishing each
// command's resulting events to the stream bus after a successful commit.
type Actor struct {
	key    string
	store  eventlog.Store
	bus    *streambus.Bus
	engine *Engine
	state  *State
}

// NewFactory returns an actor.Factory that builds an Actor per key,
// sharing one event store, stream bus, and engine across activations.
func NewFactory(store eventlog.Store, bus *streambus.Bus, engine *Engine) actor.Factory {
	return func(key string) actor.Handler {
		return &Actor{key: key, store: store, bus: bus, engine: engine}
	}
}

// OnActivate replays the aggregate's event log into a fresh State.
func (a *Actor) OnActivate(ctx context.Context, key string) error {
	parts := actor.Split(key)
	if err := actor.ValidateArity("inventory", parts, 4); err != nil {
		return err
	}

	events, err := a.store.Load(ctx, key)
	if err != nil {
		return err
	}

	state := &State{}
	_, _, err = eventlog.Replay(state, events, a.transition)
	if err != nil {
		return fmt.Errorf("replay inventory %s: %w", key, err)
	}
	a.state = state
	return nil
}

func (a *Actor) transition(state *State, eventType string, payload json.RawMessage) (*State, error) {
	applyEvent(state, eventType, payload)
	return state, nil
}

// HandleCommand dispatches one command against the in-memory state,
// commits the resulting events optimistically, and publishes them.
func (a *Actor) HandleCommand(ctx context.Context, cmd actor.Command) (any, error) {
	var (
		result  any
		emitted []Emitted
		err     error
	)

	switch cmd.Name {
	case CmdInitialize:
		p, ok := cmd.Payload.(InitParams)
		if !ok {
			return nil, fmt.Errorf("inventory Initialize: unexpected payload type %T", cmd.Payload)
		}
		err = a.engine.Initialize(a.state, p)
		if err == nil {
			emitted = []Emitted{{Type: "InventoryInitialized", Payload: p}}
		}
	case CmdReceive:
		p := cmd.Payload.(ReceiveParams)
		result, emitted, err = a.engine.Receive(a.state, a.key, p)
	case CmdConsume:
		p := cmd.Payload.(ConsumeParams)
		result, emitted, err = a.engine.Consume(a.state, a.key, p)
	case CmdRecordWaste:
		p := cmd.Payload.(WasteParams)
		result, emitted, err = a.engine.RecordWaste(a.state, a.key, p)
	case CmdAdjustQuantity:
		p := cmd.Payload.(AdjustQuantityParams)
		emitted, err = a.engine.AdjustQuantity(a.state, a.key, p)
	case CmdTransferOut:
		p := cmd.Payload.(TransferOutParams)
		result, emitted, err = a.engine.TransferOut(a.state, a.key, p)
	case CmdReceiveTransfer:
		p := cmd.Payload.(ReceiveTransferParams)
		result, emitted, err = a.engine.ReceiveTransfer(a.state, a.key, p)
	case CmdWriteOffExpiredBatches:
		by := cmd.Payload.(string)
		emitted, err = a.engine.WriteOffExpiredBatches(a.state, a.key, by)
	case CmdSnapshot:
		result = a.state.Snapshot()
	default:
		return nil, apierr.New(apierr.PreconditionViolation, "UNKNOWN_COMMAND", fmt.Sprintf("unknown inventory command %q", cmd.Name))
	}
	if err != nil {
		return nil, err
	}

	if err := a.commit(ctx, emitted); err != nil {
		return nil, err
	}
	return result, nil
}

func (a *Actor) commit(ctx context.Context, emitted []Emitted) error {
	if len(emitted) == 0 {
		return nil
	}

	expectedSeq, err := a.store.LastSequence(ctx, a.key)
	if err != nil {
		return apierr.ErrPersistenceFailure("read inventory sequence", err)
	}

	newEvents := make([]eventlog.NewEvent, len(emitted))
	for i, e := range emitted {
		newEvents[i] = eventlog.NewEvent{EventType: e.Type, Payload: e.Payload}
	}
	if err := a.store.Append(ctx, a.key, expectedSeq, newEvents); err != nil {
		return err
	}

	if a.bus != nil {
		for _, e := range emitted {
			body, _ := json.Marshal(e.Payload)
			// Stream publish failures are logged and swallowed upstream;
			// they never roll back the already-committed event log.
			_ = a.bus.Publish(ctx, streamNamespace, a.orgID(), streambus.Envelope{
				AggregateKey: a.key,
				EventType:    e.Type,
				Payload:      body,
			})
		}
	}
	return nil
}

func (a *Actor) orgID() string {
	parts := actor.Split(a.key)
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}

// OnDeactivate has nothing to flush: every command already commits to the
// event log before returning.
func (a *Actor) OnDeactivate(ctx context.Context) error { return nil }
