package fiscal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/darkvelocity/retailcore/internal/actor"
	"github.com/darkvelocity/retailcore/internal/eventlog"
	"github.com/darkvelocity/retailcore/internal/platform/apierr"
	"github.com/darkvelocity/retailcore/internal/streambus"
)

// Command names dispatched through the actor host.
const (
	CmdInitialize       = "Initialize"
	CmdStartTransaction = "StartTransaction"
	CmdUpdateTransaction = "UpdateTransaction"
	CmdFinishTransaction = "FinishTransaction"
	CmdSelfTest         = "SelfTest"
)

const streamNamespace = "fiscal-tse-events"

// Actor hosts one TSE aggregate.
type Actor struct {
	key    string
	store  eventlog.Store
	bus    *streambus.Bus
	engine *Engine
	state  *State
}

// NewFactory returns an actor.Factory for TSE aggregates.
func NewFactory(store eventlog.Store, bus *streambus.Bus, engine *Engine) actor.Factory {
	return func(key string) actor.Handler {
		return &Actor{key: key, store: store, bus: bus, engine: engine}
	}
}

// OnActivate replays the TSE's event log into a fresh State.
func (a *Actor) OnActivate(ctx context.Context, key string) error {
	parts := actor.Split(key)
	if err := actor.ValidateArity("tse", parts, 3); err != nil {
		return err
	}

	events, err := a.store.Load(ctx, key)
	if err != nil {
		return err
	}
	state := &State{OpenTransactions: map[int64]*TransactionContext{}}
	_, _, err = eventlog.Replay(state, events, a.transition)
	if err != nil {
		return fmt.Errorf("replay TSE %s: %w", key, err)
	}
	a.state = state
	return nil
}

func (a *Actor) transition(state *State, eventType string, payload json.RawMessage) (*State, error) {
	switch eventType {
	case "TseTransactionStarted":
		var p struct {
			TransactionNumber int64
			ProcessType       string
			ProcessData       string
			ClientID          string `json:"clientId"`
			StartTime         string
		}
		json.Unmarshal(payload, &p)
		startTime, _ := time.Parse(timeFormat, p.StartTime)
		state.OpenTransactions[p.TransactionNumber] = &TransactionContext{
			TransactionNumber: p.TransactionNumber,
			ProcessType:       p.ProcessType,
			ProcessData:       p.ProcessData,
			ClientID:          p.ClientID,
			StartTime:         startTime,
		}
		if p.TransactionNumber > state.TransactionCounter {
			state.TransactionCounter = p.TransactionNumber
		}
	case "TseTransactionUpdated":
		var p struct {
			TransactionNumber int64
			ProcessData       string
		}
		json.Unmarshal(payload, &p)
		if ctx, ok := state.OpenTransactions[p.TransactionNumber]; ok {
			ctx.ProcessData = p.ProcessData
		}
	case "TseTransactionFinished":
		var p struct {
			TransactionNumber int64
			SignatureCounter  int64
		}
		json.Unmarshal(payload, &p)
		delete(state.OpenTransactions, p.TransactionNumber)
		if p.SignatureCounter > state.SignatureCounter {
			state.SignatureCounter = p.SignatureCounter
		}
	}
	return state, nil
}

// HandleCommand dispatches one TSE command.
func (a *Actor) HandleCommand(ctx context.Context, cmd actor.Command) (any, error) {
	var (
		result  any
		emitted []Emitted
		err     error
	)

	switch cmd.Name {
	case CmdInitialize:
		p := cmd.Payload.(InitParams)
		err = a.engine.Initialize(a.state, p)
		if err == nil {
			emitted = []Emitted{{Type: "TseInitialized", Payload: p}}
		}
	case CmdStartTransaction:
		p := cmd.Payload.(StartTransactionParams)
		var txNumber int64
		txNumber, emitted, err = a.engine.StartTransaction(a.state, p)
		result = txNumber
	case CmdUpdateTransaction:
		p := cmd.Payload.(UpdateTransactionParams)
		emitted, err = a.engine.UpdateTransaction(a.state, p.TransactionNumber, p.ProcessData)
	case CmdFinishTransaction:
		p := cmd.Payload.(FinishTransactionParams)
		var sig SignatureResult
		sig, emitted, err = a.engine.FinishTransaction(a.state, p.TransactionNumber, p.ProcessType, p.ProcessData)
		result = sig
	case CmdSelfTest:
		var passed bool
		passed, err = a.engine.SelfTest(a.state)
		result = passed
		if err == nil {
			emitted = []Emitted{{Type: "TseSelfTestRecorded", Payload: map[string]any{
				"passed": passed,
				"at":     FormatTime(a.state.LastSelfTestAt),
			}}}
		}
	default:
		return nil, apierr.New(apierr.PreconditionViolation, "UNKNOWN_COMMAND", fmt.Sprintf("unknown TSE command %q", cmd.Name))
	}
	if err != nil {
		return nil, err
	}

	if err := a.commit(ctx, emitted); err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateTransactionParams is the payload for CmdUpdateTransaction.
type UpdateTransactionParams struct {
	TransactionNumber int64
	ProcessData       string
}

// FinishTransactionParams is the payload for CmdFinishTransaction.
type FinishTransactionParams struct {
	TransactionNumber int64
	ProcessType       string
	ProcessData       string
}

func (a *Actor) commit(ctx context.Context, emitted []Emitted) error {
	if len(emitted) == 0 {
		return nil
	}

	expectedSeq, err := a.store.LastSequence(ctx, a.key)
	if err != nil {
		return apierr.ErrPersistenceFailure("read TSE sequence", err)
	}

	newEvents := make([]eventlog.NewEvent, len(emitted))
	for i, e := range emitted {
		body, err := json.Marshal(e.Payload)
		if err != nil {
			return apierr.ErrPersistenceFailure("marshal TSE event", err)
		}
		newEvents[i] = eventlog.NewEvent{EventType: e.Type, Payload: json.RawMessage(body)}
	}
	if err := a.store.Append(ctx, a.key, expectedSeq, newEvents); err != nil {
		return err
	}

	if a.bus != nil {
		for _, e := range newEvents {
			// Stream publish failures are logged and swallowed upstream;
			// they never roll back the already-committed event log.
			_ = a.bus.Publish(ctx, streamNamespace, a.state.OrgID, streambus.Envelope{
				AggregateKey: a.key,
				EventType:    e.EventType,
				Payload:      e.Payload.(json.RawMessage),
			})
		}
	}
	return nil
}

// OnDeactivate has nothing to flush.
func (a *Actor) OnDeactivate(ctx context.Context) error { return nil }
