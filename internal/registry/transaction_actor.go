package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/darkvelocity/retailcore/internal/actor"
	"github.com/darkvelocity/retailcore/internal/eventlog"
	"github.com/darkvelocity/retailcore/internal/platform/apierr"
)

// Command names dispatched through the actor host for the transaction
// registry.
const (
	CmdRecordTransaction = "RecordTransaction"
	CmdTransactionsByDateRange = "TransactionsByDateRange"
	CmdTransactionsByDevice    = "TransactionsByDevice"
)

// DateRangeQuery is the payload for CmdTransactionsByDateRange.
type DateRangeQuery struct {
	From time.Time
	To   time.Time
}

// TransactionRegistryActor hosts one site's fiscal transaction index.
type TransactionRegistryActor struct {
	key    string
	store  eventlog.Store
	engine *TransactionRegistryEngine
	state  *TransactionRegistryState
}

// NewTransactionRegistryFactory returns an actor.Factory for transaction
// registries.
func NewTransactionRegistryFactory(store eventlog.Store, engine *TransactionRegistryEngine) actor.Factory {
	return func(key string) actor.Handler {
		return &TransactionRegistryActor{key: key, store: store, engine: engine}
	}
}

// OnActivate replays the registry's event log into a fresh state.
func (a *TransactionRegistryActor) OnActivate(ctx context.Context, key string) error {
	parts := actor.Split(key)
	if err := actor.ValidateArity("fiscaltransactionregistry", parts, 3); err != nil {
		return err
	}

	events, err := a.store.Load(ctx, key)
	if err != nil {
		return err
	}
	state := &TransactionRegistryState{OrgID: parts[0], SiteID: parts[1]}
	_, _, err = eventlog.Replay(state, events, func(s *TransactionRegistryState, eventType string, payload json.RawMessage) (*TransactionRegistryState, error) {
		applyTransactionEvent(s, eventType, payload)
		return s, nil
	})
	if err != nil {
		return fmt.Errorf("replay transaction registry %s: %w", key, err)
	}
	a.state = state
	return nil
}

// HandleCommand dispatches one registry command.
func (a *TransactionRegistryActor) HandleCommand(ctx context.Context, cmd actor.Command) (any, error) {
	var (
		result  any
		emitted []TransactionEmitted
		err     error
	)

	switch cmd.Name {
	case CmdRecordTransaction:
		p := cmd.Payload.(RecordTransactionParams)
		emitted, err = a.engine.RecordTransaction(a.state, p)
	case CmdTransactionsByDateRange:
		q := cmd.Payload.(DateRangeQuery)
		result = a.state.ByDateRange(q.From, q.To)
	case CmdTransactionsByDevice:
		deviceID := cmd.Payload.(string)
		result = a.state.ByDevice(deviceID)
	default:
		return nil, apierr.New(apierr.PreconditionViolation, "UNKNOWN_COMMAND", fmt.Sprintf("unknown transaction registry command %q", cmd.Name))
	}
	if err != nil {
		return nil, err
	}

	if err := a.commit(ctx, emitted); err != nil {
		return nil, err
	}
	return result, nil
}

func (a *TransactionRegistryActor) commit(ctx context.Context, emitted []TransactionEmitted) error {
	if len(emitted) == 0 {
		return nil
	}
	expectedSeq, err := a.store.LastSequence(ctx, a.key)
	if err != nil {
		return apierr.ErrPersistenceFailure("read transaction registry sequence", err)
	}
	newEvents := make([]eventlog.NewEvent, len(emitted))
	for i, e := range emitted {
		newEvents[i] = eventlog.NewEvent{EventType: e.Type, Payload: e.Payload}
		body, _ := json.Marshal(e.Payload)
		applyTransactionEvent(a.state, e.Type, body)
	}
	return a.store.Append(ctx, a.key, expectedSeq, newEvents)
}

// OnDeactivate has nothing to flush.
func (a *TransactionRegistryActor) OnDeactivate(ctx context.Context) error { return nil }
