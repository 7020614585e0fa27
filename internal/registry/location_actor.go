package registry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/darkvelocity/retailcore/internal/actor"
	"github.com/darkvelocity/retailcore/internal/eventlog"
	"github.com/darkvelocity/retailcore/internal/platform/apierr"
)

// Command names dispatched through the actor host for the location tree.
const (
	CmdAddLocation    = "AddLocation"
	CmdRenameLocation = "RenameLocation"
	CmdMoveLocation   = "MoveLocation"
	CmdSnapshotTree   = "SnapshotTree"
)

// LocationTreeActor hosts one site's location tree.
type LocationTreeActor struct {
	key    string
	store  eventlog.Store
	engine *LocationTreeEngine
	state  *LocationTreeState
}

// NewLocationTreeFactory returns an actor.Factory for location trees.
func NewLocationTreeFactory(store eventlog.Store, engine *LocationTreeEngine) actor.Factory {
	return func(key string) actor.Handler {
		return &LocationTreeActor{key: key, store: store, engine: engine}
	}
}

// OnActivate replays the tree's event log into a fresh state.
func (a *LocationTreeActor) OnActivate(ctx context.Context, key string) error {
	parts := actor.Split(key)
	if err := actor.ValidateArity("locationtree", parts, 3); err != nil {
		return err
	}

	events, err := a.store.Load(ctx, key)
	if err != nil {
		return err
	}
	state := &LocationTreeState{OrgID: parts[0], SiteID: parts[1], Nodes: map[string]LocationNode{}}
	_, _, err = eventlog.Replay(state, events, func(s *LocationTreeState, eventType string, payload json.RawMessage) (*LocationTreeState, error) {
		applyLocationEvent(s, eventType, payload)
		return s, nil
	})
	if err != nil {
		return fmt.Errorf("replay location tree %s: %w", key, err)
	}
	a.state = state
	return nil
}

// HandleCommand dispatches one location-tree command.
func (a *LocationTreeActor) HandleCommand(ctx context.Context, cmd actor.Command) (any, error) {
	var (
		result  any
		emitted []LocationEmitted
		err     error
	)

	switch cmd.Name {
	case CmdAddLocation:
		p := cmd.Payload.(AddNodeParams)
		emitted, err = a.engine.AddNode(a.state, p)
	case CmdRenameLocation:
		p := cmd.Payload.(RenameParams)
		emitted, err = a.engine.Rename(a.state, p)
	case CmdMoveLocation:
		p := cmd.Payload.(MoveParams)
		emitted, err = a.engine.Move(a.state, p)
	case CmdSnapshotTree:
		result = a.Snapshot()
	default:
		return nil, apierr.New(apierr.PreconditionViolation, "UNKNOWN_COMMAND", fmt.Sprintf("unknown location tree command %q", cmd.Name))
	}
	if err != nil {
		return nil, err
	}

	if err := a.commit(ctx, emitted); err != nil {
		return nil, err
	}
	return result, nil
}

func (a *LocationTreeActor) commit(ctx context.Context, emitted []LocationEmitted) error {
	if len(emitted) == 0 {
		return nil
	}
	expectedSeq, err := a.store.LastSequence(ctx, a.key)
	if err != nil {
		return apierr.ErrPersistenceFailure("read location tree sequence", err)
	}
	newEvents := make([]eventlog.NewEvent, len(emitted))
	for i, e := range emitted {
		newEvents[i] = eventlog.NewEvent{EventType: e.Type, Payload: e.Payload}
		body, _ := json.Marshal(e.Payload)
		applyLocationEvent(a.state, e.Type, body)
	}
	return a.store.Append(ctx, a.key, expectedSeq, newEvents)
}

// Snapshot returns a read-only copy of the tree's nodes, for callers
// that need the whole structure (e.g. rendering a location picker).
func (a *LocationTreeActor) Snapshot() map[string]LocationNode {
	out := make(map[string]LocationNode, len(a.state.Nodes))
	for k, v := range a.state.Nodes {
		out[k] = v
	}
	return out
}

// OnDeactivate has nothing to flush.
func (a *LocationTreeActor) OnDeactivate(ctx context.Context) error { return nil }
