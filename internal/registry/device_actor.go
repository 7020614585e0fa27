package registry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/darkvelocity/retailcore/internal/actor"
	"github.com/darkvelocity/retailcore/internal/eventlog"
	"github.com/darkvelocity/retailcore/internal/platform/apierr"
	"github.com/darkvelocity/retailcore/internal/platform/clock"
)

// Command names dispatched through the actor host for the device
// registry.
const (
	CmdRegisterDevice   = "RegisterDevice"
	CmdDeactivateDevice = "DeactivateDevice"
	CmdListDevices      = "ListDevices"
)

// DeviceRegistryActor hosts one site's fiscal device registry.
type DeviceRegistryActor struct {
	key    string
	store  eventlog.Store
	clock  clock.Clock
	engine *DeviceRegistryEngine
	state  *DeviceRegistryState
}

// NewDeviceRegistryFactory returns an actor.Factory for device registries.
func NewDeviceRegistryFactory(store eventlog.Store, c clock.Clock, engine *DeviceRegistryEngine) actor.Factory {
	if c == nil {
		c = clock.System{}
	}
	return func(key string) actor.Handler {
		return &DeviceRegistryActor{key: key, store: store, clock: c, engine: engine}
	}
}

// OnActivate replays the registry's event log into a fresh state.
func (a *DeviceRegistryActor) OnActivate(ctx context.Context, key string) error {
	parts := actor.Split(key)
	if err := actor.ValidateArity("fiscaldeviceregistry", parts, 3); err != nil {
		return err
	}

	events, err := a.store.Load(ctx, key)
	if err != nil {
		return err
	}
	state := &DeviceRegistryState{OrgID: parts[0], SiteID: parts[1], Devices: map[string]DeviceEntry{}}
	_, _, err = eventlog.Replay(state, events, func(s *DeviceRegistryState, eventType string, payload json.RawMessage) (*DeviceRegistryState, error) {
		applyDeviceEvent(s, eventType, payload)
		return s, nil
	})
	if err != nil {
		return fmt.Errorf("replay device registry %s: %w", key, err)
	}
	a.state = state
	return nil
}

// HandleCommand dispatches one registry command.
func (a *DeviceRegistryActor) HandleCommand(ctx context.Context, cmd actor.Command) (any, error) {
	var (
		result  any
		emitted []DeviceEmitted
		err     error
	)

	switch cmd.Name {
	case CmdRegisterDevice:
		p := cmd.Payload.(RegisterDeviceParams)
		emitted, err = a.engine.RegisterDevice(a.state, a.clock.Now(), p)
	case CmdDeactivateDevice:
		deviceID := cmd.Payload.(string)
		emitted, err = a.engine.DeactivateDevice(a.state, deviceID)
	case CmdListDevices:
		result = a.state.List()
	default:
		return nil, apierr.New(apierr.PreconditionViolation, "UNKNOWN_COMMAND", fmt.Sprintf("unknown device registry command %q", cmd.Name))
	}
	if err != nil {
		return nil, err
	}

	if err := a.commit(ctx, emitted); err != nil {
		return nil, err
	}
	return result, nil
}

func (a *DeviceRegistryActor) commit(ctx context.Context, emitted []DeviceEmitted) error {
	if len(emitted) == 0 {
		return nil
	}
	expectedSeq, err := a.store.LastSequence(ctx, a.key)
	if err != nil {
		return apierr.ErrPersistenceFailure("read device registry sequence", err)
	}
	newEvents := make([]eventlog.NewEvent, len(emitted))
	for i, e := range emitted {
		newEvents[i] = eventlog.NewEvent{EventType: e.Type, Payload: e.Payload}
		applyDeviceEventFromPayload(a.state, e)
	}
	return a.store.Append(ctx, a.key, expectedSeq, newEvents)
}

// applyDeviceEventFromPayload folds a just-emitted event into the
// in-memory state immediately, so the next command in the same activation
// sees it without waiting for a reload.
func applyDeviceEventFromPayload(s *DeviceRegistryState, e DeviceEmitted) {
	body, _ := json.Marshal(e.Payload)
	applyDeviceEvent(s, e.Type, body)
}

// OnDeactivate has nothing to flush.
func (a *DeviceRegistryActor) OnDeactivate(ctx context.Context) error { return nil }
