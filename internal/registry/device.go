// Package registry implements the per-site index aggregates: registered
// fiscal devices, a dated index of fiscal transactions, and a location
// tree. Each is a small event-sourced aggregate hosted by its own actor,
// following the same replay-then-command shape as the domain aggregates.
package registry

import (
	"encoding/json"
	"time"

	"github.com/darkvelocity/retailcore/internal/platform/apierr"
)

// DeviceStatus is the lifecycle state of one registered fiscal device.
type DeviceStatus string

const (
	DeviceActive      DeviceStatus = "Active"
	DeviceDeactivated DeviceStatus = "Deactivated"
)

// DeviceEntry is one fiscal device registered at a site.
type DeviceEntry struct {
	DeviceID     string
	SerialNumber string
	TSEID        string
	Status       DeviceStatus
	RegisteredBy string
	RegisteredAt time.Time
}

// DeviceRegistryState is the full, pure, replayable state of one site's
// fiscal device registry.
type DeviceRegistryState struct {
	OrgID   string
	SiteID  string
	Devices map[string]DeviceEntry
	Version int64
}

func (s *DeviceRegistryState) ensureMap() {
	if s.Devices == nil {
		s.Devices = make(map[string]DeviceEntry)
	}
}

// DeviceRegistryEngine applies commands to a DeviceRegistryState.
type DeviceRegistryEngine struct{}

// NewDeviceRegistryEngine builds a DeviceRegistryEngine.
func NewDeviceRegistryEngine() *DeviceRegistryEngine { return &DeviceRegistryEngine{} }

// RegisterDeviceParams is the payload for RegisterDevice.
type RegisterDeviceParams struct {
	DeviceID     string
	SerialNumber string
	TSEID        string
	RegisteredBy string
}

// DeviceEmitted is one event raised by a device-registry command.
type DeviceEmitted struct {
	Type    string
	Payload any
}

// RegisterDevice adds a new device to the registry, or reactivates an
// already-deactivated one under the same id.
func (e *DeviceRegistryEngine) RegisterDevice(s *DeviceRegistryState, now time.Time, p RegisterDeviceParams) ([]DeviceEmitted, error) {
	s.ensureMap()
	if existing, ok := s.Devices[p.DeviceID]; ok && existing.Status == DeviceActive {
		return nil, apierr.ErrConflict("device " + p.DeviceID + " is already registered")
	}
	return []DeviceEmitted{{Type: "FiscalDeviceRegistered", Payload: struct {
		RegisterDeviceParams
		RegisteredAt time.Time
	}{p, now}}}, nil
}

// DeactivateDevice marks a registered device inactive; it is not removed
// from the index so historical transactions can still resolve it.
func (e *DeviceRegistryEngine) DeactivateDevice(s *DeviceRegistryState, deviceID string) ([]DeviceEmitted, error) {
	s.ensureMap()
	entry, ok := s.Devices[deviceID]
	if !ok {
		return nil, apierr.ErrPreconditionViolation("device " + deviceID + " is not registered")
	}
	if entry.Status == DeviceDeactivated {
		return nil, nil
	}
	return []DeviceEmitted{{Type: "FiscalDeviceDeactivated", Payload: struct{ DeviceID string }{deviceID}}}, nil
}

// applyDeviceEvent replays one event into state. It never errors: replay
// trusts the committed log.
func applyDeviceEvent(s *DeviceRegistryState, eventType string, payload json.RawMessage) {
	s.ensureMap()
	switch eventType {
	case "FiscalDeviceRegistered":
		var p struct {
			RegisterDeviceParams
			RegisteredAt time.Time
		}
		json.Unmarshal(payload, &p)
		s.Devices[p.DeviceID] = DeviceEntry{
			DeviceID: p.DeviceID, SerialNumber: p.SerialNumber, TSEID: p.TSEID,
			Status: DeviceActive, RegisteredBy: p.RegisteredBy, RegisteredAt: p.RegisteredAt,
		}
	case "FiscalDeviceDeactivated":
		var p struct{ DeviceID string }
		json.Unmarshal(payload, &p)
		if entry, ok := s.Devices[p.DeviceID]; ok {
			entry.Status = DeviceDeactivated
			s.Devices[p.DeviceID] = entry
		}
	}
}

// List returns every registered device, active or not.
func (s *DeviceRegistryState) List() []DeviceEntry {
	out := make([]DeviceEntry, 0, len(s.Devices))
	for _, d := range s.Devices {
		out = append(out, d)
	}
	return out
}
