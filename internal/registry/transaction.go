package registry

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/darkvelocity/retailcore/internal/platform/money"
)

// TransactionEntry is one dated index entry for a fiscal transaction.
type TransactionEntry struct {
	TransactionID     string
	DeviceID          string
	TransactionNumber int64
	OccurredAt        time.Time
	GrossAmount       money.Decimal
}

// TransactionRegistryState is the full, pure, replayable state of one
// site's fiscal transaction index.
type TransactionRegistryState struct {
	OrgID   string
	SiteID  string
	Entries []TransactionEntry
	Version int64
}

// TransactionRegistryEngine applies commands to a TransactionRegistryState.
type TransactionRegistryEngine struct{}

// NewTransactionRegistryEngine builds a TransactionRegistryEngine.
func NewTransactionRegistryEngine() *TransactionRegistryEngine { return &TransactionRegistryEngine{} }

// RecordTransactionParams is the payload for RecordTransaction.
type RecordTransactionParams struct {
	TransactionID     string
	DeviceID          string
	TransactionNumber int64
	OccurredAt        time.Time
	GrossAmount       money.Decimal
}

// TransactionEmitted is one event raised by a transaction-registry command.
type TransactionEmitted struct {
	Type    string
	Payload any
}

// RecordTransaction indexes one finished fiscal transaction.
func (e *TransactionRegistryEngine) RecordTransaction(s *TransactionRegistryState, p RecordTransactionParams) ([]TransactionEmitted, error) {
	return []TransactionEmitted{{Type: "FiscalTransactionIndexed", Payload: p}}, nil
}

func applyTransactionEvent(s *TransactionRegistryState, eventType string, payload json.RawMessage) {
	switch eventType {
	case "FiscalTransactionIndexed":
		var p RecordTransactionParams
		json.Unmarshal(payload, &p)
		s.Entries = append(s.Entries, TransactionEntry(p))
	}
}

// ByDateRange returns every indexed transaction with OccurredAt in
// [from, to), ordered chronologically.
func (s *TransactionRegistryState) ByDateRange(from, to time.Time) []TransactionEntry {
	var out []TransactionEntry
	for _, e := range s.Entries {
		if !e.OccurredAt.Before(from) && e.OccurredAt.Before(to) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out
}

// ByDevice returns every indexed transaction recorded for deviceID,
// ordered chronologically.
func (s *TransactionRegistryState) ByDevice(deviceID string) []TransactionEntry {
	var out []TransactionEntry
	for _, e := range s.Entries {
		if e.DeviceID == deviceID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out
}
