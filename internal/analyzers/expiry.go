package analyzers

import (
	"context"
	"sort"
	"time"

	"github.com/darkvelocity/retailcore/internal/actor"
	"github.com/darkvelocity/retailcore/internal/inventory"
	"github.com/darkvelocity/retailcore/internal/platform/clock"
	"github.com/darkvelocity/retailcore/internal/platform/config"
	"github.com/darkvelocity/retailcore/internal/platform/money"
)

// ExpirySeverity classifies how urgently a batch needs attention.
type ExpirySeverity string

const (
	ExpirySeverityExpired  ExpirySeverity = "Expired"
	ExpirySeverityCritical ExpirySeverity = "Critical"
	ExpirySeverityUrgent   ExpirySeverity = "Urgent"
	ExpirySeverityWarning  ExpirySeverity = "Warning"
	ExpirySeverityNormal   ExpirySeverity = "Normal"
)

// classifyExpiry buckets the fractional number of days until expiry
// against the configured thresholds. Using fractional days (not truncated
// integers) matters at the boundary: a batch expiring one second ago must
// classify Expired, while a batch expiring exactly now stays Critical.
func classifyExpiry(daysUntil float64, cfg config.ExpiryMonitorConfig) ExpirySeverity {
	switch {
	case daysUntil < 0:
		return ExpirySeverityExpired
	case daysUntil <= float64(cfg.CriticalDays):
		return ExpirySeverityCritical
	case daysUntil <= float64(cfg.UrgentDays):
		return ExpirySeverityUrgent
	case daysUntil <= float64(cfg.WarnDays):
		return ExpirySeverityWarning
	default:
		return ExpirySeverityNormal
	}
}

// ExpiryAlert reports one batch that has crossed an urgency threshold.
type ExpiryAlert struct {
	OrgID           string
	SiteID          string
	IngredientID    string
	BatchID         string
	BatchNumber     string
	ExpiryDate      time.Time
	DaysUntilExpiry float64
	Qty             money.Decimal
	Severity        ExpirySeverity
}

// maxAlertsPerScan caps how many ExpiryAlertEvents one scan will raise,
// so a large backlog of stale batches cannot flood the alert stream.
const maxAlertsPerScan = 10

// WriteOff reports one ingredient's expired-batch write-off outcome.
type WriteOff struct {
	OrgID        string
	SiteID       string
	IngredientID string
	Alerts       []ExpiryAlert
	Err          error
}

// ExpiryMonitor scans registered ingredients' active batches for
// approaching or passed expiry.
type ExpiryMonitor struct {
	Host   *actor.Host
	Clock  clock.Clock
	Config config.ExpiryMonitorConfig
}

// NewExpiryMonitor builds an ExpiryMonitor over host using cfg's
// thresholds.
func NewExpiryMonitor(host *actor.Host, c clock.Clock, cfg config.ExpiryMonitorConfig) *ExpiryMonitor {
	if c == nil {
		c = clock.System{}
	}
	return &ExpiryMonitor{Host: host, Clock: c, Config: cfg}
}

// Scan walks every ref's active batches, classifying each one that carries
// an expiry date, and returns alerts for anything at Warning severity or
// worse, capped at maxAlertsPerScan and ordered most urgent first. Returns
// no alerts at all when AlertsEnabled is false.
func (m *ExpiryMonitor) Scan(ctx context.Context, refs []IngredientRef) ([]ExpiryAlert, error) {
	if !m.Config.AlertsEnabled {
		return nil, nil
	}

	var alerts []ExpiryAlert
	now := m.Clock.Now()
	for _, ref := range refs {
		snap, err := snapshot(ctx, m.Host, ref)
		if err != nil {
			return nil, err
		}
		for _, b := range snap.Batches {
			if b.Status != inventory.BatchActive || b.ExpiryDate == nil {
				continue
			}
			daysUntil := b.ExpiryDate.Sub(now).Hours() / 24
			severity := classifyExpiry(daysUntil, m.Config)
			if severity == ExpirySeverityNormal {
				continue
			}
			alerts = append(alerts, ExpiryAlert{
				OrgID:           ref.OrgID,
				SiteID:          ref.SiteID,
				IngredientID:    ref.IngredientID,
				BatchID:         b.ID,
				BatchNumber:     b.BatchNumber,
				ExpiryDate:      *b.ExpiryDate,
				DaysUntilExpiry: daysUntil,
				Qty:             b.Qty,
				Severity:        severity,
			})
		}
	}

	sort.SliceStable(alerts, func(i, j int) bool { return severityRank(alerts[i].Severity) < severityRank(alerts[j].Severity) })
	if len(alerts) > maxAlertsPerScan {
		alerts = alerts[:maxAlertsPerScan]
	}
	return alerts, nil
}

func severityRank(s ExpirySeverity) int {
	switch s {
	case ExpirySeverityExpired:
		return 0
	case ExpirySeverityCritical:
		return 1
	case ExpirySeverityUrgent:
		return 2
	case ExpirySeverityWarning:
		return 3
	default:
		return 4
	}
}

// WriteOffExpired drives each ref's inventory actor to write off its
// expired batches, returning one WriteOff per ingredient that had
// anything to write off.
func (m *ExpiryMonitor) WriteOffExpired(ctx context.Context, refs []IngredientRef, by string) ([]WriteOff, error) {
	now := m.Clock.Now()
	cfg := m.Config
	cfg.AlertsEnabled = true

	var results []WriteOff
	for _, ref := range refs {
		snap, err := snapshot(ctx, m.Host, ref)
		if err != nil {
			return nil, err
		}

		var expired []ExpiryAlert
		for _, b := range snap.Batches {
			if b.Status != inventory.BatchActive || b.ExpiryDate == nil {
				continue
			}
			daysUntil := b.ExpiryDate.Sub(now).Hours() / 24
			if classifyExpiry(daysUntil, cfg) != ExpirySeverityExpired {
				continue
			}
			expired = append(expired, ExpiryAlert{
				OrgID: ref.OrgID, SiteID: ref.SiteID, IngredientID: ref.IngredientID,
				BatchID: b.ID, BatchNumber: b.BatchNumber, ExpiryDate: *b.ExpiryDate,
				DaysUntilExpiry: daysUntil, Qty: b.Qty, Severity: ExpirySeverityExpired,
			})
		}
		if len(expired) == 0 {
			continue
		}

		_, dispatchErr := m.Host.Dispatch(ctx, ref.inventoryKey(), actor.Command{
			Name:    inventory.CmdWriteOffExpiredBatches,
			Payload: by,
		})
		results = append(results, WriteOff{OrgID: ref.OrgID, SiteID: ref.SiteID, IngredientID: ref.IngredientID, Alerts: expired, Err: dispatchErr})
	}
	return results, nil
}
