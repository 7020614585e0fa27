// Package stocktake implements the physical-count workflow: freeze
// theoretical quantities, record counts against them, and reconcile
// variances back into inventory on approval.
package stocktake

import "github.com/darkvelocity/retailcore/internal/platform/money"

// Status is one state in the stock-take lifecycle.
type Status string

const (
	StatusInProgress      Status = "InProgress"
	StatusPendingApproval Status = "PendingApproval"
	StatusFinalized       Status = "Finalized"
	StatusCancelled       Status = "Cancelled"
)

// Severity classifies a line's variance magnitude.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Classify buckets an absolute variance percentage into a Severity.
func Classify(variancePct money.Decimal) Severity {
	abs := money.Abs(variancePct)
	switch {
	case abs.IsZero():
		return SeverityNone
	case abs.LessThan(money.NewFromInt(2)):
		return SeverityLow
	case abs.LessThan(money.NewFromInt(5)):
		return SeverityMedium
	case abs.LessThan(money.NewFromInt(10)):
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

// Line is one ingredient's theoretical-vs-counted record.
type Line struct {
	IngredientID  string
	TheoreticalQty money.Decimal
	TheoreticalWAC money.Decimal
	Category       string

	Counted       bool
	CountedQty    money.Decimal
	CountedBy     string
	BatchNumber   string
	Location      string
	Notes         string

	Variance    money.Decimal
	VariancePct money.Decimal
	Severity    Severity
}

// State is the full state of one stock-take aggregate.
type State struct {
	OrgID            string
	SiteID           string
	StockTakeID      string
	Status           Status
	BlindCount       bool
	CategoryFilter   string
	IngredientFilter []string
	Lines            []Line
	StartedBy        string
	ApprovedBy       string
	FinalizeNotes    string
	ApplyAdjustments bool
	Version          int64
}

// TheoreticalMasked reports the externally visible theoretical quantity
// for line i: masked to zero under blind-count until Finalized.
func (s *State) TheoreticalMasked(i int) money.Decimal {
	if s.BlindCount && s.Status != StatusFinalized {
		return money.Zero
	}
	return s.Lines[i].TheoreticalQty
}

func (s *State) lineIndex(ingredientID string) int {
	for i := range s.Lines {
		if s.Lines[i].IngredientID == ingredientID {
			return i
		}
	}
	return -1
}
