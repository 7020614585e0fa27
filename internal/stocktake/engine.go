package stocktake

import (
	"github.com/darkvelocity/retailcore/internal/platform/apierr"
	"github.com/darkvelocity/retailcore/internal/platform/money"
)

// Emitted mirrors inventory.Emitted: an event type name plus its payload,
// ready to append to the aggregate's event log.
type Emitted struct {
	Type    string
	Payload any
}

// Engine applies stock-take commands to a State.
type Engine struct{}

// NewEngine builds a stock-take Engine.
func NewEngine() *Engine { return &Engine{} }

// Snapshot is one inventory actor's current on-hand quantity and WAC,
// supplied by the caller in StartParams at Start time; neither the engine
// nor the stock-take actor reads the inventory actors.
type Snapshot struct {
	IngredientID string
	Category     string
	OnHand       money.Decimal
	WAC          money.Decimal
}

// StartParams is the payload for Start.
type StartParams struct {
	OrgID            string
	SiteID           string
	StockTakeID      string
	BlindCount       bool
	CategoryFilter   string
	IngredientFilter []string
	StartedBy        string
	Snapshots        []Snapshot
}

// Start freezes theoretical quantities from the supplied snapshots,
// applying the category/ingredient filters.
func (e *Engine) Start(s *State, p StartParams) error {
	s.OrgID, s.SiteID, s.StockTakeID = p.OrgID, p.SiteID, p.StockTakeID
	s.BlindCount = p.BlindCount
	s.CategoryFilter = p.CategoryFilter
	s.IngredientFilter = p.IngredientFilter
	s.StartedBy = p.StartedBy

	filterSet := map[string]bool{}
	for _, id := range p.IngredientFilter {
		filterSet[id] = true
	}

	s.Lines = nil
	for _, snap := range p.Snapshots {
		if p.CategoryFilter != "" && snap.Category != p.CategoryFilter {
			continue
		}
		if len(filterSet) > 0 && !filterSet[snap.IngredientID] {
			continue
		}
		s.Lines = append(s.Lines, Line{
			IngredientID:   snap.IngredientID,
			Category:       snap.Category,
			TheoreticalQty: snap.OnHand,
			TheoreticalWAC: snap.WAC,
		})
	}
	s.Status = StatusInProgress
	return nil
}

func (s *State) requireStatus(command string, want Status) error {
	if s.Status != want {
		return apierr.ErrInvalidStateTransition(s.StockTakeID, string(s.Status), command)
	}
	return nil
}

// RecordCountParams is the payload for RecordCount.
type RecordCountParams struct {
	IngredientID string
	CountedQty   money.Decimal
	By           string
	BatchNumber  string
	Location     string
	Notes        string
}

// RecordCount records a physical count against a frozen line and
// classifies its variance severity.
func (e *Engine) RecordCount(s *State, p RecordCountParams) error {
	if err := s.requireStatus("RecordCount", StatusInProgress); err != nil {
		return err
	}
	idx := s.lineIndex(p.IngredientID)
	if idx < 0 {
		return apierr.ErrPreconditionViolation("stock-take has no frozen line for that ingredient")
	}

	line := &s.Lines[idx]
	line.Counted = true
	line.CountedQty = p.CountedQty
	line.CountedBy = p.By
	line.BatchNumber = p.BatchNumber
	line.Location = p.Location
	line.Notes = p.Notes
	line.Variance = money.Add(p.CountedQty, line.TheoreticalQty.Neg())
	line.VariancePct = money.PercentOf(line.Variance, line.TheoreticalQty)
	line.Severity = Classify(line.VariancePct)
	return nil
}

// SubmitForApproval transitions InProgress -> PendingApproval. At least
// one line must have a recorded count.
func (e *Engine) SubmitForApproval(s *State, by string) error {
	if err := s.requireStatus("SubmitForApproval", StatusInProgress); err != nil {
		return err
	}
	hasCount := false
	for _, l := range s.Lines {
		if l.Counted {
			hasCount = true
			break
		}
	}
	if !hasCount {
		return apierr.ErrPreconditionViolation("stock-take has no recorded counts")
	}
	s.Status = StatusPendingApproval
	return nil
}

// InventoryAdjuster is the seam through which Finalize reconciles
// counted variances back into the inventory aggregate.
type InventoryAdjuster interface {
	AdjustQuantity(ingredientID string, newQty money.Decimal, reason, by, approvedBy string) error
}

// Finalize transitions PendingApproval -> Finalized. When applyAdjustments
// is set, every counted line with a non-zero variance is reconciled into
// inventory via recordPhysicalCount (AdjustQuantity with reason
// "physical_count").
func (e *Engine) Finalize(s *State, approvedBy string, applyAdjustments bool, notes string, adjuster InventoryAdjuster) error {
	if err := s.requireStatus("Finalize", StatusPendingApproval); err != nil {
		return err
	}

	if applyAdjustments {
		for _, l := range s.Lines {
			if !l.Counted || l.Variance.IsZero() {
				continue
			}
			if err := adjuster.AdjustQuantity(l.IngredientID, l.CountedQty, "physical_count", approvedBy, approvedBy); err != nil {
				return err
			}
		}
	}

	s.ApprovedBy = approvedBy
	s.ApplyAdjustments = applyAdjustments
	s.FinalizeNotes = notes
	s.Status = StatusFinalized
	return nil
}

// Cancel aborts a stock-take before it is finalized.
func (e *Engine) Cancel(s *State) error {
	if s.Status == StatusFinalized {
		return apierr.ErrInvalidStateTransition(s.StockTakeID, string(s.Status), "Cancel")
	}
	s.Status = StatusCancelled
	return nil
}
