package stocktake

import (
	"testing"

	"github.com/darkvelocity/retailcore/internal/platform/apierr"
	"github.com/darkvelocity/retailcore/internal/platform/money"
)

type fakeAdjuster struct {
	calls map[string]money.Decimal
}

func newFakeAdjuster() *fakeAdjuster {
	return &fakeAdjuster{calls: map[string]money.Decimal{}}
}

func (f *fakeAdjuster) AdjustQuantity(ingredientID string, newQty money.Decimal, reason, by, approvedBy string) error {
	f.calls[ingredientID] = newQty
	return nil
}

func startedStockTake() (*Engine, *State) {
	e := NewEngine()
	s := &State{}
	e.Start(s, StartParams{
		OrgID: "org1", SiteID: "site1", StockTakeID: "st1",
		Snapshots: []Snapshot{
			{IngredientID: "flour", Category: "dry", OnHand: money.NewFromInt(100), WAC: money.MustParse("1.00")},
			{IngredientID: "sugar", Category: "dry", OnHand: money.NewFromInt(50), WAC: money.MustParse("2.00")},
		},
	})
	return e, s
}

func TestStartFreezesTheoreticalQuantities(t *testing.T) {
	_, s := startedStockTake()
	if s.Status != StatusInProgress {
		t.Fatalf("expected InProgress, got %s", s.Status)
	}
	if len(s.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(s.Lines))
	}
}

func TestStartAppliesCategoryFilter(t *testing.T) {
	e := NewEngine()
	s := &State{}
	e.Start(s, StartParams{
		OrgID: "org1", SiteID: "site1", StockTakeID: "st1",
		CategoryFilter: "dry",
		Snapshots: []Snapshot{
			{IngredientID: "flour", Category: "dry", OnHand: money.NewFromInt(100)},
			{IngredientID: "beer", Category: "beverage", OnHand: money.NewFromInt(10)},
		},
	})
	if len(s.Lines) != 1 || s.Lines[0].IngredientID != "flour" {
		t.Fatalf("expected only the dry-category line, got %+v", s.Lines)
	}
}

func TestRecordCountClassifiesSeverity(t *testing.T) {
	e, s := startedStockTake()
	if err := e.RecordCount(s, RecordCountParams{IngredientID: "flour", CountedQty: money.NewFromInt(99), By: "clerk1"}); err != nil {
		t.Fatalf("RecordCount: %v", err)
	}
	idx := s.lineIndex("flour")
	if s.Lines[idx].Severity != SeverityLow {
		t.Fatalf("expected low severity for 1%% variance, got %s", s.Lines[idx].Severity)
	}

	e.RecordCount(s, RecordCountParams{IngredientID: "sugar", CountedQty: money.NewFromInt(40), By: "clerk1"})
	idx = s.lineIndex("sugar")
	if s.Lines[idx].Severity != SeverityCritical {
		t.Fatalf("expected critical severity for 20%% variance, got %s", s.Lines[idx].Severity)
	}
}

func TestClassifyBoundaries(t *testing.T) {
	cases := []struct {
		pct  string
		want Severity
	}{
		{"0", SeverityNone},
		{"1.99", SeverityLow},
		{"2", SeverityMedium},
		{"4.99", SeverityMedium},
		{"5", SeverityHigh},
		{"9.99", SeverityHigh},
		{"10", SeverityCritical},
		{"-10", SeverityCritical},
	}
	for _, c := range cases {
		got := Classify(money.MustParse(c.pct))
		if got != c.want {
			t.Errorf("Classify(%s) = %s, want %s", c.pct, got, c.want)
		}
	}
}

func TestSubmitForApprovalRequiresAtLeastOneCount(t *testing.T) {
	e, s := startedStockTake()
	if err := e.SubmitForApproval(s, "mgr1"); apierr.KindOf(err) != apierr.PreconditionViolation {
		t.Fatalf("expected precondition violation with no counts, got %v", err)
	}
	e.RecordCount(s, RecordCountParams{IngredientID: "flour", CountedQty: money.NewFromInt(99), By: "clerk1"})
	if err := e.SubmitForApproval(s, "mgr1"); err != nil {
		t.Fatalf("SubmitForApproval: %v", err)
	}
	if s.Status != StatusPendingApproval {
		t.Fatalf("expected PendingApproval, got %s", s.Status)
	}
}

func TestFinalizeAppliesAdjustmentsForVariantLines(t *testing.T) {
	e, s := startedStockTake()
	e.RecordCount(s, RecordCountParams{IngredientID: "flour", CountedQty: money.NewFromInt(99), By: "clerk1"})
	e.RecordCount(s, RecordCountParams{IngredientID: "sugar", CountedQty: money.NewFromInt(50), By: "clerk1"})
	e.SubmitForApproval(s, "mgr1")

	adj := newFakeAdjuster()
	if err := e.Finalize(s, "mgr1", true, "ok", adj); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if s.Status != StatusFinalized {
		t.Fatalf("expected Finalized, got %s", s.Status)
	}
	if _, ok := adj.calls["flour"]; !ok {
		t.Fatalf("expected flour (variance -1) to be adjusted")
	}
	if _, ok := adj.calls["sugar"]; ok {
		t.Fatalf("sugar has zero variance, should not be adjusted")
	}
}

func TestBlindCountMasksTheoreticalUntilFinalized(t *testing.T) {
	e := NewEngine()
	s := &State{}
	e.Start(s, StartParams{
		OrgID: "org1", SiteID: "site1", StockTakeID: "st1", BlindCount: true,
		Snapshots: []Snapshot{{IngredientID: "flour", OnHand: money.NewFromInt(100)}},
	})
	if got := s.TheoreticalMasked(0); !got.IsZero() {
		t.Fatalf("expected masked theoretical qty 0, got %s", got)
	}
	e.RecordCount(s, RecordCountParams{IngredientID: "flour", CountedQty: money.NewFromInt(90), By: "c"})
	e.SubmitForApproval(s, "mgr1")
	e.Finalize(s, "mgr1", false, "", newFakeAdjuster())
	if got := s.TheoreticalMasked(0); !got.Equal(money.NewFromInt(100)) {
		t.Fatalf("expected unmasked theoretical qty 100 after finalize, got %s", got)
	}
}

func TestCancelForbiddenAfterFinalize(t *testing.T) {
	e, s := startedStockTake()
	e.RecordCount(s, RecordCountParams{IngredientID: "flour", CountedQty: money.NewFromInt(99), By: "clerk1"})
	e.SubmitForApproval(s, "mgr1")
	e.Finalize(s, "mgr1", false, "", newFakeAdjuster())

	if err := e.Cancel(s); apierr.KindOf(err) != apierr.InvalidStateTransition {
		t.Fatalf("expected invalid state transition cancelling a finalized stock-take, got %v", err)
	}
}
