package inventory

import (
	"testing"
	"time"

	"github.com/darkvelocity/retailcore/internal/platform/apierr"
	"github.com/darkvelocity/retailcore/internal/platform/clock"
	"github.com/darkvelocity/retailcore/internal/platform/money"
)

func newTestEngine() *Engine {
	return NewEngine(clock.Fixed{At: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}, clock.CryptoRandomness{})
}

func freshState(t *testing.T, e *Engine, reorder, par string) *State {
	t.Helper()
	s := &State{}
	if err := e.Initialize(s, InitParams{
		OrgID: "org1", SiteID: "site1", IngredientID: "ing1", Name: "Flour", Unit: "kg",
		ReorderPoint: money.MustParse(reorder), ParLevel: money.MustParse(par),
	}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return s
}

func TestUninitializedRejectsCommands(t *testing.T) {
	e := newTestEngine()
	s := &State{}
	_, _, err := e.Receive(s, "k1", ReceiveParams{Qty: money.NewFromInt(1), UnitCost: money.NewFromInt(1)})
	if !apierr.Is(err, apierr.NotInitialized) {
		t.Fatalf("expected NotInitialized, got %v", err)
	}
}

func TestDoubleInitializeConflicts(t *testing.T) {
	e := newTestEngine()
	s := freshState(t, e, "0", "0")
	err := e.Initialize(s, InitParams{})
	if !apierr.Is(err, apierr.Conflict) {
		t.Fatalf("expected Conflict on re-initialize, got %v", err)
	}
}

// Scenario 1 from the spec: FIFO consumption with WAC.
func TestFIFOConsumptionWithWAC(t *testing.T) {
	e := newTestEngine()
	s := freshState(t, e, "0", "0")

	if _, _, err := e.Receive(s, "k1", ReceiveParams{BatchNumber: "B1", Qty: money.NewFromInt(10), UnitCost: money.NewFromInt(1)}); err != nil {
		t.Fatalf("receive B1: %v", err)
	}
	if _, _, err := e.Receive(s, "k1", ReceiveParams{BatchNumber: "B2", Qty: money.NewFromInt(10), UnitCost: money.NewFromInt(3)}); err != nil {
		t.Fatalf("receive B2: %v", err)
	}

	result, _, err := e.Consume(s, "k1", ConsumeParams{Qty: money.NewFromInt(15), Reason: "sale"})
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if !result.TotalCost.Equal(money.NewFromInt(25)) {
		t.Fatalf("total cost = %s, want 25", result.TotalCost)
	}
	if len(result.Breakdown) != 2 {
		t.Fatalf("expected 2 breakdown steps, got %d", len(result.Breakdown))
	}
	if !s.WAC.Equal(money.NewFromInt(3)) {
		t.Fatalf("WAC = %s, want 3", s.WAC)
	}
	if !s.OnHand().Equal(money.NewFromInt(5)) {
		t.Fatalf("on hand = %s, want 5", s.OnHand())
	}
}

// Scenario 2 from the spec: negative stock then deficit absorption.
func TestNegativeStockThenDeficitAbsorption(t *testing.T) {
	e := newTestEngine()
	s := freshState(t, e, "0", "0")

	if _, _, err := e.Consume(s, "k1", ConsumeParams{Qty: money.NewFromInt(5), Reason: "sale"}); err != nil {
		t.Fatalf("consume with no stock: %v", err)
	}
	if !s.OnHand().Equal(money.NewFromInt(-5)) {
		t.Fatalf("on hand = %s, want -5", s.OnHand())
	}
	if !s.UnbatchedDeficit.Equal(money.NewFromInt(5)) {
		t.Fatalf("deficit = %s, want 5", s.UnbatchedDeficit)
	}
	if s.Level() != LevelOutOfStock {
		t.Fatalf("level = %s, want OutOfStock", s.Level())
	}

	if _, _, err := e.Receive(s, "k1", ReceiveParams{BatchNumber: "B1", Qty: money.NewFromInt(7), UnitCost: money.NewFromInt(2)}); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if !s.UnbatchedDeficit.IsZero() {
		t.Fatalf("deficit = %s, want 0", s.UnbatchedDeficit)
	}
	if !s.OnHand().Equal(money.NewFromInt(2)) {
		t.Fatalf("on hand = %s, want 2", s.OnHand())
	}
	if len(s.Batches) != 1 || !s.Batches[0].Qty.Equal(money.NewFromInt(2)) || !s.Batches[0].OriginalQty.Equal(money.NewFromInt(7)) {
		t.Fatalf("unexpected batch state: %+v", s.Batches)
	}
}

// Scenario 3 from the spec: level transitions on consumption.
func TestLevelTransitionsEmitAlerts(t *testing.T) {
	e := newTestEngine()
	s := freshState(t, e, "10", "20")
	e.Receive(s, "k1", ReceiveParams{BatchNumber: "B1", Qty: money.NewFromInt(25), UnitCost: money.NewFromInt(1)})

	_, events, err := e.Consume(s, "k1", ConsumeParams{Qty: money.NewFromInt(16), Reason: "sale"})
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if !hasEventType(events, EventReorderPointBreached) {
		t.Fatalf("expected ReorderPointBreachedEvent, got %v", eventTypes(events))
	}
	if !s.Available().Equal(money.NewFromInt(9)) {
		t.Fatalf("available = %s, want 9", s.Available())
	}

	_, events, err = e.Consume(s, "k1", ConsumeParams{Qty: money.NewFromInt(9), Reason: "sale"})
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if !hasEventType(events, EventStockDepletedEvent) {
		t.Fatalf("expected StockDepletedEvent, got %v", eventTypes(events))
	}
	if s.Level() != LevelOutOfStock {
		t.Fatalf("level = %s, want OutOfStock", s.Level())
	}
}

func hasEventType(events []Emitted, t string) bool {
	for _, e := range events {
		if e.Type == t {
			return true
		}
	}
	return false
}

func eventTypes(events []Emitted) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func TestConsumingExactlyOnHandZeroesEverything(t *testing.T) {
	e := newTestEngine()
	s := freshState(t, e, "0", "0")
	e.Receive(s, "k1", ReceiveParams{BatchNumber: "B1", Qty: money.NewFromInt(10), UnitCost: money.NewFromInt(1)})

	e.Consume(s, "k1", ConsumeParams{Qty: money.NewFromInt(10), Reason: "sale"})
	if !s.OnHand().IsZero() {
		t.Fatalf("on hand = %s, want 0", s.OnHand())
	}
	if !s.UnbatchedDeficit.IsZero() {
		t.Fatalf("deficit = %s, want 0", s.UnbatchedDeficit)
	}
	if s.Level() != LevelOutOfStock {
		t.Fatalf("level = %s, want OutOfStock", s.Level())
	}
}

func TestReceiveThenConsumeRoundTrips(t *testing.T) {
	e := newTestEngine()
	s := freshState(t, e, "0", "0")
	before := s.OnHand()
	beforeDeficit := s.UnbatchedDeficit

	e.Receive(s, "k1", ReceiveParams{BatchNumber: "B1", Qty: money.NewFromInt(8), UnitCost: money.NewFromInt(2)})
	e.Consume(s, "k1", ConsumeParams{Qty: money.NewFromInt(8), Reason: "sale"})

	if !s.OnHand().Equal(before) {
		t.Fatalf("on hand = %s, want %s", s.OnHand(), before)
	}
	if !s.UnbatchedDeficit.Equal(beforeDeficit) {
		t.Fatalf("deficit = %s, want %s", s.UnbatchedDeficit, beforeDeficit)
	}
}

func TestConsumeThenReverseRestoresOnHand(t *testing.T) {
	e := newTestEngine()
	s := freshState(t, e, "0", "0")
	e.Receive(s, "k1", ReceiveParams{BatchNumber: "B1", Qty: money.NewFromInt(10), UnitCost: money.NewFromInt(1)})
	before := s.OnHand()

	e.Consume(s, "k1", ConsumeParams{Qty: money.NewFromInt(4), Reason: "sale"})
	movementID := s.Movements[len(s.Movements)-1].ID

	if _, err := e.ReverseConsumption(s, "k1", movementID, "mistake", "mgr1"); err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if !s.OnHand().Equal(before) {
		t.Fatalf("on hand after reverse = %s, want %s", s.OnHand(), before)
	}
}

func TestAdjustToSameValueTwiceIsNoOpInState(t *testing.T) {
	e := newTestEngine()
	s := freshState(t, e, "0", "0")
	e.Receive(s, "k1", ReceiveParams{BatchNumber: "B1", Qty: money.NewFromInt(10), UnitCost: money.NewFromInt(1)})

	e.AdjustQuantity(s, "k1", AdjustQuantityParams{NewQty: money.NewFromInt(10), Reason: "recount", By: "mgr1"})
	movementsAfterFirst := len(s.Movements)
	e.AdjustQuantity(s, "k1", AdjustQuantityParams{NewQty: money.NewFromInt(10), Reason: "recount", By: "mgr1"})

	if !s.OnHand().Equal(money.NewFromInt(10)) {
		t.Fatalf("on hand = %s, want 10", s.OnHand())
	}
	if len(s.Movements) != movementsAfterFirst+1 {
		t.Fatalf("expected one additional movement entry, got %d vs %d", len(s.Movements), movementsAfterFirst)
	}
}

func TestTransferOutRejectsInsufficientStock(t *testing.T) {
	e := newTestEngine()
	s := freshState(t, e, "0", "0")
	_, _, err := e.TransferOut(s, "k1", TransferOutParams{Qty: money.NewFromInt(5), DestinationSiteID: "site2", TransferID: "t1", By: "mgr1"})
	if !apierr.Is(err, apierr.PreconditionViolation) {
		t.Fatalf("expected PreconditionViolation, got %v", err)
	}
}

func TestWriteOffExpiredBatchesOnlyAffectsPastExpiry(t *testing.T) {
	e := newTestEngine()
	s := freshState(t, e, "0", "0")
	past := e.Clock.Now().Add(-time.Hour)
	future := e.Clock.Now().Add(time.Hour)

	e.Receive(s, "k1", ReceiveParams{BatchNumber: "B1", Qty: money.NewFromInt(5), UnitCost: money.NewFromInt(1), ExpiryDate: &past})
	e.Receive(s, "k1", ReceiveParams{BatchNumber: "B2", Qty: money.NewFromInt(5), UnitCost: money.NewFromInt(1), ExpiryDate: &future})

	events, err := e.WriteOffExpiredBatches(s, "k1", "mgr1")
	if err != nil {
		t.Fatalf("write off: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one write-off event, got %d", len(events))
	}
	if s.Batches[0].Status != BatchWrittenOff {
		t.Fatalf("expected expired batch written off, got %s", s.Batches[0].Status)
	}
	if s.Batches[1].Status != BatchActive {
		t.Fatalf("expected unexpired batch to remain active, got %s", s.Batches[1].Status)
	}
	if !s.OnHand().Equal(money.NewFromInt(5)) {
		t.Fatalf("on hand = %s, want 5", s.OnHand())
	}
}

func TestReverseOrderConsumptionAggregates(t *testing.T) {
	e := newTestEngine()
	s := freshState(t, e, "0", "0")
	e.Receive(s, "k1", ReceiveParams{BatchNumber: "B1", Qty: money.NewFromInt(20), UnitCost: money.NewFromInt(1)})

	e.Consume(s, "k1", ConsumeParams{Qty: money.NewFromInt(3), Reason: "sale", OrderID: "order-1"})
	e.Consume(s, "k1", ConsumeParams{Qty: money.NewFromInt(4), Reason: "sale", OrderID: "order-1"})
	e.Consume(s, "k1", ConsumeParams{Qty: money.NewFromInt(2), Reason: "sale", OrderID: "order-2"})

	onHandBefore := s.OnHand()
	count, events, err := e.ReverseOrderConsumption(s, "k1", "order-1", "cancelled", "mgr1")
	if err != nil {
		t.Fatalf("reverse order: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 reversed movements, got %d", count)
	}
	if len(events) != 1 {
		t.Fatalf("expected a single aggregated Adjustment event, got %d", len(events))
	}
	if !s.OnHand().Equal(money.Add(onHandBefore, money.NewFromInt(7))) {
		t.Fatalf("on hand after reversal = %s, want %s", s.OnHand(), money.Add(onHandBefore, money.NewFromInt(7)))
	}
}

func TestMovementLogIsCappedAt100(t *testing.T) {
	e := newTestEngine()
	s := freshState(t, e, "0", "0")
	e.Receive(s, "k1", ReceiveParams{BatchNumber: "B1", Qty: money.NewFromInt(1000), UnitCost: money.NewFromInt(1)})

	for i := 0; i < 150; i++ {
		e.Consume(s, "k1", ConsumeParams{Qty: money.NewFromInt(1), Reason: "sale"})
	}
	if len(s.Movements) != movementLogCap {
		t.Fatalf("movement log length = %d, want %d", len(s.Movements), movementLogCap)
	}
}
