package inventory

import (
	"fmt"
	"sort"
	"time"

	"github.com/darkvelocity/retailcore/internal/ledger"
	"github.com/darkvelocity/retailcore/internal/platform/apierr"
	"github.com/darkvelocity/retailcore/internal/platform/clock"
	"github.com/darkvelocity/retailcore/internal/platform/money"
)

// Emitted is one event raised by a command, awaiting the caller's
// eventlog.Append and stream publish.
type Emitted struct {
	Type    string
	Payload any
}

// Engine applies inventory commands to a State. It carries the injected
// Clock and Randomness capabilities so batch ids and timestamps stay
// deterministic under test.
type Engine struct {
	Clock clock.Clock
	Rand  clock.Randomness
}

// NewEngine builds an Engine from the given capabilities.
func NewEngine(c clock.Clock, r clock.Randomness) *Engine {
	if c == nil {
		c = clock.System{}
	}
	if r == nil {
		r = clock.CryptoRandomness{}
	}
	return &Engine{Clock: c, Rand: r}
}

func (e *Engine) newID(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, e.Rand.HexToken(8))
}

// InitParams is the one-time setup payload for Initialize.
type InitParams struct {
	OrgID        string
	SiteID       string
	IngredientID string
	Name         string
	SKU          string
	Unit         string
	Category     string
	ReorderPoint money.Decimal
	ParLevel     money.Decimal
}

// Initialize sets up the aggregate. It must be called exactly once before
// any other command; later calls are rejected with Conflict.
func (e *Engine) Initialize(s *State, p InitParams) error {
	if s.Initialized {
		return apierr.ErrConflict("inventory aggregate is already initialized")
	}
	s.OrgID = p.OrgID
	s.SiteID = p.SiteID
	s.IngredientID = p.IngredientID
	s.Name = p.Name
	s.SKU = p.SKU
	s.Unit = p.Unit
	s.Category = p.Category
	s.ReorderPoint = p.ReorderPoint
	s.ParLevel = p.ParLevel
	s.WAC = money.Zero
	s.UnbatchedDeficit = money.Zero
	s.Initialized = true
	return nil
}

func requireInitialized(s *State, actorKey string) error {
	if !s.Initialized {
		return apierr.ErrNotInitialized(actorKey)
	}
	return nil
}

// ReceiveParams is the payload for Receive.
type ReceiveParams struct {
	BatchNumber string
	Qty         money.Decimal
	UnitCost    money.Decimal
	ExpiryDate  *time.Time
	SupplierID  string
	DeliveryID  string
	Location    string
	Notes       string
	SKUID       string
}

// Receive books a new delivery: it first cancels any outstanding
// unbatched deficit, then creates a new Active batch for the remainder.
func (e *Engine) Receive(s *State, actorKey string, p ReceiveParams) (StockReceivedPayload, []Emitted, error) {
	if err := requireInitialized(s, actorKey); err != nil {
		return StockReceivedPayload{}, nil, err
	}
	if !p.Qty.IsPositive() {
		return StockReceivedPayload{}, nil, apierr.ErrPreconditionViolation("receive quantity must be positive")
	}

	qtyForBatch := p.Qty
	if s.UnbatchedDeficit.IsPositive() {
		absorbed := money.Min(s.UnbatchedDeficit, p.Qty)
		s.UnbatchedDeficit = money.Add(s.UnbatchedDeficit, absorbed.Neg())
		qtyForBatch = money.Add(p.Qty, absorbed.Neg())
	}

	batch := Batch{
		ID:          e.newID("batch"),
		BatchNumber: p.BatchNumber,
		ReceivedAt:  e.Clock.Now(),
		ExpiryDate:  p.ExpiryDate,
		// originalQty intentionally records the whole received quantity,
		// even when part of it was absorbed by the deficit — observed
		// upstream behaviour, preserved rather than "fixed".
		OriginalQty: p.Qty,
		UnitCost:    p.UnitCost,
		SupplierID:  p.SupplierID,
		DeliveryID:  p.DeliveryID,
		Location:    p.Location,
		SKUID:       p.SKUID,
	}
	if qtyForBatch.IsPositive() {
		batch.Qty = qtyForBatch
		batch.TotalCost = money.Mul(qtyForBatch, p.UnitCost)
		batch.Status = BatchActive
		s.Batches = append(s.Batches, batch)
	}

	s.Balance.Credit(p.Qty, ledger.ReasonReceipt, map[string]string{"batch_number": p.BatchNumber})
	s.recomputeWAC()

	s.pushMovement(Movement{
		ID:         e.newID("mv"),
		Type:       MovementReceipt,
		Qty:        p.Qty,
		TotalCost:  money.Mul(p.Qty, p.UnitCost),
		Reason:     "receipt",
		RecordedAt: e.Clock.Now(),
	})

	payload := StockReceivedPayload{
		BatchID:     batch.ID,
		BatchNumber: p.BatchNumber,
		Qty:         p.Qty,
		UnitCost:    p.UnitCost,
		OnHand:      s.OnHand(),
		WAC:         s.WAC,
	}
	return payload, []Emitted{{Type: EventStockReceived, Payload: payload}}, nil
}

// consumeFIFO depletes Active batches in receivedAt order, returning the
// per-batch breakdown. Any quantity beyond what batches can supply is
// estimated at the pre-consumption WAC and added to UnbatchedDeficit —
// the service never refuses to record consumption.
func (e *Engine) consumeFIFO(s *State, qty money.Decimal) []BatchConsumption {
	wacBefore := s.WAC
	remaining := qty
	var breakdown []BatchConsumption

	for _, i := range s.activeBatches() {
		if !remaining.IsPositive() {
			break
		}
		b := &s.Batches[i]
		step := money.Min(remaining, b.Qty)
		if !step.IsPositive() {
			continue
		}
		cost := money.Mul(step, b.UnitCost)
		breakdown = append(breakdown, BatchConsumption{BatchID: b.ID, Qty: step, UnitCost: b.UnitCost, Cost: cost})
		b.Qty = money.Add(b.Qty, step.Neg())
		b.TotalCost = money.Mul(b.Qty, b.UnitCost)
		if !b.Qty.IsPositive() {
			b.Status = BatchExhausted
		}
		remaining = money.Add(remaining, step.Neg())
	}

	if remaining.IsPositive() {
		cost := money.Mul(remaining, wacBefore)
		breakdown = append(breakdown, BatchConsumption{Qty: remaining, UnitCost: wacBefore, Cost: cost})
		s.UnbatchedDeficit = money.Add(s.UnbatchedDeficit, remaining)
	}

	s.recomputeWAC()
	return breakdown
}

func totalCost(breakdown []BatchConsumption) money.Decimal {
	total := money.Zero
	for _, b := range breakdown {
		total = money.Add(total, b.Cost)
	}
	return total
}

func alertsForTransition(before, after StockLevel, available money.Decimal) []Emitted {
	var out []Emitted
	if after == LevelLow && before != LevelLow && before != LevelOutOfStock {
		out = append(out,
			Emitted{Type: EventReorderPointBreached, Payload: StockLevelAlertPayload{Level: after, Available: available}},
			Emitted{Type: EventLowStockAlertTriggered, Payload: StockLevelAlertPayload{Level: after, Available: available}},
		)
	}
	if after == LevelOutOfStock && before != LevelOutOfStock {
		out = append(out,
			Emitted{Type: EventStockDepletedEvent, Payload: StockLevelAlertPayload{Level: after, Available: available}},
			Emitted{Type: EventStockDepleted, Payload: StockLevelAlertPayload{Level: after, Available: available}},
		)
	}
	return out
}

// ConsumeParams is the payload for Consume.
type ConsumeParams struct {
	Qty         money.Decimal
	Reason      string
	OrderID     string
	PerformedBy string
}

// Consume takes qty out of stock via FIFO, detecting reorder-point and
// depletion transitions along the way.
func (e *Engine) Consume(s *State, actorKey string, p ConsumeParams) (ConsumptionResult, []Emitted, error) {
	if err := requireInitialized(s, actorKey); err != nil {
		return ConsumptionResult{}, nil, err
	}
	if !p.Qty.IsPositive() {
		return ConsumptionResult{}, nil, apierr.ErrPreconditionViolation("consume quantity must be positive")
	}

	levelBefore := s.Level()
	breakdown := e.consumeFIFO(s, p.Qty)
	cost := totalCost(breakdown)

	s.Balance.Debit(p.Qty, ledger.ReasonConsumption, map[string]string{"reason": p.Reason, "order_id": p.OrderID}, true)

	s.pushMovement(Movement{
		ID:          e.newID("mv"),
		Type:        MovementConsumption,
		Qty:         p.Qty,
		TotalCost:   cost,
		Reason:      p.Reason,
		OrderID:     p.OrderID,
		PerformedBy: p.PerformedBy,
		RecordedAt:  e.Clock.Now(),
		Breakdown:   breakdown,
	})

	result := ConsumptionResult{
		ConsumedQty:         p.Qty,
		TotalCost:           cost,
		Breakdown:           breakdown,
		CostOfGoodsConsumed: cost,
		QuantityRemaining:   s.OnHand(),
	}

	events := []Emitted{{Type: EventStockConsumed, Payload: StockConsumedPayload{
		Qty: p.Qty, TotalCost: cost, Breakdown: breakdown, Reason: p.Reason, OrderID: p.OrderID,
		CostOfGoodsConsumed: cost, QuantityRemaining: s.OnHand(),
	}}}
	events = append(events, alertsForTransition(levelBefore, s.Level(), s.Available())...)

	return result, events, nil
}

// WasteParams is the payload for RecordWaste.
type WasteParams struct {
	Qty         money.Decimal
	Reason      string
	Category    string
	RecordedBy  string
}

// RecordWaste applies the same FIFO algorithm as Consume but tags the
// movement and ledger entry as waste.
func (e *Engine) RecordWaste(s *State, actorKey string, p WasteParams) (ConsumptionResult, []Emitted, error) {
	if err := requireInitialized(s, actorKey); err != nil {
		return ConsumptionResult{}, nil, err
	}
	if !p.Qty.IsPositive() {
		return ConsumptionResult{}, nil, apierr.ErrPreconditionViolation("waste quantity must be positive")
	}

	levelBefore := s.Level()
	breakdown := e.consumeFIFO(s, p.Qty)
	cost := totalCost(breakdown)

	s.Balance.Debit(p.Qty, ledger.ReasonWaste, map[string]string{"reason": p.Reason, "category": p.Category}, true)

	s.pushMovement(Movement{
		ID:          e.newID("mv"),
		Type:        MovementWaste,
		Qty:         p.Qty,
		TotalCost:   cost,
		Reason:      p.Reason,
		PerformedBy: p.RecordedBy,
		RecordedAt:  e.Clock.Now(),
		Breakdown:   breakdown,
	})

	result := ConsumptionResult{ConsumedQty: p.Qty, TotalCost: cost, Breakdown: breakdown, CostOfGoodsConsumed: cost, QuantityRemaining: s.OnHand()}
	events := []Emitted{{Type: EventStockWrittenOff, Payload: StockConsumedPayload{
		Qty: p.Qty, TotalCost: cost, Breakdown: breakdown, Reason: p.Reason,
		CostOfGoodsConsumed: cost, QuantityRemaining: s.OnHand(),
	}}}
	events = append(events, alertsForTransition(levelBefore, s.Level(), s.Available())...)
	return result, events, nil
}

// AdjustQuantityParams is the payload for AdjustQuantity.
type AdjustQuantityParams struct {
	NewQty     money.Decimal
	Reason     string
	By         string
	ApprovedBy string
}

// AdjustQuantity reconciles on-hand to newQty: a positive variance first
// cancels unbatched deficit, then books an adjustment batch at current
// WAC for any remainder; a negative variance FIFO-consumes the shortfall.
func (e *Engine) AdjustQuantity(s *State, actorKey string, p AdjustQuantityParams) ([]Emitted, error) {
	if err := requireInitialized(s, actorKey); err != nil {
		return nil, err
	}
	variance := money.Add(p.NewQty, s.OnHand().Neg())

	if variance.IsPositive() {
		remainder := variance
		if s.UnbatchedDeficit.IsPositive() {
			absorbed := money.Min(s.UnbatchedDeficit, remainder)
			s.UnbatchedDeficit = money.Add(s.UnbatchedDeficit, absorbed.Neg())
			remainder = money.Add(remainder, absorbed.Neg())
		}
		if remainder.IsPositive() {
			s.Batches = append(s.Batches, Batch{
				ID:          e.newID("batch"),
				BatchNumber: fmt.Sprintf("ADJ-%s", e.Rand.HexToken(4)),
				ReceivedAt:  e.Clock.Now(),
				Qty:         remainder,
				OriginalQty: remainder,
				UnitCost:    s.WAC,
				TotalCost:   money.Mul(remainder, s.WAC),
				Status:      BatchActive,
			})
		}
	} else if variance.IsNegative() {
		e.consumeFIFO(s, variance.Abs())
	}

	s.Balance.AdjustTo(p.NewQty, ledger.ReasonAdjustment, map[string]string{"reason": p.Reason, "approved_by": p.ApprovedBy})
	s.recomputeWAC()

	s.pushMovement(Movement{
		ID:          e.newID("mv"),
		Type:        MovementAdjustment,
		Qty:         variance,
		Reason:      p.Reason,
		PerformedBy: p.By,
		RecordedAt:  e.Clock.Now(),
	})

	return []Emitted{{Type: EventStockAdjusted, Payload: StockAdjustedPayload{Variance: variance, NewQty: p.NewQty, Reason: p.Reason}}}, nil
}

// TransferOutParams is the payload for TransferOut.
type TransferOutParams struct {
	Qty               money.Decimal
	DestinationSiteID string
	TransferID        string
	By                string
}

// TransferOut FIFO-debits the aggregate without allowing negative stock;
// the caller (the transfer actor) is responsible for a compensating
// ReceiveTransfer into the destination.
func (e *Engine) TransferOut(s *State, actorKey string, p TransferOutParams) ([]BatchConsumption, []Emitted, error) {
	if err := requireInitialized(s, actorKey); err != nil {
		return nil, nil, err
	}
	if !s.Balance.HasSufficientBalance(p.Qty) {
		return nil, nil, apierr.ErrPreconditionViolation("insufficient stock for transfer out")
	}

	breakdown := e.consumeFIFO(s, p.Qty)
	cost := totalCost(breakdown)
	s.Balance.Debit(p.Qty, ledger.ReasonTransferOut, map[string]string{"transfer_id": p.TransferID, "destination": p.DestinationSiteID}, false)

	s.pushMovement(Movement{
		ID:         e.newID("mv"),
		Type:       MovementTransferOut,
		Qty:        p.Qty,
		TotalCost:  cost,
		Reason:     "transfer_out",
		OrderID:    p.TransferID,
		PerformedBy: p.By,
		RecordedAt: e.Clock.Now(),
		Breakdown:  breakdown,
	})

	return breakdown, []Emitted{{Type: EventStockTransferredOut, Payload: StockConsumedPayload{
		Qty: p.Qty, TotalCost: cost, Breakdown: breakdown, Reason: "transfer_out", OrderID: p.TransferID,
		CostOfGoodsConsumed: cost, QuantityRemaining: s.OnHand(),
	}}}, nil
}

// ReceiveTransferParams is the payload for ReceiveTransfer.
type ReceiveTransferParams struct {
	Qty          money.Decimal
	UnitCost     money.Decimal
	SourceSiteID string
	TransferID   string
	BatchNumber  string
}

// ReceiveTransfer is Receive with a synthesized batch number, logged as a
// TransferIn movement tagged with the transfer id.
func (e *Engine) ReceiveTransfer(s *State, actorKey string, p ReceiveTransferParams) (StockReceivedPayload, []Emitted, error) {
	if err := requireInitialized(s, actorKey); err != nil {
		return StockReceivedPayload{}, nil, err
	}
	batchNumber := p.BatchNumber
	if batchNumber == "" {
		batchNumber = fmt.Sprintf("XFER-%s", e.Rand.HexToken(6))
	}

	payload, events, err := e.Receive(s, actorKey, ReceiveParams{
		BatchNumber: batchNumber,
		Qty:         p.Qty,
		UnitCost:    p.UnitCost,
	})
	if err != nil {
		return payload, events, err
	}
	// Re-tag the movement the shared Receive path logged, so a transfer-in
	// is distinguishable from an ordinary receipt downstream.
	s.Movements[len(s.Movements)-1].Type = MovementTransferIn
	s.Movements[len(s.Movements)-1].OrderID = p.TransferID
	return payload, events, nil
}

// ReverseConsumption looks up a prior consumption movement by id and
// credits the ledger back for its quantity.
func (e *Engine) ReverseConsumption(s *State, actorKey, movementID, reason, by string) ([]Emitted, error) {
	if err := requireInitialized(s, actorKey); err != nil {
		return nil, err
	}
	var found *Movement
	for i := range s.Movements {
		if s.Movements[i].ID == movementID {
			found = &s.Movements[i]
			break
		}
	}
	if found == nil {
		return nil, apierr.ErrPreconditionViolation(fmt.Sprintf("movement %s not found in log", movementID))
	}

	qty := found.Qty.Abs()
	s.Balance.Credit(qty, ledger.ReasonReversal, map[string]string{"reason": reason, "reversed_movement": movementID})
	s.pushMovement(Movement{ID: e.newID("mv"), Type: MovementAdjustment, Qty: qty, Reason: reason, PerformedBy: by, RecordedAt: e.Clock.Now()})

	return []Emitted{{Type: EventAdjustment, Payload: AdjustmentPayload{Qty: qty, Reason: reason}}}, nil
}

// ReverseOrderConsumption aggregates every consumption movement tagged
// with orderID into a single credit and a single Adjustment event.
func (e *Engine) ReverseOrderConsumption(s *State, actorKey, orderID, reason, by string) (int, []Emitted, error) {
	if err := requireInitialized(s, actorKey); err != nil {
		return 0, nil, err
	}
	total := money.Zero
	count := 0
	for _, m := range s.Movements {
		if m.Type == MovementConsumption && m.OrderID == orderID {
			total = money.Add(total, m.Qty)
			count++
		}
	}
	if count == 0 {
		return 0, nil, nil
	}

	s.Balance.Credit(total, ledger.ReasonReversal, map[string]string{"reason": reason, "order_id": orderID})
	s.pushMovement(Movement{ID: e.newID("mv"), Type: MovementAdjustment, Qty: total, Reason: reason, PerformedBy: by, OrderID: orderID, RecordedAt: e.Clock.Now()})

	return count, []Emitted{{Type: EventAdjustment, Payload: AdjustmentPayload{Qty: total, Reason: reason, OrderID: orderID}}}, nil
}

// WriteOffExpiredBatches writes off every Active batch whose expiry date
// has passed, as one aggregated movement.
func (e *Engine) WriteOffExpiredBatches(s *State, actorKey, by string) ([]Emitted, error) {
	if err := requireInitialized(s, actorKey); err != nil {
		return nil, err
	}
	now := e.Clock.Now()

	var breakdown []BatchConsumption
	totalQty := money.Zero
	for i := range s.Batches {
		b := &s.Batches[i]
		if b.Status != BatchActive || b.ExpiryDate == nil || !b.ExpiryDate.Before(now) {
			continue
		}
		qty := b.Qty
		if !qty.IsPositive() {
			continue
		}
		breakdown = append(breakdown, BatchConsumption{BatchID: b.ID, Qty: qty, UnitCost: b.UnitCost, Cost: money.Mul(qty, b.UnitCost)})
		totalQty = money.Add(totalQty, qty)
		b.Qty = money.Zero
		b.TotalCost = money.Zero
		b.Status = BatchWrittenOff
	}
	if len(breakdown) == 0 {
		return nil, nil
	}

	cost := totalCost(breakdown)
	s.Balance.Debit(totalQty, ledger.ReasonWaste, map[string]string{"reason": "expired"}, true)
	s.recomputeWAC()

	s.pushMovement(Movement{ID: e.newID("mv"), Type: MovementWaste, Qty: totalQty, TotalCost: cost, Reason: "expired", PerformedBy: by, RecordedAt: now, Breakdown: breakdown})

	return []Emitted{{Type: EventStockWrittenOff, Payload: StockConsumedPayload{
		Qty: totalQty, TotalCost: cost, Breakdown: breakdown, Reason: "expired",
		CostOfGoodsConsumed: cost, QuantityRemaining: s.OnHand(),
	}}}, nil
}

// sortBatchesByReceivedAt keeps FIFO order stable after replay, where
// events may arrive in a different in-memory slice order than insertion.
func sortBatchesByReceivedAt(batches []Batch) {
	sort.SliceStable(batches, func(i, j int) bool { return batches[i].ReceivedAt.Before(batches[j].ReceivedAt) })
}
