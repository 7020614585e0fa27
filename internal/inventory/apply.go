package inventory

import (
	"encoding/json"

	"github.com/darkvelocity/retailcore/internal/ledger"
	"github.com/darkvelocity/retailcore/internal/platform/money"
)

// applyEvent is the pure transition function the Actor replays the event
// log through on activation. It reconstructs balances, batches, and WAC
// deterministically from each event's payload; batch identifiers
// generated by Randomness at command time are not reproduced byte-for-byte,
// only the quantities and costs that feed the aggregate's invariants.
func applyEvent(s *State, eventType string, payload json.RawMessage) {
	switch eventType {
	case "InventoryInitialized":
		var p InitParams
		json.Unmarshal(payload, &p)
		s.OrgID, s.SiteID, s.IngredientID = p.OrgID, p.SiteID, p.IngredientID
		s.Name, s.SKU, s.Unit, s.Category = p.Name, p.SKU, p.Unit, p.Category
		s.ReorderPoint, s.ParLevel = p.ReorderPoint, p.ParLevel
		s.Initialized = true

	case EventStockReceived:
		var p StockReceivedPayload
		json.Unmarshal(payload, &p)
		applyReceived(s, p)

	case EventStockConsumed, EventStockWrittenOff, EventStockTransferredOut:
		var p StockConsumedPayload
		json.Unmarshal(payload, &p)
		applyBreakdown(s, p.Breakdown)
		s.Balance.Debit(p.Qty, ledger.ReasonConsumption, nil, true)
		s.recomputeWAC()

	case EventStockAdjusted:
		var p StockAdjustedPayload
		json.Unmarshal(payload, &p)
		applyVariance(s, p.Variance)
		s.Balance.AdjustTo(p.NewQty, ledger.ReasonAdjustment, nil)
		s.recomputeWAC()

	case EventAdjustment:
		var p AdjustmentPayload
		json.Unmarshal(payload, &p)
		s.Balance.Credit(p.Qty, ledger.ReasonReversal, nil)

	default:
		// Level-transition alert events (ReorderPointBreachedEvent,
		// LowStockAlertTriggered, StockDepletedEvent, StockDepleted) carry
		// no state of their own to replay.
	}
}

func applyReceived(s *State, p StockReceivedPayload) {
	qtyForBatch := p.Qty
	if s.UnbatchedDeficit.IsPositive() {
		absorbed := money.Min(s.UnbatchedDeficit, p.Qty)
		s.UnbatchedDeficit = money.Add(s.UnbatchedDeficit, absorbed.Neg())
		qtyForBatch = money.Add(p.Qty, absorbed.Neg())
	}
	if qtyForBatch.IsPositive() {
		s.Batches = append(s.Batches, Batch{
			ID:          p.BatchID,
			BatchNumber: p.BatchNumber,
			Qty:         qtyForBatch,
			OriginalQty: p.Qty,
			UnitCost:    p.UnitCost,
			TotalCost:   money.Mul(qtyForBatch, p.UnitCost),
			Status:      BatchActive,
		})
	}
	s.Balance.Credit(p.Qty, ledger.ReasonReceipt, nil)
	s.recomputeWAC()
}

func applyBreakdown(s *State, breakdown []BatchConsumption) {
	for _, step := range breakdown {
		if step.BatchID == "" {
			s.UnbatchedDeficit = money.Add(s.UnbatchedDeficit, step.Qty)
			continue
		}
		for i := range s.Batches {
			if s.Batches[i].ID == step.BatchID {
				s.Batches[i].Qty = money.Add(s.Batches[i].Qty, step.Qty.Neg())
				s.Batches[i].TotalCost = money.Mul(s.Batches[i].Qty, s.Batches[i].UnitCost)
				if !s.Batches[i].Qty.IsPositive() {
					s.Batches[i].Status = BatchExhausted
				}
				break
			}
		}
	}
}

func applyVariance(s *State, variance money.Decimal) {
	if variance.IsPositive() {
		remainder := variance
		if s.UnbatchedDeficit.IsPositive() {
			absorbed := money.Min(s.UnbatchedDeficit, remainder)
			s.UnbatchedDeficit = money.Add(s.UnbatchedDeficit, absorbed.Neg())
			remainder = money.Add(remainder, absorbed.Neg())
		}
		if remainder.IsPositive() {
			s.Batches = append(s.Batches, Batch{
				Qty:         remainder,
				OriginalQty: remainder,
				UnitCost:    s.WAC,
				TotalCost:   money.Mul(remainder, s.WAC),
				Status:      BatchActive,
			})
		}
	} else if variance.IsNegative() {
		applyConsumeFIFOQty(s, variance.Abs())
	}
}

// applyConsumeFIFOQty mirrors Engine.consumeFIFO's quantity effects for
// replay, where no new breakdown event exists to drive it from (the
// AdjustQuantity negative-variance path consumes FIFO without a separate
// StockConsumed event).
func applyConsumeFIFOQty(s *State, qty money.Decimal) {
	remaining := qty
	for i := range s.Batches {
		if !remaining.IsPositive() {
			break
		}
		b := &s.Batches[i]
		if b.Status != BatchActive {
			continue
		}
		step := money.Min(remaining, b.Qty)
		if !step.IsPositive() {
			continue
		}
		b.Qty = money.Add(b.Qty, step.Neg())
		b.TotalCost = money.Mul(b.Qty, b.UnitCost)
		if !b.Qty.IsPositive() {
			b.Status = BatchExhausted
		}
		remaining = money.Add(remaining, step.Neg())
	}
	if remaining.IsPositive() {
		s.UnbatchedDeficit = money.Add(s.UnbatchedDeficit, remaining)
	}
}
