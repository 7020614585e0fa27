// Package inventory implements the FIFO/WAC inventory aggregate: one
// ingredient at one site, its batches, its ledger balance, and the
// movement log that explains every change to the balance.
package inventory

import (
	"time"

	"github.com/darkvelocity/retailcore/internal/ledger"
	"github.com/darkvelocity/retailcore/internal/platform/money"
)

// BatchStatus is the lifecycle state of one received batch.
type BatchStatus string

const (
	BatchActive     BatchStatus = "Active"
	BatchExhausted  BatchStatus = "Exhausted"
	BatchExpired    BatchStatus = "Expired"
	BatchWrittenOff BatchStatus = "WrittenOff"
)

// Batch is one FIFO unit of received stock.
type Batch struct {
	ID          string
	BatchNumber string
	ReceivedAt  time.Time
	ExpiryDate  *time.Time
	Qty         money.Decimal
	OriginalQty money.Decimal
	UnitCost    money.Decimal
	TotalCost   money.Decimal
	Status      BatchStatus
	SupplierID  string
	DeliveryID  string
	Location    string
	SKUID       string
}

// MovementType classifies one entry in the bounded movement log.
type MovementType string

const (
	MovementReceipt      MovementType = "Receipt"
	MovementConsumption  MovementType = "Consumption"
	MovementWaste        MovementType = "Waste"
	MovementAdjustment   MovementType = "Adjustment"
	MovementTransferOut  MovementType = "TransferOut"
	MovementTransferIn   MovementType = "TransferIn"
)

// BatchConsumption is one FIFO step: how much was taken from which batch
// and at what cost.
type BatchConsumption struct {
	BatchID  string
	Qty      money.Decimal
	UnitCost money.Decimal
	Cost     money.Decimal
}

// Movement is one entry in the bounded, most-recent-100 movement log.
type Movement struct {
	ID          string
	Type        MovementType
	Qty         money.Decimal
	TotalCost   money.Decimal
	Reason      string
	OrderID     string
	PerformedBy string
	RecordedAt  time.Time
	Breakdown   []BatchConsumption
}

const movementLogCap = 100

// StockLevel is the derived stocking status of the aggregate.
type StockLevel string

const (
	LevelOutOfStock StockLevel = "OutOfStock"
	LevelLow        StockLevel = "Low"
	LevelNormal     StockLevel = "Normal"
	LevelAbovePar   StockLevel = "AbovePar"
)

// State is the full, pure, replayable state of one inventory aggregate.
type State struct {
	OrgID        string
	SiteID       string
	IngredientID string
	Name         string
	SKU          string
	Unit         string
	Category     string
	ReorderPoint money.Decimal
	ParLevel     money.Decimal

	Batches          []Batch
	UnbatchedDeficit money.Decimal
	WAC              money.Decimal
	Reserved         money.Decimal
	Balance          ledger.Balance
	Movements        []Movement

	Version     int64
	Initialized bool
}

// OnHand returns the current ledger balance. It equals Σ activeBatch.qty −
// unbatchedDeficit except after a reversal, which credits the ledger
// without restoring any batch.
func (s *State) OnHand() money.Decimal {
	return s.Balance.Quantity
}

// Available is on-hand less reserved quantity.
func (s *State) Available() money.Decimal {
	return money.Add(s.OnHand(), s.Reserved.Neg())
}

// Level derives the current StockLevel from available quantity against
// reorder point and par level.
func (s *State) Level() StockLevel {
	available := s.Available()
	if !available.IsPositive() {
		return LevelOutOfStock
	}
	if available.Cmp(s.ReorderPoint) <= 0 {
		return LevelLow
	}
	if s.ParLevel.IsPositive() && available.Cmp(s.ParLevel) > 0 {
		return LevelAbovePar
	}
	return LevelNormal
}

// activeBatches returns the Active batches in FIFO (receivedAt) order.
func (s *State) activeBatches() []int {
	idx := make([]int, 0, len(s.Batches))
	for i, b := range s.Batches {
		if b.Status == BatchActive {
			idx = append(idx, i)
		}
	}
	return idx
}

// recomputeWAC recalculates the weighted-average cost over all Active
// batches; zero on-hand yields a zero WAC rather than a division error.
func (s *State) recomputeWAC() {
	onHand := s.OnHand()
	if !onHand.IsPositive() {
		s.WAC = money.Zero
		return
	}
	total := money.Zero
	for _, i := range s.activeBatches() {
		total = money.Add(total, money.Mul(s.Batches[i].Qty, s.Batches[i].UnitCost))
	}
	s.WAC = money.DivOrZero(total, onHand)
}

// Snapshot is a read-only copy of an aggregate's state, used by
// cross-actor scanners (expiry monitor, ABC classifier, reorder generator)
// that must not hold a reference into a live activation's state.
type Snapshot struct {
	OrgID        string
	SiteID       string
	IngredientID string
	Name         string
	SKU          string
	Unit         string
	Category     string
	ReorderPoint money.Decimal
	ParLevel     money.Decimal
	OnHand       money.Decimal
	Available    money.Decimal
	WAC          money.Decimal
	Level        StockLevel
	Batches      []Batch
	Movements    []Movement
}

// Snapshot copies the current state into an immutable Snapshot.
func (s *State) Snapshot() Snapshot {
	batches := make([]Batch, len(s.Batches))
	copy(batches, s.Batches)
	movements := make([]Movement, len(s.Movements))
	copy(movements, s.Movements)
	return Snapshot{
		OrgID:        s.OrgID,
		SiteID:       s.SiteID,
		IngredientID: s.IngredientID,
		Name:         s.Name,
		SKU:          s.SKU,
		Unit:         s.Unit,
		Category:     s.Category,
		ReorderPoint: s.ReorderPoint,
		ParLevel:     s.ParLevel,
		OnHand:       s.OnHand(),
		Available:    s.Available(),
		WAC:          s.WAC,
		Level:        s.Level(),
		Batches:      batches,
		Movements:    movements,
	}
}

// pushMovement appends m, evicting the oldest entry once the log exceeds
// its 100-entry cap. Older history remains reconstructable from the event
// log.
func (s *State) pushMovement(m Movement) {
	s.Movements = append(s.Movements, m)
	if len(s.Movements) > movementLogCap {
		s.Movements = s.Movements[len(s.Movements)-movementLogCap:]
	}
}
