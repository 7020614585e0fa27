// Package ledger is the minimal balance log every inventory actor owns.
// Balance mutations and the log entry that explains them commit together:
// the caller's event-log Append is the atomicity boundary, so ledger
// itself stays a pure, replayable state machine with no storage of its
// own.
package ledger

import (
	"github.com/darkvelocity/retailcore/internal/platform/apierr"
	"github.com/darkvelocity/retailcore/internal/platform/money"
)

// EntryReason classifies why a balance moved, echoed onto emitted events
// and used by analyzers to group movements.
type EntryReason string

const (
	ReasonReceipt     EntryReason = "receipt"
	ReasonConsumption EntryReason = "consumption"
	ReasonWaste       EntryReason = "waste"
	ReasonAdjustment  EntryReason = "adjustment"
	ReasonTransferIn  EntryReason = "transfer_in"
	ReasonTransferOut EntryReason = "transfer_out"
	ReasonReversal    EntryReason = "reversal"
)

// Entry is one committed balance movement.
type Entry struct {
	Delta  money.Decimal
	Reason EntryReason
	Meta   map[string]string
}

// Balance is the pure running-total state machine. It never touches
// storage; callers replay it from the event log like any other aggregate
// state.
type Balance struct {
	Quantity money.Decimal
}

// Credit increases the balance by qty and returns the entry to append.
func (b *Balance) Credit(qty money.Decimal, reason EntryReason, meta map[string]string) Entry {
	b.Quantity = money.Add(b.Quantity, qty)
	return Entry{Delta: qty, Reason: reason, Meta: meta}
}

// Debit decreases the balance by qty. When allowNegative is false and qty
// exceeds the current balance, it returns apierr.ErrPreconditionViolation
// and leaves the balance untouched.
func (b *Balance) Debit(qty money.Decimal, reason EntryReason, meta map[string]string, allowNegative bool) (Entry, error) {
	if !allowNegative && !b.HasSufficientBalance(qty) {
		return Entry{}, apierr.ErrPreconditionViolation("insufficient balance for debit")
	}
	delta := qty.Neg()
	b.Quantity = money.Add(b.Quantity, delta)
	return Entry{Delta: delta, Reason: reason, Meta: meta}, nil
}

// AdjustTo sets the balance to target, computing and recording the
// resulting delta as a single entry.
func (b *Balance) AdjustTo(target money.Decimal, reason EntryReason, meta map[string]string) Entry {
	delta := money.Add(target, b.Quantity.Neg())
	b.Quantity = target
	return Entry{Delta: delta, Reason: reason, Meta: meta}
}

// HasSufficientBalance reports whether qty can be debited without the
// balance dropping below zero.
func (b *Balance) HasSufficientBalance(qty money.Decimal) bool {
	return b.Quantity.Cmp(qty) >= 0
}
