package ledger

import (
	"testing"

	"github.com/darkvelocity/retailcore/internal/platform/money"
)

func TestCreditIncreasesBalance(t *testing.T) {
	b := &Balance{Quantity: money.NewFromInt(10)}
	entry := b.Credit(money.NewFromInt(5), ReasonReceipt, nil)
	if !b.Quantity.Equal(money.NewFromInt(15)) {
		t.Fatalf("balance = %s, want 15", b.Quantity)
	}
	if !entry.Delta.Equal(money.NewFromInt(5)) {
		t.Fatalf("entry delta = %s, want 5", entry.Delta)
	}
}

func TestDebitRefusedWithoutAllowNegative(t *testing.T) {
	b := &Balance{Quantity: money.NewFromInt(3)}
	_, err := b.Debit(money.NewFromInt(5), ReasonConsumption, nil, false)
	if err == nil {
		t.Fatal("expected insufficient-balance error")
	}
	if !b.Quantity.Equal(money.NewFromInt(3)) {
		t.Fatalf("balance must be unchanged on refused debit, got %s", b.Quantity)
	}
}

func TestDebitAllowsNegativeWhenPermitted(t *testing.T) {
	b := &Balance{Quantity: money.NewFromInt(3)}
	entry, err := b.Debit(money.NewFromInt(5), ReasonConsumption, nil, true)
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if !b.Quantity.Equal(money.NewFromInt(-2)) {
		t.Fatalf("balance = %s, want -2", b.Quantity)
	}
	if !entry.Delta.Equal(money.NewFromInt(-5)) {
		t.Fatalf("entry delta = %s, want -5", entry.Delta)
	}
}

func TestAdjustToRecordsDelta(t *testing.T) {
	b := &Balance{Quantity: money.NewFromInt(10)}
	entry := b.AdjustTo(money.NewFromInt(7), ReasonAdjustment, nil)
	if !b.Quantity.Equal(money.NewFromInt(7)) {
		t.Fatalf("balance = %s, want 7", b.Quantity)
	}
	if !entry.Delta.Equal(money.NewFromInt(-3)) {
		t.Fatalf("entry delta = %s, want -3", entry.Delta)
	}
}

func TestHasSufficientBalance(t *testing.T) {
	b := &Balance{Quantity: money.NewFromInt(5)}
	if !b.HasSufficientBalance(money.NewFromInt(5)) {
		t.Fatal("expected exact balance to be sufficient")
	}
	if b.HasSufficientBalance(money.NewFromInt(6)) {
		t.Fatal("expected insufficient for balance+1")
	}
}
