// Package money provides the fixed-point decimal types used for every
// quantity and monetary computation in the platform. No component may use
// binary floating point for inventory or fiscal arithmetic; this package
// is the only place shopspring/decimal is imported directly.
package money

import (
	"math"

	"github.com/shopspring/decimal"
)

// Decimal is a re-export of decimal.Decimal so callers never import
// shopspring/decimal directly; it keeps the dependency swappable behind
// one seam.
type Decimal = decimal.Decimal

// Zero is the additive identity.
var Zero = decimal.Zero

// NewFromFloat constructs a Decimal from a float64. Reserved for
// boundary conversions (e.g. config literals, JSON test fixtures) —
// never for arithmetic between two already-decimal quantities.
func NewFromFloat(f float64) Decimal {
	return decimal.NewFromFloat(f)
}

// NewFromInt constructs a Decimal from an integer.
func NewFromInt(i int64) Decimal {
	return decimal.NewFromInt(i)
}

// Parse parses a decimal string such as "12.50".
func Parse(s string) (Decimal, error) {
	return decimal.NewFromString(s)
}

// MustParse parses a decimal string, panicking on malformed input. Reserved
// for literals known at compile time (tests, constants).
func MustParse(s string) Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Add returns a + b.
func Add(a, b Decimal) Decimal { return a.Add(b) }

// Sub returns a - b.
func Sub(a, b Decimal) Decimal { return a.Sub(b) }

// Mul returns a * b.
func Mul(a, b Decimal) Decimal { return a.Mul(b) }

// DivOrZero returns a / b, or Zero when b is zero (avoids panics on the
// "divide by nothing on hand" edge cases the inventory engine hits
// routinely, e.g. WAC when on-hand is zero).
func DivOrZero(a, b Decimal) Decimal {
	if b.IsZero() {
		return Zero
	}
	return a.Div(b)
}

// Round rounds d to places decimal digits using half-away-from-zero,
// matching the "%.2f"-formatted fiscal amounts in the wire format.
func Round(d Decimal, places int32) Decimal {
	return d.Round(places)
}

// RoundUp rounds d up to the nearest integer — used for reorder suggested
// quantities, which must never under-order a fractional unit.
func RoundUp(d Decimal) Decimal {
	return d.Ceil()
}

// Min returns the smaller of a and b.
func Min(a, b Decimal) Decimal {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b Decimal) Decimal {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// IsPositive reports whether d > 0.
func IsPositive(d Decimal) bool { return d.Sign() > 0 }

// IsNegative reports whether d < 0.
func IsNegative(d Decimal) bool { return d.Sign() < 0 }

// IsZero reports whether d == 0.
func IsZero(d Decimal) bool { return d.IsZero() }

// Abs returns the absolute value of d.
func Abs(d Decimal) Decimal { return d.Abs() }

// FormatFixed2 renders d with exactly two decimal places, matching the
// fiscal wire format's %.2f convention.
func FormatFixed2(d Decimal) string {
	return d.StringFixed(2)
}

// Sqrt returns the square root of d, computed via float64 conversion. It
// is approximate and reserved for estimation formulas (e.g. EOQ) that are
// already approximate by nature; never use it for ledger or fiscal amounts.
func Sqrt(d Decimal) Decimal {
	if d.Sign() <= 0 {
		return Zero
	}
	f, _ := d.Float64()
	return decimal.NewFromFloat(math.Sqrt(f))
}

// PercentOf returns (part / whole) * 100, with the 0/0 -> 0 and x/0 ->
// 100*sign(x) conventions required by the stock-take variance calculation.
func PercentOf(part, whole Decimal) Decimal {
	if whole.IsZero() {
		if part.IsZero() {
			return Zero
		}
		if part.Sign() > 0 {
			return decimal.NewFromInt(100)
		}
		return decimal.NewFromInt(-100)
	}
	return part.Div(whole).Mul(decimal.NewFromInt(100))
}
