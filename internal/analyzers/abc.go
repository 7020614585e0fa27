package analyzers

import (
	"context"
	"sort"
	"time"

	"github.com/darkvelocity/retailcore/internal/actor"
	"github.com/darkvelocity/retailcore/internal/inventory"
	"github.com/darkvelocity/retailcore/internal/platform/clock"
	"github.com/darkvelocity/retailcore/internal/platform/config"
	"github.com/darkvelocity/retailcore/internal/platform/money"
)

// ValueFunction selects which quantity ABCClassifier ranks ingredients by.
type ValueFunction string

const (
	ValueAnnualConsumption ValueFunction = "AnnualConsumptionValue"
	ValueVelocity          ValueFunction = "Velocity"
	ValueCurrent           ValueFunction = "CurrentValue"
	ValueCombined          ValueFunction = "Combined"
)

// ABCClass is the classification bucket assigned to an ingredient.
type ABCClass string

const (
	ClassA ABCClass = "A"
	ClassB ABCClass = "B"
	ClassC ABCClass = "C"
)

// Classification is one ingredient's ranked value and assigned class.
type Classification struct {
	Ref               IngredientRef
	Value             money.Decimal
	CumulativePercent money.Decimal
	Class             ABCClass
	Overridden        bool
}

// ABCClassifier ranks registered ingredients by a configurable value
// function and assigns A/B/C classes by cumulative share of total value.
type ABCClassifier struct {
	Host   *actor.Host
	Clock  clock.Clock
	Config config.ABCClassifierConfig
}

// NewABCClassifier builds an ABCClassifier over host using cfg's
// thresholds.
func NewABCClassifier(host *actor.Host, c clock.Clock, cfg config.ABCClassifierConfig) *ABCClassifier {
	if c == nil {
		c = clock.System{}
	}
	return &ABCClassifier{Host: host, Clock: c, Config: cfg}
}

// Classify scans refs, computes each one's value under fn, sorts
// descending by value, and walks the sorted list accumulating cumulative
// percentage of total value to assign A/B/C classes. overrides (keyed by
// IngredientID) are applied last, after automatic assignment, and marked
// Overridden so callers can distinguish a manual decision from the model's.
func (c *ABCClassifier) Classify(ctx context.Context, refs []IngredientRef, fn ValueFunction, overrides map[string]ABCClass) ([]Classification, error) {
	values := make([]Classification, 0, len(refs))
	total := money.Zero
	now := c.Clock.Now()
	period := time.Duration(c.Config.AnalysisPeriodDays) * 24 * time.Hour

	for _, ref := range refs {
		snap, err := snapshot(ctx, c.Host, ref)
		if err != nil {
			return nil, err
		}
		v := valueOf(snap, fn, now, period)
		values = append(values, Classification{Ref: ref, Value: v})
		total = money.Add(total, v)
	}

	sort.SliceStable(values, func(i, j int) bool { return values[i].Value.Cmp(values[j].Value) > 0 })

	cumulative := money.Zero
	for i := range values {
		cumulative = money.Add(cumulative, values[i].Value)
		pct := money.PercentOf(cumulative, total)
		values[i].CumulativePercent = pct
		values[i].Class = classifyByThreshold(pct, c.Config)
	}

	if len(overrides) > 0 {
		for i := range values {
			if override, ok := overrides[values[i].Ref.IngredientID]; ok {
				values[i].Class = override
				values[i].Overridden = true
			}
		}
	}
	return values, nil
}

func classifyByThreshold(cumulativePct money.Decimal, cfg config.ABCClassifierConfig) ABCClass {
	pct, _ := cumulativePct.Float64()
	switch {
	case pct <= cfg.AThresholdPercent:
		return ClassA
	case pct <= cfg.BThresholdPercent:
		return ClassB
	default:
		return ClassC
	}
}

// consumedQty sums consumption and waste movements recorded at or after
// now-period.
func consumedQty(snap inventory.Snapshot, now time.Time, period time.Duration) money.Decimal {
	cutoff := now.Add(-period)
	total := money.Zero
	for _, mv := range snap.Movements {
		if mv.Type != inventory.MovementConsumption && mv.Type != inventory.MovementWaste {
			continue
		}
		if mv.RecordedAt.Before(cutoff) {
			continue
		}
		total = money.Add(total, mv.Qty)
	}
	return total
}

func valueOf(snap inventory.Snapshot, fn ValueFunction, now time.Time, period time.Duration) money.Decimal {
	consumed := consumedQty(snap, now, period)
	periodDays := period.Hours() / 24
	annualFactor := money.DivOrZero(money.NewFromFloat(365), money.NewFromFloat(periodDays))
	annualConsumptionValue := money.Mul(money.Mul(consumed, annualFactor), snap.WAC)
	currentValue := money.Mul(snap.OnHand, snap.WAC)
	velocity := money.DivOrZero(consumed, money.NewFromFloat(maxFloat(periodDays, 1)))

	switch fn {
	case ValueVelocity:
		return velocity
	case ValueCurrent:
		return currentValue
	case ValueCombined:
		return money.DivOrZero(money.Add(annualConsumptionValue, currentValue), money.NewFromInt(2))
	default: // ValueAnnualConsumption
		return annualConsumptionValue
	}
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
