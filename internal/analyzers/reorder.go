package analyzers

import (
	"context"
	"time"

	"github.com/darkvelocity/retailcore/internal/actor"
	"github.com/darkvelocity/retailcore/internal/platform/clock"
	"github.com/darkvelocity/retailcore/internal/platform/config"
	"github.com/darkvelocity/retailcore/internal/platform/money"
)

// ReorderUrgency ranks how soon an ingredient needs to be reordered.
type ReorderUrgency string

const (
	UrgencyOutOfStock ReorderUrgency = "OutOfStock"
	UrgencyCritical   ReorderUrgency = "Critical"
	UrgencyHigh       ReorderUrgency = "High"
	UrgencyMedium     ReorderUrgency = "Medium"
	UrgencyLow        ReorderUrgency = "Low"
)

// ReorderParams carries the per-ingredient planning inputs the generator
// cannot derive from the inventory aggregate alone. Zero LeadTimeDays,
// OrderingCost, or HoldingCostPerUnit fall back to the generator's
// configured defaults.
type ReorderParams struct {
	Ref                IngredientRef
	LeadTimeDays       money.Decimal
	SafetyStock        money.Decimal
	OrderingCost       money.Decimal
	HoldingCostPerUnit money.Decimal
}

// ReorderSuggestion is one ingredient's computed reorder recommendation.
type ReorderSuggestion struct {
	Ref              IngredientRef
	OnHand           money.Decimal
	DailyUsage       money.Decimal
	DaysOfSupply     money.Decimal
	Urgency          ReorderUrgency
	SuggestedQty     money.Decimal
	EOQ              money.Decimal
}

// ReorderGenerator computes reorder suggestions from each ingredient's
// recent consumption history and planning parameters.
type ReorderGenerator struct {
	Host   *actor.Host
	Clock  clock.Clock
	Config config.ReorderConfig
}

// NewReorderGenerator builds a ReorderGenerator over host using cfg's
// analysis window and defaults.
func NewReorderGenerator(host *actor.Host, c clock.Clock, cfg config.ReorderConfig) *ReorderGenerator {
	if c == nil {
		c = clock.System{}
	}
	return &ReorderGenerator{Host: host, Clock: c, Config: cfg}
}

// Generate computes one ReorderSuggestion per entry in params.
func (g *ReorderGenerator) Generate(ctx context.Context, params []ReorderParams) ([]ReorderSuggestion, error) {
	now := g.Clock.Now()
	period := time.Duration(g.Config.AnalysisPeriodDays) * 24 * time.Hour
	periodDays := period.Hours() / 24
	if periodDays <= 0 {
		periodDays = 1
	}

	suggestions := make([]ReorderSuggestion, 0, len(params))
	for _, p := range params {
		snap, err := snapshot(ctx, g.Host, p.Ref)
		if err != nil {
			return nil, err
		}

		leadTime := p.LeadTimeDays
		if !money.IsPositive(leadTime) {
			leadTime = money.NewFromFloat(g.Config.DefaultLeadTimeDays)
		}
		orderingCost := p.OrderingCost
		if orderingCost.IsZero() {
			orderingCost = money.NewFromFloat(g.Config.OrderingCost)
		}
		holdingCost := p.HoldingCostPerUnit
		if holdingCost.IsZero() {
			holdingCost = money.NewFromFloat(g.Config.HoldingCostPerUnit)
		}

		consumed := consumedQty(snap, now, period)
		dailyUsage := money.DivOrZero(consumed, money.NewFromFloat(periodDays))

		onHand := snap.OnHand
		daysOfSupply := money.DivOrZero(onHand, dailyUsage)

		suggestions = append(suggestions, ReorderSuggestion{
			Ref:          p.Ref,
			OnHand:       onHand,
			DailyUsage:   dailyUsage,
			DaysOfSupply: daysOfSupply,
			Urgency:      classifyReorderUrgency(onHand, daysOfSupply, leadTime, snap.ReorderPoint),
			SuggestedQty: suggestedQty(snap.ParLevel, dailyUsage, leadTime, p.SafetyStock, onHand),
			EOQ:          economicOrderQty(dailyUsage, orderingCost, holdingCost, snap.ParLevel, onHand),
		})
	}
	return suggestions, nil
}

func classifyReorderUrgency(onHand, daysOfSupply, leadTime, reorderPoint money.Decimal) ReorderUrgency {
	if onHand.IsZero() || money.IsNegative(onHand) {
		return UrgencyOutOfStock
	}
	half := money.DivOrZero(leadTime, money.NewFromInt(2))
	oneAndHalf := money.Mul(leadTime, money.MustParse("1.5"))

	switch {
	case daysOfSupply.Cmp(half) <= 0:
		return UrgencyCritical
	case daysOfSupply.Cmp(leadTime) <= 0:
		return UrgencyHigh
	case daysOfSupply.Cmp(oneAndHalf) <= 0:
		return UrgencyMedium
	case onHand.Cmp(reorderPoint) <= 0:
		return UrgencyMedium
	default:
		return UrgencyLow
	}
}

// suggestedQty = max(parLevel, dailyUsage*leadTime*2) + safetyStock -
// onHand, rounded up to the nearest unit and floored at zero.
func suggestedQty(parLevel, dailyUsage, leadTime, safetyStock, onHand money.Decimal) money.Decimal {
	coverage := money.Mul(money.Mul(dailyUsage, leadTime), money.NewFromInt(2))
	base := money.Max(parLevel, coverage)
	qty := money.Sub(money.Add(base, safetyStock), onHand)
	qty = money.RoundUp(qty)
	if money.IsNegative(qty) {
		return money.Zero
	}
	return qty
}

// economicOrderQty computes sqrt(2*annualDemand*orderingCost/holdingCost);
// when the holding cost or ordering cost inputs are not usable it falls
// back to (parLevel - onHand), the same coverage gap used elsewhere.
func economicOrderQty(dailyUsage, orderingCost, holdingCost, parLevel, onHand money.Decimal) money.Decimal {
	if holdingCost.IsZero() || orderingCost.IsZero() {
		return fallbackEOQ(parLevel, onHand)
	}
	annualDemand := money.Mul(dailyUsage, money.NewFromInt(365))
	inner := money.DivOrZero(money.Mul(money.Mul(annualDemand, money.NewFromInt(2)), orderingCost), holdingCost)
	if !money.IsPositive(inner) {
		return fallbackEOQ(parLevel, onHand)
	}
	return money.Round(money.Sqrt(inner), 2)
}

func fallbackEOQ(parLevel, onHand money.Decimal) money.Decimal {
	gap := money.Sub(parLevel, onHand)
	if money.IsNegative(gap) {
		return money.Zero
	}
	return gap
}
