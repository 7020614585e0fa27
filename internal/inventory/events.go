package inventory

import "github.com/darkvelocity/retailcore/internal/platform/money"

// Event type names, bit-exact with the aggregate's own event stream and
// the domain-stream namespace it publishes to.
const (
	EventStockReceived           = "StockReceivedEvent"
	EventStockConsumed           = "StockConsumed"
	EventStockWrittenOff         = "StockWrittenOff"
	EventStockAdjusted           = "StockAdjusted"
	EventStockTransferredOut     = "StockTransferredOut"
	EventAdjustment              = "Adjustment"
	EventReorderPointBreached    = "ReorderPointBreachedEvent"
	EventLowStockAlertTriggered  = "LowStockAlertTriggered"
	EventStockDepletedEvent      = "StockDepletedEvent"
	EventStockDepleted           = "StockDepleted"
)

// StockReceivedPayload documents a completed receive.
type StockReceivedPayload struct {
	BatchID     string        `json:"batch_id"`
	BatchNumber string        `json:"batch_number"`
	Qty         money.Decimal `json:"qty"`
	UnitCost    money.Decimal `json:"unit_cost"`
	OnHand      money.Decimal `json:"on_hand"`
	WAC         money.Decimal `json:"wac"`
}

// StockConsumedPayload documents a FIFO consumption, waste, or transfer-out
// style debit (movement type distinguishes the three).
type StockConsumedPayload struct {
	Qty                  money.Decimal      `json:"qty"`
	TotalCost            money.Decimal      `json:"total_cost"`
	Breakdown            []BatchConsumption `json:"breakdown"`
	Reason               string             `json:"reason"`
	OrderID              string             `json:"order_id,omitempty"`
	CostOfGoodsConsumed  money.Decimal      `json:"cost_of_goods_consumed"`
	QuantityRemaining    money.Decimal      `json:"quantity_remaining"`
}

// StockAdjustedPayload documents an adjustQuantity call.
type StockAdjustedPayload struct {
	Variance money.Decimal `json:"variance"`
	NewQty   money.Decimal `json:"new_qty"`
	Reason   string        `json:"reason"`
}

// AdjustmentPayload documents a reversal (single or aggregated).
type AdjustmentPayload struct {
	Qty     money.Decimal `json:"qty"`
	Reason  string        `json:"reason"`
	OrderID string        `json:"order_id,omitempty"`
}

// StockLevelAlertPayload documents a level-transition alert.
type StockLevelAlertPayload struct {
	Level     StockLevel    `json:"level"`
	Available money.Decimal `json:"available"`
}

// ConsumptionResult is consume's return envelope.
type ConsumptionResult struct {
	ConsumedQty         money.Decimal
	TotalCost           money.Decimal
	Breakdown           []BatchConsumption
	CostOfGoodsConsumed money.Decimal
	QuantityRemaining   money.Decimal
}
