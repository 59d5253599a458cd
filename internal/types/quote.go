package types

import "github.com/shopspring/decimal"

// Quote is a point-in-time snapshot of 24-hour market statistics for one
// normalized symbol. It is valid only for the instant of the call that
// produced it and is never persisted.
type Quote struct {
	Symbol             string
	LastPrice          decimal.Decimal
	HighPrice          decimal.Decimal
	LowPrice           decimal.Decimal
	PriceChangePercent string
	Volume             decimal.Decimal
	WeightedAvgPrice   decimal.Decimal
}

// TradeAction is the action verb of a completed trade.
type TradeAction string

const (
	TradeActionBought TradeAction = "BOUGHT"
	TradeActionSold   TradeAction = "SOLD"
)

// TradeReport is the summary of a completed buy or sell. Its rendered form is
// the response contract consumed by the front-end collaborators.
type TradeReport struct {
	Action TradeAction
	Symbol string
	// Quantity is the traded amount of the asset.
	Quantity decimal.Decimal
	// Price is the execution price per unit.
	Price decimal.Decimal
	// Total is the cost of a buy or the proceeds of a sell.
	Total decimal.Decimal
	// NewBalance is the cash balance after the trade committed.
	NewBalance decimal.Decimal
}
