package model

import "github.com/shopspring/decimal"

// Position is the net exposure in one instrument.
type Position struct {
	Instrument   string          `json:"instrument"`
	Units        decimal.Decimal `json:"units"` // positive = long, negative = short
	AvgPrice     decimal.Decimal `json:"avg_price"`
	LastPrice    decimal.Decimal `json:"last_price"`
	RealizedPL   decimal.Decimal `json:"realized_pl"`
	UnrealizedPL decimal.Decimal `json:"unrealized_pl"`
}

// Account is a broker account summary.
type Account struct {
	ID             string          `json:"id"`
	Broker         string          `json:"broker"`
	Currency       string          `json:"currency"`
	Balance        decimal.Decimal `json:"balance"`
	NAV            decimal.Decimal `json:"nav"`
	UnrealizedPL   decimal.Decimal `json:"unrealized_pl"`
	MarginUsed     decimal.Decimal `json:"margin_used"`
	OpenTradeCount int             `json:"open_trade_count"`
}
