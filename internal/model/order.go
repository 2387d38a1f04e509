package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Order types understood by the brokers.
const (
	OrderTypeMarket = "MARKET"
	OrderTypeLimit  = "LIMIT"
)

// Order statuses.
const (
	OrderFilled   = "FILLED"
	OrderPending  = "PENDING"
	OrderRejected = "REJECTED"
)

// OrderRequest is an order as submitted through the API.
type OrderRequest struct {
	Instrument string           `json:"instrument" validate:"required,len=7,contains=_"`
	Side       Side             `json:"side" validate:"required,oneof=BUY SELL"`
	Units      decimal.Decimal  `json:"units" validate:"gt=0"`
	Type       string           `json:"type" validate:"omitempty,oneof=MARKET LIMIT"`
	Price      *decimal.Decimal `json:"price,omitempty" validate:"required_if=Type LIMIT"`
}

// SignedUnits returns units as the broker expects them: negative for sells.
func (r OrderRequest) SignedUnits() decimal.Decimal {
	if r.Side == SideSell {
		return r.Units.Neg()
	}
	return r.Units
}

// Order is a broker order.
type Order struct {
	ID         string           `json:"id"`
	ClientTag  string           `json:"client_tag"`
	Broker     string           `json:"broker"`
	Instrument string           `json:"instrument"`
	Side       Side             `json:"side"`
	Units      decimal.Decimal  `json:"units"`
	Type       string           `json:"type"`
	Price      *decimal.Decimal `json:"price,omitempty"`
	FillPrice  decimal.Decimal  `json:"fill_price"`
	Status     string           `json:"status"`
	Reason     string           `json:"reason,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}
