package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rjmoor/AI-ForXBot/internal/model"
)

// RecordOrder appends a placed order to the trade journal.
func (s *Store) RecordOrder(ctx context.Context, o model.Order) error {
	var price sql.NullString
	if o.Price != nil {
		price = sql.NullString{String: o.Price.String(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trades (order_id, client_tag, broker, instrument, side, units, order_type, price, fill_price, status, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID,
		o.ClientTag,
		o.Broker,
		o.Instrument,
		string(o.Side),
		o.Units.String(),
		o.Type,
		price,
		o.FillPrice.String(),
		o.Status,
		o.Reason,
		o.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// TradeRecord is a row of the trades table.
type TradeRecord struct {
	ID         int64           `json:"id"`
	OrderID    string          `json:"order_id"`
	ClientTag  string          `json:"client_tag"`
	Broker     string          `json:"broker"`
	Instrument string          `json:"instrument"`
	Side       string          `json:"side"`
	Units      decimal.Decimal `json:"units"`
	Type       string          `json:"type"`
	FillPrice  decimal.Decimal `json:"fill_price"`
	Status     string          `json:"status"`
	Reason     string          `json:"reason"`
	CreatedAt  string          `json:"created_at"`
}

// Trades returns the last limit journal entries, newest first.
func (s *Store) Trades(ctx context.Context, limit int) ([]TradeRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, order_id, COALESCE(client_tag, ''), broker, instrument, side, units, order_type,
		        COALESCE(fill_price, '0'), status, COALESCE(reason, ''), created_at
		 FROM trades ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	trades := []TradeRecord{}
	for rows.Next() {
		var t TradeRecord
		var units, fill string
		if err := rows.Scan(&t.ID, &t.OrderID, &t.ClientTag, &t.Broker, &t.Instrument, &t.Side,
			&units, &t.Type, &fill, &t.Status, &t.Reason, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Units, _ = decimal.NewFromString(units)
		t.FillPrice, _ = decimal.NewFromString(fill)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// InstrumentPerformance summarises journalled fills for one instrument.
type InstrumentPerformance struct {
	Instrument string          `json:"instrument"`
	Trades     int             `json:"trades"`
	Rejected   int             `json:"rejected"`
	NetUnits   decimal.Decimal `json:"net_units"`
	// CashFlow is Σ(-signed units × fill price): realised P/L once flat.
	CashFlow decimal.Decimal `json:"cash_flow"`
}

// Performance aggregates the journal per instrument, sorted by instrument.
func (s *Store) Performance(ctx context.Context) ([]InstrumentPerformance, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT instrument, side, units, COALESCE(fill_price, '0'), status FROM trades ORDER BY instrument, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []InstrumentPerformance
	var cur *InstrumentPerformance
	for rows.Next() {
		var inst, side, units, fill, status string
		if err := rows.Scan(&inst, &side, &units, &fill, &status); err != nil {
			return nil, err
		}
		if cur == nil || cur.Instrument != inst {
			out = append(out, InstrumentPerformance{Instrument: inst})
			cur = &out[len(out)-1]
		}
		if status != model.OrderFilled {
			if status == model.OrderRejected {
				cur.Rejected++
			}
			continue
		}
		u, _ := decimal.NewFromString(units)
		p, _ := decimal.NewFromString(fill)
		if model.Side(side) == model.SideSell {
			u = u.Neg()
		}
		cur.Trades++
		cur.NetUnits = cur.NetUnits.Add(u)
		cur.CashFlow = cur.CashFlow.Sub(u.Mul(p))
	}
	return out, rows.Err()
}
