// Package broker abstracts order placement and market data behind a small
// interface with an OANDA v20 REST implementation and an in-memory paper
// implementation.
package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/rjmoor/AI-ForXBot/internal/model"
)

// Broker is the surface the trading service needs from an execution venue.
type Broker interface {
	Name() string
	Account(ctx context.Context) (model.Account, error)
	PlaceOrder(ctx context.Context, req model.OrderRequest) (model.Order, error)
	Orders(ctx context.Context) ([]model.Order, error)
	Positions(ctx context.Context) ([]model.Position, error)
	// Candles returns up to count completed bars, oldest first.
	Candles(ctx context.Context, instrument, granularity string, count int) ([]model.Bar, error)
}

// ErrNoPrice is returned when a paper order has no reference price.
var ErrNoPrice = errors.New("no reference price")

// Granularities accepted by the candle endpoints, shortest first.
var Granularities = []string{
	"S5", "S10", "S15", "S30",
	"M1", "M2", "M4", "M5", "M10", "M15", "M30",
	"H1", "H2", "H3", "H4", "H6", "H8", "H12",
	"D", "W", "M",
}

// ValidGranularity reports whether g is a known granularity code.
func ValidGranularity(g string) bool {
	for _, v := range Granularities {
		if v == g {
			return true
		}
	}
	return false
}

// MaxCandles is the largest count a single candle request may ask for.
const MaxCandles = 5000

// Source adapts a broker's candle endpoint to a DataSource.
func Source(b Broker, count int) model.DataSource {
	return &source{b: b, count: count}
}

type source struct {
	b     Broker
	count int
}

func (s *source) Fetch(ctx context.Context, instrument, granularity string) (*model.Series, error) {
	bars, err := s.b.Candles(ctx, instrument, granularity, s.count)
	if err != nil {
		return nil, &model.DataUnavailableError{Instrument: instrument, Granularity: granularity,
			Err: fmt.Errorf("%s candles: %w", s.b.Name(), err)}
	}
	if len(bars) == 0 {
		return nil, &model.DataUnavailableError{Instrument: instrument, Granularity: granularity}
	}
	return model.NewSeries(instrument, granularity, bars), nil
}
