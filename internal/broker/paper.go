package broker

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rjmoor/AI-ForXBot/internal/model"
)

// PaperConfig configures the simulated broker.
type PaperConfig struct {
	AccountID   string
	Currency    string
	Balance     decimal.Decimal
	SlippageBps int64 // basis points of slippage (e.g., 5 = 0.05%)
}

// Paper simulates execution against the latest close of a DataSource.
// Market orders fill immediately; limit orders fill when marketable and
// otherwise rest until the next order or Sweep call crosses them.
type Paper struct {
	cfg    PaperConfig
	prices model.DataSource
	gran   string

	mu        sync.Mutex
	realized  decimal.Decimal
	orders    []model.Order
	pending   []model.Order
	positions map[string]*model.Position

	now func() time.Time
}

// NewPaper creates a paper broker. prices supplies candles and reference
// prices; granularity selects the series used for pricing.
func NewPaper(cfg PaperConfig, prices model.DataSource, granularity string) *Paper {
	if cfg.AccountID == "" {
		cfg.AccountID = "paper"
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	if granularity == "" {
		granularity = "M1"
	}
	return &Paper{
		cfg:       cfg,
		prices:    prices,
		gran:      granularity,
		orders:    make([]model.Order, 0, 256),
		positions: make(map[string]*model.Position),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (p *Paper) Name() string { return "paper" }

func (p *Paper) price(ctx context.Context, instrument string) (decimal.Decimal, error) {
	if p.prices == nil {
		return decimal.Zero, ErrNoPrice
	}
	s, err := p.prices.Fetch(ctx, instrument, p.gran)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrNoPrice, err)
	}
	last, _, ok := s.Last(model.ColClose)
	if !ok || last <= 0 || math.IsInf(last, 0) {
		return decimal.Zero, ErrNoPrice
	}
	return decimal.NewFromFloat(last), nil
}

// PlaceOrder fills or rests an order. Market orders with no reference price
// are rejected rather than returned as errors so they still reach the journal.
func (p *Paper) PlaceOrder(ctx context.Context, req model.OrderRequest) (model.Order, error) {
	typ := req.Type
	if typ == "" {
		typ = model.OrderTypeMarket
	}
	ref, perr := p.price(ctx, req.Instrument)

	order := model.Order{
		ID:         uuid.New().String(),
		ClientTag:  uuid.New().String(),
		Broker:     p.Name(),
		Instrument: req.Instrument,
		Side:       req.Side,
		Units:      req.Units,
		Type:       typ,
		Price:      req.Price,
		CreatedAt:  p.now(),
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case perr != nil && typ == model.OrderTypeMarket:
		order.Status = model.OrderRejected
		order.Reason = perr.Error()
	case perr == nil && typ == model.OrderTypeMarket:
		p.fill(&order, ref)
	case perr == nil && marketable(order, ref):
		p.fill(&order, *order.Price)
	default:
		order.Status = model.OrderPending
		p.pending = append(p.pending, order)
	}
	p.orders = append(p.orders, order)
	if perr == nil {
		p.sweepLocked(req.Instrument, ref)
	}

	log.Printf("[paper] %s %s %s units=%s price=%s order=%s status=%s",
		order.Type, order.Side, order.Instrument, order.Units, order.FillPrice, order.ID, order.Status)
	return order, nil
}

func marketable(o model.Order, ref decimal.Decimal) bool {
	if o.Price == nil {
		return false
	}
	if o.Side == model.SideBuy {
		return ref.LessThanOrEqual(*o.Price)
	}
	return ref.GreaterThanOrEqual(*o.Price)
}

// fill applies slippage and books the trade. Caller holds p.mu.
func (p *Paper) fill(o *model.Order, price decimal.Decimal) {
	if p.cfg.SlippageBps > 0 && o.Type == model.OrderTypeMarket {
		slip := price.Mul(decimal.NewFromInt(p.cfg.SlippageBps)).Div(decimal.NewFromInt(10000))
		if o.Side == model.SideBuy {
			price = price.Add(slip) // buy higher
		} else {
			price = price.Sub(slip) // sell lower
		}
	}
	o.FillPrice = price
	o.Status = model.OrderFilled

	units := o.Units
	if o.Side == model.SideSell {
		units = units.Neg()
	}
	pos := p.positions[o.Instrument]
	if pos == nil {
		pos = &model.Position{Instrument: o.Instrument}
		p.positions[o.Instrument] = pos
	}
	pnl := book(pos, units, price)
	p.realized = p.realized.Add(pnl)
}

// book updates a signed position with a signed fill and returns realized P/L.
func book(pos *model.Position, units, price decimal.Decimal) decimal.Decimal {
	pos.LastPrice = price
	cur := pos.Units
	if units.IsZero() {
		return decimal.Zero
	}
	if cur.IsZero() || cur.Sign() == units.Sign() {
		// Weighted average price
		total := pos.AvgPrice.Mul(cur.Abs()).Add(price.Mul(units.Abs()))
		pos.Units = cur.Add(units)
		pos.AvgPrice = total.Div(pos.Units.Abs())
		return decimal.Zero
	}

	closed := decimal.Min(cur.Abs(), units.Abs())
	pnl := price.Sub(pos.AvgPrice).Mul(closed)
	if cur.IsNegative() {
		pnl = pnl.Neg()
	}
	pos.RealizedPL = pos.RealizedPL.Add(pnl)
	pos.Units = cur.Add(units)
	switch {
	case pos.Units.IsZero():
		pos.AvgPrice = decimal.Zero
	case pos.Units.Sign() != cur.Sign():
		pos.AvgPrice = price
	}
	return pnl
}

// Sweep fills resting limit orders on instrument that the current price crosses.
func (p *Paper) Sweep(ctx context.Context, instrument string) error {
	ref, err := p.price(ctx, instrument)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.sweepLocked(instrument, ref)
	p.mu.Unlock()
	return nil
}

func (p *Paper) sweepLocked(instrument string, ref decimal.Decimal) {
	if pos := p.positions[instrument]; pos != nil {
		pos.LastPrice = ref
	}
	kept := p.pending[:0]
	for _, o := range p.pending {
		if o.Instrument != instrument || !marketable(o, ref) {
			kept = append(kept, o)
			continue
		}
		p.fill(&o, *o.Price)
		for i := range p.orders {
			if p.orders[i].ID == o.ID {
				p.orders[i] = o
			}
		}
		log.Printf("[paper] resting %s %s filled at %s order=%s", o.Side, o.Instrument, o.FillPrice, o.ID)
	}
	p.pending = kept
}

// Orders returns resting limit orders, matching the live broker's pending list.
func (p *Paper) Orders(ctx context.Context) ([]model.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.Order, len(p.pending))
	copy(out, p.pending)
	return out, nil
}

// History returns every order placed, oldest first.
func (p *Paper) History() []model.Order {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.Order, len(p.orders))
	copy(out, p.orders)
	return out
}

// Positions returns open positions marked to the last known price.
func (p *Paper) Positions(ctx context.Context) ([]model.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.openLocked(), nil
}

func (p *Paper) openLocked() []model.Position {
	out := make([]model.Position, 0, len(p.positions))
	for _, pos := range p.positions {
		if pos.Units.IsZero() {
			continue
		}
		cp := *pos
		cp.UnrealizedPL = cp.LastPrice.Sub(cp.AvgPrice).Mul(cp.Units)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out
}

// Account summarises balance and open exposure. Margin is not simulated.
func (p *Paper) Account(ctx context.Context) (model.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	open := p.openLocked()
	unrealized := decimal.Zero
	for _, pos := range open {
		unrealized = unrealized.Add(pos.UnrealizedPL)
	}
	balance := p.cfg.Balance.Add(p.realized)
	return model.Account{
		ID:             p.cfg.AccountID,
		Broker:         p.Name(),
		Currency:       p.cfg.Currency,
		Balance:        balance,
		NAV:            balance.Add(unrealized),
		UnrealizedPL:   unrealized,
		OpenTradeCount: len(open),
	}, nil
}

// Candles serves bars from the price source.
func (p *Paper) Candles(ctx context.Context, instrument, granularity string, count int) ([]model.Bar, error) {
	if p.prices == nil {
		return nil, ErrNoPrice
	}
	s, err := p.prices.Fetch(ctx, instrument, granularity)
	if err != nil {
		return nil, err
	}
	bars := s.Bars()
	if count > 0 && len(bars) > count {
		bars = bars[len(bars)-count:]
	}
	return bars, nil
}
