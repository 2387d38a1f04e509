package broker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rjmoor/AI-ForXBot/internal/breaker"
	"github.com/rjmoor/AI-ForXBot/internal/model"
)

// OANDA REST endpoints.
const (
	OandaPracticeURL = "https://api-fxpractice.oanda.com/v3"
	OandaLiveURL     = "https://api-fxtrade.oanda.com/v3"
)

// OandaConfig configures the OANDA client.
type OandaConfig struct {
	Environment string // "practice" or "live"
	BaseURL     string // overrides Environment when set
	AccountID   string
	Token       string
	Timeout     time.Duration
}

// Oanda talks to the OANDA v20 REST API.
type Oanda struct {
	base      string
	accountID string
	token     string
	hc        *http.Client
	breaker   *breaker.Breaker

	// OnRequest observes every call (endpoint label, duration, error).
	OnRequest func(endpoint string, d time.Duration, err error)
}

// NewOanda creates a client. cb may be nil.
func NewOanda(cfg OandaConfig, cb *breaker.Breaker) *Oanda {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = OandaPracticeURL
		if cfg.Environment == "live" {
			base = OandaLiveURL
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if cb == nil {
		cb = breaker.New("oanda", 5, 30*time.Second)
	}
	return &Oanda{
		base:      base,
		accountID: cfg.AccountID,
		token:     cfg.Token,
		hc:        &http.Client{Timeout: timeout},
		breaker:   cb,
	}
}

func (o *Oanda) Name() string { return "oanda" }

// APIError is a non-2xx OANDA response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("oanda %d: %s", e.Status, e.Message)
}

// do sends a request through the breaker and decodes a JSON response into out.
func (o *Oanda) do(ctx context.Context, endpoint, method, path string, query url.Values, body, out any) error {
	start := time.Now()
	err := o.breaker.Execute(ctx, func(ctx context.Context) error {
		u := o.base + path
		if len(query) > 0 {
			u += "?" + query.Encode()
		}
		var rdr io.Reader
		if body != nil {
			b, err := json.Marshal(body)
			if err != nil {
				return err
			}
			rdr = bytes.NewReader(b)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, rdr)
		if err != nil {
			return fmt.Errorf("newrequest %s: %w", endpoint, err)
		}
		req.Header.Set("Authorization", "Bearer "+o.token)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept-Datetime-Format", "RFC3339")

		res, err := o.hc.Do(req)
		if err != nil {
			return err
		}
		defer res.Body.Close()

		data, err := io.ReadAll(res.Body)
		if err != nil {
			return err
		}
		if res.StatusCode >= 300 {
			var e struct {
				ErrorMessage string `json:"errorMessage"`
			}
			_ = json.Unmarshal(data, &e)
			if e.ErrorMessage == "" {
				e.ErrorMessage = strings.TrimSpace(string(data))
			}
			return &APIError{Status: res.StatusCode, Message: e.ErrorMessage}
		}
		if out == nil {
			return nil
		}
		return json.Unmarshal(data, out)
	})
	if o.OnRequest != nil {
		o.OnRequest(endpoint, time.Since(start), err)
	}
	return err
}

func (o *Oanda) accountPath(suffix string) string {
	return "/accounts/" + url.PathEscape(o.accountID) + suffix
}

// ── Account ──

type oandaAccount struct {
	Account struct {
		ID             string          `json:"id"`
		Currency       string          `json:"currency"`
		Balance        decimal.Decimal `json:"balance"`
		NAV            decimal.Decimal `json:"NAV"`
		UnrealizedPL   decimal.Decimal `json:"unrealizedPL"`
		MarginUsed     decimal.Decimal `json:"marginUsed"`
		OpenTradeCount int             `json:"openTradeCount"`
	} `json:"account"`
}

func (o *Oanda) Account(ctx context.Context) (model.Account, error) {
	var resp oandaAccount
	if err := o.do(ctx, "account", http.MethodGet, o.accountPath("/summary"), nil, nil, &resp); err != nil {
		return model.Account{}, err
	}
	a := resp.Account
	return model.Account{
		ID:             a.ID,
		Broker:         o.Name(),
		Currency:       a.Currency,
		Balance:        a.Balance,
		NAV:            a.NAV,
		UnrealizedPL:   a.UnrealizedPL,
		MarginUsed:     a.MarginUsed,
		OpenTradeCount: a.OpenTradeCount,
	}, nil
}

// ── Orders ──

type oandaOrderBody struct {
	Order oandaOrderSpec `json:"order"`
}

type oandaOrderSpec struct {
	Type             string           `json:"type"`
	Instrument       string           `json:"instrument"`
	Units            string           `json:"units"`
	Price            string           `json:"price,omitempty"`
	TimeInForce      string           `json:"timeInForce"`
	PositionFill     string           `json:"positionFill"`
	ClientExtensions clientExtensions `json:"clientExtensions"`
}

type clientExtensions struct {
	ID string `json:"id"`
}

type oandaOrderResponse struct {
	OrderCreateTransaction struct {
		ID   string    `json:"id"`
		Time time.Time `json:"time"`
	} `json:"orderCreateTransaction"`
	OrderFillTransaction *struct {
		ID    string          `json:"id"`
		Price decimal.Decimal `json:"price"`
	} `json:"orderFillTransaction"`
	OrderCancelTransaction *struct {
		Reason string `json:"reason"`
	} `json:"orderCancelTransaction"`
}

func (o *Oanda) PlaceOrder(ctx context.Context, req model.OrderRequest) (model.Order, error) {
	typ := req.Type
	if typ == "" {
		typ = model.OrderTypeMarket
	}
	spec := oandaOrderSpec{
		Type:             typ,
		Instrument:       req.Instrument,
		Units:            req.SignedUnits().String(),
		TimeInForce:      "FOK",
		PositionFill:     "DEFAULT",
		ClientExtensions: clientExtensions{ID: uuid.New().String()},
	}
	if typ == model.OrderTypeLimit {
		spec.TimeInForce = "GTC"
		spec.Price = req.Price.String()
	}

	var resp oandaOrderResponse
	if err := o.do(ctx, "order", http.MethodPost, o.accountPath("/orders"), nil, oandaOrderBody{Order: spec}, &resp); err != nil {
		return model.Order{}, err
	}

	order := model.Order{
		ID:         resp.OrderCreateTransaction.ID,
		ClientTag:  spec.ClientExtensions.ID,
		Broker:     o.Name(),
		Instrument: req.Instrument,
		Side:       req.Side,
		Units:      req.Units,
		Type:       typ,
		Price:      req.Price,
		Status:     model.OrderPending,
		CreatedAt:  resp.OrderCreateTransaction.Time,
	}
	switch {
	case resp.OrderFillTransaction != nil:
		order.Status = model.OrderFilled
		order.FillPrice = resp.OrderFillTransaction.Price
	case resp.OrderCancelTransaction != nil:
		order.Status = model.OrderRejected
		order.Reason = resp.OrderCancelTransaction.Reason
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	log.Printf("[oanda] %s %s %s units=%s order=%s status=%s",
		order.Type, order.Side, order.Instrument, order.Units, order.ID, order.Status)
	return order, nil
}

type oandaOrders struct {
	Orders []struct {
		ID         string            `json:"id"`
		Instrument string            `json:"instrument"`
		Units      decimal.Decimal   `json:"units"`
		Type       string            `json:"type"`
		Price      *decimal.Decimal  `json:"price"`
		State      string            `json:"state"`
		CreateTime time.Time         `json:"createTime"`
		ClientExt  *clientExtensions `json:"clientExtensions"`
	} `json:"orders"`
}

// Orders lists pending orders.
func (o *Oanda) Orders(ctx context.Context) ([]model.Order, error) {
	var resp oandaOrders
	if err := o.do(ctx, "orders", http.MethodGet, o.accountPath("/pendingOrders"), nil, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]model.Order, 0, len(resp.Orders))
	for _, r := range resp.Orders {
		ord := model.Order{
			ID:         r.ID,
			Broker:     o.Name(),
			Instrument: r.Instrument,
			Side:       model.SideBuy,
			Units:      r.Units.Abs(),
			Type:       r.Type,
			Price:      r.Price,
			Status:     r.State,
			CreatedAt:  r.CreateTime,
		}
		if r.Units.IsNegative() {
			ord.Side = model.SideSell
		}
		if r.ClientExt != nil {
			ord.ClientTag = r.ClientExt.ID
		}
		out = append(out, ord)
	}
	return out, nil
}

// ── Positions ──

type oandaSide struct {
	Units        decimal.Decimal  `json:"units"`
	AveragePrice *decimal.Decimal `json:"averagePrice"`
	UnrealizedPL decimal.Decimal  `json:"unrealizedPL"`
	PL           decimal.Decimal  `json:"pl"`
}

type oandaPositions struct {
	Positions []struct {
		Instrument string    `json:"instrument"`
		Long       oandaSide `json:"long"`
		Short      oandaSide `json:"short"`
	} `json:"positions"`
}

// Positions lists open positions netted per instrument.
func (o *Oanda) Positions(ctx context.Context) ([]model.Position, error) {
	var resp oandaPositions
	if err := o.do(ctx, "positions", http.MethodGet, o.accountPath("/openPositions"), nil, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]model.Position, 0, len(resp.Positions))
	for _, p := range resp.Positions {
		pos := model.Position{
			Instrument:   p.Instrument,
			Units:        p.Long.Units.Add(p.Short.Units),
			RealizedPL:   p.Long.PL.Add(p.Short.PL),
			UnrealizedPL: p.Long.UnrealizedPL.Add(p.Short.UnrealizedPL),
		}
		switch {
		case !p.Long.Units.IsZero() && p.Long.AveragePrice != nil:
			pos.AvgPrice = *p.Long.AveragePrice
		case !p.Short.Units.IsZero() && p.Short.AveragePrice != nil:
			pos.AvgPrice = *p.Short.AveragePrice
		}
		out = append(out, pos)
	}
	return out, nil
}

// ── Candles ──

type oandaCandles struct {
	Candles []struct {
		Complete bool      `json:"complete"`
		Volume   float64   `json:"volume"`
		Time     time.Time `json:"time"`
		Mid      struct {
			O string `json:"o"`
			H string `json:"h"`
			L string `json:"l"`
			C string `json:"c"`
		} `json:"mid"`
	} `json:"candles"`
}

// Candles fetches mid-price bars. The still-forming last bar is dropped.
func (o *Oanda) Candles(ctx context.Context, instrument, granularity string, count int) ([]model.Bar, error) {
	if !ValidGranularity(granularity) {
		return nil, fmt.Errorf("unknown granularity %q", granularity)
	}
	if count <= 0 || count > MaxCandles {
		count = MaxCandles
	}
	q := url.Values{}
	q.Set("granularity", granularity)
	q.Set("count", strconv.Itoa(count))
	q.Set("price", "M")

	var resp oandaCandles
	path := "/instruments/" + url.PathEscape(instrument) + "/candles"
	if err := o.do(ctx, "candles", http.MethodGet, path, q, nil, &resp); err != nil {
		return nil, err
	}

	bars := make([]model.Bar, 0, len(resp.Candles))
	for _, c := range resp.Candles {
		if !c.Complete {
			continue
		}
		b := model.Bar{Time: c.Time.UTC(), Volume: model.Vol(c.Volume)}
		var err error
		if b.Open, err = strconv.ParseFloat(c.Mid.O, 64); err != nil {
			return nil, fmt.Errorf("candle %s open: %w", c.Time, err)
		}
		if b.High, err = strconv.ParseFloat(c.Mid.H, 64); err != nil {
			return nil, fmt.Errorf("candle %s high: %w", c.Time, err)
		}
		if b.Low, err = strconv.ParseFloat(c.Mid.L, 64); err != nil {
			return nil, fmt.Errorf("candle %s low: %w", c.Time, err)
		}
		if b.Close, err = strconv.ParseFloat(c.Mid.C, 64); err != nil {
			return nil, fmt.Errorf("candle %s close: %w", c.Time, err)
		}
		bars = append(bars, b)
	}
	return bars, nil
}
