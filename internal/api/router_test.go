package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/pquerna/otp/totp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rjmoor/AI-ForXBot/internal/broker"
	"github.com/rjmoor/AI-ForXBot/internal/metrics"
	"github.com/rjmoor/AI-ForXBot/internal/model"
	"github.com/rjmoor/AI-ForXBot/internal/pipeline"
	"github.com/rjmoor/AI-ForXBot/internal/population"
	"github.com/rjmoor/AI-ForXBot/internal/scoring"
	"github.com/rjmoor/AI-ForXBot/internal/store/sqlite"
	"github.com/rjmoor/AI-ForXBot/internal/tierconfig"
	"github.com/rjmoor/AI-ForXBot/internal/trading"
)

const tiersYAML = `
RSI:
  macro: {period: 14, weight: 1.0}
  micro: {period: 7, weight: 1.0}
MACD:
  macro: {fast: 12, slow: 26, signal: 9, weight: 1.0}
`

type fakeAnalyzer struct {
	machine *scoring.StateMachine
	latest  map[string]model.Report
	err     error
	calls   []string
}

func (f *fakeAnalyzer) Analyze(_ context.Context, inst string) (model.Report, error) {
	f.calls = append(f.calls, inst)
	rep := model.Report{Instrument: inst, States: map[model.Tier]model.State{model.TierMacro: model.StateGreen}}
	return rep, f.err
}

func (f *fakeAnalyzer) Evaluate(byTier map[model.Tier]model.TierResult) map[model.Tier]scoring.Evaluation {
	return f.machine.Evaluate(byTier)
}

func (f *fakeAnalyzer) Latest(inst string) (model.Report, bool) {
	r, ok := f.latest[inst]
	return r, ok
}

func (f *fakeAnalyzer) LatestAll() []model.Report {
	var out []model.Report
	for _, r := range f.latest {
		out = append(out, r)
	}
	return out
}

type fakeLifecycle struct {
	running bool
}

func (f *fakeLifecycle) Start(context.Context) error {
	if f.running {
		return trading.ErrAlreadyRunning
	}
	f.running = true
	return nil
}

func (f *fakeLifecycle) Stop() error {
	if !f.running {
		return trading.ErrNotRunning
	}
	f.running = false
	return nil
}

func (f *fakeLifecycle) Status() trading.Status { return trading.Status{Running: f.running} }

type fakePopulator struct {
	last time.Time
}

func (f *fakePopulator) Populate(context.Context) ([]population.Result, error) {
	f.last = time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
	return []population.Result{{Instrument: "EUR_USD", Granularity: "M1", Bars: 5}}, nil
}

func (f *fakePopulator) LastRun() time.Time { return f.last }

type fixture struct {
	handler  http.Handler
	analyzer *fakeAnalyzer
	trading  *fakeLifecycle
	store    *sqlite.Store
	prom     *metrics.Metrics
}

func newFixture(t *testing.T, secret string) *fixture {
	t.Helper()
	cfg, err := tierconfig.Parse([]byte(tiersYAML))
	require.NoError(t, err)

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	start := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	bars := make([]model.Bar, 5)
	for i := range bars {
		c := 1.1 + float64(i)*0.001
		bars[i] = model.Bar{Time: start.Add(time.Duration(i) * time.Minute), Open: c, High: c, Low: c, Close: c}
	}
	_, err = store.WriteBars(context.Background(), "EUR_USD", "M1", bars)
	require.NoError(t, err)

	paper := broker.NewPaper(broker.PaperConfig{Balance: decimal.NewFromInt(10000)}, store.Source(100), "M1")
	prom := metrics.NewMetrics(prometheus.NewRegistry())

	f := &fixture{
		analyzer: &fakeAnalyzer{
			machine: scoring.NewStateMachine(scoring.NewEngine(cfg, scoring.DefaultThreshold)),
			latest:  map[string]model.Report{"GBP_USD": {Instrument: "GBP_USD"}},
		},
		trading: &fakeLifecycle{},
		store:   store,
		prom:    prom,
	}
	f.handler = NewRouter(Deps{
		Analyzer:   f.analyzer,
		Trading:    f.trading,
		Broker:     paper,
		Journal:    store,
		Results:    store,
		Indicators: cfg,
		Settings:   map[string]string{"broker": "paper"},
		Metrics:    prom,
		TOTPSecret: secret,
		Populator:  &fakePopulator{},
	})
	return f
}

func (f *fixture) do(method, target string, body any, header ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestIndexAndNotFound(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Welcome")
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/nope", nil).Code)
}

func TestStartStopLifecycle(t *testing.T) {
	f := newFixture(t, "")

	assert.Equal(t, http.StatusMethodNotAllowed, f.do(http.MethodGet, "/api/start", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/api/start", nil).Code)
	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/api/start", nil).Code)

	rec := f.do(http.MethodGet, "/api/status", nil)
	var st trading.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.True(t, st.Running)

	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/api/stop", nil).Code)
	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/api/stop", nil).Code)
}

func TestOrderValidationAndJournal(t *testing.T) {
	f := newFixture(t, "")

	cases := []struct {
		name string
		body map[string]any
		want int
	}{
		{"bad instrument", map[string]any{"instrument": "EURUSD", "side": "BUY", "units": "100"}, http.StatusBadRequest},
		{"bad side", map[string]any{"instrument": "EUR_USD", "side": "HOLD", "units": "100"}, http.StatusBadRequest},
		{"zero units", map[string]any{"instrument": "EUR_USD", "side": "BUY", "units": "0"}, http.StatusBadRequest},
		{"limit without price", map[string]any{"instrument": "EUR_USD", "side": "BUY", "units": "100", "type": "LIMIT"}, http.StatusBadRequest},
		{"market", map[string]any{"instrument": "eur_usd", "side": "buy", "units": "1000"}, http.StatusCreated},
		{"no price", map[string]any{"instrument": "USD_JPY", "side": "SELL", "units": "10"}, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, "/api/order", tc.body)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}

	trades, err := f.store.Trades(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, model.OrderRejected, trades[0].Status)
	assert.Equal(t, "EUR_USD", trades[1].Instrument)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.prom.OrdersTotal.WithLabelValues("paper", "filled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.prom.OrdersTotal.WithLabelValues("paper", "rejected")))

	rec := f.do(http.MethodGet, "/api/trade-history?limit=1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":1`)

	rec = f.do(http.MethodGet, "/api/positions", nil)
	var positions []model.Position
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &positions))
	require.Len(t, positions, 1)
	assert.True(t, positions[0].Units.Equal(decimal.NewFromInt(1000)))

	rec = f.do(http.MethodGet, "/api/account", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/orders", nil).Code)
}

func TestCandles(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(http.MethodGet, "/api/candles?instrument=EUR_USD&granularity=m1&count=3", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		Granularity string      `json:"granularity"`
		Candles     []model.Bar `json:"candles"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "M1", body.Granularity)
	assert.Len(t, body.Candles, 3)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/candles?instrument=EUR_USD", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/candles?instrument=EUR_USD&granularity=X9", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/candles?instrument=EUR_USD&granularity=M1&count=0", nil).Code)
	assert.Equal(t, http.StatusBadGateway, f.do(http.MethodGet, "/api/candles?instrument=USD_JPY&granularity=M1", nil).Code)
}

func TestSettingsReadOnly(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(http.MethodGet, "/api/settings", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"broker":"paper"}`, rec.Body.String())

	rec = f.do(http.MethodPost, "/api/settings", map[string]string{"broker": "oanda"})
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodGet, rec.Header().Get("Allow"))
}

func TestPopulate(t *testing.T) {
	f := newFixture(t, "")
	assert.JSONEq(t, `{"enabled":true}`, f.do(http.MethodGet, "/api/data-population/status", nil).Body.String())

	rec := f.do(http.MethodPost, "/api/data-population/populate_data", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"bars":5`)

	rec = f.do(http.MethodGet, "/api/data-population/status", nil)
	assert.Contains(t, rec.Body.String(), `"last_run":"2026-01-05T12:00:00Z"`)
}

func TestPerformanceAndOrderHistory(t *testing.T) {
	f := newFixture(t, "")
	f.do(http.MethodPost, "/api/order", map[string]any{"instrument": "EUR_USD", "side": "BUY", "units": "100"})
	f.do(http.MethodPost, "/api/order", map[string]any{"instrument": "EUR_USD", "side": "BUY", "units": "100", "type": "LIMIT", "price": "1.0"})

	rec := f.do(http.MethodGet, "/api/performance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var perf []sqlite.InstrumentPerformance
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &perf))
	require.Len(t, perf, 1)
	assert.Equal(t, 1, perf[0].Trades)

	var pending, all []model.Order
	require.NoError(t, json.Unmarshal(f.do(http.MethodGet, "/api/orders", nil).Body.Bytes(), &pending))
	require.NoError(t, json.Unmarshal(f.do(http.MethodGet, "/api/orders?state=all", nil).Body.Bytes(), &all))
	assert.Len(t, pending, 1)
	assert.Len(t, all, 2)
}

func TestIndicatorValuesAndParams(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	ts := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	require.NoError(t, f.store.SaveIndicatorValues(ctx, []model.IndicatorValue{
		{Indicator: "RSI", Instrument: "EUR_USD", Granularity: "M1", Tier: model.TierMicro, Field: "rsi", Time: ts, Value: 61.5},
	}))
	require.NoError(t, f.store.SaveIndicatorParams(ctx, "RSI", model.TierMicro, model.IndicatorParams{"period": 7}))

	rec := f.do(http.MethodGet, "/api/indicators/values?instrument=eur_usd", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var values []model.IndicatorValue
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &values))
	require.Len(t, values, 1)
	assert.Equal(t, 61.5, values[0].Value)

	rec = f.do(http.MethodGet, "/api/indicators/params?name=rsi", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"RSI"`)
	assert.Contains(t, rec.Body.String(), `"period":7`)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/indicators/params?name=nope", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/indicators/values", nil).Code)
}

func TestStateHistoryNeedsRedis(t *testing.T) {
	f := newFixture(t, "")
	assert.Equal(t, http.StatusServiceUnavailable, f.do(http.MethodGet, "/api/states/history?instrument=EUR_USD", nil).Code)
}

func TestIndicators(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(http.MethodGet, "/api/indicators", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out []indicatorInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Len(t, out, 15)
	for _, info := range out {
		if info.Name == "RSI" {
			assert.Equal(t, 7.0, info.Tiers[model.TierMicro].Params["period"])
		}
	}
}

func TestStatesAndAnalyze(t *testing.T) {
	f := newFixture(t, "")

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/states?instrument=gbp_usd", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/states?instrument=USD_CAD", nil).Code)
	assert.Contains(t, f.do(http.MethodGet, "/api/states", nil).Body.String(), "GBP_USD")

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/states/analyze", nil).Code)
	rec := f.do(http.MethodPost, "/api/states/analyze?instrument=eur_usd", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"EUR_USD"}, f.analyzer.calls)

	f.analyzer.err = pipeline.ErrNoTiers
	rec = f.do(http.MethodPost, "/api/states/analyze?instrument=EUR_USD", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	f.analyzer.err = errors.New("boom")
	rec = f.do(http.MethodPost, "/api/states/analyze?instrument=EUR_USD", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestEvaluate(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(http.MethodPost, "/api/states/evaluate", map[string]map[string]int{
		"macro": {"RSI": 1, "MACD": 1},
		"micro": {"RSI": 0},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		States map[model.Tier]model.State `json:"states"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, model.StateGreen, body.States[model.TierMacro])
	assert.Equal(t, model.StateRed, body.States[model.TierMicro])

	rec = f.do(http.MethodPost, "/api/states/evaluate", map[string]map[string]int{"weekly": {"RSI": 1}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(http.MethodPost, "/api/states/evaluate", map[string]map[string]int{"macro": {"RSI": 2}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOneTimePasswordGuard(t *testing.T) {
	const secret = "JBSWY3DPEHPK3PXP"
	f := newFixture(t, secret)

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "/api/start", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "/api/start", nil, "X-OTP", "000000").Code)
	assert.False(t, f.trading.running)

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/api/start", nil, "X-OTP", code).Code)

	// reads stay open
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/status", nil).Code)
	// evaluation is side-effect free
	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/api/states/evaluate", map[string]map[string]int{}).Code)
}

func TestPreflight(t *testing.T) {
	f := newFixture(t, "JBSWY3DPEHPK3PXP")
	rec := f.do(http.MethodOptions, "/api/order", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-OTP")
}
