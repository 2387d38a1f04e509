// Package api exposes the HTTP control surface: trading lifecycle, broker
// passthrough, data population and tier states.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/rjmoor/AI-ForXBot/internal/broker"
	"github.com/rjmoor/AI-ForXBot/internal/metrics"
	"github.com/rjmoor/AI-ForXBot/internal/model"
	"github.com/rjmoor/AI-ForXBot/internal/population"
	"github.com/rjmoor/AI-ForXBot/internal/scoring"
	"github.com/rjmoor/AI-ForXBot/internal/store/sqlite"
	"github.com/rjmoor/AI-ForXBot/internal/trading"
)

// Analyzer runs and evaluates tier classifications.
type Analyzer interface {
	Analyze(ctx context.Context, instrument string) (model.Report, error)
	Evaluate(byTier map[model.Tier]model.TierResult) map[model.Tier]scoring.Evaluation
	Latest(instrument string) (model.Report, bool)
	LatestAll() []model.Report
}

// Lifecycle controls the periodic trading loop.
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop() error
	Status() trading.Status
}

// Journal records placed orders.
type Journal interface {
	RecordOrder(ctx context.Context, o model.Order) error
	Trades(ctx context.Context, limit int) ([]sqlite.TradeRecord, error)
	Performance(ctx context.Context) ([]sqlite.InstrumentPerformance, error)
}

// Populator refreshes stored candles from the broker.
type Populator interface {
	Populate(ctx context.Context) ([]population.Result, error)
	LastRun() time.Time
}

// ReportCache looks up the last published report, typically in Redis.
type ReportCache interface {
	LatestReport(ctx context.Context, instrument string) (*model.Report, error)
	History(ctx context.Context, instrument string, n int64) ([]model.Report, error)
}

// ResultReader reads persisted indicator outputs and parameters.
type ResultReader interface {
	LatestIndicatorValues(ctx context.Context, instrument string) ([]model.IndicatorValue, error)
	IndicatorParams(ctx context.Context, indicator string) (map[model.Tier]model.IndicatorParams, error)
}

// IndicatorCatalog describes the configured indicators.
type IndicatorCatalog interface {
	Snapshot() map[string]map[model.Tier]model.TierParams
}

// Deps are the collaborators behind the routes. Populator, Reports, Results,
// Stream, Health and Metrics are optional.
type Deps struct {
	// Base outlives requests; the trading loop started over HTTP runs
	// under it.
	Base context.Context

	Analyzer   Analyzer
	Trading    Lifecycle
	Broker     broker.Broker
	Journal    Journal
	Populator  Populator
	Reports    ReportCache
	Results    ResultReader
	Indicators IndicatorCatalog
	Settings   any
	Stream     Stream
	Health     http.Handler
	Metrics    *metrics.Metrics

	// TOTPSecret, when set, is required on mutating routes via X-OTP.
	TOTPSecret string
}

// Stream serves the WebSocket feed.
type Stream interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
	ServeMissed(w http.ResponseWriter, r *http.Request)
}

type server struct {
	Deps
	validate *validator.Validate
}

// NewRouter builds the HTTP handler for d.
func NewRouter(d Deps) http.Handler {
	if d.Base == nil {
		d.Base = context.Background()
	}
	s := &server{Deps: d, validate: newValidator()}
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/api/status", get(s.handleStatus))
	mux.HandleFunc("/api/start", s.mutating(s.handleStart))
	mux.HandleFunc("/api/stop", s.mutating(s.handleStop))

	mux.HandleFunc("/api/account", get(s.handleAccount))
	mux.HandleFunc("/api/order", s.mutating(s.handleOrder))
	mux.HandleFunc("/api/orders", get(s.handleOrders))
	mux.HandleFunc("/api/positions", get(s.handlePositions))
	mux.HandleFunc("/api/candles", get(s.handleCandles))
	mux.HandleFunc("/api/trade-history", get(s.handleTradeHistory))
	mux.HandleFunc("/api/performance", get(s.handlePerformance))
	mux.HandleFunc("/api/settings", get(s.handleSettings))
	mux.HandleFunc("/api/data-population/populate_data", s.mutating(s.handlePopulate))
	mux.HandleFunc("/api/data-population/status", get(s.handlePopulationStatus))

	mux.HandleFunc("/api/indicators", get(s.handleIndicators))
	mux.HandleFunc("/api/indicators/values", get(s.handleIndicatorValues))
	mux.HandleFunc("/api/indicators/params", get(s.handleIndicatorParams))
	mux.HandleFunc("/api/states", get(s.handleStates))
	mux.HandleFunc("/api/states/history", get(s.handleStateHistory))
	mux.HandleFunc("/api/states/analyze", s.mutating(s.handleAnalyze))
	mux.HandleFunc("/api/states/evaluate", post(s.handleEvaluate))

	if d.Health != nil {
		mux.Handle("/healthz", d.Health)
	}
	if d.Stream != nil {
		mux.HandleFunc("/ws", d.Stream.ServeWS)
		mux.HandleFunc("/ws/missed", d.Stream.ServeMissed)
	}
	return mux
}
