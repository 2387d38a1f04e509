package metrics

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rjmoor/AI-ForXBot/internal/breaker"
)

// Metrics holds all Prometheus metrics for the analysis and trading service.
type Metrics struct {
	// Analysis pipeline
	AnalysisRuns        *prometheus.CounterVec   // labels: result=ok|error
	AnalysisDur         prometheus.Histogram     // one instrument, all tiers
	IndicatorComputeDur *prometheus.HistogramVec // labels: indicator
	IndicatorFailures   *prometheus.CounterVec   // labels: indicator, kind=error|skipped
	IndicatorValues     prometheus.Counter

	// Classification
	TierScore  *prometheus.GaugeVec   // labels: instrument, tier
	TierState  *prometheus.GaugeVec   // labels: instrument, tier (1=Green, 0=Red)
	StateFlips *prometheus.CounterVec // labels: instrument, tier

	// Broker
	OrdersTotal   *prometheus.CounterVec   // labels: broker, status
	BrokerLatency *prometheus.HistogramVec // labels: endpoint
	BrokerErrors  *prometheus.CounterVec   // labels: endpoint

	// Circuit breakers
	BreakerState *prometheus.GaugeVec   // labels: name (0=closed, 1=open, 2=half-open)
	BreakerTrips *prometheus.CounterVec // labels: name

	// Storage
	RedisWriteDur   prometheus.Histogram
	SQLiteCommitDur prometheus.Histogram
	PopulatedBars   *prometheus.CounterVec // labels: granularity

	// Fan-out
	WSClients   prometheus.Gauge
	WSBroadcast prometheus.Counter
	Notifies    *prometheus.CounterVec // labels: notifier, result

	// Session state
	TradingActive prometheus.Gauge       // 0=stopped, 1=running
	MarketState   prometheus.Gauge       // 0=closed, 1=open
	Cycles        *prometheus.CounterVec // labels: outcome=run|skipped_closed
}

// NewMetrics creates all collectors and registers them with reg.
// A nil reg uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		AnalysisRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forxbot_analysis_runs_total",
			Help: "Instrument analyses by result",
		}, []string{"result"}),
		AnalysisDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "forxbot_analysis_duration_seconds",
			Help:    "Wall time to analyse one instrument across all tiers",
			Buckets: prometheus.DefBuckets,
		}),
		IndicatorComputeDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "forxbot_indicator_compute_duration_seconds",
			Help:    "Indicator transform latency per series",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}, []string{"indicator"}),
		IndicatorFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forxbot_indicator_failures_total",
			Help: "Indicators that errored or were skipped for insufficient data",
		}, []string{"indicator", "kind"}),
		IndicatorValues: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forxbot_indicator_values_total",
			Help: "Indicator values persisted",
		}),

		TierScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "forxbot_tier_score",
			Help: "Latest weighted tier score",
		}, []string{"instrument", "tier"}),
		TierState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "forxbot_tier_state",
			Help: "Latest tier state (1=Green, 0=Red)",
		}, []string{"instrument", "tier"}),
		StateFlips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forxbot_state_flips_total",
			Help: "Tier state changes",
		}, []string{"instrument", "tier"}),

		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forxbot_orders_total",
			Help: "Orders placed by broker and resulting status",
		}, []string{"broker", "status"}),
		BrokerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "forxbot_broker_request_duration_seconds",
			Help:    "Broker REST latency",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"endpoint"}),
		BrokerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forxbot_broker_errors_total",
			Help: "Failed broker requests",
		}, []string{"endpoint"}),

		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "forxbot_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
		BreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forxbot_circuit_breaker_trips_total",
			Help: "Times a circuit breaker tripped open",
		}, []string{"name"}),

		RedisWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "forxbot_redis_write_duration_seconds",
			Help:    "Redis report write latency",
			Buckets: prometheus.DefBuckets,
		}),
		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "forxbot_sqlite_commit_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),
		PopulatedBars: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forxbot_populated_bars_total",
			Help: "Bars written by data population",
		}, []string{"granularity"}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "forxbot_ws_clients",
			Help: "Connected WebSocket clients",
		}),
		WSBroadcast: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forxbot_ws_broadcast_total",
			Help: "Reports broadcast to WebSocket clients",
		}),
		Notifies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forxbot_notifications_total",
			Help: "State-change notifications by notifier and result",
		}, []string{"notifier", "result"}),

		TradingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "forxbot_trading_active",
			Help: "Trading loop state (0=stopped, 1=running)",
		}),
		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "forxbot_market_state",
			Help: "Forex session state (0=closed, 1=open)",
		}),
		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forxbot_trading_cycles_total",
			Help: "Trading loop ticks by outcome",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.AnalysisRuns,
		m.AnalysisDur,
		m.IndicatorComputeDur,
		m.IndicatorFailures,
		m.IndicatorValues,
		m.TierScore,
		m.TierState,
		m.StateFlips,
		m.OrdersTotal,
		m.BrokerLatency,
		m.BrokerErrors,
		m.BreakerState,
		m.BreakerTrips,
		m.RedisWriteDur,
		m.SQLiteCommitDur,
		m.PopulatedBars,
		m.WSClients,
		m.WSBroadcast,
		m.Notifies,
		m.TradingActive,
		m.MarketState,
		m.Cycles,
	)

	return m
}

// WatchBreaker mirrors a breaker's transitions into the state gauge and trip counter.
func (m *Metrics) WatchBreaker(b *breaker.Breaker) {
	m.BreakerState.WithLabelValues(b.Name()).Set(float64(b.CurrentState()))
	prev := b.OnStateChange
	b.OnStateChange = func(name string, from, to breaker.State) {
		m.BreakerState.WithLabelValues(name).Set(float64(to))
		if to == breaker.StateOpen {
			m.BreakerTrips.WithLabelValues(name).Inc()
		}
		if prev != nil {
			prev(name, from, to)
		}
	}
}

// ObserveBroker records one broker request.
func (m *Metrics) ObserveBroker(endpoint string, d time.Duration, err error) {
	m.BrokerLatency.WithLabelValues(endpoint).Observe(d.Seconds())
	if err != nil {
		m.BrokerErrors.WithLabelValues(endpoint).Inc()
	}
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	RedisEnabled   bool      `json:"redis_enabled"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	BrokerOK       bool      `json:"broker_ok"`
	TradingActive  bool      `json:"trading_active"`
	LastAnalysisAt time.Time `json:"last_analysis_at"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	BrokerLatencyMs float64   `json:"broker_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetRedisEnabled(v bool) {
	h.mu.Lock()
	h.RedisEnabled = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetTradingActive(v bool) {
	h.mu.Lock()
	h.TradingActive = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastAnalysis(t time.Time) {
	h.mu.Lock()
	h.LastAnalysisAt = t
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckBroker runs probe (typically an account lookup) and records the outcome.
func (h *HealthStatus) CheckBroker(ctx context.Context, probe func(context.Context) error) {
	start := time.Now()
	err := probe(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.BrokerOK = err == nil
	h.BrokerLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// Probes groups the dependencies checked by the liveness loop. Nil fields are skipped.
type Probes struct {
	Redis  *goredis.Client
	SQLite *sql.DB
	Broker func(context.Context) error
}

func (h *HealthStatus) checkAll(ctx context.Context, p Probes) {
	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if p.Redis != nil {
		h.CheckRedis(probeCtx, p.Redis)
	}
	if p.SQLite != nil {
		h.CheckSQLite(probeCtx, p.SQLite)
	}
	if p.Broker != nil {
		h.CheckBroker(probeCtx, p.Broker)
	}
}

// StartLivenessChecker probes once immediately and then every interval.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, p Probes, interval time.Duration) {
	h.checkAll(ctx, p)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.checkAll(ctx, p)
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	redisDown := h.RedisEnabled && !h.RedisConnected
	if redisDown || !h.SQLiteOK || !h.BrokerOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.SQLiteOK && !h.BrokerOK {
		overallStatus = "unhealthy"
	}

	lastAnalysis := ""
	if !h.LastAnalysisAt.IsZero() {
		lastAnalysis = h.LastAnalysisAt.Format(time.RFC3339)
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		RedisEnabled    bool    `json:"redis_enabled"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		BrokerOK        bool    `json:"broker_ok"`
		BrokerLatencyMs float64 `json:"broker_latency_ms"`
		TradingActive   bool    `json:"trading_active"`
		LastAnalysisAt  string  `json:"last_analysis_at"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		RedisEnabled:    h.RedisEnabled,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		BrokerOK:        h.BrokerOK,
		BrokerLatencyMs: h.BrokerLatencyMs,
		TradingActive:   h.TradingActive,
		LastAnalysisAt:  lastAnalysis,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server. gatherer may be nil for
// the default registry.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer) *Server {
	handler := promhttp.Handler()
	if gatherer != nil {
		handler = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler exposes the server's mux for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
