package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rjmoor/AI-ForXBot/internal/breaker"
)

func TestNewMetricsRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.AnalysisRuns.WithLabelValues("ok").Inc()
	m.TierScore.WithLabelValues("EUR_USD", "macro").Set(0.75)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AnalysisRuns.WithLabelValues("ok")))
	assert.Equal(t, 0.75, testutil.ToFloat64(m.TierScore.WithLabelValues("EUR_USD", "macro")))

	// Registering twice on the same registry panics.
	assert.Panics(t, func() { NewMetrics(reg) })
}

func TestWatchBreaker(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	b := breaker.New("oanda", 1, time.Hour)

	chained := 0
	b.OnStateChange = func(string, breaker.State, breaker.State) { chained++ }
	m.WatchBreaker(b)

	_ = b.Execute(context.Background(), func(context.Context) error { return errors.New("boom") })

	assert.Equal(t, float64(breaker.StateOpen), testutil.ToFloat64(m.BreakerState.WithLabelValues("oanda")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BreakerTrips.WithLabelValues("oanda")))
	assert.Equal(t, 1, chained)
}

func TestObserveBroker(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.ObserveBroker("candles", 20*time.Millisecond, nil)
	m.ObserveBroker("candles", 20*time.Millisecond, errors.New("x"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BrokerErrors.WithLabelValues("candles")))
}

func TestHealthStatus(t *testing.T) {
	h := NewHealthStatus()
	h.CheckBroker(context.Background(), func(context.Context) error { return nil })

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "sqlite not yet probed")
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)

	h.mu.Lock()
	h.SQLiteOK = true
	h.mu.Unlock()
	h.SetLastAnalysis(time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"last_analysis_at":"2026-01-05T10:00:00Z"`)

	// Enabled but unreachable redis degrades.
	h.SetRedisEnabled(true)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServerExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.WSClients.Set(3)

	srv := NewServer(":0", NewHealthStatus(), reg)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "forxbot_ws_clients 3"))
}
