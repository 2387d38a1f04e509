// Package trading owns the periodic analysis loop and its start/stop
// lifecycle.
package trading

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/rjmoor/AI-ForXBot/internal/markethours"
	"github.com/rjmoor/AI-ForXBot/internal/metrics"
	"github.com/rjmoor/AI-ForXBot/internal/model"
)

var (
	ErrAlreadyRunning = errors.New("trading is already running")
	ErrNotRunning     = errors.New("trading is not running")
)

// Analyzer runs one analysis pass over a set of instruments.
type Analyzer interface {
	AnalyzeAll(ctx context.Context, instruments []string) ([]model.Report, error)
}

// Config controls the loop.
type Config struct {
	Instruments       []string
	Interval          time.Duration
	IgnoreMarketHours bool
}

// Status is a point-in-time view of the manager.
type Status struct {
	Running     bool      `json:"running"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	Cycles      int64     `json:"cycles"`
	Skipped     int64     `json:"skipped"`
	Failures    int64     `json:"failures"`
	LastRunAt   time.Time `json:"last_run_at,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	Market      string    `json:"market"`
	Instruments []string  `json:"instruments"`
	Interval    string    `json:"interval"`
}

// Manager starts and stops the analysis loop. All methods are safe for
// concurrent use.
type Manager struct {
	analyzer Analyzer
	cfg      Config
	prom     *metrics.Metrics
	health   *metrics.HealthStatus

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time
	cycles    int64
	skipped   int64
	failures  int64
	lastRunAt time.Time
	lastErr   string

	isOpen func(time.Time) bool
	now    func() time.Time
}

// NewManager creates a stopped manager. prom and health may be nil.
func NewManager(analyzer Analyzer, cfg Config, prom *metrics.Metrics, health *metrics.HealthStatus) *Manager {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Manager{
		analyzer: analyzer,
		cfg:      cfg,
		prom:     prom,
		health:   health,
		isOpen:   markethours.IsMarketOpen,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start launches the loop. The loop lives until Stop is called or ctx is
// cancelled, so ctx should be a process-lifetime context rather than a
// request context. The first cycle runs immediately.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.running = true
	m.cancel = cancel
	m.done = make(chan struct{})
	m.startedAt = m.now()
	m.setActive(true)

	go m.loop(loopCtx, m.done)
	log.Printf("[trading] started: %d instruments every %s", len(m.cfg.Instruments), m.cfg.Interval)
	return nil
}

// Stop cancels the loop and waits for the in-flight cycle to finish.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return ErrNotRunning
	}
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	cancel()
	<-done
	log.Printf("[trading] stopped")
	return nil
}

// IsRunning reports whether the loop is active.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Status returns counters and the current market session.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{
		Running:     m.running,
		Cycles:      m.cycles,
		Skipped:     m.skipped,
		Failures:    m.failures,
		LastRunAt:   m.lastRunAt,
		LastError:   m.lastErr,
		Market:      markethours.StatusString(m.now()),
		Instruments: append([]string(nil), m.cfg.Instruments...),
		Interval:    m.cfg.Interval.String(),
	}
	if m.running {
		st.StartedAt = m.startedAt
	}
	return st
}

func (m *Manager) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		m.mu.Lock()
		m.running = false
		m.cancel = nil
		m.setActive(false)
		m.mu.Unlock()
		close(done)
	}()

	m.RunOnce(ctx)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single cycle, skipping it while the market is closed.
// It reports whether analysis ran.
func (m *Manager) RunOnce(ctx context.Context) bool {
	now := m.now()
	open := m.isOpen(now)
	if m.prom != nil {
		if open {
			m.prom.MarketState.Set(1)
		} else {
			m.prom.MarketState.Set(0)
		}
	}

	if !open && !m.cfg.IgnoreMarketHours {
		m.mu.Lock()
		m.skipped++
		m.mu.Unlock()
		if m.prom != nil {
			m.prom.Cycles.WithLabelValues("skipped_closed").Inc()
		}
		return false
	}

	_, err := m.analyzer.AnalyzeAll(ctx, m.cfg.Instruments)

	m.mu.Lock()
	m.cycles++
	m.lastRunAt = m.now()
	ranAt := m.lastRunAt
	m.lastErr = ""
	if err != nil {
		m.failures++
		m.lastErr = err.Error()
	}
	m.mu.Unlock()

	if m.prom != nil {
		m.prom.Cycles.WithLabelValues("run").Inc()
	}
	if m.health != nil {
		m.health.SetLastAnalysis(ranAt)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("[trading] cycle finished with errors: %v", err)
	}
	return true
}

// setActive mirrors the running flag into metrics. Caller holds m.mu.
func (m *Manager) setActive(v bool) {
	if m.prom != nil {
		if v {
			m.prom.TradingActive.Set(1)
		} else {
			m.prom.TradingActive.Set(0)
		}
	}
	if m.health != nil {
		m.health.SetTradingActive(v)
	}
}
