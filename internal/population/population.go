// Package population copies broker candles into the local bar store.
package population

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/rjmoor/AI-ForXBot/internal/metrics"
	"github.com/rjmoor/AI-ForXBot/internal/model"
)

// CandleFetcher is the part of a broker population needs.
type CandleFetcher interface {
	Candles(ctx context.Context, instrument, granularity string, count int) ([]model.Bar, error)
}

// Invalidator drops cached series after new bars land.
type Invalidator interface {
	Invalidate(ctx context.Context, instrument, granularity string) error
}

// Config lists what to populate.
type Config struct {
	Instruments   []string
	Granularities []string
	Count         int
}

// Result is the outcome for one instrument and granularity.
type Result struct {
	Instrument  string `json:"instrument"`
	Granularity string `json:"granularity"`
	Bars        int    `json:"bars"`
	Error       string `json:"error,omitempty"`
}

// ErrBusy is returned when a population run is already in progress.
var ErrBusy = errors.New("population already running")

// Service fetches and stores candles. Concurrent Populate calls are rejected.
type Service struct {
	fetcher CandleFetcher
	writer  model.BarWriter
	cache   Invalidator
	cfg     Config
	prom    *metrics.Metrics

	mu      sync.Mutex
	running bool
	lastRun time.Time
}

// New creates a population service. cache and prom may be nil.
func New(fetcher CandleFetcher, writer model.BarWriter, cache Invalidator, cfg Config, prom *metrics.Metrics) *Service {
	if cfg.Count <= 0 {
		cfg.Count = 500
	}
	return &Service{fetcher: fetcher, writer: writer, cache: cache, cfg: cfg, prom: prom}
}

// LastRun returns when Populate last completed.
func (s *Service) LastRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

// Populate fetches every configured pair once. A failing pair is reported
// in its Result and does not stop the others; the returned error joins all
// pair failures.
func (s *Service) Populate(ctx context.Context) ([]Result, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.lastRun = time.Now().UTC()
		s.mu.Unlock()
	}()

	results := make([]Result, 0, len(s.cfg.Instruments)*len(s.cfg.Granularities))
	var errs []error
	total := 0
	for _, inst := range s.cfg.Instruments {
		for _, gran := range s.cfg.Granularities {
			if err := ctx.Err(); err != nil {
				return results, err
			}
			n, err := s.populateOne(ctx, inst, gran)
			r := Result{Instrument: inst, Granularity: gran, Bars: n}
			if err != nil {
				r.Error = err.Error()
				errs = append(errs, fmt.Errorf("%s/%s: %w", inst, gran, err))
				log.Printf("[population] %s/%s failed: %v", inst, gran, err)
			}
			total += n
			results = append(results, r)
		}
	}
	log.Printf("[population] wrote %d bars for %d pairs (%d failed)", total, len(results), len(errs))
	return results, errors.Join(errs...)
}

func (s *Service) populateOne(ctx context.Context, inst, gran string) (int, error) {
	bars, err := s.fetcher.Candles(ctx, inst, gran, s.cfg.Count)
	if err != nil {
		return 0, err
	}
	if len(bars) == 0 {
		return 0, nil
	}
	n, err := s.writer.WriteBars(ctx, inst, gran, bars)
	if err != nil {
		return n, err
	}
	if s.prom != nil {
		s.prom.PopulatedBars.WithLabelValues(gran).Add(float64(n))
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, inst, gran); err != nil {
			log.Printf("[population] cache invalidate %s/%s: %v", inst, gran, err)
		}
	}
	return n, nil
}

// Run populates every interval until ctx is cancelled.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Populate(ctx); err != nil && !errors.Is(err, ErrBusy) {
				log.Printf("[population] periodic run: %v", err)
			}
		}
	}
}
