// Package pipeline runs one analysis cycle: fetch a series per tier, apply
// the configured indicators, persist their outputs, derive votes, score the
// tiers and hand the resulting report to every consumer.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rjmoor/AI-ForXBot/internal/indicator"
	"github.com/rjmoor/AI-ForXBot/internal/logger"
	"github.com/rjmoor/AI-ForXBot/internal/metrics"
	"github.com/rjmoor/AI-ForXBot/internal/model"
	"github.com/rjmoor/AI-ForXBot/internal/scoring"
	"github.com/rjmoor/AI-ForXBot/internal/signal"
)

// IndicatorSet is the tier configuration as the pipeline sees it.
type IndicatorSet interface {
	model.ConfigProvider
	// Indicators lists the canonical names configured for tier.
	Indicators(tier model.Tier) []string
	Snapshot() map[string]map[model.Tier]model.TierParams
}

// DefaultTiers maps each tier to the granularity it is analysed on.
var DefaultTiers = map[model.Tier]string{
	model.TierMacro: "M",
	model.TierDaily: "D",
	model.TierMicro: "M1",
}

// ErrNoTiers is returned when no tier of an instrument could be evaluated.
var ErrNoTiers = errors.New("no tier could be evaluated")

// Options tunes a Service. Zero values select defaults.
type Options struct {
	Tiers       map[model.Tier]string
	Workers     int
	PersistBars int // newest defined values persisted per output column
	Results     model.ResultStore
	Consumers   []model.ClassificationConsumer
	Metrics     *metrics.Metrics
}

// Service analyses instruments. It is safe for concurrent use.
type Service struct {
	source  model.DataSource
	cfg     IndicatorSet
	machine *scoring.StateMachine
	results model.ResultStore
	metrics *metrics.Metrics
	tiers   map[model.Tier]string
	workers int
	persist int

	mu        sync.RWMutex
	consumers []model.ClassificationConsumer
	latest    map[string]model.Report

	paramsOnce sync.Once
	now        func() time.Time
}

// New creates a pipeline service.
func New(source model.DataSource, cfg IndicatorSet, machine *scoring.StateMachine, opts Options) *Service {
	tiers := opts.Tiers
	if len(tiers) == 0 {
		tiers = DefaultTiers
	}
	if opts.Workers < 1 {
		opts.Workers = 4
	}
	if opts.PersistBars < 1 {
		opts.PersistBars = 50
	}
	return &Service{
		source:    source,
		cfg:       cfg,
		machine:   machine,
		results:   opts.Results,
		metrics:   opts.Metrics,
		tiers:     tiers,
		workers:   opts.Workers,
		persist:   opts.PersistBars,
		consumers: append([]model.ClassificationConsumer(nil), opts.Consumers...),
		latest:    make(map[string]model.Report),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// AddConsumer registers another report consumer.
func (s *Service) AddConsumer(c model.ClassificationConsumer) {
	s.mu.Lock()
	s.consumers = append(s.consumers, c)
	s.mu.Unlock()
}

// Machine returns the state machine used for scoring.
func (s *Service) Machine() *scoring.StateMachine { return s.machine }

// Tiers returns the tier → granularity mapping in use.
func (s *Service) Tiers() map[model.Tier]string {
	out := make(map[model.Tier]string, len(s.tiers))
	for k, v := range s.tiers {
		out[k] = v
	}
	return out
}

// Latest returns the most recent report for instrument produced by this process.
func (s *Service) Latest(instrument string) (model.Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.latest[instrument]
	return r, ok
}

// LatestAll returns the most recent report of every analysed instrument,
// sorted by instrument.
func (s *Service) LatestAll() []model.Report {
	s.mu.RLock()
	out := make([]model.Report, 0, len(s.latest))
	for _, r := range s.latest {
		out = append(out, r)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out
}

// PersistParams writes every configured (indicator, tier) parameter set to
// the result store.
func (s *Service) PersistParams(ctx context.Context) error {
	if s.results == nil {
		return nil
	}
	snap := s.cfg.Snapshot()
	names := make([]string, 0, len(snap))
	for name := range snap {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, tier := range model.Tiers {
			tp, ok := snap[name][tier]
			if !ok {
				continue
			}
			if err := s.results.SaveIndicatorParams(ctx, name, tier, tp.Params); err != nil {
				return fmt.Errorf("save params %s/%s: %w", name, tier, err)
			}
		}
	}
	return nil
}

// Analyze evaluates every configured tier of instrument. Tiers whose data
// cannot be fetched are recorded in Report.Errors and left out of States.
// The report is returned even when err is non-nil.
func (s *Service) Analyze(ctx context.Context, instrument string) (model.Report, error) {
	s.paramsOnce.Do(func() {
		if err := s.PersistParams(ctx); err != nil {
			slog.Warn("persist indicator params", "error", err)
		}
	})

	start := time.Now()
	report := model.Report{
		RunID:       logger.NewRunID(),
		Instrument:  instrument,
		EvaluatedAt: s.now(),
		States:      make(map[model.Tier]model.State),
	}
	ctx = logger.WithTraceID(ctx, report.RunID)
	log := slog.With(logger.LogWithTrace(ctx)...).With("instrument", instrument)

	byTier := make(map[model.Tier]model.TierResult)
	reports := make(map[model.Tier]*model.TierReport)
	for _, tier := range model.Tiers {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		gran, ok := s.tiers[tier]
		if !ok || gran == "" {
			continue
		}
		names := s.cfg.Indicators(tier)
		if len(names) == 0 {
			continue
		}

		series, err := s.source.Fetch(ctx, instrument, gran)
		if err != nil {
			if report.Errors == nil {
				report.Errors = make(map[model.Tier]string)
			}
			report.Errors[tier] = err.Error()
			log.Warn("tier data unavailable", "tier", tier, "granularity", gran, "error", err)
			continue
		}

		tr, values := s.runTier(log, tier, series, names)
		byTier[tier] = tr.Results
		reports[tier] = tr
		s.save(ctx, log, values)
	}

	for tier, ev := range s.machine.Evaluate(byTier) {
		tr := reports[tier]
		tr.State = ev.State
		tr.Score = ev.Score
		tr.Voters = ev.Voters
		report.States[tier] = ev.State
		s.observeTier(instrument, tr)
	}
	for _, tier := range model.Tiers {
		if tr, ok := reports[tier]; ok {
			report.Tiers = append(report.Tiers, *tr)
		}
	}

	var err error
	if len(report.States) == 0 {
		err = fmt.Errorf("%s: %w", instrument, ErrNoTiers)
	}
	if s.metrics != nil {
		result := "ok"
		if err != nil {
			result = "error"
		}
		s.metrics.AnalysisRuns.WithLabelValues(result).Inc()
		s.metrics.AnalysisDur.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		log.Warn("analysis produced no states", "errors", report.Errors)
		return report, err
	}

	s.mu.Lock()
	s.latest[instrument] = report
	consumers := append([]model.ClassificationConsumer(nil), s.consumers...)
	s.mu.Unlock()

	for _, c := range consumers {
		if cerr := c.Consume(ctx, report); cerr != nil {
			log.Warn("report consumer failed", "consumer", fmt.Sprintf("%T", c), "error", cerr)
		}
	}
	log.Info("analysis complete", "states", report.States, "took", time.Since(start).Round(time.Microsecond))
	return report, nil
}

// runTier applies every configured indicator to series. An indicator that
// errors or lacks data is recorded and the rest still run.
func (s *Service) runTier(log *slog.Logger, tier model.Tier, series *model.Series, names []string) (*model.TierReport, []model.IndicatorValue) {
	tr := &model.TierReport{
		Tier:        tier,
		Granularity: series.Granularity,
		Bars:        series.Len(),
		Results:     make(model.TierResult, len(names)),
	}
	var values []model.IndicatorValue

	for _, name := range names {
		d, err := indicator.Resolve(name)
		if err != nil {
			s.fail(tr, name, err)
			continue
		}
		tp, _ := s.cfg.Params(name, tier)

		t0 := time.Now()
		applied, err := d.Compute(series, tp.Params)
		if s.metrics != nil {
			s.metrics.IndicatorComputeDur.WithLabelValues(d.Name).Observe(time.Since(t0).Seconds())
		}
		if err != nil {
			s.fail(tr, d.Name, err)
			log.Warn("indicator failed", "tier", tier, "indicator", d.Name, "error", err)
			continue
		}
		if !applied {
			s.skip(tr, d.Name)
			log.Debug("insufficient data", "tier", tier, "indicator", d.Name, "bars", series.Len())
			continue
		}

		values = append(values, s.tail(d, series, tier, tp.Params)...)

		vote, ok := signal.Derive(d, series, tp.Params)
		if !ok {
			s.skip(tr, d.Name)
			continue
		}
		tr.Results[d.Name] = vote
	}
	return tr, values
}

func (s *Service) fail(tr *model.TierReport, name string, err error) {
	if tr.Errors == nil {
		tr.Errors = make(map[string]string)
	}
	tr.Errors[name] = err.Error()
	if s.metrics != nil {
		s.metrics.IndicatorFailures.WithLabelValues(name, "error").Inc()
	}
}

func (s *Service) skip(tr *model.TierReport, name string) {
	tr.Skipped = append(tr.Skipped, name)
	if s.metrics != nil {
		s.metrics.IndicatorFailures.WithLabelValues(name, "skipped").Inc()
	}
}

// tail collects the newest defined values of each output column.
func (s *Service) tail(d indicator.Descriptor, series *model.Series, tier model.Tier, params model.IndicatorParams) []model.IndicatorValue {
	if s.results == nil {
		return nil
	}
	var out []model.IndicatorValue
	for _, col := range d.Outputs(params) {
		vals, ok := series.Column(col)
		if !ok {
			continue
		}
		from := len(vals) - s.persist
		if from < 0 {
			from = 0
		}
		for i := from; i < len(vals); i++ {
			v := vals[i]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			out = append(out, model.IndicatorValue{
				Indicator:   d.Name,
				Instrument:  series.Instrument,
				Granularity: series.Granularity,
				Tier:        tier,
				Field:       col,
				Time:        series.Times[i],
				Value:       v,
			})
		}
	}
	return out
}

func (s *Service) save(ctx context.Context, log *slog.Logger, values []model.IndicatorValue) {
	if s.results == nil || len(values) == 0 {
		return
	}
	if err := s.results.SaveIndicatorValues(ctx, values); err != nil {
		log.Warn("persist indicator values", "count", len(values), "error", err)
		return
	}
	if s.metrics != nil {
		s.metrics.IndicatorValues.Add(float64(len(values)))
	}
}

func (s *Service) observeTier(instrument string, tr *model.TierReport) {
	if s.metrics == nil {
		return
	}
	s.metrics.TierScore.WithLabelValues(instrument, string(tr.Tier)).Set(tr.Score)
	green := 0.0
	if tr.State == model.StateGreen {
		green = 1
	}
	s.metrics.TierState.WithLabelValues(instrument, string(tr.Tier)).Set(green)
}

// AnalyzeAll analyses instruments on a bounded worker pool. Reports come
// back in input order; failed instruments are joined into the error.
func (s *Service) AnalyzeAll(ctx context.Context, instruments []string) ([]model.Report, error) {
	reports := make([]model.Report, len(instruments))
	errs := make([]error, len(instruments))

	jobs := make(chan int)
	var wg sync.WaitGroup
	workers := s.workers
	if workers > len(instruments) {
		workers = len(instruments)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				reports[i], errs[i] = s.Analyze(ctx, instruments[i])
			}
		}()
	}

feed:
	for i := range instruments {
		select {
		case <-ctx.Done():
			for j := i; j < len(instruments); j++ {
				errs[j] = ctx.Err()
			}
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	return reports, errors.Join(errs...)
}

// Evaluate scores caller-supplied votes without touching any data source.
func (s *Service) Evaluate(byTier map[model.Tier]model.TierResult) map[model.Tier]scoring.Evaluation {
	return s.machine.Evaluate(byTier)
}
