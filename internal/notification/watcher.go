package notification

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/rjmoor/AI-ForXBot/internal/metrics"
	"github.com/rjmoor/AI-ForXBot/internal/model"
)

// StateWatcher consumes reports and alerts when a tier flips between Green
// and Red. The first state seen for an (instrument, tier) is recorded
// without alerting.
type StateWatcher struct {
	notifier Notifier
	prom     *metrics.Metrics

	mu   sync.Mutex
	last map[string]model.State // key: instrument/tier
}

// NewStateWatcher creates a watcher. prom may be nil.
func NewStateWatcher(n Notifier, prom *metrics.Metrics) *StateWatcher {
	return &StateWatcher{notifier: n, prom: prom, last: make(map[string]model.State)}
}

// Consume implements model.ClassificationConsumer.
func (w *StateWatcher) Consume(ctx context.Context, report model.Report) error {
	var alerts []Alert
	w.mu.Lock()
	for _, tr := range report.Tiers {
		state, ok := report.States[tr.Tier]
		if !ok {
			continue
		}
		key := report.Instrument + "/" + string(tr.Tier)
		prev, seen := w.last[key]
		w.last[key] = state
		if !seen || prev == state {
			continue
		}
		alerts = append(alerts, flipAlert(report, tr, prev, state))
		if w.prom != nil {
			w.prom.StateFlips.WithLabelValues(report.Instrument, string(tr.Tier)).Inc()
		}
	}
	w.mu.Unlock()

	var firstErr error
	for _, a := range alerts {
		err := w.notifier.Send(ctx, a)
		if w.prom != nil {
			result := "ok"
			if err != nil {
				result = "error"
			}
			w.prom.Notifies.WithLabelValues(w.notifier.Name(), result).Inc()
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// State returns the last recorded state of instrument in tier.
func (w *StateWatcher) State(instrument string, tier model.Tier) (model.State, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.last[instrument+"/"+string(tier)]
	return s, ok
}

func flipAlert(r model.Report, tr model.TierReport, from, to model.State) Alert {
	level := AlertInfo
	if to == model.StateRed {
		level = AlertWarning
	}
	return Alert{
		Level: level,
		Title: fmt.Sprintf("%s %s tier %s → %s", r.Instrument, tr.Tier, from, to),
		Message: fmt.Sprintf("score %.3f from %d indicators on %s bars",
			tr.Score, tr.Voters, tr.Granularity),
		Fields: map[string]string{
			"instrument": r.Instrument,
			"tier":       string(tr.Tier),
			"from":       string(from),
			"to":         string(to),
			"score":      strconv.FormatFloat(tr.Score, 'f', 4, 64),
			"run_id":     r.RunID,
		},
	}
}
