// Package scoring turns per-indicator binary votes into a weighted tier
// score and a Green/Red classification.
package scoring

import (
	"sort"

	"github.com/rjmoor/AI-ForXBot/internal/indicator"
	"github.com/rjmoor/AI-ForXBot/internal/model"
)

// DefaultThreshold is the score at or above which a tier is Green.
const DefaultThreshold = 0.7

// Engine scores tier results against configured weights.
// It holds no mutable state and is safe for concurrent use.
type Engine struct {
	cfg       model.ConfigProvider
	threshold float64
}

// NewEngine creates a scoring engine. threshold is the Green cut-off.
func NewEngine(cfg model.ConfigProvider, threshold float64) *Engine {
	return &Engine{cfg: cfg, threshold: threshold}
}

// Threshold returns the Green cut-off in use.
func (e *Engine) Threshold() float64 { return e.threshold }

// WeightedScore returns Σ(vote·weight)/Σweight over the indicators in
// result that are configured for tier. It is 0 when nothing applies.
func (e *Engine) WeightedScore(result model.TierResult, tier model.Tier) float64 {
	score, _ := e.Score(result, tier)
	return score
}

// Score is WeightedScore plus the number of configured indicators that
// voted. Names are folded to their registry spelling and each indicator
// votes once; of two spellings of the same indicator the first in byte
// order wins.
func (e *Engine) Score(result model.TierResult, tier model.Tier) (float64, int) {
	names := make([]string, 0, len(result))
	for name := range result {
		names = append(names, name)
	}
	// Fixed summation order keeps scores bit-identical across runs.
	sort.Strings(names)

	var weighted, total float64
	voters := 0
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		key := canonical(name)
		if seen[key] {
			continue
		}
		seen[key] = true
		tp, ok := e.cfg.Params(key, tier)
		if !ok {
			continue
		}
		voters++
		weighted += float64(result[name]) * tp.Weight
		total += tp.Weight
	}
	if total <= 0 {
		return 0, voters
	}
	return weighted / total, voters
}

// canonical maps a registered indicator to its registry name and leaves
// anything else unchanged.
func canonical(name string) string {
	if d, err := indicator.Resolve(name); err == nil {
		return d.Name
	}
	return name
}

// Classify applies the engine's threshold.
func (e *Engine) Classify(score float64) model.State {
	return Classify(score, e.threshold)
}

// Classify returns Green when score >= threshold.
func Classify(score, threshold float64) model.State {
	if score >= threshold {
		return model.StateGreen
	}
	return model.StateRed
}
