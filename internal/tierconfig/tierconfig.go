// Package tierconfig loads per-tier indicator parameters and weights.
//
// The document maps indicator name → tier → parameters, where every tier
// entry carries a non-negative "weight" alongside the indicator's numeric
// parameters:
//
//	RSI:
//	  macro: {period: 21, weight: 1.0}
//	  micro: {period: 7,  weight: 0.5}
//
// A loaded Config is immutable and safe for concurrent readers.
package tierconfig

import (
	"fmt"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/rjmoor/AI-ForXBot/internal/indicator"
	"github.com/rjmoor/AI-ForXBot/internal/model"
)

const weightKey = "weight"

// Config is a read-only snapshot of tier configuration.
type Config struct {
	entries map[string]map[model.Tier]model.TierParams
}

// Load reads and validates a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read indicator config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates a YAML document. Indicator names are matched
// case-insensitively against the registry and stored under their canonical
// names.
func Parse(data []byte) (*Config, error) {
	var raw map[string]map[string]map[string]float64
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse indicator config: %w", err)
	}

	cfg := &Config{entries: make(map[string]map[model.Tier]model.TierParams, len(raw))}
	for name, tiers := range raw {
		d, err := indicator.Resolve(name)
		if err != nil {
			return nil, err
		}
		if _, dup := cfg.entries[d.Name]; dup {
			return nil, fmt.Errorf("indicator %s configured more than once", d.Name)
		}
		byTier := make(map[model.Tier]model.TierParams, len(tiers))
		for tierName, values := range tiers {
			tier, err := model.ParseTier(tierName)
			if err != nil {
				return nil, fmt.Errorf("indicator %s: %w", d.Name, err)
			}
			weight, ok := values[weightKey]
			if !ok {
				return nil, fmt.Errorf("indicator %s tier %s: weight is required", d.Name, tier)
			}
			if weight < 0 || math.IsNaN(weight) || math.IsInf(weight, 0) {
				return nil, fmt.Errorf("indicator %s tier %s: weight must be a non-negative number, got %v", d.Name, tier, weight)
			}
			params := make(model.IndicatorParams, len(values))
			for k, v := range values {
				if k != weightKey {
					params[k] = v
				}
			}
			byTier[tier] = model.TierParams{Params: params, Weight: weight}
		}
		cfg.entries[d.Name] = byTier
	}
	return cfg, nil
}

// Params returns the configuration of indicator for tier. The returned
// parameters are a copy.
func (c *Config) Params(name string, tier model.Tier) (model.TierParams, bool) {
	d, err := indicator.Resolve(name)
	if err != nil {
		return model.TierParams{}, false
	}
	tp, ok := c.entries[d.Name][tier]
	if !ok {
		return model.TierParams{}, false
	}
	return model.TierParams{Params: tp.Params.Clone(), Weight: tp.Weight}, true
}

// Indicators returns the configured indicators for tier, sorted by name.
func (c *Config) Indicators(tier model.Tier) []string {
	var out []string
	for name, tiers := range c.entries {
		if _, ok := tiers[tier]; ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Snapshot returns a deep copy of the whole configuration.
func (c *Config) Snapshot() map[string]map[model.Tier]model.TierParams {
	out := make(map[string]map[model.Tier]model.TierParams, len(c.entries))
	for name, tiers := range c.entries {
		cp := make(map[model.Tier]model.TierParams, len(tiers))
		for t, tp := range tiers {
			cp[t] = model.TierParams{Params: tp.Params.Clone(), Weight: tp.Weight}
		}
		out[name] = cp
	}
	return out
}
