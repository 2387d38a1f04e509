package model

import (
	"fmt"
	"strings"
)

// Tier is an analysis horizon evaluated independently.
type Tier string

const (
	TierMacro Tier = "macro"
	TierDaily Tier = "daily"
	TierMicro Tier = "micro"
)

// Tiers lists every tier, longest horizon first.
var Tiers = []Tier{TierMacro, TierDaily, TierMicro}

// ParseTier maps a case-insensitive name to a Tier.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case TierMacro, TierDaily, TierMicro:
		return t, nil
	}
	return "", fmt.Errorf("unknown tier %q", s)
}

// State is the binary classification of a tier.
type State string

const (
	StateGreen State = "Green"
	StateRed   State = "Red"
)

// TierResult maps indicator name to its binary vote (0 or 1).
type TierResult map[string]int

// IndicatorParams holds numeric parameters for one indicator in one tier.
type IndicatorParams map[string]float64

// Clone returns a copy so callers cannot mutate a shared snapshot.
func (p IndicatorParams) Clone() IndicatorParams {
	out := make(IndicatorParams, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// TierParams is the configuration of one indicator for one tier.
type TierParams struct {
	Params IndicatorParams `json:"params"`
	Weight float64         `json:"weight"`
}
