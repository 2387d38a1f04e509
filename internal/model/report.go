package model

import "time"

// IndicatorValue is one defined output value, as persisted by a ResultStore.
type IndicatorValue struct {
	Indicator   string    `json:"indicator"`
	Instrument  string    `json:"instrument"`
	Granularity string    `json:"granularity"`
	Tier        Tier      `json:"tier"`
	Field       string    `json:"field"`
	Time        time.Time `json:"time"`
	Value       float64   `json:"value"`
}

// TierReport is the outcome of scoring a single tier.
type TierReport struct {
	Tier        Tier              `json:"tier"`
	Granularity string            `json:"granularity"`
	Bars        int               `json:"bars"`
	State       State             `json:"state"`
	Score       float64           `json:"score"`
	Voters      int               `json:"voters"`
	Results     TierResult        `json:"results"`
	Skipped     []string          `json:"skipped,omitempty"`
	Errors      map[string]string `json:"errors,omitempty"`
}

// Report is the classification of one instrument across tiers for one run.
type Report struct {
	RunID       string          `json:"run_id"`
	Instrument  string          `json:"instrument"`
	EvaluatedAt time.Time       `json:"evaluated_at"`
	States      map[Tier]State  `json:"states"`
	Tiers       []TierReport    `json:"tiers"`
	Errors      map[Tier]string `json:"errors,omitempty"`
}
