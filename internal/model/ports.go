package model

import (
	"context"
	"fmt"
)

// ── Ports ──
// These interfaces decouple the analysis core from concrete adapters
// (SQLite, Redis, broker REST APIs, WebSocket fan-out).

// DataSource supplies a bar series for one instrument and granularity.
type DataSource interface {
	// Fetch returns bars oldest first. Fails with *DataUnavailableError when
	// the source has nothing for the pair.
	Fetch(ctx context.Context, instrument, granularity string) (*Series, error)
}

// DataUnavailableError reports that a DataSource could not supply bars.
type DataUnavailableError struct {
	Instrument  string
	Granularity string
	Err         error
}

func (e *DataUnavailableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("no data for %s/%s", e.Instrument, e.Granularity)
	}
	return fmt.Sprintf("no data for %s/%s: %v", e.Instrument, e.Granularity, e.Err)
}

func (e *DataUnavailableError) Unwrap() error { return e.Err }

// ConfigProvider answers per-tier indicator configuration lookups.
type ConfigProvider interface {
	// Params returns the parameters and weight of indicator in tier.
	// ok is false when the pair is not configured.
	Params(indicator string, tier Tier) (TierParams, bool)
}

// ResultStore persists indicator outputs and the parameters used.
type ResultStore interface {
	SaveIndicatorValues(ctx context.Context, values []IndicatorValue) error
	SaveIndicatorParams(ctx context.Context, indicator string, tier Tier, params IndicatorParams) error
}

// ClassificationConsumer receives the tier states produced by each run.
type ClassificationConsumer interface {
	Consume(ctx context.Context, report Report) error
}

// ConsumerFunc adapts a function to ClassificationConsumer.
type ConsumerFunc func(ctx context.Context, report Report) error

func (f ConsumerFunc) Consume(ctx context.Context, report Report) error { return f(ctx, report) }

// BarWriter upserts bars for one instrument and granularity.
type BarWriter interface {
	WriteBars(ctx context.Context, instrument, granularity string, bars []Bar) (int, error)
}
