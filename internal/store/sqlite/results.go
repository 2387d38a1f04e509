package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rjmoor/AI-ForXBot/internal/model"
)

// indicatorID returns the id for name, creating the row on first use.
func indicatorID(ctx context.Context, tx *sql.Tx, name string) (int64, error) {
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO indicators (name) VALUES (?)`, name); err != nil {
		return 0, err
	}
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM indicators WHERE name = ?`, name).Scan(&id)
	return id, err
}

// SaveIndicatorValues upserts indicator outputs. NaN values are skipped.
func (s *Store) SaveIndicatorValues(ctx context.Context, values []model.IndicatorValue) error {
	if len(values) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO indicator_results
			(indicator_id, instrument, granularity, tier, field, ts, value, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	now := time.Now().Unix()
	ids := make(map[string]int64)
	for _, v := range values {
		if math.IsNaN(v.Value) || math.IsInf(v.Value, 0) {
			continue
		}
		id, ok := ids[v.Indicator]
		if !ok {
			if id, err = indicatorID(ctx, tx, v.Indicator); err != nil {
				tx.Rollback()
				return fmt.Errorf("indicator id %s: %w", v.Indicator, err)
			}
			ids[v.Indicator] = id
		}
		if _, err := stmt.ExecContext(ctx, id, v.Instrument, v.Granularity, string(v.Tier), v.Field, v.Time.Unix(), v.Value, now); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// SaveIndicatorParams records the parameters used for indicator in tier.
func (s *Store) SaveIndicatorParams(ctx context.Context, indicator string, tier model.Tier, params model.IndicatorParams) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	id, err := indicatorID(ctx, tx, indicator)
	if err != nil {
		tx.Rollback()
		return err
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	now := time.Now().Unix()
	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO indicator_parameters (indicator_id, tier, name, value, updated_at)
			VALUES (?, ?, ?, ?, ?)
		`, id, string(tier), k, params[k], now); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// LatestIndicatorValues returns, for every indicator field stored for
// instrument, the value at its newest timestamp.
func (s *Store) LatestIndicatorValues(ctx context.Context, instrument string) ([]model.IndicatorValue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.name, r.granularity, r.tier, r.field, r.ts, r.value
		FROM indicator_results r
		JOIN indicators i ON i.id = r.indicator_id
		JOIN (
			SELECT indicator_id, granularity, field, MAX(ts) AS ts
			FROM indicator_results
			WHERE instrument = ?
			GROUP BY indicator_id, granularity, field
		) latest ON latest.indicator_id = r.indicator_id
			AND latest.granularity = r.granularity
			AND latest.field = r.field
			AND latest.ts = r.ts
		WHERE r.instrument = ?
		ORDER BY i.name, r.granularity, r.field
	`, instrument, instrument)
	if err != nil {
		return nil, fmt.Errorf("sqlite query indicator_results: %w", err)
	}
	defer rows.Close()

	var out []model.IndicatorValue
	for rows.Next() {
		v := model.IndicatorValue{Instrument: instrument}
		var tier string
		var ts int64
		if err := rows.Scan(&v.Indicator, &v.Granularity, &tier, &v.Field, &ts, &v.Value); err != nil {
			return nil, fmt.Errorf("sqlite scan indicator_results: %w", err)
		}
		v.Tier = model.Tier(tier)
		v.Time = time.Unix(ts, 0).UTC()
		out = append(out, v)
	}
	return out, rows.Err()
}

// IndicatorParams returns the stored parameters for indicator by tier.
func (s *Store) IndicatorParams(ctx context.Context, indicator string) (map[model.Tier]model.IndicatorParams, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.tier, p.name, p.value
		FROM indicator_parameters p
		JOIN indicators i ON i.id = p.indicator_id
		WHERE i.name = ?
	`, indicator)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[model.Tier]model.IndicatorParams)
	for rows.Next() {
		var tier, name string
		var value float64
		if err := rows.Scan(&tier, &name, &value); err != nil {
			return nil, err
		}
		t := model.Tier(tier)
		if out[t] == nil {
			out[t] = model.IndicatorParams{}
		}
		out[t][name] = value
	}
	return out, rows.Err()
}
