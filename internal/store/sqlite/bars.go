package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/rjmoor/AI-ForXBot/internal/model"
)

// WriteBars upserts bars in a single transaction and returns how many were
// written. Re-writing a bar with the same timestamp replaces it.
func (s *Store) WriteBars(ctx context.Context, instrument, granularity string, bars []model.Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO bars (instrument, granularity, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	defer stmt.Close()

	for _, b := range bars {
		var vol sql.NullFloat64
		if b.Volume != nil {
			vol = sql.NullFloat64{Float64: *b.Volume, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, instrument, granularity, b.Time.Unix(), b.Open, b.High, b.Low, b.Close, vol); err != nil {
			tx.Rollback()
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	log.Printf("[sqlite] committed %d %s/%s bars in %v", len(bars), instrument, granularity, time.Since(start))
	return len(bars), nil
}

// ReadBars returns the newest limit bars, oldest first. limit <= 0 reads all.
func (s *Store) ReadBars(ctx context.Context, instrument, granularity string, limit int) ([]model.Bar, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume FROM (
			SELECT ts, open, high, low, close, volume
			FROM bars
			WHERE instrument = ? AND granularity = ?
			ORDER BY ts DESC
			LIMIT ?
		) ORDER BY ts ASC
	`, instrument, granularity, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query bars: %w", err)
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		var b model.Bar
		var ts int64
		var vol sql.NullFloat64
		if err := rows.Scan(&ts, &b.Open, &b.High, &b.Low, &b.Close, &vol); err != nil {
			return nil, fmt.Errorf("sqlite scan bars: %w", err)
		}
		b.Time = time.Unix(ts, 0).UTC()
		if vol.Valid {
			b.Volume = model.Vol(vol.Float64)
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// LastBarTime returns the newest stored bar time. ok is false when the pair
// has no bars.
func (s *Store) LastBarTime(ctx context.Context, instrument, granularity string) (time.Time, bool, error) {
	var ts sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(ts) FROM bars WHERE instrument = ? AND granularity = ?`,
		instrument, granularity,
	).Scan(&ts)
	if err != nil || !ts.Valid {
		return time.Time{}, false, err
	}
	return time.Unix(ts.Int64, 0).UTC(), true, nil
}

// Source adapts the bar table to a DataSource serving the newest limit bars.
func (s *Store) Source(limit int) model.DataSource {
	return &barSource{store: s, limit: limit}
}

type barSource struct {
	store *Store
	limit int
}

func (b *barSource) Fetch(ctx context.Context, instrument, granularity string) (*model.Series, error) {
	bars, err := b.store.ReadBars(ctx, instrument, granularity, b.limit)
	if err != nil {
		return nil, &model.DataUnavailableError{Instrument: instrument, Granularity: granularity, Err: err}
	}
	if len(bars) == 0 {
		return nil, &model.DataUnavailableError{Instrument: instrument, Granularity: granularity}
	}
	return model.NewSeries(instrument, granularity, bars), nil
}
