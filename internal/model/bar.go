package model

import (
	"fmt"
	"math"
	"time"
)

// Standard price columns present on every Series.
const (
	ColOpen   = "open"
	ColHigh   = "high"
	ColLow    = "low"
	ColClose  = "close"
	ColVolume = "volume"
)

// Bar is one OHLCV candle. Volume is nil when the source carries none.
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume *float64  `json:"volume,omitempty"`
}

// Vol returns a pointer to v, for building bars with a volume.
func Vol(v float64) *float64 { return &v }

// Series is a time-indexed column store of bars for one instrument and
// granularity, oldest first. Indicators append derived columns aligned
// index-for-index with Times.
//
// A Series is not safe for concurrent mutation.
type Series struct {
	Instrument  string
	Granularity string
	Times       []time.Time

	cols  map[string][]float64
	order []string
}

// NewSeries builds a series from bars ordered oldest to newest. The volume
// column exists only when every bar carries a volume.
func NewSeries(instrument, granularity string, bars []Bar) *Series {
	n := len(bars)
	s := &Series{
		Instrument:  instrument,
		Granularity: granularity,
		Times:       make([]time.Time, n),
		cols:        make(map[string][]float64, 8),
	}
	open := make([]float64, n)
	high := make([]float64, n)
	low := make([]float64, n)
	cls := make([]float64, n)
	vol := make([]float64, n)
	hasVol := n > 0
	for i, b := range bars {
		s.Times[i] = b.Time
		open[i], high[i], low[i], cls[i] = b.Open, b.High, b.Low, b.Close
		if b.Volume == nil {
			hasVol = false
		} else {
			vol[i] = *b.Volume
		}
	}
	s.put(ColOpen, open)
	s.put(ColHigh, high)
	s.put(ColLow, low)
	s.put(ColClose, cls)
	if hasVol {
		s.put(ColVolume, vol)
	}
	return s
}

// Len returns the number of bars.
func (s *Series) Len() int { return len(s.Times) }

// Column returns the named column. The slice is shared with the series.
func (s *Series) Column(name string) ([]float64, bool) {
	c, ok := s.cols[name]
	return c, ok
}

// Missing returns the first of names that is not a column, or "".
func (s *Series) Missing(names ...string) string {
	for _, n := range names {
		if _, ok := s.cols[n]; !ok {
			return n
		}
	}
	return ""
}

// Set adds or replaces a column. values must be aligned with Times.
func (s *Series) Set(name string, values []float64) error {
	if len(values) != len(s.Times) {
		return fmt.Errorf("column %q has %d values, series has %d bars", name, len(values), len(s.Times))
	}
	s.put(name, values)
	return nil
}

func (s *Series) put(name string, values []float64) {
	if _, ok := s.cols[name]; !ok {
		s.order = append(s.order, name)
	}
	s.cols[name] = values
}

// Columns returns column names in insertion order.
func (s *Series) Columns() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Last returns the newest non-NaN value of a column and its index.
func (s *Series) Last(name string) (float64, int, bool) {
	c, ok := s.cols[name]
	if !ok {
		return math.NaN(), -1, false
	}
	for i := len(c) - 1; i >= 0; i-- {
		if !math.IsNaN(c[i]) {
			return c[i], i, true
		}
	}
	return math.NaN(), -1, false
}

// Clone returns a deep copy.
func (s *Series) Clone() *Series {
	cp := &Series{
		Instrument:  s.Instrument,
		Granularity: s.Granularity,
		Times:       append([]time.Time(nil), s.Times...),
		cols:        make(map[string][]float64, len(s.cols)),
		order:       append([]string(nil), s.order...),
	}
	for k, v := range s.cols {
		cp.cols[k] = append([]float64(nil), v...)
	}
	return cp
}

// Bars reconstructs the price bars.
func (s *Series) Bars() []Bar {
	out := make([]Bar, len(s.Times))
	vol, hasVol := s.cols[ColVolume]
	for i := range s.Times {
		out[i] = Bar{
			Time:  s.Times[i],
			Open:  s.cols[ColOpen][i],
			High:  s.cols[ColHigh][i],
			Low:   s.cols[ColLow][i],
			Close: s.cols[ColClose][i],
		}
		if hasVol {
			out[i].Volume = Vol(vol[i])
		}
	}
	return out
}
