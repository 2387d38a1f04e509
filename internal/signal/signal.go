// Package signal reduces an indicator's output columns to a binary vote:
// 1 when the latest bar reads bullish, 0 otherwise.
package signal

import (
	"math"

	"github.com/rjmoor/AI-ForXBot/internal/indicator"
	"github.com/rjmoor/AI-ForXBot/internal/model"
)

// Vote values.
const (
	Unfavourable = 0
	Favourable   = 1
)

// Thresholds used by the oscillator rules.
const (
	RSIOverbought = 70.0
	MFIOverbought = 80.0
	ADXTrending   = 25.0
)

type rule func(v values) (bool, bool)

// values reads outputs at the newest bar.
type values struct {
	s    *model.Series
	outs []string
}

// at returns output column i at the newest bar minus back.
func (v values) at(i, back int) (float64, bool) {
	if i >= len(v.outs) {
		return math.NaN(), false
	}
	return v.col(v.outs[i], back)
}

func (v values) col(name string, back int) (float64, bool) {
	c, ok := v.s.Column(name)
	idx := len(c) - 1 - back
	if !ok || idx < 0 || math.IsNaN(c[idx]) {
		return math.NaN(), false
	}
	return c[idx], true
}

func (v values) close() (float64, bool) { return v.col(model.ColClose, 0) }

var rules = map[string]rule{
	"SMA":  closeAbove(0),
	"EMA":  closeAbove(0),
	"VWAP": closeAbove(0),
	"RSI": func(v values) (bool, bool) {
		r, ok := v.at(0, 0)
		return r >= 50 && r < RSIOverbought, ok
	},
	"MACD": func(v values) (bool, bool) {
		h, ok := v.at(2, 0)
		return h > 0, ok
	},
	"BollingerBands": func(v values) (bool, bool) {
		mid, ok1 := v.at(0, 0)
		up, ok2 := v.at(1, 0)
		c, ok3 := v.close()
		return c >= mid && c <= up, ok1 && ok2 && ok3
	},
	"ATR": func(v values) (bool, bool) {
		c, _ := v.s.Column(v.outs[0])
		latest, ok := v.at(0, 0)
		if !ok {
			return false, false
		}
		var sum float64
		n := 0
		for _, x := range c {
			if !math.IsNaN(x) {
				sum += x
				n++
			}
		}
		return latest >= sum/float64(n), true
	},
	"ADX": func(v values) (bool, bool) {
		adx, ok1 := v.at(0, 0)
		plus, ok2 := v.at(1, 0)
		minus, ok3 := v.at(2, 0)
		return adx >= ADXTrending && plus > minus, ok1 && ok2 && ok3
	},
	"Aroon": func(v values) (bool, bool) {
		up, ok1 := v.at(0, 0)
		down, ok2 := v.at(1, 0)
		return up > down, ok1 && ok2
	},
	"CCI": func(v values) (bool, bool) {
		c, ok := v.at(0, 0)
		return c > 0, ok
	},
	"MFI": func(v values) (bool, bool) {
		m, ok := v.at(0, 0)
		return m >= 50 && m < MFIOverbought, ok
	},
	"OBV": func(v values) (bool, bool) {
		now, ok1 := v.at(0, 0)
		prev, ok2 := v.at(0, 1)
		return now > prev, ok1 && ok2
	},
	"WilliamsR": func(v values) (bool, bool) {
		w, ok := v.at(0, 0)
		return w > -50, ok
	},
	"Stochastic": func(v values) (bool, bool) {
		k, ok1 := v.at(0, 0)
		d, ok2 := v.at(1, 0)
		return k > d, ok1 && ok2
	},
	"MACrossover": func(v values) (bool, bool) {
		fast, ok1 := v.at(0, 0)
		slow, ok2 := v.at(1, 0)
		return fast > slow, ok1 && ok2
	},
}

func closeAbove(i int) rule {
	return func(v values) (bool, bool) {
		line, ok1 := v.at(i, 0)
		c, ok2 := v.close()
		return c > line, ok1 && ok2
	}
}

// Derive returns the vote of an indicator already applied to s with params.
// ok is false when the newest bar has no defined value to judge, in which
// case the indicator abstains.
func Derive(d indicator.Descriptor, s *model.Series, params model.IndicatorParams) (vote int, ok bool) {
	r, found := rules[d.Name]
	if !found || s.Len() == 0 {
		return 0, false
	}
	outs := d.Outputs(params)
	if len(outs) == 0 {
		return 0, false
	}
	bullish, ok := r(values{s: s, outs: outs})
	if !ok {
		return 0, false
	}
	if bullish {
		return Favourable, true
	}
	return Unfavourable, true
}
