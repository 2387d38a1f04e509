package indicator

import "math"

// window is a fixed-size circular buffer with a running sum.
// It tracks how many NaN values it holds so callers can mark a window
// containing any undefined input as undefined.
type window struct {
	buf   []float64
	idx   int // current write position
	count int // total values received
	sum   float64
	nans  int
}

func newWindow(period int) *window {
	return &window{buf: make([]float64, period)}
}

func (w *window) push(v float64) {
	if w.count >= len(w.buf) {
		// Subtract the oldest value being overwritten
		old := w.buf[w.idx]
		if math.IsNaN(old) {
			w.nans--
		} else {
			w.sum -= old
		}
	}
	w.buf[w.idx] = v
	if math.IsNaN(v) {
		w.nans++
	} else {
		w.sum += v
	}
	w.idx = (w.idx + 1) % len(w.buf)
	w.count++
}

// ready reports whether the window is full of defined values.
func (w *window) ready() bool { return w.count >= len(w.buf) && w.nans == 0 }

func (w *window) mean() float64 {
	if !w.ready() {
		return math.NaN()
	}
	return w.sum / float64(len(w.buf))
}

func (w *window) total() float64 {
	if !w.ready() {
		return math.NaN()
	}
	return w.sum
}

// at returns the i-th oldest value in a full window.
func (w *window) at(i int) float64 {
	return w.buf[(w.idx+i)%len(w.buf)]
}

// rollingMean is the simple moving average of xs, NaN until period values
// are available and wherever the window holds a NaN.
func rollingMean(xs []float64, period int) []float64 {
	out := make([]float64, len(xs))
	w := newWindow(period)
	for i, v := range xs {
		w.push(v)
		out[i] = w.mean()
	}
	return out
}

func rollingSum(xs []float64, period int) []float64 {
	out := make([]float64, len(xs))
	w := newWindow(period)
	for i, v := range xs {
		w.push(v)
		out[i] = w.total()
	}
	return out
}

// rollingStd is the sample standard deviation (n-1 denominator).
// A period of 1 yields 0.
func rollingStd(xs []float64, period int) []float64 {
	out := make([]float64, len(xs))
	w := newWindow(period)
	for i, v := range xs {
		w.push(v)
		if !w.ready() {
			out[i] = math.NaN()
			continue
		}
		if period == 1 {
			out[i] = 0
			continue
		}
		m := w.sum / float64(period)
		var ss float64
		for j := 0; j < period; j++ {
			d := w.at(j) - m
			ss += d * d
		}
		out[i] = math.Sqrt(ss / float64(period-1))
	}
	return out
}

// rollingMeanAbsDev is the mean absolute deviation around the window mean.
func rollingMeanAbsDev(xs []float64, period int) []float64 {
	out := make([]float64, len(xs))
	w := newWindow(period)
	for i, v := range xs {
		w.push(v)
		if !w.ready() {
			out[i] = math.NaN()
			continue
		}
		m := w.sum / float64(period)
		var dev float64
		for j := 0; j < period; j++ {
			dev += math.Abs(w.at(j) - m)
		}
		out[i] = dev / float64(period)
	}
	return out
}

// rollingMax and rollingMin scan the trailing window; NaN until full.
func rollingMax(xs []float64, period int) []float64 {
	return rollingExtreme(xs, period, func(a, b float64) bool { return a > b })
}

func rollingMin(xs []float64, period int) []float64 {
	return rollingExtreme(xs, period, func(a, b float64) bool { return a < b })
}

func rollingExtreme(xs []float64, period int, better func(a, b float64) bool) []float64 {
	out := make([]float64, len(xs))
	for i := range xs {
		out[i] = math.NaN()
		if i < period-1 {
			continue
		}
		j := argExtreme(xs[i-period+1:i+1], better)
		if j >= 0 {
			out[i] = xs[i-period+1+j]
		}
	}
	return out
}

// argExtreme returns the first index holding the extreme value, or -1 if
// any value is NaN.
func argExtreme(xs []float64, better func(a, b float64) bool) int {
	best := -1
	for i, v := range xs {
		if math.IsNaN(v) {
			return -1
		}
		if best < 0 || better(v, xs[best]) {
			best = i
		}
	}
	return best
}

// ema is an exponential moving average with α = 2/(period+1), seeded with
// the first value it sees. O(1) per update.
type ema struct {
	multiplier float64
	current    float64
	count      int
}

func newEMA(period int) *ema {
	return &ema{multiplier: 2.0 / float64(period+1)}
}

func (e *ema) update(v float64) float64 {
	if e.count == 0 {
		e.current = v
	} else {
		// EMA = (v * multiplier) + (EMA_prev * (1 - multiplier))
		e.current = v*e.multiplier + e.current*(1-e.multiplier)
	}
	e.count++
	return e.current
}

// emaSeries runs an EMA over xs starting at the first defined value and
// reports NaN for the first period-1 values after that start.
func emaSeries(xs []float64, period int) []float64 {
	out := make([]float64, len(xs))
	e := newEMA(period)
	for i, v := range xs {
		if e.count == 0 && math.IsNaN(v) {
			out[i] = math.NaN()
			continue
		}
		val := e.update(v)
		if e.count < period {
			out[i] = math.NaN()
		} else {
			out[i] = val
		}
	}
	return out
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
