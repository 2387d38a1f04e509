package indicator

import (
	"math"
	"testing"
	"time"

	"github.com/rjmoor/AI-ForXBot/internal/model"
)

var t0 = time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

// closeSeries builds bars with a one-pip range around each close and no volume.
func closeSeries(closes ...float64) *model.Series {
	bars := make([]model.Bar, len(closes))
	for i, c := range closes {
		bars[i] = model.Bar{Time: t0.Add(time.Duration(i) * time.Minute), Open: c, High: c + 0.5, Low: c - 0.5, Close: c}
	}
	return model.NewSeries("EUR_USD", "M1", bars)
}

// hlcSeries builds bars from (high, low, close) triples with volume 1000.
func hlcSeries(hlc ...[3]float64) *model.Series {
	bars := make([]model.Bar, len(hlc))
	for i, v := range hlc {
		bars[i] = model.Bar{Time: t0.Add(time.Duration(i) * time.Minute),
			Open: v[2], High: v[0], Low: v[1], Close: v[2], Volume: model.Vol(1000)}
	}
	return model.NewSeries("EUR_USD", "M1", bars)
}

// waveBars is a deterministic oscillating series with drift and volume.
func waveBars(n int) []model.Bar {
	bars := make([]model.Bar, n)
	for i := 0; i < n; i++ {
		x := float64(i)
		c := 100 + 5*math.Sin(x/3) + 0.1*x
		bars[i] = model.Bar{
			Time:   t0.Add(time.Duration(i) * time.Hour),
			Open:   c - 0.2*math.Cos(x),
			High:   c + 0.5 + 0.25*(1+math.Cos(x)),
			Low:    c - 0.5 - 0.25*(1+math.Sin(x)),
			Close:  c,
			Volume: model.Vol(1000 + 37*float64(i%11)),
		}
	}
	return bars
}

func waveSeries(n int) *model.Series {
	return model.NewSeries("EUR_USD", "H1", waveBars(n))
}

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

// assertSeries compares a column against expectations; NaN matches NaN.
func assertSeries(t *testing.T, s *model.Series, col string, want []float64, tol float64) {
	t.Helper()
	got, ok := s.Column(col)
	if !ok {
		t.Fatalf("column %q missing", col)
	}
	if len(got) != len(want) {
		t.Fatalf("%s: got %d values, want %d", col, len(got), len(want))
	}
	for i := range want {
		if math.IsNaN(want[i]) {
			if !math.IsNaN(got[i]) {
				t.Errorf("%s[%d]: got %.6f, want NaN", col, i, got[i])
			}
			continue
		}
		assertClose(t, col+"["+itoa(i)+"]", got[i], want[i], tol)
	}
}

func itoa(i int) string {
	if i < 10 {
		return string(rune('0' + i))
	}
	return itoa(i/10) + string(rune('0'+i%10))
}

var nan = math.NaN()
