package indicator

import (
	"math"

	"github.com/rjmoor/AI-ForXBot/internal/model"
)

// ADX adds adx, plus_di and minus_di. Directional movement and true range
// are summed over period moves; adx is the rolling mean of DX and first
// appears at bar 2*period-1.
func ADX(s *model.Series, p model.IndicatorParams) (bool, error) {
	period, err := periodParam("ADX", p, "period", 14)
	if err != nil {
		return false, err
	}
	if err := requireColumns("ADX", s, model.ColHigh, model.ColLow, model.ColClose); err != nil {
		return false, err
	}
	if s.Len() < period {
		return false, nil
	}

	h, l := column(s, model.ColHigh), column(s, model.ColLow)
	n := len(h)
	tr := trueRange(s)
	tr[0] = math.NaN()
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	plusDM[0], minusDM[0] = math.NaN(), math.NaN()
	for i := 1; i < n; i++ {
		up := h[i] - h[i-1]
		down := l[i-1] - l[i]
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
	}

	trSum := rollingSum(tr, period)
	plusSum := rollingSum(plusDM, period)
	minusSum := rollingSum(minusDM, period)
	plusDI := make([]float64, n)
	minusDI := make([]float64, n)
	dx := make([]float64, n)
	for i := 0; i < n; i++ {
		switch {
		case math.IsNaN(trSum[i]):
			plusDI[i], minusDI[i], dx[i] = math.NaN(), math.NaN(), math.NaN()
			continue
		case trSum[i] == 0:
			plusDI[i], minusDI[i] = 0, 0
		default:
			plusDI[i] = 100 * plusSum[i] / trSum[i]
			minusDI[i] = 100 * minusSum[i] / trSum[i]
		}
		if sum := plusDI[i] + minusDI[i]; sum != 0 {
			dx[i] = 100 * math.Abs(plusDI[i]-minusDI[i]) / sum
		}
	}
	return true, write(s, map[string][]float64{
		"adx":      rollingMean(dx, period),
		"plus_di":  plusDI,
		"minus_di": minusDI,
	}, "adx", "plus_di", "minus_di")
}

// Aroon adds aroon_up and aroon_down over a window of period bars.
// A high on the newest bar reads 100; the earliest of equal highs wins.
func Aroon(s *model.Series, p model.IndicatorParams) (bool, error) {
	period, err := periodParam("Aroon", p, "period", 25)
	if err != nil {
		return false, err
	}
	if err := requireColumns("Aroon", s, model.ColHigh, model.ColLow); err != nil {
		return false, err
	}
	if s.Len() < period {
		return false, nil
	}

	h, l := column(s, model.ColHigh), column(s, model.ColLow)
	up := nanSlice(len(h))
	down := nanSlice(len(h))
	greater := func(a, b float64) bool { return a > b }
	less := func(a, b float64) bool { return a < b }
	for i := period - 1; i < len(h); i++ {
		if j := argExtreme(h[i-period+1:i+1], greater); j >= 0 {
			up[i] = 100 * float64(j+1) / float64(period)
		}
		if j := argExtreme(l[i-period+1:i+1], less); j >= 0 {
			down[i] = 100 * float64(j+1) / float64(period)
		}
	}
	return true, write(s, map[string][]float64{
		"aroon_up":   up,
		"aroon_down": down,
	}, "aroon_up", "aroon_down")
}
