package indicator

import (
	"math"

	"github.com/rjmoor/AI-ForXBot/internal/model"
)

// BollingerBands adds middle, upper and lower: SMA(close) plus or minus
// std_mult sample standard deviations. "std" is accepted as an alias for
// std_mult.
func BollingerBands(s *model.Series, p model.IndicatorParams) (bool, error) {
	period, err := periodParam("BollingerBands", p, "period", 20)
	if err != nil {
		return false, err
	}
	mult, key := floatParam(p, 2, "std_mult", "std")
	if math.IsNaN(mult) || math.IsInf(mult, 0) || mult < 0 {
		return false, &InvalidParameterError{Indicator: "BollingerBands", Param: key, Value: mult, Reason: "must be a non-negative number"}
	}
	if err := requireColumns("BollingerBands", s, model.ColClose); err != nil {
		return false, err
	}
	if s.Len() < period {
		return false, nil
	}

	cls := column(s, model.ColClose)
	mid := rollingMean(cls, period)
	sd := rollingStd(cls, period)
	upper := make([]float64, len(cls))
	lower := make([]float64, len(cls))
	for i := range cls {
		upper[i] = mid[i] + mult*sd[i]
		lower[i] = mid[i] - mult*sd[i]
	}
	return true, write(s, map[string][]float64{
		"middle": mid,
		"upper":  upper,
		"lower":  lower,
	}, "middle", "upper", "lower")
}

// ATR adds atr, the rolling mean of true range.
func ATR(s *model.Series, p model.IndicatorParams) (bool, error) {
	period, err := periodParam("ATR", p, "period", 14)
	if err != nil {
		return false, err
	}
	if err := requireColumns("ATR", s, model.ColHigh, model.ColLow, model.ColClose); err != nil {
		return false, err
	}
	if s.Len() < period {
		return false, nil
	}
	return true, write(s, map[string][]float64{"atr": rollingMean(trueRange(s), period)}, "atr")
}

// trueRange uses high-low for the first bar, which has no previous close.
func trueRange(s *model.Series) []float64 {
	h, l, c := column(s, model.ColHigh), column(s, model.ColLow), column(s, model.ColClose)
	tr := make([]float64, len(c))
	for i := range c {
		tr[i] = h[i] - l[i]
		if i > 0 {
			tr[i] = math.Max(tr[i], math.Max(math.Abs(h[i]-c[i-1]), math.Abs(l[i]-c[i-1])))
		}
	}
	return tr
}
