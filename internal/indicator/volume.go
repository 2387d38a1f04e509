package indicator

import (
	"math"

	"github.com/rjmoor/AI-ForXBot/internal/model"
)

// OBV adds obv: cumulative volume signed by the close-to-close direction,
// starting at 0 on the first bar.
func OBV(s *model.Series, _ model.IndicatorParams) (bool, error) {
	if err := requireColumns("OBV", s, model.ColClose, model.ColVolume); err != nil {
		return false, err
	}
	if s.Len() == 0 {
		return false, nil
	}
	cls, vol := column(s, model.ColClose), column(s, model.ColVolume)
	obv := make([]float64, len(cls))
	for i := 1; i < len(cls); i++ {
		obv[i] = obv[i-1]
		switch {
		case cls[i] > cls[i-1]:
			obv[i] += vol[i]
		case cls[i] < cls[i-1]:
			obv[i] -= vol[i]
		}
	}
	return true, write(s, map[string][]float64{"obv": obv}, "obv")
}

// VWAP adds vwap, the cumulative volume-weighted typical price. It is NaN
// until some volume has traded.
func VWAP(s *model.Series, _ model.IndicatorParams) (bool, error) {
	if err := requireColumns("VWAP", s, model.ColHigh, model.ColLow, model.ColClose, model.ColVolume); err != nil {
		return false, err
	}
	if s.Len() == 0 {
		return false, nil
	}
	tp := typicalPrice(s)
	vol := column(s, model.ColVolume)
	vwap := make([]float64, len(tp))
	var pv, cumVol float64
	for i := range tp {
		pv += tp[i] * vol[i]
		cumVol += vol[i]
		if cumVol == 0 {
			vwap[i] = math.NaN()
			continue
		}
		vwap[i] = pv / cumVol
	}
	return true, write(s, map[string][]float64{"vwap": vwap}, "vwap")
}
