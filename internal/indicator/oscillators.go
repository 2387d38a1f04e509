package indicator

import (
	"math"

	"github.com/rjmoor/AI-ForXBot/internal/model"
)

// RSI adds rsi from simple averages of gains and losses over the last
// period close-to-close moves. A window with no losses reads 100, a flat
// window reads 50.
func RSI(s *model.Series, p model.IndicatorParams) (bool, error) {
	period, err := periodParam("RSI", p, "period", 14)
	if err != nil {
		return false, err
	}
	if err := requireColumns("RSI", s, model.ColClose); err != nil {
		return false, err
	}
	if s.Len() < period {
		return false, nil
	}

	cls := column(s, model.ColClose)
	gains := make([]float64, len(cls))
	losses := make([]float64, len(cls))
	gains[0], losses[0] = math.NaN(), math.NaN()
	for i := 1; i < len(cls); i++ {
		delta := cls[i] - cls[i-1]
		if delta > 0 {
			gains[i] = delta
		} else {
			losses[i] = -delta
		}
	}
	avgGain := rollingMean(gains, period)
	avgLoss := rollingMean(losses, period)

	rsi := make([]float64, len(cls))
	for i := range cls {
		rsi[i] = rsiValue(avgGain[i], avgLoss[i])
	}
	return true, write(s, map[string][]float64{"rsi": rsi}, "rsi")
}

func rsiValue(gain, loss float64) float64 {
	switch {
	case math.IsNaN(gain) || math.IsNaN(loss):
		return math.NaN()
	case loss == 0 && gain == 0:
		return 50
	case loss == 0:
		return 100
	}
	rs := gain / loss
	return 100.0 - (100.0 / (1.0 + rs))
}

// Stochastic adds stoch (%K) and stoch_signal (%D, a 3-bar mean of %K).
func Stochastic(s *model.Series, p model.IndicatorParams) (bool, error) {
	period, err := periodParam("Stochastic", p, "period", 14)
	if err != nil {
		return false, err
	}
	if err := requireColumns("Stochastic", s, model.ColHigh, model.ColLow, model.ColClose); err != nil {
		return false, err
	}
	if s.Len() < period {
		return false, nil
	}

	cls := column(s, model.ColClose)
	hh := rollingMax(column(s, model.ColHigh), period)
	ll := rollingMin(column(s, model.ColLow), period)
	k := make([]float64, len(cls))
	for i := range cls {
		rng := hh[i] - ll[i]
		if math.IsNaN(rng) || rng == 0 {
			k[i] = math.NaN()
			continue
		}
		k[i] = 100 * (cls[i] - ll[i]) / rng
	}
	return true, write(s, map[string][]float64{
		"stoch":        k,
		"stoch_signal": rollingMean(k, 3),
	}, "stoch", "stoch_signal")
}

// WilliamsR adds williams_r in [-100, 0].
func WilliamsR(s *model.Series, p model.IndicatorParams) (bool, error) {
	period, err := periodParam("WilliamsR", p, "period", 14)
	if err != nil {
		return false, err
	}
	if err := requireColumns("WilliamsR", s, model.ColHigh, model.ColLow, model.ColClose); err != nil {
		return false, err
	}
	if s.Len() < period {
		return false, nil
	}

	cls := column(s, model.ColClose)
	hh := rollingMax(column(s, model.ColHigh), period)
	ll := rollingMin(column(s, model.ColLow), period)
	wr := make([]float64, len(cls))
	for i := range cls {
		rng := hh[i] - ll[i]
		if math.IsNaN(rng) || rng == 0 {
			wr[i] = math.NaN()
			continue
		}
		wr[i] = -100 * (hh[i] - cls[i]) / rng
	}
	return true, write(s, map[string][]float64{"williams_r": wr}, "williams_r")
}

// CCI adds cci = (tp - SMA(tp)) / (0.015 * meanAbsDev(tp)).
func CCI(s *model.Series, p model.IndicatorParams) (bool, error) {
	period, err := periodParam("CCI", p, "period", 14)
	if err != nil {
		return false, err
	}
	if err := requireColumns("CCI", s, model.ColHigh, model.ColLow, model.ColClose); err != nil {
		return false, err
	}
	if s.Len() < period {
		return false, nil
	}

	tp := typicalPrice(s)
	mean := rollingMean(tp, period)
	mad := rollingMeanAbsDev(tp, period)
	cci := make([]float64, len(tp))
	for i := range tp {
		if math.IsNaN(mad[i]) || mad[i] == 0 {
			cci[i] = math.NaN()
			continue
		}
		cci[i] = (tp[i] - mean[i]) / (0.015 * mad[i])
	}
	return true, write(s, map[string][]float64{"cci": cci}, "cci")
}

// MFI adds the money flow index over period typical-price moves.
func MFI(s *model.Series, p model.IndicatorParams) (bool, error) {
	period, err := periodParam("MFI", p, "period", 14)
	if err != nil {
		return false, err
	}
	if err := requireColumns("MFI", s, model.ColHigh, model.ColLow, model.ColClose, model.ColVolume); err != nil {
		return false, err
	}
	if s.Len() < period {
		return false, nil
	}

	tp := typicalPrice(s)
	vol := column(s, model.ColVolume)
	pos := make([]float64, len(tp))
	neg := make([]float64, len(tp))
	pos[0], neg[0] = math.NaN(), math.NaN()
	for i := 1; i < len(tp); i++ {
		flow := tp[i] * vol[i]
		switch {
		case tp[i] > tp[i-1]:
			pos[i] = flow
		case tp[i] < tp[i-1]:
			neg[i] = flow
		}
	}
	posSum := rollingSum(pos, period)
	negSum := rollingSum(neg, period)
	mfi := make([]float64, len(tp))
	for i := range tp {
		switch {
		case math.IsNaN(posSum[i]) || math.IsNaN(negSum[i]):
			mfi[i] = math.NaN()
		case negSum[i] == 0 && posSum[i] == 0:
			mfi[i] = 50
		case negSum[i] == 0:
			mfi[i] = 100
		default:
			mfi[i] = 100 - 100/(1+posSum[i]/negSum[i])
		}
	}
	return true, write(s, map[string][]float64{"mfi": mfi}, "mfi")
}

func typicalPrice(s *model.Series) []float64 {
	h, l, c := column(s, model.ColHigh), column(s, model.ColLow), column(s, model.ColClose)
	tp := make([]float64, len(c))
	for i := range c {
		tp[i] = (h[i] + l[i] + c[i]) / 3
	}
	return tp
}
