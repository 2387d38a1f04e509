package indicator

import (
	"math"
	"strconv"

	"github.com/rjmoor/AI-ForXBot/internal/model"
)

// SMA adds sma_{period}: the rolling mean of close.
func SMA(s *model.Series, p model.IndicatorParams) (bool, error) {
	period, err := periodParam("SMA", p, "period", 14)
	if err != nil {
		return false, err
	}
	if err := requireColumns("SMA", s, model.ColClose); err != nil {
		return false, err
	}
	if s.Len() < period {
		return false, nil
	}
	name := smaColumn(period)
	return true, write(s, map[string][]float64{name: rollingMean(column(s, model.ColClose), period)}, name)
}

func smaColumn(period int) string { return "sma_" + strconv.Itoa(period) }

// EMA adds ema, seeded with the first close and undefined for the first
// period-1 bars.
func EMA(s *model.Series, p model.IndicatorParams) (bool, error) {
	period, err := periodParam("EMA", p, "period", 14)
	if err != nil {
		return false, err
	}
	if err := requireColumns("EMA", s, model.ColClose); err != nil {
		return false, err
	}
	if s.Len() < period {
		return false, nil
	}
	return true, write(s, map[string][]float64{"ema": emaSeries(column(s, model.ColClose), period)}, "ema")
}

// MACD adds macd, signal and histogram. The signal line is an EMA of macd
// seeded at its first defined value.
func MACD(s *model.Series, p model.IndicatorParams) (bool, error) {
	short, err := periodParam("MACD", p, "short_period", 12)
	if err != nil {
		return false, err
	}
	long, err := periodParam("MACD", p, "long_period", 26)
	if err != nil {
		return false, err
	}
	sig, err := periodParam("MACD", p, "signal_period", 9)
	if err != nil {
		return false, err
	}
	if short >= long {
		return false, &InvalidParameterError{Indicator: "MACD", Param: "short_period", Value: float64(short),
			Reason: "must be less than long_period"}
	}
	if err := requireColumns("MACD", s, model.ColClose); err != nil {
		return false, err
	}
	if s.Len() < long {
		return false, nil
	}

	cls := column(s, model.ColClose)
	fast := emaSeries(cls, short)
	slow := emaSeries(cls, long)
	macd := make([]float64, len(cls))
	for i := range cls {
		macd[i] = fast[i] - slow[i]
	}
	signal := emaSeries(macd, sig)
	hist := make([]float64, len(cls))
	for i := range cls {
		hist[i] = macd[i] - signal[i]
	}
	return true, write(s, map[string][]float64{
		"macd":      macd,
		"signal":    signal,
		"histogram": hist,
	}, "macd", "signal", "histogram")
}

// MACrossover adds fast_ma, slow_ma and crossover_signal. The signal is +1
// on the bar where fast moves above slow, -1 where it moves below, and 0
// otherwise.
func MACrossover(s *model.Series, p model.IndicatorParams) (bool, error) {
	fastP, err := periodParam("MACrossover", p, "fast_period", 12)
	if err != nil {
		return false, err
	}
	slowP, err := periodParam("MACrossover", p, "slow_period", 26)
	if err != nil {
		return false, err
	}
	if fastP >= slowP {
		return false, &InvalidParameterError{Indicator: "MACrossover", Param: "fast_period", Value: float64(fastP),
			Reason: "must be less than slow_period"}
	}
	if err := requireColumns("MACrossover", s, model.ColClose); err != nil {
		return false, err
	}
	if s.Len() < slowP {
		return false, nil
	}

	cls := column(s, model.ColClose)
	fast := rollingMean(cls, fastP)
	slow := rollingMean(cls, slowP)
	cross := make([]float64, len(cls))
	started := false
	prev := 0.0
	for i := range cls {
		diff := fast[i] - slow[i]
		if math.IsNaN(diff) {
			cross[i] = math.NaN()
			continue
		}
		side := sign(diff)
		if started && side != 0 && side != prev {
			cross[i] = side
		}
		if side != 0 {
			prev = side
		}
		started = true
	}
	return true, write(s, map[string][]float64{
		"fast_ma":          fast,
		"slow_ma":          slow,
		"crossover_signal": cross,
	}, "fast_ma", "slow_ma", "crossover_signal")
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
