package indicator

import (
	"sort"
	"strings"

	"github.com/rjmoor/AI-ForXBot/internal/model"
)

// Descriptor describes one registered indicator.
type Descriptor struct {
	Name     string
	Requires []string
	Defaults model.IndicatorParams
	Compute  Transform

	outputs func(p model.IndicatorParams) []string
}

// Outputs returns the columns Compute writes for the given parameters.
func (d Descriptor) Outputs(p model.IndicatorParams) []string {
	return d.outputs(p)
}

func fixed(cols ...string) func(model.IndicatorParams) []string {
	return func(model.IndicatorParams) []string { return cols }
}

var ohlc = []string{model.ColHigh, model.ColLow, model.ColClose}

var descriptors = []Descriptor{
	{Name: "SMA", Requires: []string{model.ColClose}, Defaults: model.IndicatorParams{"period": 14}, Compute: SMA,
		outputs: func(p model.IndicatorParams) []string {
			period, err := periodParam("SMA", p, "period", 14)
			if err != nil {
				return nil
			}
			return []string{smaColumn(period)}
		}},
	{Name: "EMA", Requires: []string{model.ColClose}, Defaults: model.IndicatorParams{"period": 14}, Compute: EMA,
		outputs: fixed("ema")},
	{Name: "RSI", Requires: []string{model.ColClose}, Defaults: model.IndicatorParams{"period": 14}, Compute: RSI,
		outputs: fixed("rsi")},
	{Name: "MACD", Requires: []string{model.ColClose},
		Defaults: model.IndicatorParams{"short_period": 12, "long_period": 26, "signal_period": 9}, Compute: MACD,
		outputs: fixed("macd", "signal", "histogram")},
	{Name: "BollingerBands", Requires: []string{model.ColClose},
		Defaults: model.IndicatorParams{"period": 20, "std_mult": 2}, Compute: BollingerBands,
		outputs: fixed("middle", "upper", "lower")},
	{Name: "ATR", Requires: ohlc, Defaults: model.IndicatorParams{"period": 14}, Compute: ATR,
		outputs: fixed("atr")},
	{Name: "ADX", Requires: ohlc, Defaults: model.IndicatorParams{"period": 14}, Compute: ADX,
		outputs: fixed("adx", "plus_di", "minus_di")},
	{Name: "Aroon", Requires: []string{model.ColHigh, model.ColLow}, Defaults: model.IndicatorParams{"period": 25}, Compute: Aroon,
		outputs: fixed("aroon_up", "aroon_down")},
	{Name: "CCI", Requires: ohlc, Defaults: model.IndicatorParams{"period": 14}, Compute: CCI,
		outputs: fixed("cci")},
	{Name: "MFI", Requires: append(append([]string(nil), ohlc...), model.ColVolume),
		Defaults: model.IndicatorParams{"period": 14}, Compute: MFI,
		outputs: fixed("mfi")},
	{Name: "OBV", Requires: []string{model.ColClose, model.ColVolume}, Defaults: model.IndicatorParams{}, Compute: OBV,
		outputs: fixed("obv")},
	{Name: "VWAP", Requires: append(append([]string(nil), ohlc...), model.ColVolume),
		Defaults: model.IndicatorParams{}, Compute: VWAP,
		outputs: fixed("vwap")},
	{Name: "WilliamsR", Requires: ohlc, Defaults: model.IndicatorParams{"period": 14}, Compute: WilliamsR,
		outputs: fixed("williams_r")},
	{Name: "Stochastic", Requires: ohlc, Defaults: model.IndicatorParams{"period": 14}, Compute: Stochastic,
		outputs: fixed("stoch", "stoch_signal")},
	{Name: "MACrossover", Requires: []string{model.ColClose},
		Defaults: model.IndicatorParams{"fast_period": 12, "slow_period": 26}, Compute: MACrossover,
		outputs: fixed("fast_ma", "slow_ma", "crossover_signal")},
}

// byName is keyed by lower-cased canonical name.
var byName = func() map[string]Descriptor {
	m := make(map[string]Descriptor, len(descriptors))
	for _, d := range descriptors {
		m[strings.ToLower(d.Name)] = d
	}
	return m
}()

// Resolve looks up an indicator by case-insensitive name.
func Resolve(name string) (Descriptor, error) {
	d, ok := byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Descriptor{}, &UnknownIndicatorError{Name: name}
	}
	return d, nil
}

// Names returns the canonical names of all registered indicators, sorted.
func Names() []string {
	out := make([]string, len(descriptors))
	for i, d := range descriptors {
		out[i] = d.Name
	}
	sort.Strings(out)
	return out
}

// Apply resolves name and runs it over s.
func Apply(name string, s *model.Series, p model.IndicatorParams) (bool, error) {
	d, err := Resolve(name)
	if err != nil {
		return false, err
	}
	return d.Compute(s, p)
}
