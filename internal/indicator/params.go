package indicator

import (
	"math"

	"github.com/rjmoor/AI-ForXBot/internal/model"
)

// maxPeriod bounds integer parameters so int conversion cannot wrap.
const maxPeriod = math.MaxInt32

// periodParam reads an integer period, falling back to def when absent.
func periodParam(ind string, p model.IndicatorParams, key string, def int) (int, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
		return 0, &InvalidParameterError{Indicator: ind, Param: key, Value: v, Reason: "must be an integer"}
	}
	if v <= 0 {
		return 0, &InvalidParameterError{Indicator: ind, Param: key, Value: v, Reason: "must be positive"}
	}
	if v > maxPeriod {
		return 0, &InvalidParameterError{Indicator: ind, Param: key, Value: v, Reason: "exceeds 2147483647"}
	}
	return int(v), nil
}

// floatParam reads the first key present, falling back to def.
func floatParam(p model.IndicatorParams, def float64, keys ...string) (float64, string) {
	for _, k := range keys {
		if v, ok := p[k]; ok {
			return v, k
		}
	}
	return def, keys[0]
}

// requireColumns returns a MissingColumnError for the first absent column.
func requireColumns(ind string, s *model.Series, cols ...string) error {
	if c := s.Missing(cols...); c != "" {
		return &MissingColumnError{Indicator: ind, Column: c}
	}
	return nil
}

func column(s *model.Series, name string) []float64 {
	c, _ := s.Column(name)
	return c
}
