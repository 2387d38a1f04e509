// Package indicator provides technical indicator calculations over bar series.
//
// Every indicator is a Transform: a pure function that reads price columns
// from a model.Series and appends its output columns, aligned index-for-index
// with the bars. Values inside an indicator's warm-up window are NaN.
//
// Transforms check their inputs in a fixed order: parameters first, then
// required columns, then length. A series shorter than the indicator's
// period is left untouched and the transform reports applied=false.
package indicator

import (
	"fmt"

	"github.com/rjmoor/AI-ForXBot/internal/model"
)

// Transform computes one indicator over s, adding output columns on success.
// applied is false when s was too short and nothing was written.
type Transform func(s *model.Series, p model.IndicatorParams) (applied bool, err error)

// MissingColumnError reports a price column the indicator needs but the
// series lacks.
type MissingColumnError struct {
	Indicator string
	Column    string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("%s: series has no %q column", e.Indicator, e.Column)
}

// InvalidParameterError reports a parameter outside its valid domain.
type InvalidParameterError struct {
	Indicator string
	Param     string
	Value     float64
	Reason    string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("%s: invalid %s=%v: %s", e.Indicator, e.Param, e.Value, e.Reason)
}

// UnknownIndicatorError reports a name the registry does not know.
type UnknownIndicatorError struct {
	Name string
}

func (e *UnknownIndicatorError) Error() string {
	return fmt.Sprintf("unknown indicator %q", e.Name)
}

// write sets every output column, or none if any fails.
func write(s *model.Series, cols map[string][]float64, order ...string) error {
	for _, name := range order {
		if len(cols[name]) != s.Len() {
			return fmt.Errorf("column %q misaligned: %d values for %d bars", name, len(cols[name]), s.Len())
		}
	}
	for _, name := range order {
		if err := s.Set(name, cols[name]); err != nil {
			return err
		}
	}
	return nil
}
