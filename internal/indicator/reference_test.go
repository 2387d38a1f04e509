package indicator

import (
	"testing"

	"github.com/markcheno/go-talib"
	"github.com/stretchr/testify/require"

	"github.com/rjmoor/AI-ForXBot/internal/model"
)

// These cross-check transforms whose definitions coincide with TA-Lib's.
// TA-Lib reports zeros inside its lookback, so only defined bars are compared.

func referenceInputs(n int) (high, low, cls, volume []float64) {
	for _, b := range waveBars(n) {
		high = append(high, b.High)
		low = append(low, b.Low)
		cls = append(cls, b.Close)
		volume = append(volume, *b.Volume)
	}
	return high, low, cls, volume
}

func compareFrom(t *testing.T, name string, got, want []float64, from int) {
	t.Helper()
	require.Len(t, got, len(want), name)
	for i := from; i < len(want); i++ {
		assertClose(t, name+"["+itoa(i)+"]", got[i], want[i], 1e-6)
	}
}

func TestReference_SMA(t *testing.T) {
	_, _, cls, _ := referenceInputs(120)
	s := waveSeries(120)
	_, err := SMA(s, model.IndicatorParams{"period": 20})
	require.NoError(t, err)
	got, _ := s.Column("sma_20")
	compareFrom(t, "sma", got, talib.Sma(cls, 20), 19)
}

func TestReference_WilliamsR(t *testing.T) {
	h, l, c, _ := referenceInputs(120)
	s := waveSeries(120)
	_, err := WilliamsR(s, model.IndicatorParams{"period": 14})
	require.NoError(t, err)
	got, _ := s.Column("williams_r")
	compareFrom(t, "williams_r", got, talib.WillR(h, l, c, 14), 13)
}

func TestReference_CCI(t *testing.T) {
	h, l, c, _ := referenceInputs(120)
	s := waveSeries(120)
	_, err := CCI(s, model.IndicatorParams{"period": 14})
	require.NoError(t, err)
	got, _ := s.Column("cci")
	compareFrom(t, "cci", got, talib.Cci(h, l, c, 14), 13)
}

func TestReference_MFI(t *testing.T) {
	h, l, c, v := referenceInputs(120)
	s := waveSeries(120)
	_, err := MFI(s, model.IndicatorParams{"period": 14})
	require.NoError(t, err)
	got, _ := s.Column("mfi")
	compareFrom(t, "mfi", got, talib.Mfi(h, l, c, v, 14), 14)
}
