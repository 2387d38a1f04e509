package population

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rjmoor/AI-ForXBot/internal/model"
	"github.com/rjmoor/AI-ForXBot/internal/store/sqlite"
)

type mockFetcher struct{ mock.Mock }

func (m *mockFetcher) Candles(ctx context.Context, inst, gran string, count int) ([]model.Bar, error) {
	args := m.Called(inst, gran, count)
	bars, _ := args.Get(0).([]model.Bar)
	return bars, args.Error(1)
}

type mockCache struct{ mock.Mock }

func (m *mockCache) Invalidate(ctx context.Context, inst, gran string) error {
	return m.Called(inst, gran).Error(0)
}

func bars(n int) []model.Bar {
	t0 := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	out := make([]model.Bar, n)
	for i := range out {
		c := 1.1 + float64(i)*0.001
		out[i] = model.Bar{Time: t0.Add(time.Duration(i) * time.Minute), Open: c, High: c + 0.001, Low: c - 0.001, Close: c, Volume: model.Vol(100)}
	}
	return out
}

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "pop.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestPopulateWritesBars(t *testing.T) {
	f := &mockFetcher{}
	f.On("Candles", "EUR_USD", "M1", 3).Return(bars(3), nil)
	f.On("Candles", "EUR_USD", "D", 3).Return(bars(2), nil)
	c := &mockCache{}
	c.On("Invalidate", "EUR_USD", "M1").Return(nil)
	c.On("Invalidate", "EUR_USD", "D").Return(errors.New("redis down"))

	st := openStore(t)
	svc := New(f, st, c, Config{Instruments: []string{"EUR_USD"}, Granularities: []string{"M1", "D"}, Count: 3}, nil)

	res, err := svc.Populate(context.Background())
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, 3, res[0].Bars)
	assert.Equal(t, 2, res[1].Bars)
	assert.False(t, svc.LastRun().IsZero())

	got, err := st.ReadBars(context.Background(), "EUR_USD", "M1", 10)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	f.AssertExpectations(t)
	c.AssertExpectations(t)

	// Upsert: a second run does not duplicate rows.
	_, err = svc.Populate(context.Background())
	require.NoError(t, err)
	got, _ = st.ReadBars(context.Background(), "EUR_USD", "M1", 10)
	assert.Len(t, got, 3)
}

func TestPopulateIsolatesFailures(t *testing.T) {
	f := &mockFetcher{}
	f.On("Candles", "EUR_USD", "M1", 500).Return(nil, errors.New("oanda 503: unavailable"))
	f.On("Candles", "GBP_USD", "M1", 500).Return(bars(4), nil)

	svc := New(f, openStore(t), nil, Config{Instruments: []string{"EUR_USD", "GBP_USD"}, Granularities: []string{"M1"}}, nil)
	res, err := svc.Populate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EUR_USD/M1")
	require.Len(t, res, 2)
	assert.NotEmpty(t, res[0].Error)
	assert.Equal(t, 4, res[1].Bars)
}

func TestPopulateRejectsConcurrentRun(t *testing.T) {
	svc := New(&mockFetcher{}, openStore(t), nil, Config{}, nil)
	svc.running = true
	_, err := svc.Populate(context.Background())
	assert.ErrorIs(t, err, ErrBusy)
}
