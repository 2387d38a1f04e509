package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rjmoor/AI-ForXBot/internal/breaker"
	"github.com/rjmoor/AI-ForXBot/internal/model"
)

func TestKeyLayout(t *testing.T) {
	assert.Equal(t, "series:D:EUR_USD", seriesKey("EUR_USD", "D"))
	assert.Equal(t, "state:latest:EUR_USD", stateKey("EUR_USD"))
	assert.Equal(t, "state:stream:EUR_USD", stateStreamKey("EUR_USD"))
	assert.Equal(t, "pub:state:EUR_USD", stateChannel("EUR_USD"))
}

type countingSource struct {
	calls  int
	series *model.Series
	err    error
}

func (c *countingSource) Fetch(context.Context, string, string) (*model.Series, error) {
	c.calls++
	return c.series, c.err
}

// An unreachable Redis must not break reads: the cache degrades to the
// underlying source.
func TestCachedSource_DegradesWithoutRedis(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close()
	s := NewWithClient(client, time.Minute, breaker.New("redis-test", 1, time.Hour))

	bars := []model.Bar{{Time: time.Unix(0, 0).UTC(), Close: 1}}
	src := &countingSource{series: model.NewSeries("EUR_USD", "D", bars)}
	got, err := s.CachedSource(src).Fetch(context.Background(), "EUR_USD", "D")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Len())
	assert.Equal(t, 1, src.calls)

	src.err = &model.DataUnavailableError{Instrument: "EUR_USD", Granularity: "D"}
	_, err = s.CachedSource(src).Fetch(context.Background(), "EUR_USD", "D")
	var due *model.DataUnavailableError
	assert.True(t, errors.As(err, &due))
}

// liveStore connects to FORXBOT_TEST_REDIS_ADDR or skips.
func liveStore(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("FORXBOT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("FORXBOT_TEST_REDIS_ADDR not set")
	}
	s, err := New(Config{Addr: addr, DB: 15, CacheTTL: time.Minute}, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		s.client.FlushDB(context.Background())
		s.Close()
	})
	return s
}

func TestConsume_LatestAndHistory(t *testing.T) {
	s := liveStore(t)
	ctx := context.Background()

	for i, state := range []model.State{model.StateRed, model.StateGreen} {
		r := model.Report{
			RunID:       "run-" + string(rune('a'+i)),
			Instrument:  "EUR_USD",
			EvaluatedAt: time.Date(2024, 1, 1, i, 0, 0, 0, time.UTC),
			States:      map[model.Tier]model.State{model.TierDaily: state},
		}
		require.NoError(t, s.Consume(ctx, r))
	}

	latest, err := s.LatestReport(ctx, "EUR_USD")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, model.StateGreen, latest.States[model.TierDaily])

	hist, err := s.History(ctx, "EUR_USD", 10)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "run-b", hist[0].RunID)

	none, err := s.LatestReport(ctx, "USD_CHF")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestCachedSource_ServesFromCache(t *testing.T) {
	s := liveStore(t)
	ctx := context.Background()
	bars := []model.Bar{
		{Time: time.Unix(60, 0).UTC(), Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: model.Vol(10)},
		{Time: time.Unix(120, 0).UTC(), Open: 1.5, High: 2, Low: 1, Close: 1.8, Volume: model.Vol(12)},
	}
	src := &countingSource{series: model.NewSeries("EUR_USD", "M1", bars)}
	cached := s.CachedSource(src)

	for i := 0; i < 3; i++ {
		got, err := cached.Fetch(ctx, "EUR_USD", "M1")
		require.NoError(t, err)
		assert.Equal(t, bars, got.Bars())
	}
	assert.Equal(t, 1, src.calls)

	require.NoError(t, s.Invalidate(ctx, "EUR_USD", "M1"))
	_, err := cached.Fetch(ctx, "EUR_USD", "M1")
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}
