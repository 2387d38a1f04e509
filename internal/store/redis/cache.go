package redis

import (
	"context"
	"log"

	goredis "github.com/go-redis/redis/v8"
	json "github.com/goccy/go-json"

	"github.com/rjmoor/AI-ForXBot/internal/model"
)

// cachedBars is the cached form of a series.
type cachedBars struct {
	Instrument  string      `json:"instrument"`
	Granularity string      `json:"granularity"`
	Bars        []model.Bar `json:"bars"`
}

// CachedSource returns a DataSource that serves series from Redis and falls
// back to next on a miss, caching what next returns. Redis failures degrade
// to plain pass-through.
func (s *Store) CachedSource(next model.DataSource) model.DataSource {
	return &cachedSource{store: s, next: next}
}

type cachedSource struct {
	store *Store
	next  model.DataSource
}

func (c *cachedSource) Fetch(ctx context.Context, instrument, granularity string) (*model.Series, error) {
	key := seriesKey(instrument, granularity)

	var hit *model.Series
	err := c.store.breaker.Execute(ctx, func(ctx context.Context) error {
		data, err := c.store.client.Get(ctx, key).Bytes()
		if err == goredis.Nil {
			return nil
		}
		if err != nil {
			return err
		}
		var cb cachedBars
		if err := json.Unmarshal(data, &cb); err != nil {
			log.Printf("[redis] discarding corrupt cache entry %s: %v", key, err)
			return nil
		}
		hit = model.NewSeries(cb.Instrument, cb.Granularity, cb.Bars)
		return nil
	})
	if err != nil {
		log.Printf("[redis] cache read %s: %v", key, err)
	}
	if hit != nil && hit.Len() > 0 {
		return hit, nil
	}

	series, err := c.next.Fetch(ctx, instrument, granularity)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(cachedBars{Instrument: instrument, Granularity: granularity, Bars: series.Bars()})
	if err == nil {
		err = c.store.breaker.Execute(ctx, func(ctx context.Context) error {
			return c.store.client.Set(ctx, key, data, c.store.ttl).Err()
		})
	}
	if err != nil {
		log.Printf("[redis] cache write %s: %v", key, err)
	}
	return series, nil
}

// Invalidate drops the cached series for a pair, e.g. after new bars land.
func (s *Store) Invalidate(ctx context.Context, instrument, granularity string) error {
	return s.client.Del(ctx, seriesKey(instrument, granularity)).Err()
}
