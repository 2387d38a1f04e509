// Package redis caches bar series and fans classification reports out over
// Redis keys, streams and Pub/Sub.
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/rjmoor/AI-ForXBot/internal/breaker"
)

const (
	defaultCacheTTL = 5 * time.Minute
	// Per-instrument state history length (approximate trim).
	stateStreamMaxLen = 5000
)

// Config configures the Redis store.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
	CacheTTL time.Duration // series cache lifetime
}

// Store wraps a Redis client. Writes go through a circuit breaker so a dead
// Redis does not stall analysis runs.
type Store struct {
	client  *goredis.Client
	ttl     time.Duration
	breaker *breaker.Breaker
}

// New creates a Store and pings the server.
func New(cfg Config, cb *breaker.Breaker) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return NewWithClient(client, cfg.CacheTTL, cb), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *goredis.Client, ttl time.Duration, cb *breaker.Breaker) *Store {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if cb == nil {
		cb = breaker.New("redis", 5, 10*time.Second)
	}
	return &Store{client: client, ttl: ttl, breaker: cb}
}

// Client returns the underlying Redis client for health checks.
func (s *Store) Client() *goredis.Client { return s.client }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

// Close closes the Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Key layout.
func seriesKey(instrument, granularity string) string {
	return "series:" + granularity + ":" + instrument
}

func stateKey(instrument string) string { return "state:latest:" + instrument }

func stateStreamKey(instrument string) string { return "state:stream:" + instrument }

func stateChannel(instrument string) string { return "pub:state:" + instrument }

const stateChannelPattern = "pub:state:*"
