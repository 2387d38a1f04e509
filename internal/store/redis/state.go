package redis

import (
	"context"
	"fmt"
	"log"

	goredis "github.com/go-redis/redis/v8"
	json "github.com/goccy/go-json"

	"github.com/rjmoor/AI-ForXBot/internal/model"
)

// Consume stores a report as the instrument's latest state, appends it to
// the instrument's state stream and publishes it, in one pipeline.
func (s *Store) Consume(ctx context.Context, report model.Report) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	payload := string(data)

	return s.breaker.Execute(ctx, func(ctx context.Context) error {
		pipe := s.client.Pipeline()
		pipe.Set(ctx, stateKey(report.Instrument), payload, 0)
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: stateStreamKey(report.Instrument),
			MaxLen: stateStreamMaxLen,
			Approx: true,
			Values: map[string]interface{}{"data": payload},
		})
		pipe.Publish(ctx, stateChannel(report.Instrument), payload)
		if _, err := pipe.Exec(ctx); err != nil {
			log.Printf("[redis] state pipeline error for %s: %v", report.Instrument, err)
			return err
		}
		return nil
	})
}

// LatestReport returns the last stored report for instrument, or nil.
func (s *Store) LatestReport(ctx context.Context, instrument string) (*model.Report, error) {
	data, err := s.client.Get(ctx, stateKey(instrument)).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET %s: %w", stateKey(instrument), err)
	}
	var r model.Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &r, nil
}

// History returns up to n past reports for instrument, newest first.
func (s *Store) History(ctx context.Context, instrument string, n int64) ([]model.Report, error) {
	msgs, err := s.client.XRevRangeN(ctx, stateStreamKey(instrument), "+", "-", n).Result()
	if err != nil {
		return nil, fmt.Errorf("redis XREVRANGE %s: %w", stateStreamKey(instrument), err)
	}
	out := make([]model.Report, 0, len(msgs))
	for _, m := range msgs {
		raw, ok := m.Values["data"].(string)
		if !ok {
			continue
		}
		var r model.Report
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			log.Printf("[redis] skip undecodable state %s: %v", m.ID, err)
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// SubscribeReports forwards every published report to out until ctx ends.
// Slow receivers drop reports rather than block the subscription.
func (s *Store) SubscribeReports(ctx context.Context, out chan<- model.Report) error {
	pubsub := s.client.PSubscribe(ctx, stateChannelPattern)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("redis psubscribe: %w", err)
	}
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var r model.Report
			if err := json.Unmarshal([]byte(msg.Payload), &r); err != nil {
				log.Printf("[redis] bad payload on %s: %v", msg.Channel, err)
				continue
			}
			select {
			case out <- r:
			default:
			}
		}
	}
}
