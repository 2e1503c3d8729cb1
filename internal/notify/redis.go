package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient abstracts the Redis connection.
type RedisClient interface {
	Pipeline() redis.Pipeliner
	Close() error
}

// RedisSink publishes each alert on limitwatch.alerts.<symbol> and keeps
// the latest alert per row under limitwatch:alert:<view>:<symbol>.
type RedisSink struct {
	rdb RedisClient
	ttl time.Duration
}

// NewRedisSink connects to the Redis server at addr.
func NewRedisSink(addr string, db int, ttl time.Duration) *RedisSink {
	return NewRedisSinkClient(redis.NewClient(&redis.Options{Addr: addr, DB: db}), ttl)
}

// NewRedisSinkClient wraps an existing client.
func NewRedisSinkClient(rdb RedisClient, ttl time.Duration) *RedisSink {
	return &RedisSink{rdb: rdb, ttl: ttl}
}

// Channel returns the pub/sub channel for symbol.
func Channel(symbol string) string { return "limitwatch.alerts." + symbol }

// Key returns the key holding the latest alert of a row.
func Key(view, symbol string) string { return fmt.Sprintf("limitwatch:alert:%s:%s", view, symbol) }

// Name implements Sink.
func (s *RedisSink) Name() string { return "redis" }

// Send implements Sink. SET and PUBLISH run in one pipeline.
func (s *RedisSink) Send(ctx context.Context, a Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return err
	}
	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, Key(a.View, a.Symbol), payload, s.ttl)
	pipe.Publish(ctx, Channel(a.Symbol), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

// Close implements Sink.
func (s *RedisSink) Close() error { return s.rdb.Close() }
