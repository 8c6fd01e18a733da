// Package cache wraps the shared Redis store that holds authoritative room
// state and carries the room event bus.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/quillapp/quill-server/internal/logging"
	"github.com/quillapp/quill-server/internal/metrics"
)

// ErrNotFound names a missing key. Get does not return it; Get reports a
// missing key through its bool result.
var ErrNotFound = errors.New("cache: key not found")

// Client wraps a Redis connection with a circuit breaker for graceful
// degradation under sustained Redis failures.
type Client struct {
	rdb *redis.Client
	cb  *gobreaker.CircuitBreaker
}

// NewClient dials Redis and verifies connectivity before returning.
func NewClient(addr, password string) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "cache",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("cache").Set(stateVal)
		},
	}

	logging.Info(context.Background(), "connected to cache", zap.String("addr", addr))
	return &Client{rdb: rdb, cb: gobreaker.NewCircuitBreaker(st)}, nil
}

// Raw exposes the underlying client for callers that need redis-specific APIs
// (e.g. Subscribe, which returns a long-lived *redis.PubSub the caller owns).
func (c *Client) Raw() *redis.Client {
	if c == nil {
		return nil
	}
	return c.rdb
}

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.cb.Execute(func() (any, error) {
		return nil, c.rdb.Ping(ctx).Err()
	})
	return c.recordBreaker("ping", err)
}

func (c *Client) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

// Get returns the value, whether it was present, and any error.
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	type result struct {
		value string
		found bool
	}
	res, err := c.cb.Execute(func() (any, error) {
		v, err := c.rdb.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return result{}, nil
		}
		if err != nil {
			return result{}, err
		}
		return result{value: v, found: true}, nil
	})
	if err != nil {
		return "", false, c.recordBreaker("get", err)
	}
	r := res.(result)
	return r.value, r.found, nil
}

// Set writes a string value, with an optional TTL (0 disables expiry).
func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := c.cb.Execute(func() (any, error) {
		return nil, c.rdb.Set(ctx, key, value, ttl).Err()
	})
	return c.recordBreaker("set", err)
}

// Del removes one or more keys. Missing keys are not an error.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := c.cb.Execute(func() (any, error) {
		return nil, c.rdb.Del(ctx, keys...).Err()
	})
	return c.recordBreaker("del", err)
}

// RPush appends a value to the tail of a list.
func (c *Client) RPush(ctx context.Context, key, value string) error {
	_, err := c.cb.Execute(func() (any, error) {
		return nil, c.rdb.RPush(ctx, key, value).Err()
	})
	return c.recordBreaker("rpush", err)
}

// LRange returns the full contents of a list, in order.
func (c *Client) LRange(ctx context.Context, key string) ([]string, error) {
	res, err := c.cb.Execute(func() (any, error) {
		return c.rdb.LRange(ctx, key, 0, -1).Result()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("cache").Inc()
			return nil, nil
		}
		return nil, fmt.Errorf("lrange %s: %w", key, err)
	}
	return res.([]string), nil
}

// LRem removes up to one matching entry from a list; returns the number removed.
func (c *Client) LRem(ctx context.Context, key, value string) (int64, error) {
	res, err := c.cb.Execute(func() (any, error) {
		return c.rdb.LRem(ctx, key, 1, value).Result()
	})
	if err != nil {
		return 0, c.recordBreaker("lrem", err)
	}
	return res.(int64), nil
}

// LPos reports whether value is present in the list at key.
func (c *Client) LPos(ctx context.Context, key, value string) (bool, error) {
	res, err := c.cb.Execute(func() (any, error) {
		pos, err := c.rdb.LPos(ctx, key, value, redis.LPosArgs{}).Result()
		if errors.Is(err, redis.Nil) {
			return int64(-1), nil
		}
		return pos, err
	})
	if err != nil {
		return false, c.recordBreaker("lpos", err)
	}
	return res.(int64) >= 0, nil
}

// SAdd adds a member to a set.
func (c *Client) SAdd(ctx context.Context, key, member string) error {
	_, err := c.cb.Execute(func() (any, error) {
		return nil, c.rdb.SAdd(ctx, key, member).Err()
	})
	return c.recordBreaker("sadd", err)
}

// SCard reports the cardinality of a set.
func (c *Client) SCard(ctx context.Context, key string) (int64, error) {
	res, err := c.cb.Execute(func() (any, error) {
		return c.rdb.SCard(ctx, key).Result()
	})
	if err != nil {
		return 0, c.recordBreaker("scard", err)
	}
	return res.(int64), nil
}

// SIsMember reports whether member belongs to the set at key.
func (c *Client) SIsMember(ctx context.Context, key, member string) (bool, error) {
	res, err := c.cb.Execute(func() (any, error) {
		return c.rdb.SIsMember(ctx, key, member).Result()
	})
	if err != nil {
		return false, c.recordBreaker("sismember", err)
	}
	return res.(bool), nil
}

// Publish broadcasts a raw JSON payload on a channel.
func (c *Client) Publish(ctx context.Context, channel, payload string) error {
	_, err := c.cb.Execute(func() (any, error) {
		return nil, c.rdb.Publish(ctx, channel, payload).Err()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("cache").Inc()
			logging.Warn(ctx, "cache circuit breaker open, dropping publish", zap.String("channel", channel))
			return nil
		}
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// SubscribeWithRetry subscribes to a channel, retrying transient connection
// failures up to maxAttempts times with no backoff before giving up.
func SubscribeWithRetry(ctx context.Context, c *Client, channel string, maxAttempts int) (*redis.PubSub, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		sub := c.rdb.Subscribe(ctx, channel)
		if _, err := sub.Receive(ctx); err != nil {
			lastErr = err
			_ = sub.Close()
			continue
		}
		return sub, nil
	}
	return nil, fmt.Errorf("subscribe to %s after %d attempts: %w", channel, maxAttempts, lastErr)
}

func (c *Client) recordBreaker(op string, err error) error {
	if err == nil {
		metrics.CacheOperationsTotal.WithLabelValues(op, "success").Inc()
		return nil
	}
	if err == gobreaker.ErrOpenState {
		metrics.CircuitBreakerFailures.WithLabelValues("cache").Inc()
		metrics.CacheOperationsTotal.WithLabelValues(op, "breaker_open").Inc()
		return err
	}
	metrics.CacheOperationsTotal.WithLabelValues(op, "error").Inc()
	return fmt.Errorf("cache %s: %w", op, err)
}
