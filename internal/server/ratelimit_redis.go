package server

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindow trims the sorted set to the window, then admits the request
// if fewer than limit members remain. Scores are unix milliseconds.
var slidingWindow = redis.NewScript(`
local key    = KEYS[1]
local now    = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit  = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
  return {0, 0}
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return {1, limit - count - 1}
`)

// RedisLimiter keeps one sorted set of request times per key, so every
// replica sees the same window.
type RedisLimiter struct {
	client  redis.Scripter
	prefix  string
	rate    int
	window  time.Duration
	now     func() time.Time
	breaker *circuitBreaker
}

// NewRedisLimiter builds a limiter whose keys live under prefix.
func NewRedisLimiter(client redis.Scripter, prefix string, rate int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client:  client,
		prefix:  prefix,
		rate:    rate,
		window:  window,
		now:     time.Now,
		breaker: newCircuitBreaker(5, 30*time.Second),
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	var res []int64
	err := l.breaker.Execute(func() error {
		var err error
		res, err = slidingWindow.Run(ctx, l.client,
			[]string{l.prefix + key},
			l.now().UnixMilli(), l.window.Milliseconds(), l.rate, uuid.NewString(),
		).Int64Slice()
		return err
	})
	if err != nil {
		return Decision{}, fmt.Errorf("redis limiter: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("redis limiter: unexpected reply %v", res)
	}
	return Decision{
		Allowed:   res[0] == 1,
		Limit:     l.rate,
		Remaining: int(res[1]),
	}, nil
}

// RedisPinger reports the rate-limit store on /health.
func RedisPinger(rdb redis.Cmdable) Pinger {
	return PingFunc(func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
}

// NewRedisClient opens a client for the rate-limit store and pings it.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}
