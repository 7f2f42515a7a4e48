package signals

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// HeadlineSummary is the cacheable part of a risk signal.
type HeadlineSummary struct {
	Score     float64 `json:"score"`
	Headlines int     `json:"headlines"`
	Earnings  bool    `json:"earnings"`
}

// Cache stores headline summaries per ticker and day.
type Cache interface {
	Get(ctx context.Context, ticker string, date time.Time) (HeadlineSummary, bool, error)
	Set(ctx context.Context, ticker string, date time.Time, s HeadlineSummary) error
}

// RedisCache keeps summaries in Redis with a TTL.
type RedisCache struct {
	cli    redis.Cmdable
	ttl    time.Duration
	prefix string
}

// RedisOptions configure the cache client.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// NewRedisClient opens a go-redis client.
func NewRedisClient(opts RedisOptions) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: opts.Addr, Password: opts.Password, DB: opts.DB})
}

// NewRedisCache wraps a Redis client.
func NewRedisCache(cli redis.Cmdable, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &RedisCache{cli: cli, ttl: ttl, prefix: "pricecast:headlines:"}
}

func (c *RedisCache) key(ticker string, date time.Time) string {
	return c.prefix + ticker + ":" + date.Format(time.DateOnly)
}

func (c *RedisCache) Get(ctx context.Context, ticker string, date time.Time) (HeadlineSummary, bool, error) {
	b, err := c.cli.Get(ctx, c.key(ticker, date)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return HeadlineSummary{}, false, nil
		}
		return HeadlineSummary{}, false, fmt.Errorf("redis get: %w", err)
	}
	var s HeadlineSummary
	if err := json.Unmarshal(b, &s); err != nil {
		return HeadlineSummary{}, false, fmt.Errorf("decode cached summary: %w", err)
	}
	return s, true, nil
}

func (c *RedisCache) Set(ctx context.Context, ticker string, date time.Time, s HeadlineSummary) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	if err := c.cli.Set(ctx, c.key(ticker, date), b, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

var _ Cache = (*RedisCache)(nil)
