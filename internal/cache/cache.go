package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jekabolt/sales-rollup/internal/dependency"
	"github.com/jekabolt/sales-rollup/internal/dto"
	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned when no response is cached for a range.
var ErrCacheMiss = errors.New("cache miss")

const keyPrefix = "rollup"

type Config struct {
	Enabled bool          `mapstructure:"enabled"`
	URL     string        `mapstructure:"url"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// DefaultConfig returns default configuration values.
func DefaultConfig() Config {
	return Config{
		Enabled: false,
		URL:     "localhost:6379",
		TTL:     10 * time.Minute,
	}
}

// Connect initializes a Redis client from a redis:// URL or host:port.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	var opt *redis.Options
	if strings.HasPrefix(url, "redis://") || strings.HasPrefix(url, "rediss://") {
		var err error
		opt, err = redis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
	} else {
		opt = &redis.Options{Addr: url}
	}
	cli := redis.NewClient(opt)
	if err := cli.Ping(ctx).Err(); err != nil {
		cli.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return cli, nil
}

// RedisCache stores reconciliation responses keyed by account and date range.
type RedisCache struct {
	cli *redis.Client
	ttl time.Duration
}

// New returns a Redis backed cache, or a no-op cache when disabled.
func New(ctx context.Context, c *Config) (dependency.ResultCache, error) {
	if !c.Enabled {
		slog.Default().InfoContext(ctx, "result cache disabled")
		return Noop{}, nil
	}
	cli, err := Connect(ctx, c.URL)
	if err != nil {
		return nil, err
	}
	return NewRedisCache(cli, c.TTL), nil
}

func NewRedisCache(cli *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultConfig().TTL
	}
	return &RedisCache{cli: cli, ttl: ttl}
}

// Key returns the cache key of an account's date range.
func Key(accountId, startDate, endDate string) string {
	return fmt.Sprintf("%s:%s:%s:%s", keyPrefix, accountId, startDate, endDate)
}

func (rc *RedisCache) Get(ctx context.Context, accountId, startDate, endDate string) (*dto.ReconciliationResponse, error) {
	raw, err := rc.cli.Get(ctx, Key(accountId, startDate, endDate)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var resp dto.ReconciliationResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode cached response: %w", err)
	}
	return &resp, nil
}

func (rc *RedisCache) Set(ctx context.Context, resp *dto.ReconciliationResponse) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	return rc.cli.Set(ctx, Key(resp.AccountId, resp.StartDate, resp.EndDate), raw, rc.ttl).Err()
}

func (rc *RedisCache) Close() error {
	return rc.cli.Close()
}

// Noop never holds anything.
type Noop struct{}

func (Noop) Get(context.Context, string, string, string) (*dto.ReconciliationResponse, error) {
	return nil, ErrCacheMiss
}

func (Noop) Set(context.Context, *dto.ReconciliationResponse) error { return nil }

func (Noop) Close() error { return nil }
