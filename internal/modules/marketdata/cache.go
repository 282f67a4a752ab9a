package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aristath/symphony/internal/domain"
	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// DefaultCacheTTL is how long a cached bar window stays valid.
const DefaultCacheTTL = 6 * time.Hour

// RedisCache is a read-through cache in front of another BarProvider. Cache
// failures are logged and fall through to the backing provider.
type RedisCache struct {
	client   *goredis.Client
	backing  domain.BarProvider
	ttl      time.Duration
	prefix   string
	requests *prometheus.CounterVec
	log      zerolog.Logger
}

// CacheConfig configures RedisCache.
type CacheConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
	Prefix   string
}

// NewRedisCache connects to Redis and pings it. requests may be nil; when set
// it is incremented with result=hit|miss|error.
func NewRedisCache(cfg CacheConfig, backing domain.BarProvider, requests *prometheus.CounterVec, log zerolog.Logger) (*RedisCache, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCacheTTL
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "symphony:bars"
	}

	return &RedisCache{
		client:   client,
		backing:  backing,
		ttl:      cfg.TTL,
		prefix:   cfg.Prefix,
		requests: requests,
		log:      log.With().Str("component", "bar_cache").Str("addr", cfg.Addr).Logger(),
	}, nil
}

func (c *RedisCache) key(symbol string, asOf time.Time, lookback int) string {
	return fmt.Sprintf("%s:%s:%s:%d", c.prefix, symbol, asOf.UTC().Format(DateLayout), lookback)
}

func (c *RedisCache) count(result string) {
	if c.requests != nil {
		c.requests.WithLabelValues(result).Inc()
	}
}

// GetBars implements domain.BarProvider.
func (c *RedisCache) GetBars(ctx context.Context, symbol string, asOf time.Time, lookback int) ([]domain.Bar, error) {
	key := c.key(symbol, asOf, lookback)

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var bars []domain.Bar
		if jerr := json.Unmarshal(raw, &bars); jerr == nil {
			c.count("hit")
			return bars, nil
		}
		c.log.Warn().Str("key", key).Msg("Discarding undecodable cache entry")
		c.count("error")
	case err == goredis.Nil:
		c.count("miss")
	default:
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.log.Warn().Err(err).Str("key", key).Msg("Bar cache read failed")
		c.count("error")
	}

	bars, err := c.backing.GetBars(ctx, symbol, asOf, lookback)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(bars)
	if err != nil {
		return bars, nil
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Bar cache write failed")
	}
	return bars, nil
}

// Invalidate drops every cached window for symbol. Call it after new bars
// are imported.
func (c *RedisCache) Invalidate(ctx context.Context, symbol string) error {
	iter := c.client.Scan(ctx, 0, fmt.Sprintf("%s:%s:*", c.prefix, symbol), 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys for %s: %w", symbol, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cache for %s: %w", symbol, err)
	}
	return nil
}

// Close closes the Redis client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
