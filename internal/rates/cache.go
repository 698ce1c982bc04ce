package rates

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"ordermod-billing/internal/domain"
)

// QuoteCache stores normalized quotes keyed by shipment parameters so
// re-pricing the same proposal does not hit the carrier again.
type QuoteCache interface {
	Get(ctx context.Context, key string) (*domain.RateQuote, bool, error)
	Set(ctx context.Context, key string, quote *domain.RateQuote, ttl time.Duration) error
}

// NoopQuoteCache satisfies QuoteCache without caching anything.
type NoopQuoteCache struct{}

func (NoopQuoteCache) Get(_ context.Context, _ string) (*domain.RateQuote, bool, error) {
	return nil, false, nil
}

func (NoopQuoteCache) Set(_ context.Context, _ string, _ *domain.RateQuote, _ time.Duration) error {
	return nil
}

// RedisQuoteCache keeps quotes in Redis as JSON payloads.
type RedisQuoteCache struct {
	client *redis.Client
}

func NewRedisQuoteCache(addr, password string, db int) *RedisQuoteCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisQuoteCache{client: client}
}

func (c *RedisQuoteCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisQuoteCache) Close() error {
	return c.client.Close()
}

func (c *RedisQuoteCache) Get(ctx context.Context, key string) (*domain.RateQuote, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var quote domain.RateQuote
	if err := json.Unmarshal([]byte(val), &quote); err != nil {
		return nil, false, err
	}
	return &quote, true, nil
}

func (c *RedisQuoteCache) Set(ctx context.Context, key string, quote *domain.RateQuote, ttl time.Duration) error {
	if quote == nil {
		return nil
	}
	payload, err := json.Marshal(quote)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}
