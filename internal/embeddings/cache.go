package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheTTL = 30 * 24 * time.Hour

// Cache stores computed vectors so unchanged products skip the model on the next run.
type Cache interface {
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Set(ctx context.Context, key string, vec []float32) error
}

// CacheKey is versioned by model so switching models never serves stale vectors.
func CacheKey(kind, model, input string) string {
	sum := sha256.Sum256([]byte(input))
	return "emb:v1:" + kind + ":" + model + ":" + hex.EncodeToString(sum[:])
}

type RedisCache struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewRedisCache(redisURL string) *RedisCache {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		// plain host:port, as in REDIS_URL=localhost:6379
		opts = &redis.Options{Addr: redisURL}
	}
	return &RedisCache{Client: redis.NewClient(opts), TTL: cacheTTL}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	val, err := c.Client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var vec []float32
	if err := json.Unmarshal(val, &vec); err != nil {
		return nil, false, err
	}
	return vec, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, vec []float32) error {
	b, err := json.Marshal(vec)
	if err != nil {
		return err
	}
	return c.Client.Set(ctx, key, b, c.TTL).Err()
}

func (c *RedisCache) Close() error {
	return c.Client.Close()
}
