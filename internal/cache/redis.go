package cache

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shubhsaxena/recipe-finder/internal/config"
	"github.com/shubhsaxena/recipe-finder/internal/observability"
)

// RedisCache stores language model completions keyed by model, prompt and
// sampling parameters, so identical prompts across instances skip the model.
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisCache(cfg config.RedisConfig, logger *zap.Logger) (*RedisCache, error) {
	var client redis.UniversalClient

	if len(cfg.Addresses) > 1 {
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        cfg.Addresses,
			Password:     cfg.Password,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr:         cfg.Addresses[0],
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Info("redis completion cache connected", zap.Strings("addresses", cfg.Addresses))

	return &RedisCache{
		client: client,
		ttl:    cfg.CompletionTTL,
		logger: logger,
	}, nil
}

// GetCompletion returns the cached completion for key. A miss is ("", false, nil).
func (rc *RedisCache) GetCompletion(ctx context.Context, key string) (string, bool, error) {
	val, err := rc.client.Get(ctx, key).Result()
	if err == redis.Nil {
		observability.CompletionCacheMisses.Inc()
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache get completion: %w", err)
	}
	observability.CompletionCacheHits.Inc()
	return val, true, nil
}

func (rc *RedisCache) SetCompletion(ctx context.Context, key, completion string) error {
	if err := rc.client.Set(ctx, key, completion, rc.ttl).Err(); err != nil {
		return fmt.Errorf("cache set completion: %w", err)
	}
	return nil
}

func (rc *RedisCache) HealthCheck(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

func (rc *RedisCache) Close() error {
	return rc.client.Close()
}

// CompletionKey builds the cache key for a completion request.
func CompletionKey(model, prompt string, temperature float64, maxTokens int, topP float64) string {
	raw := fmt.Sprintf("%s:%.3f:%d:%.3f:%s", model, temperature, maxTokens, topP, prompt)
	return fmt.Sprintf("llm:%s:%s", model, hashString(raw))
}

func hashString(s string) string {
	h := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", h[:8])
}
