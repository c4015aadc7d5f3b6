package llm

import (
	"context"

	"go.uber.org/zap"

	"github.com/shubhsaxena/recipe-finder/internal/cache"
)

// CompletionStore persists completions across processes; cache.RedisCache
// implements it.
type CompletionStore interface {
	GetCompletion(ctx context.Context, key string) (string, bool, error)
	SetCompletion(ctx context.Context, key, completion string) error
}

// CachedClient answers repeated prompts from a CompletionStore and only
// calls the wrapped client on a miss. Store errors are logged and ignored.
type CachedClient struct {
	CompletionClient
	store  CompletionStore
	logger *zap.Logger
}

func NewCachedClient(inner CompletionClient, store CompletionStore, logger *zap.Logger) *CachedClient {
	return &CachedClient{
		CompletionClient: inner,
		store:            store,
		logger:           logger,
	}
}

func (c *CachedClient) GenerateCompletion(ctx context.Context, prompt string, opts CompletionOptions) (string, error) {
	key := cache.CompletionKey(c.Model(), prompt, opts.Temperature, opts.MaxTokens, opts.TopP)

	if out, ok, err := c.store.GetCompletion(ctx, key); err != nil {
		c.logger.Warn("completion cache read failed", zap.Error(err))
	} else if ok {
		return out, nil
	}

	out, err := c.CompletionClient.GenerateCompletion(ctx, prompt, opts)
	if err != nil {
		return "", err
	}

	if err := c.store.SetCompletion(ctx, key, out); err != nil {
		c.logger.Warn("completion cache write failed", zap.Error(err))
	}
	return out, nil
}
