// Package llm talks to the language model that turns free-text recipe
// queries into structured intents. Every backend implements CompletionClient
// and shares timeout, retry and provisioning behavior through caller.
package llm

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/shubhsaxena/recipe-finder/internal/config"
)

var (
	ErrConnectionRefused = errors.New("llm: connection refused")
	ErrTimeout           = errors.New("llm: request timed out")
	ErrMemoryExceeded    = errors.New("llm: model memory exceeded")
	ErrUnavailable       = errors.New("llm: model unavailable")
)

type CompletionOptions struct {
	Temperature float64
	MaxTokens   int
	TopP        float64
}

// CompletionClient is a language model backend. A nil error from
// GenerateCompletion is the only success signal; the returned text is never
// inspected for failure markers.
type CompletionClient interface {
	GenerateCompletion(ctx context.Context, prompt string, opts CompletionOptions) (string, error)
	HealthCheck(ctx context.Context) bool
	EnsureModelAvailable(ctx context.Context) bool
	SetModel(name string)
	Model() string
}

// OptionsFromConfig returns the default sampling options for completions.
func OptionsFromConfig(cfg config.LLMConfig) CompletionOptions {
	return CompletionOptions{
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		TopP:        cfg.TopP,
	}
}

// New builds the adapter selected by cfg.Provider.
func New(cfg config.LLMConfig, logger *zap.Logger) (CompletionClient, error) {
	switch cfg.Provider {
	case "ollama":
		return NewOllamaClient(cfg, logger), nil
	case "openai":
		return NewOpenAIClient(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
