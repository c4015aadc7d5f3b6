package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"go.uber.org/zap"

	"github.com/shubhsaxena/recipe-finder/internal/config"
)

// OpenAIClient serves completions from an OpenAI-compatible endpoint, such
// as a llama.cpp, LM Studio or vLLM server. These servers cannot pull models,
// so a missing model is reported as unavailable.
type OpenAIClient struct {
	*caller
	client *openai.Client
}

func NewOpenAIClient(cfg config.LLMConfig, logger *zap.Logger) *OpenAIClient {
	opts := []option.RequestOption{
		// Retries are driven by caller so backoff and breaker accounting stay in one place.
		option.WithMaxRetries(0),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	} else {
		opts = append(opts, option.WithAPIKey("local"))
	}
	if cfg.BaseURL != "" {
		base := cfg.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		opts = append(opts, option.WithBaseURL(base))
	}
	client := openai.NewClient(opts...)

	logger.Info("openai-compatible client initialized",
		zap.String("base_url", cfg.BaseURL),
		zap.String("model", cfg.Model),
	)

	return &OpenAIClient{
		caller: newCaller("openai", cfg, logger),
		client: &client,
	}
}

func (c *OpenAIClient) GenerateCompletion(ctx context.Context, prompt string, opts CompletionOptions) (string, error) {
	return c.complete(ctx, prompt, opts, c.chat)
}

func (c *OpenAIClient) HealthCheck(ctx context.Context) bool {
	return c.health(ctx, func(ctx context.Context) error {
		_, err := c.client.Models.List(ctx)
		return err
	})
}

func (c *OpenAIClient) EnsureModelAvailable(ctx context.Context) bool {
	return c.ensureModel(ctx, c.resident, func(_ context.Context, model string) error {
		return fmt.Errorf("%w: %s is not loaded and this server cannot pull models", ErrUnavailable, model)
	})
}

func (c *OpenAIClient) chat(ctx context.Context, model, prompt string, opts CompletionOptions) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Temperature: param.NewOpt(opts.Temperature),
	}
	if opts.TopP > 0 {
		params.TopP = param.NewOpt(opts.TopP)
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(opts.MaxTokens))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", apiError(err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) resident(ctx context.Context, model string) (bool, error) {
	_, err := c.client.Models.Get(ctx, model)
	if err == nil {
		return true, nil
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return false, nil
	}
	return false, err
}

func apiError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusNotFound, http.StatusServiceUnavailable:
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
	}
	return classify(err)
}
