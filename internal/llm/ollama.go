package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/shubhsaxena/recipe-finder/internal/config"
)

// OllamaClient serves completions from a local Ollama daemon.
type OllamaClient struct {
	*caller
	baseURL string
	http    *http.Client
}

func NewOllamaClient(cfg config.LLMConfig, logger *zap.Logger) *OllamaClient {
	c := &OllamaClient{
		caller:  newCaller("ollama", cfg, logger),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{},
	}
	logger.Info("ollama client initialized",
		zap.String("base_url", c.baseURL),
		zap.String("model", cfg.Model),
		zap.Duration("timeout", c.requestTimeout),
	)
	return c
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

type ollamaPullRequest struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

type ollamaPullResponse struct {
	Status string `json:"status"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	} `json:"models"`
}

type ollamaError struct {
	Error string `json:"error"`
}

func (c *OllamaClient) GenerateCompletion(ctx context.Context, prompt string, opts CompletionOptions) (string, error) {
	return c.complete(ctx, prompt, opts, c.generate)
}

func (c *OllamaClient) HealthCheck(ctx context.Context) bool {
	return c.health(ctx, func(ctx context.Context) error {
		_, err := c.tags(ctx)
		return err
	})
}

func (c *OllamaClient) EnsureModelAvailable(ctx context.Context) bool {
	return c.ensureModel(ctx, c.resident, c.pull)
}

func (c *OllamaClient) generate(ctx context.Context, model, prompt string, opts CompletionOptions) (string, error) {
	body := ollamaGenerateRequest{
		Model:  model,
		Prompt: prompt,
		Stream: false,
		Options: map[string]any{
			"temperature": opts.Temperature,
			"top_p":       opts.TopP,
		},
	}
	if opts.MaxTokens > 0 {
		body.Options["num_predict"] = opts.MaxTokens
	}

	var resp ollamaGenerateResponse
	if err := c.post(ctx, "/api/generate", body, &resp); err != nil {
		return "", err
	}
	return resp.Response, nil
}

func (c *OllamaClient) tags(ctx context.Context) (*ollamaTagsResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("creating tags request: %w", err)
	}
	var out ollamaTagsResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *OllamaClient) resident(ctx context.Context, model string) (bool, error) {
	tags, err := c.tags(ctx)
	if err != nil {
		return false, err
	}
	for _, m := range tags.Models {
		if sameModel(m.Name, model) || sameModel(m.Model, model) {
			return true, nil
		}
	}
	return false, nil
}

func (c *OllamaClient) pull(ctx context.Context, model string) error {
	var resp ollamaPullResponse
	if err := c.post(ctx, "/api/pull", ollamaPullRequest{Model: model, Stream: false}, &resp); err != nil {
		return err
	}
	if resp.Status != "success" {
		return fmt.Errorf("%w: pull of %s ended with status %q", ErrUnavailable, model, resp.Status)
	}
	return nil
}

func (c *OllamaClient) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling %s request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *OllamaClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return classify(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return classify(fmt.Errorf("reading %s response: %w", req.URL.Path, err))
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr ollamaError
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		err := fmt.Errorf("ollama %s returned status %d: %s", req.URL.Path, resp.StatusCode, msg)
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusServiceUnavailable {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return classify(err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", req.URL.Path, err)
	}
	return nil
}

// sameModel treats "llama3" and "llama3:latest" as the same model.
func sameModel(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.TrimSuffix(a, ":latest") == strings.TrimSuffix(b, ":latest")
}
