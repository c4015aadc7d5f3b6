package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/shubhsaxena/recipe-finder/internal/config"
	"github.com/shubhsaxena/recipe-finder/internal/observability"
	"github.com/shubhsaxena/recipe-finder/internal/resilience"
)

type completeFunc func(ctx context.Context, model, prompt string, opts CompletionOptions) (string, error)

// caller holds the behavior shared by every adapter: per-request timeouts,
// error classification, backoff on transient failures, the memory-exceeded
// downgrade and once-only model provisioning.
type caller struct {
	provider       string
	requestTimeout time.Duration
	healthTimeout  time.Duration
	retry          resilience.RetryConfig
	fallbackModel  string
	logger         *zap.Logger

	mu    sync.RWMutex
	model string

	provMu      sync.Mutex
	provisioned bool
	provTried   bool
}

func newCaller(provider string, cfg config.LLMConfig, logger *zap.Logger) *caller {
	requestTimeout := cfg.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	healthTimeout := cfg.HealthCheckTimeout
	if healthTimeout <= 0 {
		healthTimeout = 5 * time.Second
	}
	return &caller{
		provider:       provider,
		requestTimeout: requestTimeout,
		healthTimeout:  healthTimeout,
		retry:          resilience.RetryConfigFrom(cfg.Retry),
		fallbackModel:  cfg.FallbackModel,
		logger:         logger.With(zap.String("provider", provider)),
		model:          cfg.Model,
	}
}

func (c *caller) Model() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.model
}

// SetModel switches the active model. The provisioning state is reset since
// it belongs to the previous model.
func (c *caller) SetModel(name string) {
	c.mu.Lock()
	c.model = name
	c.mu.Unlock()

	c.provMu.Lock()
	c.provisioned = false
	c.provTried = false
	c.provMu.Unlock()
}

func (c *caller) complete(ctx context.Context, prompt string, opts CompletionOptions, do completeFunc) (string, error) {
	model := c.Model()
	ctx, span := observability.StartSpan(ctx, "llm.GenerateCompletion",
		attribute.String("llm.provider", c.provider),
		attribute.String("llm.model", model),
	)
	defer span.End()

	out, err := c.completeWithRetry(ctx, model, prompt, opts, do)
	if err != nil && errors.Is(err, ErrMemoryExceeded) && c.fallbackModel != "" && c.fallbackModel != model {
		c.logger.Warn("model exceeded available memory, downgrading",
			zap.String("model", model),
			zap.String("fallback_model", c.fallbackModel),
		)
		c.SetModel(c.fallbackModel)
		out, err = c.attempt(ctx, c.fallbackModel, prompt, opts, do)
	}
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	return out, nil
}

func (c *caller) completeWithRetry(ctx context.Context, model, prompt string, opts CompletionOptions, do completeFunc) (string, error) {
	var out string
	err := resilience.Retry(ctx, c.retry, func() error {
		var err error
		out, err = c.attempt(ctx, model, prompt, opts, do)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return resilience.Permanent(err)
		}
		if errors.Is(err, ErrTimeout) || errors.Is(err, ErrConnectionRefused) {
			c.logger.Debug("transient model error, retrying", zap.String("model", model), zap.Error(err))
			return err
		}
		return resilience.Permanent(err)
	})
	return out, err
}

func (c *caller) attempt(ctx context.Context, model, prompt string, opts CompletionOptions, do completeFunc) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	start := time.Now()
	out, err := do(reqCtx, model, prompt, opts)
	status := "success"
	if err != nil {
		err = classify(err)
		status = errorStatus(err)
	}
	observability.ModelCallDuration.WithLabelValues(c.provider, model, status).Observe(time.Since(start).Seconds())
	observability.ModelCallsTotal.WithLabelValues(c.provider, status).Inc()
	return out, err
}

func (c *caller) health(ctx context.Context, check func(ctx context.Context) error) bool {
	hctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()
	if err := check(hctx); err != nil {
		c.logger.Debug("model health check failed", zap.Error(classify(err)))
		return false
	}
	return true
}

// ensureModel reports whether the active model can serve requests. A missing
// model is provisioned at most once; the outcome is remembered so a failed
// pull is not repeated on every search.
func (c *caller) ensureModel(ctx context.Context, resident func(ctx context.Context, model string) (bool, error), provision func(ctx context.Context, model string) error) bool {
	c.provMu.Lock()
	defer c.provMu.Unlock()

	if c.provisioned {
		return true
	}

	model := c.Model()
	hctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	ok, err := resident(hctx, model)
	cancel()
	if err != nil {
		c.logger.Warn("model residency check failed", zap.String("model", model), zap.Error(classify(err)))
		return false
	}
	if ok {
		c.provisioned = true
		return true
	}

	if c.provTried {
		return false
	}
	c.provTried = true

	c.logger.Info("model not present, provisioning", zap.String("model", model))
	pctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()
	if err := provision(pctx, model); err != nil {
		c.logger.Error("model provisioning failed", zap.String("model", model), zap.Error(err))
		return false
	}
	c.provisioned = true
	return true
}

var memoryMarkers = []string{
	"out of memory",
	"requires more system memory",
	"insufficient memory",
	"memory exceeded",
	"cudamalloc failed",
}

// classify maps transport and backend errors onto the package sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{ErrTimeout, ErrConnectionRefused, ErrMemoryExceeded, ErrUnavailable} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("%w: %v", ErrConnectionRefused, err)
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "connection refused") {
		return fmt.Errorf("%w: %v", ErrConnectionRefused, err)
	}
	for _, marker := range memoryMarkers {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %v", ErrMemoryExceeded, err)
		}
	}
	return err
}

func errorStatus(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrConnectionRefused):
		return "connection_refused"
	case errors.Is(err, ErrMemoryExceeded):
		return "memory_exceeded"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
