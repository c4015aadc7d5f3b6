package resilience

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/shubhsaxena/recipe-finder/internal/config"
	"github.com/shubhsaxena/recipe-finder/internal/models"
)

// AvailabilityBreaker guards language model calls. It opens after
// FailureThreshold consecutive failures and, once Cooldown has passed, lets
// a single trial call through. A successful trial closes it again.
type AvailabilityBreaker struct {
	cb       *gobreaker.CircuitBreaker
	failures atomic.Int64
}

// NewAvailabilityBreaker builds the breaker on NewCircuitBreaker. A
// non-positive cooldown falls back to gobreaker's 60s default.
func NewAvailabilityBreaker(name string, cfg config.ModelBreakerConfig, logger *zap.Logger) *AvailabilityBreaker {
	threshold := cfg.FailureThreshold
	if threshold <= 0 {
		threshold = 3
	}
	return &AvailabilityBreaker{
		cb: NewCircuitBreaker(name, config.CircuitBreakerConfig{
			MaxRequests:      1,
			Timeout:          cfg.Cooldown,
			FailureThreshold: uint32(threshold),
		}, logger),
	}
}

// IsAvailable reports whether a model call would be attempted. A half-open
// breaker counts as available.
func (b *AvailabilityBreaker) IsAvailable() bool {
	return b.cb.State() != gobreaker.StateOpen
}

// Execute runs fn under the breaker. A nil error records a success; any other
// error except caller cancellation records a failure. When the breaker
// rejects the call the returned error wraps gobreaker.ErrOpenState or
// gobreaker.ErrTooManyRequests.
func (b *AvailabilityBreaker) Execute(fn func() (any, error)) (any, error) {
	res, err := b.cb.Execute(fn)
	switch {
	case Rejected(err):
	case err == nil, errors.Is(err, context.Canceled):
		b.failures.Store(0)
	default:
		b.failures.Add(1)
	}
	return res, err
}

func (b *AvailabilityBreaker) State() models.BreakerState {
	return models.BreakerState{
		ConsecutiveFailures: int(b.failures.Load()),
		Available:           b.IsAvailable(),
	}
}

// Rejected reports whether err came from a breaker refusing the call rather
// than from the guarded operation.
func Rejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
