package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/shubhsaxena/recipe-finder/internal/config"
	"github.com/shubhsaxena/recipe-finder/internal/observability"
	"github.com/shubhsaxena/recipe-finder/internal/resilience"
)

// guard is the shared call path for every store in this package: one circuit
// breaker per store, retries for transient errors, a per-attempt timeout, a
// span and the repository_query_duration metric.
type guard struct {
	cb           *gobreaker.CircuitBreaker
	retryCfg     resilience.RetryConfig
	queryTimeout time.Duration
	logger       *zap.Logger
}

func newGuard(name string, pgCfg config.PostgresConfig, searchCfg config.SearchConfig, logger *zap.Logger) *guard {
	return &guard{
		cb:           resilience.NewCircuitBreaker(name, searchCfg.CircuitBreaker, logger),
		retryCfg:     resilience.RetryConfigFrom(searchCfg.Retry),
		queryTimeout: pgCfg.QueryTimeout,
		logger:       logger,
	}
}

// guarded runs fn under g. Server-side errors (*pgconn.PgError) are not
// retried.
func guarded[T any](ctx context.Context, g *guard, op string, fn func(ctx context.Context) (T, error), attrs ...attribute.KeyValue) (T, error) {
	ctx, span := observability.StartSpan(ctx, "pg."+op, attrs...)
	defer span.End()

	start := time.Now()
	res, err := g.cb.Execute(func() (any, error) {
		var out T
		retryErr := resilience.Retry(ctx, g.retryCfg, func() error {
			qctx, cancel := g.withTimeout(ctx)
			defer cancel()

			var qerr error
			out, qerr = fn(qctx)
			var pgErr *pgconn.PgError
			if errors.As(qerr, &pgErr) {
				return resilience.Permanent(qerr)
			}
			return qerr
		})
		return out, retryErr
	})

	duration := time.Since(start)
	if err != nil {
		observability.RepositoryQueryDuration.WithLabelValues("postgres", op, "error").Observe(duration.Seconds())
		g.logger.Warn("postgres query failed",
			zap.String("operation", op),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		var zero T
		return zero, fmt.Errorf("postgres %s query: %w", op, err)
	}
	observability.RepositoryQueryDuration.WithLabelValues("postgres", op, "success").Observe(duration.Seconds())

	out, _ := res.(T)
	return out, nil
}

func (g *guard) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.queryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, g.queryTimeout)
}
