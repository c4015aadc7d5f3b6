package observability

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shubhsaxena/recipe-finder/internal/models"
)

type SlowQueryDetector struct {
	warningThreshold  time.Duration
	criticalThreshold time.Duration
	logger            *zap.Logger
	analyticsWriter   AnalyticsWriter
}

type AnalyticsWriter interface {
	WriteQueryPerformance(ctx context.Context, event *models.AnalyticsEvent) error
}

func NewSlowQueryDetector(warning, critical time.Duration, logger *zap.Logger, aw AnalyticsWriter) *SlowQueryDetector {
	return &SlowQueryDetector{
		warningThreshold:  warning,
		criticalThreshold: critical,
		logger:            logger,
		analyticsWriter:   aw,
	}
}

// Intercept records a finished search when it ran longer than the warning
// threshold. Faster searches return immediately.
func (sqd *SlowQueryDetector) Intercept(ctx context.Context, query, complexity string, method models.SearchMethod, duration time.Duration, results int) {
	if duration <= sqd.warningThreshold {
		return
	}

	traceID := TraceIDFromContext(ctx)
	severity := sqd.classifySeverity(duration)
	queryHash := HashQuery(query)

	SlowQueryCounter.WithLabelValues(severity, complexity).Inc()

	sqd.logger.Warn("slow search detected",
		zap.String("trace_id", traceID),
		zap.String("query_hash", queryHash),
		zap.String("complexity", complexity),
		zap.String("method", string(method)),
		zap.Float64("duration_ms", float64(duration.Milliseconds())),
		zap.Int("results", results),
		zap.String("severity", severity),
	)

	if sqd.analyticsWriter == nil {
		return
	}

	event := &models.AnalyticsEvent{
		EventType:  "query_performance",
		QueryHash:  queryHash,
		QueryType:  complexity,
		Method:     string(method),
		DurationMs: float64(duration.Milliseconds()),
		TotalHits:  int64(results),
		Timestamp:  time.Now().UTC(),
		TraceID:    traceID,
	}
	go func() {
		writeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := sqd.analyticsWriter.WriteQueryPerformance(writeCtx, event); err != nil {
			sqd.logger.Error("failed to write query analytics",
				zap.String("trace_id", traceID),
				zap.Error(err),
			)
		}
	}()
}

func (sqd *SlowQueryDetector) classifySeverity(d time.Duration) string {
	if d > sqd.criticalThreshold {
		return "critical"
	}
	if d > sqd.warningThreshold {
		return "warning"
	}
	return "normal"
}

// HashQuery returns a stable 16 hex digit fingerprint of the normalized query,
// used wherever a query has to be logged or stored without its text.
func HashQuery(q string) string {
	h := fnv.New64a()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(q))))
	return fmt.Sprintf("%016x", h.Sum64())
}
