package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// CheckFunc adapts a plain function to HealthChecker.
type CheckFunc func(ctx context.Context) error

func (f CheckFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// ClusterHealthChecker reports a cluster status colour such as Elasticsearch's.
type ClusterHealthChecker interface {
	HealthCheck(ctx context.Context) (string, error)
}

// ClusterCheck treats a red cluster as unhealthy; yellow still serves reads.
func ClusterCheck(c ClusterHealthChecker) HealthChecker {
	return CheckFunc(func(ctx context.Context) error {
		status, err := c.HealthCheck(ctx)
		if err != nil {
			return err
		}
		if status == "red" {
			return fmt.Errorf("cluster status %s", status)
		}
		return nil
	})
}

type component struct {
	checker  HealthChecker
	optional bool
}

// HealthHandler serves liveness and readiness. Required components fail
// readiness; optional ones are reported but only mark the service degraded.
type HealthHandler struct {
	components map[string]component
	timeout    time.Duration
	logger     *zap.Logger
}

func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		components: make(map[string]component),
		timeout:    5 * time.Second,
		logger:     logger,
	}
}

func (h *HealthHandler) Register(name string, checker HealthChecker) {
	h.components[name] = component{checker: checker}
}

func (h *HealthHandler) RegisterOptional(name string, checker HealthChecker) {
	h.components[name] = component{checker: checker, optional: true}
}

type componentHealth struct {
	Status   string `json:"status"`
	Optional bool   `json:"optional,omitempty"`
	Latency  string `json:"latency,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
}

func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	results := make(map[string]componentHealth, len(h.components))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for name, c := range h.components {
		wg.Add(1)
		go func(name string, c component) {
			defer wg.Done()
			start := time.Now()
			err := c.checker.HealthCheck(ctx)
			ch := componentHealth{
				Status:   "healthy",
				Optional: c.optional,
				Latency:  time.Since(start).String(),
			}
			if err != nil {
				ch.Status = "unhealthy"
				ch.Error = err.Error()
			}
			mu.Lock()
			results[name] = ch
			mu.Unlock()
		}(name, c)
	}
	wg.Wait()

	code := http.StatusOK
	overall := "healthy"
	for name, ch := range results {
		if ch.Status == "healthy" {
			continue
		}
		if !ch.Optional {
			code = http.StatusServiceUnavailable
			overall = "unhealthy"
			h.logger.Warn("readiness check failed", zap.String("component", name), zap.String("error", ch.Error))
			break
		}
		overall = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":     overall,
		"components": results,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}
