package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/shubhsaxena/recipe-finder/internal/models"
)

const (
	maxRequestBodySize = 1 << 20
	maxQueryLen        = 500

	defaultPopularLimit  = 10
	maxPopularLimit      = 100
	defaultPopularWindow = 24 * time.Hour
)

// Searcher is the search orchestrator as seen by the HTTP layer.
type Searcher interface {
	Search(ctx context.Context, req *models.SearchRequest) *models.SearchResponse
	BreakerState() models.BreakerState
	InvalidateCache()
}

// PopularQueries reports the most frequent successful searches.
type PopularQueries interface {
	TopQueries(ctx context.Context, since time.Time, limit int) ([]models.PopularQuery, error)
}

type Handler struct {
	searcher Searcher
	popular  PopularQueries
	logger   *zap.Logger
}

// NewHandler builds the API handler. popular may be nil when no analytics
// store is configured.
func NewHandler(searcher Searcher, popular PopularQueries, logger *zap.Logger) *Handler {
	return &Handler{
		searcher: searcher,
		popular:  popular,
		logger:   logger,
	}
}

// Search never fails for a well-formed request: an empty query lists recent
// recipes and backend failures surface as an empty result.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	req, err := h.parseSearchRequest(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if len(req.Query) > maxQueryLen {
		h.writeError(w, http.StatusBadRequest, "query_too_long", "Query must be at most 500 characters")
		return
	}
	req.RequestID = RequestIDFromContext(r.Context())

	resp := h.searcher.Search(r.Context(), req)
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Popular(w http.ResponseWriter, r *http.Request) {
	limit := defaultPopularLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err == nil && n > 0 {
			limit = min(n, maxPopularLimit)
		}
	}
	window := defaultPopularWindow
	if s := r.URL.Query().Get("window"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			h.writeError(w, http.StatusBadRequest, "invalid_window", "window must be a positive duration such as 24h")
			return
		}
		window = d
	}

	if h.popular == nil {
		h.writeJSON(w, http.StatusOK, map[string]any{
			"queries": []models.PopularQuery{},
			"source":  "none",
		})
		return
	}

	queries, err := h.popular.TopQueries(r.Context(), time.Now().Add(-window), limit)
	if err != nil {
		h.logger.Error("popular queries failed",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.Error(err),
		)
		h.writeError(w, http.StatusServiceUnavailable, "analytics_unavailable", "Popular queries temporarily unavailable")
		return
	}
	if queries == nil {
		queries = []models.PopularQuery{}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"queries": queries,
		"window":  window.String(),
		"source":  "analytics",
	})
}

func (h *Handler) ModelStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.searcher.BreakerState())
}

func (h *Handler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	h.searcher.InvalidateCache()
	h.logger.Info("result cache invalidated", zap.String("request_id", RequestIDFromContext(r.Context())))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) parseSearchRequest(r *http.Request) (*models.SearchRequest, error) {
	if r.Method == http.MethodPost {
		var req models.SearchRequest
		limited := io.LimitReader(r.Body, maxRequestBodySize)
		if err := json.NewDecoder(limited).Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, errors.New("request body is empty")
			}
			return nil, err
		}
		return &req, nil
	}

	return &models.SearchRequest{Query: r.URL.Query().Get("q")}, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("writing json response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, map[string]string{
		"error": message,
		"code":  code,
	})
}
