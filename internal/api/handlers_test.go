package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/shubhsaxena/recipe-finder/internal/models"
)

type stubSearcher struct {
	lastReq     *models.SearchRequest
	invalidated int
	state       models.BreakerState
}

func (s *stubSearcher) Search(_ context.Context, req *models.SearchRequest) *models.SearchResponse {
	s.lastReq = req
	return &models.SearchResponse{
		Query:     req.Query,
		Results:   []models.RecipeSummary{{ID: "1", Title: "Pad Thai"}},
		Total:     1,
		Method:    models.MethodOptimized,
		RequestID: req.RequestID,
	}
}

func (s *stubSearcher) BreakerState() models.BreakerState { return s.state }
func (s *stubSearcher) InvalidateCache()                  { s.invalidated++ }

type stubPopular struct {
	since   time.Time
	limit   int
	queries []models.PopularQuery
	err     error
}

func (p *stubPopular) TopQueries(_ context.Context, since time.Time, limit int) ([]models.PopularQuery, error) {
	p.since = since
	p.limit = limit
	return p.queries, p.err
}

func newTestRouter(s *stubSearcher, p PopularQueries) http.Handler {
	h := NewHandler(s, p, zap.NewNop())
	return NewRouter(h, NewHealthHandler(zap.NewNop()), 10, zap.NewNop())
}

func TestSearch_GET(t *testing.T) {
	s := &stubSearcher{}
	router := newTestRouter(s, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/search?q=pad+thai", nil)
	req.Header.Set("X-Request-ID", "req-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if s.lastReq.Query != "pad thai" {
		t.Errorf("expected query 'pad thai', got %q", s.lastReq.Query)
	}
	if s.lastReq.RequestID != "req-1" {
		t.Errorf("expected request id propagated, got %q", s.lastReq.RequestID)
	}

	var resp models.SearchResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Total != 1 || resp.Method != models.MethodOptimized {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestSearch_POST(t *testing.T) {
	s := &stubSearcher{}
	router := newTestRouter(s, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/search", strings.NewReader(`{"query":"vegan curry"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if s.lastReq.Query != "vegan curry" {
		t.Errorf("expected 'vegan curry', got %q", s.lastReq.Query)
	}
}

func TestSearch_EmptyQueryIsAllowed(t *testing.T) {
	s := &stubSearcher{}
	router := newTestRouter(s, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/search", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for empty query, got %d", rr.Code)
	}
	if s.lastReq == nil || s.lastReq.Query != "" {
		t.Errorf("expected search with empty query, got %+v", s.lastReq)
	}
}

func TestSearch_BadRequests(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		target   string
		body     string
		wantCode string
	}{
		{"invalid json", http.MethodPost, "/api/v1/search", "{invalid", "invalid_request"},
		{"empty body", http.MethodPost, "/api/v1/search", "", "invalid_request"},
		{"query too long", http.MethodGet, "/api/v1/search?q=" + strings.Repeat("a", maxQueryLen+1), "", "query_too_long"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &stubSearcher{}
			router := newTestRouter(s, nil)

			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(tt.method, tt.target, strings.NewReader(tt.body)))

			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rr.Code)
			}
			var body map[string]string
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if body["code"] != tt.wantCode {
				t.Errorf("expected code %q, got %q", tt.wantCode, body["code"])
			}
			if s.lastReq != nil {
				t.Error("searcher should not be called for a bad request")
			}
		})
	}
}

func TestPopular(t *testing.T) {
	p := &stubPopular{queries: []models.PopularQuery{{Query: "pasta", Count: 12}}}
	router := newTestRouter(&stubSearcher{}, p)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/popular?limit=500&window=1h", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if p.limit != maxPopularLimit {
		t.Errorf("expected limit clamped to %d, got %d", maxPopularLimit, p.limit)
	}
	if age := time.Since(p.since); age < time.Hour || age > time.Hour+time.Minute {
		t.Errorf("expected since about 1h ago, got %v", age)
	}

	var body struct {
		Queries []models.PopularQuery `json:"queries"`
		Source  string                `json:"source"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Queries) != 1 || body.Queries[0].Query != "pasta" || body.Source != "analytics" {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestPopular_Defaults(t *testing.T) {
	p := &stubPopular{}
	router := newTestRouter(&stubSearcher{}, p)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/popular?limit=abc", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if p.limit != defaultPopularLimit {
		t.Errorf("expected default limit, got %d", p.limit)
	}
	if !strings.Contains(rr.Body.String(), `"queries":[]`) {
		t.Errorf("expected empty queries array, got %s", rr.Body.String())
	}
}

func TestPopular_Errors(t *testing.T) {
	tests := []struct {
		name     string
		popular  PopularQueries
		target   string
		wantCode int
	}{
		{"invalid window", &stubPopular{}, "/api/v1/popular?window=soon", http.StatusBadRequest},
		{"negative window", &stubPopular{}, "/api/v1/popular?window=-1h", http.StatusBadRequest},
		{"analytics down", &stubPopular{err: errors.New("clickhouse down")}, "/api/v1/popular", http.StatusServiceUnavailable},
		{"no analytics", nil, "/api/v1/popular", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(&stubSearcher{}, tt.popular)
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tt.target, nil))
			if rr.Code != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, rr.Code)
			}
		})
	}
}

func TestModelStatusAndInvalidate(t *testing.T) {
	s := &stubSearcher{state: models.BreakerState{ConsecutiveFailures: 2, Available: true}}
	router := newTestRouter(s, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/model/status", nil))
	var state models.BreakerState
	if err := json.Unmarshal(rr.Body.Bytes(), &state); err != nil {
		t.Fatal(err)
	}
	if state.ConsecutiveFailures != 2 || !state.Available {
		t.Errorf("unexpected state %+v", state)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/v1/cache", nil))
	if rr.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rr.Code)
	}
	if s.invalidated != 1 {
		t.Errorf("expected cache invalidated once, got %d", s.invalidated)
	}
}

func TestWriteError(t *testing.T) {
	h := NewHandler(&stubSearcher{}, nil, zap.NewNop())
	rr := httptest.NewRecorder()

	h.writeError(rr, http.StatusBadRequest, "bad", "bad input")

	if rr.Header().Get("Content-Type") != "application/json" {
		t.Error("expected JSON content type")
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["code"] != "bad" || body["error"] != "bad input" {
		t.Errorf("unexpected body %v", body)
	}
}
