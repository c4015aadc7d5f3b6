package indexing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/shubhsaxena/recipe-finder/internal/config"
	"github.com/shubhsaxena/recipe-finder/internal/models"
)

type fakeIndexer struct {
	mu      sync.Mutex
	batches [][]models.IndexAction
	err     error
}

func (f *fakeIndexer) BulkIndex(_ context.Context, actions []models.IndexAction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, actions)
	return nil
}

func (f *fakeIndexer) Index() string { return "recipes" }

func (f *fakeIndexer) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

type countingCache struct {
	mu     sync.Mutex
	purges int
}

func (c *countingCache) InvalidateCache() {
	c.mu.Lock()
	c.purges++
	c.mu.Unlock()
}

func testESConfig(bulkSize int) config.ElasticsearchConfig {
	return config.ElasticsearchConfig{
		Index:             "recipes",
		BulkSize:          bulkSize,
		BulkFlushInterval: time.Hour,
	}
}

func createEvent(id string) *models.RecipeChangeEvent {
	return &models.RecipeChangeEvent{
		Type:      "CREATE",
		RecipeID:  id,
		Recipe:    &models.RecipeDocument{Title: "Recipe " + id, Ingredients: []string{"rice"}},
		Timestamp: time.Now(),
	}
}

func TestTransformEvent(t *testing.T) {
	p := NewProcessor(&fakeIndexer{}, nil, nil, testESConfig(10), zap.NewNop())
	defer p.Stop()

	tests := []struct {
		name       string
		event      *models.RecipeChangeEvent
		wantAction string
		wantErr    bool
	}{
		{"create", createEvent("r1"), "index", false},
		{"update", &models.RecipeChangeEvent{Type: "UPDATE", RecipeID: "r1", Recipe: &models.RecipeDocument{}}, "index", false},
		{"delete", &models.RecipeChangeEvent{Type: "DELETE", RecipeID: "r1"}, "delete", false},
		{"create without recipe", &models.RecipeChangeEvent{Type: "CREATE", RecipeID: "r1"}, "", true},
		{"unknown type", &models.RecipeChangeEvent{Type: "UPSERT", RecipeID: "r1"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, err := p.transformEvent(tt.event)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if action.Action != tt.wantAction || action.Index != "recipes" || action.ID != "r1" {
				t.Errorf("unexpected action %+v", action)
			}
			if action.Action == "index" && action.Body.ID != "r1" {
				t.Errorf("body id = %q, want r1", action.Body.ID)
			}
		})
	}
}

func TestHandleEvent_FlushesWhenBufferFull(t *testing.T) {
	indexer := &fakeIndexer{}
	cache := &countingCache{}
	p := NewProcessor(indexer, cache, nil, testESConfig(2), zap.NewNop())
	defer p.Stop()

	ctx := context.Background()
	if err := p.HandleEvent(ctx, createEvent("r1")); err != nil {
		t.Fatal(err)
	}
	if indexer.batchCount() != 0 {
		t.Error("flushed before the buffer was full")
	}
	if err := p.HandleEvent(ctx, createEvent("r2")); err != nil {
		t.Fatal(err)
	}
	if indexer.batchCount() != 1 || len(indexer.batches[0]) != 2 {
		t.Errorf("expected one batch of 2, got %v", indexer.batches)
	}
	if cache.purges != 2 {
		t.Errorf("expected a cache purge per event, got %d", cache.purges)
	}
}

func TestFlush_FailureRequeues(t *testing.T) {
	indexer := &fakeIndexer{err: errors.New("es down")}
	p := NewProcessor(indexer, nil, nil, testESConfig(100), zap.NewNop())

	ctx := context.Background()
	p.HandleEvent(ctx, createEvent("r1"))
	p.HandleEvent(ctx, createEvent("r2"))

	if err := p.flush(ctx); err == nil {
		t.Fatal("expected flush error")
	}
	if p.Pending() != 2 {
		t.Errorf("expected failed batch requeued, pending = %d", p.Pending())
	}

	indexer.mu.Lock()
	indexer.err = nil
	indexer.mu.Unlock()

	if err := p.Stop(); err != nil {
		t.Fatalf("Stop() flush failed: %v", err)
	}
	if p.Pending() != 0 || indexer.batchCount() != 1 {
		t.Errorf("expected final flush on stop, pending=%d batches=%d", p.Pending(), indexer.batchCount())
	}
}

func TestHandleEvent_WithoutIndexerOnlyInvalidates(t *testing.T) {
	cache := &countingCache{}
	p := NewProcessor(nil, cache, nil, testESConfig(10), zap.NewNop())

	if err := p.HandleEvent(context.Background(), &models.RecipeChangeEvent{Type: "DELETE", RecipeID: "r9"}); err != nil {
		t.Fatal(err)
	}
	if cache.purges != 1 {
		t.Errorf("expected cache purge, got %d", cache.purges)
	}
	if err := p.Stop(); err != nil {
		t.Errorf("Stop() = %v", err)
	}
}

func TestHandleEvent_RejectsMissingID(t *testing.T) {
	p := NewProcessor(nil, nil, nil, testESConfig(10), zap.NewNop())
	if err := p.HandleEvent(context.Background(), &models.RecipeChangeEvent{Type: "DELETE"}); err == nil {
		t.Error("expected error for event without recipe id")
	}
}
