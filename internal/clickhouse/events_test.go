package clickhouse

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

type recordingWriter struct {
	mu      sync.Mutex
	batches [][]string
	err     error
}

func (w *recordingWriter) write(_ context.Context, events []*models.SearchEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	queries := make([]string, len(events))
	for i, e := range events {
		queries[i] = e.Query
	}
	w.batches = append(w.batches, queries)
	return w.err
}

func (w *recordingWriter) total() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, b := range w.batches {
		n += len(b)
	}
	return n
}

func TestEventSink_FlushesFullBatches(t *testing.T) {
	w := &recordingWriter{}
	sink := newEventSink(w.write, config.ClickHouseConfig{
		EventBuffer:        16,
		EventBatchSize:     2,
		EventFlushInterval: time.Hour,
	}, zap.NewNop())
	sink.Start()

	for _, q := range []string{"pasta", "soup", "curry"} {
		if err := sink.PublishSearchEvent(context.Background(), &models.SearchEvent{Query: q}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	deadline := time.Now().Add(time.Second)
	for w.total() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if w.total() < 2 {
		t.Fatal("expected a full batch to be written before stop")
	}

	sink.Stop()
	if w.total() != 3 {
		t.Errorf("expected all 3 events written after stop, got %d", w.total())
	}
}

func TestEventSink_DropsWhenFull(t *testing.T) {
	w := &recordingWriter{}
	sink := newEventSink(w.write, config.ClickHouseConfig{EventBuffer: 1, EventBatchSize: 10}, zap.NewNop())

	if err := sink.PublishSearchEvent(context.Background(), &models.SearchEvent{Query: "a"}); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	if err := sink.PublishSearchEvent(context.Background(), &models.SearchEvent{Query: "b"}); !errors.Is(err, ErrSinkFull) {
		t.Errorf("expected ErrSinkFull, got %v", err)
	}

	sink.Start()
	sink.Stop()
	if w.total() != 1 {
		t.Errorf("expected the buffered event to be written, got %d", w.total())
	}
}

func TestEventSink_WriteErrorDoesNotStopLoop(t *testing.T) {
	w := &recordingWriter{err: errors.New("clickhouse down")}
	sink := newEventSink(w.write, config.ClickHouseConfig{EventBuffer: 8, EventBatchSize: 1}, zap.NewNop())
	sink.Start()

	_ = sink.PublishSearchEvent(context.Background(), &models.SearchEvent{Query: "a"})
	_ = sink.PublishSearchEvent(context.Background(), &models.SearchEvent{Query: "b"})
	sink.Stop()
	sink.Stop()

	if w.total() != 2 {
		t.Errorf("expected both events attempted, got %d", w.total())
	}
}
