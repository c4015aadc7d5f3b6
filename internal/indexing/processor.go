// Package indexing applies recipe change events: it keeps the search index in
// step with the recipe store and drops cached search results that may be stale.
package indexing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shubhsaxena/recipe-finder/internal/config"
	"github.com/shubhsaxena/recipe-finder/internal/models"
	"github.com/shubhsaxena/recipe-finder/internal/observability"
)

type BulkIndexer interface {
	BulkIndex(ctx context.Context, actions []models.IndexAction) error
	Index() string
}

type CacheInvalidator interface {
	InvalidateCache()
}

type ChangeRecorder interface {
	InsertRecipeChange(ctx context.Context, event *models.RecipeChangeEvent) error
}

// Processor buffers index actions and flushes them in bulk when the buffer is
// full or on the flush interval. indexer and recorder may be nil.
type Processor struct {
	indexer  BulkIndexer
	cache    CacheInvalidator
	recorder ChangeRecorder
	esCfg    config.ElasticsearchConfig
	logger   *zap.Logger

	mu     sync.Mutex
	buffer []models.IndexAction
	ticker *time.Ticker
	done   chan struct{}
	wg     sync.WaitGroup
}

func NewProcessor(
	indexer BulkIndexer,
	cache CacheInvalidator,
	recorder ChangeRecorder,
	esCfg config.ElasticsearchConfig,
	logger *zap.Logger,
) *Processor {
	if esCfg.BulkSize <= 0 {
		esCfg.BulkSize = 500
	}
	if esCfg.BulkFlushInterval <= 0 {
		esCfg.BulkFlushInterval = 5 * time.Second
	}

	p := &Processor{
		indexer:  indexer,
		cache:    cache,
		recorder: recorder,
		esCfg:    esCfg,
		logger:   logger,
		buffer:   make([]models.IndexAction, 0, esCfg.BulkSize),
		done:     make(chan struct{}),
	}

	if indexer != nil {
		p.ticker = time.NewTicker(esCfg.BulkFlushInterval)
		p.wg.Add(1)
		go p.flushLoop()
	}
	return p
}

func (p *Processor) HandleEvent(ctx context.Context, event *models.RecipeChangeEvent) error {
	if event.RecipeID == "" {
		return fmt.Errorf("recipe change event without recipe id")
	}
	if !event.Timestamp.IsZero() {
		observability.IndexingLag.Set(time.Since(event.Timestamp).Seconds())
	}

	if p.indexer != nil {
		action, err := p.transformEvent(event)
		if err != nil {
			observability.IndexingEventsTotal.WithLabelValues(event.Type, "invalid").Inc()
			return fmt.Errorf("transforming event: %w", err)
		}

		p.mu.Lock()
		p.buffer = append(p.buffer, *action)
		shouldFlush := len(p.buffer) >= p.esCfg.BulkSize
		p.mu.Unlock()

		if shouldFlush {
			if err := p.flush(ctx); err != nil {
				p.logger.Error("flush on buffer full failed", zap.Error(err))
			}
		}
	}

	if p.recorder != nil {
		if err := p.recorder.InsertRecipeChange(ctx, event); err != nil {
			p.logger.Warn("recording recipe change failed",
				zap.String("recipe_id", event.RecipeID),
				zap.Error(err),
			)
		}
	}

	if p.cache != nil {
		p.cache.InvalidateCache()
	}
	observability.IndexingEventsTotal.WithLabelValues(event.Type, "accepted").Inc()
	return nil
}

func (p *Processor) transformEvent(event *models.RecipeChangeEvent) (*models.IndexAction, error) {
	action := &models.IndexAction{
		Index:     p.indexer.Index(),
		ID:        event.RecipeID,
		Timestamp: event.Timestamp,
	}

	switch event.Type {
	case "CREATE", "UPDATE":
		if event.Recipe == nil {
			return nil, fmt.Errorf("%s event for %s carries no recipe", event.Type, event.RecipeID)
		}
		doc := *event.Recipe
		doc.ID = event.RecipeID
		action.Action = "index"
		action.Body = &doc
	case "DELETE":
		action.Action = "delete"
	default:
		return nil, fmt.Errorf("unknown event type: %s", event.Type)
	}

	return action, nil
}

func (p *Processor) flushLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := p.flush(ctx); err != nil {
				p.logger.Error("periodic flush failed", zap.Error(err))
			}
			cancel()
		case <-p.done:
			return
		}
	}
}

func (p *Processor) flush(ctx context.Context) error {
	p.mu.Lock()
	if len(p.buffer) == 0 {
		p.mu.Unlock()
		return nil
	}
	batch := make([]models.IndexAction, len(p.buffer))
	copy(batch, p.buffer)
	p.buffer = p.buffer[:0]
	p.mu.Unlock()

	start := time.Now()
	if err := p.indexer.BulkIndex(ctx, batch); err != nil {
		p.mu.Lock()
		p.buffer = append(batch, p.buffer...)
		p.mu.Unlock()

		observability.IndexingEventsTotal.WithLabelValues("bulk", "error").Inc()
		return fmt.Errorf("bulk index flush: %w", err)
	}

	observability.IndexingEventsTotal.WithLabelValues("bulk", "success").Add(float64(len(batch)))
	p.logger.Info("bulk flush completed",
		zap.Int("count", len(batch)),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// Pending reports how many index actions wait for the next flush.
func (p *Processor) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer)
}

// Stop ends the flush loop and flushes what is left.
func (p *Processor) Stop() error {
	if p.indexer == nil {
		return nil
	}
	p.ticker.Stop()
	close(p.done)
	p.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return p.flush(ctx)
}
