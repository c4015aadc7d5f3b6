package clickhouse

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shubhsaxena/recipe-finder/internal/config"
	"github.com/shubhsaxena/recipe-finder/internal/models"
	"github.com/shubhsaxena/recipe-finder/internal/observability"
)

var ErrSinkFull = errors.New("search event buffer full")

type batchWriter func(ctx context.Context, events []*models.SearchEvent) error

// EventSink buffers search events and writes them to ClickHouse in batches.
// Publishing never blocks; events are dropped when the buffer is full.
type EventSink struct {
	write         batchWriter
	events        chan *models.SearchEvent
	batchSize     int
	flushInterval time.Duration
	logger        *zap.Logger
	done          chan struct{}
	wg            sync.WaitGroup
	stopOnce      sync.Once
}

func NewEventSink(client *Client, cfg config.ClickHouseConfig, logger *zap.Logger) *EventSink {
	return newEventSink(client.InsertSearchEvents, cfg, logger)
}

func newEventSink(write batchWriter, cfg config.ClickHouseConfig, logger *zap.Logger) *EventSink {
	buffer := cfg.EventBuffer
	if buffer <= 0 {
		buffer = 4096
	}
	batchSize := cfg.EventBatchSize
	if batchSize <= 0 {
		batchSize = 500
	}
	interval := cfg.EventFlushInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	return &EventSink{
		write:         write,
		events:        make(chan *models.SearchEvent, buffer),
		batchSize:     batchSize,
		flushInterval: interval,
		logger:        logger,
		done:          make(chan struct{}),
	}
}

func (s *EventSink) PublishSearchEvent(_ context.Context, event *models.SearchEvent) error {
	select {
	case s.events <- event:
		return nil
	default:
		observability.SearchEventsDropped.Inc()
		return ErrSinkFull
	}
}

func (s *EventSink) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run()
	}()
}

func (s *EventSink) run() {
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	batch := make([]*models.SearchEvent, 0, s.batchSize)
	for {
		select {
		case e := <-s.events:
			batch = append(batch, e)
			if len(batch) >= s.batchSize {
				batch = s.flush(batch)
			}
		case <-ticker.C:
			batch = s.flush(batch)
		case <-s.done:
			for {
				select {
				case e := <-s.events:
					batch = append(batch, e)
				default:
					s.flush(batch)
					return
				}
			}
		}
	}
}

func (s *EventSink) flush(batch []*models.SearchEvent) []*models.SearchEvent {
	if len(batch) == 0 {
		return batch
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.write(ctx, batch); err != nil {
		observability.SearchEventsDropped.Add(float64(len(batch)))
		s.logger.Error("writing search events",
			zap.Int("count", len(batch)),
			zap.Error(err),
		)
	} else {
		s.logger.Debug("search events written", zap.Int("count", len(batch)))
	}
	return batch[:0]
}

// Stop drains buffered events and writes them before returning.
func (s *EventSink) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
	s.wg.Wait()
}
