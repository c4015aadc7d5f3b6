package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shubhsaxena/recipe-finder/internal/config"
	"github.com/shubhsaxena/recipe-finder/internal/models"
	"github.com/shubhsaxena/recipe-finder/internal/observability"
)

// Producer publishes search events. Writes are asynchronous so a slow broker
// never delays a search; failed batches are logged and counted as dropped.
type Producer struct {
	writer  *kafka.Writer
	brokers []string
	logger  *zap.Logger
}

func NewProducer(cfg config.KafkaConfig, logger *zap.Logger) *Producer {
	p := &Producer{brokers: cfg.Brokers, logger: logger}
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.TopicSearches,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		MaxAttempts:  cfg.MaxRetries,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion:   p.onCompletion,
	}

	logger.Info("kafka producer created", zap.Strings("brokers", cfg.Brokers), zap.String("topic", cfg.TopicSearches))
	return p
}

func (p *Producer) PublishSearchEvent(ctx context.Context, event *models.SearchEvent) error {
	msg, err := searchEventMessage(event)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		observability.SearchEventsDropped.Inc()
		return fmt.Errorf("publishing search event: %w", err)
	}
	return nil
}

func searchEventMessage(event *models.SearchEvent) (kafka.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshaling search event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(event.QueryHash),
		Value: data,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "method", Value: []byte(event.Method)},
			{Key: "complexity", Value: []byte(event.Complexity)},
		},
	}, nil
}

func (p *Producer) onCompletion(messages []kafka.Message, err error) {
	if err == nil {
		return
	}
	observability.SearchEventsDropped.Add(float64(len(messages)))
	p.logger.Warn("search events not delivered",
		zap.Int("count", len(messages)),
		zap.Error(err),
	)
}

func (p *Producer) HealthCheck(ctx context.Context) error {
	return dialBrokers(ctx, p.brokers)
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
