package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/shubhsaxena/recipe-finder/internal/config"
	"github.com/shubhsaxena/recipe-finder/internal/models"
	"github.com/shubhsaxena/recipe-finder/internal/observability"
)

// Client stores search analytics: slow query reports, search events and the
// recipe change log.
type Client struct {
	conn   driver.Conn
	logger *zap.Logger
}

func NewClient(cfg config.ClickHouseConfig, logger *zap.Logger) (*Client, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: cfg.Addresses,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": int(cfg.QueryTimeout.Seconds()),
		},
		DialTimeout:  cfg.DialTimeout,
		MaxOpenConns: cfg.MaxOpenConns,
		MaxIdleConns: cfg.MaxIdleConns,
	})
	if err != nil {
		return nil, fmt.Errorf("opening clickhouse connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging clickhouse: %w", err)
	}

	logger.Info("clickhouse client connected", zap.Strings("addresses", cfg.Addresses))

	return &Client{
		conn:   conn,
		logger: logger,
	}, nil
}

func (c *Client) WriteQueryPerformance(ctx context.Context, event *models.AnalyticsEvent) error {
	start := time.Now()
	err := c.conn.Exec(ctx, `
		INSERT INTO query_performance (
			event_type, query_hash, query_type, method,
			duration_ms, total_hits, timestamp, trace_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.EventType,
		event.QueryHash,
		event.QueryType,
		event.Method,
		event.DurationMs,
		event.TotalHits,
		event.Timestamp,
		event.TraceID,
	)
	observeQuery("query_performance", start, err)
	if err != nil {
		return fmt.Errorf("inserting query performance: %w", err)
	}
	return nil
}

func (c *Client) InsertRecipeChange(ctx context.Context, event *models.RecipeChangeEvent) error {
	start := time.Now()
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	err := c.conn.Exec(ctx, `
		INSERT INTO recipe_changes (recipe_id, operation, timestamp, version)
		VALUES (?, ?, ?, ?)
	`,
		event.RecipeID,
		event.Type,
		ts,
		event.Version,
	)
	observeQuery("recipe_change", start, err)
	if err != nil {
		return fmt.Errorf("inserting recipe change: %w", err)
	}
	return nil
}

// InsertSearchEvents writes a batch of search events in one round trip.
func (c *Client) InsertSearchEvents(ctx context.Context, events []*models.SearchEvent) error {
	if len(events) == 0 {
		return nil
	}

	start := time.Now()
	batch, err := c.conn.PrepareBatch(ctx, `INSERT INTO search_events (
		query_hash, query, complexity, method, result_count,
		cache_hit, model_used, duration_ms, timestamp, trace_id
	)`)
	if err != nil {
		observeQuery("search_events", start, err)
		return fmt.Errorf("preparing search event batch: %w", err)
	}

	for _, e := range events {
		if err := batch.Append(
			e.QueryHash,
			e.Query,
			e.Complexity,
			string(e.Method),
			uint32(e.ResultCount),
			e.CacheHit,
			e.ModelUsed,
			e.DurationMs,
			e.Timestamp,
			e.TraceID,
		); err != nil {
			_ = batch.Abort()
			observeQuery("search_events", start, err)
			return fmt.Errorf("appending search event: %w", err)
		}
	}

	err = batch.Send()
	observeQuery("search_events", start, err)
	if err != nil {
		return fmt.Errorf("sending search event batch: %w", err)
	}
	return nil
}

// TopQueries returns the most frequent searches since the given time that
// produced at least one result.
func (c *Client) TopQueries(ctx context.Context, since time.Time, limit int) ([]models.PopularQuery, error) {
	ctx, span := observability.StartSpan(ctx, "ch.top_queries",
		attribute.Int("limit", limit),
	)
	defer span.End()

	start := time.Now()
	rows, err := c.conn.Query(ctx, `
		SELECT query, count() AS cnt
		FROM search_events
		WHERE timestamp >= ? AND result_count > 0 AND query != ''
		GROUP BY query
		ORDER BY cnt DESC
		LIMIT ?
	`, since.UTC(), limit)
	if err != nil {
		observeQuery("top_queries", start, err)
		return nil, fmt.Errorf("ch top queries: %w", err)
	}
	defer rows.Close()

	popular := make([]models.PopularQuery, 0, limit)
	for rows.Next() {
		var (
			query string
			count uint64
		)
		if err := rows.Scan(&query, &count); err != nil {
			return nil, fmt.Errorf("scanning top query row: %w", err)
		}
		popular = append(popular, models.PopularQuery{Query: query, Count: int64(count)})
	}
	if err := rows.Err(); err != nil {
		observeQuery("top_queries", start, err)
		return nil, fmt.Errorf("iterating top query rows: %w", err)
	}

	observeQuery("top_queries", start, nil)
	return popular, nil
}

func observeQuery(queryType string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	observability.CHQueryDuration.WithLabelValues(queryType, status).Observe(time.Since(start).Seconds())
}

func (c *Client) HealthCheck(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) EnsureTables(ctx context.Context) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS query_performance (
			event_type String,
			query_hash String,
			query_type LowCardinality(String),
			method LowCardinality(String),
			duration_ms Float64,
			total_hits Int64,
			timestamp DateTime,
			trace_id String
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(timestamp)
		ORDER BY (timestamp, query_hash)`,

		`CREATE TABLE IF NOT EXISTS search_events (
			query_hash String,
			query String,
			complexity LowCardinality(String),
			method LowCardinality(String),
			result_count UInt32,
			cache_hit Bool,
			model_used Bool,
			duration_ms Float64,
			timestamp DateTime,
			trace_id String
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(timestamp)
		ORDER BY (timestamp, query_hash)
		TTL timestamp + INTERVAL 90 DAY`,

		`CREATE TABLE IF NOT EXISTS recipe_changes (
			recipe_id String,
			operation LowCardinality(String),
			timestamp DateTime,
			version Int64
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(timestamp)
		ORDER BY (timestamp, recipe_id)`,
	}

	for _, ddl := range tables {
		if err := c.conn.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("creating table: %w", err)
		}
	}

	c.logger.Info("clickhouse tables ensured")
	return nil
}
