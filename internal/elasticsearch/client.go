package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/shubhsaxena/recipe-finder/internal/config"
	"github.com/shubhsaxena/recipe-finder/internal/models"
	"github.com/shubhsaxena/recipe-finder/internal/observability"
	"github.com/shubhsaxena/recipe-finder/internal/resilience"
)

// Client is a recipe repository over an Elasticsearch index. It also owns
// the index mapping and bulk indexing of recipe change events.
type Client struct {
	es       *elasticsearch.Client
	cb       *gobreaker.CircuitBreaker
	cfg      config.ElasticsearchConfig
	retryCfg resilience.RetryConfig
	logger   *zap.Logger
}

func NewClient(cfg config.ElasticsearchConfig, searchCfg config.SearchConfig, logger *zap.Logger) (*Client, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:  cfg.Addresses,
		Username:   cfg.Username,
		Password:   cfg.Password,
		MaxRetries: cfg.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %w", err)
	}

	res, err := es.Ping()
	if err != nil {
		return nil, fmt.Errorf("pinging elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch ping returned status: %s", res.Status())
	}

	logger.Info("elasticsearch client connected",
		zap.Strings("addresses", cfg.Addresses),
		zap.String("index", cfg.Index),
	)

	return &Client{
		es:       es,
		cb:       resilience.NewCircuitBreaker("elasticsearch-recipes", searchCfg.CircuitBreaker, logger),
		cfg:      cfg,
		retryCfg: resilience.RetryConfigFrom(searchCfg.Retry),
		logger:   logger,
	}, nil
}

func (c *Client) FindRecipesByFilter(ctx context.Context, f *models.RecipeFilter) ([]models.RecipeSummary, error) {
	return c.search(ctx, "filter", buildFilterQuery(f))
}

func (c *Client) FindRecipesByProteinTerms(ctx context.Context, terms []string, titleDescRequired bool, limit int) ([]models.RecipeSummary, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	return c.search(ctx, "protein", buildFilterQuery(proteinFilter(terms, titleDescRequired, limit)))
}

func (c *Client) FindRecipesByText(ctx context.Context, text string, limit int) ([]models.RecipeSummary, error) {
	if text == "" {
		return nil, nil
	}
	return c.search(ctx, "text", buildFilterQuery(&models.RecipeFilter{
		Keywords:  []string{text},
		RankTerms: []string{text},
		Limit:     limit,
	}))
}

func (c *Client) search(ctx context.Context, op string, query map[string]any) ([]models.RecipeSummary, error) {
	ctx, span := observability.StartSpan(ctx, "es.search",
		attribute.String("es.index", c.cfg.Index),
		attribute.String("es.operation", op),
	)
	defer span.End()

	start := time.Now()
	res, err := c.cb.Execute(func() (any, error) {
		var hits []models.RecipeSummary
		retryErr := resilience.Retry(ctx, c.retryCfg, func() error {
			var execErr error
			hits, execErr = c.executeSearch(ctx, query)
			return execErr
		})
		return hits, retryErr
	})

	duration := time.Since(start)
	if err != nil {
		observability.RepositoryQueryDuration.WithLabelValues("elasticsearch", op, "error").Observe(duration.Seconds())
		return nil, fmt.Errorf("es %s search (index=%s): %w", op, c.cfg.Index, err)
	}
	observability.RepositoryQueryDuration.WithLabelValues("elasticsearch", op, "success").Observe(duration.Seconds())

	hits, _ := res.([]models.RecipeSummary)
	return hits, nil
}

func (c *Client) executeSearch(ctx context.Context, query map[string]any) ([]models.RecipeSummary, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, resilience.Permanent(fmt.Errorf("marshaling es query: %w", err))
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.cfg.Index),
		c.es.Search.WithBody(bytes.NewReader(body)),
		c.es.Search.WithTimeout(c.cfg.RequestTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("executing es search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		err := fmt.Errorf("es search error status=%s body=%s", res.Status(), string(bodyBytes))
		if res.StatusCode == 400 || res.StatusCode == 404 {
			return nil, resilience.Permanent(err)
		}
		return nil, err
	}

	var esResp esSearchResponse
	if err := json.NewDecoder(res.Body).Decode(&esResp); err != nil {
		return nil, fmt.Errorf("decoding es response: %w", err)
	}

	hits := make([]models.RecipeSummary, 0, len(esResp.Hits.Hits))
	for _, h := range esResp.Hits.Hits {
		doc := h.Source
		id := doc.ID
		if id == "" {
			id = h.ID
		}
		hits = append(hits, models.RecipeSummary{
			ID:          id,
			Title:       doc.Title,
			Description: doc.Description,
			Cuisine:     doc.Cuisine,
			Category:    doc.Category,
			CreatedAt:   doc.CreatedAt,
		})
	}
	return hits, nil
}

func (c *Client) BulkIndex(ctx context.Context, actions []models.IndexAction) error {
	if len(actions) == 0 {
		return nil
	}

	ctx, span := observability.StartSpan(ctx, "es.bulk_index",
		attribute.Int("batch_size", len(actions)),
	)
	defer span.End()

	payload, err := bulkPayload(actions)
	if err != nil {
		return err
	}

	res, err := c.es.Bulk(
		bytes.NewReader(payload),
		c.es.Bulk.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("executing bulk request: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		return fmt.Errorf("bulk request error status=%s body=%s", res.Status(), string(bodyBytes))
	}

	var bulkResp bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return fmt.Errorf("decoding bulk response: %w", err)
	}

	if bulkResp.Errors {
		var errMsgs []string
		for _, item := range bulkResp.Items {
			for _, result := range item {
				// deleting a recipe that was never indexed is fine
				if result.Error != nil && result.Status != 404 {
					errMsgs = append(errMsgs, fmt.Sprintf("id=%s: %s", result.ID, result.Error.Reason))
				}
			}
		}
		if len(errMsgs) > 0 {
			return fmt.Errorf("bulk indexing had errors: %s", strings.Join(errMsgs, "; "))
		}
	}

	return nil
}

func bulkPayload(actions []models.IndexAction) ([]byte, error) {
	var buf bytes.Buffer
	for _, action := range actions {
		meta := map[string]any{
			action.Action: map[string]any{
				"_index": action.Index,
				"_id":    action.ID,
			},
		}
		metaLine, err := json.Marshal(meta)
		if err != nil {
			return nil, fmt.Errorf("marshaling bulk meta: %w", err)
		}
		buf.Write(metaLine)
		buf.WriteByte('\n')

		if action.Action != "delete" && action.Body != nil {
			bodyLine, err := json.Marshal(action.Body)
			if err != nil {
				return nil, fmt.Errorf("marshaling bulk body: %w", err)
			}
			buf.Write(bodyLine)
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes(), nil
}

const recipeMapping = `{
  "mappings": {
    "properties": {
      "id":          {"type": "keyword"},
      "title":       {"type": "text"},
      "description": {"type": "text"},
      "cuisine":     {"type": "text"},
      "category":    {"type": "keyword"},
      "ingredients": {"type": "text"},
      "created_at":  {"type": "date"}
    }
  }
}`

// EnsureIndex creates the recipe index with its mapping if it is missing.
func (c *Client) EnsureIndex(ctx context.Context) error {
	res, err := c.es.Indices.Exists([]string{c.cfg.Index}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("checking index %s: %w", c.cfg.Index, err)
	}
	res.Body.Close()
	if res.StatusCode == 200 {
		return nil
	}

	res, err = c.es.Indices.Create(c.cfg.Index,
		c.es.Indices.Create.WithContext(ctx),
		c.es.Indices.Create.WithBody(strings.NewReader(recipeMapping)),
	)
	if err != nil {
		return fmt.Errorf("creating index %s: %w", c.cfg.Index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		return fmt.Errorf("create index status=%s body=%s", res.Status(), string(bodyBytes))
	}

	c.logger.Info("elasticsearch index created", zap.String("index", c.cfg.Index))
	return nil
}

func (c *Client) Index() string {
	return c.cfg.Index
}

func (c *Client) HealthCheck(ctx context.Context) (string, error) {
	res, err := c.es.Cluster.Health(
		c.es.Cluster.Health.WithContext(ctx),
	)
	if err != nil {
		return "red", fmt.Errorf("es health check: %w", err)
	}
	defer res.Body.Close()

	var health struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(res.Body).Decode(&health); err != nil {
		return "red", fmt.Errorf("decoding health response: %w", err)
	}
	return health.Status, nil
}

type esSearchResponse struct {
	Took     int64 `json:"took"`
	TimedOut bool  `json:"timed_out"`
	Hits     struct {
		Hits []esHit `json:"hits"`
	} `json:"hits"`
}

type esHit struct {
	ID     string                `json:"_id"`
	Score  float64               `json:"_score"`
	Source models.RecipeDocument `json:"_source"`
}

type bulkResponse struct {
	Errors bool                        `json:"errors"`
	Items  []map[string]bulkItemResult `json:"items"`
}

type bulkItemResult struct {
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Error  *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error,omitempty"`
}
