package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shubhsaxena/recipe-finder/internal/cache"
	"github.com/shubhsaxena/recipe-finder/internal/config"
	"github.com/shubhsaxena/recipe-finder/internal/glossary"
	"github.com/shubhsaxena/recipe-finder/internal/llm"
	"github.com/shubhsaxena/recipe-finder/internal/models"
	"github.com/shubhsaxena/recipe-finder/internal/observability"
	"github.com/shubhsaxena/recipe-finder/internal/resilience"
)

// RecipeRepository executes recipe searches. An empty filter returns the
// most recent recipes.
type RecipeRepository interface {
	FindRecipesByFilter(ctx context.Context, filter *models.RecipeFilter) ([]models.RecipeSummary, error)
	FindRecipesByProteinTerms(ctx context.Context, terms []string, titleDescRequired bool, limit int) ([]models.RecipeSummary, error)
	FindRecipesByText(ctx context.Context, text string, limit int) ([]models.RecipeSummary, error)
}

// EventPublisher receives one event per finished search.
type EventPublisher interface {
	PublishSearchEvent(ctx context.Context, event *models.SearchEvent) error
}

// Publishers fans a search event out to every publisher in order.
type Publishers []EventPublisher

func (p Publishers) PublishSearchEvent(ctx context.Context, event *models.SearchEvent) error {
	var errs []error
	for _, pub := range p {
		if err := pub.PublishSearchEvent(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type strategy struct {
	method models.SearchMethod
	run    func(ctx context.Context) ([]models.RecipeSummary, error)
	// unbounded strategies manage their own deadlines and skip QueryTimeout.
	unbounded bool
}

// outcome collects what the strategies of one search learned along the way.
type outcome struct {
	mu          sync.Mutex
	intent      *models.SearchIntent
	explanation string
	modelUsed   bool
}

func (o *outcome) set(intent *models.SearchIntent, explanation string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.intent = intent
	o.explanation = explanation
}

type Orchestrator struct {
	repo       RecipeRepository
	client     llm.CompletionClient
	glossary   *glossary.Glossary
	extractor  *IntentExtractor
	classifier *QueryClassifier
	parser     *QueryParser
	builder    *QueryBuilder
	heuristics *QueryBuilder
	breaker    *resilience.AvailabilityBreaker
	cache      *cache.ResultCache
	slowQuery  *observability.SlowQueryDetector
	events     EventPublisher
	cfg        config.SearchConfig
	logger     *zap.Logger
}

// New wires a search orchestrator. client, gloss, slowQuery and events may
// be nil: without a client every query takes the heuristic path, without a
// glossary the glossary tier is skipped.
func New(
	repo RecipeRepository,
	client llm.CompletionClient,
	gloss *glossary.Glossary,
	slowQuery *observability.SlowQueryDetector,
	events EventPublisher,
	cfg config.SearchConfig,
	llmOpts llm.CompletionOptions,
	logger *zap.Logger,
) *Orchestrator {
	o := &Orchestrator{
		repo:       repo,
		client:     client,
		glossary:   gloss,
		classifier: NewQueryClassifier(),
		parser:     NewQueryParser(),
		builder:    NewQueryBuilder(cfg.DefaultCuisine, cfg.ResultLimit),
		heuristics: NewQueryBuilder("", cfg.ResultLimit),
		breaker:    resilience.NewAvailabilityBreaker("llm", cfg.ModelBreaker, logger),
		cache:      cache.NewResultCache(cfg.CacheTTL, cfg.CacheMaxEntries, logger),
		slowQuery:  slowQuery,
		events:     events,
		cfg:        cfg,
		logger:     logger,
	}
	if client != nil {
		o.extractor = NewIntentExtractor(client, llmOpts, cfg.HeuristicDefaultIngredient, logger)
	}
	if cfg.DefaultCuisine != "" {
		logger.Info("default cuisine applied to model filters without a cuisine",
			zap.String("cuisine", cfg.DefaultCuisine),
		)
	}
	return o
}

// Start runs the cache sweeper until ctx is done.
func (o *Orchestrator) Start(ctx context.Context) {
	interval := o.cfg.CacheSweep
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	o.cache.Run(ctx, interval)
}

// InvalidateCache drops every cached result, e.g. after recipes change.
func (o *Orchestrator) InvalidateCache() {
	o.cache.Purge()
}

func (o *Orchestrator) BreakerState() models.BreakerState {
	return o.breaker.State()
}

// Search never fails: every tier error moves on to the next tier and the
// last tier's failure yields an empty result.
func (o *Orchestrator) Search(ctx context.Context, req *models.SearchRequest) *models.SearchResponse {
	start := time.Now()
	query := strings.TrimSpace(req.Query)
	ctx, span := observability.StartSpan(ctx, "orchestrator.search",
		attribute.String("query_hash", observability.HashQuery(query)),
	)
	defer span.End()

	complexity := o.classifier.Classify(query)
	resp := &models.SearchResponse{
		Query:     req.Query,
		RequestID: req.RequestID,
	}

	if entry, ok := o.cache.Get(query); ok {
		resp.Results = entry.Results
		resp.Total = len(entry.Results)
		resp.Method = entry.Method
		resp.Explanation = entry.Explanation
		resp.Intent = entry.Intent
		resp.CacheHit = true
		o.finish(ctx, resp, complexity, false, start)
		return resp
	}

	out := &outcome{}
	strategies := o.plan(query, complexity, out)

	var results []models.RecipeSummary
	method := strategies[len(strategies)-1].method
	for i, s := range strategies {
		found, err := o.runStrategy(ctx, s)
		if err != nil {
			o.logger.Warn("search strategy failed",
				zap.String("method", string(s.method)),
				zap.String("trace_id", observability.TraceIDFromContext(ctx)),
				zap.Error(err),
			)
		}
		if err == nil && len(found) > 0 {
			results = found
			method = s.method
			break
		}
		if i < len(strategies)-1 {
			observability.FallbackCounter.WithLabelValues(string(s.method), string(strategies[i+1].method)).Inc()
		}
	}

	if results == nil {
		results = []models.RecipeSummary{}
	}
	if len(results) > o.builder.Limit() {
		results = results[:o.builder.Limit()]
	}

	out.mu.Lock()
	resp.Results = results
	resp.Total = len(results)
	resp.Method = method
	resp.Intent = out.intent
	resp.Explanation = out.explanation
	modelUsed := out.modelUsed
	out.mu.Unlock()

	if query != "" && len(results) > 0 {
		o.cache.Put(query, models.CacheEntry{
			Results:     results,
			Intent:      resp.Intent,
			Method:      method,
			Explanation: resp.Explanation,
		})
	}

	o.finish(ctx, resp, complexity, modelUsed, start)
	return resp
}

func (o *Orchestrator) plan(query string, complexity models.QueryComplexity, out *outcome) []strategy {
	if query == "" {
		return []strategy{{method: models.MethodFallback, run: func(ctx context.Context) ([]models.RecipeSummary, error) {
			out.set(nil, "Most recent recipes")
			return o.repo.FindRecipesByFilter(ctx, &models.RecipeFilter{Limit: o.builder.Limit()})
		}}}
	}

	if complexity == models.QueryComplex && o.extractor != nil && o.breaker.IsAvailable() {
		return []strategy{
			{method: models.MethodAI, unbounded: true, run: func(ctx context.Context) ([]models.RecipeSummary, error) {
				return o.modelSearch(ctx, query, out)
			}},
			{method: models.MethodFallback, unbounded: true, run: func(ctx context.Context) ([]models.RecipeSummary, error) {
				return o.heuristicSearch(ctx, query, out)
			}},
		}
	}

	return o.heuristicStrategies(query, out)
}

func (o *Orchestrator) heuristicStrategies(query string, out *outcome) []strategy {
	return []strategy{
		{method: models.MethodGlossary, run: func(ctx context.Context) ([]models.RecipeSummary, error) {
			return o.glossarySearch(ctx, query, out)
		}},
		{method: models.MethodOptimized, run: func(ctx context.Context) ([]models.RecipeSummary, error) {
			return o.keywordSearch(ctx, query, out)
		}},
		{method: models.MethodFallback, run: func(ctx context.Context) ([]models.RecipeSummary, error) {
			return o.textSearch(ctx, query, out)
		}},
	}
}

// runStrategy applies QueryTimeout to bounded strategies. The model call has
// its own request timeout and is never cut short by it.
func (o *Orchestrator) runStrategy(ctx context.Context, s strategy) ([]models.RecipeSummary, error) {
	if s.unbounded {
		return s.run(ctx)
	}
	ctx, cancel := o.withQueryTimeout(ctx)
	defer cancel()
	return s.run(ctx)
}

func (o *Orchestrator) withQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.cfg.QueryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, o.cfg.QueryTimeout)
}

type extraction struct {
	intent *models.SearchIntent
	source IntentSource
}

// extractIntent asks the model for an intent under the availability breaker.
// A failed residency check or model error counts against the breaker unless
// the caller went away.
func (o *Orchestrator) extractIntent(ctx context.Context, query string) (*models.SearchIntent, IntentSource, error) {
	res, err := o.breaker.Execute(func() (any, error) {
		if !o.client.EnsureModelAvailable(ctx) {
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil, ctx.Err()
			}
			return nil, llm.ErrUnavailable
		}
		intent, source, err := o.extractor.Extract(ctx, query)
		if err != nil {
			return nil, err
		}
		return extraction{intent: intent, source: source}, nil
	})
	if err != nil {
		return nil, "", err
	}
	ex := res.(extraction)
	return ex.intent, ex.source, nil
}

func (o *Orchestrator) modelSearch(ctx context.Context, query string, out *outcome) ([]models.RecipeSummary, error) {
	intent, source, err := o.extractIntent(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("extracting intent: %w", err)
	}

	out.mu.Lock()
	out.modelUsed = true
	out.mu.Unlock()

	explanation := intent.Explanation
	if source == SourceHeuristic {
		explanation = "Model output was unusable; " + strings.ToLower(explanation)
	}
	out.set(intent, explanation)

	filter := o.builder.Build(intent, query)
	qctx, cancel := o.withQueryTimeout(ctx)
	defer cancel()
	results, err := o.repo.FindRecipesByFilter(qctx, filter)
	if err != nil {
		return nil, fmt.Errorf("model filter search: %w", err)
	}
	return results, nil
}

// heuristicSearch runs the heuristic tiers in order and returns the first
// non-empty result.
func (o *Orchestrator) heuristicSearch(ctx context.Context, query string, out *outcome) ([]models.RecipeSummary, error) {
	var errs []error
	for _, s := range o.heuristicStrategies(query, out) {
		results, err := o.runStrategy(ctx, s)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.method, err))
			continue
		}
		if len(results) > 0 {
			return results, nil
		}
	}
	return nil, errors.Join(errs...)
}

func (o *Orchestrator) glossarySearch(ctx context.Context, query string, out *outcome) ([]models.RecipeSummary, error) {
	if o.glossary == nil {
		return nil, nil
	}

	parsed := o.parser.Parse(query)
	intent := models.NewSearchIntent()
	var related []string
	var matched []string

	consumed := make(map[string]bool)
	for _, candidate := range longestFirst(glossary.ExtractCandidateTerms(parsed.Remainder)) {
		words := strings.Fields(candidate)
		if allConsumed(words, consumed) {
			continue
		}

		if members := o.glossary.ResolveCategory(ctx, candidate); len(members) > 0 {
			intent.IncludeIngredients = append(intent.IncludeIngredients, members...)
			matched = append(matched, candidate)
			markConsumed(words, consumed)
			continue
		}

		term, ok := o.glossary.Lookup(ctx, candidate)
		if !ok {
			continue
		}
		matched = append(matched, term.Canonical)
		markConsumed(words, consumed)

		switch term.Type {
		case models.TermCuisine:
			intent.Cuisines = append(intent.Cuisines, term.Canonical)
			related = append(related, o.glossary.RelatedDishes(ctx, term.Canonical)...)
		case models.TermDish:
			intent.MainDish = append(intent.MainDish, o.glossary.Expand(ctx, term.Canonical)...)
		default:
			intent.IncludeIngredients = append(intent.IncludeIngredients, o.glossary.Expand(ctx, term.Canonical)...)
		}
	}

	if len(matched) == 0 {
		return nil, nil
	}

	for _, neg := range parsed.Negative {
		intent.ExcludeIngredients = append(intent.ExcludeIngredients, o.glossary.Expand(ctx, neg)...)
		intent.ExcludeIngredients = append(intent.ExcludeIngredients, o.glossary.ResolveCategory(ctx, neg)...)
	}
	detectDietary(parsed.Normalized, intent)
	ProcessDietary(query, intent)
	intent.Explanation = "Matched glossary terms: " + strings.Join(models.CleanTerms(matched), ", ")

	filter := o.heuristics.Build(intent, query)
	filter.RankTerms = models.CleanTerms(append(filter.RankTerms, related...))
	if filter.IsEmpty() {
		return nil, nil
	}

	results, err := o.repo.FindRecipesByFilter(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("glossary filter search: %w", err)
	}
	if len(results) > 0 {
		out.set(intent, intent.Explanation)
	}
	return results, nil
}

func (o *Orchestrator) keywordSearch(ctx context.Context, query string, out *outcome) ([]models.RecipeSummary, error) {
	parsed := o.parser.Parse(query)

	if parsed.ProteinOnly {
		results, err := o.proteinSearch(ctx, parsed.Proteins)
		if len(results) > 0 {
			out.set(nil, "Recipes featuring "+strings.Join(parsed.Proteins, " or "))
		}
		return results, err
	}

	if len(parsed.Positive) == 0 {
		return nil, nil
	}

	negative := parsed.Negative
	if o.glossary != nil {
		expanded := make([]string, 0, len(negative))
		for _, neg := range negative {
			expanded = append(expanded, o.glossary.Expand(ctx, neg)...)
		}
		negative = expanded
	}

	results, err := o.repo.FindRecipesByFilter(ctx, o.builder.KeywordFilter(parsed.Positive, negative))
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	if len(results) > 0 {
		explanation := "Keyword match on " + strings.Join(parsed.Positive, ", ")
		if len(parsed.Negative) > 0 {
			explanation += " excluding " + strings.Join(parsed.Negative, ", ")
		}
		out.set(nil, explanation)
	}
	return results, nil
}

// proteinSearch requires the protein in an ingredient and in the title or
// description, relaxing to ingredient-only when that finds too little. If
// the combined query fails, each protein is searched separately and the
// results merged.
func (o *Orchestrator) proteinSearch(ctx context.Context, proteins []string) ([]models.RecipeSummary, error) {
	limit := o.builder.Limit()
	threshold := o.cfg.ProteinRelaxThreshold
	if threshold <= 0 {
		threshold = 5
	}

	results, err := o.repo.FindRecipesByProteinTerms(ctx, proteins, true, limit)
	if err != nil {
		o.logger.Warn("combined protein search failed, searching per protein",
			zap.Strings("proteins", proteins),
			zap.Error(err),
		)
		return o.proteinUnion(ctx, proteins)
	}

	if len(results) < threshold {
		relaxed, err := o.repo.FindRecipesByProteinTerms(ctx, proteins, false, limit)
		if err != nil {
			o.logger.Warn("relaxed protein search failed", zap.Error(err))
		} else if len(relaxed) > len(results) {
			results = relaxed
		}
	}
	return results, nil
}

func (o *Orchestrator) proteinUnion(ctx context.Context, proteins []string) ([]models.RecipeSummary, error) {
	limit := o.builder.Limit()
	perTerm := make([][]models.RecipeSummary, len(proteins))
	failures := make([]error, len(proteins))

	var g errgroup.Group
	for i, term := range proteins {
		g.Go(func() error {
			found, err := o.repo.FindRecipesByProteinTerms(ctx, []string{term}, false, limit)
			if err != nil {
				failures[i] = fmt.Errorf("protein %s: %w", term, err)
				return nil
			}
			perTerm[i] = found
			return nil
		})
	}
	_ = g.Wait()

	seen := make(map[string]bool)
	var union []models.RecipeSummary
	for _, found := range perTerm {
		for _, r := range found {
			if seen[r.ID] || len(union) >= limit {
				continue
			}
			seen[r.ID] = true
			union = append(union, r)
		}
	}
	if len(union) == 0 {
		return nil, errors.Join(failures...)
	}
	return union, nil
}

func (o *Orchestrator) textSearch(ctx context.Context, query string, out *outcome) ([]models.RecipeSummary, error) {
	results, err := o.repo.FindRecipesByText(ctx, strings.ToLower(query), o.builder.Limit())
	if err != nil {
		return nil, fmt.Errorf("text search: %w", err)
	}
	if len(results) > 0 {
		out.set(nil, "Recipes mentioning \""+query+"\"")
	}
	return results, nil
}

func (o *Orchestrator) finish(ctx context.Context, resp *models.SearchResponse, complexity models.QueryComplexity, modelUsed bool, start time.Time) {
	took := time.Since(start)
	resp.TookMs = took.Milliseconds()

	observability.SearchRequestsTotal.WithLabelValues(complexity.String(), string(resp.Method)).Inc()
	status := "hit"
	if resp.Total == 0 {
		status = "empty"
	}
	if resp.CacheHit {
		status = "cache_hit"
	}
	observability.SearchRequestDuration.WithLabelValues(complexity.String(), string(resp.Method), status).Observe(took.Seconds())

	o.logger.Debug("search finished",
		zap.String("trace_id", observability.TraceIDFromContext(ctx)),
		zap.String("complexity", complexity.String()),
		zap.String("method", string(resp.Method)),
		zap.Int("results", resp.Total),
		zap.Bool("cache_hit", resp.CacheHit),
		zap.Duration("took", took),
	)

	if o.slowQuery != nil {
		o.slowQuery.Intercept(ctx, resp.Query, complexity.String(), resp.Method, took, resp.Total)
	}

	if o.events != nil {
		event := &models.SearchEvent{
			QueryHash:   observability.HashQuery(resp.Query),
			Query:       strings.ToLower(strings.TrimSpace(resp.Query)),
			Complexity:  complexity.String(),
			Method:      resp.Method,
			ResultCount: resp.Total,
			CacheHit:    resp.CacheHit,
			ModelUsed:   modelUsed,
			DurationMs:  float64(took.Milliseconds()),
			Timestamp:   time.Now().UTC(),
			TraceID:     observability.TraceIDFromContext(ctx),
		}
		if err := o.events.PublishSearchEvent(ctx, event); err != nil {
			o.logger.Debug("search event not published", zap.Error(err))
		}
	}
}

// longestFirst orders candidate phrases by word count, longest first, keeping
// the original order among equals.
func longestFirst(candidates []string) []string {
	out := make([]string, 0, len(candidates))
	for n := 3; n >= 1; n-- {
		for _, c := range candidates {
			if wc := len(strings.Fields(c)); wc == n || (n == 3 && wc > 3) {
				out = append(out, c)
			}
		}
	}
	return out
}

func allConsumed(words []string, consumed map[string]bool) bool {
	for _, w := range words {
		if !consumed[w] {
			return false
		}
	}
	return true
}

func markConsumed(words []string, consumed map[string]bool) {
	for _, w := range words {
		consumed[w] = true
	}
}
