package models

import (
	"strings"
	"time"
)

type QueryComplexity int

const (
	QuerySimple QueryComplexity = iota
	QueryComplex
)

func (c QueryComplexity) String() string {
	switch c {
	case QuerySimple:
		return "simple"
	case QueryComplex:
		return "complex"
	default:
		return "unknown"
	}
}

type SearchMethod string

const (
	MethodAI        SearchMethod = "ai"
	MethodGlossary  SearchMethod = "glossary"
	MethodOptimized SearchMethod = "optimized"
	MethodFallback  SearchMethod = "fallback"
)

type SearchRequest struct {
	Query     string `json:"query"`
	RequestID string `json:"request_id,omitempty"`
}

type SearchResponse struct {
	Query       string          `json:"query"`
	Results     []RecipeSummary `json:"results"`
	Total       int             `json:"total"`
	Method      SearchMethod    `json:"method"`
	Explanation string          `json:"explanation,omitempty"`
	Intent      *SearchIntent   `json:"intent,omitempty"`
	CacheHit    bool            `json:"cache_hit"`
	TookMs      int64           `json:"took_ms"`
	RequestID   string          `json:"request_id,omitempty"`
}

type RecipeSummary struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Cuisine     string    `json:"cuisine,omitempty"`
	Category    string    `json:"category,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

type DietaryTag struct {
	Name  string `json:"name"`
	Value bool   `json:"value"`
}

type SearchIntent struct {
	MainDish           []string     `json:"mainDish"`
	Cuisines           []string     `json:"cuisines"`
	IncludeIngredients []string     `json:"includeIngredients"`
	ExcludeIngredients []string     `json:"excludeIngredients"`
	DietaryPreferences []DietaryTag `json:"dietaryPreferences"`
	CookingMethods     []string     `json:"cookingMethods"`
	Explanation        string       `json:"explanation"`
}

func NewSearchIntent() *SearchIntent {
	intent := &SearchIntent{}
	intent.Normalize()
	return intent
}

// Normalize lower-cases and dedups every term list, replaces nil lists with
// empty ones and drops included ingredients that are also excluded.
func (si *SearchIntent) Normalize() {
	si.MainDish = CleanTerms(si.MainDish)
	si.Cuisines = CleanTerms(si.Cuisines)
	si.IncludeIngredients = CleanTerms(si.IncludeIngredients)
	si.ExcludeIngredients = CleanTerms(si.ExcludeIngredients)
	si.CookingMethods = CleanTerms(si.CookingMethods)

	tags := make([]DietaryTag, 0, len(si.DietaryPreferences))
	seen := make(map[string]int, len(si.DietaryPreferences))
	for _, tag := range si.DietaryPreferences {
		name := strings.ToLower(strings.TrimSpace(tag.Name))
		if name == "" {
			continue
		}
		if idx, ok := seen[name]; ok {
			tags[idx].Value = tags[idx].Value || tag.Value
			continue
		}
		seen[name] = len(tags)
		tags = append(tags, DietaryTag{Name: name, Value: tag.Value})
	}
	si.DietaryPreferences = tags

	if len(si.ExcludeIngredients) == 0 {
		return
	}
	excluded := make(map[string]bool, len(si.ExcludeIngredients))
	for _, term := range si.ExcludeIngredients {
		excluded[term] = true
	}
	kept := si.IncludeIngredients[:0]
	for _, term := range si.IncludeIngredients {
		if !excluded[term] {
			kept = append(kept, term)
		}
	}
	si.IncludeIngredients = kept
}

func (si *SearchIntent) HasDietary(name string) bool {
	for _, tag := range si.DietaryPreferences {
		if strings.EqualFold(tag.Name, name) && tag.Value {
			return true
		}
	}
	return false
}

func (si *SearchIntent) SetDietary(name string, value bool) {
	for i, tag := range si.DietaryPreferences {
		if strings.EqualFold(tag.Name, name) {
			si.DietaryPreferences[i].Value = value
			return
		}
	}
	si.DietaryPreferences = append(si.DietaryPreferences, DietaryTag{Name: name, Value: value})
}

func (si *SearchIntent) Clone() *SearchIntent {
	if si == nil {
		return nil
	}
	cp := *si
	cp.MainDish = append([]string{}, si.MainDish...)
	cp.Cuisines = append([]string{}, si.Cuisines...)
	cp.IncludeIngredients = append([]string{}, si.IncludeIngredients...)
	cp.ExcludeIngredients = append([]string{}, si.ExcludeIngredients...)
	cp.DietaryPreferences = append([]DietaryTag{}, si.DietaryPreferences...)
	cp.CookingMethods = append([]string{}, si.CookingMethods...)
	return &cp
}

// CleanTerms trims, lower-cases and dedups terms, preserving first-seen order.
// The result is never nil.
func CleanTerms(terms []string) []string {
	out := make([]string, 0, len(terms))
	seen := make(map[string]bool, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

type TermType string

const (
	TermIngredient TermType = "ingredient"
	TermCuisine    TermType = "cuisine"
	TermDish       TermType = "dish"
)

type TermRelation struct {
	Type     string  `json:"type"`
	Target   string  `json:"target"`
	Strength float64 `json:"strength"`
}

type GlossaryTerm struct {
	Canonical string         `json:"canonical"`
	Type      TermType       `json:"type"`
	Category  string         `json:"category,omitempty"`
	Variants  []string       `json:"variants,omitempty"`
	Relations []TermRelation `json:"relations,omitempty"`
}

// RecipeFilter is the typed predicate set produced for a search. Repositories
// render it into their own query language.
type RecipeFilter struct {
	// Cuisines are OR-matched as case-insensitive substrings of the recipe cuisine.
	Cuisines []string
	// IncludeIngredients require at least one joined ingredient matching any term.
	IncludeIngredients []string
	// ExcludeIngredients drop a recipe if any joined ingredient matches any term.
	ExcludeIngredients []string
	// TextTerms are OR-matched against title and description.
	TextTerms []string
	// Keywords are OR-matched against title, description, cuisine and ingredient names.
	Keywords []string
	// RankTerms order results: title match, then description match, then the rest.
	RankTerms []string
	Limit     int
}

func (f *RecipeFilter) IsEmpty() bool {
	return len(f.Cuisines) == 0 && len(f.IncludeIngredients) == 0 &&
		len(f.ExcludeIngredients) == 0 && len(f.TextTerms) == 0 && len(f.Keywords) == 0
}

type CacheEntry struct {
	Timestamp   time.Time       `json:"timestamp"`
	Results     []RecipeSummary `json:"results"`
	Intent      *SearchIntent   `json:"intent,omitempty"`
	Method      SearchMethod    `json:"method"`
	Explanation string          `json:"explanation,omitempty"`
}

type BreakerState struct {
	ConsecutiveFailures int  `json:"consecutive_failures"`
	Available           bool `json:"available"`
}

type RecipeChangeEvent struct {
	Type      string          `json:"type"` // CREATE, UPDATE, DELETE
	RecipeID  string          `json:"recipe_id"`
	Recipe    *RecipeDocument `json:"recipe,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Version   int64           `json:"version"`
}

type RecipeDocument struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Cuisine     string    `json:"cuisine"`
	Category    string    `json:"category"`
	Ingredients []string  `json:"ingredients"`
	CreatedAt   time.Time `json:"created_at"`
}

type IndexAction struct {
	Action    string          `json:"action"` // index, delete
	Index     string          `json:"index"`
	ID        string          `json:"id"`
	Body      *RecipeDocument `json:"body,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

type SearchEvent struct {
	QueryHash   string       `json:"query_hash"`
	Query       string       `json:"query"`
	Complexity  string       `json:"complexity"`
	Method      SearchMethod `json:"method"`
	ResultCount int          `json:"result_count"`
	CacheHit    bool         `json:"cache_hit"`
	ModelUsed   bool         `json:"model_used"`
	DurationMs  float64      `json:"duration_ms"`
	Timestamp   time.Time    `json:"timestamp"`
	TraceID     string       `json:"trace_id,omitempty"`
}

type AnalyticsEvent struct {
	EventType  string    `json:"event_type"`
	QueryHash  string    `json:"query_hash"`
	QueryType  string    `json:"query_type"`
	Method     string    `json:"method"`
	DurationMs float64   `json:"duration_ms"`
	TotalHits  int64     `json:"total_hits"`
	Timestamp  time.Time `json:"timestamp"`
	TraceID    string    `json:"trace_id"`
}

type PopularQuery struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}
