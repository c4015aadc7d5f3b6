package elasticsearch

import (
	"github.com/shubhsaxena/recipe-finder/internal/models"
)

const (
	titleBoost       = 3.0
	descriptionBoost = 2.0
)

// buildFilterQuery renders a RecipeFilter as a search body. Substring
// predicates become phrase matches; ranking terms become boosted should
// clauses so title matches outrank description matches.
func buildFilterQuery(f *models.RecipeFilter) map[string]any {
	var filters []any
	var mustNot []any

	if len(f.Cuisines) > 0 {
		filters = append(filters, anyPhrase("cuisine", f.Cuisines))
	}
	if len(f.IncludeIngredients) > 0 {
		filters = append(filters, anyPhrase("ingredients", f.IncludeIngredients))
	}
	for _, term := range f.ExcludeIngredients {
		mustNot = append(mustNot, matchPhrase("ingredients", term, 0))
	}
	if len(f.TextTerms) > 0 {
		filters = append(filters, anyMultiPhrase(f.TextTerms, "title", "description"))
	}
	if len(f.Keywords) > 0 {
		filters = append(filters, anyMultiPhrase(f.Keywords, "title", "description", "cuisine", "ingredients"))
	}

	boolQuery := map[string]any{}
	if len(filters) > 0 {
		boolQuery["filter"] = filters
	}
	if len(mustNot) > 0 {
		boolQuery["must_not"] = mustNot
	}

	sort := []any{map[string]any{"created_at": map[string]any{"order": "desc"}}}
	if len(f.RankTerms) > 0 {
		var should []any
		for _, term := range f.RankTerms {
			should = append(should,
				matchPhrase("title", term, titleBoost),
				matchPhrase("description", term, descriptionBoost),
			)
		}
		boolQuery["should"] = should
		sort = append([]any{"_score"}, sort...)
	}

	var query map[string]any
	if len(boolQuery) == 0 {
		query = map[string]any{"match_all": map[string]any{}}
	} else {
		query = map[string]any{"bool": boolQuery}
	}

	return map[string]any{
		"query": query,
		"sort":  sort,
		"size":  f.Limit,
	}
}

func proteinFilter(terms []string, titleDescRequired bool, limit int) *models.RecipeFilter {
	f := &models.RecipeFilter{
		IncludeIngredients: terms,
		RankTerms:          terms,
		Limit:              limit,
	}
	if titleDescRequired {
		f.TextTerms = terms
	}
	return f
}

func matchPhrase(field, term string, boost float64) map[string]any {
	body := map[string]any{"query": term}
	if boost > 0 {
		body["boost"] = boost
	}
	return map[string]any{"match_phrase": map[string]any{field: body}}
}

func anyPhrase(field string, terms []string) map[string]any {
	should := make([]any, 0, len(terms))
	for _, t := range terms {
		should = append(should, matchPhrase(field, t, 0))
	}
	return map[string]any{"bool": map[string]any{
		"should":               should,
		"minimum_should_match": 1,
	}}
}

func anyMultiPhrase(terms []string, fields ...string) map[string]any {
	should := make([]any, 0, len(terms))
	for _, t := range terms {
		should = append(should, map[string]any{"multi_match": map[string]any{
			"query":  t,
			"type":   "phrase",
			"fields": fields,
		}})
	}
	return map[string]any{"bool": map[string]any{
		"should":               should,
		"minimum_should_match": 1,
	}}
}
