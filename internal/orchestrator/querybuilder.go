package orchestrator

import (
	"strings"

	"github.com/shubhsaxena/recipe-finder/internal/models"
)

var dietaryExclusions = []struct {
	matches func(tag string) bool
	exclude []string
}{
	{
		matches: func(tag string) bool { return tag == "vegan" },
		exclude: []string{"meat", "chicken", "beef", "pork", "fish"},
	},
	{
		matches: func(tag string) bool { return tag == "vegetarian" },
		exclude: []string{"meat", "chicken", "beef"},
	},
	{
		matches: func(tag string) bool {
			return strings.Contains(tag, "gluten") && (strings.Contains(tag, "free") || tag == "gluten")
		},
		exclude: []string{"wheat", "flour", "bread"},
	},
	{
		matches: func(tag string) bool {
			return strings.Contains(tag, "lactose") || (strings.Contains(tag, "dairy") && strings.Contains(tag, "free"))
		},
		exclude: []string{"milk", "cheese", "cream", "butter"},
	},
}

// QueryBuilder turns a SearchIntent into a RecipeFilter. Rules are applied in
// a fixed order: cuisine, included ingredients, excluded ingredients, dietary
// shortcuts, free-text relevance, ranking.
type QueryBuilder struct {
	defaultCuisine string
	limit          int
}

func NewQueryBuilder(defaultCuisine string, limit int) *QueryBuilder {
	if limit <= 0 {
		limit = 20
	}
	return &QueryBuilder{
		defaultCuisine: strings.ToLower(strings.TrimSpace(defaultCuisine)),
		limit:          limit,
	}
}

func (qb *QueryBuilder) Build(intent *models.SearchIntent, rawQuery string) *models.RecipeFilter {
	filter := &models.RecipeFilter{Limit: qb.limit}
	if intent == nil {
		return filter
	}

	filter.Cuisines = models.CleanTerms(intent.Cuisines)
	if len(filter.Cuisines) == 0 && qb.defaultCuisine != "" {
		filter.Cuisines = []string{qb.defaultCuisine}
	}

	filter.IncludeIngredients = models.CleanTerms(intent.IncludeIngredients)

	exclude := append([]string{}, intent.ExcludeIngredients...)
	for _, tag := range intent.DietaryPreferences {
		if !tag.Value {
			continue
		}
		name := strings.ToLower(tag.Name)
		for _, rule := range dietaryExclusions {
			if rule.matches(name) {
				exclude = append(exclude, rule.exclude...)
			}
		}
	}
	filter.ExcludeIngredients = models.CleanTerms(exclude)
	filter.IncludeIngredients = without(filter.IncludeIngredients, filter.ExcludeIngredients)

	if len(intent.MainDish) > 0 || len(intent.CookingMethods) > 0 {
		text := append([]string{}, intent.MainDish...)
		text = append(text, intent.CookingMethods...)
		for _, ing := range filter.IncludeIngredients {
			if !strings.Contains(ing, " ") {
				text = append(text, ing)
			}
		}
		filter.TextTerms = models.CleanTerms(text)
	}

	rank := append([]string{}, intent.MainDish...)
	rank = append(rank, filter.IncludeIngredients...)
	rank = append(rank, filter.Cuisines...)
	filter.RankTerms = models.CleanTerms(rank)

	return filter
}

// KeywordFilter is the heuristic filter: any positive keyword may match
// title, description, cuisine or an ingredient, and negative terms are
// excluded as ingredients.
func (qb *QueryBuilder) KeywordFilter(positive, negative []string) *models.RecipeFilter {
	return &models.RecipeFilter{
		Keywords:           models.CleanTerms(positive),
		ExcludeIngredients: models.CleanTerms(negative),
		RankTerms:          models.CleanTerms(positive),
		Limit:              qb.limit,
	}
}

func (qb *QueryBuilder) Limit() int {
	return qb.limit
}

func without(terms, drop []string) []string {
	if len(drop) == 0 {
		return terms
	}
	skip := make(map[string]bool, len(drop))
	for _, d := range drop {
		skip[d] = true
	}
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if !skip[t] {
			out = append(out, t)
		}
	}
	return out
}
