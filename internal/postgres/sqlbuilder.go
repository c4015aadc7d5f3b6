package postgres

import (
	"strconv"
	"strings"

	"github.com/shubhsaxena/recipe-finder/internal/models"
)

const (
	recipeColumns = `r.id::text, r.title, COALESCE(r.description, ''), COALESCE(r.cuisine, ''), COALESCE(r.category, ''), r.created_at`

	ingredientMatch = `SELECT 1 FROM recipe_ingredients ri JOIN ingredients i ON i.id = ri.ingredient_id WHERE ri.recipe_id = r.id AND i.name ILIKE `
)

// sqlBuilder accumulates WHERE conditions and their arguments. Every call to
// bind allocates the next placeholder, so no clause shares a bind position.
type sqlBuilder struct {
	conds []string
	args  []any
	order string
}

func (b *sqlBuilder) bind(v any) string {
	b.args = append(b.args, v)
	return "$" + strconv.Itoa(len(b.args))
}

func (b *sqlBuilder) where(cond string) {
	b.conds = append(b.conds, cond)
}

// anyOf binds terms as a text[] of ILIKE substring patterns.
func (b *sqlBuilder) anyOf(terms []string) string {
	return "ANY(" + b.bind(likePatterns(terms)) + ")"
}

func (b *sqlBuilder) cuisineIn(terms []string) {
	if len(terms) == 0 {
		return
	}
	b.where("r.cuisine ILIKE " + b.anyOf(terms))
}

func (b *sqlBuilder) hasIngredient(terms []string) {
	if len(terms) == 0 {
		return
	}
	b.where("EXISTS (" + ingredientMatch + b.anyOf(terms) + ")")
}

// lacksIngredients adds one NOT EXISTS per term: a recipe joining to any of
// the terms is dropped.
func (b *sqlBuilder) lacksIngredients(terms []string) {
	for _, t := range terms {
		b.where("NOT EXISTS (" + ingredientMatch + b.bind(likePattern(t)) + ")")
	}
}

func (b *sqlBuilder) titleOrDescription(terms []string) {
	if len(terms) == 0 {
		return
	}
	b.where("(r.title ILIKE " + b.anyOf(terms) + " OR r.description ILIKE " + b.anyOf(terms) + ")")
}

func (b *sqlBuilder) keywords(terms []string) {
	if len(terms) == 0 {
		return
	}
	b.where("(r.title ILIKE " + b.anyOf(terms) +
		" OR r.description ILIKE " + b.anyOf(terms) +
		" OR r.cuisine ILIKE " + b.anyOf(terms) +
		" OR EXISTS (" + ingredientMatch + b.anyOf(terms) + "))")
}

// rankBy orders title matches first, then description matches, then the
// rest, newest first within each group.
func (b *sqlBuilder) rankBy(terms []string) {
	if len(terms) == 0 {
		b.order = "r.created_at DESC"
		return
	}
	b.order = "CASE WHEN r.title ILIKE " + b.anyOf(terms) +
		" THEN 0 WHEN r.description ILIKE " + b.anyOf(terms) +
		" THEN 1 ELSE 2 END, r.created_at DESC"
}

func (b *sqlBuilder) selectRecipes(limit int) (string, []any) {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(recipeColumns)
	sb.WriteString(" FROM recipes r")
	if len(b.conds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(b.conds, " AND "))
	}
	order := b.order
	if order == "" {
		order = "r.created_at DESC"
	}
	sb.WriteString(" ORDER BY ")
	sb.WriteString(order)
	sb.WriteString(" LIMIT ")
	sb.WriteString(b.bind(limit))
	return sb.String(), b.args
}

// filterQuery renders a RecipeFilter. Rules are emitted in a fixed order:
// cuisine, included ingredients, excluded ingredients, free text, keywords.
func filterQuery(f *models.RecipeFilter) (string, []any) {
	b := &sqlBuilder{}
	b.cuisineIn(f.Cuisines)
	b.hasIngredient(f.IncludeIngredients)
	b.lacksIngredients(f.ExcludeIngredients)
	b.titleOrDescription(f.TextTerms)
	b.keywords(f.Keywords)
	b.rankBy(f.RankTerms)
	return b.selectRecipes(f.Limit)
}

func proteinQuery(terms []string, titleDescRequired bool, limit int) (string, []any) {
	b := &sqlBuilder{}
	b.hasIngredient(terms)
	if titleDescRequired {
		b.titleOrDescription(terms)
	}
	b.rankBy(terms)
	return b.selectRecipes(limit)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(term string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(strings.TrimSpace(term))) + "%"
}

func likePatterns(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		out = append(out, likePattern(t))
	}
	return out
}
