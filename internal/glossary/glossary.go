// Package glossary resolves free-text food terms against the curated term
// glossary: spelling variants, categories and cuisine-to-dish relations.
package glossary

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/shubhsaxena/recipe-finder/internal/models"
)

const RelationIncludesDish = "includes_dish"

// Store is the read side of the glossary tables. Lookups are
// case-insensitive; a missing term is (nil, nil).
type Store interface {
	LookupVariant(ctx context.Context, term string) (*models.GlossaryTerm, error)
	Variants(ctx context.Context, canonical string) ([]string, error)
	RelatedTerms(ctx context.Context, canonical, relation string) ([]models.TermRelation, error)
	CategoryMembers(ctx context.Context, category string) ([]string, error)
}

// Glossary wraps a Store. Store failures are logged and treated as no match.
type Glossary struct {
	store  Store
	logger *zap.Logger
}

func New(store Store, logger *zap.Logger) *Glossary {
	return &Glossary{store: store, logger: logger}
}

func (g *Glossary) Lookup(ctx context.Context, term string) (*models.GlossaryTerm, bool) {
	term = normalize(term)
	if term == "" {
		return nil, false
	}
	gt, err := g.store.LookupVariant(ctx, term)
	if err != nil {
		g.logger.Warn("glossary lookup failed", zap.String("term", term), zap.Error(err))
		return nil, false
	}
	if gt == nil {
		return nil, false
	}
	return gt, true
}

// Standardize maps a term or any of its variants to the canonical term.
func (g *Glossary) Standardize(ctx context.Context, term string) (string, bool) {
	gt, ok := g.Lookup(ctx, term)
	if !ok {
		return "", false
	}
	return gt.Canonical, true
}

func (g *Glossary) VariantsOf(ctx context.Context, canonical string) []string {
	canonical = normalize(canonical)
	variants, err := g.store.Variants(ctx, canonical)
	if err != nil {
		g.logger.Warn("glossary variants failed", zap.String("term", canonical), zap.Error(err))
		return nil
	}
	return variants
}

// RelatedDishes lists the dishes related to a cuisine, strongest first.
func (g *Glossary) RelatedDishes(ctx context.Context, cuisine string) []string {
	canonical, ok := g.Standardize(ctx, cuisine)
	if !ok {
		canonical = normalize(cuisine)
	}
	relations, err := g.store.RelatedTerms(ctx, canonical, RelationIncludesDish)
	if err != nil {
		g.logger.Warn("glossary relations failed", zap.String("cuisine", canonical), zap.Error(err))
		return nil
	}

	sort.SliceStable(relations, func(i, j int) bool {
		return relations[i].Strength > relations[j].Strength
	})

	dishes := make([]string, 0, len(relations))
	for _, r := range relations {
		if r.Type != RelationIncludesDish {
			continue
		}
		dishes = append(dishes, r.Target)
	}
	return models.CleanTerms(dishes)
}

// Expand returns the canonical form of term plus all of its variants. The
// result always contains the input term.
func (g *Glossary) Expand(ctx context.Context, term string) []string {
	term = normalize(term)
	if term == "" {
		return nil
	}
	canonical, ok := g.Standardize(ctx, term)
	if !ok {
		canonical = term
	}
	out := []string{term, canonical}
	out = append(out, g.VariantsOf(ctx, canonical)...)
	return models.CleanTerms(out)
}

func (g *Glossary) ResolveCategory(ctx context.Context, category string) []string {
	category = normalize(category)
	if category == "" {
		return nil
	}
	members, err := g.store.CategoryMembers(ctx, category)
	if err != nil {
		g.logger.Warn("glossary category failed", zap.String("category", category), zap.Error(err))
		return nil
	}
	return models.CleanTerms(members)
}

var connectors = map[string]bool{
	"and": true, "or": true, "with": true, "without": true, "not": true, "but": true,
}

// ExtractCandidateTerms lists the phrases of a query worth checking against
// the glossary: the whole query, each meaningful word, then every 2- and
// 3-word window so multi-word terms such as "bell pepper" are found.
func ExtractCandidateTerms(query string) []string {
	words := tokenize(query)
	if len(words) == 0 {
		return nil
	}

	candidates := []string{strings.Join(words, " ")}
	for _, w := range words {
		if len(w) > 2 && !connectors[w] {
			candidates = append(candidates, w)
		}
	}
	for size := 2; size <= 3; size++ {
		for i := 0; i+size <= len(words); i++ {
			candidates = append(candidates, strings.Join(words[i:i+size], " "))
		}
	}
	return models.CleanTerms(candidates)
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
