package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/shubhsaxena/recipe-finder/internal/config"
	"github.com/shubhsaxena/recipe-finder/internal/models"
)

// GlossaryStore reads glossary_terms, glossary_variants and
// glossary_relations. All lookups are case-insensitive.
type GlossaryStore struct {
	pool  *pgxpool.Pool
	guard *guard
}

func NewGlossaryStore(pool *pgxpool.Pool, pgCfg config.PostgresConfig, searchCfg config.SearchConfig, logger *zap.Logger) *GlossaryStore {
	return &GlossaryStore{
		pool:  pool,
		guard: newGuard("postgres-glossary", pgCfg, searchCfg, logger),
	}
}

func (s *GlossaryStore) LookupVariant(ctx context.Context, term string) (*models.GlossaryTerm, error) {
	const query = `
		SELECT t.canonical, t.term_type, COALESCE(t.category, '')
		FROM glossary_terms t
		WHERE lower(t.canonical) = lower($1)
		UNION ALL
		SELECT t.canonical, t.term_type, COALESCE(t.category, '')
		FROM glossary_variants v
		JOIN glossary_terms t ON t.id = v.term_id
		WHERE lower(v.variant) = lower($2)
		LIMIT 1
	`

	return guarded(ctx, s.guard, "glossary_lookup", func(ctx context.Context) (*models.GlossaryTerm, error) {
		var gt models.GlossaryTerm
		var termType string
		err := s.pool.QueryRow(ctx, query, term, term).Scan(&gt.Canonical, &termType, &gt.Category)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("looking up glossary term %q: %w", term, err)
		}
		gt.Type = models.TermType(termType)
		return &gt, nil
	})
}

func (s *GlossaryStore) Variants(ctx context.Context, canonical string) ([]string, error) {
	const query = `
		SELECT v.variant
		FROM glossary_variants v
		JOIN glossary_terms t ON t.id = v.term_id
		WHERE lower(t.canonical) = lower($1)
		ORDER BY v.variant
	`
	return guarded(ctx, s.guard, "glossary_variants", func(ctx context.Context) ([]string, error) {
		rows, err := s.pool.Query(ctx, query, canonical)
		if err != nil {
			return nil, fmt.Errorf("querying variants of %q: %w", canonical, err)
		}
		variants, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return nil, fmt.Errorf("scanning variants: %w", err)
		}
		return variants, nil
	})
}

func (s *GlossaryStore) RelatedTerms(ctx context.Context, canonical, relation string) ([]models.TermRelation, error) {
	const query = `
		SELECT r.relation_type, rt.canonical, r.strength
		FROM glossary_relations r
		JOIN glossary_terms t ON t.id = r.term_id
		JOIN glossary_terms rt ON rt.id = r.related_term_id
		WHERE lower(t.canonical) = lower($1) AND r.relation_type = $2
		ORDER BY r.strength DESC
	`
	return guarded(ctx, s.guard, "glossary_relations", func(ctx context.Context) ([]models.TermRelation, error) {
		rows, err := s.pool.Query(ctx, query, canonical, relation)
		if err != nil {
			return nil, fmt.Errorf("querying relations of %q: %w", canonical, err)
		}
		relations, err := pgx.CollectRows(rows, pgx.RowToStructByPos[models.TermRelation])
		if err != nil {
			return nil, fmt.Errorf("scanning relations: %w", err)
		}
		return relations, nil
	})
}

func (s *GlossaryStore) CategoryMembers(ctx context.Context, category string) ([]string, error) {
	const query = `
		SELECT canonical
		FROM glossary_terms
		WHERE lower(category) = lower($1)
		ORDER BY canonical
	`
	return guarded(ctx, s.guard, "glossary_category", func(ctx context.Context) ([]string, error) {
		rows, err := s.pool.Query(ctx, query, category)
		if err != nil {
			return nil, fmt.Errorf("querying category %q: %w", category, err)
		}
		members, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return nil, fmt.Errorf("scanning category members: %w", err)
		}
		return members, nil
	})
}
