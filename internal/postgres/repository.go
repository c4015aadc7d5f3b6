package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/shubhsaxena/recipe-finder/internal/config"
	"github.com/shubhsaxena/recipe-finder/internal/models"
)

type RecipeRepository struct {
	pool  *pgxpool.Pool
	guard *guard
}

func NewRecipeRepository(pool *pgxpool.Pool, pgCfg config.PostgresConfig, searchCfg config.SearchConfig, logger *zap.Logger) *RecipeRepository {
	return &RecipeRepository{
		pool:  pool,
		guard: newGuard("postgres-recipes", pgCfg, searchCfg, logger),
	}
}

// FindRecipesByFilter returns recipes matching f. An empty filter returns the
// most recent recipes.
func (r *RecipeRepository) FindRecipesByFilter(ctx context.Context, f *models.RecipeFilter) ([]models.RecipeSummary, error) {
	sql, args := filterQuery(f)
	return r.query(ctx, "filter", sql, args)
}

func (r *RecipeRepository) FindRecipesByProteinTerms(ctx context.Context, terms []string, titleDescRequired bool, limit int) ([]models.RecipeSummary, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	sql, args := proteinQuery(terms, titleDescRequired, limit)
	return r.query(ctx, "protein", sql, args)
}

// FindRecipesByText matches text as one substring against cuisine, title,
// description and ingredient names.
func (r *RecipeRepository) FindRecipesByText(ctx context.Context, text string, limit int) ([]models.RecipeSummary, error) {
	if text == "" {
		return nil, nil
	}
	sql, args := filterQuery(&models.RecipeFilter{
		Keywords:  []string{text},
		RankTerms: []string{text},
		Limit:     limit,
	})
	return r.query(ctx, "text", sql, args)
}

func (r *RecipeRepository) HealthCheck(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *RecipeRepository) query(ctx context.Context, op, sql string, args []any) ([]models.RecipeSummary, error) {
	return guarded(ctx, r.guard, op, func(ctx context.Context) ([]models.RecipeSummary, error) {
		rows, err := r.pool.Query(ctx, sql, args...)
		if err != nil {
			return nil, fmt.Errorf("executing recipe query: %w", err)
		}
		recipes, err := pgx.CollectRows(rows, pgx.RowToStructByPos[models.RecipeSummary])
		if err != nil {
			return nil, fmt.Errorf("scanning recipe rows: %w", err)
		}
		return recipes, nil
	}, attribute.Int("pg.args", len(args)))
}
