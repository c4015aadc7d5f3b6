package postgres

import (
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/shubhsaxena/recipe-finder/internal/models"
)

var placeholderPattern = regexp.MustCompile(`\$(\d+)`)

// assertPlaceholders checks that every argument has exactly one placeholder,
// numbered in order.
func assertPlaceholders(t *testing.T, sql string, args []any) {
	t.Helper()
	matches := placeholderPattern.FindAllStringSubmatch(sql, -1)
	if len(matches) != len(args) {
		t.Fatalf("got %d placeholders for %d args in %s", len(matches), len(args), sql)
	}
	for i, m := range matches {
		n, _ := strconv.Atoi(m[1])
		if n != i+1 {
			t.Errorf("placeholder %d is $%d, want $%d", i, n, i+1)
		}
	}
}

func TestFilterQuery_EmptyFilterReturnsRecent(t *testing.T) {
	sql, args := filterQuery(&models.RecipeFilter{Limit: 20})

	want := "SELECT " + recipeColumns + " FROM recipes r ORDER BY r.created_at DESC LIMIT $1"
	if sql != want {
		t.Errorf("sql =\n%s\nwant\n%s", sql, want)
	}
	if !reflect.DeepEqual(args, []any{20}) {
		t.Errorf("args = %v", args)
	}
}

func TestFilterQuery_ClauseOrderAndBinds(t *testing.T) {
	f := &models.RecipeFilter{
		Cuisines:           []string{"Thai"},
		IncludeIngredients: []string{"chicken", "coconut milk"},
		ExcludeIngredients: []string{"cheese", "nuts"},
		TextTerms:          []string{"curry"},
		RankTerms:          []string{"curry"},
		Limit:              20,
	}
	sql, args := filterQuery(f)
	assertPlaceholders(t, sql, args)

	wantArgs := []any{
		[]string{"%thai%"},
		[]string{"%chicken%", "%coconut milk%"},
		"%cheese%",
		"%nuts%",
		[]string{"%curry%"},
		[]string{"%curry%"},
		[]string{"%curry%"},
		[]string{"%curry%"},
		20,
	}
	if !reflect.DeepEqual(args, wantArgs) {
		t.Errorf("args = %v\nwant %v", args, wantArgs)
	}

	order := []string{
		"r.cuisine ILIKE ANY($1)",
		"EXISTS (" + ingredientMatch + "ANY($2))",
		"NOT EXISTS (" + ingredientMatch + "$3)",
		"NOT EXISTS (" + ingredientMatch + "$4)",
		"(r.title ILIKE ANY($5) OR r.description ILIKE ANY($6))",
		"ORDER BY CASE WHEN r.title ILIKE ANY($7) THEN 0 WHEN r.description ILIKE ANY($8) THEN 1 ELSE 2 END, r.created_at DESC",
		"LIMIT $9",
	}
	pos := 0
	for _, part := range order {
		idx := strings.Index(sql[pos:], part)
		if idx < 0 {
			t.Fatalf("missing or out of order %q in\n%s", part, sql)
		}
		pos += idx + len(part)
	}
}

func TestFilterQuery_Keywords(t *testing.T) {
	sql, args := filterQuery(&models.RecipeFilter{
		Keywords:           []string{"pasta"},
		ExcludeIngredients: []string{"garlic"},
		Limit:              5,
	})
	assertPlaceholders(t, sql, args)

	if !strings.Contains(sql, "r.cuisine ILIKE ANY($4)") {
		t.Errorf("keywords should match cuisine:\n%s", sql)
	}
	if !strings.Contains(sql, "OR EXISTS ("+ingredientMatch+"ANY($5)))") {
		t.Errorf("keywords should match ingredients:\n%s", sql)
	}
	if args[len(args)-1] != 5 {
		t.Errorf("limit arg = %v", args[len(args)-1])
	}
}

func TestProteinQuery(t *testing.T) {
	tests := []struct {
		name      string
		titleDesc bool
		wantTitle bool
		wantArgs  int
	}{
		{"strict", true, true, 6},
		{"relaxed", false, false, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := proteinQuery([]string{"meat", "chicken"}, tt.titleDesc, 20)
			assertPlaceholders(t, sql, args)
			if len(args) != tt.wantArgs {
				t.Errorf("got %d args, want %d", len(args), tt.wantArgs)
			}
			hasTitle := strings.Contains(sql, "(r.title ILIKE")
			if hasTitle != tt.wantTitle {
				t.Errorf("title/description clause present = %v, want %v:\n%s", hasTitle, tt.wantTitle, sql)
			}
			if !strings.Contains(sql, "EXISTS ("+ingredientMatch+"ANY($1))") {
				t.Errorf("missing ingredient clause:\n%s", sql)
			}
		})
	}
}

func TestLikePattern(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Chicken", "%chicken%"},
		{"  bell pepper ", "%bell pepper%"},
		{"50%_off", `%50\%\_off%`},
		{`back\slash`, `%back\\slash%`},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := likePattern(tt.in); got != tt.want {
				t.Errorf("likePattern(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
