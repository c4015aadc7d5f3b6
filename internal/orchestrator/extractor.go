package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"go.uber.org/zap"

	"github.com/shubhsaxena/recipe-finder/internal/llm"
	"github.com/shubhsaxena/recipe-finder/internal/models"
)

// ErrIntentParse marks model output that could not be turned into an intent.
// It is a data quality problem, not an availability one, and never counts
// against the model breaker.
var ErrIntentParse = errors.New("intent parse error")

type IntentSource string

const (
	SourceModel     IntentSource = "model"
	SourceHeuristic IntentSource = "heuristic"
)

const intentPrompt = `You are a recipe search assistant. Convert the user's request into search criteria.
Respond with exactly one JSON object and nothing else, using these keys:
{
  "mainDish": [],
  "cuisines": [],
  "includeIngredients": [],
  "excludeIngredients": [],
  "dietaryPreferences": [{"name": "", "value": true}],
  "cookingMethods": [],
  "explanation": ""
}
Every list holds lower-case strings. Put ingredients the user does not want in excludeIngredients.
Leave a list empty when the request says nothing about it.

Request: %s`

var (
	nonKosher = []string{
		"pork", "bacon", "ham", "lard", "shellfish", "seafood", "shrimp", "prawn",
		"crab", "lobster", "clam", "oyster", "mussel", "scallop", "squid", "octopus",
	}
	meatTerms = []string{
		"meat", "beef", "chicken", "lamb", "turkey", "veal", "brisket", "steak",
		"duck", "goat", "mutton",
	}
	dairyTerms = []string{
		"dairy", "cheese", "milk", "cream", "butter", "yogurt", "yoghurt", "ghee",
		"parmesan", "mozzarella", "cheddar", "ricotta", "feta",
	}
	challahVariants = []string{"challah", "challa", "chala", "hallah"}

	dietaryKeywords = map[string]string{
		"vegan":       "vegan",
		"vegetarian":  "vegetarian",
		"gluten-free": "gluten-free",
		"gluten free": "gluten-free",
		"dairy-free":  "dairy-free",
		"dairy free":  "dairy-free",
		"lactose":     "lactose-free",
		"kosher":      "kosher",
	}

	commonIngredients = map[string]bool{
		"cheese": true, "rice": true, "pasta": true, "tomato": true, "tomatoes": true,
		"potato": true, "potatoes": true, "egg": true, "eggs": true, "mushroom": true,
		"mushrooms": true, "onion": true, "garlic": true, "spinach": true, "beans": true,
		"lentils": true, "bread": true, "noodles": true, "salmon": true, "tuna": true,
		"avocado": true, "chickpeas": true, "quinoa": true, "eggplant": true, "zucchini": true,
	}
)

// IntentExtractor turns a free-text query into a SearchIntent with the
// language model, repairing or replacing unusable output.
type IntentExtractor struct {
	client            llm.CompletionClient
	opts              llm.CompletionOptions
	parser            *QueryParser
	defaultIngredient string
	logger            *zap.Logger
}

func NewIntentExtractor(client llm.CompletionClient, opts llm.CompletionOptions, defaultIngredient string, logger *zap.Logger) *IntentExtractor {
	return &IntentExtractor{
		client:            client,
		opts:              opts,
		parser:            NewQueryParser(),
		defaultIngredient: defaultIngredient,
		logger:            logger,
	}
}

// Extract asks the model for an intent. A model failure is returned as an
// error; unusable output falls back to the heuristic intent with
// SourceHeuristic and a nil error.
func (ie *IntentExtractor) Extract(ctx context.Context, query string) (*models.SearchIntent, IntentSource, error) {
	raw, err := ie.client.GenerateCompletion(ctx, fmt.Sprintf(intentPrompt, query), ie.opts)
	if err != nil {
		return nil, "", err
	}

	source := SourceModel
	intent, err := ParseIntent(raw)
	if err != nil {
		ie.logger.Warn("model output unusable, using heuristic intent",
			zap.Error(err),
			zap.Int("output_len", len(raw)),
		)
		intent = ie.HeuristicIntent(query)
		source = SourceHeuristic
	}

	ProcessDietary(query, intent)
	return intent, source, nil
}

// HeuristicIntent derives an intent from the raw query alone.
func (ie *IntentExtractor) HeuristicIntent(query string) *models.SearchIntent {
	intent := models.NewSearchIntent()
	lower := strings.ToLower(query)
	parsed := ie.parser.Parse(query)

	kosher := strings.Contains(lower, "kosher")
	if kosher {
		intent.SetDietary("kosher", true)
		intent.ExcludeIngredients = append(intent.ExcludeIngredients, nonKosher...)
	}
	detectDietary(lower, intent)

	if containsAny(lower, challahVariants) {
		intent.MainDish = append(intent.MainDish, "challah")
	}
	if strings.Contains(lower, "matzo") || strings.Contains(lower, "matzah") {
		intent.MainDish = append(intent.MainDish, "matzo")
		intent.IncludeIngredients = append(intent.IncludeIngredients, "matzo meal")
	}
	if strings.Contains(lower, "brisket") {
		intent.MainDish = append(intent.MainDish, "brisket")
		intent.IncludeIngredients = append(intent.IncludeIngredients, "beef")
	}

	intent.ExcludeIngredients = append(intent.ExcludeIngredients, parsed.Negative...)
	intent.IncludeIngredients = append(intent.IncludeIngredients, parsed.Proteins...)
	for _, w := range parsed.Positive {
		if commonIngredients[w] {
			intent.IncludeIngredients = append(intent.IncludeIngredients, w)
		}
	}

	intent.Normalize()
	if len(intent.IncludeIngredients) == 0 && !kosher && ie.defaultIngredient != "" {
		ie.logger.Warn("no ingredient recognized, applying default ingredient",
			zap.String("ingredient", ie.defaultIngredient),
		)
		intent.IncludeIngredients = []string{strings.ToLower(ie.defaultIngredient)}
	}
	intent.Explanation = "Interpreted from keywords in the query"
	return intent
}

// ProcessDietary enforces kosher rules when the query mentions kosher:
// forbidden ingredients are excluded, dairy gives way to meat, and challah
// requests are paired with bread.
func ProcessDietary(query string, intent *models.SearchIntent) {
	lower := strings.ToLower(query)
	if !strings.Contains(lower, "kosher") {
		intent.Normalize()
		return
	}

	intent.SetDietary("kosher", true)
	intent.ExcludeIngredients = append(intent.ExcludeIngredients, nonKosher...)
	intent.Normalize()

	hasMeat := false
	for _, term := range intent.IncludeIngredients {
		if matchesAny(term, meatTerms) {
			hasMeat = true
			break
		}
	}
	if hasMeat {
		kept := make([]string, 0, len(intent.IncludeIngredients))
		for _, term := range intent.IncludeIngredients {
			if matchesAny(term, dairyTerms) {
				intent.ExcludeIngredients = append(intent.ExcludeIngredients, term)
				continue
			}
			kept = append(kept, term)
		}
		intent.IncludeIngredients = kept
	}

	if containsAny(lower, challahVariants) {
		intent.MainDish = append(intent.MainDish, "challah")
		intent.IncludeIngredients = append(intent.IncludeIngredients, "bread")
	}

	switch {
	case intent.Explanation == "":
		intent.Explanation = "Kosher recipes"
	case !strings.HasPrefix(strings.ToLower(intent.Explanation), "kosher"):
		intent.Explanation = "Kosher: " + intent.Explanation
	}
	intent.Normalize()
}

func detectDietary(lower string, intent *models.SearchIntent) {
	for keyword, tag := range dietaryKeywords {
		if strings.Contains(lower, keyword) {
			intent.SetDietary(tag, true)
		}
	}
}

type rawIntent struct {
	MainDish           json.RawMessage `json:"mainDish"`
	Cuisines           json.RawMessage `json:"cuisines"`
	IncludeIngredients json.RawMessage `json:"includeIngredients"`
	ExcludeIngredients json.RawMessage `json:"excludeIngredients"`
	DietaryPreferences json.RawMessage `json:"dietaryPreferences"`
	CookingMethods     json.RawMessage `json:"cookingMethods"`
	Explanation        json.RawMessage `json:"explanation"`
}

// ParseIntent extracts the first JSON object from model output and decodes
// it leniently: lists may arrive as strings, dietary preferences as names,
// objects or a name-to-bool map.
func ParseIntent(output string) (*models.SearchIntent, error) {
	span, ok := firstObject(output)
	if !ok {
		return nil, fmt.Errorf("%w: no JSON object in model output", ErrIntentParse)
	}

	var raw rawIntent
	if err := unmarshalJSON([]byte(span), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntentParse, err)
	}

	known := raw.MainDish != nil || raw.Cuisines != nil || raw.IncludeIngredients != nil ||
		raw.ExcludeIngredients != nil || raw.DietaryPreferences != nil || raw.CookingMethods != nil
	if !known {
		return nil, fmt.Errorf("%w: object has none of the intent keys", ErrIntentParse)
	}

	intent := &models.SearchIntent{}
	var err error
	if intent.MainDish, err = stringList(raw.MainDish); err != nil {
		return nil, fmt.Errorf("%w: mainDish: %v", ErrIntentParse, err)
	}
	if intent.Cuisines, err = stringList(raw.Cuisines); err != nil {
		return nil, fmt.Errorf("%w: cuisines: %v", ErrIntentParse, err)
	}
	if intent.IncludeIngredients, err = stringList(raw.IncludeIngredients); err != nil {
		return nil, fmt.Errorf("%w: includeIngredients: %v", ErrIntentParse, err)
	}
	if intent.ExcludeIngredients, err = stringList(raw.ExcludeIngredients); err != nil {
		return nil, fmt.Errorf("%w: excludeIngredients: %v", ErrIntentParse, err)
	}
	if intent.CookingMethods, err = stringList(raw.CookingMethods); err != nil {
		return nil, fmt.Errorf("%w: cookingMethods: %v", ErrIntentParse, err)
	}
	if intent.DietaryPreferences, err = dietaryList(raw.DietaryPreferences); err != nil {
		return nil, fmt.Errorf("%w: dietaryPreferences: %v", ErrIntentParse, err)
	}
	if len(raw.Explanation) > 0 {
		var s string
		if json.Unmarshal(raw.Explanation, &s) == nil {
			intent.Explanation = strings.TrimSpace(s)
		}
	}

	intent.Normalize()
	return intent, nil
}

func unmarshalJSON(data []byte, v any) error {
	err := json.Unmarshal(data, v)
	if err == nil {
		return nil
	}
	var syntaxErr *json.SyntaxError
	if !errors.As(err, &syntaxErr) {
		return err
	}
	fixed, rerr := jsonrepair.JSONRepair(string(data))
	if rerr != nil {
		return fmt.Errorf("repairing JSON: %w", rerr)
	}
	return json.Unmarshal([]byte(fixed), v)
}

// firstObject returns the first balanced {...} span in s. Braces inside JSON
// strings are ignored. Output cut off mid-object yields the open tail so it
// can still be repaired.
func firstObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return s[start:], true
}

func stringList(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return []string{}, nil
	}

	var list []any
	if err := json.Unmarshal(raw, &list); err == nil {
		out := make([]string, 0, len(list))
		for _, item := range list {
			switch v := item.(type) {
			case string:
				out = append(out, v)
			case map[string]any:
				if name, ok := v["name"].(string); ok {
					out = append(out, name)
				}
			}
		}
		return out, nil
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return strings.Split(single, ","), nil
	}
	return nil, fmt.Errorf("expected a list of strings, got %s", truncate(string(raw), 40))
}

func dietaryList(raw json.RawMessage) ([]models.DietaryTag, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return []models.DietaryTag{}, nil
	}

	var items []any
	if err := json.Unmarshal(raw, &items); err == nil {
		tags := make([]models.DietaryTag, 0, len(items))
		for _, item := range items {
			switch v := item.(type) {
			case string:
				tags = append(tags, models.DietaryTag{Name: v, Value: true})
			case map[string]any:
				name, _ := v["name"].(string)
				value, ok := v["value"].(bool)
				if !ok {
					value = true
				}
				if name != "" {
					tags = append(tags, models.DietaryTag{Name: name, Value: value})
				}
			}
		}
		return tags, nil
	}

	var byName map[string]any
	if err := json.Unmarshal(raw, &byName); err == nil {
		tags := make([]models.DietaryTag, 0, len(byName))
		for name, v := range byName {
			b, ok := v.(bool)
			tags = append(tags, models.DietaryTag{Name: name, Value: !ok || b})
		}
		return tags, nil
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		tags := []models.DietaryTag{}
		for _, name := range strings.Split(single, ",") {
			if name = strings.TrimSpace(name); name != "" {
				tags = append(tags, models.DietaryTag{Name: name, Value: true})
			}
		}
		return tags, nil
	}
	return nil, fmt.Errorf("unsupported shape %s", truncate(string(raw), 40))
}

func matchesAny(term string, words []string) bool {
	for _, w := range splitWords(term) {
		for _, candidate := range words {
			if w == candidate || w == candidate+"s" {
				return true
			}
		}
	}
	return false
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
