package orchestrator

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/shubhsaxena/recipe-finder/internal/models"
)

// ParsedQuery is the tokenizer output used by the heuristic search tiers.
type ParsedQuery struct {
	Original   string
	Normalized string
	// Remainder is Normalized with the negative spans removed.
	Remainder string
	Negative  []string
	Positive  []string
	Proteins  []string
	// ProteinOnly is set for bare protein queries such as "meat dish" or
	// "meat and chicken dishes".
	ProteinOnly bool
}

type QueryParser struct {
	stopWords map[string]bool
	fillers   map[string]bool
	proteins  map[string]bool
}

func NewQueryParser() *QueryParser {
	stops := map[string]bool{
		"the": true, "and": true, "but": true, "for": true, "with": true,
		"this": true, "that": true, "are": true, "was": true, "has": true,
		"had": true, "does": true, "some": true, "any": true, "want": true,
		"like": true, "have": true, "please": true, "find": true, "show": true,
		"give": true, "make": true, "cook": true, "something": true, "can": true,
		"you": true, "what": true, "how": true, "would": true, "could": true,
		"need": true, "looking": true, "good": true, "best": true, "easy": true,
		"quick": true, "tonight": true, "dinner": true, "lunch": true, "from": true,
		"recipe": true, "recipes": true, "dish": true, "dishes": true,
		"meal": true, "meals": true, "food": true, "foods": true, "idea": true, "ideas": true,
	}
	fillers := map[string]bool{
		"and": true, "or": true, "recipe": true, "recipes": true, "dish": true,
		"dishes": true, "meal": true, "meals": true, "food": true, "foods": true,
	}
	proteins := map[string]bool{
		"meat": true, "chicken": true, "beef": true, "pork": true, "fish": true,
		"lamb": true, "turkey": true, "seafood": true, "shrimp": true, "tofu": true,
	}
	return &QueryParser{stopWords: stops, fillers: fillers, proteins: proteins}
}

var (
	negativePattern   = regexp.MustCompile(`\b(don't|dont|not|no|without|hate|dislike|exclude)\s+(?:(like|have|want)\s+)?([a-z][a-z-]*)`)
	connectorPattern  = regexp.MustCompile(`\b(and|or|with|but|plus)\b`)
	multiSpacePattern = regexp.MustCompile(`\s+`)
)

func (qp *QueryParser) Parse(rawQuery string) *ParsedQuery {
	parsed := &ParsedQuery{
		Original: rawQuery,
		Negative: []string{},
		Positive: []string{},
		Proteins: []string{},
	}

	normalized := strings.ToLower(strings.TrimSpace(rawQuery))
	normalized = strings.ReplaceAll(normalized, "’", "'")
	normalized = multiSpacePattern.ReplaceAllString(normalized, " ")
	parsed.Normalized = normalized
	if normalized == "" {
		return parsed
	}

	for _, m := range negativePattern.FindAllStringSubmatch(normalized, -1) {
		parsed.Negative = append(parsed.Negative, m[3])
	}
	parsed.Negative = models.CleanTerms(parsed.Negative)

	remainder := negativePattern.ReplaceAllString(normalized, " ")
	remainder = multiSpacePattern.ReplaceAllString(remainder, " ")
	parsed.Remainder = strings.TrimSpace(remainder)

	for _, w := range splitWords(connectorPattern.ReplaceAllString(parsed.Remainder, " ")) {
		w = strings.Trim(w, "'-")
		if len(w) <= 2 || qp.stopWords[w] {
			continue
		}
		parsed.Positive = append(parsed.Positive, w)
	}
	parsed.Positive = models.CleanTerms(parsed.Positive)

	parsed.ProteinOnly = len(parsed.Negative) == 0
	for _, w := range splitWords(parsed.Remainder) {
		switch {
		case qp.proteins[w]:
			parsed.Proteins = append(parsed.Proteins, w)
		case qp.fillers[w]:
		default:
			parsed.ProteinOnly = false
		}
	}
	parsed.Proteins = models.CleanTerms(parsed.Proteins)
	if len(parsed.Proteins) == 0 {
		parsed.ProteinOnly = false
	}

	return parsed
}

// splitWords lower-cases s and splits it on anything that is not a letter,
// digit, apostrophe or hyphen.
func splitWords(s string) []string {
	s = strings.ReplaceAll(strings.ToLower(s), "’", "'")
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' && r != '-'
	})
}
