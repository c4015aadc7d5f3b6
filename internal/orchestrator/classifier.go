package orchestrator

import (
	"strings"

	"github.com/shubhsaxena/recipe-finder/internal/models"
)

// QueryClassifier decides whether a query needs the language model. Queries
// with contrast, negation, exclusion, conjunction, conditional or
// substitution markers are Complex, as is anything longer than three words.
type QueryClassifier struct {
	markers      map[string]bool
	phrases      []string
	maxSimpleLen int
}

func NewQueryClassifier() *QueryClassifier {
	return &QueryClassifier{
		markers: map[string]bool{
			"but":     true,
			"don't":   true,
			"dont":    true,
			"not":     true,
			"no":      true,
			"without": true,
			"except":  true,
			"exclude": true,
			"or":      true,
			"and":     true,
			"if":      true,
		},
		phrases:      []string{"instead of"},
		maxSimpleLen: 3,
	}
}

func (qc *QueryClassifier) Classify(query string) models.QueryComplexity {
	words := splitWords(query)

	for _, w := range words {
		if qc.markers[w] {
			return models.QueryComplex
		}
	}
	joined := " " + strings.Join(words, " ") + " "
	for _, p := range qc.phrases {
		if strings.Contains(joined, " "+p+" ") {
			return models.QueryComplex
		}
	}

	count := 0
	for _, w := range words {
		if len(w) > 1 {
			count++
		}
	}
	if count <= qc.maxSimpleLen {
		return models.QuerySimple
	}
	return models.QueryComplex
}
