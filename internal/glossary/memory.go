package glossary

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/shubhsaxena/recipe-finder/internal/models"
)

// MemoryStore is a Store over a fixed term list. It backs the glossary when
// no database is configured and in tests.
type MemoryStore struct {
	mu       sync.RWMutex
	terms    map[string]*models.GlossaryTerm
	variants map[string]string
}

func NewMemoryStore(terms []models.GlossaryTerm) *MemoryStore {
	s := &MemoryStore{
		terms:    make(map[string]*models.GlossaryTerm, len(terms)),
		variants: make(map[string]string),
	}
	for i := range terms {
		s.Add(terms[i])
	}
	return s
}

func (s *MemoryStore) Add(term models.GlossaryTerm) {
	s.mu.Lock()
	defer s.mu.Unlock()

	term.Canonical = normalize(term.Canonical)
	term.Variants = models.CleanTerms(term.Variants)
	s.terms[term.Canonical] = &term
	if _, taken := s.variants[term.Canonical]; !taken {
		s.variants[term.Canonical] = term.Canonical
	}
	for _, v := range term.Variants {
		if _, taken := s.variants[v]; !taken {
			s.variants[v] = term.Canonical
		}
	}
}

func (s *MemoryStore) LookupVariant(_ context.Context, term string) (*models.GlossaryTerm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	canonical, ok := s.variants[normalize(term)]
	if !ok {
		return nil, nil
	}
	gt := *s.terms[canonical]
	return &gt, nil
}

func (s *MemoryStore) Variants(_ context.Context, canonical string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	gt, ok := s.terms[normalize(canonical)]
	if !ok {
		return nil, nil
	}
	return append([]string(nil), gt.Variants...), nil
}

func (s *MemoryStore) RelatedTerms(_ context.Context, canonical, relation string) ([]models.TermRelation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	gt, ok := s.terms[normalize(canonical)]
	if !ok {
		return nil, nil
	}
	var out []models.TermRelation
	for _, r := range gt.Relations {
		if r.Type == relation {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryStore) CategoryMembers(_ context.Context, category string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, gt := range s.terms {
		if strings.EqualFold(gt.Category, category) {
			out = append(out, gt.Canonical)
		}
	}
	sort.Strings(out)
	return out, nil
}

// LoadFile reads a YAML list of glossary terms.
func LoadFile(path string) ([]models.GlossaryTerm, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading glossary file %s: %w", path, err)
	}
	var terms []models.GlossaryTerm
	if err := yaml.Unmarshal(data, &terms); err != nil {
		return nil, fmt.Errorf("parsing glossary file: %w", err)
	}
	return terms, nil
}
