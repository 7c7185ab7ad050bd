package search

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitesearch-indexer/internal/crawler"
	"github.com/JakeFAU/sitesearch-indexer/internal/metrics"
)

// ExcerptLength is the number of body runes returned with each hit.
const ExcerptLength = 500

// Backend executes a Query against the index.
type Backend interface {
	Search(ctx context.Context, q Query) ([]crawler.SearchHit, error)
}

// Result is a single search answer.
type Result struct {
	URL         string `json:"url"`
	Description string `json:"description"`
}

// Searcher runs queries and trims hits for presentation.
type Searcher struct {
	backend Backend
	logger  *zap.Logger
}

// NewSearcher wires a Searcher to backend.
func NewSearcher(backend Backend, logger *zap.Logger) *Searcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Searcher{backend: backend, logger: logger}
}

// Search returns the ranked hits for expr. An empty expression yields
// crawler.ErrMissingInput.
func (s *Searcher) Search(ctx context.Context, expr string) ([]Result, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, crawler.ErrMissingInput
	}
	hits, err := s.backend.Search(ctx, BuildQuery(expr))
	metrics.ObserveSearch(err)
	if err != nil {
		s.logger.Warn("search failed", zap.String("query", expr), zap.Error(err))
		return nil, fmt.Errorf("search %q: %w", expr, err)
	}
	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		results = append(results, Result{URL: hit.URL, Description: excerpt(hit.Body, ExcerptLength)})
	}
	s.logger.Debug("search served", zap.String("query", expr), zap.Int("hits", len(results)))
	return results, nil
}

func excerpt(body string, n int) string {
	if utf8.RuneCountInString(body) <= n {
		return body
	}
	return string([]rune(body)[:n])
}
