// Package memory provides an in-process index store for development and tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/sitesearch-indexer/internal/crawler"
	"github.com/JakeFAU/sitesearch-indexer/internal/search"
)

// Store keeps documents keyed by URL and scores queries by trigram overlap.
type Store struct {
	mu   sync.RWMutex
	docs map[string]crawler.PageDocument
}

// New returns an empty Store.
func New() *Store {
	return &Store{docs: make(map[string]crawler.PageDocument)}
}

// Upsert replaces the document stored under doc.URL.
func (s *Store) Upsert(_ context.Context, doc crawler.PageDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.URL] = doc
	return nil
}

// Get returns the document stored for url.
func (s *Store) Get(url string) (crawler.PageDocument, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[url]
	return doc, ok
}

// Len returns the number of stored documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Search ranks documents by the share of the query's trigrams found in the
// body. Ties are broken by URL.
func (s *Store) Search(_ context.Context, q search.Query) ([]crawler.SearchHit, error) {
	query := trigrams(q.Expression)
	if len(query) == 0 {
		return []crawler.SearchHit{}, nil
	}

	s.mu.RLock()
	hits := make([]crawler.SearchHit, 0, len(s.docs))
	for _, doc := range s.docs {
		body := trigrams(doc.Body)
		matched := 0
		for gram := range query {
			if _, ok := body[gram]; ok {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		hits = append(hits, crawler.SearchHit{
			URL:   doc.URL,
			Body:  doc.Body,
			Score: float64(matched) / float64(len(query)),
		})
	}
	s.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].URL < hits[j].URL
	})
	if q.Size > 0 && len(hits) > q.Size {
		hits = hits[:q.Size]
	}
	return hits, nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error {
	return nil
}

func trigrams(text string) map[string]struct{} {
	runes := []rune(strings.ToLower(text))
	out := make(map[string]struct{})
	for i := 0; i+3 <= len(runes); i++ {
		out[string(runes[i:i+3])] = struct{}{}
	}
	return out
}
