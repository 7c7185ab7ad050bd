// Package traversal implements the link traversal controller: it decides which
// discovered links are fetched during an index job, enforcing domain scope,
// no-follow hints, per-job deduplication and the page cap.
package traversal

import (
	"fmt"
	"net/url"
	"sync"

	"github.com/JakeFAU/sitesearch-indexer/internal/crawler"
)

// Entry is a single URL discovered within a job.
type Entry struct {
	URL   string
	state crawler.EntryState
}

// Frontier tracks every entry of one job. The fetch counter is the only state
// shared between workers; all access goes through mu.
type Frontier struct {
	mu       sync.Mutex
	scope    string
	maxPages int
	fetched  int
	capped   bool
	entries  map[string]*Entry
}

// NewFrontier creates a frontier for a job. An empty scope means a single-page
// job in which discovered links are never admitted.
func NewFrontier(scope string, maxPages int) *Frontier {
	if maxPages <= 0 {
		maxPages = crawler.DefaultMaxPages
	}
	return &Frontier{
		scope:    scope,
		maxPages: maxPages,
		entries:  make(map[string]*Entry),
	}
}

// Seed registers the start URL of the job.
func (f *Frontier) Seed(rawURL string) (*Entry, error) {
	normalized, err := crawler.NormalizeURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("seed %q: %w", rawURL, err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.entries[normalized]; ok {
		return e, nil
	}
	e := &Entry{URL: normalized, state: crawler.EntryQueued}
	f.entries[normalized] = e
	return e, nil
}

// Admit decides whether a discovered link is enqueued. It returns the new
// entry and true only for followable, in-scope, unseen links while the page
// cap has not been reached.
func (f *Frontier) Admit(link crawler.Link) (*Entry, bool) {
	if link.NoFollow || f.scope == "" {
		return nil, false
	}
	if !isHTTP(link.URL) || !crawler.SameHost(link.URL, f.scope) {
		return nil, false
	}
	normalized, err := crawler.NormalizeURL(link.URL)
	if err != nil {
		return nil, false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetched >= f.maxPages {
		return nil, false
	}
	if _, seen := f.entries[normalized]; seen {
		return nil, false
	}
	e := &Entry{URL: normalized, state: crawler.EntryQueued}
	f.entries[normalized] = e
	return e, true
}

// Reserve takes one slot of the page cap for e and moves it to fetching. When
// the cap is exhausted the entry is marked done and false is returned.
func (f *Frontier) Reserve(e *Entry) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e.state.Terminal() {
		return false
	}
	if f.fetched >= f.maxPages {
		e.state = crawler.EntryDone
		f.capped = true
		return false
	}
	f.fetched++
	e.state = crawler.EntryFetching
	return true
}

// Transition moves e to state unless it already reached a terminal state.
func (f *Frontier) Transition(e *Entry, state crawler.EntryState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e.state.Terminal() {
		return
	}
	e.state = state
}

// state returns the current state of the entry for url, if known.
func (f *Frontier) state(rawURL string) (crawler.EntryState, bool) {
	normalized, err := crawler.NormalizeURL(rawURL)
	if err != nil {
		return "", false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[normalized]
	if !ok {
		return "", false
	}
	return e.state, true
}

// Summary snapshots the frontier.
func (f *Frontier) Summary() Summary {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := Summary{
		Fetched:    f.fetched,
		CapReached: f.capped || f.fetched >= f.maxPages,
		States:     make(map[crawler.EntryState]int),
	}
	for _, e := range f.entries {
		s.States[e.state]++
	}
	return s
}

// Summary reports how many fetches were issued and how entries ended up.
type Summary struct {
	Fetched    int
	CapReached bool
	States     map[crawler.EntryState]int
}

// Counters converts the summary into persisted job counters.
func (s Summary) Counters() crawler.JobCounters {
	return crawler.JobCounters{
		PagesFetched: s.Fetched,
		PagesIndexed: s.States[crawler.EntryIndexed],
		PagesSkipped: s.States[crawler.EntrySkipped],
		PagesFailed:  s.States[crawler.EntryFailed],
		PagesDropped: s.States[crawler.EntryDone],
	}
}

func isHTTP(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
