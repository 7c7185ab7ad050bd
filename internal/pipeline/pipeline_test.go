package pipeline

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitesearch-indexer/internal/crawler"
	"github.com/JakeFAU/sitesearch-indexer/internal/extract"
	"github.com/JakeFAU/sitesearch-indexer/internal/index"
	"github.com/JakeFAU/sitesearch-indexer/internal/index/memory"
)

const article = `<!DOCTYPE html><html><head><title>Cats</title>
<meta name="description" content="All about cats"></head><body>
<nav><a href="/">Home</a></nav>
<p>The cat is one of the most popular pets in the world, and it has lived with people for thousands of years. Many of the owners say that their cats are quiet, clean and easy to care for, which is why they are often kept in small flats in the city.</p>
</body></html>`

type failingStore struct{ err error }

func (f failingStore) Upsert(context.Context, crawler.PageDocument) error { return f.err }

func english(string) string { return "en" }

func newProcessor(store crawler.IndexStore, detect extract.Detector) *Processor {
	ext := extract.New(extract.NewCatalog("en"), extract.WithDetector(detect))
	return NewProcessor(ext, index.NewAssembler(store), zap.NewNop())
}

func TestProcessIndexesPage(t *testing.T) {
	t.Parallel()

	store := memory.New()
	var seen []crawler.EntryState
	out := newProcessor(store, english).Process(context.Background(), crawler.FetchResponse{
		URL:  "https://example.com/cats",
		Body: []byte(article),
	}, func(s crawler.EntryState) { seen = append(seen, s) })

	require.NoError(t, out.Err)
	require.Equal(t, crawler.EntryIndexed, out.State)
	require.Equal(t, []crawler.EntryState{crawler.EntryExtracted, crawler.EntryScored}, seen)
	require.Equal(t, 3, out.Document.Weight)
	require.Equal(t, "example.com", out.Document.Domain)
	require.Equal(t, "All about cats", out.Document.Description)

	doc, ok := store.Get("https://example.com/cats")
	require.True(t, ok)
	require.Equal(t, out.Document, doc)
}

func TestProcessSkipsSilently(t *testing.T) {
	t.Parallel()

	store := memory.New()
	out := newProcessor(store, english).Process(context.Background(), crawler.FetchResponse{
		URL:  "https://example.com/feed.xml",
		Body: []byte(`<?xml version="1.0"?><rss></rss>`),
	}, nil)
	require.Equal(t, crawler.EntrySkipped, out.State)
	require.Equal(t, ReasonNonHTML, out.Reason)
	require.NoError(t, out.Err)

	out = newProcessor(store, func(string) string { return "ja" }).Process(context.Background(), crawler.FetchResponse{
		URL:  "https://example.com/ja",
		Body: []byte(article),
	}, nil)
	require.Equal(t, crawler.EntrySkipped, out.State)
	require.Equal(t, ReasonUnsupportedLanguage, out.Reason)
	require.Equal(t, "ja", out.Language)
	require.NoError(t, out.Err)

	out = newProcessor(store, english).Process(context.Background(), crawler.FetchResponse{
		URL:     "https://example.com/cats.json",
		Headers: http.Header{"Content-Type": []string{"application/json"}},
		Body:    []byte(article),
	}, nil)
	require.Equal(t, crawler.EntrySkipped, out.State)
	require.Equal(t, ReasonNonHTML, out.Reason)

	require.Zero(t, store.Len())
}

func TestProcessReportsIndexFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("cluster red")
	out := newProcessor(failingStore{err: boom}, english).Process(context.Background(), crawler.FetchResponse{
		URL:  "https://example.com/cats",
		Body: []byte(article),
	}, nil)
	require.Equal(t, crawler.EntryFailed, out.State)
	require.Equal(t, ReasonIndex, out.Reason)
	require.Same(t, boom, out.Err)
	require.Equal(t, "https://example.com/cats", out.Document.URL)
}
