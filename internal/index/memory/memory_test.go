package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitesearch-indexer/internal/crawler"
	"github.com/JakeFAU/sitesearch-indexer/internal/search"
)

func TestUpsertIsIdempotentPerURL(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := New()
	doc := crawler.PageDocument{URL: "https://example.com/", Title: "First", Body: "first body", Weight: 3}
	require.NoError(t, store.Upsert(ctx, doc))
	require.NoError(t, store.Upsert(ctx, doc))
	require.Equal(t, 1, store.Len())

	doc.Title = "Second"
	doc.Weight = -1
	require.NoError(t, store.Upsert(ctx, doc))
	require.Equal(t, 1, store.Len())

	got, ok := store.Get("https://example.com/")
	require.True(t, ok)
	require.Equal(t, doc, got)
}

func TestSearchRanksAndLimits(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := New()
	require.NoError(t, store.Upsert(ctx, crawler.PageDocument{URL: "https://example.com/cats", Body: "Cats sleep a lot"}))
	require.NoError(t, store.Upsert(ctx, crawler.PageDocument{URL: "https://example.com/cars", Body: "Fast cars"}))
	require.NoError(t, store.Upsert(ctx, crawler.PageDocument{URL: "https://example.com/dogs", Body: "Dogs bark"}))
	for i := 0; i < 15; i++ {
		require.NoError(t, store.Upsert(ctx, crawler.PageDocument{
			URL:  fmt.Sprintf("https://example.com/more/%02d", i),
			Body: "more cats here",
		}))
	}

	hits, err := store.Search(ctx, search.BuildQuery("cats"))
	require.NoError(t, err)
	require.Len(t, hits, search.DefaultSize)
	require.Equal(t, "https://example.com/cats", hits[0].URL)
	for i := 1; i < len(hits); i++ {
		require.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}
	for _, hit := range hits {
		require.NotEqual(t, "https://example.com/dogs", hit.URL)
	}

	hits, err = store.Search(ctx, search.BuildQuery("zebra"))
	require.NoError(t, err)
	require.Empty(t, hits)

	hits, err = store.Search(ctx, search.BuildQuery("ca"))
	require.NoError(t, err)
	require.Empty(t, hits)
	require.NoError(t, store.Ping(ctx))
}
