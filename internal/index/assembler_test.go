package index

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitesearch-indexer/internal/crawler"
	"github.com/JakeFAU/sitesearch-indexer/internal/extract"
)

type recordingStore struct {
	docs []crawler.PageDocument
	err  error
}

func (r *recordingStore) Upsert(_ context.Context, doc crawler.PageDocument) error {
	r.docs = append(r.docs, doc)
	return r.err
}

func TestBuild(t *testing.T) {
	t.Parallel()

	a := NewAssembler(&recordingStore{})
	doc, err := a.Build("https://Blog.Example.com:8443/post?id=1", extract.Result{
		Title:       "Post",
		Description: extract.MissingDescription,
		Body:        "Body text",
		Boilerplate: "Menu",
	}, -1)
	require.NoError(t, err)
	require.Equal(t, crawler.PageDocument{
		Title:       "Post",
		Domain:      "blog.example.com",
		URL:         "https://Blog.Example.com:8443/post?id=1",
		Description: "NAN",
		Body:        "Body text",
		Weight:      -1,
	}, doc)

	_, err = a.Build("not a url", extract.Result{}, 0)
	require.Error(t, err)
}

func TestUpsertPassesStoreErrorsThrough(t *testing.T) {
	t.Parallel()

	boom := errors.New("index unavailable")
	store := &recordingStore{err: boom}
	err := NewAssembler(store).Upsert(context.Background(), crawler.PageDocument{URL: "https://example.com/"})
	require.Same(t, boom, err)
	require.Len(t, store.docs, 1)
}
