package gcs_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/sitesearch-indexer/internal/storage/gcs"
)

const bucket = "test-bucket"

func newStore(t *testing.T, handler http.Handler) *gcs.BlobStore {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(server.URL),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := gcs.New(client, gcs.Config{Bucket: bucket})
	require.NoError(t, err)
	return store
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := gcs.New(nil, gcs.Config{Bucket: bucket})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = gcs.New(client, gcs.Config{})
	require.Error(t, err)
}

func TestPutObjectUploadsMissingObject(t *testing.T) {
	t.Parallel()

	var uploads atomic.Int32
	var uploaded atomic.Value
	store := newStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":{"code":404,"message":"No such object"}}`)
			return
		}
		uploads.Add(1)
		require.Contains(t, r.URL.Path, bucket)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		uploaded.Store(string(body))
		_, _ = fmt.Fprintf(w, `{"name":%q,"bucket":%q}`, r.URL.Query().Get("name"), bucket)
	}))

	uri, err := store.PutObject(context.Background(), "pages/job-1/abc.html", "text/html",
		bytes.NewReader([]byte("<html>archived</html>")))
	require.NoError(t, err)
	require.Equal(t, "gs://test-bucket/pages/job-1/abc.html", uri)
	require.EqualValues(t, 1, uploads.Load())
	require.True(t, strings.Contains(uploaded.Load().(string), "<html>archived</html>"))
}

func TestPutObjectSkipsExistingObject(t *testing.T) {
	t.Parallel()

	var uploads atomic.Int32
	store := newStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			_, _ = fmt.Fprintf(w, `{"name":"pages/job-1/abc.html","bucket":%q}`, bucket)
			return
		}
		uploads.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	uri, err := store.PutObject(context.Background(), "pages/job-1/abc.html", "text/html",
		bytes.NewReader([]byte("<html></html>")))
	require.NoError(t, err)
	require.Equal(t, "gs://test-bucket/pages/job-1/abc.html", uri)
	require.Zero(t, uploads.Load())
}

func TestPutObjectErrors(t *testing.T) {
	t.Parallel()

	store := newStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"error":{"code":403,"message":"denied"}}`)
	}))

	_, err := store.PutObject(context.Background(), "", "text/html", bytes.NewReader(nil))
	require.Error(t, err)

	_, err = store.PutObject(context.Background(), "pages/job-1/abc.html", "text/html",
		bytes.NewReader([]byte("<html></html>")))
	require.Error(t, err)
}
