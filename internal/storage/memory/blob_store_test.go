package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "path/page.html", "text/html", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://path/page.html", uri)

	payload[0] = 'C'
	stored, ok := store.Get("path/page.html")
	require.True(t, ok)
	require.Equal(t, "content", string(stored))

	stored[0] = 'X'
	again, _ := store.Get("path/page.html")
	require.Equal(t, "content", string(again))

	_, ok = store.Get("missing")
	require.False(t, ok)
}
