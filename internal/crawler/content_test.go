package crawler

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsHTMLContentType(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"":                          true,
		"text/html":                 true,
		"text/html; charset=utf-8":  true,
		"application/xhtml+xml":     true,
		"application/rss+xml":       false,
		"application/json":          false,
		"application/pdf":           false,
		"text/html; charset=\"utf8": false,
	}
	for ct, want := range cases {
		h := http.Header{}
		if ct != "" {
			h.Set("Content-Type", ct)
		}
		require.Equal(t, want, IsHTMLContentType(h), ct)
	}
}
