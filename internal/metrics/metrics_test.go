package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, SanitizeSite(tc.input))
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	first := indexerPagesTotal
	Init()
	require.NotNil(t, first)
	require.Same(t, first, indexerPagesTotal)
}

func TestObservers(t *testing.T) {
	ObservePage("https://observe.example/a", "indexed", 128)
	require.Equal(t, float64(1), testutil.ToFloat64(indexerPagesTotal.WithLabelValues("observe.example", "indexed")))
	require.Equal(t, float64(128), testutil.ToFloat64(indexerBytesTotal.WithLabelValues("observe.example")))

	before := testutil.ToFloat64(indexerUpsertsTotal.WithLabelValues("error"))
	ObserveUpsert(errors.New("boom"))
	require.Equal(t, before+1, testutil.ToFloat64(indexerUpsertsTotal.WithLabelValues("error")))

	before = testutil.ToFloat64(indexerSearchesTotal.WithLabelValues("ok"))
	ObserveSearch(nil)
	require.Equal(t, before+1, testutil.ToFloat64(indexerSearchesTotal.WithLabelValues("ok")))

	IncActiveWorkers()
	IncActiveWorkers()
	DecActiveWorkers()
	require.GreaterOrEqual(t, testutil.ToFloat64(indexerActiveWorkers), float64(1))

	ObserveRateLimitDelay("observe.example", 300*time.Millisecond)
	require.Positive(t, testutil.CollectAndCount(indexerRateLimitDelaysSeconds))

	before = testutil.ToFloat64(indexerJobsTotal.WithLabelValues("succeeded"))
	ObserveJob("succeeded")
	require.Equal(t, before+1, testutil.ToFloat64(indexerJobsTotal.WithLabelValues("succeeded")))
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
