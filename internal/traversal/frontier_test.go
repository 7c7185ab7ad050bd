package traversal

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitesearch-indexer/internal/crawler"
)

func TestFrontier_AdmitSkipsNoFollow(t *testing.T) {
	t.Parallel()

	f := NewFrontier("example.com", 10)
	_, err := f.Seed("https://example.com/")
	require.NoError(t, err)

	links := []crawler.Link{
		{URL: "https://example.com/a"},
		{URL: "https://example.com/b", NoFollow: true},
		{URL: "https://example.com/c"},
		{URL: "https://example.com/d", NoFollow: true},
		{URL: "https://example.com/e"},
	}
	admitted := 0
	for _, l := range links {
		if _, ok := f.Admit(l); ok {
			admitted++
		}
	}
	require.Equal(t, 3, admitted)
}

func TestFrontier_AdmitEnforcesScope(t *testing.T) {
	t.Parallel()

	f := NewFrontier("example.com", 10)
	_, ok := f.Admit(crawler.Link{URL: "https://other.org/page"})
	require.False(t, ok)
	_, ok = f.Admit(crawler.Link{URL: "https://sub.example.com/page"})
	require.False(t, ok)
	_, ok = f.Admit(crawler.Link{URL: "mailto:someone@example.com"})
	require.False(t, ok)
	_, ok = f.Admit(crawler.Link{URL: "https://EXAMPLE.com:443/page"})
	require.True(t, ok)
}

func TestFrontier_SinglePageScopeAdmitsNothing(t *testing.T) {
	t.Parallel()

	f := NewFrontier("", 10)
	_, ok := f.Admit(crawler.Link{URL: "https://example.com/a"})
	require.False(t, ok)
}

func TestFrontier_Deduplicates(t *testing.T) {
	t.Parallel()

	f := NewFrontier("example.com", 10)
	_, err := f.Seed("https://example.com/")
	require.NoError(t, err)

	_, ok := f.Admit(crawler.Link{URL: "https://example.com/"})
	require.False(t, ok, "seed must not be admitted again")
	_, ok = f.Admit(crawler.Link{URL: "https://example.com/a#section"})
	require.True(t, ok)
	_, ok = f.Admit(crawler.Link{URL: "https://example.com/a"})
	require.False(t, ok)
}

func TestFrontier_ReserveStopsAtCap(t *testing.T) {
	t.Parallel()

	f := NewFrontier("example.com", 2)
	a, _ := f.Seed("https://example.com/")
	b, _ := f.Admit(crawler.Link{URL: "https://example.com/b"})
	c, _ := f.Admit(crawler.Link{URL: "https://example.com/c"})

	require.True(t, f.Reserve(a))
	require.True(t, f.Reserve(b))
	require.False(t, f.Reserve(c))

	state, ok := f.state("https://example.com/c")
	require.True(t, ok)
	require.Equal(t, crawler.EntryDone, state)

	_, ok = f.Admit(crawler.Link{URL: "https://example.com/d"})
	require.False(t, ok, "no enqueue once the cap is reached")

	summary := f.Summary()
	require.Equal(t, 2, summary.Fetched)
	require.True(t, summary.CapReached)
}

func TestFrontier_TransitionKeepsTerminalState(t *testing.T) {
	t.Parallel()

	f := NewFrontier("", 1)
	e, _ := f.Seed("https://example.com/")
	require.True(t, f.Reserve(e))
	f.Transition(e, crawler.EntryIndexed)
	f.Transition(e, crawler.EntryFailed)

	state, _ := f.state("https://example.com/")
	require.Equal(t, crawler.EntryIndexed, state)
	require.Equal(t, crawler.JobCounters{PagesFetched: 1, PagesIndexed: 1}, f.Summary().Counters())
}
