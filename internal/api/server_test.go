package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitesearch-indexer/internal/clock/system"
	"github.com/JakeFAU/sitesearch-indexer/internal/config"
	"github.com/JakeFAU/sitesearch-indexer/internal/crawler"
	"github.com/JakeFAU/sitesearch-indexer/internal/dispatcher"
	indexmemory "github.com/JakeFAU/sitesearch-indexer/internal/index/memory"
	queuememory "github.com/JakeFAU/sitesearch-indexer/internal/queue/memory"
	"github.com/JakeFAU/sitesearch-indexer/internal/search"
	storagememory "github.com/JakeFAU/sitesearch-indexer/internal/storage/memory"
	"github.com/JakeFAU/sitesearch-indexer/internal/worker"
)

type testEnv struct {
	server   *Server
	jobs     *storagememory.JobStore
	queue    *queuememory.Queue
	index    *indexmemory.Store
	registry *worker.Registry
}

func testConfig() config.Config {
	return config.Config{
		Server:  config.ServerConfig{Port: 8080, RequestTimeoutSeconds: 5},
		Crawler: config.CrawlerConfig{MaxPages: 500},
	}
}

func newTestEnv(t *testing.T, cfg config.Config, ids ...string) *testEnv {
	t.Helper()
	env := &testEnv{
		jobs:     storagememory.NewJobStore(system.NewFixed(time.Unix(100, 0))),
		queue:    queuememory.NewQueue(4),
		index:    indexmemory.New(),
		registry: worker.NewRegistry(),
	}
	env.server = NewServer(Dependencies{
		JobStore:   env.jobs,
		Dispatcher: dispatcher.New(env.queue, nil, env.registry),
		Searcher:   search.NewSearcher(env.index, zap.NewNop()),
		IDs:        &fakeIDGen{ids: ids},
		Clock:      system.NewFixed(time.Unix(100, 0)),
		Readiness: []ReadinessCheck{
			{Name: "index", Check: env.index.Ping},
		},
	}, cfg, zap.NewNop())
	return env
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func formRequest(target, rawURL string) *http.Request {
	form := url.Values{}
	if rawURL != "" {
		form.Set("url", rawURL)
	}
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestIndexPageAcceptsForm(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testConfig(), "job-page")
	rec := env.do(formRequest("/v1/index/page", "https://example.com/post"))

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.JSONEq(t, `{"job_id":"job-page"}`, rec.Body.String())

	item, err := env.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "job-page", item.JobID)
	require.Equal(t, crawler.JobModePage, item.Params.Mode)
	require.Equal(t, 500, item.Params.MaxPages)
	require.True(t, item.Params.RespectRobots)

	job, err := env.jobs.GetJob(context.Background(), "job-page")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusQueued, job.Status)
	require.Equal(t, "https://example.com/post", job.Parameters.URL)
}

func TestIndexSiteAcceptsJSON(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testConfig(), "job-site")
	body := `{"url":"https://example.com","max_pages":25,"respect_robots":false}`
	req := httptest.NewRequest(http.MethodPost, "/v1/index/site", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	rec := env.do(req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	item, err := env.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, crawler.JobModeSite, item.Params.Mode)
	require.Equal(t, 25, item.Params.MaxPages)
	require.False(t, item.Params.RespectRobots)
}

func TestLegacyIndexRoutes(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testConfig(), "job-a", "job-b")
	require.Equal(t, http.StatusAccepted, env.do(formRequest("/indexs", "https://example.com/")).Code)
	require.Equal(t, http.StatusAccepted, env.do(formRequest("/indexf", "https://example.com/")).Code)

	first, err := env.queue.Dequeue(context.Background())
	require.NoError(t, err)
	second, err := env.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, crawler.JobModePage, first.Params.Mode)
	require.Equal(t, crawler.JobModeSite, second.Params.Mode)
}

func TestIndexRejectsBadInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		req  *http.Request
		want string
	}{
		{name: "missing url", req: formRequest("/v1/index/page", ""), want: "url is required"},
		{name: "relative url", req: formRequest("/v1/index/site", "/about"), want: "absolute"},
		{name: "ftp url", req: formRequest("/v1/index/page", "ftp://example.com/"), want: "absolute"},
		{
			name: "invalid json",
			req: func() *http.Request {
				r := httptest.NewRequest(http.MethodPost, "/v1/index/page", bytes.NewBufferString("{invalid"))
				r.Header.Set("Content-Type", "application/json")
				return r
			}(),
			want: "invalid JSON",
		},
		{
			name: "zero max pages",
			req: func() *http.Request {
				r := httptest.NewRequest(http.MethodPost, "/v1/index/site",
					bytes.NewBufferString(`{"url":"https://example.com","max_pages":0}`))
				r.Header.Set("Content-Type", "application/json")
				return r
			}(),
			want: "max_pages",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, testConfig(), "unused")
			rec := env.do(tt.req)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Contains(t, rec.Body.String(), tt.want)
			require.Zero(t, env.queue.Len())
		})
	}
}

func TestIndexQueueFullMarksJobFailed(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testConfig(), "j1", "j2", "j3", "j4", "j5")
	for i := 0; i < 4; i++ {
		require.Equal(t, http.StatusAccepted, env.do(formRequest("/v1/index/page", "https://example.com/")).Code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	rec := env.do(formRequest("/v1/index/page", "https://example.com/").WithContext(ctx))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	job, err := env.jobs.GetJob(context.Background(), "j5")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusFailed, job.Status)
}

func TestSearch(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	require.NoError(t, env.index.Upsert(ctx, crawler.PageDocument{
		URL:    "https://example.com/cats",
		Domain: "example.com",
		Body:   "Cats are small carnivorous mammals kept as pets.",
		Weight: 3,
	}))
	require.NoError(t, env.index.Upsert(ctx, crawler.PageDocument{
		URL:    "https://example.com/boats",
		Domain: "example.com",
		Body:   "Sailing boats on the lake.",
		Weight: 3,
	}))

	for _, path := range []string{"/v1/search?query=cats", "/search?query=cats"} {
		rec := env.do(httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)

		var results []search.Result
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
		require.NotEmpty(t, results)
		require.Equal(t, "https://example.com/cats", results[0].URL)
		require.Equal(t, "Cats are small carnivorous mammals kept as pets.", results[0].Description)
	}
}

func TestSearchEmptyIndexReturnsEmptyArray(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testConfig())
	rec := env.do(httptest.NewRequest(http.MethodGet, "/v1/search?query=anything", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[]`, rec.Body.String())
}

func TestSearchMissingQuery(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testConfig())
	for _, path := range []string{"/v1/search", "/v1/search?query=%20%20"} {
		rec := env.do(httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusBadRequest, rec.Code, path)
		require.Contains(t, rec.Body.String(), "query is required")
	}
}

func TestSearchBackendFailure(t *testing.T) {
	t.Parallel()

	server := NewServer(Dependencies{
		Searcher: search.NewSearcher(failingBackend{}, zap.NewNop()),
	}, testConfig(), zap.NewNop())
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/search?query=cats", nil))
	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestJobStatusAndResult(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testConfig(), "job-1")
	require.Equal(t, http.StatusAccepted, env.do(formRequest("/v1/index/page", "https://example.com/")).Code)
	weight := 2
	require.NoError(t, env.jobs.RecordPage(context.Background(), crawler.PageRecord{
		JobID:  "job-1",
		URL:    "https://example.com/",
		State:  crawler.EntryIndexed,
		Weight: &weight,
	}))

	rec := env.do(httptest.NewRequest(http.MethodGet, "/v1/jobs/job-1/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var status struct {
		Job crawler.Job `json:"job"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Equal(t, "job-1", status.Job.ID)
	require.Equal(t, crawler.JobStatusQueued, status.Job.Status)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/v1/jobs/job-1/result", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var result crawler.JobResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Len(t, result.Pages, 1)
	require.Equal(t, 2, *result.Pages[0].Weight)

	for _, path := range []string{"/v1/jobs/missing/status", "/v1/jobs/missing/result"} {
		rec = env.do(httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestCancelJob(t *testing.T) {
	t.Parallel()

	t.Run("queued job", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, testConfig(), "job-q")
		require.Equal(t, http.StatusAccepted, env.do(formRequest("/v1/index/page", "https://example.com/")).Code)

		rec := env.do(httptest.NewRequest(http.MethodPost, "/v1/jobs/job-q/cancel", nil))
		require.Equal(t, http.StatusAccepted, rec.Code)

		job, err := env.jobs.GetJob(context.Background(), "job-q")
		require.NoError(t, err)
		require.Equal(t, crawler.JobStatusCanceled, job.Status)

		jobCtx := env.registry.Register(context.Background(), "job-q")
		require.ErrorIs(t, jobCtx.Err(), context.Canceled)
	})

	t.Run("running job", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, testConfig(), "job-r")
		require.Equal(t, http.StatusAccepted, env.do(formRequest("/v1/index/page", "https://example.com/")).Code)
		require.NoError(t, env.jobs.UpdateJobStatus(context.Background(), "job-r",
			crawler.JobUpdate{Status: crawler.JobStatusRunning}))
		jobCtx := env.registry.Register(context.Background(), "job-r")

		rec := env.do(httptest.NewRequest(http.MethodPost, "/v1/jobs/job-r/cancel", nil))
		require.Equal(t, http.StatusAccepted, rec.Code)
		require.ErrorIs(t, jobCtx.Err(), context.Canceled)
	})

	t.Run("finished job", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, testConfig(), "job-done")
		require.Equal(t, http.StatusAccepted, env.do(formRequest("/v1/index/page", "https://example.com/")).Code)
		require.NoError(t, env.jobs.UpdateJobStatus(context.Background(), "job-done",
			crawler.JobUpdate{Status: crawler.JobStatusSucceeded}))

		rec := env.do(httptest.NewRequest(http.MethodPost, "/v1/jobs/job-done/cancel", nil))
		require.Equal(t, http.StatusConflict, rec.Code)
		require.Contains(t, rec.Body.String(), "succeeded")
	})

	t.Run("missing job", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, testConfig())
		rec := env.do(httptest.NewRequest(http.MethodPost, "/v1/jobs/nope/cancel", nil))
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testConfig())
	rec := env.do(httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ONLINE", rec.Body.String())

	rec = env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = env.do(httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReportsFailingCheck(t *testing.T) {
	t.Parallel()

	server := NewServer(Dependencies{
		Readiness: []ReadinessCheck{
			{Name: "elasticsearch", Check: func(context.Context) error { return errors.New("connection refused") }},
		},
	}, testConfig(), zap.NewNop())
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "elasticsearch")
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	env := newTestEnv(t, cfg, "job-auth")

	rec := env.do(formRequest("/v1/index/page", "https://example.com/"))
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := formRequest("/v1/index/page", "https://example.com/")
	req.Header.Set("X-API-Key", "secret")
	require.Equal(t, http.StatusAccepted, env.do(req).Code)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/v1/search?query=x&api_key=secret", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	handler := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "internal server error")
}

func TestRequestIDPropagatesIncomingHeader(t *testing.T) {
	t.Parallel()

	var seen string
	handler := requestIDMiddleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, "abc-123", seen)
	require.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

type fakeIDGen struct {
	mu  sync.Mutex
	ids []string
	n   int
}

func (f *fakeIDGen) NewID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.n < len(f.ids) {
		id := f.ids[f.n]
		f.n++
		return id, nil
	}
	f.n++
	return fmt.Sprintf("job-%d", f.n), nil
}

type failingBackend struct{}

func (failingBackend) Search(context.Context, search.Query) ([]crawler.SearchHit, error) {
	return nil, errors.New("cluster down")
}
