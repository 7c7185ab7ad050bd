package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitesearch-indexer/internal/crawler"
)

func newMockStore(t *testing.T) (*JobStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewJobStoreWithPool(mock, "", "")
	require.NoError(t, err)
	return store, mock
}

func TestNewJobStoreWithPoolValidatesTables(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewJobStoreWithPool(nil, "", "")
	require.Error(t, err)

	_, err = NewJobStoreWithPool(mock, "jobs; DROP TABLE x", "")
	require.ErrorContains(t, err, "invalid table name")

	store, err := NewJobStoreWithPool(mock, "", "custom_pages")
	require.NoError(t, err)
	require.Equal(t, DefaultJobsTable, store.jobs)
	require.Equal(t, "custom_pages", store.pages)
}

func TestCreateJobInsertsRow(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	submitted := time.Unix(1700000000, 0).UTC()
	job := crawler.Job{
		ID:        "job-1",
		Submitted: submitted,
		Parameters: crawler.JobParameters{
			URL:           "https://example.com",
			Mode:          crawler.JobModeSite,
			MaxPages:      50,
			RespectRobots: true,
		},
	}

	mock.ExpectExec("INSERT INTO index_jobs").
		WithArgs(
			"job-1",
			"queued",
			submitted,
			"",
			"",
			[]byte(`{"url":"https://example.com","mode":"site","max_pages":50,"respect_robots":true}`),
			[]byte(`{"pages_fetched":0,"pages_indexed":0,"pages_skipped":0,"pages_failed":0,"pages_dropped":0}`),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateJob(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateJobStatus(t *testing.T) {
	t.Parallel()

	t.Run("terminal status stamps finish", func(t *testing.T) {
		t.Parallel()
		store, mock := newMockStore(t)
		now := time.Unix(1700000100, 0).UTC()
		store.now = func() time.Time { return now }

		mock.ExpectExec("UPDATE index_jobs SET").
			WithArgs(
				"succeeded",
				"",
				[]byte(`{"pages_fetched":3,"pages_indexed":2,"pages_skipped":1,"pages_failed":0,"pages_dropped":0}`),
				"https://example.com/",
				false,
				true,
				now,
				"job-1",
			).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		err := store.UpdateJobStatus(context.Background(), "job-1", crawler.JobUpdate{
			Status:       crawler.JobStatusSucceeded,
			CanonicalURL: "https://example.com/",
			Counters:     crawler.JobCounters{PagesFetched: 3, PagesIndexed: 2, PagesSkipped: 1},
		})
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing job", func(t *testing.T) {
		t.Parallel()
		store, mock := newMockStore(t)

		mock.ExpectExec("UPDATE index_jobs SET").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := store.UpdateJobStatus(context.Background(), "nope", crawler.JobUpdate{Status: crawler.JobStatusRunning})
		require.ErrorIs(t, err, crawler.ErrJobNotFound)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("exec error", func(t *testing.T) {
		t.Parallel()
		store, mock := newMockStore(t)

		mock.ExpectExec("UPDATE index_jobs SET").
			WillReturnError(errors.New("connection reset"))

		err := store.UpdateJobStatus(context.Background(), "job-1", crawler.JobUpdate{Status: crawler.JobStatusRunning})
		require.ErrorContains(t, err, "connection reset")
	})
}

func TestRecordPageInsertsRow(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	weight := 2
	fetched := time.Unix(1700000050, 0).UTC()
	page := crawler.PageRecord{
		JobID:          "job-1",
		URL:            "https://example.com/a",
		State:          crawler.EntryIndexed,
		StatusCode:     200,
		Weight:         &weight,
		FetchedAt:      fetched,
		DurationMs:     120,
		ContentHash:    "abc",
		BlobURI:        "gs://bucket/pages/job-1/abc.html",
		RobotsFallback: true,
	}

	mock.ExpectExec("INSERT INTO index_pages").
		WithArgs("job-1", "https://example.com/a", "indexed", "", 200, &weight, fetched, int64(120), "abc",
			"gs://bucket/pages/job-1/abc.html", true).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.RecordPage(context.Background(), page))
	require.NoError(t, mock.ExpectationsWereMet())

	require.Error(t, store.RecordPage(context.Background(), crawler.PageRecord{URL: "https://example.com"}))
}

func TestGetJob(t *testing.T) {
	t.Parallel()

	t.Run("found", func(t *testing.T) {
		t.Parallel()
		store, mock := newMockStore(t)

		submitted := time.Unix(1700000000, 0).UTC()
		started := submitted.Add(time.Second)
		rows := pgxmock.NewRows([]string{
			"id", "status", "submitted_at", "started_at", "finished_at",
			"error_text", "canonical_url", "parameters", "counters",
		}).AddRow(
			"job-1", "running", submitted, &started, (*time.Time)(nil),
			"", "https://example.com/",
			[]byte(`{"url":"https://example.com","mode":"page","max_pages":500,"respect_robots":true}`),
			[]byte(`{"pages_fetched":1,"pages_indexed":1}`),
		)
		mock.ExpectQuery("FROM index_jobs").WithArgs("job-1").WillReturnRows(rows)

		job, err := store.GetJob(context.Background(), "job-1")
		require.NoError(t, err)
		require.Equal(t, crawler.JobStatusRunning, job.Status)
		require.Equal(t, submitted, job.Submitted)
		require.NotNil(t, job.Started)
		require.Nil(t, job.Finished)
		require.Equal(t, "https://example.com/", job.CanonicalURL)
		require.Equal(t, crawler.JobModePage, job.Parameters.Mode)
		require.Equal(t, 500, job.Parameters.MaxPages)
		require.Equal(t, 1, job.Counters.PagesIndexed)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		t.Parallel()
		store, mock := newMockStore(t)

		mock.ExpectQuery("FROM index_jobs").WithArgs("missing").WillReturnError(pgx.ErrNoRows)

		_, err := store.GetJob(context.Background(), "missing")
		require.ErrorIs(t, err, crawler.ErrJobNotFound)
	})
}

func TestListPages(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	fetched := time.Unix(1700000050, 0).UTC()
	weight := 3
	rows := pgxmock.NewRows([]string{
		"job_id", "url", "state", "reason", "status_code", "weight",
		"fetched_at", "duration_ms", "content_hash", "blob_uri", "robots_fallback",
	}).
		AddRow("job-1", "https://example.com/", "indexed", "", 200, &weight, fetched, int64(80), "h1", "", true).
		AddRow("job-1", "https://example.com/x.pdf", "skipped", "non_html", 200, (*int)(nil), fetched, int64(10), "h2", "", false)
	mock.ExpectQuery("FROM index_pages").WithArgs("job-1").WillReturnRows(rows)

	pages, err := store.ListPages(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, pages, 2)
	require.Equal(t, crawler.EntryIndexed, pages[0].State)
	require.Equal(t, 3, *pages[0].Weight)
	require.True(t, pages[0].RobotsFallback)
	require.Equal(t, crawler.EntrySkipped, pages[1].State)
	require.Equal(t, "non_html", pages[1].Reason)
	require.Nil(t, pages[1].Weight)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS index_jobs").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS index_pages").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS index_pages_job_id_idx").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
