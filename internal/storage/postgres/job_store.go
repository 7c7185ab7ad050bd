// Package postgres provides a Postgres-backed job store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/sitesearch-indexer/internal/crawler"
)

// Default table names.
const (
	DefaultJobsTable  = "index_jobs"
	DefaultPagesTable = "index_pages"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool and table names.
type Config struct {
	DSN             string
	JobsTable       string
	PagesTable      string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Pool is the subset of pgxpool.Pool used by the store.
type Pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// JobStore persists jobs and page records in Postgres.
type JobStore struct {
	pool  Pool
	jobs  string
	pages string
	now   func() time.Time
}

// NewJobStore connects to Postgres using cfg.
func NewJobStore(ctx context.Context, cfg Config) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewJobStoreWithPool(pool, cfg.JobsTable, cfg.PagesTable)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewJobStoreWithPool constructs a store from an existing pool.
// Empty table names fall back to the defaults.
func NewJobStoreWithPool(pool Pool, jobsTable, pagesTable string) (*JobStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if jobsTable == "" {
		jobsTable = DefaultJobsTable
	}
	if pagesTable == "" {
		pagesTable = DefaultPagesTable
	}
	for _, table := range []string{jobsTable, pagesTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return &JobStore{
		pool:  pool,
		jobs:  jobsTable,
		pages: pagesTable,
		now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks database connectivity.
func (s *JobStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates the job and page tables when they do not exist.
func (s *JobStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id            TEXT PRIMARY KEY,
	status        TEXT NOT NULL,
	submitted_at  TIMESTAMPTZ NOT NULL,
	started_at    TIMESTAMPTZ,
	finished_at   TIMESTAMPTZ,
	error_text    TEXT NOT NULL DEFAULT '',
	canonical_url TEXT NOT NULL DEFAULT '',
	parameters    JSONB NOT NULL,
	counters      JSONB NOT NULL
)`, s.jobs),
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	job_id          TEXT NOT NULL REFERENCES %s (id) ON DELETE CASCADE,
	url             TEXT NOT NULL,
	state           TEXT NOT NULL,
	reason          TEXT NOT NULL DEFAULT '',
	status_code     INTEGER NOT NULL,
	weight          INTEGER,
	fetched_at      TIMESTAMPTZ NOT NULL,
	duration_ms     BIGINT NOT NULL,
	content_hash    TEXT NOT NULL DEFAULT '',
	blob_uri        TEXT NOT NULL DEFAULT '',
	robots_fallback BOOLEAN NOT NULL DEFAULT FALSE
)`, s.pages, s.jobs),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_job_id_idx ON %s (job_id, fetched_at)`, s.pages, s.pages),
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// CreateJob inserts a new job row.
func (s *JobStore) CreateJob(ctx context.Context, job crawler.Job) error {
	if job.ID == "" {
		return errors.New("job id is required")
	}
	if job.Status == "" {
		job.Status = crawler.JobStatusQueued
	}
	params, err := json.Marshal(job.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}
	counters, err := json.Marshal(job.Counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, status, submitted_at, error_text, canonical_url, parameters, counters)
VALUES ($1,$2,$3,$4,$5,$6,$7)`, s.jobs)
	_, err = s.pool.Exec(ctx, query,
		job.ID,
		string(job.Status),
		job.Submitted,
		job.ErrorText,
		job.CanonicalURL,
		params,
		counters,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJobStatus applies update, stamping started_at on the first running
// transition and finished_at on terminal ones.
func (s *JobStore) UpdateJobStatus(ctx context.Context, jobID string, update crawler.JobUpdate) error {
	counters, err := json.Marshal(update.Counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	query := fmt.Sprintf(`
UPDATE %s SET
	status = $1,
	error_text = $2,
	counters = $3,
	canonical_url = COALESCE(NULLIF($4, ''), canonical_url),
	started_at = CASE WHEN $5 AND started_at IS NULL THEN $7 ELSE started_at END,
	finished_at = CASE WHEN $6 THEN $7 ELSE finished_at END
WHERE id = $8`, s.jobs)
	tag, err := s.pool.Exec(ctx, query,
		string(update.Status),
		update.ErrorText,
		counters,
		update.CanonicalURL,
		update.Status == crawler.JobStatusRunning,
		update.Status.Terminal(),
		s.now(),
		jobID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", crawler.ErrJobNotFound, jobID)
	}
	return nil
}

// RecordPage inserts a page row.
func (s *JobStore) RecordPage(ctx context.Context, page crawler.PageRecord) error {
	if page.JobID == "" {
		return errors.New("page job id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (job_id, url, state, reason, status_code, weight, fetched_at, duration_ms, content_hash, blob_uri, robots_fallback)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`, s.pages)
	_, err := s.pool.Exec(ctx, query,
		page.JobID,
		page.URL,
		string(page.State),
		page.Reason,
		page.StatusCode,
		page.Weight,
		page.FetchedAt,
		page.DurationMs,
		page.ContentHash,
		page.BlobURI,
		page.RobotsFallback,
	)
	if err != nil {
		return fmt.Errorf("insert page: %w", err)
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (crawler.Job, error) {
	query := fmt.Sprintf(`
SELECT id, status, submitted_at, started_at, finished_at, error_text, canonical_url, parameters, counters
FROM %s
WHERE id = $1`, s.jobs)

	var (
		job              crawler.Job
		status           string
		params, counters []byte
	)
	err := s.pool.QueryRow(ctx, query, jobID).Scan(
		&job.ID,
		&status,
		&job.Submitted,
		&job.Started,
		&job.Finished,
		&job.ErrorText,
		&job.CanonicalURL,
		&params,
		&counters,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Job{}, fmt.Errorf("%w: %s", crawler.ErrJobNotFound, jobID)
		}
		return crawler.Job{}, fmt.Errorf("get job: %w", err)
	}
	job.Status = crawler.JobStatus(status)
	if err := json.Unmarshal(params, &job.Parameters); err != nil {
		return crawler.Job{}, fmt.Errorf("decode parameters: %w", err)
	}
	if err := json.Unmarshal(counters, &job.Counters); err != nil {
		return crawler.Job{}, fmt.Errorf("decode counters: %w", err)
	}
	return job, nil
}

// ListPages returns the page rows of a job ordered by fetch time.
func (s *JobStore) ListPages(ctx context.Context, jobID string) ([]crawler.PageRecord, error) {
	query := fmt.Sprintf(`
SELECT job_id, url, state, reason, status_code, weight, fetched_at, duration_ms, content_hash, blob_uri, robots_fallback
FROM %s
WHERE job_id = $1
ORDER BY fetched_at, url`, s.pages)
	rows, err := s.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()

	pages := make([]crawler.PageRecord, 0)
	for rows.Next() {
		var (
			page  crawler.PageRecord
			state string
		)
		if err := rows.Scan(
			&page.JobID,
			&page.URL,
			&state,
			&page.Reason,
			&page.StatusCode,
			&page.Weight,
			&page.FetchedAt,
			&page.DurationMs,
			&page.ContentHash,
			&page.BlobURI,
			&page.RobotsFallback,
		); err != nil {
			return nil, fmt.Errorf("scan page row: %w", err)
		}
		page.State = crawler.EntryState(state)
		pages = append(pages, page)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate page rows: %w", err)
	}
	return pages, nil
}
