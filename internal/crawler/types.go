package crawler

import (
	"net/http"
	"time"
)

// JobStatus represents the lifecycle state of an index job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// Terminal reports whether no further transitions are expected.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCanceled:
		return true
	default:
		return false
	}
}

// JobMode selects between indexing a single page and a whole site.
type JobMode string

// Supported job modes.
const (
	JobModePage JobMode = "page"
	JobModeSite JobMode = "site"
)

// DefaultMaxPages bounds the number of fetches per job when none is requested.
const DefaultMaxPages = 500

// JobParameters captures the per-job knobs requested by the client.
type JobParameters struct {
	URL                   string  `json:"url"`
	Mode                  JobMode `json:"mode"`
	MaxPages              int     `json:"max_pages"`
	RespectRobots         bool    `json:"respect_robots"`
	RespectRobotsProvided bool    `json:"-"`
}

// Job is the metadata persisted for each submitted index request.
type Job struct {
	ID           string        `json:"id"`
	Status       JobStatus     `json:"status"`
	Submitted    time.Time     `json:"submitted_at"`
	Started      *time.Time    `json:"started_at,omitempty"`
	Finished     *time.Time    `json:"finished_at,omitempty"`
	ErrorText    string        `json:"error_text,omitempty"`
	CanonicalURL string        `json:"canonical_url,omitempty"`
	Parameters   JobParameters `json:"parameters"`
	Counters     JobCounters   `json:"counters"`
}

// JobCounters tallies frontier entries by terminal state.
type JobCounters struct {
	PagesFetched int `json:"pages_fetched"`
	PagesIndexed int `json:"pages_indexed"`
	PagesSkipped int `json:"pages_skipped"`
	PagesFailed  int `json:"pages_failed"`
	PagesDropped int `json:"pages_dropped"`
}

// EntryState is the state of a single frontier entry within a job.
type EntryState string

// Frontier entry states. Indexed, skipped, failed and done are terminal.
const (
	EntryQueued    EntryState = "queued"
	EntryFetching  EntryState = "fetching"
	EntryExtracted EntryState = "extracted"
	EntryScored    EntryState = "scored"
	EntryIndexed   EntryState = "indexed"
	EntrySkipped   EntryState = "skipped"
	EntryFailed    EntryState = "failed"
	EntryDone      EntryState = "done"
)

// Terminal reports whether the entry has finished processing.
func (s EntryState) Terminal() bool {
	switch s {
	case EntryIndexed, EntrySkipped, EntryFailed, EntryDone:
		return true
	default:
		return false
	}
}

// PageRecord is persisted for every frontier entry that was fetched.
type PageRecord struct {
	JobID       string     `json:"job_id"`
	URL         string     `json:"url"`
	State       EntryState `json:"state"`
	Reason      string     `json:"reason,omitempty"`
	StatusCode  int        `json:"status_code"`
	Weight      *int       `json:"weight,omitempty"`
	FetchedAt   time.Time  `json:"fetched_at"`
	DurationMs  int64      `json:"duration_ms"`
	ContentHash string     `json:"content_hash,omitempty"`
	BlobURI     string     `json:"blob_uri,omitempty"`
	// RobotsFallback marks pages fetched under an assumed allow-all robots.txt.
	RobotsFallback bool `json:"robots_fallback,omitempty"`
}

// JobResult is returned by the API result endpoint.
type JobResult struct {
	Job   Job          `json:"job"`
	Pages []PageRecord `json:"pages"`
}

// Link is an outbound link discovered on a fetched page.
type Link struct {
	URL      string `json:"url"`
	NoFollow bool   `json:"nofollow"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	JobID                 string
	URL                   string
	AllowedHost           string
	Headers               http.Header
	RespectRobots         bool
	RespectRobotsProvided bool
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Links      []Link
	// Rendered is set when the body came from a headless browser.
	Rendered bool
	// RobotsFallback is set when robots.txt was honoured but could not be
	// fetched, so every path was assumed allowed.
	RobotsFallback bool
}

// PageDocument is the canonical record stored in the index. URL is its identity.
type PageDocument struct {
	Title       string `json:"title"`
	Domain      string `json:"domain"`
	URL         string `json:"url"`
	Description string `json:"description"`
	Body        string `json:"body"`
	Weight      int    `json:"weight"`
}

// SearchHit is a single match returned by the index store.
type SearchHit struct {
	URL   string
	Body  string
	Score float64
}

// PageIndexedEvent is published for every page written to the index.
type PageIndexedEvent struct {
	JobID     string `json:"job_id"`
	URL       string `json:"url"`
	Domain    string `json:"domain"`
	Weight    int    `json:"weight"`
	Timestamp string `json:"timestamp"`
}

// Attributes returns message attributes used for subscriber-side filtering.
func (e PageIndexedEvent) Attributes() map[string]string {
	return map[string]string{
		"event":  "page_indexed",
		"job_id": e.JobID,
		"domain": e.Domain,
	}
}
