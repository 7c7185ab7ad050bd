package crawler

import (
	"context"
	"io"
	"time"
)

// JobStore persists job and page metadata.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJobStatus(ctx context.Context, jobID string, update JobUpdate) error
	RecordPage(ctx context.Context, page PageRecord) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListPages(ctx context.Context, jobID string) ([]PageRecord, error)
}

// JobUpdate carries a status transition and the counters observed so far.
type JobUpdate struct {
	Status       JobStatus
	ErrorText    string
	CanonicalURL string
	Counters     JobCounters
}

// IndexStore persists page documents keyed by URL.
type IndexStore interface {
	Upsert(ctx context.Context, doc PageDocument) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes indexing events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher fetches a URL and returns the body, metadata and discovered links.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Canonicalizer resolves a possibly redirecting URL to its final form.
type Canonicalizer interface {
	Resolve(ctx context.Context, rawURL string) (string, error)
}

// Limiter delays fetches to respect per-host politeness.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Queue provides enqueue/dequeue semantics for index jobs.
type Queue interface {
	Enqueue(ctx context.Context, job QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	Params    JobParameters
	Attempt   int
	Submitted int64
}
