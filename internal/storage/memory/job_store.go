// Package memory keeps jobs, page records and archived pages in process
// memory for development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/sitesearch-indexer/internal/crawler"
)

// ErrJobExists is returned when a job ID is reused.
var ErrJobExists = errors.New("job already exists")

// JobStore provides an in-memory implementation for development/testing.
type JobStore struct {
	mu    sync.RWMutex
	jobs  map[string]crawler.Job
	pages map[string][]crawler.PageRecord
	now   func() time.Time
}

// NewJobStore constructs a JobStore. A nil clock uses the wall clock.
func NewJobStore(clock crawler.Clock) *JobStore {
	now := func() time.Time { return time.Now().UTC() }
	if clock != nil {
		now = clock.Now
	}
	return &JobStore{
		jobs:  make(map[string]crawler.Job),
		pages: make(map[string][]crawler.PageRecord),
		now:   now,
	}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job crawler.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("%w: %s", ErrJobExists, job.ID)
	}
	if job.Status == "" {
		job.Status = crawler.JobStatusQueued
	}
	s.jobs[job.ID] = job
	return nil
}

// UpdateJobStatus applies update and stamps start and finish times.
func (s *JobStore) UpdateJobStatus(_ context.Context, jobID string, update crawler.JobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", crawler.ErrJobNotFound, jobID)
	}
	job.Status = update.Status
	job.ErrorText = update.ErrorText
	job.Counters = update.Counters
	if update.CanonicalURL != "" {
		job.CanonicalURL = update.CanonicalURL
	}
	now := s.now()
	if update.Status == crawler.JobStatusRunning && job.Started == nil {
		job.Started = pointerTime(now)
	}
	if update.Status.Terminal() {
		job.Finished = pointerTime(now)
	}
	s.jobs[jobID] = job
	return nil
}

// RecordPage appends a page row for a job.
func (s *JobStore) RecordPage(_ context.Context, page crawler.PageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[page.JobID] = append(s.pages[page.JobID], page)
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.Job{}, fmt.Errorf("%w: %s", crawler.ErrJobNotFound, jobID)
	}
	return job, nil
}

// ListPages returns all recorded pages for a job.
func (s *JobStore) ListPages(_ context.Context, jobID string) ([]crawler.PageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pages := s.pages[jobID]
	out := make([]crawler.PageRecord, len(pages))
	copy(out, pages)
	return out, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
