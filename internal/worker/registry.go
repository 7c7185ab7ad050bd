package worker

import (
	"context"
	"sync"
)

// Registry tracks the cancel functions of running jobs so they can be
// stopped from outside the worker pool.
type Registry struct {
	mu      sync.Mutex
	active  map[string]context.CancelFunc
	pending map[string]struct{}
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		active:  make(map[string]context.CancelFunc),
		pending: make(map[string]struct{}),
	}
}

// Register derives a cancelable context for jobID. A job canceled before it
// started receives an already canceled context.
func (r *Registry) Register(ctx context.Context, jobID string) context.Context {
	jobCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[jobID]; ok {
		delete(r.pending, jobID)
		cancel()
	}
	r.active[jobID] = cancel
	return jobCtx
}

// Release forgets jobID and frees its context.
func (r *Registry) Release(jobID string) {
	r.mu.Lock()
	cancel, ok := r.active[jobID]
	delete(r.active, jobID)
	r.mu.Unlock()
	if ok {
		cancel()
	}
}

// Cancel stops a running job, or marks a queued one so it is canceled when
// it starts. It reports whether the job was running.
func (r *Registry) Cancel(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cancel, ok := r.active[jobID]; ok {
		cancel()
		return true
	}
	r.pending[jobID] = struct{}{}
	return false
}

// running reports whether jobID is currently registered.
func (r *Registry) running(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[jobID]
	return ok
}
