// Package worker implements the index job execution loop.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitesearch-indexer/internal/clock/system"
	"github.com/JakeFAU/sitesearch-indexer/internal/crawler"
	"github.com/JakeFAU/sitesearch-indexer/internal/metrics"
	"github.com/JakeFAU/sitesearch-indexer/internal/pipeline"
	"github.com/JakeFAU/sitesearch-indexer/internal/telemetry"
	"github.com/JakeFAU/sitesearch-indexer/internal/traversal"
)

// Reasons recorded for pages that never reached the pipeline.
const (
	ReasonRateLimit = "rate_limit"
	ReasonFetch     = "fetch_failed"
)

// Config controls Worker behavior.
type Config struct {
	ContentType string
	BlobPrefix  string
	Topic       string
}

// Renderer replaces app-shell responses with their rendered DOM. It reports
// false when the response did not need rendering.
type Renderer interface {
	Promote(ctx context.Context, resp crawler.FetchResponse, scope string) (crawler.FetchResponse, bool, error)
}

// Dependencies are the collaborators a Worker drives. BlobStore, Publisher,
// NewLimiter, Renderer and Tracer are optional. NewLimiter is called once per
// job so politeness buckets are never shared between jobs.
type Dependencies struct {
	Queue         crawler.Queue
	JobStore      crawler.JobStore
	BlobStore     crawler.BlobStore
	Publisher     crawler.Publisher
	Hasher        crawler.Hasher
	Clock         crawler.Clock
	Canonicalizer crawler.Canonicalizer
	Fetcher       crawler.Fetcher
	Renderer      Renderer
	NewLimiter    func() crawler.Limiter
	Processor     *pipeline.Processor
	Controller    *traversal.Controller
	Registry      *Registry
	Tracer        *telemetry.Tracer
}

// Worker consumes queue items and executes index jobs.
type Worker struct {
	deps   Dependencies
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(deps Dependencies, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	if deps.Registry == nil {
		deps.Registry = NewRegistry()
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.Tracer == nil {
		deps.Tracer = telemetry.NewTracer()
	}
	return &Worker{deps: deps, cfg: cfg, logger: logger}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.deps.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.Execute(ctx, item)
	}
}

// Execute runs one job to completion and returns the final update written
// to the job store.
func (w *Worker) Execute(ctx context.Context, item crawler.QueueItem) crawler.JobUpdate {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	ctx, span := w.deps.Tracer.JobSpan(ctx, item.JobID, item.Params.URL, string(item.Params.Mode))
	jobCtx := w.deps.Registry.Register(ctx, item.JobID)
	defer w.deps.Registry.Release(item.JobID)
	// Status writes must land even after the job was canceled.
	storeCtx := context.WithoutCancel(ctx)
	logger := w.logger.With(zap.String("job_id", item.JobID), zap.String("url", item.Params.URL))

	if jobCtx.Err() == nil {
		if err := w.deps.JobStore.UpdateJobStatus(storeCtx, item.JobID, crawler.JobUpdate{Status: crawler.JobStatusRunning}); err != nil {
			logger.Error("update job status failed", zap.Error(err))
		}
	}

	final := w.runJob(jobCtx, item, logger)
	if err := w.deps.JobStore.UpdateJobStatus(storeCtx, item.JobID, final); err != nil {
		logger.Error("final job status update failed", zap.Error(err))
	}
	metrics.ObserveJob(string(final.Status))
	var jobErr error
	if final.Status == crawler.JobStatusFailed {
		jobErr = errors.New(final.ErrorText)
	}
	telemetry.Finish(span, string(final.Status), jobErr)
	logger.Info("job finished",
		zap.String("status", string(final.Status)),
		zap.Int("fetched", final.Counters.PagesFetched),
		zap.Int("indexed", final.Counters.PagesIndexed),
		zap.Int("skipped", final.Counters.PagesSkipped),
		zap.Int("failed", final.Counters.PagesFailed),
	)
	return final
}

func (w *Worker) runJob(ctx context.Context, item crawler.QueueItem, logger *zap.Logger) crawler.JobUpdate {
	if ctx.Err() != nil {
		return crawler.JobUpdate{Status: crawler.JobStatusCanceled, ErrorText: "canceled before start"}
	}

	canonical, err := w.deps.Canonicalizer.Resolve(ctx, item.Params.URL)
	if err != nil {
		if ctx.Err() != nil {
			return crawler.JobUpdate{Status: crawler.JobStatusCanceled, ErrorText: err.Error()}
		}
		logger.Warn("start url unreachable", zap.Error(err))
		return crawler.JobUpdate{Status: crawler.JobStatusFailed, ErrorText: err.Error()}
	}

	scope := ""
	if item.Params.Mode == crawler.JobModeSite {
		scope = crawler.Host(canonical)
	}
	logger.Info("job started", zap.String("canonical_url", canonical), zap.String("scope", scope))

	controller := w.deps.Controller.WithMaxPages(item.Params.MaxPages)
	var limiter crawler.Limiter
	if w.deps.NewLimiter != nil {
		limiter = w.deps.NewLimiter()
	}
	summary, err := controller.Run(ctx, canonical, scope, w.visitor(item, scope, limiter))
	if err != nil {
		return crawler.JobUpdate{Status: crawler.JobStatusFailed, ErrorText: err.Error(), CanonicalURL: canonical}
	}

	update := crawler.JobUpdate{
		Status:       crawler.JobStatusSucceeded,
		CanonicalURL: canonical,
		Counters:     summary.Counters(),
	}
	if ctx.Err() != nil {
		update.Status = crawler.JobStatusCanceled
		update.ErrorText = "canceled"
	}
	return update
}

func (w *Worker) visitor(item crawler.QueueItem, scope string, limiter crawler.Limiter) traversal.Visitor {
	return func(ctx context.Context, url string, track traversal.Tracker) traversal.Visit {
		ctx, span := w.deps.Tracer.PageSpan(ctx, item.JobID, url)
		visit, err := w.visit(ctx, item, scope, limiter, url, track)
		telemetry.Finish(span, string(visit.State), err)
		return visit
	}
}

func (w *Worker) visit(ctx context.Context, item crawler.QueueItem, scope string, limiter crawler.Limiter, url string, track traversal.Tracker) (traversal.Visit, error) {
	logger := w.logger.With(zap.String("job_id", item.JobID), zap.String("url", url))
	record := crawler.PageRecord{JobID: item.JobID, URL: url, FetchedAt: w.deps.Clock.Now()}

	if limiter != nil {
		if err := limiter.Wait(ctx, url); err != nil {
			if ctx.Err() != nil {
				return traversal.Visit{State: crawler.EntryDone}, nil
			}
			record.State, record.Reason = crawler.EntryFailed, ReasonRateLimit
			w.finishPage(ctx, record, 0, logger)
			return traversal.Visit{State: crawler.EntryFailed}, err
		}
	}

	resp, err := w.deps.Fetcher.Fetch(ctx, crawler.FetchRequest{
		JobID:                 item.JobID,
		URL:                   url,
		AllowedHost:           scope,
		RespectRobots:         item.Params.RespectRobots,
		RespectRobotsProvided: item.Params.RespectRobotsProvided,
	})
	if err != nil {
		if ctx.Err() != nil {
			return traversal.Visit{State: crawler.EntryDone}, nil
		}
		logger.Warn("fetch failed", zap.Error(err))
		record.State, record.Reason = crawler.EntryFailed, ReasonFetch
		w.finishPage(ctx, record, 0, logger)
		return traversal.Visit{State: crawler.EntryFailed}, err
	}
	if resp.URL == "" {
		resp.URL = url
	}
	resp = w.render(ctx, scope, resp, logger)
	record.URL = resp.URL
	record.StatusCode = resp.StatusCode
	record.DurationMs = resp.Duration.Milliseconds()
	record.RobotsFallback = resp.RobotsFallback
	record.ContentHash, record.BlobURI = w.archive(ctx, item.JobID, resp, logger)

	outcome := w.deps.Processor.Process(ctx, resp, track)
	record.State, record.Reason = outcome.State, outcome.Reason
	if outcome.Document.URL != "" {
		weight := outcome.Document.Weight
		record.Weight = &weight
	}
	w.finishPage(ctx, record, len(resp.Body), logger)

	if outcome.State == crawler.EntryIndexed {
		w.publish(ctx, item.JobID, outcome.Document, logger)
	}
	return traversal.Visit{State: outcome.State, Links: resp.Links}, outcome.Err
}

// render replaces resp with a headless rendering when the renderer asks for
// one. A failed render keeps the plain response. Renders re-read a page the
// frontier already admitted, so they do not count against the page cap.
func (w *Worker) render(ctx context.Context, scope string, resp crawler.FetchResponse, logger *zap.Logger) crawler.FetchResponse {
	if w.deps.Renderer == nil {
		return resp
	}
	rendered, ok, err := w.deps.Renderer.Promote(ctx, resp, scope)
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn("headless render failed; using plain response", zap.Error(err))
		}
		return resp
	}
	if !ok {
		return resp
	}
	logger.Debug("page rendered in headless browser", zap.Int("links", len(rendered.Links)))
	return rendered
}

func (w *Worker) finishPage(ctx context.Context, record crawler.PageRecord, size int, logger *zap.Logger) {
	metrics.ObservePage(record.URL, string(record.State), size)
	if err := w.deps.JobStore.RecordPage(context.WithoutCancel(ctx), record); err != nil {
		logger.Error("record page failed", zap.Error(err))
	}
}

func (w *Worker) buildBlobPath(jobID, hash string) string {
	prefix := strings.Trim(w.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.html", jobID, hash)
	}
	return fmt.Sprintf("%s/%s/%s.html", prefix, jobID, hash)
}

// archive hashes the raw body and, when a blob store is configured, keeps
// a copy. Archive failures do not fail the page.
func (w *Worker) archive(ctx context.Context, jobID string, resp crawler.FetchResponse, logger *zap.Logger) (string, string) {
	if w.deps.Hasher == nil {
		return "", ""
	}
	hash, err := w.deps.Hasher.Hash(resp.Body)
	if err != nil {
		logger.Warn("hash body failed", zap.Error(err))
		return "", ""
	}
	if w.deps.BlobStore == nil {
		return hash, ""
	}
	uri, err := w.deps.BlobStore.PutObject(ctx, w.buildBlobPath(jobID, hash), w.cfg.ContentType, bytes.NewReader(resp.Body))
	if err != nil {
		logger.Warn("archive page failed", zap.Error(err))
		return hash, ""
	}
	return hash, uri
}

func (w *Worker) publish(ctx context.Context, jobID string, doc crawler.PageDocument, logger *zap.Logger) {
	if w.cfg.Topic == "" || w.deps.Publisher == nil {
		return
	}
	event := crawler.PageIndexedEvent{
		JobID:     jobID,
		URL:       doc.URL,
		Domain:    doc.Domain,
		Weight:    doc.Weight,
		Timestamp: w.deps.Clock.Now().Format(time.RFC3339),
	}
	id, err := w.deps.Publisher.Publish(ctx, w.cfg.Topic, event)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			logger.Warn("publish page failed", zap.Error(err))
		}
		return
	}
	logger.Debug("page published", zap.String("message_id", id))
}
