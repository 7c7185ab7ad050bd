package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitesearch-indexer/internal/config"
	"github.com/JakeFAU/sitesearch-indexer/internal/crawler"
	"github.com/JakeFAU/sitesearch-indexer/internal/metrics"
	"github.com/JakeFAU/sitesearch-indexer/internal/search"
)

const enqueueTimeout = 5 * time.Second

// Searcher answers search queries.
type Searcher interface {
	Search(ctx context.Context, expr string) ([]search.Result, error)
}

// Dispatcher accepts queued jobs and cancels them by ID.
type Dispatcher interface {
	Enqueue(ctx context.Context, item crawler.QueueItem) error
	Cancel(jobID string) bool
}

// ReadinessCheck is consulted by /readyz.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Dependencies are the collaborators the HTTP handlers use.
type Dependencies struct {
	JobStore   crawler.JobStore
	Dispatcher Dispatcher
	Searcher   Searcher
	IDs        crawler.IDGenerator
	Clock      crawler.Clock
	Readiness  []ReadinessCheck
}

// Server wires HTTP handlers to the dispatcher, searcher and stores.
type Server struct {
	router chi.Router
	deps   Dependencies
	cfg    config.Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Dependencies, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{deps: deps, cfg: cfg, logger: logger}

	timeout := cfg.RequestTimeout()
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(metrics.Middleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(timeout))

	r.Get("/", s.root)
	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/v1", func(r chi.Router) {
			r.Post("/index/page", s.indexPage)
			r.Post("/index/site", s.indexSite)
			r.Get("/search", s.search)
			r.Route("/jobs/{job_id}", func(r chi.Router) {
				r.Get("/status", s.getJobStatus)
				r.Get("/result", s.getJobResult)
				r.Post("/cancel", s.cancelJob)
			})
		})
		// Legacy form endpoints.
		r.Post("/indexs", s.indexPage)
		r.Post("/indexf", s.indexSite)
		r.Get("/search", s.search)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) root(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := w.Write([]byte("ONLINE")); err != nil {
		s.logger.Warn("write root response failed", zap.Error(err))
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	failing := map[string]string{}
	for _, check := range s.deps.Readiness {
		if err := check.Check(ctx); err != nil {
			failing[check.Name] = err.Error()
		}
	}
	if len(failing) > 0 {
		s.logger.Warn("readiness check failed", zap.Any("failing", failing))
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failing": failing})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) indexPage(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, crawler.JobModePage)
}

func (s *Server) indexSite(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, crawler.JobModeSite)
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, mode crawler.JobMode) {
	req, err := decodeIndexRequest(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	params, err := s.toJobParameters(req, mode)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobID, err := s.enqueueJob(r.Context(), params)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		s.writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	results, err := s.deps.Searcher.Search(r.Context(), query)
	if err != nil {
		if errors.Is(err, crawler.ErrMissingInput) {
			s.writeError(w, http.StatusBadRequest, "query is required")
			return
		}
		s.writeError(w, http.StatusBadGateway, "search backend unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, results)
}

func (s *Server) getJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.deps.JobStore.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) getJobResult(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.deps.JobStore.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	pages, err := s.deps.JobStore.ListPages(r.Context(), jobID)
	if err != nil {
		s.logger.Error("list pages failed", zap.String("job_id", jobID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to fetch job pages")
		return
	}
	s.writeJSON(w, http.StatusOK, crawler.JobResult{Job: job, Pages: pages})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.deps.JobStore.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if job.Status.Terminal() {
		s.writeJSON(w, http.StatusConflict, map[string]string{"job_id": jobID, "status": string(job.Status)})
		return
	}
	if !s.deps.Dispatcher.Cancel(jobID) {
		// Still queued: record the cancellation now; the worker skips it on dequeue.
		err := s.deps.JobStore.UpdateJobStatus(r.Context(), jobID, crawler.JobUpdate{
			Status:    crawler.JobStatusCanceled,
			ErrorText: "canceled via API",
			Counters:  job.Counters,
		})
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": string(crawler.JobStatusCanceled)})
}

func (s *Server) enqueueJob(ctx context.Context, params crawler.JobParameters) (string, error) {
	jobID, err := s.deps.IDs.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	now := s.deps.Clock.Now()
	job := crawler.Job{
		ID:         jobID,
		Status:     crawler.JobStatusQueued,
		Submitted:  now,
		Parameters: params,
	}
	if err := s.deps.JobStore.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	queueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	item := crawler.QueueItem{
		JobID:     jobID,
		Params:    params,
		Attempt:   1,
		Submitted: now.Unix(),
	}
	if err := s.deps.Dispatcher.Enqueue(queueCtx, item); err != nil {
		failErr := s.deps.JobStore.UpdateJobStatus(context.WithoutCancel(ctx), jobID, crawler.JobUpdate{
			Status:    crawler.JobStatusFailed,
			ErrorText: "enqueue failed: " + err.Error(),
		})
		if failErr != nil {
			s.logger.Error("mark unqueued job failed", zap.String("job_id", jobID), zap.Error(failErr))
		}
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	s.logger.Info("job accepted",
		zap.String("job_id", jobID),
		zap.String("url", params.URL),
		zap.String("mode", string(params.Mode)),
	)
	return jobID, nil
}

type indexRequest struct {
	URL           string `json:"url"`
	MaxPages      *int   `json:"max_pages"`
	RespectRobots *bool  `json:"respect_robots"`
}

// decodeIndexRequest accepts a JSON body or form values.
func decodeIndexRequest(r *http.Request) (indexRequest, error) {
	var req indexRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return indexRequest{}, errors.New("invalid JSON")
		}
		return req, nil
	}
	if err := r.ParseForm(); err != nil {
		return indexRequest{}, errors.New("invalid form data")
	}
	req.URL = r.FormValue("url")
	return req, nil
}

func (s *Server) toJobParameters(req indexRequest, mode crawler.JobMode) (crawler.JobParameters, error) {
	raw := strings.TrimSpace(req.URL)
	if raw == "" {
		return crawler.JobParameters{}, errors.New("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return crawler.JobParameters{}, fmt.Errorf("url %q must be an absolute http(s) URL", raw)
	}
	maxPages := valueOrDefault(req.MaxPages, s.cfg.Crawler.MaxPages)
	if maxPages <= 0 {
		return crawler.JobParameters{}, errors.New("max_pages must be > 0")
	}
	return crawler.JobParameters{
		URL:                   raw,
		Mode:                  mode,
		MaxPages:              maxPages,
		RespectRobots:         valueOrDefault(req.RespectRobots, !s.cfg.Crawler.IgnoreRobots),
		RespectRobotsProvided: true,
	}, nil
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, crawler.ErrJobNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.logger.Error("job store failed", zap.Error(err))
	s.writeError(w, http.StatusInternalServerError, "job store unavailable")
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
