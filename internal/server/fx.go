// Package server builds the indexer's dependency graph and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitesearch-indexer/internal/api"
	"github.com/JakeFAU/sitesearch-indexer/internal/clock/system"
	"github.com/JakeFAU/sitesearch-indexer/internal/config"
	"github.com/JakeFAU/sitesearch-indexer/internal/crawler"
	"github.com/JakeFAU/sitesearch-indexer/internal/dispatcher"
	"github.com/JakeFAU/sitesearch-indexer/internal/extract"
	collyfetcher "github.com/JakeFAU/sitesearch-indexer/internal/fetcher/colly"
	"github.com/JakeFAU/sitesearch-indexer/internal/fetcher/headless"
	"github.com/JakeFAU/sitesearch-indexer/internal/hash/sha256"
	"github.com/JakeFAU/sitesearch-indexer/internal/id/uuid"
	"github.com/JakeFAU/sitesearch-indexer/internal/index"
	"github.com/JakeFAU/sitesearch-indexer/internal/index/elastic"
	indexmemory "github.com/JakeFAU/sitesearch-indexer/internal/index/memory"
	"github.com/JakeFAU/sitesearch-indexer/internal/logging"
	"github.com/JakeFAU/sitesearch-indexer/internal/metrics"
	"github.com/JakeFAU/sitesearch-indexer/internal/pipeline"
	"github.com/JakeFAU/sitesearch-indexer/internal/policy/ratelimit"
	gcppublisher "github.com/JakeFAU/sitesearch-indexer/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/sitesearch-indexer/internal/queue/memory"
	"github.com/JakeFAU/sitesearch-indexer/internal/search"
	gcsstorage "github.com/JakeFAU/sitesearch-indexer/internal/storage/gcs"
	localstorage "github.com/JakeFAU/sitesearch-indexer/internal/storage/local"
	storagememory "github.com/JakeFAU/sitesearch-indexer/internal/storage/memory"
	pgstore "github.com/JakeFAU/sitesearch-indexer/internal/storage/postgres"
	"github.com/JakeFAU/sitesearch-indexer/internal/telemetry"
	"github.com/JakeFAU/sitesearch-indexer/internal/traversal"
	"github.com/JakeFAU/sitesearch-indexer/internal/worker"
)

// indexBackend is what the index store must offer beyond upserts.
type indexBackend interface {
	crawler.IndexStore
	search.Backend
	Ping(ctx context.Context) error
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	apiServer *api.Server
	dispatch  *dispatcher.Dispatcher
	queue     *queuememory.Queue
	workers   []*worker.Worker
	searcher  *search.Searcher
	jobStore  crawler.JobStore
	ids       crawler.IDGenerator
	clock     crawler.Clock

	indexStore      indexBackend
	esStore         *elastic.Store
	pgStore         *pgstore.JobStore
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	storage         *storage.Client
	headless        *headless.Browser
	tracingShutdown telemetry.ShutdownFunc
}

// Build constructs every component described by cfg.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	return BuildWithLogger(ctx, cfg, logger)
}

// BuildWithLogger is Build with a caller-provided logger.
func BuildWithLogger(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var err error
	metrics.Init()

	app := &App{
		cfg:    cfg,
		logger: logger,
		ids:    uuid.New(),
		clock:  system.New(),
	}
	logger.Info("building application",
		zap.Int("port", cfg.Server.Port),
		zap.String("index_backend", cfg.Index.Backend),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Int("concurrency", cfg.Crawler.Concurrency),
	)

	// Close whatever was opened if a later step fails.
	ok := false
	defer func() {
		if !ok {
			app.closeInfrastructure(context.WithoutCancel(ctx))
		}
	}()

	app.tracingShutdown, err = telemetry.Init(ctx, cfg.Tracing, logger)
	if err != nil {
		return nil, fmt.Errorf("tracing init failed: %w", err)
	}
	if err := setupIndex(ctx, app); err != nil {
		return nil, err
	}
	if err := setupDatabase(ctx, app); err != nil {
		return nil, err
	}
	if err := setupHeadless(app); err != nil {
		return nil, err
	}
	blobStore, err := setupStorage(ctx, app)
	if err != nil {
		return nil, err
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}

	app.queue = queuememory.NewQueue(cfg.Crawler.QueueDepth)
	registry := worker.NewRegistry()
	app.workers = setupWorkers(app, registry, blobStore, publisher)
	app.dispatch = dispatcher.New(app.queue, app.workers, registry)
	app.searcher = search.NewSearcher(app.indexStore, logger.Named("search"))

	app.apiServer = api.NewServer(api.Dependencies{
		JobStore:   app.jobStore,
		Dispatcher: app.dispatch,
		Searcher:   app.searcher,
		IDs:        app.ids,
		Clock:      app.clock,
		Readiness:  app.readinessChecks(),
	}, cfg, logger.Named("api"))

	ok = true
	return app, nil
}

func setupIndex(ctx context.Context, app *App) error {
	cfg := app.cfg
	switch cfg.Index.Backend {
	case config.IndexMemory:
		app.logger.Info("using in-memory index")
		app.indexStore = indexmemory.New()
		return nil
	case config.IndexElasticsearch, "":
	default:
		return fmt.Errorf("unsupported index backend %q", cfg.Index.Backend)
	}

	client, err := elastic.NewClient(elastic.Config{
		Addresses:  cfg.Elasticsearch.Addresses,
		Username:   cfg.Elasticsearch.Username,
		Password:   cfg.Elasticsearch.Password,
		MaxRetries: cfg.Elasticsearch.MaxRetries,
	})
	if err != nil {
		return fmt.Errorf("elasticsearch client init failed: %w", err)
	}
	app.esStore = elastic.New(client, cfg.Elasticsearch.Index, app.logger.Named("elastic"))
	app.indexStore = app.esStore
	app.logger.Info("using elasticsearch index",
		zap.Strings("addresses", cfg.Elasticsearch.Addresses),
		zap.String("index", cfg.Elasticsearch.Index),
	)
	if cfg.Elasticsearch.CreateIndex {
		if err := app.esStore.EnsureIndex(ctx); err != nil {
			return fmt.Errorf("ensure index: %w", err)
		}
	}
	return nil
}

func setupDatabase(ctx context.Context, app *App) error {
	cfg := app.cfg.Database
	if cfg.DSN == "" {
		app.logger.Info("using in-memory job store")
		app.jobStore = storagememory.NewJobStore(app.clock)
		return nil
	}
	store, err := pgstore.NewJobStore(ctx, pgstore.Config{
		DSN:        cfg.DSN,
		JobsTable:  cfg.JobsTable,
		PagesTable: cfg.PagesTable,
		MaxConns:   cfg.MaxConns,
	})
	if err != nil {
		return fmt.Errorf("postgres job store init failed: %w", err)
	}
	app.pgStore = store
	app.jobStore = store
	if cfg.MigrateOnStart {
		if err := store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("postgres schema: %w", err)
		}
	}
	app.logger.Info("using postgres job store",
		zap.String("jobs_table", cfg.JobsTable),
		zap.String("pages_table", cfg.PagesTable),
	)
	return nil
}

func setupHeadless(app *App) error {
	cfg := app.cfg
	if !cfg.Headless.Enabled {
		return nil
	}
	browser, err := headless.NewBrowser(headless.Config{
		MaxParallel:       cfg.Headless.MaxParallel,
		UserAgent:         cfg.Crawler.UserAgent,
		NavigationTimeout: cfg.HeadlessNavTimeout(),
		ExecPath:          cfg.Headless.ExecPath,
	})
	if err != nil {
		return fmt.Errorf("headless browser init failed: %w", err)
	}
	app.headless = browser
	app.logger.Info("headless rendering enabled",
		zap.Int("max_parallel", cfg.Headless.MaxParallel),
		zap.Int("min_text_runes", cfg.Headless.MinTextRunes),
	)
	return nil
}

func setupStorage(ctx context.Context, app *App) (crawler.BlobStore, error) {
	cfg := app.cfg.Storage
	switch cfg.Backend {
	case config.StorageGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.storage = client
		blobStore, err := gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Info("archiving pages to gcs", zap.String("bucket", cfg.Bucket))
		return blobStore, nil
	case config.StorageLocal:
		blobStore, err := localstorage.New(cfg.Local)
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Info("archiving pages to disk", zap.String("path", cfg.Local.BaseDir))
		return blobStore, nil
	case config.StorageMemory:
		app.logger.Info("archiving pages in memory")
		return storagememory.NewBlobStore(), nil
	default:
		app.logger.Info("page archiving disabled")
		return nil, nil
	}
}

func setupPublisher(ctx context.Context, app *App) (crawler.Publisher, error) {
	cfg := app.cfg.PubSub
	if cfg.TopicName == "" {
		app.logger.Info("index event publishing disabled")
		return nil, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubClient = client
	publisher, err := gcppublisher.NewForTopic(client, cfg.TopicName)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	app.pubsubPublisher = publisher
	app.logger.Info("publishing index events to pubsub",
		zap.String("project", cfg.ProjectID),
		zap.String("topic", cfg.TopicName),
	)
	return publisher, nil
}

func setupWorkers(app *App, registry *worker.Registry, blobStore crawler.BlobStore, publisher crawler.Publisher) []*worker.Worker {
	cfg := app.cfg
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Crawler.UserAgent,
		RespectRobots: !cfg.Crawler.IgnoreRobots,
		Timeout:       cfg.HTTPTimeout(),
	})
	canonicalizer := collyfetcher.NewCanonicalizer(collyfetcher.CanonicalizerConfig{
		UserAgent:    cfg.Crawler.UserAgent,
		Timeout:      cfg.HTTPTimeout(),
		MaxRedirects: cfg.HTTP.MaxRedirects,
	})
	limits := ratelimit.FromDelay(cfg.Crawler.Delay)
	catalog := extract.NewCatalog(cfg.Languages.Enabled...)
	app.logger.Info("language catalog loaded", zap.Strings("languages", catalog.Languages()))
	extractor := extract.New(catalog)
	processor := pipeline.NewProcessor(extractor, index.NewAssembler(app.indexStore), app.logger.Named("pipeline"))
	controller := traversal.New(traversal.Config{
		MaxPages: cfg.Crawler.MaxPages,
		Workers:  cfg.Crawler.PageWorkers,
	}, app.logger.Named("traversal"))

	var renderer worker.Renderer
	if app.headless != nil {
		renderer = headless.NewRenderer(app.headless, cfg.Headless.MinTextRunes)
	}
	tracer := telemetry.NewTracer()

	workers := make([]*worker.Worker, 0, cfg.Crawler.Concurrency)
	for i := range max(cfg.Crawler.Concurrency, 1) {
		workers = append(workers, worker.New(worker.Dependencies{
			Queue:         app.queue,
			JobStore:      app.jobStore,
			BlobStore:     blobStore,
			Publisher:     publisher,
			Hasher:        sha256.New(),
			Clock:         app.clock,
			Canonicalizer: canonicalizer,
			Fetcher:       fetcher,
			Renderer:      renderer,
			NewLimiter:    func() crawler.Limiter { return ratelimit.New(limits) },
			Processor:     processor,
			Controller:    controller,
			Registry:      registry,
			Tracer:        tracer,
		}, worker.Config{
			ContentType: cfg.Storage.ContentType,
			BlobPrefix:  cfg.Storage.Prefix,
			Topic:       cfg.PubSub.TopicName,
		}, app.logger.Named("worker").With(zap.Int("index", i))))
	}
	return workers
}

func (a *App) readinessChecks() []api.ReadinessCheck {
	checks := []api.ReadinessCheck{{Name: "index", Check: a.indexStore.Ping}}
	if a.pgStore != nil {
		checks = append(checks, api.ReadinessCheck{Name: "database", Check: a.pgStore.Ping})
	}
	return checks
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Handler exposes the HTTP API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// InitIndex creates the Elasticsearch index with its mapping. It is a no-op
// for the in-memory index.
func (a *App) InitIndex(ctx context.Context) error {
	if a.esStore == nil {
		a.logger.Info("in-memory index needs no initialization")
		return nil
	}
	if err := a.esStore.EnsureIndex(ctx); err != nil {
		return fmt.Errorf("init index %s: %w", a.esStore.Index(), err)
	}
	a.logger.Info("index ready", zap.String("index", a.esStore.Index()))
	return nil
}

// Search runs expr against the index.
func (a *App) Search(ctx context.Context, expr string) ([]search.Result, error) {
	return a.searcher.Search(ctx, expr)
}

// RunJob records and executes a single job without going through the queue.
func (a *App) RunJob(ctx context.Context, params crawler.JobParameters) (crawler.Job, error) {
	if params.MaxPages <= 0 {
		params.MaxPages = a.cfg.Crawler.MaxPages
	}
	if !params.RespectRobotsProvided {
		params.RespectRobots = !a.cfg.Crawler.IgnoreRobots
	}
	jobID, err := a.ids.NewID()
	if err != nil {
		return crawler.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	now := a.clock.Now()
	job := crawler.Job{
		ID:         jobID,
		Status:     crawler.JobStatusQueued,
		Submitted:  now,
		Parameters: params,
	}
	if err := a.jobStore.CreateJob(ctx, job); err != nil {
		return crawler.Job{}, fmt.Errorf("create job: %w", err)
	}

	a.workers[0].Execute(ctx, crawler.QueueItem{
		JobID:     jobID,
		Params:    params,
		Submitted: now.Unix(),
	})

	final, err := a.jobStore.GetJob(context.WithoutCancel(ctx), jobID)
	if err != nil {
		return crawler.Job{}, fmt.Errorf("load job: %w", err)
	}
	return final, nil
}

// Run starts the dispatcher and HTTP server and blocks until ctx is canceled
// or SIGINT/SIGTERM arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started", zap.Int("workers", len(a.workers)))
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.ShutdownTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers did not stop before the shutdown deadline")
	}

	return a.Close(shutdownCtx)
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	if a.queue != nil {
		a.queue.Close()
	}
	a.closeInfrastructure(ctx)
	a.logger.Info("shutdown complete")
	_ = a.logger.Sync()
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.headless != nil {
		a.headless.Close()
		a.headless = nil
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
		a.pubsubPublisher = nil
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
		a.pubsubClient = nil
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("storage client close failed", zap.Error(err))
		}
		a.storage = nil
	}
	if a.pgStore != nil {
		a.pgStore.Close()
		a.pgStore = nil
	}
	if a.tracingShutdown != nil {
		if err := a.tracingShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
		a.tracingShutdown = nil
	}
}
