// Package server provides the core application server and dependency injection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/artsearch-ingest/internal/api"
	"github.com/JakeFAU/artsearch-ingest/internal/batch"
	"github.com/JakeFAU/artsearch-ingest/internal/clock/system"
	"github.com/JakeFAU/artsearch-ingest/internal/config"
	collyfetcher "github.com/JakeFAU/artsearch-ingest/internal/fetcher/colly"
	"github.com/JakeFAU/artsearch-ingest/internal/fetcher/ratelimit"
	"github.com/JakeFAU/artsearch-ingest/internal/hash/sha256"
	"github.com/JakeFAU/artsearch-ingest/internal/imagestore"
	"github.com/JakeFAU/artsearch-ingest/internal/ingest"
	"github.com/JakeFAU/artsearch-ingest/internal/logging"
	"github.com/JakeFAU/artsearch-ingest/internal/metrics"
	"github.com/JakeFAU/artsearch-ingest/internal/normalize"
	"github.com/JakeFAU/artsearch-ingest/internal/progress"
	progresssinks "github.com/JakeFAU/artsearch-ingest/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/artsearch-ingest/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/artsearch-ingest/internal/publisher/pubsub"
	"github.com/JakeFAU/artsearch-ingest/internal/retry"
	"github.com/JakeFAU/artsearch-ingest/internal/scheduler"
	"github.com/JakeFAU/artsearch-ingest/internal/similarity"
	"github.com/JakeFAU/artsearch-ingest/internal/similarity/httpengine"
	similaritymemory "github.com/JakeFAU/artsearch-ingest/internal/similarity/memory"
	"github.com/JakeFAU/artsearch-ingest/internal/source"
	gcsstorage "github.com/JakeFAU/artsearch-ingest/internal/storage/gcs"
	localstorage "github.com/JakeFAU/artsearch-ingest/internal/storage/local"
	memorystorage "github.com/JakeFAU/artsearch-ingest/internal/storage/memory"
	pgstore "github.com/JakeFAU/artsearch-ingest/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/artsearch-ingest/internal/storage/sqlite"
	"github.com/JakeFAU/artsearch-ingest/internal/telemetry"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// App contains the application's dependencies.
type App struct {
	cfg             *config.Config
	logger          *zap.Logger
	fs              afero.Fs
	store           ingest.Store
	catalog         *source.Catalog
	creator         *batch.Creator
	machine         *batch.Machine
	scheduler       *scheduler.Scheduler
	apiServer       *api.Server
	progressHub     *progress.Hub
	wsSink          *progresssinks.WebsocketSink
	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
	storage         *storage.Client
	tracerShutdown  func(context.Context) error

	closeOnce sync.Once
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	// Define a struct for logging only non-sensitive config fields
	type SanitizedConfig struct {
		ServerPort int    `json:"server_port"`
		Storage    string `json:"storage"`
		Database   string `json:"database"`
		Similarity string `json:"similarity"`
		Sources    int    `json:"sources"`
	}
	safeCfg := SanitizedConfig{
		ServerPort: cfg.Server.Port,
		Storage:    cfg.Storage.Backend,
		Database:   cfg.Database.Backend,
		Similarity: cfg.Similarity.Backend,
		Sources:    len(cfg.Sources),
	}
	logger.Info("Creating application", zap.Any("config", safeCfg))
	return &App{
		cfg:    cfg,
		logger: logger,
		fs:     afero.NewOsFs(),
	}, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Store returns the document store.
func (a *App) Store() ingest.Store { return a.store }

// Creator returns the batch creator.
func (a *App) Creator() *batch.Creator { return a.creator }

// Machine returns the batch state machine.
func (a *App) Machine() *batch.Machine { return a.machine }

// Scheduler returns the batch scheduler.
func (a *App) Scheduler() *scheduler.Scheduler { return a.scheduler }

// Handler returns the HTTP API handler.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

// Run starts the scheduler and the HTTP server and blocks until the context
// is canceled or a signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	if a.cfg.Scheduler.Enabled {
		g.Go(func() error {
			return a.scheduler.Run(gctx)
		})
	} else {
		a.logger.Warn("scheduler disabled; batches advance only through the tick command")
	}
	g.Go(func() error {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
		return nil
	})
	runErr := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Close(closeCtx); err != nil {
		return err
	}
	return runErr
}

// Close gracefully shuts down the application. Later calls do nothing.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		a.closeInfrastructure(ctx)
		a.closeObservability(ctx)
		a.logger.Info("shutdown complete")
	})
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
		if dropped := a.progressHub.Dropped(); dropped > 0 {
			a.logger.Warn("progress events were dropped", zap.Int64("dropped", dropped))
		}
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("store close failed", zap.Error(err))
		}
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}
	if err := app.build(ctx); err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	return app, nil
}

// build wires every component. It is split from Build so tests can supply
// their own logger and filesystem.
func (a *App) build(ctx context.Context) error {
	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: a.cfg.Telemetry.ServiceName,
		Version:     a.cfg.Telemetry.Version,
		SampleRatio: a.cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("tracer init failed: %w", err)
	}
	a.tracerShutdown = tp.Shutdown
	metrics.Init()

	a.logger.Info("building application dependencies")
	if err := setupDatabase(ctx, a); err != nil {
		return err
	}
	if err := setupSources(ctx, a); err != nil {
		return err
	}
	blobStore, err := setupStorage(ctx, a)
	if err != nil {
		return err
	}
	publisher, err := setupPublisher(ctx, a)
	if err != nil {
		return err
	}
	emitter, err := setupProgress(ctx, a)
	if err != nil {
		return err
	}
	engine, err := setupSimilarity(a)
	if err != nil {
		return err
	}

	clock := system.New()
	uploadRetry := retry.New(a.cfg.Images.RetryBaseDelay)
	uploadRetry.MaxAttempts = a.cfg.Images.UploadAttempts
	images := imagestore.New(a.fs, blobStore, a.store, sha256.New(), clock, imagestore.Config{
		WorkDir:    a.cfg.Images.WorkDir,
		ThumbSize:  a.cfg.Images.ThumbSize,
		ScaledSize: a.cfg.Images.ScaledSize,
		MinSize:    a.cfg.Images.MinSize,
		Quality:    a.cfg.Images.JPEGQuality,
		Retry:      uploadRetry,
	}, a.logger.Named("imagestore"))
	index := similarity.NewIndexer(engine, a.fs, a.store, a.logger.Named("similarity"))

	a.machine, err = batch.NewMachine(
		a.store,
		normalize.New(a.catalog),
		images,
		index,
		a.fs,
		publisher,
		emitter,
		clock,
		batch.Config{
			Topic:           a.cfg.PubSub.TopicName,
			CheckpointEvery: a.cfg.Scheduler.CheckpointEvery,
			Retry:           retry.New(a.cfg.Images.RetryBaseDelay),
		},
		a.logger.Named("batch"),
	)
	if err != nil {
		return fmt.Errorf("state machine init failed: %w", err)
	}

	fetchRetry := retry.New(a.cfg.Images.RetryBaseDelay)
	fetchRetry.MaxAttempts = a.cfg.Fetch.Attempts
	downloader := collyfetcher.New(collyfetcher.Config{
		UserAgent:   a.cfg.Fetch.UserAgent,
		Timeout:     a.cfg.Fetch.Timeout,
		MaxBodySize: a.cfg.Fetch.MaxBodySize,
		Retry:       fetchRetry,
		Limiter:     ratelimit.New(ratelimit.Config{RPS: a.cfg.Fetch.RatePerSecond, Burst: a.cfg.Fetch.Burst}),
	}, a.logger.Named("fetch"))
	a.logger.Info("using colly downloader", zap.String("user_agent", a.cfg.Fetch.UserAgent))

	a.creator = batch.NewCreator(a.fs, a.store, a.catalog, downloader, clock, a.cfg.Images.WorkDir, a.logger.Named("creator"))
	a.scheduler = scheduler.New(a.store, a.machine, scheduler.Config{Interval: a.cfg.Scheduler.Interval}, a.logger.Named("scheduler"))

	deps := api.Deps{
		Creator:    a.creator,
		Controller: a.machine,
		Repo:       a.store,
		Uploader:   images,
		Searcher:   index,
		Catalog:    a.catalog,
	}
	if a.wsSink != nil {
		deps.Progress = a.wsSink
	}
	if p, ok := a.store.(pinger); ok {
		deps.Ready = p.Ping
	}
	a.apiServer = api.NewServer(deps, *a.cfg, a.logger.Named("api"))
	return nil
}

func setupDatabase(ctx context.Context, app *App) error {
	switch app.cfg.Database.Backend {
	case config.BackendPostgres:
		store, err := pgstore.New(ctx, pgstore.Config{
			DSN:             app.cfg.Database.DSN,
			MaxConns:        app.cfg.Database.MaxConns,
			MinConns:        app.cfg.Database.MinConns,
			MaxConnLifetime: app.cfg.Database.MaxConnLifetime,
		})
		if err != nil {
			return fmt.Errorf("postgres store init failed: %w", err)
		}
		app.store = store
		if app.cfg.Database.Migrate {
			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("postgres migrate failed: %w", err)
			}
		}
		app.logger.Info("using postgres document store")
	case config.BackendSQLite:
		store, err := sqlitestore.Open(app.cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("sqlite store init failed: %w", err)
		}
		app.store = store
		app.logger.Info("using sqlite document store", zap.String("path", app.cfg.Database.DSN))
	default:
		app.logger.Warn("using in-memory document store; batches are lost on restart")
		app.store = memorystorage.NewStore()
	}
	return nil
}

// setupSources upserts the configured sources, then loads the catalog
// snapshot.
func setupSources(ctx context.Context, app *App) error {
	app.catalog = source.NewCatalog(app.store)
	seed := make([]ingest.Source, 0, len(app.cfg.Sources))
	for _, s := range app.cfg.Sources {
		seed = append(seed, ingest.Source{ID: s.ID, Name: s.Name, URL: s.URL, Lang: s.Lang})
	}
	if err := app.catalog.Seed(ctx, seed); err != nil {
		return fmt.Errorf("seed sources failed: %w", err)
	}
	if err := app.catalog.Refresh(ctx); err != nil {
		return fmt.Errorf("load sources failed: %w", err)
	}
	app.logger.Info("source catalog loaded", zap.Strings("sources", app.catalog.IDs()))
	return nil
}

func setupStorage(ctx context.Context, app *App) (ingest.BlobStore, error) {
	switch app.cfg.Storage.Backend {
	case config.BackendGCS:
		app.logger.Info("using GCS storage backend")
		var err error
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobStore, err := gcsstorage.New(app.storage, gcsstorage.Config{
			Bucket:       app.cfg.Storage.GCSBucket,
			Prefix:       app.cfg.Storage.Prefix,
			CacheControl: app.cfg.Storage.CacheControl,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		if err := blobStore.CheckBucket(ctx); err != nil {
			return nil, fmt.Errorf("gcs bucket unavailable: %w", err)
		}
		app.logger.Debug("GCS storage backend", zap.String("bucket", app.cfg.Storage.GCSBucket))
		return blobStore, nil
	case config.BackendLocal:
		app.logger.Info("using local storage backend")
		blobStore, err := localstorage.New(app.fs, localstorage.Config{BaseDir: app.cfg.Storage.LocalBaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Debug("local storage backend", zap.String("path", app.cfg.Storage.LocalBaseDir))
		return blobStore, nil
	default:
		app.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	}
}

func setupPublisher(ctx context.Context, app *App) (ingest.Publisher, error) {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Warn("No Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubPublisher = app.pubsubClient.Publisher(app.cfg.PubSub.TopicName)
	app.logger.Info(
		"Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return gcppublisher.New(app.pubsubPublisher), nil
}

func setupProgress(ctx context.Context, app *App) (progress.Emitter, error) {
	if !app.cfg.Progress.Enabled {
		app.logger.Info("progress tracking disabled")
		return nil, nil
	}
	var sinkList []progress.Sink
	if app.cfg.Progress.LogSink {
		sinkList = append(sinkList, progresssinks.NewLogSink(app.logger.Named("progress_log")))
		app.logger.Debug("Added progress log sink")
	}
	if app.cfg.Progress.MetricsSink {
		promSink, err := progresssinks.NewPrometheusSink(prometheus.DefaultRegisterer)
		if err != nil {
			return nil, fmt.Errorf("progress metrics sink init failed: %w", err)
		}
		sinkList = append(sinkList, promSink)
		app.logger.Debug("Added progress metrics sink")
	}
	if app.cfg.Progress.WebsocketSink {
		app.wsSink = progresssinks.NewWebsocketSink(nil, app.logger.Named("progress_ws"))
		sinkList = append(sinkList, app.wsSink)
		app.logger.Debug("Added progress websocket sink")
	}
	if len(sinkList) == 0 {
		app.logger.Warn("progress tracking enabled but no sinks configured")
		return nil, nil
	}
	hubCfg := progress.Config{
		BufferSize:     app.cfg.Progress.BufferSize,
		MaxBatchEvents: app.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   app.cfg.Progress.MaxBatchWait,
		SinkTimeout:    app.cfg.Progress.SinkTimeout,
		BaseContext:    ctx,
		Logger:         app.logger.Named("progress_hub"),
	}
	app.progressHub = progress.NewHub(hubCfg, sinkList...)
	app.logger.Info("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Duration("sink_timeout", hubCfg.SinkTimeout),
	)
	return app.progressHub, nil
}

func setupSimilarity(app *App) (similarity.Engine, error) {
	if app.cfg.Similarity.Backend == config.BackendHTTP {
		client, err := httpengine.New(httpengine.Config{
			BaseURL: app.cfg.Similarity.BaseURL,
			Timeout: app.cfg.Similarity.Timeout,
		}, nil)
		if err != nil {
			return nil, fmt.Errorf("similarity client init failed: %w", err)
		}
		app.logger.Info("using remote similarity engine", zap.String("base_url", app.cfg.Similarity.BaseURL))
		return client, nil
	}
	app.logger.Info("using in-process similarity engine")
	return similaritymemory.New(similaritymemory.Config{
		MinSize:  app.cfg.Images.MinSize,
		MinScore: app.cfg.Similarity.MinScore,
		Limit:    app.cfg.Similarity.Limit,
	}), nil
}
