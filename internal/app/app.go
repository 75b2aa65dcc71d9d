// Package app initializes and holds the long-lived services of a scan
// process, acting as a dependency injection container for the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/tablescan/internal/api"
	"github.com/JakeFAU/tablescan/internal/config"
	"github.com/JakeFAU/tablescan/internal/docindex"
	"github.com/JakeFAU/tablescan/internal/jobs"
	"github.com/JakeFAU/tablescan/internal/progress"
	"github.com/JakeFAU/tablescan/internal/progress/sinks"
	pubsubpub "github.com/JakeFAU/tablescan/internal/publisher/pubsub"
	"github.com/JakeFAU/tablescan/internal/runner"
	"github.com/JakeFAU/tablescan/internal/source/indexrange"
	"github.com/JakeFAU/tablescan/internal/storage"
	"github.com/JakeFAU/tablescan/internal/storage/memory"
	"github.com/JakeFAU/tablescan/internal/storage/postgres"
	"github.com/JakeFAU/tablescan/internal/store"
	"github.com/JakeFAU/tablescan/internal/telemetry"
)

// Options are process-level inputs that do not come from Config.
type Options struct {
	// Registerer receives the progress collectors (default prometheus.DefaultRegisterer).
	Registerer prometheus.Registerer
	// ResultWriter receives job results when no output target is configured.
	ResultWriter io.Writer
}

// App holds the shared, long-lived services built from Config.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	opts   Options

	runs      store.RunRepository
	documents *postgres.Documents
	output    storage.Target
	publisher runner.Publisher
	hub       *progress.Hub
	live      *runner.Live

	server   *http.Server
	listener net.Listener

	closers []func() error
}

// New wires every service the configuration enables. It fails fast if any of
// them cannot be initialized, releasing what was already built.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (a *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}
	a = &App{cfg: cfg, logger: logger, opts: opts, live: &runner.Live{}}
	defer func() {
		if err != nil {
			a.closeAll()
		}
	}()

	poolCfg := postgres.PoolConfig{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MaxConnLifetime: cfg.DB.MaxConnLifetime,
	}

	// Run history.
	switch {
	case cfg.DB.Progress:
		runStore, err := postgres.NewRunStore(ctx, poolCfg)
		if err != nil {
			return nil, fmt.Errorf("init run store: %w", err)
		}
		a.closers = append(a.closers, func() error { runStore.Close(); return nil })
		if err := runStore.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		a.runs = runStore
		logger.Info("run history persisted to postgres")
	case cfg.Server.Addr != "":
		a.runs = memory.NewRunStore()
	}

	// Annotated document output.
	if cfg.Jobs.StoreDocuments {
		docs, err := postgres.NewDocuments(ctx, poolCfg, cfg.Index.Table)
		if err != nil {
			return nil, fmt.Errorf("init document store: %w", err)
		}
		a.closers = append(a.closers, func() error { docs.Close(); return nil })
		if err := docs.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		a.documents = docs
	}

	// Result target.
	if cfg.Output.Target != "" {
		target, err := storage.Open(ctx, cfg.Output.Target, storage.Options{
			S3Region:   cfg.AWS.Region,
			S3PartSize: cfg.AWS.S3PartSize,
		})
		if err != nil {
			return nil, fmt.Errorf("open output target: %w", err)
		}
		a.closers = append(a.closers, target.Close)
		a.output = target
		logger.Info("job results will be stored", zap.String("target", cfg.Output.Target))
	}

	// Run spans.
	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		Exporter:   cfg.Tracing.Exporter,
		SampleRate: cfg.Tracing.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.closers = append(a.closers, func() error {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return tp.Shutdown(sctx)
	})

	// Run notifications.
	if cfg.PubSub.Topic != "" {
		pub, err := pubsubpub.Open(ctx, cfg.PubSub.ProjectID, cfg.PubSub.Topic)
		if err != nil {
			return nil, fmt.Errorf("init pubsub publisher: %w", err)
		}
		a.closers = append(a.closers, pub.Close)
		a.publisher = pub
		logger.Info("run summaries will be published", zap.String("topic", cfg.PubSub.Topic))
	}

	// Progress pipeline.
	promSink, err := sinks.NewPrometheusSink(opts.Registerer)
	if err != nil {
		return nil, err
	}
	progressSinks := []progress.Sink{promSink}
	if cfg.Progress.Log {
		progressSinks = append(progressSinks, sinks.NewLogSink(logger.Named("progress_log")))
	}
	if a.runs != nil {
		progressSinks = append(progressSinks, sinks.NewStoreSink(a.runs, logger))
	}
	a.hub = progress.NewHub(progress.Config{
		BufferSize:     cfg.Progress.BufferSize,
		MaxBatchEvents: cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   cfg.Progress.MaxBatchWait,
		SinkTimeout:    cfg.Progress.SinkTimeout,
		Logger:         logger,
	}, progressSinks...)

	// Status server.
	if cfg.Server.Addr != "" {
		if err := a.startServer(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *App) startServer() error {
	ln, err := net.Listen("tcp", a.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.Server.Addr, err)
	}
	srv := api.NewServer(api.Options{
		Repo:   a.runs,
		Live:   a.live,
		Logger: a.logger,
		APIKey: a.cfg.Server.APIKey,
	})
	a.listener = ln
	a.server = &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("status server failed", zap.Error(err))
		}
	}()
	a.logger.Info("status server listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config { return a.cfg }

// Runs returns the run repository, or nil when run history is disabled.
func (a *App) Runs() store.RunRepository { return a.runs }

// ServerAddr returns the bound status server address, or "" when disabled.
func (a *App) ServerAddr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Index opens the configured document index. path overrides index.path for
// the jsonl backend.
func (a *App) Index(ctx context.Context, path string) (indexrange.Index, error) {
	switch a.cfg.Index.Backend {
	case config.IndexPostgres:
		docs, err := postgres.NewDocuments(ctx, postgres.PoolConfig{
			DSN:             a.cfg.DB.DSN,
			MaxConns:        a.cfg.DB.MaxConns,
			MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
		}, a.cfg.Index.Table)
		if err != nil {
			return nil, fmt.Errorf("open postgres index: %w", err)
		}
		a.closers = append(a.closers, func() error { docs.Close(); return nil })
		return docs, nil
	default:
		if path == "" {
			path = a.cfg.Index.Path
		}
		if path == "" {
			return nil, fmt.Errorf("index.path is required for the jsonl backend")
		}
		idx, err := docindex.Load(path)
		if err != nil {
			return nil, err
		}
		a.logger.Info("index loaded", zap.String("path", path))
		return idx, nil
	}
}

// RunConfig assembles the runner configuration for job.
func (a *App) RunConfig(job string) runner.Config {
	opts := jobs.Options{
		MinColumns:     a.cfg.Jobs.MinColumns,
		HeaderedOnly:   a.cfg.Jobs.HeaderedOnly,
		DomainSuffixes: a.cfg.Jobs.DomainSuffixes,
	}
	if a.documents != nil {
		opts.Documents = a.documents
	}
	return runner.Config{
		Job:               job,
		JobOpts:           opts,
		Workers:           a.cfg.Scan.Workers,
		ReportEvery:       a.cfg.Scan.ReportEvery,
		MaxFailureSamples: a.cfg.Scan.MaxFailureSamples,
		Output:            a.output.Store,
		ResultWriter:      a.opts.ResultWriter,
		Publisher:         a.publisher,
		Emitter:           a.hub,
		Live:              a.live,
		Logger:            a.logger,
	}
}

// Close drains the progress hub, stops the status server and releases
// clients. It is called once the command finishes.
func (a *App) Close(ctx context.Context) {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
		if dropped := a.hub.Dropped(); dropped > 0 {
			a.logger.Warn("progress events dropped", zap.Int64("dropped", dropped))
		}
	}
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Warn("status server shutdown failed", zap.Error(err))
		}
	}
	a.closeAll()
	_ = a.logger.Sync()
}

func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
}
