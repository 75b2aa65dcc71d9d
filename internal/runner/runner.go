// Package runner executes one job over one source: it starts the engine,
// drives the source, closes the job, stores its result and announces the run.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/tablescan/internal/corpus"
	"github.com/JakeFAU/tablescan/internal/jobs"
	"github.com/JakeFAU/tablescan/internal/metrics"
	"github.com/JakeFAU/tablescan/internal/progress"
	"github.com/JakeFAU/tablescan/internal/scan"
	"github.com/JakeFAU/tablescan/internal/storage"
	"github.com/JakeFAU/tablescan/internal/telemetry"
)

// Source feeds records of one kind into a scheduler.
type Source interface {
	Kind() string
	Run(ctx context.Context, sched scan.Scheduler, proc corpus.Processor) error
}

// Publisher announces finished runs.
type Publisher interface {
	Publish(ctx context.Context, attrs map[string]string, payload any) (string, error)
}

// Config wires a run's collaborators. Only Job is required.
type Config struct {
	Job     string
	JobOpts jobs.Options

	Workers           int
	ReportEvery       int64
	MaxFailureSamples int

	// Output receives the result object; nil skips it.
	Output storage.BlobStore
	// ResultWriter receives the result when Output is nil.
	ResultWriter io.Writer
	Publisher    Publisher
	Emitter      progress.Emitter
	Live         *Live
	Logger       *zap.Logger
}

// Summary is the outcome of a run, as published.
type Summary struct {
	RunID     string     `json:"run_id"`
	Job       string     `json:"job"`
	Source    string     `json:"source"`
	Stats     scan.Stats `json:"stats"`
	OutputURI string     `json:"output_uri,omitempty"`
	ElapsedMS int64      `json:"elapsed_ms"`
	Error     string     `json:"error,omitempty"`
}

// Run scans src with the job named in cfg. A source error is fatal for the
// run: the engine still drains, the error is reported in the summary, and no
// result object is written.
func Run(ctx context.Context, src Source, cfg Config) (Summary, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = scan.DefaultWorkers
	}
	opts := cfg.JobOpts
	opts.Slots = workers + 1
	job, err := jobs.New(cfg.Job, opts)
	if err != nil {
		return Summary{}, err
	}

	ctx, span := telemetry.Tracer().Start(ctx, "tablescan.run", trace.WithAttributes(
		attribute.String("tablescan.job", job.Name()),
		attribute.String("tablescan.source", src.Kind()),
		attribute.Int("tablescan.workers", workers),
	))
	defer span.End()

	engine := scan.New(scan.Config{
		Workers:           workers,
		ReportEvery:       cfg.ReportEvery,
		MaxFailureSamples: cfg.MaxFailureSamples,
		Job:               job.Name(),
		Source:            src.Kind(),
		BaseContext:       ctx,
		Logger:            logger,
		Emitter:           cfg.Emitter,
	})
	if cfg.Live != nil {
		cfg.Live.Set(engine)
		defer cfg.Live.Clear()
	}
	span.SetAttributes(attribute.String("tablescan.run_id", engine.RunID().String()))
	log := logger.Named("runner").With(zap.String("run_id", engine.RunID().String()), zap.String("job", job.Name()))

	engine.Started()
	runErr := src.Run(ctx, engine, job)
	if runErr != nil {
		engine.Fail(runErr)
	}
	stats := engine.Shutdown()
	if err := corpus.CloseProcessor(ctx, job); err != nil {
		log.Warn("close job failed", zap.Error(err))
	}

	summary := Summary{
		RunID:     engine.RunID().String(),
		Job:       job.Name(),
		Source:    src.Kind(),
		Stats:     stats,
		ElapsedMS: stats.Elapsed.Milliseconds(),
		Error:     stats.Err,
	}

	if runErr == nil {
		uri, err := writeResult(ctx, job, summary.RunID, cfg)
		if err != nil {
			runErr = err
			summary.Error = err.Error()
		}
		summary.OutputURI = uri
		if uri != "" {
			log.Info("result stored", zap.String("uri", uri))
		}
	}

	if cfg.Publisher != nil {
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		id, err := cfg.Publisher.Publish(pubCtx, map[string]string{
			"run_id": summary.RunID,
			"job":    summary.Job,
			"source": summary.Source,
		}, summary)
		cancel()
		if err != nil {
			log.Warn("publish run summary failed", zap.Error(err))
		} else {
			log.Debug("run summary published", zap.String("message_id", id))
		}
	}

	span.SetAttributes(
		attribute.Int64("tablescan.processed", stats.Processed),
		attribute.Int64("tablescan.failed", stats.Failed),
		attribute.Int64("tablescan.corrupt", stats.Corrupt),
		attribute.Int64("tablescan.abandoned", stats.Abandoned),
	)
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		return summary, fmt.Errorf("run %s: %w", summary.RunID, runErr)
	}
	return summary, nil
}

// ObjectName is the name of a run's result object.
func ObjectName(job jobs.Job, runID string) string {
	return fmt.Sprintf("%s-%s.%s", job.Name(), runID, job.Extension())
}

func writeResult(ctx context.Context, job jobs.Job, runID string, cfg Config) (string, error) {
	if cfg.Output == nil {
		if cfg.ResultWriter == nil {
			return "", nil
		}
		if err := job.WriteResult(cfg.ResultWriter); err != nil {
			return "", fmt.Errorf("write %s result: %w", job.Name(), err)
		}
		return "", nil
	}
	var buf bytes.Buffer
	if err := job.WriteResult(&buf); err != nil {
		return "", fmt.Errorf("write %s result: %w", job.Name(), err)
	}
	size := int64(buf.Len())
	uri, err := cfg.Output.PutObject(ctx, ObjectName(job, runID), job.ContentType(), &buf)
	metrics.ObserveOutput(job.Name(), size, err)
	if err != nil {
		return "", fmt.Errorf("store %s result: %w", job.Name(), err)
	}
	return uri, nil
}
