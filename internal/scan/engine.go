package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/tablescan/internal/progress"
)

// ErrClosed is returned by Submit once Shutdown has started.
var ErrClosed = errors.New("scan: engine is shut down")

// DefaultWorkers is the pool size used when Config.Workers is not positive.
const DefaultWorkers = 4

const (
	defaultReportEvery       = 10000
	defaultMaxFailureSamples = 100
)

// Task is a unit of work. The context carries the worker slot running it.
type Task func(ctx context.Context)

// Config tunes an Engine.
type Config struct {
	// Workers is the pool size and the queue capacity (default 4).
	Workers int
	// ReportEvery is the number of finished items between throughput samples (default 10000).
	ReportEvery int64
	// MaxFailureSamples bounds the failures kept in Stats (default 100).
	MaxFailureSamples int
	// RunID tags every progress event; a v7 UUID is generated when nil.
	RunID uuid.UUID
	// Job and Source label progress events.
	Job    string
	Source string
	// BaseContext is the parent of every task context.
	BaseContext context.Context
	Logger      *zap.Logger
	Emitter     progress.Emitter
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Result is the outcome of processing one item.
type Result struct {
	Unit string
	Item string
	Err  error
}

// Failure is a recorded per-item failure.
type Failure struct {
	Unit  string `json:"unit"`
	Item  string `json:"item,omitempty"`
	Error string `json:"error"`
}

// Stats summarises a run.
type Stats struct {
	RunID          uuid.UUID     `json:"run_id"`
	Processed      int64         `json:"processed"`
	Failed         int64         `json:"failed"`
	Corrupt        int64         `json:"corrupt"`
	Abandoned      int64         `json:"abandoned"`
	Units          int64         `json:"units"`
	InlineRuns     int64         `json:"inline_runs"`
	Elapsed        time.Duration `json:"elapsed"`
	FailureSamples []Failure     `json:"failure_samples,omitempty"`
	// Err is the fatal error passed to Fail, if any.
	Err string `json:"error,omitempty"`
}

// Counters converts the stats into the progress event form.
func (s Stats) Counters() progress.Counters {
	return progress.Counters{
		Processed: s.Processed,
		Failed:    s.Failed,
		Corrupt:   s.Corrupt,
		Abandoned: s.Abandoned,
	}
}

// Engine schedules tasks on a bounded worker pool with caller-runs backpressure.
type Engine struct {
	cfg     Config
	logger  *zap.Logger
	emitter progress.Emitter
	started time.Time

	queue   chan Task
	workers sync.WaitGroup
	inline  sync.WaitGroup
	// inlineMu serialises caller-run tasks so they can share one slot.
	inlineMu sync.Mutex

	mu       sync.RWMutex
	closed   bool
	shutOnce sync.Once
	final    Stats

	processed  atomic.Int64
	failed     atomic.Int64
	corrupt    atomic.Int64
	abandoned  atomic.Int64
	units      atomic.Int64
	inlineRuns atomic.Int64

	samplesMu sync.Mutex
	samples   []Failure
	runErr    string
}

// New starts an engine with cfg.Workers goroutines.
func New(cfg Config) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.ReportEvery <= 0 {
		cfg.ReportEvery = defaultReportEvery
	}
	if cfg.MaxFailureSamples <= 0 {
		cfg.MaxFailureSamples = defaultMaxFailureSamples
	}
	if cfg.RunID == uuid.Nil {
		cfg.RunID = uuid.Must(uuid.NewV7())
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	emitter := cfg.Emitter
	if emitter == nil {
		emitter = progress.NopEmitter{}
	}
	e := &Engine{
		cfg:     cfg,
		logger:  logger.Named("scan").With(zap.String("run_id", cfg.RunID.String())),
		emitter: emitter,
		started: cfg.Now(),
		queue:   make(chan Task, cfg.Workers),
	}
	e.workers.Add(cfg.Workers)
	for slot := 0; slot < cfg.Workers; slot++ {
		go e.work(slot)
	}
	return e
}

// RunID identifies the run this engine executes.
func (e *Engine) RunID() uuid.UUID { return e.cfg.RunID }

// Workers returns the pool size.
func (e *Engine) Workers() int { return e.cfg.Workers }

// Slots is the number of distinct worker slots a task may observe: one per
// worker plus the slot shared by caller-run tasks.
func (e *Engine) Slots() int { return e.cfg.Workers + 1 }

// Logger returns the engine's named logger.
func (e *Engine) Logger() *zap.Logger { return e.logger }

// Submit hands a task to the pool. If the queue is full the task runs on the
// calling goroutine before Submit returns.
func (e *Engine) Submit(task Task) error {
	if task == nil {
		return errors.New("scan: nil task")
	}
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return ErrClosed
	}
	select {
	case e.queue <- task:
		e.mu.RUnlock()
		return nil
	default:
	}
	e.inline.Add(1)
	e.mu.RUnlock()

	defer e.inline.Done()
	e.inlineRuns.Add(1)
	e.inlineMu.Lock()
	defer e.inlineMu.Unlock()
	e.run(e.cfg.Workers, task)
	return nil
}

func (e *Engine) work(slot int) {
	defer e.workers.Done()
	for task := range e.queue {
		e.run(slot, task)
	}
}

func (e *Engine) run(slot int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("task panicked", zap.Int("slot", slot), zap.Any("panic", r), zap.Stack("stack"))
			e.Finished(Result{Err: fmt.Errorf("task panic: %v", r)})
		}
	}()
	task(withSlot(e.cfg.BaseContext, slot))
}

// Finished records the outcome of one item and emits a throughput sample every
// ReportEvery items.
func (e *Engine) Finished(res Result) {
	if res.Err != nil {
		e.failed.Add(1)
		e.sample(res)
		e.logger.Debug("record failed",
			zap.String("unit", res.Unit), zap.String("item", res.Item), zap.Error(res.Err))
	}
	n := e.processed.Add(1)
	if n%e.cfg.ReportEvery == 0 {
		e.reportThroughput(n)
	}
}

func (e *Engine) sample(res Result) {
	e.samplesMu.Lock()
	defer e.samplesMu.Unlock()
	if len(e.samples) >= e.cfg.MaxFailureSamples {
		return
	}
	e.samples = append(e.samples, Failure{Unit: res.Unit, Item: res.Item, Error: res.Err.Error()})
}

func (e *Engine) reportThroughput(n int64) {
	elapsed := e.cfg.Now().Sub(e.started)
	rate := perSecond(n, elapsed)
	e.logger.Info("processed records", zap.Int64("processed", n), zap.Float64("per_second", rate))
	e.emit(progress.Event{Stage: progress.StageThroughput, Rate: rate, Dur: elapsed})
}

// MarkCorrupt counts a unit whose input could not be decoded. The run continues.
func (e *Engine) MarkCorrupt(unit string, err error) {
	e.corrupt.Add(1)
	e.units.Add(1)
	e.logger.Warn("corrupt unit skipped", zap.String("unit", unit), zap.Error(err))
	e.emit(progress.Event{Stage: progress.StageUnitCorrupt, Unit: unit, Note: errText(err)})
}

// MarkAbandoned counts a unit dropped after a non-corruption I/O failure.
func (e *Engine) MarkAbandoned(unit string, err error) {
	e.abandoned.Add(1)
	e.units.Add(1)
	e.logger.Error("unit abandoned", zap.String("unit", unit), zap.Error(err))
	e.emit(progress.Event{Stage: progress.StageUnitAbandoned, Unit: unit, Note: errText(err)})
}

// UnitDone records a unit whose records all finished and whose finalize ran.
// finalizeErr is reported but does not change the counters.
func (e *Engine) UnitDone(unit string, records int64, finalizeErr error) {
	e.units.Add(1)
	if finalizeErr != nil {
		e.logger.Error("unit finalize failed", zap.String("unit", unit), zap.Error(finalizeErr))
	}
	e.emit(progress.Event{Stage: progress.StageUnitDone, Unit: unit, Records: records, Note: errText(finalizeErr)})
}

// Started emits the run start event.
func (e *Engine) Started() {
	e.logger.Info("scan started",
		zap.String("job", e.cfg.Job), zap.String("source", e.cfg.Source), zap.Int("workers", e.cfg.Workers))
	e.emit(progress.Event{Stage: progress.StageRunStart})
}

// Snapshot returns the live counters.
func (e *Engine) Snapshot() Stats {
	e.samplesMu.Lock()
	samples := append([]Failure(nil), e.samples...)
	runErr := e.runErr
	e.samplesMu.Unlock()
	return Stats{
		RunID:          e.cfg.RunID,
		Processed:      e.processed.Load(),
		Failed:         e.failed.Load(),
		Corrupt:        e.corrupt.Load(),
		Abandoned:      e.abandoned.Load(),
		Units:          e.units.Load(),
		InlineRuns:     e.inlineRuns.Load(),
		Elapsed:        e.cfg.Now().Sub(e.started),
		FailureSamples: samples,
		Err:            runErr,
	}
}

// Fail records a fatal run error. The first call wins; it is reported on the
// RUN_DONE event and in Stats.Err.
func (e *Engine) Fail(err error) {
	if err == nil {
		return
	}
	e.samplesMu.Lock()
	defer e.samplesMu.Unlock()
	if e.runErr == "" {
		e.runErr = err.Error()
	}
}

// Shutdown stops accepting tasks and waits, without a timeout, for every
// queued and running task. Later calls return the same Stats.
func (e *Engine) Shutdown() Stats {
	e.shutOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		close(e.queue)
		e.mu.Unlock()

		e.workers.Wait()
		e.inline.Wait()

		e.final = e.Snapshot()
		if e.final.Corrupt > 0 {
			e.logger.Warn("corrupt units encountered", zap.Int64("corrupt", e.final.Corrupt))
		}
		e.logger.Info("scan finished",
			zap.Int64("processed", e.final.Processed),
			zap.Int64("failed", e.final.Failed),
			zap.Int64("corrupt", e.final.Corrupt),
			zap.Int64("abandoned", e.final.Abandoned),
			zap.Int64("inline_runs", e.final.InlineRuns),
			zap.Duration("elapsed", e.final.Elapsed))
		e.emit(progress.Event{
			Stage: progress.StageRunDone,
			Rate:  perSecond(e.final.Processed, e.final.Elapsed),
			Dur:   e.final.Elapsed,
			Note:  e.final.Err,
		})
	})
	return e.final
}

func (e *Engine) emit(evt progress.Event) {
	evt.RunID = progress.UUIDToBytes(e.cfg.RunID)
	evt.TS = e.cfg.Now().UTC()
	evt.Job = e.cfg.Job
	evt.Source = e.cfg.Source
	evt.Counters = progress.Counters{
		Processed: e.processed.Load(),
		Failed:    e.failed.Load(),
		Corrupt:   e.corrupt.Load(),
		Abandoned: e.abandoned.Load(),
	}
	e.emitter.Emit(evt)
}

func perSecond(n int64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(n) / elapsed.Seconds()
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Scheduler is the part of Engine a source drives.
type Scheduler interface {
	Submit(task Task) error
	Finished(res Result)
	MarkCorrupt(unit string, err error)
	MarkAbandoned(unit string, err error)
	UnitDone(unit string, records int64, finalizeErr error)
	Workers() int
}

var _ Scheduler = (*Engine)(nil)
