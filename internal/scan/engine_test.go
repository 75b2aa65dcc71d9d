package scan

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tablescan/internal/progress"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) stages() map[progress.Stage]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[progress.Stage]int)
	for _, evt := range r.events {
		out[evt.Stage]++
	}
	return out
}

func TestEngineProcessesEverySubmission(t *testing.T) {
	t.Parallel()

	for _, workers := range []int{1, 2, 4, 16} {
		engine := New(Config{Workers: workers})
		var ran atomic.Int64
		for i := 0; i < 1000; i++ {
			require.NoError(t, engine.Submit(func(context.Context) {
				ran.Add(1)
				engine.Finished(Result{Unit: "u"})
			}))
		}
		engine.MarkCorrupt("bad", errors.New("boom"))
		stats := engine.Shutdown()
		require.Equal(t, int64(1000), ran.Load(), "workers=%d", workers)
		require.Equal(t, int64(1000), stats.Processed, "workers=%d", workers)
		require.Equal(t, int64(1), stats.Corrupt, "workers=%d", workers)
	}
}

func TestEngineCallerRunsWhenQueueFull(t *testing.T) {
	t.Parallel()

	const workers = 2
	engine := New(Config{Workers: workers})
	gate := make(chan struct{})
	var started sync.WaitGroup
	started.Add(workers)
	for i := 0; i < workers; i++ {
		require.NoError(t, engine.Submit(func(context.Context) {
			started.Done()
			<-gate
		}))
	}
	started.Wait()
	// Workers are busy; these fill the queue.
	for i := 0; i < workers; i++ {
		require.NoError(t, engine.Submit(func(context.Context) { <-gate }))
	}

	slot := -2
	require.NoError(t, engine.Submit(func(ctx context.Context) {
		slot = WorkerSlot(ctx)
	}))
	require.Equal(t, workers, slot, "inline task runs on the shared caller slot")

	close(gate)
	stats := engine.Shutdown()
	require.Equal(t, int64(1), stats.InlineRuns)
	require.Equal(t, workers+1, engine.Slots())
}

func TestEngineWorkerSlotsAreExclusive(t *testing.T) {
	t.Parallel()

	engine := New(Config{Workers: 3})
	var busy [4]atomic.Bool
	var overlaps atomic.Int64
	for i := 0; i < 500; i++ {
		require.NoError(t, engine.Submit(func(ctx context.Context) {
			slot := WorkerSlot(ctx)
			if !busy[slot].CompareAndSwap(false, true) {
				overlaps.Add(1)
				return
			}
			time.Sleep(10 * time.Microsecond)
			busy[slot].Store(false)
		}))
	}
	engine.Shutdown()
	require.Zero(t, overlaps.Load())
	require.Equal(t, -1, WorkerSlot(context.Background()))
}

func TestEngineSubmitAfterShutdown(t *testing.T) {
	t.Parallel()

	engine := New(Config{Workers: 1})
	first := engine.Shutdown()
	require.ErrorIs(t, engine.Submit(func(context.Context) {}), ErrClosed)
	require.Equal(t, first, engine.Shutdown())
	require.Error(t, New(Config{}).Submit(nil))
}

func TestEngineShutdownWaitsForInFlight(t *testing.T) {
	t.Parallel()

	engine := New(Config{Workers: 2})
	var done atomic.Int64
	for i := 0; i < 8; i++ {
		require.NoError(t, engine.Submit(func(context.Context) {
			time.Sleep(5 * time.Millisecond)
			done.Add(1)
			engine.Finished(Result{})
		}))
	}
	stats := engine.Shutdown()
	require.Equal(t, int64(8), done.Load())
	require.Equal(t, int64(8), stats.Processed)
}

func TestEngineRecordsFailures(t *testing.T) {
	t.Parallel()

	engine := New(Config{Workers: 2, MaxFailureSamples: 3})
	for i := 0; i < 10; i++ {
		require.NoError(t, engine.Submit(func(context.Context) {
			var err error
			if i%2 == 0 {
				err = errors.New("bad record")
			}
			engine.Finished(Result{Unit: "shard", Err: err})
		}))
	}
	require.NoError(t, engine.Submit(func(context.Context) { panic("kaboom") }))
	stats := engine.Shutdown()
	require.Equal(t, int64(11), stats.Processed)
	require.Equal(t, int64(6), stats.Failed)
	require.Len(t, stats.FailureSamples, 3)
}

func TestEngineEmitsProgress(t *testing.T) {
	t.Parallel()

	emitter := &recordingEmitter{}
	clock := time.Unix(1_700_000_000, 0)
	var mu sync.Mutex
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Millisecond)
		return clock
	}
	runID := uuid.Must(uuid.NewV7())
	engine := New(Config{Workers: 2, ReportEvery: 5, RunID: runID, Job: "count", Source: "shard", Emitter: emitter, Now: now})
	engine.Started()
	for i := 0; i < 20; i++ {
		require.NoError(t, engine.Submit(func(context.Context) { engine.Finished(Result{}) }))
	}
	engine.UnitDone("a.gz", 20, nil)
	engine.MarkAbandoned("b.gz", errors.New("disk gone"))
	stats := engine.Shutdown()

	require.Equal(t, runID, stats.RunID)
	require.Equal(t, int64(1), stats.Abandoned)
	require.Equal(t, int64(2), stats.Units)
	require.Equal(t, map[progress.Stage]int{
		progress.StageRunStart:      1,
		progress.StageThroughput:    4,
		progress.StageUnitDone:      1,
		progress.StageUnitAbandoned: 1,
		progress.StageRunDone:       1,
	}, emitter.stages())
	for _, evt := range emitter.events {
		require.NoError(t, evt.Validate())
		require.Equal(t, "count", evt.Job)
	}
	last := emitter.events[len(emitter.events)-1]
	require.Equal(t, progress.StageRunDone, last.Stage)
	require.Equal(t, int64(20), last.Counters.Processed)
	require.Positive(t, last.Rate)
}

func TestEngineFailIsReportedOnRunDone(t *testing.T) {
	t.Parallel()

	rec := &recordingEmitter{}
	engine := New(Config{Workers: 1, Emitter: rec})
	engine.Fail(nil)
	engine.Fail(errors.New("walk root: no such file"))
	engine.Fail(errors.New("second"))
	stats := engine.Shutdown()
	require.Equal(t, "walk root: no such file", stats.Err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	last := rec.events[len(rec.events)-1]
	require.Equal(t, progress.StageRunDone, last.Stage)
	require.Equal(t, "walk root: no such file", last.Note)
}
