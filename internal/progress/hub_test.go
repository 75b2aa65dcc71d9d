package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func TestHubDeliversRunInOrder(t *testing.T) {
	t.Parallel()

	rec := &recordingSink{}
	hub := NewHub(Config{BufferSize: 16, MaxBatchEvents: 3, MaxBatchWait: time.Minute}, rec)

	run := newRunEvents("count")
	hub.Emit(run.at(StageRunStart, ""))
	for i := 0; i < 4; i++ {
		hub.Emit(run.at(StageUnitDone, fmt.Sprintf("part-%05d.gz", i)))
	}
	hub.Emit(run.at(StageRunDone, ""))

	// Six events with a batch size of three flush twice without waiting on the timer.
	require.Eventually(t, func() bool { return rec.batchCount() == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, hub.Close(context.Background()))

	stages := rec.stages()
	require.Equal(t, []Stage{
		StageRunStart, StageUnitDone, StageUnitDone, StageUnitDone, StageUnitDone, StageRunDone,
	}, stages)
	require.Equal(t, int64(6), hub.Delivered())
	require.Zero(t, hub.Dropped())
}

func TestHubFlushesPartialBatchAfterWait(t *testing.T) {
	t.Parallel()

	rec := &recordingSink{}
	hub := NewHub(Config{MaxBatchEvents: 500, MaxBatchWait: 20 * time.Millisecond}, rec)
	t.Cleanup(func() { _ = hub.Close(context.Background()) })

	run := newRunEvents("histogram")
	evt := run.at(StageThroughput, "")
	evt.Rate = 1250
	hub.Emit(evt)

	require.Eventually(t, func() bool { return rec.batchCount() == 1 }, time.Second, 5*time.Millisecond)
	got := rec.events()
	require.Len(t, got, 1)
	require.InDelta(t, 1250.0, got[0].Rate, 0.001)
}

func TestHubFailingSinkDoesNotStarveOthers(t *testing.T) {
	t.Parallel()

	broken := &recordingSink{consumeErr: errors.New("store unavailable")}
	healthy := &recordingSink{}
	hub := NewHub(Config{MaxBatchEvents: 1}, broken, nil, healthy)

	run := newRunEvents("dedup")
	hub.Emit(run.at(StageUnitCorrupt, "part-00003.gz"))
	hub.Emit(run.at(StageUnitAbandoned, "part-00004.gz"))
	require.NoError(t, hub.Close(context.Background()))

	require.Equal(t, []Stage{StageUnitCorrupt, StageUnitAbandoned}, healthy.stages())
	require.Equal(t, 2, broken.batchCount())
	require.True(t, broken.isClosed())
	require.True(t, healthy.isClosed())
}

func TestHubBoundsSlowSinks(t *testing.T) {
	t.Parallel()

	slow := &recordingSink{block: true}
	hub := NewHub(Config{MaxBatchEvents: 1, SinkTimeout: 15 * time.Millisecond}, slow)

	run := newRunEvents("count")
	hub.Emit(run.at(StageRunStart, ""))
	hub.Emit(run.at(StageRunDone, ""))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, hub.Close(ctx))
	require.Equal(t, 2, slow.batchCount())
	require.Equal(t, int64(2), hub.Delivered())
}

func TestHubDropsWhenBufferFull(t *testing.T) {
	t.Parallel()

	// No run goroutine drains this channel, so every Emit overflows.
	hub := &Hub{
		events:  make(chan Event),
		logger:  zap.NewNop(),
		dropLog: &rate.Sometimes{Interval: time.Second},
	}
	run := newRunEvents("count")

	start := time.Now()
	for i := 0; i < 5; i++ {
		hub.Emit(run.at(StageThroughput, ""))
	}
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.Equal(t, int64(5), hub.Dropped())
	require.Zero(t, hub.Delivered())
}

func TestHubIgnoresInvalidAndLateEvents(t *testing.T) {
	t.Parallel()

	rec := &recordingSink{}
	hub := NewHub(Config{MaxBatchEvents: 1}, rec)
	run := newRunEvents("count")

	hub.Emit(Event{Stage: StageRunStart})
	hub.Emit(run.at(StageUnitDone, ""))
	require.NoError(t, hub.Close(context.Background()))
	require.NoError(t, hub.Close(context.Background()))

	hub.Emit(run.at(StageRunDone, ""))
	require.Zero(t, rec.batchCount())
	require.True(t, rec.isClosed())
}

func TestHubCloseDrainsBufferedEvents(t *testing.T) {
	t.Parallel()

	rec := &recordingSink{}
	hub := NewHub(Config{BufferSize: 64, MaxBatchEvents: 10, MaxBatchWait: time.Minute}, rec)
	run := newRunEvents("count")
	for i := 0; i < 25; i++ {
		hub.Emit(run.at(StageUnitDone, fmt.Sprintf("part-%05d.gz", i)))
	}
	require.NoError(t, hub.Close(context.Background()))

	got := rec.events()
	require.Len(t, got, 25)
	require.Equal(t, "part-00024.gz", got[24].Unit)
}

func TestNilHubIsInert(t *testing.T) {
	t.Parallel()

	var hub *Hub
	hub.Emit(newRunEvents("count").at(StageRunStart, ""))
	require.Zero(t, hub.Dropped())
	require.Zero(t, hub.Delivered())
	require.NoError(t, hub.Close(context.Background()))
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	run := newRunEvents("count")
	cases := []struct {
		name    string
		mutate  func(*Event)
		stage   Stage
		wantErr string
	}{
		{name: "unit done", stage: StageUnitDone},
		{name: "missing run id", stage: StageRunStart, mutate: func(e *Event) { e.RunID = [16]byte{} }, wantErr: "run id"},
		{name: "missing timestamp", stage: StageRunDone, mutate: func(e *Event) { e.TS = time.Time{} }, wantErr: "timestamp"},
		{name: "unit stage without unit", stage: StageUnitCorrupt, mutate: func(e *Event) { e.Unit = "" }, wantErr: "requires unit"},
		{name: "unknown stage", stage: StageRunDone, mutate: func(e *Event) { e.Stage = "PAUSED" }, wantErr: "unknown stage"},
		{name: "negative rate", stage: StageThroughput, mutate: func(e *Event) { e.Rate = -1 }, wantErr: "rate"},
		{name: "negative duration", stage: StageThroughput, mutate: func(e *Event) { e.Dur = -time.Second }, wantErr: "duration"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			evt := run.at(tc.stage, "part-00000.gz")
			if tc.mutate != nil {
				tc.mutate(&evt)
			}
			err := evt.Validate()
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestEventRunUUIDRoundTrip(t *testing.T) {
	t.Parallel()

	id := uuid.Must(uuid.NewV7())
	evt := Event{RunID: UUIDToBytes(id)}
	require.Equal(t, id, evt.RunUUID())
}

// runEvents stamps events that belong to one run.
type runEvents struct {
	id  [16]byte
	job string
}

func newRunEvents(job string) runEvents {
	return runEvents{id: UUIDToBytes(uuid.New()), job: job}
}

func (r runEvents) at(stage Stage, unit string) Event {
	return Event{
		RunID:  r.id,
		TS:     time.Now().UTC(),
		Stage:  stage,
		Job:    r.job,
		Source: "shard",
		Unit:   unit,
	}
}

type recordingSink struct {
	mu         sync.Mutex
	batches    [][]Event
	closed     bool
	consumeErr error
	block      bool
}

func (s *recordingSink) Consume(ctx context.Context, batch []Event) error {
	s.mu.Lock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	s.mu.Unlock()
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.consumeErr
}

func (s *recordingSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *recordingSink) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func (s *recordingSink) events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

func (s *recordingSink) stages() []Stage {
	var out []Stage
	for _, evt := range s.events() {
		out = append(out, evt.Stage)
	}
	return out
}
