package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tablescan/internal/store"
)

func TestRunStoreLifecycle(t *testing.T) {
	t.Parallel()

	s := NewRunStore()
	ctx := context.Background()
	id := uuid.New()
	start := time.Unix(1700000000, 0).UTC()

	require.NoError(t, s.StartRun(ctx, store.Run{ID: id, Job: "count", Source: "shard", StartedAt: start}))
	require.NoError(t, s.UpdateCounters(ctx, id, store.Counters{Processed: 10}, start.Add(2*time.Second)))
	// Older snapshot loses.
	require.NoError(t, s.UpdateCounters(ctx, id, store.Counters{Processed: 5}, start.Add(time.Second)))

	run, err := s.GetRun(ctx, id)
	require.NoError(t, err)
	require.Equal(t, store.RunRunning, run.Status)
	require.Equal(t, int64(10), run.Counters.Processed)

	require.NoError(t, s.RecordUnit(ctx, store.Unit{RunID: id, Name: "a.gz", Result: store.UnitCorrupt, At: start}))
	require.NoError(t, s.RecordUnit(ctx, store.Unit{RunID: id, Name: "a.gz", Result: store.UnitDone, Records: 3, At: start}))
	require.NoError(t, s.RecordUnit(ctx, store.Unit{RunID: id, Name: "b.gz", Result: store.UnitDone, At: start.Add(time.Second)}))

	units, err := s.ListRunUnits(ctx, id, 0, 0)
	require.NoError(t, err)
	require.Len(t, units, 2)
	require.Equal(t, "b.gz", units[0].Name)
	require.Equal(t, store.UnitDone, units[1].Result)

	units[0].Name = "modified"
	again, err := s.ListRunUnits(ctx, id, 1, 0)
	require.NoError(t, err)
	require.Equal(t, "b.gz", again[0].Name)

	end := start.Add(time.Minute)
	require.NoError(t, s.CompleteRun(ctx, id, end, store.RunSuccess, store.Counters{Processed: 11}, nil))
	run, err = s.GetRun(ctx, id)
	require.NoError(t, err)
	require.Equal(t, store.RunSuccess, run.Status)
	require.NotNil(t, run.FinishedAt)
	require.True(t, run.FinishedAt.Equal(end))
	require.Equal(t, int64(11), run.Counters.Processed)
}

func TestRunStoreListRunsFiltersAndPages(t *testing.T) {
	t.Parallel()

	s := NewRunStore()
	ctx := context.Background()
	base := time.Unix(1700000000, 0).UTC()
	ids := make([]uuid.UUID, 3)
	for i := range ids {
		ids[i] = uuid.New()
		require.NoError(t, s.StartRun(ctx, store.Run{ID: ids[i], Job: "count", StartedAt: base.Add(time.Duration(i) * time.Hour)}))
	}
	require.NoError(t, s.CompleteRun(ctx, ids[0], base.Add(time.Minute), store.RunError, store.Counters{}, nil))

	all, err := s.ListRuns(ctx, nil, 10, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, ids[2], all[0].ID)

	running := store.RunRunning
	filtered, err := s.ListRuns(ctx, &running, 1, 1)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	require.Equal(t, ids[1], filtered[0].ID)

	none, err := s.ListRuns(ctx, nil, 10, 5)
	require.NoError(t, err)
	require.Empty(t, none)

	_, err = s.GetRun(ctx, uuid.New())
	require.ErrorIs(t, err, store.ErrNotFound)
}
