package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/tablescan/internal/store"
)

// RunStore is an in-memory store.RunRepository for development/testing.
type RunStore struct {
	mu    sync.RWMutex
	runs  map[uuid.UUID]store.Run
	units map[uuid.UUID][]store.Unit
}

var _ store.RunRepository = (*RunStore)(nil)

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs:  make(map[uuid.UUID]store.Run),
		units: make(map[uuid.UUID][]store.Unit),
	}
}

// StartRun stores a run in running state.
func (s *RunStore) StartRun(_ context.Context, run store.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.runs[run.ID]; ok {
		existing.Status = store.RunRunning
		existing.UpdatedAt = run.StartedAt
		s.runs[run.ID] = existing
		return nil
	}
	run.Status = store.RunRunning
	run.UpdatedAt = run.StartedAt
	s.runs[run.ID] = run
	return nil
}

// UpdateCounters stores the latest tallies; stale updates are ignored.
func (s *RunStore) UpdateCounters(_ context.Context, runID uuid.UUID, c store.Counters, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok || at.Before(run.UpdatedAt) {
		return nil
	}
	run.Counters = c
	run.UpdatedAt = at
	s.runs[runID] = run
	return nil
}

// CompleteRun marks a run finished.
func (s *RunStore) CompleteRun(
	_ context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	c store.Counters,
	errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil
	}
	run.FinishedAt = pointerTime(finishedAt)
	run.UpdatedAt = finishedAt
	run.Status = status
	run.Counters = c
	run.ErrorMessage = errMsg
	s.runs[runID] = run
	return nil
}

// RecordUnit stores a unit outcome, replacing an earlier one with the same name.
func (s *RunStore) RecordUnit(_ context.Context, u store.Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	units := s.units[u.RunID]
	for i := range units {
		if units[i].Name == u.Name {
			units[i] = u
			return nil
		}
	}
	s.units[u.RunID] = append(units, u)
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, runID uuid.UUID) (store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.Run{}, store.ErrNotFound
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *RunStore) ListRuns(_ context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	s.mu.RLock()
	out := make([]store.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if status != nil && run.Status != *status {
			continue
		}
		out = append(out, run)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return page(out, limit, offset), nil
}

// ListRunUnits returns the unit outcomes of a run, newest first.
func (s *RunStore) ListRunUnits(_ context.Context, runID uuid.UUID, limit, offset int) ([]store.Unit, error) {
	s.mu.RLock()
	units := s.units[runID]
	out := make([]store.Unit, len(units))
	copy(out, units)
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].At.Equal(out[j].At) {
			return out[i].Name < out[j].Name
		}
		return out[i].At.After(out[j].At)
	})
	return page(out, limit, offset), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
