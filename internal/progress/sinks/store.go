package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/tablescan/internal/progress"
	"github.com/JakeFAU/tablescan/internal/store"
)

// StoreSink persists run history via a store.RunRepository. Throughput
// snapshots within a batch collapse into one counter update per run.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

type counterSnapshot struct {
	counters store.Counters
	at       time.Time
}

// Consume forwards the batch to the repository in event order. It respects
// ctx deadlines and returns any repository errors wrapped.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	pending := make(map[uuid.UUID]counterSnapshot)

	for _, evt := range batch {
		runID := evt.RunUUID()
		switch evt.Stage {
		case progress.StageRunStart:
			run := store.Run{ID: runID, Job: evt.Job, Source: evt.Source, StartedAt: evt.TS}
			if err := s.repo.StartRun(ctx, run); err != nil {
				return fmt.Errorf("start run: %w", err)
			}
		case progress.StageThroughput:
			snap := pending[runID]
			if snap.at.IsZero() || !evt.TS.Before(snap.at) {
				pending[runID] = counterSnapshot{counters: toStoreCounters(evt.Counters), at: evt.TS}
			}
		case progress.StageUnitDone, progress.StageUnitCorrupt, progress.StageUnitAbandoned:
			if err := s.repo.RecordUnit(ctx, unitFromEvent(runID, evt)); err != nil {
				return fmt.Errorf("record unit: %w", err)
			}
		case progress.StageRunDone:
			delete(pending, runID)
			status := store.RunSuccess
			var errMsg *string
			if evt.Note != "" {
				status = store.RunError
				note := evt.Note
				errMsg = &note
			}
			if err := s.repo.CompleteRun(ctx, runID, evt.TS, status, toStoreCounters(evt.Counters), errMsg); err != nil {
				return fmt.Errorf("complete run: %w", err)
			}
		}
	}

	for runID, snap := range pending {
		if err := s.repo.UpdateCounters(ctx, runID, snap.counters, snap.at); err != nil {
			return fmt.Errorf("update run counters: %w", err)
		}
	}
	return nil
}

func unitFromEvent(runID uuid.UUID, evt progress.Event) store.Unit {
	unit := store.Unit{
		RunID:   runID,
		Name:    evt.Unit,
		Result:  store.UnitDone,
		Records: evt.Records,
		At:      evt.TS,
	}
	switch evt.Stage {
	case progress.StageUnitCorrupt:
		unit.Result = store.UnitCorrupt
	case progress.StageUnitAbandoned:
		unit.Result = store.UnitAbandoned
	}
	if evt.Note != "" {
		note := evt.Note
		unit.Note = &note
	}
	return unit
}

func toStoreCounters(c progress.Counters) store.Counters {
	return store.Counters{
		Processed: c.Processed,
		Failed:    c.Failed,
		Corrupt:   c.Corrupt,
		Abandoned: c.Abandoned,
	}
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
