package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("run record not found")

// RunStatus mirrors the scan_runs status column.
type RunStatus string

// Run statuses persisted in scan_runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// ParseRunStatus validates a status filter.
func ParseRunStatus(s string) (RunStatus, error) {
	switch RunStatus(s) {
	case RunRunning, RunSuccess, RunError:
		return RunStatus(s), nil
	default:
		return "", errors.New("status must be running, success or error")
	}
}

// UnitResult mirrors the scan_units result column.
type UnitResult string

// Unit outcomes.
const (
	UnitDone      UnitResult = "done"
	UnitCorrupt   UnitResult = "corrupt"
	UnitAbandoned UnitResult = "abandoned"
)

// Counters are the run-wide tallies persisted with a run.
type Counters struct {
	Processed int64
	Failed    int64
	Corrupt   int64
	Abandoned int64
}

// Run models the scan_runs table.
type Run struct {
	ID         uuid.UUID
	Job        string
	Source     string
	StartedAt  time.Time
	UpdatedAt  time.Time
	FinishedAt *time.Time
	Status     RunStatus
	Counters   Counters
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string
}

// Unit models one row of scan_units.
type Unit struct {
	RunID   uuid.UUID
	Name    string
	Result  UnitResult
	Records int64
	At      time.Time
	Note    *string
}

// RunRepository persists scan runs and their unit outcomes.
type RunRepository interface {
	// StartRun inserts the run, or resets it to running if it already exists.
	StartRun(ctx context.Context, run Run) error
	// UpdateCounters stores the latest tallies of a running run.
	UpdateCounters(ctx context.Context, runID uuid.UUID, counters Counters, at time.Time) error
	// CompleteRun marks the run finished with the final tallies.
	CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, counters Counters, errMsg *string) error
	// RecordUnit appends a unit outcome.
	RecordUnit(ctx context.Context, unit Unit) error

	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
	// ListRuns returns runs, newest first, filtered by optional status.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
	// ListRunUnits returns the unit outcomes of one run.
	ListRunUnits(ctx context.Context, runID uuid.UUID, limit, offset int) ([]Unit, error)
}
