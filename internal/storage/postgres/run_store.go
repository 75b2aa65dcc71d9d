package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/tablescan/internal/store"
)

const runSchema = `
CREATE TABLE IF NOT EXISTS scan_runs (
	id            UUID PRIMARY KEY,
	job           TEXT NOT NULL,
	source        TEXT NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ,
	status        TEXT NOT NULL,
	processed     BIGINT NOT NULL DEFAULT 0,
	failed        BIGINT NOT NULL DEFAULT 0,
	corrupt       BIGINT NOT NULL DEFAULT 0,
	abandoned     BIGINT NOT NULL DEFAULT 0,
	error_message TEXT
);
CREATE TABLE IF NOT EXISTS scan_units (
	run_id   UUID NOT NULL REFERENCES scan_runs (id) ON DELETE CASCADE,
	name     TEXT NOT NULL,
	result   TEXT NOT NULL,
	records  BIGINT NOT NULL,
	at       TIMESTAMPTZ NOT NULL,
	note     TEXT,
	PRIMARY KEY (run_id, name)
);`

// RunStore implements store.RunRepository using Postgres.
type RunStore struct {
	pool pgxIface
}

var _ store.RunRepository = (*RunStore)(nil)

// NewRunStore opens a pool and returns a RunStore over it.
func NewRunStore(ctx context.Context, cfg PoolConfig) (*RunStore, error) {
	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &RunStore{pool: pool}, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(pool pgxIface) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: pool}, nil
}

// Close closes the underlying connection pool.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the scan_runs and scan_units tables when missing.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, runSchema); err != nil {
		return fmt.Errorf("create run schema: %w", err)
	}
	return nil
}

// StartRun inserts a run in running state.
func (s *RunStore) StartRun(ctx context.Context, run store.Run) error {
	query := `
		INSERT INTO scan_runs (id, job, source, started_at, updated_at, status)
		VALUES ($1, $2, $3, $4, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at;
	`
	if _, err := s.pool.Exec(ctx, query, run.ID, run.Job, run.Source, run.StartedAt, store.RunRunning); err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	return nil
}

// UpdateCounters stores the latest tallies of a run.
func (s *RunStore) UpdateCounters(ctx context.Context, runID uuid.UUID, c store.Counters, at time.Time) error {
	query := `
		UPDATE scan_runs
		SET processed = $1, failed = $2, corrupt = $3, abandoned = $4, updated_at = $5
		WHERE id = $6 AND updated_at <= $5;
	`
	if _, err := s.pool.Exec(ctx, query, c.Processed, c.Failed, c.Corrupt, c.Abandoned, at, runID); err != nil {
		return fmt.Errorf("failed to update run counters: %w", err)
	}
	return nil
}

// CompleteRun marks a run finished with a status and optional error message.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	c store.Counters,
	errMsg *string,
) error {
	query := `
		UPDATE scan_runs
		SET finished_at = $1, updated_at = $1, status = $2, error_message = $3,
			processed = $4, failed = $5, corrupt = $6, abandoned = $7
		WHERE id = $8;
	`
	if _, err := s.pool.Exec(ctx, query, finishedAt, status, errMsg,
		c.Processed, c.Failed, c.Corrupt, c.Abandoned, runID); err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

// RecordUnit stores one unit outcome.
func (s *RunStore) RecordUnit(ctx context.Context, u store.Unit) error {
	query := `
		INSERT INTO scan_units (run_id, name, result, records, at, note)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (run_id, name) DO UPDATE
		SET result = EXCLUDED.result, records = EXCLUDED.records, at = EXCLUDED.at, note = EXCLUDED.note;
	`
	if _, err := s.pool.Exec(ctx, query, u.RunID, u.Name, u.Result, u.Records, u.At, u.Note); err != nil {
		return fmt.Errorf("failed to record unit: %w", err)
	}
	return nil
}

const runColumns = `id, job, source, started_at, updated_at, finished_at, status,
	processed, failed, corrupt, abandoned, error_message`

func scanRun(row pgx.Row) (store.Run, error) {
	var run store.Run
	err := row.Scan(
		&run.ID,
		&run.Job,
		&run.Source,
		&run.StartedAt,
		&run.UpdatedAt,
		&run.FinishedAt,
		&run.Status,
		&run.Counters.Processed,
		&run.Counters.Failed,
		&run.Counters.Corrupt,
		&run.Counters.Abandoned,
		&run.ErrorMessage,
	)
	return run, err
}

// GetRun retrieves a single run by its ID.
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error) {
	query := `SELECT ` + runColumns + ` FROM scan_runs WHERE id = $1;`
	run, err := scanRun(s.pool.QueryRow(ctx, query, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves runs, newest first, with optional status filtering.
func (s *RunStore) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	query := `SELECT ` + runColumns + `
		FROM scan_runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;`
	rows, err := s.pool.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

// ListRunUnits retrieves the unit outcomes of a run.
func (s *RunStore) ListRunUnits(ctx context.Context, runID uuid.UUID, limit, offset int) ([]store.Unit, error) {
	query := `
		SELECT run_id, name, result, records, at, note
		FROM scan_units
		WHERE run_id = $1
		ORDER BY at DESC, name
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, runID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list run units: %w", err)
	}
	defer rows.Close()

	var units []store.Unit
	for rows.Next() {
		var u store.Unit
		if err := rows.Scan(&u.RunID, &u.Name, &u.Result, &u.Records, &u.At, &u.Note); err != nil {
			return nil, fmt.Errorf("failed to scan unit row: %w", err)
		}
		units = append(units, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate units: %w", err)
	}
	return units, nil
}
