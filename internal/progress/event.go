package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart      Stage = "RUN_START"
	StageThroughput    Stage = "THROUGHPUT"
	StageUnitDone      Stage = "UNIT_DONE"
	StageUnitCorrupt   Stage = "UNIT_CORRUPT"
	StageUnitAbandoned Stage = "UNIT_ABANDONED"
	StageRunDone       Stage = "RUN_DONE"
)

// Counters is a snapshot of the run-wide tallies.
type Counters struct {
	Processed int64
	Failed    int64
	Corrupt   int64
	Abandoned int64
}

// Event captures a single milestone of a scan run.
type Event struct {
	// RunID identifies the run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Job names the processor driving the run.
	Job string
	// Source is the source kind ("shard" or "index").
	Source string
	// Unit identifies the shard path or id range for unit stages.
	Unit string
	// Records is the number of records dispatched for a unit.
	Records int64
	// Counters carries the run tallies at emission time.
	Counters Counters
	// Rate is the throughput in records per second since the run started.
	Rate float64
	// Dur is the elapsed run time for throughput and completion events.
	Dur time.Duration
	// Note carries low-volume context such as an error message.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageThroughput, StageRunDone:
	case StageUnitDone, StageUnitCorrupt, StageUnitAbandoned:
		if e.Unit == "" {
			return fmt.Errorf("%s requires unit", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Rate < 0 {
		return errors.New("rate must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
