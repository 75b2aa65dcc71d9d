package runner

import (
	"sync/atomic"

	"github.com/JakeFAU/tablescan/internal/scan"
)

// Live exposes the engine of the run in progress to the status API.
type Live struct {
	engine atomic.Pointer[scan.Engine]
}

// Set attaches e as the current engine.
func (l *Live) Set(e *scan.Engine) { l.engine.Store(e) }

// Clear detaches the current engine.
func (l *Live) Clear() { l.engine.Store(nil) }

// Live returns the counters of the attached engine.
func (l *Live) Live() (scan.Stats, bool) {
	e := l.engine.Load()
	if e == nil {
		return scan.Stats{}, false
	}
	return e.Snapshot(), true
}
