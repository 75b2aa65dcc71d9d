package jobs

import (
	"context"
	"sync"

	"github.com/JakeFAU/tablescan/internal/corpus"
	"github.com/JakeFAU/tablescan/internal/scan"
)

// Accumulator gathers partial results per unit and per worker slot and folds
// a unit's partials into the total once, when the unit is finalized. Updates
// on the record path take no shared lock.
type Accumulator[A any] struct {
	slots   int
	newPart func() A
	merge   func(total *A, part A)

	units sync.Map // unit name -> *unitParts[A]

	mu    sync.Mutex
	total A
}

type unitParts[A any] struct {
	parts []A
	// spill holds updates from contexts without a worker slot.
	spillMu sync.Mutex
	spill   A
}

// NewAccumulator builds an accumulator for slots worker slots. newPart
// returns an empty partial and merge folds a partial into the total.
func NewAccumulator[A any](slots int, newPart func() A, merge func(total *A, part A)) *Accumulator[A] {
	if slots < 1 {
		slots = 1
	}
	return &Accumulator[A]{slots: slots, newPart: newPart, merge: merge, total: newPart()}
}

func (a *Accumulator[A]) partsFor(unit corpus.Unit) *unitParts[A] {
	name := unit.Name()
	if v, ok := a.units.Load(name); ok {
		return v.(*unitParts[A])
	}
	up := &unitParts[A]{parts: make([]A, a.slots), spill: a.newPart()}
	for i := range up.parts {
		up.parts[i] = a.newPart()
	}
	v, _ := a.units.LoadOrStore(name, up)
	return v.(*unitParts[A])
}

// Update applies fn to the partial owned by the worker slot in ctx.
func (a *Accumulator[A]) Update(ctx context.Context, unit corpus.Unit, fn func(part *A)) {
	up := a.partsFor(unit)
	slot := scan.WorkerSlot(ctx)
	if slot >= 0 && slot < len(up.parts) {
		fn(&up.parts[slot])
		return
	}
	up.spillMu.Lock()
	defer up.spillMu.Unlock()
	fn(&up.spill)
}

// Finalize folds the unit's partials into the total. Units without records
// are a no-op.
func (a *Accumulator[A]) Finalize(_ context.Context, unit corpus.Unit) error {
	v, ok := a.units.LoadAndDelete(unit.Name())
	if !ok {
		return nil
	}
	up := v.(*unitParts[A])
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, part := range up.parts {
		a.merge(&a.total, part)
	}
	a.merge(&a.total, up.spill)
	return nil
}

// Discard drops the partials of a unit that will never be finalized.
func (a *Accumulator[A]) Discard(_ context.Context, unit corpus.Unit) {
	a.units.Delete(unit.Name())
}

// Pending is the number of units holding unfolded partials.
func (a *Accumulator[A]) Pending() int {
	n := 0
	a.units.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Total returns the merged result. Call it after the run has shut down.
func (a *Accumulator[A]) Total() A {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total
}
