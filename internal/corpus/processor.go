package corpus

import (
	"context"
	"errors"
	"fmt"
)

// UnitKind distinguishes shard files from index id ranges.
type UnitKind string

// Supported unit kinds.
const (
	UnitShard UnitKind = "shard"
	UnitRange UnitKind = "range"
)

// Unit is one shard file or one contiguous half-open id range.
type Unit struct {
	Kind UnitKind
	// Path is the shard file for shard units.
	Path string
	// Start and End bound a range unit: [Start, End).
	Start int
	End   int
}

// ShardUnit describes a shard file.
func ShardUnit(path string) Unit {
	return Unit{Kind: UnitShard, Path: path}
}

// RangeUnit describes the id range [start, end).
func RangeUnit(start, end int) Unit {
	return Unit{Kind: UnitRange, Start: start, End: end}
}

// Name is the identifier used in logs, events and failure samples.
func (u Unit) Name() string {
	if u.Kind == UnitRange {
		return fmt.Sprintf("range[%d,%d)", u.Start, u.End)
	}
	return u.Path
}

// Len is the number of ids in a range unit; shard units report 0.
func (u Unit) Len() int {
	if u.Kind != UnitRange {
		return 0
	}
	return u.End - u.Start
}

// Record is one line of a shard or one document of an index.
type Record struct {
	Unit Unit
	// Position is the 1-based line number in a shard or the document id.
	Position int64
	// Key is the text before the first tab, empty when the line has none.
	Key string
	// Value is the opaque payload.
	Value string
}

// Processor is the caller-supplied callback bundle a source drives.
//
// Process runs once per record, possibly concurrently for records of the same
// unit. Finalize runs once per unit after every record of that unit finished
// and only for units that were read completely.
type Processor interface {
	Process(ctx context.Context, rec Record) error
	Finalize(ctx context.Context, unit Unit) error
}

// Closer is implemented by processors that need teardown after all units.
type Closer interface {
	Close(ctx context.Context) error
}

// Funcs adapts plain functions to Processor and Closer. Nil fields are no-ops.
type Funcs struct {
	ProcessFunc  func(ctx context.Context, rec Record) error
	FinalizeFunc func(ctx context.Context, unit Unit) error
	CloseFunc    func(ctx context.Context) error
}

// Process implements Processor.
func (f Funcs) Process(ctx context.Context, rec Record) error {
	if f.ProcessFunc == nil {
		return nil
	}
	return f.ProcessFunc(ctx, rec)
}

// Finalize implements Processor.
func (f Funcs) Finalize(ctx context.Context, unit Unit) error {
	if f.FinalizeFunc == nil {
		return nil
	}
	return f.FinalizeFunc(ctx, unit)
}

// Close implements Closer.
func (f Funcs) Close(ctx context.Context) error {
	if f.CloseFunc == nil {
		return nil
	}
	return f.CloseFunc(ctx)
}

// CloseProcessor calls Close when p implements Closer.
func CloseProcessor(ctx context.Context, p Processor) error {
	if c, ok := p.(Closer); ok {
		return c.Close(ctx)
	}
	return nil
}

// Discarder is implemented by processors that hold per-unit state which must
// be dropped when a unit is marked corrupt or abandoned instead of finalized.
type Discarder interface {
	Discard(ctx context.Context, unit Unit)
}

// DiscardUnit calls Discard when p implements Discarder.
func DiscardUnit(ctx context.Context, p Processor, unit Unit) {
	if d, ok := p.(Discarder); ok {
		d.Discard(ctx, unit)
	}
}

// ErrPanic wraps a panic raised by a Processor callback.
var ErrPanic = errors.New("processor panic")

// SafeProcess calls p.Process and reports a panic as an error wrapping ErrPanic.
func SafeProcess(ctx context.Context, p Processor, rec Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: record %d of %s: %v", ErrPanic, rec.Position, rec.Unit.Name(), r)
		}
	}()
	return p.Process(ctx, rec)
}

// SafeFinalize calls p.Finalize and reports a panic as an error wrapping ErrPanic.
func SafeFinalize(ctx context.Context, p Processor, unit Unit) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: finalize %s: %v", ErrPanic, unit.Name(), r)
		}
	}()
	return p.Finalize(ctx, unit)
}
