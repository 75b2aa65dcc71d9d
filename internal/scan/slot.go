package scan

import "context"

type slotKey struct{}

func withSlot(ctx context.Context, slot int) context.Context {
	return context.WithValue(ctx, slotKey{}, slot)
}

// WorkerSlot returns the slot of the worker running the task that owns ctx,
// or -1 when ctx did not come from an Engine. Two tasks never observe the same
// slot at the same time.
func WorkerSlot(ctx context.Context) int {
	if slot, ok := ctx.Value(slotKey{}).(int); ok {
		return slot
	}
	return -1
}
