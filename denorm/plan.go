package denorm

import (
	"context"
	"fmt"
	"sort"

	"github.com/jacentio/propsync/store"
)

// Plan is the set of writes a handler wants applied for one mutation.
type Plan struct {
	// Handler names the handler that produced the plan. Empty when no handler
	// reacts to the mutation.
	Handler string

	// Atomic applies Writes with one AtomicWrite. Otherwise each write is an
	// independent point write.
	Atomic bool

	Writes []store.Write

	// Skip explains why a handler deliberately wrote nothing.
	Skip string
}

// Paths returns the written paths in plan order.
func (p Plan) Paths() []string {
	paths := make([]string, len(p.Writes))
	for i, w := range p.Writes {
		paths[i] = w.Path.String()
	}
	return paths
}

// sortWrites orders writes by path so plans built from unordered range reads
// are deterministic.
func sortWrites(writes []store.Write) {
	sort.SliceStable(writes, func(i, j int) bool {
		return writes[i].Path.String() < writes[j].Path.String()
	})
}

// PartialWriteError reports a non-atomic plan that failed after some writes landed.
type PartialWriteError struct {
	Applied int
	Total   int
	Path    store.Path
	Err     error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("write %s failed after %d of %d writes: %v", e.Path, e.Applied, e.Total, e.Err)
}

func (e *PartialWriteError) Unwrap() error {
	return e.Err
}

// Apply executes plan against c.
func Apply(ctx context.Context, c store.Client, plan Plan) error {
	if len(plan.Writes) == 0 {
		return nil
	}
	if plan.Atomic {
		return c.AtomicWrite(ctx, plan.Writes)
	}

	for i, w := range plan.Writes {
		var err error
		if w.Delete {
			err = c.Remove(ctx, w.Path)
		} else {
			err = c.Set(ctx, w.Path, w.Value)
		}
		if err != nil {
			return &PartialWriteError{Applied: i, Total: len(plan.Writes), Path: w.Path, Err: err}
		}
	}
	return nil
}
