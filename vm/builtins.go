package vm

import (
	"time"

	"github.com/google/uuid"

	"tupleworld/moo"
)

// Yield is returned by a BuiltinFunc that cannot complete synchronously.
// The VM records it on the current frame (the "trampoline" marker of the
// execution contract) and returns the matching Result out of the current
// Run/Resume call; the scheduler eventually calls Resume with the
// asynchronous outcome, which invokes Finish to produce the builtin's
// actual return value.
type Yield struct {
	Kind Kind

	SuspendUntil time.Time
	Indefinite   bool
	RequestID    uuid.UUID

	// Finish is invoked on Resume with whatever the scheduler collected
	// (elapsed-suspend tick or client input) to compute the builtin's
	// final return value.
	Finish func(input moo.Value) (moo.Value, error)
}

// BuiltinFunc implements one built-in function. Returning a non-nil Yield
// suspends the call per the trampoline discipline; otherwise val/err is
// the call's immediate outcome.
type BuiltinFunc func(ctx *Context, args []moo.Value) (val moo.Value, yield *Yield, err error)

// Registry maps built-in names to their implementations.
type Registry struct {
	fns map[string]BuiltinFunc
}

func NewRegistry() *Registry { return &Registry{fns: make(map[string]BuiltinFunc)} }

func (r *Registry) Register(name string, fn BuiltinFunc) { r.fns[name] = fn }

func (r *Registry) Lookup(name string) (BuiltinFunc, bool) {
	fn, ok := r.fns[name]
	return fn, ok
}
