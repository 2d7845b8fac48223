// Package scheduler owns every live task: it enforces tick/time limits,
// coordinates each task's WorldState transaction, and drives its VM
// through calls, forks, suspensions, and completion, per spec §4.4.
package scheduler

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"tupleworld/moo"
	"tupleworld/vm"
	"tupleworld/worldstate"
)

// State is a task's position in the spec §4.4 lifecycle diagram.
type State int

const (
	StateRunnable State = iota
	StateRunning
	StateSuspended
	StateAborted
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateRunnable:
		return "runnable"
	case StateRunning:
		return "running"
	case StateSuspended:
		return "suspended"
	case StateAborted:
		return "aborted"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// entryPoint captures everything needed to restart a task from scratch
// on a fresh transaction after a commit-time VersionConflict.
type entryPoint struct {
	program  *vm.Program
	this     moo.Oid
	player   moo.Oid
	caller   moo.Oid
	definer  moo.Oid
	verbName string
	args     []moo.Value
	owner    moo.Oid
}

// Task is one unit of scheduled execution: a command, a forked verb call,
// or an eval. It holds one WorldState transaction and one VM at a time and
// keeps both across suspend/resume (suspending frees only the worker); a
// commit-conflict retry replaces them with a fresh transaction and VM.
type Task struct {
	ID     int64
	Owner  moo.Oid // player on whose behalf this runs
	Client uuid.UUID

	sched *Scheduler

	mu    sync.Mutex
	state State

	entry   entryPoint
	tx      *worldstate.Tx
	machine *vm.VM

	TickLimit  int64
	TimeLimit  time.Duration
	retries    int
	maxRetries int

	sideEffectsEscaped bool

	WakeAt      time.Time
	Indefinite  bool
	InputID     uuid.UUID
	resumeInput moo.Value
	wasAwaiting bool
}

func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Task) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// MarkSideEffectEscaped latches the retry/escape fence of spec §4.4: once
// a narrative event has been published for this task, it can never be
// silently replayed again — a persistent conflict from here must abort,
// not restart. See DESIGN.md for why the first narrative publish was
// chosen as the fence.
func (t *Task) MarkSideEffectEscaped() {
	t.mu.Lock()
	t.sideEffectsEscaped = true
	t.mu.Unlock()
}

func (t *Task) hasEscaped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sideEffectsEscaped
}

// Notify publishes a narrative line to a player and latches the
// retry/escape fence: a task that has narrated can no longer be silently
// replayed on a commit conflict. Built-ins reach this via TaskFor(ctx.VM).
func (t *Task) Notify(player moo.Oid, text string) {
	t.MarkSideEffectEscaped()
	if t.sched != nil {
		t.sched.publisher.Notify(player, text)
	}
}
