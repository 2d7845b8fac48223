package scheduler

import (
	"sync"

	"tupleworld/vm"
)

// vmTasks maps a running VM back to the Task that owns it, so built-ins
// (registered on the shared *vm.Registry, which knows nothing of tasks)
// can reach the task that is calling them — to mark the retry/escape
// fence when they narrate, or to read the owning player/client.
var vmTasks sync.Map // *vm.VM -> *Task

func registerTask(m *vm.VM, t *Task) { vmTasks.Store(m, t) }

func unregisterTask(m *vm.VM) { vmTasks.Delete(m) }

// TaskFor returns the Task driving the given VM, if any. Built-ins use
// this (via ctx.VM) to mark side effects escaped or to publish narrative
// events through the scheduler's NarrativePublisher.
func TaskFor(m *vm.VM) (*Task, bool) {
	v, ok := vmTasks.Load(m)
	if !ok {
		return nil, false
	}
	return v.(*Task), true
}
