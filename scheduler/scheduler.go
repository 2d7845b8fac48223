package scheduler

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"tupleworld/moo"
	"tupleworld/tuplebox"
	"tupleworld/vm"
	"tupleworld/worldstate"
)

func init() {
	// vm.Program is stored as the opaque VerbProgram payload (worldstate
	// only knows it as `any`); scheduler is the one package that imports
	// both worldstate and vm, so it registers the concrete type gob needs.
	tuplebox.RegisterGobType(&vm.Program{})
}

// maxCommitRetries bounds how many times a task restarts from scratch on
// ErrVersionConflict before it is forced to abort. Past this, a hot object
// under sustained contention aborts instead of looping forever.
const maxCommitRetries = 5

// NarrativePublisher delivers a task's outcome and any narrative events it
// produced to whatever is holding the client connection. It decouples the
// scheduler from the RPC transport.
type NarrativePublisher interface {
	TaskSucceeded(client uuid.UUID, taskID int64, result moo.Value)
	TaskFailed(client uuid.UUID, taskID int64, exc vm.Exception)
	TaskAborted(client uuid.UUID, taskID int64, reason string)
	Notify(player moo.Oid, text string)
}

// Scheduler owns every live task: spec §4.4's Runnable/Running/Suspended
// state machine, a bounded worker pool drawing from a FIFO, and the
// commit-conflict retry loop.
type Scheduler struct {
	world     *worldstate.World
	builtins  *vm.Registry
	publisher NarrativePublisher

	nextTaskID int64

	mu        sync.Mutex
	tasks     map[int64]*Task
	suspended map[int64]*Task     // parked on a timer
	awaiting  map[uuid.UUID]int64 // request id -> task id, parked on input

	runnable chan int64
	sem      chan struct{} // bounded worker pool

	wakeTick *time.Ticker
	stop     chan struct{}
	wg       sync.WaitGroup
}

// New builds a Scheduler with the given worker pool size.
func New(world *worldstate.World, builtins *vm.Registry, publisher NarrativePublisher, workers int) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	s := &Scheduler{
		world:     world,
		builtins:  builtins,
		publisher: publisher,
		tasks:     make(map[int64]*Task),
		suspended: make(map[int64]*Task),
		awaiting:  make(map[uuid.UUID]int64),
		runnable:  make(chan int64, 1024),
		sem:       make(chan struct{}, workers),
		wakeTick:  time.NewTicker(50 * time.Millisecond),
		stop:      make(chan struct{}),
	}
	s.wg.Add(1)
	go s.dispatchLoop()
	s.wg.Add(1)
	go s.wakeLoop()
	return s
}

// SetPublisher binds the narrative sink after construction, for the
// common daemon wiring where the publisher (the RPC broker) itself needs a
// reference to the scheduler it is built from.
func (s *Scheduler) SetPublisher(publisher NarrativePublisher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publisher = publisher
}

// Stop halts the dispatch and wake loops. In-flight tasks are allowed to
// finish; newly submitted tasks are ignored once Stop returns.
func (s *Scheduler) Stop() {
	close(s.stop)
	s.wakeTick.Stop()
	s.wg.Wait()
}

func (s *Scheduler) newTaskID() int64 { return atomic.AddInt64(&s.nextTaskID, 1) }

// newTask constructs a Task from an entry point and registers it, but does
// not yet enqueue it onto the runnable FIFO.
func (s *Scheduler) newTask(client uuid.UUID, entry entryPoint, tickLimit int64, timeLimit time.Duration) *Task {
	id := s.newTaskID()
	t := &Task{
		ID:         id,
		Owner:      entry.player,
		Client:     client,
		sched:      s,
		state:      StateRunnable,
		entry:      entry,
		TickLimit:  tickLimit,
		TimeLimit:  timeLimit,
		maxRetries: maxCommitRetries,
	}
	s.mu.Lock()
	s.tasks[id] = t
	s.mu.Unlock()
	return t
}

// Submit schedules a verb call (command dispatch or a bare eval's implicit
// call) as a new runnable task and returns its id immediately.
func (s *Scheduler) Submit(client uuid.UUID, program *vm.Program, this, player, caller, definer moo.Oid, verbName string, args []moo.Value, owner moo.Oid, tickLimit int64, timeLimit time.Duration) int64 {
	entry := entryPoint{
		program: program, this: this, player: player, caller: caller,
		definer: definer, verbName: verbName, args: args, owner: owner,
	}
	t := s.newTask(client, entry, tickLimit, timeLimit)
	tasksSubmitted.Inc()
	s.enqueue(t.ID)
	return t.ID
}

// Fork schedules a fork body as a new task, optionally after a delay, on
// behalf of a running task's current activation. It is called by the
// worker goroutine handling KindDispatchFork, not by external callers.
func (s *Scheduler) Fork(client uuid.UUID, entry entryPoint, delay time.Duration, tickLimit int64, timeLimit time.Duration) int64 {
	t := s.newTask(client, entry, tickLimit, timeLimit)
	tasksSubmitted.Inc()
	if delay <= 0 {
		s.enqueue(t.ID)
		return t.ID
	}
	t.setState(StateSuspended)
	t.WakeAt = time.Now().Add(delay)
	s.mu.Lock()
	s.suspended[t.ID] = t
	s.mu.Unlock()
	return t.ID
}

// Resume delivers a value to a task parked on AwaitInput, identified by the
// request id the VM returned when it suspended.
func (s *Scheduler) Resume(requestID uuid.UUID, value moo.Value) bool {
	s.mu.Lock()
	id, ok := s.awaiting[requestID]
	if ok {
		delete(s.awaiting, requestID)
	}
	t, hasTask := s.tasks[id]
	s.mu.Unlock()
	if !ok || !hasTask {
		return false
	}
	t.mu.Lock()
	t.resumeInput = value
	t.mu.Unlock()
	s.mu.Lock()
	delete(s.suspended, id)
	s.mu.Unlock()
	t.setState(StateRunnable)
	s.enqueue(id)
	return true
}

// Kill aborts a task, whether runnable, running, or suspended.
func (s *Scheduler) Kill(taskID int64) bool {
	s.mu.Lock()
	t, ok := s.tasks[taskID]
	if ok {
		delete(s.suspended, taskID)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	t.setState(StateAborted)
	if t.tx != nil {
		t.tx.Rollback()
	}
	tasksAborted.Inc()
	s.publisher.TaskAborted(t.Client, t.ID, "killed")
	s.retire(taskID)
	return true
}

func (s *Scheduler) enqueue(id int64) {
	select {
	case s.runnable <- id:
	case <-s.stop:
	}
}

// TaskState reports a live task's current lifecycle state.
func (s *Scheduler) TaskState(id int64) (State, bool) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok {
		return 0, false
	}
	return t.State(), true
}

func (s *Scheduler) retire(id int64) {
	s.mu.Lock()
	delete(s.tasks, id)
	s.mu.Unlock()
}

// dispatchLoop pulls task ids off the FIFO and hands them to the bounded
// worker pool, one goroutine per concurrently running task.
func (s *Scheduler) dispatchLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		case id := <-s.runnable:
			s.mu.Lock()
			t, ok := s.tasks[id]
			s.mu.Unlock()
			if !ok || t.State() == StateAborted {
				continue
			}
			select {
			case s.sem <- struct{}{}:
			case <-s.stop:
				return
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer func() { <-s.sem }()
				s.runTask(t)
			}()
		}
	}
}

// wakeLoop periodically moves suspended tasks whose wake time has arrived
// back onto the runnable FIFO.
func (s *Scheduler) wakeLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		case <-s.wakeTick.C:
			now := time.Now()
			var ready []int64
			s.mu.Lock()
			for id, t := range s.suspended {
				if !t.Indefinite && !t.WakeAt.IsZero() && !now.Before(t.WakeAt) {
					ready = append(ready, id)
					delete(s.suspended, id)
				}
			}
			s.mu.Unlock()
			for _, id := range ready {
				if t, ok := s.tasks[id]; ok {
					t.setState(StateRunnable)
				}
				s.enqueue(id)
			}
		}
	}
}

// runTask drives one task from its current state through to Completed or
// Aborted, retrying from scratch on commit-time version conflicts per
// spec §4.4, up to maxCommitRetries unless the task has already escaped
// (published a narrative event, via MarkSideEffectEscaped).
func (s *Scheduler) runTask(t *Task) {
	t.setState(StateRunning)
	tasksRunning.Inc()
	defer tasksRunning.Dec()

	deadline := time.Time{}
	if t.TimeLimit > 0 {
		deadline = time.Now().Add(t.TimeLimit)
	}

	if t.tx == nil {
		t.tx = s.world.Begin()
		t.machine = vm.New(s.builtins, txResolver{tx: t.tx}, t.TickLimit)
		registerTask(t.machine, t)
	}

	var res vm.Result
	if len(t.machine.Frames) == 0 {
		res = t.machine.Run(t.entry.program, t.entry.this, t.entry.player, t.entry.caller, t.entry.definer, t.entry.verbName, t.entry.args, deadline)
	} else {
		t.mu.Lock()
		input, isAwait := t.resumeInput, t.wasAwaiting
		t.mu.Unlock()
		if isAwait {
			res = t.machine.ResumeInput(input, deadline)
		} else {
			res = t.machine.ResumeSuspend(deadline)
		}
	}

	s.handleResult(t, res)
}

func (s *Scheduler) handleResult(t *Task, res vm.Result) {
	switch res.Kind {
	case vm.KindComplete:
		s.commitOrRetry(t, func() { s.publisher.TaskSucceeded(t.Client, t.ID, res.Value) })

	case vm.KindException:
		s.commitOrRetry(t, func() { s.publisher.TaskFailed(t.Client, t.ID, res.Exception) })

	case vm.KindContinueVerb:
		next := t.machine.PushVerbFrame(res.Call)
		s.handleResult(t, next)

	case vm.KindDispatchFork:
		child := entryPoint{
			program:  res.Fork.Program,
			this:     t.entry.this,
			player:   t.entry.player,
			caller:   t.entry.this,
			definer:  t.entry.definer,
			verbName: "<fork>",
			args:     nil,
			owner:    t.entry.owner,
		}
		childID := s.Fork(t.Client, child, res.Fork.Delay, t.TickLimit, t.TimeLimit)
		next := t.machine.ResumeAfterFork(childID, res.Fork.TaskIDVar)
		s.handleResult(t, next)

	case vm.KindSuspend:
		t.setState(StateSuspended)
		t.WakeAt = res.SuspendUntil
		t.Indefinite = res.Indefinite
		t.wasAwaiting = false
		s.mu.Lock()
		s.suspended[t.ID] = t
		s.mu.Unlock()

	case vm.KindAwaitInput:
		t.setState(StateSuspended)
		t.Indefinite = true
		t.InputID = res.RequestID
		t.wasAwaiting = true
		s.mu.Lock()
		s.suspended[t.ID] = t
		s.awaiting[res.RequestID] = t.ID
		s.mu.Unlock()

	case vm.KindTicksExhausted:
		t.setState(StateAborted)
		if t.tx != nil {
			t.tx.Rollback()
		}
		tasksAborted.Inc()
		s.publisher.TaskAborted(t.Client, t.ID, "ticks exhausted")
		s.retire(t.ID)

	case vm.KindTimeExhausted:
		t.setState(StateAborted)
		if t.tx != nil {
			t.tx.Rollback()
		}
		tasksAborted.Inc()
		s.publisher.TaskAborted(t.Client, t.ID, "time exhausted")
		s.retire(t.ID)
	}
}

// commitOrRetry commits a task that reached Complete or Exception. On
// ErrVersionConflict it restarts the whole task from entry on a fresh
// transaction, unless it has already escaped (spec §4.4 Open Question:
// the retry/escape fence is the task's first published narrative event —
// see DESIGN.md), in which case it aborts instead of risking a silent
// double-narration.
func (s *Scheduler) commitOrRetry(t *Task, onCommitted func()) {
	err := t.tx.Commit()
	if err == nil {
		unregisterTask(t.machine)
		t.setState(StateCompleted)
		tasksCommitted.Inc()
		onCommitted()
		s.retire(t.ID)
		return
	}

	unregisterTask(t.machine)
	if t.hasEscaped() || t.retries >= t.maxRetries {
		t.setState(StateAborted)
		tasksAborted.Inc()
		s.publisher.TaskAborted(t.Client, t.ID, "commit conflict: "+err.Error())
		s.retire(t.ID)
		return
	}

	commitRetries.Inc()
	t.retries++
	t.tx = s.world.Begin()
	t.machine = vm.New(s.builtins, txResolver{tx: t.tx}, t.TickLimit)
	registerTask(t.machine, t)
	t.setState(StateRunnable)
	s.enqueue(t.ID)
}
