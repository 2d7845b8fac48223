package scheduler

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"tupleworld/moo"
	"tupleworld/tuplebox"
	"tupleworld/vm"
	"tupleworld/worldstate"
)

// asm mirrors the vm package's hand-assembler: operands are 2-byte
// big-endian words, matching the VM's readOperand.
type asm struct{ code []byte }

func (a *asm) op(o vm.OpCode, operands ...int) *asm {
	a.code = append(a.code, byte(o))
	for _, v := range operands {
		a.code = append(a.code, byte(v>>8), byte(v))
	}
	return a
}

func newTestWorld(t *testing.T) *worldstate.World {
	t.Helper()
	box, err := tuplebox.New(tuplebox.Options{})
	require.NoError(t, err)
	return worldstate.New(box)
}

type event struct {
	kind   string
	taskID int64
	value  moo.Value
	exc    vm.Exception
	reason string
}

type fakePublisher struct {
	events chan event
}

func newFakePublisher() *fakePublisher { return &fakePublisher{events: make(chan event, 64)} }

func (p *fakePublisher) TaskSucceeded(client uuid.UUID, taskID int64, result moo.Value) {
	p.events <- event{kind: "success", taskID: taskID, value: result}
}
func (p *fakePublisher) TaskFailed(client uuid.UUID, taskID int64, exc vm.Exception) {
	p.events <- event{kind: "failed", taskID: taskID, exc: exc}
}
func (p *fakePublisher) TaskAborted(client uuid.UUID, taskID int64, reason string) {
	p.events <- event{kind: "aborted", taskID: taskID, reason: reason}
}
func (p *fakePublisher) Notify(player moo.Oid, text string) {}

func (p *fakePublisher) waitFor(t *testing.T, taskID int64) event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-p.events:
			if e.taskID == taskID {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event from task %d", taskID)
		}
	}
}

func TestSchedulerCompletesSimpleTask(t *testing.T) {
	world := newTestWorld(t)
	pub := newFakePublisher()
	sched := New(world, vm.NewRegistry(), pub, 2)
	defer sched.Stop()

	var a asm
	a.op(vm.OpPush, 0).op(vm.OpReturn)
	prog := &vm.Program{Code: a.code, Constants: []moo.Value{moo.Int{Val: 42}}}

	id := sched.Submit(uuid.New(), prog, moo.Nothing, moo.Oid(1), moo.Nothing, moo.Nothing, "eval", nil, moo.Oid(1), 1000, time.Second)

	e := pub.waitFor(t, id)
	require.Equal(t, "success", e.kind)
	require.Equal(t, moo.Int{Val: 42}, e.value)
}

func TestSchedulerAbortsOnTicksExhausted(t *testing.T) {
	world := newTestWorld(t)
	pub := newFakePublisher()
	reg := vm.NewRegistry()
	reg.Register("noop", func(ctx *vm.Context, args []moo.Value) (moo.Value, *vm.Yield, error) {
		return moo.None, nil, nil
	})
	sched := New(world, reg, pub, 2)
	defer sched.Stop()

	var a asm
	loopStart := len(a.code)
	a.op(vm.OpCallBuiltin, 0, 0).op(vm.OpPop)
	jumpAt := len(a.code)
	a.op(vm.OpJump, 0)
	a.code[jumpAt+1] = byte(loopStart >> 8)
	a.code[jumpAt+2] = byte(loopStart)
	prog := &vm.Program{Code: a.code, VarNames: []string{"noop"}}

	id := sched.Submit(uuid.New(), prog, moo.Nothing, moo.Oid(1), moo.Nothing, moo.Nothing, "loop", nil, moo.Oid(1), 5, time.Second)

	e := pub.waitFor(t, id)
	require.Equal(t, "aborted", e.kind)
	require.Contains(t, e.reason, "ticks exhausted")
}

func TestSchedulerForkSpawnsChildTask(t *testing.T) {
	world := newTestWorld(t)
	pub := newFakePublisher()
	sched := New(world, vm.NewRegistry(), pub, 2)
	defer sched.Stop()

	// Child body returns Constants[2]; both programs share one Constants
	// table, per ExtractForkBody.
	var childAsm asm
	childAsm.op(vm.OpPush, 2).op(vm.OpReturn)

	var a asm
	a.op(vm.OpPush, 0) // fork delay: Constants[0] = Int{0}, i.e. immediate
	forkInstrAt := len(a.code)
	bodyIP := forkInstrAt + 7 // OpFork is 1 opcode byte + 3 two-byte operands
	a.op(vm.OpFork, bodyIP, len(childAsm.code), vm.NoVarIndex)
	a.code = append(a.code, childAsm.code...)
	a.op(vm.OpPush, 1).op(vm.OpReturn) // parent returns Constants[1]

	prog := &vm.Program{
		Code:      a.code,
		Constants: []moo.Value{moo.Int{Val: 0}, moo.Int{Val: 7}, moo.Int{Val: 99}},
	}

	client := uuid.New()
	parentID := sched.Submit(client, prog, moo.Nothing, moo.Oid(1), moo.Nothing, moo.Nothing, "spawn", nil, moo.Oid(1), 1000, time.Second)

	parentEvt := pub.waitFor(t, parentID)
	require.Equal(t, "success", parentEvt.kind)
	require.Equal(t, moo.Int{Val: 7}, parentEvt.value)

	// The forked child runs as a separate task id; drain until we see its
	// completion too.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-pub.events:
			if e.taskID != parentID {
				require.Equal(t, "success", e.kind)
				require.Equal(t, moo.Int{Val: 99}, e.value)
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for forked child task")
		}
	}
}

func TestSchedulerSuspendsOnAwaitInputAndResumes(t *testing.T) {
	world := newTestWorld(t)
	pub := newFakePublisher()
	reg := vm.NewRegistry()
	reqID := uuid.New()
	reg.Register("read", func(ctx *vm.Context, args []moo.Value) (moo.Value, *vm.Yield, error) {
		return nil, &vm.Yield{
			Kind:      vm.KindAwaitInput,
			RequestID: reqID,
			Finish:    func(input moo.Value) (moo.Value, error) { return input, nil },
		}, nil
	})
	sched := New(world, reg, pub, 2)
	defer sched.Stop()

	var a asm
	a.op(vm.OpCallBuiltin, 0, 0).op(vm.OpReturn)
	prog := &vm.Program{Code: a.code, VarNames: []string{"read"}}

	id := sched.Submit(uuid.New(), prog, moo.Nothing, moo.Oid(1), moo.Nothing, moo.Nothing, "look", nil, moo.Oid(1), 1000, time.Second)

	require.Eventually(t, func() bool {
		state, ok := sched.TaskState(id)
		return ok && state == StateSuspended
	}, time.Second, 10*time.Millisecond)

	ok := sched.Resume(reqID, moo.Str{Val: "hello"})
	require.True(t, ok)

	e := pub.waitFor(t, id)
	require.Equal(t, "success", e.kind)
	require.Equal(t, moo.Str{Val: "hello"}, e.value)
}
