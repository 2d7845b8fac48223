package vm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tupleworld/moo"
)

// asm is a minimal hand-assembler for test programs: operands are encoded
// as 2-byte big-endian words, matching step()'s readOperand.
type asm struct {
	code []byte
}

func (a *asm) op(o OpCode, operands ...int) *asm {
	a.code = append(a.code, byte(o))
	for _, v := range operands {
		a.code = append(a.code, byte(v>>8), byte(v))
	}
	return a
}

func (a *asm) label() int { return len(a.code) }

type nullResolver struct{}

func (nullResolver) Resolve(moo.Oid, string, string, string, string, bool) (moo.Oid, moo.Oid, *Program, error) {
	return moo.Nothing, moo.Nothing, nil, raise(moo.E_VERBNF)
}
func (nullResolver) ResolveFrom(moo.Oid, moo.Oid, string) (moo.Oid, moo.Oid, *Program, error) {
	return moo.Nothing, moo.Nothing, nil, raise(moo.E_VERBNF)
}

func newTestVM() *VM {
	return New(NewRegistry(), nullResolver{}, 10000)
}

func TestArithmeticAndReturn(t *testing.T) {
	var a asm
	a.op(OpPush, 0).op(OpPush, 1).op(OpAdd).op(OpReturn)
	prog := &Program{Code: a.code, Constants: []moo.Value{moo.Int{Val: 3}, moo.Int{Val: 4}}}

	vm := newTestVM()
	res := vm.Run(prog, moo.Nothing, moo.Nothing, moo.Nothing, moo.Nothing, "test", nil, time.Time{})
	require.Equal(t, KindComplete, res.Kind)
	require.Equal(t, moo.Int{Val: 7}, res.Value)
}

func TestDivisionByZeroRaisesAndUnwinds(t *testing.T) {
	var a asm
	a.op(OpPush, 0).op(OpPush, 1).op(OpDiv).op(OpReturn)
	prog := &Program{Code: a.code, Constants: []moo.Value{moo.Int{Val: 1}, moo.Int{Val: 0}}}

	vm := newTestVM()
	res := vm.Run(prog, moo.Nothing, moo.Nothing, moo.Nothing, moo.Nothing, "test", nil, time.Time{})
	require.Equal(t, KindException, res.Kind)
	require.Equal(t, moo.E_DIV, res.Exception.Code)
}

func TestTryExceptCatchesMatchingError(t *testing.T) {
	var a asm
	patch2 := func(at, val int) {
		a.code[at] = byte(val >> 8)
		a.code[at+1] = byte(val)
	}

	tryExceptAt := a.label()
	a.op(OpTryExcept, 0, 0, 0, 0) // operands patched once handlerIP/endIP are known
	a.op(OpPush, 0).op(OpPush, 1).op(OpDiv).op(OpPop)
	jumpAt := a.label()
	a.op(OpJump, 0) // patched to endIP below
	handlerIP := a.label()
	a.op(OpSetVar, 0) // store caught error into local 0
	endIP := a.label()
	a.op(OpGetVar, 0).op(OpReturn)

	patch2(tryExceptAt+1, handlerIP)
	patch2(tryExceptAt+3, endIP)
	patch2(tryExceptAt+5, NoVarIndex) // no local slot: leave caught error on the stack
	patch2(tryExceptAt+7, 0)          // numCodes == 0 => catch-all
	patch2(jumpAt+1, endIP)

	prog := &Program{Code: a.code, Constants: []moo.Value{moo.Int{Val: 1}, moo.Int{Val: 0}}, NumLocals: 1}

	vm := newTestVM()
	res := vm.Run(prog, moo.Nothing, moo.Nothing, moo.Nothing, moo.Nothing, "test", nil, time.Time{})
	require.Equal(t, KindComplete, res.Kind)
	errVal, ok := res.Value.(moo.Err)
	require.True(t, ok)
	require.Equal(t, moo.E_DIV, errVal.Code)
}

func TestCallBuiltinSynchronousReturn(t *testing.T) {
	reg := NewRegistry()
	reg.Register("double", func(ctx *Context, args []moo.Value) (moo.Value, *Yield, error) {
		n := args[0].(moo.Int)
		return moo.Int{Val: n.Val * 2}, nil, nil
	})

	var a asm
	a.op(OpPush, 0).op(OpCallBuiltin, 0, 1).op(OpReturn)
	prog := &Program{
		Code:      a.code,
		Constants: []moo.Value{moo.Int{Val: 21}},
		VarNames:  []string{"double"},
	}

	vm := New(reg, nullResolver{}, 10000)
	res := vm.Run(prog, moo.Nothing, moo.Nothing, moo.Nothing, moo.Nothing, "test", nil, time.Time{})
	require.Equal(t, KindComplete, res.Kind)
	require.Equal(t, moo.Int{Val: 42}, res.Value)
}

func TestCallBuiltinYieldsSuspendAndResumes(t *testing.T) {
	reg := NewRegistry()
	reg.Register("suspend", func(ctx *Context, args []moo.Value) (moo.Value, *Yield, error) {
		return nil, &Yield{
			Kind:         KindSuspend,
			SuspendUntil: time.Now().Add(time.Second),
			Finish:       func(moo.Value) (moo.Value, error) { return moo.None, nil },
		}, nil
	})

	var a asm
	a.op(OpCallBuiltin, 0, 0).op(OpReturn)
	prog := &Program{Code: a.code, VarNames: []string{"suspend"}}

	vm := New(reg, nullResolver{}, 10000)
	res := vm.Run(prog, moo.Nothing, moo.Nothing, moo.Nothing, moo.Nothing, "test", nil, time.Time{})
	require.Equal(t, KindSuspend, res.Kind)

	res = vm.ResumeSuspend(time.Time{})
	require.Equal(t, KindComplete, res.Kind)
	require.Equal(t, moo.None, res.Value)
}

func TestCallVerbYieldsContinueVerbAndResumes(t *testing.T) {
	childProg := &Program{Code: (&asm{}).op(OpPush, 0).op(OpReturn).code, Constants: []moo.Value{moo.Int{Val: 99}}}
	resolver := fakeResolver{program: childProg, owner: moo.Oid(2), definer: moo.Oid(5)}

	var a asm
	a.op(OpPush, 0).op(OpPush, 1).op(OpMakeList, 0).op(OpCallVerb).op(OpReturn)
	prog := &Program{Code: a.code, Constants: []moo.Value{moo.NewObj(5), moo.Str{Val: "look"}}}

	vm := New(NewRegistry(), resolver, 10000)
	res := vm.Run(prog, moo.Nothing, moo.Nothing, moo.Nothing, moo.Nothing, "test", nil, time.Time{})
	require.Equal(t, KindContinueVerb, res.Kind)
	require.Equal(t, moo.Oid(2), res.Call.Permissions)

	final := vm.PushVerbFrame(res.Call)
	require.Equal(t, KindComplete, final.Kind)
	require.Equal(t, moo.Int{Val: 99}, final.Value)
}

type fakeResolver struct {
	program *Program
	owner   moo.Oid
	definer moo.Oid
}

func (f fakeResolver) Resolve(this moo.Oid, name, dobj, prep, iobj string, forCommand bool) (moo.Oid, moo.Oid, *Program, error) {
	return f.owner, f.definer, f.program, nil
}
func (f fakeResolver) ResolveFrom(startAt, this moo.Oid, name string) (moo.Oid, moo.Oid, *Program, error) {
	return f.owner, f.definer, f.program, nil
}

func TestTicksExhausted(t *testing.T) {
	reg := NewRegistry()
	reg.Register("noop", func(ctx *Context, args []moo.Value) (moo.Value, *Yield, error) {
		return moo.None, nil, nil
	})
	var a asm
	loopStart := a.label()
	a.op(OpCallBuiltin, 0, 0).op(OpPop)
	jumpAt := a.label()
	a.op(OpJump, 0)
	a.code[jumpAt+1] = byte(loopStart >> 8)
	a.code[jumpAt+2] = byte(loopStart)

	prog := &Program{Code: a.code, VarNames: []string{"noop"}}
	vm := New(reg, nullResolver{}, 5)
	res := vm.Run(prog, moo.Nothing, moo.Nothing, moo.Nothing, moo.Nothing, "test", nil, time.Time{})
	require.Equal(t, KindTicksExhausted, res.Kind)
}
