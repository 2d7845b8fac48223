// Package vm implements the cooperative bytecode interpreter: one
// activation-frame stack executing a Program against a budget of ticks
// and a wall-clock deadline, yielding control back to its caller whenever
// it cannot make further progress without help (a verb call to resolve,
// a fork to dispatch, a suspend or read to park on).
package vm

import (
	"time"

	"tupleworld/moo"
)

// VerbResolver resolves a call/pass opcode's target verb against whatever
// backs the running world (worldstate, in production; a fake in tests).
// Returning the verb's owner as permissions keeps the VM itself ignorant
// of how permissions are computed.
type VerbResolver interface {
	Resolve(this moo.Oid, name, dobj, prep, iobj string, forCommand bool) (owner, definer moo.Oid, program *Program, err error)
	ResolveFrom(startAt moo.Oid, this moo.Oid, name string) (owner, definer moo.Oid, program *Program, err error)
}

// VM executes Programs. It is not safe for concurrent use — the
// scheduler gives each running task exclusive access to its own VM.
type VM struct {
	Stack  []moo.Value
	Frames []*StackFrame

	Builtins *Registry
	Resolver VerbResolver

	TickLimit int64
	Ticks     int64
	Deadline  time.Time

	pendingYield *Yield

	lastCode moo.ErrorCode
	lastMsg  string
}

func New(builtins *Registry, resolver VerbResolver, tickLimit int64) *VM {
	return &VM{
		Stack:     make([]moo.Value, 0, 256),
		Frames:    make([]*StackFrame, 0, 8),
		Builtins:  builtins,
		Resolver:  resolver,
		TickLimit: tickLimit,
	}
}

func (vm *VM) frameIndex(f *StackFrame) int {
	for i, fr := range vm.Frames {
		if fr == f {
			return i
		}
	}
	return -1
}

func (vm *VM) top() *StackFrame { return vm.Frames[len(vm.Frames)-1] }

func (vm *VM) push(v moo.Value) { vm.Stack = append(vm.Stack, v) }

func (vm *VM) pop() moo.Value {
	v := vm.Stack[len(vm.Stack)-1]
	vm.Stack = vm.Stack[:len(vm.Stack)-1]
	return v
}

// Run starts executing prog as a fresh top-level activation (the task's
// entry verb or a forked body), with the given verb-call context.
func (vm *VM) Run(prog *Program, this, player, caller, definer moo.Oid, verb string, args []moo.Value, deadline time.Time) Result {
	vm.Deadline = deadline
	frame := newFrame(prog, len(vm.Stack))
	frame.This = this
	frame.Player = player
	frame.Caller = caller
	frame.Definer = definer
	frame.VerbName = verb
	frame.Args = args
	frame.Permissions = definer // overridden via SetPermissions when verb owner differs
	vm.Frames = append(vm.Frames, frame)
	return vm.executeLoop()
}

// SetPermissions overrides the top frame's recorded permissions; callers
// that already resolved the verb owner (the scheduler, pushing the task's
// entry activation) use this instead of threading owner through Run.
func (vm *VM) SetPermissions(owner moo.Oid) {
	if len(vm.Frames) > 0 {
		vm.top().Permissions = owner
	}
}

// PushVerbFrame pushes a new activation for a resolved verb call
// (KindContinueVerb) and resumes execution.
func (vm *VM) PushVerbFrame(call VerbCall) Result {
	frame := newFrame(call.Program, len(vm.Stack))
	frame.This = call.This
	frame.Definer = call.Definer
	frame.VerbName = call.VerbName
	frame.Args = call.Args
	frame.Permissions = call.Permissions
	if len(vm.Frames) > 0 {
		cur := vm.top()
		frame.Player = cur.Player
		frame.Caller = cur.This
	}
	vm.Frames = append(vm.Frames, frame)
	return vm.executeLoop()
}

// ResumeSuspend continues a task parked by KindSuspend.
func (vm *VM) ResumeSuspend(deadline time.Time) Result {
	vm.Deadline = deadline
	return vm.resumeYielded(moo.None)
}

// ResumeInput continues a task parked by KindAwaitInput, delivering the
// line of client input it was waiting for.
func (vm *VM) ResumeInput(line moo.Value, deadline time.Time) Result {
	vm.Deadline = deadline
	return vm.resumeYielded(line)
}

// ResumeAfterFork continues a task past a KindDispatchFork once the
// scheduler has spawned the child task, binding its id into the forking
// frame's local if the fork statement named one (varIndex != NoVarIndex).
func (vm *VM) ResumeAfterFork(taskID int64, varIndex int) Result {
	if varIndex != NoVarIndex && len(vm.Frames) > 0 {
		vm.top().Locals[varIndex] = moo.Int{Val: taskID}
	}
	return vm.executeLoop()
}

func (vm *VM) resumeYielded(input moo.Value) Result {
	if vm.pendingYield == nil {
		return vm.executeLoop()
	}
	y := vm.pendingYield
	vm.pendingYield = nil
	val, err := y.Finish(input)
	if err != nil {
		if !vm.raiseInto(err) {
			return vm.buildException(err)
		}
		return vm.executeLoop()
	}
	vm.push(val)
	return vm.executeLoop()
}

func (vm *VM) checkBudget(op OpCode) (Result, bool) {
	if !vm.Deadline.IsZero() && time.Now().After(vm.Deadline) {
		return Result{Kind: KindTimeExhausted}, true
	}
	if CountsTick(op) {
		vm.Ticks++
		if vm.Ticks > vm.TickLimit {
			return Result{Kind: KindTicksExhausted}, true
		}
	}
	return Result{}, false
}

func (vm *VM) executeLoop() Result {
	for {
		if len(vm.Frames) == 0 {
			return Result{Kind: KindComplete, Value: moo.None}
		}
		frame := vm.top()
		if frame.IP >= len(frame.Program.Code) {
			if res, done := vm.returnValue(moo.None); done {
				return res
			}
			continue
		}

		op := OpCode(frame.Program.Code[frame.IP])
		if res, exhausted := vm.checkBudget(op); exhausted {
			return res
		}
		frame.IP++

		res, done, err := vm.step(frame, op)
		if err != nil {
			if !vm.raiseInto(err) {
				return vm.buildException(err)
			}
			continue
		}
		if done {
			return res
		}
	}
}

// step executes one opcode. done is true when step has produced a Result
// the caller should return (completion, yield, or verb dispatch).
func (vm *VM) step(frame *StackFrame, op OpCode) (Result, bool, error) {
	readOperand := func() int {
		v := int(frame.Program.Code[frame.IP])<<8 | int(frame.Program.Code[frame.IP+1])
		frame.IP += 2
		return v
	}

	switch op {
	case OpPush:
		idx := readOperand()
		vm.push(frame.Program.Constants[idx])
	case OpPop:
		vm.pop()
	case OpDup:
		v := vm.Stack[len(vm.Stack)-1]
		vm.push(v)

	case OpGetVar:
		idx := readOperand()
		vm.push(frame.Locals[idx])
	case OpSetVar:
		idx := readOperand()
		frame.Locals[idx] = vm.pop()

	case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpPow:
		b, a := vm.pop(), vm.pop()
		v, err := arith(op, a, b)
		if err != nil {
			return Result{}, false, err
		}
		vm.push(v)
	case OpNeg:
		v, err := negate(vm.pop())
		if err != nil {
			return Result{}, false, err
		}
		vm.push(v)
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		b, a := vm.pop(), vm.pop()
		v, err := compare(op, a, b)
		if err != nil {
			return Result{}, false, err
		}
		vm.push(v)
	case OpIn:
		b, a := vm.pop(), vm.pop()
		v, err := contains(a, b)
		if err != nil {
			return Result{}, false, err
		}
		vm.push(v)
	case OpNot:
		vm.push(boolValue(!vm.pop().Truthy()))

	case OpJump:
		off := readOperand()
		frame.IP = off
	case OpJumpIfFalse:
		off := readOperand()
		if !vm.pop().Truthy() {
			frame.IP = off
		}
	case OpJumpIfTrue:
		off := readOperand()
		if vm.pop().Truthy() {
			frame.IP = off
		}

	case OpReturn:
		res, done := vm.returnValue(vm.pop())
		return res, done, nil
	case OpReturnNone:
		res, done := vm.returnValue(moo.None)
		return res, done, nil

	case OpMakeList:
		count := readOperand()
		elems := make([]moo.Value, count)
		for i := count - 1; i >= 0; i-- {
			elems[i] = vm.pop()
		}
		vm.push(moo.NewList(elems))

	case OpTryExcept:
		handlerIP := readOperand()
		endIP := readOperand()
		varIdx := readOperand()
		numCodes := readOperand()
		codes := make([]moo.ErrorCode, numCodes)
		for i := range codes {
			codes[i] = moo.ErrorCode(readOperand())
		}
		frame.pushHandler(Handler{Kind: HandlerCatch, HandlerIP: handlerIP, EndIP: endIP, Codes: codes, VarIndex: varIdx})
	case OpTryFinally:
		handlerIP := readOperand()
		endIP := readOperand()
		frame.pushHandler(Handler{Kind: HandlerFinally, HandlerIP: handlerIP, EndIP: endIP})
	case OpEndHandler:
		h, ok := frame.popHandler()
		if ok && h.Kind == HandlerFinally && frame.PendingErr != nil {
			err := frame.PendingErr
			frame.PendingErr = nil
			return Result{}, false, err
		}
	case OpRaise:
		v := vm.pop()
		e, ok := v.(moo.Err)
		if !ok {
			e = moo.NewErr(moo.E_INVARG)
		}
		return Result{}, false, MooError{Code: e.Code, Msg: e.Msg}

	case OpCallBuiltin:
		nameIdx := readOperand()
		argc := readOperand()
		name := frame.Program.VarNames[nameIdx]
		args := make([]moo.Value, argc)
		for i := argc - 1; i >= 0; i-- {
			args[i] = vm.pop()
		}
		return vm.callBuiltin(frame, name, args)

	case OpCallVerb:
		args := vm.pop()
		name := vm.pop()
		obj := vm.pop()
		return vm.callVerb(obj, name, args, false)

	case OpPassVerb:
		args := vm.pop()
		return vm.passVerb(frame, args)

	case OpFork:
		bodyIP := readOperand()
		bodyLen := readOperand()
		taskIDVar := readOperand()
		delayVal := vm.pop()
		delay := time.Duration(0)
		if di, ok := delayVal.(moo.Int); ok {
			delay = time.Duration(di.Val) * time.Second
		}
		body := frame.Program.ExtractForkBody(bodyIP, bodyLen)
		return Result{Kind: KindDispatchFork, Fork: ForkRequest{Program: body, Delay: delay, TaskIDVar: taskIDVar}}, true, nil

	case OpGetProp, OpSetProp:
		// Property access has no opcode implementation, and no
		// get_property/set_property built-in exists in this repository;
		// both opcodes raise E_VERBNF.
		return Result{}, false, raise(moo.E_VERBNF)

	default:
		return Result{}, false, raise(moo.E_INVARG)
	}
	return Result{}, false, nil
}

func (vm *VM) callBuiltin(frame *StackFrame, name string, args []moo.Value) (Result, bool, error) {
	fn, ok := vm.Builtins.Lookup(name)
	if !ok {
		return Result{}, false, raise(moo.E_VERBNF)
	}
	ctx := &Context{VM: vm, Frame: frame}
	val, yield, err := fn(ctx, args)
	if err != nil {
		return Result{}, false, err
	}
	if yield != nil {
		vm.pendingYield = yield
		switch yield.Kind {
		case KindSuspend:
			return Result{Kind: KindSuspend, SuspendUntil: yield.SuspendUntil, Indefinite: yield.Indefinite}, true, nil
		case KindAwaitInput:
			return Result{Kind: KindAwaitInput, RequestID: yield.RequestID}, true, nil
		default:
			return Result{Kind: yield.Kind}, true, nil
		}
	}
	vm.push(val)
	return Result{}, false, nil
}

func (vm *VM) callVerb(objV, nameV, argsV moo.Value, forCommand bool) (Result, bool, error) {
	obj, ok := objV.(moo.Obj)
	nameS, nameOK := nameV.(moo.Str)
	argsL, argsOK := argsV.(moo.List)
	if !ok || !nameOK || !argsOK {
		return Result{}, false, raise(moo.E_TYPE)
	}
	owner, definer, prog, err := vm.Resolver.Resolve(obj.ID, nameS.Val, "any", "any", "any", forCommand)
	if err != nil {
		return Result{}, false, raise(moo.E_VERBNF)
	}
	return Result{Kind: KindContinueVerb, Call: VerbCall{
		Permissions: owner,
		This:        obj.ID,
		Definer:     definer,
		VerbName:    nameS.Val,
		Program:     prog,
		Args:        argsL.Elements(),
	}}, true, nil
}

func (vm *VM) passVerb(frame *StackFrame, argsV moo.Value) (Result, bool, error) {
	argsL, ok := argsV.(moo.List)
	if !ok {
		return Result{}, false, raise(moo.E_TYPE)
	}
	owner, definer, prog, err := vm.Resolver.ResolveFrom(frame.Definer, frame.This, frame.VerbName)
	if err != nil {
		return Result{}, false, raise(moo.E_VERBNF)
	}
	return Result{Kind: KindContinueVerb, Call: VerbCall{
		Permissions: owner,
		This:        frame.This,
		Definer:     definer,
		VerbName:    frame.VerbName,
		Program:     prog,
		Args:        argsL.Elements(),
	}}, true, nil
}

// returnValue pops the current frame, pushing its return value for the
// caller frame to consume (the caller's OpCallVerb continuation reads it
// back off the shared operand stack).
func (vm *VM) returnValue(v moo.Value) (Result, bool) {
	vm.Frames = vm.Frames[:len(vm.Frames)-1]
	if len(vm.Frames) == 0 {
		return Result{Kind: KindComplete, Value: v}, true
	}
	vm.push(v)
	return Result{}, false
}

// raiseInto searches the handler stacks from the current frame downward
// for a matching Catch, unwinding frames that have none. Returns true if
// it found one (execution should continue in executeLoop), false if the
// error escaped every frame.
func (vm *VM) raiseInto(cause error) bool {
	code := moo.E_INVARG
	msg := cause.Error()
	if me, ok := cause.(MooError); ok {
		code, msg = me.Code, me.Msg
	}

	for len(vm.Frames) > 0 {
		frame := vm.top()
		for len(frame.Handlers) > 0 {
			h := frame.Handlers[len(frame.Handlers)-1]
			frame.Handlers = frame.Handlers[:len(frame.Handlers)-1]
			if h.Kind == HandlerFinally {
				frame.PendingErr = cause
				frame.IP = h.HandlerIP
				return true
			}
			if h.Matches(code) {
				frame.IP = h.HandlerIP
				if h.VarIndex != NoVarIndex {
					frame.Locals[h.VarIndex] = moo.Err{Code: code, Msg: msg}
				} else {
					vm.push(moo.Err{Code: code, Msg: msg})
				}
				return true
			}
		}
		vm.Frames = vm.Frames[:len(vm.Frames)-1]
	}
	vm.lastCode = code
	vm.lastMsg = msg
	return false
}

func (vm *VM) buildException(cause error) Result {
	code, msg := vm.lastCode, vm.lastMsg
	if me, ok := cause.(MooError); ok {
		code, msg = me.Code, me.Msg
	}
	return Result{Kind: KindException, Exception: Exception{Code: code, Msg: msg}}
}
