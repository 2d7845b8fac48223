package vm

import "tupleworld/moo"

// StackFrame is one activation: spec §4.3 "program, program counter, value
// stack, lexical environment, permissions OID, player OID, caller OID,
// verb metadata, and a handler stack".
type StackFrame struct {
	Program *Program
	IP      int
	Locals  []moo.Value

	Permissions moo.Oid // verb owner, updated only by set_task_perms
	This        moo.Oid
	Player      moo.Oid
	Caller      moo.Oid // the object whose activation called this one
	VerbName    string
	Definer     moo.Oid // object on which VerbName is actually defined, for pass()
	Args        []moo.Value

	BasePointer int // index into VM.Stack where this frame's operands begin
	Loops       []LoopState
	Handlers    []Handler
	PendingErr  error // set while running a Finally block that must re-raise after
}

func newFrame(prog *Program, base int) *StackFrame {
	return &StackFrame{
		Program:     prog,
		Locals:      make([]moo.Value, prog.NumLocals),
		BasePointer: base,
		This:        moo.Nothing,
		Player:      moo.Nothing,
		Caller:      moo.Nothing,
		Definer:     moo.Nothing,
		Permissions: moo.Nothing,
	}
}

func (f *StackFrame) pushHandler(h Handler) { f.Handlers = append(f.Handlers, h) }

func (f *StackFrame) popHandler() (Handler, bool) {
	if len(f.Handlers) == 0 {
		return Handler{}, false
	}
	h := f.Handlers[len(f.Handlers)-1]
	f.Handlers = f.Handlers[:len(f.Handlers)-1]
	return h, true
}

// Context is handed to built-in functions: the current activation plus
// enough of the VM to inspect permissions and push further activations.
type Context struct {
	VM    *VM
	Frame *StackFrame
}

// CallerPerms returns the permissions of the activation directly below
// the current one — "the first non-built-in frame below the current one"
// of spec §4.3, since this VM never pushes a synthetic frame for a
// built-in call.
func (c *Context) CallerPerms() moo.Oid {
	idx := c.VM.frameIndex(c.Frame)
	if idx <= 0 {
		return moo.Nothing
	}
	return c.VM.Frames[idx-1].Permissions
}

// SetTaskPerms updates only the current activation's permissions.
func (c *Context) SetTaskPerms(id moo.Oid) { c.Frame.Permissions = id }
