package vm

import (
	"time"

	"github.com/google/uuid"

	"tupleworld/moo"
)

// Kind identifies what a VM invocation yielded, per the VM's execution
// contract: one of eight outcomes, each carrying the payload its
// scheduler-side handler needs to act on.
type Kind int

const (
	KindComplete Kind = iota
	KindException
	KindContinueVerb
	KindDispatchFork
	KindSuspend
	KindAwaitInput
	KindTicksExhausted
	KindTimeExhausted
)

func (k Kind) String() string {
	switch k {
	case KindComplete:
		return "Complete"
	case KindException:
		return "Exception"
	case KindContinueVerb:
		return "ContinueVerb"
	case KindDispatchFork:
		return "DispatchFork"
	case KindSuspend:
		return "Suspend"
	case KindAwaitInput:
		return "AwaitInput"
	case KindTicksExhausted:
		return "TicksExhausted"
	case KindTimeExhausted:
		return "TimeExhausted"
	default:
		return "Unknown"
	}
}

// TraceFrame is one entry of an uncaught exception's backtrace.
type TraceFrame struct {
	This moo.Oid
	Verb string
	Line int
}

// Exception carries an uncaught error's full shape, as delivered to the
// scheduler for narration to the requesting client.
type Exception struct {
	Code      moo.ErrorCode
	Msg       string
	Value     moo.Value
	Backtrace []TraceFrame
}

// VerbCall describes a call opcode's resolved target: the scheduler pushes
// a new activation for it and resumes the VM.
type VerbCall struct {
	Permissions moo.Oid
	This        moo.Oid
	Definer     moo.Oid
	VerbName    string
	Program     *Program
	Args        []moo.Value
}

// ForkRequest describes a fork statement: the scheduler spawns a new
// sibling task running Program after Delay elapses, optionally binding
// its task id to a local variable in the parent (TaskIDVar != NoVarIndex).
type ForkRequest struct {
	Program    *Program
	Delay      time.Duration
	TaskIDVar  int
}

// Result is what one VM.Run/Resume call returns.
type Result struct {
	Kind Kind

	Value     moo.Value  // KindComplete
	Exception Exception  // KindException
	Call      VerbCall   // KindContinueVerb
	Fork      ForkRequest // KindDispatchFork

	SuspendUntil time.Time // KindSuspend, zero means indefinite
	Indefinite   bool      // KindSuspend

	RequestID uuid.UUID // KindAwaitInput
}
