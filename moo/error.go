package moo

// ErrorCode enumerates the user-visible VM error values of spec §7.
type ErrorCode int

const (
	E_NONE ErrorCode = iota
	E_TYPE
	E_DIV
	E_PERM
	E_PROPNF
	E_VERBNF
	E_VARNF
	E_INVIND
	E_RECMOVE
	E_MAXREC
	E_RANGE
	E_ARGS
	E_INVARG
	E_QUOTA
	E_FLOAT
)

func (e ErrorCode) String() string {
	switch e {
	case E_NONE:
		return "E_NONE"
	case E_TYPE:
		return "E_TYPE"
	case E_DIV:
		return "E_DIV"
	case E_PERM:
		return "E_PERM"
	case E_PROPNF:
		return "E_PROPNF"
	case E_VERBNF:
		return "E_VERBNF"
	case E_VARNF:
		return "E_VARNF"
	case E_INVIND:
		return "E_INVIND"
	case E_RECMOVE:
		return "E_RECMOVE"
	case E_MAXREC:
		return "E_MAXREC"
	case E_RANGE:
		return "E_RANGE"
	case E_ARGS:
		return "E_ARGS"
	case E_INVARG:
		return "E_INVARG"
	case E_QUOTA:
		return "E_QUOTA"
	case E_FLOAT:
		return "E_FLOAT"
	default:
		return "E_UNKNOWN"
	}
}

// Message returns a human-readable description, as delivered in the error
// event's human-readable message field (spec §7 "User-visible failure shape").
func (e ErrorCode) Message() string {
	switch e {
	case E_NONE:
		return "No error"
	case E_TYPE:
		return "Type mismatch"
	case E_DIV:
		return "Division by zero"
	case E_PERM:
		return "Permission denied"
	case E_PROPNF:
		return "Property not found"
	case E_VERBNF:
		return "Verb not found"
	case E_VARNF:
		return "Variable not found"
	case E_INVIND:
		return "Invalid indirection"
	case E_RECMOVE:
		return "Recursive move"
	case E_MAXREC:
		return "Too many verb calls"
	case E_RANGE:
		return "Range error"
	case E_ARGS:
		return "Incorrect number of arguments"
	case E_INVARG:
		return "Invalid argument"
	case E_QUOTA:
		return "Resource limit exceeded"
	case E_FLOAT:
		return "Floating-point arithmetic error"
	default:
		return "Unknown error"
	}
}

// Err is the Error-variant Value: a raised/caught error code carrying an
// optional user message and faulting value, as thrown by `raise()` and
// caught by try/except handlers.
type Err struct {
	Code    ErrorCode
	Msg     string
	Faulting Value
}

func NewErr(code ErrorCode) Err { return Err{Code: code, Msg: code.Message()} }

func (e Err) Type() TypeCode { return TypeErr }
func (e Err) String() string { return e.Code.String() }
func (e Err) Truthy() bool   { return false }
func (e Err) Equal(o Value) bool {
	other, ok := o.(Err)
	return ok && other.Code == e.Code
}
