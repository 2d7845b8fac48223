package vm

import (
	"fmt"

	"tupleworld/moo"
)

// MooError wraps an ErrorCode as a Go error, the form arithmetic and
// indexing helpers raise internally before the VM turns them into an
// unwind.
type MooError struct {
	Code moo.ErrorCode
	Msg  string
}

func (e MooError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Msg)
	}
	return e.Code.String()
}

func raise(code moo.ErrorCode) error { return MooError{Code: code, Msg: code.Message()} }
