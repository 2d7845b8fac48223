// Package rpc implements the daemon's session and transport layer (spec
// §4.5/§6): a ROUTER/DEALER request-reply pair plus a PUB event socket,
// PASETO-authenticated, fronting the scheduler for many concurrent clients.
package rpc

import (
	"time"

	"github.com/google/uuid"

	"tupleworld/moo"
	"tupleworld/vm"
)

func init() {
	for _, v := range []any{
		ConnectEstablish{}, AttachWithExistingAuth{}, LoginCommand{}, Command{},
		OutOfBandCommand{}, RequestedInputResponse{}, Eval{}, InvokeVerb{},
		ProgramVerb{}, RetrieveProperty{}, RetrieveVerb{}, ListProperties{},
		ListVerbs{}, ResolveObject{}, RequestHistory{}, RequestCurrentPresentations{},
		DismissPresentation{}, Detach{}, ClientPong{},
		NarrativeEvent{}, SystemMessageEvent{}, InputRequestEvent{},
		TaskSuccessEvent{}, TaskErrorEvent{}, DisconnectEvent{}, PingPongEvent{},
		// ReplyResult itself and its concrete ClientPayload/HostPayload
		// shapes: gob needs every concrete type that crosses the `any`
		// boundary registered, including plain ones, not just the
		// Request/Event unions above.
		ReplyResult{}, int64(0), moo.Oid(0), Connection{}, []LoggedEvent{}, map[string]string{},
	} {
		registerGob(v)
	}
}

// Request is any member of the client → daemon request taxonomy of spec
// §4.5. Each concrete type below is one named request kind.
type Request interface{ isRequest() }

type ConnectEstablish struct {
	Hostname     string
	ContentTypes []string
}
type AttachWithExistingAuth struct{ AuthToken string }
type LoginCommand struct{ Line string }
type Command struct{ Line string }
type OutOfBandCommand struct{ Line string }
type RequestedInputResponse struct {
	RequestID uuid.UUID
	Line      string
}
type Eval struct{ Code string }
type InvokeVerb struct {
	This     moo.Oid
	VerbName string
	Args     []moo.Value
}
type ProgramVerb struct {
	This     moo.Oid
	VerbName string
	Code     string
}
type RetrieveProperty struct {
	This string
	Name string
}
type RetrieveVerb struct {
	This     string
	VerbName string
}
type ListProperties struct{ This string }
type ListVerbs struct{ This string }
type ResolveObject struct{ Name string }
type RequestHistory struct {
	SinceEvent *uuid.UUID
	UntilEvent *uuid.UUID
	SinceSecs  *int64
	Limit      int
}
type RequestCurrentPresentations struct{}
type DismissPresentation struct{ ID string }
type Detach struct{}
type ClientPong struct{ Listeners []string }

func (ConnectEstablish) isRequest()             {}
func (AttachWithExistingAuth) isRequest()       {}
func (LoginCommand) isRequest()                 {}
func (Command) isRequest()                      {}
func (OutOfBandCommand) isRequest()             {}
func (RequestedInputResponse) isRequest()       {}
func (Eval) isRequest()                         {}
func (InvokeVerb) isRequest()                   {}
func (ProgramVerb) isRequest()                  {}
func (RetrieveProperty) isRequest()             {}
func (RetrieveVerb) isRequest()                 {}
func (ListProperties) isRequest()               {}
func (ListVerbs) isRequest()                    {}
func (ResolveObject) isRequest()                {}
func (RequestHistory) isRequest()               {}
func (RequestCurrentPresentations) isRequest()  {}
func (DismissPresentation) isRequest()          {}
func (Detach) isRequest()                       {}
func (ClientPong) isRequest()                   {}

// Event is any member of the daemon → client event taxonomy of spec §4.5.
type Event interface{ isEvent() }

type NarrativeEvent struct {
	ID     uuid.UUID
	Player moo.Oid
	Text   string
	At     time.Time
}
type SystemMessageEvent struct{ Text string }
type InputRequestEvent struct{ RequestID uuid.UUID }
type TaskSuccessEvent struct {
	TaskID int64
	Result moo.Value
}
type TaskErrorEvent struct {
	TaskID    int64
	Exception vm.Exception
}
type DisconnectEvent struct{ Reason string }
type PingPongEvent struct{}

func (NarrativeEvent) isEvent()     {}
func (SystemMessageEvent) isEvent() {}
func (InputRequestEvent) isEvent()  {}
func (TaskSuccessEvent) isEvent()   {}
func (TaskErrorEvent) isEvent()     {}
func (DisconnectEvent) isEvent()    {}
func (PingPongEvent) isEvent()      {}

// RpcMessageError is the daemon's uniform request-handling failure shape.
type RpcMessageError struct {
	Code    string
	Message string
}

func (e RpcMessageError) Error() string { return e.Code + ": " + e.Message }

// ReplyResult is the single-part frame returned for every request: exactly
// one of ClientSuccess, HostSuccess, or Failure.
type ReplyResult struct {
	ClientPayload any
	HostPayload   any
	Err           *RpcMessageError
}

func ClientSuccess(payload any) ReplyResult { return ReplyResult{ClientPayload: payload} }
func HostSuccess(payload any) ReplyResult   { return ReplyResult{HostPayload: payload} }
func Failure(code, msg string) ReplyResult {
	return ReplyResult{Err: &RpcMessageError{Code: code, Message: msg}}
}
