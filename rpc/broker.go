package rpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tupleworld/moo"
	"tupleworld/scheduler"
	"tupleworld/vm"
	"tupleworld/worldstate"
)

// hostMissedPongLimit is spec §4.5's "a host that misses pongs for 10
// seconds is considered dead."
const hostMissedPongLimit = 10 * time.Second

// hostRecord tracks one registered frontend's liveness.
type hostRecord struct {
	lastPong  time.Time
	listeners []string
}

// Broker is the daemon's RPC front door: spec §4.5's request/reply and
// publish sockets, wired to one Scheduler and one World.
type Broker struct {
	log    zerolog.Logger
	tokens *TokenAuthority
	reg    *Registry
	events *EventLog
	sched  *scheduler.Scheduler
	world  *worldstate.World

	router zmq4.Socket
	pub    zmq4.Socket

	mu    sync.Mutex
	hosts map[string]*hostRecord

	stop chan struct{}
	wg   sync.WaitGroup
}

const (
	topicBroadcast     = "broadcast"
	topicHostBroadcast = "host-broadcast"
)

func NewBroker(log zerolog.Logger, tokens *TokenAuthority, world *worldstate.World, sched *scheduler.Scheduler) *Broker {
	return &Broker{
		log:    log,
		tokens: tokens,
		reg:    NewRegistry(),
		events: NewEventLog(),
		sched:  sched,
		world:  world,
		hosts:  make(map[string]*hostRecord),
		stop:   make(chan struct{}),
	}
}

// Listen binds the request/reply and publish endpoints and starts serving.
func (b *Broker) Listen(ctx context.Context, rpcAddr, eventsAddr string) error {
	b.router = zmq4.NewRouter(ctx)
	if err := b.router.Listen(rpcAddr); err != nil {
		return fmt.Errorf("rpc: listening on %s: %w", rpcAddr, err)
	}
	b.pub = zmq4.NewPub(ctx)
	if err := b.pub.Listen(eventsAddr); err != nil {
		return fmt.Errorf("rpc: listening on %s: %w", eventsAddr, err)
	}

	b.wg.Add(2)
	go b.serveLoop()
	go b.hostReaperLoop()
	return nil
}

func (b *Broker) Close() error {
	close(b.stop)
	b.wg.Wait()
	if b.router != nil {
		b.router.Close()
	}
	if b.pub != nil {
		b.pub.Close()
	}
	return nil
}

func (b *Broker) serveLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.stop:
			return
		default:
		}
		msg, err := b.router.Recv()
		if err != nil {
			select {
			case <-b.stop:
				return
			default:
				b.log.Warn().Err(err).Msg("rpc: recv failed")
				continue
			}
		}
		go b.handleFrame(msg)
	}
}

// handleFrame unpacks one ROUTER frame: [identity, tag, client-id, token,
// body] and replies on the same identity with a gob-encoded ReplyResult.
func (b *Broker) handleFrame(msg zmq4.Msg) {
	if len(msg.Frames) < 5 {
		b.log.Warn().Int("frames", len(msg.Frames)).Msg("rpc: malformed request frame")
		return
	}
	identity := msg.Frames[0]
	tag := FrameTag(msg.Frames[1][0])
	clientIDRaw := msg.Frames[2]
	token := string(msg.Frames[3])
	bodyRaw := msg.Frames[4]

	if len(clientIDRaw) != clientIDFrameLen {
		b.reply(identity, Failure("InvalidRequest", "malformed client-id frame"))
		return
	}
	frameClientID, err := uuid.FromBytes(clientIDRaw)
	if err != nil {
		b.reply(identity, Failure("InvalidRequest", "malformed client-id frame"))
		return
	}

	body, err := decodeBody(bodyRaw)
	if err != nil {
		b.reply(identity, Failure("InvalidRequest", err.Error()))
		return
	}
	req, ok := body.(Request)
	if !ok {
		b.reply(identity, Failure("InvalidRequest", "frame body is not a Request"))
		return
	}

	result := b.dispatch(tag, frameClientID, token, req)
	b.reply(identity, result)
}

func (b *Broker) reply(identity []byte, result ReplyResult) {
	payload, err := encodeBody(result)
	if err != nil {
		b.log.Error().Err(err).Msg("rpc: encoding reply failed")
		return
	}
	if err := b.router.Send(zmq4.NewMsgFrom(identity, payload)); err != nil {
		b.log.Error().Err(err).Msg("rpc: sending reply failed")
	}
}

func (b *Broker) dispatch(tag FrameTag, frameClientID uuid.UUID, token string, req Request) ReplyResult {
	switch tag {
	case HostToDaemon:
		claims, err := b.tokens.VerifyHost(token)
		if err != nil {
			return Failure("PermissionDenied", err.Error())
		}
		return b.dispatchHost(claims, req)
	case HostClientToDaemon:
		claims, err := b.tokens.VerifySession(token)
		if err != nil {
			return Failure("PermissionDenied", err.Error())
		}
		if claims.ClientID != frameClientID {
			return Failure("PermissionDenied", "token client id does not match frame client id")
		}
		return b.dispatchClient(claims.ClientID, req)
	default:
		return Failure("InvalidRequest", "unknown frame tag")
	}
}

func (b *Broker) dispatchHost(claims HostClaims, req Request) ReplyResult {
	switch r := req.(type) {
	case ClientPong:
		b.mu.Lock()
		b.hosts[claims.HostType] = &hostRecord{lastPong: time.Now(), listeners: r.Listeners}
		b.mu.Unlock()
		return HostSuccess(PingPongEvent{})
	default:
		return Failure("InvalidRequest", "request kind is client-only")
	}
}

// dispatchClient handles the request taxonomy of spec §4.5. Kinds that
// would require compiling fresh bytecode (Eval, Command, LoginCommand,
// ProgramVerb) are out of reach here because the bytecode compiler is out
// of scope; InvokeVerb, which calls an already-compiled verb, is the
// taxonomy's fully wired path.
func (b *Broker) dispatchClient(clientID uuid.UUID, req Request) ReplyResult {
	switch r := req.(type) {
	case ConnectEstablish:
		conn := b.reg.Establish(clientID, r.Hostname, r.ContentTypes)
		return ClientSuccess(conn)

	case AttachWithExistingAuth:
		claims, err := b.tokens.VerifyAuth(r.AuthToken)
		if err != nil {
			return Failure("PermissionDenied", err.Error())
		}
		if !b.reg.Attach(clientID, claims.Player) {
			return Failure("NoConnection", "no established connection for client")
		}
		return ClientSuccess(claims.Player)

	case InvokeVerb:
		return b.invokeVerb(clientID, r)

	case RequestedInputResponse:
		b.reg.Touch(clientID)
		if !b.sched.Resume(r.RequestID, moo.Str{Val: r.Line}) {
			return Failure("InputRequestNotFound", "no task awaiting that request id")
		}
		return ClientSuccess(nil)

	case RequestHistory:
		conn, ok := b.reg.Get(clientID)
		if !ok {
			return Failure("NoConnection", "unknown client")
		}
		return ClientSuccess(b.history(conn.Player, r))

	case RequestCurrentPresentations:
		conn, ok := b.reg.Get(clientID)
		if !ok {
			return Failure("NoConnection", "unknown client")
		}
		return ClientSuccess(b.events.CurrentPresentations(conn.Player))

	case DismissPresentation:
		conn, ok := b.reg.Get(clientID)
		if !ok {
			return Failure("NoConnection", "unknown client")
		}
		b.events.Dismiss(conn.Player, r.ID)
		return ClientSuccess(nil)

	case Detach:
		b.reg.Disconnect(clientID)
		return ClientSuccess(nil)

	case Eval, Command, LoginCommand, ProgramVerb:
		return Failure("InternalError", "bytecode compiler is out of scope; submit pre-compiled verbs via InvokeVerb")

	default:
		return Failure("InvalidRequest", "unhandled request kind")
	}
}

func (b *Broker) invokeVerb(clientID uuid.UUID, r InvokeVerb) ReplyResult {
	conn, ok := b.reg.Get(clientID)
	if !ok {
		return Failure("NoConnection", "unknown client")
	}

	tx := b.world.Begin()
	def, definer, err := tx.FindVerb(r.This, r.VerbName, "any", "any", "any", false)
	if err != nil {
		tx.Rollback()
		return Failure("EntityRetrievalError", err.Error())
	}
	raw, err := tx.VerbProgram(definer, def.UUID)
	if err != nil {
		tx.Rollback()
		return Failure("EntityRetrievalError", err.Error())
	}
	prog, ok := raw.(*vm.Program)
	if !ok {
		tx.Rollback()
		return Failure("VerbProgramFailed", "verb has no compiled program")
	}
	tx.Rollback() // Submit opens its own transaction for the task itself.

	taskID := b.sched.Submit(clientID, prog, r.This, conn.Player, moo.Nothing, definer, r.VerbName, r.Args, def.Owner, 60_000, 5*time.Second)
	return ClientSuccess(taskID)
}

func (b *Broker) history(player moo.Oid, r RequestHistory) []LoggedEvent {
	switch {
	case r.SinceEvent != nil:
		return b.events.Since(player, *r.SinceEvent, r.Limit)
	case r.UntilEvent != nil:
		return b.events.Until(player, *r.UntilEvent, r.Limit)
	case r.SinceSecs != nil:
		return b.events.SinceSeconds(player, time.Duration(*r.SinceSecs)*time.Second, r.Limit)
	default:
		return nil
	}
}

func (b *Broker) hostReaperLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			now := time.Now()
			b.mu.Lock()
			for hostType, rec := range b.hosts {
				if now.Sub(rec.lastPong) > hostMissedPongLimit {
					delete(b.hosts, hostType)
					b.log.Warn().Str("host", hostType).Msg("rpc: host missed pongs, dropped")
				}
			}
			b.mu.Unlock()
		}
	}
}

// --- scheduler.NarrativePublisher ---

func (b *Broker) publish(clientID uuid.UUID, ev Event) {
	payload, err := encodeBody(ev)
	if err != nil {
		b.log.Error().Err(err).Msg("rpc: encoding event failed")
		return
	}
	if err := b.pub.Send(zmq4.NewMsgFrom(clientID[:], payload)); err != nil {
		b.log.Error().Err(err).Msg("rpc: publishing event failed")
	}
}

func (b *Broker) TaskSucceeded(clientID uuid.UUID, taskID int64, result moo.Value) {
	b.publish(clientID, TaskSuccessEvent{TaskID: taskID, Result: result})
}

func (b *Broker) TaskFailed(clientID uuid.UUID, taskID int64, exc vm.Exception) {
	b.publish(clientID, TaskErrorEvent{TaskID: taskID, Exception: exc})
}

func (b *Broker) TaskAborted(clientID uuid.UUID, taskID int64, reason string) {
	b.publish(clientID, SystemMessageEvent{Text: "task aborted: " + reason})
}

// Notify narrates to every client id currently attached to player (spec §8
// RPC properties: delivered once per client id, in emission order) and
// appends it to that player's event log, which is held in memory and does
// not survive a daemon restart.
func (b *Broker) Notify(player moo.Oid, text string) {
	e := b.events.Append(player, text)
	for _, clientID := range b.reg.ClientsFor(player) {
		b.publish(clientID, NarrativeEvent{ID: e.ID, Player: player, Text: text, At: e.At})
	}
}
