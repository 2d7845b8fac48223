package rpc

import (
	"time"

	"github.com/google/uuid"

	"tupleworld/moo"
)

// Connection is one live client's session state, per spec §4.5's
// connection registry: client id ↔ connection-object OID ↔ player OID ↔
// activity timestamps ↔ content types ↔ hostname.
type Connection struct {
	ClientID       uuid.UUID
	ObjID          moo.Oid // synthetic negative OID, one per connection
	Player         moo.Oid // moo.Nothing until login-command succeeds
	ConnectedSince time.Time
	LastActivity   time.Time
	ContentTypes   []string
	Hostname       string
}

// Registry is the connection registry. All mutation happens on one
// goroutine (run), reached only via the query channel, so RPC worker
// threads and VM builtins never block on each other's locks — spec §5:
// "the connection registry ... mutations happen on the session-query
// thread via message passing."
type Registry struct {
	byClient  map[uuid.UUID]*Connection
	nextObjID moo.Oid

	queries chan func(*Registry)
	stop    chan struct{}
}

func NewRegistry() *Registry {
	r := &Registry{
		byClient:  make(map[uuid.UUID]*Connection),
		nextObjID: moo.FailedMatch - 1, // below the reserved Nothing/Ambiguous/FailedMatch sentinels
		queries:   make(chan func(*Registry), 256),
		stop:      make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Registry) Stop() { close(r.stop) }

func (r *Registry) run() {
	for {
		select {
		case <-r.stop:
			return
		case q := <-r.queries:
			q(r)
		}
	}
}

// call runs fn on the registry goroutine and blocks for its result.
func call[T any](r *Registry, fn func(*Registry) T) T {
	done := make(chan T, 1)
	r.queries <- func(reg *Registry) { done <- fn(reg) }
	return <-done
}

// Establish registers a new, not-yet-logged-in connection and assigns it a
// synthetic negative connection-object OID.
func (r *Registry) Establish(clientID uuid.UUID, hostname string, contentTypes []string) Connection {
	return call(r, func(reg *Registry) Connection {
		id := reg.nextObjID
		reg.nextObjID--
		now := time.Now()
		c := &Connection{
			ClientID: clientID, ObjID: id, Player: moo.Nothing,
			ConnectedSince: now, LastActivity: now,
			ContentTypes: contentTypes, Hostname: hostname,
		}
		reg.byClient[clientID] = c
		return *c
	})
}

// Attach binds a client id to a player OID once login succeeds.
func (r *Registry) Attach(clientID uuid.UUID, player moo.Oid) bool {
	return call(r, func(reg *Registry) bool {
		c, ok := reg.byClient[clientID]
		if !ok {
			return false
		}
		c.Player = player
		c.LastActivity = time.Now()
		return true
	})
}

func (r *Registry) Touch(clientID uuid.UUID) {
	call(r, func(reg *Registry) struct{} {
		if c, ok := reg.byClient[clientID]; ok {
			c.LastActivity = time.Now()
		}
		return struct{}{}
	})
}

func (r *Registry) Disconnect(clientID uuid.UUID) {
	call(r, func(reg *Registry) struct{} {
		delete(reg.byClient, clientID)
		return struct{}{}
	})
}

func (r *Registry) Get(clientID uuid.UUID) (Connection, bool) {
	return call(r, func(reg *Registry) connLookup {
		c, ok := reg.byClient[clientID]
		if !ok {
			return connLookup{}
		}
		return connLookup{conn: *c, ok: true}
	}).unwrap()
}

type connLookup struct {
	conn Connection
	ok   bool
}

func (l connLookup) unwrap() (Connection, bool) { return l.conn, l.ok }

// ConnectedPlayers lists the distinct logged-in players with a live
// connection, for the connected_players() built-in.
func (r *Registry) ConnectedPlayers() []moo.Oid {
	return call(r, func(reg *Registry) []moo.Oid {
		seen := make(map[moo.Oid]bool)
		var out []moo.Oid
		for _, c := range reg.byClient {
			if c.Player != moo.Nothing && !seen[c.Player] {
				seen[c.Player] = true
				out = append(out, c.Player)
			}
		}
		return out
	})
}

// IdleSeconds returns how long a player's most recently active connection
// has been idle, for the idle_seconds() built-in.
func (r *Registry) IdleSeconds(player moo.Oid) (float64, bool) {
	return call(r, func(reg *Registry) idleResult {
		var latest time.Time
		found := false
		for _, c := range reg.byClient {
			if c.Player == player && c.LastActivity.After(latest) {
				latest = c.LastActivity
				found = true
			}
		}
		if !found {
			return idleResult{}
		}
		return idleResult{secs: time.Since(latest).Seconds(), ok: true}
	}).unwrap()
}

type idleResult struct {
	secs float64
	ok   bool
}

func (i idleResult) unwrap() (float64, bool) { return i.secs, i.ok }

// ClientsFor returns every client id currently attached to player, for
// fan-out delivery of narrative events (spec §8 RPC properties).
func (r *Registry) ClientsFor(player moo.Oid) []uuid.UUID {
	return call(r, func(reg *Registry) []uuid.UUID {
		var out []uuid.UUID
		for id, c := range reg.byClient {
			if c.Player == player {
				out = append(out, id)
			}
		}
		return out
	})
}
