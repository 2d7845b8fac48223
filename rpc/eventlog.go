package rpc

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"tupleworld/moo"
)

// LoggedEvent is one entry of a player's narrative event log: spec §4.5
// "a persistent, per-player append-only log of narrative events keyed by
// a time-ordered UUID."
type LoggedEvent struct {
	ID     uuid.UUID
	Player moo.Oid
	Text   string
	At     time.Time
}

// EventLog is the "equivalent embedded store" of spec §6's persisted
// state layout, kept in memory here: an append-only, time-ordered log per
// player plus the set of currently undismissed presentations. It is
// deliberately separate from tuplebox/worldstate — it is write-once,
// read-by-range, with none of the object graph's inheritance or
// transactional-commit needs.
type EventLog struct {
	mu            sync.Mutex
	byPlayer      map[moo.Oid][]LoggedEvent
	presentations map[moo.Oid]map[string]string // player -> presentation id -> content
}

func NewEventLog() *EventLog {
	return &EventLog{
		byPlayer:      make(map[moo.Oid][]LoggedEvent),
		presentations: make(map[moo.Oid]map[string]string),
	}
}

// Append records a narrative event for player, assigning it a time-ordered
// id (UUIDv7, so lexical and creation order agree).
func (l *EventLog) Append(player moo.Oid, text string) LoggedEvent {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	e := LoggedEvent{ID: id, Player: player, Text: text, At: time.Now()}
	l.mu.Lock()
	l.byPlayer[player] = append(l.byPlayer[player], e)
	l.mu.Unlock()
	return e
}

// Since returns events for player strictly after eventID, oldest first,
// up to limit (0 means unbounded).
func (l *EventLog) Since(player moo.Oid, eventID uuid.UUID, limit int) []LoggedEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	events := l.byPlayer[player]
	idx := sort.Search(len(events), func(i int) bool {
		return events[i].ID.String() > eventID.String()
	})
	out := append([]LoggedEvent(nil), events[idx:]...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Until returns events for player strictly before eventID, most-recent
// first, up to limit.
func (l *EventLog) Until(player moo.Oid, eventID uuid.UUID, limit int) []LoggedEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	events := l.byPlayer[player]
	idx := sort.Search(len(events), func(i int) bool {
		return events[i].ID.String() >= eventID.String()
	})
	out := reverse(events[:idx])
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// SinceSeconds returns events for player from the last d, most-recent
// first, up to limit.
func (l *EventLog) SinceSeconds(player moo.Oid, d time.Duration, limit int) []LoggedEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := time.Now().Add(-d)
	events := l.byPlayer[player]
	var matched []LoggedEvent
	for _, e := range events {
		if e.At.After(cutoff) {
			matched = append(matched, e)
		}
	}
	out := reverse(matched)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func reverse(in []LoggedEvent) []LoggedEvent {
	out := make([]LoggedEvent, len(in))
	for i, e := range in {
		out[len(in)-1-i] = e
	}
	return out
}

// Present records a modal presentation as currently shown to player.
func (l *EventLog) Present(player moo.Oid, id, content string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.presentations[player]
	if !ok {
		m = make(map[string]string)
		l.presentations[player] = m
	}
	m[id] = content
}

// Dismiss removes a presentation, for the dismiss-presentation request.
func (l *EventLog) Dismiss(player moo.Oid, id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.presentations[player], id)
}

// CurrentPresentations answers request-current-presentations.
func (l *EventLog) CurrentPresentations(player moo.Oid) map[string]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]string, len(l.presentations[player]))
	for k, v := range l.presentations[player] {
		out[k] = v
	}
	return out
}
