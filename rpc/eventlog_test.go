package rpc

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"tupleworld/moo"
)

func TestEventLogSinceReturnsOldestFirstAfterCursor(t *testing.T) {
	log := NewEventLog()
	player := moo.Oid(1)

	e1 := log.Append(player, "first")
	e2 := log.Append(player, "second")
	e3 := log.Append(player, "third")

	got := log.Since(player, e1.ID, 0)
	require.Len(t, got, 2)
	require.Equal(t, e2.ID, got[0].ID)
	require.Equal(t, e3.ID, got[1].ID)
}

func TestEventLogUntilReturnsMostRecentFirstBeforeCursor(t *testing.T) {
	log := NewEventLog()
	player := moo.Oid(1)

	log.Append(player, "first")
	e2 := log.Append(player, "second")
	e3 := log.Append(player, "third")

	got := log.Until(player, e3.ID, 0)
	require.Len(t, got, 2)
	require.Equal(t, e2.ID, got[0].ID)
}

func TestEventLogSinceRespectsLimit(t *testing.T) {
	log := NewEventLog()
	player := moo.Oid(1)
	first := log.Append(player, "a")
	log.Append(player, "b")
	log.Append(player, "c")

	got := log.Since(player, first.ID, 1)
	require.Len(t, got, 1)
}

func TestEventLogSinceSecondsExcludesOlderEvents(t *testing.T) {
	log := NewEventLog()
	player := moo.Oid(1)
	log.byPlayer[player] = []LoggedEvent{
		{ID: uuid.New(), Player: player, Text: "stale", At: time.Now().Add(-time.Hour)},
	}
	recent := log.Append(player, "fresh")

	got := log.SinceSeconds(player, time.Minute, 0)
	require.Len(t, got, 1)
	require.Equal(t, recent.ID, got[0].ID)
}

func TestEventLogPresentDismissCurrentPresentations(t *testing.T) {
	log := NewEventLog()
	player := moo.Oid(1)

	log.Present(player, "p1", "<div>hi</div>")
	log.Present(player, "p2", "<div>bye</div>")

	current := log.CurrentPresentations(player)
	require.Len(t, current, 2)

	log.Dismiss(player, "p1")
	current = log.CurrentPresentations(player)
	require.Len(t, current, 1)
	require.Contains(t, current, "p2")
}
