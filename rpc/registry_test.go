package rpc

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"tupleworld/moo"
)

func TestRegistryEstablishAssignsDistinctConnectionObjects(t *testing.T) {
	reg := NewRegistry()
	defer reg.Stop()

	c1 := reg.Establish(uuid.New(), "client-a", []string{"text/plain"})
	c2 := reg.Establish(uuid.New(), "client-b", []string{"text/plain"})

	require.Equal(t, moo.Nothing, c1.Player)
	require.NotEqual(t, c1.ObjID, c2.ObjID)
}

func TestRegistryAttachBindsPlayer(t *testing.T) {
	reg := NewRegistry()
	defer reg.Stop()

	clientID := uuid.New()
	reg.Establish(clientID, "client-a", nil)

	require.True(t, reg.Attach(clientID, moo.Oid(7)))

	conn, ok := reg.Get(clientID)
	require.True(t, ok)
	require.Equal(t, moo.Oid(7), conn.Player)
}

func TestRegistryAttachUnknownClientFails(t *testing.T) {
	reg := NewRegistry()
	defer reg.Stop()

	require.False(t, reg.Attach(uuid.New(), moo.Oid(7)))
}

func TestRegistryDisconnectRemovesConnection(t *testing.T) {
	reg := NewRegistry()
	defer reg.Stop()

	clientID := uuid.New()
	reg.Establish(clientID, "client-a", nil)
	reg.Disconnect(clientID)

	_, ok := reg.Get(clientID)
	require.False(t, ok)
}

func TestRegistryConnectedPlayersDedupesMultipleClientsPerPlayer(t *testing.T) {
	reg := NewRegistry()
	defer reg.Stop()

	a, b := uuid.New(), uuid.New()
	reg.Establish(a, "host-a", nil)
	reg.Establish(b, "host-b", nil)
	reg.Attach(a, moo.Oid(3))
	reg.Attach(b, moo.Oid(3))

	players := reg.ConnectedPlayers()
	require.Equal(t, []moo.Oid{moo.Oid(3)}, players)

	clients := reg.ClientsFor(moo.Oid(3))
	require.ElementsMatch(t, []uuid.UUID{a, b}, clients)
}

func TestRegistryIdleSecondsForUnknownPlayer(t *testing.T) {
	reg := NewRegistry()
	defer reg.Stop()

	_, ok := reg.IdleSeconds(moo.Oid(99))
	require.False(t, ok)
}
