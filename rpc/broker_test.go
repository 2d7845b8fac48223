package rpc

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// TestDispatchRejectsClientIDMismatch covers the token-replay scenario: a
// client presents a session token minted for one client id while the
// request frame itself claims a different client id. This must be
// rejected with PermissionDenied before any scheduler/world work happens.
func TestDispatchRejectsClientIDMismatch(t *testing.T) {
	tokens := newTestAuthority(t)
	b := &Broker{tokens: tokens}

	clientA := uuid.New()
	clientB := uuid.New()
	tok, err := tokens.IssueSession(clientA, "tupleworld", "tupleworld-clients")
	require.NoError(t, err)

	result := b.dispatch(HostClientToDaemon, clientB, tok, Detach{})
	require.NotNil(t, result.Err)
	require.Equal(t, "PermissionDenied", result.Err.Code)
}

func TestDispatchAcceptsMatchingClientID(t *testing.T) {
	tokens := newTestAuthority(t)
	b := &Broker{tokens: tokens, reg: NewRegistry()}

	clientA := uuid.New()
	tok, err := tokens.IssueSession(clientA, "tupleworld", "tupleworld-clients")
	require.NoError(t, err)

	result := b.dispatch(HostClientToDaemon, clientA, tok, Detach{})
	require.Nil(t, result.Err)
}
