package rpc

import (
	"testing"
	"time"

	"github.com/aidantwoods/go-paseto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"tupleworld/moo"
)

func newTestAuthority(t *testing.T) *TokenAuthority {
	t.Helper()
	sk := paseto.NewV4AsymmetricSecretKey()
	pk := sk.Public()
	return &TokenAuthority{secretKey: sk, publicKey: pk, cache: make(map[string]cachedVerdict)}
}

func TestSessionTokenRoundTrip(t *testing.T) {
	auth := newTestAuthority(t)
	clientID := uuid.New()

	tok, err := auth.IssueSession(clientID, "tupleworld", "tupleworld-clients")
	require.NoError(t, err)

	claims, err := auth.VerifySession(tok)
	require.NoError(t, err)
	require.Equal(t, clientID, claims.ClientID)
}

func TestAuthTokenRoundTrip(t *testing.T) {
	auth := newTestAuthority(t)

	tok, err := auth.IssueAuth(moo.Oid(42))
	require.NoError(t, err)

	claims, err := auth.VerifyAuth(tok)
	require.NoError(t, err)
	require.Equal(t, moo.Oid(42), claims.Player)
}

func TestWrongFooterKindRejected(t *testing.T) {
	auth := newTestAuthority(t)

	tok, err := auth.IssueSession(uuid.New(), "tupleworld", "tupleworld-clients")
	require.NoError(t, err)

	_, err = auth.VerifyAuth(tok)
	require.Error(t, err)
}

func TestVerificationIsCached(t *testing.T) {
	auth := newTestAuthority(t)
	clientID := uuid.New()
	tok, err := auth.IssueSession(clientID, "tupleworld", "tupleworld-clients")
	require.NoError(t, err)

	_, err = auth.VerifySession(tok)
	require.NoError(t, err)

	auth.mu.Lock()
	cv := auth.cache[tok]
	cv.claims = SessionClaims{ClientID: uuid.Nil}
	auth.cache[tok] = cv
	auth.mu.Unlock()

	claims, err := auth.VerifySession(tok)
	require.NoError(t, err)
	require.Equal(t, uuid.Nil, claims.ClientID, "cached verdict should be served, not re-verified")

	auth.mu.Lock()
	auth.cache[tok] = cachedVerdict{claims: SessionClaims{ClientID: clientID}, expires: time.Now().Add(-time.Second)}
	auth.mu.Unlock()

	claims, err = auth.VerifySession(tok)
	require.NoError(t, err)
	require.Equal(t, clientID, claims.ClientID, "expired cache entry should be re-verified from the token")
}
