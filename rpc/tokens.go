package rpc

import (
	"fmt"
	"sync"
	"time"

	"github.com/aidantwoods/go-paseto"
	"github.com/google/uuid"

	"tupleworld/moo"
)

// Token footers distinguish the three kinds of spec §6 "Token format":
// session tokens (client id), auth tokens (player OID), host tokens (host
// type identifier).
const (
	footerSession = "MOOR_SESSION"
	footerAuth    = "MOOR_AUTH"
	footerHost    = "MOOR_HOST"
)

// cacheTTL amortizes the PASETO signature check: spec §4.5 requires both
// ClientToken and AuthToken verification results cached for 60 seconds.
const cacheTTL = 60 * time.Second

// TokenAuthority signs and verifies the daemon's session/auth/host tokens
// with one asymmetric keypair, per spec §6.
type TokenAuthority struct {
	secretKey paseto.V4AsymmetricSecretKey
	publicKey paseto.V4AsymmetricPublicKey

	mu    sync.Mutex
	cache map[string]cachedVerdict
}

type cachedVerdict struct {
	claims  any
	expires time.Time
}

// NewTokenAuthority loads the daemon's signing keypair from hex-encoded
// public/private key material (spec §6 CLI surface: --public-key-path,
// --private-key-path).
func NewTokenAuthority(secretHex, publicHex string) (*TokenAuthority, error) {
	sk, err := paseto.NewV4AsymmetricSecretKeyFromHex(secretHex)
	if err != nil {
		return nil, fmt.Errorf("rpc: loading secret key: %w", err)
	}
	pk, err := paseto.NewV4AsymmetricPublicKeyFromHex(publicHex)
	if err != nil {
		return nil, fmt.Errorf("rpc: loading public key: %w", err)
	}
	return &TokenAuthority{secretKey: sk, publicKey: pk, cache: make(map[string]cachedVerdict)}, nil
}

// SessionClaims is a verified session token's payload.
type SessionClaims struct{ ClientID uuid.UUID }

// AuthClaims is a verified auth token's payload.
type AuthClaims struct{ Player moo.Oid }

// HostClaims is a verified host token's payload.
type HostClaims struct{ HostType string }

func (a *TokenAuthority) IssueSession(clientID uuid.UUID, issuer, audience string) (string, error) {
	token := paseto.NewToken()
	token.SetIssuedAt(time.Now())
	token.SetExpiration(time.Now().Add(24 * time.Hour))
	token.SetIssuer(issuer)
	token.SetAudience(audience)
	token.SetString("client_id", clientID.String())
	token.SetFooter([]byte(footerSession))
	return token.V4Sign(a.secretKey, nil), nil
}

func (a *TokenAuthority) IssueAuth(player moo.Oid) (string, error) {
	token := paseto.NewToken()
	token.SetIssuedAt(time.Now())
	token.SetExpiration(time.Now().Add(24 * time.Hour))
	token.SetInt("player", int64(player))
	token.SetFooter([]byte(footerAuth))
	return token.V4Sign(a.secretKey, nil), nil
}

func (a *TokenAuthority) IssueHost(hostType string) (string, error) {
	token := paseto.NewToken()
	token.SetIssuedAt(time.Now())
	token.SetExpiration(time.Now().Add(24 * time.Hour))
	token.SetString("host_type", hostType)
	token.SetFooter([]byte(footerHost))
	return token.V4Sign(a.secretKey, nil), nil
}

// VerifySession verifies a session token, serving a cached verdict if the
// same token string was checked within the last 60 seconds.
func (a *TokenAuthority) VerifySession(raw string) (SessionClaims, error) {
	v, err := a.verifyCached(raw, footerSession, func(t *paseto.Token) (any, error) {
		s, err := t.GetString("client_id")
		if err != nil {
			return nil, err
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		return SessionClaims{ClientID: id}, nil
	})
	if err != nil {
		return SessionClaims{}, err
	}
	return v.(SessionClaims), nil
}

func (a *TokenAuthority) VerifyAuth(raw string) (AuthClaims, error) {
	v, err := a.verifyCached(raw, footerAuth, func(t *paseto.Token) (any, error) {
		n, err := t.GetInt("player")
		if err != nil {
			return nil, err
		}
		return AuthClaims{Player: moo.Oid(n)}, nil
	})
	if err != nil {
		return AuthClaims{}, err
	}
	return v.(AuthClaims), nil
}

func (a *TokenAuthority) VerifyHost(raw string) (HostClaims, error) {
	v, err := a.verifyCached(raw, footerHost, func(t *paseto.Token) (any, error) {
		s, err := t.GetString("host_type")
		if err != nil {
			return nil, err
		}
		return HostClaims{HostType: s}, nil
	})
	if err != nil {
		return HostClaims{}, err
	}
	return v.(HostClaims), nil
}

func (a *TokenAuthority) verifyCached(raw, wantFooter string, extract func(*paseto.Token) (any, error)) (any, error) {
	a.mu.Lock()
	if cv, ok := a.cache[raw]; ok && time.Now().Before(cv.expires) {
		a.mu.Unlock()
		return cv.claims, nil
	}
	a.mu.Unlock()

	parser := paseto.NewParser()
	parsed, err := parser.ParseV4Public(a.publicKey, raw, nil)
	if err != nil {
		return nil, fmt.Errorf("rpc: token verification failed: %w", err)
	}
	if string(parsed.Footer()) != wantFooter {
		return nil, fmt.Errorf("rpc: wrong token kind: want %s", wantFooter)
	}
	claims, err := extract(parsed)
	if err != nil {
		return nil, fmt.Errorf("rpc: malformed token payload: %w", err)
	}

	a.mu.Lock()
	a.cache[raw] = cachedVerdict{claims: claims, expires: time.Now().Add(cacheTTL)}
	a.mu.Unlock()
	return claims, nil
}
