package authmanagers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/marmos91/gobolt/pkg/bolt"
)

// TokenSupplier fetches a fresh bearer token (e.g. from an identity
// provider). It is called by BearerAuthManager whenever the cached token is
// absent, expired, or rejected by the server.
type TokenSupplier func(ctx context.Context) (string, error)

// BearerAuthManager caches a JWT bearer token and refreshes it ahead of its
// own expiry claim, or on demand when the server reports the token invalid.
// It implements bolt.BearerAuthManager (§6).
type BearerAuthManager struct {
	supply TokenSupplier
	// clockSkew is subtracted from the token's exp claim when deciding
	// whether a cached token is still usable.
	clockSkew time.Duration

	mu      sync.Mutex
	cached  string
	expires time.Time
}

// NewBearerAuthManager builds a manager that calls supply to obtain tokens,
// treating them as expired clockSkew before their exp claim.
func NewBearerAuthManager(supply TokenSupplier, clockSkew time.Duration) *BearerAuthManager {
	return &BearerAuthManager{supply: supply, clockSkew: clockSkew}
}

func (m *BearerAuthManager) GetAuth(ctx context.Context) (bolt.AuthToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cached == "" || time.Now().After(m.expires) {
		tok, err := m.supply(ctx)
		if err != nil {
			return bolt.AuthToken{}, fmt.Errorf("fetch bearer token: %w", err)
		}
		m.cached = tok
		m.expires = expiryOf(tok, m.clockSkew)
	}
	return bolt.AuthToken{Scheme: bolt.AuthSchemeBearer, Credentials: m.cached}, nil
}

// OnAuthExpired drops the cached token so the next GetAuth fetches a fresh one.
func (m *BearerAuthManager) OnAuthExpired(token bolt.AuthToken) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if token.Credentials == m.cached {
		m.cached = ""
	}
}

// HandleSecurityException handles AuthorizationExpired and TokenExpired:
// it drops the cached token (so the next GetAuth fetches a fresh one) and
// returns true. Any other error, security-related or not, returns false.
func (m *BearerAuthManager) HandleSecurityException(ctx context.Context, token bolt.AuthToken, err error) bool {
	var neoErr *bolt.Neo4jError
	if !isNeo4jErrorWithCode(err, &neoErr) {
		return false
	}
	if !neoErr.IsRetriableAuth() {
		return false
	}
	m.OnAuthExpired(token)
	return true
}

func isNeo4jErrorWithCode(err error, target **bolt.Neo4jError) bool {
	ne, ok := err.(*bolt.Neo4jError)
	if !ok {
		return false
	}
	*target = ne
	return true
}

// expiryOf parses the exp claim out of a JWT without verifying its
// signature — signature verification is the server's job; we only need the
// claim to pace our own refreshes.
func expiryOf(token string, clockSkew time.Duration) time.Time {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Now()
	}
	expFloat, ok := claims["exp"].(float64)
	if !ok {
		return time.Now().Add(time.Hour)
	}
	return time.Unix(int64(expFloat), 0).Add(-clockSkew)
}
