package bolt

import "context"

// AuthScheme identifies the shape of an AuthToken's credentials (§3).
type AuthScheme string

const (
	AuthSchemeBasic    AuthScheme = "basic"
	AuthSchemeBearer   AuthScheme = "bearer"
	AuthSchemeKerberos AuthScheme = "kerberos"
	AuthSchemeNone     AuthScheme = "none"
)

// AuthToken is a tagged, opaque (to the codec) credential record consumed by
// HELLO/LOGON. Scheme may also be a custom string outside the enumerated set.
type AuthToken struct {
	Scheme      AuthScheme
	SchemeOther string // set when Scheme isn't one of the enumerated constants
	Principal   string
	Credentials string
	Realm       string
	Parameters  map[string]any
}

// schemeString returns the effective scheme name to place on the wire.
func (t AuthToken) schemeString() string {
	if t.SchemeOther != "" {
		return t.SchemeOther
	}
	return string(t.Scheme)
}

// ToWireMap converts the token into the map HELLO/LOGON expects.
func (t AuthToken) ToWireMap() map[string]any {
	m := map[string]any{"scheme": t.schemeString()}
	if t.Principal != "" {
		m["principal"] = t.Principal
	}
	if t.Credentials != "" {
		m["credentials"] = t.Credentials
	}
	if t.Realm != "" {
		m["realm"] = t.Realm
	}
	for k, v := range t.Parameters {
		m[k] = v
	}
	return m
}

// BasicAuthToken builds an AuthToken for the common username/password case.
func BasicAuthToken(username, password, realm string) AuthToken {
	return AuthToken{Scheme: AuthSchemeBasic, Principal: username, Credentials: password, Realm: realm}
}

// NoAuthToken builds the token for an unauthenticated connection.
func NoAuthToken() AuthToken { return AuthToken{Scheme: AuthSchemeNone} }

// AuthManager supplies credentials on demand and learns when they are
// rejected. It must return the same identity across calls for a given
// manager instance (§6). Implementations are responsible for their own
// internal synchronization: GetAuth may be called concurrently by multiple
// acquiring tasks (§5).
type AuthManager interface {
	// GetAuth returns the current token, refreshing it if the manager
	// considers it stale. May suspend (perform network I/O).
	GetAuth(ctx context.Context) (AuthToken, error)

	// OnAuthExpired notifies the manager that the given token was rejected
	// by the server; the manager decides whether to invalidate its cache.
	OnAuthExpired(token AuthToken)
}

// BearerAuthManager additionally gets a say in whether a server-reported
// security exception should trigger a token refresh and retry (§6).
type BearerAuthManager interface {
	AuthManager
	// HandleSecurityException returns true if it handled the error (the
	// token will be refreshed before the next attempt), false to propagate
	// the error unchanged.
	HandleSecurityException(ctx context.Context, token AuthToken, err error) bool
}

// StaticAuthManager always returns the same token; OnAuthExpired is a no-op.
// This is the manager for the common static-credentials case.
type StaticAuthManager struct {
	Token AuthToken
}

func (m *StaticAuthManager) GetAuth(ctx context.Context) (AuthToken, error) { return m.Token, nil }
func (m *StaticAuthManager) OnAuthExpired(AuthToken)                        {}
