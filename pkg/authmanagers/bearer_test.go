package authmanagers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/marmos91/gobolt/pkg/bolt"
)

func signToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{"exp": exp.Unix()}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestBearerAuthManagerFetchesAndCaches(t *testing.T) {
	calls := 0
	supplier := func(ctx context.Context) (string, error) {
		calls++
		return signToken(t, time.Now().Add(time.Hour)), nil
	}
	m := NewBearerAuthManager(supplier, 0)

	tok1, err := m.GetAuth(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tok2, err := m.GetAuth(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected the supplier to be called once, got %d", calls)
	}
	if tok1.Credentials != tok2.Credentials {
		t.Error("expected the cached token to be reused")
	}
	if tok1.Scheme != bolt.AuthSchemeBearer {
		t.Errorf("expected bearer scheme, got %v", tok1.Scheme)
	}
}

func TestBearerAuthManagerRefetchesAfterExpiry(t *testing.T) {
	calls := 0
	supplier := func(ctx context.Context) (string, error) {
		calls++
		return signToken(t, time.Now().Add(10*time.Millisecond)), nil
	}
	m := NewBearerAuthManager(supplier, 0)

	if _, err := m.GetAuth(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := m.GetAuth(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected a refetch after expiry, calls=%d", calls)
	}
}

func TestOnAuthExpiredClearsMatchingToken(t *testing.T) {
	tok := signToken(t, time.Now().Add(time.Hour))
	calls := 0
	m := NewBearerAuthManager(func(ctx context.Context) (string, error) {
		calls++
		return tok, nil
	}, 0)

	first, _ := m.GetAuth(context.Background())
	m.OnAuthExpired(first)
	if _, err := m.GetAuth(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected OnAuthExpired to force a refetch, calls=%d", calls)
	}
}

func TestHandleSecurityExceptionRefreshesOnRetriableAuthError(t *testing.T) {
	tok := signToken(t, time.Now().Add(time.Hour))
	m := NewBearerAuthManager(func(ctx context.Context) (string, error) { return tok, nil }, 0)
	first, _ := m.GetAuth(context.Background())

	handled := m.HandleSecurityException(context.Background(), first, &bolt.Neo4jError{
		Code: "Neo.ClientError.Security.TokenExpired",
	})
	if !handled {
		t.Error("expected TokenExpired to be handled")
	}

	handled = m.HandleSecurityException(context.Background(), first, errors.New("not a neo4j error"))
	if handled {
		t.Error("expected a non-Neo4jError to be unhandled")
	}

	handled = m.HandleSecurityException(context.Background(), first, &bolt.Neo4jError{
		Code: "Neo.ClientError.Statement.SyntaxError",
	})
	if handled {
		t.Error("expected a non-auth error code to be unhandled")
	}
}
