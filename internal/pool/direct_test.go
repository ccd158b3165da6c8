package pool

import (
	"context"
	"testing"
	"time"

	"github.com/marmos91/gobolt/internal/bolttest"
	"github.com/marmos91/gobolt/pkg/bolt"
)

func newTestPool(t *testing.T, srv *bolttest.Server, cfg Config) *DirectPool {
	t.Helper()
	if cfg.OfferedVersions == nil {
		cfg.OfferedVersions = []bolt.Version{{Major: 4, Minor: 4}}
	}
	if cfg.Auth == nil {
		cfg.Auth = &bolt.StaticAuthManager{Token: bolt.NoAuthToken()}
	}
	dp := NewDirectPool(srv.Address(), cfg)
	t.Cleanup(dp.Close)
	return dp
}

// TestAcquireReleaseRoundTrip covers the basic lazy-dial + reuse path: the
// first Acquire dials, Release returns it to the idle set, and a second
// Acquire reuses the same connection rather than dialing again.
func TestAcquireReleaseRoundTrip(t *testing.T) {
	srv, err := bolttest.Listen(bolt.Version{Major: 4, Minor: 4}, nil)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer srv.Close()

	dp := newTestPool(t, srv, Config{MaxSize: 2})
	ctx := context.Background()

	conn, err := dp.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	id := conn.ID()
	dp.Release(ctx, conn)

	if got := srv.Accepted(); got != 1 {
		t.Fatalf("expected exactly one accepted connection, got %d", got)
	}

	conn2, err := dp.Acquire(ctx)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	defer dp.Release(ctx, conn2)

	if conn2.ID() != id {
		t.Errorf("expected the idle connection to be reused, got a different connection")
	}
	if got := srv.Accepted(); got != 1 {
		t.Errorf("expected no new dial on reuse, accepted count = %d", got)
	}
}

// TestAcquireSizeGateTimesOut implements spec.md §8's "Pool size gate"
// testable property: with MaxSize=3 and three held connections, a fourth
// Acquire with an already-expired deadline fails with
// ConnectionAcquisitionTimeout, and releasing one of the three then lets a
// subsequent Acquire succeed.
func TestAcquireSizeGateTimesOut(t *testing.T) {
	srv, err := bolttest.Listen(bolt.Version{Major: 4, Minor: 4}, nil)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer srv.Close()

	dp := newTestPool(t, srv, Config{MaxSize: 3})
	ctx := context.Background()

	var held []*bolt.Connection
	for i := 0; i < 3; i++ {
		c, err := dp.Acquire(ctx)
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		held = append(held, c)
	}

	expired, cancel := context.WithTimeout(ctx, 0)
	defer cancel()
	_, err = dp.Acquire(expired)
	if err == nil {
		t.Fatal("expected the fourth acquire to fail while the pool is saturated")
	}
	if _, ok := err.(*bolt.ConnectionAcquisitionTimeout); !ok {
		t.Errorf("expected *bolt.ConnectionAcquisitionTimeout, got %T (%v)", err, err)
	}

	dp.Release(ctx, held[0])

	fourth, err := dp.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	dp.Release(ctx, fourth)
	dp.Release(ctx, held[1])
	dp.Release(ctx, held[2])
}

// TestAcquireWaiterWakesOnRelease confirms a blocked Acquire is woken by a
// concurrent Release rather than having to wait out its full deadline.
func TestAcquireWaiterWakesOnRelease(t *testing.T) {
	srv, err := bolttest.Listen(bolt.Version{Major: 4, Minor: 4}, nil)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer srv.Close()

	dp := newTestPool(t, srv, Config{MaxSize: 1})
	ctx := context.Background()

	conn, err := dp.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		longCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_, err := dp.Acquire(longCtx)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	dp.Release(ctx, conn)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected the waiting acquire to succeed once released, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiting acquire was not woken by release")
	}
}

// TestLivenessCheckResetsIdleConnection implements spec.md §8's "Liveness"
// testable property: an idle connection past MaxIdleTime gets a RESET on
// the next Acquire before being handed out.
func TestLivenessCheckResetsIdleConnection(t *testing.T) {
	var resetSeen bool
	behave := func(sig byte) ([]byte, bool) {
		if sig == 0x0F {
			resetSeen = true
		}
		return bolttest.DefaultBehavior(sig)
	}
	srv, err := bolttest.Listen(bolt.Version{Major: 4, Minor: 4}, behave)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer srv.Close()

	dp := newTestPool(t, srv, Config{MaxSize: 1, MaxIdleTime: 10 * time.Millisecond})
	ctx := context.Background()

	conn, err := dp.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	dp.Release(ctx, conn)

	time.Sleep(30 * time.Millisecond)

	conn2, err := dp.Acquire(ctx)
	if err != nil {
		t.Fatalf("second acquire after idle period: %v", err)
	}
	dp.Release(ctx, conn2)

	if !resetSeen {
		t.Error("expected a RESET to be issued for the idle connection before reuse")
	}
	if got := srv.Accepted(); got != 1 {
		t.Errorf("expected the idle connection to be reused (one dial), accepted = %d", got)
	}
}

// TestLivenessCheckDiscardsOnFailedReset covers the other half of the same
// property: a RESET that fails (here, the server just hangs up) means the
// connection is discarded and a fresh one is opened instead.
func TestLivenessCheckDiscardsOnFailedReset(t *testing.T) {
	behave := func(sig byte) ([]byte, bool) {
		if sig == 0x0F {
			return nil, false // simulate a dead peer: close instead of replying.
		}
		return bolttest.DefaultBehavior(sig)
	}
	srv, err := bolttest.Listen(bolt.Version{Major: 4, Minor: 4}, behave)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer srv.Close()

	dp := newTestPool(t, srv, Config{MaxSize: 2, MaxIdleTime: 10 * time.Millisecond})
	ctx := context.Background()

	conn, err := dp.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	dp.Release(ctx, conn)

	time.Sleep(30 * time.Millisecond)

	conn2, err := dp.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire after failed liveness reset: %v", err)
	}
	dp.Release(ctx, conn2)

	if got := srv.Accepted(); got != 2 {
		t.Errorf("expected the dead idle connection discarded and a fresh one dialed, accepted = %d", got)
	}
}

// TestReleaseResetsNonReadyConnection covers spec.md §4.6's release
// discipline: a connection released while not in READY (here, mid
// transaction after BEGIN) is RESET before being marked idle, so the next
// Acquire gets a clean, reusable connection instead of one carrying
// abandoned transaction state.
func TestReleaseResetsNonReadyConnection(t *testing.T) {
	var resetSeen bool
	behave := func(sig byte) ([]byte, bool) {
		if sig == 0x0F {
			resetSeen = true
		}
		if sig == 0x11 { // BEGIN
			return []byte{0xB1, 0x70, 0xA0}, true
		}
		return bolttest.DefaultBehavior(sig)
	}
	srv, err := bolttest.Listen(bolt.Version{Major: 4, Minor: 4}, behave)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer srv.Close()

	dp := newTestPool(t, srv, Config{MaxSize: 1})
	ctx := context.Background()

	conn, err := dp.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := conn.Begin(ctx, bolt.BeginRequest{}); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if conn.State() == bolt.StateReady {
		t.Fatal("sanity check: expected BEGIN to leave the connection in TX_READY, not READY")
	}

	dp.Release(ctx, conn)
	if !resetSeen {
		t.Error("expected Release to issue a RESET for a non-READY connection")
	}

	conn2, err := dp.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	dp.Release(ctx, conn2)

	if got := srv.Accepted(); got != 1 {
		t.Errorf("expected the reset connection to be reused (one dial), accepted = %d", got)
	}
}
