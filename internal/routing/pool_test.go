package routing

import (
	"context"
	"net"
	"sync"
	"testing"

	"github.com/marmos91/gobolt/internal/bolttest"
	"github.com/marmos91/gobolt/internal/pool"
	"github.com/marmos91/gobolt/pkg/bolt"
)

// deadAddress returns an address nothing is listening on, so a dial against
// it fails immediately with connection-refused rather than timing out.
func deadAddress(t *testing.T) bolt.Address {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve dead address: %v", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	if err := ln.Close(); err != nil {
		t.Fatalf("close reserved listener: %v", err)
	}
	return bolt.NewAddress(addr.IP.String(), addr.Port)
}

func readersTable(routerAddr bolt.Address, readers ...bolt.Address) map[string]any {
	addrs := make([]any, len(readers))
	for i, a := range readers {
		addrs[i] = a.String()
	}
	return map[string]any{"rt": map[string]any{
		"ttl": int64(300),
		"servers": []any{
			map[string]any{"role": "READ", "addresses": addrs},
			map[string]any{"role": "ROUTE", "addresses": []any{routerAddr.String()}},
		},
	}}
}

func newTestRoutingPool(router bolt.Address) *Pool {
	return NewPool(Config{
		InitialRouters: []bolt.Address{router},
		DirectPoolConfig: pool.Config{
			MaxSize:         2,
			OfferedVersions: []bolt.Version{{Major: 4, Minor: 4}},
			Auth:            &bolt.StaticAuthManager{Token: bolt.NoAuthToken()},
		},
	})
}

// TestAcquireDeactivatesUnreachableReaderAndRetriesSelection implements
// spec.md §8 end-to-end scenario 2's first half: with readers {A, B} and A
// unreachable, Acquire deactivates A (forgets it from the routing table and
// the direct pool) and transparently retries selection, handing back a
// connection to B instead of failing the caller's request.
func TestAcquireDeactivatesUnreachableReaderAndRetriesSelection(t *testing.T) {
	a := deadAddress(t)

	b, err := bolttest.Listen(bolt.Version{Major: 4, Minor: 4}, nil)
	if err != nil {
		t.Fatalf("listen b: %v", err)
	}
	defer b.Close()

	var routeCalls int
	var mu sync.Mutex
	router, err := bolttest.Listen(bolt.Version{Major: 4, Minor: 4}, func(sig byte) ([]byte, bool) {
		if sig == 0x66 {
			mu.Lock()
			routeCalls++
			mu.Unlock()
			return bolttest.EncodeSuccess(readersTable(bolt.Address{}, a, b.Address())), true
		}
		return bolttest.DefaultBehavior(sig)
	})
	if err != nil {
		t.Fatalf("listen router: %v", err)
	}
	defer router.Close()

	rp := newTestRoutingPool(router.Address())
	defer rp.Close()
	ctx := context.Background()

	conn, addr, err := rp.Acquire(ctx, "", bolt.AccessModeRead)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer rp.Release(ctx, addr, conn)

	if addr != b.Address() {
		t.Errorf("expected the reader to fall over to B (%s), got %s", b.Address(), addr)
	}

	rp.mu.Lock()
	_, stillPooled := rp.poolsByAddr[a.Key()]
	table := rp.tables[""]
	rp.mu.Unlock()
	if stillPooled {
		t.Error("expected the unreachable reader's direct pool to be discarded by deactivate")
	}
	for _, r := range table.Readers {
		if r == a {
			t.Error("expected the unreachable reader to be removed from the routing table")
		}
	}
}

// TestAcquireRefreshesRoutingTableWhenAllReadersExhausted implements the
// second half of scenario 2: once every candidate reader has been
// deactivated, Acquire refreshes the routing table once more and retries
// selection against whatever the refresh returns, rather than failing
// immediately.
func TestAcquireRefreshesRoutingTableWhenAllReadersExhausted(t *testing.T) {
	a := deadAddress(t)
	bAddr := deadAddress(t)

	c, err := bolttest.Listen(bolt.Version{Major: 4, Minor: 4}, nil)
	if err != nil {
		t.Fatalf("listen c: %v", err)
	}
	defer c.Close()

	var routeCalls int
	var mu sync.Mutex
	var routerAddr bolt.Address
	router, err := bolttest.Listen(bolt.Version{Major: 4, Minor: 4}, func(sig byte) ([]byte, bool) {
		if sig == 0x66 {
			mu.Lock()
			routeCalls++
			n := routeCalls
			ra := routerAddr
			mu.Unlock()
			if n == 1 {
				return bolttest.EncodeSuccess(readersTable(ra, a, bAddr)), true
			}
			return bolttest.EncodeSuccess(readersTable(ra, c.Address())), true
		}
		return bolttest.DefaultBehavior(sig)
	})
	if err != nil {
		t.Fatalf("listen router: %v", err)
	}
	defer router.Close()
	mu.Lock()
	routerAddr = router.Address()
	mu.Unlock()

	rp := newTestRoutingPool(routerAddr)
	defer rp.Close()
	ctx := context.Background()

	conn, addr, err := rp.Acquire(ctx, "", bolt.AccessModeRead)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer rp.Release(ctx, addr, conn)

	if addr != c.Address() {
		t.Errorf("expected the refreshed table's reader C (%s), got %s", c.Address(), addr)
	}

	mu.Lock()
	n := routeCalls
	mu.Unlock()
	if n != 2 {
		t.Errorf("expected exactly one forced refresh (2 ROUTE calls total), got %d", n)
	}
	if got := router.Accepted(); got != 1 {
		t.Errorf("expected the router connection to be reused across both ROUTE calls, accepted = %d", got)
	}
}

// TestAcquireFailsWhenRefreshStillHasNoReachableReaders covers the final
// failure branch of §4.7 step 3: if the post-refresh table also has no
// servicable candidate, Acquire fails rather than looping forever.
func TestAcquireFailsWhenRefreshStillHasNoReachableReaders(t *testing.T) {
	a := deadAddress(t)
	b := deadAddress(t)

	var mu sync.Mutex
	var routerAddr bolt.Address
	router, err := bolttest.Listen(bolt.Version{Major: 4, Minor: 4}, func(sig byte) ([]byte, bool) {
		if sig == 0x66 {
			mu.Lock()
			ra := routerAddr
			mu.Unlock()
			return bolttest.EncodeSuccess(readersTable(ra, a, b)), true
		}
		return bolttest.DefaultBehavior(sig)
	})
	if err != nil {
		t.Fatalf("listen router: %v", err)
	}
	defer router.Close()
	mu.Lock()
	routerAddr = router.Address()
	mu.Unlock()

	rp := newTestRoutingPool(routerAddr)
	defer rp.Close()
	ctx := context.Background()

	_, _, err = rp.Acquire(ctx, "", bolt.AccessModeRead)
	if err == nil {
		t.Fatal("expected acquire to fail when no reader is ever reachable")
	}
	if _, ok := err.(*bolt.SessionExpired); !ok {
		t.Errorf("expected *bolt.SessionExpired, got %T (%v)", err, err)
	}
}
