// Package pool implements the direct, per-address connection pool (§4.6):
// a size-gated set of Connections with liveness checking, staleness
// eviction, and re-authentication on acquire. The routing layer (internal
// /routing) builds a cluster-aware pool on top of one DirectPool per server.
package pool

import (
	"container/list"
	"context"
	"net"
	"sync"
	"time"

	"github.com/marmos91/gobolt/pkg/bolt"
)

// Config bounds a DirectPool's behavior (§4.6, §6).
type Config struct {
	MaxSize               int
	MaxConnectionLifetime time.Duration // 0 = unbounded
	MaxIdleTime           time.Duration // 0 = never idle-check
	AcquisitionTimeout    time.Duration
	OfferedVersions       []bolt.Version
	Dialer                *net.Dialer
	Auth                  bolt.AuthManager
	RoutingContext        map[string]string
	MaxMessageSize        int
}

// entry wraps a pooled Connection with its checked-out state.
type entry struct {
	conn   *bolt.Connection
	inUse  bool
}

// DirectPool holds at most Config.MaxSize live connections to one address,
// handing them out one at a time and reclaiming them on Release. Borrower
// counting ("reservations") lets Acquire admit a dial attempt before the
// dial completes, so concurrent acquirers don't all pile onto the first slot
// and then discover the pool was already full (§4.6 "size gating with
// reservation accounting").
type DirectPool struct {
	address bolt.Address
	cfg     Config

	mu          sync.Mutex
	cond        *sync.Cond
	entries     *list.List // *entry, idle and in-use both live here
	reserved    int        // slots promised to in-flight Acquire calls not yet holding an entry
	closed      bool
}

// NewDirectPool constructs a pool bound to one address. Dialing is lazy: no
// connections are created until the first Acquire.
func NewDirectPool(address bolt.Address, cfg Config) *DirectPool {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 100
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &net.Dialer{Timeout: 5 * time.Second}
	}
	p := &DirectPool{address: address, cfg: cfg, entries: list.New()}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *DirectPool) Address() bolt.Address { return p.address }

// InUseCount reports the number of connections currently checked out, for
// metrics and for the routing layer's least-connected balancing (§4.7).
func (p *DirectPool) InUseCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for e := p.entries.Front(); e != nil; e = e.Next() {
		if e.Value.(*entry).inUse {
			n++
		}
	}
	return n
}

func (p *DirectPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.entries.Len() + p.reserved
}

// Acquire waits (respecting ctx's deadline) for an idle, live connection or
// admission to dial a new one, performs any needed liveness/staleness
// maintenance and re-authentication, and returns it checked out. Returns
// ConnectionAcquisitionTimeout if ctx's deadline passes first (§4.6, §8). If
// ctx carries no deadline of its own, Config.AcquisitionTimeout is applied
// as the default bound (§6 "connection_acquisition_timeout"); a deadline the
// caller already set takes precedence.
func (p *DirectPool) Acquire(ctx context.Context) (*bolt.Connection, error) {
	if p.cfg.AcquisitionTimeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.cfg.AcquisitionTimeout)
			defer cancel()
		}
	}
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, bolt.NewServiceUnavailable("pool for %s is closed", p.address)
		}

		if e := p.popIdleLocked(); e != nil {
			p.mu.Unlock()
			conn, err := p.prepareForUse(ctx, e.conn)
			if err != nil {
				p.mu.Lock()
				p.entries.Remove(p.findElement(e))
				p.mu.Unlock()
				p.cond.Broadcast()
				continue
			}
			return conn, nil
		}

		if p.entries.Len()+p.reserved < p.cfg.MaxSize {
			p.reserved++
			p.mu.Unlock()
			conn, err := p.dialAndAuthenticate(ctx)
			p.mu.Lock()
			p.reserved--
			if err != nil {
				p.mu.Unlock()
				p.cond.Broadcast()
				return nil, err
			}
			p.entries.PushBack(&entry{conn: conn, inUse: true})
			p.mu.Unlock()
			return conn, nil
		}

		if !p.waitLocked(ctx) {
			p.mu.Unlock()
			return nil, bolt.NewConnectionAcquisitionTimeout(
				"timed out acquiring a connection to %s (pool size %d)", p.address, p.cfg.MaxSize)
		}
		p.mu.Unlock()
	}
}

// popIdleLocked removes and returns the first idle entry, marking it in-use,
// or nil if none are idle. Caller holds p.mu.
func (p *DirectPool) popIdleLocked() *entry {
	for el := p.entries.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		if !e.inUse {
			e.inUse = true
			return e
		}
	}
	return nil
}

func (p *DirectPool) findElement(target *entry) *list.Element {
	for el := p.entries.Front(); el != nil; el = el.Next() {
		if el.Value.(*entry) == target {
			return el
		}
	}
	return nil
}

// waitLocked blocks on the pool's condition variable until something changes
// (a release, a discarded connection, a close, or another acquirer's dial
// failing) or ctx is done.
// Returns false on ctx expiry/cancellation. Caller holds p.mu.
func (p *DirectPool) waitLocked(ctx context.Context) bool {
	stop := context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer stop()
	p.cond.Wait()
	select {
	case <-ctx.Done():
		return false
	default:
		return true
	}
}

// prepareForUse runs the liveness check, staleness check and re-auth an idle
// connection needs before being handed to a new borrower (§4.6). A
// connection that fails any of these is not returned to the caller; the
// caller removes it from the pool and retries.
func (p *DirectPool) prepareForUse(ctx context.Context, conn *bolt.Connection) (*bolt.Connection, error) {
	if conn.Defunct() {
		return nil, bolt.NewServiceUnavailable("idle connection to %s is defunct", p.address)
	}
	if p.cfg.MaxConnectionLifetime > 0 && conn.Age() > p.cfg.MaxConnectionLifetime {
		_ = conn.Goodbye()
		return nil, bolt.NewServiceUnavailable("connection to %s exceeded max lifetime", p.address)
	}
	if conn.Stale() {
		_ = conn.Goodbye()
		return nil, bolt.NewServiceUnavailable("connection to %s was marked stale", p.address)
	}
	if p.cfg.MaxIdleTime > 0 && conn.IdleDuration() > p.cfg.MaxIdleTime {
		if err := conn.Reset(ctx); err != nil {
			return nil, err
		}
	}
	if p.cfg.Auth != nil {
		if err := p.reauthenticate(ctx, conn); err != nil {
			return nil, err
		}
	}
	return conn, nil
}

// reauthenticate re-presents credentials on acquire (§4.6 "re-auth on
// acquire"): on Bolt >= 5.1 it always sends a LOGOFF/LOGON pair with the
// manager's current token. On earlier versions it returns without doing
// anything: the connection keeps the token it sent in HELLO, and that token
// is not compared with the manager's current one.
func (p *DirectPool) reauthenticate(ctx context.Context, conn *bolt.Connection) error {
	tok, err := p.cfg.Auth.GetAuth(ctx)
	if err != nil {
		return err
	}
	if !conn.Version().AtLeast(bolt.Version{Major: 5, Minor: 1}) {
		return nil
	}
	if err := conn.Logoff(ctx); err != nil {
		return err
	}
	return conn.Logon(ctx, tok)
}

func (p *DirectPool) dialAndAuthenticate(ctx context.Context) (*bolt.Connection, error) {
	conn, err := bolt.Dial(ctx, p.cfg.Dialer, p.address, p.cfg.OfferedVersions, p.cfg.MaxMessageSize)
	if err != nil {
		return nil, err
	}
	auth := p.cfg.Auth
	if auth == nil {
		auth = &bolt.StaticAuthManager{Token: bolt.NoAuthToken()}
	}
	if err := conn.Hello(ctx, auth, p.cfg.RoutingContext); err != nil {
		_ = conn.Goodbye()
		return nil, err
	}
	return conn, nil
}

// Release returns conn to the idle set, or discards it if it became defunct
// while checked out. If the connection isn't already READY (a caller gave up
// mid-stream, or mid-transaction) it is RESET first so the next Acquire gets
// a clean connection; a failed RESET discards it instead (§4.6 "Release
// discipline"). A stale connection is removed and closed instead. Always
// wakes every waiter so a waiting Acquire can retry.
func (p *DirectPool) Release(ctx context.Context, conn *bolt.Connection) {
	if !conn.Defunct() && conn.Stale() {
		p.drop(conn)
		_ = conn.Goodbye()
		return
	}
	if !conn.Defunct() && conn.State() != bolt.StateReady {
		if err := conn.Reset(ctx); err != nil {
			p.drop(conn)
			return
		}
	}

	p.mu.Lock()
	defer func() {
		p.mu.Unlock()
		p.cond.Broadcast()
	}()

	for el := p.entries.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		if e.conn == conn {
			if conn.Defunct() {
				p.entries.Remove(el)
				return
			}
			conn.MarkReleased()
			e.inUse = false
			return
		}
	}
}

// drop removes conn from the pool outright (used when a RESET issued during
// Release itself fails, leaving the connection defunct).
func (p *DirectPool) drop(conn *bolt.Connection) {
	p.mu.Lock()
	for el := p.entries.Front(); el != nil; el = el.Next() {
		if el.Value.(*entry).conn == conn {
			p.entries.Remove(el)
			break
		}
	}
	p.mu.Unlock()
	p.cond.Broadcast()
}

// Deactivate discards conn instead of returning it to the idle set, used
// when the caller knows the connection is no longer trustworthy (e.g. a
// NotALeader response) even though it isn't formally defunct.
func (p *DirectPool) Deactivate(conn *bolt.Connection) {
	p.mu.Lock()
	for el := p.entries.Front(); el != nil; el = el.Next() {
		if el.Value.(*entry).conn == conn {
			p.entries.Remove(el)
			break
		}
	}
	p.mu.Unlock()
	p.cond.Broadcast()
	_ = conn.Goodbye()
}

// MarkAllStale flags every currently pooled connection (idle or in-use) so
// the next Acquire/Release discards it instead of reusing it (§4.6
// "mark_all_stale", used when routing information for this address expires).
func (p *DirectPool) MarkAllStale() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for el := p.entries.Front(); el != nil; el = el.Next() {
		el.Value.(*entry).conn.MarkStale()
	}
}

// Close discards every connection in the pool and rejects further Acquire
// calls.
func (p *DirectPool) Close() {
	p.mu.Lock()
	p.closed = true
	var conns []*bolt.Connection
	for el := p.entries.Front(); el != nil; el = el.Next() {
		conns = append(conns, el.Value.(*entry).conn)
	}
	p.entries.Init()
	p.mu.Unlock()
	p.cond.Broadcast()
	for _, c := range conns {
		_ = c.Goodbye()
	}
}
