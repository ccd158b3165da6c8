package routing

import (
	"context"
	"fmt"
	"sync"

	"github.com/marmos91/gobolt/internal/metrics"
	"github.com/marmos91/gobolt/internal/pool"
	"github.com/marmos91/gobolt/pkg/bolt"
)

// Config configures a cluster-aware Pool. DirectPoolConfig is applied to
// every per-address DirectPool the routing pool creates on demand.
type Config struct {
	InitialRouters  []bolt.Address
	RoutingContext  map[string]string
	Resolver        bolt.Resolver
	DirectPoolConfig pool.Config
	Metrics         *metrics.RoutingMetrics
}

// Pool is the cluster-aware connection pool (C7): it maintains one routing
// Table per requested database, a DirectPool per discovered server address,
// and a least-connected balancer used to pick among a role's candidate
// servers (§4.7).
type Pool struct {
	cfg Config

	mu        sync.Mutex
	tables    map[string]*Table   // database name -> routing table ("" = default database)
	poolsByAddr map[string]*pool.DirectPool
	refreshMu sync.Map // database name -> *sync.Mutex, serializes concurrent refreshes per database
	balancer  *LeastConnectedBalancer
}

// NewPool constructs a routing pool seeded with one or more initial router
// addresses; the first real routing table is fetched lazily on first
// Acquire, per database.
func NewPool(cfg Config) *Pool {
	p := &Pool{
		cfg:         cfg,
		tables:      make(map[string]*Table),
		poolsByAddr: make(map[string]*pool.DirectPool),
	}
	p.balancer = NewLeastConnectedBalancer(addressCounter{p})
	return p
}

// addressCounter adapts Pool's per-address DirectPools to the balancer's
// connectionCounter interface.
type addressCounter struct{ p *Pool }

func (a addressCounter) InUseCount(addr bolt.Address) int {
	a.p.mu.Lock()
	dp := a.p.poolsByAddr[addr.Key()]
	a.p.mu.Unlock()
	if dp == nil {
		return 0
	}
	return dp.InUseCount()
}

func (p *Pool) directPoolFor(addr bolt.Address) *pool.DirectPool {
	p.mu.Lock()
	defer p.mu.Unlock()
	dp, ok := p.poolsByAddr[addr.Key()]
	if !ok {
		dp = pool.NewDirectPool(addr, p.cfg.DirectPoolConfig)
		p.poolsByAddr[addr.Key()] = dp
	}
	return dp
}

// Acquire returns a connection to a server able to serve mode for database,
// refreshing (or fetching for the first time) the routing table as needed,
// and retrying selection against other candidates when the chosen target
// turns out to be unreachable (§4.7 "acquire algorithm", steps 1-3).
func (p *Pool) Acquire(ctx context.Context, database string, mode bolt.AccessMode) (*bolt.Connection, bolt.Address, error) {
	table, err := p.tableFor(ctx, database)
	if err != nil {
		return nil, bolt.Address{}, err
	}

	refreshedOnExhaustion := false
	for {
		candidates := p.candidatesFor(table, mode)
		for {
			addr, ok := p.selectFrom(mode, candidates)
			if !ok {
				break
			}

			conn, err := p.directPoolFor(addr).Acquire(ctx)
			if err == nil {
				return conn, addr, nil
			}
			if !isSelectionRetriable(err) {
				return nil, addr, err
			}

			// §4.7 step 3: a target that fails to serve at all is removed
			// from the routing table and the direct pool, and selection is
			// retried among whatever candidates remain.
			p.EvictOnError(addr, err)
			candidates = removeAddress(candidates, addr)
		}

		if refreshedOnExhaustion {
			return nil, bolt.Address{}, bolt.NewSessionExpired(
				"no %s servers available for database %q after deactivating unreachable targets and refreshing",
				roleName(mode), displayDatabase(database))
		}
		refreshedOnExhaustion = true

		fresh, err := p.refreshTable(ctx, database, true)
		if err != nil {
			return nil, bolt.Address{}, err
		}
		table = fresh
	}
}

// candidatesFor returns a fresh copy of table's role-appropriate address
// list, so removeAddress can trim it during retry without mutating the
// shared, possibly concurrently-read Table.
func (p *Pool) candidatesFor(table *Table, mode bolt.AccessMode) []bolt.Address {
	src := table.Writers
	if mode == bolt.AccessModeRead {
		src = table.Readers
	}
	return append([]bolt.Address(nil), src...)
}

func (p *Pool) selectFrom(mode bolt.AccessMode, candidates []bolt.Address) (bolt.Address, bool) {
	if mode == bolt.AccessModeRead {
		return p.balancer.SelectReader(candidates)
	}
	return p.balancer.SelectWriter(candidates)
}

// isSelectionRetriable reports whether a failure to acquire a connection to
// the selected target should be treated as that target being unreachable
// (§4.7 step 3: ServiceUnavailable / SessionExpired), as opposed to a
// transient condition like a saturated pool that should surface directly.
func isSelectionRetriable(err error) bool {
	switch err.(type) {
	case *bolt.ServiceUnavailable, *bolt.SessionExpired:
		return true
	default:
		return false
	}
}

func roleName(mode bolt.AccessMode) string {
	if mode == bolt.AccessModeRead {
		return "read"
	}
	return "write"
}

func displayDatabase(database string) string {
	if database == "" {
		return "<default>"
	}
	return database
}

// Release returns conn, acquired for addr, to its DirectPool.
func (p *Pool) Release(ctx context.Context, addr bolt.Address, conn *bolt.Connection) {
	p.directPoolFor(addr).Release(ctx, conn)
}

// tableFor returns a non-expired routing table for database, fetching or
// refreshing it under a per-database lock so concurrent callers don't
// stampede the routers (§4.7 "refresh lock").
func (p *Pool) tableFor(ctx context.Context, database string) (*Table, error) {
	p.mu.Lock()
	table, ok := p.tables[database]
	p.mu.Unlock()
	if ok && !table.Expired() {
		return table, nil
	}
	return p.refreshTable(ctx, database, false)
}

// refreshTable fetches a fresh routing table for database and installs it as
// the cached table, serialized per database under refreshMu so concurrent
// callers don't stampede the routers (§4.7 "refresh lock"). If force is
// false, the cached table is re-checked after acquiring the lock and
// returned as-is if another goroutine already refreshed it past freshness;
// force is set when a caller (Acquire, step 3) needs a genuinely new fetch
// because the cached table's candidates have all just failed, even though
// its TTL hasn't expired yet.
func (p *Pool) refreshTable(ctx context.Context, database string, force bool) (*Table, error) {
	lockIface, _ := p.refreshMu.LoadOrStore(database, &sync.Mutex{})
	lock := lockIface.(*sync.Mutex)
	lock.Lock()
	defer lock.Unlock()

	if !force {
		p.mu.Lock()
		table, ok := p.tables[database]
		p.mu.Unlock()
		if ok && !table.Expired() {
			return table, nil
		}
	}

	fresh, err := p.fetchRoutingTable(ctx, database)
	if err != nil {
		if p.cfg.Metrics != nil {
			p.cfg.Metrics.RoutingRefreshes.WithLabelValues(displayDatabase(database), "failure").Inc()
		}
		return nil, err
	}
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.RoutingRefreshes.WithLabelValues(displayDatabase(database), "success").Inc()
		p.cfg.Metrics.RoutingTableAge.WithLabelValues(displayDatabase(database)).Set(0)
	}

	p.mu.Lock()
	p.tables[database] = fresh
	p.mu.Unlock()
	return fresh, nil
}

// routers returns the current candidate router addresses for database:
// the routing table's own routers if one exists, otherwise the
// driver-configured initial routers (§4.7 "seed address fallback").
func (p *Pool) routers(database string) []bolt.Address {
	p.mu.Lock()
	table, ok := p.tables[database]
	p.mu.Unlock()
	if ok && len(table.Routers) > 0 {
		return table.Routers
	}
	return p.cfg.InitialRouters
}

// fetchRoutingTable tries each candidate router in turn until one answers a
// ROUTE request. A router whose ROUTE request fails is passed to
// EvictOnError; a router that cannot be acquired is skipped without eviction.
func (p *Pool) fetchRoutingTable(ctx context.Context, database string) (*Table, error) {
	var lastErr error
	for _, router := range p.routers(database) {
		conn, err := p.directPoolFor(router).Acquire(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		rt, routeErr := conn.Route(ctx, bolt.RouteRequest{
			RoutingContext: p.cfg.RoutingContext,
			Database:       database,
		})
		p.directPoolFor(router).Release(ctx, conn)
		if routeErr != nil {
			lastErr = routeErr
			p.EvictOnError(router, routeErr)
			continue
		}
		resolve := func(s string) bolt.Address { return parseAddress(s) }
		table, err := ParseRoutingInfo(database, rt, resolve)
		if err != nil {
			lastErr = err
			continue
		}
		return table, nil
	}
	if lastErr == nil {
		lastErr = bolt.NewServiceUnavailable("no routers configured for database %q", displayDatabase(database))
	}
	return nil, fmt.Errorf("refresh routing table for %q: %w", displayDatabase(database), lastErr)
}

// EvictOnError inspects err for the cluster-topology conditions that should
// invalidate cached routing information (§4.7 "error-driven eviction"):
// NotALeader removes that server from the writers of every cached table (the
// call carries no database, so tables of other databases lose it too); a
// lost/defunct connection evicts that server from every cached table's
// candidate lists.
func (p *Pool) EvictOnError(addr bolt.Address, err error) {
	if neoErr, ok := err.(*bolt.Neo4jError); ok && neoErr.IsNotALeader() {
		p.mu.Lock()
		for _, t := range p.tables {
			t.Writers = removeAddress(t.Writers, addr)
			t.MissingWriter = len(t.Writers) == 0
		}
		p.mu.Unlock()
		if p.cfg.Metrics != nil {
			p.cfg.Metrics.ServersEvicted.WithLabelValues("not_a_leader").Inc()
		}
		return
	}
	switch err.(type) {
	case *bolt.ServiceUnavailable:
		p.forgetServer(addr)
		if p.cfg.Metrics != nil {
			p.cfg.Metrics.ServersEvicted.WithLabelValues("unreachable").Inc()
		}
	case *bolt.SessionExpired:
		p.forgetServer(addr)
		if p.cfg.Metrics != nil {
			p.cfg.Metrics.ServersEvicted.WithLabelValues("session_expired").Inc()
		}
	}
}

func (p *Pool) forgetServer(addr bolt.Address) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.tables {
		t.Routers = removeAddress(t.Routers, addr)
		t.Readers = removeAddress(t.Readers, addr)
		t.Writers = removeAddress(t.Writers, addr)
	}
	if dp, ok := p.poolsByAddr[addr.Key()]; ok {
		dp.Close()
		delete(p.poolsByAddr, addr.Key())
	}
}

func removeAddress(addrs []bolt.Address, target bolt.Address) []bolt.Address {
	out := addrs[:0]
	for _, a := range addrs {
		if a.Key() != target.Key() {
			out = append(out, a)
		}
	}
	return out
}

// Close discards every per-address pool the routing pool has created.
func (p *Pool) Close() {
	p.mu.Lock()
	pools := make([]*pool.DirectPool, 0, len(p.poolsByAddr))
	for _, dp := range p.poolsByAddr {
		pools = append(pools, dp)
	}
	p.mu.Unlock()
	for _, dp := range pools {
		dp.Close()
	}
}

// parseAddress splits a "host:port" routing-table entry into an Address. It
// does not resolve DNS; that remains the caller-supplied Resolver's job at
// dial time (§3 "external collaborators").
func parseAddress(hostPort string) bolt.Address {
	host, port := splitHostPort(hostPort)
	return bolt.NewAddress(host, port)
}

func splitHostPort(hostPort string) (string, int) {
	for i := len(hostPort) - 1; i >= 0; i-- {
		if hostPort[i] == ':' {
			port := 7687
			fmt.Sscanf(hostPort[i+1:], "%d", &port)
			return hostPort[:i], port
		}
	}
	return hostPort, 7687
}
