package routing

import (
	"math"
	"sync"

	"github.com/marmos91/gobolt/pkg/bolt"
)

// connectionCounter reports how many connections are currently checked out
// for an address, so the balancer can prefer the least-loaded server. The
// routing Pool's addressCounter satisfies this by delegating to the
// per-address DirectPool's InUseCount.
type connectionCounter interface {
	InUseCount(addr bolt.Address) int
}

// LeastConnectedBalancer selects the least-loaded reader or writer from a
// routing table, rotating its starting offset on every call so servers tied
// on load are chosen round-robin rather than always favoring the first in
// the list. Grounded on the reference driver's
// LeastConnectedLoadBalancingStrategy (§4.7).
type LeastConnectedBalancer struct {
	counts connectionCounter

	mu            sync.Mutex
	readersOffset int
	writersOffset int
}

// NewLeastConnectedBalancer builds a balancer that queries counts for
// in-use connection counts.
func NewLeastConnectedBalancer(counts connectionCounter) *LeastConnectedBalancer {
	return &LeastConnectedBalancer{counts: counts}
}

// SelectReader picks the least-connected address from readers, or the zero
// Address if readers is empty.
func (b *LeastConnectedBalancer) SelectReader(readers []bolt.Address) (bolt.Address, bool) {
	b.mu.Lock()
	offset := b.readersOffset
	b.readersOffset++
	b.mu.Unlock()
	return b.selectLeastConnected(offset, readers)
}

// SelectWriter picks the least-connected address from writers, or the zero
// Address if writers is empty.
func (b *LeastConnectedBalancer) SelectWriter(writers []bolt.Address) (bolt.Address, bool) {
	b.mu.Lock()
	offset := b.writersOffset
	b.writersOffset++
	b.mu.Unlock()
	return b.selectLeastConnected(offset, writers)
}

func (b *LeastConnectedBalancer) selectLeastConnected(offset int, addrs []bolt.Address) (bolt.Address, bool) {
	n := len(addrs)
	if n == 0 {
		return bolt.Address{}, false
	}
	start := offset % n
	index := start

	var best bolt.Address
	found := false
	leastInUse := math.MaxInt

	for {
		addr := addrs[index]
		index = (index + 1) % n

		inUse := b.counts.InUseCount(addr)
		if inUse < leastInUse {
			best = addr
			leastInUse = inUse
			found = true
		}
		if index == start {
			return best, found
		}
	}
}
