// Package routing implements the cluster-aware routing pool (§4.7): a
// per-database routing table fetched via ROUTE, a least-connected load
// balancer modeled on the reference driver's strategy, and error-driven
// eviction of servers that report they are no longer the leader or have
// gone away.
package routing

import (
	"time"

	"github.com/marmos91/gobolt/pkg/bolt"
)

// Table is the routing information for one database: which servers can run
// routing queries, which can serve reads, which can serve writes, and how
// long the table remains valid (§4.7).
type Table struct {
	Routers       []bolt.Address
	Readers       []bolt.Address
	Writers       []bolt.Address
	TTL           time.Duration
	FetchedAt     time.Time
	Database      string
	MissingWriter bool
}

// Expired reports whether the table's TTL has elapsed.
func (t *Table) Expired() bool {
	return time.Since(t.FetchedAt) >= t.TTL
}

// ParseRoutingInfo builds a Table from a ROUTE response's "rt" record (§4.7):
//
//	{"ttl": <seconds>, "servers": [{"role": "ROUTE"|"READ"|"WRITE", "addresses": [...]}]}
func ParseRoutingInfo(database string, rt map[string]any, resolve func(string) bolt.Address) (*Table, error) {
	ttlSeconds, _ := rt["ttl"].(int64)
	serversRaw, _ := rt["servers"].([]any)

	table := &Table{
		Database:  database,
		TTL:       time.Duration(ttlSeconds) * time.Second,
		FetchedAt: time.Now(),
	}

	for _, sv := range serversRaw {
		entry, ok := sv.(map[string]any)
		if !ok {
			continue
		}
		role, _ := entry["role"].(string)
		addrsRaw, _ := entry["addresses"].([]any)
		var addrs []bolt.Address
		for _, a := range addrsRaw {
			s, ok := a.(string)
			if !ok {
				continue
			}
			addrs = append(addrs, resolve(s))
		}
		switch role {
		case "ROUTE":
			table.Routers = addrs
		case "READ":
			table.Readers = addrs
		case "WRITE":
			table.Writers = addrs
		}
	}

	if len(table.Writers) == 0 {
		table.MissingWriter = true
	}
	return table, nil
}
