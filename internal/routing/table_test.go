package routing

import (
	"testing"
	"time"

	"github.com/marmos91/gobolt/pkg/bolt"
)

func resolveIdentity(host string) bolt.Address {
	return bolt.NewAddress(host, 7687)
}

func TestParseRoutingInfoSplitsRoles(t *testing.T) {
	rt := map[string]any{
		"ttl": int64(300),
		"servers": []any{
			map[string]any{"role": "ROUTE", "addresses": []any{"a:7687"}},
			map[string]any{"role": "READ", "addresses": []any{"b:7687", "c:7687"}},
			map[string]any{"role": "WRITE", "addresses": []any{"a:7687"}},
		},
	}

	table, err := ParseRoutingInfo("neo4j", rt, resolveIdentity)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if table.TTL != 300*time.Second {
		t.Errorf("ttl = %v, want 300s", table.TTL)
	}
	if len(table.Routers) != 1 || len(table.Readers) != 2 || len(table.Writers) != 1 {
		t.Errorf("unexpected role split: routers=%v readers=%v writers=%v", table.Routers, table.Readers, table.Writers)
	}
	if table.MissingWriter {
		t.Error("did not expect MissingWriter when a WRITE entry is present")
	}
}

func TestParseRoutingInfoFlagsMissingWriter(t *testing.T) {
	rt := map[string]any{
		"ttl": int64(60),
		"servers": []any{
			map[string]any{"role": "ROUTE", "addresses": []any{"a:7687"}},
			map[string]any{"role": "READ", "addresses": []any{"a:7687"}},
		},
	}
	table, err := ParseRoutingInfo("neo4j", rt, resolveIdentity)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !table.MissingWriter {
		t.Error("expected MissingWriter when no WRITE entry is present")
	}
}

func TestTableExpired(t *testing.T) {
	table := &Table{TTL: time.Minute, FetchedAt: time.Now().Add(-2 * time.Minute)}
	if !table.Expired() {
		t.Error("expected an old table to be expired")
	}
	fresh := &Table{TTL: time.Minute, FetchedAt: time.Now()}
	if fresh.Expired() {
		t.Error("expected a freshly-fetched table not to be expired")
	}
}
