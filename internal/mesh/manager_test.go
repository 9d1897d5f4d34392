package mesh

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/oletizi/midimesh/internal/discovery"
)

func localNode() discovery.NodeInfo {
	return discovery.NodeInfo{ID: uuid.New(), Name: "local", IP: "127.0.0.1", HTTPPort: 1, UDPPort: 1}
}

func TestOnNodeDiscoveredIgnoresSelf(t *testing.T) {
	local := localNode()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := New(ctx, local, Options{})

	m.OnNodeDiscovered(local)
	if len(m.pool.All()) != 0 {
		t.Fatalf("pool has %d entries, want 0 after discovering the local node", len(m.pool.All()))
	}
}

func TestOnNodeDiscoveredIsIdempotent(t *testing.T) {
	local := localNode()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := New(ctx, local, Options{})

	remote := discovery.NodeInfo{ID: uuid.New(), IP: "127.0.0.1", HTTPPort: 2, UDPPort: 2}
	m.OnNodeDiscovered(remote)
	m.OnNodeDiscovered(remote) // duplicate; must not create a second facade

	all := m.pool.All()
	if len(all) != 1 {
		t.Fatalf("pool has %d entries, want exactly 1 after a duplicate discovery", len(all))
	}
}

func TestOnNodeRemovedIsTolerantOfUnknownID(t *testing.T) {
	local := localNode()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := New(ctx, local, Options{})

	var fired bool
	m.onNodeDisconnected = func(id uuid.UUID, reason string) { fired = true }
	m.OnNodeRemoved(uuid.New()) // never discovered

	if fired {
		t.Fatalf("onNodeDisconnected fired for an id that was never in the pool")
	}
}

func TestOnNodeRemovedFiresCallbackForKnownID(t *testing.T) {
	local := localNode()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := New(ctx, local, Options{})

	var mu sync.Mutex
	var reason string
	done := make(chan struct{})
	m.onNodeDisconnected = func(id uuid.UUID, r string) {
		mu.Lock()
		reason = r
		mu.Unlock()
		close(done)
	}

	remote := discovery.NodeInfo{ID: uuid.New(), IP: "127.0.0.1", HTTPPort: 2, UDPPort: 2}
	m.OnNodeDiscovered(remote)
	m.OnNodeRemoved(remote.ID)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("onNodeDisconnected never fired for a known id")
	}
	mu.Lock()
	defer mu.Unlock()
	if reason != "removed from discovery" {
		t.Fatalf("reason = %q, want %q", reason, "removed from discovery")
	}
}

func TestConnectionFailedIsForwarded(t *testing.T) {
	local := localNode()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var gotReason string
	done := make(chan struct{})
	m := New(ctx, local, Options{
		OnConnectionFailed: func(node discovery.NodeInfo, reason string) {
			mu.Lock()
			gotReason = reason
			mu.Unlock()
			close(done)
		},
	})

	// No handshake peer is listening at HTTPPort 2, so Connect must fail.
	remote := discovery.NodeInfo{ID: uuid.New(), IP: "127.0.0.1", HTTPPort: 2, UDPPort: 2}
	m.OnNodeDiscovered(remote)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("OnConnectionFailed never fired for an unreachable peer")
	}
	mu.Lock()
	defer mu.Unlock()
	if gotReason == "" {
		t.Fatalf("reason was empty")
	}
}

func TestStatisticsAggregatesPoolCounts(t *testing.T) {
	local := localNode()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := New(ctx, local, Options{})

	remote := discovery.NodeInfo{ID: uuid.New(), IP: "127.0.0.1", HTTPPort: 2, UDPPort: 2}
	m.OnNodeDiscovered(remote)

	stats := m.Statistics()
	if stats.Pool.Connecting+stats.Pool.Failed+stats.Pool.Disconnected+stats.Pool.Connected != 1 {
		t.Fatalf("Statistics().Pool does not account for exactly one facade: %+v", stats.Pool)
	}
}
