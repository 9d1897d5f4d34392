package heartbeat

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/oletizi/midimesh/internal/connection"
	"github.com/oletizi/midimesh/internal/discovery"
	"github.com/oletizi/midimesh/internal/handshake"
	"github.com/oletizi/midimesh/internal/pool"
	"github.com/oletizi/midimesh/internal/transport"
)

func pickFreePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("pickFreePort: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

func waitForPort(t *testing.T, port int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 100*time.Millisecond)
		if err == nil {
			c.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("port %d never came up", port)
}

func waitForState(t *testing.T, f *connection.Facade, want connection.State, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if f.GetState() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state never reached %s, last seen %s", want, f.GetState())
}

func TestTickSkipsNonConnectedFacades(t *testing.T) {
	p := pool.New()
	f, err := connection.New(connection.Config{
		Local:  discovery.NodeInfo{ID: uuid.New(), IP: "127.0.0.1", HTTPPort: 1, UDPPort: 1},
		Remote: discovery.NodeInfo{ID: uuid.New(), IP: "127.0.0.1", HTTPPort: 1, UDPPort: 1},
	})
	if err != nil {
		t.Fatalf("connection.New: %v", err)
	}
	defer f.Close()
	p.Add(uuid.New(), f)

	m := New(p, 10*time.Millisecond, nil)
	m.tick()

	sent, timeouts := m.Stats()
	if sent != 0 || timeouts != 0 {
		t.Fatalf("Stats() = (%d, %d), want (0, 0) for a Disconnected-only pool", sent, timeouts)
	}
}

func TestRunTicksUntilCanceled(t *testing.T) {
	p := pool.New()
	m := New(p, 5*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not return after cancellation")
	}
}

// TestOnConnectionLostDoesNotFireForDisconnectedFacade verifies the negative
// case: a facade that never leaves Disconnected (no peer ever answers its
// handshake) is skipped by tick() entirely (connection.Connected is required
// before SendHeartbeat/CheckHeartbeat run), so onLost never fires for it.
func TestOnConnectionLostDoesNotFireForDisconnectedFacade(t *testing.T) {
	var mu sync.Mutex
	var lostID uuid.UUID
	var lostReason string
	lostCh := make(chan struct{})

	p := pool.New()
	remoteID := uuid.New()
	f, err := connection.New(connection.Config{
		Local:  discovery.NodeInfo{ID: uuid.New(), IP: "127.0.0.1", HTTPPort: 1, UDPPort: 1},
		Remote: discovery.NodeInfo{ID: remoteID, IP: "127.0.0.1", HTTPPort: 1, UDPPort: 1},
	})
	if err != nil {
		t.Fatalf("connection.New: %v", err)
	}
	defer f.Close()
	p.Add(remoteID, f)

	m := New(p, 5*time.Millisecond, func(id uuid.UUID, reason string) {
		mu.Lock()
		lostID, lostReason = id, reason
		mu.Unlock()
		close(lostCh)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	m.Run(ctx)

	select {
	case <-lostCh:
		t.Fatalf("onLost fired for a Disconnected facade (id=%s reason=%q)", lostID, lostReason)
	default:
		// Expected: never fires for a connection that was never Connected.
	}
}

// TestOnConnectionLostFiresOnTimeout drives a real Connected facade (a live
// handshake against a mockPeer) into a heartbeat-stale state and checks that
// the Monitor's own tick loop — not just the Worker's internal state
// transition covered by TestCheckHeartbeatTimesOutConnection in the
// connection package — invokes onLost within its tick interval.
func TestOnConnectionLostFiresOnTimeout(t *testing.T) {
	httpPort := pickFreePort(t)
	srv := handshake.New(func(req handshake.Request) (handshake.Response, error) {
		return handshake.Response{UDPEndpoint: "127.0.0.1:40010"}, nil
	})
	go func() { _ = srv.Start(fmt.Sprintf("127.0.0.1:%d", httpPort)) }()
	defer srv.Shutdown()
	waitForPort(t, httpPort)

	tcpLn, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", httpPort+1))
	if err != nil {
		t.Fatalf("Listen nrt: %v", err)
	}
	defer tcpLn.Close()
	go func() {
		for {
			c, err := tcpLn.Accept()
			if err != nil {
				return
			}
			transport.NewReliable(c, nil, nil).Start()
		}
	}()

	p := pool.New()
	remoteID := uuid.New()
	f, err := connection.New(connection.Config{
		Local: discovery.NodeInfo{
			ID: uuid.New(), IP: "127.0.0.1", HTTPPort: pickFreePort(t), UDPPort: 1, ProtocolVersion: "1.0",
		},
		Remote: discovery.NodeInfo{
			ID: remoteID, IP: "127.0.0.1", HTTPPort: httpPort, UDPPort: 1, ProtocolVersion: "1.0",
		},
		HandshakeTimeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("connection.New: %v", err)
	}
	defer f.Close()
	p.Add(remoteID, f)

	f.Connect()
	waitForState(t, f, connection.Connected, 2*time.Second)
	// tick() compares GetTimeSinceLastHeartbeat against its own fixed 3s
	// staleness threshold regardless of the facade's own HeartbeatTimeout, so
	// exercising the real path means waiting past that threshold for real.
	time.Sleep(connection.DefaultHeartbeatTimeout + 200*time.Millisecond)

	var mu sync.Mutex
	var lostID uuid.UUID
	var lostReason string
	lostCh := make(chan struct{})
	m := New(p, 5*time.Millisecond, func(id uuid.UUID, reason string) {
		mu.Lock()
		lostID, lostReason = id, reason
		mu.Unlock()
		close(lostCh)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go m.Run(ctx)

	select {
	case <-lostCh:
	case <-time.After(2 * time.Second):
		t.Fatalf("onLost never fired for a heartbeat-stale Connected facade")
	}
	mu.Lock()
	defer mu.Unlock()
	if lostID != remoteID {
		t.Fatalf("onLost id = %s, want %s", lostID, remoteID)
	}
	if lostReason != "heartbeat timeout" {
		t.Fatalf("onLost reason = %q, want %q", lostReason, "heartbeat timeout")
	}
}
