// Package mesh implements the Mesh Manager: the coordinator that reacts to
// discovery events, maintains the connection pool and heartbeat monitor,
// and aggregates mesh-wide statistics.
//
// The discovery.Listener implementation and its idempotent add/remove
// handling are grounded on the teacher's ChannelState.Add/Remove
// (server/internal/core/channel_state.go): a map keyed by identity, locked
// only long enough to check-then-mutate, with every side effect (here, a
// facade.Connect() and wiring its callbacks) performed outside that lock.
package mesh

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/oletizi/midimesh/internal/clock"
	"github.com/oletizi/midimesh/internal/connection"
	"github.com/oletizi/midimesh/internal/discovery"
	"github.com/oletizi/midimesh/internal/heartbeat"
	"github.com/oletizi/midimesh/internal/metrics"
	"github.com/oletizi/midimesh/internal/pool"
)

// OnConnectionFailed is forwarded any error callback from any pooled facade.
type OnConnectionFailed func(node discovery.NodeInfo, reason string)

// OnNodeDisconnected fires when a node is removed by discovery, and when the
// heartbeat monitor detects a heartbeat timeout. Facades the monitor's
// cleanup sweep removes for any other reason (e.g. a failed handshake) do
// not fire it.
type OnNodeDisconnected func(id uuid.UUID, reason string)

// Manager implements discovery.Listener and owns the pool and heartbeat
// monitor for one local node's view of the mesh.
type Manager struct {
	local discovery.NodeInfo
	pool  *pool.Pool
	hb    *heartbeat.Monitor
	metr  *metrics.Registry
	clk   clock.Source

	newFacade func(connection.Config) (*connection.Facade, error)

	onConnectionFailed OnConnectionFailed
	onNodeDisconnected OnNodeDisconnected
	onDevices          connection.DevicesFunc
	onMidi             connection.MidiReceivedFunc

	mu     sync.Mutex
	remote map[uuid.UUID]discovery.NodeInfo // discovered nodes by id; OnNodeDiscovered dedups against it
}

// Options configures a Manager's callbacks (all optional).
type Options struct {
	OnConnectionFailed OnConnectionFailed
	OnNodeDisconnected OnNodeDisconnected
	OnDevices          connection.DevicesFunc
	OnMidi             connection.MidiReceivedFunc
	Metrics            *metrics.Registry

	// Clock supplies the timestamp source every connection this Manager
	// creates is configured with. Nil selects connection.Config's own
	// default (clock.Monotonic{}). Pass a running *clock.NTPCorrected to
	// give every connection a cross-node-comparable timestamp.
	Clock clock.Source
}

// New constructs a Manager for the given local identity. It also starts the
// Heartbeat Monitor in its own goroutine, bound to ctx.
func New(ctx context.Context, local discovery.NodeInfo, opts Options) *Manager {
	p := pool.New()
	m := &Manager{
		local:              local,
		pool:               p,
		metr:               opts.Metrics,
		clk:                opts.Clock,
		newFacade:          connection.New,
		onConnectionFailed: opts.OnConnectionFailed,
		onNodeDisconnected: opts.OnNodeDisconnected,
		onDevices:          opts.OnDevices,
		onMidi:             opts.OnMidi,
		remote:             make(map[uuid.UUID]discovery.NodeInfo),
	}
	m.hb = heartbeat.New(p, heartbeat.DefaultInterval, func(id uuid.UUID, reason string) {
		if m.onNodeDisconnected != nil {
			m.onNodeDisconnected(id, reason)
		}
	}, opts.Metrics)
	go m.hb.Run(ctx)
	return m
}

// OnNodeDiscovered implements discovery.Listener.
func (m *Manager) OnNodeDiscovered(node discovery.NodeInfo) {
	if node.ID == m.local.ID {
		return
	}
	m.mu.Lock()
	if _, exists := m.remote[node.ID]; exists {
		m.mu.Unlock()
		return
	}
	m.remote[node.ID] = node
	m.mu.Unlock()

	f, err := m.newFacade(connection.Config{
		Local:         m.local,
		Remote:        node,
		OnStateChange: m.stateChangeHandler(node),
		OnError:       m.errorHandler(node),
		OnDevices:     m.onDevices,
		OnMidi:        m.onMidi,
		Metrics:       m.metr,
		Clock:         m.clk,
	})
	if err != nil {
		slog.Warn("discarding discovered node with invalid NodeInfo", "remote", node.ID, "err", err)
		m.mu.Lock()
		delete(m.remote, node.ID)
		m.mu.Unlock()
		return
	}
	if !m.pool.Add(node.ID, f) {
		// Lost a race with a concurrent discovery callback for the same id;
		// this facade is redundant.
		_ = f.Close()
		return
	}
	f.Connect()
}

// OnNodeRemoved implements discovery.Listener.
func (m *Manager) OnNodeRemoved(id uuid.UUID) {
	m.mu.Lock()
	delete(m.remote, id)
	m.mu.Unlock()

	if m.pool.Remove(id) {
		if m.onNodeDisconnected != nil {
			m.onNodeDisconnected(id, "removed from discovery")
		}
	}
}

func (m *Manager) stateChangeHandler(node discovery.NodeInfo) connection.StateChangeFunc {
	return func(old, new connection.State) {
		slog.Debug("connection state changed", "remote", node.ID, "old", old, "new", new)
	}
}

func (m *Manager) errorHandler(node discovery.NodeInfo) connection.ErrorFunc {
	return func(reason string) {
		if m.onConnectionFailed != nil {
			m.onConnectionFailed(node, reason)
		}
	}
}

// ConnectedNodes returns the NodeInfo of every pooled facade currently
// Connected.
func (m *Manager) ConnectedNodes() []discovery.NodeInfo {
	var out []discovery.NodeInfo
	for _, f := range m.pool.All() {
		if f.GetState() == connection.Connected {
			out = append(out, f.GetRemoteNode())
		}
	}
	return out
}

// TotalDeviceCount sums GetRemoteDevices() across every Connected entry.
// Each facade query may take up to the facade's query timeout in the worst
// case.
func (m *Manager) TotalDeviceCount() int {
	total := 0
	for _, f := range m.pool.All() {
		if f.GetState() == connection.Connected {
			total += len(f.GetRemoteDevices())
		}
	}
	return total
}

// Statistics is the aggregate mesh snapshot.
type Statistics struct {
	Pool              pool.Stats
	HeartbeatsSent    uint64
	HeartbeatTimeouts uint64
	TotalDevices      int
}

// Statistics returns a point-in-time snapshot of pool counts, heartbeat
// totals, and remote device count.
func (m *Manager) Statistics() Statistics {
	sent, timeouts := m.hb.Stats()
	return Statistics{
		Pool:              m.pool.Stats(),
		HeartbeatsSent:    sent,
		HeartbeatTimeouts: timeouts,
		TotalDevices:      m.TotalDeviceCount(),
	}
}

// Pool exposes the underlying Connection Pool, e.g. for the handshake
// server's inbound path to look up an existing facade.
func (m *Manager) Pool() *pool.Pool { return m.pool }
