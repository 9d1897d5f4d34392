// Package heartbeat implements the Heartbeat Monitor: a single periodic
// timer, shared across the whole mesh, that drives heartbeat sends and
// timeout detection over every pooled connection.
//
// The ticker-driven sweep is grounded on the teacher's RunMetrics loop
// (server/metrics.go): a single goroutine owns a time.Ticker and performs
// one pass of work per tick, with its own atomic counters for observability
// rather than relying on a caller to poll it.
package heartbeat

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/oletizi/midimesh/internal/connection"
	"github.com/oletizi/midimesh/internal/metrics"
	"github.com/oletizi/midimesh/internal/pool"
)

// DefaultInterval is the monitor's tick period.
const DefaultInterval = 1000 * time.Millisecond

// OnConnectionLost is invoked once per detected timeout, with the reason
// and the remote node id.
type OnConnectionLost func(id uuid.UUID, reason string)

// Monitor periodically sends heartbeats to, and checks the liveness of,
// every Connected facade in a Pool.
type Monitor struct {
	pool     *pool.Pool
	interval time.Duration
	onLost   OnConnectionLost
	metr     *metrics.Registry

	sent     atomic.Uint64
	timeouts atomic.Uint64
}

// New constructs a Monitor over p. interval<=0 selects DefaultInterval. metr
// may be nil, in which case no Prometheus collectors are updated.
func New(p *pool.Pool, interval time.Duration, onLost OnConnectionLost, metr ...*metrics.Registry) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	m := &Monitor{pool: p, interval: interval, onLost: onLost}
	if len(metr) > 0 {
		m.metr = metr[0]
	}
	return m
}

// Run ticks until ctx is canceled. Intended to be started once, in its own
// goroutine, by the Mesh Manager.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

func (m *Monitor) tick() {
	for id, f := range m.pool.All() {
		if f.GetState() != connection.Connected {
			continue
		}
		f.SendHeartbeat()
		m.sent.Add(1)
		if m.metr != nil {
			m.metr.HeartbeatsSent.Inc()
		}

		if f.GetTimeSinceLastHeartbeat() > 3000*time.Millisecond {
			f.CheckHeartbeat()
			m.timeouts.Add(1)
			if m.metr != nil {
				m.metr.HeartbeatTimeouts.Inc()
			}
			if m.onLost != nil {
				m.onLost(id, "heartbeat timeout")
			}
		}
	}
	m.pool.RemoveDead()

	if m.metr != nil {
		stats := m.pool.Stats()
		m.metr.PoolByState.WithLabelValues("disconnected").Set(float64(stats.Disconnected))
		m.metr.PoolByState.WithLabelValues("connecting").Set(float64(stats.Connecting))
		m.metr.PoolByState.WithLabelValues("connected").Set(float64(stats.Connected))
		m.metr.PoolByState.WithLabelValues("failed").Set(float64(stats.Failed))
	}
}

// Stats returns (heartbeats sent, timeouts detected) totals.
func (m *Monitor) Stats() (sent, timeouts uint64) {
	return m.sent.Load(), m.timeouts.Load()
}
