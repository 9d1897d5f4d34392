// Package metrics exports the mesh's aggregate statistics as Prometheus
// collectors, grounded on the retrieval pack's
// runZeroInc-sockstats/pkg/exporter — a hand-rolled prometheus.Collector
// wrapping per-connection counters. That repo needed a custom Collect()
// because its source data (kernel TCP_INFO) is pulled on scrape; this
// package's counters are pushed from the hot paths that already observe
// the events (ring buffer drops, NRT retries, heartbeat ticks), so plain
// prometheus.Counter/Gauge instances registered once at construction are
// the idiomatic fit.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every counter/gauge the connection subsystem publishes.
type Registry struct {
	RingWritten       prometheus.Counter
	RingDropped       prometheus.Counter
	RingOccupancy     prometheus.Gauge
	RTSendFailures    prometheus.Counter
	NRTMessagesSent   prometheus.Counter
	NRTMessagesRecv   prometheus.Counter
	NRTFragmentsSent  prometheus.Counter
	NRTFragmentsRecv  prometheus.Counter
	NRTRetries        prometheus.Counter
	NRTFailures       prometheus.Counter
	HeartbeatsSent    prometheus.Counter
	HeartbeatTimeouts prometheus.Counter
	PoolByState       *prometheus.GaugeVec
}

// New constructs a Registry and registers every collector with reg. Pass
// prometheus.NewRegistry() in tests to avoid collisions with the global
// default registry.
func New(reg prometheus.Registerer) *Registry {
	r := &Registry{
		RingWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "midimesh", Subsystem: "ring", Name: "written_total",
			Help: "Real-time packets written to the ring buffer.",
		}),
		RingDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "midimesh", Subsystem: "ring", Name: "dropped_total",
			Help: "Real-time packets dropped due to ring buffer overflow.",
		}),
		RingOccupancy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "midimesh", Subsystem: "ring", Name: "occupancy",
			Help: "Ring buffer occupancy of the connection that most recently wrote a real-time packet.",
		}),
		RTSendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "midimesh", Subsystem: "rt", Name: "send_failures_total",
			Help: "Transient UDP send failures on the real-time transport.",
		}),
		NRTMessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "midimesh", Subsystem: "nrt", Name: "messages_sent_total",
			Help: "Non-real-time (SysEx) messages sent.",
		}),
		NRTMessagesRecv: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "midimesh", Subsystem: "nrt", Name: "messages_received_total",
			Help: "Non-real-time (SysEx) messages received.",
		}),
		NRTFragmentsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "midimesh", Subsystem: "nrt", Name: "fragments_sent_total",
			Help: "NRT fragments sent, including retries.",
		}),
		NRTFragmentsRecv: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "midimesh", Subsystem: "nrt", Name: "fragments_received_total",
			Help: "NRT fragments received.",
		}),
		NRTRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "midimesh", Subsystem: "nrt", Name: "retries_total",
			Help: "NRT fragment retransmissions.",
		}),
		NRTFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "midimesh", Subsystem: "nrt", Name: "failures_total",
			Help: "NRT messages that exhausted retries.",
		}),
		HeartbeatsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "midimesh", Subsystem: "heartbeat", Name: "sent_total",
			Help: "Heartbeats sent by the monitor.",
		}),
		HeartbeatTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "midimesh", Subsystem: "heartbeat", Name: "timeouts_total",
			Help: "Heartbeat timeouts detected by the monitor.",
		}),
		PoolByState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "midimesh", Subsystem: "pool", Name: "connections",
			Help: "Pooled connections by state.",
		}, []string{"state"}),
	}

	reg.MustRegister(
		r.RingWritten, r.RingDropped, r.RingOccupancy, r.RTSendFailures,
		r.NRTMessagesSent, r.NRTMessagesRecv, r.NRTFragmentsSent, r.NRTFragmentsRecv,
		r.NRTRetries, r.NRTFailures, r.HeartbeatsSent, r.HeartbeatTimeouts, r.PoolByState,
	)
	return r
}
