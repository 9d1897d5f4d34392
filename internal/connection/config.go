package connection

import (
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/oletizi/midimesh/internal/clock"
	"github.com/oletizi/midimesh/internal/discovery"
	"github.com/oletizi/midimesh/internal/metrics"
)

// Defaults for ring capacity, queue polling, handshake/heartbeat timeouts,
// query timeout, and the shutdown join bound.
const (
	DefaultRingCapacity     = 2048
	DefaultQueuePollPeriod  = 100 * time.Millisecond
	DefaultHandshakeTimeout = 5 * time.Second
	DefaultHeartbeatTimeout = 3000 * time.Millisecond
	DefaultQueryTimeout     = time.Second
	DefaultShutdownJoin     = 2 * time.Second
)

// heartbeatDeviceID is a reserved device id no real MIDI endpoint ever
// advertises; it tags the keepalive payload a connection's own worker sends
// and recognizes, so the liveness signal needs no new Command kind — a
// heartbeat may travel via whichever channel the protocol defines. The
// payload byte is 0xFE, MIDI's own Active Sensing status — borrowing the
// protocol's native keepalive byte for a keepalive purpose.
const (
	heartbeatDeviceID uint16 = 0xFFFF
)

var heartbeatPayload = []byte{0xFE}

// Config bundles everything a Worker needs to run one connection. It is
// copied into the Worker at construction and never mutated afterward.
type Config struct {
	Local  discovery.NodeInfo
	Remote discovery.NodeInfo

	OnStateChange StateChangeFunc
	OnError       ErrorFunc
	OnDevices     DevicesFunc
	OnMidi        MidiReceivedFunc

	// RingCapacity is the real-time ring buffer's capacity; must be a power
	// of two. Zero selects DefaultRingCapacity.
	RingCapacity int

	// HandshakeTimeout bounds the outbound handshake's connect+read phase.
	// Zero selects DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration

	// HeartbeatTimeout is the liveness threshold CheckHeartbeat compares
	// against. Zero selects DefaultHeartbeatTimeout.
	HeartbeatTimeout time.Duration

	// Clock supplies outbound timestamps. Nil selects clock.Monotonic{}.
	Clock clock.Source

	// Limiter bounds the admission rate of non-real-time SendMidi traffic.
	// Nil means unlimited.
	Limiter *rate.Limiter

	// Tracer, if non-nil, wraps the Connect handshake sequence in a span.
	Tracer trace.Tracer

	// Metrics, if non-nil, receives the connection's transport and ring
	// buffer counters.
	Metrics *metrics.Registry
}

func (c Config) ringCapacity() int {
	if c.RingCapacity <= 0 {
		return DefaultRingCapacity
	}
	return c.RingCapacity
}

func (c Config) handshakeTimeout() time.Duration {
	if c.HandshakeTimeout <= 0 {
		return DefaultHandshakeTimeout
	}
	return c.HandshakeTimeout
}

func (c Config) heartbeatTimeout() time.Duration {
	if c.HeartbeatTimeout <= 0 {
		return DefaultHeartbeatTimeout
	}
	return c.HeartbeatTimeout
}

func (c Config) clockSource() clock.Source {
	if c.Clock == nil {
		return clock.Monotonic{}
	}
	return c.Clock
}
