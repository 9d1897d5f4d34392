// Package transport implements the two independent transports of the
// dual-transport MIDI pipeline: a UDP sender draining the real-time ring
// buffer, and a TCP sender/receiver pair implementing fragmentation,
// acknowledgement and retry for SysEx.
//
// The dedicated-goroutine-per-direction shape, with a running flag and a
// bounded-wait Stop, is grounded on the teacher's RunMetrics/room ticker
// goroutines (server/metrics.go) and on the wireguard outbound-queue
// send loop in the retrieval pack (a dedicated sender draining a queue
// into a socket, transient errors counted rather than propagated).
package transport

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oletizi/midimesh/internal/metrics"
	"github.com/oletizi/midimesh/internal/ringbuffer"
	"github.com/oletizi/midimesh/internal/wire"
)

// BatchSize is the number of packets drained from the ring buffer per
// sender-loop iteration.
const BatchSize = 16

// idlePoll is how long the sender loop sleeps when the ring is empty. It is
// a polling fallback for a drain loop that must never block, not worth the
// complexity of a dedicated wakeup primitive.
const idlePoll = 500 * time.Microsecond

// ShutdownTimeout bounds how long Stop waits for the sender loop to drain
// and exit.
const ShutdownTimeout = time.Second

// RealTime drains a Ring into UDP datagrams addressed to a single remote
// endpoint. Exactly one goroutine (started by Start) consumes the ring.
type RealTime struct {
	conn *net.UDPConn
	ring *ringbuffer.Ring

	onFatal func(err error)

	running atomic.Bool
	sent    atomic.Uint64
	failed  atomic.Uint64

	stopCh chan struct{}
	doneCh chan struct{}
	wg     sync.WaitGroup

	metr *metrics.Registry
}

// SetMetrics attaches a Registry whose RT send-failure counter mirrors this
// transport's own atomic Stats(). Optional; must be called before Start.
func (t *RealTime) SetMetrics(m *metrics.Registry) { t.metr = m }

// NewRealTime constructs a RealTime transport over an already-connected UDP
// socket (net.DialUDP to the remote's advertised endpoint). onFatal is
// invoked at most once, from the sender goroutine, on a fatal socket error.
func NewRealTime(conn *net.UDPConn, ring *ringbuffer.Ring, onFatal func(error)) *RealTime {
	return &RealTime{
		conn:    conn,
		ring:    ring,
		onFatal: onFatal,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start launches the sender goroutine. Must be called at most once.
func (t *RealTime) Start() {
	t.running.Store(true)
	t.wg.Add(1)
	go t.loop()
}

func (t *RealTime) loop() {
	defer t.wg.Done()
	defer close(t.doneCh)

	batch := make([]ringbuffer.Packet, BatchSize)
	for {
		select {
		case <-t.stopCh:
			t.drainOnce(batch) // best-effort final drain before exit
			return
		default:
		}
		if !t.running.Load() {
			return // stopped by Stop, or a fatal socket error already reported by send()
		}

		n := t.ring.Read(batch)
		if n == 0 {
			time.Sleep(idlePoll)
			continue
		}
		t.send(batch[:n])
	}
}

func (t *RealTime) drainOnce(batch []ringbuffer.Packet) {
	if n := t.ring.Read(batch); n > 0 {
		t.send(batch[:n])
	}
}

func (t *RealTime) send(packets []ringbuffer.Packet) {
	for _, pkt := range packets {
		buf, err := wire.EncodeDatagram(wire.Datagram{
			DeviceID:  pkt.DeviceID,
			Timestamp: pkt.Timestamp,
			Payload:   pkt.Payload[:pkt.Length],
		})
		if err != nil {
			// Encoding only fails for payload lengths the ring buffer itself
			// guarantees are in range; defensive, never expected in practice.
			t.failed.Add(1)
			t.bumpFailures()
			continue
		}

		if _, err := t.conn.Write(buf); err != nil {
			if errors.Is(err, net.ErrClosed) {
				t.fatal(err)
				return
			}
			t.failed.Add(1)
			t.bumpFailures()
			continue
		}
		t.sent.Add(1)
	}
}

func (t *RealTime) bumpFailures() {
	if t.metr != nil {
		t.metr.RTSendFailures.Inc()
	}
}

func (t *RealTime) fatal(err error) {
	if !t.running.CompareAndSwap(true, false) {
		return
	}
	if t.onFatal != nil {
		t.onFatal(err)
	}
}

// Stop signals the sender goroutine to finish and waits up to
// ShutdownTimeout for it to exit.
func (t *RealTime) Stop() error {
	if !t.running.CompareAndSwap(true, false) {
		return nil // already stopped
	}
	close(t.stopCh)

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(ShutdownTimeout):
		return errors.New("transport: real-time sender did not stop within timeout")
	}
}

// Stats returns (sent, failed) counters.
func (t *RealTime) Stats() (sent, failed uint64) {
	return t.sent.Load(), t.failed.Load()
}
