// Package connection implements the per-peer Connection Subsystem: a
// single-threaded SEDA worker that owns connection state and the transports,
// a facade that multiplexes callers onto the worker via a command queue, and
// the two shared with them (state machine, command variants).
//
// The loop shape — wait_and_pop with a bounded timeout, dispatch by kind,
// callbacks fired only after the mutation completes and only from the
// worker's own goroutine — is grounded on the teacher's per-client
// goroutines (server/client.go's readControl/readDatagrams loops) and its
// RunMetrics ticker (server/metrics.go): one goroutine, one owner, no shared
// mutable state reached from outside without going through it.
package connection

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/oletizi/midimesh/internal/discovery"
	"github.com/oletizi/midimesh/internal/handshake"
	"github.com/oletizi/midimesh/internal/midi"
	"github.com/oletizi/midimesh/internal/queue"
	"github.com/oletizi/midimesh/internal/ringbuffer"
	"github.com/oletizi/midimesh/internal/transport"
	"github.com/oletizi/midimesh/internal/wire"
)

// Worker is the single-threaded owner of one connection's state and
// transports. Every exported method except Run is safe to call from any
// goroutine: Done only returns the channel Run closes on exit.
type Worker struct {
	cfg    Config
	cmds   *queue.Queue[Command]
	client *handshake.Client

	// Everything below this line is touched only from Run's goroutine.
	state         State
	lastHeartbeat time.Time
	remoteDevices []discovery.DeviceInfo

	udpConn *net.UDPConn
	tcpConn net.Conn
	ring    *ringbuffer.Ring
	rt      *transport.RealTime
	nrt     *transport.Reliable

	doneCh chan struct{}
}

// NewWorker constructs a Worker bound to cmds. The caller is responsible for
// starting Run in its own goroutine: one dedicated thread per connection,
// created at construction.
func NewWorker(cfg Config, cmds *queue.Queue[Command]) *Worker {
	return &Worker{
		cfg:    cfg,
		cmds:   cmds,
		client: handshake.NewClient(),
		state:  Disconnected,
		doneCh: make(chan struct{}),
	}
}

// Done is closed once Run has returned, after processing a Shutdown command.
func (w *Worker) Done() <-chan struct{} { return w.doneCh }

// Run is the event loop body: wait on the queue with a bounded timeout,
// dispatch whatever arrives, repeat until Shutdown.
func (w *Worker) Run() {
	defer close(w.doneCh)
	for {
		cmd, ok := w.cmds.WaitAndPop(DefaultQueuePollPeriod)
		if !ok {
			continue // timeout: nothing to do, loop back and check again
		}
		w.dispatch(cmd)
		if cmd.Kind == CmdShutdown {
			return
		}
	}
}

func (w *Worker) dispatch(cmd Command) {
	switch cmd.Kind {
	case CmdConnect:
		w.handleConnect()
	case CmdDisconnect:
		w.handleDisconnect()
	case CmdCheckHeartbeat:
		w.handleCheckHeartbeat()
	case CmdNotifyHeartbeat:
		w.lastHeartbeat = time.Now()
	case CmdSendMidi:
		w.handleSendMidi(cmd.DeviceID, cmd.Bytes)
	case CmdGetState:
		cmd.result.state = w.state
		cmd.signal()
	case CmdGetRemoteNode:
		cmd.result.node = w.cfg.Remote
		cmd.signal()
	case CmdGetDevices:
		cmd.result.devices = append([]discovery.DeviceInfo(nil), w.remoteDevices...)
		cmd.signal()
	case CmdGetHeartbeat:
		cmd.result.heartbeatAge = w.heartbeatAge()
		cmd.signal()
	case CmdShutdown:
		w.handleDisconnect()
	case cmdMidiReceived:
		w.handleMidiReceived(cmd.Midi)
	case cmdRTFatal:
		w.handleRTFatal(cmd.Reason)
	case cmdNRTFailure:
		if w.cfg.OnError != nil {
			w.cfg.OnError(cmd.Reason)
		}
	}
}

func (w *Worker) heartbeatAge() time.Duration {
	if w.lastHeartbeat.IsZero() {
		return w.cfg.heartbeatTimeout() + time.Second // safely "not alive"
	}
	return time.Since(w.lastHeartbeat)
}

func (w *Worker) setState(next State) {
	if w.state == next {
		return
	}
	old := w.state
	w.state = next
	if w.cfg.OnStateChange != nil {
		w.cfg.OnStateChange(old, next)
	}
}

// handleConnect runs the full connect sequence: handshake, then transport
// setup. Any failure along the sequence tears down whatever was already
// opened and transitions to Failed.
func (w *Worker) handleConnect() {
	if w.state == Connecting || w.state == Connected {
		return
	}
	w.setState(Connecting)

	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.handshakeTimeout())
	defer cancel()

	if w.cfg.Tracer != nil {
		var span trace.Span
		ctx, span = w.cfg.Tracer.Start(ctx, "connection.Connect")
		defer span.End()
	}

	localIP := net.ParseIP(w.cfg.Local.IP)
	localPort, err := reserveUDPPort(localIP)
	if err != nil {
		w.failConnect(fmt.Sprintf("bind UDP socket: %v", err))
		return
	}
	localUDPEndpoint := net.JoinHostPort(w.cfg.Local.IP, strconv.Itoa(localPort))

	req := handshake.Request{
		NodeID:      w.cfg.Local.ID.String(),
		NodeName:    w.cfg.Local.Name,
		UDPEndpoint: localUDPEndpoint,
		Version:     w.cfg.Local.ProtocolVersion,
	}
	remoteHTTP := net.JoinHostPort(w.cfg.Remote.IP, strconv.Itoa(w.cfg.Remote.HTTPPort))

	resp, err := w.client.Do(ctx, remoteHTTP, req)
	if err != nil {
		w.failConnect(fmt.Sprintf("Handshake failed: %v", err))
		return
	}

	remoteUDPAddr, err := net.ResolveUDPAddr("udp", resp.UDPEndpoint)
	if err != nil {
		w.failConnect(fmt.Sprintf("Handshake failed: invalid udp_endpoint %q: %v", resp.UDPEndpoint, err))
		return
	}

	udpConn, err := net.DialUDP("udp", &net.UDPAddr{IP: localIP, Port: localPort}, remoteUDPAddr)
	if err != nil {
		w.failConnect(fmt.Sprintf("bind UDP socket: %v", err))
		return
	}

	tcpAddr := net.JoinHostPort(w.cfg.Remote.IP, strconv.Itoa(w.cfg.Remote.HTTPPort+1))
	tcpConn, err := net.DialTimeout("tcp", tcpAddr, w.cfg.handshakeTimeout())
	if err != nil {
		_ = udpConn.Close()
		w.failConnect(fmt.Sprintf("Handshake failed: reliable channel dial: %v", err))
		return
	}

	ring := ringbuffer.New(w.cfg.ringCapacity())
	rt := transport.NewRealTime(udpConn, ring, w.onRTFatal)
	nrt := transport.NewReliable(tcpConn, w.onNRTMessage, w.onNRTFailure)
	if w.cfg.Metrics != nil {
		rt.SetMetrics(w.cfg.Metrics)
		nrt.SetMetrics(w.cfg.Metrics)
	}
	rt.Start()
	nrt.Start()

	w.udpConn = udpConn
	w.tcpConn = tcpConn
	w.ring = ring
	w.rt = rt
	w.nrt = nrt
	w.remoteDevices = resp.ToDeviceInfo()
	w.lastHeartbeat = time.Now()

	go w.readInboundDatagrams(udpConn)

	w.setState(Connected)
	if w.cfg.OnDevices != nil {
		w.cfg.OnDevices(w.remoteDevices)
	}
}

func (w *Worker) failConnect(reason string) {
	w.setState(Failed)
	slog.Warn("connect failed", "remote", w.cfg.Remote.ID, "reason", reason)
	if w.cfg.OnError != nil {
		w.cfg.OnError(reason)
	}
}

// handleDisconnect tears down the connection's transports and returns it to
// Disconnected. Idempotent: a second call while already Disconnected is a
// no-op with no callback.
func (w *Worker) handleDisconnect() {
	if w.state == Disconnected {
		return
	}
	if w.rt != nil {
		_ = w.rt.Stop()
		w.rt = nil
	}
	if w.nrt != nil {
		_ = w.nrt.Stop()
		w.nrt = nil
	}
	if w.udpConn != nil {
		_ = w.udpConn.Close()
		w.udpConn = nil
	}
	if w.tcpConn != nil {
		_ = w.tcpConn.Close()
		w.tcpConn = nil
	}
	w.ring = nil
	w.remoteDevices = nil
	w.setState(Disconnected)
}

func (w *Worker) handleCheckHeartbeat() {
	if w.state != Connected {
		return
	}
	if time.Since(w.lastHeartbeat) > w.cfg.heartbeatTimeout() {
		w.setState(Failed)
		if w.cfg.OnError != nil {
			w.cfg.OnError("heartbeat timeout")
		}
	}
}

func (w *Worker) handleSendMidi(deviceID uint16, body []byte) {
	if w.state != Connected || len(body) == 0 {
		slog.Debug("dropping send_midi: not connected or empty payload", "device_id", deviceID, "state", w.state)
		return
	}

	if deviceID == heartbeatDeviceID {
		// Heartbeats always travel reliably, bypassing classification; the
		// protocol leaves the exact channel unspecified, so any is permitted.
		if w.nrt != nil {
			if err := w.nrt.Send(deviceID, body); err != nil {
				slog.Warn("heartbeat send failed", "remote", w.cfg.Remote.ID, "err", err)
			}
		}
		return
	}

	switch midi.Classify(body) {
	case midi.RealTime:
		if len(body) > ringbuffer.MaxPayload {
			slog.Debug("dropping oversize real-time midi message", "device_id", deviceID, "len", len(body))
			return
		}
		if w.ring == nil {
			return
		}
		var pkt ringbuffer.Packet
		pkt.DeviceID = deviceID
		pkt.Timestamp = w.cfg.clockSource().NowMicros()
		pkt.Length = uint8(len(body))
		copy(pkt.Payload[:], body)
		dropped := w.ring.Write(pkt)
		if m := w.cfg.Metrics; m != nil {
			m.RingWritten.Inc()
			if dropped {
				m.RingDropped.Inc()
			}
			m.RingOccupancy.Set(float64(w.ring.Stats().Occupancy))
		}
	case midi.NonRealTime:
		if w.nrt == nil {
			return
		}
		if w.cfg.Limiter != nil && !w.cfg.Limiter.Allow() {
			slog.Debug("dropping non-real-time midi message: rate limit exceeded", "device_id", deviceID)
			return
		}
		if err := w.nrt.Send(deviceID, body); err != nil {
			slog.Warn("non-real-time send failed", "remote", w.cfg.Remote.ID, "err", err)
			return
		}
		if m := w.cfg.Metrics; m != nil {
			m.NRTMessagesSent.Inc()
		}
	}
}

// handleMidiReceived dispatches an inbound message, from either transport,
// on the worker thread. A message on heartbeatDeviceID is the keepalive
// signal, not user MIDI traffic.
func (w *Worker) handleMidiReceived(msg MidiMessage) {
	if msg.DeviceID == heartbeatDeviceID {
		w.lastHeartbeat = time.Now()
		return
	}
	if w.cfg.OnMidi != nil {
		w.cfg.OnMidi(msg)
	}
}

func (w *Worker) handleRTFatal(reason string) {
	if w.state != Connected {
		return
	}
	w.setState(Failed)
	if w.cfg.OnError != nil {
		w.cfg.OnError(reason)
	}
}

// onRTFatal is invoked from the RealTime transport's own goroutine; it must
// not touch worker state directly, so it routes through the command queue.
func (w *Worker) onRTFatal(err error) {
	w.cmds.Push(Command{Kind: cmdRTFatal, Reason: fmt.Sprintf("real-time transport failed: %v", err)})
}

// onNRTMessage is invoked from the Reliable transport's receiver goroutine.
func (w *Worker) onNRTMessage(deviceID uint16, payload []byte) {
	if m := w.cfg.Metrics; m != nil {
		m.NRTMessagesRecv.Inc()
	}
	w.cmds.Push(Command{
		Kind: cmdMidiReceived,
		Midi: MidiMessage{DeviceID: deviceID, Bytes: payload, Timestamp: w.cfg.clockSource().NowMicros()},
	})
}

// onNRTFailure is invoked from the Reliable transport's retry goroutine.
func (w *Worker) onNRTFailure(seq uint32, err error) {
	if m := w.cfg.Metrics; m != nil {
		m.NRTFailures.Inc()
	}
	w.cmds.Push(Command{Kind: cmdNRTFailure, Reason: fmt.Sprintf("non-real-time message seq=%d failed: %v", seq, err)})
}

// readInboundDatagrams forwards decoded real-time datagrams to the worker
// as commands — every inbound event is forwarded as a command, never
// handled inline on the reader goroutine. It exits once udpConn is closed
// by Disconnect/Shutdown.
func (w *Worker) readInboundDatagrams(conn *net.UDPConn) {
	buf := make([]byte, wire.DatagramHeaderSize+wire.MaxDatagramPayload)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		dg, err := wire.DecodeDatagram(buf[:n])
		if err != nil {
			continue
		}
		w.cmds.Push(Command{
			Kind: cmdMidiReceived,
			Midi: MidiMessage{DeviceID: dg.DeviceID, Bytes: dg.Payload, Timestamp: dg.Timestamp},
		})
	}
}

// reserveUDPPort binds an ephemeral UDP port long enough to learn its
// number, then releases it so the real, remote-connected socket can bind to
// the same port once the handshake response is known. This mirrors how a
// node must publish its UDP endpoint before it knows the peer's.
func reserveUDPPort(ip net.IP) (int, error) {
	ln, err := net.ListenUDP("udp", &net.UDPAddr{IP: ip, Port: 0})
	if err != nil {
		return 0, err
	}
	port := ln.LocalAddr().(*net.UDPAddr).Port
	if err := ln.Close(); err != nil {
		return 0, err
	}
	return port, nil
}
