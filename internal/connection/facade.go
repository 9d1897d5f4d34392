package connection

import (
	"errors"
	"log/slog"
	"time"

	"github.com/oletizi/midimesh/internal/discovery"
	"github.com/oletizi/midimesh/internal/queue"
)

var errShutdownTimeout = errors.New("connection: worker did not shut down within the bounded join timeout")

// ErrInvalidConfig is returned by New when the local or remote NodeInfo
// lacks a valid id or ports. A facade is never constructed over a node it
// could never dial or be dialed by.
var ErrInvalidConfig = errors.New("connection: invalid config: local or remote NodeInfo has no valid id/ports")

// Facade is the public, synchronous API of one connection. It owns the
// Worker and the Command Queue; every method except Close is non-blocking
// or bounded by a fixed timeout.
type Facade struct {
	cmds   *queue.Queue[Command]
	worker *Worker
}

// New constructs a Facade and starts its Worker's goroutine. The connection
// begins Disconnected; call Connect to start the handshake. New fails
// construction when cfg's local or remote NodeInfo has no valid id/ports —
// there is no handshake to attempt against an endpoint that can't be dialed.
func New(cfg Config) (*Facade, error) {
	if !cfg.Local.Valid() || !cfg.Remote.Valid() {
		return nil, ErrInvalidConfig
	}
	cmds := queue.New[Command]()
	w := NewWorker(cfg, cmds)
	go w.Run()
	return &Facade{cmds: cmds, worker: w}, nil
}

// Connect is fire-and-forget: pushes Connect and returns immediately.
func (f *Facade) Connect() {
	f.cmds.Push(Command{Kind: CmdConnect})
}

// Disconnect is fire-and-forget.
func (f *Facade) Disconnect() {
	f.cmds.Push(Command{Kind: CmdDisconnect})
}

// SendMidi is fire-and-forget. bytes is not copied — callers must not
// mutate it after calling SendMidi.
func (f *Facade) SendMidi(deviceID uint16, bytes []byte) {
	f.cmds.Push(Command{Kind: CmdSendMidi, DeviceID: deviceID, Bytes: bytes})
}

// NotifyHeartbeat is fire-and-forget; it records that a heartbeat was just
// received from the remote peer.
func (f *Facade) NotifyHeartbeat() {
	f.cmds.Push(Command{Kind: CmdNotifyHeartbeat})
}

// CheckHeartbeat is fire-and-forget; it asks the worker to evaluate the
// heartbeat age against the timeout threshold.
func (f *Facade) CheckHeartbeat() {
	f.cmds.Push(Command{Kind: CmdCheckHeartbeat})
}

// SendHeartbeat sends this connection's keepalive to the remote peer. It is
// how the Heartbeat Monitor sends a heartbeat without a dedicated Command
// kind: the payload is recognized by the remote worker's
// SendMidi/handleMidiReceived path.
func (f *Facade) SendHeartbeat() {
	f.SendMidi(heartbeatDeviceID, heartbeatPayload)
}

func (f *Facade) query(kind Kind) *queryResult {
	cmd, result := newQuery(kind)
	f.cmds.Push(cmd)
	select {
	case <-cmd.done:
		return result
	case <-time.After(DefaultQueryTimeout):
		slog.Warn("connection query timed out", "kind", kind)
		return nil
	}
}

// GetState returns the current connection state, or Disconnected on query
// timeout.
func (f *Facade) GetState() State {
	if r := f.query(CmdGetState); r != nil {
		return r.state
	}
	return Disconnected
}

// GetRemoteNode returns the remote NodeInfo, or the zero value on timeout.
func (f *Facade) GetRemoteNode() discovery.NodeInfo {
	if r := f.query(CmdGetRemoteNode); r != nil {
		return r.node
	}
	return discovery.NodeInfo{}
}

// GetRemoteDevices returns the remote device list, or empty on timeout.
func (f *Facade) GetRemoteDevices() []discovery.DeviceInfo {
	if r := f.query(CmdGetDevices); r != nil {
		return r.devices
	}
	return nil
}

// GetTimeSinceLastHeartbeat returns the heartbeat age, or a value above the
// liveness threshold on timeout.
func (f *Facade) GetTimeSinceLastHeartbeat() time.Duration {
	if r := f.query(CmdGetHeartbeat); r != nil {
		return r.heartbeatAge
	}
	return DefaultHeartbeatTimeout + time.Second
}

// IsAlive reports whether GetTimeSinceLastHeartbeat() is under the default
// heartbeat timeout (3000 ms).
func (f *Facade) IsAlive() bool {
	return f.GetTimeSinceLastHeartbeat() < DefaultHeartbeatTimeout
}

// Close pushes Shutdown and joins the worker goroutine with a bounded
// timeout, never leaking it.
func (f *Facade) Close() error {
	f.cmds.Push(Command{Kind: CmdShutdown})
	select {
	case <-f.worker.Done():
		return nil
	case <-time.After(DefaultShutdownJoin):
		return errShutdownTimeout
	}
}
