package connection

import "github.com/oletizi/midimesh/internal/discovery"

// State is the finite state machine of a single connection.
type State uint8

const (
	// Disconnected is both the initial and the terminal "at rest" state.
	Disconnected State = iota
	// Connecting means a handshake is in flight.
	Connecting
	// Connected means the connection is operational.
	Connected
	// Failed is a terminal error state, distinct from Disconnected so the
	// cause of failure is preserved for callers/observers.
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// StateChangeFunc is invoked by the Connection Worker, on its own thread,
// strictly after a state mutation has been applied. It must never block on
// anything that could in turn wait on the worker.
type StateChangeFunc func(old, new State)

// ErrorFunc reports an error: handshake failure, socket bind failure,
// heartbeat timeout, or a fatal transport error (each of which moves the
// connection to Failed), or a non-real-time message that exhausted its
// retries (which leaves the state unchanged).
type ErrorFunc func(reason string)

// DevicesFunc is invoked once the handshake response has been parsed and the
// remote device list is known.
type DevicesFunc func(devices []discovery.DeviceInfo)

// MidiReceivedFunc is invoked, on the worker thread, for every inbound MIDI
// message — real-time or non-real-time.
type MidiReceivedFunc func(msg MidiMessage)
