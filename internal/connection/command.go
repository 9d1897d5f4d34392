package connection

import (
	"time"

	"github.com/oletizi/midimesh/internal/discovery"
)

// Kind tags a Command's variant.
type Kind uint8

const (
	CmdConnect Kind = iota
	CmdDisconnect
	CmdCheckHeartbeat
	CmdNotifyHeartbeat
	CmdSendMidi
	CmdGetState
	CmdGetRemoteNode
	CmdGetDevices
	CmdGetHeartbeat
	CmdShutdown

	// cmdMidiReceived is not part of the public Facade API. The RT and NRT
	// receiver goroutines push it so that message-received handling always
	// runs on the worker thread, the same way every other state-touching
	// effect does.
	cmdMidiReceived

	// cmdRTFatal is pushed by the Real-Time Transport's sender goroutine on
	// a fatal socket error. The worker transitions to Failed and invokes
	// the error callback, keeping that mutation on the worker thread like
	// every other one.
	cmdRTFatal

	// cmdNRTFailure is pushed by the Non-Real-Time Transport's retry
	// goroutine when a message exhausts its retries. Unlike cmdRTFatal it
	// is not a state transition — the connection remains up.
	cmdNRTFailure
)

// MidiMessage is the wire unit exchanged between nodes: a target device
// id, a raw MIDI byte sequence, and the sender's microsecond timestamp.
type MidiMessage struct {
	DeviceID  uint16
	Bytes     []byte
	Timestamp uint32
}

// queryResult is the result slot a query Command carries, filled by the
// worker before the completion primitive (done) is signaled.
type queryResult struct {
	state        State
	node         discovery.NodeInfo
	devices      []discovery.DeviceInfo
	heartbeatAge time.Duration
}

// Command is the tagged variant the Command Queue delivers to the worker.
type Command struct {
	Kind     Kind
	DeviceID uint16
	Bytes    []byte
	Midi     MidiMessage // cmdMidiReceived payload
	Reason   string      // cmdRTFatal / cmdNRTFailure payload

	done   chan struct{}
	result *queryResult
}

func newQuery(kind Kind) (Command, *queryResult) {
	res := &queryResult{}
	return Command{Kind: kind, done: make(chan struct{}), result: res}, res
}

// signal closes the completion primitive, waking the query's waiter. Safe to
// call at most once per Command — the worker calls it exactly once per
// query, immediately after filling result.
func (c Command) signal() {
	close(c.done)
}
