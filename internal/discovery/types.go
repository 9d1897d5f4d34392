// Package discovery holds the data types and event boundary shared with the
// mDNS service-discovery collaborator, which is treated as external: this
// package only defines the shapes discovery events carry and the interface
// the Mesh Manager reacts to.
package discovery

import "github.com/google/uuid"

// Direction is the data direction of a remote MIDI device.
type Direction uint8

const (
	DirectionInput Direction = iota
	DirectionOutput
)

func (d Direction) String() string {
	if d == DirectionOutput {
		return "output"
	}
	return "input"
}

// NodeInfo identifies a peer on the mesh. It is produced by discovery,
// copied freely, and never mutated after construction.
type NodeInfo struct {
	ID              uuid.UUID
	Name            string
	Hostname        string
	IP              string
	HTTPPort        int
	UDPPort         int
	ProtocolVersion string
	DeviceCount     int
}

// Valid reports whether n has a non-null identifier and both ports positive
// — the minimum a facade needs to dial or be dialed.
func (n NodeInfo) Valid() bool {
	return n.ID != uuid.Nil && n.HTTPPort > 0 && n.UDPPort > 0
}

// DeviceInfo is a remote MIDI endpoint advertised by a peer.
type DeviceInfo struct {
	ID        uint16
	Name      string
	Direction Direction
}

// Listener is the in-process discovery boundary. Discovery may invoke
// either method from any goroutine.
type Listener interface {
	OnNodeDiscovered(node NodeInfo)
	OnNodeRemoved(id uuid.UUID)
}
