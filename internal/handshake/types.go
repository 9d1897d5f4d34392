// Package handshake implements the control-plane handshake: an HTTP POST
// to /network/handshake that negotiates the remote UDP endpoint and
// exchanges device advertisements.
package handshake

import "github.com/oletizi/midimesh/internal/discovery"

// Request is the JSON body a connecting node POSTs.
type Request struct {
	NodeID      string `json:"node_id"`
	NodeName    string `json:"node_name"`
	UDPEndpoint string `json:"udp_endpoint"`
	Version     string `json:"version"`
}

// deviceJSON mirrors one entry of the response's "devices" array.
type deviceJSON struct {
	ID   uint16 `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"` // "input" | "output"
}

// Response is the JSON body a handshake peer replies with.
type Response struct {
	UDPEndpoint string       `json:"udp_endpoint"`
	Devices     []deviceJSON `json:"devices"`
}

// ToDeviceInfo converts the wire response's device list to the internal
// DeviceInfo shape.
func (r Response) ToDeviceInfo() []discovery.DeviceInfo {
	out := make([]discovery.DeviceInfo, 0, len(r.Devices))
	for _, d := range r.Devices {
		dir := discovery.DirectionInput
		if d.Type == "output" {
			dir = discovery.DirectionOutput
		}
		out = append(out, discovery.DeviceInfo{ID: d.ID, Name: d.Name, Direction: dir})
	}
	return out
}

// FromDevices converts the internal DeviceInfo shape to the wire response
// format, used by the server side when answering an inbound handshake.
func FromDevices(devices []discovery.DeviceInfo) []deviceJSON {
	out := make([]deviceJSON, 0, len(devices))
	for _, d := range devices {
		out = append(out, deviceJSON{ID: d.ID, Name: d.Name, Type: d.Direction.String()})
	}
	return out
}
