// Package wire implements the binary layouts of the real-time UDP datagram
// and the reliable TCP frame header. Both are little-endian,
// fixed-offset layouts in the manual-offset decoding style of the pack's
// go-midi-rtp codec (device id / timestamp / length fields read at fixed
// byte offsets with encoding/binary), rather than encoding/gob or a
// schema-driven serializer — the wire format must be bit-exact and
// cross-language-interoperable, which rules out Go-specific encoders.
package wire

import (
	"encoding/binary"
	"errors"
)

// ErrShort is returned when a buffer is too small to contain a valid record,
// or when its payload length field is 0 or above MaxDatagramPayload.
var ErrShort = errors.New("wire: buffer too short")

// ErrPayloadTooLarge is returned when a real-time payload exceeds 4 bytes;
// EncodeDatagram also returns it for an empty payload.
var ErrPayloadTooLarge = errors.New("wire: real-time payload exceeds 4 bytes")

// DatagramHeaderSize is the fixed portion of a real-time datagram, before
// the variable-length payload:
//
//	offset 0: uint16 device id
//	offset 2: uint32 sender timestamp (microseconds)
//	offset 6: uint8  payload length L (1..4)
//	offset 7: L bytes of payload
const DatagramHeaderSize = 7

// MaxDatagramPayload is the largest real-time payload a datagram can carry.
const MaxDatagramPayload = 4

// Datagram is the decoded form of a real-time UDP packet.
type Datagram struct {
	DeviceID  uint16
	Timestamp uint32
	Payload   []byte
}

// EncodeDatagram writes d into a newly allocated little-endian buffer.
func EncodeDatagram(d Datagram) ([]byte, error) {
	if len(d.Payload) == 0 || len(d.Payload) > MaxDatagramPayload {
		return nil, ErrPayloadTooLarge
	}
	buf := make([]byte, DatagramHeaderSize+len(d.Payload))
	binary.LittleEndian.PutUint16(buf[0:2], d.DeviceID)
	binary.LittleEndian.PutUint32(buf[2:6], d.Timestamp)
	buf[6] = byte(len(d.Payload))
	copy(buf[7:], d.Payload)
	return buf, nil
}

// DecodeDatagram parses a real-time UDP packet payload.
func DecodeDatagram(buf []byte) (Datagram, error) {
	if len(buf) < DatagramHeaderSize {
		return Datagram{}, ErrShort
	}
	length := int(buf[6])
	if length == 0 || length > MaxDatagramPayload || len(buf) < DatagramHeaderSize+length {
		return Datagram{}, ErrShort
	}
	payload := make([]byte, length)
	copy(payload, buf[7:7+length])
	return Datagram{
		DeviceID:  binary.LittleEndian.Uint16(buf[0:2]),
		Timestamp: binary.LittleEndian.Uint32(buf[2:6]),
		Payload:   payload,
	}, nil
}
