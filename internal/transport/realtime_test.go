package transport

import (
	"net"
	"testing"
	"time"

	"github.com/oletizi/midimesh/internal/ringbuffer"
	"github.com/oletizi/midimesh/internal/wire"
)

func udpLoopbackPair(t *testing.T) (sender *net.UDPConn, receiver *net.UDPConn) {
	t.Helper()
	recv, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	send, err := net.DialUDP("udp", nil, recv.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	return send, recv
}

func TestRealTimeDrainsRingToUDP(t *testing.T) {
	send, recv := udpLoopbackPair(t)
	defer send.Close()
	defer recv.Close()

	ring := ringbuffer.New(64)
	rt := NewRealTime(send, ring, nil)
	rt.Start()
	defer rt.Stop()

	pkt := ringbuffer.Packet{DeviceID: 7, Timestamp: 42, Length: 3}
	copy(pkt.Payload[:], []byte{0x90, 0x40, 0x7F})
	ring.Write(pkt)

	recv.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 64)
	n, err := recv.Read(buf)
	if err != nil {
		t.Fatalf("receiver read: %v", err)
	}
	dg, err := wire.DecodeDatagram(buf[:n])
	if err != nil {
		t.Fatalf("DecodeDatagram: %v", err)
	}
	if dg.DeviceID != 7 || dg.Timestamp != 42 || len(dg.Payload) != 3 {
		t.Fatalf("got %+v, want device=7 ts=42 len=3", dg)
	}
}

func TestRealTimeStopIsBoundedAndIdempotent(t *testing.T) {
	send, recv := udpLoopbackPair(t)
	defer recv.Close()

	ring := ringbuffer.New(64)
	rt := NewRealTime(send, ring, nil)
	rt.Start()

	start := time.Now()
	if err := rt.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if elapsed := time.Since(start); elapsed > ShutdownTimeout {
		t.Fatalf("Stop took %v, want <= %v", elapsed, ShutdownTimeout)
	}
	// Idempotent: a second Stop must not hang or panic.
	if err := rt.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	send.Close()
}
