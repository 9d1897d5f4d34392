// Package ringbuffer implements the single-producer/single-consumer
// real-time packet queue used to decouple the MIDI input callback from the
// UDP sender thread.
//
// The slot-indexed layout and atomic bookkeeping are grounded on the
// per-sender datagram cache in the teacher's server/client.go
// (dgramCache [dgramCacheSize]cachedDatagram, cacheDatagram/getCachedDatagram
// indexed by seq % len(cache)) generalized from a mutex-guarded lookup table
// into a lock-free SPSC queue with monotonic atomic indices, the way
// sync/atomic-heavy queue disciplines in the retrieval pack (wireguard's
// outbound queue, ublk's queue runner) separate producer and consumer state.
package ringbuffer

import "sync/atomic"

// MaxPayload is the largest MIDI payload a Packet can carry — enough for
// any Channel Voice or System Real-Time message.
const MaxPayload = 4

// DefaultCapacity is the recommended ring size: a power of two.
const DefaultCapacity = 2048

// Packet is a fixed-size real-time record: MIDI payload, its length, the
// owning device id, and the sender's timestamp in microseconds.
type Packet struct {
	DeviceID  uint16
	Timestamp uint32
	Length    uint8
	Payload   [MaxPayload]byte
}

// Stats is a point-in-time snapshot of the ring buffer's atomic counters.
type Stats struct {
	Written   uint64
	Read      uint64
	Dropped   uint64
	Occupancy uint64
	Free      uint64
	DropRate  float64
}

// Ring is a fixed-capacity lock-free queue with drop-oldest overflow.
// Exactly one goroutine may call Write; exactly one goroutine may call Read.
// Both are safe to call concurrently with each other (never with themselves).
type Ring struct {
	capacity uint64
	mask     uint64
	slots    []slot

	writeIdx atomic.Uint64 // next slot to be written; producer-owned
	readIdx  atomic.Uint64 // next slot to be read; consumer-owned

	written atomic.Uint64
	read    atomic.Uint64
	dropped atomic.Uint64
}

type slot struct {
	pkt   Packet
	ready atomic.Bool // release-published by Write, acquire-observed by Read
}

// New creates a Ring of the given capacity, which must be a power of two.
// Panics otherwise — this is a construction-time invariant, not a runtime
// error a caller can recover from.
func New(capacity int) *Ring {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		panic("ringbuffer: capacity must be a positive power of two")
	}
	return &Ring{
		capacity: uint64(capacity),
		mask:     uint64(capacity - 1),
		slots:    make([]slot, capacity),
	}
}

// Write publishes pkt into the ring. It never blocks. When the ring is
// full, it drops the oldest unread packet to make room (drop-oldest
// overflow policy) and reports dropped=true. Write is never an error:
// dropping is not a failure.
func (r *Ring) Write(pkt Packet) (dropped bool) {
	w := r.writeIdx.Load()
	read := r.readIdx.Load()

	if w-read >= r.capacity {
		// Full: advance the read index by one, evicting the oldest entry.
		// If a concurrent Read already moved readIdx, it consumed that slot
		// itself — it counts toward r.read, not r.dropped.
		if r.readIdx.CompareAndSwap(read, read+1) {
			r.dropped.Add(1)
			dropped = true
		}
	}

	idx := w & r.mask
	s := &r.slots[idx]
	s.pkt = pkt
	s.ready.Store(true) // release: payload write happens-before this flag

	r.writeIdx.Store(w + 1)
	r.written.Add(1)
	return dropped
}

// Read drains up to len(batch) packets into batch, never blocking, and
// returns the number actually drained.
func (r *Ring) Read(batch []Packet) int {
	n := 0
	for n < len(batch) {
		read := r.readIdx.Load()
		w := r.writeIdx.Load()
		if read >= w {
			break
		}
		idx := read & r.mask
		s := &r.slots[idx]
		if !s.ready.Load() { // acquire: pairs with Write's release
			break
		}
		batch[n] = s.pkt
		s.ready.Store(false)
		if !r.readIdx.CompareAndSwap(read, read+1) {
			// A concurrent drop-oldest eviction moved readIdx under us;
			// the packet we just copied may already have been overwritten.
			// Re-read from the (now advanced) index on the next iteration.
			continue
		}
		n++
	}
	if n > 0 {
		r.read.Add(uint64(n))
	}
	return n
}

// Stats returns a snapshot of the ring's lock-free atomic counters.
func (r *Ring) Stats() Stats {
	written := r.written.Load()
	read := r.read.Load()
	dropped := r.dropped.Load()
	occ := r.writeIdx.Load() - r.readIdx.Load()
	free := r.capacity - occ
	var rate float64
	if written > 0 {
		rate = float64(dropped) / float64(written)
	}
	return Stats{
		Written:   written,
		Read:      read,
		Dropped:   dropped,
		Occupancy: occ,
		Free:      free,
		DropRate:  rate,
	}
}

// Capacity returns the fixed capacity of the ring.
func (r *Ring) Capacity() int { return int(r.capacity) }
