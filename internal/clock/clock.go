// Package clock supplies the 32-bit microsecond sender-clock timestamp
// carried on outbound MidiMessages. The base clock is always the system
// wall clock read as Unix microseconds; an optional NTP-derived offset
// sample can be layered on top so timestamps from different nodes on the
// same LAN are comparable even without synchronized wall clocks.
//
// The periodic-query/threshold/phase shape below is grounded on the
// retrieval pack's github.com/beevik/ntp consumer
// (getployz-ployz/internal/signal/ntp/checker.go): a ticker polls an NTP
// pool at a fixed interval, computes an offset, and exposes a small state
// enum for "healthy" vs "degraded" rather than failing hard on a transient
// query error.
package clock

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/beevik/ntp"
)

// Source produces sender timestamps in microseconds, truncated to the
// low 32 bits the wire format carries.
type Source interface {
	NowMicros() uint32
}

// Monotonic is the default Source: the system wall clock
// (time.Now().UnixMicro()), with no cross-node correction. It does not use
// Go's monotonic clock reading, so a step of the system clock moves its
// timestamps; it is not guaranteed comparable across nodes.
type Monotonic struct{}

func (Monotonic) NowMicros() uint32 {
	return uint32(time.Now().UnixMicro())
}

// Phase is the health of the most recent NTP offset sample.
type Phase uint8

const (
	PhaseUnchecked Phase = iota
	PhaseHealthy
	PhaseUnhealthyOffset
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseHealthy:
		return "healthy"
	case PhaseUnhealthyOffset:
		return "unhealthy_offset"
	case PhaseError:
		return "error"
	default:
		return "unchecked"
	}
}

// NTPCorrected layers a periodically-refreshed NTP offset on top of the
// system wall clock. Safe for concurrent use; NowMicros never blocks on
// network I/O — the offset is only ever updated by the background poller.
type NTPCorrected struct {
	server    string
	interval  time.Duration
	threshold time.Duration

	offsetMicros atomic.Int64
	phase        atomic.Uint32
}

// NewNTPCorrected creates a corrected clock that polls server every
// interval. The clock is immediately usable (offset starts at zero, phase
// PhaseUnchecked) — call Run in a goroutine to start correcting it.
func NewNTPCorrected(server string, interval, threshold time.Duration) *NTPCorrected {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	if threshold <= 0 {
		threshold = 500 * time.Millisecond
	}
	return &NTPCorrected{server: server, interval: interval, threshold: threshold}
}

// Run polls the NTP server periodically until ctx is canceled. Start it once,
// in its own goroutine; cmd/meshd does so when -ntp-server is set.
func (c *NTPCorrected) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.poll()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.poll()
		}
	}
}

func (c *NTPCorrected) poll() {
	resp, err := ntp.Query(c.server)
	if err != nil {
		c.phase.Store(uint32(PhaseError))
		slog.Warn("ntp query failed", "server", c.server, "err", err)
		return
	}
	c.offsetMicros.Store(resp.ClockOffset.Microseconds())
	if resp.ClockOffset > c.threshold || resp.ClockOffset < -c.threshold {
		c.phase.Store(uint32(PhaseUnhealthyOffset))
		slog.Warn("ntp offset exceeds threshold", "server", c.server, "offset", resp.ClockOffset, "threshold", c.threshold)
		return
	}
	c.phase.Store(uint32(PhaseHealthy))
}

// Phase reports the health of the most recent sample.
func (c *NTPCorrected) Phase() Phase {
	return Phase(c.phase.Load())
}

// NowMicros returns the system wall clock corrected by the last known NTP
// offset (zero until the first successful poll).
func (c *NTPCorrected) NowMicros() uint32 {
	corrected := time.Now().UnixMicro() + c.offsetMicros.Load()
	return uint32(corrected)
}
