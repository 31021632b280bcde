// Package metrics provides lightweight, lock-free counters and gauges
// for tracking runtime statistics of an SSH session.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"sshexec/internal/engine"
)

// Collector tracks runtime metrics for one session.
// A nil Collector is safe to use; all methods become no-ops.
type Collector struct {
	channelsActive    atomic.Int64
	channelsTotal     atomic.Int64
	bytesPrimary      atomic.Int64
	bytesExtended     atomic.Int64
	wouldBlockWaits   atomic.Int64
	readinessTimeouts atomic.Int64
	authFailures      atomic.Int64
	errorsTotal       atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Channel metrics ──────────────────────────────────────────────────

// ChannelOpened increments both the active and total counters.
func (c *Collector) ChannelOpened() {
	if c == nil {
		return
	}
	c.channelsActive.Add(1)
	c.channelsTotal.Add(1)
}

// ChannelClosed decrements the active channel counter.
func (c *Collector) ChannelClosed() {
	if c == nil {
		return
	}
	c.channelsActive.Add(-1)
}

// ActiveChannels returns the current number of live channels.
func (c *Collector) ActiveChannels() int64 {
	if c == nil {
		return 0
	}
	return c.channelsActive.Load()
}

// TotalChannels returns the lifetime channel count.
func (c *Collector) TotalChannels() int64 {
	if c == nil {
		return 0
	}
	return c.channelsTotal.Load()
}

// ── Stream metrics ───────────────────────────────────────────────────

// BytesReceived records n bytes delivered on stream.
func (c *Collector) BytesReceived(stream engine.StreamID, n int64) {
	if c == nil {
		return
	}
	if stream == engine.Extended {
		c.bytesExtended.Add(n)
		return
	}
	c.bytesPrimary.Add(n)
}

// PrimaryBytes returns total bytes received on primary streams.
func (c *Collector) PrimaryBytes() int64 {
	if c == nil {
		return 0
	}
	return c.bytesPrimary.Load()
}

// ExtendedBytes returns total bytes received on extended streams.
func (c *Collector) ExtendedBytes() int64 {
	if c == nil {
		return 0
	}
	return c.bytesExtended.Load()
}

// ── Blocking metrics ─────────────────────────────────────────────────

// WouldBlock records one readiness wait issued by the blocking adapter.
func (c *Collector) WouldBlock() {
	if c == nil {
		return
	}
	c.wouldBlockWaits.Add(1)
}

// WouldBlockWaits returns the number of readiness waits issued.
func (c *Collector) WouldBlockWaits() int64 {
	if c == nil {
		return 0
	}
	return c.wouldBlockWaits.Load()
}

// ReadinessTimeout records a readiness wait that ran out its timeout.
func (c *Collector) ReadinessTimeout() {
	if c == nil {
		return
	}
	c.readinessTimeouts.Add(1)
}

// ReadinessTimeouts returns the number of timed-out readiness waits.
func (c *Collector) ReadinessTimeouts() int64 {
	if c == nil {
		return 0
	}
	return c.readinessTimeouts.Load()
}

// ── Error metrics ────────────────────────────────────────────────────

// AuthFailure records a rejected authentication attempt.
func (c *Collector) AuthFailure() {
	if c == nil {
		return
	}
	c.authFailures.Add(1)
}

// AuthFailures returns the number of rejected authentication attempts.
func (c *Collector) AuthFailures() int64 {
	if c == nil {
		return 0
	}
	return c.authFailures.Load()
}

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime            string `json:"uptime"`
	ChannelsActive    int64  `json:"channels_active"`
	ChannelsTotal     int64  `json:"channels_total"`
	BytesPrimary      int64  `json:"bytes_primary"`
	BytesExtended     int64  `json:"bytes_extended"`
	WouldBlockWaits   int64  `json:"would_block_waits"`
	ReadinessTimeouts int64  `json:"readiness_timeouts"`
	AuthFailures      int64  `json:"auth_failures"`
	ErrorsTotal       int64  `json:"errors_total"`
	LastError         string `json:"last_error,omitempty"`
	LastErrorMessage  string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:            time.Since(c.startTime).Truncate(time.Second).String(),
		ChannelsActive:    c.channelsActive.Load(),
		ChannelsTotal:     c.channelsTotal.Load(),
		BytesPrimary:      c.bytesPrimary.Load(),
		BytesExtended:     c.bytesExtended.Load(),
		WouldBlockWaits:   c.wouldBlockWaits.Load(),
		ReadinessTimeouts: c.readinessTimeouts.Load(),
		AuthFailures:      c.authFailures.Load(),
		ErrorsTotal:       c.errorsTotal.Load(),
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
