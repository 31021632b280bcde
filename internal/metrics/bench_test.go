package metrics

import (
	"testing"

	"sshexec/internal/engine"
)

// BenchmarkCollector_ChannelOpen measures the overhead of recording
// a channel open event (atomic operations).
func BenchmarkCollector_ChannelOpen(b *testing.B) {
	c := New()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.ChannelOpened()
	}
}

// BenchmarkCollector_BytesReceived measures byte-counter overhead.
func BenchmarkCollector_BytesReceived(b *testing.B) {
	c := New()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.BytesReceived(engine.Primary, 32768)
	}
}

// BenchmarkCollector_Snapshot measures the cost of taking a snapshot.
func BenchmarkCollector_Snapshot(b *testing.B) {
	c := New()
	c.ChannelOpened()
	c.BytesReceived(engine.Extended, 1024)
	c.RecordError("test")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = c.Snapshot()
	}
}

// BenchmarkNilCollector verifies nil-safe no-ops have zero overhead.
func BenchmarkNilCollector(b *testing.B) {
	var c *Collector
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.ChannelOpened()
		c.WouldBlock()
		c.RecordError("test")
	}
}
