package annogo

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like
// Prometheus.
type MetricsCollector interface {
	// RecordCommit is called after each commit request resolves.
	// duration is the round-trip time, err is nil on success.
	RecordCommit(duration time.Duration, err error)

	// RecordCommitQueued is called when an edit is queued behind an
	// in-flight commit for the same id instead of being dispatched.
	RecordCommitQueued()

	// SetCommitsInFlight is called whenever the number of outstanding
	// commit requests changes.
	SetCommitsInFlight(n int)

	// RecordLocalUpdate is called for every local mutation applied to the
	// temporary overlay (add, update, delete, commit staging).
	RecordLocalUpdate()

	// RecordChunkReceived is called when a downloaded chunk is registered,
	// with the decoded payload size in bytes.
	RecordChunkReceived(bytes int)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordCommit(time.Duration, error) {}
func (NoopMetricsCollector) RecordCommitQueued()               {}
func (NoopMetricsCollector) SetCommitsInFlight(int)            {}
func (NoopMetricsCollector) RecordLocalUpdate()                {}
func (NoopMetricsCollector) RecordChunkReceived(int)           {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	CommitCount      atomic.Int64
	CommitErrors     atomic.Int64
	CommitTotalNanos atomic.Int64
	CommitsQueued    atomic.Int64
	CommitsInFlight  atomic.Int64
	LocalUpdates     atomic.Int64
	ChunksReceived   atomic.Int64
	ChunkBytes       atomic.Int64
}

// RecordCommit implements MetricsCollector.
func (m *BasicMetricsCollector) RecordCommit(duration time.Duration, err error) {
	m.CommitCount.Add(1)
	m.CommitTotalNanos.Add(int64(duration))
	if err != nil {
		m.CommitErrors.Add(1)
	}
}

// RecordCommitQueued implements MetricsCollector.
func (m *BasicMetricsCollector) RecordCommitQueued() {
	m.CommitsQueued.Add(1)
}

// SetCommitsInFlight implements MetricsCollector.
func (m *BasicMetricsCollector) SetCommitsInFlight(n int) {
	m.CommitsInFlight.Store(int64(n))
}

// RecordLocalUpdate implements MetricsCollector.
func (m *BasicMetricsCollector) RecordLocalUpdate() {
	m.LocalUpdates.Add(1)
}

// RecordChunkReceived implements MetricsCollector.
func (m *BasicMetricsCollector) RecordChunkReceived(bytes int) {
	m.ChunksReceived.Add(1)
	m.ChunkBytes.Add(int64(bytes))
}
