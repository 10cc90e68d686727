package authcore

import (
	"sync/atomic"
	"time"
)

// MetricID identifies an in-process counter or histogram.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricMFARequired
	MetricMFASuccess
	MetricMFAFailure
	MetricMFARateLimited
	MetricMFASetup
	MetricMFAEnabled
	MetricMFADisabled
	MetricBackupCodeUsed
	MetricBackupCodesGenerated
	MetricLogout
	MetricRegisterSuccess
	MetricRegisterFailure
	MetricRegisterDuplicate
	MetricGateAllowed
	MetricGateForbidden
	MetricGateUnauthenticated
	// MetricGateLatency is the only histogram.
	MetricGateLatency
	metricIDCount
)

// latencyBounds are the inclusive upper bounds of the gate latency buckets.
// Anything slower lands in the trailing +Inf bucket.
var latencyBounds = [...]time.Duration{
	1 * time.Millisecond,
	2 * time.Millisecond,
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
}

const latencyBucketCount = len(latencyBounds) + 1

// Metrics holds lock-free counters. A nil or disabled Metrics ignores every
// call.
type Metrics struct {
	enabled bool
	latency bool
	counts  [metricIDCount]atomic.Uint64
	gate    [latencyBucketCount]atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of every counter and histogram.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics creates counters according to cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled: cfg.Enabled,
		latency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Inc adds one to the counter id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount || id == MetricGateLatency {
		return
	}
	m.counts[id].Add(1)
}

// Observe records d in the histogram id. Only MetricGateLatency is a
// histogram; other ids are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.latency || id != MetricGateLatency {
		return
	}
	m.gate[bucketIndex(d)].Add(1)
}

// Value returns the current value of counter id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return m.counts[id].Load()
}

// Snapshot copies every counter and, when enabled, the latency histogram.
func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
	}
	if m == nil || !m.enabled {
		return s
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if id != MetricGateLatency {
			s.Counters[id] = m.counts[id].Load()
		}
	}
	if m.latency {
		buckets := make([]uint64, latencyBucketCount)
		for i := range m.gate {
			buckets[i] = m.gate[i].Load()
		}
		s.Histograms[MetricGateLatency] = buckets
	}
	return s
}

func bucketIndex(d time.Duration) int {
	for i, bound := range latencyBounds {
		if d <= bound {
			return i
		}
	}
	return len(latencyBounds)
}
