package pitcher

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/qiaoweibiao/pitcher/internal/interfaces"
)

// LatencyBuckets defines the run() latency histogram buckets in
// nanoseconds, logarithmically spaced from 1us to 10s.
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8

// channelStats is the per-channel slice of Metrics; Metrics keeps one per
// registered channel id, created lazily on first observation.
type channelStats struct {
	frames atomic.Uint64
	bytes  atomic.Uint64
	drops  atomic.Uint64
	skips  atomic.Uint64
	ended  atomic.Bool
}

// Metrics tracks per-context counters and a run() latency histogram,
// mirroring the shape of the teacher's device-level Metrics but keyed per
// channel instead of per I/O verb.
type Metrics struct {
	mu       sync.Mutex
	channels map[int]*channelStats

	TotalFrames atomic.Uint64
	TotalBytes  atomic.Uint64
	TotalDrops  atomic.Uint64
	TotalSkips  atomic.Uint64

	// MemCounter mirrors the scheduler's live buffer-allocation counter
	// (spec §3/§8); set via SetMemCounter rather than Add, since the
	// scheduler already owns the authoritative value.
	MemCounter atomic.Int64

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates an empty Metrics with its start time set to now.
func NewMetrics() *Metrics {
	m := &Metrics{channels: make(map[int]*channelStats)}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

func (m *Metrics) stats(channelID int) *channelStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	cs, ok := m.channels[channelID]
	if !ok {
		cs = &channelStats{}
		m.channels[channelID] = cs
	}
	return cs
}

// RecordFrame records one successful run() call that consumed/produced a
// buffer, attributing bytesUsed and latencyNs to channelID.
func (m *Metrics) RecordFrame(channelID int, bytesUsed uint64, latencyNs uint64) {
	cs := m.stats(channelID)
	cs.frames.Add(1)
	cs.bytes.Add(bytesUsed)
	m.TotalFrames.Add(1)
	m.TotalBytes.Add(bytesUsed)
	m.recordLatency(latencyNs)
}

// RecordDrop records a buffer dropped by the router (no idle capacity).
func (m *Metrics) RecordDrop(channelID int) {
	m.stats(channelID).drops.Add(1)
	m.TotalDrops.Add(1)
}

// RecordSkip records a buffer skipped by the frame-skip ratio algorithm.
func (m *Metrics) RecordSkip(channelID int) {
	m.stats(channelID).skips.Add(1)
	m.TotalSkips.Add(1)
}

// RecordEnd marks channelID Ended with its final frame count.
func (m *Metrics) RecordEnd(channelID int, framesProduced uint64) {
	cs := m.stats(channelID)
	cs.ended.Store(true)
	cs.frames.Store(framesProduced)
}

// RecordQueueDepth is a no-op placeholder hook kept symmetric with the
// Observer interface; per-channel queue depth is instantaneous and not
// worth histogramming the way latency is.
func (m *Metrics) RecordQueueDepth(int, int) {}

// SetMemCounter mirrors the scheduler's live allocation count (spec §8's
// "memory counter returns to zero after full teardown" property).
func (m *Metrics) SetMemCounter(n int64) { m.MemCounter.Store(n) }

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the context as stopped, for uptime accounting.
func (m *Metrics) Stop() { m.StopTime.Store(time.Now().UnixNano()) }

// MetricsSnapshot is a point-in-time copy of Metrics safe to read without
// racing further Record* calls.
type MetricsSnapshot struct {
	TotalFrames uint64
	TotalBytes  uint64
	TotalDrops  uint64
	TotalSkips  uint64
	MemCounter  int64

	AvgLatencyNs  uint64
	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64
	UptimeNs         uint64

	// PerChannel is keyed by channel id.
	PerChannel map[int]ChannelSnapshot
}

// ChannelSnapshot is one channel's slice of MetricsSnapshot.
type ChannelSnapshot struct {
	Frames uint64
	Bytes  uint64
	Drops  uint64
	Skips  uint64
	Ended  bool
}

// Snapshot builds a MetricsSnapshot from the current counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		TotalFrames: m.TotalFrames.Load(),
		TotalBytes:  m.TotalBytes.Load(),
		TotalDrops:  m.TotalDrops.Load(),
		TotalSkips:  m.TotalSkips.Load(),
		MemCounter:  m.MemCounter.Load(),
		PerChannel:  make(map[int]ChannelSnapshot),
	}

	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = m.TotalLatencyNs.Load() / opCount
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}
	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	startTime := m.StartTime.Load()
	if stopTime := m.StopTime.Load(); stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	m.mu.Lock()
	for id, cs := range m.channels {
		snap.PerChannel[id] = ChannelSnapshot{
			Frames: cs.frames.Load(),
			Bytes:  cs.bytes.Load(),
			Drops:  cs.drops.Load(),
			Skips:  cs.skips.Load(),
			Ended:  cs.ended.Load(),
		}
	}
	m.mu.Unlock()

	return snap
}

// calculatePercentile estimates the latency at the given percentile via
// linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}
	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}
	return LatencyBuckets[numLatencyBuckets-1]
}

// MetricsObserver implements interfaces.Observer by recording into a
// Metrics instance.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver builds an Observer that records into m.
func NewMetricsObserver(m *Metrics) *MetricsObserver { return &MetricsObserver{metrics: m} }

func (o *MetricsObserver) ObserveFrame(channelID int, bytesUsed uint64, latencyNs uint64) {
	o.metrics.RecordFrame(channelID, bytesUsed, latencyNs)
}
func (o *MetricsObserver) ObserveDrop(channelID int) { o.metrics.RecordDrop(channelID) }
func (o *MetricsObserver) ObserveSkip(channelID int) { o.metrics.RecordSkip(channelID) }
func (o *MetricsObserver) ObserveEnd(channelID int, framesProduced uint64) {
	o.metrics.RecordEnd(channelID, framesProduced)
}
func (o *MetricsObserver) ObserveQueueDepth(channelID int, depth int) {
	o.metrics.RecordQueueDepth(channelID, depth)
}

// NoOpObserver discards every observation.
type NoOpObserver struct{}

func (NoOpObserver) ObserveFrame(int, uint64, uint64) {}
func (NoOpObserver) ObserveDrop(int)                  {}
func (NoOpObserver) ObserveSkip(int)                  {}
func (NoOpObserver) ObserveEnd(int, uint64)           {}
func (NoOpObserver) ObserveQueueDepth(int, int)       {}

var _ interfaces.Observer = (*MetricsObserver)(nil)
var _ interfaces.Observer = (*NoOpObserver)(nil)
