package compress

import (
	"sync"
	"time"
)

// statsAccumulator is the mutable, mutex-guarded running total behind Codec.Stats, per
// §5 ("Compression statistics: single writer lock around a small struct; contention is
// negligible"). It is never copied; Snapshot hands callers a plain Stats value instead.
type statsAccumulator struct {
	mu          sync.Mutex
	totalEvents uint64
	totalBytes  uint64
	totalTime   time.Duration
	peakSpeed   float64 // bytes/sec, best observed
	perAlgo     map[Algorithm]uint64
	failures    uint64
}

// NewStats returns an empty statsAccumulator.
func NewStats() *statsAccumulator {
	return &statsAccumulator{perAlgo: make(map[Algorithm]uint64)}
}

func (s *statsAccumulator) record(res Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.failures++
		return
	}

	s.totalEvents++
	s.totalBytes += uint64(res.OriginalSize)
	s.totalTime += res.Duration
	s.perAlgo[res.Algorithm]++

	if res.Duration > 0 {
		speed := float64(res.OriginalSize) / res.Duration.Seconds()
		if speed > s.peakSpeed {
			s.peakSpeed = speed
		}
	}
}

// Snapshot returns a point-in-time, race-free copy of the current statistics as a plain
// Stats value (no lock inside it, safe to pass around and copy freely).
func (s *statsAccumulator) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	perAlgo := make(map[Algorithm]uint64, len(s.perAlgo))
	for k, v := range s.perAlgo {
		perAlgo[k] = v
	}
	return Stats{
		totalEvents: s.totalEvents,
		totalBytes:  s.totalBytes,
		totalTime:   s.totalTime,
		peakSpeed:   s.peakSpeed,
		perAlgo:     perAlgo,
		failures:    s.failures,
	}
}

// Stats is an immutable point-in-time view of a Codec's running statistics, returned by
// Codec.Stats. It holds no lock and is safe to copy.
type Stats struct {
	totalEvents uint64
	totalBytes  uint64
	totalTime   time.Duration
	peakSpeed   float64
	perAlgo     map[Algorithm]uint64
	failures    uint64
}

// AverageSpeed returns the average throughput in bytes/sec across all recorded
// compressions.
func (s Stats) AverageSpeed() float64 {
	if s.totalTime <= 0 {
		return 0
	}
	return float64(s.totalBytes) / s.totalTime.Seconds()
}

// PeakSpeed returns the best observed throughput in bytes/sec.
func (s Stats) PeakSpeed() float64 { return s.peakSpeed }

// TotalEvents returns the count of successful compressions recorded.
func (s Stats) TotalEvents() uint64 { return s.totalEvents }

// TotalBytes returns the cumulative original-size bytes compressed.
func (s Stats) TotalBytes() uint64 { return s.totalBytes }

// Failures returns the count of failed compression attempts recorded.
func (s Stats) Failures() uint64 { return s.failures }

// PerAlgorithm returns a copy of the per-algorithm success counts.
func (s Stats) PerAlgorithm() map[Algorithm]uint64 {
	cp := make(map[Algorithm]uint64, len(s.perAlgo))
	for k, v := range s.perAlgo {
		cp[k] = v
	}
	return cp
}
