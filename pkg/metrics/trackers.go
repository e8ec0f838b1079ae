package metrics

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ThroughputTracker counts events and reports the rate since the last reset.
// Safe for concurrent use.
type ThroughputTracker struct {
	mu        sync.Mutex
	count     int64
	lastReset time.Time
	gauge     prometheus.Gauge
}

// NewThroughputTracker creates a tracker; gauge, when non-nil, receives
// every computed rate
func NewThroughputTracker(gauge prometheus.Gauge) *ThroughputTracker {
	return &ThroughputTracker{lastReset: time.Now(), gauge: gauge}
}

// Increment adds n events
func (t *ThroughputTracker) Increment(n int64) {
	t.mu.Lock()
	t.count += n
	t.mu.Unlock()
}

// GetAndReset returns events per second since the last reset and starts a
// new window
func (t *ThroughputTracker) GetAndReset() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.lastReset).Seconds()
	if elapsed == 0 {
		return 0
	}
	rate := float64(t.count) / elapsed
	t.count = 0
	t.lastReset = time.Now()

	if t.gauge != nil {
		t.gauge.Set(rate)
	}
	return rate
}

// LatencyTracker keeps up to maxSize samples for percentile queries. Once
// full, the oldest sample is overwritten.
type LatencyTracker struct {
	mu      sync.Mutex
	values  []time.Duration
	next    int
	maxSize int
	count   int64
	max     time.Duration
	sum     time.Duration
}

// NewLatencyTracker creates a tracker holding at most maxSize samples
func NewLatencyTracker(maxSize int) *LatencyTracker {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &LatencyTracker{
		values:  make([]time.Duration, 0, maxSize),
		maxSize: maxSize,
	}
}

// Record adds one sample
func (l *LatencyTracker) Record(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.values) < l.maxSize {
		l.values = append(l.values, d)
	} else {
		l.values[l.next] = d
		l.next = (l.next + 1) % l.maxSize
	}
	l.count++
	l.sum += d
	if d > l.max {
		l.max = d
	}
}

// Percentiles returns the nearest-rank value for each p in [0, 100]
func (l *LatencyTracker) Percentiles(ps ...float64) []time.Duration {
	l.mu.Lock()
	sorted := append([]time.Duration(nil), l.values...)
	l.mu.Unlock()

	out := make([]time.Duration, len(ps))
	if len(sorted) == 0 {
		return out
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	for i, p := range ps {
		rank := int(math.Ceil(p / 100 * float64(len(sorted))))
		if rank < 1 {
			rank = 1
		}
		if rank > len(sorted) {
			rank = len(sorted)
		}
		out[i] = sorted[rank-1]
	}
	return out
}

// GetPercentile returns a single nearest-rank percentile
func (l *LatencyTracker) GetPercentile(p float64) time.Duration {
	return l.Percentiles(p)[0]
}

// Max returns the largest sample ever recorded
func (l *LatencyTracker) Max() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.max
}

// Mean returns the average of every sample ever recorded
func (l *LatencyTracker) Mean() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.count == 0 {
		return 0
	}
	return l.sum / time.Duration(l.count)
}

// Count returns how many samples were recorded
func (l *LatencyTracker) Count() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}
