// Package performance samples process resource usage and writes pprof
// profiles for the load harness and the debug endpoints.
package performance

import (
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// ResourceUsage is a process resource reading. Peak fields are only set by
// a ResourceMonitor.
type ResourceUsage struct {
	HeapAllocBytes      uint64        `json:"heap_alloc_bytes"`
	HeapInuseBytes      uint64        `json:"heap_inuse_bytes"`
	PeakHeapInuseBytes  uint64        `json:"peak_heap_inuse_bytes,omitempty"`
	RSSBytes            uint64        `json:"rss_bytes"`
	PeakRSSBytes        uint64        `json:"peak_rss_bytes,omitempty"`
	Goroutines          int           `json:"goroutines"`
	PeakGoroutines      int           `json:"peak_goroutines,omitempty"`
	Threads             int32         `json:"threads"`
	NumGC               uint32        `json:"num_gc"`
	GCPauseTotal        time.Duration `json:"gc_pause_total"`
	CPUPercent          float64       `json:"cpu_percent"`
	SystemMemoryPercent float64       `json:"system_memory_percent"`
}

// PeakHeapMB returns the peak heap in use in mebibytes
func (u ResourceUsage) PeakHeapMB() float64 {
	return float64(u.PeakHeapInuseBytes) / (1 << 20)
}

// Snapshot reads the current resource usage of this process
func Snapshot() ResourceUsage {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	u := ResourceUsage{
		HeapAllocBytes: ms.HeapAlloc,
		HeapInuseBytes: ms.HeapInuse,
		Goroutines:     runtime.NumGoroutine(),
		NumGC:          ms.NumGC,
		GCPauseTotal:   time.Duration(ms.PauseTotalNs),
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if info, err := proc.MemoryInfo(); err == nil {
			u.RSSBytes = info.RSS
		}
		u.Threads, _ = proc.NumThreads()
		u.CPUPercent, _ = proc.CPUPercent()
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		u.SystemMemoryPercent = vm.UsedPercent
	}
	return u
}

// ResourceMonitor samples heap, RSS and goroutines on an interval and keeps
// the peaks
type ResourceMonitor struct {
	interval time.Duration
	process  *process.Process

	mu           sync.Mutex
	startCPUTime float64
	startTime    time.Time
	startGC      uint32
	startPause   uint64
	peak         ResourceUsage
	running      bool
	stopCh       chan struct{}
	wg           sync.WaitGroup
}

// NewResourceMonitor creates a monitor sampling every interval
func NewResourceMonitor(interval time.Duration) *ResourceMonitor {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	proc, _ := process.NewProcess(int32(os.Getpid()))
	return &ResourceMonitor{interval: interval, process: proc}
}

// Start takes a first sample and begins sampling in the background
func (m *ResourceMonitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.startTime = time.Now()
	m.startGC = ms.NumGC
	m.startPause = ms.PauseTotalNs
	m.startCPUTime = 0
	if m.process != nil {
		if t, err := m.process.Times(); err == nil {
			m.startCPUTime = t.User + t.System
		}
	}
	m.peak = ResourceUsage{}
	m.running = true
	m.stopCh = make(chan struct{})
	m.sampleLocked()

	m.wg.Add(1)
	go m.loop(m.stopCh)
}

func (m *ResourceMonitor) loop(stop <-chan struct{}) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.mu.Lock()
			m.sampleLocked()
			m.mu.Unlock()
		}
	}
}

func (m *ResourceMonitor) sampleLocked() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	if ms.HeapInuse > m.peak.PeakHeapInuseBytes {
		m.peak.PeakHeapInuseBytes = ms.HeapInuse
	}
	if n := runtime.NumGoroutine(); n > m.peak.PeakGoroutines {
		m.peak.PeakGoroutines = n
	}
	if m.process != nil {
		if info, err := m.process.MemoryInfo(); err == nil && info.RSS > m.peak.PeakRSSBytes {
			m.peak.PeakRSSBytes = info.RSS
		}
	}
}

// Stop ends sampling and returns the final reading with peaks. The CPU
// figure is the process CPU time over wall time since Start.
func (m *ResourceMonitor) Stop() ResourceUsage {
	m.mu.Lock()
	if m.running {
		close(m.stopCh)
		m.running = false
	}
	m.mu.Unlock()
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sampleLocked()

	u := Snapshot()
	u.PeakHeapInuseBytes = m.peak.PeakHeapInuseBytes
	u.PeakRSSBytes = m.peak.PeakRSSBytes
	u.PeakGoroutines = m.peak.PeakGoroutines
	u.NumGC -= m.startGC
	u.GCPauseTotal -= time.Duration(m.startPause)
	if m.process != nil {
		if t, err := m.process.Times(); err == nil {
			if elapsed := time.Since(m.startTime).Seconds(); elapsed > 0 {
				u.CPUPercent = (t.User + t.System - m.startCPUTime) / elapsed * 100
			}
		}
	}
	return u
}
