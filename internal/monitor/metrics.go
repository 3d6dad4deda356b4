package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics tracks overall service performance.
type SystemMetrics struct {
	// Latency histograms
	ExecutionLatency *LatencyHistogram
	QuoteLatency     *LatencyHistogram
	APILatency       *LatencyHistogram

	// Counters
	tradesExecuted  uint64
	quotesServed    uint64
	sessionsStarted uint64
	apiRequests     uint64
	errorsCount     uint64
}

// LatencyHistogram tracks latency samples with a sliding window. Stats are
// recomputed lazily, only when samples changed since the last read.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		ExecutionLatency: NewLatencyHistogram(1000),
		QuoteLatency:     NewLatencyHistogram(1000),
		APILatency:       NewLatencyHistogram(1000),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	min, max := sorted[0], sorted[n-1]
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   min,
		Max:   max,
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// IncrementTrades increments the executed trades counter.
func (m *SystemMetrics) IncrementTrades() {
	atomic.AddUint64(&m.tradesExecuted, 1)
}

// IncrementQuotes increments the served quotes counter.
func (m *SystemMetrics) IncrementQuotes() {
	atomic.AddUint64(&m.quotesServed, 1)
}

// IncrementSessions increments the started sessions counter.
func (m *SystemMetrics) IncrementSessions() {
	atomic.AddUint64(&m.sessionsStarted, 1)
}

// IncrementAPI increments the API request counter.
func (m *SystemMetrics) IncrementAPI() {
	atomic.AddUint64(&m.apiRequests, 1)
}

// IncrementErrors increments the error counter.
func (m *SystemMetrics) IncrementErrors() {
	atomic.AddUint64(&m.errorsCount, 1)
}

// MetricsSnapshot is a point-in-time view exposed over the API.
type MetricsSnapshot struct {
	ExecutionLatency LatencyStats `json:"execution_latency"`
	QuoteLatency     LatencyStats `json:"quote_latency"`
	APILatency       LatencyStats `json:"api_latency"`
	TradesExecuted   uint64       `json:"trades_executed"`
	QuotesServed     uint64       `json:"quotes_served"`
	SessionsStarted  uint64       `json:"sessions_started"`
	APIRequests      uint64       `json:"api_requests"`
	ErrorsCount      uint64       `json:"errors_count"`
	GoroutineCount   int          `json:"goroutine_count"`
	HeapAlloc        uint64       `json:"heap_alloc_bytes"`
	HeapSys          uint64       `json:"heap_sys_bytes"`
	Timestamp        time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return MetricsSnapshot{
		ExecutionLatency: m.ExecutionLatency.Stats(),
		QuoteLatency:     m.QuoteLatency.Stats(),
		APILatency:       m.APILatency.Stats(),
		TradesExecuted:   atomic.LoadUint64(&m.tradesExecuted),
		QuotesServed:     atomic.LoadUint64(&m.quotesServed),
		SessionsStarted:  atomic.LoadUint64(&m.sessionsStarted),
		APIRequests:      atomic.LoadUint64(&m.apiRequests),
		ErrorsCount:      atomic.LoadUint64(&m.errorsCount),
		GoroutineCount:   runtime.NumGoroutine(),
		HeapAlloc:        memStats.HeapAlloc,
		HeapSys:          memStats.HeapSys,
		Timestamp:        time.Now(),
	}
}

// Timer helps measure operation duration.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{
		start:     time.Now(),
		histogram: h,
	}
}

// Stop records elapsed time to the histogram.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
