package telemetry

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type Counter struct {
	val atomic.Int64
}

func (c *Counter) Inc()         { c.val.Add(1) }
func (c *Counter) Add(n int64)  { c.val.Add(n) }
func (c *Counter) Value() int64 { return c.val.Load() }

type Gauge struct {
	val atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.val.Store(v) }
func (g *Gauge) Inc()         { g.val.Add(1) }
func (g *Gauge) Dec()         { g.val.Add(-1) }
func (g *Gauge) Value() int64 { return g.val.Load() }

type LatencyTracker struct {
	mu      sync.Mutex
	samples []time.Duration
	maxKeep int
}

func NewLatencyTracker(maxKeep int) *LatencyTracker {
	return &LatencyTracker{maxKeep: maxKeep}
}

func (lt *LatencyTracker) Record(d time.Duration) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	lt.samples = append(lt.samples, d)
	if len(lt.samples) > lt.maxKeep {
		lt.samples = lt.samples[len(lt.samples)-lt.maxKeep:]
	}
}

func (lt *LatencyTracker) P50() time.Duration { return lt.percentile(0.50) }
func (lt *LatencyTracker) P99() time.Duration { return lt.percentile(0.99) }

func (lt *LatencyTracker) percentile(p float64) time.Duration {
	lt.mu.Lock()
	sorted := make([]time.Duration, len(lt.samples))
	copy(sorted, lt.samples)
	lt.mu.Unlock()

	if len(sorted) == 0 {
		return 0
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

// Metrics is the global metrics registry.
var Metrics = struct {
	RequestsSent       Counter
	RequestRetries     Counter
	TransportErrors    Counter
	ExchangeErrors     Counter
	ValidationFailures Counter
	OrdersPlaced       Counter
	OrderErrors        Counter
	InFlight           Gauge
	RequestLatency     *LatencyTracker
	RateLimiterWait    *LatencyTracker
}{
	RequestLatency:  NewLatencyTracker(1000),
	RateLimiterWait: NewLatencyTracker(1000),
}

// Summary renders the registry on one line for the exit log.
func Summary() string {
	m := &Metrics
	return fmt.Sprintf("requests=%d retries=%d transport_errors=%d exchange_errors=%d validation_failures=%d "+
		"orders_placed=%d order_errors=%d latency_p50=%s latency_p99=%s",
		m.RequestsSent.Value(), m.RequestRetries.Value(), m.TransportErrors.Value(), m.ExchangeErrors.Value(),
		m.ValidationFailures.Value(), m.OrdersPlaced.Value(), m.OrderErrors.Value(),
		m.RequestLatency.P50(), m.RequestLatency.P99())
}
