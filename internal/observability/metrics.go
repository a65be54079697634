package observability

import "sync"

// Metrics provides counters, gauges, and histogram recording primitives.
type Metrics interface {
	IncCounter(name string, value float64, labels map[string]string)
	ObserveHistogram(name string, value float64, labels map[string]string)
	SetGauge(name string, value float64, labels map[string]string)
}

var defaultMetrics Metrics = noopMetrics{}

// SetMetrics overrides the global metrics implementation used by the system.
func SetMetrics(metrics Metrics) {
	if metrics == nil {
		defaultMetrics = noopMetrics{}
		return
	}
	defaultMetrics = metrics
}

// Telemetry returns the current global metrics collector.
func Telemetry() Metrics {
	return defaultMetrics
}

type noopMetrics struct{}

func (noopMetrics) IncCounter(string, float64, map[string]string)       {}
func (noopMetrics) ObserveHistogram(string, float64, map[string]string) {}
func (noopMetrics) SetGauge(string, float64, map[string]string)         {}

// StreamMetricsSnapshot captures broadcast-engine runtime counters.
type StreamMetricsSnapshot struct {
	ActiveConnections int            `json:"active_connections"`
	FetchErrors       map[string]int `json:"fetch_errors"`
	Deliveries        int64          `json:"deliveries"`
	DeliveryFailures  int64          `json:"delivery_failures"`
	CycleMilliseconds []int64        `json:"cycle_ms"`
}

// RuntimeMetrics accumulates stream metrics in-memory for periodic export.
type RuntimeMetrics struct {
	mu       sync.Mutex
	snapshot StreamMetricsSnapshot
}

// NewRuntimeMetrics constructs a metrics accumulator with empty maps.
func NewRuntimeMetrics() *RuntimeMetrics {
	metrics := new(RuntimeMetrics)
	metrics.snapshot = StreamMetricsSnapshot{
		ActiveConnections: 0,
		FetchErrors:       make(map[string]int),
		Deliveries:        0,
		DeliveryFailures:  0,
		CycleMilliseconds: nil,
	}
	return metrics
}

// SetActiveConnections tracks the current connection count.
func (m *RuntimeMetrics) SetActiveConnections(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot.ActiveConnections = count
}

// IncrementFetchError counts a per-symbol provider failure.
func (m *RuntimeMetrics) IncrementFetchError(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot.FetchErrors[symbol]++
}

// AddDeliveries accumulates successful fan-out deliveries.
func (m *RuntimeMetrics) AddDeliveries(delta int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot.Deliveries += delta
}

// AddDeliveryFailures accumulates per-connection send failures.
func (m *RuntimeMetrics) AddDeliveryFailures(delta int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot.DeliveryFailures += delta
}

// RecordCycleMilliseconds appends the duration of one fetch cycle.
func (m *RuntimeMetrics) RecordCycleMilliseconds(ms int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot.CycleMilliseconds = append(m.snapshot.CycleMilliseconds, ms)
}

// Snapshot copies the current metrics state for reporting.
func (m *RuntimeMetrics) Snapshot() StreamMetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := StreamMetricsSnapshot{
		ActiveConnections: m.snapshot.ActiveConnections,
		FetchErrors:       make(map[string]int, len(m.snapshot.FetchErrors)),
		Deliveries:        m.snapshot.Deliveries,
		DeliveryFailures:  m.snapshot.DeliveryFailures,
		CycleMilliseconds: append([]int64(nil), m.snapshot.CycleMilliseconds...),
	}
	for k, v := range m.snapshot.FetchErrors {
		snapshot.FetchErrors[k] = v
	}
	return snapshot
}
