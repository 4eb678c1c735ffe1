package observability

import (
	"sort"
	"sync"
	"time"
)

// InMemoryMetrics is a MetricsClient that aggregates in process memory. It
// backs the engine's rolling performance view and doubles as the test
// implementation.
type InMemoryMetrics struct {
	mu        sync.RWMutex
	counters  map[string]float64
	gauges    map[string]float64
	durations map[string][]time.Duration
}

// NewInMemoryMetrics creates an empty in-memory metrics client
func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		counters:  make(map[string]float64),
		gauges:    make(map[string]float64),
		durations: make(map[string][]time.Duration),
	}
}

// IncrementCounter adds value to the named counter
func (m *InMemoryMetrics) IncrementCounter(name string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] += value
}

// IncrementCounterWithLabels adds value to the counter keyed by name+labels
func (m *InMemoryMetrics) IncrementCounterWithLabels(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[keyWithLabels(name, labels)] += value
}

// RecordGauge sets the named gauge
func (m *InMemoryMetrics) RecordGauge(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[keyWithLabels(name, labels)] = value
}

// RecordDuration appends a duration observation
func (m *InMemoryMetrics) RecordDuration(name string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.durations[name] = append(m.durations[name], duration)
}

// StartTimer returns a stop function recording elapsed time under name
func (m *InMemoryMetrics) StartTimer(name string, labels map[string]string) func() {
	start := time.Now()
	return func() {
		m.RecordDuration(keyWithLabels(name, labels), time.Since(start))
	}
}

// Counter returns the current value of a counter
func (m *InMemoryMetrics) Counter(name string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counters[name]
}

// Gauge returns the current value of a gauge
func (m *InMemoryMetrics) Gauge(name string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gauges[name]
}

// Durations returns all recorded observations for name
func (m *InMemoryMetrics) Durations(name string) []time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]time.Duration(nil), m.durations[name]...)
}

// Close implements MetricsClient
func (m *InMemoryMetrics) Close() error { return nil }

func keyWithLabels(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	key := name
	for _, k := range keys {
		key += "|" + k + "=" + labels[k]
	}
	return key
}
