package telemetry

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PromMetrics records the supervisor's counters/timers/gauges as Prometheus
// vectors labeled by the tag values passed at the call site (phase name,
// strategy mode, cache hit/miss, etc.). Every metric name maps to a single
// vector created lazily on first use and cached by name so call sites don't
// need to pre-register anything.
type PromMetrics struct {
	registry *prometheus.Registry

	counters *vecCache[*prometheus.CounterVec]
	timers   *vecCache[*prometheus.HistogramVec]
	gauges   *vecCache[*prometheus.GaugeVec]
}

// NewPromMetrics constructs a Metrics implementation registered against reg.
// Pass prometheus.NewRegistry() (not the global DefaultRegisterer) so tests
// can create independent instances.
func NewPromMetrics(reg *prometheus.Registry) *PromMetrics {
	return &PromMetrics{
		registry: reg,
		counters: newVecCache[*prometheus.CounterVec](),
		timers:   newVecCache[*prometheus.HistogramVec](),
		gauges:   newVecCache[*prometheus.GaugeVec](),
	}
}

func (m *PromMetrics) IncCounter(name string, value float64, tags ...string) {
	labels, values := splitTags(tags)
	vec := m.counters.get(name, func() *prometheus.CounterVec {
		v := prometheus.NewCounterVec(prometheus.CounterOpts{Name: sanitize(name)}, labels)
		m.registry.MustRegister(v)
		return v
	})
	vec.WithLabelValues(values...).Add(value)
}

func (m *PromMetrics) RecordTimer(name string, d time.Duration, tags ...string) {
	labels, values := splitTags(tags)
	vec := m.timers.get(name, func() *prometheus.HistogramVec {
		v := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: sanitize(name)}, labels)
		m.registry.MustRegister(v)
		return v
	})
	vec.WithLabelValues(values...).Observe(d.Seconds())
}

func (m *PromMetrics) RecordGauge(name string, value float64, tags ...string) {
	labels, values := splitTags(tags)
	vec := m.gauges.get(name, func() *prometheus.GaugeVec {
		v := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: sanitize(name)}, labels)
		m.registry.MustRegister(v)
		return v
	})
	vec.WithLabelValues(values...).Set(value)
}

// splitTags treats tags as alternating key/value pairs (matching the
// IncCounter(name, value, "phase", "routing") call shape used across the
// supervisor) and returns the label names and corresponding values.
func splitTags(tags []string) (labels []string, values []string) {
	for i := 0; i+1 < len(tags); i += 2 {
		labels = append(labels, sanitize(tags[i]))
		values = append(values, tags[i+1])
	}
	return labels, values
}

func sanitize(name string) string {
	return strings.NewReplacer(".", "_", "-", "_", " ", "_").Replace(name)
}

type vecCache[T any] struct {
	mu      sync.Mutex
	entries map[string]T
}

func newVecCache[T any]() *vecCache[T] { return &vecCache[T]{entries: make(map[string]T)} }

func (c *vecCache[T]) get(name string, create func() T) T {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.entries[name]; ok {
		return v
	}
	v := create()
	c.entries[name] = v
	return v
}
