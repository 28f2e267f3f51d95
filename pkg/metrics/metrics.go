// Package metrics provides observability metrics for the sync client
// (SPEC_FULL §4.11): connection lifecycle, poke throughput, and push
// lifecycle counters, exposed in Prometheus text format.
package metrics

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics holds all sync-client metrics for one room/namespace.
type Metrics struct {
	// Connection lifecycle
	ConnectionsActive *Gauge
	ConnectionsTotal  *Counter
	ReconnectsTotal   *Counter

	// Poke stream
	PokesReceived  *Counter
	PokesApplied   *Counter
	PokeLatency    *Histogram
	JitterBufferMS *Histogram

	// Push pipeline
	MutationsPushed   *Counter
	MutationsAcked    *Counter
	PushRedrives      *Counter

	// Errors
	ErrorsTotal *CounterVec

	// Custom metrics
	custom map[string]any
	mu     sync.RWMutex
}

// NewMetrics creates a new metrics instance under the given namespace (a
// per-room prefix, following the teacher's `NewMetrics(namespace string)`
// constructor — see DESIGN.md).
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ConnectionsActive: NewGauge(namespace+"_connections_active", "Number of active room connections"),
		ConnectionsTotal:  NewCounter(namespace+"_connections_total", "Total connection attempts"),
		ReconnectsTotal:   NewCounter(namespace+"_reconnects_total", "Total reconnects after a dropped connection"),

		PokesReceived:  NewCounter(namespace+"_pokes_received_total", "Total poke frames received"),
		PokesApplied:   NewCounter(namespace+"_pokes_applied_total", "Total pokes applied after jitter buffering"),
		PokeLatency:    NewHistogram(namespace+"_poke_latency_seconds", "Time from poke receipt to applying it"),
		JitterBufferMS: NewHistogram(namespace+"_jitter_buffer_hold_ms", "Time a poke sat in the jitter buffer"),

		MutationsPushed: NewCounter(namespace+"_mutations_pushed_total", "Total mutations pushed upstream"),
		MutationsAcked:  NewCounter(namespace+"_mutations_acked_total", "Total mutations acknowledged via lastMutationID"),
		PushRedrives:    NewCounter(namespace+"_push_redrives_total", "Total mutations skipped because they were already sent on this connection"),

		ErrorsTotal: NewCounterVec(namespace+"_errors_total", "Total errors by kind", "type"),

		custom: make(map[string]any),
	}
}

// Handler returns an HTTP handler for metrics, for a host that wants to
// expose this room's metrics alongside its own (SPEC_FULL §4.11).
func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")

		m.writeMetric(w, "connections_active", m.ConnectionsActive.Value())
		m.writeMetric(w, "connections_total", m.ConnectionsTotal.Value())
		m.writeMetric(w, "reconnects_total", m.ReconnectsTotal.Value())
		m.writeMetric(w, "pokes_received_total", m.PokesReceived.Value())
		m.writeMetric(w, "pokes_applied_total", m.PokesApplied.Value())
		m.writeMetric(w, "mutations_pushed_total", m.MutationsPushed.Value())
		m.writeMetric(w, "mutations_acked_total", m.MutationsAcked.Value())
		m.writeMetric(w, "push_redrives_total", m.PushRedrives.Value())

		for label, value := range m.ErrorsTotal.Values() {
			m.writeMetricWithLabel(w, "errors_total", "type", label, value)
		}

		m.writeHistogram(w, "poke_latency_seconds", m.PokeLatency)
		m.writeHistogram(w, "jitter_buffer_hold_ms", m.JitterBufferMS)
	})
}

func (m *Metrics) writeMetric(w http.ResponseWriter, name string, value float64) {
	fmt.Fprintf(w, "pokesync_%s %f\n", name, value)
}

func (m *Metrics) writeMetricWithLabel(w http.ResponseWriter, name, labelName, labelValue string, value float64) {
	fmt.Fprintf(w, "pokesync_%s{%s=\"%s\"} %f\n", name, labelName, labelValue, value)
}

func (m *Metrics) writeHistogram(w http.ResponseWriter, name string, h *Histogram) {
	stats := h.Stats()
	fmt.Fprintf(w, "pokesync_%s_sum %f\n", name, stats.Sum)
	fmt.Fprintf(w, "pokesync_%s_count %d\n", name, stats.Count)
	fmt.Fprintf(w, "pokesync_%s_min %f\n", name, stats.Min)
	fmt.Fprintf(w, "pokesync_%s_max %f\n", name, stats.Max)
	fmt.Fprintf(w, "pokesync_%s_avg %f\n", name, stats.Avg)
}

// Custom metric operations

func (m *Metrics) SetCustom(name string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.custom[name] = value
}

func (m *Metrics) GetCustom(name string) any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.custom[name]
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name  string
	help  string
	value int64
}

// NewCounter creates a new counter.
func NewCounter(name, help string) *Counter {
	return &Counter{name: name, help: help}
}

// Inc increments the counter by 1.
func (c *Counter) Inc() {
	atomic.AddInt64(&c.value, 1)
}

// Add adds the given value to the counter.
func (c *Counter) Add(delta int64) {
	atomic.AddInt64(&c.value, delta)
}

// Value returns the current counter value.
func (c *Counter) Value() float64 {
	return float64(atomic.LoadInt64(&c.value))
}

// Gauge is a value that can go up and down.
type Gauge struct {
	name  string
	help  string
	value int64
}

// NewGauge creates a new gauge.
func NewGauge(name, help string) *Gauge {
	return &Gauge{name: name, help: help}
}

// Set sets the gauge to a value.
func (g *Gauge) Set(value float64) {
	atomic.StoreInt64(&g.value, int64(value))
}

// Inc increments the gauge by 1.
func (g *Gauge) Inc() {
	atomic.AddInt64(&g.value, 1)
}

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() {
	atomic.AddInt64(&g.value, -1)
}

// Add adds the given value to the gauge.
func (g *Gauge) Add(delta float64) {
	atomic.AddInt64(&g.value, int64(delta))
}

// Value returns the current gauge value.
func (g *Gauge) Value() float64 {
	return float64(atomic.LoadInt64(&g.value))
}

// CounterVec is a counter with labels.
type CounterVec struct {
	name   string
	help   string
	labels []string
	values map[string]*Counter
	mu     sync.RWMutex
}

// NewCounterVec creates a new counter vector.
func NewCounterVec(name, help string, labels ...string) *CounterVec {
	return &CounterVec{
		name:   name,
		help:   help,
		labels: labels,
		values: make(map[string]*Counter),
	}
}

// WithLabel returns a counter for the given label value.
func (cv *CounterVec) WithLabel(value string) *Counter {
	cv.mu.Lock()
	defer cv.mu.Unlock()

	if c, ok := cv.values[value]; ok {
		return c
	}

	c := NewCounter(cv.name, cv.help)
	cv.values[value] = c
	return c
}

// Inc increments the counter for the given label.
func (cv *CounterVec) Inc(label string) {
	cv.WithLabel(label).Inc()
}

// Values returns all counter values.
func (cv *CounterVec) Values() map[string]float64 {
	cv.mu.RLock()
	defer cv.mu.RUnlock()

	result := make(map[string]float64)
	for label, counter := range cv.values {
		result[label] = counter.Value()
	}
	return result
}

// Histogram tracks the distribution of values.
type Histogram struct {
	name   string
	help   string
	values []float64
	sum    float64
	count  int64
	min    float64
	max    float64
	mu     sync.Mutex
}

// NewHistogram creates a new histogram.
func NewHistogram(name, help string) *Histogram {
	return &Histogram{
		name:   name,
		help:   help,
		values: make([]float64, 0),
		min:    -1,
	}
}

// Observe records a value.
func (h *Histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.values = append(h.values, value)
	h.sum += value
	h.count++

	if h.min < 0 || value < h.min {
		h.min = value
	}
	if value > h.max {
		h.max = value
	}

	// Keep only last 10000 values to bound memory
	if len(h.values) > 10000 {
		h.values = h.values[5000:]
	}
}

// ObserveDuration records a duration value.
func (h *Histogram) ObserveDuration(d time.Duration) {
	h.Observe(d.Seconds())
}

// Timer returns a timer that automatically records duration.
func (h *Histogram) Timer() *Timer {
	return &Timer{
		histogram: h,
		start:     time.Now(),
	}
}

// Stats returns histogram statistics.
func (h *Histogram) Stats() HistogramStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := HistogramStats{
		Count: h.count,
		Sum:   h.sum,
		Min:   h.min,
		Max:   h.max,
	}

	if h.count > 0 {
		stats.Avg = h.sum / float64(h.count)
	}

	return stats
}

// HistogramStats contains histogram statistics.
type HistogramStats struct {
	Count int64
	Sum   float64
	Min   float64
	Max   float64
	Avg   float64
}

// Timer tracks operation duration.
type Timer struct {
	histogram *Histogram
	start     time.Time
}

// ObserveDuration records the elapsed time.
func (t *Timer) ObserveDuration() {
	t.histogram.ObserveDuration(time.Since(t.start))
}

// Stop is an alias for ObserveDuration.
func (t *Timer) Stop() {
	t.ObserveDuration()
}

// GlobalMetrics is a package-level convenience instance for hosts that want
// one process-wide set of counters without threading a *Metrics through
// client.Options. It is never the implicit default: pkg/connection,
// pkg/pusher, and pkg/client each construct their own NewMetrics instance
// unless a caller supplies one explicitly (client.Options.Metrics,
// connection.WithMetrics, pusher.WithMetrics).
var GlobalMetrics = NewMetrics("pokesync")

// Per-instance helpers, used directly by pkg/connection and pkg/pusher so a
// host supplying its own *Metrics (via connection.WithMetrics) gets the same
// bookkeeping GlobalMetrics would.

func (m *Metrics) ConnectionOpened() {
	m.ConnectionsActive.Inc()
	m.ConnectionsTotal.Inc()
}

func (m *Metrics) ConnectionClosed() {
	m.ConnectionsActive.Dec()
}

func (m *Metrics) Reconnected() {
	m.ReconnectsTotal.Inc()
}

func (m *Metrics) PokeReceived(n int) {
	m.PokesReceived.Add(int64(n))
}

func (m *Metrics) PokeApplied(latency time.Duration) {
	m.PokesApplied.Inc()
	m.PokeLatency.ObserveDuration(latency)
}

func (m *Metrics) MutationPushed() {
	m.MutationsPushed.Inc()
}

func (m *Metrics) MutationAcked() {
	m.MutationsAcked.Inc()
}

func (m *Metrics) PushRedrive() {
	m.PushRedrives.Inc()
}

func (m *Metrics) RecordError(errType string) {
	m.ErrorsTotal.Inc(errType)
}

// Package-level helpers operating on GlobalMetrics, for callers that don't
// carry their own *Metrics reference.

func ConnectionOpened()                      { GlobalMetrics.ConnectionOpened() }
func ConnectionClosed()                      { GlobalMetrics.ConnectionClosed() }
func Reconnected()                           { GlobalMetrics.Reconnected() }
func PokeReceived()                          { GlobalMetrics.PokeReceived(1) }
func PokeApplied(latency time.Duration)      { GlobalMetrics.PokeApplied(latency) }
func MutationPushed()                        { GlobalMetrics.MutationPushed() }
func MutationAcked()                         { GlobalMetrics.MutationAcked() }
func RecordError(errType string)             { GlobalMetrics.RecordError(errType) }
