// Package metrics provides the daemon's internal metrics primitives.
// Counter and Gauge are backed by real github.com/prometheus/client_golang
// metric types rather than hand-rolled atomics, so an external registrar
// scraping the process gets genuine prometheus.Collector-compatible
// objects; this package itself exposes no HTTP surface. Histogram stays a
// minimal custom type: client_golang's Histogram is bucket-only and can't
// answer the Min/Max/Mean queries the gas and cycle-timing call sites need
// without scraping, so there is no library type that serves this shape.
package metrics

import (
	"math"
	"regexp"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// disallowedNameChars matches anything outside a prometheus metric name's
// allowed alphabet, so the package's dotted metric names (e.g.
// "daemon.cycles_completed") still register as valid collectors.
var disallowedNameChars = regexp.MustCompile(`[^a-zA-Z0-9_:]`)

func sanitizeName(name string) string {
	return disallowedNameChars.ReplaceAllString(name, "_")
}

// ---------------------------------------------------------------------------
// Counter
// ---------------------------------------------------------------------------

// Counter is a monotonically incrementing counter, backed by a
// prometheus.Counter.
type Counter struct {
	name  string
	inner prometheus.Counter
}

// NewCounter returns a new Counter with the given name.
func NewCounter(name string) *Counter {
	return &Counter{
		name:  name,
		inner: prometheus.NewCounter(prometheus.CounterOpts{Name: sanitizeName(name), Help: name}),
	}
}

// Inc increments the counter by 1.
func (c *Counter) Inc() { c.inner.Inc() }

// Add increments the counter by n. Negative values are silently ignored
// because counters are monotonically increasing.
func (c *Counter) Add(n int64) {
	if n > 0 {
		c.inner.Add(float64(n))
	}
}

// Value returns the current counter value.
func (c *Counter) Value() int64 {
	var m dto.Metric
	_ = c.inner.Write(&m)
	return int64(m.GetCounter().GetValue())
}

// Name returns the metric name.
func (c *Counter) Name() string { return c.name }

// ---------------------------------------------------------------------------
// Gauge
// ---------------------------------------------------------------------------

// Gauge is a value that can go up and down, backed by a prometheus.Gauge.
type Gauge struct {
	name  string
	inner prometheus.Gauge
}

// NewGauge returns a new Gauge with the given name.
func NewGauge(name string) *Gauge {
	return &Gauge{
		name:  name,
		inner: prometheus.NewGauge(prometheus.GaugeOpts{Name: sanitizeName(name), Help: name}),
	}
}

// Set sets the gauge to the given value.
func (g *Gauge) Set(v int64) { g.inner.Set(float64(v)) }

// Inc increments the gauge by 1.
func (g *Gauge) Inc() { g.inner.Inc() }

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() { g.inner.Dec() }

// Value returns the current gauge value.
func (g *Gauge) Value() int64 {
	var m dto.Metric
	_ = g.inner.Write(&m)
	return int64(m.GetGauge().GetValue())
}

// Name returns the metric name.
func (g *Gauge) Name() string { return g.name }

// ---------------------------------------------------------------------------
// Histogram
// ---------------------------------------------------------------------------

// Histogram tracks the distribution of observed values. It records count,
// sum, min, and max. For a full-featured histogram with quantiles consider
// using an external library; this implementation intentionally stays minimal.
type Histogram struct {
	name  string
	mu    sync.Mutex
	count int64
	sum   float64
	min   float64
	max   float64
}

// NewHistogram returns a new Histogram with the given name.
func NewHistogram(name string) *Histogram {
	return &Histogram{
		name: name,
		min:  math.MaxFloat64,
		max:  -math.MaxFloat64,
	}
}

// Observe records a value.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	h.count++
	h.sum += v
	if v < h.min {
		h.min = v
	}
	if v > h.max {
		h.max = v
	}
	h.mu.Unlock()
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Sum returns the sum of all observed values.
func (h *Histogram) Sum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}

// Min returns the smallest observed value. If no values have been observed
// it returns 0.
func (h *Histogram) Min() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 {
		return 0
	}
	return h.min
}

// Max returns the largest observed value. If no values have been observed
// it returns 0.
func (h *Histogram) Max() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 {
		return 0
	}
	return h.max
}

// Mean returns the arithmetic mean of all observations. Returns 0 when no
// values have been observed.
func (h *Histogram) Mean() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 {
		return 0
	}
	return h.sum / float64(h.count)
}

// Name returns the metric name.
func (h *Histogram) Name() string { return h.name }

// ---------------------------------------------------------------------------
// Timer
// ---------------------------------------------------------------------------

// Timer is a convenience helper for timing operations. It records the
// elapsed duration (in milliseconds) into an associated Histogram when
// Stop is called.
type Timer struct {
	start time.Time
	hist  *Histogram
}

// NewTimer starts a new timer that will record into h when stopped.
func NewTimer(h *Histogram) *Timer {
	return &Timer{
		start: time.Now(),
		hist:  h,
	}
}

// Stop records the elapsed time in milliseconds into the associated
// histogram and returns the duration.
func (t *Timer) Stop() time.Duration {
	d := time.Since(t.start)
	if t.hist != nil {
		t.hist.Observe(float64(d.Milliseconds()))
	}
	return d
}
