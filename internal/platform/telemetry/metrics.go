package telemetry

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

var defaultDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// histogram is a thread-safe histogram. Bucket counts are stored
// non-cumulative; cumulative counts are computed at export time.
type histogram struct {
	boundaries   []float64
	bucketCounts []int64
	count        int64
	sum          uint64 // math.Float64bits
	mu           sync.Mutex
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{
		boundaries:   boundaries,
		bucketCounts: make([]int64, len(boundaries)),
	}
}

func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	atomicAddFloat64(&h.sum, v)

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			return
		}
	}
}

func (h *histogram) Count() int64 { return atomic.LoadInt64(&h.count) }

func (h *histogram) Sum() float64 { return math.Float64frombits(atomic.LoadUint64(&h.sum)) }

func (h *histogram) cumulativeBuckets() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	cum := make([]int64, len(h.bucketCounts))
	var running int64
	for i, c := range h.bucketCounts {
		running += c
		cum[i] = running
	}
	return cum
}

func atomicAddFloat64(addr *uint64, delta float64) {
	for {
		old := atomic.LoadUint64(addr)
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if atomic.CompareAndSwapUint64(addr, old, next) {
			return
		}
	}
}

// series is one metric family keyed by its rendered label set.
type series struct {
	help     string
	counters map[string]*int64
	hists    map[string]*histogram
}

// Metrics is an in-process registry of counters, request histograms and
// sampled gauges. Safe for concurrent use.
type Metrics struct {
	mu       sync.RWMutex
	families map[string]*series
	gauges   map[string]gauge
	active   atomic.Int64
}

type gauge struct {
	help string
	fn   func() float64
}

func NewMetrics() *Metrics {
	return &Metrics{
		families: make(map[string]*series),
		gauges:   make(map[string]gauge),
	}
}

// Describe sets the HELP text of a counter or histogram family.
func (m *Metrics) Describe(name, help string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.familyLocked(name).help = help
}

func (m *Metrics) familyLocked(name string) *series {
	f, ok := m.families[name]
	if !ok {
		f = &series{counters: make(map[string]*int64), hists: make(map[string]*histogram)}
		m.families[name] = f
	}
	return f
}

// Inc adds one to the counter name. labels are key, value pairs.
func (m *Metrics) Inc(name string, labels ...string) {
	key := renderLabels(labels)

	m.mu.RLock()
	f := m.families[name]
	var c *int64
	if f != nil {
		c = f.counters[key]
	}
	m.mu.RUnlock()

	if c == nil {
		m.mu.Lock()
		f = m.familyLocked(name)
		if c = f.counters[key]; c == nil {
			c = new(int64)
			f.counters[key] = c
		}
		m.mu.Unlock()
	}
	atomic.AddInt64(c, 1)
}

// Counter returns the current value of a counter, 0 when unset.
func (m *Metrics) Counter(name string, labels ...string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if f := m.families[name]; f != nil {
		if c := f.counters[renderLabels(labels)]; c != nil {
			return atomic.LoadInt64(c)
		}
	}
	return 0
}

func (m *Metrics) observe(name string, v float64, labels ...string) *histogram {
	key := renderLabels(labels)
	m.mu.Lock()
	f := m.familyLocked(name)
	h, ok := f.hists[key]
	if !ok {
		h = newHistogram(defaultDurationBuckets)
		f.hists[key] = h
	}
	m.mu.Unlock()
	h.Observe(v)
	return h
}

// GaugeFunc registers a gauge sampled at scrape time.
func (m *Metrics) GaugeFunc(name, help string, fn func() float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[name] = gauge{help: help, fn: fn}
}

// Middleware records request duration by method, route pattern and status.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.active.Add(1)
			start := time.Now()

			err := next(c)

			m.active.Add(-1)
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.observe("http_server_request_duration_seconds", time.Since(start).Seconds(),
				"method", c.Request().Method, "route", route, "status_code", strconv.Itoa(status))
			return err
		}
	}
}

// Handler serves the registry in Prometheus text exposition format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.String(http.StatusOK, m.render())
	}
}

func (m *Metrics) render() string {
	var b strings.Builder

	b.WriteString("# HELP http_server_active_requests Number of in-flight HTTP requests.\n")
	b.WriteString("# TYPE http_server_active_requests gauge\n")
	fmt.Fprintf(&b, "http_server_active_requests %d\n\n", m.active.Load())

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, name := range sortedKeys(m.families) {
		f := m.families[name]
		if len(f.counters) > 0 {
			writeHeader(&b, name, f.help, "counter")
			for _, key := range sortedKeys(f.counters) {
				fmt.Fprintf(&b, "%s%s %d\n", name, braces(key), atomic.LoadInt64(f.counters[key]))
			}
			b.WriteByte('\n')
		}
		if len(f.hists) > 0 {
			writeHeader(&b, name, f.help, "histogram")
			for _, key := range sortedKeys(f.hists) {
				writeHistogram(&b, name, key, f.hists[key])
			}
			b.WriteByte('\n')
		}
	}

	for _, name := range sortedKeys(m.gauges) {
		g := m.gauges[name]
		writeHeader(&b, name, g.help, "gauge")
		fmt.Fprintf(&b, "%s %g\n\n", name, g.fn())
	}
	return b.String()
}

func writeHeader(b *strings.Builder, name, help, typ string) {
	if help != "" {
		fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	}
	fmt.Fprintf(b, "# TYPE %s %s\n", name, typ)
}

func writeHistogram(b *strings.Builder, name, labels string, h *histogram) {
	prefix := ""
	if labels != "" {
		prefix = labels + ","
	}
	cum := h.cumulativeBuckets()
	for i, boundary := range h.boundaries {
		fmt.Fprintf(b, "%s_bucket{%sle=\"%g\"} %d\n", name, prefix, boundary, cum[i])
	}
	total := h.Count()
	fmt.Fprintf(b, "%s_bucket{%sle=\"+Inf\"} %d\n", name, prefix, total)
	fmt.Fprintf(b, "%s_sum%s %g\n", name, braces(labels), h.Sum())
	fmt.Fprintf(b, "%s_count%s %d\n", name, braces(labels), total)
}

// renderLabels turns key, value pairs into `k1="v1",k2="v2"`. A trailing
// key without a value is dropped.
func renderLabels(pairs []string) string {
	parts := make([]string, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		parts = append(parts, fmt.Sprintf("%s=%q", pairs[i], pairs[i+1]))
	}
	return strings.Join(parts, ",")
}

func braces(labels string) string {
	if labels == "" {
		return ""
	}
	return "{" + labels + "}"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
