// Package telemetry records HTTP server metrics and serves them in the
// Prometheus text exposition format.
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

// defaultDurationBuckets are request duration bucket boundaries in seconds.
var defaultDurationBuckets = []float64{
	0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.0, 2.5, 5.0, 10.0,
}

// defaultSizeBuckets are response size bucket boundaries in bytes.
var defaultSizeBuckets = []float64{
	100, 1_000, 10_000, 100_000, 1_000_000, 10_000_000,
}

// ---------------------------------------------------------------------------
// Histogram
// ---------------------------------------------------------------------------

// histogram stores non-cumulative bucket counts; cumulative counts are
// computed at export time.
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

// Observe records a single value.
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

// ---------------------------------------------------------------------------
// Labeled histograms, keyed by (method, route, status_code)
// ---------------------------------------------------------------------------

type labeledHistograms struct {
	mu         sync.RWMutex
	boundaries []float64
	items      map[string]*histogram
}

func newLabeledHistograms(boundaries []float64) *labeledHistograms {
	return &labeledHistograms{boundaries: boundaries, items: make(map[string]*histogram)}
}

func (s *labeledHistograms) get(key string) *histogram {
	s.mu.RLock()
	h, ok := s.items[key]
	s.mu.RUnlock()
	if ok {
		return h
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok = s.items[key]; !ok {
		h = newHistogram(s.boundaries)
		s.items[key] = h
	}
	return h
}

// sortedKeys returns keys in a stable order so the exposition is
// deterministic.
func (s *labeledHistograms) sortedKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.items))
	for k := range s.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// LabelsKey builds the key for a labeled histogram.
func LabelsKey(method, route, statusCode string) string {
	return method + "|" + route + "|" + statusCode
}

// ---------------------------------------------------------------------------
// Provider
// ---------------------------------------------------------------------------

// PoolGauges reports open and idle store connections.
type PoolGauges func() (open, idle int64)

// Provider holds all recorded metrics.
type Provider struct {
	service  string
	duration *labeledHistograms
	respSize *histogram
	active   int64
	pool     PoolGauges
}

// NewProvider creates a provider. pool may be nil.
func NewProvider(service string, pool PoolGauges) *Provider {
	return &Provider{
		service:  service,
		duration: newLabeledHistograms(defaultDurationBuckets),
		respSize: newHistogram(defaultSizeBuckets),
		pool:     pool,
	}
}

// RequestCount returns the number of requests recorded for a label set.
func (p *Provider) RequestCount(method, route, statusCode string) int64 {
	return p.duration.get(LabelsKey(method, route, statusCode)).Count()
}

// ActiveRequests returns the number of in-flight requests.
func (p *Provider) ActiveRequests() int64 { return atomic.LoadInt64(&p.active) }

// MetricsMiddleware records request duration, response size and in-flight
// requests. Routes are labeled by their registered pattern so unknown paths
// do not create new series.
func (p *Provider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			atomic.AddInt64(&p.active, 1)
			defer atomic.AddInt64(&p.active, -1)

			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			resp := c.Response()
			key := LabelsKey(c.Request().Method, route, strconv.Itoa(resp.Status))
			p.duration.get(key).Observe(time.Since(start).Seconds())
			if resp.Size > 0 {
				p.respSize.Observe(float64(resp.Size))
			}
			return nil
		}
	}
}

// PrometheusHandler serves the metrics in text exposition format.
func (p *Provider) PrometheusHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder

		fmt.Fprintf(&b, "# HELP build_info Service identity.\n# TYPE build_info gauge\n")
		fmt.Fprintf(&b, "build_info{service=%q} 1\n\n", p.service)

		name := "http_server_request_duration_seconds"
		fmt.Fprintf(&b, "# HELP %s Duration of HTTP requests in seconds.\n", name)
		fmt.Fprintf(&b, "# TYPE %s histogram\n", name)
		for _, key := range p.duration.sortedKeys() {
			parts := strings.SplitN(key, "|", 3)
			labels := fmt.Sprintf("method=%q,route=%q,status_code=%q", parts[0], parts[1], parts[2])
			writeHistogram(&b, name, labels, p.duration.get(key))
		}
		b.WriteByte('\n')

		name = "http_server_response_size_bytes"
		fmt.Fprintf(&b, "# HELP %s Size of HTTP response bodies in bytes.\n", name)
		fmt.Fprintf(&b, "# TYPE %s histogram\n", name)
		writeHistogram(&b, name, "", p.respSize)
		b.WriteByte('\n')

		writeGauge(&b, "http_server_active_requests", "Number of in-flight HTTP requests.", p.ActiveRequests())
		if p.pool != nil {
			open, idle := p.pool()
			writeGauge(&b, "db_pool_open_connections", "Open claim store connections.", open)
			writeGauge(&b, "db_pool_idle_connections", "Idle claim store connections.", idle)
		}

		return c.Blob(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8", []byte(b.String()))
	}
}

func writeGauge(b *strings.Builder, name, help string, v int64) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s gauge\n", name)
	fmt.Fprintf(b, "%s %d\n\n", name, v)
}

func writeHistogram(b *strings.Builder, name, labels string, h *histogram) {
	cum := h.cumulativeBuckets()
	total := h.Count()

	prefix, suffix := "", ""
	if labels != "" {
		prefix = labels + ","
		suffix = "{" + labels + "}"
	}
	for i, boundary := range h.boundaries {
		fmt.Fprintf(b, "%s_bucket{%sle=\"%g\"} %d\n", name, prefix, boundary, cum[i])
	}
	fmt.Fprintf(b, "%s_bucket{%sle=\"+Inf\"} %d\n", name, prefix, total)
	fmt.Fprintf(b, "%s_sum%s %g\n", name, suffix, h.Sum())
	fmt.Fprintf(b, "%s_count%s %d\n", name, suffix, total)
}
