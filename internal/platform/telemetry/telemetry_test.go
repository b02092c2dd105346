package telemetry

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestHistogram_Observe(t *testing.T) {
	h := newHistogram([]float64{1, 5, 10})
	for _, v := range []float64{0.5, 1, 3, 7, 20} {
		h.Observe(v)
	}

	if h.Count() != 5 {
		t.Errorf("expected count 5, got %d", h.Count())
	}
	if h.Sum() != 31.5 {
		t.Errorf("expected sum 31.5, got %g", h.Sum())
	}
	cum := h.cumulativeBuckets()
	want := []int64{2, 3, 4}
	for i := range want {
		if cum[i] != want[i] {
			t.Errorf("bucket %d: expected %d, got %d", i, want[i], cum[i])
		}
	}
}

func TestHistogram_ConcurrentObserve(t *testing.T) {
	h := newHistogram(defaultDurationBuckets)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				h.Observe(0.02)
			}
		}()
	}
	wg.Wait()

	if h.Count() != 5000 {
		t.Errorf("expected 5000 observations, got %d", h.Count())
	}
}

func newTestEcho(p *Provider) *echo.Echo {
	e := echo.New()
	e.Use(p.MetricsMiddleware())
	e.GET("/api/MapFHIR", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"ok": "yes"})
	})
	e.GET("/fail", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusBadRequest, "bad")
	})
	e.GET("/boom", func(c echo.Context) error {
		return errors.New("boom")
	})
	e.GET("/metrics", p.PrometheusHandler())
	return e
}

func do(e *echo.Echo, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestMetricsMiddleware_RecordsByRoute(t *testing.T) {
	p := NewProvider("fhirmapper", nil)
	e := newTestEcho(p)

	do(e, "/api/MapFHIR?PayerClaimUniqueIdentifier=1")
	do(e, "/api/MapFHIR?PayerClaimUniqueIdentifier=2")
	do(e, "/fail")

	if got := p.RequestCount(http.MethodGet, "/api/MapFHIR", "200"); got != 2 {
		t.Errorf("expected 2 recorded requests, got %d", got)
	}
	if got := p.RequestCount(http.MethodGet, "/fail", "400"); got != 1 {
		t.Errorf("expected the error status to be recorded, got %d", got)
	}
	if p.ActiveRequests() != 0 {
		t.Errorf("expected no active requests, got %d", p.ActiveRequests())
	}
}

func TestMetricsMiddleware_ErrorsAreRendered(t *testing.T) {
	p := NewProvider("fhirmapper", nil)
	e := newTestEcho(p)

	rec := do(e, "/boom")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if got := p.RequestCount(http.MethodGet, "/boom", "500"); got != 1 {
		t.Errorf("expected 500 to be recorded, got %d", got)
	}
}

func TestPrometheusHandler(t *testing.T) {
	p := NewProvider("fhirmapper", func() (int64, int64) { return 3, 2 })
	e := newTestEcho(p)
	do(e, "/api/MapFHIR")

	rec := do(e, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain") {
		t.Errorf("unexpected content type %q", rec.Header().Get("Content-Type"))
	}
	body := rec.Body.String()
	for _, want := range []string{
		`build_info{service="fhirmapper"} 1`,
		`http_server_request_duration_seconds_count{method="GET",route="/api/MapFHIR",status_code="200"} 1`,
		`http_server_request_duration_seconds_bucket{method="GET",route="/api/MapFHIR",status_code="200",le="+Inf"} 1`,
		"# TYPE http_server_response_size_bytes histogram",
		"db_pool_open_connections 3",
		"db_pool_idle_connections 2",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected exposition to contain %q\n%s", want, body)
		}
	}
}

func TestPrometheusHandler_NoPool(t *testing.T) {
	p := NewProvider("fhirmapper", nil)
	rec := do(newTestEcho(p), "/metrics")
	if strings.Contains(rec.Body.String(), "db_pool_") {
		t.Error("expected no pool gauges without a pool")
	}
}
