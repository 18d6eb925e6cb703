package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	dto "github.com/prometheus/client_model/go"

	"buck3t-gateway/internal/metrics"
)

// requestCounter returns the http_requests_total sample whose labels include
// want, or nil.
func requestCounter(t *testing.T, m *metrics.Metrics, want map[string]string) *dto.Metric {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() != "buck3t_gateway_http_requests_total" {
			continue
		}
	next:
		for _, metric := range f.GetMetric() {
			labels := make(map[string]string)
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue next
				}
			}
			return metric
		}
	}
	return nil
}

func serveWith(e *echo.Echo, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(method, path, http.NoBody))
	return rec
}

func TestMetricsMiddleware_IncrementsCounter(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.GET("/api/objects/*", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	if rec := serveWith(e, http.MethodGet, "/api/objects/docs/a.txt"); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	metric := requestCounter(t, m, map[string]string{"path_prefix": "/api/objects", "status_code": "200"})
	if metric == nil {
		t.Fatal("expected buck3t_gateway_http_requests_total with path_prefix=/api/objects")
	}
	if v := metric.GetCounter().GetValue(); v != 1 {
		t.Errorf("counter value = %v, want 1", v)
	}
}

func TestMetricsMiddleware_RecordsDuration(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	serveWith(e, http.MethodGet, "/healthz")

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() != "buck3t_gateway_http_request_duration_seconds" {
			continue
		}
		for _, metric := range f.GetMetric() {
			if metric.GetHistogram().GetSampleCount() > 0 {
				return
			}
		}
	}
	t.Error("expected buck3t_gateway_http_request_duration_seconds with at least one sample")
}

func TestMetricsMiddleware_StatusResolution(t *testing.T) {
	tests := []struct {
		name    string
		handler echo.HandlerFunc
		want    string
	}{
		{
			name: "HTTPError before commit",
			handler: func(c echo.Context) error {
				return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "too large")
			},
			want: "413",
		},
		{
			name: "backend status relayed",
			handler: func(c echo.Context) error {
				return c.String(http.StatusBadGateway, "failed to reach backend: timeout")
			},
			want: "502",
		},
		{
			name: "plain error",
			handler: func(c echo.Context) error {
				return echo.ErrInternalServerError.WithInternal(http.ErrAbortHandler)
			},
			want: "500",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := metrics.New()
			e := echo.New()
			e.Use(MetricsMiddleware(m))
			e.PUT("/api/objects/*", tt.handler)

			serveWith(e, http.MethodPut, "/api/objects/a")

			if requestCounter(t, m, map[string]string{"path_prefix": "/api/objects", "status_code": tt.want}) == nil {
				t.Errorf("expected a sample with status_code=%s", tt.want)
			}
		})
	}
}

func TestMetricsMiddleware_UnknownMethodNormalized(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.Any("/api/objects/*", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	serveWith(e, "XYZZY", "/api/objects/docs/a.txt")

	if requestCounter(t, m, map[string]string{"path_prefix": "/api/objects", "method": "other"}) == nil {
		t.Error("expected buck3t_gateway_http_requests_total with method=other")
	}
}

func TestMetricsMiddleware_RouterNotFound(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m))

	if rec := serveWith(e, http.MethodGet, "/nonexistent"); rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}

	want := map[string]string{"path_prefix": "other", "method": "GET", "status_code": "404"}
	if requestCounter(t, m, want) == nil {
		t.Error("expected buck3t_gateway_http_requests_total with path_prefix=other, method=GET, status_code=404")
	}
}

func TestMetricsMiddleware_SkipsScrapePath(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m, "/metrics"))
	e.GET("/metrics", func(c echo.Context) error {
		return c.String(http.StatusOK, "# metrics")
	})
	serveWith(e, http.MethodGet, "/metrics")

	if requestCounter(t, m, map[string]string{"path_prefix": "/metrics"}) != nil {
		t.Error("scrape requests should not be recorded")
	}
}

func TestMetricsMiddleware_NilMetrics(t *testing.T) {
	e := echo.New()
	e.Use(MetricsMiddleware(nil))
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	if rec := serveWith(e, http.MethodGet, "/healthz"); rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}
