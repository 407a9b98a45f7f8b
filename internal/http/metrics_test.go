package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

func newTestMetrics(t *testing.T) (*HTTPMetrics, *metric.ManualReader) {
	t.Helper()
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m := &HTTPMetrics{meter: mp.Meter(httpInstrumentationName), logger: zap.NewNop()}
	m.init()
	return m, reader
}

func collect(t *testing.T, reader *metric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func TestHTTPMetrics_MetricsMiddleware(t *testing.T) {
	m, reader := newTestMetrics(t)

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.POST("/api/v1/ingest", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusBadRequest, "category field is required")
	})
	e.POST("/api/v1/search", func(c echo.Context) error {
		return errors.New("store exploded")
	})
	e.DELETE("/api/v1/sources/:id", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"id": c.Param("id")})
	})

	requests := []*http.Request{
		httptest.NewRequest(http.MethodGet, "/health", nil),
		httptest.NewRequest(http.MethodPost, "/api/v1/ingest", strings.NewReader(`{"text":"hello"}`)),
		httptest.NewRequest(http.MethodPost, "/api/v1/search", strings.NewReader(`{"query":"q"}`)),
		httptest.NewRequest(http.MethodDelete, "/api/v1/sources/resume.md", nil),
	}
	for _, req := range requests {
		e.ServeHTTP(httptest.NewRecorder(), req)
	}

	data := collect(t, reader)

	t.Run("requests by route and status", func(t *testing.T) {
		sum, ok := data["candidate.http.requests_total"].(metricdata.Sum[int64])
		require.True(t, ok)

		got := map[string]int64{}
		for _, dp := range sum.DataPoints {
			endpoint, _ := dp.Attributes.Value("endpoint")
			status, _ := dp.Attributes.Value("status")
			class, _ := dp.Attributes.Value("status_class")
			got[endpoint.AsString()+" "+status.Emit()+" "+class.AsString()] += dp.Value
		}
		assert.Equal(t, map[string]int64{
			"/health 200 2xx":             1,
			"/api/v1/ingest 400 4xx":      1,
			"/api/v1/search 500 5xx":      1,
			"/api/v1/sources/:id 200 2xx": 1,
		}, got)
	})

	t.Run("durations", func(t *testing.T) {
		hist, ok := data["candidate.http.request_duration_seconds"].(metricdata.Histogram[float64])
		require.True(t, ok)
		var total uint64
		for _, dp := range hist.DataPoints {
			total += dp.Count
		}
		assert.Equal(t, uint64(4), total)
	})

	t.Run("request bodies", func(t *testing.T) {
		hist, ok := data["candidate.http.request_size_bytes"].(metricdata.Histogram[int64])
		require.True(t, ok)
		var total uint64
		for _, dp := range hist.DataPoints {
			total += dp.Count
		}
		assert.Equal(t, uint64(2), total, "only requests with a body")
	})

	t.Run("response sizes", func(t *testing.T) {
		assert.Contains(t, data, "candidate.http.response_size_bytes")
	})

	t.Run("no requests left in flight", func(t *testing.T) {
		sum, ok := data["candidate.http.active_requests"].(metricdata.Sum[int64])
		require.True(t, ok)
		for _, dp := range sum.DataPoints {
			assert.Zero(t, dp.Value)
		}
	})
}

func TestStatusClass(t *testing.T) {
	tests := map[int]string{
		http.StatusOK:                  "2xx",
		http.StatusNoContent:           "2xx",
		http.StatusFound:               "3xx",
		http.StatusNotFound:            "4xx",
		http.StatusServiceUnavailable:  "5xx",
		http.StatusInternalServerError: "5xx",
	}
	for status, want := range tests {
		assert.Equal(t, want, statusClass(status), "status %d", status)
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", "/"},
		{"/health", "/health"},
		{"/api/v1/search", "/api/v1/search"},
		{"/api/v1/sources/:id", "/api/v1/sources/:id"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, normalizePath(tt.input))
		})
	}
}
