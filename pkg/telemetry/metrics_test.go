package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddleware_CountsErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New("test", prometheus.NewRegistry())

	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/bad", func(c *gin.Context) { c.Status(http.StatusBadRequest) })
	r.GET("/metrics", m.Handler())

	for _, p := range []string{"/ok", "/bad", "/bad"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	if got := testutil.ToFloat64(m.APIErrors.WithLabelValues(http.MethodGet, "/bad", "400")); got != 2 {
		t.Fatalf("expected 2 errors, got %v", got)
	}
	if got := testutil.ToFloat64(m.APIRequests.WithLabelValues(http.MethodGet, "/ok")); got != 1 {
		t.Fatalf("expected 1 request, got %v", got)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(w.Body.String(), "test_api_requests_total") {
		t.Fatalf("expected exposition output to include request counter")
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.CallStarted("inbound")
	m.CallEnded()
	m.Frame("carrier_to_vendor", "sent")
	m.EventRejected("Closed", "media")
	m.VendorDialFailed()
	m.ToolCall("transfer_to_agent", true)
	m.TokenRefresh(false)
	m.TrackUpstream("crm", "token")()
}

func TestEventRejected(t *testing.T) {
	m := New("test", prometheus.NewRegistry())
	m.EventRejected("AwaitingStreamStart", "media")
	if got := testutil.ToFloat64(m.RejectedEvents.WithLabelValues("AwaitingStreamStart", "media")); got != 1 {
		t.Fatalf("expected 1, got %v", got)
	}
}
