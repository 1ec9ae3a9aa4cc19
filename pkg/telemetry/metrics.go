package telemetry

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every Prometheus collector the relay exports.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	// Request metrics
	RequestDuration *prometheus.HistogramVec
	APIRequests     *prometheus.CounterVec
	APIErrors       *prometheus.CounterVec

	// Relay metrics
	ActiveCalls          prometheus.Gauge
	CallsStarted         *prometheus.CounterVec
	RelayFrames          *prometheus.CounterVec
	RejectedEvents       *prometheus.CounterVec
	VendorDialFailures   prometheus.Counter
	ToolCalls            *prometheus.CounterVec
	TokenRefreshes       *prometheus.CounterVec
	UpstreamCallDuration *prometheus.HistogramVec
}

// New registers all collectors on reg. Pass prometheus.NewRegistry() in tests.
func New(namespace string, reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{gatherer: reg}

	m.RequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	m.APIRequests = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Total number of API requests",
		},
		[]string{"method", "path"},
	)
	m.APIErrors = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_errors_total",
			Help:      "Total number of API errors",
		},
		[]string{"method", "path", "status"},
	)

	m.ActiveCalls = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "relay_active_calls",
		Help:      "Number of calls currently bridged or being set up",
	})
	m.CallsStarted = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_calls_started_total",
			Help:      "Total number of media streams started",
		},
		[]string{"direction"},
	)
	m.RelayFrames = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_frames_total",
			Help:      "Audio frames relayed, by direction and disposition",
		},
		[]string{"direction", "disposition"},
	)
	m.RejectedEvents = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_rejected_events_total",
			Help:      "Events not allowed in the relay state they arrived in",
		},
		[]string{"state", "event"},
	)
	m.VendorDialFailures = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "relay_vendor_dial_failures_total",
		Help:      "Voice vendor connections that could not be opened",
	})
	m.ToolCalls = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool invocations handled, by tool and outcome",
		},
		[]string{"tool", "outcome"},
	)
	m.TokenRefreshes = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crm_token_refresh_total",
			Help:      "CRM access token refresh attempts",
		},
		[]string{"outcome"},
	)
	m.UpstreamCallDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Duration of requests to carrier, vendor and CRM APIs",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "operation"},
	)
	return m
}

// Middleware tracks request metrics.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method

		m.APIRequests.With(prometheus.Labels{"method": method, "path": path}).Inc()

		c.Next()

		status := c.Writer.Status()
		labels := prometheus.Labels{"method": method, "path": path, "status": strconv.Itoa(status)}
		m.RequestDuration.With(labels).Observe(time.Since(start).Seconds())
		if status >= 400 {
			m.APIErrors.With(labels).Inc()
		}
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() gin.HandlerFunc {
	if m == nil {
		return gin.WrapH(promhttp.Handler())
	}
	return gin.WrapH(promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{}))
}

func (m *Metrics) CallStarted(direction string) {
	if m == nil {
		return
	}
	m.CallsStarted.WithLabelValues(direction).Inc()
	m.ActiveCalls.Inc()
}

func (m *Metrics) CallEnded() {
	if m == nil {
		return
	}
	m.ActiveCalls.Dec()
}

// Frame records one relayed or dropped audio frame.
// direction is carrier_to_vendor or vendor_to_carrier.
func (m *Metrics) Frame(direction, disposition string) {
	if m == nil {
		return
	}
	m.RelayFrames.WithLabelValues(direction, disposition).Inc()
}

func (m *Metrics) EventRejected(state, event string) {
	if m == nil {
		return
	}
	m.RejectedEvents.WithLabelValues(state, event).Inc()
}

func (m *Metrics) VendorDialFailed() {
	if m == nil {
		return
	}
	m.VendorDialFailures.Inc()
}

func (m *Metrics) ToolCall(tool string, ok bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.ToolCalls.WithLabelValues(tool, outcome).Inc()
}

func (m *Metrics) TokenRefresh(ok bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.TokenRefreshes.WithLabelValues(outcome).Inc()
}

// TrackUpstream returns a function that observes the duration since start.
func (m *Metrics) TrackUpstream(service, operation string) func() {
	start := time.Now()
	return func() {
		if m == nil {
			return
		}
		m.UpstreamCallDuration.WithLabelValues(service, operation).Observe(time.Since(start).Seconds())
	}
}
