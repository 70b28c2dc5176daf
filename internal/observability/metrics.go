package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "calendar_push"

// Drain outcomes reported on batch_drains_total.
const (
	DrainOutcomeSent      = "sent"
	DrainOutcomeFailed    = "failed"
	DrainOutcomeEmpty     = "empty"
	DrainOutcomeMalformed = "malformed"
)

// Metrics stores Prometheus collectors used by the API, the batch coordinator and the push sender.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	eventsEnqueuedTotal prometheus.Counter
	drainsTotal         *prometheus.CounterVec
	coalescedEvents     prometheus.Histogram
	pushDeliveriesTotal *prometheus.CounterVec
	pushSendDuration    prometheus.Histogram
	pendingEntries      prometheus.Gauge
	leaseAcquiredTotal  prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		eventsEnqueuedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "batch_events_enqueued_total",
				Help:      "Total number of calendar events added to the batch queue.",
			},
		),
		drainsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "batch_drains_total",
				Help:      "Total number of batch drains grouped by outcome.",
			},
			[]string{"outcome"},
		),
		coalescedEvents: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "batch_coalesced_events",
				Help:      "Number of queued events summarized into one push notification.",
				Buckets:   []float64{1, 2, 3, 5, 10, 20, 50, 100},
			},
		),
		pushDeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "push_deliveries_total",
				Help:      "Total number of per-subscription push deliveries grouped by result.",
			},
			[]string{"result"},
		),
		pushSendDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "push_send_duration_seconds",
				Help:      "Push endpoint request duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		pendingEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "batch_pending_entries",
				Help:      "Number of entries waiting in the batch queue at the last scan.",
			},
		),
		leaseAcquiredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "lease_acquired_total",
				Help:      "Total number of batch leases acquired by this process.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.eventsEnqueuedTotal,
		m.drainsTotal,
		m.coalescedEvents,
		m.pushDeliveriesTotal,
		m.pushSendDuration,
		m.pendingEntries,
		m.leaseAcquiredTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncEventsEnqueued() {
	if m == nil {
		return
	}
	m.eventsEnqueuedTotal.Inc()
}

func (m *Metrics) IncDrain(outcome string) {
	if m == nil {
		return
	}
	m.drainsTotal.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *Metrics) ObserveCoalesced(count int) {
	if m == nil || count < 0 {
		return
	}
	m.coalescedEvents.Observe(float64(count))
}

func (m *Metrics) IncPushDelivery(result string) {
	if m == nil {
		return
	}
	m.pushDeliveriesTotal.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *Metrics) ObservePushSendDuration(duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.pushSendDuration.Observe(seconds)
}

func (m *Metrics) SetPendingEntries(count int) {
	if m == nil {
		return
	}
	m.pendingEntries.Set(float64(count))
}

func (m *Metrics) IncLeaseAcquired() {
	if m == nil {
		return
	}
	m.leaseAcquiredTotal.Inc()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
