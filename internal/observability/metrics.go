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

// Metrics stores Prometheus collectors used by API and delivery flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal       *prometheus.CounterVec
	httpRequestDuration     *prometheus.HistogramVec
	deliveriesTotal         *prometheus.CounterVec
	deliveryFailuresTotal   *prometheus.CounterVec
	deliveryAttemptDuration *prometheus.HistogramVec
	deliveryInflight        *prometheus.GaugeVec
	retryScheduledTotal     *prometheus.CounterVec
	deadLettersTotal        *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "renewal_webhooks",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "renewal_webhooks",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		deliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "renewal_webhooks",
				Name:      "deliveries_total",
				Help:      "Total number of webhook events delivered successfully.",
			},
			[]string{"tenant"},
		),
		deliveryFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "renewal_webhooks",
				Name:      "delivery_failures_total",
				Help:      "Total number of webhook events that ended in failed state.",
			},
			[]string{"tenant", "reason"},
		),
		deliveryAttemptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "renewal_webhooks",
				Name:      "delivery_attempt_duration_seconds",
				Help:      "Outbound delivery attempt duration in seconds grouped by tenant.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"tenant"},
		),
		deliveryInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "renewal_webhooks",
				Name:      "delivery_inflight",
				Help:      "Current number of in-flight delivery loops grouped by tenant.",
			},
			[]string{"tenant"},
		),
		retryScheduledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "renewal_webhooks",
				Name:      "retry_scheduled_total",
				Help:      "Total number of delivery attempts scheduled for retry.",
			},
			[]string{"tenant"},
		),
		deadLettersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "renewal_webhooks",
				Name:      "dead_letters_total",
				Help:      "Total number of events moved to the dead-letter table.",
			},
			[]string{"tenant"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.deliveriesTotal,
		m.deliveryFailuresTotal,
		m.deliveryAttemptDuration,
		m.deliveryInflight,
		m.retryScheduledTotal,
		m.deadLettersTotal,
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

func (m *Metrics) IncDelivered(tenant string) {
	if m == nil {
		return
	}
	m.deliveriesTotal.WithLabelValues(normalizeTenant(tenant)).Inc()
}

func (m *Metrics) IncDeliveryFailed(tenant string, reason string) {
	if m == nil {
		return
	}
	reasonLabel := strings.TrimSpace(strings.ToLower(reason))
	if reasonLabel == "" {
		reasonLabel = "unknown"
	}
	m.deliveryFailuresTotal.WithLabelValues(normalizeTenant(tenant), reasonLabel).Inc()
}

func (m *Metrics) ObserveAttemptDuration(tenant string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.deliveryAttemptDuration.WithLabelValues(normalizeTenant(tenant)).Observe(seconds)
}

func (m *Metrics) IncDeliveryInFlight(tenant string) {
	if m == nil {
		return
	}
	m.deliveryInflight.WithLabelValues(normalizeTenant(tenant)).Inc()
}

func (m *Metrics) DecDeliveryInFlight(tenant string) {
	if m == nil {
		return
	}
	m.deliveryInflight.WithLabelValues(normalizeTenant(tenant)).Dec()
}

func (m *Metrics) IncRetryScheduled(tenant string) {
	if m == nil {
		return
	}
	m.retryScheduledTotal.WithLabelValues(normalizeTenant(tenant)).Inc()
}

func (m *Metrics) IncDeadLetter(tenant string) {
	if m == nil {
		return
	}
	m.deadLettersTotal.WithLabelValues(normalizeTenant(tenant)).Inc()
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

func normalizeTenant(tenant string) string {
	normalized := strings.ToLower(strings.TrimSpace(tenant))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
