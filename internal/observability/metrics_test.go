package observability

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsDeliveryCollectors(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()

	metrics.IncDelivered("Tenant-A")
	metrics.IncDeliveryFailed("tenant-a", "retry_exhausted")
	metrics.ObserveAttemptDuration("tenant-a", 120*time.Millisecond)
	metrics.IncDeliveryInFlight("tenant-a")
	metrics.DecDeliveryInFlight("tenant-a")
	metrics.IncRetryScheduled("tenant-a")
	metrics.IncDeadLetter("tenant-a")

	if got := testutil.ToFloat64(metrics.deliveriesTotal.WithLabelValues("tenant-a")); got != 1 {
		t.Fatalf("deliveries_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.deliveryFailuresTotal.WithLabelValues("tenant-a", "retry_exhausted")); got != 1 {
		t.Fatalf("delivery_failures_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.retryScheduledTotal.WithLabelValues("tenant-a")); got != 1 {
		t.Fatalf("retry_scheduled_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.deadLettersTotal.WithLabelValues("tenant-a")); got != 1 {
		t.Fatalf("dead_letters_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.deliveryInflight.WithLabelValues("tenant-a")); got != 0 {
		t.Fatalf("delivery_inflight = %v, want 0", got)
	}
}

func TestMetricsHTTPMiddlewareRecordsRequest(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/livez", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest("GET", "/livez", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/livez", "200")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}

func TestMetricsHTTPMiddlewareRecordsErrorStatus(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/boom", func(c *fiber.Ctx) error {
		return errors.New("boom")
	})

	req := httptest.NewRequest("GET", "/boom", nil)
	_, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/boom", "500")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}
