package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/leasepulse/renewal-webhooks/internal/domain"
	"github.com/leasepulse/renewal-webhooks/internal/service"
)

type fakeDispatchService struct {
	triggerFn   func(ctx context.Context, tenantID, subjectID string, snapshot domain.RiskSnapshot) (*service.TriggerResult, error)
	latestForFn func(ctx context.Context, tenantID, subjectID string) (*domain.WebhookEvent, error)
}

func (f *fakeDispatchService) Trigger(ctx context.Context, tenantID, subjectID string, snapshot domain.RiskSnapshot) (*service.TriggerResult, error) {
	if f.triggerFn == nil {
		return nil, fmt.Errorf("unexpected Trigger call")
	}
	return f.triggerFn(ctx, tenantID, subjectID, snapshot)
}

func (f *fakeDispatchService) LatestFor(ctx context.Context, tenantID, subjectID string) (*domain.WebhookEvent, error) {
	if f.latestForFn == nil {
		return nil, fmt.Errorf("unexpected LatestFor call")
	}
	return f.latestForFn(ctx, tenantID, subjectID)
}

func newTestApp(t *testing.T, svc DispatchService) *fiber.App {
	t.Helper()

	app := fiber.New()
	if err := RegisterEventRoutes(app, svc); err != nil {
		t.Fatalf("RegisterEventRoutes() error = %v", err)
	}
	return app
}

func triggerBody(t *testing.T) *bytes.Reader {
	t.Helper()

	body, err := json.Marshal(map[string]any{
		"riskScore":    82,
		"riskTier":     "high",
		"daysToExpiry": 45,
		"signals": map[string]any{
			"latePayments":          2,
			"maintenanceComplaints": 3,
			"negativeSentiment":     true,
			"portalInactive":        true,
		},
	})
	if err != nil {
		t.Fatalf("failed to marshal request body: %v", err)
	}
	return bytes.NewReader(body)
}

func decodeJSON(t *testing.T, body io.Reader, out any) {
	t.Helper()

	if err := json.NewDecoder(body).Decode(out); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
}

func TestTriggerRiskEventAccepted(t *testing.T) {
	t.Parallel()

	svc := &fakeDispatchService{
		triggerFn: func(_ context.Context, tenantID, subjectID string, snapshot domain.RiskSnapshot) (*service.TriggerResult, error) {
			if tenantID != "tnt_1" || subjectID != "res_1" {
				t.Fatalf("service called with %s/%s", tenantID, subjectID)
			}
			if snapshot.RiskScore != 82 || snapshot.RiskTier != domain.RiskTierHigh {
				t.Fatalf("unexpected snapshot: %+v", snapshot)
			}
			if !snapshot.Signals.NegativeSentiment || snapshot.Signals.LatePayments != 2 {
				t.Fatalf("signals not mapped: %+v", snapshot.Signals)
			}
			return &service.TriggerResult{
				EventExternalID: "evt_123",
				Status:          domain.StatusPending,
			}, nil
		},
	}

	app := newTestApp(t, svc)
	req := httptest.NewRequest(fiber.MethodPost, "/v1/tenants/tnt_1/subjects/res_1/risk-events", triggerBody(t))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	var got triggerResponse
	decodeJSON(t, resp.Body, &got)
	if got.EventID != "evt_123" {
		t.Fatalf("eventId = %q, want evt_123", got.EventID)
	}
	if got.Status != "PENDING" {
		t.Fatalf("status = %q, want PENDING", got.Status)
	}
	if got.AlreadyExists {
		t.Fatal("alreadyExists = true for a fresh event")
	}
}

func TestTriggerRiskEventDuplicate(t *testing.T) {
	t.Parallel()

	svc := &fakeDispatchService{
		triggerFn: func(context.Context, string, string, domain.RiskSnapshot) (*service.TriggerResult, error) {
			return &service.TriggerResult{
				EventExternalID: "evt_existing",
				Status:          domain.StatusDelivered,
				AlreadyExists:   true,
			}, nil
		},
	}

	app := newTestApp(t, svc)
	req := httptest.NewRequest(fiber.MethodPost, "/v1/tenants/tnt_1/subjects/res_1/risk-events", triggerBody(t))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200 for a duplicate", resp.StatusCode)
	}

	var got triggerResponse
	decodeJSON(t, resp.Body, &got)
	if !got.AlreadyExists {
		t.Fatal("alreadyExists = false, want true")
	}
	if got.EventID != "evt_existing" {
		t.Fatalf("eventId = %q, want evt_existing", got.EventID)
	}
}

func TestTriggerRiskEventErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		serviceErr error
		wantStatus int
	}{
		{
			name:       "malformed json",
			body:       "{not json",
			wantStatus: fiber.StatusBadRequest,
		},
		{
			name:       "invalid tier",
			body:       `{"riskScore":50,"riskTier":"severe","daysToExpiry":10}`,
			wantStatus: fiber.StatusBadRequest,
		},
		{
			name:       "validation error from service",
			body:       `{"riskScore":50,"riskTier":"low","daysToExpiry":10}`,
			serviceErr: fmt.Errorf("%w: riskScore must be in [0,100]", domain.ErrValidation),
			wantStatus: fiber.StatusBadRequest,
		},
		{
			name:       "no active endpoint",
			body:       `{"riskScore":50,"riskTier":"low","daysToExpiry":10}`,
			serviceErr: fmt.Errorf("%w for tenant tnt_1", domain.ErrNoEndpoint),
			wantStatus: fiber.StatusNotFound,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc := &fakeDispatchService{
				triggerFn: func(context.Context, string, string, domain.RiskSnapshot) (*service.TriggerResult, error) {
					return nil, tt.serviceErr
				},
			}

			app := newTestApp(t, svc)
			req := httptest.NewRequest(fiber.MethodPost, "/v1/tenants/tnt_1/subjects/res_1/risk-events", bytes.NewReader([]byte(tt.body)))
			req.Header.Set("Content-Type", "application/json")

			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("app.Test() error = %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestGetLatestRiskEvent(t *testing.T) {
	t.Parallel()

	deliveredAt := time.Date(2026, 8, 25, 12, 0, 5, 0, time.UTC)
	lastAttemptAt := time.Date(2026, 8, 25, 12, 0, 4, 0, time.UTC)

	svc := &fakeDispatchService{
		latestForFn: func(_ context.Context, tenantID, subjectID string) (*domain.WebhookEvent, error) {
			if tenantID != "tnt_1" || subjectID != "res_1" {
				return nil, domain.ErrNotFound
			}
			return &domain.WebhookEvent{
				ExternalEventID: "evt_123",
				Status:          domain.StatusDelivered,
				AttemptCount:    3,
				LastAttemptAt:   &lastAttemptAt,
				DeliveredAt:     &deliveredAt,
				CreatedAt:       time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
			}, nil
		},
	}

	app := newTestApp(t, svc)
	req := httptest.NewRequest(fiber.MethodGet, "/v1/tenants/tnt_1/subjects/res_1/risk-events/latest", nil)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var got statusResponse
	decodeJSON(t, resp.Body, &got)
	if got.EventID != "evt_123" {
		t.Fatalf("eventId = %q, want evt_123", got.EventID)
	}
	if got.Status != "DELIVERED" {
		t.Fatalf("status = %q, want DELIVERED", got.Status)
	}
	if got.AttemptCount != 3 {
		t.Fatalf("attemptCount = %d, want 3", got.AttemptCount)
	}
	if got.DeliveredAt == nil || !got.DeliveredAt.Equal(deliveredAt) {
		t.Fatalf("deliveredAt = %v, want %v", got.DeliveredAt, deliveredAt)
	}
}

func TestGetLatestRiskEventNotFound(t *testing.T) {
	t.Parallel()

	svc := &fakeDispatchService{
		latestForFn: func(context.Context, string, string) (*domain.WebhookEvent, error) {
			return nil, domain.ErrNotFound
		},
	}

	app := newTestApp(t, svc)
	req := httptest.NewRequest(fiber.MethodGet, "/v1/tenants/tnt_1/subjects/res_unknown/risk-events/latest", nil)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestNewEventHandlerRequiresService(t *testing.T) {
	t.Parallel()

	if _, err := NewEventHandler(nil); err == nil {
		t.Fatal("NewEventHandler(nil) did not fail")
	}
}
