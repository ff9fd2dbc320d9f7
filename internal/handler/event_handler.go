package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/leasepulse/renewal-webhooks/internal/domain"
	"github.com/leasepulse/renewal-webhooks/internal/service"
)

// DispatchService is the orchestrator surface consumed by the API.
type DispatchService interface {
	Trigger(ctx context.Context, tenantID, subjectID string, snapshot domain.RiskSnapshot) (*service.TriggerResult, error)
	LatestFor(ctx context.Context, tenantID, subjectID string) (*domain.WebhookEvent, error)
}

type EventHandler struct {
	service DispatchService
}

func NewEventHandler(service DispatchService) (*EventHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("dispatch service is required")
	}
	return &EventHandler{service: service}, nil
}

func RegisterEventRoutes(router fiber.Router, service DispatchService) error {
	h, err := NewEventHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/tenants/:tenantId/subjects/:subjectId/risk-events", h.TriggerRiskEvent)
	v1.Get("/tenants/:tenantId/subjects/:subjectId/risk-events/latest", h.GetLatestRiskEvent)

	return nil
}

type triggerRequest struct {
	RiskScore    int     `json:"riskScore"`
	RiskTier     string  `json:"riskTier"`
	DaysToExpiry int     `json:"daysToExpiry"`
	Signals      signals `json:"signals"`
}

type signals struct {
	LatePayments          int  `json:"latePayments"`
	MaintenanceComplaints int  `json:"maintenanceComplaints"`
	NegativeSentiment     bool `json:"negativeSentiment"`
	PortalInactive        bool `json:"portalInactive"`
}

type triggerResponse struct {
	EventID       string `json:"eventId"`
	Status        string `json:"status"`
	AlreadyExists bool   `json:"alreadyExists,omitempty"`
	Message       string `json:"message"`
}

type statusResponse struct {
	EventID       string     `json:"eventId"`
	Status        string     `json:"status"`
	AttemptCount  int        `json:"attemptCount"`
	LastAttemptAt *time.Time `json:"lastAttemptAt,omitempty"`
	NextRetryAt   *time.Time `json:"nextRetryAt,omitempty"`
	DeliveredAt   *time.Time `json:"deliveredAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

func (h *EventHandler) TriggerRiskEvent(c *fiber.Ctx) error {
	var req triggerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	tier, err := domain.ParseRiskTierFromString(req.RiskTier)
	if err != nil {
		return toHTTPError(err)
	}

	snapshot := domain.RiskSnapshot{
		RiskScore:    req.RiskScore,
		RiskTier:     tier,
		DaysToExpiry: req.DaysToExpiry,
		Signals: domain.RiskSignals{
			LatePayments:          req.Signals.LatePayments,
			MaintenanceComplaints: req.Signals.MaintenanceComplaints,
			NegativeSentiment:     req.Signals.NegativeSentiment,
			PortalInactive:        req.Signals.PortalInactive,
		},
	}

	result, err := h.service.Trigger(
		c.Context(),
		strings.TrimSpace(c.Params("tenantId")),
		strings.TrimSpace(c.Params("subjectId")),
		snapshot,
	)
	if err != nil {
		return toHTTPError(err)
	}

	if result.AlreadyExists {
		return c.Status(fiber.StatusOK).JSON(triggerResponse{
			EventID:       result.EventExternalID,
			Status:        result.Status.String(),
			AlreadyExists: true,
			Message:       "duplicate trigger within idempotency window",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(triggerResponse{
		EventID: result.EventExternalID,
		Status:  result.Status.String(),
		Message: "accepted",
	})
}

func (h *EventHandler) GetLatestRiskEvent(c *fiber.Ctx) error {
	event, err := h.service.LatestFor(
		c.Context(),
		strings.TrimSpace(c.Params("tenantId")),
		strings.TrimSpace(c.Params("subjectId")),
	)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(statusResponse{
		EventID:       event.ExternalEventID,
		Status:        event.Status.String(),
		AttemptCount:  event.AttemptCount,
		LastAttemptAt: event.LastAttemptAt,
		NextRetryAt:   event.NextRetryAt,
		DeliveredAt:   event.DeliveredAt,
		CreatedAt:     event.CreatedAt,
	})
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNoEndpoint):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
