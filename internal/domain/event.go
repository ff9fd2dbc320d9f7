package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of a webhook event.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusDelivered  Status = "DELIVERED"
	StatusFailed     Status = "FAILED"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusDelivered, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further delivery attempts may occur.
func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusFailed
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// RiskTier classifies the renewal risk level of a resident.
type RiskTier string

const (
	RiskTierHigh   RiskTier = "high"
	RiskTierMedium RiskTier = "medium"
	RiskTierLow    RiskTier = "low"
)

func (t RiskTier) String() string { return string(t) }

func (t RiskTier) IsValid() bool {
	switch t {
	case RiskTierHigh, RiskTierMedium, RiskTierLow:
		return true
	}
	return false
}

func ParseRiskTierFromString(s string) (RiskTier, error) {
	tier := RiskTier(strings.ToLower(strings.TrimSpace(s)))
	if !tier.IsValid() {
		return "", fmt.Errorf("%w: invalid risk tier %q", ErrValidation, s)
	}
	return tier, nil
}

// EventTypeRiskFlagged is the only event type emitted by this service.
const EventTypeRiskFlagged = "renewal.risk_flagged"

// MaxAttempts caps delivery attempts per event.
const MaxAttempts = 5

// RiskSignals carries the individual indicators behind a risk score.
type RiskSignals struct {
	LatePayments          int  `json:"latePayments"`
	MaintenanceComplaints int  `json:"maintenanceComplaints"`
	NegativeSentiment     bool `json:"negativeSentiment"`
	PortalInactive        bool `json:"portalInactive"`
}

// RiskSnapshot is the immutable risk picture captured at trigger time.
type RiskSnapshot struct {
	RiskScore    int         `json:"riskScore"`
	RiskTier     RiskTier    `json:"riskTier"`
	DaysToExpiry int         `json:"daysToExpiry"`
	Signals      RiskSignals `json:"signals"`
}

func (s RiskSnapshot) Validate() error {
	if s.RiskScore < 0 || s.RiskScore > 100 {
		return fmt.Errorf("%w: riskScore must be in [0,100] (got %d)", ErrValidation, s.RiskScore)
	}
	if !s.RiskTier.IsValid() {
		return fmt.Errorf("%w: invalid risk tier %q", ErrValidation, s.RiskTier)
	}
	if s.DaysToExpiry < 0 {
		return fmt.Errorf("%w: daysToExpiry must be non-negative (got %d)", ErrValidation, s.DaysToExpiry)
	}
	if s.Signals.LatePayments < 0 {
		return fmt.Errorf("%w: latePayments must be non-negative", ErrValidation)
	}
	if s.Signals.MaintenanceComplaints < 0 {
		return fmt.Errorf("%w: maintenanceComplaints must be non-negative", ErrValidation)
	}
	return nil
}

// WebhookEvent is one durably tracked notification toward a tenant endpoint.
//
// Payload holds the exact bytes posted to the receiver; the signature is
// computed over these bytes on every attempt, so they are captured once at
// creation and never rewritten.
type WebhookEvent struct {
	ID               string
	ExternalEventID  string
	TenantID         string
	SubjectID        string
	EventType        string
	Payload          []byte
	Status           Status
	AttemptCount     int
	LastAttemptAt    *time.Time
	NextRetryAt      *time.Time
	LastResponseCode *int
	LastResponseBody *string
	DeliveredAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (e *WebhookEvent) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: event is required", ErrValidation)
	}
	if strings.TrimSpace(e.TenantID) == "" {
		return fmt.Errorf("%w: tenant id is required", ErrValidation)
	}
	if strings.TrimSpace(e.SubjectID) == "" {
		return fmt.Errorf("%w: subject id is required", ErrValidation)
	}
	if strings.TrimSpace(e.ExternalEventID) == "" {
		return fmt.Errorf("%w: external event id is required", ErrValidation)
	}
	if len(e.Payload) == 0 {
		return fmt.Errorf("%w: payload is required", ErrValidation)
	}
	if !e.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, e.Status)
	}
	if e.AttemptCount < 0 || e.AttemptCount > MaxAttempts {
		return fmt.Errorf("%w: attempt count %d outside [0,%d]", ErrValidation, e.AttemptCount, MaxAttempts)
	}
	return nil
}
