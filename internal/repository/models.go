package repository

import (
	"time"

	"github.com/leasepulse/renewal-webhooks/internal/domain"
)

// WebhookEventModel is the persistence model for the webhook_events table.
type WebhookEventModel struct {
	ID               string        `gorm:"type:uuid;primaryKey"`
	ExternalEventID  string        `gorm:"type:varchar(64);not null;uniqueIndex:idx_webhook_events_external_id"`
	TenantID         string        `gorm:"type:varchar(64);not null"`
	SubjectID        string        `gorm:"type:varchar(64);not null"`
	EventType        string        `gorm:"type:varchar(64);not null"`
	Payload          []byte        `gorm:"type:jsonb;not null"`
	Status           domain.Status `gorm:"type:varchar(20);not null"`
	AttemptCount     int           `gorm:"not null;default:0"`
	LastAttemptAt    *time.Time
	NextRetryAt      *time.Time
	LastResponseCode *int    `gorm:"type:int"`
	LastResponseBody *string `gorm:"type:text"`
	DeliveredAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (WebhookEventModel) TableName() string {
	return "webhook_events"
}

// DeadLetterRecordModel is the persistence model for dead_letter_records.
type DeadLetterRecordModel struct {
	ID            string `gorm:"type:uuid;primaryKey"`
	EventID       string `gorm:"type:uuid;not null;uniqueIndex:idx_dead_letters_event_id"`
	FailureReason string `gorm:"type:text;not null"`
	MovedAt       time.Time
}

func (DeadLetterRecordModel) TableName() string {
	return "dead_letter_records"
}

// EndpointConfigModel is the persistence model for endpoint_configs. The
// table is owned by the property management collaborator; this service only
// reads it.
type EndpointConfigModel struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	TenantID  string `gorm:"type:varchar(64);not null;uniqueIndex:idx_endpoint_configs_tenant"`
	URL       string `gorm:"type:text;not null"`
	Secret    string `gorm:"type:text;not null"`
	Active    bool   `gorm:"not null;default:true"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (EndpointConfigModel) TableName() string {
	return "endpoint_configs"
}

func eventModelFromDomain(e *domain.WebhookEvent) *WebhookEventModel {
	if e == nil {
		return nil
	}

	return &WebhookEventModel{
		ID:               e.ID,
		ExternalEventID:  e.ExternalEventID,
		TenantID:         e.TenantID,
		SubjectID:        e.SubjectID,
		EventType:        e.EventType,
		Payload:          e.Payload,
		Status:           e.Status,
		AttemptCount:     e.AttemptCount,
		LastAttemptAt:    e.LastAttemptAt,
		NextRetryAt:      e.NextRetryAt,
		LastResponseCode: e.LastResponseCode,
		LastResponseBody: e.LastResponseBody,
		DeliveredAt:      e.DeliveredAt,
		CreatedAt:        e.CreatedAt,
		UpdatedAt:        e.UpdatedAt,
	}
}

func eventModelToDomain(m *WebhookEventModel) *domain.WebhookEvent {
	if m == nil {
		return nil
	}

	return &domain.WebhookEvent{
		ID:               m.ID,
		ExternalEventID:  m.ExternalEventID,
		TenantID:         m.TenantID,
		SubjectID:        m.SubjectID,
		EventType:        m.EventType,
		Payload:          m.Payload,
		Status:           m.Status,
		AttemptCount:     m.AttemptCount,
		LastAttemptAt:    m.LastAttemptAt,
		NextRetryAt:      m.NextRetryAt,
		LastResponseCode: m.LastResponseCode,
		LastResponseBody: m.LastResponseBody,
		DeliveredAt:      m.DeliveredAt,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func deadLetterModelFromDomain(r *domain.DeadLetterRecord) *DeadLetterRecordModel {
	if r == nil {
		return nil
	}

	return &DeadLetterRecordModel{
		ID:            r.ID,
		EventID:       r.EventID,
		FailureReason: r.FailureReason,
		MovedAt:       r.MovedAt,
	}
}

func deadLetterModelToDomain(m *DeadLetterRecordModel) *domain.DeadLetterRecord {
	if m == nil {
		return nil
	}

	return &domain.DeadLetterRecord{
		ID:            m.ID,
		EventID:       m.EventID,
		FailureReason: m.FailureReason,
		MovedAt:       m.MovedAt,
	}
}

func endpointModelToDomain(m *EndpointConfigModel) *domain.EndpointConfig {
	if m == nil {
		return nil
	}

	return &domain.EndpointConfig{
		ID:        m.ID,
		TenantID:  m.TenantID,
		URL:       m.URL,
		Secret:    m.Secret,
		Active:    m.Active,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}
