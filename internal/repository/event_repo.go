package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/leasepulse/renewal-webhooks/internal/domain"
)

// AttemptAudit carries the audit fields persisted with every post-attempt
// transition, successful or not.
type AttemptAudit struct {
	AttemptCount int
	AttemptedAt  time.Time
	ResponseCode *int
	ResponseBody *string
}

type EventRepository interface {
	Create(ctx context.Context, e *domain.WebhookEvent) error
	GetByID(ctx context.Context, id string) (*domain.WebhookEvent, error)
	GetByExternalID(ctx context.Context, tenantID, externalEventID string) (*domain.WebhookEvent, error)
	GetLatestForSubject(ctx context.Context, tenantID, subjectID string) (*domain.WebhookEvent, error)
	GetRecentForSubject(ctx context.Context, tenantID, subjectID, eventType string, since time.Time) (*domain.WebhookEvent, error)
	ClaimForAttempt(ctx context.Context, id string) (*domain.WebhookEvent, error)
	MarkDelivered(ctx context.Context, id string, audit AttemptAudit, deliveredAt time.Time) error
	MarkRetryScheduled(ctx context.Context, id string, audit AttemptAudit, nextRetryAt time.Time) error
	MarkFailed(ctx context.Context, id string, audit AttemptAudit) error
	GetDueForRetry(ctx context.Context, now time.Time, limit int) ([]domain.WebhookEvent, error)
	RequeueStale(ctx context.Context, cutoff, now time.Time) (int64, error)
}

type GormEventRepo struct {
	db *gorm.DB
}

func NewGormEventRepo(db *gorm.DB) *GormEventRepo {
	return &GormEventRepo{db: db}
}

// Create inserts the event row. The unique index on external_event_id is
// the only creation-time concurrency control; a collision surfaces as
// ErrConflict rather than a raw driver error.
func (r *GormEventRepo) Create(ctx context.Context, e *domain.WebhookEvent) error {
	model := eventModelFromDomain(e)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: event %s already exists", domain.ErrConflict, e.ExternalEventID)
		}
		return err
	}
	if e != nil {
		*e = *eventModelToDomain(model)
	}
	return nil
}

func (r *GormEventRepo) GetByID(ctx context.Context, id string) (*domain.WebhookEvent, error) {
	var model WebhookEventModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return eventModelToDomain(&model), nil
}

func (r *GormEventRepo) GetByExternalID(ctx context.Context, tenantID, externalEventID string) (*domain.WebhookEvent, error) {
	var model WebhookEventModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND external_event_id = ?", tenantID, externalEventID).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return eventModelToDomain(&model), nil
}

func (r *GormEventRepo) GetLatestForSubject(ctx context.Context, tenantID, subjectID string) (*domain.WebhookEvent, error) {
	var model WebhookEventModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND subject_id = ?", tenantID, subjectID).
		Order("created_at DESC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return eventModelToDomain(&model), nil
}

func (r *GormEventRepo) GetRecentForSubject(ctx context.Context, tenantID, subjectID, eventType string, since time.Time) (*domain.WebhookEvent, error) {
	var model WebhookEventModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND subject_id = ? AND event_type = ? AND created_at > ?", tenantID, subjectID, eventType, since).
		Order("created_at DESC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return eventModelToDomain(&model), nil
}

// ClaimForAttempt transitions a PENDING event to PROCESSING. The guarded
// update is the arbiter between a sleeping in-process loop and the recovery
// sweeper: whichever claims the row runs the attempt, the other backs off.
// Returns nil without error when the event exists but is not claimable.
func (r *GormEventRepo) ClaimForAttempt(ctx context.Context, id string) (*domain.WebhookEvent, error) {
	result := r.db.WithContext(ctx).
		Model(&WebhookEventModel{}).
		Where("id = ? AND status = ?", id, domain.StatusPending).
		Update("status", domain.StatusProcessing)
	if result.Error != nil {
		return nil, result.Error
	}

	if result.RowsAffected == 0 {
		var model WebhookEventModel
		err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		return nil, nil
	}

	var model WebhookEventModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return eventModelToDomain(&model), nil
}

func (r *GormEventRepo) MarkDelivered(ctx context.Context, id string, audit AttemptAudit, deliveredAt time.Time) error {
	return r.applyTransition(ctx, id, audit, map[string]any{
		"status":        domain.StatusDelivered,
		"delivered_at":  deliveredAt,
		"next_retry_at": nil,
	})
}

func (r *GormEventRepo) MarkRetryScheduled(ctx context.Context, id string, audit AttemptAudit, nextRetryAt time.Time) error {
	return r.applyTransition(ctx, id, audit, map[string]any{
		"status":        domain.StatusPending,
		"next_retry_at": nextRetryAt,
	})
}

func (r *GormEventRepo) MarkFailed(ctx context.Context, id string, audit AttemptAudit) error {
	return r.applyTransition(ctx, id, audit, map[string]any{
		"status":        domain.StatusFailed,
		"next_retry_at": nil,
	})
}

func (r *GormEventRepo) applyTransition(ctx context.Context, id string, audit AttemptAudit, updates map[string]any) error {
	updates["attempt_count"] = audit.AttemptCount
	updates["last_attempt_at"] = audit.AttemptedAt
	updates["last_response_code"] = audit.ResponseCode
	updates["last_response_body"] = audit.ResponseBody

	result := r.db.WithContext(ctx).
		Model(&WebhookEventModel{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormEventRepo) GetDueForRetry(ctx context.Context, now time.Time, limit int) ([]domain.WebhookEvent, error) {
	var models []WebhookEventModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_retry_at <= ?", domain.StatusPending, now).
		Order("next_retry_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	events := make([]domain.WebhookEvent, 0, len(models))
	for i := range models {
		events = append(events, *eventModelToDomain(&models[i]))
	}

	return events, nil
}

// RequeueStale returns abandoned rows to the sweepable PENDING set. A
// PROCESSING row untouched since the cutoff belonged to a process that died
// mid-attempt; a PENDING row that never got a next_retry_at was created but
// its loop never ran. Both become PENDING with next_retry_at = now so the
// regular due-retry sweep resumes them. The cutoff keeps the requeue clear
// of rows a live loop is actively working (an attempt is bounded by the
// delivery timeout, far inside any reasonable grace period).
func (r *GormEventRepo) RequeueStale(ctx context.Context, cutoff, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&WebhookEventModel{}).
		Where("(status = ? OR (status = ? AND next_retry_at IS NULL)) AND updated_at <= ?",
			domain.StatusProcessing, domain.StatusPending, cutoff).
		Updates(map[string]any{
			"status":        domain.StatusPending,
			"next_retry_at": now,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
