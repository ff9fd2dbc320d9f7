package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/leasepulse/renewal-webhooks/internal/domain"
)

type DeadLetterRepository interface {
	Create(ctx context.Context, r *domain.DeadLetterRecord) error
	GetByEventID(ctx context.Context, eventID string) (*domain.DeadLetterRecord, error)
}

type GormDeadLetterRepo struct {
	db *gorm.DB
}

func NewGormDeadLetterRepo(db *gorm.DB) *GormDeadLetterRepo {
	return &GormDeadLetterRepo{db: db}
}

func (r *GormDeadLetterRepo) Create(ctx context.Context, record *domain.DeadLetterRecord) error {
	model := deadLetterModelFromDomain(record)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if record != nil {
		*record = *deadLetterModelToDomain(model)
	}
	return nil
}

func (r *GormDeadLetterRepo) GetByEventID(ctx context.Context, eventID string) (*domain.DeadLetterRecord, error) {
	var model DeadLetterRecordModel
	err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return deadLetterModelToDomain(&model), nil
}
