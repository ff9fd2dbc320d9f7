package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/leasepulse/renewal-webhooks/internal/domain"
)

type EndpointConfigRepository interface {
	GetActiveByTenant(ctx context.Context, tenantID string) (*domain.EndpointConfig, error)
}

type GormEndpointConfigRepo struct {
	db *gorm.DB
}

func NewGormEndpointConfigRepo(db *gorm.DB) *GormEndpointConfigRepo {
	return &GormEndpointConfigRepo{db: db}
}

// GetActiveByTenant returns the tenant's active endpoint, or ErrNoEndpoint
// when the tenant has no configured active destination.
func (r *GormEndpointConfigRepo) GetActiveByTenant(ctx context.Context, tenantID string) (*domain.EndpointConfig, error) {
	var model EndpointConfigModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND active = ?", tenantID, true).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNoEndpoint
	}
	if err != nil {
		return nil, err
	}
	return endpointModelToDomain(&model), nil
}
