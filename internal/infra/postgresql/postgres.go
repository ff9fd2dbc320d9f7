package postgresql

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const connectMaxElapsedTime = 30 * time.Second

func NewPostgres(dsn string) (*gorm.DB, error) {
	var db *gorm.DB

	// The database may come up after the service in container environments,
	// so the initial connection is retried with exponential backoff.
	connect := func() error {
		opened, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger:                 logger.Default.LogMode(logger.Warn),
			SkipDefaultTransaction: true,
			TranslateError:         true,
		})
		if err != nil {
			return fmt.Errorf("failed to connect postgres: %w", err)
		}
		db = opened
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = connectMaxElapsedTime
	if err := backoff.Retry(connect, policy); err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return db, nil
}
