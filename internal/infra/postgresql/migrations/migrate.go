package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/leasepulse/renewal-webhooks/internal/repository"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_webhook_events",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.WebhookEventModel{}); err != nil {
					return err
				}
				indexes := []string{
					// external_event_id uniqueness is the only creation-time
					// concurrency control; a stricter dedup would add a unique
					// index on (tenant_id, subject_id, event_type, window bucket).
					`CREATE UNIQUE INDEX IF NOT EXISTS idx_webhook_events_external_id ON webhook_events (external_event_id)`,
					`CREATE INDEX IF NOT EXISTS idx_webhook_events_subject_created ON webhook_events (tenant_id, subject_id, created_at DESC)`,
					`CREATE INDEX IF NOT EXISTS idx_webhook_events_retry ON webhook_events (next_retry_at) WHERE status = 'PENDING'`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.WebhookEventModel{})
			},
		},
		{
			ID: "000002_create_dead_letter_records",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.DeadLetterRecordModel{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_dead_letters_event_id ON dead_letter_records (event_id)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.DeadLetterRecordModel{})
			},
		},
		{
			ID: "000003_create_endpoint_configs",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.EndpointConfigModel{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_endpoint_configs_tenant ON endpoint_configs (tenant_id)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.EndpointConfigModel{})
			},
		},
	})

	return m.Migrate()
}
