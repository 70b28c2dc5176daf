package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func addPushSubscriptionFailureColumns() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_add_push_subscription_failures",
		Migrate: func(tx *gorm.DB) error {
			statements := []string{
				`ALTER TABLE push_subscriptions ADD COLUMN IF NOT EXISTS failure_count INT NOT NULL DEFAULT 0`,
				`ALTER TABLE push_subscriptions ADD COLUMN IF NOT EXISTS last_failure_at TIMESTAMPTZ`,
			}
			for _, sql := range statements {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			statements := []string{
				`ALTER TABLE push_subscriptions DROP COLUMN IF EXISTS last_failure_at`,
				`ALTER TABLE push_subscriptions DROP COLUMN IF EXISTS failure_count`,
			}
			for _, sql := range statements {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
	}
}
