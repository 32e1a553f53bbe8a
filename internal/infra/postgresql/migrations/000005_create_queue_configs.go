package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/dispatch-queue/internal/repository"
	"gorm.io/gorm"
)

func createQueueConfigsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000005_create_queue_configs",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.QueueConfigModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.QueueConfigModel{})
		},
	}
}
