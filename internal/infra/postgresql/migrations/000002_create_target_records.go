package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/dispatch-queue/internal/repository"
	"gorm.io/gorm"
)

func createTargetRecordsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_target_records",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.TargetRecordModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.TargetRecordModel{})
		},
	}
}
