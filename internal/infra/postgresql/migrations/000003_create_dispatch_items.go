package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/dispatch-queue/internal/repository"
	"gorm.io/gorm"
)

func createDispatchItemsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_dispatch_items",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.ItemModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`ALTER TABLE dispatch_items ADD CONSTRAINT fk_dispatch_items_batch FOREIGN KEY (batch_id) REFERENCES dispatch_batches (id) ON DELETE CASCADE`,
				`ALTER TABLE dispatch_items ADD CONSTRAINT fk_dispatch_items_target FOREIGN KEY (target_record_id) REFERENCES target_records (id)`,
				`CREATE INDEX IF NOT EXISTS idx_dispatch_items_pending_created ON dispatch_items (created_at) WHERE status = 'pending'`,
				`CREATE INDEX IF NOT EXISTS idx_dispatch_items_batch_status ON dispatch_items (batch_id, status)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.ItemModel{})
		},
	}
}
