package db

import (
	"waternity/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.Well{},
		&models.StakeholderShare{},
		&models.Settlement{},
		&models.Payout{},
		&models.IdempotencyRecord{},
		&models.SyncCursor{},
		&models.IngestedEvent{},
	)
}
