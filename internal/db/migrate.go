package db

import (
	"pricecontest/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.Prediction{},
		&models.Submission{},
		&models.UserStats{},
		&models.SystemSetting{},
		&models.SettlementRun{},
	)
}
