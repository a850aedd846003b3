package database

import (
	"fmt"

	"github.com/vlogmedia/vlog/internal/models"
)

// Migrate applies the catalog schema. AutoMigrate is additive; removed
// columns are left in place.
func (db *DB) Migrate() error {
	if err := db.DB.AutoMigrate(
		&models.Video{},
		&models.Job{},
		&models.QualityProgress{},
		&models.Worker{},
		&models.APIKey{},
		&models.AdminSession{},
		&models.Setting{},
		&models.DeploymentEvent{},
		&models.Segment{},
	); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}
