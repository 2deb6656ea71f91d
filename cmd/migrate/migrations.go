package main

import (
	"gorm.io/gorm"

	"github.com/skiffhost/engine/internal/models"
)

// registerModels returns all models that need migration
func registerModels() []interface{} {
	return []interface{}{
		&models.Project{},
		&models.Resource{},
		&models.Deployment{},
	}
}

// runMigrations executes all database migrations
func runMigrations(db *gorm.DB) error {
	if err := enableUUIDExtension(db); err != nil {
		return err
	}
	if err := db.AutoMigrate(registerModels()...); err != nil {
		return err
	}
	return addDeploymentIndexes(db)
}

// enableUUIDExtension ensures UUID generation is available
func enableUUIDExtension(db *gorm.DB) error {
	return db.Exec(`CREATE EXTENSION IF NOT EXISTS "pgcrypto"`).Error
}

// addDeploymentIndexes adds indexes AutoMigrate can't express
func addDeploymentIndexes(db *gorm.DB) error {
	// Status listings per project are the hot query on the dashboard.
	return db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_deployments_project_status
		ON deployments(project_id, status)
		WHERE deleted_at IS NULL
	`).Error
}
