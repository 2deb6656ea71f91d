package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Resource types known to the platform's provisioning component.
const (
	ResourceTypeDatabase      = "database"
	ResourceTypeObjectStorage = "object-storage"
	ResourceTypeScript        = "script"
)

// Resource statuses.
const (
	ResourceStatusActive  = "active"
	ResourceStatusDeleted = "deleted"
)

// Resource is a previously provisioned piece of tenant infrastructure.
// Rows are owned by the provisioning component; the deployment pipeline
// only reads them, always scoped to status != deleted.
type Resource struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	ProjectID  uuid.UUID      `gorm:"type:uuid;index:idx_resources_project_type;not null" json:"project_id" validate:"required"`
	Type       string         `gorm:"type:varchar(32);index:idx_resources_project_type;not null" json:"type" validate:"required"`
	ProviderID string         `gorm:"type:varchar(128);not null" json:"provider_id"`
	Name       string         `gorm:"type:varchar(128);not null" json:"name"`
	Status     string         `gorm:"type:varchar(16);index;not null;default:active" json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
}
