package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Deployment statuses. A row is created queued and transitions exactly once
// to live or failed; a retry is a new row, never a reopened one.
const (
	DeploymentStatusQueued = "queued"
	DeploymentStatusLive   = "live"
	DeploymentStatusFailed = "failed"
)

// Deployment is one attempt to publish code for a project.
type Deployment struct {
	ID                uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	ProjectID         uuid.UUID      `gorm:"type:uuid;index;not null" json:"project_id" validate:"required"`
	Status            string         `gorm:"type:varchar(16);index;not null" json:"status" validate:"required,oneof=queued live failed"`
	Source            string         `gorm:"type:varchar(255);not null" json:"source"`
	WorkerVersionID   *string        `gorm:"type:varchar(128)" json:"worker_version_id"`
	ArtifactBucketKey *string        `gorm:"type:varchar(255)" json:"artifact_bucket_key"`
	ErrorMessage      *string        `gorm:"type:text" json:"error_message"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"-"`
}
