package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/skiffhost/engine/internal/models"
	appErr "github.com/skiffhost/engine/pkg/errors"
	"gorm.io/gorm"
)

type DeploymentRepository interface {
	BaseRepository[models.Deployment]
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.Deployment, error)
	SetArtifactBucketKey(ctx context.Context, deploymentID uuid.UUID, key string) error
	Finalize(ctx context.Context, deploymentID uuid.UUID, status string, workerVersionID, errorMessage *string) error
}

type deploymentRepository struct {
	BaseRepository[models.Deployment]
	db *gorm.DB
}

func NewDeploymentRepository(db *gorm.DB) DeploymentRepository {
	return &deploymentRepository{BaseRepository: NewBaseRepository[models.Deployment](db), db: db}
}

func (r *deploymentRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.Deployment, error) {
	var out []models.Deployment
	if err := r.db.WithContext(ctx).Where("project_id = ?", projectID).Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "list deployments failed")
	}
	return out, nil
}

// SetArtifactBucketKey records the blob-store key prefix on a deployment
// that is still queued.
func (r *deploymentRepository) SetArtifactBucketKey(ctx context.Context, deploymentID uuid.UUID, key string) error {
	res := r.db.WithContext(ctx).Model(&models.Deployment{}).
		Where("id = ? AND status = ?", deploymentID, models.DeploymentStatusQueued).
		Update("artifact_bucket_key", key)
	if res.Error != nil {
		return appErr.Wrap(res.Error, appErr.CodeInternal, "set artifact bucket key failed")
	}
	if res.RowsAffected == 0 {
		return appErr.New(appErr.CodeNotFound, "queued deployment not found")
	}
	return nil
}

// Finalize moves a queued deployment to its terminal status. The status
// guard in the WHERE clause makes the transition monotonic: a row that is
// already live or failed is never reopened, and a second finalize attempt
// reports a conflict instead of overwriting the first.
func (r *deploymentRepository) Finalize(ctx context.Context, deploymentID uuid.UUID, status string, workerVersionID, errorMessage *string) error {
	if status != models.DeploymentStatusLive && status != models.DeploymentStatusFailed {
		return appErr.New(appErr.CodeInvalid, "finalize status must be live or failed")
	}
	updates := map[string]any{"status": status}
	if workerVersionID != nil {
		updates["worker_version_id"] = *workerVersionID
	}
	if errorMessage != nil {
		updates["error_message"] = *errorMessage
	}
	res := r.db.WithContext(ctx).Model(&models.Deployment{}).
		Where("id = ? AND status = ?", deploymentID, models.DeploymentStatusQueued).
		Updates(updates)
	if res.Error != nil {
		return appErr.Wrap(res.Error, appErr.CodeInternal, "finalize deployment failed")
	}
	if res.RowsAffected == 0 {
		return appErr.New(appErr.CodeConflict, "deployment is not queued (already finalized or missing)")
	}
	return nil
}
