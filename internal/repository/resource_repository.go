package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/skiffhost/engine/internal/models"
	appErr "github.com/skiffhost/engine/pkg/errors"
	"gorm.io/gorm"
)

// ResourceRepository is read-only from the pipeline's perspective; rows are
// written by the provisioning component. Every read is scoped to
// status != deleted.
type ResourceRepository interface {
	GetActiveByType(ctx context.Context, projectID uuid.UUID, resourceType string, dest *models.Resource) error
	ListActiveByProject(ctx context.Context, projectID uuid.UUID) ([]models.Resource, error)
}

type resourceRepository struct {
	db *gorm.DB
}

func NewResourceRepository(db *gorm.DB) ResourceRepository {
	return &resourceRepository{db: db}
}

func (r *resourceRepository) GetActiveByType(ctx context.Context, projectID uuid.UUID, resourceType string, dest *models.Resource) error {
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND type = ? AND status <> ?", projectID, resourceType, models.ResourceStatusDeleted).
		First(dest).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return appErr.New(appErr.CodeNotFound, "no active "+resourceType+" resource for project")
		}
		return appErr.Wrap(err, appErr.CodeInternal, "get resource failed")
	}
	return nil
}

func (r *resourceRepository) ListActiveByProject(ctx context.Context, projectID uuid.UUID) ([]models.Resource, error) {
	var out []models.Resource
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND status <> ?", projectID, models.ResourceStatusDeleted).
		Order("type ASC").
		Find(&out).Error
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "list resources failed")
	}
	return out, nil
}
