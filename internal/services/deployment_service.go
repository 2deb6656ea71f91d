package services

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/skiffhost/engine/internal/artifacts"
	"github.com/skiffhost/engine/internal/manifest"
	"github.com/skiffhost/engine/internal/models"
	"github.com/skiffhost/engine/internal/repository"
	appErr "github.com/skiffhost/engine/pkg/errors"
	"github.com/skiffhost/engine/pkg/logger"
	"go.uber.org/zap"
)

// TaskDeploy is the asynq task type consumed by the worker.
const TaskDeploy = "deployment:deploy"

// maxErrorMessageLen bounds the error message captured on a failed
// deployment record.
const maxErrorMessageLen = 1024

// DeployPayload is the task payload for deploy tasks.
type DeployPayload struct {
	DeploymentID string `json:"deployment_id"`
}

// CreateDeploymentInput carries one submitted deployment package. Manifest
// and Bundle are required; everything else is optional.
type CreateDeploymentInput struct {
	Manifest []byte
	Bundle   []byte
	Source   []byte
	Assets   []byte
	Schema   []byte
	Secrets  map[string]string
	// SourceDescriptor is free-text provenance, e.g. "code:v1" or
	// "template:blog".
	SourceDescriptor string
}

type DeploymentService interface {
	// CreateDeployment validates the package, creates the queued record,
	// persists the artifacts, and enqueues the pipeline task. When a failure
	// occurs after the record was created, the record is finalized failed
	// and returned alongside the error.
	CreateDeployment(ctx context.Context, projectID uuid.UUID, input *CreateDeploymentInput) (*models.Deployment, error)
	GetDeployment(ctx context.Context, deploymentID uuid.UUID) (*models.Deployment, error)
	ListDeployments(ctx context.Context, projectID uuid.UUID) ([]models.Deployment, error)

	// Finalization, called by the worker. Both fetch and return the record
	// after the terminal transition so callers can inspect what was stored.
	FinalizeLive(ctx context.Context, deploymentID uuid.UUID, workerVersionID string) (*models.Deployment, error)
	FinalizeFailed(ctx context.Context, deploymentID uuid.UUID, cause error) (*models.Deployment, error)
}

type deploymentService struct {
	projectRepo repository.ProjectRepository
	deployRepo  repository.DeploymentRepository
	store       artifacts.Store
	asynqClient *asynq.Client
}

func NewDeploymentService(projectRepo repository.ProjectRepository, deployRepo repository.DeploymentRepository, store artifacts.Store, client *asynq.Client) DeploymentService {
	return &deploymentService{projectRepo: projectRepo, deployRepo: deployRepo, store: store, asynqClient: client}
}

var _ DeploymentService = (*deploymentService)(nil)

func (s *deploymentService) CreateDeployment(ctx context.Context, projectID uuid.UUID, input *CreateDeploymentInput) (*models.Deployment, error) {
	logger.L().Info("create deployment", zap.String("project_id", projectID.String()))

	// Boundary validation happens before any side effect: an invalid
	// package never produces a deployment row.
	result := manifest.Validate(input.Manifest)
	if !result.Valid {
		return nil, appErr.New(appErr.CodeValidation, "manifest validation failed").
			WithMeta("errors", result.Errors)
	}
	m, err := manifest.Parse(input.Manifest)
	if err != nil {
		return nil, err
	}
	if err := manifest.CheckAssetAgreement(m, len(input.Assets) > 0); err != nil {
		return nil, err
	}
	if len(input.Bundle) == 0 {
		return nil, appErr.New(appErr.CodeValidation, "code bundle is required").
			WithMeta("errors", []string{"code bundle is required"})
	}

	var p models.Project
	if err := s.projectRepo.GetByID(ctx, projectID, &p); err != nil {
		return nil, err
	}

	source := input.SourceDescriptor
	if source == "" {
		source = "code:upload"
	}
	d := &models.Deployment{
		ProjectID: projectID,
		Status:    models.DeploymentStatusQueued,
		Source:    source,
	}
	if err := s.deployRepo.Create(ctx, d); err != nil {
		return nil, err
	}

	if err := s.storeArtifacts(ctx, d.ID, input); err != nil {
		return s.FinalizeFailed(ctx, d.ID, err)
	}
	key := s.store.KeyPrefix(d.ID)
	if err := s.deployRepo.SetArtifactBucketKey(ctx, d.ID, key); err != nil {
		return s.FinalizeFailed(ctx, d.ID, err)
	}
	d.ArtifactBucketKey = &key

	payload, _ := json.Marshal(DeployPayload{DeploymentID: d.ID.String()})
	task := asynq.NewTask(TaskDeploy, payload)
	if s.asynqClient == nil {
		logger.L().Warn("asynq client not configured, skipping enqueue", zap.String("deployment_id", d.ID.String()))
	} else {
		if _, err := s.asynqClient.EnqueueContext(ctx, task); err != nil {
			logger.L().Error("enqueue deploy task failed", zap.Error(err), zap.String("deployment_id", d.ID.String()))
			return s.FinalizeFailed(ctx, d.ID, appErr.Wrap(err, appErr.CodeInternal, "enqueue deploy task failed"))
		}
	}

	logger.L().Info("deployment created and enqueued",
		zap.String("deployment_id", d.ID.String()),
		zap.String("project_id", projectID.String()))
	return d, nil
}

func (s *deploymentService) storeArtifacts(ctx context.Context, deploymentID uuid.UUID, input *CreateDeploymentInput) error {
	if err := s.store.Put(ctx, deploymentID, artifacts.ObjectBundle, input.Bundle); err != nil {
		return err
	}
	if err := s.store.Put(ctx, deploymentID, artifacts.ObjectManifest, input.Manifest); err != nil {
		return err
	}
	if len(input.Source) > 0 {
		if err := s.store.Put(ctx, deploymentID, artifacts.ObjectSource, input.Source); err != nil {
			return err
		}
	}
	if len(input.Assets) > 0 {
		if err := s.store.Put(ctx, deploymentID, artifacts.ObjectAssets, input.Assets); err != nil {
			return err
		}
	}
	if len(input.Schema) > 0 {
		if err := s.store.Put(ctx, deploymentID, artifacts.ObjectSchema, input.Schema); err != nil {
			return err
		}
	}
	if len(input.Secrets) > 0 {
		raw, err := json.Marshal(input.Secrets)
		if err != nil {
			return appErr.Wrap(err, appErr.CodeInternal, "marshal secrets failed")
		}
		if err := s.store.Put(ctx, deploymentID, artifacts.ObjectSecrets, raw); err != nil {
			return err
		}
	}
	return nil
}

func (s *deploymentService) GetDeployment(ctx context.Context, deploymentID uuid.UUID) (*models.Deployment, error) {
	var d models.Deployment
	if err := s.deployRepo.GetByID(ctx, deploymentID, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *deploymentService) ListDeployments(ctx context.Context, projectID uuid.UUID) ([]models.Deployment, error) {
	var p models.Project
	if err := s.projectRepo.GetByID(ctx, projectID, &p); err != nil {
		return nil, err
	}
	return s.deployRepo.ListByProject(ctx, projectID)
}

func (s *deploymentService) FinalizeLive(ctx context.Context, deploymentID uuid.UUID, workerVersionID string) (*models.Deployment, error) {
	logger.L().Info("finalize deployment live",
		zap.String("deployment_id", deploymentID.String()),
		zap.String("worker_version_id", workerVersionID))
	var version *string
	if workerVersionID != "" {
		version = &workerVersionID
	}
	if err := s.deployRepo.Finalize(ctx, deploymentID, models.DeploymentStatusLive, version, nil); err != nil {
		return nil, err
	}
	return s.GetDeployment(ctx, deploymentID)
}

func (s *deploymentService) FinalizeFailed(ctx context.Context, deploymentID uuid.UUID, cause error) (*models.Deployment, error) {
	msg := truncate(cause.Error(), maxErrorMessageLen)
	logger.L().Error("finalize deployment failed",
		zap.String("deployment_id", deploymentID.String()),
		zap.Error(cause))
	if err := s.deployRepo.Finalize(ctx, deploymentID, models.DeploymentStatusFailed, nil, &msg); err != nil {
		// The row may already be terminal; the first finalize wins.
		logger.L().Warn("finalize failed transition rejected",
			zap.String("deployment_id", deploymentID.String()),
			zap.Error(err))
	}
	d, getErr := s.GetDeployment(ctx, deploymentID)
	if getErr != nil {
		return nil, getErr
	}
	return d, cause
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "")
}
