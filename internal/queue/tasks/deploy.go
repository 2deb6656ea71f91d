package tasks

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/samber/lo"
	"github.com/skiffhost/engine/internal/artifacts"
	"github.com/skiffhost/engine/internal/assets"
	"github.com/skiffhost/engine/internal/bindings"
	"github.com/skiffhost/engine/internal/manifest"
	"github.com/skiffhost/engine/internal/models"
	"github.com/skiffhost/engine/internal/platform"
	"github.com/skiffhost/engine/internal/repository"
	"github.com/skiffhost/engine/internal/services"
	appErr "github.com/skiffhost/engine/pkg/errors"
	"github.com/skiffhost/engine/pkg/logger"
	"go.uber.org/zap"
)

// DeployTaskHandler runs the deployment pipeline for one queued record:
// validate, resolve bindings, upload assets, publish, apply schema, push
// secrets, finalize. Stages are strictly ordered; the first error
// short-circuits the rest and finalizes the record failed.
type DeployTaskHandler struct {
	deploySvc    services.DeploymentService
	deployRepo   repository.DeploymentRepository
	resourceRepo repository.ResourceRepository
	store        artifacts.Store
	resolver     *bindings.Resolver
	uploader     *assets.Uploader
	publisher    *platform.Publisher
	client       platform.Client
}

func NewDeployTaskHandler(
	deploySvc services.DeploymentService,
	deployRepo repository.DeploymentRepository,
	resourceRepo repository.ResourceRepository,
	store artifacts.Store,
	resolver *bindings.Resolver,
	uploader *assets.Uploader,
	publisher *platform.Publisher,
	client platform.Client,
) *DeployTaskHandler {
	return &DeployTaskHandler{
		deploySvc:    deploySvc,
		deployRepo:   deployRepo,
		resourceRepo: resourceRepo,
		store:        store,
		resolver:     resolver,
		uploader:     uploader,
		publisher:    publisher,
		client:       client,
	}
}

func (h *DeployTaskHandler) HandleDeploy(ctx context.Context, t *asynq.Task) error {
	var p services.DeployPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		logger.L().Error("invalid deploy task payload", zap.Error(err))
		return err
	}
	id, err := uuid.Parse(p.DeploymentID)
	if err != nil {
		logger.L().Error("invalid deployment id in task", zap.Error(err))
		return err
	}

	logger.L().Info("handling deploy task", zap.String("deployment_id", id.String()))

	var d models.Deployment
	if err := h.deployRepo.GetByID(ctx, id, &d); err != nil {
		logger.L().Error("get deployment failed", zap.Error(err))
		return err
	}
	if d.Status != models.DeploymentStatusQueued {
		// Terminal rows are never reopened; a redelivered task is a no-op.
		logger.L().Warn("deployment already finalized, skipping",
			zap.String("deployment_id", id.String()),
			zap.String("status", d.Status))
		return nil
	}

	versionID, err := h.run(ctx, &d)
	if err != nil {
		_, _ = h.deploySvc.FinalizeFailed(ctx, id, err)
		return err
	}

	if _, err := h.deploySvc.FinalizeLive(ctx, id, versionID); err != nil {
		logger.L().Error("finalize live failed", zap.Error(err), zap.String("deployment_id", id.String()))
		return err
	}
	logger.L().Info("deployment live",
		zap.String("deployment_id", id.String()),
		zap.String("worker_version_id", versionID))
	return nil
}

// run executes the ordered pipeline stages and returns the platform version
// id on success. Every error it returns finalizes the deployment failed.
func (h *DeployTaskHandler) run(ctx context.Context, d *models.Deployment) (string, error) {
	rawManifest, err := h.store.Get(ctx, d.ID, artifacts.ObjectManifest)
	if err != nil {
		return "", err
	}

	// The manifest is re-validated here even though the boundary already
	// did: the worker cannot assume its input crossed that boundary.
	result := manifest.Validate(rawManifest)
	if !result.Valid {
		return "", appErr.New(appErr.CodeValidation,
			"manifest validation failed: "+strings.Join(result.Errors, "; "))
	}
	m, err := manifest.Parse(rawManifest)
	if err != nil {
		return "", err
	}

	bundle, err := h.store.Get(ctx, d.ID, artifacts.ObjectBundle)
	if err != nil {
		return "", err
	}
	assetArchive, err := h.store.GetOptional(ctx, d.ID, artifacts.ObjectAssets)
	if err != nil {
		return "", err
	}
	if err := manifest.CheckAssetAgreement(m, len(assetArchive) > 0); err != nil {
		return "", err
	}

	var script models.Resource
	if err := h.resourceRepo.GetActiveByType(ctx, d.ProjectID, models.ResourceTypeScript, &script); err != nil {
		if appErr.IsCode(err, appErr.CodeNotFound) {
			return "", appErr.New(appErr.CodeNotFound, "project has no reserved script name in the dispatch namespace")
		}
		return "", err
	}
	scriptName := script.Name

	descriptors, err := h.resolver.Resolve(ctx, d.ProjectID, m.Bindings)
	if err != nil {
		return "", err
	}

	var completionToken string
	if m.HasAssets() {
		files, err := assets.Extract(assetArchive)
		if err != nil {
			return "", err
		}
		completionToken, err = h.uploader.Upload(ctx, scriptName, files)
		if err != nil {
			return "", err
		}
	}

	pub, err := h.publisher.Publish(ctx, scriptName, bundle, m, descriptors, completionToken)
	if err != nil {
		return "", err
	}

	// Post-publish steps. The script is live by now; a failure below still
	// fails the deployment record, without rolling the script back. The
	// distinct error code keeps that state observable.
	if err := h.applySchema(ctx, d); err != nil {
		return "", appErr.Wrap(err, appErr.CodePostPublishFailure, "schema migration failed after script publication")
	}
	if err := h.pushSecrets(ctx, d, scriptName); err != nil {
		return "", appErr.Wrap(err, appErr.CodePostPublishFailure, "secret push failed after script publication")
	}

	return pub.VersionID, nil
}

func (h *DeployTaskHandler) applySchema(ctx context.Context, d *models.Deployment) error {
	schema, err := h.store.GetOptional(ctx, d.ID, artifacts.ObjectSchema)
	if err != nil {
		return err
	}
	if len(schema) == 0 {
		return nil
	}

	var db models.Resource
	if err := h.resourceRepo.GetActiveByType(ctx, d.ProjectID, models.ResourceTypeDatabase, &db); err != nil {
		if appErr.IsCode(err, appErr.CodeNotFound) {
			return appErr.New(appErr.CodeNotFound, "schema script supplied but the project has no active database resource")
		}
		return err
	}
	logger.L().Info("applying schema",
		zap.String("deployment_id", d.ID.String()),
		zap.String("database_id", db.ProviderID))
	return h.client.ApplySchema(ctx, db.ProviderID, string(schema))
}

func (h *DeployTaskHandler) pushSecrets(ctx context.Context, d *models.Deployment, scriptName string) error {
	raw, err := h.store.GetOptional(ctx, d.ID, artifacts.ObjectSecrets)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}

	var secrets map[string]string
	if err := json.Unmarshal(raw, &secrets); err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "decode stored secrets failed")
	}

	keys := lo.Keys(secrets)
	sort.Strings(keys)
	for _, name := range keys {
		if err := h.client.PutSecret(ctx, scriptName, name, secrets[name]); err != nil {
			return err
		}
	}
	logger.L().Info("secrets pushed",
		zap.String("deployment_id", d.ID.String()),
		zap.Int("count", len(keys)))
	return nil
}
