package tasks

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/skiffhost/engine/internal/artifacts"
	"github.com/skiffhost/engine/internal/assets"
	"github.com/skiffhost/engine/internal/bindings"
	"github.com/skiffhost/engine/internal/models"
	"github.com/skiffhost/engine/internal/platform"
	"github.com/skiffhost/engine/internal/services"
	appErr "github.com/skiffhost/engine/pkg/errors"
	"github.com/skiffhost/engine/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.InitNop()
	os.Exit(m.Run())
}

// Mock implementations

type mockDeploymentService struct {
	mock.Mock
}

func (m *mockDeploymentService) CreateDeployment(ctx context.Context, projectID uuid.UUID, input *services.CreateDeploymentInput) (*models.Deployment, error) {
	args := m.Called(ctx, projectID, input)
	if v := args.Get(0); v != nil {
		return v.(*models.Deployment), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDeploymentService) GetDeployment(ctx context.Context, deploymentID uuid.UUID) (*models.Deployment, error) {
	args := m.Called(ctx, deploymentID)
	if v := args.Get(0); v != nil {
		return v.(*models.Deployment), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDeploymentService) ListDeployments(ctx context.Context, projectID uuid.UUID) ([]models.Deployment, error) {
	args := m.Called(ctx, projectID)
	if v := args.Get(0); v != nil {
		return v.([]models.Deployment), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDeploymentService) FinalizeLive(ctx context.Context, deploymentID uuid.UUID, workerVersionID string) (*models.Deployment, error) {
	args := m.Called(ctx, deploymentID, workerVersionID)
	if v := args.Get(0); v != nil {
		return v.(*models.Deployment), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDeploymentService) FinalizeFailed(ctx context.Context, deploymentID uuid.UUID, cause error) (*models.Deployment, error) {
	args := m.Called(ctx, deploymentID, cause)
	if v := args.Get(0); v != nil {
		return v.(*models.Deployment), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockDeploymentRepository struct {
	mock.Mock
}

func (m *mockDeploymentRepository) Create(ctx context.Context, obj *models.Deployment) error {
	args := m.Called(ctx, obj)
	return args.Error(0)
}

func (m *mockDeploymentRepository) GetByID(ctx context.Context, id any, dest *models.Deployment) error {
	args := m.Called(ctx, id, dest)
	if args.Error(0) == nil && args.Get(1) != nil {
		src := args.Get(1).(*models.Deployment)
		*dest = *src
	}
	return args.Error(0)
}

func (m *mockDeploymentRepository) Update(ctx context.Context, obj *models.Deployment) error {
	args := m.Called(ctx, obj)
	return args.Error(0)
}

func (m *mockDeploymentRepository) Delete(ctx context.Context, id any) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockDeploymentRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.Deployment, error) {
	args := m.Called(ctx, projectID)
	if v := args.Get(0); v != nil {
		return v.([]models.Deployment), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDeploymentRepository) SetArtifactBucketKey(ctx context.Context, deploymentID uuid.UUID, key string) error {
	args := m.Called(ctx, deploymentID, key)
	return args.Error(0)
}

func (m *mockDeploymentRepository) Finalize(ctx context.Context, deploymentID uuid.UUID, status string, workerVersionID, errorMessage *string) error {
	args := m.Called(ctx, deploymentID, status, workerVersionID, errorMessage)
	return args.Error(0)
}

type mockResourceRepository struct {
	mock.Mock
}

func (m *mockResourceRepository) GetActiveByType(ctx context.Context, projectID uuid.UUID, resourceType string, dest *models.Resource) error {
	args := m.Called(ctx, projectID, resourceType, dest)
	if args.Error(0) == nil && args.Get(1) != nil {
		src := args.Get(1).(*models.Resource)
		*dest = *src
	}
	return args.Error(0)
}

func (m *mockResourceRepository) ListActiveByProject(ctx context.Context, projectID uuid.UUID) ([]models.Resource, error) {
	args := m.Called(ctx, projectID)
	if v := args.Get(0); v != nil {
		return v.([]models.Resource), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Put(ctx context.Context, deploymentID uuid.UUID, name string, data []byte) error {
	args := m.Called(ctx, deploymentID, name, data)
	return args.Error(0)
}

func (m *mockStore) Get(ctx context.Context, deploymentID uuid.UUID, name string) ([]byte, error) {
	args := m.Called(ctx, deploymentID, name)
	if v := args.Get(0); v != nil {
		return v.([]byte), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) GetOptional(ctx context.Context, deploymentID uuid.UUID, name string) ([]byte, error) {
	args := m.Called(ctx, deploymentID, name)
	if v := args.Get(0); v != nil {
		return v.([]byte), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) KeyPrefix(deploymentID uuid.UUID) string {
	args := m.Called(deploymentID)
	return args.String(0)
}

type mockPlatformClient struct {
	mock.Mock
}

func (m *mockPlatformClient) StartUploadSession(ctx context.Context, scriptName string, manifest map[string]platform.FileMetadata) (*platform.UploadSession, error) {
	args := m.Called(ctx, scriptName, manifest)
	if v := args.Get(0); v != nil {
		return v.(*platform.UploadSession), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockPlatformClient) UploadAssets(ctx context.Context, sessionToken string, payload map[string]string) (*platform.UploadResult, error) {
	args := m.Called(ctx, sessionToken, payload)
	if v := args.Get(0); v != nil {
		return v.(*platform.UploadResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockPlatformClient) PublishScript(ctx context.Context, req *platform.PublishRequest) (*platform.PublishResult, error) {
	args := m.Called(ctx, req)
	if v := args.Get(0); v != nil {
		return v.(*platform.PublishResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockPlatformClient) ApplySchema(ctx context.Context, databaseID, schemaSQL string) error {
	args := m.Called(ctx, databaseID, schemaSQL)
	return args.Error(0)
}

func (m *mockPlatformClient) PutSecret(ctx context.Context, scriptName, name, value string) error {
	args := m.Called(ctx, scriptName, name, value)
	return args.Error(0)
}

// Test fixtures

type pipelineFixture struct {
	deploySvc    *mockDeploymentService
	deployRepo   *mockDeploymentRepository
	resourceRepo *mockResourceRepository
	store        *mockStore
	client       *mockPlatformClient
	handler      *DeployTaskHandler

	deploymentID uuid.UUID
	projectID    uuid.UUID
}

func newPipelineFixture() *pipelineFixture {
	f := &pipelineFixture{
		deploySvc:    new(mockDeploymentService),
		deployRepo:   new(mockDeploymentRepository),
		resourceRepo: new(mockResourceRepository),
		store:        new(mockStore),
		client:       new(mockPlatformClient),
		deploymentID: uuid.New(),
		projectID:    uuid.New(),
	}
	f.handler = NewDeployTaskHandler(
		f.deploySvc,
		f.deployRepo,
		f.resourceRepo,
		f.store,
		bindings.NewResolver(f.resourceRepo),
		assets.NewUploader(f.client),
		platform.NewPublisher(f.client),
		f.client,
	)
	return f
}

func (f *pipelineFixture) task(t *testing.T) *asynq.Task {
	t.Helper()
	payload, err := json.Marshal(services.DeployPayload{DeploymentID: f.deploymentID.String()})
	require.NoError(t, err)
	return asynq.NewTask(services.TaskDeploy, payload)
}

func (f *pipelineFixture) queuedDeployment() *models.Deployment {
	return &models.Deployment{
		ID:        f.deploymentID,
		ProjectID: f.projectID,
		Status:    models.DeploymentStatusQueued,
	}
}

const plainManifestJSON = `{
	"entrypoint": "index.js",
	"compatibility_date": "2026-01-01",
	"bindings": {"vars": {"MODE": "production"}}
}`

func TestHandleDeployPublishesAssetFreeDeployment(t *testing.T) {
	f := newPipelineFixture()

	f.deployRepo.On("GetByID", mock.Anything, f.deploymentID, mock.Anything).
		Return(nil, f.queuedDeployment())
	f.store.On("Get", mock.Anything, f.deploymentID, artifacts.ObjectManifest).
		Return([]byte(plainManifestJSON), nil)
	f.store.On("Get", mock.Anything, f.deploymentID, artifacts.ObjectBundle).
		Return([]byte("bundle-bytes"), nil)
	f.store.On("GetOptional", mock.Anything, f.deploymentID, artifacts.ObjectAssets).
		Return(nil, nil)
	f.store.On("GetOptional", mock.Anything, f.deploymentID, artifacts.ObjectSchema).
		Return(nil, nil)
	f.store.On("GetOptional", mock.Anything, f.deploymentID, artifacts.ObjectSecrets).
		Return(nil, nil)
	f.resourceRepo.On("GetActiveByType", mock.Anything, f.projectID, models.ResourceTypeScript, mock.Anything).
		Return(nil, &models.Resource{Name: "customer-abc-script", ProviderID: "script-1"})
	f.client.On("PublishScript", mock.Anything, mock.MatchedBy(func(req *platform.PublishRequest) bool {
		return req.ScriptName == "customer-abc-script" &&
			req.AssetCompletionToken == "" &&
			len(req.Bindings) == 2 &&
			req.Bindings[0].Name == bindings.ImplicitProjectVar
	})).Return(&platform.PublishResult{VersionID: "version-42"}, nil)
	f.deploySvc.On("FinalizeLive", mock.Anything, f.deploymentID, "version-42").
		Return(f.queuedDeployment(), nil)

	err := f.handler.HandleDeploy(context.Background(), f.task(t))
	require.NoError(t, err)
	f.deploySvc.AssertExpectations(t)
	f.client.AssertExpectations(t)
	f.deploySvc.AssertNotCalled(t, "FinalizeFailed", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleDeploySkipsAlreadyFinalizedRecord(t *testing.T) {
	f := newPipelineFixture()
	live := f.queuedDeployment()
	live.Status = models.DeploymentStatusLive
	f.deployRepo.On("GetByID", mock.Anything, f.deploymentID, mock.Anything).
		Return(nil, live)

	// Redelivery of a finished task must be a clean no-op.
	err := f.handler.HandleDeploy(context.Background(), f.task(t))
	require.NoError(t, err)
	f.store.AssertNotCalled(t, "Get", mock.Anything, mock.Anything, mock.Anything)
	f.deploySvc.AssertNotCalled(t, "FinalizeLive", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleDeployFailsWithoutReservedScriptName(t *testing.T) {
	f := newPipelineFixture()

	f.deployRepo.On("GetByID", mock.Anything, f.deploymentID, mock.Anything).
		Return(nil, f.queuedDeployment())
	f.store.On("Get", mock.Anything, f.deploymentID, artifacts.ObjectManifest).
		Return([]byte(plainManifestJSON), nil)
	f.store.On("Get", mock.Anything, f.deploymentID, artifacts.ObjectBundle).
		Return([]byte("bundle"), nil)
	f.store.On("GetOptional", mock.Anything, f.deploymentID, artifacts.ObjectAssets).
		Return(nil, nil)
	f.resourceRepo.On("GetActiveByType", mock.Anything, f.projectID, models.ResourceTypeScript, mock.Anything).
		Return(appErr.New(appErr.CodeNotFound, "no active script resource for project"), nil)
	f.deploySvc.On("FinalizeFailed", mock.Anything, f.deploymentID, mock.MatchedBy(func(err error) bool {
		return appErr.IsCode(err, appErr.CodeNotFound)
	})).Return(f.queuedDeployment(), nil)

	err := f.handler.HandleDeploy(context.Background(), f.task(t))
	require.Error(t, err)
	require.Contains(t, err.Error(), "reserved script name")
	f.deploySvc.AssertExpectations(t)
	f.client.AssertNotCalled(t, "PublishScript", mock.Anything, mock.Anything)
}

func TestHandleDeployRejectsOrphanAssetArchive(t *testing.T) {
	f := newPipelineFixture()

	f.deployRepo.On("GetByID", mock.Anything, f.deploymentID, mock.Anything).
		Return(nil, f.queuedDeployment())
	f.store.On("Get", mock.Anything, f.deploymentID, artifacts.ObjectManifest).
		Return([]byte(plainManifestJSON), nil)
	f.store.On("Get", mock.Anything, f.deploymentID, artifacts.ObjectBundle).
		Return([]byte("bundle"), nil)
	f.store.On("GetOptional", mock.Anything, f.deploymentID, artifacts.ObjectAssets).
		Return([]byte("zip-bytes"), nil)
	f.deploySvc.On("FinalizeFailed", mock.Anything, f.deploymentID, mock.MatchedBy(func(err error) bool {
		return appErr.IsCode(err, appErr.CodeValidation)
	})).Return(f.queuedDeployment(), nil)

	err := f.handler.HandleDeploy(context.Background(), f.task(t))
	require.Error(t, err)
	require.Contains(t, err.Error(), "orphan assets")
	f.client.AssertNotCalled(t, "PublishScript", mock.Anything, mock.Anything)
}

func TestHandleDeployFailsWhenDatabaseResourceMissing(t *testing.T) {
	f := newPipelineFixture()

	manifestWithDB := `{
		"entrypoint": "index.js",
		"compatibility_date": "2026-01-01",
		"bindings": {"d1": {"binding": "DB"}}
	}`
	f.deployRepo.On("GetByID", mock.Anything, f.deploymentID, mock.Anything).
		Return(nil, f.queuedDeployment())
	f.store.On("Get", mock.Anything, f.deploymentID, artifacts.ObjectManifest).
		Return([]byte(manifestWithDB), nil)
	f.store.On("Get", mock.Anything, f.deploymentID, artifacts.ObjectBundle).
		Return([]byte("bundle"), nil)
	f.store.On("GetOptional", mock.Anything, f.deploymentID, artifacts.ObjectAssets).
		Return(nil, nil)
	f.resourceRepo.On("GetActiveByType", mock.Anything, f.projectID, models.ResourceTypeScript, mock.Anything).
		Return(nil, &models.Resource{Name: "customer-script"})
	f.resourceRepo.On("GetActiveByType", mock.Anything, f.projectID, models.ResourceTypeDatabase, mock.Anything).
		Return(appErr.New(appErr.CodeNotFound, "no active database resource for project"), nil)
	f.deploySvc.On("FinalizeFailed", mock.Anything, f.deploymentID, mock.MatchedBy(func(err error) bool {
		return appErr.IsCode(err, appErr.CodeNotFound)
	})).Return(f.queuedDeployment(), nil)

	err := f.handler.HandleDeploy(context.Background(), f.task(t))
	require.Error(t, err)
	require.Contains(t, err.Error(), "database")
	f.client.AssertNotCalled(t, "PublishScript", mock.Anything, mock.Anything)
	f.deploySvc.AssertExpectations(t)
}

func TestHandleDeployMarksPostPublishSchemaFailure(t *testing.T) {
	f := newPipelineFixture()

	f.deployRepo.On("GetByID", mock.Anything, f.deploymentID, mock.Anything).
		Return(nil, f.queuedDeployment())
	f.store.On("Get", mock.Anything, f.deploymentID, artifacts.ObjectManifest).
		Return([]byte(plainManifestJSON), nil)
	f.store.On("Get", mock.Anything, f.deploymentID, artifacts.ObjectBundle).
		Return([]byte("bundle"), nil)
	f.store.On("GetOptional", mock.Anything, f.deploymentID, artifacts.ObjectAssets).
		Return(nil, nil)
	f.store.On("GetOptional", mock.Anything, f.deploymentID, artifacts.ObjectSchema).
		Return([]byte("CREATE TABLE t (id INT);"), nil)
	f.resourceRepo.On("GetActiveByType", mock.Anything, f.projectID, models.ResourceTypeScript, mock.Anything).
		Return(nil, &models.Resource{Name: "customer-script"})
	f.resourceRepo.On("GetActiveByType", mock.Anything, f.projectID, models.ResourceTypeDatabase, mock.Anything).
		Return(nil, &models.Resource{ProviderID: "db-7"})
	f.client.On("PublishScript", mock.Anything, mock.Anything).
		Return(&platform.PublishResult{VersionID: "v9"}, nil)
	f.client.On("ApplySchema", mock.Anything, "db-7", "CREATE TABLE t (id INT);").
		Return(appErr.New(appErr.CodeUnavailable, "query endpoint timed out"))
	f.deploySvc.On("FinalizeFailed", mock.Anything, f.deploymentID, mock.MatchedBy(func(err error) bool {
		return appErr.IsCode(err, appErr.CodePostPublishFailure)
	})).Return(f.queuedDeployment(), nil)

	// The script is live on the platform, yet the record must fail with the
	// distinct post-publish code.
	err := f.handler.HandleDeploy(context.Background(), f.task(t))
	require.Error(t, err)
	require.Contains(t, err.Error(), "schema migration failed after script publication")
	f.deploySvc.AssertExpectations(t)
}

func TestHandleDeployPushesSecretsSorted(t *testing.T) {
	f := newPipelineFixture()

	f.deployRepo.On("GetByID", mock.Anything, f.deploymentID, mock.Anything).
		Return(nil, f.queuedDeployment())
	f.store.On("Get", mock.Anything, f.deploymentID, artifacts.ObjectManifest).
		Return([]byte(plainManifestJSON), nil)
	f.store.On("Get", mock.Anything, f.deploymentID, artifacts.ObjectBundle).
		Return([]byte("bundle"), nil)
	f.store.On("GetOptional", mock.Anything, f.deploymentID, artifacts.ObjectAssets).
		Return(nil, nil)
	f.store.On("GetOptional", mock.Anything, f.deploymentID, artifacts.ObjectSchema).
		Return(nil, nil)
	f.store.On("GetOptional", mock.Anything, f.deploymentID, artifacts.ObjectSecrets).
		Return([]byte(`{"B_KEY":"b","A_KEY":"a"}`), nil)
	f.resourceRepo.On("GetActiveByType", mock.Anything, f.projectID, models.ResourceTypeScript, mock.Anything).
		Return(nil, &models.Resource{Name: "customer-script"})
	f.client.On("PublishScript", mock.Anything, mock.Anything).
		Return(&platform.PublishResult{VersionID: "v1"}, nil)

	var order []string
	f.client.On("PutSecret", mock.Anything, "customer-script", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { order = append(order, args.String(2)) }).
		Return(nil)
	f.deploySvc.On("FinalizeLive", mock.Anything, f.deploymentID, "v1").
		Return(f.queuedDeployment(), nil)

	err := f.handler.HandleDeploy(context.Background(), f.task(t))
	require.NoError(t, err)
	require.Equal(t, []string{"A_KEY", "B_KEY"}, order)
}
