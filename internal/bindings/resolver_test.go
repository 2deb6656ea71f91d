package bindings

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/skiffhost/engine/internal/manifest"
	"github.com/skiffhost/engine/internal/models"
	appErr "github.com/skiffhost/engine/pkg/errors"
	"github.com/skiffhost/engine/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.InitNop()
	os.Exit(m.Run())
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

func TestResolveAlwaysInjectsProjectID(t *testing.T) {
	projectID := uuid.New()
	r := NewResolver(new(mockResourceRepository))

	out, err := r.Resolve(context.Background(), projectID, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, Descriptor{Kind: KindPlainText, Name: ImplicitProjectVar, Text: projectID.String()}, out[0])
}

func TestResolveDatabaseBinding(t *testing.T) {
	projectID := uuid.New()
	repo := new(mockResourceRepository)
	repo.On("GetActiveByType", mock.Anything, projectID, models.ResourceTypeDatabase, mock.Anything).
		Return(nil, &models.Resource{ProviderID: "db-provider-123", Name: "main-db"})

	r := NewResolver(repo)
	out, err := r.Resolve(context.Background(), projectID, &manifest.Bindings{
		D1: &manifest.DatabaseBinding{Binding: "DB"},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, Descriptor{Kind: KindD1, Name: "DB", ID: "db-provider-123"}, out[1])
}

func TestResolveFailsWhenDatabaseResourceMissing(t *testing.T) {
	projectID := uuid.New()
	repo := new(mockResourceRepository)
	repo.On("GetActiveByType", mock.Anything, projectID, models.ResourceTypeDatabase, mock.Anything).
		Return(appErr.New(appErr.CodeNotFound, "no active database resource for project"), nil)

	r := NewResolver(repo)
	out, err := r.Resolve(context.Background(), projectID, &manifest.Bindings{
		D1: &manifest.DatabaseBinding{Binding: "DB"},
	})
	require.Error(t, err)
	require.Nil(t, out)
	require.True(t, appErr.IsCode(err, appErr.CodeNotFound))
	require.Contains(t, err.Error(), "provision one before deploying")
}

func TestResolveAIBindingNeedsNoResource(t *testing.T) {
	projectID := uuid.New()
	repo := new(mockResourceRepository)

	r := NewResolver(repo)
	out, err := r.Resolve(context.Background(), projectID, &manifest.Bindings{
		AI: &manifest.AIBinding{Binding: "AI"},
	})
	require.NoError(t, err)
	require.Equal(t, Descriptor{Kind: KindAI, Name: "AI"}, out[1])
	repo.AssertNotCalled(t, "GetActiveByType", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestResolveVarsAreSortedByName(t *testing.T) {
	projectID := uuid.New()
	r := NewResolver(new(mockResourceRepository))

	out, err := r.Resolve(context.Background(), projectID, &manifest.Bindings{
		Vars: map[string]string{"ZEBRA": "z", "ALPHA": "a", "MIKE": "m"},
	})
	require.NoError(t, err)
	require.Len(t, out, 4)
	require.Equal(t, Descriptor{Kind: KindPlainText, Name: "ALPHA", Text: "a"}, out[1])
	require.Equal(t, Descriptor{Kind: KindPlainText, Name: "MIKE", Text: "m"}, out[2])
	require.Equal(t, Descriptor{Kind: KindPlainText, Name: "ZEBRA", Text: "z"}, out[3])
}

func TestResolveSkipsAssetsIntent(t *testing.T) {
	projectID := uuid.New()
	r := NewResolver(new(mockResourceRepository))

	out, err := r.Resolve(context.Background(), projectID, &manifest.Bindings{
		Assets: &manifest.AssetsBinding{Binding: "ASSETS", Directory: "public"},
	})
	require.NoError(t, err)
	// The upload protocol wires assets; only the implicit var remains.
	require.Len(t, out, 1)
}
