package artifacts

import (
	"bytes"
	"context"
	"io"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	appErr "github.com/skiffhost/engine/pkg/errors"
	"github.com/skiffhost/engine/pkg/logger"
	"go.uber.org/zap"
)

// Artifact object names under a deployment's key prefix.
const (
	ObjectBundle   = "bundle.zip"
	ObjectSource   = "source.zip"
	ObjectManifest = "manifest.json"
	ObjectAssets   = "assets.zip"
	ObjectSchema   = "schema.sql"
	ObjectSecrets  = "secrets.json"
)

// Store is append-only blob storage for deployment artifacts, keyed by
// deployment id. Concurrent deployments never collide because every key is
// scoped to its own deployment.
type Store interface {
	Put(ctx context.Context, deploymentID uuid.UUID, name string, data []byte) error
	Get(ctx context.Context, deploymentID uuid.UUID, name string) ([]byte, error)
	// GetOptional returns (nil, nil) when the object does not exist.
	GetOptional(ctx context.Context, deploymentID uuid.UUID, name string) ([]byte, error)
	KeyPrefix(deploymentID uuid.UUID) string
}

type minioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to an S3-compatible endpoint and ensures the
// artifacts bucket exists.
func NewMinioStore(ctx context.Context, endpoint, accessKey, secretKey string, useSSL bool, bucket string) (Store, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeUnavailable, "connect to artifact store failed")
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeUnavailable, "check artifacts bucket failed")
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, appErr.Wrap(err, appErr.CodeUnavailable, "create artifacts bucket failed")
		}
		logger.L().Info("created artifacts bucket", zap.String("bucket", bucket))
	}
	return &minioStore{client: client, bucket: bucket}, nil
}

func (s *minioStore) KeyPrefix(deploymentID uuid.UUID) string {
	return "deployments/" + deploymentID.String() + "/"
}

func (s *minioStore) Put(ctx context.Context, deploymentID uuid.UUID, name string, data []byte) error {
	key := s.KeyPrefix(deploymentID) + name
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentTypeFor(name)})
	if err != nil {
		return appErr.Wrap(err, appErr.CodeUnavailable, "store artifact "+name+" failed")
	}
	logger.L().Debug("artifact stored",
		zap.String("deployment_id", deploymentID.String()),
		zap.String("key", key),
		zap.Int("bytes", len(data)))
	return nil
}

func (s *minioStore) Get(ctx context.Context, deploymentID uuid.UUID, name string) ([]byte, error) {
	data, err := s.GetOptional(ctx, deploymentID, name)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, appErr.New(appErr.CodeNotFound, "artifact "+name+" not found for deployment")
	}
	return data, nil
}

func (s *minioStore) GetOptional(ctx context.Context, deploymentID uuid.UUID, name string) ([]byte, error) {
	key := s.KeyPrefix(deploymentID) + name
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeUnavailable, "fetch artifact "+name+" failed")
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" {
			return nil, nil
		}
		return nil, appErr.Wrap(err, appErr.CodeUnavailable, "read artifact "+name+" failed")
	}
	return data, nil
}

func contentTypeFor(name string) string {
	switch name {
	case ObjectManifest, ObjectSecrets:
		return "application/json"
	case ObjectSchema:
		return "application/sql"
	default:
		return "application/zip"
	}
}
