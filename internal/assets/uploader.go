package assets

import (
	"context"
	"sync"

	"github.com/skiffhost/engine/internal/platform"
	appErr "github.com/skiffhost/engine/pkg/errors"
	"github.com/skiffhost/engine/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// maxConcurrentBuckets bounds parallel bucket submissions per session.
const maxConcurrentBuckets = 3

// Uploader runs the two-phase, content-addressed upload handshake. Content
// already held by the platform, from any prior deployment of any project,
// is recognized by hash and never uploaded again.
type Uploader struct {
	client platform.Client
}

func NewUploader(client platform.Client) *Uploader {
	return &Uploader{client: client}
}

// Upload pushes the extracted asset files for one deployment and returns
// the completion token the publisher must present. files maps normalized
// paths to raw bytes, as produced by Extract.
func (u *Uploader) Upload(ctx context.Context, scriptName string, files map[string][]byte) (string, error) {
	if len(files) == 0 {
		return "", appErr.New(appErr.CodeValidation, "asset archive contains no files")
	}

	assetManifest := BuildManifest(files)
	session, err := u.client.StartUploadSession(ctx, scriptName, assetManifest)
	if err != nil {
		return "", err
	}

	if len(session.Buckets) == 0 {
		// Every file is already stored; the session token authorizes the
		// publish directly.
		logger.L().Info("all asset content already stored, skipping upload",
			zap.String("script", scriptName),
			zap.Int("files", len(files)))
		return session.Token, nil
	}

	byHash := make(map[string][]byte, len(files))
	for path, meta := range assetManifest {
		byHash[meta.Hash] = files[path]
	}

	var (
		mu         sync.Mutex
		completion string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentBuckets)
	for _, bucket := range session.Buckets {
		g.Go(func() error {
			payload := make(map[string]string, len(bucket))
			for _, hash := range bucket {
				data, ok := byHash[hash]
				if !ok {
					// The manifest and the archive diverged; this is an
					// internal consistency bug, not a retryable fault.
					return appErr.New(appErr.CodeInternal,
						"platform requested content hash "+hash+" that is absent from the asset manifest")
				}
				payload[hash] = encodeBase64(data)
			}
			res, err := u.client.UploadAssets(gctx, session.Token, payload)
			if err != nil {
				return err
			}
			if res.CompletionToken != "" {
				mu.Lock()
				completion = res.CompletionToken
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	if completion == "" {
		return "", appErr.New(appErr.CodeInternal, "platform did not issue a completion token after all buckets were uploaded")
	}
	logger.L().Info("asset upload complete",
		zap.String("script", scriptName),
		zap.Int("files", len(files)),
		zap.Int("buckets", len(session.Buckets)))
	return completion, nil
}
