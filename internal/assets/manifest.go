package assets

import (
	"github.com/skiffhost/engine/internal/platform"
	"github.com/skiffhost/engine/pkg/utils"
)

// BuildManifest computes the asset manifest for one upload: normalized path
// to content hash and byte size. Built fresh per deployment and never
// persisted on its own.
func BuildManifest(files map[string][]byte) map[string]platform.FileMetadata {
	m := make(map[string]platform.FileMetadata, len(files))
	for p, data := range files {
		m[p] = platform.FileMetadata{
			Hash: utils.HexSHA256(data),
			Size: int64(len(data)),
		}
	}
	return m
}
