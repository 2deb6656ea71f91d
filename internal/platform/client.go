package platform

import (
	"context"

	"github.com/skiffhost/engine/internal/bindings"
)

// FileMetadata describes one asset file in an upload session manifest.
type FileMetadata struct {
	Hash string `json:"hash"`
	Size int64  `json:"size"`
}

// UploadSession is the platform's answer to an asset manifest: a signed
// session token plus buckets of content hashes the platform does not
// already hold. Zero buckets means every file is known and the session
// token doubles as the completion token.
type UploadSession struct {
	Token   string     `json:"jwt"`
	Buckets [][]string `json:"buckets"`
}

// UploadResult is returned for each bucket payload submission. The
// CompletionToken is empty until the platform holds every hash from the
// session manifest.
type UploadResult struct {
	CompletionToken string `json:"jwt"`
}

// RuntimeConfig carries the manifest's runtime markers to the publish call.
type RuntimeConfig struct {
	Entrypoint         string   `json:"entrypoint"`
	CompatibilityDate  string   `json:"compatibility_date"`
	CompatibilityFlags []string `json:"compatibility_flags,omitempty"`
	ModuleFormat       string   `json:"module_format,omitempty"`
}

// PublishRequest uploads a script into the shared dispatch namespace.
type PublishRequest struct {
	ScriptName           string                `json:"-"`
	Code                 []byte                `json:"-"`
	Runtime              RuntimeConfig         `json:"runtime"`
	Bindings             []bindings.Descriptor `json:"bindings"`
	AssetCompletionToken string                `json:"asset_completion_token,omitempty"`
	AssetBinding         string                `json:"asset_binding,omitempty"`
}

// PublishResult reports the platform-assigned version of a published script.
type PublishResult struct {
	VersionID string `json:"id"`
}

// Client is the execution platform API consumed by the pipeline. The
// platform itself (scheduling, storage, namespace isolation) is an external
// collaborator; everything behind this interface is remote.
type Client interface {
	// StartUploadSession submits an asset manifest and opens a
	// content-addressed upload session for the named script.
	StartUploadSession(ctx context.Context, scriptName string, manifest map[string]FileMetadata) (*UploadSession, error)

	// UploadAssets submits one bucket payload (content hash to
	// base64-encoded bytes) under a session token.
	UploadAssets(ctx context.Context, sessionToken string, payload map[string]string) (*UploadResult, error)

	// PublishScript uploads code plus resolved bindings under the project's
	// reserved script name in the dispatch namespace.
	PublishScript(ctx context.Context, req *PublishRequest) (*PublishResult, error)

	// ApplySchema executes a raw migration script against a database
	// resource.
	ApplySchema(ctx context.Context, databaseID, schemaSQL string) error

	// PutSecret sets one runtime secret on a published script.
	PutSecret(ctx context.Context, scriptName, name, value string) error
}
