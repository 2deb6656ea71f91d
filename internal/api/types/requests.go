package types

type ProjectCreateRequest struct {
	Name     string         `json:"name" validate:"required"`
	Settings map[string]any `json:"settings"`
}

// DeploymentCreateForm names the multipart fields of a deployment
// submission. The manifest and code bundle are required; everything else
// is optional.
const (
	FormFieldManifest = "manifest"
	FormFieldSource   = "source"
	FormFieldSecrets  = "secrets"
	FormFileBundle    = "bundle"
	FormFileSource    = "source_archive"
	FormFileAssets    = "assets"
	FormFileSchema    = "schema"
)
