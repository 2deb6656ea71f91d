package manifest

import (
	"encoding/json"

	appErr "github.com/skiffhost/engine/pkg/errors"
)

// Supported binding kinds. Anything else in a manifest's "bindings" object
// is a validation error, never a best-effort ignore.
const (
	KindD1     = "d1"
	KindAI     = "ai"
	KindAssets = "assets"
	KindVars   = "vars"
)

// Manifest is the declared shape of one deployment: entrypoint, runtime
// compatibility, and binding intents. It is parsed only after Validate has
// accepted the raw document.
type Manifest struct {
	Entrypoint         string    `json:"entrypoint"`
	CompatibilityDate  string    `json:"compatibility_date"`
	CompatibilityFlags []string  `json:"compatibility_flags,omitempty"`
	ModuleFormat       string    `json:"module_format,omitempty"`
	Bindings           *Bindings `json:"bindings,omitempty"`
}

// Bindings holds the declared binding intents, one field per supported kind.
type Bindings struct {
	D1     *DatabaseBinding  `json:"d1,omitempty"`
	AI     *AIBinding        `json:"ai,omitempty"`
	Assets *AssetsBinding    `json:"assets,omitempty"`
	Vars   map[string]string `json:"vars,omitempty"`
}

// DatabaseBinding attaches the project's provisioned database under a
// variable name.
type DatabaseBinding struct {
	Binding string `json:"binding"`
}

// AIBinding attaches the platform-global model service under a variable
// name. Resolved without a resource lookup.
type AIBinding struct {
	Binding string `json:"binding"`
}

// AssetsBinding declares a static-asset directory. It is never resolved
// into a binding descriptor; the asset upload protocol handles it and the
// publisher attaches the completion token instead.
type AssetsBinding struct {
	Binding   string `json:"binding"`
	Directory string `json:"directory"`
}

// Parse decodes a manifest document. Callers must run Validate on the same
// bytes first; Parse does not re-check shapes.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInvalid, "decode manifest failed")
	}
	return &m, nil
}

// HasAssets reports whether the manifest declares an assets binding.
func (m *Manifest) HasAssets() bool {
	return m.Bindings != nil && m.Bindings.Assets != nil
}

// CheckAssetAgreement enforces the cross-entity invariant: an assets
// binding and an uploaded assets archive must appear together or not at
// all. The two directions get distinct messages so callers can tell orphan
// assets from a missing archive.
func CheckAssetAgreement(m *Manifest, archivePresent bool) error {
	declared := m.HasAssets()
	switch {
	case archivePresent && !declared:
		return appErr.New(appErr.CodeValidation, "assets archive supplied but manifest declares no assets binding (orphan assets)")
	case declared && !archivePresent:
		return appErr.New(appErr.CodeValidation, "manifest declares an assets binding but no assets archive was supplied")
	}
	return nil
}
