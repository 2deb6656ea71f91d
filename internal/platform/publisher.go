package platform

import (
	"context"

	"github.com/skiffhost/engine/internal/bindings"
	"github.com/skiffhost/engine/internal/manifest"
	appErr "github.com/skiffhost/engine/pkg/errors"
	"github.com/skiffhost/engine/pkg/logger"
	"go.uber.org/zap"
)

// Publisher uploads the executable entrypoint plus resolved bindings into
// the shared dispatch namespace under the project's reserved script name.
type Publisher struct {
	client Client
}

func NewPublisher(client Client) *Publisher {
	return &Publisher{client: client}
}

// Publish pushes one script version. completionToken must be non-empty
// exactly when the manifest declares an assets binding.
//
// The asset agreement is re-checked here even though the validator already
// enforced it: this method can be reached from a different trust boundary,
// and an inconsistency surviving to this point would otherwise fail
// silently at runtime when the script touches a binding that was never
// wired.
func (p *Publisher) Publish(ctx context.Context, scriptName string, code []byte, m *manifest.Manifest, descriptors []bindings.Descriptor, completionToken string) (*PublishResult, error) {
	if err := manifest.CheckAssetAgreement(m, completionToken != ""); err != nil {
		return nil, err
	}
	if len(code) == 0 {
		return nil, appErr.New(appErr.CodeInvalid, "script code is empty")
	}

	req := &PublishRequest{
		ScriptName: scriptName,
		Code:       code,
		Runtime: RuntimeConfig{
			Entrypoint:         m.Entrypoint,
			CompatibilityDate:  m.CompatibilityDate,
			CompatibilityFlags: m.CompatibilityFlags,
			ModuleFormat:       m.ModuleFormat,
		},
		Bindings: descriptors,
	}
	if completionToken != "" {
		req.AssetCompletionToken = completionToken
		req.AssetBinding = m.Bindings.Assets.Binding
	}

	logger.L().Info("publishing script",
		zap.String("script", scriptName),
		zap.Int("bindings", len(descriptors)),
		zap.Bool("with_assets", completionToken != ""))
	return p.client.PublishScript(ctx, req)
}
