package bindings

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/skiffhost/engine/internal/manifest"
	"github.com/skiffhost/engine/internal/models"
	"github.com/skiffhost/engine/internal/repository"
	appErr "github.com/skiffhost/engine/pkg/errors"
	"github.com/skiffhost/engine/pkg/logger"
	"go.uber.org/zap"
)

// Resolver converts binding intents declared in a manifest into concrete
// descriptors by looking up the project's provisioned resources.
type Resolver struct {
	resources repository.ResourceRepository
}

func NewResolver(resources repository.ResourceRepository) *Resolver {
	return &Resolver{resources: resources}
}

// Resolve emits the descriptor list for one deployment. The implicit
// PROJECT_ID variable always comes first. A missing required resource
// aborts the whole resolution; no partial list is ever returned.
//
// The assets intent is deliberately not resolved here. It belongs to the
// asset upload protocol, and the publisher attaches the completion token as
// a side channel; resolving it twice would wire the binding twice.
func (r *Resolver) Resolve(ctx context.Context, projectID uuid.UUID, b *manifest.Bindings) ([]Descriptor, error) {
	out := []Descriptor{{
		Kind: KindPlainText,
		Name: ImplicitProjectVar,
		Text: projectID.String(),
	}}

	if b == nil {
		return out, nil
	}

	if b.D1 != nil {
		var res models.Resource
		if err := r.resources.GetActiveByType(ctx, projectID, models.ResourceTypeDatabase, &res); err != nil {
			if appErr.IsCode(err, appErr.CodeNotFound) {
				return nil, appErr.New(appErr.CodeNotFound,
					"manifest requests a database binding but the project has no active database resource; provision one before deploying")
			}
			return nil, err
		}
		logger.L().Debug("resolved database binding",
			zap.String("project_id", projectID.String()),
			zap.String("database_id", res.ProviderID))
		out = append(out, Descriptor{Kind: KindD1, Name: b.D1.Binding, ID: res.ProviderID})
	}

	if b.AI != nil {
		// Platform-global capability: no per-project lookup.
		out = append(out, Descriptor{Kind: KindAI, Name: b.AI.Binding})
	}

	if len(b.Vars) > 0 {
		keys := lo.Keys(b.Vars)
		sort.Strings(keys)
		for _, k := range keys {
			out = append(out, Descriptor{Kind: KindPlainText, Name: k, Text: b.Vars[k]})
		}
	}

	return out, nil
}
