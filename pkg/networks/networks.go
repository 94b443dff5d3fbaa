// Copyright 2019-2026 The pynet Authors. SPDX-License-Identifier: CECILL-B

// Package networks is the registry of the models provided by pynet.
//
// Only the variational autoencoder family is registered: "vanillanet", "mcvae" and "smcvae".
// The convolutional, graph and brain-specific networks of the pynet Python package are not
// provided.
//
// The registry is a fixed mapping from name to constructor. Constructors read their
// hyperparameters from the context (see models.ParamLatentDim and the vae.Param* keys):
//
//	ctx := context.New()
//	ctx.SetParams(map[string]any{"latent_dim": 5, "n_channels": 3, "n_feats": 4})
//	model, err := networks.New("smcvae", ctx)
package networks

import (
	"maps"
	"slices"
	"strings"

	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/neurospin/pynet/pkg/models"
	"github.com/neurospin/pynet/pkg/models/vae"
	"github.com/pkg/errors"
)

// Constructor creates a model configured from the context hyperparameters.
// The name is the registered name, also used as the model variables scope.
type Constructor func(ctx *context.Context, name string) (models.Model, error)

// Entry of the registry.
type Entry struct {
	Description string
	New         Constructor
}

var registry = map[string]Entry{
	"vanillanet": {
		Description: "Single channel dense variational autoencoder.",
		New: func(ctx *context.Context, name string) (models.Model, error) {
			return vae.NewVanillaNet(ctx, name)
		},
	},
	"mcvae": {
		Description: "Multi-channel variational autoencoder (Antelmi et al. 2019).",
		New: func(ctx *context.Context, name string) (models.Model, error) {
			return vae.NewFromContext(ctx, name)
		},
	},
	"smcvae": {
		Description: "Sparse multi-channel variational autoencoder, with variational dropout of latent dimensions.",
		New:         newSparseMCVAE,
	},
}

func newSparseMCVAE(ctx *context.Context, name string) (models.Model, error) {
	cfg, err := vae.ConfigFromContext(ctx, name)
	if err != nil {
		return nil, err
	}
	cfg.Sparse = true
	return vae.NewMCVAE(cfg)
}

// Names returns the sorted names of the registered models.
func Names() []string {
	return slices.Sorted(maps.Keys(registry))
}

// Has returns whether a model with the given name is registered.
func Has(name string) bool {
	_, found := registry[name]
	return found
}

// Describe returns the one-line description of a registered model.
func Describe(name string) (string, error) {
	entry, found := registry[name]
	if !found {
		return "", unknownModelError(name)
	}
	return entry.Description, nil
}

// New creates the model registered under name.
func New(name string, ctx *context.Context) (models.Model, error) {
	entry, found := registry[name]
	if !found {
		return nil, unknownModelError(name)
	}
	model, err := entry.New(ctx, name)
	if err != nil {
		return nil, errors.WithMessagef(err, "creating model %q", name)
	}
	return model, nil
}

// MustNew is like New, but panics on error.
func MustNew(name string, ctx *context.Context) models.Model {
	model, err := New(name, ctx)
	if err != nil {
		panic(err)
	}
	return model
}

func unknownModelError(name string) error {
	return errors.Errorf("unknown model %q, registered models are: %s", name, strings.Join(Names(), ", "))
}
