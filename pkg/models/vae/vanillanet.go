// Copyright 2019-2026 The pynet Authors. SPDX-License-Identifier: CECILL-B

package vae

import (
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/neurospin/pynet/pkg/models"
	"github.com/pkg/errors"
)

// NewVanillaNet creates the classic single channel dense VAE: an MCVAE restricted to one channel,
// so its loss is β·KL(q(z|x) || N(0, I)) - E[log p(x|z)].
//
// Its number of features is the first entry of models.ParamNumFeatures. Other hyperparameters
// are read as in NewFromContext.
func NewVanillaNet(ctx *context.Context, name string) (*MCVAE, error) {
	numFeats := models.NumFeaturesFromContext(ctx, 1)
	if len(numFeats) == 0 {
		return nil, errors.Errorf("model %q: %q must be set", name, models.ParamNumFeatures)
	}
	cfg, err := ConfigFromContext(ctx, name)
	if err != nil {
		return nil, err
	}
	cfg.NumFeatures = numFeats[:1]
	return NewMCVAE(cfg)
}
