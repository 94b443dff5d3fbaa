// Copyright 2019-2026 The pynet Authors. SPDX-License-Identifier: CECILL-B

// Package models defines the interface shared by the networks in pynet, and the hyperparameter
// keys they read from the context.
//
// Networks are built from a *context.Context: all hyperparameters are context parameters
// (see context.GetParamOr) and all weights are context variables under the model's own scope.
// Use package networks to construct a model by name.
package models

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

const (
	// ParamLatentDim is the context parameter with the number of latent dimensions.
	ParamLatentDim = "latent_dim"

	// ParamNumChannels is the context parameter with the number of input channels (views).
	ParamNumChannels = "n_channels"

	// ParamNumFeatures is the context parameter with the number of features per channel.
	// Either an int (same for every channel) or a []int with one entry per channel.
	ParamNumFeatures = "n_feats"
)

// Losses returned by Model.Losses, all scalars of the input dtype.
type Losses struct {
	// Total is the value minimized by the optimizer.
	Total *Node

	// KL is the Kullback-Leibler term of the evidence lower bound.
	KL *Node

	// LL is the expected log-likelihood of the inputs.
	LL *Node
}

// Model is a network that can be trained with a fit.Trainer.
type Model interface {
	// Name of the model, as registered in package networks.
	Name() string

	// Scope name, relative to the context passed to Losses, where the model variables live.
	Scope() string

	// NumChannels is the number of input tensors expected by Losses.
	NumChannels() int

	// NumFeatures returns the number of features of each channel.
	NumFeatures() []int

	// Losses builds the loss computation for a batch. One input per channel, each shaped
	// [batchSize, numFeatures]. The model samples from its posterior if ctx.IsTraining(g).
	Losses(ctx *context.Context, inputs []*Node) Losses
}

// NumFeaturesFromContext returns the number of features per channel, as configured in
// ParamNumFeatures. An int value is repeated for every channel.
// It returns nil if the parameter is not set or has an invalid type.
func NumFeaturesFromContext(ctx *context.Context, numChannels int) []int {
	value, found := ctx.GetParam(ParamNumFeatures)
	if !found {
		return nil
	}
	if n, ok := toInt(value); ok {
		return NumFeaturesFromInts(numChannels, n)
	}
	return IntsFromParam(value)
}

// NumFeaturesFromInts repeats numFeatures for each of the numChannels.
func NumFeaturesFromInts(numChannels, numFeatures int) []int {
	feats := make([]int, numChannels)
	for ii := range feats {
		feats[ii] = numFeatures
	}
	return feats
}

// IntsFromParam converts a list parameter value to []int. Values decoded from configuration
// files arrive as []any holding int64 or float64. It returns nil for any other type.
func IntsFromParam(value any) []int {
	switch v := value.(type) {
	case []int:
		return v
	case []any:
		ints := make([]int, 0, len(v))
		for _, e := range v {
			n, ok := toInt(e)
			if !ok {
				return nil
			}
			ints = append(ints, n)
		}
		return ints
	}
	return nil
}

func toInt(value any) (int, bool) {
	switch n := value.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
