// Copyright 2019-2026 The pynet Authors. SPDX-License-Identifier: CECILL-B

package vae

import (
	"math"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
)

const (
	// WeightsVariableName is the name of the [inputDim, outputDim] matrix of a linear layer.
	WeightsVariableName = "weights"

	// BiasesVariableName is the name of the [outputDim] vector of a linear layer.
	BiasesVariableName = "biases"
)

// linear is a fully connected layer `x·W + b`, for x shaped [batchSize, inputDim].
//
// Weights and biases are initialized uniformly in ±1/sqrt(inputDim).
func linear(ctx *context.Context, x *Node, outputDim int) *Node {
	g := x.Graph()
	dtype := x.DType()
	inputDim := x.Shape().Dim(-1)
	bound := 1 / math.Sqrt(float64(inputDim))
	ctx = ctx.WithInitializer(initializers.RandomUniformFn(ctx, -bound, bound))
	weights := ctx.VariableWithShape(WeightsVariableName, shapes.Make(dtype, inputDim, outputDim)).ValueGraph(g)
	biases := ctx.VariableWithShape(BiasesVariableName, shapes.Make(dtype, outputDim)).ValueGraph(g)
	return Add(MatMul(x, weights), ExpandAxes(biases, 0))
}

// hiddenStack applies one linear layer plus activation per entry of dims, each in its own
// "hidden_<i>" scope. It returns x unchanged if dims is empty.
func hiddenStack(ctx *context.Context, x *Node, dims []int, activation activations.Type) *Node {
	for ii, dim := range dims {
		x = linear(ctx.Inf("hidden_%d", ii), x, dim)
		x = activations.Apply(activation, x)
	}
	return x
}
