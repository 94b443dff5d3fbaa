// Copyright 2019-2026 The pynet Authors. SPDX-License-Identifier: CECILL-B

// Package distributions implements probability distributions over graph nodes, with
// reparameterized sampling so gradients flow through the samples.
package distributions

import (
	"math"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/support/exceptions"
)

// Normal is a diagonal Gaussian with element-wise Loc (mean) and Scale (standard deviation).
// Loc and Scale must have the same shape.
type Normal struct {
	Loc, Scale *Node
}

// NewNormal returns the distribution N(loc, scale²).
func NewNormal(loc, scale *Node) Normal {
	if !loc.Shape().Equal(scale.Shape()) {
		exceptions.Panicf("distributions.NewNormal: loc %s and scale %s must have the same shape",
			loc.Shape(), scale.Shape())
	}
	return Normal{Loc: loc, Scale: scale}
}

// NewNormalFromLogVar returns the distribution N(loc, exp(logVar)).
func NewNormalFromLogVar(loc, logVar *Node) Normal {
	return NewNormal(loc, Exp(MulScalar(logVar, 0.5)))
}

// Variance returns Scale².
func (n Normal) Variance() *Node {
	return Square(n.Scale)
}

// LogProb returns the element-wise log-density of x.
func (n Normal) LogProb(x *Node) *Node {
	variance := n.Variance()
	diff := Sub(x, n.Loc)
	logProb := Neg(Div(Square(diff), MulScalar(variance, 2)))
	logProb = Sub(logProb, Log(n.Scale))
	return AddScalar(logProb, -0.5*math.Log(2*math.Pi))
}

// KLStandardNormal returns the element-wise KL(n || N(0, 1)).
func (n Normal) KLStandardNormal() *Node {
	kl := Add(n.Variance(), Square(n.Loc))
	kl = MulScalar(AddScalar(kl, -1), 0.5)
	return Sub(kl, Log(n.Scale))
}

// RSample draws one sample per element using the reparameterization Loc + Scale·ε, with ε ~ N(0, 1)
// taken from the context random number generator.
func (n Normal) RSample(ctx *context.Context) *Node {
	eps := ctx.RandomNormal(n.Loc.Graph(), n.Loc.Shape())
	return Add(n.Loc, Mul(n.Scale, eps))
}
