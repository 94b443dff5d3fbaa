// Copyright 2019-2026 The pynet Authors. SPDX-License-Identifier: CECILL-B

package vae

import (
	"math"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/neurospin/pynet/pkg/models/distributions"
)

// Constants of the approximation of KL(q || log-uniform prior) used by sparse variational dropout
// (Molchanov et al., 2017).
const (
	sparseK1 = 0.63576
	sparseK2 = 1.8732
	sparseK3 = 1.48695
)

// SparseEpsilon avoids log(0) when deriving the variance from the mean in the sparse model.
const SparseEpsilon = 1e-8

// logAlpha returns log(σ²/μ²) element-wise.
func logAlpha(q distributions.Normal) *Node {
	logVar := MulScalar(Log(q.Scale), 2)
	return Sub(logVar, Log(AddScalar(Square(q.Loc), SparseEpsilon)))
}

// sparseKL returns the element-wise approximate KL divergence between q and the log-uniform prior.
func sparseKL(q distributions.Normal) *Node {
	la := logAlpha(q)
	negKL := MulScalar(Sigmoid(AddScalar(MulScalar(la, sparseK3), sparseK2)), sparseK1)
	negKL = Sub(negKL, MulScalar(Log1p(Exp(Neg(la))), 0.5))
	negKL = AddScalar(negKL, -sparseK1)
	return Neg(negKL)
}

// DropoutFromLogAlpha converts log α values to dropout probabilities α/(1+α).
func DropoutFromLogAlpha(logAlpha []float32) []float32 {
	dropout := make([]float32, len(logAlpha))
	for ii, la := range logAlpha {
		dropout[ii] = float32(1 / (1 + math.Exp(-float64(la))))
	}
	return dropout
}

// KeptDimensions returns the indices of the latent dimensions whose dropout probability is below threshold.
func KeptDimensions(dropout []float32, threshold float64) []int {
	kept := make([]int, 0, len(dropout))
	for ii, p := range dropout {
		if float64(p) < threshold {
			kept = append(kept, ii)
		}
	}
	return kept
}

// ApplyThreshold keeps only the columns of each latent matrix (shaped [numSamples][latentDim])
// whose dropout probability is below threshold.
func ApplyThreshold(latents [][][]float32, dropout []float32, threshold float64) [][][]float32 {
	kept := KeptDimensions(dropout, threshold)
	results := make([][][]float32, len(latents))
	for c, z := range latents {
		results[c] = make([][]float32, len(z))
		for row, values := range z {
			selected := make([]float32, len(kept))
			for ii, col := range kept {
				selected[ii] = values[col]
			}
			results[c][row] = selected
		}
	}
	return results
}
