// Copyright 2019-2026 The pynet Authors. SPDX-License-Identifier: CECILL-B

// Package synthetic generates multi-channel data from a shared low dimensional latent space:
//
//	z ~ N(0, I)
//	x_c = z·W_cᵀ, for each channel c
//
// Each W_c has orthonormal columns (or rows, if there are fewer features than latent
// dimensions). The observed channels are then standardized and perturbed with Gaussian noise
// of variance 1/SNR.
//
// Everything is seeded, so the same configuration always yields the same data.
package synthetic

import (
	"math/rand/v2"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// DefaultGeneratorSeed is the seed used for the generator weights.
const DefaultGeneratorSeed = 100

// newRand returns a random number generator fully determined by seed.
func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed))
}

// Generator projects latent vectors into numChannels observed channels with a fixed linear map.
type Generator struct {
	latentDim, numChannels, numFeats int
	seed                             uint64
	weights                          []*mat.Dense
}

// NewGenerator creates the per-channel weights, each shaped [numFeats, latentDim], derived from the thin
// SVD of a uniform random matrix in [-1, 1).
func NewGenerator(latentDim, numChannels, numFeats int, seed uint64) (*Generator, error) {
	if latentDim <= 0 || numChannels <= 0 || numFeats <= 0 {
		return nil, errors.Errorf("invalid generator dimensions: latentDim=%d, numChannels=%d, numFeats=%d",
			latentDim, numChannels, numFeats)
	}
	gen := &Generator{
		latentDim:   latentDim,
		numChannels: numChannels,
		numFeats:    numFeats,
		seed:        seed,
		weights:     make([]*mat.Dense, numChannels),
	}
	uniform := distuv.Uniform{Min: -1, Max: 1, Src: newRand(seed)}
	for c := range numChannels {
		w := mat.NewDense(numFeats, latentDim, nil)
		for row := range numFeats {
			for col := range latentDim {
				w.Set(row, col, uniform.Rand())
			}
		}
		var svd mat.SVD
		if ok := svd.Factorize(w, mat.SVDThin); !ok {
			return nil, errors.Errorf("SVD factorization of channel #%d weights failed", c)
		}
		var orthonormal mat.Dense
		if numFeats >= latentDim {
			// U is [numFeats, latentDim].
			svd.UTo(&orthonormal)
		} else {
			// V is [latentDim, numFeats], we keep Vᵀ.
			var v mat.Dense
			svd.VTo(&v)
			orthonormal.CloneFrom(v.T())
		}
		gen.weights[c] = &orthonormal
	}
	return gen, nil
}

// LatentDim returns the dimension of the latent space.
func (gen *Generator) LatentDim() int { return gen.latentDim }

// NumChannels returns the number of channels generated.
func (gen *Generator) NumChannels() int { return gen.numChannels }

// NumFeats returns the number of features of each channel.
func (gen *Generator) NumFeats() int { return gen.numFeats }

// Weights returns a copy of the weights of each channel, shaped [numFeats, latentDim].
func (gen *Generator) Weights() []*mat.Dense {
	weights := make([]*mat.Dense, len(gen.weights))
	for c, w := range gen.weights {
		weights[c] = mat.DenseCopyOf(w)
	}
	return weights
}

// Project maps latent vectors z, shaped [numSamples, latentDim], to each channel: x_c = z·W_cᵀ.
//
// It panics if z doesn't have latentDim columns.
func (gen *Generator) Project(z mat.Matrix) []*mat.Dense {
	numSamples, latentDim := z.Dims()
	if latentDim != gen.latentDim {
		panic(errors.Errorf("Generator.Project: z has %d columns, generator latent dimension is %d", latentDim, gen.latentDim))
	}
	channels := make([]*mat.Dense, gen.numChannels)
	for c, w := range gen.weights {
		x := mat.NewDense(numSamples, gen.numFeats, nil)
		x.Mul(z, w.T())
		channels[c] = x
	}
	return channels
}

// SampleLatent draws numSamples latent vectors from N(0, I), shaped [numSamples, latentDim].
func SampleLatent(numSamples, latentDim int, seed uint64) *mat.Dense {
	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: newRand(seed)}
	z := mat.NewDense(numSamples, latentDim, nil)
	for row := range numSamples {
		for col := range latentDim {
			z.Set(row, col, normal.Rand())
		}
	}
	return z
}
