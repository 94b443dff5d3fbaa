// Copyright 2019-2026 The pynet Authors. SPDX-License-Identifier: CECILL-B

package synthetic

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Standardize returns a copy of x where every column has zero mean and unit (population)
// variance. Constant columns are only centered.
func Standardize(x *mat.Dense) *mat.Dense {
	numRows, numCols := x.Dims()
	result := mat.NewDense(numRows, numCols, nil)
	column := make([]float64, numRows)
	for col := range numCols {
		mat.Col(column, col, x)
		mean, variance := stat.PopMeanVariance(column, nil)
		scale := math.Sqrt(variance)
		if scale == 0 {
			scale = 1
		}
		for row, value := range column {
			result.Set(row, col, (value-mean)/scale)
		}
	}
	return result
}

// NoiseSeed derives the seed of the noise from the data shapes and the SNR of the first channel,
// using a prime number basis: baseSeed + 3·⌊snr+1⌋ + 5·numChannels + 7·numSamples + 11·numFeats.
func NoiseSeed(baseSeed int, snr float64, numChannels, numSamples, numFeats int) uint64 {
	return uint64(baseSeed + 3*int(snr+1) + 5*numChannels + 7*numSamples + 11*numFeats)
}

// broadcastSNR returns one SNR per channel: a single value is used for all channels.
func broadcastSNR(snr []float64, numChannels int) ([]float64, error) {
	if len(snr) == 1 && numChannels > 1 {
		values := make([]float64, numChannels)
		for c := range values {
			values[c] = snr[0]
		}
		snr = values
	}
	if len(snr) != numChannels {
		return nil, errors.Errorf("got %d SNR values for %d channels", len(snr), numChannels)
	}
	for c, s := range snr {
		if !(s > 0) {
			return nil, errors.Errorf("SNR of channel #%d must be > 0, got %g", c, s)
		}
	}
	return snr, nil
}

// AddNoise returns copies of the channels with added Gaussian noise of variance 1/snr[c].
// The noise of all channels is drawn, in order, from one generator seeded with seed.
func AddNoise(channels []*mat.Dense, snr []float64, seed uint64) ([]*mat.Dense, error) {
	snr, err := broadcastSNR(snr, len(channels))
	if err != nil {
		return nil, err
	}
	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: newRand(seed)}
	noisy := make([]*mat.Dense, len(channels))
	for c, x := range channels {
		sigma := math.Sqrt(1 / snr[c])
		numRows, numCols := x.Dims()
		noisy[c] = mat.NewDense(numRows, numCols, nil)
		for row := range numRows {
			for col := range numCols {
				noisy[c].Set(row, col, x.At(row, col)+sigma*normal.Rand())
			}
		}
	}
	return noisy, nil
}

// PreprocessAndAddNoise standardizes each channel and adds noise with the given SNR (one value per
// channel, or a single value for all). The noise seed is derived with NoiseSeed.
//
// It returns both the standardized and the noisy channels.
func PreprocessAndAddNoise(channels []*mat.Dense, snr []float64, baseSeed int) (standardized, noisy []*mat.Dense, err error) {
	if len(channels) == 0 {
		return nil, nil, errors.New("no channels given")
	}
	snr, err = broadcastSNR(snr, len(channels))
	if err != nil {
		return nil, nil, err
	}
	standardized = make([]*mat.Dense, len(channels))
	for c, x := range channels {
		standardized[c] = Standardize(x)
	}
	numSamples, numFeats := channels[0].Dims()
	seed := NoiseSeed(baseSeed, snr[0], len(channels), numSamples, numFeats)
	noisy, err = AddNoise(standardized, snr, seed)
	if err != nil {
		return nil, nil, err
	}
	return standardized, noisy, nil
}
