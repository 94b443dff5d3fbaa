// Copyright 2019-2026 The pynet Authors. SPDX-License-Identifier: CECILL-B

package synthetic

import (
	"io"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

func TestGenerator(t *testing.T) {
	t.Run("Deterministic", func(t *testing.T) {
		gen0, err := NewGenerator(2, 3, 4, DefaultGeneratorSeed)
		require.NoError(t, err)
		gen1, err := NewGenerator(2, 3, 4, DefaultGeneratorSeed)
		require.NoError(t, err)
		z := SampleLatent(10, 2, TrainLatentSeed)
		x0, x1 := gen0.Project(z), gen1.Project(z)
		require.Len(t, x0, 3)
		for c := range x0 {
			assert.True(t, mat.Equal(x0[c], x1[c]), "channel #%d differs", c)
		}

		gen2, err := NewGenerator(2, 3, 4, DefaultGeneratorSeed+1)
		require.NoError(t, err)
		assert.False(t, mat.Equal(gen0.Weights()[0], gen2.Weights()[0]))
	})

	t.Run("Orthonormal", func(t *testing.T) {
		for _, dims := range [][2]int{{2, 4}, {4, 4}, {5, 3}} {
			latentDim, numFeats := dims[0], dims[1]
			gen, err := NewGenerator(latentDim, 2, numFeats, DefaultGeneratorSeed)
			require.NoError(t, err)
			for _, w := range gen.Weights() {
				rows, cols := w.Dims()
				require.Equal(t, numFeats, rows)
				require.Equal(t, latentDim, cols)
				var gram mat.Dense
				if numFeats >= latentDim {
					gram.Mul(w.T(), w)
				} else {
					gram.Mul(w, w.T())
				}
				size, _ := gram.Dims()
				identity := mat.NewDiagDense(size, nil)
				for ii := range size {
					identity.SetDiag(ii, 1)
				}
				assert.True(t, mat.EqualApprox(&gram, identity, 1e-9), "latentDim=%d, numFeats=%d", latentDim, numFeats)
			}
		}
	})

	t.Run("Errors", func(t *testing.T) {
		_, err := NewGenerator(0, 3, 4, DefaultGeneratorSeed)
		require.Error(t, err)
		gen, err := NewGenerator(2, 3, 4, DefaultGeneratorSeed)
		require.NoError(t, err)
		require.Panics(t, func() { gen.Project(mat.NewDense(5, 3, nil)) })
	})
}

func TestSampleLatent(t *testing.T) {
	z0 := SampleLatent(500, 2, TrainLatentSeed)
	z1 := SampleLatent(500, 2, TrainLatentSeed)
	assert.True(t, mat.Equal(z0, z1))
	assert.False(t, mat.Equal(z0, SampleLatent(500, 2, ValidationLatentSeed)))

	column := mat.Col(nil, 0, z0)
	mean, variance := stat.MeanVariance(column, nil)
	assert.InDelta(t, 0.0, mean, 0.15)
	assert.InDelta(t, 1.0, variance, 0.2)
}

func TestStandardize(t *testing.T) {
	x := mat.NewDense(4, 2, []float64{
		1, 5,
		2, 5,
		3, 5,
		4, 5,
	})
	std := Standardize(x)
	column := mat.Col(nil, 0, std)
	mean, variance := stat.PopMeanVariance(column, nil)
	assert.InDelta(t, 0.0, mean, 1e-12)
	assert.InDelta(t, 1.0, variance, 1e-12)
	// Constant columns are only centered.
	assert.Equal(t, []float64{0, 0, 0, 0}, mat.Col(nil, 1, std))
	// Input is not modified.
	assert.Equal(t, 1.0, x.At(0, 0))
}

func TestNoise(t *testing.T) {
	assert.Equal(t, uint64(3*11+5*3+7*500+11*4), NoiseSeed(0, 10, 3, 500, 4))
	assert.Equal(t, uint64(1+3*2+5+7+11), NoiseSeed(1, 1, 1, 1, 1))

	const numSamples = 20_000
	for _, snr := range []float64{1, 10} {
		zeros := []*mat.Dense{mat.NewDense(numSamples, 2, nil), mat.NewDense(numSamples, 2, nil)}
		noisy, err := AddNoise(zeros, []float64{snr}, 17)
		require.NoError(t, err)
		for c := range noisy {
			_, variance := stat.PopMeanVariance(noisy[c].RawMatrix().Data, nil)
			assert.InDelta(t, 1/snr, variance, 0.05/snr, "snr=%g, channel #%d", snr, c)
		}
	}

	_, err := AddNoise([]*mat.Dense{mat.NewDense(2, 2, nil)}, []float64{0}, 17)
	require.Error(t, err)
	_, err = AddNoise([]*mat.Dense{mat.NewDense(2, 2, nil)}, []float64{1, 2}, 17)
	require.Error(t, err)
	_, _, err = PreprocessAndAddNoise(nil, []float64{1}, 0)
	require.Error(t, err)
}

func TestPreprocessAndAddNoise(t *testing.T) {
	gen, err := NewGenerator(2, 3, 4, DefaultGeneratorSeed)
	require.NoError(t, err)
	x := gen.Project(SampleLatent(500, 2, TrainLatentSeed))
	std0, noisy0, err := PreprocessAndAddNoise(x, []float64{10}, 0)
	require.NoError(t, err)
	std1, noisy1, err := PreprocessAndAddNoise(x, []float64{10, 10, 10}, 0)
	require.NoError(t, err)
	require.Len(t, std0, 3)
	for c := range std0 {
		rows, cols := noisy0[c].Dims()
		assert.Equal(t, 500, rows)
		assert.Equal(t, 4, cols)
		assert.True(t, mat.Equal(std0[c], std1[c]))
		assert.True(t, mat.Equal(noisy0[c], noisy1[c]), "noise must be reproducible")

		var diff mat.Dense
		diff.Sub(noisy0[c], std0[c])
		_, variance := stat.PopMeanVariance(diff.RawMatrix().Data, nil)
		assert.InDelta(t, 0.1, variance, 0.02)
	}
}

func TestDataset(t *testing.T) {
	cfg := DefaultConfig()
	ds, err := NewDataset("train", cfg)
	require.NoError(t, err)
	assert.Equal(t, "train", ds.Name())
	numSamples, numChannels := ds.Shape()
	assert.Equal(t, 500, numSamples)
	assert.Equal(t, 3, numChannels)
	assert.Equal(t, 500, ds.Len())
	for _, x := range ds.Channels() {
		rows, cols := x.Dims()
		assert.Equal(t, 500, rows)
		assert.Equal(t, 4, cols)
	}

	for epoch := range 2 {
		spec, inputs, labels, err := ds.Yield()
		require.NoError(t, err, "epoch %d", epoch)
		assert.Nil(t, spec)
		assert.Empty(t, labels)
		require.Len(t, inputs, 3)
		for _, input := range inputs {
			assert.Equal(t, []int{500, 4}, input.Shape().Dimensions)
		}
		_, _, _, err = ds.Yield()
		require.ErrorIs(t, err, io.EOF)
		ds.Reset()
	}

	// Same configuration yields bit-identical data.
	ds2, err := NewDataset("train", cfg)
	require.NoError(t, err)
	assert.Equal(t, ds.All(), ds2.All())
	assert.True(t, mat.Equal(ds.Latent(), ds2.Latent()))

	// The validation split uses different latent samples, but the same generator.
	cfg.Train = false
	val, err := NewDataset("val", cfg)
	require.NoError(t, err)
	assert.False(t, mat.Equal(ds.Latent(), val.Latent()))
	assert.True(t, mat.Equal(ds.Generator().Weights()[0], val.Generator().Weights()[0]))
}

func TestDatasetBatches(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BatchSize = 200
	cfg.Shuffle = false
	cfg.Noisy = false
	ds, err := NewDataset("train", cfg)
	require.NoError(t, err)
	var sizes []int
	var first []float32
	for {
		_, inputs, _, err := ds.Yield()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		sizes = append(sizes, inputs[0].Shape().Dim(0))
		if first == nil {
			first = tensors.MustCopyFlatData[float32](inputs[1])[:4]
		}
	}
	assert.Equal(t, []int{200, 200, 100}, sizes)
	// Without shuffling the first row is the first sample of the noiseless channel.
	assert.Equal(t, ds.All()[1][0], first)
	clean := ds.Channels()[1]
	assert.InDelta(t, clean.At(0, 0), float64(first[0]), 1e-6)

	_, err = NewDataset("bad", Config{NumSamples: 10, LatentDim: 2, NumFeats: 4, NumChannels: 3, SNR: 1})
	require.Error(t, err, "missing batch size")
	_, err = NewDataset("bad", Config{NumSamples: 10, LatentDim: 2, NumFeats: 4, NumChannels: 3, BatchSize: 2})
	require.Error(t, err, "missing SNR")
}
