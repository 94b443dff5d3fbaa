// Copyright 2019-2026 The pynet Authors. SPDX-License-Identifier: CECILL-B

package vae

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/neurospin/pynet/pkg/models"
	"github.com/neurospin/pynet/pkg/models/distributions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/simplego"
)

func newTestBackend(t *testing.T) backends.Backend {
	backend, err := backends.NewWithConfig("go")
	require.NoError(t, err)
	return backend
}

func newTestContext(t *testing.T, sparse bool) *context.Context {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		models.ParamLatentDim:   5,
		models.ParamNumChannels: 3,
		models.ParamNumFeatures: 4,
		ParamSparse:             sparse,
	})
	require.NoError(t, ctx.SetRNGStateFromSeed(42))
	return ctx
}

func randomChannels(numChannels, numSamples, numFeats int) [][][]float32 {
	rng := rand.New(rand.NewPCG(1, 2))
	channels := make([][][]float32, numChannels)
	for c := range channels {
		channels[c] = make([][]float32, numSamples)
		for row := range channels[c] {
			channels[c][row] = make([]float32, numFeats)
			for col := range channels[c][row] {
				channels[c][row][col] = float32(rng.NormFloat64())
			}
		}
	}
	return channels
}

func TestConfigFromContext(t *testing.T) {
	ctx := newTestContext(t, false)
	cfg, err := ConfigFromContext(ctx, "mcvae")
	require.NoError(t, err)
	assert.Equal(t, "mcvae", cfg.Name)
	assert.Equal(t, 5, cfg.LatentDim)
	assert.Equal(t, []int{4, 4, 4}, cfg.NumFeatures)
	assert.False(t, cfg.Sparse)
	assert.Equal(t, 1.0, cfg.Beta)
	assert.Equal(t, -3.0, cfg.NoiseInitLogVar)
	assert.False(t, cfg.NoiseFixed)
	assert.Empty(t, cfg.HiddenDims)
	assert.Equal(t, activations.TypeRelu, cfg.Activation)

	ctx.SetParams(map[string]any{ParamHiddenDims: []any{int64(8)}, ParamActivation: "tanh", ParamBeta: 2})
	cfg, err = ConfigFromContext(ctx, "mcvae")
	require.NoError(t, err)
	assert.Equal(t, []int{8}, cfg.HiddenDims)
	assert.Equal(t, activations.TypeTanh, cfg.Activation)
	assert.Equal(t, 2.0, cfg.Beta)

	ctx = newTestContext(t, false)
	ctx.SetParam(ParamVAEModel, "conv")
	_, err = ConfigFromContext(ctx, "mcvae")
	require.ErrorContains(t, err, "not supported")

	ctx = newTestContext(t, false)
	ctx.SetParam(ParamActivation, "not_an_activation")
	_, err = ConfigFromContext(ctx, "mcvae")
	require.Error(t, err)

	ctx = newTestContext(t, false)
	ctx.SetParam(models.ParamNumFeatures, []int{4, 4})
	_, err = ConfigFromContext(ctx, "mcvae")
	require.Error(t, err)
}

func TestNewMCVAE(t *testing.T) {
	_, err := NewMCVAE(Config{LatentDim: 2, NumFeatures: []int{3}})
	require.Error(t, err, "missing name")
	_, err = NewMCVAE(Config{Name: "m", NumFeatures: []int{3}})
	require.Error(t, err, "missing latent dim")
	_, err = NewMCVAE(Config{Name: "m", LatentDim: 2})
	require.Error(t, err, "no channels")
	_, err = NewMCVAE(Config{Name: "m", LatentDim: 2, NumFeatures: []int{3, 0}})
	require.Error(t, err, "empty channel")
	_, err = NewMCVAE(Config{Name: "m", LatentDim: 2, NumFeatures: []int{3}, HiddenDims: []int{-1}})
	require.Error(t, err, "invalid hidden dims")

	m, err := NewMCVAE(Config{Name: "m", LatentDim: 2, NumFeatures: []int{3, 5}, Beta: 1})
	require.NoError(t, err)
	assert.Equal(t, "m", m.Name())
	assert.Equal(t, "m", m.Scope())
	assert.Equal(t, 2, m.NumChannels())
	assert.Equal(t, 2, m.LatentDim())
	assert.False(t, m.Sparse())
	assert.Equal(t, "MCVAE(m)", m.String())
}

func lossesExec(backend backends.Backend, ctx *context.Context, m *MCVAE) *context.Exec {
	return context.MustNewExec(backend, ctx, func(ctx *context.Context, inputs []*Node) []*Node {
		losses := m.Losses(ctx, inputs)
		return []*Node{losses.Total, losses.KL, losses.LL}
	})
}

func TestMCVAELosses(t *testing.T) {
	backend := newTestBackend(t)
	for _, sparse := range []bool{false, true} {
		ctx := newTestContext(t, sparse)
		ctx.SetParam(ParamBeta, 0.5)
		m, err := NewFromContext(ctx, "mcvae")
		require.NoError(t, err)
		channels := randomChannels(3, 16, 4)
		outputs := lossesExec(backend, ctx, m).MustExec(channels[0], channels[1], channels[2])
		require.Len(t, outputs, 3)
		total := tensors.ToScalar[float32](outputs[0])
		kl := tensors.ToScalar[float32](outputs[1])
		ll := tensors.ToScalar[float32](outputs[2])
		assert.InDelta(t, 0.5*kl-ll, total, 1e-3, "sparse=%v", sparse)
		assert.False(t, math.IsNaN(float64(total)), "sparse=%v", sparse)

		modelCtx := ctx.In("mcvae")
		for c := range 3 {
			assert.NotNil(t, modelCtx.Inf("encoder_%d", c).In("mu").GetVariable(WeightsVariableName))
			logVarLayer := modelCtx.Inf("encoder_%d", c).In("logvar").GetVariable(WeightsVariableName)
			assert.Equal(t, sparse, logVarLayer == nil, "sparse models derive logvar from log α")
			noise := modelCtx.Inf("decoder_%d", c).GetVariable(NoiseLogVarVariableName)
			require.NotNil(t, noise)
			assert.Equal(t, [][]float32{{-3, -3, -3, -3}}, noise.MustValue().Value())
		}
		assert.Equal(t, sparse, modelCtx.GetVariable(LogAlphaVariableName) != nil)
	}
}

func TestMCVAENoiseFixed(t *testing.T) {
	backend := newTestBackend(t)
	ctx := newTestContext(t, false)
	ctx.SetParams(map[string]any{ParamNoiseFixed: true, ParamNoiseInitLogVar: -1.0})
	m, err := NewFromContext(ctx, "mcvae")
	require.NoError(t, err)
	channels := randomChannels(3, 4, 4)
	lossesExec(backend, ctx, m).MustExec(channels[0], channels[1], channels[2])
	noise := ctx.In("mcvae").In("decoder_1").GetVariable(NoiseLogVarVariableName)
	require.NotNil(t, noise)
	assert.False(t, noise.Trainable)
	assert.Equal(t, [][]float32{{-1, -1, -1, -1}}, noise.MustValue().Value())
}

func TestMCVAEHiddenLayers(t *testing.T) {
	backend := newTestBackend(t)
	ctx := newTestContext(t, false)
	ctx.SetParam(ParamHiddenDims, []int{8, 6})
	m, err := NewFromContext(ctx, "mcvae")
	require.NoError(t, err)
	channels := randomChannels(3, 4, 4)
	lossesExec(backend, ctx, m).MustExec(channels[0], channels[1], channels[2])

	encoderCtx := ctx.In("mcvae").In("encoder_0")
	assert.Equal(t, []int{4, 8}, encoderCtx.In("hidden_0").GetVariable(WeightsVariableName).Shape().Dimensions)
	assert.Equal(t, []int{8, 6}, encoderCtx.In("hidden_1").GetVariable(WeightsVariableName).Shape().Dimensions)
	assert.Equal(t, []int{6, 5}, encoderCtx.In("mu").GetVariable(WeightsVariableName).Shape().Dimensions)
	decoderCtx := ctx.In("mcvae").In("decoder_0")
	assert.Equal(t, []int{5, 6}, decoderCtx.In("hidden_0").GetVariable(WeightsVariableName).Shape().Dimensions)
	assert.Equal(t, []int{8, 4}, decoderCtx.In("mu").GetVariable(WeightsVariableName).Shape().Dimensions)
}

func TestMCVAEWrongInputs(t *testing.T) {
	backend := newTestBackend(t)
	ctx := newTestContext(t, false)
	m, err := NewFromContext(ctx, "mcvae")
	require.NoError(t, err)
	channels := randomChannels(3, 4, 4)
	require.Panics(t, func() { lossesExec(backend, ctx, m).MustExec(channels[0], channels[1]) })
	wrongFeats := randomChannels(1, 4, 3)
	require.Panics(t, func() { lossesExec(backend, ctx, m).MustExec(channels[0], channels[1], wrongFeats[0]) })
}

func TestMCVAEReconstructAndAccessors(t *testing.T) {
	backend := newTestBackend(t)
	ctx := newTestContext(t, true)
	m, err := NewFromContext(ctx, "smcvae")
	require.NoError(t, err)

	_, err = m.Dropout(ctx)
	require.Error(t, err, "model not built yet")

	channels := randomChannels(3, 10, 4)
	lossesExec(backend, ctx, m).MustExec(channels[0], channels[1], channels[2])
	keep := []float32{1, 1, 0, 1, 0}
	exec := context.MustNewExec(backend, ctx.Reuse(), func(ctx *context.Context, inputs []*Node) []*Node {
		return m.Reconstruct(ctx, inputs[:3], inputs[3])
	})
	outputs := exec.MustExec(channels[0], channels[1], channels[2], keep)
	require.Len(t, outputs, 3)
	for _, output := range outputs {
		assert.Equal(t, []int{10, 4}, output.Shape().Dimensions)
	}

	dropout, err := m.Dropout(ctx)
	require.NoError(t, err)
	require.Len(t, dropout, 5)
	for _, p := range dropout {
		// log α is initialized close to 0, so α/(1+α) is close to 0.5.
		assert.InDelta(t, 0.5, p, 0.05)
	}

	weights, err := m.MeanWeights(ctx, 2)
	require.NoError(t, err)
	require.Len(t, weights, 4)
	assert.Len(t, weights[0], 5)
	_, err = m.MeanWeights(ctx, 3)
	require.Error(t, err)

	dense, err := NewFromContext(newTestContext(t, false), "mcvae")
	require.NoError(t, err)
	_, err = dense.Dropout(ctx)
	require.Error(t, err)
}

// Inference graphs only read the mean heads, so they must run on a built model without touching
// log α or the log-variances.
func TestMCVAEEncodeMeans(t *testing.T) {
	backend := newTestBackend(t)
	for _, sparse := range []bool{false, true} {
		ctx := newTestContext(t, sparse)
		m, err := NewFromContext(ctx, "mcvae")
		require.NoError(t, err)
		channels := randomChannels(3, 6, 4)
		lossesExec(backend, ctx, m).MustExec(channels[0], channels[1], channels[2])

		ctx = ctx.Reuse()
		locs := context.MustNewExec(backend, ctx, func(ctx *context.Context, inputs []*Node) []*Node {
			posteriors := m.Encode(ctx, inputs)
			outputs := make([]*Node, 0, 2*len(posteriors))
			for _, q := range posteriors {
				outputs = append(outputs, q.Loc, q.Scale)
			}
			return outputs
		}).MustExec(channels[0], channels[1], channels[2])
		means := context.MustNewExec(backend, ctx, func(ctx *context.Context, inputs []*Node) []*Node {
			return m.EncodeMeans(ctx, inputs)
		}).MustExec(channels[0], channels[1], channels[2])
		require.Len(t, means, 3)
		for c, mean := range means {
			assert.Equal(t, []int{6, 5}, mean.Shape().Dimensions)
			want := locs[2*c].Value().([][]float32)
			got := mean.Value().([][]float32)
			for ii := range want {
				assert.InDeltaSlice(t, want[ii], got[ii], 1e-5, "sparse=%v channel=%d", sparse, c)
			}
		}
	}
}

func TestSparseKL(t *testing.T) {
	backend := newTestBackend(t)
	loc := []float64{0.5, -1, 2}
	logAlpha := []float64{-2, 0, 3}
	ctx := context.New()
	exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, inputs []*Node) []*Node {
		loc, logAlpha := inputs[0], inputs[1]
		logVar := Add(logAlpha, Log(AddScalar(Square(loc), SparseEpsilon)))
		return []*Node{sparseKL(distributions.NewNormalFromLogVar(loc, logVar))}
	})
	got := exec.MustExec(loc, logAlpha)[0].Value().([]float64)
	for ii, la := range logAlpha {
		want := -(sparseK1/(1+math.Exp(-(sparseK2+sparseK3*la))) - 0.5*math.Log1p(math.Exp(-la)) - sparseK1)
		assert.InDelta(t, want, got[ii], 1e-5, "logAlpha=%g", la)
	}
	// The KL shrinks as log α grows: dimensions with large dropout cost nothing.
	assert.Greater(t, got[0], got[2])
}

func TestDropoutAndThreshold(t *testing.T) {
	dropout := DropoutFromLogAlpha([]float32{0, -3, 3})
	assert.InDelta(t, 0.5, dropout[0], 1e-6)
	assert.InDelta(t, 1/(1+math.Exp(3)), dropout[1], 1e-6)
	assert.InDelta(t, 1/(1+math.Exp(-3)), dropout[2], 1e-6)

	kept := KeptDimensions([]float32{0.1, 0.9, 0.19, 0.2}, 0.2)
	assert.Equal(t, []int{0, 2}, kept)

	latents := [][][]float32{
		{{1, 2, 3, 4}, {5, 6, 7, 8}},
		{{-1, -2, -3, -4}, {-5, -6, -7, -8}},
	}
	thresholded := ApplyThreshold(latents, []float32{0.1, 0.9, 0.19, 0.2}, 0.2)
	assert.Equal(t, [][][]float32{
		{{1, 3}, {5, 7}},
		{{-1, -3}, {-5, -7}},
	}, thresholded)
}

func TestVanillaNet(t *testing.T) {
	backend := newTestBackend(t)
	ctx := newTestContext(t, false)
	ctx.SetParam(models.ParamNumFeatures, 6)
	m, err := NewVanillaNet(ctx, "vanillanet")
	require.NoError(t, err)
	assert.Equal(t, 1, m.NumChannels())
	channels := randomChannels(1, 8, 6)
	outputs := lossesExec(backend, ctx, m).MustExec(channels[0])
	total := tensors.ToScalar[float32](outputs[0])
	kl := tensors.ToScalar[float32](outputs[1])
	ll := tensors.ToScalar[float32](outputs[2])
	assert.InDelta(t, kl-ll, total, 1e-3)
	assert.GreaterOrEqual(t, kl, float32(0))

	_, err = NewVanillaNet(context.New(), "vanillanet")
	require.Error(t, err)
}
