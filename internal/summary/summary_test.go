// Copyright 2019-2026 The pynet Authors. SPDX-License-Identifier: CECILL-B

package summary

import (
	"testing"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/neurospin/pynet/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/simplego"
)

func TestRegistry(t *testing.T) {
	table := Registry()
	for _, name := range []string{"vanillanet", "mcvae", "smcvae"} {
		assert.Contains(t, table, name)
	}
}

func TestModelByName(t *testing.T) {
	backend, err := backends.NewWithConfig("go")
	require.NoError(t, err)
	ctx := context.New()
	ctx.SetParams(map[string]any{
		models.ParamLatentDim:   5,
		models.ParamNumChannels: 3,
		models.ParamNumFeatures: 4,
	})
	output, err := ModelByName(backend, ctx, "smcvae")
	require.NoError(t, err)
	assert.Contains(t, output, "sparse MCVAE(smcvae)")
	assert.Contains(t, output, "log_alpha")
	assert.Contains(t, output, "x_logvar")

	// 3 encoders (mu: weights, biases), 3 decoders (mu: weights, biases, plus x_logvar) and log α.
	numVars, numParams, memory := Totals(ctx.In("smcvae"))
	assert.Equal(t, 3*2+3*3+1, numVars)
	assert.Equal(t, 3*(4*5+5)+3*(5*4+4+4)+5, numParams)
	assert.Equal(t, uintptr(4*numParams), memory)

	_, err = ModelByName(backend, ctx, "unknown")
	require.Error(t, err)
}

func TestCheckpoint(t *testing.T) {
	backend, err := backends.NewWithConfig("go")
	require.NoError(t, err)
	ctx := context.New()
	ctx.SetParams(map[string]any{
		models.ParamLatentDim:   2,
		models.ParamNumChannels: 2,
		models.ParamNumFeatures: 3,
	})
	_, err = ModelByName(backend, ctx, "mcvae")
	require.NoError(t, err)
	dir := t.TempDir()
	handler, err := checkpoints.Build(ctx).Dir(dir).Done()
	require.NoError(t, err)
	require.NoError(t, handler.Save())

	output, err := Checkpoint(dir, "/mcvae")
	require.NoError(t, err)
	assert.Contains(t, output, "Hyperparameters")
	assert.Contains(t, output, models.ParamLatentDim)
	assert.Contains(t, output, "encoder_0")
	assert.Contains(t, output, "x_logvar")

	_, err = Checkpoint(t.TempDir(), "")
	require.Error(t, err)
}
