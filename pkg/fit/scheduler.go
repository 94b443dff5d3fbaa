// Copyright 2019-2026 The pynet Authors. SPDX-License-Identifier: CECILL-B

package fit

import (
	"math"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// PlateauScheduler reduces the learning rate by Factor once the monitored loss stops improving
// for more than Patience epochs.
//
// A loss is an improvement if it is lower than best·(1-Threshold).
type PlateauScheduler struct {
	Factor    float64
	Patience  int
	Threshold float64
	Cooldown  int
	MinLR     float64

	best            float64
	numBadEpochs    int
	cooldownCounter int
}

// NewPlateauScheduler returns a scheduler with factor 0.1, patience 10 and threshold 1e-4.
func NewPlateauScheduler() *PlateauScheduler {
	return &PlateauScheduler{
		Factor:    0.1,
		Patience:  10,
		Threshold: 1e-4,
		best:      math.Inf(1),
	}
}

// minLRDelta is the smallest learning rate change that is applied.
const minLRDelta = 1e-8

// Step records the loss of one epoch, and if needed lowers the learning rate variable created by the
// optimizer in ctx. It returns the learning rate in use for the next epoch.
func (s *PlateauScheduler) Step(ctx *context.Context, loss float64) (learningRate float64, err error) {
	if !(s.Factor > 0 && s.Factor < 1) {
		return 0, errors.Errorf("PlateauScheduler.Factor must be in (0, 1), got %g", s.Factor)
	}
	lrVar := ctx.In(optimizers.Scope).GetVariable(optimizers.ParamLearningRate)
	if lrVar == nil {
		return 0, errors.New("learning rate variable not found, it is created by the optimizer on the first training step")
	}
	value, err := lrVar.Value()
	if err != nil {
		return 0, errors.WithMessage(err, "reading learning rate")
	}
	learningRate, err = scalarValue(value)
	if err != nil {
		return 0, errors.WithMessage(err, "reading learning rate")
	}

	if loss < s.best*(1-s.Threshold) {
		s.best = loss
		s.numBadEpochs = 0
	} else {
		s.numBadEpochs++
	}
	if s.cooldownCounter > 0 {
		s.cooldownCounter--
		s.numBadEpochs = 0
	}
	if s.numBadEpochs <= s.Patience {
		return learningRate, nil
	}

	s.cooldownCounter = s.Cooldown
	s.numBadEpochs = 0
	newLearningRate := max(learningRate*s.Factor, s.MinLR)
	if learningRate-newLearningRate <= minLRDelta {
		return learningRate, nil
	}
	var newValue *tensors.Tensor
	if lrVar.DType() == dtypes.Float64 {
		newValue = tensors.FromScalar(newLearningRate)
	} else {
		newValue = tensors.FromScalar(float32(newLearningRate))
	}
	if err = lrVar.SetValue(newValue); err != nil {
		return 0, errors.WithMessage(err, "setting learning rate")
	}
	klog.V(1).Infof("reducing learning rate from %g to %g", learningRate, newLearningRate)
	return newLearningRate, nil
}

// scalarValue converts a scalar float tensor to float64.
func scalarValue(t *tensors.Tensor) (float64, error) {
	if t.Shape().Rank() != 0 {
		return 0, errors.Errorf("expected a scalar, got shape %s", t.Shape())
	}
	switch v := t.Value().(type) {
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	default:
		return 0, errors.Errorf("expected a float scalar, got %T", v)
	}
}
