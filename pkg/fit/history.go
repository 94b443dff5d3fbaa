// Copyright 2019-2026 The pynet Authors. SPDX-License-Identifier: CECILL-B

package fit

import (
	"fmt"
	"time"
)

// Phase of an epoch.
type Phase string

const (
	PhaseTrain      Phase = "train"
	PhaseValidation Phase = "val"
)

// InitialBestLoss is the best validation loss before any validation phase ran.
const InitialBestLoss = 1e8

// EpochStats holds the mean losses of one phase of one epoch.
//
// The means are weighted by the batch sizes, so they are per-sample means over the whole phase.
type EpochStats struct {
	Epoch      int
	Phase      Phase
	Loss       float64
	KL         float64
	LL         float64
	NumSamples int
	Duration   time.Duration
}

// String implements fmt.Stringer, in the format used by the training logs.
func (s EpochStats) String() string {
	return fmt.Sprintf("%s: epoch %d,\t Loss: %.4f,\t KL: %.4f,\t LL: %.4f", s.Phase, s.Epoch, s.Loss, s.KL, s.LL)
}

// History of a Trainer.Fit call.
type History struct {
	// Epochs holds the stats of every phase run, in order.
	Epochs []EpochStats

	// BestLoss is the lowest validation loss seen, or InitialBestLoss if none.
	BestLoss float64

	// BestEpoch is the epoch of BestLoss, or -1 if no validation phase improved on InitialBestLoss.
	BestEpoch int

	// BestLossTrace holds the value of BestLoss at the end of each epoch.
	BestLossTrace []float64

	Elapsed time.Duration
}

func newHistory() *History {
	return &History{BestLoss: InitialBestLoss, BestEpoch: -1}
}

// Phase returns the stats of the given phase, in epoch order.
func (h *History) Phase(phase Phase) []EpochStats {
	var stats []EpochStats
	for _, s := range h.Epochs {
		if s.Phase == phase {
			stats = append(stats, s)
		}
	}
	return stats
}

// Losses returns the loss of each epoch of the given phase.
func (h *History) Losses(phase Phase) []float64 {
	stats := h.Phase(phase)
	losses := make([]float64, len(stats))
	for ii, s := range stats {
		losses[ii] = s.Loss
	}
	return losses
}

// Last returns the stats of the last epoch of the given phase, and false if the phase never ran.
func (h *History) Last(phase Phase) (EpochStats, bool) {
	for ii := len(h.Epochs) - 1; ii >= 0; ii-- {
		if h.Epochs[ii].Phase == phase {
			return h.Epochs[ii], true
		}
	}
	return EpochStats{}, false
}
