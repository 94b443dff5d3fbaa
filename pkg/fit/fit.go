// Copyright 2019-2026 The pynet Authors. SPDX-License-Identifier: CECILL-B

// Package fit trains a models.Model for a number of epochs, each one made of a training phase
// followed by an optional validation phase.
//
// The weights with the lowest validation loss are kept in memory, and restored into the
// context when training ends:
//
//	trainer := fit.New(backend, ctx, model, optimizers.Adam().LearningRate(2e-3).Done())
//	history, err := trainer.Fit(trainDS, valDS, 5000)
package fit

import (
	"io"
	"time"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/pkg/support/exceptions"
	"github.com/neurospin/pynet/pkg/models"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DefaultLogEvery is the default number of epochs between logged epochs.
const DefaultLogEvery = 10

// OnEpochFn is called at the end of every phase. Returning an error interrupts training.
type OnEpochFn func(stats EpochStats) error

// Trainer fits a model, see New.
type Trainer struct {
	backend   backends.Backend
	ctx       *context.Context
	model     models.Model
	optimizer optimizers.Interface

	scheduler   *PlateauScheduler
	logEvery    int
	progressBar bool
	checkpoint  *checkpoints.Handler
	onEpoch     []OnEpochFn

	trainExec, evalExec *context.Exec
}

// New creates a Trainer of model, whose variables are stored in ctx.In(model.Scope()).
// The optimizer variables are stored in ctx too.
func New(backend backends.Backend, ctx *context.Context, model models.Model, optimizer optimizers.Interface) *Trainer {
	return &Trainer{
		backend:   backend,
		ctx:       ctx,
		model:     model,
		optimizer: optimizer,
		logEvery:  DefaultLogEvery,
	}
}

// WithScheduler steps the scheduler with the training loss at the end of every training phase.
func (t *Trainer) WithScheduler(scheduler *PlateauScheduler) *Trainer {
	t.scheduler = scheduler
	return t
}

// LogEvery sets the number of epochs between logged epochs. 0 disables logging.
func (t *Trainer) LogEvery(numEpochs int) *Trainer {
	t.logEvery = numEpochs
	return t
}

// WithProgressBar displays a progress bar on the terminal during Fit.
func (t *Trainer) WithProgressBar(enabled bool) *Trainer {
	t.progressBar = enabled
	return t
}

// WithCheckpoint saves a checkpoint every time the validation loss improves, and once more at the end
// of training, after the best weights are restored.
func (t *Trainer) WithCheckpoint(handler *checkpoints.Handler) *Trainer {
	t.checkpoint = handler
	return t
}

// OnEpoch registers fn to be called at the end of every phase.
func (t *Trainer) OnEpoch(fn OnEpochFn) *Trainer {
	t.onEpoch = append(t.onEpoch, fn)
	return t
}

// Context used by the trainer.
func (t *Trainer) Context() *context.Context { return t.ctx }

// Model being trained.
func (t *Trainer) Model() models.Model { return t.model }

// modelBuilt returns whether the graph functions should reuse existing variables.
func (t *Trainer) modelBuilt() bool {
	for range t.ctx.In(t.model.Scope()).IterVariablesInScope() {
		return true
	}
	return optimizers.GetGlobalStep(t.ctx) > 0
}

func (t *Trainer) lossesGraph(ctx *context.Context, inputs []*graph.Node, training bool) []*graph.Node {
	if t.modelBuilt() {
		ctx = ctx.Reuse()
	}
	g := inputs[0].Graph()
	ctx.SetTraining(g, training)
	losses := t.model.Losses(ctx, inputs)
	if training {
		t.optimizer.UpdateGraph(ctx, g, losses.Total)
	}
	return []*graph.Node{losses.Total, losses.KL, losses.LL}
}

func (t *Trainer) buildExecs() error {
	if t.trainExec != nil {
		return nil
	}
	var err error
	t.trainExec, err = context.NewExec(t.backend, t.ctx, func(ctx *context.Context, inputs []*graph.Node) []*graph.Node {
		return t.lossesGraph(ctx, inputs, true)
	})
	if err != nil {
		return errors.WithMessage(err, "creating training executor")
	}
	t.evalExec, err = context.NewExec(t.backend, t.ctx, func(ctx *context.Context, inputs []*graph.Node) []*graph.Node {
		return t.lossesGraph(ctx, inputs, false)
	})
	if err != nil {
		return errors.WithMessage(err, "creating evaluation executor")
	}
	return nil
}

// Fit trains the model for numEpochs epochs on trainDS, evaluating it on valDS (if not nil) after
// every training phase.
//
// When valDS is given, the weights with the lowest validation loss are restored at the end.
func (t *Trainer) Fit(trainDS, valDS train.Dataset, numEpochs int) (*History, error) {
	if trainDS == nil {
		return nil, errors.New("Trainer.Fit: training dataset is nil")
	}
	if numEpochs <= 0 {
		return nil, errors.Errorf("Trainer.Fit: numEpochs must be > 0, got %d", numEpochs)
	}
	if err := t.buildExecs(); err != nil {
		return nil, err
	}
	start := time.Now()
	history := newHistory()
	var best *snapshot
	defer func() { best.finalize() }()

	var pBar *progressBar
	if t.progressBar {
		pBar = newProgressBar(numEpochs, valDS != nil)
		defer pBar.done()
	}

	for epoch := range numEpochs {
		stats, err := t.runPhase(t.trainExec, trainDS, PhaseTrain, epoch)
		if err != nil {
			return history, err
		}
		if err = t.endPhase(history, stats, numEpochs); err != nil {
			return history, err
		}
		if t.scheduler != nil {
			if _, err = t.scheduler.Step(t.ctx, stats.Loss); err != nil {
				return history, err
			}
		}

		if valDS != nil {
			stats, err = t.runPhase(t.evalExec, valDS, PhaseValidation, epoch)
			if err != nil {
				return history, err
			}
			if err = t.endPhase(history, stats, numEpochs); err != nil {
				return history, err
			}
			if stats.Loss < history.BestLoss {
				history.BestLoss = stats.Loss
				history.BestEpoch = epoch
				best.finalize()
				if best, err = takeSnapshot(t.ctx.In(t.model.Scope())); err != nil {
					return history, err
				}
				if t.checkpoint != nil {
					if err = t.checkpoint.Save(); err != nil {
						return history, errors.WithMessagef(err, "saving checkpoint of epoch %d", epoch)
					}
				}
			}
		}
		history.BestLossTrace = append(history.BestLossTrace, history.BestLoss)
		if pBar != nil {
			pBar.update(history)
		}
	}

	history.Elapsed = time.Since(start)
	klog.Infof("Training complete in %.0fm %.0fs", history.Elapsed.Truncate(time.Minute).Minutes(),
		(history.Elapsed % time.Minute).Seconds())
	if best != nil {
		klog.Infof("Best val loss: %.4f at epoch %d", history.BestLoss, history.BestEpoch)
		if err := best.restore(t.ctx.In(t.model.Scope())); err != nil {
			return history, err
		}
	}
	if t.checkpoint != nil {
		if err := t.checkpoint.Save(); err != nil {
			return history, errors.WithMessage(err, "saving final checkpoint")
		}
	}
	return history, nil
}

// Evaluate returns the mean losses of the model on ds, in inference mode.
func (t *Trainer) Evaluate(ds train.Dataset) (EpochStats, error) {
	if err := t.buildExecs(); err != nil {
		return EpochStats{}, err
	}
	return t.runPhase(t.evalExec, ds, PhaseValidation, -1)
}

func (t *Trainer) endPhase(history *History, stats EpochStats, numEpochs int) error {
	history.Epochs = append(history.Epochs, stats)
	if t.logEvery > 0 && stats.Epoch%t.logEvery == 0 {
		klog.Infof("===> %s: epoch %d/%d,\t Loss: %.4f,\t KL: %.4f,\t LL: %.4f",
			stats.Phase, stats.Epoch, numEpochs-1, stats.Loss, stats.KL, stats.LL)
	}
	for _, fn := range t.onEpoch {
		if err := fn(stats); err != nil {
			return errors.WithMessagef(err, "%s phase of epoch %d", stats.Phase, stats.Epoch)
		}
	}
	return nil
}

// runPhase runs exec over all the batches of one epoch of ds.
func (t *Trainer) runPhase(exec *context.Exec, ds train.Dataset, phase Phase, epoch int) (EpochStats, error) {
	stats := EpochStats{Epoch: epoch, Phase: phase}
	start := time.Now()
	ds.Reset()
	var sumLoss, sumKL, sumLL float64
	for {
		_, inputs, _, err := ds.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			return stats, errors.WithMessagef(err, "reading dataset %q", ds.Name())
		}
		if len(inputs) == 0 {
			return stats, errors.Errorf("dataset %q yielded no inputs", ds.Name())
		}
		batchSize := inputs[0].Shape().Dim(0)
		args := make([]any, len(inputs))
		for ii, input := range inputs {
			args[ii] = input
		}
		var outputs []*tensors.Tensor
		err = exceptions.TryCatch[error](func() { outputs = exec.MustExec(args...) })
		for _, input := range inputs {
			_ = input.FinalizeAll()
		}
		if err != nil {
			return stats, errors.WithMessagef(err, "%s phase of epoch %d", phase, epoch)
		}
		values := make([]float64, len(outputs))
		for ii, output := range outputs {
			values[ii], err = scalarValue(output)
			_ = output.FinalizeAll()
			if err != nil {
				return stats, errors.WithMessagef(err, "%s phase of epoch %d", phase, epoch)
			}
		}
		weight := float64(batchSize)
		sumLoss += values[0] * weight
		sumKL += values[1] * weight
		sumLL += values[2] * weight
		stats.NumSamples += batchSize
	}
	if stats.NumSamples == 0 {
		return stats, errors.Errorf("dataset %q is empty", ds.Name())
	}
	numSamples := float64(stats.NumSamples)
	stats.Loss = sumLoss / numSamples
	stats.KL = sumKL / numSamples
	stats.LL = sumLL / numSamples
	stats.Duration = time.Since(start)
	return stats, nil
}
