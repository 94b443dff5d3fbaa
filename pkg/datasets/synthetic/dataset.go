// Copyright 2019-2026 The pynet Authors. SPDX-License-Identifier: CECILL-B

package synthetic

import (
	"fmt"
	"io"
	"math/rand/v2"
	"slices"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

// Seeds of the latent samples of each split.
const (
	TrainLatentSeed      = 7
	ValidationLatentSeed = 14
)

// Config of a synthetic Dataset.
type Config struct {
	NumSamples  int
	LatentDim   int // True number of latent dimensions.
	NumFeats    int
	NumChannels int

	// SNR is the signal-to-noise ratio of the added noise.
	SNR float64

	// Train selects the latent samples of the training split, otherwise the validation ones.
	Train bool

	// BatchSize of the yielded batches. The last batch of an epoch may be smaller.
	BatchSize int

	// Shuffle the samples at every epoch.
	Shuffle bool

	// Noisy selects whether the noisy channels are yielded, otherwise the standardized noiseless
	// ones are. The noisy channels remain available with NoisyChannels.
	Noisy bool

	// GeneratorSeed seeds the generator weights. Zero means DefaultGeneratorSeed.
	GeneratorSeed uint64
}

// DefaultConfig returns the configuration of the MCVAE example training split.
func DefaultConfig() Config {
	return Config{
		NumSamples:  500,
		LatentDim:   2,
		NumFeats:    4,
		NumChannels: 3,
		SNR:         10,
		Train:       true,
		BatchSize:   500,
		Shuffle:     true,
		Noisy:       false,
	}
}

// Dataset of synthetic multi-channel data. It implements train.Dataset, yielding one float32 tensor
// per channel, shaped [batchSize, numFeats], and no labels.
type Dataset struct {
	name      string
	cfg       Config
	generator *Generator
	latent    *mat.Dense
	clean     []*mat.Dense
	noisy     []*mat.Dense

	// flat holds the yielded channels in row-major order.
	flat [][]float32

	order   []int
	next    int
	shuffle *rand.Rand
}

var _ train.Dataset = (*Dataset)(nil)

// NewDataset creates the dataset, generating all the data upfront.
func NewDataset(name string, cfg Config) (*Dataset, error) {
	if cfg.NumSamples <= 0 {
		return nil, errors.Errorf("dataset %q: NumSamples must be > 0, got %d", name, cfg.NumSamples)
	}
	if cfg.BatchSize <= 0 {
		return nil, errors.Errorf("dataset %q: BatchSize must be > 0, got %d", name, cfg.BatchSize)
	}
	generatorSeed := cfg.GeneratorSeed
	if generatorSeed == 0 {
		generatorSeed = DefaultGeneratorSeed
	}
	generator, err := NewGenerator(cfg.LatentDim, cfg.NumChannels, cfg.NumFeats, generatorSeed)
	if err != nil {
		return nil, errors.WithMessagef(err, "dataset %q", name)
	}
	latentSeed := uint64(ValidationLatentSeed)
	if cfg.Train {
		latentSeed = TrainLatentSeed
	}
	ds := &Dataset{
		name:      name,
		cfg:       cfg,
		generator: generator,
		latent:    SampleLatent(cfg.NumSamples, cfg.LatentDim, latentSeed),
		shuffle:   newRand(latentSeed),
	}
	ds.clean, ds.noisy, err = PreprocessAndAddNoise(generator.Project(ds.latent), []float64{cfg.SNR}, 0)
	if err != nil {
		return nil, errors.WithMessagef(err, "dataset %q", name)
	}
	yielded := ds.clean
	if cfg.Noisy {
		yielded = ds.noisy
	}
	ds.flat = make([][]float32, cfg.NumChannels)
	for c, x := range yielded {
		ds.flat[c] = make([]float32, 0, cfg.NumSamples*cfg.NumFeats)
		for _, value := range x.RawMatrix().Data {
			ds.flat[c] = append(ds.flat[c], float32(value))
		}
	}
	ds.order = make([]int, cfg.NumSamples)
	for ii := range ds.order {
		ds.order[ii] = ii
	}
	ds.Reset()
	klog.V(1).Infof("dataset %q: %d samples, %d channels of %d features, SNR=%g", name,
		cfg.NumSamples, cfg.NumChannels, cfg.NumFeats, cfg.SNR)
	return ds, nil
}

// Name implements train.Dataset.
func (ds *Dataset) Name() string { return ds.name }

// String implements fmt.Stringer.
func (ds *Dataset) String() string {
	return fmt.Sprintf("synthetic.Dataset(%q, shape=%v, snr=%g)", ds.name, []int{ds.cfg.NumSamples, ds.cfg.NumChannels}, ds.cfg.SNR)
}

// Reset implements train.Dataset. It starts a new epoch, reshuffling the samples if configured.
func (ds *Dataset) Reset() {
	ds.next = 0
	if ds.cfg.Shuffle {
		ds.shuffle.Shuffle(len(ds.order), func(i, j int) {
			ds.order[i], ds.order[j] = ds.order[j], ds.order[i]
		})
	}
}

// Yield implements train.Dataset.
func (ds *Dataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	if ds.next >= ds.cfg.NumSamples {
		return nil, nil, nil, io.EOF
	}
	batchSize := min(ds.cfg.BatchSize, ds.cfg.NumSamples-ds.next)
	indices := ds.order[ds.next : ds.next+batchSize]
	ds.next += batchSize
	numFeats := ds.cfg.NumFeats
	inputs = make([]*tensors.Tensor, ds.cfg.NumChannels)
	for c, flat := range ds.flat {
		batch := make([]float32, 0, batchSize*numFeats)
		for _, idx := range indices {
			batch = append(batch, flat[idx*numFeats:(idx+1)*numFeats]...)
		}
		inputs[c] = tensors.FromFlatDataAndDimensions(batch, batchSize, numFeats)
	}
	return nil, inputs, nil, nil
}

// Len returns the number of samples.
func (ds *Dataset) Len() int { return ds.cfg.NumSamples }

// Shape returns (numSamples, numChannels).
func (ds *Dataset) Shape() (numSamples, numChannels int) {
	return ds.cfg.NumSamples, ds.cfg.NumChannels
}

// Config returns the dataset configuration.
func (ds *Dataset) Config() Config { return ds.cfg }

// Generator used to create the data.
func (ds *Dataset) Generator() *Generator { return ds.generator }

// Latent returns the latent samples, shaped [numSamples, latentDim].
func (ds *Dataset) Latent() *mat.Dense { return mat.DenseCopyOf(ds.latent) }

// Channels returns the standardized noiseless channels, each shaped [numSamples, numFeats].
func (ds *Dataset) Channels() []*mat.Dense { return copyAll(ds.clean) }

// NoisyChannels returns the standardized channels with added noise.
func (ds *Dataset) NoisyChannels() []*mat.Dense { return copyAll(ds.noisy) }

// All returns the yielded channels of all samples, in their original order, as [numSamples][numFeats]
// float32 matrices.
func (ds *Dataset) All() [][][]float32 {
	numFeats := ds.cfg.NumFeats
	channels := make([][][]float32, len(ds.flat))
	for c, flat := range ds.flat {
		channels[c] = make([][]float32, ds.cfg.NumSamples)
		for row := range channels[c] {
			channels[c][row] = slices.Clone(flat[row*numFeats : (row+1)*numFeats])
		}
	}
	return channels
}

func copyAll(channels []*mat.Dense) []*mat.Dense {
	copies := make([]*mat.Dense, len(channels))
	for c, x := range channels {
		copies[c] = mat.DenseCopyOf(x)
	}
	return copies
}
