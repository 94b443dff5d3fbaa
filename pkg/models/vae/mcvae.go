// Copyright 2019-2026 The pynet Authors. SPDX-License-Identifier: CECILL-B

// Package vae implements variational autoencoders over dense inputs: the multi-channel VAE
// (MCVAE, Antelmi et al. 2019), its sparse variant, and a single channel VAE.
//
// Each channel c has its own encoder q(z|x_c) and its own decoder p(x_c|z). The MCVAE decodes
// every encoded channel into every channel, and its loss is the negative evidence lower bound
// summed over all pairs:
//
//	Total = β·Σ_c KL(q(z|x_c) || prior) - Σ_i Σ_j E[log p(x_j | z_i)]
//
// The sparse variant shares one log α per latent dimension across channels and uses a log-uniform
// prior, so that unused latent dimensions get a dropout probability α/(1+α) close to 1.
//
// Variables live under the model name scope:
//
//	/<name>/encoder_<c>/[hidden_<i>/]mu/{weights,biases}
//	/<name>/encoder_<c>/[hidden_<i>/]logvar/{weights,biases}   (non-sparse only)
//	/<name>/decoder_<c>/[hidden_<i>/]mu/{weights,biases}
//	/<name>/decoder_<c>/x_logvar
//	/<name>/log_alpha                                          (sparse only)
package vae

import (
	"slices"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/support/exceptions"
	"github.com/neurospin/pynet/pkg/models"
	"github.com/neurospin/pynet/pkg/models/distributions"
	"github.com/pkg/errors"
)

const (
	// ParamBeta is the context parameter weighting the KL term of the loss. Default is 1.0.
	ParamBeta = "beta"

	// ParamSparse is the context parameter selecting the sparse variant. Default is false.
	ParamSparse = "sparse"

	// ParamNoiseInitLogVar is the initial value of the decoders log-variance. Default is -3.
	ParamNoiseInitLogVar = "noise_init_logvar"

	// ParamNoiseFixed freezes the decoders log-variance at its initial value. Default is false.
	ParamNoiseFixed = "noise_fixed"

	// ParamVAEModel selects the per-channel encoder/decoder. Only "dense" is supported.
	ParamVAEModel = "vae_model"

	// ParamHiddenDims lists the sizes of the hidden layers of encoders (decoders use it reversed).
	// Default is none: encoders and decoders are a single linear layer.
	ParamHiddenDims = "vae_hidden_dims"

	// ParamActivation is the activation used after hidden layers. Default is "relu".
	ParamActivation = "vae_activation"

	// ParamDropoutThreshold is the dropout probability above which a latent dimension of a
	// sparse model is considered unused. Default is 0.2.
	ParamDropoutThreshold = "dropout_threshold"
)

const (
	// LogAlphaVariableName is the variable of the sparse model holding log α, shaped [1, latentDim].
	LogAlphaVariableName = "log_alpha"

	// NoiseLogVarVariableName is the per-decoder log-variance of p(x|z), shaped [1, numFeatures].
	NoiseLogVarVariableName = "x_logvar"

	// DenseVAEModel is the only supported ParamVAEModel.
	DenseVAEModel = "dense"
)

// Config of an MCVAE.
type Config struct {
	Name            string
	LatentDim       int
	NumFeatures     []int // One entry per channel.
	Sparse          bool
	Beta            float64
	NoiseInitLogVar float64
	NoiseFixed      bool
	HiddenDims      []int
	Activation      activations.Type
}

// ConfigFromContext reads the configuration from the context parameters.
// The number of channels comes from models.ParamNumChannels.
func ConfigFromContext(ctx *context.Context, name string) (cfg Config, err error) {
	err = exceptions.TryCatch[error](func() {
		numChannels := context.GetParamOr(ctx, models.ParamNumChannels, 0)
		cfg = Config{
			Name:            name,
			LatentDim:       context.GetParamOr(ctx, models.ParamLatentDim, 0),
			NumFeatures:     models.NumFeaturesFromContext(ctx, numChannels),
			Sparse:          context.GetParamOr(ctx, ParamSparse, false),
			Beta:            context.GetParamOr(ctx, ParamBeta, 1.0),
			NoiseInitLogVar: context.GetParamOr(ctx, ParamNoiseInitLogVar, -3.0),
			NoiseFixed:      context.GetParamOr(ctx, ParamNoiseFixed, false),
			Activation:      activations.TypeRelu,
		}
		if hidden, found := ctx.GetParam(ParamHiddenDims); found && hidden != nil {
			cfg.HiddenDims = models.IntsFromParam(hidden)
			if cfg.HiddenDims == nil {
				exceptions.Panicf("invalid %q=%v: it must be a list of ints", ParamHiddenDims, hidden)
			}
		}
		if numChannels > 0 && len(cfg.NumFeatures) != numChannels {
			exceptions.Panicf("%q=%v doesn't match %q=%d", models.ParamNumFeatures,
				context.GetParamOr[any](ctx, models.ParamNumFeatures, nil), models.ParamNumChannels, numChannels)
		}
		if vaeModel := context.GetParamOr(ctx, ParamVAEModel, DenseVAEModel); vaeModel != DenseVAEModel {
			exceptions.Panicf("%q=%q not supported, only %q is", ParamVAEModel, vaeModel, DenseVAEModel)
		}
		activationName := context.GetParamOr(ctx, ParamActivation, "relu")
		var activationErr error
		cfg.Activation, activationErr = activations.TypeString(activationName)
		if activationErr != nil {
			exceptions.Panicf("invalid %q=%q: %v", ParamActivation, activationName, activationErr)
		}
	})
	if err != nil {
		err = errors.WithMessagef(err, "configuring model %q", name)
	}
	return
}

// MCVAE is the multi-channel variational autoencoder. It implements models.Model.
type MCVAE struct {
	cfg Config
}

var _ models.Model = (*MCVAE)(nil)

// NewMCVAE validates the configuration and returns the model. No variables are created
// until the model is used in a graph.
func NewMCVAE(cfg Config) (*MCVAE, error) {
	if cfg.Name == "" {
		return nil, errors.New("MCVAE requires a name, used as its variables scope")
	}
	if cfg.LatentDim <= 0 {
		return nil, errors.Errorf("model %q: %s must be > 0, got %d", cfg.Name, models.ParamLatentDim, cfg.LatentDim)
	}
	if len(cfg.NumFeatures) == 0 {
		return nil, errors.Errorf("model %q: at least one channel is required (see %q and %q)",
			cfg.Name, models.ParamNumChannels, models.ParamNumFeatures)
	}
	for c, numFeats := range cfg.NumFeatures {
		if numFeats <= 0 {
			return nil, errors.Errorf("model %q: channel #%d has %d features", cfg.Name, c, numFeats)
		}
	}
	for _, dim := range cfg.HiddenDims {
		if dim <= 0 {
			return nil, errors.Errorf("model %q: invalid hidden layer dimensions %v", cfg.Name, cfg.HiddenDims)
		}
	}
	cfg.NumFeatures = slices.Clone(cfg.NumFeatures)
	cfg.HiddenDims = slices.Clone(cfg.HiddenDims)
	return &MCVAE{cfg: cfg}, nil
}

// NewFromContext creates an MCVAE configured by the context parameters.
func NewFromContext(ctx *context.Context, name string) (*MCVAE, error) {
	cfg, err := ConfigFromContext(ctx, name)
	if err != nil {
		return nil, err
	}
	return NewMCVAE(cfg)
}

// Name implements models.Model.
func (m *MCVAE) Name() string { return m.cfg.Name }

// Scope implements models.Model.
func (m *MCVAE) Scope() string { return m.cfg.Name }

// NumChannels implements models.Model.
func (m *MCVAE) NumChannels() int { return len(m.cfg.NumFeatures) }

// NumFeatures implements models.Model.
func (m *MCVAE) NumFeatures() []int { return slices.Clone(m.cfg.NumFeatures) }

// LatentDim is the number of latent dimensions fitted.
func (m *MCVAE) LatentDim() int { return m.cfg.LatentDim }

// Sparse returns whether this is the sparse variant.
func (m *MCVAE) Sparse() bool { return m.cfg.Sparse }

// Config returns a copy of the model configuration.
func (m *MCVAE) Config() Config {
	cfg := m.cfg
	cfg.NumFeatures = slices.Clone(cfg.NumFeatures)
	cfg.HiddenDims = slices.Clone(cfg.HiddenDims)
	return cfg
}

// String implements fmt.Stringer.
func (m *MCVAE) String() string {
	kind := "MCVAE"
	if m.cfg.Sparse {
		kind = "sparse MCVAE"
	}
	return kind + "(" + m.cfg.Name + ")"
}

func (m *MCVAE) checkInputs(inputs []*Node) {
	if len(inputs) != m.NumChannels() {
		exceptions.Panicf("model %q expects %d channels, got %d inputs", m.cfg.Name, m.NumChannels(), len(inputs))
	}
	for c, x := range inputs {
		if x.Shape().Rank() != 2 || x.Shape().Dim(1) != m.cfg.NumFeatures[c] {
			exceptions.Panicf("model %q channel #%d: expected shape [batchSize, %d], got %s",
				m.cfg.Name, c, m.cfg.NumFeatures[c], x.Shape())
		}
		if c > 0 && x.Shape().Dim(0) != inputs[0].Shape().Dim(0) {
			exceptions.Panicf("model %q: all channels must have the same batch size, got %s and %s",
				m.cfg.Name, inputs[0].Shape(), x.Shape())
		}
	}
}

// logAlphaGraph returns the shared log α of the sparse model, shaped [1, latentDim].
func (m *MCVAE) logAlphaGraph(modelCtx *context.Context, g *Graph, dtype dtypes.DType) *Node {
	ctx := modelCtx.WithInitializer(initializers.RandomNormalFn(modelCtx, 0.01))
	return ctx.VariableWithShape(LogAlphaVariableName, shapes.Make(dtype, 1, m.cfg.LatentDim)).ValueGraph(g)
}

// encodeMean returns the hidden representation of x and the posterior mean of the channel.
func (m *MCVAE) encodeMean(modelCtx *context.Context, x *Node, channel int) (h, mu *Node) {
	encoderCtx := modelCtx.Inf("encoder_%d", channel)
	h = hiddenStack(encoderCtx, x, m.cfg.HiddenDims, m.cfg.Activation)
	mu = linear(encoderCtx.In("mu"), h, m.cfg.LatentDim)
	return h, mu
}

// Encode returns the posterior q(z|x_c) of each channel.
func (m *MCVAE) Encode(ctx *context.Context, inputs []*Node) []distributions.Normal {
	m.checkInputs(inputs)
	modelCtx := ctx.In(m.Scope())
	var logAlpha *Node
	if m.cfg.Sparse {
		logAlpha = m.logAlphaGraph(modelCtx, inputs[0].Graph(), inputs[0].DType())
	}
	posteriors := make([]distributions.Normal, len(inputs))
	for c, x := range inputs {
		h, mu := m.encodeMean(modelCtx, x, c)
		var logVar *Node
		if m.cfg.Sparse {
			logVar = Add(logAlpha, Log(AddScalar(Square(mu), SparseEpsilon)))
		} else {
			logVar = linear(modelCtx.Inf("encoder_%d", c).In("logvar"), h, m.cfg.LatentDim)
		}
		posteriors[c] = distributions.NewNormalFromLogVar(mu, logVar)
	}
	return posteriors
}

// EncodeMeans returns the posterior mean of each channel, shaped [batchSize, latentDim].
// Only the mean heads of the encoders are read: log α and the log-variance heads are left out
// of the graph.
func (m *MCVAE) EncodeMeans(ctx *context.Context, inputs []*Node) []*Node {
	m.checkInputs(inputs)
	modelCtx := ctx.In(m.Scope())
	means := make([]*Node, len(inputs))
	for c, x := range inputs {
		_, means[c] = m.encodeMean(modelCtx, x, c)
	}
	return means
}

// Sample draws z from each posterior when training (reparameterized), or returns the posterior means otherwise.
func (m *MCVAE) Sample(ctx *context.Context, posteriors []distributions.Normal) []*Node {
	zs := make([]*Node, len(posteriors))
	for c, q := range posteriors {
		if ctx.IsTraining(q.Loc.Graph()) {
			zs[c] = q.RSample(ctx)
		} else {
			zs[c] = q.Loc
		}
	}
	return zs
}

// decoderHiddenDims returns the hidden layer dimensions of the decoders.
func (m *MCVAE) decoderHiddenDims() []int {
	dims := slices.Clone(m.cfg.HiddenDims)
	slices.Reverse(dims)
	return dims
}

// decodeMean returns the mean of p(x_channel | z) for z shaped [n, latentDim].
func (m *MCVAE) decodeMean(modelCtx *context.Context, z *Node, channel int) *Node {
	decoderCtx := modelCtx.Inf("decoder_%d", channel)
	h := hiddenStack(decoderCtx, z, m.decoderHiddenDims(), m.cfg.Activation)
	return linear(decoderCtx.In("mu"), h, m.cfg.NumFeatures[channel])
}

// decodeChannel returns p(x_channel | z) for z shaped [n, latentDim].
func (m *MCVAE) decodeChannel(modelCtx *context.Context, z *Node, channel int) distributions.Normal {
	decoderCtx := modelCtx.Inf("decoder_%d", channel)
	numFeats := m.cfg.NumFeatures[channel]
	mu := m.decodeMean(modelCtx, z, channel)

	initValue := make([]float32, numFeats)
	for ii := range initValue {
		initValue[ii] = float32(m.cfg.NoiseInitLogVar)
	}
	logVarVar := decoderCtx.VariableWithValue(NoiseLogVarVariableName, [][]float32{initValue}).
		SetTrainable(!m.cfg.NoiseFixed)
	logVar := logVarVar.ValueGraph(z.Graph())
	if logVar.DType() != mu.DType() {
		logVar = ConvertDType(logVar, mu.DType())
	}
	logVar = BroadcastToDims(logVar, mu.Shape().Dimensions...)
	return distributions.NewNormalFromLogVar(mu, logVar)
}

// stackLatents concatenates zs along the batch axis, so each decoder is built once per graph.
// It returns the stacked latents and a function that slices the rows of the i-th z back out of
// a decoded output.
func (m *MCVAE) stackLatents(zs []*Node) (allZ *Node, rowsOf func(x *Node, i int) *Node) {
	if len(zs) == 0 {
		exceptions.Panicf("model %q: decoding requires at least one latent input", m.cfg.Name)
	}
	if len(zs) == 1 {
		return zs[0], func(x *Node, _ int) *Node { return x }
	}
	batchSize := zs[0].Shape().Dim(0)
	return Concatenate(zs, 0), func(x *Node, i int) *Node {
		return Slice(x, AxisRange(i*batchSize, (i+1)*batchSize))
	}
}

// Decode returns p(x_j | z_i) for every pair: the result is indexed [i][j].
// All zs must have the same shape.
func (m *MCVAE) Decode(ctx *context.Context, zs []*Node) [][]distributions.Normal {
	allZ, rowsOf := m.stackLatents(zs)
	modelCtx := ctx.In(m.Scope())
	likelihoods := make([][]distributions.Normal, len(zs))
	for i := range zs {
		likelihoods[i] = make([]distributions.Normal, m.NumChannels())
	}
	for j := range m.NumChannels() {
		p := m.decodeChannel(modelCtx, allZ, j)
		for i := range zs {
			likelihoods[i][j] = distributions.Normal{Loc: rowsOf(p.Loc, i), Scale: rowsOf(p.Scale, i)}
		}
	}
	return likelihoods
}

// DecodeMeans returns the means of p(x_j | z_i) for every pair, indexed [i][j].
// The decoders log-variances are not read.
func (m *MCVAE) DecodeMeans(ctx *context.Context, zs []*Node) [][]*Node {
	allZ, rowsOf := m.stackLatents(zs)
	modelCtx := ctx.In(m.Scope())
	means := make([][]*Node, len(zs))
	for i := range zs {
		means[i] = make([]*Node, m.NumChannels())
	}
	for j := range m.NumChannels() {
		mu := m.decodeMean(modelCtx, allZ, j)
		for i := range zs {
			means[i][j] = rowsOf(mu, i)
		}
	}
	return means
}

// Losses implements models.Model.
//
// KL is Σ_c mean_batch(Σ_latent KL_c) and LL is Σ_i Σ_j mean_batch(Σ_features log p(x_j | z_i)).
func (m *MCVAE) Losses(ctx *context.Context, inputs []*Node) models.Losses {
	posteriors := m.Encode(ctx, inputs)
	zs := m.Sample(ctx, posteriors)
	likelihoods := m.Decode(ctx, zs)

	var kl, ll *Node
	for _, q := range posteriors {
		var klC *Node
		if m.cfg.Sparse {
			klC = sparseKL(q)
		} else {
			klC = q.KLStandardNormal()
		}
		klC = ReduceAllMean(ReduceSum(klC, 1))
		if kl == nil {
			kl = klC
		} else {
			kl = Add(kl, klC)
		}
	}
	for i := range likelihoods {
		for j, p := range likelihoods[i] {
			llIJ := ReduceAllMean(ReduceSum(p.LogProb(inputs[j]), 1))
			if ll == nil {
				ll = llIJ
			} else {
				ll = Add(ll, llIJ)
			}
		}
	}
	total := Sub(MulScalar(kl, m.cfg.Beta), ll)
	return models.Losses{Total: total, KL: kl, LL: ll}
}

// Reconstruct returns, for each channel j, the mean over encoded channels i of the decoded
// means of p(x_j | z_i), with z_i the posterior means.
//
// If keep is not nil, it must be shaped [latentDim], with 1 for the latent dimensions to use
// and 0 for the dropped ones (see KeptDimensions).
func (m *MCVAE) Reconstruct(ctx *context.Context, inputs []*Node, keep *Node) []*Node {
	zs := m.EncodeMeans(ctx, inputs)
	if keep != nil {
		for c, z := range zs {
			zs[c] = Mul(z, ExpandAxes(ConvertDType(keep, z.DType()), 0))
		}
	}
	decoded := m.DecodeMeans(ctx, zs)
	reconstructions := make([]*Node, m.NumChannels())
	for j := range reconstructions {
		var sum *Node
		for i := range decoded {
			if sum == nil {
				sum = decoded[i][j]
			} else {
				sum = Add(sum, decoded[i][j])
			}
		}
		reconstructions[j] = DivScalar(sum, float64(len(decoded)))
	}
	return reconstructions
}

// DropoutGraph returns α/(1+α) for each latent dimension of a sparse model, shaped [latentDim].
func (m *MCVAE) DropoutGraph(ctx *context.Context, g *Graph, dtype dtypes.DType) *Node {
	if !m.cfg.Sparse {
		exceptions.Panicf("model %q is not sparse, it has no dropout", m.cfg.Name)
	}
	logAlpha := m.logAlphaGraph(ctx.In(m.Scope()), g, dtype)
	return Sigmoid(Reshape(logAlpha, m.cfg.LatentDim))
}

// Dropout reads the dropout probabilities of a sparse model from its log α variable.
// The model must have been built (trained or loaded from a checkpoint) with ctx.
func (m *MCVAE) Dropout(ctx *context.Context) ([]float32, error) {
	if !m.cfg.Sparse {
		return nil, errors.Errorf("model %q is not sparse, it has no dropout", m.cfg.Name)
	}
	logAlpha, err := readVariable(ctx.In(m.Scope()), LogAlphaVariableName)
	if err != nil {
		return nil, err
	}
	return DropoutFromLogAlpha(logAlpha), nil
}

// MeanWeights returns the weights of the layer producing the posterior mean of the given channel,
// shaped [inputDim][latentDim]. These are the generative parameters θ_c of the model.
func (m *MCVAE) MeanWeights(ctx *context.Context, channel int) ([][]float32, error) {
	if channel < 0 || channel >= m.NumChannels() {
		return nil, errors.Errorf("model %q has %d channels, channel %d requested", m.cfg.Name, m.NumChannels(), channel)
	}
	layerCtx := ctx.In(m.Scope()).Inf("encoder_%d", channel).In("mu")
	flat, err := readVariable(layerCtx, WeightsVariableName)
	if err != nil {
		return nil, err
	}
	latentDim := m.cfg.LatentDim
	rows := make([][]float32, len(flat)/latentDim)
	for ii := range rows {
		rows[ii] = flat[ii*latentDim : (ii+1)*latentDim]
	}
	return rows, nil
}

// readVariable returns a copy of the flat float32 values of the variable name in the scope of ctx.
func readVariable(ctx *context.Context, name string) ([]float32, error) {
	v := ctx.GetVariable(name)
	if v == nil {
		return nil, errors.Errorf("variable %q not found in scope %q: the model hasn't been built yet", name, ctx.Scope())
	}
	value, err := v.Value()
	if err != nil {
		return nil, errors.WithMessagef(err, "reading variable %q", v.ScopeAndName())
	}
	var flat []float32
	err = exceptions.TryCatch[error](func() { flat = tensors.MustCopyFlatData[float32](value) })
	if err != nil {
		return nil, errors.WithMessagef(err, "reading variable %q", v.ScopeAndName())
	}
	return flat, nil
}
