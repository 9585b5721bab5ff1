package vqgo

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/blas/blas32"

	"github.com/hupe1980/vqgo/affine"
	"github.com/hupe1980/vqgo/autograd"
	"github.com/hupe1980/vqgo/codebook"
	"github.com/hupe1980/vqgo/distance"
	"github.com/hupe1980/vqgo/internal/kmeans"
	"github.com/hupe1980/vqgo/replacement"
)

// normEpsilon guards the input normalization against zero vectors.
const normEpsilon = 1e-12

// VectorQuant is a vector quantization layer trained with the
// straight-through estimator.
//
// A VectorQuant is not safe for concurrent Forward calls: every pass updates
// calibration statistics and replacement counters in place.
type VectorQuant struct {
	opts        options
	featureSize int
	numCodes    int

	store      *codebook.Store
	calibrator *affine.Calibrator // nil when calibration is disabled
	policy     replacement.Policy // nil when replacement is disabled
	searcher   distance.Searcher

	rng            *rand.Rand
	initialized    bool
	pendingReplace bool
	calls          int64

	logger  *Logger
	metrics MetricsCollector
}

// New creates a quantizer with numCodes codes of featureSize dimensions.
//
// All parameters are validated eagerly; an invalid value yields a
// *ConfigError wrapping ErrInvalidConfig.
func New(featureSize, numCodes int, optFns ...Option) (*VectorQuant, error) {
	opts := applyOptions(optFns)
	if err := opts.validate(featureSize, numCodes); err != nil {
		return nil, err
	}

	store, err := codebook.New(numCodes, featureSize)
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(opts.seed))
	store.InitNormal(rng, opts.initStd)

	vq := &VectorQuant{
		opts:        opts,
		featureSize: featureSize,
		numCodes:    numCodes,
		store:       store,
		policy:      opts.policy,
		searcher:    opts.searcher,
		rng:         rng,
		initialized: opts.kmeansIters == 0,
		logger:      opts.logger.WithFeatureSize(featureSize).WithCodes(numCodes),
		metrics:     opts.metricsCollector,
	}

	if opts.affineLR > 0 {
		vq.calibrator, err = affine.New(featureSize,
			affine.WithLRScale(opts.affineLR),
			affine.WithRunningStatistics(opts.affineRunningStatistics),
			affine.WithMomentum(opts.affineMomentum),
		)
		if err != nil {
			return nil, err
		}
	}

	if vq.policy == nil && opts.replaceFreq > 0 {
		vq.policy, err = replacement.NewLRU(numCodes, replacement.LRUOptions{
			Period: opts.replaceFreq,
			Rho:    opts.replaceRho,
			Seed:   opts.seed,
		})
		if err != nil {
			return nil, err
		}
	}

	if vq.searcher == nil {
		vq.searcher, err = distance.NewExhaustive(distance.MetricL2)
		if err != nil {
			return nil, err
		}
	}

	return vq, nil
}

// Forward quantizes z, a tensor of shape (B, ..., G*F).
//
// It returns the straight-through output, which has the shape of z and the
// values of the quantized vectors, together with the pass diagnostics.
// When the quantizer is disabled the input is passed through unchanged and
// the diagnostics are empty.
func (vq *VectorQuant) Forward(z *autograd.Tensor) (*autograd.Tensor, *Diagnostics, error) {
	start := time.Now()

	out, diag, err := vq.forward(z)

	vectors := 0
	if diag != nil {
		vectors = len(diag.Q)
	}
	vq.metrics.RecordForward(vectors, time.Since(start), err)

	var loss float32
	if err == nil && diag.Loss != nil {
		loss = diag.Loss.Item()
	}
	vq.logger.LogForward(context.Background(), vectors, loss, err)

	return out, diag, err
}

func (vq *VectorQuant) forward(z *autograd.Tensor) (*autograd.Tensor, *Diagnostics, error) {
	if vq.pendingReplace {
		vq.applyReplacement()
	}
	if vq.opts.codebookNorm == NormL2 {
		vq.store.NormalizeRows()
	}

	grouped, err := vq.prepareInputs(z)
	if err != nil {
		return nil, nil, err
	}

	if !vq.opts.enabled {
		out, err := toOriginalFormat(grouped, z.Shape())
		if err != nil {
			return nil, nil, err
		}
		return out, &Diagnostics{}, nil
	}

	out, diag, err := vq.rawForward(grouped)
	if err != nil {
		return nil, nil, err
	}

	out, err = toOriginalFormat(out, z.Shape())
	if err != nil {
		return nil, nil, err
	}

	vq.calls++
	return out, diag, nil
}

// rawForward quantizes a grouped (B, N, F) input.
func (vq *VectorQuant) rawForward(z *autograd.Tensor) (*autograd.Tensor, *Diagnostics, error) {
	if vq.opts.inputNorm == NormL2 {
		z = autograd.NormalizeRows(z, normEpsilon)
	}

	if !vq.initialized {
		// Stays pending until a batch large enough to seed every code arrives.
		err := vq.InitCodebook(context.Background(), z.Data)
		vq.logger.LogInit(context.Background(), "kmeans", z.Len()/vq.featureSize, err)
		if err != nil {
			return nil, nil, err
		}
	}

	zq, d, q, err := vq.Quantize(vq.store.Weight(), z)
	if err != nil {
		return nil, nil, err
	}

	diag := &Diagnostics{
		Z:     z,
		ZQ:    zq,
		D:     d,
		Q:     q,
		Shape: []int{z.Dim(0), z.Dim(1)},
		Loss:  vq.ComputeLoss(z, zq),
	}

	out := vq.StraightThrough(z, zq)

	if vq.policy != nil {
		if err := vq.policy.Observe(q, flatMatrix(z.Data, vq.featureSize)); err != nil {
			return nil, nil, err
		}
		// Applied at the start of the next pass, after the caller's backward pass.
		vq.pendingReplace = vq.policy.Due()
	}

	return out, diag, nil
}

func (vq *VectorQuant) applyReplacement() {
	vq.pendingReplace = false

	var store replacement.Store = vq.store
	if vq.calibrator != nil {
		// The search sees calibrated codes, so write replacements in raw space.
		store = &uncalibratedStore{Store: vq.store, params: vq.calibrator.Params()}
	}
	replaced, err := vq.policy.Replace(store)
	vq.logger.LogReplacement(context.Background(), replaced, err)
	if err == nil {
		vq.metrics.RecordReplacement(len(replaced))
	}
}

// uncalibratedStore maps rows through the inverse of the calibration map
// before storing them, so a written row v is calibrated back to v.
type uncalibratedStore struct {
	*codebook.Store
	params *affine.Params
}

func (s *uncalibratedStore) SetRow(i int, v []float32) error {
	if len(v) != s.FeatureSize() {
		return s.Store.SetRow(i, v)
	}
	raw := make([]float32, len(v))
	for j, x := range v {
		// A zero scale maps every raw value to the bias.
		if sc := s.params.Scale[j]; sc != 0 {
			raw[j] = (x - s.params.Bias[j]) / sc
		} else {
			raw[j] = x
		}
	}
	return s.Store.SetRow(i, raw)
}

// flatMatrix views data as rows of width cols. The view carries no gradient.
func flatMatrix(data []float32, cols int) blas32.General {
	return blas32.General{Rows: len(data) / cols, Cols: cols, Stride: cols, Data: data}
}

// InitCodebook initializes the codes with k-means over data, a flattened
// batch of vectors of the configured feature size.
func (vq *VectorQuant) InitCodebook(ctx context.Context, data []float32) error {
	if len(data)%vq.featureSize != 0 {
		return &distance.ErrDimensionMismatch{Expected: vq.featureSize, Actual: len(data) % vq.featureSize}
	}
	iters := vq.opts.kmeansIters
	if iters == 0 {
		iters = 20
	}
	centroids, err := kmeans.TrainKMeans(ctx, data, vq.featureSize, vq.numCodes, distance.MetricL2, iters, vq.rng)
	if err != nil {
		return err
	}
	if centroids == nil {
		return fmt.Errorf("%w: %d vectors for %d codes", ErrNotEnoughData, len(data)/vq.featureSize, vq.numCodes)
	}
	if err := vq.store.InitFrom(centroids); err != nil {
		return err
	}
	vq.initialized = true
	return nil
}

// Codebook returns a copy of the codes, with calibration applied when enabled.
// It carries no gradient and does not update calibration statistics.
func (vq *VectorQuant) Codebook() [][]float32 {
	cb := vq.CodebookTensor()
	out := make([][]float32, vq.numCodes)
	for i := range out {
		out[i] = cb.Data[i*vq.featureSize : (i+1)*vq.featureSize]
	}
	return out
}

// CodebookTensor returns the codes as a detached (numCodes, featureSize) tensor.
func (vq *VectorQuant) CodebookTensor() *autograd.Tensor {
	cb := vq.store.Weight().Detach()
	if vq.calibrator != nil {
		return vq.calibrator.Apply(cb).Detach()
	}
	return cb.Clone()
}

// AffineParams returns the current calibration parameters. ok is false when
// calibration is disabled.
func (vq *VectorQuant) AffineParams() (params *affine.Params, ok bool) {
	if vq.calibrator == nil {
		return nil, false
	}
	return vq.calibrator.Params(), true
}

// Parameters returns the trainable tensors: the codebook and, when
// calibration is enabled, its learnable scale and bias.
func (vq *VectorQuant) Parameters() []*autograd.Tensor {
	params := []*autograd.Tensor{vq.store.Weight()}
	if vq.calibrator != nil {
		params = append(params, vq.calibrator.Parameters()...)
	}
	return params
}

// Store returns the underlying codebook store.
func (vq *VectorQuant) Store() *codebook.Store { return vq.store }

// FeatureSize returns the dimensionality of a code.
func (vq *VectorQuant) FeatureSize() int { return vq.featureSize }

// NumCodes returns the number of codes.
func (vq *VectorQuant) NumCodes() int { return vq.numCodes }

// Groups returns the number of groups per input vector.
func (vq *VectorQuant) Groups() int { return vq.opts.groups }

// Beta returns the codebook loss weight.
func (vq *VectorQuant) Beta() float32 { return vq.opts.beta }

// SyncNu returns the synchronized gradient share.
func (vq *VectorQuant) SyncNu() float32 { return vq.opts.syncNu }

// Enabled reports whether quantization is active.
func (vq *VectorQuant) Enabled() bool { return vq.opts.enabled }

// SetEnabled toggles quantization.
func (vq *VectorQuant) SetEnabled(enabled bool) { vq.opts.enabled = enabled }

// Calls returns the number of completed quantizing forward passes.
func (vq *VectorQuant) Calls() int64 { return vq.calls }
