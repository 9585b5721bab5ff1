package affine

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/gonum/stat"

	"github.com/hupe1980/vqgo/autograd"
)

const varianceEpsilon = 1e-8

// ErrFeatureSize is returned when a matrix does not match the calibrator width.
var ErrFeatureSize = errors.New("affine: feature size mismatch")

// Options configures a Calibrator.
type Options struct {
	// LRScale scales the learnable residuals. 0 disables them.
	LRScale float32
	// RunningStatistics enables the running-statistics recentring.
	RunningStatistics bool
	// Momentum is the EMA weight given to each new batch.
	Momentum float64
}

// DefaultOptions returns the calibrator defaults.
func DefaultOptions() Options {
	return Options{
		LRScale:           1,
		RunningStatistics: true,
		Momentum:          0.1,
	}
}

// Option mutates Options.
type Option func(*Options)

// WithLRScale sets the residual learning-rate scale.
func WithLRScale(lr float32) Option {
	return func(o *Options) { o.LRScale = lr }
}

// WithRunningStatistics toggles the running-statistics recentring.
func WithRunningStatistics(enabled bool) Option {
	return func(o *Options) { o.RunningStatistics = enabled }
}

// WithMomentum sets the EMA momentum.
func WithMomentum(m float64) Option {
	return func(o *Options) { o.Momentum = m }
}

// Params is the effective per-feature map c' = c·Scale + Bias.
type Params struct {
	Scale []float32 `json:"scale"`
	Bias  []float32 `json:"bias"`

	// Running statistics; zero until the first update.
	InputMean    []float64 `json:"input_mean"`
	InputVar     []float64 `json:"input_var"`
	CodebookMean []float64 `json:"codebook_mean"`
	CodebookVar  []float64 `json:"codebook_var"`
}

// Calibrator tracks input and codebook statistics and calibrates codebooks.
//
// It is not safe for concurrent use.
type Calibrator struct {
	opts        Options
	featureSize int

	initialized bool
	zMean, zVar []float64
	cMean, cVar []float64

	scale *autograd.Tensor
	bias  *autograd.Tensor
}

// New creates a calibrator for vectors of featureSize.
func New(featureSize int, optFns ...Option) (*Calibrator, error) {
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	if featureSize <= 0 {
		return nil, fmt.Errorf("affine: invalid feature size %d", featureSize)
	}
	if opts.LRScale < 0 {
		return nil, fmt.Errorf("affine: lr scale must be >= 0, got %v", opts.LRScale)
	}
	if !(opts.Momentum >= 0 && opts.Momentum <= 1) {
		return nil, fmt.Errorf("affine: momentum must be in [0, 1], got %v", opts.Momentum)
	}

	c := &Calibrator{
		opts:        opts,
		featureSize: featureSize,
		scale:       autograd.Param(make([]float32, featureSize), featureSize),
		bias:        autograd.Param(make([]float32, featureSize), featureSize),
	}
	c.resetStatistics()
	return c, nil
}

func (c *Calibrator) resetStatistics() {
	c.initialized = false
	c.zMean = make([]float64, c.featureSize)
	c.zVar = make([]float64, c.featureSize)
	c.cMean = make([]float64, c.featureSize)
	c.cVar = make([]float64, c.featureSize)
}

// FeatureSize returns the calibrated width.
func (c *Calibrator) FeatureSize() int { return c.featureSize }

// Options returns the calibrator configuration.
func (c *Calibrator) Options() Options { return c.opts }

// UpdateRunningStatistics folds one batch of inputs x and the raw codebook
// into the running statistics. The first batch initializes them.
// It is a no-op when running statistics are disabled.
func (c *Calibrator) UpdateRunningStatistics(x, codebook blas32.General) error {
	if !c.opts.RunningStatistics {
		return nil
	}
	if x.Cols != c.featureSize || codebook.Cols != c.featureSize {
		return fmt.Errorf("%w: expected %d, got input %d and codebook %d",
			ErrFeatureSize, c.featureSize, x.Cols, codebook.Cols)
	}
	if x.Rows == 0 {
		return nil
	}

	zMean, zVar := columnStats(x)
	cMean, cVar := columnStats(codebook)

	if !c.initialized {
		copy(c.zMean, zMean)
		copy(c.zVar, zVar)
		copy(c.cMean, cMean)
		copy(c.cVar, cVar)
		c.initialized = true
		return nil
	}

	m := c.opts.Momentum
	ema(c.zMean, zMean, m)
	ema(c.zVar, zVar, m)
	ema(c.cMean, cMean, m)
	ema(c.cVar, cVar, m)
	return nil
}

func ema(dst, src []float64, m float64) {
	for i := range dst {
		dst[i] = (1-m)*dst[i] + m*src[i]
	}
}

// columnStats returns the per-column mean and unbiased variance of m.
// The variance of a single row is 0.
func columnStats(m blas32.General) ([]float64, []float64) {
	mean := make([]float64, m.Cols)
	variance := make([]float64, m.Cols)
	col := make([]float64, m.Rows)
	for j := range m.Cols {
		for i := range m.Rows {
			col[i] = float64(m.Data[i*m.Stride+j])
		}
		if m.Rows < 2 {
			mean[j] = stat.Mean(col, nil)
			continue
		}
		mean[j], variance[j] = stat.MeanVariance(col, nil)
	}
	return mean, variance
}

// running returns the running-statistics scale and bias.
func (c *Calibrator) running() ([]float32, []float32) {
	s := make([]float32, c.featureSize)
	b := make([]float32, c.featureSize)
	for i := range s {
		if !c.opts.RunningStatistics || !c.initialized {
			s[i] = 1
			continue
		}
		sr := math.Sqrt(c.zVar[i] / (c.cVar[i] + varianceEpsilon))
		s[i] = float32(sr)
		b[i] = float32(c.zMean[i] - sr*c.cMean[i])
	}
	return s, b
}

// Apply returns the calibrated codebook. Gradients flow to both the codebook
// and the learnable residuals.
func (c *Calibrator) Apply(codebook *autograd.Tensor) *autograd.Tensor {
	sr, br := c.running()
	out := autograd.Affine(codebook, autograd.New(sr), autograd.New(br))

	lr := c.opts.LRScale
	if lr == 0 {
		return out
	}
	return autograd.Affine(out,
		autograd.AddScalar(autograd.Scale(c.scale, lr), 1),
		autograd.Scale(c.bias, lr),
	)
}

// Params returns the current effective affine map and running statistics.
func (c *Calibrator) Params() *Params {
	sr, br := c.running()
	lr := c.opts.LRScale

	p := &Params{
		Scale:        make([]float32, c.featureSize),
		Bias:         make([]float32, c.featureSize),
		InputMean:    append([]float64(nil), c.zMean...),
		InputVar:     append([]float64(nil), c.zVar...),
		CodebookMean: append([]float64(nil), c.cMean...),
		CodebookVar:  append([]float64(nil), c.cVar...),
	}
	for i := range p.Scale {
		g := 1 + lr*c.scale.Data[i]
		p.Scale[i] = sr[i] * g
		p.Bias[i] = br[i]*g + lr*c.bias.Data[i]
	}
	return p
}

// Parameters returns the learnable residuals (scale, bias).
func (c *Calibrator) Parameters() []*autograd.Tensor {
	return []*autograd.Tensor{c.scale, c.bias}
}

// Reset clears the running statistics and the learnable residuals.
func (c *Calibrator) Reset() {
	c.resetStatistics()
	clear(c.scale.Data)
	clear(c.bias.Data)
	c.scale.ZeroGrad()
	c.bias.ZeroGrad()
}

// State is the restorable calibrator state: running statistics and the raw
// learnable residuals.
type State struct {
	Initialized   bool      `json:"initialized"`
	InputMean     []float64 `json:"input_mean"`
	InputVar      []float64 `json:"input_var"`
	CodebookMean  []float64 `json:"codebook_mean"`
	CodebookVar   []float64 `json:"codebook_var"`
	ScaleResidual []float32 `json:"scale_residual"`
	BiasResidual  []float32 `json:"bias_residual"`
}

// State returns a copy of the calibrator state.
func (c *Calibrator) State() *State {
	return &State{
		Initialized:   c.initialized,
		InputMean:     append([]float64(nil), c.zMean...),
		InputVar:      append([]float64(nil), c.zVar...),
		CodebookMean:  append([]float64(nil), c.cMean...),
		CodebookVar:   append([]float64(nil), c.cVar...),
		ScaleResidual: append([]float32(nil), c.scale.Data...),
		BiasResidual:  append([]float32(nil), c.bias.Data...),
	}
}

// Restore replaces the calibrator state with s. Gradients are cleared.
func (c *Calibrator) Restore(s *State) error {
	if s == nil {
		return errors.New("affine: nil state")
	}
	for _, n := range []int{len(s.InputMean), len(s.InputVar), len(s.CodebookMean), len(s.CodebookVar), len(s.ScaleResidual), len(s.BiasResidual)} {
		if n != c.featureSize {
			return fmt.Errorf("%w: expected %d, got %d", ErrFeatureSize, c.featureSize, n)
		}
	}

	c.initialized = s.Initialized
	copy(c.zMean, s.InputMean)
	copy(c.zVar, s.InputVar)
	copy(c.cMean, s.CodebookMean)
	copy(c.cVar, s.CodebookVar)
	copy(c.scale.Data, s.ScaleResidual)
	copy(c.bias.Data, s.BiasResidual)
	c.scale.ZeroGrad()
	c.bias.ZeroGrad()
	return nil
}
