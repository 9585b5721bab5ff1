package vqgo

import (
	"fmt"
	"math"
	"strings"

	"github.com/hupe1980/vqgo/distance"
	"github.com/hupe1980/vqgo/replacement"
)

// Norm selects an optional L2 normalization.
type Norm int

const (
	// NormNone leaves vectors untouched.
	NormNone Norm = iota
	// NormL2 scales vectors to unit Euclidean norm.
	NormL2
)

func (n Norm) String() string {
	switch n {
	case NormNone:
		return "none"
	case NormL2:
		return "l2"
	default:
		return fmt.Sprintf("Unknown(%d)", n)
	}
}

// ParseNorm parses "none" or "l2" (case-insensitive). The empty string is "none".
func ParseNorm(s string) (Norm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return NormNone, nil
	case "l2":
		return NormL2, nil
	default:
		return NormNone, fmt.Errorf("unknown norm %q", s)
	}
}

// Default parameter values.
const (
	DefaultBeta           = 0.95
	DefaultReplaceRho     = 0.01
	DefaultAffineMomentum = 0.1
	DefaultInitStd        = 1.0
)

type options struct {
	beta   float32
	syncNu float32

	affineLR                float32
	affineRunningStatistics bool
	affineMomentum          float64

	replaceFreq int
	replaceRho  float64
	policy      replacement.Policy

	groups  int
	enabled bool

	chunkSize     int
	precision     distance.Precision
	searchWorkers int
	searcher      distance.Searcher

	inputNorm    Norm
	codebookNorm Norm
	kmeansIters  int
	seed         int64
	initStd      float32

	metricsCollector MetricsCollector
	logger           *Logger
}

// Option configures a VectorQuant.
type Option func(*options)

// WithBeta sets the weight of the codebook loss term. The commitment term is
// weighted by 1-beta. beta must lie in [0, 1].
func WithBeta(beta float32) Option {
	return func(o *options) {
		o.beta = beta
	}
}

// WithSyncNu sets the share of gradient that flows from the straight-through
// output directly into the codebook. 0 disables it.
func WithSyncNu(nu float32) Option {
	return func(o *options) {
		o.syncNu = nu
	}
}

// WithAffineLR enables affine codebook calibration with the given learning-rate
// scale for its learnable residuals. 0 disables calibration.
func WithAffineLR(lr float32) Option {
	return func(o *options) {
		o.affineLR = lr
	}
}

// WithAffineRunningStatistics toggles the running-statistics part of the
// affine calibration.
func WithAffineRunningStatistics(enabled bool) Option {
	return func(o *options) {
		o.affineRunningStatistics = enabled
	}
}

// WithAffineMomentum sets the EMA momentum of the calibration statistics.
func WithAffineMomentum(m float64) Option {
	return func(o *options) {
		o.affineMomentum = m
	}
}

// WithReplaceFreq enables dead-code replacement every freq forward passes.
// 0 disables it.
func WithReplaceFreq(freq int) Option {
	return func(o *options) {
		o.replaceFreq = freq
	}
}

// WithReplaceRho sets the usage rate below which a code counts as dead.
func WithReplaceRho(rho float64) Option {
	return func(o *options) {
		o.replaceRho = rho
	}
}

// WithReplacementPolicy installs a custom replacement policy. It takes
// precedence over WithReplaceFreq.
func WithReplacementPolicy(p replacement.Policy) Option {
	return func(o *options) {
		o.policy = p
	}
}

// WithGroups splits every input vector into groups sub-vectors that are
// quantized independently against the same codebook.
func WithGroups(groups int) Option {
	return func(o *options) {
		o.groups = groups
	}
}

// WithEnabled toggles quantization. A disabled quantizer passes inputs through.
func WithEnabled(enabled bool) Option {
	return func(o *options) {
		o.enabled = enabled
	}
}

// WithComputeChunkSize bounds the number of vectors per distance matrix product.
func WithComputeChunkSize(n int) Option {
	return func(o *options) {
		o.chunkSize = n
	}
}

// WithPrecision selects the precision of the nearest-code search.
func WithPrecision(p distance.Precision) Option {
	return func(o *options) {
		o.precision = p
	}
}

// WithSearchWorkers bounds the number of chunks searched in parallel.
// 0 uses GOMAXPROCS.
func WithSearchWorkers(n int) Option {
	return func(o *options) {
		o.searchWorkers = n
	}
}

// WithSearcher replaces the default exhaustive squared-L2 searcher.
func WithSearcher(s distance.Searcher) Option {
	return func(o *options) {
		o.searcher = s
	}
}

// WithInputNorm normalizes grouped input vectors before quantization.
func WithInputNorm(n Norm) Option {
	return func(o *options) {
		o.inputNorm = n
	}
}

// WithCodebookNorm normalizes the stored codes before every forward pass.
func WithCodebookNorm(n Norm) Option {
	return func(o *options) {
		o.codebookNorm = n
	}
}

// WithKMeansInit initializes the codebook with iters rounds of k-means on the
// first batch seen by Forward. 0 keeps the random initialization.
func WithKMeansInit(iters int) Option {
	return func(o *options) {
		o.kmeansIters = iters
	}
}

// WithSeed seeds codebook initialization and code replacement.
func WithSeed(seed int64) Option {
	return func(o *options) {
		o.seed = seed
	}
}

// WithInitStd sets the standard deviation of the random codebook initialization.
func WithInitStd(std float32) Option {
	return func(o *options) {
		o.initStd = std
	}
}

// WithMetricsCollector configures a metrics collector.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &vqgo.BasicMetricsCollector{}
//	vq, _ := vqgo.New(64, 512, vqgo.WithMetricsCollector(metrics))
//	// ... train ...
//	stats := metrics.GetStats()
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := vqgo.NewJSONLogger(slog.LevelDebug)
//	vq, _ := vqgo.New(64, 512, vqgo.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		beta:                    DefaultBeta,
		affineRunningStatistics: true,
		affineMomentum:          DefaultAffineMomentum,
		replaceRho:              DefaultReplaceRho,
		groups:                  1,
		enabled:                 true,
		chunkSize:               distance.DefaultChunkSize,
		precision:               distance.PrecisionFull,
		initStd:                 DefaultInitStd,
		metricsCollector:        NoopMetricsCollector{},
		logger:                  NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	return o
}

func invalid(field string, value any, reason string) error {
	return &ConfigError{Field: field, Value: value, Reason: reason}
}

func isNaN32(v float32) bool { return v != v }

// validate checks every parameter eagerly; nothing is clamped.
func (o *options) validate(featureSize, numCodes int) error {
	switch {
	case featureSize <= 0:
		return invalid("feature_size", featureSize, "must be > 0")
	case numCodes <= 0:
		return invalid("num_codes", numCodes, "must be > 0")
	case isNaN32(o.beta) || o.beta < 0 || o.beta > 1:
		return invalid("beta", o.beta, "must be in [0, 1]")
	case isNaN32(o.syncNu) || o.syncNu < 0:
		return invalid("sync_nu", o.syncNu, "must be >= 0")
	case isNaN32(o.affineLR) || o.affineLR < 0:
		return invalid("affine_lr", o.affineLR, "must be >= 0")
	case math.IsNaN(o.affineMomentum) || o.affineMomentum < 0 || o.affineMomentum > 1:
		return invalid("affine_momentum", o.affineMomentum, "must be in [0, 1]")
	case o.replaceFreq < 0:
		return invalid("replace_freq", o.replaceFreq, "must be >= 0")
	case math.IsNaN(o.replaceRho) || o.replaceRho < 0 || o.replaceRho > 1:
		return invalid("replace_rho", o.replaceRho, "must be in [0, 1]")
	case o.groups <= 0:
		return invalid("groups", o.groups, "must be > 0")
	case o.chunkSize <= 0:
		return invalid("compute_chunk_size", o.chunkSize, "must be > 0")
	case o.searchWorkers < 0:
		return invalid("search_workers", o.searchWorkers, "must be >= 0")
	case o.precision < distance.PrecisionFull || o.precision > distance.PrecisionAuto:
		return invalid("precision", o.precision, "unknown precision")
	case o.inputNorm != NormNone && o.inputNorm != NormL2:
		return invalid("input_norm", o.inputNorm, "unknown norm")
	case o.codebookNorm != NormNone && o.codebookNorm != NormL2:
		return invalid("codebook_norm", o.codebookNorm, "unknown norm")
	case o.kmeansIters < 0:
		return invalid("kmeans_iters", o.kmeansIters, "must be >= 0")
	case isNaN32(o.initStd) || o.initStd < 0:
		return invalid("init_std", o.initStd, "must be >= 0")
	}
	return nil
}
