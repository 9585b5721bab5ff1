package vqgo

import (
	"github.com/hupe1980/vqgo/distance"
)

// Config is the serializable form of the quantizer options.
type Config struct {
	FeatureSize int     `yaml:"feature_size" json:"feature_size"`
	NumCodes    int     `yaml:"num_codes" json:"num_codes"`
	Beta        float32 `yaml:"beta" json:"beta"`
	SyncNu      float32 `yaml:"sync_nu" json:"sync_nu"`

	AffineLR                float32 `yaml:"affine_lr" json:"affine_lr"`
	AffineRunningStatistics bool    `yaml:"affine_running_statistics" json:"affine_running_statistics"`
	AffineMomentum          float64 `yaml:"affine_momentum" json:"affine_momentum"`

	ReplaceFreq int     `yaml:"replace_freq" json:"replace_freq"`
	ReplaceRho  float64 `yaml:"replace_rho" json:"replace_rho"`

	Groups  int  `yaml:"groups" json:"groups"`
	Enabled bool `yaml:"enabled" json:"enabled"`

	ComputeChunkSize int    `yaml:"compute_chunk_size" json:"compute_chunk_size"`
	Precision        string `yaml:"precision" json:"precision"`
	SearchWorkers    int    `yaml:"search_workers" json:"search_workers"`

	InputNorm    string  `yaml:"input_norm" json:"input_norm"`
	CodebookNorm string  `yaml:"codebook_norm" json:"codebook_norm"`
	KMeansIters  int     `yaml:"kmeans_iters" json:"kmeans_iters"`
	Seed         int64   `yaml:"seed" json:"seed"`
	InitStd      float32 `yaml:"init_std" json:"init_std"`
}

// DefaultConfig returns a Config holding the default option values.
// FeatureSize and NumCodes are left zero.
func DefaultConfig() Config {
	return Config{
		Beta:                    DefaultBeta,
		AffineRunningStatistics: true,
		AffineMomentum:          DefaultAffineMomentum,
		ReplaceRho:              DefaultReplaceRho,
		Groups:                  1,
		Enabled:                 true,
		ComputeChunkSize:        distance.DefaultChunkSize,
		Precision:               distance.PrecisionFull.String(),
		InputNorm:               NormNone.String(),
		CodebookNorm:            NormNone.String(),
		InitStd:                 DefaultInitStd,
	}
}

// Options converts c into functional options.
func (c Config) Options() ([]Option, error) {
	precision, err := distance.ParsePrecision(c.Precision)
	if err != nil {
		return nil, invalid("precision", c.Precision, err.Error())
	}
	inputNorm, err := ParseNorm(c.InputNorm)
	if err != nil {
		return nil, invalid("input_norm", c.InputNorm, err.Error())
	}
	codebookNorm, err := ParseNorm(c.CodebookNorm)
	if err != nil {
		return nil, invalid("codebook_norm", c.CodebookNorm, err.Error())
	}

	return []Option{
		WithBeta(c.Beta),
		WithSyncNu(c.SyncNu),
		WithAffineLR(c.AffineLR),
		WithAffineRunningStatistics(c.AffineRunningStatistics),
		WithAffineMomentum(c.AffineMomentum),
		WithReplaceFreq(c.ReplaceFreq),
		WithReplaceRho(c.ReplaceRho),
		WithGroups(c.Groups),
		WithEnabled(c.Enabled),
		WithComputeChunkSize(c.ComputeChunkSize),
		WithPrecision(precision),
		WithSearchWorkers(c.SearchWorkers),
		WithInputNorm(inputNorm),
		WithCodebookNorm(codebookNorm),
		WithKMeansInit(c.KMeansIters),
		WithSeed(c.Seed),
		WithInitStd(c.InitStd),
	}, nil
}

// Validate reports the first invalid field of c.
func (c Config) Validate() error {
	optFns, err := c.Options()
	if err != nil {
		return err
	}
	o := applyOptions(optFns)
	return o.validate(c.FeatureSize, c.NumCodes)
}

// NewFromConfig creates a quantizer from c. Extra options are applied after
// the ones derived from c, e.g. a logger or metrics collector.
func NewFromConfig(c Config, optFns ...Option) (*VectorQuant, error) {
	cfgFns, err := c.Options()
	if err != nil {
		return nil, err
	}
	return New(c.FeatureSize, c.NumCodes, append(cfgFns, optFns...)...)
}
