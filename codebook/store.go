package codebook

import (
	"errors"
	"fmt"
	"math/rand"
	"slices"

	"gonum.org/v1/gonum/blas/blas32"

	"github.com/hupe1980/vqgo/autograd"
	"github.com/hupe1980/vqgo/distance"
)

var (
	// ErrInvalidSize is returned for a non-positive number of codes or feature size.
	ErrInvalidSize = errors.New("codebook: invalid size")

	// ErrCodeOutOfRange is returned when a code index is outside [0, NumCodes).
	ErrCodeOutOfRange = errors.New("codebook: code index out of range")
)

// Store owns the code vectors.
type Store struct {
	weight      *autograd.Tensor
	numCodes    int
	featureSize int
}

// New creates a zero-initialized store.
func New(numCodes, featureSize int) (*Store, error) {
	if numCodes <= 0 || featureSize <= 0 {
		return nil, fmt.Errorf("%w: numCodes=%d featureSize=%d", ErrInvalidSize, numCodes, featureSize)
	}
	return &Store{
		weight:      autograd.Param(make([]float32, numCodes*featureSize), numCodes, featureSize),
		numCodes:    numCodes,
		featureSize: featureSize,
	}, nil
}

// NumCodes returns the number of code vectors.
func (s *Store) NumCodes() int { return s.numCodes }

// FeatureSize returns the dimensionality of each code.
func (s *Store) FeatureSize() int { return s.featureSize }

// Weight returns the trainable (numCodes, featureSize) tensor.
func (s *Store) Weight() *autograd.Tensor { return s.weight }

// InitNormal fills the codes with samples from N(0, std²).
func (s *Store) InitNormal(rng *rand.Rand, std float32) {
	for i := range s.weight.Data {
		s.weight.Data[i] = float32(rng.NormFloat64()) * std
	}
}

// InitFrom overwrites all codes with the flattened centroids.
func (s *Store) InitFrom(centroids []float32) error {
	if len(centroids) != len(s.weight.Data) {
		return &distance.ErrDimensionMismatch{Expected: len(s.weight.Data), Actual: len(centroids)}
	}
	copy(s.weight.Data, centroids)
	return nil
}

// Matrix returns a blas32 view over the current codes. The view aliases the
// store and must not be modified.
func (s *Store) Matrix() blas32.General {
	return blas32.General{
		Rows:   s.numCodes,
		Cols:   s.featureSize,
		Stride: s.featureSize,
		Data:   s.weight.Data,
	}
}

// Row returns a copy of code i.
func (s *Store) Row(i int) ([]float32, error) {
	if err := s.check(i); err != nil {
		return nil, err
	}
	return slices.Clone(s.weight.Data[i*s.featureSize : (i+1)*s.featureSize]), nil
}

// SetRow overwrites code i with v.
func (s *Store) SetRow(i int, v []float32) error {
	if err := s.check(i); err != nil {
		return err
	}
	if len(v) != s.featureSize {
		return &distance.ErrDimensionMismatch{Expected: s.featureSize, Actual: len(v)}
	}
	copy(s.weight.Data[i*s.featureSize:(i+1)*s.featureSize], v)
	return nil
}

// Snapshot returns a copy of all codes, one slice per code.
func (s *Store) Snapshot() [][]float32 {
	out := make([][]float32, s.numCodes)
	for i := range out {
		out[i] = slices.Clone(s.weight.Data[i*s.featureSize : (i+1)*s.featureSize])
	}
	return out
}

// NormalizeRows L2-normalizes every code in place. Zero codes are left as is.
func (s *Store) NormalizeRows() {
	for i := range s.numCodes {
		distance.NormalizeL2InPlace(s.weight.Data[i*s.featureSize : (i+1)*s.featureSize])
	}
}

func (s *Store) check(i int) error {
	if i < 0 || i >= s.numCodes {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrCodeOutOfRange, i, s.numCodes)
	}
	return nil
}
