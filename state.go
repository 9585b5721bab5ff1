package vqgo

import (
	"fmt"

	"github.com/hupe1980/vqgo/affine"
)

// State is the restorable state of a VectorQuant: the raw codes and the
// calibrator statistics. Replacement usage windows are not part of it and
// restart empty after a restore.
type State struct {
	FeatureSize int           `json:"feature_size"`
	NumCodes    int           `json:"num_codes"`
	Codebook    []float32     `json:"codebook"`
	Affine      *affine.State `json:"affine,omitempty"`
	Initialized bool          `json:"initialized"`
	Calls       int64         `json:"calls"`
}

// State returns a copy of the quantizer state.
func (vq *VectorQuant) State() *State {
	s := &State{
		FeatureSize: vq.featureSize,
		NumCodes:    vq.numCodes,
		Codebook:    append([]float32(nil), vq.store.Weight().Data...),
		Initialized: vq.initialized,
		Calls:       vq.calls,
	}
	if vq.calibrator != nil {
		s.Affine = vq.calibrator.State()
	}
	return s
}

// Restore replaces the quantizer state with s.
//
// The sizes must match and s must carry calibrator state exactly when
// calibration is enabled; otherwise the error wraps ErrIncompatibleState.
func (vq *VectorQuant) Restore(s *State) error {
	if s == nil {
		return fmt.Errorf("%w: nil state", ErrIncompatibleState)
	}
	if s.FeatureSize != vq.featureSize || s.NumCodes != vq.numCodes {
		return fmt.Errorf("%w: state has %d codes of size %d, quantizer has %d codes of size %d",
			ErrIncompatibleState, s.NumCodes, s.FeatureSize, vq.numCodes, vq.featureSize)
	}
	if (s.Affine != nil) != (vq.calibrator != nil) {
		return fmt.Errorf("%w: calibration state present=%v, calibration enabled=%v",
			ErrIncompatibleState, s.Affine != nil, vq.calibrator != nil)
	}
	if len(s.Codebook) != vq.numCodes*vq.featureSize {
		return fmt.Errorf("%w: codebook has %d values, want %d",
			ErrIncompatibleState, len(s.Codebook), vq.numCodes*vq.featureSize)
	}

	if vq.calibrator != nil {
		if err := vq.calibrator.Restore(s.Affine); err != nil {
			return fmt.Errorf("%w: %w", ErrIncompatibleState, err)
		}
	}
	if err := vq.store.InitFrom(s.Codebook); err != nil {
		return err
	}
	vq.store.Weight().ZeroGrad()
	vq.initialized = s.Initialized
	vq.calls = s.Calls
	vq.pendingReplace = false
	return nil
}
