package vqgo

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig is returned when a quantizer is constructed with invalid parameters.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidShape is returned when an input tensor cannot be grouped into
	// vectors of the configured feature size.
	ErrInvalidShape = errors.New("invalid input shape")

	// ErrNotEnoughData is returned when k-means initialization sees fewer
	// vectors than codes.
	ErrNotEnoughData = errors.New("not enough vectors to initialize codebook")

	// ErrIncompatibleState is returned when a saved state does not match the
	// quantizer it is restored into.
	ErrIncompatibleState = errors.New("incompatible quantizer state")
)

// ConfigError reports an invalid configuration parameter.
//
// It wraps ErrInvalidConfig.
type ConfigError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s=%v: %s", e.Field, e.Value, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }

// ShapeError reports an input whose shape does not fit the quantizer.
//
// It wraps ErrInvalidShape.
type ShapeError struct {
	Shape       []int
	Groups      int
	FeatureSize int
	Reason      string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("invalid input shape %v (groups=%d, feature size=%d): %s",
		e.Shape, e.Groups, e.FeatureSize, e.Reason)
}

func (e *ShapeError) Unwrap() error { return ErrInvalidShape }
