// Package codebook holds the trainable code vectors of a quantizer.
//
// A Store owns a (numCodes, featureSize) parameter tensor. Gradients from the
// quantizer loss accumulate in Weight().Grad; the optimizer that applies them
// lives outside this module.
package codebook
