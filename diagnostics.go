package vqgo

import "github.com/hupe1980/vqgo/autograd"

// Diagnostics describes one forward pass.
//
// A disabled quantizer returns empty diagnostics.
type Diagnostics struct {
	// Z is the grouped input of shape (B, N, F).
	Z *autograd.Tensor
	// ZQ is the quantized input before the straight-through construction.
	ZQ *autograd.Tensor
	// D holds the distance of every grouped vector to its code, row-major (B, N).
	D []float32
	// Q holds the assigned code of every grouped vector, row-major (B, N).
	Q []int
	// Shape is the grouped-but-unflattened shape (B, N) of D and Q.
	Shape []int
	// Loss is the scalar commitment/codebook loss.
	Loss *autograd.Tensor
	// Perplexity of the code usage. It is not computed and always nil.
	Perplexity *float32
}

// Empty reports whether d carries no results.
func (d *Diagnostics) Empty() bool {
	return d == nil || (d.Z == nil && d.ZQ == nil && d.Loss == nil && d.Q == nil && d.D == nil)
}
