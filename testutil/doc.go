// Package testutil provides testing utilities for vqgo.
//
// This package is intended for use in tests and benchmarks only.
//
// # Random Data
//
//	rng := testutil.NewRNG(seed)
//	data := make([]float32, 2*5*4)
//	rng.FillUniformRange(data, -1, 1)
//	z := rng.Batch(2, 5, 4) // *autograd.Tensor of shape (2, 5, 4)
//
// # Gradient Checks
//
//	want := testutil.NumericGrad(loss, param.Data, 1e-2)
package testutil
