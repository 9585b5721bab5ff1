// Package autograd implements float32 tensors with reverse-mode gradients.
//
// A Tensor records the closure that propagates its gradient to its parents.
// Calling Backward on a scalar result walks the recorded graph in reverse
// topological order and accumulates gradients into every tensor that
// requires them.
//
// # Stop-gradient
//
// Detach returns a tensor that shares data with its source but carries no
// gradient path. It is the building block for straight-through estimators:
//
//	// numerically zq, gradient of identity w.r.t. z
//	out := autograd.Add(z, autograd.Sub(zq, z).Detach())
//
// # Parameters
//
//	w := autograd.Param(make([]float32, 12), 3, 4)
//	loss := autograd.Mean(autograd.RowSquaredL2(x, w))
//	loss.Backward()
//	_ = w.Grad // d loss / d w
//
// Gradients of leaf parameters accumulate across Backward calls until
// ZeroGrad is called.
//
// # Thread Safety
//
// Tensors are not safe for concurrent mutation. Building independent graphs
// from the same read-only leaves is safe as long as Backward is not running
// concurrently on graphs sharing a leaf.
package autograd
