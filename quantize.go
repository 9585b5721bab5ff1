package vqgo

import (
	"github.com/hupe1980/vqgo/autograd"
	"github.com/hupe1980/vqgo/distance"
)

// Quantize assigns every vector of z (shape (..., F)) to its nearest code.
//
// With calibration enabled the running statistics are first updated from z
// and the raw codebook, and the calibrated codebook is used for this call.
// The search sees detached copies only; gradients reach the codebook through
// the gathered rows z_q alone.
func (vq *VectorQuant) Quantize(cb, z *autograd.Tensor) (zq *autograd.Tensor, d []float32, q []int, err error) {
	if cb == nil || z == nil {
		return nil, nil, nil, &ShapeError{Groups: vq.opts.groups, FeatureSize: vq.featureSize, Reason: "nil tensor"}
	}
	if cb.Rank() != 2 {
		return nil, nil, nil, &ShapeError{Shape: cb.Shape(), Groups: vq.opts.groups, FeatureSize: vq.featureSize,
			Reason: "codebook must have rank 2"}
	}
	if z.Rank() == 0 {
		return nil, nil, nil, &ShapeError{Shape: z.Shape(), Groups: vq.opts.groups, FeatureSize: vq.featureSize,
			Reason: "input must have at least 1 dimension"}
	}
	if cb.Dim(1) != vq.featureSize {
		return nil, nil, nil, &distance.ErrDimensionMismatch{Expected: vq.featureSize, Actual: cb.Dim(1)}
	}
	if z.Dim(-1) != vq.featureSize {
		return nil, nil, nil, &distance.ErrDimensionMismatch{Expected: vq.featureSize, Actual: z.Dim(-1)}
	}
	x := flatMatrix(z.Data, vq.featureSize)

	if vq.calibrator != nil {
		if err := vq.calibrator.UpdateRunningStatistics(x, flatMatrix(cb.Data, vq.featureSize)); err != nil {
			return nil, nil, nil, err
		}
		cb = vq.calibrator.Apply(cb)
	}

	res, err := vq.searcher.Search(x, flatMatrix(cb.Data, vq.featureSize), distance.SearchOptions{
		TopK:      1,
		ChunkSize: vq.opts.chunkSize,
		Precision: vq.opts.precision,
		Workers:   vq.opts.searchWorkers,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	zq, err = autograd.Gather(cb, res.Index).Reshape(z.Shape()...)
	if err != nil {
		return nil, nil, nil, err
	}
	return zq, res.Distance, res.Index, nil
}

// StraightThrough returns a tensor equal to zq whose gradient with respect to
// z is the identity.
//
// With sync nu > 0 the output is z + sg(zq−z) + nu·zq + sg(−nu·zq), which
// additionally passes a share nu of the gradient to zq.
func (vq *VectorQuant) StraightThrough(z, zq *autograd.Tensor) *autograd.Tensor {
	out := autograd.Add(z, autograd.Sub(zq, z).Detach())
	if nu := vq.opts.syncNu; nu > 0 {
		out = autograd.Add(out, autograd.Scale(zq, nu))
		out = autograd.Add(out, autograd.Scale(zq, -nu).Detach())
	}
	return out
}

// ComputeLoss returns (1−beta)·mean‖ze − sg(zq)‖² + beta·mean‖sg(ze) − zq‖².
//
// The first term commits the encoder to its code, the second pulls the codes
// towards the encoder output. The mean runs over vectors.
func (vq *VectorQuant) ComputeLoss(ze, zq *autograd.Tensor) *autograd.Tensor {
	beta := vq.opts.beta
	commitment := autograd.Mean(autograd.RowSquaredL2(ze, zq.Detach()))
	codebook := autograd.Mean(autograd.RowSquaredL2(ze.Detach(), zq))
	return autograd.Add(autograd.Scale(commitment, 1-beta), autograd.Scale(codebook, beta))
}
