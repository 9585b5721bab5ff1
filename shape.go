package vqgo

import "github.com/hupe1980/vqgo/autograd"

// prepareInputs groups z of shape (B, ..., G*F) into (B, N, F), N = prod(...)*G.
func (vq *VectorQuant) prepareInputs(z *autograd.Tensor) (*autograd.Tensor, error) {
	if z == nil {
		return nil, &ShapeError{Groups: vq.opts.groups, FeatureSize: vq.featureSize, Reason: "nil input"}
	}
	shape := z.Shape()
	fail := func(reason string) error {
		return &ShapeError{Shape: shape, Groups: vq.opts.groups, FeatureSize: vq.featureSize, Reason: reason}
	}

	if len(shape) < 3 {
		return nil, fail("expected at least 3 dimensions")
	}
	last := shape[len(shape)-1]
	if last%vq.opts.groups != 0 {
		return nil, fail("trailing dimension not divisible by groups")
	}
	if last/vq.opts.groups != vq.featureSize {
		return nil, fail("trailing dimension does not match feature size")
	}

	n := vq.opts.groups
	for _, d := range shape[1 : len(shape)-1] {
		n *= d
	}
	grouped, err := z.Reshape(shape[0], n, vq.featureSize)
	if err != nil {
		return nil, fail(err.Error())
	}
	return grouped, nil
}

// toOriginalFormat restores the input shape of a grouped tensor.
func toOriginalFormat(t *autograd.Tensor, shape []int) (*autograd.Tensor, error) {
	return t.Reshape(shape...)
}
