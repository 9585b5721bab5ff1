package autograd

import (
	"errors"
	"fmt"
	"slices"
)

// ErrShape is returned when a reshape does not preserve the number of elements.
var ErrShape = errors.New("autograd: shape mismatch")

// Tensor is a dense, row-major float32 array with an optional gradient.
type Tensor struct {
	// Data holds the values in row-major order.
	Data []float32
	// Grad holds the accumulated gradient. It is nil unless RequiresGrad is true.
	Grad []float32

	shape        []int
	requiresGrad bool
	parents      []*Tensor
	backFn       func()
}

// New creates a constant tensor (no gradient) over data.
// Without a shape the tensor is one-dimensional.
// It panics if the shape does not match len(data).
func New(data []float32, shape ...int) *Tensor {
	return &Tensor{Data: data, shape: checkShape(len(data), shape)}
}

// Param creates a leaf tensor that requires gradients.
func Param(data []float32, shape ...int) *Tensor {
	t := New(data, shape...)
	t.requiresGrad = true
	t.Grad = make([]float32, len(data))
	return t
}

// Zeros creates a constant zero tensor of the given shape.
func Zeros(shape ...int) *Tensor {
	return New(make([]float32, numel(shape)), shape...)
}

// Scalar creates a constant rank-0 tensor.
func Scalar(v float32) *Tensor {
	return &Tensor{Data: []float32{v}, shape: []int{}}
}

func numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func checkShape(n int, shape []int) []int {
	if len(shape) == 0 {
		return []int{n}
	}
	for _, d := range shape {
		if d < 0 {
			panic(fmt.Sprintf("autograd: negative dimension in shape %v", shape))
		}
	}
	if numel(shape) != n {
		panic(fmt.Sprintf("autograd: shape %v does not match %d elements", shape, n))
	}
	return slices.Clone(shape)
}

// Shape returns a copy of the tensor shape.
func (t *Tensor) Shape() []int {
	return slices.Clone(t.shape)
}

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int {
	return len(t.shape)
}

// Dim returns the size of dimension i. Negative i counts from the end.
func (t *Tensor) Dim(i int) int {
	if i < 0 {
		i += len(t.shape)
	}
	return t.shape[i]
}

// Len returns the number of elements.
func (t *Tensor) Len() int {
	return len(t.Data)
}

// RequiresGrad reports whether gradients flow into this tensor.
func (t *Tensor) RequiresGrad() bool {
	return t.requiresGrad
}

// Item returns the single value of a one-element tensor.
func (t *Tensor) Item() float32 {
	if len(t.Data) != 1 {
		panic(fmt.Sprintf("autograd: Item on tensor with %d elements", len(t.Data)))
	}
	return t.Data[0]
}

// Detach returns a tensor sharing t's data with no gradient path.
func (t *Tensor) Detach() *Tensor {
	return &Tensor{Data: t.Data, shape: slices.Clone(t.shape)}
}

// Clone returns a detached deep copy of t.
func (t *Tensor) Clone() *Tensor {
	return New(slices.Clone(t.Data), t.shape...)
}

// Reshape returns a view of t with a new shape. Gradients flow back to t.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	if numel(shape) != len(t.Data) {
		return nil, fmt.Errorf("%w: cannot reshape %v into %v", ErrShape, t.shape, shape)
	}
	out := newResult(t.Data, shape, t)
	if out.requiresGrad {
		out.backFn = func() {
			accumulate(t, out.Grad)
		}
	}
	return out, nil
}

// ZeroGrad resets the accumulated gradient.
func (t *Tensor) ZeroGrad() {
	clear(t.Grad)
}

// SetRequiresGrad turns a leaf tensor into a parameter (or back into a constant).
func (t *Tensor) SetRequiresGrad(v bool) {
	t.requiresGrad = v
	if v && t.Grad == nil {
		t.Grad = make([]float32, len(t.Data))
	}
	if !v {
		t.Grad = nil
	}
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, requiresGrad=%t)", t.shape, t.requiresGrad)
}

// newResult builds an op output whose gradient requirement follows its parents.
func newResult(data []float32, shape []int, parents ...*Tensor) *Tensor {
	out := &Tensor{Data: data, shape: slices.Clone(shape)}
	for _, p := range parents {
		if p.requiresGrad {
			out.requiresGrad = true
			break
		}
	}
	if out.requiresGrad {
		out.parents = parents
		out.Grad = make([]float32, len(data))
	}
	return out
}
