package autograd

import (
	"fmt"
	"math"

	"github.com/viterin/vek/vek32"
)

func accumulate(t *Tensor, g []float32) {
	if t.requiresGrad {
		vek32.Add_Inplace(t.Grad, g)
	}
}

func mustSameLen(op string, a, b *Tensor) {
	if len(a.Data) != len(b.Data) {
		panic(fmt.Sprintf("autograd: %s on tensors of %d and %d elements", op, len(a.Data), len(b.Data)))
	}
}

func featureSize(op string, t *Tensor) int {
	if len(t.shape) == 0 {
		panic(fmt.Sprintf("autograd: %s requires rank >= 1", op))
	}
	return t.shape[len(t.shape)-1]
}

// rowShape is the shape of t with the trailing feature dimension removed.
func rowShape(t *Tensor) []int {
	return t.shape[:len(t.shape)-1]
}

// Add returns a + b element-wise. The result takes a's shape.
func Add(a, b *Tensor) *Tensor {
	mustSameLen("Add", a, b)
	out := newResult(vek32.Add(a.Data, b.Data), a.shape, a, b)
	if out.requiresGrad {
		out.backFn = func() {
			accumulate(a, out.Grad)
			accumulate(b, out.Grad)
		}
	}
	return out
}

// Sub returns a - b element-wise. The result takes a's shape.
func Sub(a, b *Tensor) *Tensor {
	mustSameLen("Sub", a, b)
	out := newResult(vek32.Sub(a.Data, b.Data), a.shape, a, b)
	if out.requiresGrad {
		out.backFn = func() {
			accumulate(a, out.Grad)
			if b.requiresGrad {
				vek32.Sub_Inplace(b.Grad, out.Grad)
			}
		}
	}
	return out
}

// Mul returns a * b element-wise.
func Mul(a, b *Tensor) *Tensor {
	mustSameLen("Mul", a, b)
	out := newResult(vek32.Mul(a.Data, b.Data), a.shape, a, b)
	if out.requiresGrad {
		out.backFn = func() {
			if a.requiresGrad {
				accumulate(a, vek32.Mul(out.Grad, b.Data))
			}
			if b.requiresGrad {
				accumulate(b, vek32.Mul(out.Grad, a.Data))
			}
		}
	}
	return out
}

// Scale returns k * a.
func Scale(a *Tensor, k float32) *Tensor {
	out := newResult(vek32.MulNumber(a.Data, k), a.shape, a)
	if out.requiresGrad {
		out.backFn = func() {
			accumulate(a, vek32.MulNumber(out.Grad, k))
		}
	}
	return out
}

// AddScalar returns a + k.
func AddScalar(a *Tensor, k float32) *Tensor {
	out := newResult(vek32.AddNumber(a.Data, k), a.shape, a)
	if out.requiresGrad {
		out.backFn = func() {
			accumulate(a, out.Grad)
		}
	}
	return out
}

// Affine returns x * scale + bias with scale and bias broadcast over the
// trailing dimension of x.
func Affine(x, scale, bias *Tensor) *Tensor {
	f := featureSize("Affine", x)
	if len(scale.Data) != f || len(bias.Data) != f {
		panic(fmt.Sprintf("autograd: Affine expects %d-element scale and bias, got %d and %d",
			f, len(scale.Data), len(bias.Data)))
	}
	rows := len(x.Data) / max(f, 1)
	data := make([]float32, len(x.Data))
	for r := range rows {
		row := data[r*f : (r+1)*f]
		copy(row, x.Data[r*f:(r+1)*f])
		vek32.Mul_Inplace(row, scale.Data)
		vek32.Add_Inplace(row, bias.Data)
	}
	out := newResult(data, x.shape, x, scale, bias)
	if out.requiresGrad {
		out.backFn = func() {
			for r := range rows {
				g := out.Grad[r*f : (r+1)*f]
				if x.requiresGrad {
					vek32.Add_Inplace(x.Grad[r*f:(r+1)*f], vek32.Mul(g, scale.Data))
				}
				if scale.requiresGrad {
					vek32.Add_Inplace(scale.Grad, vek32.Mul(g, x.Data[r*f:(r+1)*f]))
				}
				if bias.requiresGrad {
					vek32.Add_Inplace(bias.Grad, g)
				}
			}
		}
	}
	return out
}

// Gather returns the rows of table (shape (K, F)) selected by idx.
// The result has shape (len(idx), F). It panics on an out-of-range index.
func Gather(table *Tensor, idx []int) *Tensor {
	if table.Rank() != 2 {
		panic(fmt.Sprintf("autograd: Gather expects a rank-2 table, got shape %v", table.shape))
	}
	k, f := table.shape[0], table.shape[1]
	data := make([]float32, len(idx)*f)
	for i, j := range idx {
		if j < 0 || j >= k {
			panic(fmt.Sprintf("autograd: Gather index %d out of range [0, %d)", j, k))
		}
		copy(data[i*f:(i+1)*f], table.Data[j*f:(j+1)*f])
	}
	out := newResult(data, []int{len(idx), f}, table)
	if out.requiresGrad {
		out.backFn = func() {
			for i, j := range idx {
				vek32.Add_Inplace(table.Grad[j*f:(j+1)*f], out.Grad[i*f:(i+1)*f])
			}
		}
	}
	return out
}

// RowSquaredL2 returns the squared Euclidean distance between matching rows
// of a and b. The trailing dimension is reduced.
func RowSquaredL2(a, b *Tensor) *Tensor {
	mustSameLen("RowSquaredL2", a, b)
	f := featureSize("RowSquaredL2", a)
	diff := vek32.Sub(a.Data, b.Data)
	rows := len(diff) / max(f, 1)
	data := make([]float32, rows)
	for r := range rows {
		d := diff[r*f : (r+1)*f]
		data[r] = vek32.Dot(d, d)
	}
	out := newResult(data, rowShape(a), a, b)
	if out.requiresGrad {
		out.backFn = func() {
			g := make([]float32, len(diff))
			for r := range rows {
				row := g[r*f : (r+1)*f]
				copy(row, diff[r*f:(r+1)*f])
				vek32.MulNumber_Inplace(row, 2*out.Grad[r])
			}
			accumulate(a, g)
			if b.requiresGrad {
				vek32.Sub_Inplace(b.Grad, g)
			}
		}
	}
	return out
}

// NormalizeRows scales every row of a to unit L2 norm. Rows with a norm
// below eps are divided by eps instead.
func NormalizeRows(a *Tensor, eps float32) *Tensor {
	f := featureSize("NormalizeRows", a)
	rows := len(a.Data) / max(f, 1)
	data := make([]float32, len(a.Data))
	norms := make([]float32, rows)
	for r := range rows {
		src := a.Data[r*f : (r+1)*f]
		n := float32(math.Sqrt(float64(vek32.Dot(src, src))))
		if n < eps {
			n = eps
		}
		norms[r] = n
		dst := data[r*f : (r+1)*f]
		copy(dst, src)
		vek32.MulNumber_Inplace(dst, 1/n)
	}
	out := newResult(data, a.shape, a)
	if out.requiresGrad {
		out.backFn = func() {
			g := make([]float32, len(data))
			for r := range rows {
				y := data[r*f : (r+1)*f]
				gy := out.Grad[r*f : (r+1)*f]
				row := g[r*f : (r+1)*f]
				copy(row, gy)
				if norms[r] > eps {
					// (I - y yᵀ) gy / ‖x‖
					vek32.Sub_Inplace(row, vek32.MulNumber(y, vek32.Dot(y, gy)))
				}
				vek32.MulNumber_Inplace(row, 1/norms[r])
			}
			accumulate(a, g)
		}
	}
	return out
}

// Sum reduces all elements of a to a scalar.
func Sum(a *Tensor) *Tensor {
	out := newResult([]float32{vek32.Sum(a.Data)}, []int{}, a)
	if out.requiresGrad {
		out.backFn = func() {
			if a.requiresGrad {
				g := out.Grad[0]
				for i := range a.Grad {
					a.Grad[i] += g
				}
			}
		}
	}
	return out
}

// Mean reduces all elements of a to their arithmetic mean.
func Mean(a *Tensor) *Tensor {
	n := len(a.Data)
	if n == 0 {
		return Scalar(float32(math.NaN()))
	}
	return Scale(Sum(a), 1/float32(n))
}
