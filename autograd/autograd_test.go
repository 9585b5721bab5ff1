package autograd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// numericGrad estimates d f / d p with central differences.
func numericGrad(f func() float32, p []float32) []float32 {
	const h = 1e-2
	g := make([]float32, len(p))
	for i := range p {
		orig := p[i]
		p[i] = orig + h
		up := f()
		p[i] = orig - h
		down := f()
		p[i] = orig
		g[i] = (up - down) / (2 * h)
	}
	return g
}

func assertGradClose(t *testing.T, want, got []float32) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.InDelta(t, want[i], got[i], 2e-2, "index %d", i)
	}
}

func TestNew_Shape(t *testing.T) {
	x := New([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	assert.Equal(t, []int{2, 3}, x.Shape())
	assert.Equal(t, 2, x.Rank())
	assert.Equal(t, 3, x.Dim(-1))
	assert.False(t, x.RequiresGrad())
	assert.Nil(t, x.Grad)

	assert.Panics(t, func() { New([]float32{1, 2, 3}, 2, 2) })
}

func TestReshape(t *testing.T) {
	x := Param([]float32{1, 2, 3, 4, 5, 6}, 2, 3)

	y, err := x.Reshape(3, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, y.Shape())
	assert.Equal(t, x.Data, y.Data)

	Sum(Scale(y, 2)).Backward()
	assert.Equal(t, []float32{2, 2, 2, 2, 2, 2}, x.Grad)

	_, err = x.Reshape(4, 2)
	assert.ErrorIs(t, err, ErrShape)
}

func TestAddSub_Gradients(t *testing.T) {
	a := Param([]float32{1, 2, 3})
	b := Param([]float32{4, 5, 6})

	out := Sum(Sub(Add(a, b), Scale(b, 3)))
	assert.InDelta(t, float32(1+2+3-2*(4+5+6)), out.Item(), 1e-5)

	out.Backward()
	assert.Equal(t, []float32{1, 1, 1}, a.Grad)
	assert.Equal(t, []float32{-2, -2, -2}, b.Grad)
}

func TestDetach_StopsGradient(t *testing.T) {
	a := Param([]float32{1, 2})
	d := a.Detach()

	assert.False(t, d.RequiresGrad())
	assert.Equal(t, a.Data, d.Data)

	out := Sum(Mul(a, d))
	out.Backward()
	// only the non-detached factor contributes: d/da (a * stopgrad(a)) = a
	assert.Equal(t, []float32{1, 2}, a.Grad)
}

func TestStraightThrough_Identity(t *testing.T) {
	z := Param([]float32{0.5, -1, 2, 3})
	zq := Param([]float32{1, 1, 1, 1})

	out := Add(z, Sub(zq, z).Detach())
	for i := range out.Data {
		assert.InDelta(t, zq.Data[i], out.Data[i], 1e-6)
	}

	Sum(Scale(out, 3)).Backward()
	assert.Equal(t, []float32{3, 3, 3, 3}, z.Grad)
	assert.Equal(t, []float32{0, 0, 0, 0}, zq.Grad)
}

func TestGather(t *testing.T) {
	table := Param([]float32{
		0, 0,
		1, 1,
		2, 2,
	}, 3, 2)

	out := Gather(table, []int{2, 0, 2})
	assert.Equal(t, []int{3, 2}, out.Shape())
	assert.Equal(t, []float32{2, 2, 0, 0, 2, 2}, out.Data)

	Sum(out).Backward()
	assert.Equal(t, []float32{1, 1, 0, 0, 2, 2}, table.Grad)

	assert.Panics(t, func() { Gather(table, []int{3}) })
}

func TestRowSquaredL2(t *testing.T) {
	a := Param([]float32{1, 2, 3, 4}, 2, 2)
	b := Param([]float32{0, 0, 1, 1}, 2, 2)

	d := RowSquaredL2(a, b)
	assert.Equal(t, []int{2}, d.Shape())
	assert.InDelta(t, 5, d.Data[0], 1e-6)
	assert.InDelta(t, 13, d.Data[1], 1e-6)

	Sum(d).Backward()
	assert.Equal(t, []float32{2, 4, 4, 6}, a.Grad)
	assert.Equal(t, []float32{-2, -4, -4, -6}, b.Grad)
}

func TestAffine_NumericGradient(t *testing.T) {
	x := Param([]float32{0.3, -0.7, 1.2, 0.4, 0.9, -0.1}, 3, 2)
	scale := Param([]float32{1.5, -0.5})
	bias := Param([]float32{0.2, 0.1})
	target := New([]float32{1, 0, 0, 1, 1, 1}, 3, 2)

	f := func() float32 {
		return Mean(RowSquaredL2(Affine(x, scale, bias), target)).Item()
	}

	Mean(RowSquaredL2(Affine(x, scale, bias), target)).Backward()

	assertGradClose(t, numericGrad(f, x.Data), x.Grad)
	assertGradClose(t, numericGrad(f, scale.Data), scale.Grad)
	assertGradClose(t, numericGrad(f, bias.Data), bias.Grad)
}

func TestNormalizeRows(t *testing.T) {
	x := Param([]float32{3, 4, 0.5, -0.2}, 2, 2)

	y := NormalizeRows(x, 1e-8)
	assert.InDelta(t, 0.6, y.Data[0], 1e-6)
	assert.InDelta(t, 0.8, y.Data[1], 1e-6)

	target := New([]float32{1, 0, 0, 1}, 2, 2)
	f := func() float32 {
		return Sum(RowSquaredL2(NormalizeRows(x, 1e-8), target)).Item()
	}
	Sum(RowSquaredL2(NormalizeRows(x, 1e-8), target)).Backward()
	assertGradClose(t, numericGrad(f, x.Data), x.Grad)
}

func TestNormalizeRows_ZeroRow(t *testing.T) {
	x := New([]float32{0, 0}, 1, 2)
	y := NormalizeRows(x, 1e-8)
	assert.Equal(t, []float32{0, 0}, y.Data)
}

func TestMean(t *testing.T) {
	x := Param([]float32{1, 2, 3, 6})
	m := Mean(x)
	assert.Equal(t, []int{}, m.Shape())
	assert.InDelta(t, 3, m.Item(), 1e-6)

	m.Backward()
	assert.Equal(t, []float32{0.25, 0.25, 0.25, 0.25}, x.Grad)
}

func TestBackward_LeafAccumulates(t *testing.T) {
	x := Param([]float32{1, 2})

	Sum(x).Backward()
	Sum(x).Backward()
	assert.Equal(t, []float32{2, 2}, x.Grad)

	x.ZeroGrad()
	assert.Equal(t, []float32{0, 0}, x.Grad)
}

func TestBackward_SharedSubgraph(t *testing.T) {
	x := Param([]float32{2})
	y := Mul(x, x)        // x^2
	out := Sum(Add(y, y)) // 2x^2
	out.Backward()
	assert.InDelta(t, 8, x.Grad[0], 1e-6)
}

func TestBackward_Constant(t *testing.T) {
	x := New([]float32{1, 2})
	assert.NotPanics(t, func() { Sum(x).Backward() })
	assert.Panics(t, func() { Param([]float32{1, 2}).Backward() })
}
