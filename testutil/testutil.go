package testutil

import (
	"math"
	"math/rand"
	"sync"

	"github.com/hupe1980/vqgo/autograd"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// FillUniformRange fills dst with random values in range [minVal, maxVal).
func (r *RNG) FillUniformRange(dst []float32, minVal, maxVal float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	span := maxVal - minVal
	for i := range dst {
		dst[i] = minVal + r.rand.Float32()*span
	}
}

// FillGaussian fills dst with values from a normal distribution.
func (r *RNG) FillGaussian(dst []float32, mean, std float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range dst {
		dst[i] = mean + float32(r.rand.NormFloat64())*std
	}
}

// Batch returns a constant tensor of the given shape with values in [-1, 1).
func (r *RNG) Batch(shape ...int) *autograd.Tensor {
	n := 1
	for _, d := range shape {
		n *= d
	}
	data := make([]float32, n)
	r.FillUniformRange(data, -1, 1)
	return autograd.New(data, shape...)
}

// ClusteredRows generates num rows of width dim spread around `clusters`
// centroids drawn from [-scale, scale). Row i belongs to cluster i%clusters.
// It returns the flattened rows and the centroids.
func (r *RNG) ClusteredRows(num, dim, clusters int, scale, spread float32) ([]float32, []float32) {
	centroids := make([]float32, clusters*dim)
	r.FillUniformRange(centroids, -scale, scale)

	r.mu.Lock()
	defer r.mu.Unlock()

	rows := make([]float32, num*dim)
	for i := range num {
		c := centroids[(i%clusters)*dim : (i%clusters+1)*dim]
		for j := range dim {
			rows[i*dim+j] = c[j] + float32(r.rand.NormFloat64())*spread
		}
	}
	return rows, centroids
}

// NumericGrad estimates d f / d p with central differences of step h.
// p is perturbed in place and restored.
func NumericGrad(f func() float32, p []float32, h float32) []float32 {
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

// MaxAbsDiff returns the largest absolute element-wise difference.
func MaxAbsDiff(a, b []float32) float64 {
	var m float64
	for i := range a {
		m = math.Max(m, math.Abs(float64(a[i]-b[i])))
	}
	return m
}
