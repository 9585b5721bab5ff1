package distance

import (
	"errors"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/hupe1980/vqgo/internal/pool"
)

// DefaultChunkSize is the number of query rows processed per matrix product.
const DefaultChunkSize = 1024

var (
	// ErrInvalidTopK is returned when k is not in [1, numCodes].
	ErrInvalidTopK = errors.New("topk must be in [1, number of codes]")

	// ErrEmptyCodebook is returned when the codebook has no rows.
	ErrEmptyCodebook = errors.New("codebook is empty")
)

// ErrDimensionMismatch indicates that query vectors and codes differ in size.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// SearchOptions controls a batched nearest-code search.
type SearchOptions struct {
	// TopK is the number of nearest codes returned per vector. 0 means 1.
	TopK int
	// ChunkSize bounds the number of query rows per matrix product,
	// which bounds peak memory at ChunkSize*numCodes distances per worker.
	// 0 means DefaultChunkSize.
	ChunkSize int
	// Precision selects full or reduced precision operands.
	Precision Precision
	// Workers bounds the number of chunks searched in parallel.
	// 0 means GOMAXPROCS.
	Workers int
}

// SearchResult holds per-vector distances and code indices, row-major with
// TopK entries per vector sorted nearest first.
type SearchResult struct {
	Distance []float32
	Index    []int
	TopK     int
}

// Searcher finds the nearest codes for a batch of vectors.
//
// Implementations must be deterministic for fixed inputs and break ties
// in a fixed order.
type Searcher interface {
	Search(x, codebook blas32.General, opts SearchOptions) (*SearchResult, error)
}

// Exhaustive compares every vector with every code.
//
// Distances come from a blocked matrix product X·Cᵀ per chunk of rows.
// Ties are broken in favour of the lower code index.
type Exhaustive struct {
	metric Metric
}

var _ Searcher = (*Exhaustive)(nil)

// NewExhaustive creates an exhaustive searcher for the metric.
func NewExhaustive(m Metric) (*Exhaustive, error) {
	if _, err := Provider(m); err != nil {
		return nil, err
	}
	return &Exhaustive{metric: m}, nil
}

// Metric returns the metric used for ranking.
func (e *Exhaustive) Metric() Metric {
	return e.metric
}

// Search implements Searcher.
func (e *Exhaustive) Search(x, codebook blas32.General, opts SearchOptions) (*SearchResult, error) {
	if codebook.Rows == 0 {
		return nil, ErrEmptyCodebook
	}
	if x.Cols != codebook.Cols {
		return nil, &ErrDimensionMismatch{Expected: codebook.Cols, Actual: x.Cols}
	}

	k := opts.TopK
	if k == 0 {
		k = 1
	}
	if k < 1 || k > codebook.Rows {
		return nil, fmt.Errorf("%w: got %d for %d codes", ErrInvalidTopK, k, codebook.Rows)
	}

	chunk := opts.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	half := opts.Precision.Resolve() == PrecisionHalf

	cb := compact(codebook, half)
	cbNorms := rowNorms(cb)

	res := &SearchResult{
		Distance: make([]float32, x.Rows*k),
		Index:    make([]int, x.Rows*k),
		TopK:     k,
	}

	var g errgroup.Group
	g.SetLimit(workers)

	for lo := 0; lo < x.Rows; lo += chunk {
		hi := min(lo+chunk, x.Rows)
		g.Go(func() error {
			e.searchChunk(x, cb, cbNorms, lo, hi, half, res)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}

func (e *Exhaustive) searchChunk(x, cb blas32.General, cbNorms []float32, lo, hi int, half bool, res *SearchResult) {
	scratch := pool.Get()
	defer pool.Put(scratch)

	rows := hi - lo
	xc := rowRange(x, lo, hi)
	if half {
		scratch.Rows = pool.Grow(scratch.Rows, rows*x.Cols)
		xc = compactInto(scratch.Rows, xc)
	}
	scratch.Norms = pool.Grow(scratch.Norms, rows)
	xNorms := rowNormsInto(scratch.Norms, xc)

	scratch.Sims = pool.Grow(scratch.Sims, rows*cb.Rows)
	sims := blas32.General{Rows: rows, Cols: cb.Rows, Stride: cb.Rows, Data: scratch.Sims}
	blas32.Gemm(blas.NoTrans, blas.Trans, 1, xc, cb, 0, sims)

	k := res.TopK
	scratch.Dists = pool.Grow(scratch.Dists, cb.Rows)
	dists := scratch.Dists
	for r := range rows {
		row := sims.Data[r*cb.Rows : (r+1)*cb.Rows]
		for j, s := range row {
			dists[j] = e.fromSimilarity(s, xNorms[r], cbNorms[j])
		}
		out := (lo + r) * k
		selectTopK(dists, res.Distance[out:out+k], res.Index[out:out+k])
	}
}

// fromSimilarity converts the inner product s into a distance where smaller is nearer.
func (e *Exhaustive) fromSimilarity(s, xNorm, cNorm float32) float32 {
	switch e.metric {
	case MetricDot:
		return -s
	case MetricCosine:
		if xNorm == 0 || cNorm == 0 {
			return 1
		}
		return 1 - s/float32(math.Sqrt(float64(xNorm)*float64(cNorm)))
	default:
		d := xNorm + cNorm - 2*s
		if d < 0 {
			d = 0
		}
		return d
	}
}

// selectTopK writes the len(outDist) smallest entries of dists in ascending
// order. Equal distances keep the lower index first; NaN ranks last.
func selectTopK(dists []float32, outDist []float32, outIdx []int) {
	k := len(outDist)
	n := 0
	for j, d := range dists {
		if d != d {
			d = float32(math.Inf(1))
		}
		var pos int
		if n < k {
			pos = n
			n++
		} else {
			if !(d < outDist[k-1]) {
				continue
			}
			pos = k - 1
		}
		for pos > 0 && d < outDist[pos-1] {
			outDist[pos], outIdx[pos] = outDist[pos-1], outIdx[pos-1]
			pos--
		}
		outDist[pos], outIdx[pos] = d, j
	}
}

// rowRange returns rows [lo, hi) of m.
func rowRange(m blas32.General, lo, hi int) blas32.General {
	if hi == lo {
		return blas32.General{Cols: m.Cols, Stride: m.Stride}
	}
	return blas32.General{
		Rows:   hi - lo,
		Cols:   m.Cols,
		Stride: m.Stride,
		Data:   m.Data[lo*m.Stride : (hi-1)*m.Stride+m.Cols],
	}
}

// compact returns m unchanged, or a contiguous binary16-rounded copy when half is set.
func compact(m blas32.General, half bool) blas32.General {
	if !half {
		return m
	}
	return compactInto(make([]float32, m.Rows*m.Cols), m)
}

// compactInto writes a contiguous binary16-rounded copy of m into dst.
func compactInto(dst []float32, m blas32.General) blas32.General {
	out := blas32.General{Rows: m.Rows, Cols: m.Cols, Stride: m.Cols, Data: dst[:m.Rows*m.Cols]}
	for r := range m.Rows {
		roundHalf(out.Data[r*m.Cols:(r+1)*m.Cols], m.Data[r*m.Stride:r*m.Stride+m.Cols])
	}
	return out
}

func rowNorms(m blas32.General) []float32 {
	return rowNormsInto(make([]float32, m.Rows), m)
}

func rowNormsInto(dst []float32, m blas32.General) []float32 {
	for r := range m.Rows {
		v := blas32.Vector{N: m.Cols, Inc: 1, Data: m.Data[r*m.Stride : r*m.Stride+m.Cols]}
		dst[r] = blas32.Dot(v, v)
	}
	return dst
}
