// Package pool provides reusable scratch buffers for chunked code search.
// Uses sync.Pool so concurrent chunk workers reuse memory across searches.
package pool

import "sync"

// MaxRetained is the largest buffer (in float32 elements) returned to the pool.
// Larger buffers are dropped so one oversized batch does not pin memory.
const MaxRetained = 1 << 22

// Scratch contains per-chunk buffers for one search worker.
type Scratch struct {
	// Sims holds the rows x codes similarity block.
	Sims []float32
	// Dists holds the distances of one row to every code.
	Dists []float32
	// Rows holds a contiguous, possibly rounded copy of the chunk.
	Rows []float32
	// Norms holds squared row norms of the chunk.
	Norms []float32
}

var scratchPool = sync.Pool{
	New: func() any { return &Scratch{} },
}

// Get returns a Scratch from the pool.
func Get() *Scratch {
	return scratchPool.Get().(*Scratch)
}

// Put returns s to the pool. Oversized buffers are released.
func Put(s *Scratch) {
	if s == nil {
		return
	}
	s.Sims = trim(s.Sims)
	s.Dists = trim(s.Dists)
	s.Rows = trim(s.Rows)
	s.Norms = trim(s.Norms)
	scratchPool.Put(s)
}

// Grow returns buf resliced to n elements, reallocating when its capacity is
// too small. Contents are not preserved.
func Grow(buf []float32, n int) []float32 {
	if cap(buf) < n {
		return make([]float32, n)
	}
	return buf[:n]
}

func trim(buf []float32) []float32 {
	if cap(buf) > MaxRetained {
		return nil
	}
	return buf[:0]
}
