package replacement

import (
	"errors"
	"fmt"
	"math/rand"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"
	"gonum.org/v1/gonum/blas/blas32"
)

// ErrNoInputs is returned by Replace when no input vectors have been observed.
var ErrNoInputs = errors.New("replacement: no observed inputs")

// Store is the codebook surface a Policy writes to.
type Store interface {
	NumCodes() int
	FeatureSize() int
	SetRow(i int, v []float32) error
}

// Policy decides when and which codes to replace.
type Policy interface {
	// Observe records the assignments q of the rows of inputs.
	Observe(q []int, inputs blas32.General) error
	// Due reports whether a replacement should run.
	Due() bool
	// Replace overwrites dead codes in store and returns their indices
	// in ascending order. It starts a new observation window.
	Replace(store Store) ([]int, error)
}

// LRUOptions configures an LRU policy.
type LRUOptions struct {
	// Period is the number of observed calls per window.
	Period int
	// Rho is the usage-rate threshold below which a code is dead.
	Rho float64
	// Seed drives the choice of replacement vectors.
	Seed int64
}

// LRU replaces codes whose share of assignments within a window falls below
// Rho. Dead codes are overwritten with recent inputs assigned to live codes.
//
// It is not safe for concurrent use.
type LRU struct {
	opts     LRUOptions
	numCodes int
	rng      *rand.Rand

	calls       int
	assignments int
	counts      []int
	used        *roaring.Bitmap

	// latest observed batch
	lastQ      []int
	lastInputs []float32
	lastCols   int
}

var _ Policy = (*LRU)(nil)

// NewLRU creates an LRU policy for a codebook of numCodes codes.
func NewLRU(numCodes int, opts LRUOptions) (*LRU, error) {
	if numCodes <= 0 {
		return nil, fmt.Errorf("replacement: invalid number of codes %d", numCodes)
	}
	if opts.Period <= 0 {
		return nil, fmt.Errorf("replacement: period must be > 0, got %d", opts.Period)
	}
	if !(opts.Rho >= 0 && opts.Rho <= 1) {
		return nil, fmt.Errorf("replacement: rho must be in [0, 1], got %v", opts.Rho)
	}
	return &LRU{
		opts:     opts,
		numCodes: numCodes,
		rng:      rand.New(rand.NewSource(opts.Seed)),
		counts:   make([]int, numCodes),
		used:     roaring.New(),
	}, nil
}

// Observe implements Policy.
func (l *LRU) Observe(q []int, inputs blas32.General) error {
	if len(q) != inputs.Rows {
		return fmt.Errorf("replacement: %d assignments for %d inputs", len(q), inputs.Rows)
	}
	for _, c := range q {
		if c < 0 || c >= l.numCodes {
			return fmt.Errorf("replacement: code %d out of range [0, %d)", c, l.numCodes)
		}
	}

	for _, c := range q {
		l.counts[c]++
		l.used.Add(uint32(c))
	}
	l.assignments += len(q)
	l.calls++

	l.lastQ = slices.Clone(q)
	l.lastCols = inputs.Cols
	l.lastInputs = make([]float32, inputs.Rows*inputs.Cols)
	for r := range inputs.Rows {
		copy(l.lastInputs[r*inputs.Cols:(r+1)*inputs.Cols], inputs.Data[r*inputs.Stride:r*inputs.Stride+inputs.Cols])
	}
	return nil
}

// Due implements Policy.
func (l *LRU) Due() bool {
	return l.calls >= l.opts.Period
}

// Dead returns the codes whose usage rate in the current window is below Rho.
// An empty window has no dead codes.
func (l *LRU) Dead() *roaring.Bitmap {
	dead := roaring.New()
	if l.assignments == 0 {
		return dead
	}
	for c := range l.numCodes {
		if !l.used.Contains(uint32(c)) {
			dead.Add(uint32(c))
			continue
		}
		if float64(l.counts[c])/float64(l.assignments) < l.opts.Rho {
			dead.Add(uint32(c))
		}
	}
	return dead
}

// Replace implements Policy.
func (l *LRU) Replace(store Store) ([]int, error) {
	if store.NumCodes() != l.numCodes {
		return nil, fmt.Errorf("replacement: store has %d codes, policy tracks %d", store.NumCodes(), l.numCodes)
	}
	if len(l.lastQ) == 0 {
		return nil, ErrNoInputs
	}
	if l.lastCols != store.FeatureSize() {
		return nil, fmt.Errorf("replacement: inputs of width %d for codes of width %d", l.lastCols, store.FeatureSize())
	}

	dead := l.Dead()

	// Prefer inputs currently served by live codes.
	var candidates []int
	for i, c := range l.lastQ {
		if !dead.Contains(uint32(c)) {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		candidates = make([]int, len(l.lastQ))
		for i := range candidates {
			candidates[i] = i
		}
	}

	replaced := make([]int, 0, dead.GetCardinality())
	it := dead.Iterator()
	for it.HasNext() {
		code := int(it.Next())
		row := candidates[l.rng.Intn(len(candidates))]
		if err := store.SetRow(code, l.lastInputs[row*l.lastCols:(row+1)*l.lastCols]); err != nil {
			return replaced, err
		}
		replaced = append(replaced, code)
	}

	l.reset()
	return replaced, nil
}

func (l *LRU) reset() {
	l.calls = 0
	l.assignments = 0
	clear(l.counts)
	l.used.Clear()
}
