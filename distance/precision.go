package distance

import (
	"fmt"
	"strings"

	"github.com/x448/float16"

	"github.com/hupe1980/vqgo/internal/simd"
)

// Precision selects the arithmetic precision of the search operands.
type Precision int

const (
	// PrecisionFull computes distances on float32 operands.
	PrecisionFull Precision = iota
	// PrecisionHalf rounds operands to IEEE binary16 before the matrix product.
	// Accumulation stays in float32.
	PrecisionHalf
	// PrecisionAuto selects PrecisionHalf on hosts with wide SIMD units
	// (AVX-512, SVE2) and PrecisionFull elsewhere.
	PrecisionAuto
)

func (p Precision) String() string {
	switch p {
	case PrecisionFull:
		return "full"
	case PrecisionHalf:
		return "half"
	case PrecisionAuto:
		return "auto"
	default:
		return fmt.Sprintf("Unknown(%d)", p)
	}
}

// ParsePrecision parses "full", "half" or "auto" (case-insensitive).
func ParsePrecision(s string) (Precision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "full":
		return PrecisionFull, nil
	case "half":
		return PrecisionHalf, nil
	case "auto":
		return PrecisionAuto, nil
	default:
		return PrecisionFull, fmt.Errorf("unknown precision %q", s)
	}
}

// Resolve maps PrecisionAuto to a concrete precision for this host.
func (p Precision) Resolve() Precision {
	if p != PrecisionAuto {
		return p
	}
	if simd.Accelerated() {
		return PrecisionHalf
	}
	return PrecisionFull
}

// roundHalf writes src rounded through binary16 into dst.
func roundHalf(dst, src []float32) {
	for i, v := range src {
		dst[i] = float16.Fromfloat32(v).Float32()
	}
}
