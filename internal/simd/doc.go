// Package simd reports the SIMD capabilities of the host CPU.
//
// The vector kernels themselves live in github.com/viterin/vek and gonum's
// blas32; this package only decides whether the host counts as accelerated
// hardware, which selects reduced-precision search when the caller asks
// for automatic precision.
//
// # Supported Platforms
//
//   - x86-64: AVX2+FMA, AVX-512 (F+BW)
//   - ARM64: NEON, SVE2
//
// Set VQGO_SIMD=generic|neon|sve2|avx2|avx512 to override detection.
// An override naming an ISA the CPU lacks is ignored.
package simd
