// Package distance provides the distance metrics and the batched nearest-code
// search consumed by the quantization engine.
//
// Pairwise kernels use github.com/viterin/vek, which dispatches to AVX2/AVX-512
// when available. Batched search computes X·Cᵀ with gonum's blas32.Gemm one
// chunk of rows at a time, so peak memory stays at ChunkSize*numCodes floats
// per worker regardless of batch size.
//
// # Supported Metrics
//
//   - MetricL2: Squared Euclidean distance (default)
//   - MetricCosine: 1 - cosine similarity
//   - MetricDot: negated inner product
//
// Every metric is reported so that smaller means nearer.
//
// # Usage
//
//	s, _ := distance.NewExhaustive(distance.MetricL2)
//	res, err := s.Search(x, codebook, distance.SearchOptions{ChunkSize: 512})
//	// res.Index[i] is the nearest code of row i, res.Distance[i] its distance
//
// # Reduced Precision
//
// PrecisionHalf rounds both operands to IEEE binary16 before the product while
// accumulating in float32. The discrete result follows the same tie-break
// rule (lower index first) as full precision.
package distance
