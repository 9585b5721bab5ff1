package kmeans

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/hupe1980/vqgo/distance"
)

// TrainKMeans trains k centroids from the given vectors using Lloyd's algorithm.
// It returns the flattened centroids (k * dim), or nil when there are fewer
// vectors than centroids.
//
// Centroids are seeded with k-means++. rng drives seeding and empty-cluster
// recovery; a nil rng uses a fixed seed so that results are reproducible.
func TrainKMeans(ctx context.Context, vectors []float32, dim int, k int, metric distance.Metric, maxIter int, rng *rand.Rand) ([]float32, error) {
	if dim <= 0 || k <= 0 {
		return nil, fmt.Errorf("kmeans: invalid dim %d or k %d", dim, k)
	}

	distFunc, err := distance.Provider(metric)
	if err != nil {
		return nil, err
	}

	n := len(vectors) / dim
	if n < k {
		return nil, nil // Not enough vectors to cluster
	}

	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	centroids := seedPlusPlus(vectors, dim, k, distFunc, rng)

	assignments := make([]int, n)
	for i := range assignments {
		assignments[i] = -1
	}
	counts := make([]int, k)
	sums := make([]float32, k*dim)

	for iter := 0; iter < maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		changed := false

		// Assignment step
		for i := 0; i < n; i++ {
			best := nearest(vectors[i*dim:(i+1)*dim], centroids, dim, distFunc)
			if assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}

		if !changed {
			break
		}

		// Update step
		clear(sums)
		clear(counts)

		for i := 0; i < n; i++ {
			cluster := assignments[i]
			vec := vectors[i*dim : (i+1)*dim]
			for d := 0; d < dim; d++ {
				sums[cluster*dim+d] += vec[d]
			}
			counts[cluster]++
		}

		for j := 0; j < k; j++ {
			if counts[j] > 0 {
				scale := 1.0 / float32(counts[j])
				for d := 0; d < dim; d++ {
					centroids[j*dim+d] = sums[j*dim+d] * scale
				}
			} else {
				// Re-seed an empty cluster with a random point
				idx := rng.Intn(n)
				copy(centroids[j*dim:(j+1)*dim], vectors[idx*dim:(idx+1)*dim])
			}
		}
	}

	return centroids, nil
}

// seedPlusPlus picks k initial centroids with k-means++: each next centroid
// is sampled with probability proportional to its distance from the nearest
// centroid chosen so far.
func seedPlusPlus(vectors []float32, dim, k int, distFunc distance.Func, rng *rand.Rand) []float32 {
	n := len(vectors) / dim
	centroids := make([]float32, k*dim)

	first := rng.Intn(n)
	copy(centroids[:dim], vectors[first*dim:(first+1)*dim])

	minDist := make([]float64, n)
	for i := range n {
		minDist[i] = math.Inf(1)
	}

	for c := 1; c < k; c++ {
		prev := centroids[(c-1)*dim : c*dim]
		var total float64
		for i := range n {
			if d := float64(distFunc(vectors[i*dim:(i+1)*dim], prev)); d < minDist[i] {
				minDist[i] = d
			}
			total += math.Max(minDist[i], 0)
		}

		pick := rng.Intn(n)
		if total > 0 {
			target := rng.Float64() * total
			for i := range n {
				target -= math.Max(minDist[i], 0)
				if target <= 0 {
					pick = i
					break
				}
			}
		}
		copy(centroids[c*dim:(c+1)*dim], vectors[pick*dim:(pick+1)*dim])
	}
	return centroids
}

func nearest(vec, centroids []float32, dim int, distFunc distance.Func) int {
	k := len(centroids) / dim
	best := -1
	minDist := float32(math.Inf(1))
	for j := 0; j < k; j++ {
		if d := distFunc(vec, centroids[j*dim:(j+1)*dim]); d < minDist || best < 0 {
			minDist = d
			best = j
		}
	}
	return best
}
