// Package kmeans implements k-means clustering for codebook initialization.
//
// Used by the quantizer to seed codes from the first training batch.
package kmeans
