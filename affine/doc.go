// Package affine recalibrates a codebook to the distribution of its inputs.
//
// A Calibrator keeps exponential moving averages of the per-feature mean and
// variance of both the encoder output and the codebook. At read time each code
// c is mapped to
//
//	c' = ((c·s_r + b_r) ⊙ (1 + lr·s)) + lr·b
//
// where s_r = sqrt(var_z / (var_c + 1e-8)) and b_r = mean_z − s_r·mean_c
// follow the running statistics, and s, b are learnable residuals scaled by lr.
// The stored codebook itself is never modified.
package affine
