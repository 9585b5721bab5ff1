// Package vqgo provides a differentiable vector quantization layer.
//
// A VectorQuant maps continuous feature vectors onto a finite, learnable
// codebook. The forward pass assigns every vector to its nearest code and
// returns a straight-through output: numerically the quantized vectors, but
// with the gradient of the identity with respect to the input. The pass also
// returns a scalar loss that trains both sides:
//
//	loss = (1−beta)·mean‖z − sg(z_q)‖² + beta·mean‖sg(z) − z_q‖²
//
// where sg stops gradients.
//
// # Quick Start
//
//	vq, _ := vqgo.New(64, 512, vqgo.WithBeta(0.95))
//
//	z := autograd.Param(data, batch, tokens, 64) // encoder output
//	zq, diag, err := vq.Forward(z)
//	if err != nil {
//	    return err
//	}
//
//	// zq feeds the decoder; diag.Loss joins the training objective.
//	diag.Loss.Backward()
//
// Gradients accumulate in the tensors returned by Parameters; applying them
// is left to the caller's optimizer.
//
// # Groups
//
// WithGroups(G) splits every input vector of size G·F into G sub-vectors of
// size F, each quantized against the same codebook.
//
// # Calibration
//
// WithAffineLR(lr) enables affine calibration: the codebook is recentred and
// rescaled to the running statistics of the encoder output before every
// search, and a learnable residual scaled by lr refines the map. The stored
// codes are untouched; Codebook returns the calibrated view.
//
// # Dead Codes
//
// WithReplaceFreq(n) replaces codes whose usage rate over the last n passes
// is below WithReplaceRho with recent encoder outputs. Replacement runs at the
// start of the next Forward so that it never interleaves with a backward pass.
//
// # Concurrency
//
// A VectorQuant is not safe for concurrent Forward calls. The nearest-code
// search itself runs chunks of the batch in parallel.
package vqgo
