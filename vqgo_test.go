package vqgo

import (
	"bytes"
	"errors"
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/hupe1980/vqgo/affine"
	"github.com/hupe1980/vqgo/autograd"
	"github.com/hupe1980/vqgo/distance"
	"github.com/hupe1980/vqgo/replacement"
	"github.com/hupe1980/vqgo/testutil"
)

func ones(n int) []float32 {
	g := make([]float32, n)
	for i := range g {
		g[i] = 1
	}
	return g
}

func randomParam(rng *testutil.RNG, shape ...int) *autograd.Tensor {
	b := rng.Batch(shape...)
	return autograd.Param(b.Data, shape...)
}

func TestNew_Beta(t *testing.T) {
	tests := []struct {
		name    string
		beta    float32
		wantErr bool
	}{
		{"Zero", 0, false},
		{"One", 1, false},
		{"Default", DefaultBeta, false},
		{"Negative", -0.1, true},
		{"AboveOne", 1.5, true},
		{"NaN", float32(math.NaN()), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vq, err := New(4, 3, WithBeta(tt.beta))
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, tt.beta, vq.Beta())
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)

			var ce *ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, "beta", ce.Field)
		})
	}

	_, err := New(4, 3, WithBeta(1.5))
	assert.Contains(t, err.Error(), "1.5")
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		featureSize int
		numCodes    int
		opt         Option
		field       string
	}{
		{"FeatureSize", 0, 3, nil, "feature_size"},
		{"NumCodes", 4, 0, nil, "num_codes"},
		{"SyncNu", 4, 3, WithSyncNu(-1), "sync_nu"},
		{"AffineLR", 4, 3, WithAffineLR(-0.1), "affine_lr"},
		{"AffineMomentum", 4, 3, WithAffineMomentum(2), "affine_momentum"},
		{"ReplaceFreq", 4, 3, WithReplaceFreq(-1), "replace_freq"},
		{"ReplaceRho", 4, 3, WithReplaceRho(1.1), "replace_rho"},
		{"Groups", 4, 3, WithGroups(0), "groups"},
		{"ChunkSize", 4, 3, WithComputeChunkSize(0), "compute_chunk_size"},
		{"SearchWorkers", 4, 3, WithSearchWorkers(-1), "search_workers"},
		{"Precision", 4, 3, WithPrecision(distance.Precision(9)), "precision"},
		{"InputNorm", 4, 3, WithInputNorm(Norm(9)), "input_norm"},
		{"CodebookNorm", 4, 3, WithCodebookNorm(Norm(9)), "codebook_norm"},
		{"KMeansIters", 4, 3, WithKMeansInit(-1), "kmeans_iters"},
		{"InitStd", 4, 3, WithInitStd(-1), "init_std"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.featureSize, tt.numCodes, tt.opt)
			var ce *ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	vq, err := New(4, 3)
	require.NoError(t, err)

	assert.Equal(t, 4, vq.FeatureSize())
	assert.Equal(t, 3, vq.NumCodes())
	assert.Equal(t, 1, vq.Groups())
	assert.Equal(t, float32(DefaultBeta), vq.Beta())
	assert.Equal(t, float32(0), vq.SyncNu())
	assert.True(t, vq.Enabled())
	assert.Len(t, vq.Parameters(), 1)

	_, ok := vq.AffineParams()
	assert.False(t, ok)
}

// All-zero input against a fixed codebook: every vector picks the code
// nearest the origin and the loss equals its squared norm.
func TestForward_ZeroInput(t *testing.T) {
	vq, err := New(4, 3, WithBeta(0.5))
	require.NoError(t, err)
	require.NoError(t, vq.Store().InitFrom([]float32{
		1, 1, 1, 1,
		0.5, 0, 0, 0,
		2, 2, 2, 2,
	}))

	z := autograd.Zeros(2, 5, 4)
	out, diag, err := vq.Forward(z)
	require.NoError(t, err)

	assert.Equal(t, []int{2, 5, 4}, out.Shape())
	assert.Equal(t, []int{2, 5}, diag.Shape)
	require.Len(t, diag.Q, 10)
	for i := range diag.Q {
		assert.Equal(t, 1, diag.Q[i])
		assert.InDelta(t, 0.25, diag.D[i], 1e-6)
	}
	for i := range 10 {
		assert.Equal(t, []float32{0.5, 0, 0, 0}, diag.ZQ.Data[i*4:(i+1)*4])
		assert.InDeltaSlice(t, []float32{0.5, 0, 0, 0}, out.Data[i*4:(i+1)*4], 1e-7)
	}
	assert.Equal(t, 0, diag.Loss.Rank())
	assert.InDelta(t, 0.25, diag.Loss.Item(), 1e-6)
	assert.Nil(t, diag.Perplexity)
}

func TestForward_Disabled(t *testing.T) {
	rng := testutil.NewRNG(1)
	vq, err := New(4, 3, WithEnabled(false))
	require.NoError(t, err)

	z := randomParam(rng, 2, 3, 4)
	out, diag, err := vq.Forward(z)
	require.NoError(t, err)

	assert.Equal(t, z.Shape(), out.Shape())
	assert.Equal(t, z.Data, out.Data)
	assert.True(t, diag.Empty())
	assert.Equal(t, int64(0), vq.Calls())

	out.BackwardWith(ones(out.Len()))
	assert.Equal(t, ones(z.Len()), z.Grad)

	vq.SetEnabled(true)
	_, diag, err = vq.Forward(z)
	require.NoError(t, err)
	assert.False(t, diag.Empty())
}

func TestForward_GatherAndStraightThrough(t *testing.T) {
	for _, affineLR := range []float32{0, 0.5} {
		rng := testutil.NewRNG(2)
		vq, err := New(8, 16, WithSeed(3), WithAffineLR(affineLR), WithComputeChunkSize(5))
		require.NoError(t, err)

		z := randomParam(rng, 3, 7, 8)
		out, diag, err := vq.Forward(z)
		require.NoError(t, err)

		cb := vq.CodebookTensor()
		require.Len(t, diag.Q, 21)
		for i, c := range diag.Q {
			require.GreaterOrEqual(t, c, 0)
			require.Less(t, c, 16)
			assert.Equal(t, cb.Data[c*8:(c+1)*8], diag.ZQ.Data[i*8:(i+1)*8])
			assert.InDelta(t, distance.SquaredL2(z.Data[i*8:(i+1)*8], cb.Data[c*8:(c+1)*8]), diag.D[i], 1e-4)
		}
		assert.InDeltaSlice(t, diag.ZQ.Data, out.Data, 1e-6)
		assert.GreaterOrEqual(t, diag.Loss.Item(), float32(0))
		assert.Equal(t, int64(1), vq.Calls())
	}
}

func TestForward_StraightThroughGradients(t *testing.T) {
	rng := testutil.NewRNG(4)
	vq, err := New(4, 5, WithSeed(1))
	require.NoError(t, err)

	z := randomParam(rng, 2, 3, 4)
	out, _, err := vq.Forward(z)
	require.NoError(t, err)

	upstream := make([]float32, out.Len())
	rng.FillUniformRange(upstream, -1, 1)
	out.BackwardWith(upstream)

	assert.InDeltaSlice(t, upstream, z.Grad, 1e-6)
	assert.Equal(t, make([]float32, 5*4), vq.Store().Weight().Grad)
}

func TestForward_SyncNuGradients(t *testing.T) {
	const nu = 0.3
	rng := testutil.NewRNG(5)
	vq, err := New(4, 5, WithSeed(1), WithSyncNu(nu))
	require.NoError(t, err)

	z := randomParam(rng, 2, 3, 4)
	out, diag, err := vq.Forward(z)
	require.NoError(t, err)
	assert.InDeltaSlice(t, diag.ZQ.Data, out.Data, 1e-5)

	out.BackwardWith(ones(out.Len()))

	assert.InDeltaSlice(t, ones(z.Len()), z.Grad, 1e-6)

	want := make([]float32, 5*4)
	for _, c := range diag.Q {
		for j := range 4 {
			want[c*4+j] += nu
		}
	}
	assert.InDeltaSlice(t, want, vq.Store().Weight().Grad, 1e-5)
}

func TestComputeLoss_Beta(t *testing.T) {
	rng := testutil.NewRNG(6)

	for _, beta := range []float32{0, 0.25, 1} {
		vq, err := New(4, 3, WithSeed(2), WithBeta(beta))
		require.NoError(t, err)

		z := randomParam(rng, 2, 5, 4)
		_, diag, err := vq.Forward(z)
		require.NoError(t, err)

		commitment := autograd.Mean(autograd.RowSquaredL2(diag.Z.Detach(), diag.ZQ.Detach())).Item()
		assert.InDelta(t, commitment, diag.Loss.Item(), 1e-5)

		diag.Loss.Backward()
		cbGrad := vq.Store().Weight().Grad

		switch beta {
		case 0:
			assert.Equal(t, commitment, diag.Loss.Item())
			assert.Equal(t, make([]float32, len(cbGrad)), cbGrad)
			assert.NotEqual(t, make([]float32, z.Len()), z.Grad)
		case 1:
			assert.Equal(t, commitment, diag.Loss.Item())
			assert.Equal(t, make([]float32, z.Len()), z.Grad)
			assert.NotEqual(t, make([]float32, len(cbGrad)), cbGrad)
		}
	}
}

func TestComputeLoss_NumericGradient(t *testing.T) {
	rng := testutil.NewRNG(7)
	vq, err := New(3, 4, WithBeta(0.3))
	require.NoError(t, err)

	ze := randomParam(rng, 5, 3)
	zq := randomParam(rng, 5, 3)
	vq.ComputeLoss(ze, zq).Backward()

	// With ze and zq independent, d loss/d ze = (1-beta)·2(ze-zq)/n and
	// d loss/d zq = beta·2(zq-ze)/n.
	for i := range ze.Data {
		diff := ze.Data[i] - zq.Data[i]
		assert.InDelta(t, 0.7*2*diff/5, ze.Grad[i], 1e-5)
		assert.InDelta(t, 0.3*2*-diff/5, zq.Grad[i], 1e-5)
	}

	f := func() float32 { return vq.ComputeLoss(ze.Detach(), zq.Detach()).Item() }
	numeric := testutil.NumericGrad(f, ze.Data, 1e-2)
	// Both terms move with ze when evaluated without stop-gradients.
	for i := range numeric {
		assert.InDelta(t, 2*(ze.Data[i]-zq.Data[i])/5, numeric[i], 1e-2)
	}
}

func TestForward_Groups(t *testing.T) {
	rng := testutil.NewRNG(8)
	vq, err := New(4, 6, WithGroups(2), WithSeed(4))
	require.NoError(t, err)

	z := randomParam(rng, 2, 3, 8)
	out, diag, err := vq.Forward(z)
	require.NoError(t, err)

	assert.Equal(t, []int{2, 3, 8}, out.Shape())
	assert.Equal(t, []int{2, 6, 4}, diag.Z.Shape())
	assert.Equal(t, []int{2, 6}, diag.Shape)
	assert.Len(t, diag.Q, 12)

	// The second half of input vector (0, 1) is grouped vector 3.
	cb := vq.CodebookTensor()
	c := diag.Q[3]
	assert.InDeltaSlice(t, cb.Data[c*4:(c+1)*4], out.Data[12:16], 1e-6)
}

func TestForward_HigherRank(t *testing.T) {
	rng := testutil.NewRNG(9)
	vq, err := New(2, 4)
	require.NoError(t, err)

	z := randomParam(rng, 2, 3, 2, 2)
	out, diag, err := vq.Forward(z)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 2, 2}, out.Shape())
	assert.Equal(t, []int{2, 6}, diag.Shape)
}

func TestForward_InvalidShape(t *testing.T) {
	vq, err := New(4, 3, WithGroups(2))
	require.NoError(t, err)

	tests := []struct {
		name  string
		input *autograd.Tensor
	}{
		{"Nil", nil},
		{"Rank2", autograd.Zeros(2, 8)},
		{"NotDivisible", autograd.Zeros(2, 3, 7)},
		{"FeatureMismatch", autograd.Zeros(2, 3, 6)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := vq.Forward(tt.input)
			assert.ErrorIs(t, err, ErrInvalidShape)

			var se *ShapeError
			assert.ErrorAs(t, err, &se)
		})
	}
}

type failingSearcher struct{ err error }

func (f failingSearcher) Search(blas32.General, blas32.General, distance.SearchOptions) (*distance.SearchResult, error) {
	return nil, f.err
}

func TestForward_SearchErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	metrics := &BasicMetricsCollector{}
	vq, err := New(4, 3, WithSearcher(failingSearcher{err: boom}), WithMetricsCollector(metrics))
	require.NoError(t, err)

	_, _, err = vq.Forward(autograd.Zeros(1, 2, 4))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(1), metrics.GetStats().ForwardErrors)
}

func TestCodebook(t *testing.T) {
	rng := testutil.NewRNG(10)

	t.Run("Plain", func(t *testing.T) {
		vq, err := New(4, 3, WithSeed(1))
		require.NoError(t, err)

		a, b := vq.Codebook(), vq.Codebook()
		assert.Len(t, a, 3)
		assert.Len(t, a[0], 4)
		assert.Equal(t, a, b)
		assert.Equal(t, vq.Store().Snapshot(), a)

		// Codebook returns a copy.
		a[0][0] = 99
		assert.NotEqual(t, float32(99), vq.Store().Weight().Data[0])
	})

	t.Run("Calibrated", func(t *testing.T) {
		vq, err := New(4, 3, WithSeed(1), WithAffineLR(0.1))
		require.NoError(t, err)
		assert.Len(t, vq.Parameters(), 3)

		// Identity before any statistics were collected.
		assert.Equal(t, vq.Store().Snapshot(), vq.Codebook())

		z := autograd.New(make([]float32, 2*6*4), 2, 6, 4)
		rng.FillGaussian(z.Data, 10, 2)
		_, _, err = vq.Forward(z)
		require.NoError(t, err)

		a := vq.Codebook()
		params, ok := vq.AffineParams()
		require.True(t, ok)
		assert.Len(t, a, 3)
		assert.NotEqual(t, vq.Store().Snapshot(), a)
		assert.Equal(t, a, vq.Codebook())

		again, _ := vq.AffineParams()
		assert.Equal(t, params, again)

		// The calibrated codes sit near the input mean.
		for _, row := range a {
			for _, v := range row {
				assert.InDelta(t, 10, v, 8)
			}
		}
	})
}

func TestForward_Replacement(t *testing.T) {
	rng := testutil.NewRNG(11)
	metrics := &BasicMetricsCollector{}
	vq, err := New(2, 4, WithReplaceFreq(1), WithReplaceRho(0.2), WithSeed(5), WithMetricsCollector(metrics))
	require.NoError(t, err)
	require.NoError(t, vq.Store().InitFrom([]float32{
		0, 0,
		100, 100,
		-100, 100,
		100, -100,
	}))

	z := autograd.New(make([]float32, 1*8*2), 1, 8, 2)
	rng.FillUniformRange(z.Data, -1, 1)

	_, diag, err := vq.Forward(z)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 0, 0, 0, 0, 0, 0}, diag.Q)
	// Replacement waits for the next pass.
	assert.Equal(t, float32(100), vq.Store().Weight().Data[2])

	_, _, err = vq.Forward(z)
	require.NoError(t, err)

	for c := 1; c < 4; c++ {
		row, err := vq.Store().Row(c)
		require.NoError(t, err)
		assert.Less(t, testutil.MaxAbsDiff(row, []float32{0, 0}), 1.0001)
	}
	stats := metrics.GetStats()
	assert.Equal(t, int64(1), stats.Replacements)
	assert.Equal(t, int64(3), stats.ReplacedCodes)
	assert.Equal(t, int64(2), stats.ForwardCount)
	assert.Equal(t, int64(16), stats.ForwardVectors)
}

func TestForward_KMeansInit(t *testing.T) {
	rows, _ := testutil.NewRNG(12).ClusteredRows(60, 3, 3, 10, 0.01)
	vq, err := New(3, 3, WithKMeansInit(25), WithSeed(6), WithInitStd(0.01))
	require.NoError(t, err)

	_, diag, err := vq.Forward(autograd.New(rows, 3, 20, 3))
	require.NoError(t, err)

	for _, d := range diag.D {
		assert.Less(t, d, float32(0.1))
	}
}

func TestInitCodebook_NotEnoughData(t *testing.T) {
	vq, err := New(2, 4)
	require.NoError(t, err)

	err = vq.InitCodebook(t.Context(), []float32{1, 2})
	assert.ErrorIs(t, err, ErrNotEnoughData)

	err = vq.InitCodebook(t.Context(), []float32{1, 2, 3})
	assert.Error(t, err)
}

func TestForward_Normalization(t *testing.T) {
	rng := testutil.NewRNG(13)
	vq, err := New(4, 5, WithInputNorm(NormL2), WithCodebookNorm(NormL2), WithSeed(2))
	require.NoError(t, err)

	z := randomParam(rng, 2, 3, 4)
	_, diag, err := vq.Forward(z)
	require.NoError(t, err)

	for _, row := range vq.Codebook() {
		assert.InDelta(t, 1, distance.Dot(row, row), 1e-5)
	}
	for i := range 6 {
		v := diag.Z.Data[i*4 : (i+1)*4]
		assert.InDelta(t, 1, distance.Dot(v, v), 1e-5)
		// Unit vectors: squared distance lies in [0, 4].
		assert.LessOrEqual(t, diag.D[i], float32(4.0001))
	}
}

func TestForward_Logging(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	vq, err := New(4, 3, WithLogger(logger))
	require.NoError(t, err)

	_, _, err = vq.Forward(autograd.Zeros(1, 2, 4))
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "forward completed")
	assert.Contains(t, buf.String(), `"num_codes":3`)
}

func TestForward_KMeansInitWaitsForEnoughData(t *testing.T) {
	rows, _ := testutil.NewRNG(12).ClusteredRows(60, 3, 3, 10, 0.01)
	vq, err := New(3, 3, WithKMeansInit(25), WithSeed(6), WithInitStd(0.01))
	require.NoError(t, err)
	before := vq.Store().Snapshot()

	_, _, err = vq.Forward(autograd.New([]float32{1, 2, 3, 4, 5, 6}, 1, 2, 3))
	assert.ErrorIs(t, err, ErrNotEnoughData)
	assert.Equal(t, before, vq.Store().Snapshot())
	assert.Equal(t, int64(0), vq.Calls())

	// The next batch large enough to seed every code runs the init.
	_, diag, err := vq.Forward(autograd.New(rows, 3, 20, 3))
	require.NoError(t, err)
	assert.NotEqual(t, before, vq.Store().Snapshot())
	for _, d := range diag.D {
		assert.Less(t, d, float32(0.1))
	}
}

func TestQuantize_InvalidCodebook(t *testing.T) {
	vq, err := New(2, 4)
	require.NoError(t, err)
	z := autograd.Zeros(1, 3, 2)

	_, _, _, err = vq.Quantize(autograd.New(make([]float32, 8), 8), z)
	assert.ErrorIs(t, err, ErrInvalidShape)

	_, _, _, err = vq.Quantize(autograd.New(make([]float32, 12), 4, 3), z)
	var dm *distance.ErrDimensionMismatch
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, 2, dm.Expected)
	assert.Equal(t, 3, dm.Actual)

	_, _, _, err = vq.Quantize(nil, z)
	assert.ErrorIs(t, err, ErrInvalidShape)
}

// firstRowPolicy replaces code 0 with the first observed input on every pass.
type firstRowPolicy struct{ row []float32 }

func (p *firstRowPolicy) Observe(_ []int, inputs blas32.General) error {
	p.row = append(p.row[:0], inputs.Data[:inputs.Cols]...)
	return nil
}

func (p *firstRowPolicy) Due() bool { return true }

func (p *firstRowPolicy) Replace(store replacement.Store) ([]int, error) {
	return []int{0}, store.SetRow(0, p.row)
}

func TestReplacement_CalibratedCodeMatchesInput(t *testing.T) {
	rng := testutil.NewRNG(14)
	policy := &firstRowPolicy{}
	vq, err := New(2, 4, WithAffineLR(0.1), WithReplacementPolicy(policy), WithSeed(3))
	require.NoError(t, err)

	z := autograd.New(make([]float32, 8*2), 1, 8, 2)
	rng.FillGaussian(z.Data, 50, 0.5)
	_, _, err = vq.Forward(z)
	require.NoError(t, err)

	vq.applyReplacement()

	// The stored row lives in raw space; the searched code equals the input.
	assert.InDeltaSlice(t, policy.row, vq.Codebook()[0], 1e-3)
	raw, err := vq.Store().Row(0)
	require.NoError(t, err)
	assert.Greater(t, testutil.MaxAbsDiff(raw, policy.row), 1.0)
}

func TestForward_ReplacementWithCalibration(t *testing.T) {
	rng := testutil.NewRNG(15)
	metrics := &BasicMetricsCollector{}
	// With rho 0.3 a live code needs 3 of 8 assignments, so at least 2 codes die.
	vq, err := New(2, 4, WithAffineLR(0.1), WithReplaceFreq(1), WithReplaceRho(0.3),
		WithSeed(5), WithMetricsCollector(metrics))
	require.NoError(t, err)

	z := autograd.New(make([]float32, 8*2), 1, 8, 2)
	rng.FillGaussian(z.Data, 50, 0.5)
	_, _, err = vq.Forward(z)
	require.NoError(t, err)

	before := vq.Store().Snapshot()
	vq.applyReplacement()
	after := vq.Store().Snapshot()
	codes := vq.Codebook()

	replaced := 0
	for c := range after {
		if testutil.MaxAbsDiff(before[c], after[c]) == 0 {
			continue
		}
		replaced++
		best := math.Inf(1)
		for r := range 8 {
			best = math.Min(best, testutil.MaxAbsDiff(codes[c], z.Data[r*2:(r+1)*2]))
		}
		assert.Less(t, best, 1e-3, "code %d", c)
	}
	assert.GreaterOrEqual(t, replaced, 2)
	assert.Equal(t, int64(replaced), metrics.GetStats().ReplacedCodes)
}

func TestUncalibratedStore_InvertsAffineMap(t *testing.T) {
	vq, err := New(2, 1)
	require.NoError(t, err)

	s := &uncalibratedStore{Store: vq.Store(), params: &affine.Params{
		Scale: []float32{2, 0},
		Bias:  []float32{1, 5},
	}}
	require.NoError(t, s.SetRow(0, []float32{5, 7}))

	row, err := vq.Store().Row(0)
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 7}, row)

	assert.Error(t, s.SetRow(0, []float32{1}))
}
