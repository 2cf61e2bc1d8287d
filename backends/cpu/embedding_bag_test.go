package cpu

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/tensorcore/backends"
	"github.com/gomlx/tensorcore/types/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

var allModes = []backends.EmbeddingBagMode{backends.EmbeddingBagSum, backends.EmbeddingBagMean, backends.EmbeddingBagMax}

func TestEmbeddingBagForward(t *testing.T) {
	f32 := getType(t, dtypes.Float32)
	weight := tensors.FromValue([][]float32{{1, 2}, {3, 4}, {5, 6}})
	indices := tensors.FromValue([]int64{0, 1, 2})
	offsets := tensors.FromValue([]int64{0, 2})

	result := f32.EmbeddingBag(weight, indices, offsets, false, backends.EmbeddingBagSum, false)
	assert.Equal(t, [][]float32{{4, 6}, {5, 6}}, result.Output.Value())
	assert.Equal(t, []int64{0, 0, 1}, result.Offset2Bag.Value())
	assert.Equal(t, []int64{0, 0}, result.BagSize.Value())
	assert.Same(t, result.BagSize, result.Extra)

	result = f32.EmbeddingBag(weight, indices, offsets, false, backends.EmbeddingBagMean, false)
	assert.Equal(t, [][]float32{{2, 3}, {5, 6}}, result.Output.Value())
	assert.Equal(t, []int64{2, 1}, result.BagSize.Value())

	result = f32.EmbeddingBag(weight, indices, offsets, false, backends.EmbeddingBagMax, false)
	assert.Equal(t, [][]float32{{3, 4}, {5, 6}}, result.Output.Value())
	assert.Equal(t, [][]int64{{1, 1}, {2, 2}}, result.MaxIndices().Value())

	// Empty trailing bag yields zeros, not NaN.
	result = f32.EmbeddingBag(weight, indices, tensors.FromValue([]int64{0, 3}), false, backends.EmbeddingBagMean, false)
	assert.Equal(t, [][]float32{{3, 4}, {0, 0}}, result.Output.Value())
	assert.Equal(t, []int64{3, 0}, result.BagSize.Value())

	// Empty bag in the middle.
	result = f32.EmbeddingBag(weight, indices, tensors.FromValue([]int64{0, 1, 1}), false, backends.EmbeddingBagSum, false)
	assert.Equal(t, [][]float32{{1, 2}, {0, 0}, {8, 10}}, result.Output.Value())
	assert.Equal(t, []int64{0, 2, 2}, result.Offset2Bag.Value())

	// Strided weight.
	f64 := getType(t, dtypes.Float64)
	weightT := tensors.FromValue([][]float64{{1, 3, 5}, {2, 4, 6}}).Transpose(0, 1)
	result = f64.EmbeddingBag(weightT, indices, offsets, false, backends.EmbeddingBagSum, false)
	assert.Equal(t, [][]float64{{4, 6}, {5, 6}}, result.Output.Value())
}

func TestEmbeddingBagMaxTieBreak(t *testing.T) {
	f64 := getType(t, dtypes.Float64)
	weight := tensors.FromValue([][]float64{{1, 7}, {1, 2}, {0, 7}})
	result := f64.EmbeddingBag(weight, tensors.FromValue([]int64{0, 1, 2}), tensors.FromValue([]int64{0}),
		false, backends.EmbeddingBagMax, false)
	assert.Equal(t, [][]float64{{1, 7}}, result.Output.Value())
	// First seen wins ties.
	assert.Equal(t, [][]int64{{0, 0}}, result.MaxIndices().Value())

	// Smaller first value is replaced.
	result = f64.EmbeddingBag(weight, tensors.FromValue([]int64{2, 1, 0}), tensors.FromValue([]int64{0}),
		false, backends.EmbeddingBagMax, false)
	assert.Equal(t, [][]float64{{1, 7}}, result.Output.Value())
	assert.Equal(t, [][]int64{{1, 2}}, result.MaxIndices().Value())
}

func TestEmbeddingBagMaxNaN(t *testing.T) {
	f64 := getType(t, dtypes.Float64)
	// A NaN opening the bag is never replaced.
	weight := tensors.FromValue([][]float64{{math.NaN()}, {5}})
	result := f64.EmbeddingBag(weight, tensors.FromValue([]int64{0, 1}), tensors.FromValue([]int64{0}),
		false, backends.EmbeddingBagMax, false)
	assert.True(t, math.IsNaN(result.Output.AtFloat64(0, 0)))
	assert.Equal(t, [][]int64{{0}}, result.MaxIndices().Value())

	// A later NaN never replaces a number.
	result = f64.EmbeddingBag(weight, tensors.FromValue([]int64{1, 0}), tensors.FromValue([]int64{0}),
		false, backends.EmbeddingBagMax, false)
	assert.Equal(t, [][]float64{{5}}, result.Output.Value())
	assert.Equal(t, [][]int64{{1}}, result.MaxIndices().Value())
}

func TestEmbeddingBagHalfPrecision(t *testing.T) {
	for _, dtype := range []dtypes.DType{dtypes.Float16, dtypes.BFloat16} {
		typ := getType(t, dtype)
		weight := typ.Zeros(3, 2)
		for ii, v := range []float64{1, 2, 3, 4, 5, 6} {
			weight.SetFloat64(v, ii/2, ii%2)
		}
		indices := tensors.FromValue([]int64{0, 1, 2})
		offsets := tensors.FromValue([]int64{0, 2})
		for _, mode := range allModes {
			result := typ.EmbeddingBag(weight, indices, offsets, false, mode, false)
			want := map[backends.EmbeddingBagMode][]float64{
				backends.EmbeddingBagSum:  {4, 6, 5, 6},
				backends.EmbeddingBagMean: {2, 3, 5, 6},
				backends.EmbeddingBagMax:  {3, 4, 5, 6},
			}[mode]
			for ii, v := range want {
				assert.Equalf(t, v, result.Output.AtFloat64(ii/2, ii%2), "dtype=%s, mode=%s", dtype, mode)
			}
			grad := typ.Ones(2, 2)
			gradWeight := typ.EmbeddingBagBackward(grad, indices, offsets, result.Offset2Bag, result.BagSize,
				result.MaxIndices(), 3, false, mode, false)
			assert.Equal(t, []int{3, 2}, gradWeight.Dimensions())
		}
	}
	h := getType(t, dtypes.Float16)
	out := h.EmbeddingBag(tensors.FromFlatDataAndDimensions([]float16.Float16{float16.Fromfloat32(0.5)}, 1, 1),
		tensors.FromValue([]int64{0, 0}), tensors.FromValue([]int64{0}), false, backends.EmbeddingBagSum, false).Output
	assert.Equal(t, [][]float16.Float16{{float16.Fromfloat32(1)}}, out.Value())
}

// bagProblem is a random embedding bag problem.
type bagProblem struct {
	weight, indices, offsets, grad *tensors.Tensor
	numWeights, dim               int
}

func newBagProblem(rng *rand.Rand, numWeights, dim, numIndices, numBags int) bagProblem {
	weightData := make([]float64, numWeights*dim)
	for ii := range weightData {
		weightData[ii] = rng.NormFloat64()
	}
	indicesData := make([]int64, numIndices)
	for ii := range indicesData {
		indicesData[ii] = rng.Int64N(int64(numWeights))
	}
	offsetsData := make([]int64, numBags)
	for ii := 1; ii < numBags; ii++ {
		offsetsData[ii] = rng.Int64N(int64(numIndices + 1))
	}
	slices.Sort(offsetsData)
	gradData := make([]float64, numBags*dim)
	for ii := range gradData {
		gradData[ii] = rng.NormFloat64()
	}
	return bagProblem{
		weight:     tensors.FromFlatDataAndDimensions(weightData, numWeights, dim),
		indices:    tensors.FromFlatDataAndDimensions(indicesData, numIndices),
		offsets:    tensors.FromFlatDataAndDimensions(offsetsData, numBags),
		grad:       tensors.FromFlatDataAndDimensions(gradData, numBags, dim),
		numWeights: numWeights,
		dim:        dim,
	}
}

// loss returns sum(EmbeddingBag(weight) * grad), whose gradient with respect to weight is the
// EmbeddingBag backward of grad.
func (p bagProblem) loss(typ *Type, mode backends.EmbeddingBagMode) float64 {
	output := typ.EmbeddingBag(p.weight, p.indices, p.offsets, false, mode, false).Output
	out := tensors.FlatData[float64](output)
	grad := tensors.FlatData[float64](p.grad)
	var sum float64
	for ii := range out {
		sum += out[ii] * grad[ii]
	}
	return sum
}

func (p bagProblem) backward(typ *Type, mode backends.EmbeddingBagMode, scaleGradByFreq, sparse bool) *tensors.Tensor {
	result := typ.EmbeddingBag(p.weight, p.indices, p.offsets, scaleGradByFreq, mode, sparse)
	return typ.EmbeddingBagBackward(p.grad, p.indices, p.offsets, result.Offset2Bag, result.BagSize,
		result.MaxIndices(), p.numWeights, scaleGradByFreq, mode, sparse)
}

func TestEmbeddingBagBackwardFiniteDifferences(t *testing.T) {
	f64 := getType(t, dtypes.Float64)
	rng := rand.New(rand.NewPCG(42, 0))
	p := newBagProblem(rng, 7, 3, 20, 5)
	counts := make([]float64, p.numWeights)
	for _, index := range tensors.FlatData[int64](p.indices) {
		counts[index]++
	}
	const epsilon = 1e-6
	weight := tensors.FlatData[float64](p.weight)
	for _, mode := range allModes {
		numeric := make([]float64, len(weight))
		for ii := range weight {
			original := weight[ii]
			weight[ii] = original + epsilon
			plus := p.loss(f64, mode)
			weight[ii] = original - epsilon
			minus := p.loss(f64, mode)
			weight[ii] = original
			numeric[ii] = (plus - minus) / (2 * epsilon)
		}
		for _, scaleGradByFreq := range []bool{false, true} {
			t.Run(fmt.Sprintf("%s-scale=%v", mode, scaleGradByFreq), func(t *testing.T) {
				analytic := tensors.FlatData[float64](p.backward(f64, mode, scaleGradByFreq, false))
				for ii, want := range numeric {
					row := ii / p.dim
					if scaleGradByFreq && mode != backends.EmbeddingBagMax && counts[row] > 0 {
						want /= counts[row]
					}
					require.InDeltaf(t, want, analytic[ii], 1e-6, "weight element %d", ii)
				}
			})
		}
	}
}

func TestEmbeddingBagSparseBackwardMatchesDense(t *testing.T) {
	f64 := getType(t, dtypes.Float64)
	rng := rand.New(rand.NewPCG(7, 0))
	p := newBagProblem(rng, 10, 4, 30, 6)
	for _, mode := range []backends.EmbeddingBagMode{backends.EmbeddingBagSum, backends.EmbeddingBagMean} {
		for _, scaleGradByFreq := range []bool{false, true} {
			dense := p.backward(f64, mode, scaleGradByFreq, false)
			sparse := p.backward(f64, mode, scaleGradByFreq, true)
			require.True(t, sparse.IsSparse())
			assert.Equal(t, 30, sparse.NNZ())
			assert.InDeltaSlice(t, tensors.FlatData[float64](dense), tensors.FlatData[float64](sparse.ToDense()), 1e-12,
				"mode=%s, scaleGradByFreq=%v", mode, scaleGradByFreq)
		}
	}
}

func TestEmbeddingBagParallelBackward(t *testing.T) {
	parallel := getTypeFrom(t, newTestRegistry(t, "parallelism=4,threshold=10"), dtypes.Float32)
	sequential := getTypeFrom(t, newTestRegistry(t, "parallelism=0"), dtypes.Float32)
	rng := rand.New(rand.NewPCG(3, 0))
	numWeights, dim, numIndices, numBags := 500, 8, 5000, 100
	p := newBagProblem(rng, numWeights, dim, numIndices, numBags)
	weight32 := tensors.FromFlatDataAndDimensions(toFloat32(tensors.FlatData[float64](p.weight)), numWeights, dim)
	grad32 := tensors.FromFlatDataAndDimensions(toFloat32(tensors.FlatData[float64](p.grad)), numBags, dim)
	for _, mode := range []backends.EmbeddingBagMode{backends.EmbeddingBagSum, backends.EmbeddingBagMean} {
		for _, scaleGradByFreq := range []bool{false, true} {
			var results [2]*tensors.Tensor
			for ii, typ := range []*Type{parallel, sequential} {
				fwd := typ.EmbeddingBag(weight32, p.indices, p.offsets, scaleGradByFreq, mode, false)
				results[ii] = typ.EmbeddingBagBackward(grad32, p.indices, p.offsets, fwd.Offset2Bag, fwd.BagSize,
					fwd.MaxIndices(), numWeights, scaleGradByFreq, mode, false)
			}
			// Each row is accumulated in the same order, so results are bit-identical.
			assert.Equalf(t, results[1].Value(), results[0].Value(), "mode=%s, scaleGradByFreq=%v", mode, scaleGradByFreq)
		}
	}
}

func toFloat32(values []float64) []float32 {
	out := make([]float32, len(values))
	for ii, v := range values {
		out[ii] = float32(v)
	}
	return out
}

func TestEmbeddingBagMaxBackward(t *testing.T) {
	f32 := getType(t, dtypes.Float32)
	weight := tensors.FromValue([][]float32{{1, 9}, {5, 2}, {3, 3}})
	indices := tensors.FromValue([]int64{0, 1, 2, 1})
	offsets := tensors.FromValue([]int64{0, 2, 3, 3})
	result := f32.EmbeddingBag(weight, indices, offsets, false, backends.EmbeddingBagMax, false)
	assert.Equal(t, [][]float32{{5, 9}, {3, 3}, {0, 0}, {5, 2}}, result.Output.Value())
	grad := tensors.FromValue([][]float32{{1, 10}, {100, 1000}, {7, 7}, {3, 4}})
	gradWeight := f32.EmbeddingBagBackward(grad, indices, offsets, result.Offset2Bag, result.BagSize,
		result.MaxIndices(), 3, true, backends.EmbeddingBagMax, false)
	// The empty bag #2 doesn't contribute, scaleGradByFreq is ignored.
	assert.Equal(t, [][]float32{{0, 10}, {4, 4}, {100, 1000}}, gradWeight.Value())
}

func TestEmbeddingBackwardPadding(t *testing.T) {
	f64 := getType(t, dtypes.Float64)
	grad := tensors.FromValue([][]float64{{1, 1}, {2, 2}, {4, 4}})
	indices := tensors.FromValue([]int64{1, 0, 1})
	dense := f64.EmbeddingBackward(grad, indices, 3, 0, true, false)
	assert.Equal(t, [][]float64{{0, 0}, {2.5, 2.5}, {0, 0}}, dense.Value())
	sparse := f64.EmbeddingBackward(grad, indices, 3, 0, true, true)
	assert.Equal(t, 2, sparse.NNZ())
	assert.Equal(t, []int64{1, 1}, sparse.SparseIndices().Value())
	assert.Equal(t, dense.Value(), sparse.ToDense().Value())
}

func TestEmbeddingBagValidation(t *testing.T) {
	f32 := getType(t, dtypes.Float32)
	weight := tensors.FromValue([][]float32{{1, 2}, {3, 4}, {5, 6}})
	indices := tensors.FromValue([]int64{0, 1, 2})
	offsets := tensors.FromValue([]int64{0, 2})
	sum := backends.EmbeddingBagSum

	tests := []struct {
		name    string
		fn      func()
		wantErr error
		wantMsg string
	}{
		{"int weight", func() {
			getType(t, dtypes.Int64).EmbeddingBag(tensors.FromValue([][]int64{{1}}), indices, offsets, false, sum, false)
		}, tensors.ErrScalarType, "weight"},
		{"int32 indices", func() {
			f32.EmbeddingBag(weight, tensors.FromValue([]int32{0, 1, 2}), offsets, false, sum, false)
		}, tensors.ErrScalarType, "indices"},
		{"float offsets", func() {
			f32.EmbeddingBag(weight, indices, tensors.FromValue([]float32{0, 2}), false, sum, false)
		}, tensors.ErrScalarType, "offsets"},
		{"non-contiguous offsets", func() {
			f32.EmbeddingBag(weight, indices, tensors.FromValue([][]int64{{0, 9}, {2, 9}}).Select(1, 0), false, sum, false)
		}, tensors.ErrNotContiguous, "offsets"},
		{"offsets not starting at 0", func() {
			f32.EmbeddingBag(weight, indices, tensors.FromValue([]int64{1}), false, sum, false)
		}, tensors.ErrShape, "offsets[0]"},
		{"decreasing offsets", func() {
			f32.EmbeddingBag(weight, indices, tensors.FromValue([]int64{0, 2, 1}), false, sum, false)
		}, tensors.ErrShape, "non-decreasing"},
		{"offsets beyond indices", func() {
			f32.EmbeddingBag(weight, indices, tensors.FromValue([]int64{0, 4}), false, sum, false)
		}, tensors.ErrShape, "number of indices"},
		{"index out of range", func() {
			f32.EmbeddingBag(weight, tensors.FromValue([]int64{0, 3}), offsets, false, sum, false)
		}, tensors.ErrShape, "out of range"},
		{"sparse max", func() {
			f32.EmbeddingBag(weight, indices, offsets, false, backends.EmbeddingBagMax, true)
		}, backends.ErrInvalidMode, "sparse"},
		{"unknown mode", func() {
			f32.EmbeddingBag(weight, indices, offsets, false, backends.EmbeddingBagMode(5), false)
		}, backends.ErrInvalidMode, "EmbeddingBagMode(5)"},
		{"non-contiguous backward indices", func() {
			result := f32.EmbeddingBag(weight, indices, offsets, false, sum, false)
			strided := tensors.FromValue([][]int64{{0, 9}, {1, 9}, {2, 9}}).Select(1, 0)
			f32.EmbeddingBagBackward(f32.Ones(2, 2), strided, offsets, result.Offset2Bag, result.BagSize, result.Extra,
				3, false, sum, false)
		}, tensors.ErrNotContiguous, "indices"},
		{"backward grad shape", func() {
			result := f32.EmbeddingBag(weight, indices, offsets, false, sum, false)
			f32.EmbeddingBagBackward(f32.Ones(3, 2), indices, offsets, result.Offset2Bag, result.BagSize, result.Extra,
				3, false, sum, false)
		}, tensors.ErrShape, "bags"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := exceptions.TryCatch[error](test.fn)
			require.Error(t, err)
			assert.ErrorIs(t, err, test.wantErr)
			assert.Contains(t, err.Error(), test.wantMsg)
		})
	}
}

func TestEmbeddingBagEmptyIndices(t *testing.T) {
	f32 := getType(t, dtypes.Float32)
	weight := tensors.FromValue([][]float32{{1, 2}})
	indices := tensors.FromValue([]int64{})
	offsets := tensors.FromValue([]int64{0, 0})
	result := f32.EmbeddingBag(weight, indices, offsets, false, backends.EmbeddingBagMean, false)
	assert.Equal(t, [][]float32{{0, 0}, {0, 0}}, result.Output.Value())
	for _, sparse := range []bool{false, true} {
		gradWeight := f32.EmbeddingBagBackward(f32.Ones(2, 2), indices, offsets, result.Offset2Bag, result.BagSize,
			result.Extra, 1, false, backends.EmbeddingBagMean, sparse)
		assert.Equal(t, sparse, gradWeight.IsSparse())
		assert.Equal(t, [][]float32{{0, 0}}, f32.ToDense(gradWeight).Value())
	}
	assert.False(t, math.IsNaN(float64(tensors.FlatData[float32](result.Output)[0])))
}
