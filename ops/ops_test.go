package ops

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/tensorcore/backends"
	"github.com/gomlx/tensorcore/backends/cpu"
	"github.com/gomlx/tensorcore/backends/variable"
	"github.com/gomlx/tensorcore/types/device"
	"github.com/gomlx/tensorcore/types/tensors"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var registry = backends.NewRegistry(cpu.New(""), variable.NewHooks())

func TestEmbeddingBag(t *testing.T) {
	o := New(registry)
	weight := tensors.FromValue([][]float32{{1, 2}, {3, 4}, {5, 6}})
	// Strided indices are copied to contiguous ones.
	indices := tensors.FromValue([][]int64{{0, -1}, {1, -1}, {2, -1}}).Select(1, 0)
	offsets := tensors.FromValue([]int64{0, 2})
	require.False(t, indices.IsContiguous())

	result := must.M1(o.EmbeddingBag(weight, indices, offsets, false, backends.EmbeddingBagMean, false))
	assert.Equal(t, [][]float32{{2, 3}, {5, 6}}, result.Output.Value())
	assert.False(t, result.Output.RequiresGrad())

	grad := tensors.FromValue([][]float32{{2, 2}, {1, 1}})
	gradWeight := must.M1(o.EmbeddingBagBackward(grad, indices.Contiguous(), offsets, result.Offset2Bag,
		result.BagSize, result.MaxIndices(), 3, false, backends.EmbeddingBagMean, false))
	assert.Equal(t, [][]float32{{1, 1}, {1, 1}, {1, 1}}, gradWeight.Value())
}

func TestEmbeddingBagVariable(t *testing.T) {
	o := New(registry)
	weight := tensors.FromValue([][]float64{{1}, {2}}).SetRequiresGrad(true)
	result := must.M1(o.EmbeddingBag(weight, tensors.FromValue([]int64{1, 1}), tensors.FromValue([]int64{0}),
		false, backends.EmbeddingBagSum, false))
	assert.Equal(t, [][]float64{{4}}, result.Output.Value())
	assert.True(t, result.Output.RequiresGrad())

	// Without an autograd library, variables are not available.
	noHooks := New(backends.NewRegistry(cpu.New(""), backends.VariableHooksStub{}))
	_, err := noHooks.EmbeddingBag(weight, tensors.FromValue([]int64{1}), tensors.FromValue([]int64{0}),
		false, backends.EmbeddingBagSum, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "autograd")
}

func TestErrors(t *testing.T) {
	o := New(registry)
	weight := tensors.FromValue([][]float32{{1, 2}, {3, 4}})
	offsets := tensors.FromValue([]int64{0})

	_, err := o.EmbeddingBag(weight, tensors.FromValue([]int32{0}), offsets, false, backends.EmbeddingBagSum, false)
	require.ErrorIs(t, err, tensors.ErrScalarType)
	assert.Contains(t, err.Error(), "ops.EmbeddingBag()")

	_, err = o.EmbeddingBag(weight, tensors.FromValue([]int64{0}), offsets, false, backends.EmbeddingBagMax, true)
	require.ErrorIs(t, err, backends.ErrInvalidMode)

	_, err = o.EmbeddingBag(weight, tensors.FromValue([]int64{0}), tensors.FromValue([]int64{1}), false,
		backends.EmbeddingBagSum, false)
	require.ErrorIs(t, err, tensors.ErrShape)

	// Complex dtypes are registered, but don't implement EmbeddingBag.
	complexWeight := tensors.Zeros(device.BackendCPU, dtypes.Complex64, 2, 2)
	_, err = o.EmbeddingBag(complexWeight, tensors.FromValue([]int64{0}), offsets, false, backends.EmbeddingBagSum, false)
	require.Error(t, err)

	// Tensors from the forward pass are required to be contiguous, not copied.
	strided := tensors.FromValue([][]int64{{0, 7}, {0, 7}}).Select(1, 0)
	require.False(t, strided.IsContiguous())
	_, err = o.EmbeddingBagBackward(tensors.FromValue([][]float32{{1, 1}}), tensors.FromValue([]int64{0, 1}), offsets,
		strided, tensors.FromValue([]int64{0}), nil, 2, false, backends.EmbeddingBagSum, false)
	require.ErrorIs(t, err, tensors.ErrNotContiguous)
	assert.Contains(t, err.Error(), "offset2bag")
}

func TestEmbeddingBackward(t *testing.T) {
	o := New(registry)
	grad := tensors.FromValue([][][]float32{{{1}, {2}}, {{3}, {4}}})
	indices := tensors.FromValue([][]int64{{0, 2}, {2, 1}})
	gradWeight := must.M1(o.EmbeddingBackward(grad, indices, 3, 1, false, false))
	assert.Equal(t, [][]float32{{1}, {0}, {5}}, gradWeight.Value())

	sparse := must.M1(o.EmbeddingBackward(grad, indices, 3, 1, true, true))
	assert.True(t, sparse.IsSparse())
	assert.Equal(t, [][]float32{{1}, {0}, {2.5}}, sparse.ToDense().Value())

	_, err := o.EmbeddingBackward(grad, tensors.FromValue([]int64{0, 1}), 3, -1, false, false)
	require.ErrorIs(t, err, tensors.ErrShape)
}

func TestDefault(t *testing.T) {
	// The cpu package is the only TypeInit registered, so the global Registry uses it.
	_, isCPU := backends.Global().TypeInit().(*cpu.TypeInit)
	require.True(t, isCPU)
	result, err := EmbeddingBag(tensors.FromValue([][]float32{{1}, {2}}), tensors.FromValue([]int64{0, 1}),
		tensors.FromValue([]int64{0, 1}), false, backends.EmbeddingBagMax, false)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1}, {2}}, result.Output.Value())
	gradWeight, err := EmbeddingBagBackward(tensors.FromValue([][]float32{{1}, {1}}), tensors.FromValue([]int64{0, 1}),
		tensors.FromValue([]int64{0, 1}), result.Offset2Bag, result.BagSize, result.MaxIndices(), 2, false,
		backends.EmbeddingBagMax, false)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1}, {1}}, gradWeight.Value())
	_, err = EmbeddingBackward(tensors.FromValue([][]float32{{1}}), tensors.FromValue([]int64{5}), 2, -1, false, false)
	require.ErrorIs(t, err, tensors.ErrShape)
}
