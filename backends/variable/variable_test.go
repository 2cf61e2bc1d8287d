package variable_test

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/tensorcore/backends"
	"github.com/gomlx/tensorcore/backends/cpu"
	"github.com/gomlx/tensorcore/backends/variable"
	"github.com/gomlx/tensorcore/types/device"
	"github.com/gomlx/tensorcore/types/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVariableTypes(t *testing.T) {
	hooks := variable.NewHooks()
	r := backends.NewRegistry(cpu.New(""), hooks)

	v, err := r.GetVariableType(device.BackendCPU, dtypes.Float32)
	require.NoError(t, err)
	assert.True(t, v.IsVariable())
	assert.Equal(t, "Variable[CPUFloat32Type]", v.String())
	base, err := r.GetNonVariableType(device.BackendCPU, dtypes.Float32)
	require.NoError(t, err)
	assert.False(t, base.IsVariable())
	assert.Same(t, base.(*cpu.Type), v.(*variable.Type).Base().(*cpu.Type))

	// The same variable Type is returned on every lookup.
	v2, err := r.GetType(device.BackendCPU, dtypes.Float32, true)
	require.NoError(t, err)
	assert.Same(t, v.(*variable.Type), v2.(*variable.Type))
	assert.Same(t, v.(*variable.Type), hooks.VariableTypeFromBaseType(v).(*variable.Type))

	// Complex types are registered on demand, and get their variable Types too.
	vc, err := r.GetVariableType(device.BackendCPU, dtypes.Complex64)
	require.NoError(t, err)
	assert.Equal(t, "Variable[CPUComplex64Type]", vc.String())
}

func TestRequiresGradPropagation(t *testing.T) {
	r := backends.NewRegistry(cpu.New(""), variable.NewHooks())
	v, err := r.GetVariableType(device.BackendCPU, dtypes.Float32)
	require.NoError(t, err)

	weight := tensors.FromValue([][]float32{{1, 2}, {3, 4}, {5, 6}}).SetRequiresGrad(true)
	indices := tensors.FromValue([]int64{0, 2})
	offsets := tensors.FromValue([]int64{0, 1})
	result := v.EmbeddingBag(weight, indices, offsets, false, backends.EmbeddingBagSum, false)
	assert.Equal(t, [][]float32{{1, 2}, {5, 6}}, result.Output.Value())
	assert.True(t, result.Output.RequiresGrad())
	assert.False(t, result.Offset2Bag.RequiresGrad())

	assert.True(t, v.IndexSelect(weight, 0, indices).RequiresGrad())
	assert.True(t, v.Cumsum(weight, 1).RequiresGrad())
	assert.True(t, v.Flip(weight, 0).RequiresGrad())

	constant := tensors.FromValue([]float32{1, 2, 3})
	assert.False(t, v.Cumsum(constant, 0).RequiresGrad())
	assert.Equal(t, []float32{1, 3, 6}, v.Cumsum(constant, 0).Value())
}

func TestInstall(t *testing.T) {
	previous := variable.Install()
	defer backends.SetVariableHooks(previous)
	_, isHooks := backends.GetVariableHooks().(*variable.Hooks)
	assert.True(t, isHooks)

	// A Registry without its own hooks uses the installed ones.
	r := backends.NewRegistry(cpu.New("parallelism=0"), nil)
	v, err := r.GetType(device.BackendSparseCPU, dtypes.Float64, true)
	require.NoError(t, err)
	assert.True(t, v.IsVariable())
	assert.Equal(t, device.BackendSparseCPU, v.Backend())
}
