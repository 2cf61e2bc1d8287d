package cpu

import (
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/tensorcore/backends"
	"github.com/gomlx/tensorcore/types/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRegistry returns a Registry using a CPU TypeInit with the given configuration.
func newTestRegistry(t *testing.T, config string) *backends.Registry {
	ti, err := NewWithConfig(config)
	require.NoError(t, err)
	return backends.NewRegistry(ti, backends.VariableHooksStub{})
}

var defaultRegistry = backends.NewRegistry(New(""), backends.VariableHooksStub{})

// getType returns the dense CPU type for dtype.
func getType(t *testing.T, dtype dtypes.DType) *Type {
	return getTypeFrom(t, defaultRegistry, dtype)
}

func getTypeFrom(t *testing.T, r *backends.Registry, dtype dtypes.DType) *Type {
	typ, err := r.GetNonVariableType(device.BackendCPU, dtype)
	require.NoError(t, err)
	return typ.(*Type)
}

func TestConfig(t *testing.T) {
	ti, err := NewWithConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultParallelThreshold, ti.ParallelThreshold())
	assert.Greater(t, ti.MaxParallelism(), 0)

	ti, err = NewWithConfig("parallelism=3, threshold=10")
	require.NoError(t, err)
	assert.Equal(t, 3, ti.MaxParallelism())
	assert.Equal(t, 10, ti.ParallelThreshold())

	_, err = NewWithConfig("workers=3")
	assert.ErrorContains(t, err, "unknown configuration key")
	_, err = NewWithConfig("parallelism")
	assert.Error(t, err)
	_, err = NewWithConfig("threshold=many")
	assert.Error(t, err)
	_, err = NewWithConfig("threshold=-1")
	assert.Error(t, err)
	require.Panics(t, func() { New("bogus=1") })
}

func TestRegisteredByName(t *testing.T) {
	typeInit := backends.NewTypeInitWithConfig("cpu:parallelism=2")
	require.IsType(t, &TypeInit{}, typeInit)
	assert.Equal(t, 2, typeInit.(*TypeInit).MaxParallelism())
}

func TestInitCPU(t *testing.T) {
	r := newTestRegistry(t, "")
	for _, dtype := range RealDTypes {
		for _, backend := range []device.Backend{device.BackendCPU, device.BackendSparseCPU} {
			typ, err := r.GetNonVariableType(backend, dtype)
			require.NoError(t, err)
			assert.Equal(t, backend, typ.Backend())
			assert.Equal(t, dtype, typ.ScalarType())
		}
	}
	// Complex types are only registered on demand.
	assert.Nil(t, r.GetNonVariableTypeRaw(device.BackendCPU, dtypes.Complex64))
	typ, err := r.GetNonVariableType(device.BackendCPU, dtypes.Complex128)
	require.NoError(t, err)
	assert.Equal(t, "CPUComplex128Type", typ.String())
	assert.NotNil(t, r.GetNonVariableTypeRaw(device.BackendSparseCPU, dtypes.Complex64))

	// CUDA is not supported.
	err = exceptions.TryCatch[error](func() { _, _ = r.GetNonVariableType(device.BackendCUDA, dtypes.Float32) })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CUDA")
}

func TestCapabilities(t *testing.T) {
	float32Caps := getType(t, dtypes.Float32).Capabilities()
	for op := backends.OpTypeZeros; op < backends.OpTypeLast; op++ {
		assert.Truef(t, float32Caps.Supports(op), "Float32 should support %s", op)
	}

	int64Caps := getType(t, dtypes.Int64).Capabilities()
	assert.True(t, int64Caps.Supports(backends.OpTypeCumsum))
	assert.True(t, int64Caps.Supports(backends.OpTypeSort))
	assert.False(t, int64Caps.Supports(backends.OpTypeEmbeddingBag))

	boolCaps := getType(t, dtypes.Bool).Capabilities()
	assert.True(t, boolCaps.Supports(backends.OpTypeIndexSelect))
	assert.False(t, boolCaps.Supports(backends.OpTypeCumsum))

	sparse, err := defaultRegistry.GetNonVariableType(device.BackendSparseCPU, dtypes.Float32)
	require.NoError(t, err)
	sparseCaps := sparse.Capabilities()
	assert.True(t, sparseCaps.Supports(backends.OpTypeToDense))
	assert.False(t, sparseCaps.Supports(backends.OpTypeEmbeddingBag))

	err = exceptions.TryCatch[error](func() { sparse.Ones(2, 2) })
	assert.ErrorIs(t, err, backends.ErrNotImplemented)
}
