package notimplemented

import (
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/tensorcore/backends"
	"github.com/gomlx/tensorcore/types/device"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestType(t *testing.T) {
	typ := New(device.BackendCPU, dtypes.Float32)
	assert.Equal(t, "CPUFloat32Type", typ.String())
	assert.Equal(t, device.BackendCPU, typ.Backend())
	assert.Equal(t, dtypes.Float32, typ.ScalarType())
	assert.False(t, typ.Capabilities().Supports(backends.OpTypeEmbeddingBag))

	err := exceptions.TryCatch[error](func() { typ.Zeros(2) })
	require.Error(t, err)
	assert.ErrorIs(t, err, backends.ErrNotImplemented)
	assert.Contains(t, err.Error(), "CPUFloat32Type.Zeros()")

	errCustom := errors.New("custom")
	typ.ErrFn = func(op backends.OpType) error { return errors.Wrap(errCustom, op.String()) }
	err = exceptions.TryCatch[error](func() { typ.Cumsum(nil, 0) })
	assert.ErrorIs(t, err, errCustom)
	assert.Contains(t, err.Error(), "Cumsum")
}
