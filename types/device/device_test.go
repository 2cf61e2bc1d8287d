package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackend(t *testing.T) {
	testCases := []struct {
		backend    Backend
		name       string
		deviceType DeviceType
		layout     Layout
	}{
		{BackendCPU, "CPU", CPU, Strided},
		{BackendCUDA, "CUDA", CUDA, Strided},
		{BackendSparseCPU, "SparseCPU", CPU, Sparse},
		{BackendSparseCUDA, "SparseCUDA", CUDA, Sparse},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.name, tc.backend.String())
			assert.Equal(t, tc.deviceType, tc.backend.DeviceType())
			assert.Equal(t, tc.layout, tc.backend.Layout())
			assert.Equal(t, tc.backend, FromDeviceAndLayout(tc.deviceType, tc.layout))
			assert.True(t, tc.backend.ToSparse().IsSparse())
			assert.False(t, tc.backend.ToDense().IsSparse())
		})
	}
	assert.Equal(t, "Undefined", Undefined.String())
	assert.Equal(t, Undefined, Undefined.ToSparse())
	assert.Equal(t, "Backend(17)", Backend(17).String())
	require.Panics(t, func() { _ = Undefined.DeviceType() })
}

func TestLayoutNames(t *testing.T) {
	assert.Equal(t, "strided", Strided.Name())
	assert.Equal(t, "sparse_coo", Sparse.Name())
	assert.Equal(t, "cuda", CUDA.String())
}
