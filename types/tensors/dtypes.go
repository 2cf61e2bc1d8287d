// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/x448/float16"
)

// Supported lists the Go types that can back a Tensor.
//
// Go's `int` is not included: kernels address indices as []int64, so index tensors must be built
// from int64 data (FromValue converts `int` values for convenience).
type Supported interface {
	bool | int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64 |
		float32 | float64 | float16.Float16 | bfloat16.BFloat16 | complex64 | complex128
}

// DTypeOf returns the dtype for the Go type T.
func DTypeOf[T Supported]() dtypes.DType {
	var t T
	switch any(t).(type) {
	case bool:
		return dtypes.Bool
	case int8:
		return dtypes.Int8
	case int16:
		return dtypes.Int16
	case int32:
		return dtypes.Int32
	case int64:
		return dtypes.Int64
	case uint8:
		return dtypes.Uint8
	case uint16:
		return dtypes.Uint16
	case uint32:
		return dtypes.Uint32
	case uint64:
		return dtypes.Uint64
	case float32:
		return dtypes.Float32
	case float64:
		return dtypes.Float64
	case float16.Float16:
		return dtypes.Float16
	case bfloat16.BFloat16:
		return dtypes.BFloat16
	case complex64:
		return dtypes.Complex64
	case complex128:
		return dtypes.Complex128
	}
	return dtypes.InvalidDType
}

// flatGetFloat64 returns flat[i] converted to float64. Complex values return their real part.
func flatGetFloat64(flat any, i int) float64 {
	switch f := flat.(type) {
	case []bool:
		if f[i] {
			return 1
		}
		return 0
	case []int8:
		return float64(f[i])
	case []int16:
		return float64(f[i])
	case []int32:
		return float64(f[i])
	case []int64:
		return float64(f[i])
	case []uint8:
		return float64(f[i])
	case []uint16:
		return float64(f[i])
	case []uint32:
		return float64(f[i])
	case []uint64:
		return float64(f[i])
	case []float32:
		return float64(f[i])
	case []float64:
		return f[i]
	case []float16.Float16:
		return float64(f[i].Float32())
	case []bfloat16.BFloat16:
		return float64(f[i].Float32())
	case []complex64:
		return float64(real(f[i]))
	case []complex128:
		return real(f[i])
	}
	exceptions.Panicf("unsupported flat type %T", flat)
	return 0
}

// flatSetFloat64 sets flat[i] = v, converted to the flat's element type.
func flatSetFloat64(flat any, i int, v float64) {
	switch f := flat.(type) {
	case []bool:
		f[i] = v != 0
	case []int8:
		f[i] = int8(v)
	case []int16:
		f[i] = int16(v)
	case []int32:
		f[i] = int32(v)
	case []int64:
		f[i] = int64(v)
	case []uint8:
		f[i] = uint8(v)
	case []uint16:
		f[i] = uint16(v)
	case []uint32:
		f[i] = uint32(v)
	case []uint64:
		f[i] = uint64(v)
	case []float32:
		f[i] = float32(v)
	case []float64:
		f[i] = v
	case []float16.Float16:
		f[i] = float16.Fromfloat32(float32(v))
	case []bfloat16.BFloat16:
		f[i] = bfloat16.FromFloat32(float32(v))
	case []complex64:
		f[i] = complex(float32(v), 0)
	case []complex128:
		f[i] = complex(v, 0)
	default:
		exceptions.Panicf("unsupported flat type %T", flat)
	}
}
