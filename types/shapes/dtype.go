// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/x448/float16"
)

// FloatingDTypes lists the floating point dtypes, including the half precision ones.
var FloatingDTypes = []dtypes.DType{dtypes.Float16, dtypes.BFloat16, dtypes.Float32, dtypes.Float64}

// IntegralDTypes lists the signed and unsigned integer dtypes.
var IntegralDTypes = []dtypes.DType{
	dtypes.Int8, dtypes.Int16, dtypes.Int32, dtypes.Int64,
	dtypes.Uint8, dtypes.Uint16, dtypes.Uint32, dtypes.Uint64,
}

// ComplexDTypes lists the complex dtypes.
var ComplexDTypes = []dtypes.DType{dtypes.Complex64, dtypes.Complex128}

// IsFloating returns whether dtype is a floating point type, half precision included.
func IsFloating(dtype dtypes.DType) bool {
	switch dtype {
	case dtypes.Float16, dtypes.BFloat16, dtypes.Float32, dtypes.Float64:
		return true
	}
	return false
}

// IsComplex returns whether dtype is one of the complex types.
func IsComplex(dtype dtypes.DType) bool {
	return dtype == dtypes.Complex64 || dtype == dtypes.Complex128
}

// IsIntegral returns whether dtype is an integer type. Bool is not integral.
func IsIntegral(dtype dtypes.DType) bool {
	switch dtype {
	case dtypes.Int8, dtypes.Int16, dtypes.Int32, dtypes.Int64,
		dtypes.Uint8, dtypes.Uint16, dtypes.Uint32, dtypes.Uint64:
		return true
	}
	return false
}

// Float is the constraint of the Go types backing floating dtypes.
type Float interface {
	float32 | float64 | float16.Float16 | bfloat16.BFloat16
}

// ToFloat64 converts any floating value to float64.
func ToFloat64[T Float](v T) float64 {
	switch x := any(v).(type) {
	case float32:
		return float64(x)
	case float64:
		return x
	case float16.Float16:
		return float64(x.Float32())
	case bfloat16.BFloat16:
		return float64(x.Float32())
	}
	return 0
}

// FromFloat64 converts a float64 to the floating type T, rounding as needed.
func FromFloat64[T Float](v float64) (t T) {
	switch any(t).(type) {
	case float32:
		return any(float32(v)).(T)
	case float64:
		return any(v).(T)
	case float16.Float16:
		return any(float16.Fromfloat32(float32(v))).(T)
	case bfloat16.BFloat16:
		return any(bfloat16.FromFloat32(float32(v))).(T)
	}
	return
}
