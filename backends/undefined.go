// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/tensorcore/types/device"
	"github.com/gomlx/tensorcore/types/tensors"
)

// UndefinedType is the sentinel Type registered for (device.Undefined, dtypes.InvalidDType).
// Lookups where the backend or the dtype is undefined fall back to it. Every operator panics.
type UndefinedType struct{}

var _ Type = UndefinedType{}

func (UndefinedType) fail(op string) {
	exceptions.Panicf("%s is not implemented for UndefinedType", op)
}

func (UndefinedType) Backend() device.Backend    { return device.Undefined }
func (UndefinedType) ScalarType() dtypes.DType   { return dtypes.InvalidDType }
func (UndefinedType) IsVariable() bool           { return false }
func (UndefinedType) String() string             { return "UndefinedType" }
func (UndefinedType) Capabilities() Capabilities { return Capabilities{} }

func (u UndefinedType) Zeros(...int) *tensors.Tensor { u.fail("Zeros"); return nil }
func (u UndefinedType) Ones(...int) *tensors.Tensor  { u.fail("Ones"); return nil }
func (u UndefinedType) Arange(_, _, _ float64) *tensors.Tensor {
	u.fail("Arange")
	return nil
}
func (u UndefinedType) IndexSelect(*tensors.Tensor, int, *tensors.Tensor) *tensors.Tensor {
	u.fail("IndexSelect")
	return nil
}
func (u UndefinedType) IndexAdd(*tensors.Tensor, int, *tensors.Tensor, *tensors.Tensor) {
	u.fail("IndexAdd")
}
func (u UndefinedType) Cumsum(*tensors.Tensor, int) *tensors.Tensor { u.fail("Cumsum"); return nil }
func (u UndefinedType) Sort(*tensors.Tensor) (*tensors.Tensor, *tensors.Tensor) {
	u.fail("Sort")
	return nil, nil
}
func (u UndefinedType) Flip(*tensors.Tensor, ...int) *tensors.Tensor { u.fail("Flip"); return nil }
func (u UndefinedType) LocalScalar(*tensors.Tensor) any              { u.fail("LocalScalar"); return nil }
func (u UndefinedType) ToDense(*tensors.Tensor) *tensors.Tensor      { u.fail("ToDense"); return nil }
func (u UndefinedType) EmbeddingBag(_, _, _ *tensors.Tensor, _ bool, _ EmbeddingBagMode, _ bool) EmbeddingBagResult {
	u.fail("EmbeddingBag")
	return EmbeddingBagResult{}
}
func (u UndefinedType) EmbeddingBagBackward(_, _, _, _, _, _ *tensors.Tensor, _ int, _ bool, _ EmbeddingBagMode, _ bool) *tensors.Tensor {
	u.fail("EmbeddingBagBackward")
	return nil
}
func (u UndefinedType) EmbeddingBagDenseBackward(_, _, _, _, _, _ *tensors.Tensor, _ int, _ bool, _ EmbeddingBagMode) *tensors.Tensor {
	u.fail("EmbeddingBagDenseBackward")
	return nil
}
func (u UndefinedType) EmbeddingBagSparseBackward(_, _, _, _, _ *tensors.Tensor, _ int, _ bool, _ EmbeddingBagMode) *tensors.Tensor {
	u.fail("EmbeddingBagSparseBackward")
	return nil
}
func (u UndefinedType) EmbeddingBackward(_, _ *tensors.Tensor, _, _ int, _, _ bool) *tensors.Tensor {
	u.fail("EmbeddingBackward")
	return nil
}
