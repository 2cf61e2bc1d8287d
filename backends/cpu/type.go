// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cpu

import (
	"math"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/tensorcore/backends"
	"github.com/gomlx/tensorcore/backends/notimplemented"
	"github.com/gomlx/tensorcore/types/device"
	"github.com/gomlx/tensorcore/types/tensors"
	"github.com/pkg/errors"
)

// Type implements backends.Type for one (backend, dtype) pair of the CPU device.
//
// Dense types implement every operator supported by their dtype. Sparse types only implement Zeros,
// ToDense and LocalScalar, the other operators fail with backends.ErrNotImplemented.
type Type struct {
	notimplemented.Type
	typeInit *TypeInit
}

var _ backends.Type = (*Type)(nil)

func newType(ti *TypeInit, backend device.Backend, dtype dtypes.DType) *Type {
	return &Type{Type: notimplemented.New(backend, dtype), typeInit: ti}
}

// opDispatchers maps the operators implemented with a DTypeDispatcher: they are supported for
// the dtypes registered in the dispatcher.
var opDispatchers = map[backends.OpType]*DTypeDispatcher{
	backends.OpTypeIndexSelect:                dispatchIndexSelect,
	backends.OpTypeIndexAdd:                   dispatchIndexAdd,
	backends.OpTypeCumsum:                     dispatchCumsum,
	backends.OpTypeSort:                       dispatchSort,
	backends.OpTypeFlip:                       dispatchFlip,
	backends.OpTypeEmbeddingBag:               dispatchEmbeddingBagSum,
	backends.OpTypeEmbeddingBagBackward:       dispatchEmbeddingBagDenseBackward,
	backends.OpTypeEmbeddingBagDenseBackward:  dispatchEmbeddingBagDenseBackward,
	backends.OpTypeEmbeddingBagSparseBackward: dispatchEmbeddingBackward,
	backends.OpTypeEmbeddingBackward:          dispatchEmbeddingBackward,
}

// sparseOps are the operators implemented by the SparseCPU types.
var sparseOps = []backends.OpType{backends.OpTypeZeros, backends.OpTypeToDense, backends.OpTypeLocalScalar}

// Capabilities implements backends.Type.
func (t *Type) Capabilities() backends.Capabilities {
	caps := backends.Capabilities{Operations: make(map[backends.OpType]bool)}
	if t.Backend().IsSparse() {
		return caps.WithOperations(sparseOps...)
	}
	caps = caps.WithOperations(backends.OpTypeZeros, backends.OpTypeOnes, backends.OpTypeArange,
		backends.OpTypeLocalScalar, backends.OpTypeToDense)
	for op, dispatcher := range opDispatchers {
		if dispatcher.Supports(t.ScalarType()) {
			caps.Operations[op] = true
		}
	}
	return caps
}

// failSparse panics with backends.ErrNotImplemented: the operator is only implemented by the dense types.
func (t *Type) failSparse(op backends.OpType) {
	if t.Backend().IsSparse() {
		panic(errors.Wrapf(backends.ErrNotImplemented, "%s.%s(): not implemented for sparse tensors", t, op))
	}
}

// checkTensor checks that x has the dtype of the Type.
func (t *Type) checkTensor(op backends.OpType, x *tensors.Tensor, name string, pos int) {
	tensors.CheckScalarType(op.String(), tensors.TensorArg{Tensor: x, Name: name, Pos: pos}, t.ScalarType())
	if x.IsSparse() {
		panic(errors.Wrapf(tensors.ErrShape, "%s: expected a dense tensor for argument #%d '%s', got backend %s",
			op, pos, name, x.Backend()))
	}
}

// checkIndices checks that x is an Int64 tensor.
func checkIndices(op backends.OpType, x *tensors.Tensor, name string, pos int) {
	tensors.CheckScalarType(op.String(), tensors.TensorArg{Tensor: x, Name: name, Pos: pos}, dtypes.Int64)
}

// Zeros implements backends.Type. Sparse types return a sparse tensor with no entries.
func (t *Type) Zeros(dimensions ...int) *tensors.Tensor {
	if t.Backend().IsSparse() {
		if len(dimensions) == 0 {
			panic(errors.Wrapf(tensors.ErrShape, "%s.Zeros(): sparse tensors must have rank >= 1", t))
		}
		valueDims := append([]int{0}, dimensions[1:]...)
		values := tensors.Zeros(t.Backend().ToDense(), t.ScalarType(), valueDims...)
		return tensors.NewSparse(tensors.Zeros(device.BackendCPU, dtypes.Int64, 0), values, dimensions...)
	}
	return tensors.Zeros(t.Backend(), t.ScalarType(), dimensions...)
}

// Ones implements backends.Type.
func (t *Type) Ones(dimensions ...int) *tensors.Tensor {
	t.failSparse(backends.OpTypeOnes)
	return tensors.Ones(t.Backend(), t.ScalarType(), dimensions...)
}

// Arange implements backends.Type.
func (t *Type) Arange(start, end, step float64) *tensors.Tensor {
	t.failSparse(backends.OpTypeArange)
	if step == 0 || math.IsNaN(step) || math.IsInf(step, 0) {
		panic(errors.Wrapf(tensors.ErrShape, "%s.Arange(): step must be finite and non-zero, got %g", t, step))
	}
	size := int(math.Max(math.Ceil((end-start)/step), 0))
	out := tensors.Zeros(t.Backend(), t.ScalarType(), size)
	for ii := range size {
		out.SetFloat64(start+float64(ii)*step, ii)
	}
	return out
}

// LocalScalar implements backends.Type.
func (t *Type) LocalScalar(x *tensors.Tensor) any {
	tensors.CheckScalarType("LocalScalar", tensors.TensorArg{Tensor: x, Name: "self", Pos: 1}, t.ScalarType())
	return tensors.LocalScalar(x)
}

// ToDense implements backends.Type.
func (t *Type) ToDense(x *tensors.Tensor) *tensors.Tensor {
	tensors.CheckScalarType("ToDense", tensors.TensorArg{Tensor: x, Name: "self", Pos: 1}, t.ScalarType())
	return x.ToDense()
}
