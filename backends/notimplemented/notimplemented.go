// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package notimplemented implements a backends.Type that throws a "not implemented" exception for
// all operators.
//
// Embed it in a partial Type implementation to bootstrap it: operators that are not overridden
// fail with an error wrapping backends.ErrNotImplemented.
package notimplemented

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/tensorcore/backends"
	"github.com/gomlx/tensorcore/types/device"
	"github.com/gomlx/tensorcore/types/tensors"
	"github.com/pkg/errors"
)

// NotImplementedError is the error every operator panics with.
//
// It doesn't contain a stack, attach a stack to with with errors.Wrapf(NotImplementedError, "...") when using it.
var NotImplementedError = backends.ErrNotImplemented

// Type is a backends.Type for which every operator panics.
type Type struct {
	backend device.Backend
	dtype   dtypes.DType

	// ErrFn is called to generate the error thrown, if not nil.
	// Otherwise NotImplementedError, wrapped with the Type and operator names, is used.
	ErrFn func(op backends.OpType) error
}

var _ backends.Type = Type{}

// New returns a Type for the (backend, dtype) pair that doesn't implement any operator.
func New(backend device.Backend, dtype dtypes.DType) Type {
	return Type{backend: backend, dtype: dtype}
}

// fail panics with the error corresponding to the op.
// It uses Type.ErrFn if it is defined.
func (t Type) fail(op backends.OpType) {
	if t.ErrFn != nil {
		panic(t.ErrFn(op))
	}
	panic(errors.Wrapf(NotImplementedError, "%s.%s()", t, op))
}

// Backend implements backends.Type.
func (t Type) Backend() device.Backend { return t.backend }

// ScalarType implements backends.Type.
func (t Type) ScalarType() dtypes.DType { return t.dtype }

// IsVariable implements backends.Type.
func (t Type) IsVariable() bool { return false }

// String implements backends.Type.
func (t Type) String() string { return backends.TypeName(t.backend, t.dtype) }

// Capabilities returns empty capabilities.
func (t Type) Capabilities() backends.Capabilities {
	return backends.Capabilities{Operations: make(map[backends.OpType]bool)}
}

func (t Type) Zeros(...int) *tensors.Tensor {
	t.fail(backends.OpTypeZeros)
	return nil
}

func (t Type) Ones(...int) *tensors.Tensor {
	t.fail(backends.OpTypeOnes)
	return nil
}

func (t Type) Arange(start, end, step float64) *tensors.Tensor {
	t.fail(backends.OpTypeArange)
	return nil
}

func (t Type) IndexSelect(x *tensors.Tensor, axis int, index *tensors.Tensor) *tensors.Tensor {
	t.fail(backends.OpTypeIndexSelect)
	return nil
}

func (t Type) IndexAdd(x *tensors.Tensor, axis int, index, source *tensors.Tensor) {
	t.fail(backends.OpTypeIndexAdd)
}

func (t Type) Cumsum(x *tensors.Tensor, axis int) *tensors.Tensor {
	t.fail(backends.OpTypeCumsum)
	return nil
}

func (t Type) Sort(x *tensors.Tensor) (values, permutation *tensors.Tensor) {
	t.fail(backends.OpTypeSort)
	return nil, nil
}

func (t Type) Flip(x *tensors.Tensor, axes ...int) *tensors.Tensor {
	t.fail(backends.OpTypeFlip)
	return nil
}

func (t Type) LocalScalar(x *tensors.Tensor) any {
	t.fail(backends.OpTypeLocalScalar)
	return nil
}

func (t Type) ToDense(x *tensors.Tensor) *tensors.Tensor {
	t.fail(backends.OpTypeToDense)
	return nil
}

func (t Type) EmbeddingBag(weight, indices, offsets *tensors.Tensor, scaleGradByFreq bool,
	mode backends.EmbeddingBagMode, sparse bool) backends.EmbeddingBagResult {
	t.fail(backends.OpTypeEmbeddingBag)
	return backends.EmbeddingBagResult{}
}

func (t Type) EmbeddingBagBackward(grad, indices, offsets, offset2bag, bagSize, maxIndices *tensors.Tensor,
	numWeights int, scaleGradByFreq bool, mode backends.EmbeddingBagMode, sparse bool) *tensors.Tensor {
	t.fail(backends.OpTypeEmbeddingBagBackward)
	return nil
}

func (t Type) EmbeddingBagDenseBackward(grad, indices, offsets, offset2bag, bagSize, maxIndices *tensors.Tensor,
	numWeights int, scaleGradByFreq bool, mode backends.EmbeddingBagMode) *tensors.Tensor {
	t.fail(backends.OpTypeEmbeddingBagDenseBackward)
	return nil
}

func (t Type) EmbeddingBagSparseBackward(grad, indices, offsets, offset2bag, bagSize *tensors.Tensor,
	numWeights int, scaleGradByFreq bool, mode backends.EmbeddingBagMode) *tensors.Tensor {
	t.fail(backends.OpTypeEmbeddingBagSparseBackward)
	return nil
}

func (t Type) EmbeddingBackward(grad, indices *tensors.Tensor, numWeights, paddingIdx int,
	scaleGradByFreq, sparse bool) *tensors.Tensor {
	t.fail(backends.OpTypeEmbeddingBackward)
	return nil
}
