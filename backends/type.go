// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"fmt"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/tensorcore/types/device"
	"github.com/gomlx/tensorcore/types/tensors"
	"github.com/pkg/errors"
)

// Type is the operator table for tensors of one (device.Backend, dtypes.DType) pair.
//
// Exactly one instance exists per registered pair, owned by the Registry. Operators are selected
// by the dtype of their "main" tensor: the weight for EmbeddingBag, the gradient for the backward
// functions, the input for everything else.
//
// Operators panic on invalid arguments (see tensors.ErrScalarType, tensors.ErrShape, ...) and for
// operators the Type doesn't support (ErrNotImplemented). Package ops wraps them with error returns.
type Type interface {
	// Backend of the tensors handled by this Type.
	Backend() device.Backend

	// ScalarType (dtype) of the tensors handled by this Type.
	ScalarType() dtypes.DType

	// IsVariable returns whether this is a differentiable wrapper, see VariableHooks.
	IsVariable() bool

	// String returns a name like "CPUFloat32Type".
	String() string

	// Capabilities lists the operators supported by the Type.
	Capabilities() Capabilities

	// Zeros returns a new tensor of the Type filled with zeros.
	Zeros(dimensions ...int) *tensors.Tensor

	// Ones returns a new tensor of the Type filled with ones.
	Ones(dimensions ...int) *tensors.Tensor

	// Arange returns the 1D tensor [start, start+step, ...] with the values lower than end (or
	// greater than end, for negative steps).
	Arange(start, end, step float64) *tensors.Tensor

	// IndexSelect returns the slices of x along axis at the positions given by the Int64 index.
	IndexSelect(x *tensors.Tensor, axis int, index *tensors.Tensor) *tensors.Tensor

	// IndexAdd accumulates in-place, for each i, source.Select(axis, i) into x.Select(axis, index[i]).
	IndexAdd(x *tensors.Tensor, axis int, index, source *tensors.Tensor)

	// Cumsum returns the cumulative sum along axis.
	Cumsum(x *tensors.Tensor, axis int) *tensors.Tensor

	// Sort stably sorts a 1D tensor in ascending order, and returns the sorted values and the
	// Int64 permutation such that values[i] == x[permutation[i]].
	Sort(x *tensors.Tensor) (values, permutation *tensors.Tensor)

	// Flip returns a copy of x with the order of the elements reversed along the given axes.
	Flip(x *tensors.Tensor, axes ...int) *tensors.Tensor

	// LocalScalar returns the value of a one-element tensor, see tensors.LocalScalar.
	LocalScalar(x *tensors.Tensor) any

	// ToDense returns the dense version of a sparse tensor.
	ToDense(x *tensors.Tensor) *tensors.Tensor

	// EmbeddingBag computes, for each bag of indices delimited by offsets, the reduction (given by
	// mode) of the corresponding weight rows.
	//
	// indices and offsets must be contiguous Int64 1D tensors.
	EmbeddingBag(weight, indices, offsets *tensors.Tensor, scaleGradByFreq bool, mode EmbeddingBagMode, sparse bool) EmbeddingBagResult

	// EmbeddingBagBackward returns the gradient of the EmbeddingBag weight, as a [numWeights, dim]
	// dense tensor, or a sparse one if sparse is true.
	//
	// offset2bag, bagSize and maxIndices are the values returned by the forward EmbeddingBag.
	// indices, offsets and offset2bag must be contiguous.
	EmbeddingBagBackward(grad, indices, offsets, offset2bag, bagSize, maxIndices *tensors.Tensor,
		numWeights int, scaleGradByFreq bool, mode EmbeddingBagMode, sparse bool) *tensors.Tensor

	// EmbeddingBagDenseBackward is the dense part of EmbeddingBagBackward.
	EmbeddingBagDenseBackward(grad, indices, offsets, offset2bag, bagSize, maxIndices *tensors.Tensor,
		numWeights int, scaleGradByFreq bool, mode EmbeddingBagMode) *tensors.Tensor

	// EmbeddingBagSparseBackward is the sparse part of EmbeddingBagBackward.
	EmbeddingBagSparseBackward(grad, indices, offsets, offset2bag, bagSize *tensors.Tensor,
		numWeights int, scaleGradByFreq bool, mode EmbeddingBagMode) *tensors.Tensor

	// EmbeddingBackward builds the gradient of an embedding lookup of numWeights rows: row
	// indices[i] receives grad[i]. If sparse, the result keeps one (possibly duplicated) entry per
	// index, otherwise the rows are accumulated into a dense tensor. Rows equal to paddingIdx get
	// no gradient (use -1 for none). With scaleGradByFreq, each entry is divided by the number of
	// occurrences of its index.
	EmbeddingBackward(grad, indices *tensors.Tensor, numWeights, paddingIdx int, scaleGradByFreq, sparse bool) *tensors.Tensor
}

// TypeName returns the conventional name of the Type for the given pair, e.g. "CPUFloat32Type".
func TypeName(backend device.Backend, dtype dtypes.DType) string {
	return fmt.Sprintf("%s%sType", backend, dtype)
}

// EmbeddingBagMode is the reduction applied to each bag.
type EmbeddingBagMode int

const (
	EmbeddingBagSum EmbeddingBagMode = iota
	EmbeddingBagMean
	EmbeddingBagMax
)

var embeddingBagModeNames = []string{"sum", "mean", "max"}

// IsValid returns whether the mode is one of the enumerated ones.
func (m EmbeddingBagMode) IsValid() bool {
	return m >= EmbeddingBagSum && m <= EmbeddingBagMax
}

// String implements fmt.Stringer.
func (m EmbeddingBagMode) String() string {
	if !m.IsValid() {
		return fmt.Sprintf("EmbeddingBagMode(%d)", int(m))
	}
	return embeddingBagModeNames[m]
}

// ParseEmbeddingBagMode converts "sum", "mean" or "max" (case-insensitive) to an EmbeddingBagMode.
func ParseEmbeddingBagMode(name string) (EmbeddingBagMode, error) {
	for ii, modeName := range embeddingBagModeNames {
		if strings.EqualFold(name, modeName) {
			return EmbeddingBagMode(ii), nil
		}
	}
	return 0, errors.Wrapf(ErrInvalidMode, "unknown embedding bag mode %q, valid values are %q", name, embeddingBagModeNames)
}

// EmbeddingBagResult holds the 4 outputs of the forward EmbeddingBag.
type EmbeddingBagResult struct {
	// Output is the [numBags, dim] reduction of each bag.
	Output *tensors.Tensor

	// Offset2Bag maps each index position to its bag.
	Offset2Bag *tensors.Tensor

	// BagSize holds the number of indices of each bag, for the MEAN and MAX modes. It is all zeros for SUM.
	BagSize *tensors.Tensor

	// Extra is MaxIndices for the MAX mode, and BagSize otherwise.
	Extra *tensors.Tensor
}

// MaxIndices returns the [numBags, dim] Int64 vocabulary index that won each (bag, dim) maximum.
// Only meaningful for the MAX mode.
func (r EmbeddingBagResult) MaxIndices() *tensors.Tensor { return r.Extra }
