// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/tensorcore/types/shapes"
)

// Slice returns a view of t restricted to [start, end) with the given step along axis.
// Negative start/end count from the end of the axis. The view shares storage with t.
func (t *Tensor) Slice(axis, start, end, step int) *Tensor {
	t.assertDense("Slice")
	axis = t.shape.WrapAxis(axis)
	if step <= 0 {
		exceptions.Panicf("Slice(axis=%d): step must be positive, got %d", axis, step)
	}
	dim := t.shape.Dimensions[axis]
	if start < 0 {
		start += dim
	}
	if end < 0 {
		end += dim
	}
	start = min(max(start, 0), dim)
	end = min(max(end, start), dim)

	dims := slices.Clone(t.shape.Dimensions)
	dims[axis] = (end - start + step - 1) / step
	strides := slices.Clone(t.strides)
	strides[axis] *= step
	view := newDense(t.backend, shapes.Make(t.DType(), dims...), t.storage, t.offset+start*t.strides[axis], strides)
	view.requiresGrad = t.requiresGrad
	return view
}

// Narrow returns a view of length elements starting at start along axis.
func (t *Tensor) Narrow(axis, start, length int) *Tensor {
	dim := t.shape.Dim(axis)
	if start < 0 || length < 0 || start+length > dim {
		exceptions.Panicf("Narrow(axis=%d, start=%d, length=%d) out of range for dimension %d", axis, start, length, dim)
	}
	return t.Slice(axis, start, start+length, 1)
}

// Select returns a view of the slice at index along axis, with that axis removed.
func (t *Tensor) Select(axis, index int) *Tensor {
	t.assertDense("Select")
	axis = t.shape.WrapAxis(axis)
	dim := t.shape.Dimensions[axis]
	if index < 0 {
		index += dim
	}
	if index < 0 || index >= dim {
		exceptions.Panicf("Select(axis=%d, index=%d) out of range for dimension %d", axis, index, dim)
	}
	dims := slices.Delete(slices.Clone(t.shape.Dimensions), axis, axis+1)
	strides := slices.Delete(slices.Clone(t.strides), axis, axis+1)
	view := newDense(t.backend, shapes.Make(t.DType(), dims...), t.storage, t.offset+index*t.strides[axis], strides)
	view.requiresGrad = t.requiresGrad
	return view
}

// Transpose returns a view with axis0 and axis1 swapped.
func (t *Tensor) Transpose(axis0, axis1 int) *Tensor {
	t.assertDense("Transpose")
	axis0 = t.shape.WrapAxis(axis0)
	axis1 = t.shape.WrapAxis(axis1)
	dims := slices.Clone(t.shape.Dimensions)
	strides := slices.Clone(t.strides)
	dims[axis0], dims[axis1] = dims[axis1], dims[axis0]
	strides[axis0], strides[axis1] = strides[axis1], strides[axis0]
	view := newDense(t.backend, shapes.Make(t.DType(), dims...), t.storage, t.offset, strides)
	view.requiresGrad = t.requiresGrad
	return view
}

// Unsqueeze returns a view with a new axis of dimension 1 inserted at axis (0 <= axis <= rank).
func (t *Tensor) Unsqueeze(axis int) *Tensor {
	t.assertDense("Unsqueeze")
	if axis < 0 {
		axis += t.Rank() + 1
	}
	if axis < 0 || axis > t.Rank() {
		exceptions.Panicf("Unsqueeze(%d) out of range for rank %d", axis, t.Rank())
	}
	stride := 1
	if axis < t.Rank() {
		stride = t.strides[axis] * max(t.shape.Dimensions[axis], 1)
	}
	dims := slices.Insert(slices.Clone(t.shape.Dimensions), axis, 1)
	strides := slices.Insert(slices.Clone(t.strides), axis, stride)
	view := newDense(t.backend, shapes.Make(t.DType(), dims...), t.storage, t.offset, strides)
	view.requiresGrad = t.requiresGrad
	return view
}

// Reshape returns a tensor with the same elements and the new dimensions. It is a view if t is
// contiguous, otherwise the data is first copied with Contiguous.
func (t *Tensor) Reshape(dimensions ...int) *Tensor {
	t.assertDense("Reshape")
	newShape := shapes.Make(t.DType(), dimensions...)
	if newShape.Size() != t.Size() {
		exceptions.Panicf("Reshape(%v): incompatible with shape %s", dimensions, t.shape)
	}
	src := t.Contiguous()
	view := newDense(t.backend, newShape, src.storage, src.offset, newShape.Strides())
	view.requiresGrad = t.requiresGrad
	return view
}
