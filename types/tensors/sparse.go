// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/gomlx/tensorcore/types/shapes"
	"github.com/x448/float16"
)

// sparseData holds a row-sparse COO representation: entry i stores values[i] at row indices[i].
// Rows may repeat (uncoalesced), in which case their values are summed when densified.
type sparseData struct {
	indices   *Tensor // (Int64)[nnz]
	values    *Tensor // [nnz, dimensions[1:]...]
	coalesced bool
}

// NewSparse creates a sparse tensor with the given dimensions, where values[i] is the sub-tensor at
// row indices[i] (along axis 0). Duplicate rows are allowed.
//
// The tensor backend is the sparse counterpart of the values' backend.
func NewSparse(indices, values *Tensor, dimensions ...int) *Tensor {
	CheckScalarType("NewSparse", TensorArg{Tensor: indices, Name: "indices", Pos: 1}, dtypes.Int64)
	CheckDim("NewSparse", TensorArg{Tensor: indices, Name: "indices", Pos: 1}, 1)
	if len(dimensions) == 0 {
		exceptions.Panicf("NewSparse(): sparse tensors must have rank >= 1")
	}
	nnz := indices.Dim(0)
	if values.Rank() != len(dimensions) || values.Dim(0) != nnz || !slices.Equal(values.Dimensions()[1:], dimensions[1:]) {
		exceptions.Panicf("NewSparse(): values shape %s incompatible with %d indices and dimensions %v",
			values.Shape(), nnz, dimensions)
	}
	indices = indices.Contiguous()
	values = values.Contiguous()
	rows := FlatData[int64](indices)
	coalesced := true
	for ii, row := range rows {
		if row < 0 || int(row) >= dimensions[0] {
			exceptions.Panicf("NewSparse(): index %d out of range for dimension %d", row, dimensions[0])
		}
		if ii > 0 && rows[ii-1] >= row {
			coalesced = false
		}
	}
	return &Tensor{
		shape:   shapes.Make(values.DType(), dimensions...),
		backend: values.backend.ToSparse(),
		sparse: &sparseData{
			indices:   indices,
			values:    values,
			coalesced: coalesced,
		},
	}
}

// IsSparse returns whether t uses the sparse layout.
func (t *Tensor) IsSparse() bool { return t.sparse != nil }

// SparseIndices returns the (Int64)[nnz] row indices of a sparse tensor.
func (t *Tensor) SparseIndices() *Tensor {
	t.assertSparse("SparseIndices")
	return t.sparse.indices
}

// SparseValues returns the [nnz, ...] values of a sparse tensor.
func (t *Tensor) SparseValues() *Tensor {
	t.assertSparse("SparseValues")
	return t.sparse.values
}

// NNZ returns the number of stored entries of a sparse tensor, duplicates included.
func (t *Tensor) NNZ() int {
	t.assertSparse("NNZ")
	return t.sparse.indices.Dim(0)
}

// IsCoalesced returns whether the sparse tensor indices are sorted and unique.
func (t *Tensor) IsCoalesced() bool {
	t.assertSparse("IsCoalesced")
	return t.sparse.coalesced
}

func (t *Tensor) assertSparse(method string) {
	if t.sparse == nil {
		exceptions.Panicf("Tensor.%s() requires a sparse tensor, got backend %s", method, t.backend)
	}
}

// ToDense returns a dense tensor with the values of t. Duplicate entries are summed.
// Dense tensors are returned as is.
func (t *Tensor) ToDense() *Tensor {
	if t.sparse == nil {
		return t
	}
	dense := Zeros(t.backend.ToDense(), t.DType(), t.shape.Dimensions...)
	rowSize := dense.Size() / max(t.shape.Dimensions[0], 1)
	rows := FlatData[int64](t.sparse.indices)
	for entry, row := range rows {
		addFlatRange(dense.storage.flat, int(row)*rowSize, t.sparse.values.storage.flat, t.sparse.values.offset+entry*rowSize, rowSize)
	}
	dense.requiresGrad = t.requiresGrad
	return dense
}

// Coalesce returns an equivalent sparse tensor with sorted unique indices, summing duplicates.
func (t *Tensor) Coalesce() *Tensor {
	t.assertSparse("Coalesce")
	if t.sparse.coalesced {
		return t
	}
	rows := FlatData[int64](t.sparse.indices)
	order := make([]int, len(rows))
	for ii := range order {
		order[ii] = ii
	}
	slices.SortStableFunc(order, func(a, b int) int { return int(rows[a] - rows[b]) })

	var uniqueRows []int64
	for _, entry := range order {
		if len(uniqueRows) == 0 || uniqueRows[len(uniqueRows)-1] != rows[entry] {
			uniqueRows = append(uniqueRows, rows[entry])
		}
	}
	valueDims := slices.Clone(t.sparse.values.Dimensions())
	valueDims[0] = len(uniqueRows)
	values := Zeros(t.sparse.values.backend, t.DType(), valueDims...)
	rowSize := 1
	for _, dim := range valueDims[1:] {
		rowSize *= dim
	}
	target := -1
	for ii, entry := range order {
		if ii == 0 || rows[order[ii-1]] != rows[entry] {
			target++
		}
		addFlatRange(values.storage.flat, target*rowSize, t.sparse.values.storage.flat, t.sparse.values.offset+entry*rowSize, rowSize)
	}
	coalesced := NewSparse(FromFlatDataAndDimensions(uniqueRows, len(uniqueRows)), values, t.shape.Dimensions...)
	coalesced.requiresGrad = t.requiresGrad
	return coalesced
}

type addable interface {
	int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64 | float32 | float64 | complex64 | complex128
}

func addFlat[T addable](dst, src []T) {
	for ii, v := range src {
		dst[ii] += v
	}
}

// addFlatRange adds src[srcStart:srcStart+n] into dst[dstStart:dstStart+n]. Both must be flats of the same type.
func addFlatRange(dst any, dstStart int, src any, srcStart int, n int) {
	switch d := dst.(type) {
	case []int8:
		addFlat(d[dstStart:dstStart+n], src.([]int8)[srcStart:srcStart+n])
	case []int16:
		addFlat(d[dstStart:dstStart+n], src.([]int16)[srcStart:srcStart+n])
	case []int32:
		addFlat(d[dstStart:dstStart+n], src.([]int32)[srcStart:srcStart+n])
	case []int64:
		addFlat(d[dstStart:dstStart+n], src.([]int64)[srcStart:srcStart+n])
	case []uint8:
		addFlat(d[dstStart:dstStart+n], src.([]uint8)[srcStart:srcStart+n])
	case []uint16:
		addFlat(d[dstStart:dstStart+n], src.([]uint16)[srcStart:srcStart+n])
	case []uint32:
		addFlat(d[dstStart:dstStart+n], src.([]uint32)[srcStart:srcStart+n])
	case []uint64:
		addFlat(d[dstStart:dstStart+n], src.([]uint64)[srcStart:srcStart+n])
	case []float32:
		addFlat(d[dstStart:dstStart+n], src.([]float32)[srcStart:srcStart+n])
	case []float64:
		addFlat(d[dstStart:dstStart+n], src.([]float64)[srcStart:srcStart+n])
	case []complex64:
		addFlat(d[dstStart:dstStart+n], src.([]complex64)[srcStart:srcStart+n])
	case []complex128:
		addFlat(d[dstStart:dstStart+n], src.([]complex128)[srcStart:srcStart+n])
	case []float16.Float16:
		s := src.([]float16.Float16)
		for ii := range n {
			d[dstStart+ii] = float16.Fromfloat32(d[dstStart+ii].Float32() + s[srcStart+ii].Float32())
		}
	case []bfloat16.BFloat16:
		s := src.([]bfloat16.BFloat16)
		for ii := range n {
			d[dstStart+ii] = bfloat16.FromFloat32(d[dstStart+ii].Float32() + s[srcStart+ii].Float32())
		}
	case []bool:
		s := src.([]bool)
		for ii := range n {
			d[dstStart+ii] = d[dstStart+ii] || s[srcStart+ii]
		}
	default:
		exceptions.Panicf("cannot add flat values of type %T", dst)
	}
}
