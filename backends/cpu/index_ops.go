// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cpu

import (
	"cmp"
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/gomlx/tensorcore/backends"
	"github.com/gomlx/tensorcore/types/shapes"
	"github.com/gomlx/tensorcore/types/tensors"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

var (
	dispatchIndexSelect = NewDTypeDispatcher("IndexSelect")
	dispatchIndexAdd    = NewDTypeDispatcher("IndexAdd")
	dispatchCumsum      = NewDTypeDispatcher("Cumsum")
	dispatchSort        = NewDTypeDispatcher("Sort")
	dispatchFlip        = NewDTypeDispatcher("Flip")
)

func init() {
	// Copy only kernels: every dtype.
	dispatchIndexSelect.Register(dtypes.Bool, indexSelectGeneric[bool])
	dispatchIndexSelect.Register(dtypes.Int8, indexSelectGeneric[int8])
	dispatchIndexSelect.Register(dtypes.Int16, indexSelectGeneric[int16])
	dispatchIndexSelect.Register(dtypes.Int32, indexSelectGeneric[int32])
	dispatchIndexSelect.Register(dtypes.Int64, indexSelectGeneric[int64])
	dispatchIndexSelect.Register(dtypes.Uint8, indexSelectGeneric[uint8])
	dispatchIndexSelect.Register(dtypes.Uint16, indexSelectGeneric[uint16])
	dispatchIndexSelect.Register(dtypes.Uint32, indexSelectGeneric[uint32])
	dispatchIndexSelect.Register(dtypes.Uint64, indexSelectGeneric[uint64])
	dispatchIndexSelect.Register(dtypes.Float16, indexSelectGeneric[float16.Float16])
	dispatchIndexSelect.Register(dtypes.BFloat16, indexSelectGeneric[bfloat16.BFloat16])
	dispatchIndexSelect.Register(dtypes.Float32, indexSelectGeneric[float32])
	dispatchIndexSelect.Register(dtypes.Float64, indexSelectGeneric[float64])
	dispatchIndexSelect.Register(dtypes.Complex64, indexSelectGeneric[complex64])
	dispatchIndexSelect.Register(dtypes.Complex128, indexSelectGeneric[complex128])

	dispatchFlip.Register(dtypes.Bool, flipGeneric[bool])
	dispatchFlip.Register(dtypes.Int8, flipGeneric[int8])
	dispatchFlip.Register(dtypes.Int16, flipGeneric[int16])
	dispatchFlip.Register(dtypes.Int32, flipGeneric[int32])
	dispatchFlip.Register(dtypes.Int64, flipGeneric[int64])
	dispatchFlip.Register(dtypes.Uint8, flipGeneric[uint8])
	dispatchFlip.Register(dtypes.Uint16, flipGeneric[uint16])
	dispatchFlip.Register(dtypes.Uint32, flipGeneric[uint32])
	dispatchFlip.Register(dtypes.Uint64, flipGeneric[uint64])
	dispatchFlip.Register(dtypes.Float16, flipGeneric[float16.Float16])
	dispatchFlip.Register(dtypes.BFloat16, flipGeneric[bfloat16.BFloat16])
	dispatchFlip.Register(dtypes.Float32, flipGeneric[float32])
	dispatchFlip.Register(dtypes.Float64, flipGeneric[float64])
	dispatchFlip.Register(dtypes.Complex64, flipGeneric[complex64])
	dispatchFlip.Register(dtypes.Complex128, flipGeneric[complex128])

	// Accumulating kernels: every dtype but Bool.
	dispatchIndexAdd.Register(dtypes.Int8, indexAddGeneric[int8])
	dispatchIndexAdd.Register(dtypes.Int16, indexAddGeneric[int16])
	dispatchIndexAdd.Register(dtypes.Int32, indexAddGeneric[int32])
	dispatchIndexAdd.Register(dtypes.Int64, indexAddGeneric[int64])
	dispatchIndexAdd.Register(dtypes.Uint8, indexAddGeneric[uint8])
	dispatchIndexAdd.Register(dtypes.Uint16, indexAddGeneric[uint16])
	dispatchIndexAdd.Register(dtypes.Uint32, indexAddGeneric[uint32])
	dispatchIndexAdd.Register(dtypes.Uint64, indexAddGeneric[uint64])
	dispatchIndexAdd.Register(dtypes.Float16, indexAddHalf[float16.Float16])
	dispatchIndexAdd.Register(dtypes.BFloat16, indexAddHalf[bfloat16.BFloat16])
	dispatchIndexAdd.Register(dtypes.Float32, indexAddGeneric[float32])
	dispatchIndexAdd.Register(dtypes.Float64, indexAddGeneric[float64])
	dispatchIndexAdd.Register(dtypes.Complex64, indexAddGeneric[complex64])
	dispatchIndexAdd.Register(dtypes.Complex128, indexAddGeneric[complex128])

	dispatchCumsum.Register(dtypes.Int8, cumsumGeneric[int8])
	dispatchCumsum.Register(dtypes.Int16, cumsumGeneric[int16])
	dispatchCumsum.Register(dtypes.Int32, cumsumGeneric[int32])
	dispatchCumsum.Register(dtypes.Int64, cumsumGeneric[int64])
	dispatchCumsum.Register(dtypes.Uint8, cumsumGeneric[uint8])
	dispatchCumsum.Register(dtypes.Uint16, cumsumGeneric[uint16])
	dispatchCumsum.Register(dtypes.Uint32, cumsumGeneric[uint32])
	dispatchCumsum.Register(dtypes.Uint64, cumsumGeneric[uint64])
	dispatchCumsum.Register(dtypes.Float16, cumsumHalf[float16.Float16])
	dispatchCumsum.Register(dtypes.BFloat16, cumsumHalf[bfloat16.BFloat16])
	dispatchCumsum.Register(dtypes.Float32, cumsumGeneric[float32])
	dispatchCumsum.Register(dtypes.Float64, cumsumGeneric[float64])
	dispatchCumsum.Register(dtypes.Complex64, cumsumGeneric[complex64])
	dispatchCumsum.Register(dtypes.Complex128, cumsumGeneric[complex128])

	// Ordered kernels: integer and floating dtypes.
	dispatchSort.Register(dtypes.Int8, sortGeneric[int8])
	dispatchSort.Register(dtypes.Int16, sortGeneric[int16])
	dispatchSort.Register(dtypes.Int32, sortGeneric[int32])
	dispatchSort.Register(dtypes.Int64, sortGeneric[int64])
	dispatchSort.Register(dtypes.Uint8, sortGeneric[uint8])
	dispatchSort.Register(dtypes.Uint16, sortGeneric[uint16])
	dispatchSort.Register(dtypes.Uint32, sortGeneric[uint32])
	dispatchSort.Register(dtypes.Uint64, sortGeneric[uint64])
	dispatchSort.Register(dtypes.Float16, sortHalf[float16.Float16])
	dispatchSort.Register(dtypes.BFloat16, sortHalf[bfloat16.BFloat16])
	dispatchSort.Register(dtypes.Float32, sortGeneric[float32])
	dispatchSort.Register(dtypes.Float64, sortGeneric[float64])
}

// axisSizes returns the product of the dimensions before axis, the dimension of axis, and the
// product of the dimensions after axis.
func axisSizes(dimensions []int, axis int) (outer, dim, inner int) {
	outer, inner = 1, 1
	for _, d := range dimensions[:axis] {
		outer *= d
	}
	for _, d := range dimensions[axis+1:] {
		inner *= d
	}
	return outer, dimensions[axis], inner
}

// checkIndexVector checks that the Int64 index is a vector (or a scalar) with values in [0, dim), and returns its flat values.
func checkIndexVector(op backends.OpType, index *tensors.Tensor, dim int) []int64 {
	checkIndices(op, index, "index", 3)
	if index.Rank() > 1 {
		panic(errors.Wrapf(tensors.ErrShape, "%s(): index is supposed to be a vector, got shape %s", op, index.Shape()))
	}
	flat := tensors.FlatData[int64](index.Contiguous())
	for _, idx := range flat {
		if idx < 0 || idx >= int64(dim) {
			panic(errors.Wrapf(tensors.ErrShape, "%s(): index %d out of range for dimension %d", op, idx, dim))
		}
	}
	return flat
}

// IndexSelect implements backends.Type.
func (t *Type) IndexSelect(x *tensors.Tensor, axis int, index *tensors.Tensor) *tensors.Tensor {
	op := backends.OpTypeIndexSelect
	t.failSparse(op)
	t.checkTensor(op, x, "self", 1)
	if x.Rank() == 0 {
		panic(errors.Wrapf(tensors.ErrShape, "%s(): cannot select from a scalar", op))
	}
	axis = x.Shape().WrapAxis(axis)
	idx := checkIndexVector(op, index, x.Dim(axis))
	outDims := slices.Clone(x.Dimensions())
	outDims[axis] = len(idx)
	out := tensors.Zeros(t.Backend(), t.ScalarType(), outDims...)
	dispatchIndexSelect.Dispatch(t.ScalarType(), x.Contiguous(), axis, idx, out)
	return out
}

func indexSelectGeneric[T tensors.Supported](params ...any) any {
	x, axis, idx, out := params[0].(*tensors.Tensor), params[1].(int), params[2].([]int64), params[3].(*tensors.Tensor)
	src, dst := tensors.FlatData[T](x), tensors.FlatData[T](out)
	outer, dim, inner := axisSizes(x.Dimensions(), axis)
	n := len(idx)
	for o := range outer {
		for ii, j := range idx {
			copy(dst[(o*n+ii)*inner:(o*n+ii+1)*inner], src[(o*dim+int(j))*inner:(o*dim+int(j)+1)*inner])
		}
	}
	return nil
}

// IndexAdd implements backends.Type. x must be contiguous, since it is updated in place.
func (t *Type) IndexAdd(x *tensors.Tensor, axis int, index, source *tensors.Tensor) {
	op := backends.OpTypeIndexAdd
	t.failSparse(op)
	t.checkTensor(op, x, "self", 1)
	t.checkTensor(op, source, "source", 4)
	tensors.CheckContiguous(op.String(), tensors.TensorArg{Tensor: x, Name: "self", Pos: 1})
	if x.Rank() == 0 {
		panic(errors.Wrapf(tensors.ErrShape, "%s(): cannot add into a scalar", op))
	}
	axis = x.Shape().WrapAxis(axis)
	idx := checkIndexVector(op, index, x.Dim(axis))
	wantDims := slices.Clone(x.Dimensions())
	wantDims[axis] = len(idx)
	if !slices.Equal(wantDims, source.Dimensions()) {
		panic(errors.Wrapf(tensors.ErrShape, "%s(): source shape %s incompatible with self shape %s and %d indices",
			op, source.Shape(), x.Shape(), len(idx)))
	}
	dispatchIndexAdd.Dispatch(t.ScalarType(), x, axis, idx, source.Contiguous())
}

func indexAddGeneric[T PODAddableConstraints](params ...any) any {
	x, axis, idx, source := params[0].(*tensors.Tensor), params[1].(int), params[2].([]int64), params[3].(*tensors.Tensor)
	dst, src := tensors.FlatData[T](x), tensors.FlatData[T](source)
	outer, dim, inner := axisSizes(x.Dimensions(), axis)
	n := len(idx)
	for o := range outer {
		for ii, j := range idx {
			dstRow := dst[(o*dim+int(j))*inner : (o*dim+int(j)+1)*inner]
			srcRow := src[(o*n+ii)*inner : (o*n+ii+1)*inner]
			for k, v := range srcRow {
				dstRow[k] += v
			}
		}
	}
	return nil
}

func indexAddHalf[T HalfConstraints](params ...any) any {
	x, axis, idx, source := params[0].(*tensors.Tensor), params[1].(int), params[2].([]int64), params[3].(*tensors.Tensor)
	dst, src := tensors.FlatData[T](x), tensors.FlatData[T](source)
	outer, dim, inner := axisSizes(x.Dimensions(), axis)
	n := len(idx)
	for o := range outer {
		for ii, j := range idx {
			axpy(inner, 1, src, (o*n+ii)*inner, 1, dst, (o*dim+int(j))*inner, 1)
		}
	}
	return nil
}

// Cumsum implements backends.Type.
func (t *Type) Cumsum(x *tensors.Tensor, axis int) *tensors.Tensor {
	op := backends.OpTypeCumsum
	t.failSparse(op)
	t.checkTensor(op, x, "self", 1)
	out := x.Clone().SetRequiresGrad(false)
	if x.Rank() == 0 {
		return out
	}
	axis = x.Shape().WrapAxis(axis)
	dispatchCumsum.Dispatch(t.ScalarType(), out, axis)
	return out
}

func cumsumGeneric[T PODAddableConstraints](params ...any) any {
	out, axis := params[0].(*tensors.Tensor), params[1].(int)
	flat := tensors.FlatData[T](out)
	outer, dim, inner := axisSizes(out.Dimensions(), axis)
	for o := range outer {
		for ii := 1; ii < dim; ii++ {
			base := (o*dim + ii) * inner
			for k := range inner {
				flat[base+k] += flat[base-inner+k]
			}
		}
	}
	return nil
}

func cumsumHalf[T HalfConstraints](params ...any) any {
	out, axis := params[0].(*tensors.Tensor), params[1].(int)
	flat := tensors.FlatData[T](out)
	outer, dim, inner := axisSizes(out.Dimensions(), axis)
	for o := range outer {
		for ii := 1; ii < dim; ii++ {
			base := (o*dim + ii) * inner
			axpy(inner, 1, flat, base-inner, 1, flat, base, 1)
		}
	}
	return nil
}

// cumsumFlat computes the cumulative sum of flat in place.
func cumsumFlat[T PODAddableConstraints](flat []T) {
	for ii := 1; ii < len(flat); ii++ {
		flat[ii] += flat[ii-1]
	}
}

// Sort implements backends.Type.
func (t *Type) Sort(x *tensors.Tensor) (values, permutation *tensors.Tensor) {
	op := backends.OpTypeSort
	t.failSparse(op)
	t.checkTensor(op, x, "self", 1)
	if x.Rank() != 1 {
		panic(errors.Wrapf(tensors.ErrShape, "%s(): only 1D tensors are supported, got shape %s", op, x.Shape()))
	}
	values = x.Clone().SetRequiresGrad(false)
	permutation = tensors.Zeros(t.Backend(), dtypes.Int64, x.Dim(0))
	dispatchSort.Dispatch(t.ScalarType(), values, tensors.FlatData[int64](permutation))
	return
}

// stableSortPermutation fills perm with the permutation that stably sorts keys, and reorders keys accordingly.
func stableSortPermutation[T any](keys []T, perm []int64, compare func(a, b T) int) {
	for ii := range perm {
		perm[ii] = int64(ii)
	}
	original := slices.Clone(keys)
	slices.SortStableFunc(perm, func(a, b int64) int { return compare(original[a], original[b]) })
	for ii, p := range perm {
		keys[ii] = original[p]
	}
}

func sortGeneric[T PODNumericConstraints](params ...any) any {
	values, perm := params[0].(*tensors.Tensor), params[1].([]int64)
	stableSortPermutation(tensors.FlatData[T](values), perm, cmp.Compare[T])
	return nil
}

func sortHalf[T HalfConstraints](params ...any) any {
	values, perm := params[0].(*tensors.Tensor), params[1].([]int64)
	stableSortPermutation(tensors.FlatData[T](values), perm, func(a, b T) int {
		return cmp.Compare(shapes.ToFloat64(a), shapes.ToFloat64(b))
	})
	return nil
}

// sortIndices returns a stably sorted copy of indices and its permutation.
func sortIndices(indices []int64) (sorted, perm []int64) {
	sorted = slices.Clone(indices)
	perm = make([]int64, len(indices))
	stableSortPermutation(sorted, perm, cmp.Compare[int64])
	return
}

// checkFlipAxes validates the flip axes against the rank, and returns them wrapped to [0, rank).
func checkFlipAxes(rank int, axes []int) []int {
	if len(axes) == 0 || len(axes) > rank {
		panic(errors.Wrapf(tensors.ErrShape, "flip dims size out of range, got flip dims size=%d", len(axes)))
	}
	minAxis, maxAxis := slices.Min(axes), slices.Max(axes)
	if minAxis < -rank || minAxis >= rank {
		panic(errors.Wrapf(tensors.ErrShape, "the min flip dims out of range, got min flip dims=%d", minAxis))
	}
	if maxAxis < -rank || maxAxis >= rank {
		panic(errors.Wrapf(tensors.ErrShape, "the max flip dims out of range, got max flip dims=%d", maxAxis))
	}
	wrapped := make([]int, len(axes))
	for ii, axis := range axes {
		if axis < 0 {
			axis += rank
		}
		wrapped[ii] = axis
	}
	unique := slices.Compact(slices.Sorted(slices.Values(wrapped)))
	if len(unique) != len(axes) {
		panic(errors.Wrapf(tensors.ErrShape, "dims has duplicates, original flip dims size=%d, but unique flip dims size=%d",
			len(axes), len(unique)))
	}
	return wrapped
}

// Flip implements backends.Type.
func (t *Type) Flip(x *tensors.Tensor, axes ...int) *tensors.Tensor {
	op := backends.OpTypeFlip
	t.failSparse(op)
	t.checkTensor(op, x, "self", 1)
	axes = checkFlipAxes(x.Rank(), axes)
	out := tensors.Zeros(t.Backend(), t.ScalarType(), x.Dimensions()...)
	dispatchFlip.Dispatch(t.ScalarType(), x.Contiguous(), axes, out)
	return out
}

func flipGeneric[T tensors.Supported](params ...any) any {
	x, axes, out := params[0].(*tensors.Tensor), params[1].([]int), params[2].(*tensors.Tensor)
	src, dst := tensors.FlatData[T](x), tensors.FlatData[T](out)
	dims := x.Dimensions()
	strides := x.Shape().Strides()
	flipped := make([]bool, len(dims))
	for _, axis := range axes {
		flipped[axis] = true
	}
	for pos := range dst {
		srcPos := 0
		rem := pos
		for axis, dim := range dims {
			coord := rem / strides[axis]
			rem %= strides[axis]
			if flipped[axis] {
				coord = dim - 1 - coord
			}
			srcPos += coord * strides[axis]
		}
		dst[pos] = src[srcPos]
	}
	return nil
}
