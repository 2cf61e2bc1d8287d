// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cpu

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/gomlx/tensorcore/backends"
	"github.com/gomlx/tensorcore/types/device"
	"github.com/gomlx/tensorcore/types/shapes"
	"github.com/gomlx/tensorcore/types/tensors"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

var (
	dispatchEmbeddingBagSum = NewDTypeDispatcher("EmbeddingBagSum")
	dispatchEmbeddingBagMax = NewDTypeDispatcher("EmbeddingBagMax")
	dispatchScaleRows       = NewDTypeDispatcher("ScaleRows")
)

func init() {
	dispatchEmbeddingBagSum.Register(dtypes.Float16, embeddingBagSumGeneric[float16.Float16])
	dispatchEmbeddingBagSum.Register(dtypes.BFloat16, embeddingBagSumGeneric[bfloat16.BFloat16])
	dispatchEmbeddingBagSum.Register(dtypes.Float32, embeddingBagSumGeneric[float32])
	dispatchEmbeddingBagSum.Register(dtypes.Float64, embeddingBagSumGeneric[float64])

	dispatchEmbeddingBagMax.Register(dtypes.Float16, embeddingBagMaxGeneric[float16.Float16])
	dispatchEmbeddingBagMax.Register(dtypes.BFloat16, embeddingBagMaxGeneric[bfloat16.BFloat16])
	dispatchEmbeddingBagMax.Register(dtypes.Float32, embeddingBagMaxGeneric[float32])
	dispatchEmbeddingBagMax.Register(dtypes.Float64, embeddingBagMaxGeneric[float64])

	dispatchScaleRows.Register(dtypes.Float16, scaleRowsGeneric[float16.Float16])
	dispatchScaleRows.Register(dtypes.BFloat16, scaleRowsGeneric[bfloat16.BFloat16])
	dispatchScaleRows.Register(dtypes.Float32, scaleRowsGeneric[float32])
	dispatchScaleRows.Register(dtypes.Float64, scaleRowsGeneric[float64])
}

// checkFloating checks that x has a floating point dtype.
func checkFloating(op backends.OpType, x *tensors.Tensor, name string, pos int) {
	tensors.CheckScalarTypes(op.String(), tensors.TensorArg{Tensor: x, Name: name, Pos: pos}, shapes.FloatingDTypes...)
}

// checkMode checks that mode is valid, and that it can be combined with sparse gradients.
func checkMode(op backends.OpType, mode backends.EmbeddingBagMode, sparse bool) {
	if !mode.IsValid() {
		panic(errors.Wrapf(backends.ErrInvalidMode, "%s(): unknown mode %s", op, mode))
	}
	if sparse && mode == backends.EmbeddingBagMax {
		panic(errors.Wrapf(backends.ErrInvalidMode, "%s(): max mode does not support sparse weights", op))
	}
}

// checkRange checks that every value is in [0, limit).
func checkRange(op backends.OpType, name string, values []int64, limit int) {
	for ii, v := range values {
		if v < 0 || v >= int64(limit) {
			panic(errors.Wrapf(tensors.ErrShape, "%s(): %s[%d]=%d out of range [0, %d)", op, name, ii, v, limit))
		}
	}
}

// checkOffsets checks that offsets is non-empty, starts at 0, is non-decreasing and doesn't go beyond numIndices.
func checkOffsets(op backends.OpType, offsets []int64, numIndices int) {
	if len(offsets) == 0 {
		panic(errors.Wrapf(tensors.ErrShape, "%s(): offsets must have at least one element", op))
	}
	if offsets[0] != 0 {
		panic(errors.Wrapf(tensors.ErrShape, "%s(): offsets[0] must be 0, got %d", op, offsets[0]))
	}
	for ii := 1; ii < len(offsets); ii++ {
		if offsets[ii] < offsets[ii-1] {
			panic(errors.Wrapf(tensors.ErrShape, "%s(): offsets must be non-decreasing, got offsets[%d]=%d < offsets[%d]=%d",
				op, ii, offsets[ii], ii-1, offsets[ii-1]))
		}
	}
	if last := offsets[len(offsets)-1]; last > int64(numIndices) {
		panic(errors.Wrapf(tensors.ErrShape, "%s(): offsets[%d]=%d is larger than the number of indices %d",
			op, len(offsets)-1, last, numIndices))
	}
}

// makeOffset2Bag returns, for each index position, the bag it belongs to.
//
// It marks the start of each bag in a zero vector with one extra position (repeated offsets,
// that is empty bags, accumulate), shifts it so position 0 starts at bag 0 and takes its
// cumulative sum.
func makeOffset2Bag(offsets []int64, numIndices int) []int64 {
	offset2bag := make([]int64, numIndices+1)
	for _, offset := range offsets {
		offset2bag[offset]++
	}
	offset2bag[0]--
	cumsumFlat(offset2bag)
	return offset2bag[:numIndices]
}

// makeBagSize returns the number of indices of each bag for the MEAN and MAX modes, and zeros for SUM.
func makeBagSize(offsets []int64, numIndices int, mode backends.EmbeddingBagMode) []int64 {
	bagSize := make([]int64, len(offsets))
	if mode == backends.EmbeddingBagSum {
		return bagSize
	}
	for ii := range len(offsets) - 1 {
		bagSize[ii] = offsets[ii+1] - offsets[ii]
	}
	bagSize[len(offsets)-1] = int64(numIndices) - offsets[len(offsets)-1]
	return bagSize
}

// EmbeddingBag implements backends.Type.
func (t *Type) EmbeddingBag(weight, indices, offsets *tensors.Tensor, scaleGradByFreq bool,
	mode backends.EmbeddingBagMode, sparse bool) backends.EmbeddingBagResult {
	op := backends.OpTypeEmbeddingBag
	t.failSparse(op)
	checkIndices(op, indices, "indices", 2)
	checkIndices(op, offsets, "offsets", 3)
	checkFloating(op, weight, "weight", 1)
	t.checkTensor(op, weight, "weight", 1)
	tensors.CheckDim(op.String(), tensors.TensorArg{Tensor: weight, Name: "weight", Pos: 1}, 2)
	tensors.CheckDim(op.String(), tensors.TensorArg{Tensor: indices, Name: "indices", Pos: 2}, 1)
	tensors.CheckDim(op.String(), tensors.TensorArg{Tensor: offsets, Name: "offsets", Pos: 3}, 1)
	tensors.CheckContiguous(op.String(), tensors.TensorArg{Tensor: indices, Name: "indices", Pos: 2})
	tensors.CheckContiguous(op.String(), tensors.TensorArg{Tensor: offsets, Name: "offsets", Pos: 3})
	checkMode(op, mode, sparse)

	numWeights, dim := weight.Dim(0), weight.Dim(1)
	indicesFlat := tensors.FlatData[int64](indices)
	offsetsFlat := tensors.FlatData[int64](offsets)
	checkOffsets(op, offsetsFlat, len(indicesFlat))
	checkRange(op, "indices", indicesFlat, numWeights)

	numBags := len(offsetsFlat)
	offset2bag := makeOffset2Bag(offsetsFlat, len(indicesFlat))
	bagSize := makeBagSize(offsetsFlat, len(indicesFlat), mode)
	result := backends.EmbeddingBagResult{
		Output:     tensors.Zeros(t.Backend(), t.ScalarType(), numBags, dim),
		Offset2Bag: tensors.FromFlatDataAndDimensions(offset2bag, len(offset2bag)),
		BagSize:    tensors.FromFlatDataAndDimensions(bagSize, numBags),
	}
	switch mode {
	case backends.EmbeddingBagSum, backends.EmbeddingBagMean:
		dispatchEmbeddingBagSum.Dispatch(t.ScalarType(), weight, indicesFlat, offset2bag, result.Output)
		if mode == backends.EmbeddingBagMean {
			dispatchScaleRows.Dispatch(t.ScalarType(), result.Output, bagSize)
		}
		result.Extra = result.BagSize
	case backends.EmbeddingBagMax:
		maxIndices := tensors.Zeros(device.BackendCPU, dtypes.Int64, numBags, dim)
		dispatchEmbeddingBagMax.Dispatch(t.ScalarType(), weight, indicesFlat, offset2bag, result.Output,
			tensors.FlatData[int64](maxIndices))
		result.Extra = maxIndices
	}
	return result
}

// embeddingBagSumGeneric adds, for each index position, the weight row of the index into the
// output row of its bag.
func embeddingBagSumGeneric[T shapes.Float](params ...any) any {
	weight, indices, offset2bag, output := params[0].(*tensors.Tensor), params[1].([]int64), params[2].([]int64), params[3].(*tensors.Tensor)
	w := tensors.StorageData[T](weight)
	wOffset, wStride0, wStride1 := weight.Offset(), weight.Stride(0), weight.Stride(1)
	out := tensors.FlatData[T](output)
	dim := weight.Dim(1)
	for ii, index := range indices {
		axpy(dim, 1, w, wOffset+int(index)*wStride0, wStride1, out, int(offset2bag[ii])*dim, 1)
	}
	return nil
}

// scaleRowsGeneric divides each row i of the contiguous matrix x by max(divisors[i], 1).
func scaleRowsGeneric[T shapes.Float](params ...any) any {
	x, divisors := params[0].(*tensors.Tensor), params[1].([]int64)
	flat := tensors.FlatData[T](x)
	dim := x.Dim(1)
	for row, divisor := range divisors {
		scaleRow(flat, row*dim, dim, float64(max(divisor, 1)))
	}
	return nil
}

// embeddingBagMaxGeneric keeps, for each bag and dimension, the maximum weight value and the
// index that produced it. The first index of a bag always initializes its maximum, later ones
// only replace it if strictly greater, so the first seen wins ties.
//
// NaN compares false, so a NaN that initializes a bag's maximum is kept, and later NaNs never
// replace a number.
func embeddingBagMaxGeneric[T shapes.Float](params ...any) any {
	weight, indices, offset2bag := params[0].(*tensors.Tensor), params[1].([]int64), params[2].([]int64)
	output, maxIndices := params[3].(*tensors.Tensor), params[4].([]int64)
	w := tensors.StorageData[T](weight)
	wOffset, wStride0, wStride1 := weight.Offset(), weight.Stride(0), weight.Stride(1)
	out := tensors.FlatData[T](output)
	dim := weight.Dim(1)
	for ii, index := range indices {
		bag := int(offset2bag[ii])
		isFirstForBag := ii == 0 || offset2bag[ii] != offset2bag[ii-1]
		for d := range dim {
			value := w[wOffset+int(index)*wStride0+d*wStride1]
			pos := bag*dim + d
			if isFirstForBag || shapes.ToFloat64(value) > shapes.ToFloat64(out[pos]) {
				out[pos] = value
				maxIndices[pos] = index
			}
		}
	}
	return nil
}
