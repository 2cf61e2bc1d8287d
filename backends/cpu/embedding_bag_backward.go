// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cpu

import (
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/gomlx/tensorcore/backends"
	"github.com/gomlx/tensorcore/types/shapes"
	"github.com/gomlx/tensorcore/types/tensors"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"k8s.io/klog/v2"
)

var (
	dispatchEmbeddingBagDenseBackward = NewDTypeDispatcher("EmbeddingBagDenseBackward")
	dispatchEmbeddingBagMaxBackward   = NewDTypeDispatcher("EmbeddingBagMaxBackward")
	dispatchEmbeddingBackward         = NewDTypeDispatcher("EmbeddingBackward")
)

func init() {
	dispatchEmbeddingBagDenseBackward.Register(dtypes.Float16, embeddingBagDenseBackwardGeneric[float16.Float16])
	dispatchEmbeddingBagDenseBackward.Register(dtypes.BFloat16, embeddingBagDenseBackwardGeneric[bfloat16.BFloat16])
	dispatchEmbeddingBagDenseBackward.Register(dtypes.Float32, embeddingBagDenseBackwardGeneric[float32])
	dispatchEmbeddingBagDenseBackward.Register(dtypes.Float64, embeddingBagDenseBackwardGeneric[float64])

	dispatchEmbeddingBagMaxBackward.Register(dtypes.Float16, embeddingBagMaxBackwardGeneric[float16.Float16])
	dispatchEmbeddingBagMaxBackward.Register(dtypes.BFloat16, embeddingBagMaxBackwardGeneric[bfloat16.BFloat16])
	dispatchEmbeddingBagMaxBackward.Register(dtypes.Float32, embeddingBagMaxBackwardGeneric[float32])
	dispatchEmbeddingBagMaxBackward.Register(dtypes.Float64, embeddingBagMaxBackwardGeneric[float64])

	dispatchEmbeddingBackward.Register(dtypes.Float16, embeddingBackwardGeneric[float16.Float16])
	dispatchEmbeddingBackward.Register(dtypes.BFloat16, embeddingBackwardGeneric[bfloat16.BFloat16])
	dispatchEmbeddingBackward.Register(dtypes.Float32, embeddingBackwardGeneric[float32])
	dispatchEmbeddingBackward.Register(dtypes.Float64, embeddingBackwardGeneric[float64])
}

// denseBackwardGrainSize is the minimum number of runs (distinct indices) handled by each parallel task.
const denseBackwardGrainSize = 64

// EmbeddingBagBackward implements backends.Type.
//
// indices, offsets and offset2bag are produced by the forward pass, so they are required to be
// contiguous, rather than copied.
func (t *Type) EmbeddingBagBackward(grad, indices, offsets, offset2bag, bagSize, maxIndices *tensors.Tensor,
	numWeights int, scaleGradByFreq bool, mode backends.EmbeddingBagMode, sparse bool) *tensors.Tensor {
	op := backends.OpTypeEmbeddingBagBackward
	t.failSparse(op)
	checkIndices(op, indices, "indices", 2)
	checkIndices(op, offsets, "offsets", 3)
	checkIndices(op, offset2bag, "offset2bag", 4)
	tensors.CheckContiguous(op.String(), tensors.TensorArg{Tensor: indices, Name: "indices", Pos: 2})
	tensors.CheckContiguous(op.String(), tensors.TensorArg{Tensor: offsets, Name: "offsets", Pos: 3})
	tensors.CheckContiguous(op.String(), tensors.TensorArg{Tensor: offset2bag, Name: "offset2bag", Pos: 4})
	checkMode(op, mode, sparse)
	if sparse {
		return t.EmbeddingBagSparseBackward(grad, indices, offsets, offset2bag, bagSize, numWeights, scaleGradByFreq, mode)
	}
	return t.EmbeddingBagDenseBackward(grad, indices, offsets, offset2bag, bagSize, maxIndices, numWeights, scaleGradByFreq, mode)
}

// bagBackwardInputs validates the common inputs of the backward functions, and returns their flat values.
func (t *Type) bagBackwardInputs(op backends.OpType, grad, indices, offsets, offset2bag, bagSize *tensors.Tensor,
	numWeights int) (indicesFlat, offset2bagFlat, bagSizeFlat []int64) {
	t.failSparse(op)
	checkFloating(op, grad, "grad", 1)
	t.checkTensor(op, grad, "grad", 1)
	checkIndices(op, indices, "indices", 2)
	checkIndices(op, offsets, "offsets", 3)
	checkIndices(op, offset2bag, "offset2bag", 4)
	checkIndices(op, bagSize, "bag_size", 5)
	tensors.CheckDim(op.String(), tensors.TensorArg{Tensor: grad, Name: "grad", Pos: 1}, 2)
	numBags := offsets.Size()
	if grad.Dim(0) != numBags || bagSize.Size() != numBags {
		panic(errors.Wrapf(tensors.ErrShape, "%s(): grad shape %s and bag_size shape %s don't match %d bags",
			op, grad.Shape(), bagSize.Shape(), numBags))
	}
	if offset2bag.Size() != indices.Size() {
		panic(errors.Wrapf(tensors.ErrShape, "%s(): offset2bag has %d elements, but there are %d indices",
			op, offset2bag.Size(), indices.Size()))
	}
	indicesFlat = tensors.FlatData[int64](indices.Contiguous())
	offset2bagFlat = tensors.FlatData[int64](offset2bag.Contiguous())
	bagSizeFlat = tensors.FlatData[int64](bagSize.Contiguous())
	checkRange(op, "indices", indicesFlat, numWeights)
	checkRange(op, "offset2bag", offset2bagFlat, numBags)
	return
}

// denseBackwardArgs holds the inputs of the per-run accumulation of the dense backward.
type denseBackwardArgs struct {
	grad, gradWeight *tensors.Tensor
	mode             backends.EmbeddingBagMode

	// sortedIndices and sortedOffset2Bag are the indices sorted, and their bags.
	sortedIndices, sortedOffset2Bag []int64

	// runStarts holds the position in sortedIndices where each run of equal indices starts,
	// plus a final len(sortedIndices) sentinel.
	runStarts []int

	bagSize []int64

	// counts of each index, if scaling the gradient by frequency. Nil otherwise.
	counts []int64
}

// EmbeddingBagDenseBackward implements backends.Type.
func (t *Type) EmbeddingBagDenseBackward(grad, indices, offsets, offset2bag, bagSize, maxIndices *tensors.Tensor,
	numWeights int, scaleGradByFreq bool, mode backends.EmbeddingBagMode) *tensors.Tensor {
	op := backends.OpTypeEmbeddingBagDenseBackward
	checkMode(op, mode, false)
	indicesFlat, offset2bagFlat, bagSizeFlat := t.bagBackwardInputs(op, grad, indices, offsets, offset2bag, bagSize, numWeights)
	dim := grad.Dim(1)
	gradWeight := tensors.Zeros(t.Backend(), t.ScalarType(), numWeights, dim)

	if mode == backends.EmbeddingBagMax {
		checkIndices(op, maxIndices, "max_indices", 6)
		if !slices.Equal(maxIndices.Dimensions(), grad.Dimensions()) {
			panic(errors.Wrapf(tensors.ErrShape, "%s(): max_indices shape %s doesn't match grad shape %s",
				op, maxIndices.Shape(), grad.Shape()))
		}
		maxIndicesFlat := tensors.FlatData[int64](maxIndices.Contiguous())
		checkRange(op, "max_indices", maxIndicesFlat, numWeights)
		dispatchEmbeddingBagMaxBackward.Dispatch(t.ScalarType(), grad, bagSizeFlat, maxIndicesFlat, gradWeight)
		return gradWeight
	}

	// Sort the indices, carrying along their bags, to cluster the contributions to each weight row.
	sortedIndices, perm := sortIndices(indicesFlat)
	sortedOffset2Bag := make([]int64, len(perm))
	for ii, p := range perm {
		sortedOffset2Bag[ii] = offset2bagFlat[p]
	}
	args := &denseBackwardArgs{
		grad:             grad,
		gradWeight:       gradWeight,
		mode:             mode,
		sortedIndices:    sortedIndices,
		sortedOffset2Bag: sortedOffset2Bag,
		bagSize:          bagSizeFlat,
	}
	if scaleGradByFreq {
		args.counts = make([]int64, numWeights)
		for _, index := range indicesFlat {
			args.counts[index]++
		}
	}
	for ii := range sortedIndices {
		if ii == 0 || sortedIndices[ii] != sortedIndices[ii-1] {
			args.runStarts = append(args.runStarts, ii)
		}
	}
	args.runStarts = append(args.runStarts, len(sortedIndices))
	numRuns := len(args.runStarts) - 1

	// Each run writes to a different row of gradWeight, so runs can be accumulated in parallel.
	accumulate := func(runStart, runEnd int) {
		dispatchEmbeddingBagDenseBackward.Dispatch(t.ScalarType(), args, runStart, runEnd)
	}
	if len(indicesFlat) > t.typeInit.parallelThreshold && t.typeInit.pool.IsEnabled() {
		if klog.V(3).Enabled() {
			klog.Infof("%s: %d indices, %d runs accumulated in parallel", op, len(indicesFlat), numRuns)
		}
		t.typeInit.pool.ParallelFor(numRuns, denseBackwardGrainSize, accumulate)
	} else {
		accumulate(0, numRuns)
	}
	return gradWeight
}

// embeddingBagDenseBackwardGeneric accumulates the runs [runStart, runEnd): for each run of a
// repeated index, the (scaled) gradient rows of every bag where it appears are added to the
// index's row of gradWeight.
func embeddingBagDenseBackwardGeneric[T shapes.Float](params ...any) any {
	args, runStart, runEnd := params[0].(*denseBackwardArgs), params[1].(int), params[2].(int)
	g := tensors.StorageData[T](args.grad)
	gOffset, gStride0, gStride1 := args.grad.Offset(), args.grad.Stride(0), args.grad.Stride(1)
	gw := tensors.FlatData[T](args.gradWeight)
	dim := args.gradWeight.Dim(1)
	for run := runStart; run < runEnd; run++ {
		start, end := args.runStarts[run], args.runStarts[run+1]
		index := args.sortedIndices[start]
		for ii := start; ii < end; ii++ {
			source := args.sortedOffset2Bag[ii]
			scale := 1.0
			if args.counts != nil {
				scale /= float64(args.counts[index])
			}
			if args.mode == backends.EmbeddingBagMean {
				scale /= float64(max(args.bagSize[source], 1))
			}
			axpy(dim, scale, g, gOffset+int(source)*gStride0, gStride1, gw, int(index)*dim, 1)
		}
	}
	return nil
}

// embeddingBagMaxBackwardGeneric adds, for each non-empty bag and dimension, the gradient into the
// row of the index that won the maximum.
func embeddingBagMaxBackwardGeneric[T shapes.Float](params ...any) any {
	grad, bagSize, maxIndices, gradWeight := params[0].(*tensors.Tensor), params[1].([]int64), params[2].([]int64), params[3].(*tensors.Tensor)
	g := tensors.StorageData[T](grad)
	gOffset, gStride0, gStride1 := grad.Offset(), grad.Stride(0), grad.Stride(1)
	gw := tensors.FlatData[T](gradWeight)
	dim := gradWeight.Dim(1)
	for bag, size := range bagSize {
		if size == 0 {
			continue
		}
		for d := range dim {
			index := int(maxIndices[bag*dim+d])
			axpy(1, 1, g, gOffset+bag*gStride0+d*gStride1, 1, gw, index*dim+d, 1)
		}
	}
	return nil
}

// EmbeddingBagSparseBackward implements backends.Type.
//
// It gathers one gradient row per index position (not deduplicated), applies the MEAN scaling,
// and leaves the accumulation to EmbeddingBackward.
func (t *Type) EmbeddingBagSparseBackward(grad, indices, offsets, offset2bag, bagSize *tensors.Tensor,
	numWeights int, scaleGradByFreq bool, mode backends.EmbeddingBagMode) *tensors.Tensor {
	op := backends.OpTypeEmbeddingBagSparseBackward
	checkMode(op, mode, true)
	_, offset2bagFlat, bagSizeFlat := t.bagBackwardInputs(op, grad, indices, offsets, offset2bag, bagSize, numWeights)
	indexGrad := t.IndexSelect(grad, 0, offset2bag)
	if mode == backends.EmbeddingBagMean {
		divisors := make([]int64, len(offset2bagFlat))
		for ii, bag := range offset2bagFlat {
			divisors[ii] = bagSizeFlat[bag]
		}
		dispatchScaleRows.Dispatch(t.ScalarType(), indexGrad, divisors)
	}
	return t.EmbeddingBackward(indexGrad, indices, numWeights, -1, scaleGradByFreq, true)
}

// EmbeddingBackward implements backends.Type.
func (t *Type) EmbeddingBackward(grad, indices *tensors.Tensor, numWeights, paddingIdx int,
	scaleGradByFreq, sparse bool) *tensors.Tensor {
	op := backends.OpTypeEmbeddingBackward
	t.failSparse(op)
	checkFloating(op, grad, "grad", 1)
	t.checkTensor(op, grad, "grad", 1)
	checkIndices(op, indices, "indices", 2)
	if grad.Rank() != indices.Rank()+1 || !slices.Equal(grad.Dimensions()[:indices.Rank()], indices.Dimensions()) {
		panic(errors.Wrapf(tensors.ErrShape, "%s(): grad shape %s doesn't match indices shape %s",
			op, grad.Shape(), indices.Shape()))
	}
	indicesFlat := tensors.FlatData[int64](indices.Contiguous())
	checkRange(op, "indices", indicesFlat, numWeights)
	dim := grad.Dim(-1)
	grad = grad.Reshape(len(indicesFlat), dim)

	var counts []int64
	if scaleGradByFreq {
		counts = make([]int64, numWeights)
		for _, index := range indicesFlat {
			if int(index) != paddingIdx {
				counts[index]++
			}
		}
	}

	if !sparse {
		gradWeight := tensors.Zeros(t.Backend(), t.ScalarType(), numWeights, dim)
		dispatchEmbeddingBackward.Dispatch(t.ScalarType(), grad, indicesFlat, paddingIdx, counts, gradWeight)
		return gradWeight
	}

	// Sparse: keep one entry per non-padding index.
	kept := make([]int64, 0, len(indicesFlat))
	positions := make([]int64, 0, len(indicesFlat))
	for pos, index := range indicesFlat {
		if int(index) != paddingIdx {
			kept = append(kept, index)
			positions = append(positions, int64(pos))
		}
	}
	values := t.IndexSelect(grad, 0, tensors.FromFlatDataAndDimensions(positions, len(positions)))
	if counts != nil {
		divisors := make([]int64, len(kept))
		for ii, index := range kept {
			divisors[ii] = counts[index]
		}
		dispatchScaleRows.Dispatch(t.ScalarType(), values, divisors)
	}
	return tensors.NewSparse(tensors.FromFlatDataAndDimensions(kept, len(kept)), values, numWeights, dim)
}

// embeddingBackwardGeneric accumulates each row of grad into the row of gradWeight of its index,
// skipping paddingIdx, and dividing by the index counts if given.
func embeddingBackwardGeneric[T shapes.Float](params ...any) any {
	grad, indices, paddingIdx := params[0].(*tensors.Tensor), params[1].([]int64), params[2].(int)
	counts, gradWeight := params[3].([]int64), params[4].(*tensors.Tensor)
	g := tensors.StorageData[T](grad)
	gOffset, gStride0, gStride1 := grad.Offset(), grad.Stride(0), grad.Stride(1)
	gw := tensors.FlatData[T](gradWeight)
	dim := gradWeight.Dim(1)
	for pos, index := range indices {
		if int(index) == paddingIdx {
			continue
		}
		scale := 1.0
		if counts != nil {
			scale /= float64(counts[index])
		}
		axpy(dim, scale, g, gOffset+pos*gStride0, gStride1, gw, int(index)*dim, 1)
	}
	return nil
}
