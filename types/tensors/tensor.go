// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implements a `Tensor`, a handle to a multi-dimensional array.
//
// A Tensor is defined by its shape (a data type and its axes dimensions), its strides (the
// per-axis step, in elements, over the underlying flat storage), a storage offset, the
// device.Backend where it lives, and a reference to the shared Storage.
//
// Tensors are cheap handles: views created with Slice, Narrow, Select, Transpose, Unsqueeze or
// Reshape (when contiguous) share the same Storage with adjusted shape and strides, they never
// copy data. Use Contiguous or Clone to get a dense row-major copy.
//
// There are various ways to construct a Tensor:
//
//   - Zeros(backend, dtype, dimensions...), Ones(...), ZerosLike(t), OnesLike(t): allocate new
//     storage through the current Allocator.
//
//   - FromFlatDataAndDimensions[T Supported](data []T, dimensions ...int): wraps the given flat data.
//     Example:
//
//     t := FromFlatDataAndDimensions([]int64{1, 2, 3, 4}, 2, 2) // Tensor with [[1,2], [3,4]]
//
//   - FromValue(value any): takes a scalar or an arbitrary (regular) multidimensional slice. Example:
//
//     t := FromValue([][]float32{{1,2}, {3, 5}, {7, 11}})
//
//   - NewSparse(indices, values, dimensions...): row-sparse (COO) tensors, see sparse.go.
//
// Concurrent mutation of tensors sharing storage must be synchronized by the caller.
package tensors

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/tensorcore/types/device"
	"github.com/gomlx/tensorcore/types/shapes"
	"github.com/pkg/errors"
)

// Tensor is a handle to a (possibly strided) view over a shared Storage, or, for sparse
// backends, to a pair of indices and values tensors.
type Tensor struct {
	// shape of the tensor.
	shape shapes.Shape

	// strides, in elements, of each axis over storage.flat. Nil for sparse tensors.
	strides []int

	// offset of the first element in storage.flat.
	offset int

	storage *Storage
	backend device.Backend

	requiresGrad bool

	// sparse is set only for tensors with a sparse backend.
	sparse *sparseData
}

// newDense creates a dense tensor handle over storage.
func newDense(backend device.Backend, shape shapes.Shape, storage *Storage, offset int, strides []int) *Tensor {
	return &Tensor{
		shape:   shape,
		strides: strides,
		offset:  offset,
		storage: storage,
		backend: backend,
	}
}

// Zeros returns a new zero-filled dense tensor.
func Zeros(backend device.Backend, dtype dtypes.DType, dimensions ...int) *Tensor {
	if backend.IsSparse() || !backend.IsValid() || backend == device.Undefined {
		exceptions.Panicf("tensors.Zeros: cannot allocate dense storage for backend %s", backend)
	}
	shape := shapes.Make(dtype, dimensions...)
	storage := allocate(backend.DeviceType(), dtype, shape.Size())
	return newDense(backend, shape, storage, 0, shape.Strides())
}

// Ones returns a new dense tensor filled with 1.
func Ones(backend device.Backend, dtype dtypes.DType, dimensions ...int) *Tensor {
	t := Zeros(backend, dtype, dimensions...)
	t.Fill(1)
	return t
}

// ZerosLike returns a new zero-filled dense tensor with the same backend, dtype and dimensions as t.
func ZerosLike(t *Tensor) *Tensor {
	return Zeros(t.backend.ToDense(), t.DType(), t.shape.Dimensions...)
}

// OnesLike returns a new dense tensor filled with 1, with the same backend, dtype and dimensions as t.
func OnesLike(t *Tensor) *Tensor {
	return Ones(t.backend.ToDense(), t.DType(), t.shape.Dimensions...)
}

// FromFlatDataAndDimensions returns a CPU tensor wrapping the flat data (it is not copied) with the given dimensions.
//
// If no dimensions are given, the data is taken as a 1D tensor.
func FromFlatDataAndDimensions[T Supported](data []T, dimensions ...int) *Tensor {
	if len(dimensions) == 0 {
		dimensions = []int{len(data)}
	}
	shape := shapes.Make(DTypeOf[T](), dimensions...)
	if shape.Size() != len(data) {
		exceptions.Panicf("FromFlatDataAndDimensions(): data has %d elements, but dimensions %v require %d",
			len(data), dimensions, shape.Size())
	}
	return newDense(device.BackendCPU, shape, NewStorageFromFlat(data), 0, shape.Strides())
}

// FromScalar returns a CPU scalar (rank 0) tensor with the given value.
func FromScalar[T Supported](value T) *Tensor {
	shape := shapes.Make(DTypeOf[T]())
	return newDense(device.BackendCPU, shape, NewStorageFromFlat([]T{value}), 0, nil)
}

// FromValue returns a CPU tensor with the contents of value, which must be a scalar or a regular
// multidimensional slice of a supported type. Values of Go type `int` are stored as Int64.
func FromValue(value any) *Tensor {
	dimensions, baseType, err := dimensionsForValue(reflect.ValueOf(value))
	if err != nil {
		panic(errors.WithMessagef(err, "tensors.FromValue(%T)", value))
	}
	goType := baseType
	if baseType.Kind() == reflect.Int {
		goType = reflect.TypeOf(int64(0))
	}
	dtype := dtypes.FromGoType(goType)
	if dtype == dtypes.InvalidDType {
		exceptions.Panicf("tensors.FromValue(%T): unsupported element type %s", value, baseType)
	}
	t := Zeros(device.BackendCPU, dtype, dimensions...)
	flatV := reflect.ValueOf(t.storage.flat)
	pos := 0
	var copyRecursive func(v reflect.Value)
	copyRecursive = func(v reflect.Value) {
		if v.Kind() == reflect.Slice {
			for ii := range v.Len() {
				copyRecursive(v.Index(ii))
			}
			return
		}
		flatV.Index(pos).Set(v.Convert(goType))
		pos++
	}
	copyRecursive(reflect.ValueOf(value))
	return t
}

// dimensionsForValue returns the dimensions and the base element type of a regular multidimensional slice.
func dimensionsForValue(v reflect.Value) (dimensions []int, baseType reflect.Type, err error) {
	if v.Kind() != reflect.Slice {
		if v.Kind() == reflect.Pointer || !v.IsValid() {
			return nil, nil, errors.Errorf("cannot convert %v to a tensor", v)
		}
		return nil, v.Type(), nil
	}
	dimensions = []int{v.Len()}
	if v.Len() == 0 {
		elemType := v.Type().Elem()
		for elemType.Kind() == reflect.Slice {
			elemType = elemType.Elem()
			dimensions = append(dimensions, 0)
		}
		return dimensions, elemType, nil
	}
	subDims, baseType, err := dimensionsForValue(v.Index(0))
	if err != nil {
		return nil, nil, err
	}
	for ii := 1; ii < v.Len(); ii++ {
		otherDims, _, err := dimensionsForValue(v.Index(ii))
		if err != nil {
			return nil, nil, err
		}
		if !slices.Equal(subDims, otherDims) {
			return nil, nil, errors.Errorf("sub-slices have irregular shapes, found dimensions %v and %v", subDims, otherDims)
		}
	}
	return append(dimensions, subDims...), baseType, nil
}

// Shape of the tensor, includes DType.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType returns the DType (scalar type) of the tensor.
func (t *Tensor) DType() dtypes.DType { return t.shape.DType }

// Backend returns the (device, layout) pair of the tensor.
func (t *Tensor) Backend() device.Backend { return t.backend }

// Rank returns the number of axes.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// Dimensions returns the dimensions of each axis. The returned slice must not be changed.
func (t *Tensor) Dimensions() []int { return t.shape.Dimensions }

// Dim returns the dimension of the axis. Negative axes count from the end.
func (t *Tensor) Dim(axis int) int { return t.shape.Dim(axis) }

// Size returns the number of elements in the tensor.
func (t *Tensor) Size() int { return t.shape.Size() }

// Strides returns the per-axis strides, in elements. The returned slice must not be changed.
func (t *Tensor) Strides() []int { return t.strides }

// Stride returns the stride of the axis. Negative axes count from the end.
func (t *Tensor) Stride(axis int) int { return t.strides[t.shape.WrapAxis(axis)] }

// Offset returns the position of the first element in the storage.
func (t *Tensor) Offset() int { return t.offset }

// Storage returns the shared storage of a dense tensor.
func (t *Tensor) Storage() *Storage { return t.storage }

// SharesStorage returns whether t and other are views over the same storage.
func (t *Tensor) SharesStorage(other *Tensor) bool {
	return t.storage != nil && t.storage == other.storage
}

// RequiresGrad returns whether the tensor is flagged as differentiable (a "Variable").
func (t *Tensor) RequiresGrad() bool { return t.requiresGrad }

// SetRequiresGrad flags the tensor as differentiable or not. It returns t itself.
func (t *Tensor) SetRequiresGrad(requiresGrad bool) *Tensor {
	t.requiresGrad = requiresGrad
	return t
}

// Options returns the dtype, device, layout and requires-grad options of the tensor.
func (t *Tensor) Options() Options {
	return Options{
		DType:        t.DType(),
		Backend:      t.backend,
		RequiresGrad: t.requiresGrad,
	}
}

// assertDense panics if t is sparse.
func (t *Tensor) assertDense(method string) {
	if t.sparse != nil {
		exceptions.Panicf("Tensor.%s() is not supported for sparse tensors (backend %s)", method, t.backend)
	}
}

// IsContiguous returns whether the tensor elements are laid out densely in row-major order.
// Axes of dimension 1 are ignored, since their stride is never used.
func (t *Tensor) IsContiguous() bool {
	if t.sparse != nil {
		return false
	}
	expected := 1
	for axis := t.Rank() - 1; axis >= 0; axis-- {
		dim := t.shape.Dimensions[axis]
		if dim == 0 {
			return true
		}
		if dim != 1 && t.strides[axis] != expected {
			return false
		}
		expected *= dim
	}
	return true
}

// Contiguous returns t itself if it is contiguous, or a new contiguous copy otherwise.
func (t *Tensor) Contiguous() *Tensor {
	t.assertDense("Contiguous")
	if t.IsContiguous() {
		return t
	}
	return t.Clone()
}

// Clone returns a new contiguous copy of the tensor with its own storage.
func (t *Tensor) Clone() *Tensor {
	if t.sparse != nil {
		return NewSparse(t.sparse.indices.Clone(), t.sparse.values.Clone(), t.shape.Dimensions...)
	}
	c := Zeros(t.backend, t.DType(), t.shape.Dimensions...)
	src := reflect.ValueOf(t.storage.flat)
	dst := reflect.ValueOf(c.storage.flat)
	pos := 0
	t.forEachStorageIndex(func(storageIdx int) {
		dst.Index(pos).Set(src.Index(storageIdx))
		pos++
	})
	c.requiresGrad = t.requiresGrad
	return c
}

// forEachStorageIndex calls fn with the storage position of each element, in logical row-major order.
func (t *Tensor) forEachStorageIndex(fn func(storageIdx int)) {
	if t.Size() == 0 {
		return
	}
	rank := t.Rank()
	if rank == 0 {
		fn(t.offset)
		return
	}
	indices := make([]int, rank)
	pos := t.offset
	for {
		fn(pos)
		axis := rank - 1
		for ; axis >= 0; axis-- {
			indices[axis]++
			pos += t.strides[axis]
			if indices[axis] < t.shape.Dimensions[axis] {
				break
			}
			pos -= indices[axis] * t.strides[axis]
			indices[axis] = 0
		}
		if axis < 0 {
			return
		}
	}
}

// storageIndex returns the storage position of the element at the given indices.
func (t *Tensor) storageIndex(indices []int) int {
	if len(indices) != t.Rank() {
		exceptions.Panicf("tensor of rank %d indexed with %d indices", t.Rank(), len(indices))
	}
	pos := t.offset
	for axis, idx := range indices {
		dim := t.shape.Dimensions[axis]
		if idx < 0 {
			idx += dim
		}
		if idx < 0 || idx >= dim {
			exceptions.Panicf("index %d out of range for axis %d with dimension %d", indices[axis], axis, dim)
		}
		pos += idx * t.strides[axis]
	}
	return pos
}

// AtFloat64 returns the element at the given indices converted to float64.
func (t *Tensor) AtFloat64(indices ...int) float64 {
	t.assertDense("AtFloat64")
	return flatGetFloat64(t.storage.flat, t.storageIndex(indices))
}

// SetFloat64 sets the element at the given indices, converting v to the tensor's dtype.
func (t *Tensor) SetFloat64(v float64, indices ...int) {
	t.assertDense("SetFloat64")
	flatSetFloat64(t.storage.flat, t.storageIndex(indices), v)
}

// Fill sets every element of the tensor (only the ones in view) to v.
func (t *Tensor) Fill(v float64) {
	t.assertDense("Fill")
	t.forEachStorageIndex(func(storageIdx int) {
		flatSetFloat64(t.storage.flat, storageIdx, v)
	})
}

// FlatData returns the flat slice of a contiguous tensor: the elements in view, in row-major order.
// It is not a copy, changes are reflected in the tensor (and any other view sharing storage).
//
// It panics if T doesn't match the tensor dtype or the tensor is not contiguous.
func FlatData[T Supported](t *Tensor) []T {
	t.assertDense("FlatData")
	if !t.IsContiguous() {
		exceptions.Panicf("FlatData() requires a contiguous tensor, got shape %s with strides %v", t.shape, t.strides)
	}
	flat, ok := t.storage.flat.([]T)
	if !ok {
		exceptions.Panicf("FlatData[%T]() called on tensor with dtype %s", *new(T), t.DType())
	}
	return flat[t.offset : t.offset+t.Size()]
}

// StorageData returns the whole flat storage slice of a dense tensor, to be addressed with
// Tensor.Offset and Tensor.Strides. It panics if T doesn't match the tensor dtype.
func StorageData[T Supported](t *Tensor) []T {
	t.assertDense("StorageData")
	flat, ok := t.storage.flat.([]T)
	if !ok {
		exceptions.Panicf("StorageData[%T]() called on tensor with dtype %s", *new(T), t.DType())
	}
	return flat
}

// CopyFlatData returns a copy of the elements in view, in row-major order.
func CopyFlatData[T Supported](t *Tensor) []T {
	if t.sparse != nil {
		t = t.ToDense()
	}
	flat := StorageData[T](t)
	data := make([]T, 0, t.Size())
	t.forEachStorageIndex(func(storageIdx int) {
		data = append(data, flat[storageIdx])
	})
	return data
}

// Value returns the contents of the tensor as a multidimensional Go slice (e.g. [][]float32), or a
// Go scalar for rank 0. Sparse tensors are densified first.
func (t *Tensor) Value() any {
	if t.sparse != nil {
		t = t.ToDense()
	}
	src := reflect.ValueOf(t.storage.flat)
	if t.Rank() == 0 {
		return src.Index(t.offset).Interface()
	}
	elemType := src.Type().Elem()
	flatV := reflect.MakeSlice(reflect.SliceOf(elemType), 0, t.Size())
	t.forEachStorageIndex(func(storageIdx int) {
		flatV = reflect.Append(flatV, src.Index(storageIdx))
	})
	return nestSlices(flatV, t.shape.Dimensions).Interface()
}

// nestSlices converts a flat slice into a multidimensional slice with the given dimensions, sharing the data.
func nestSlices(flatV reflect.Value, dimensions []int) reflect.Value {
	if len(dimensions) == 1 {
		return flatV
	}
	subSize := 1
	for _, dim := range dimensions[1:] {
		subSize *= dim
	}
	resultT := flatV.Type()
	for range dimensions[1:] {
		resultT = reflect.SliceOf(resultT)
	}
	result := reflect.MakeSlice(resultT, dimensions[0], dimensions[0])
	for ii := range dimensions[0] {
		result.Index(ii).Set(nestSlices(flatV.Slice(ii*subSize, (ii+1)*subSize), dimensions[1:]))
	}
	return result
}

// String implements fmt.Stringer.
func (t *Tensor) String() string {
	if t == nil {
		return "Tensor(nil)"
	}
	return fmt.Sprintf("%s%s: %v", t.backend, t.shape, t.Value())
}

// Equal returns whether both tensors have the same shape and the same values. Backends are not compared.
func (t *Tensor) Equal(other *Tensor) bool {
	if !t.shape.Equal(other.shape) {
		return false
	}
	return reflect.DeepEqual(t.Value(), other.Value())
}
