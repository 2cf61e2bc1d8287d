// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"reflect"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/tensorcore/types/device"
	"k8s.io/klog/v2"
)

// Storage is the flat memory area backing one or more tensors.
//
// Tensors created as views of another tensor (Slice, Select, Transpose, ...) point to the same
// Storage, with different offsets and strides. Storage is never copied implicitly.
type Storage struct {
	dtype      dtypes.DType
	deviceType device.DeviceType

	// flat is always a slice of the Go type of dtype, e.g. []float32 for dtypes.Float32.
	flat any
}

// DType of the elements held by the storage.
func (s *Storage) DType() dtypes.DType { return s.dtype }

// DeviceType where the storage lives.
func (s *Storage) DeviceType() device.DeviceType { return s.deviceType }

// Flat returns the underlying flat slice, e.g. a []float32. It is shared, not a copy.
func (s *Storage) Flat() any { return s.flat }

// Len returns the number of elements in the storage.
func (s *Storage) Len() int {
	if s.flat == nil {
		return 0
	}
	return reflect.ValueOf(s.flat).Len()
}

// NewStorageFromFlat wraps the given flat slice as CPU storage. The slice is not copied.
func NewStorageFromFlat[T Supported](flat []T) *Storage {
	return &Storage{dtype: DTypeOf[T](), deviceType: device.CPU, flat: flat}
}

// Allocator is the storage/device collaborator: it provides zero-filled storage for new tensors.
type Allocator interface {
	// Allocate returns a zero-filled storage for length elements of dtype on the given device.
	Allocate(deviceType device.DeviceType, dtype dtypes.DType, length int) *Storage
}

var (
	muAllocator      sync.RWMutex
	currentAllocator Allocator = HeapAllocator{}
)

// SetAllocator replaces the allocator used by every tensor factory. It returns the previous one.
//
// It should be called at process start, before any tensor is created.
func SetAllocator(allocator Allocator) (previous Allocator) {
	muAllocator.Lock()
	defer muAllocator.Unlock()
	previous = currentAllocator
	currentAllocator = allocator
	return
}

// allocate uses the current allocator.
func allocate(deviceType device.DeviceType, dtype dtypes.DType, length int) *Storage {
	muAllocator.RLock()
	allocator := currentAllocator
	muAllocator.RUnlock()
	return allocator.Allocate(deviceType, dtype, length)
}

// HeapAllocator allocates CPU storage on the Go heap. It can't allocate device memory.
type HeapAllocator struct{}

// Allocate implements Allocator.
func (HeapAllocator) Allocate(deviceType device.DeviceType, dtype dtypes.DType, length int) *Storage {
	if deviceType != device.CPU {
		exceptions.Panicf("HeapAllocator cannot allocate storage on device %s", deviceType)
	}
	goType := dtype.GoType()
	if goType == nil {
		exceptions.Panicf("HeapAllocator cannot allocate storage for dtype %s", dtype)
	}
	if klog.V(3).Enabled() {
		klog.Infof("allocating %s storage for %d elements of %s (%s)",
			deviceType, length, dtype, humanize.Bytes(uint64(length*dtype.Size())))
	}
	return &Storage{
		dtype:      dtype,
		deviceType: deviceType,
		flat:       reflect.MakeSlice(reflect.SliceOf(goType), length, length).Interface(),
	}
}
