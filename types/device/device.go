// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package device enumerates where tensors live and how they are laid out.
//
// A Backend is a (device, layout) pair, e.g. CPU with a strided (dense) layout or CUDA with a
// sparse layout. It is a small closed set, used as the first key of the type registry
// (see package backends).
package device

import "fmt"

// DeviceType is the hardware family that holds a tensor's storage.
type DeviceType int

const (
	CPU DeviceType = iota
	CUDA
	NumDeviceTypes
)

// String implements fmt.Stringer.
func (d DeviceType) String() string {
	switch d {
	case CPU:
		return "cpu"
	case CUDA:
		return "cuda"
	}
	return fmt.Sprintf("DeviceType(%d)", int(d))
}

// Layout is the memory layout of a tensor.
type Layout int

const (
	// Strided is the dense layout: shape plus per-axis strides over a flat storage.
	Strided Layout = iota
	// Sparse is the COO layout: a list of indices and a matching values tensor.
	Sparse
)

// Name returns the user-facing layout name, e.g. "strided" or "sparse_coo".
func (l Layout) Name() string {
	switch l {
	case Strided:
		return "strided"
	case Sparse:
		return "sparse_coo"
	}
	return fmt.Sprintf("Layout(%d)", int(l))
}

// String implements fmt.Stringer.
func (l Layout) String() string { return l.Name() }

// Backend identifies a (device, layout) pair.
type Backend int

const (
	BackendCPU Backend = iota
	BackendCUDA
	BackendSparseCPU
	BackendSparseCUDA
	Undefined

	// NumBackends is the number of Backend values, used to size dispatch tables.
	NumBackends
)

var backendNames = [NumBackends]string{
	BackendCPU:        "CPU",
	BackendCUDA:       "CUDA",
	BackendSparseCPU:  "SparseCPU",
	BackendSparseCUDA: "SparseCUDA",
	Undefined:         "Undefined",
}

// String implements fmt.Stringer.
func (b Backend) String() string {
	if b < 0 || b >= NumBackends {
		return fmt.Sprintf("Backend(%d)", int(b))
	}
	return backendNames[b]
}

// IsValid returns whether b is one of the enumerated backends.
func (b Backend) IsValid() bool { return b >= 0 && b < NumBackends }

// DeviceType returns the device family of the backend.
//
// It panics for Undefined, which has no device.
func (b Backend) DeviceType() DeviceType {
	switch b {
	case BackendCPU, BackendSparseCPU:
		return CPU
	case BackendCUDA, BackendSparseCUDA:
		return CUDA
	}
	panic(fmt.Sprintf("backend %s has no device type", b))
}

// Layout returns the memory layout of the backend.
func (b Backend) Layout() Layout {
	if b.IsSparse() {
		return Sparse
	}
	return Strided
}

// IsSparse returns whether the backend uses the sparse layout.
func (b Backend) IsSparse() bool {
	return b == BackendSparseCPU || b == BackendSparseCUDA
}

// ToSparse returns the sparse backend on the same device. Sparse backends map to themselves.
func (b Backend) ToSparse() Backend {
	switch b {
	case BackendCPU, BackendSparseCPU:
		return BackendSparseCPU
	case BackendCUDA, BackendSparseCUDA:
		return BackendSparseCUDA
	}
	return Undefined
}

// ToDense returns the strided backend on the same device. Dense backends map to themselves.
func (b Backend) ToDense() Backend {
	switch b {
	case BackendCPU, BackendSparseCPU:
		return BackendCPU
	case BackendCUDA, BackendSparseCUDA:
		return BackendCUDA
	}
	return Undefined
}

// FromDeviceAndLayout returns the Backend for the given device and layout.
func FromDeviceAndLayout(d DeviceType, l Layout) Backend {
	var b Backend
	switch d {
	case CPU:
		b = BackendCPU
	case CUDA:
		b = BackendCUDA
	default:
		return Undefined
	}
	if l == Sparse {
		return b.ToSparse()
	}
	return b
}
