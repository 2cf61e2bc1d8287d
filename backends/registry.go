// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"sync"
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/tensorcore/types/device"
	"github.com/gomlx/tensorcore/types/shapes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// MaxDTypes is the size of the dtype axis of the Registry table. It must be larger than any dtypes.DType value.
const MaxDTypes = 32

// typeSlot boxes a Type, so it can be held by an atomic.Pointer.
type typeSlot struct {
	t Type
}

// Registry maps (device.Backend, dtypes.DType) pairs to their Type.
//
// Each device family (CPU, CUDA) and the complex dtypes are initialized lazily, at most once per
// Registry, the first time a lookup needs them, by calling the corresponding TypeInit method. The
// initialization is synchronized: concurrent lookups block until it finishes, and always observe
// the fully initialized table afterwards.
//
// Lookups are safe for concurrent use, and never block once the families are initialized.
type Registry struct {
	typeInit TypeInit

	// hooks, if nil, are read from GetVariableHooks at each use.
	hooks VariableHooks

	table [device.NumBackends][MaxDTypes]atomic.Pointer[typeSlot]

	// Family initializers, each run at most once. A panicking initializer panics again on every call.
	initCPU, initCUDA, initComplex func()
}

// NewRegistry creates an empty Registry that initializes its families with typeInit.
// The Undefined Type is registered at construction.
//
// If typeInit is nil, TypeInitStub is used. If hooks is nil, the process-wide hooks (see
// SetVariableHooks) are used.
func NewRegistry(typeInit TypeInit, hooks VariableHooks) *Registry {
	if typeInit == nil {
		typeInit = TypeInitStub{}
	}
	r := &Registry{typeInit: typeInit, hooks: hooks}
	r.initCPU = sync.OnceFunc(func() {
		klog.V(1).Infof("initializing %s types", device.CPU)
		r.typeInit.InitCPU(r)
	})
	r.initCUDA = sync.OnceFunc(func() {
		klog.V(1).Infof("initializing %s types", device.CUDA)
		r.typeInit.InitCUDA(r)
	})
	r.initComplex = sync.OnceFunc(func() {
		klog.V(1).Infof("initializing complex types")
		r.typeInit.InitComplex(r)
	})
	r.RegisterType(device.Undefined, dtypes.InvalidDType, UndefinedType{})
	return r
}

// TypeInit used by the Registry.
func (r *Registry) TypeInit() TypeInit { return r.typeInit }

// VariableHooks returns the hooks in use by the Registry.
func (r *Registry) VariableHooks() VariableHooks {
	if r.hooks != nil {
		return r.hooks
	}
	return GetVariableHooks()
}

// slot returns the table entry for the pair, or nil if the pair is out of range.
func (r *Registry) slot(backend device.Backend, dtype dtypes.DType) *atomic.Pointer[typeSlot] {
	if !backend.IsValid() || dtype < 0 || int(dtype) >= MaxDTypes {
		return nil
	}
	return &r.table[backend][dtype]
}

// RegisterType stores t as the Type of the (backend, dtype) pair, and notifies the variable hooks,
// so they can register the corresponding variable Type.
//
// It is meant to be called by TypeInit implementations. Registering the same pair twice replaces
// the previous Type, and logs a warning.
func (r *Registry) RegisterType(backend device.Backend, dtype dtypes.DType, t Type) {
	slot := r.slot(backend, dtype)
	if slot == nil {
		exceptions.Panicf("RegisterType(%s, %s): invalid backend or dtype", backend, dtype)
	}
	if t == nil {
		exceptions.Panicf("RegisterType(%s, %s): nil Type", backend, dtype)
	}
	if previous := slot.Swap(&typeSlot{t: t}); previous != nil {
		klog.Warningf("RegisterType(%s, %s): replacing previously registered %s with %s", backend, dtype, previous.t, t)
	}
	klog.V(2).Infof("registered %s", t)
	r.VariableHooks().RegisterVariableTypeFor(r, backend, dtype)
}

// GetNonVariableTypeRaw returns the registered Type, or nil. It never triggers initialization.
func (r *Registry) GetNonVariableTypeRaw(backend device.Backend, dtype dtypes.DType) Type {
	slot := r.slot(backend, dtype)
	if slot == nil {
		return nil
	}
	if entry := slot.Load(); entry != nil {
		return entry.t
	}
	return nil
}

// GetNonVariableTypeOpt returns the Type of the pair, initializing the device family of the backend
// (and the complex dtypes, if dtype is complex) as needed.
//
// If the pair is not registered but either the backend or the dtype is undefined, it returns the
// Undefined Type. Otherwise, it returns nil.
func (r *Registry) GetNonVariableTypeOpt(backend device.Backend, dtype dtypes.DType) Type {
	if !backend.IsValid() {
		return nil
	}
	if backend != device.Undefined {
		r.initForDeviceType(backend.DeviceType())
		r.initForDType(dtype)
	}
	if t := r.GetNonVariableTypeRaw(backend, dtype); t != nil {
		return t
	}
	if backend == device.Undefined || dtype == dtypes.InvalidDType {
		return r.GetNonVariableTypeRaw(device.Undefined, dtypes.InvalidDType)
	}
	return nil
}

// GetNonVariableType is like GetNonVariableTypeOpt, but returns an ErrTypeNotEnabled error if the pair is not registered.
func (r *Registry) GetNonVariableType(backend device.Backend, dtype dtypes.DType) (Type, error) {
	t := r.GetNonVariableTypeOpt(backend, dtype)
	if t == nil {
		return nil, errors.Wrapf(ErrTypeNotEnabled, "%s%sType", backend, dtype)
	}
	return t, nil
}

// GetTypeRaw returns the registered Type, or its variable wrapper if isVariable is set. It returns
// nil if the pair is not registered, and never triggers initialization.
func (r *Registry) GetTypeRaw(backend device.Backend, dtype dtypes.DType, isVariable bool) Type {
	base := r.GetNonVariableTypeRaw(backend, dtype)
	if base == nil || !isVariable {
		return base
	}
	return r.VariableHooks().VariableTypeFromBaseType(base)
}

// GetVariableType returns the variable wrapper of the Type of the pair, see GetNonVariableType.
func (r *Registry) GetVariableType(backend device.Backend, dtype dtypes.DType) (Type, error) {
	base, err := r.GetNonVariableType(backend, dtype)
	if err != nil {
		return nil, err
	}
	return r.VariableHooks().VariableTypeFromBaseType(base), nil
}

// GetType returns the Type for the pair, or its variable wrapper if isVariable is set.
func (r *Registry) GetType(backend device.Backend, dtype dtypes.DType, isVariable bool) (Type, error) {
	if isVariable {
		return r.GetVariableType(backend, dtype)
	}
	return r.GetNonVariableType(backend, dtype)
}

// RegisteredTypes returns the (non-variable) Types currently registered, without triggering any initialization.
func (r *Registry) RegisteredTypes() []Type {
	var types []Type
	for backend := range device.NumBackends {
		for dtype := range MaxDTypes {
			if t := r.GetNonVariableTypeRaw(backend, dtypes.DType(dtype)); t != nil {
				types = append(types, t)
			}
		}
	}
	return types
}

// initForDeviceType runs the family initializer of the device type once.
func (r *Registry) initForDeviceType(deviceType device.DeviceType) {
	switch deviceType {
	case device.CPU:
		r.initCPU()
	case device.CUDA:
		r.initCUDA()
	}
}

// initForDType runs the complex initializer once, if dtype is complex.
func (r *Registry) initForDType(dtype dtypes.DType) {
	if shapes.IsComplex(dtype) {
		r.initComplex()
	}
}
