// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package variable implements backends.VariableHooks: it wraps base Types into "variable" Types,
// whose results are flagged as requiring gradients when their differentiable inputs are.
//
// Install it at process start to enable variable lookups on the global Registry:
//
//	variable.Install()
//	t, err := backends.GetType(device.BackendCPU, dtypes.Float32, true)
package variable

import (
	"reflect"
	"sync"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/tensorcore/backends"
	"github.com/gomlx/tensorcore/types/device"
	"github.com/gomlx/tensorcore/types/tensors"
	"k8s.io/klog/v2"
)

// Type wraps a base backends.Type. Operators are delegated to the base Type.
type Type struct {
	backends.Type
}

var _ backends.Type = (*Type)(nil)

// Base returns the wrapped non-variable Type.
func (t *Type) Base() backends.Type { return t.Type }

// IsVariable implements backends.Type.
func (t *Type) IsVariable() bool { return true }

// String implements backends.Type.
func (t *Type) String() string { return "Variable[" + t.Type.String() + "]" }

// IndexSelect implements backends.Type, the result requires gradient if x does.
func (t *Type) IndexSelect(x *tensors.Tensor, axis int, index *tensors.Tensor) *tensors.Tensor {
	return t.Type.IndexSelect(x, axis, index).SetRequiresGrad(x.RequiresGrad())
}

// Cumsum implements backends.Type, the result requires gradient if x does.
func (t *Type) Cumsum(x *tensors.Tensor, axis int) *tensors.Tensor {
	return t.Type.Cumsum(x, axis).SetRequiresGrad(x.RequiresGrad())
}

// Flip implements backends.Type, the result requires gradient if x does.
func (t *Type) Flip(x *tensors.Tensor, axes ...int) *tensors.Tensor {
	return t.Type.Flip(x, axes...).SetRequiresGrad(x.RequiresGrad())
}

// EmbeddingBag implements backends.Type, the output requires gradient if weight does.
func (t *Type) EmbeddingBag(weight, indices, offsets *tensors.Tensor, scaleGradByFreq bool,
	mode backends.EmbeddingBagMode, sparse bool) backends.EmbeddingBagResult {
	result := t.Type.EmbeddingBag(weight, indices, offsets, scaleGradByFreq, mode, sparse)
	result.Output.SetRequiresGrad(weight.RequiresGrad())
	return result
}

type typeKey struct {
	backend device.Backend
	dtype   dtypes.DType
}

// Hooks implements backends.VariableHooks, keeping one variable Type per base Type.
type Hooks struct {
	mu    sync.Mutex
	types map[typeKey]*Type
}

var _ backends.VariableHooks = (*Hooks)(nil)

// NewHooks returns an empty Hooks.
func NewHooks() *Hooks {
	return &Hooks{types: make(map[typeKey]*Type)}
}

// Install sets a new Hooks as the process-wide backends.VariableHooks. It returns the previous hooks.
func Install() (previous backends.VariableHooks) {
	return backends.SetVariableHooks(NewHooks())
}

// RegisterVariableTypeFor implements backends.VariableHooks.
func (h *Hooks) RegisterVariableTypeFor(r *backends.Registry, backend device.Backend, dtype dtypes.DType) {
	base := r.GetNonVariableTypeRaw(backend, dtype)
	if base == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.types[typeKey{backend, dtype}] = &Type{Type: base}
	klog.V(2).Infof("registered variable type for %s", base)
}

// VariableTypeFromBaseType implements backends.VariableHooks.
// Base types that were not announced with RegisterVariableTypeFor are wrapped on demand.
func (h *Hooks) VariableTypeFromBaseType(base backends.Type) backends.Type {
	if v, ok := base.(*Type); ok {
		return v
	}
	key := typeKey{base.Backend(), base.ScalarType()}
	h.mu.Lock()
	defer h.mu.Unlock()
	if v, found := h.types[key]; found && sameType(v.Type, base) {
		return v
	}
	v := &Type{Type: base}
	h.types[key] = v
	return v
}

// sameType compares the two types by identity, if they are comparable.
func sameType(a, b backends.Type) bool {
	if reflect.TypeOf(a) != reflect.TypeOf(b) || !reflect.TypeOf(a).Comparable() {
		return false
	}
	return a == b
}
