// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/tensorcore/types/device"
)

// VariableHooks connects the Registry to an optional autograd library, that wraps base Types into
// differentiable "variable" Types.
//
// See package backends/variable for an implementation.
type VariableHooks interface {
	// VariableTypeFromBaseType returns the variable Type wrapping base.
	VariableTypeFromBaseType(base Type) Type

	// RegisterVariableTypeFor is called by Registry.RegisterType after each base Type is registered.
	RegisterVariableTypeFor(r *Registry, backend device.Backend, dtype dtypes.DType)
}

// VariableHooksStub is used when no autograd library is installed: lookups of variable Types panic,
// and registrations are ignored.
type VariableHooksStub struct{}

var _ VariableHooks = VariableHooksStub{}

// VariableTypeFromBaseType implements VariableHooks.
func (VariableHooksStub) VariableTypeFromBaseType(base Type) Type {
	exceptions.Panicf("cannot get the variable type of %s without the autograd library (see package backends/variable)", base)
	return nil
}

// RegisterVariableTypeFor implements VariableHooks, it does nothing.
func (VariableHooksStub) RegisterVariableTypeFor(*Registry, device.Backend, dtypes.DType) {}

type hooksHolder struct {
	hooks VariableHooks
}

var processHooks atomic.Pointer[hooksHolder]

// SetVariableHooks installs the process-wide VariableHooks used by registries created without
// explicit hooks. Passing nil restores VariableHooksStub. It returns the previous hooks.
func SetVariableHooks(hooks VariableHooks) (previous VariableHooks) {
	if hooks == nil {
		hooks = VariableHooksStub{}
	}
	if old := processHooks.Swap(&hooksHolder{hooks: hooks}); old != nil {
		return old.hooks
	}
	return VariableHooksStub{}
}

// GetVariableHooks returns the process-wide VariableHooks.
func GetVariableHooks() VariableHooks {
	if holder := processHooks.Load(); holder != nil {
		return holder.hooks
	}
	return VariableHooksStub{}
}
