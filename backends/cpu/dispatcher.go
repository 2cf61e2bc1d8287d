// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cpu

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/gomlx/tensorcore/backends"
	"github.com/gomlx/tensorcore/types/tensors"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
)

// FuncForDispatcher is type of functions that the DTypeDispatcher can handle.
type FuncForDispatcher func(params ...any) any

// DTypeDispatcher holds one implementation of a kernel per dtype, and calls the one matching the dtype
// of its main operand.
type DTypeDispatcher struct {
	Name  string
	fnMap [backends.MaxDTypes]FuncForDispatcher
}

// NewDTypeDispatcher creates a new dispatcher for a class of functions.
func NewDTypeDispatcher(name string) *DTypeDispatcher {
	return &DTypeDispatcher{
		Name: name,
	}
}

// Dispatch calls the function that matches the dtype.
// It panics with an error wrapping backends.ErrNotImplemented if the dtype has no registered function.
func (d *DTypeDispatcher) Dispatch(dtype dtypes.DType, params ...any) any {
	if !d.Supports(dtype) {
		panic(errors.Wrapf(backends.ErrNotImplemented, "dtype %s not supported by %s", dtype, d.Name))
	}
	return d.fnMap[dtype](params...)
}

// Supports returns whether there is a function registered for the dtype.
func (d *DTypeDispatcher) Supports(dtype dtypes.DType) bool {
	return dtype >= 0 && dtype < backends.MaxDTypes && d.fnMap[dtype] != nil
}

// Register a function to handle a specific dtype.
// This overwrites any previous setting for the same dtype.
func (d *DTypeDispatcher) Register(dtype dtypes.DType, fn FuncForDispatcher) {
	if dtype < 0 || dtype >= backends.MaxDTypes {
		panic(errors.Errorf("dtype %s not supported by %s", dtype, d.Name))
	}
	d.fnMap[dtype] = fn
}

// PODNumericConstraints are used for generics for the Golang pod (plain-old-data) types that can back a tensor.
// The half precision types are not included because they are specialized types, not natively supported by Go.
type PODNumericConstraints interface {
	constraints.Integer | constraints.Float
	tensors.Supported
}

// PODAddableConstraints are the POD types that support the `+` operator.
type PODAddableConstraints interface {
	constraints.Integer | constraints.Float | constraints.Complex
	tensors.Supported
}

// HalfConstraints are the 16 bits floating point types. Arithmetic on them is done in float32.
type HalfConstraints interface {
	float16.Float16 | bfloat16.BFloat16
}
