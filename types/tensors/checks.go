// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

var (
	// ErrScalarType is wrapped by the panics of CheckScalarType and CheckScalarTypes.
	ErrScalarType = errors.New("unexpected scalar type")

	// ErrNotContiguous is wrapped by the panics of CheckContiguous.
	ErrNotContiguous = errors.New("tensor is not contiguous")

	// ErrShape is wrapped by shape and domain validation panics.
	ErrShape = errors.New("invalid shape")
)

// TensorArg names a tensor argument of an operator, for error messages.
type TensorArg struct {
	Tensor *Tensor
	Name   string
	Pos    int
}

// String implements fmt.Stringer.
func (arg TensorArg) String() string {
	return fmt.Sprintf("argument #%d '%s'", arg.Pos, arg.Name)
}

// CheckScalarType panics with ErrScalarType if the argument doesn't have the given dtype.
func CheckScalarType(fnName string, arg TensorArg, dtype dtypes.DType) {
	if arg.Tensor.DType() != dtype {
		panic(errors.Wrapf(ErrScalarType, "expected tensor for %s to have scalar type %s; but got %s%s instead (while checking arguments for %s)",
			arg, dtype, arg.Tensor.Backend(), arg.Tensor.DType(), fnName))
	}
}

// CheckScalarTypes panics with ErrScalarType if the argument dtype is not one of the given.
func CheckScalarTypes(fnName string, arg TensorArg, allowed ...dtypes.DType) {
	if slices.Contains(allowed, arg.Tensor.DType()) {
		return
	}
	names := make([]string, 0, len(allowed))
	for _, dtype := range allowed {
		names = append(names, dtype.String())
	}
	panic(errors.Wrapf(ErrScalarType, "expected tensor for %s to have one of the following scalar types: %s; but got %s%s instead (while checking arguments for %s)",
		arg, strings.Join(names, ", "), arg.Tensor.Backend(), arg.Tensor.DType(), fnName))
}

// CheckContiguous panics with ErrNotContiguous if the argument is not contiguous.
func CheckContiguous(fnName string, arg TensorArg) {
	if !arg.Tensor.IsContiguous() {
		panic(errors.Wrapf(ErrNotContiguous, "expected contiguous tensor, but got non-contiguous tensor for %s (while checking arguments for %s)",
			arg, fnName))
	}
}

// CheckDim panics with ErrShape if the argument doesn't have the given rank.
func CheckDim(fnName string, arg TensorArg, rank int) {
	if arg.Tensor.Rank() != rank {
		panic(errors.Wrapf(ErrShape, "expected %d-dimensional tensor, but got %d-dimensional tensor for %s (while checking arguments for %s)",
			rank, arg.Tensor.Rank(), arg, fnName))
	}
}
