// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"reflect"

	"github.com/pkg/errors"
)

// LocalScalar returns the single element of a one-element tensor as a Go value of the tensor's dtype.
//
// For sparse tensors: it returns zero when there are no stored entries, the stored value when
// coalesced, and the sum of the (duplicate) stored values otherwise.
func LocalScalar(t *Tensor) any {
	if numel := t.Size(); numel != 1 {
		panic(errors.Wrapf(ErrShape, "a Tensor with %d elements cannot be converted to Scalar", numel))
	}
	if t.sparse == nil {
		return reflect.ValueOf(t.storage.flat).Index(t.offset).Interface()
	}
	if t.NNZ() == 0 {
		return reflect.Zero(t.DType().GoType()).Interface()
	}
	values := t.sparse.values
	if t.sparse.coalesced {
		return reflect.ValueOf(values.storage.flat).Index(values.offset).Interface()
	}
	sum := Zeros(values.backend, values.DType())
	for entry := range values.Size() {
		addFlatRange(sum.storage.flat, 0, values.storage.flat, values.offset+entry, 1)
	}
	return reflect.ValueOf(sum.storage.flat).Index(0).Interface()
}
