// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package ops is the user facing entry point to the operators: it resolves the Type of the
// operands in a backends.Registry and calls it, converting panics into errors.
//
// The package level functions use backends.Global(). Use New to bind the operators to a
// specific Registry.
package ops

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/tensorcore/backends"
	"github.com/gomlx/tensorcore/types/tensors"
	"github.com/pkg/errors"
)

// Ops binds the operators to a Registry.
type Ops struct {
	registry *backends.Registry
}

// New returns the operators bound to r.
func New(r *backends.Registry) *Ops {
	return &Ops{registry: r}
}

// Default returns the operators bound to backends.Global().
func Default() *Ops {
	return New(backends.Global())
}

// Registry used to resolve the Types.
func (o *Ops) Registry() *backends.Registry { return o.registry }

// typeOf resolves the Type for x. If x requires gradient, the variable Type is used.
func (o *Ops) typeOf(x *tensors.Tensor, name string) backends.Type {
	if x == nil {
		exceptions.Panicf("%s tensor is nil", name)
	}
	t, err := o.registry.GetType(x.Backend(), x.DType(), x.RequiresGrad())
	if err != nil {
		panic(errors.WithMessagef(err, "resolving the type of %s (%s)", name, x.Shape()))
	}
	return t
}

// EmbeddingBag computes the per-bag reduction (mode) of the weight rows selected by indices,
// where offsets holds the start position of each bag in indices.
//
// indices and offsets are made contiguous (copied only if needed). See backends.Type.EmbeddingBag
// for the semantics of the result.
func (o *Ops) EmbeddingBag(weight, indices, offsets *tensors.Tensor, scaleGradByFreq bool,
	mode backends.EmbeddingBagMode, sparse bool) (result *backends.EmbeddingBagResult, err error) {
	err = exceptions.TryCatch[error](func() {
		t := o.typeOf(weight, "weight")
		r := t.EmbeddingBag(weight, indices.Contiguous(), offsets.Contiguous(), scaleGradByFreq, mode, sparse)
		result = &r
	})
	if err != nil {
		return nil, errors.WithMessage(err, "ops.EmbeddingBag()")
	}
	return
}

// EmbeddingBagBackward computes the gradient of EmbeddingBag with respect to its weight, given
// the gradient of its output and the tensors returned by the forward pass.
//
// The result has numWeights rows. It is a sparse tensor if sparse is true.
func (o *Ops) EmbeddingBagBackward(grad, indices, offsets, offset2bag, bagSize, maxIndices *tensors.Tensor,
	numWeights int, scaleGradByFreq bool, mode backends.EmbeddingBagMode, sparse bool) (gradWeight *tensors.Tensor, err error) {
	err = exceptions.TryCatch[error](func() {
		t := o.typeOf(grad, "grad")
		gradWeight = t.EmbeddingBagBackward(grad, indices, offsets, offset2bag, bagSize, maxIndices,
			numWeights, scaleGradByFreq, mode, sparse)
	})
	if err != nil {
		return nil, errors.WithMessage(err, "ops.EmbeddingBagBackward()")
	}
	return
}

// EmbeddingBackward computes the gradient of a plain embedding lookup with respect to its weight.
// Positions where indices equal paddingIdx don't contribute (use -1 to disable).
func (o *Ops) EmbeddingBackward(grad, indices *tensors.Tensor, numWeights, paddingIdx int,
	scaleGradByFreq, sparse bool) (gradWeight *tensors.Tensor, err error) {
	err = exceptions.TryCatch[error](func() {
		gradWeight = o.typeOf(grad, "grad").EmbeddingBackward(grad, indices, numWeights, paddingIdx, scaleGradByFreq, sparse)
	})
	if err != nil {
		return nil, errors.WithMessage(err, "ops.EmbeddingBackward()")
	}
	return
}

// EmbeddingBag is a shortcut to Default().EmbeddingBag.
func EmbeddingBag(weight, indices, offsets *tensors.Tensor, scaleGradByFreq bool,
	mode backends.EmbeddingBagMode, sparse bool) (*backends.EmbeddingBagResult, error) {
	return Default().EmbeddingBag(weight, indices, offsets, scaleGradByFreq, mode, sparse)
}

// EmbeddingBagBackward is a shortcut to Default().EmbeddingBagBackward.
func EmbeddingBagBackward(grad, indices, offsets, offset2bag, bagSize, maxIndices *tensors.Tensor,
	numWeights int, scaleGradByFreq bool, mode backends.EmbeddingBagMode, sparse bool) (*tensors.Tensor, error) {
	return Default().EmbeddingBagBackward(grad, indices, offsets, offset2bag, bagSize, maxIndices,
		numWeights, scaleGradByFreq, mode, sparse)
}

// EmbeddingBackward is a shortcut to Default().EmbeddingBackward.
func EmbeddingBackward(grad, indices *tensors.Tensor, numWeights, paddingIdx int,
	scaleGradByFreq, sparse bool) (*tensors.Tensor, error) {
	return Default().EmbeddingBackward(grad, indices, numWeights, paddingIdx, scaleGradByFreq, sparse)
}
