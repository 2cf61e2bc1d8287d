// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import "fmt"

// OpType enumerates the operators of a Type.
type OpType int

const (
	OpTypeInvalid OpType = iota
	OpTypeZeros
	OpTypeOnes
	OpTypeArange
	OpTypeIndexSelect
	OpTypeIndexAdd
	OpTypeCumsum
	OpTypeSort
	OpTypeFlip
	OpTypeLocalScalar
	OpTypeToDense
	OpTypeEmbeddingBag
	OpTypeEmbeddingBagBackward
	OpTypeEmbeddingBagDenseBackward
	OpTypeEmbeddingBagSparseBackward
	OpTypeEmbeddingBackward

	// OpTypeLast should always be kept the last, it is used as a counter/marker for OpType.
	OpTypeLast
)

var opTypeNames = [OpTypeLast]string{
	"Invalid", "Zeros", "Ones", "Arange", "IndexSelect", "IndexAdd", "Cumsum", "Sort", "Flip",
	"LocalScalar", "ToDense", "EmbeddingBag", "EmbeddingBagBackward", "EmbeddingBagDenseBackward",
	"EmbeddingBagSparseBackward", "EmbeddingBackward",
}

// String implements fmt.Stringer.
func (op OpType) String() string {
	if op < 0 || op >= OpTypeLast {
		return fmt.Sprintf("OpType(%d)", int(op))
	}
	return opTypeNames[op]
}
