// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import "maps"

// Capabilities holds mappings of what is supported by a Type.
type Capabilities struct {
	// Operations supported by a Type.
	// If not listed, it's assumed to be false, hence not supported.
	Operations map[OpType]bool
}

// Supports returns whether the operation is listed as supported.
func (c Capabilities) Supports(op OpType) bool {
	return c.Operations[op]
}

// Clone makes a deep copy of the Capabilities.
func (c Capabilities) Clone() Capabilities {
	var c2 Capabilities
	c2.Operations = make(map[OpType]bool, len(c.Operations))
	maps.Copy(c2.Operations, c.Operations)
	return c2
}

// WithOperations returns a copy of the Capabilities with the given operations added.
func (c Capabilities) WithOperations(ops ...OpType) Capabilities {
	c2 := c.Clone()
	for _, op := range ops {
		c2.Operations[op] = true
	}
	return c2
}
