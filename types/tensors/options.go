// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"fmt"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/tensorcore/types/device"
)

// Options groups the dtype, backend (device and layout) and requires-grad flag of a tensor.
type Options struct {
	DType        dtypes.DType
	Backend      device.Backend
	RequiresGrad bool
}

// Device returns the device type, or "undefined" if the backend is Undefined.
func (o Options) Device() string {
	if o.Backend == device.Undefined || !o.Backend.IsValid() {
		return "undefined"
	}
	return o.Backend.DeviceType().String()
}

// Layout of the backend.
func (o Options) Layout() device.Layout { return o.Backend.Layout() }

// String implements fmt.Stringer.
func (o Options) String() string {
	return fmt.Sprintf("TensorOptions(dtype=%s, device=%s, layout=%s, requires_grad=%t)",
		o.DType, o.Device(), o.Layout().Name(), o.RequiresGrad)
}
