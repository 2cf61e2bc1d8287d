// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package cpu implements the Types of the CPU and SparseCPU backends, for every real dtype and,
// on demand, the complex ones.
//
// Import it to register the "cpu" TypeInit library:
//
//	import _ "github.com/gomlx/tensorcore/backends/cpu"
//
// The configuration string is a comma-separated list of "key=value" pairs:
//
//   - parallelism: soft limit on the number of goroutines used by a kernel. 0 disables
//     parallelism, -1 makes it unlimited. Defaults to runtime.NumCPU().
//   - threshold: the minimum number of indices for which the embedding bag dense backward runs
//     in parallel. Defaults to 1000.
//
// E.g.: TENSORCORE_TYPE_INIT="cpu:parallelism=4,threshold=5000".
package cpu

import (
	"strconv"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/tensorcore/backends"
	"github.com/gomlx/tensorcore/internal/workerspool"
	"github.com/gomlx/tensorcore/types/device"
	"github.com/gomlx/tensorcore/types/shapes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// BackendName to be used in TENSORCORE_TYPE_INIT to select this TypeInit library.
const BackendName = "cpu"

// DefaultParallelThreshold is the default minimum number of indices to parallelize the dense backward.
const DefaultParallelThreshold = 1000

// Registers New() as the default constructor for "cpu" TypeInit.
func init() {
	backends.RegisterTypeInit(BackendName, New)
}

// RealDTypes lists the dtypes registered by InitCPU.
var RealDTypes = []dtypes.DType{
	dtypes.Bool,
	dtypes.Int8, dtypes.Int16, dtypes.Int32, dtypes.Int64,
	dtypes.Uint8, dtypes.Uint16, dtypes.Uint32, dtypes.Uint64,
	dtypes.Float16, dtypes.BFloat16, dtypes.Float32, dtypes.Float64,
}

// TypeInit registers the CPU Types. CUDA is not supported, InitCUDA is inherited from
// backends.TypeInitStub and panics.
type TypeInit struct {
	backends.TypeInitStub

	pool *workerspool.Pool

	// parallelThreshold is the minimum number of indices to parallelize the dense backward.
	parallelThreshold int
}

var _ backends.TypeInit = (*TypeInit)(nil)

// New constructs a new CPU TypeInit. It panics on invalid configurations.
func New(config string) backends.TypeInit {
	ti, err := NewWithConfig(config)
	if err != nil {
		panic(err)
	}
	return ti
}

// NewWithConfig parses the configuration (see package documentation) and returns a new TypeInit.
func NewWithConfig(config string) (*TypeInit, error) {
	ti := &TypeInit{
		pool:              workerspool.New(),
		parallelThreshold: DefaultParallelThreshold,
	}
	for _, part := range strings.Split(config, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, found := strings.Cut(part, "=")
		if !found {
			return nil, errors.Errorf("cpu: invalid configuration %q, expected \"key=value\" pairs", part)
		}
		intValue, err := strconv.Atoi(value)
		if err != nil {
			return nil, errors.Wrapf(err, "cpu: invalid value for %q in configuration %q", key, config)
		}
		switch key {
		case "parallelism":
			ti.pool.SetMaxParallelism(intValue)
		case "threshold":
			if intValue < 0 {
				return nil, errors.Errorf("cpu: threshold must be >= 0, got %d", intValue)
			}
			ti.parallelThreshold = intValue
		default:
			return nil, errors.Errorf("cpu: unknown configuration key %q in %q", key, config)
		}
	}
	return ti, nil
}

// MaxParallelism returns the soft limit on the number of goroutines used by kernels.
func (ti *TypeInit) MaxParallelism() int { return ti.pool.MaxParallelism() }

// ParallelThreshold returns the minimum number of indices to parallelize the dense backward.
func (ti *TypeInit) ParallelThreshold() int { return ti.parallelThreshold }

// InitCPU implements backends.TypeInit.
func (ti *TypeInit) InitCPU(r *backends.Registry) {
	klog.V(1).Infof("cpu: registering %d dtypes, parallelism=%d, threshold=%d",
		len(RealDTypes), ti.pool.MaxParallelism(), ti.parallelThreshold)
	for _, dtype := range RealDTypes {
		r.RegisterType(device.BackendCPU, dtype, newType(ti, device.BackendCPU, dtype))
		r.RegisterType(device.BackendSparseCPU, dtype, newType(ti, device.BackendSparseCPU, dtype))
	}
}

// InitComplex implements backends.TypeInit.
func (ti *TypeInit) InitComplex(r *backends.Registry) {
	for _, dtype := range shapes.ComplexDTypes {
		r.RegisterType(device.BackendCPU, dtype, newType(ti, device.BackendCPU, dtype))
		r.RegisterType(device.BackendSparseCPU, dtype, newType(ti, device.BackendSparseCPU, dtype))
	}
}

// InitCUDA implements backends.TypeInit.
func (ti *TypeInit) InitCUDA(r *backends.Registry) {
	exceptions.Panicf("cannot use CUDA without the CUDA type library, %q only supports CPU", BackendName)
}
