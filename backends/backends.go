// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package backends resolves the operator table (Type) for a tensor's (device.Backend, dtypes.DType)
// pair, and optionally its differentiable ("Variable") wrapper.
//
// A Type is a polymorphic operator table: one instance per (backend, dtype), exposing every
// operator supported for tensors of that pair. Types are installed in a Registry by a TypeInit
// library, lazily: the first lookup for a device family (CPU, CUDA) runs that family's initializer
// exactly once, and the first lookup for a complex dtype runs the complex initializer exactly once.
//
// TypeInit libraries register themselves by name (see RegisterTypeInit), usually in an `init()`
// function, e.g.:
//
//	import _ "github.com/gomlx/tensorcore/backends/cpu"
//
// The differentiable layer is optional: the Registry reaches it only through the VariableHooks
// interface, see SetVariableHooks.
//
// To simplify error handling, lookups that can fail because of user input return errors, while
// configuration errors (a missing library, an unsupported op) panic with a stack trace.
// See package github.com/gomlx/exceptions.
package backends

import (
	"os"
	"strings"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/tensorcore/types/device"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	// ErrTypeNotEnabled is returned when a (backend, dtype) pair has no registered Type.
	ErrTypeNotEnabled = errors.New("Type is not enabled")

	// ErrNotImplemented is used by Types that don't support an operator.
	ErrNotImplemented = errors.New("not implemented")

	// ErrInvalidMode is used for invalid reduction modes or invalid mode combinations.
	ErrInvalidMode = errors.New("invalid mode")
)

// TypeInit is the library that populates a Registry, one device family at a time.
//
// Implementations should embed TypeInitStub, which fails for every family, and override the
// families they support.
type TypeInit interface {
	// InitCPU registers the Types of the CPU and SparseCPU backends.
	InitCPU(r *Registry)

	// InitCUDA registers the Types of the CUDA and SparseCUDA backends.
	InitCUDA(r *Registry)

	// InitComplex registers the Types of the complex dtypes.
	InitComplex(r *Registry)
}

// TypeInitStub implements TypeInit for a build without any library: every method panics.
type TypeInitStub struct{}

var _ TypeInit = TypeInitStub{}

// InitCPU implements TypeInit.
func (TypeInitStub) InitCPU(*Registry) {
	exceptions.Panicf("cannot use CPU without the CPU type library (import _ \"github.com/gomlx/tensorcore/backends/cpu\")")
}

// InitCUDA implements TypeInit.
func (TypeInitStub) InitCUDA(*Registry) {
	exceptions.Panicf("cannot use CUDA without the CUDA type library")
}

// InitComplex implements TypeInit.
func (TypeInitStub) InitComplex(*Registry) {
	exceptions.Panicf("cannot use complex dtypes without the complex type library")
}

// TypeInitConstructor takes a config string (optionally empty) and returns a TypeInit.
type TypeInitConstructor func(config string) TypeInit

var (
	muTypeInits         sync.Mutex
	registeredTypeInits = make(map[string]TypeInitConstructor)
	firstRegisteredInit string
)

// RegisterTypeInit registers a TypeInit library with the given name, and a constructor that takes
// as input a configuration string.
//
// To be safe, call RegisterTypeInit during initialization of a package.
func RegisterTypeInit(name string, constructor TypeInitConstructor) {
	muTypeInits.Lock()
	defer muTypeInits.Unlock()
	if len(registeredTypeInits) == 0 {
		firstRegisteredInit = name
	}
	registeredTypeInits[name] = constructor
}

// DefaultConfig is the TypeInit configuration to use, if TENSORCORE_TYPE_INIT is not set.
//
// See NewTypeInitWithConfig for the format of the configuration string.
var DefaultConfig string

// TENSORCORE_TYPE_INIT is the environment variable with the default TypeInit configuration to use.
//
// The format of config is "<name>:<configuration>".
// The "<name>" is the name of a registered TypeInit (e.g.: "cpu") and "<configuration>" is
// library specific (e.g.: for "cpu", "parallelism=4,threshold=1000").
const TENSORCORE_TYPE_INIT = "TENSORCORE_TYPE_INIT"

// NewTypeInit returns the default TypeInit.
//
// The default is:
//
// 1. The environment TENSORCORE_TYPE_INIT is used as a configuration if defined.
// 2. Next the variable DefaultConfig is used as a configuration if defined.
// 3. The first registered TypeInit is used with an empty configuration.
//
// If no TypeInit was registered, it returns a TypeInitStub, for which every initialization fails.
func NewTypeInit() TypeInit {
	config, found := os.LookupEnv(TENSORCORE_TYPE_INIT)
	if found {
		return NewTypeInitWithConfig(config)
	}
	if DefaultConfig != "" {
		return NewTypeInitWithConfig(DefaultConfig)
	}
	return NewTypeInitWithConfig("")
}

// NewTypeInitWithConfig takes a configuration string formatted as "<name>:<configuration>".
// If the name is omitted, the first registered TypeInit is used.
func NewTypeInitWithConfig(config string) TypeInit {
	muTypeInits.Lock()
	defer muTypeInits.Unlock()
	if len(registeredTypeInits) == 0 {
		klog.Warningf("no TypeInit library registered, every type lookup will fail -- maybe import _ \"github.com/gomlx/tensorcore/backends/cpu\"?")
		return TypeInitStub{}
	}
	name := firstRegisteredInit
	initConfig := config
	if idx := strings.Index(config, ":"); idx != -1 {
		name = config[:idx]
		initConfig = config[idx+1:]
	} else if _, found := registeredTypeInits[config]; found {
		name = config
		initConfig = ""
	}
	constructor, found := registeredTypeInits[name]
	if !found {
		exceptions.Panicf("can't find TypeInit %q for configuration %q given", name, config)
	}
	return constructor(initConfig)
}

// Global returns the process-wide Registry, constructing it on first use with NewTypeInit and the
// process VariableHooks.
//
// It is constructed once and lives until the process exits.
var Global = sync.OnceValue(func() *Registry {
	return NewRegistry(NewTypeInit(), nil)
})

// GetType is a shortcut to Global().GetType.
func GetType(backend device.Backend, dtype dtypes.DType, isVariable bool) (Type, error) {
	return Global().GetType(backend, dtype, isVariable)
}
