// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package display

import (
	"fmt"

	"github.com/gogpu/gpucontext"
)

// Backend names.
const (
	BackendKMS  = "kms"
	BackendFake = "fake"
)

// backends holds registered device factories. KMS hardware wins over the
// in-memory fake.
var backends = gpucontext.NewRegistry[Device](
	gpucontext.WithPriority(BackendKMS, BackendFake),
)

// Register registers a device factory with the given name.
// This is typically called from init() functions in backend packages.
// If a backend with the same name is already registered, it will be replaced.
func Register(name string, factory func() Device) {
	backends.Register(name, factory)
}

// Unregister removes a backend from the registry.
// This is useful for testing.
func Unregister(name string) {
	backends.Unregister(name)
}

// Available returns the registered backend names.
func Available() []string {
	return backends.Available()
}

// IsRegistered checks if a backend with the given name is registered.
func IsRegistered(name string) bool {
	return backends.Has(name)
}

// Get returns a new device from the named backend, or nil.
func Get(name string) Device {
	return backends.Get(name)
}

// Default returns a new device from the best registered backend, or nil.
func Default() Device {
	return backends.Best()
}

// Open creates and opens a device. An empty name selects the best
// registered backend.
func Open(name string) (Device, error) {
	var dev Device
	if name == "" {
		dev = Default()
	} else {
		dev = Get(name)
	}
	if dev == nil {
		if name == "" {
			name = "default"
		}
		return nil, fmt.Errorf("%w: %s", ErrNotAvailable, name)
	}
	if err := dev.Open(); err != nil {
		return nil, fmt.Errorf("display: open %s: %w", dev.Name(), err)
	}
	return dev, nil
}
