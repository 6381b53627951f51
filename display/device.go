// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package display

import (
	"context"
	"errors"

	"github.com/gogpu/hwc"
	"github.com/gogpu/hwc/commit"
	"github.com/gogpu/hwc/configurator"
	"github.com/gogpu/hwc/framesync"
	"github.com/gogpu/hwc/rotator"
)

// Common device errors.
var (
	// ErrNotAvailable is returned when no backend with the requested name
	// is registered.
	ErrNotAvailable = errors.New("display: backend not available")

	// ErrNotConnected is returned for a display that is not connected.
	ErrNotConnected = errors.New("display: not connected")
)

// Device is a display controller.
type Device interface {
	// Name returns the backend identifier (e.g., "fake", "kms").
	Name() string

	// Open prepares the device. It is called once before any other
	// method.
	Open() error

	// Close releases the device.
	Close() error

	// Attributes returns the mode of a connected display.
	Attributes(id hwc.DisplayID) (hwc.DisplayAttributes, error)

	// Reset reinitializes the link of one display after a failure.
	Reset(ctx context.Context, id hwc.DisplayID) error

	configurator.Programmer
	rotator.Engine
	framesync.Syncer
	commit.Panel
}
