// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package display defines the boundary to display-controller hardware.
//
// A Device is the union of the narrow interfaces the composition packages
// consume: pipe programming, the rotator engine, the buffer-sync call and
// the final commit. Backends register a factory under a name; Open picks
// the best registered one:
//
//	import _ "github.com/gogpu/hwc/display/fake"
//
//	dev, err := display.Open("")
package display
