// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package fake provides an in-memory display device.
//
// The device keeps its fences on timelines of the wgpu noop HAL, records
// every call and can inject faults into each stage of a frame. Importing
// the package registers it as the "fake" display backend.
package fake

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/hwc"
	"github.com/gogpu/hwc/commit"
	"github.com/gogpu/hwc/display"
	"github.com/gogpu/hwc/fence"
	"github.com/gogpu/hwc/framesync"
	"github.com/gogpu/hwc/pipe"
	"github.com/gogpu/hwc/rotator"
)

func init() {
	display.Register(display.BackendFake, func() display.Device { return New() })
}

// DefaultAttributes is the mode of the primary display of a new device.
var DefaultAttributes = hwc.DisplayAttributes{Width: 1080, Height: 1920, VsyncPeriod: 16666 * time.Microsecond}

// Faults selects the failures a Device injects. The zero value injects
// none.
type Faults struct {
	// SetPipe fails every pipe programming call.
	SetPipe error

	// Rotate fails every rotation.
	Rotate error

	// StallSync makes the buffer-sync call block until its bound and time
	// out.
	StallSync bool

	// Sync fails every buffer-sync call.
	Sync error

	// Commit fails every display commit.
	Commit error

	// HoldRotations leaves rotation completion fences unsignaled until
	// CompleteRotations is called.
	HoldRotations bool
}

// Stats counts what a Device was asked to do.
type Stats struct {
	Programmed int
	Unset      int
	Rotations  int
	Allocated  int
	Freed      int
	Syncs      int
	Timeouts   int
	Commits    int
	Resets     int
}

// String returns a human-readable string of device stats.
func (s Stats) String() string {
	return fmt.Sprintf("Device[%d programmed, %d unset, %d rotations, %d/%d scratch allocated/freed, %d syncs (%d timed out), %d commits, %d resets]",
		s.Programmed, s.Unset, s.Rotations, s.Allocated, s.Freed, s.Syncs, s.Timeouts, s.Commits, s.Resets)
}

// Device is an in-memory display device. It is safe for concurrent use.
type Device struct {
	mu sync.Mutex

	dev     *noop.Device
	release *fence.Timeline
	retire  *fence.Timeline
	rotated *fence.Timeline

	attrs   map[hwc.DisplayID]hwc.DisplayAttributes
	configs map[int]pipe.Config
	scratch map[[2]uint64]int
	commits []commit.Request
	faults  Faults
	stats   Stats
	opened  bool
}

var _ display.Device = (*Device)(nil)

// New creates a device with the primary display connected at
// DefaultAttributes.
func New() *Device {
	dev := &noop.Device{}
	d := &Device{
		dev:     dev,
		attrs:   map[hwc.DisplayID]hwc.DisplayAttributes{hwc.Primary: DefaultAttributes},
		configs: make(map[int]pipe.Config),
		scratch: make(map[[2]uint64]int),
	}
	d.release = d.timeline("release")
	d.retire = d.timeline("retire")
	d.rotated = d.timeline("rotator")
	return d
}

func (d *Device) timeline(name string) *fence.Timeline {
	// The noop HAL never fails to create a fence.
	hf, _ := d.dev.CreateFence()
	return fence.NewTimeline(name, d.dev, hf)
}

// Name returns "fake".
func (d *Device) Name() string { return display.BackendFake }

// Open marks the device open.
func (d *Device) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opened = true
	return nil
}

// Close signals every outstanding fence and marks the device closed.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opened = false
	d.release.SignalAll()
	d.retire.SignalAll()
	d.rotated.SignalAll()
	return nil
}

// Connect plugs in display id with attrs.
func (d *Device) Connect(id hwc.DisplayID, attrs hwc.DisplayAttributes) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attrs[id] = attrs
}

// Disconnect unplugs display id.
func (d *Device) Disconnect(id hwc.DisplayID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.attrs, id)
}

// Connected reports whether display id is plugged in. Device is an
// hwc.HotplugProvider.
func (d *Device) Connected(id hwc.DisplayID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.attrs[id]
	return ok
}

// Attributes returns the mode of display id.
func (d *Device) Attributes(id hwc.DisplayID) (hwc.DisplayAttributes, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	attrs, ok := d.attrs[id]
	if !ok {
		return hwc.DisplayAttributes{}, fmt.Errorf("%w: %s", display.ErrNotConnected, id)
	}
	return attrs, nil
}

// SetFaults replaces the injected faults.
func (d *Device) SetFaults(f Faults) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults = f
}

// Reset clears the injected faults, as a link reset would.
func (d *Device) Reset(_ context.Context, id hwc.DisplayID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.attrs[id]; !ok {
		return fmt.Errorf("%w: %s", display.ErrNotConnected, id)
	}
	d.faults = Faults{}
	d.stats.Resets++
	return nil
}

// SetPipe records cfg as the programming of p.
func (d *Device) SetPipe(_ context.Context, p *pipe.Pipe, cfg pipe.Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.faults.SetPipe != nil {
		return d.faults.SetPipe
	}
	d.configs[p.ID] = cfg
	d.stats.Programmed++
	return nil
}

// UnsetPipe forgets the programming of p.
func (d *Device) UnsetPipe(_ context.Context, p *pipe.Pipe) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.configs[p.ID]; ok {
		delete(d.configs, p.ID)
		d.stats.Unset++
	}
	return nil
}

// Programmed returns the IDs of the pipes that currently hold a
// programming, in ascending order.
func (d *Device) Programmed() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]int, 0, len(d.configs))
	for id := range d.configs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// PipeConfig returns the last programming of pipe id.
func (d *Device) PipeConfig(id int) (pipe.Config, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cfg, ok := d.configs[id]
	return cfg, ok
}

// Allocate reserves scratch memory for a rotator generation.
func (d *Device) Allocate(session int, gen uint64, size int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scratch[[2]uint64{uint64(session), gen}] = size
	d.stats.Allocated++
	return nil
}

// Rotate completes a rotation on the rotator timeline. The job's acquire
// fence must have signaled; the fake does not wait for it.
func (d *Device) Rotate(_ context.Context, job rotator.Job) (*fence.Fence, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.faults.Rotate != nil {
		return nil, d.faults.Rotate
	}
	f := d.rotated.Next()
	if !d.faults.HoldRotations {
		d.rotated.SignalAll()
	}
	d.stats.Rotations++
	return f, nil
}

// CompleteRotations signals every rotation issued so far.
func (d *Device) CompleteRotations() {
	d.rotated.SignalAll()
}

// Free releases a rotator generation's scratch memory.
func (d *Device) Free(session int, gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.scratch, [2]uint64{uint64(session), gen})
	d.stats.Freed++
}

// Scratch returns the number of allocated rotator generations.
func (d *Device) Scratch() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.scratch)
}

// BufferSync waits, within the request's bound, for every acquire fence
// and hands out the frame's release and retire fences. Issuing a frame
// retires the previous one: its release and retire fences signal.
func (d *Device) BufferSync(ctx context.Context, req framesync.Request) (framesync.Response, error) {
	d.mu.Lock()
	faults := d.faults
	d.stats.Syncs++
	d.mu.Unlock()

	if faults.Sync != nil {
		return framesync.Response{}, faults.Sync
	}

	wait := func() error {
		if faults.StallSync {
			t := time.NewTimer(req.Timeout)
			defer t.Stop()
			select {
			case <-ctx.Done():
			case <-t.C:
			}
			return fmt.Errorf("fake: buffer sync stalled: %w", fence.ErrTimeout)
		}
		merged, err := fence.Merge(req.Acquire...)
		if err != nil {
			return err
		}
		defer merged.Close()
		return merged.Wait(ctx, req.Timeout)
	}
	if err := wait(); err != nil {
		if errors.Is(err, fence.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			d.mu.Lock()
			d.stats.Timeouts++
			d.mu.Unlock()
		}
		return framesync.Response{}, err
	}

	d.release.SignalAll()
	d.retire.SignalAll()
	return framesync.Response{Release: d.release.Next(), Retire: d.retire.Next()}, nil
}

// Commit records req.
func (d *Device) Commit(_ context.Context, req commit.Request) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.attrs[req.Display]; !ok {
		return fmt.Errorf("%w: %s", display.ErrNotConnected, req.Display)
	}
	if d.faults.Commit != nil {
		return d.faults.Commit
	}
	d.commits = append(d.commits, commit.Request{Display: req.Display, Regions: req.Regions})
	d.stats.Commits++
	return nil
}

// Commits returns the recorded commits without their fences.
func (d *Device) Commits() []commit.Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]commit.Request(nil), d.commits...)
}

// Stats returns device statistics.
func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}
