// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framesync

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gogpu/hwc"
	"github.com/gogpu/hwc/fence"
	"github.com/gogpu/hwc/pipe"
	"github.com/gogpu/hwc/rotator"
)

// ErrSyncFailed is returned when the buffer-sync call fails for a reason
// other than its time bound. The display should be marked failed.
var ErrSyncFailed = errors.New("framesync: buffer sync failed")

// DefaultTimeout bounds the buffer-sync call.
const DefaultTimeout = 100 * time.Millisecond

// Request is one buffer-sync call.
type Request struct {
	Display hwc.DisplayID

	// Acquire lists the fences the hardware must wait on before reading
	// the frame's buffers. They stay owned by the caller.
	Acquire []*fence.Fence

	// Timeout bounds the call.
	Timeout time.Duration
}

// Response carries the fences a buffer-sync call produces. Both are owned
// by the receiver.
type Response struct {
	// Release signals when the hardware is done reading this frame's
	// buffers.
	Release *fence.Fence

	// Retire signals when this frame is superseded on screen.
	Retire *fence.Fence
}

// Syncer is the hardware buffer-sync call. A call past its time bound
// returns an error wrapping fence.ErrTimeout.
type Syncer interface {
	BufferSync(ctx context.Context, req Request) (Response, error)
}

// Item is one hardware-composed layer of a frame.
type Item struct {
	Layer *hwc.Layer

	// Rotator is the session the layer is routed through, or nil.
	Rotator *rotator.Session
}

// Frame lists the hardware-composed layers of one display's frame,
// including the framebuffer target.
type Frame struct {
	Display hwc.DisplayID
	Items   []Item
}

// Result is the outcome of Sync.
type Result struct {
	// Release and Retire are owned by the caller. Both are nil when the
	// sync timed out.
	Release *fence.Fence
	Retire  *fence.Fence

	// TimedOut reports that the buffer-sync call hit its bound. The frame
	// is still committed; reclaim happens on a later frame.
	TimedOut bool

	// Rotated and Skipped count rotator jobs run and skipped.
	Rotated, Skipped int

	// Reclaimed counts pipes and rotator sessions freed by this frame.
	Reclaimed int
}

// Stats contains coordinator statistics.
type Stats struct {
	Frames   uint64
	Timeouts uint64
	Failures uint64
	Skipped  uint64
}

// String returns a human-readable string of coordinator stats.
func (s Stats) String() string {
	return fmt.Sprintf("FrameSync[%d frames, %d timeouts, %d failures, %d skipped rotations]",
		s.Frames, s.Timeouts, s.Failures, s.Skipped)
}

// Coordinator runs the fence chain of every frame.
type Coordinator struct {
	syncer  Syncer
	pipes   *pipe.Registry
	rots    *rotator.Pool
	timeout time.Duration

	frames   atomic.Uint64
	timeouts atomic.Uint64
	failures atomic.Uint64
	skipped  atomic.Uint64
}

// New creates a Coordinator. A timeout <= 0 uses DefaultTimeout.
func New(syncer Syncer, pipes *pipe.Registry, rots *rotator.Pool, timeout time.Duration) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Coordinator{syncer: syncer, pipes: pipes, rots: rots, timeout: timeout}
}

// Timeout returns the bound of the buffer-sync call.
func (c *Coordinator) Timeout() time.Duration {
	return c.timeout
}

// Sync runs the fence chain of f.
//
// Sync consumes the acquire fences of the items' layers and fills in each
// layer's Release with a duplicate of the frame's release fence. On a
// timeout the frame proceeds without a release fence and the previous
// frame's resources stay draining. On any other failure every in-flight
// fence of the frame is closed and the error wraps ErrSyncFailed.
func (c *Coordinator) Sync(ctx context.Context, f Frame) (Result, error) {
	c.frames.Add(1)
	log := hwc.Logger()

	var res Result
	acquire := make([]*fence.Fence, 0, len(f.Items))
	var owned []*fence.Fence
	defer func() {
		fence.CloseAll(owned...)
		for _, it := range f.Items {
			it.Layer.Acquire.Close()
		}
	}()

	for _, it := range f.Items {
		if it.Rotator == nil {
			acquire = append(acquire, it.Layer.Acquire)
			continue
		}
		done, err := it.Rotator.Queue(ctx, it.Layer.Buffer, it.Layer.Acquire)
		switch {
		case errors.Is(err, rotator.ErrBusy):
			// The pipe keeps scanning the last rotated buffer.
			res.Skipped++
			c.skipped.Add(1)
		case err != nil:
			c.fail(f.Display)
			return res, fmt.Errorf("%w: %s: %w", ErrSyncFailed, it.Rotator, err)
		default:
			res.Rotated++
			owned = append(owned, done)
			acquire = append(acquire, done)
		}
	}

	sctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	resp, err := c.syncer.BufferSync(sctx, Request{Display: f.Display, Acquire: acquire, Timeout: c.timeout})
	switch {
	case errors.Is(err, fence.ErrTimeout) || errors.Is(err, context.DeadlineExceeded):
		c.timeouts.Add(1)
		res.TimedOut = true
		fence.CloseAll(resp.Release, resp.Retire)
		c.pipes.EndRound(f.Display, nil)
		c.rots.EndRound(f.Display, nil)
		log.Warn("framesync: buffer sync timed out",
			"display", f.Display.String(), "timeout", c.timeout, "draining", c.pipes.Pending(f.Display))
		return res, nil
	case err != nil:
		fence.CloseAll(resp.Release, resp.Retire)
		c.fail(f.Display)
		return res, fmt.Errorf("%w: %s: %w", ErrSyncFailed, f.Display, err)
	}

	res.Release, res.Retire = resp.Release, resp.Retire
	res.Reclaimed = c.pipes.EndRound(f.Display, res.Release) + c.rots.EndRound(f.Display, res.Release)
	c.rots.Reclaim()

	for _, it := range f.Items {
		rel, err := res.Release.Dup()
		if err != nil {
			log.Warn("framesync: release fence dup failed", "display", f.Display.String(), "err", err)
			continue
		}
		it.Layer.Release.Close()
		it.Layer.Release = rel
	}

	log.Debug("framesync: synced",
		"display", f.Display.String(), "layers", len(f.Items),
		"rotated", res.Rotated, "skipped", res.Skipped, "reclaimed", res.Reclaimed)
	return res, nil
}

// fail closes out the round after a hard error. Reserved resources become
// active so that the caller's teardown drains them.
func (c *Coordinator) fail(display hwc.DisplayID) {
	c.failures.Add(1)
	c.pipes.EndRound(display, nil)
	c.rots.EndRound(display, nil)
	hwc.Logger().Warn("framesync: hard failure", "display", display.String())
}

// Stats returns coordinator statistics.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Frames:   c.frames.Load(),
		Timeouts: c.timeouts.Load(),
		Failures: c.failures.Load(),
		Skipped:  c.skipped.Load(),
	}
}
