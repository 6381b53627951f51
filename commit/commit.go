// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package commit issues the final display commit of a frame.
package commit

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync/atomic"

	"github.com/gogpu/hwc"
	"github.com/gogpu/hwc/fence"
	"github.com/gogpu/hwc/pipe"
)

// ErrDisplayLink is returned when the display rejects a commit. The caller
// runs the display recovery path.
var ErrDisplayLink = errors.New("commit: display link failure")

// DefaultFullThreshold is the share of the display a damage union must
// cover before the whole frame is committed instead.
const DefaultFullThreshold = 0.75

// Region is a partial-update rectangle of one mixer, relative to the
// mixer's origin.
type Region struct {
	Mixer pipe.Mixer
	Rect  image.Rectangle
}

// Request is one display commit.
type Request struct {
	Display hwc.DisplayID

	// Regions limits the update. Nil updates the full frame; an empty,
	// non-nil slice means nothing on screen changed.
	Regions []Region

	// Retire is the frame's retire fence, borrowed for the call.
	Retire *fence.Fence
}

// Full reports whether r updates the whole frame.
func (r Request) Full() bool {
	return r.Regions == nil
}

// Panel is the display's commit call.
type Panel interface {
	Commit(ctx context.Context, req Request) error
}

// Committer commits frames to a Panel.
type Committer struct {
	panel         Panel
	partial       bool
	fullThreshold float64

	commits  atomic.Uint64
	failures atomic.Uint64
}

// New creates a Committer. With partial false every commit updates the
// full frame. A fullThreshold <= 0 uses DefaultFullThreshold.
func New(panel Panel, partial bool, fullThreshold float64) *Committer {
	if fullThreshold <= 0 {
		fullThreshold = DefaultFullThreshold
	}
	return &Committer{panel: panel, partial: partial, fullThreshold: fullThreshold}
}

// Regions computes the partial-update regions of a frame on a display with
// attrs: the damage of every pipe-composed layer and of the framebuffer
// target, clipped to the display and cut at the mixer boundary. It returns
// nil, a full update, when partial updates are off or the damage covers
// most of the display.
func (c *Committer) Regions(display hwc.DisplayID, attrs hwc.DisplayAttributes, layers []*hwc.Layer) []Region {
	if !c.partial {
		return nil
	}
	bounds := attrs.Bounds()
	var damage image.Rectangle
	for _, l := range layers {
		if l == nil || (l.Tag != hwc.TagPipe && l.Tag != hwc.TagTarget) {
			continue
		}
		damage = damage.Union(l.DamageBounds().Intersect(bounds))
	}
	if float64(hwc.Area(damage)) >= c.fullThreshold*float64(hwc.Area(bounds)) {
		return nil
	}

	regions := []Region{}
	if damage.Empty() {
		return regions
	}
	if !attrs.IsSplit() {
		return append(regions, Region{Mixer: pipe.MixerFor(display), Rect: damage})
	}
	if left := damage.Intersect(attrs.LeftBounds()); !left.Empty() {
		regions = append(regions, Region{Mixer: pipe.MixerLeft, Rect: left})
	}
	if right := damage.Intersect(attrs.RightBounds()); !right.Empty() {
		regions = append(regions, Region{Mixer: pipe.MixerRight, Rect: right.Sub(image.Pt(attrs.SplitX, 0))})
	}
	return regions
}

// Commit issues req. A failure wraps ErrDisplayLink.
func (c *Committer) Commit(ctx context.Context, req Request) error {
	if err := c.panel.Commit(ctx, req); err != nil {
		c.failures.Add(1)
		hwc.Logger().Warn("commit: display link failure", "display", req.Display.String(), "err", err)
		return fmt.Errorf("%w: %s: %w", ErrDisplayLink, req.Display, err)
	}
	c.commits.Add(1)
	hwc.Logger().Debug("commit: committed", "display", req.Display.String(), "full", req.Full(), "regions", len(req.Regions))
	return nil
}

// Counts returns the number of successful and failed commits.
func (c *Committer) Counts() (commits, failures uint64) {
	return c.commits.Load(), c.failures.Load()
}
