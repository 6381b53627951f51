package composer

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/gogpu/gputypes"
	"github.com/google/uuid"

	"github.com/gogpu/hwc"
	"github.com/gogpu/hwc/commit"
	"github.com/gogpu/hwc/configurator"
	"github.com/gogpu/hwc/framesync"
	"github.com/gogpu/hwc/overlay"
	"github.com/gogpu/hwc/planner"
	"github.com/gogpu/hwc/rotator"
)

// ErrFrameDone is returned when committing a frame twice or after Abort.
var ErrFrameDone = errors.New("composer: frame already finished")

// Report describes one frame.
type Report struct {
	Display hwc.DisplayID
	Session uuid.UUID

	// Plan is the planner's decision, downgraded to the GPU when the
	// hardware could not carry it out.
	Plan *planner.Plan

	// State is the overlay state built for the frame.
	State overlay.State

	// Fallback is why the frame left the planned pipes for the GPU, or nil.
	Fallback error

	// Dropped lists the layers whose pipe configuration failed. They are
	// drawn by the GPU this frame and planned to the GPU next frame.
	Dropped []int

	// TargetErr reports a failure to program the framebuffer target.
	TargetErr error

	// TargetFormat is the render format of the framebuffer target the GPU
	// draws into.
	TargetFormat gputypes.TextureFormat

	// Sync is the fence chain outcome. Sync.Release and Sync.Retire are
	// owned by the caller.
	Sync framesync.Result

	// Regions are the partial-update regions committed; nil means a full
	// update.
	Regions []commit.Region
}

// Frame is one display's frame between Prepare and Commit. The composer
// lock is held for its whole life.
type Frame struct {
	c      *Composer
	s      *Session
	layers []*hwc.Layer
	items  []framesync.Item
	report Report
	done   bool
}

// Prepare plans and programs one frame of display id. It writes every
// layer's Tag and returns with the composer locked; the caller renders the
// GPU layers into the framebuffer target and then calls Commit, or Abort.
//
// Hotplug changes recorded since the last frame are applied first.
func (c *Composer) Prepare(ctx context.Context, id hwc.DisplayID, layers []*hwc.Layer) (*Frame, error) {
	c.mu.Lock()
	if !c.closed {
		c.pollHotplugLocked()
	}
	s, err := c.sessionLocked(id)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	plan, err := c.planner.Plan(id, layers, c.budgetLocked(s))
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}

	f := &Frame{
		c:      c,
		s:      s,
		layers: layers,
		report: Report{Display: id, Session: s.ID, Plan: plan},
	}
	if err := s.machine.Transition(plan.Target); err != nil {
		f.fallback(err)
	} else if err := f.configureRoles(ctx); err != nil {
		f.fallback(err)
	}
	f.configureTarget(ctx)
	f.report.State = s.machine.State()
	f.collect()
	return f, nil
}

// Session returns the session the frame belongs to.
func (f *Frame) Session() *Session {
	return f.s
}

// Report returns the frame report so far.
func (f *Frame) Report() Report {
	return f.report
}

// Commit runs the fence chain and the display commit, then releases the
// composer lock.
//
// A failed buffer sync marks the display failed: later frames are composed
// on the GPU until Reset. A failed commit resets the display at once. Both
// return the error together with the report.
func (f *Frame) Commit(ctx context.Context) (Report, error) {
	if f.done {
		return f.report, ErrFrameDone
	}
	f.done = true
	c, s := f.c, f.s
	defer c.mu.Unlock()

	res, err := c.sync.Sync(ctx, framesync.Frame{Display: s.Display, Items: f.items})
	f.report.Sync = res
	if err != nil {
		c.planner.SetFailed(s.Display, true)
		s.machine.Close()
		s.log.Warn("composer: display marked failed", "err", err)
		return f.report, err
	}

	f.report.Regions = c.commit.Regions(s.Display, s.Attributes, f.layers)
	err = c.commit.Commit(ctx, commit.Request{Display: s.Display, Regions: f.report.Regions, Retire: res.Retire})
	if err != nil {
		if rerr := c.resetLocked(ctx, s); rerr != nil {
			err = errors.Join(err, rerr)
		}
		return f.report, err
	}

	s.frames.Add(1)
	c.frames.Add(1)
	s.log.Debug("composer: committed",
		"state", f.report.State.String(),
		"pipes", planner.Count(f.layers, hwc.TagPipe),
		"rotated", res.Rotated,
		"timed_out", res.TimedOut)
	return f.report, nil
}

// Abort drops the frame: every pipe and rotator session acquired for it is
// released, the display's cached planning state is reset and the composer
// lock released.
func (f *Frame) Abort() {
	if f.done {
		return
	}
	f.done = true
	defer f.c.mu.Unlock()

	f.s.machine.Close()
	f.c.planner.Reset(f.s.Display)
	f.s.log.Info("composer: frame aborted")
}

// configureRoles programs every role of the built graph. Panel roles go
// first: a rotator session shared by the panel and TV roles of one slot is
// programmed for the panel, and the TV pipe scales its output.
func (f *Frame) configureRoles(ctx context.Context) error {
	roles := f.s.machine.Roles()
	slices.SortStableFunc(roles, func(a, b *overlay.Role) int {
		return cmp.Compare(a.Spec.Placement, b.Spec.Placement)
	})
	programmed := make(map[*rotator.Session]bool)
	for _, r := range roles {
		l, a, d, err := f.roleInput(r)
		if err != nil {
			return err
		}
		if a.Rotator != nil {
			a.SharedRotator = programmed[a.Rotator]
			programmed[a.Rotator] = true
		}
		if _, err := f.c.conf.Configure(ctx, l, a, d); err != nil {
			if r.Spec.Slot >= 0 {
				idx := r.Binding.Layer
				f.report.Dropped = append(f.report.Dropped, idx)
				f.c.planner.Reject(f.s.Display, f.layers[idx])
			}
			return fmt.Errorf("composer: %s role %s: %w", f.s.machine.State(), r.Spec.Name, err)
		}
	}
	return nil
}

// roleInput returns the layer, hardware and display a role is programmed
// with. Roles on the external mixer show their source full screen there.
func (f *Frame) roleInput(r *overlay.Role) (*hwc.Layer, configurator.Assignment, configurator.Target, error) {
	a := r.Assignment()
	d := configurator.Target{ID: f.s.Display, Attributes: f.s.Attributes}

	idx := r.Binding.Layer
	if r.Spec.Slot == overlay.SlotTarget {
		idx = f.report.Plan.Stats.TargetIndex
	}
	if idx < 0 || idx >= len(f.layers) || f.layers[idx] == nil {
		return nil, a, d, fmt.Errorf("composer: role %s has no layer", r.Spec.Name)
	}
	l := f.layers[idx]

	if r.Spec.Placement == overlay.OnExternal {
		ext := f.c.sessions[hwc.External]
		if ext == nil {
			return nil, a, d, fmt.Errorf("composer: role %s: %w: %s", r.Spec.Name, ErrNotConnected, hwc.External)
		}
		full := *l
		full.Dest = ext.Attributes.Bounds()
		full.Damage = nil
		l = &full
		d = configurator.Target{ID: hwc.External, Attributes: ext.Attributes}
		a.ZOrder = 1
	}
	return l, a, d, nil
}

// configureTarget programs the framebuffer target onto the display's base
// pipes.
func (f *Frame) configureTarget(ctx context.Context) {
	idx := f.report.Plan.Stats.TargetIndex
	if idx < 0 || f.layers[idx] == nil {
		return
	}
	a := configurator.Assignment{Left: f.s.base[0], ZOrder: f.report.Plan.TargetZ}
	if len(f.s.base) > 1 {
		a.Right = f.s.base[1]
	}
	l := f.layers[idx]
	if l.Buffer != nil {
		tex, ok := l.Buffer.Format.TextureFormat()
		if !ok {
			f.report.TargetErr = fmt.Errorf("%w: %s", ErrTargetFormat, l.Buffer.Format)
			f.s.log.Warn("composer: framebuffer target not programmed", "err", f.report.TargetErr)
			return
		}
		f.report.TargetFormat = tex
	}
	d := configurator.Target{ID: f.s.Display, Attributes: f.s.Attributes}
	if _, err := f.c.conf.Configure(ctx, l, a, d); err != nil {
		f.report.TargetErr = err
		f.s.log.Warn("composer: framebuffer target not programmed", "err", err)
	}
}

// collect lists the hardware-composed layers for the fence chain.
func (f *Frame) collect() {
	rots := make(map[int]*rotator.Session)
	for _, r := range f.s.machine.Roles() {
		if r.Spec.Slot >= 0 && r.Rotator != nil {
			rots[r.Binding.Layer] = r.Rotator
		}
	}
	for i, l := range f.layers {
		if l != nil && (l.Tag == hwc.TagPipe || l.Tag == hwc.TagTarget) {
			f.items = append(f.items, framesync.Item{Layer: l, Rotator: rots[i]})
		}
	}
}

// fallback moves the whole frame to the GPU. No layer is left undrawn.
func (f *Frame) fallback(cause error) {
	f.s.machine.Close()
	plan := f.report.Plan
	if plan.Strategy == planner.StrategyOverlay {
		plan.Strategy = planner.StrategyGPU
		plan.Reason = planner.ReasonNoFit
	}
	plan.Target = overlay.Target{}
	plan.TargetZ = 0
	plan.Pipes = 0
	for _, l := range f.layers {
		switch {
		case l == nil:
		case l.IsTarget():
			l.Tag = hwc.TagTarget
		case l.Tag == hwc.TagPipe:
			l.Tag = hwc.TagFramebuffer
		}
	}
	f.report.Fallback = cause
	f.c.fallbacks.Add(1)
	f.s.log.Warn("composer: frame falls back to GPU", "err", cause)
}
