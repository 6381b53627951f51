package composer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/hwc"
	"github.com/gogpu/hwc/commit"
	"github.com/gogpu/hwc/configurator"
	"github.com/gogpu/hwc/display"
	"github.com/gogpu/hwc/framesync"
	"github.com/gogpu/hwc/overlay"
	"github.com/gogpu/hwc/pipe"
	"github.com/gogpu/hwc/planner"
	"github.com/gogpu/hwc/rotator"
)

// Composer errors.
var (
	// ErrClosed is returned when using a closed composer.
	ErrClosed = errors.New("composer: closed")

	// ErrNotConnected is returned for a display without a session.
	ErrNotConnected = errors.New("composer: display not connected")

	// ErrConnect is returned when a display cannot be brought up.
	ErrConnect = errors.New("composer: connect failed")

	// ErrTargetFormat is reported when the framebuffer target is in a
	// format the GPU cannot render into.
	ErrTargetFormat = errors.New("composer: framebuffer target format not renderable")
)

// Hotplug event values stored per display.
const (
	eventNone int32 = iota
	eventConnected
	eventDisconnected
)

// Stats contains composer statistics.
type Stats struct {
	Pipes    pipe.Stats
	Rotators rotator.Stats
	Sync     framesync.Stats

	// Frames counts committed frames across displays.
	Frames uint64

	// Fallbacks counts frames moved to the GPU after planning.
	Fallbacks uint64

	// Commits and CommitFailures count display commits.
	Commits, CommitFailures uint64
}

// String returns a human-readable string of composer stats.
func (s Stats) String() string {
	return fmt.Sprintf("Composer[%d frames, %d fallbacks, %d/%d commits failed]\n  %s\n  %s\n  %s",
		s.Frames, s.Fallbacks, s.CommitFailures, s.Commits+s.CommitFailures, s.Pipes, s.Rotators, s.Sync)
}

// Composer composes frames for every connected display.
//
// Composer is safe for concurrent use. Prepare takes a composer-wide lock
// that is released by Frame.Commit or Frame.Abort, so one display's frame
// runs at a time.
type Composer struct {
	mu sync.Mutex

	dev     display.Device
	ownDev  bool
	hotplug hwc.HotplugProvider

	pipes   *pipe.Registry
	rots    *rotator.Pool
	conf    *configurator.Configurator
	planner *planner.Planner
	sync    *framesync.Coordinator
	commit  *commit.Committer

	sessions [hwc.NumDisplays]*Session
	events   [hwc.NumDisplays]atomic.Int32
	vsync    [hwc.NumDisplays]atomic.Bool

	frames    atomic.Uint64
	fallbacks atomic.Uint64

	closed bool
}

// New creates a Composer. No display is connected yet.
func New(opts ...Option) (*Composer, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	dev, own := o.device, false
	if dev == nil {
		var err error
		if dev, err = display.Open(""); err != nil {
			return nil, fmt.Errorf("composer: %w", err)
		}
		own = true
	}

	pipes := pipe.NewRegistry(o.inventory)
	rots := rotator.NewPool(dev, o.rotators)
	conf := configurator.New(dev, o.metadata, o.limits)
	c := &Composer{
		dev:     dev,
		ownDev:  own,
		hotplug: o.hotplug,
		pipes:   pipes,
		rots:    rots,
		conf:    conf,
		planner: planner.New(conf, o.policy),
		sync:    framesync.New(dev, pipes, rots, o.fenceTimeout),
		commit:  commit.New(dev, o.partial, o.fullThreshold),
	}
	hwc.Logger().Info("composer: created",
		"device", dev.Name(), "pipes", len(pipes.Pipes()), "rotators", rots.Stats().Total)
	return c, nil
}

// Device returns the display device.
func (c *Composer) Device() display.Device {
	return c.dev
}

// Connect starts a session for display id.
//
// The display's framebuffer target path is reserved at once, one pipe per
// mixer. Connecting a connected display restarts its session.
func (c *Composer) Connect(id hwc.DisplayID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return c.connectLocked(id)
}

// Disconnect ends the session of display id at once: its overlay state is
// closed and its pipes and rotator sessions return to the inventory
// without waiting for a release fence. Disconnecting the external display
// also closes primary states that feed it.
func (c *Composer) Disconnect(id hwc.DisplayID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectLocked(id)
}

// Hotplug records a connection change of display id. It is safe to call
// from any goroutine; the change is applied at the start of the next frame.
func (c *Composer) Hotplug(id hwc.DisplayID, connected bool) {
	if id >= hwc.NumDisplays {
		return
	}
	ev := eventDisconnected
	if connected {
		ev = eventConnected
	}
	c.events[id].Store(ev)
}

// SetVsync records whether vsync events are wanted for display id.
func (c *Composer) SetVsync(id hwc.DisplayID, enabled bool) {
	if id >= hwc.NumDisplays {
		return
	}
	c.vsync[id].Store(enabled)
}

// Session returns the session of display id, or nil.
func (c *Composer) Session(id hwc.DisplayID) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id >= hwc.NumDisplays {
		return nil
	}
	return c.sessions[id]
}

// Reset recovers display id after a failure: the device is reset, the
// overlay state closed and the planner's cached state dropped, which clears
// the failed mark.
func (c *Composer) Reset(ctx context.Context, id hwc.DisplayID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.sessionLocked(id)
	if err != nil {
		return err
	}
	return c.resetLocked(ctx, s)
}

// Stats returns composer statistics.
func (c *Composer) Stats() Stats {
	commits, failures := c.commit.Counts()
	return Stats{
		Pipes:          c.pipes.Stats(),
		Rotators:       c.rots.Stats(),
		Sync:           c.sync.Stats(),
		Frames:         c.frames.Load(),
		Fallbacks:      c.fallbacks.Load(),
		Commits:        commits,
		CommitFailures: failures,
	}
}

// Close disconnects every display and releases the hardware. A device
// opened by New is closed too.
func (c *Composer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	for id := range c.sessions {
		c.disconnectLocked(hwc.DisplayID(id))
	}
	c.pipes.Close()
	c.rots.Close()
	c.closed = true
	hwc.Logger().Info("composer: closed", "stats", c.Stats().String())
	if c.ownDev {
		return c.dev.Close()
	}
	return nil
}

func (c *Composer) sessionLocked(id hwc.DisplayID) (*Session, error) {
	if c.closed {
		return nil, ErrClosed
	}
	if id >= hwc.NumDisplays || c.sessions[id] == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, id)
	}
	return c.sessions[id], nil
}

func (c *Composer) connectLocked(id hwc.DisplayID) error {
	if id >= hwc.NumDisplays {
		return fmt.Errorf("%w: %s", ErrConnect, id)
	}
	if c.sessions[id] != nil {
		c.disconnectLocked(id)
	}

	attrs, err := c.dev.Attributes(id)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConnect, id, err)
	}
	if err := attrs.Validate(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConnect, id, err)
	}
	mixers := []pipe.Mixer{pipe.MixerFor(id)}
	if attrs.IsSplit() {
		if id != hwc.Primary {
			return fmt.Errorf("%w: %s: only the primary panel can be split", ErrConnect, id)
		}
		mixers = append(mixers, pipe.MixerRight)
	}

	base := make([]*pipe.Pipe, 0, len(mixers))
	for _, m := range mixers {
		p, err := c.pipes.Reserve(pipe.Request{Display: id, Mixer: m, Owner: "target/" + m.String()})
		if err != nil {
			c.pipes.Drop(id)
			return fmt.Errorf("%w: %s: framebuffer target: %w", ErrConnect, id, err)
		}
		base = append(base, p)
	}

	s := newSession(id, attrs, overlay.NewMachine(id, c.pipes, c.rots, c.conf), base)
	s.vsync.Store(c.vsync[id].Load())
	c.sessions[id] = s
	c.planner.Connect(id, attrs)
	s.log.Info("composer: connected",
		"width", attrs.Width, "height", attrs.Height, "split", attrs.SplitX, "base", len(base))
	return nil
}

func (c *Composer) disconnectLocked(id hwc.DisplayID) {
	if id >= hwc.NumDisplays {
		return
	}
	s := c.sessions[id]
	if s == nil {
		return
	}
	s.machine.Close()
	for _, p := range s.base {
		if err := c.conf.Unset(context.Background(), p); err != nil {
			s.log.Warn("composer: framebuffer target not unset", "pipe", p.String(), "err", err)
		}
	}
	c.pipes.Drop(id)
	c.rots.Drop(id)
	c.planner.Disconnect(id)
	c.sessions[id] = nil

	if id == hwc.External {
		if p := c.sessions[hwc.Primary]; p != nil && p.machine.UsesExternal() {
			p.machine.Close()
			p.log.Info("composer: closed external roles")
		}
	}
	s.log.Info("composer: disconnected", "frames", s.Frames())
}

func (c *Composer) resetLocked(ctx context.Context, s *Session) error {
	s.machine.Close()
	c.planner.Reset(s.Display)
	if err := c.dev.Reset(ctx, s.Display); err != nil {
		s.log.Warn("composer: device reset failed", "err", err)
		return fmt.Errorf("composer: reset %s: %w", s.Display, err)
	}
	s.log.Warn("composer: display reset")
	return nil
}

// pollHotplugLocked applies connection changes recorded since the last
// frame. With a HotplugProvider every display is reconciled against it.
func (c *Composer) pollHotplugLocked() {
	for i := range c.sessions {
		id := hwc.DisplayID(i)
		ev := c.events[i].Swap(eventNone)
		if c.sessions[i] != nil {
			c.sessions[i].vsync.Store(c.vsync[i].Load())
		}

		var want bool
		switch {
		case c.hotplug != nil:
			want = c.hotplug.Connected(id)
		case ev == eventNone:
			continue
		default:
			want = ev == eventConnected
		}

		have := c.sessions[i] != nil
		switch {
		case want && !have:
			if err := c.connectLocked(id); err != nil {
				hwc.Logger().Warn("composer: hotplug connect failed", "display", id.String(), "err", err)
			}
		case !want && have:
			c.disconnectLocked(id)
		case want && ev == eventConnected:
			// Re-plugged between frames: the mode may have changed.
			if err := c.connectLocked(id); err != nil {
				hwc.Logger().Warn("composer: hotplug reconnect failed", "display", id.String(), "err", err)
			}
		}
	}
}

// budgetLocked returns the hardware display s may bind this frame: what is
// free for its mixers plus what its current graph holds.
func (c *Composer) budgetLocked(s *Session) planner.Budget {
	panel, external, rots := s.held()
	free := c.pipes.Stats().Free

	mixers := []pipe.Mixer{pipe.MixerFor(s.Display)}
	if s.Attributes.IsSplit() {
		mixers = append(mixers, pipe.MixerRight)
	}
	avail := 0
	for _, m := range mixers {
		avail += c.pipes.Available(m, 0)
	}
	b := planner.Budget{
		Pipes:    len(panel) + min(avail, free),
		Rotators: rots + c.rots.Available(),
		PipeCaps: append(panel, c.pipes.Bindable(mixers...)...),
	}
	if s.Display == hwc.Primary && c.sessions[hwc.External] != nil {
		b.External = true
		b.ExternalPipes = len(external) + c.pipes.Available(pipe.MixerExternal, 0)
		b.ExternalCaps = external
	}
	return b
}
