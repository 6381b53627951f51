package planner

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/gogpu/hwc"
	"github.com/gogpu/hwc/configurator"
	"github.com/gogpu/hwc/overlay"
	"github.com/gogpu/hwc/pipe"
)

// ErrUnknownDisplay is returned when planning for a display that is not
// connected.
var ErrUnknownDisplay = errors.New("planner: display not connected")

// Default policy values.
const (
	// DefaultMaxAppLayers is the largest list the planner tries to put on
	// pipes. Longer lists go to the GPU.
	DefaultMaxAppLayers = 4

	// DefaultBlitThreshold is the rendered/display area ratio below which
	// dynamic blit substitution is used.
	DefaultBlitThreshold = 2.0
)

// Policy tunes the planner.
type Policy struct {
	// MaxAppLayers is the largest application layer count planned for
	// overlay composition.
	MaxAppLayers int

	// Overlay reports whether the hardware has overlay pipes.
	Overlay bool

	// Blit selects blit substitution when Overlay is false.
	Blit BlitMode

	// BlitThreshold is the rendered/display area ratio for BlitDynamic.
	BlitThreshold float64

	// PaddingRound composes one frame on the GPU before moving between
	// two pipe graphs.
	PaddingRound bool

	// Mirror shows the panel on a connected external display, either the
	// whole UI or the video layer.
	Mirror bool
}

// DefaultPolicy returns the default policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAppLayers:  DefaultMaxAppLayers,
		Overlay:       true,
		BlitThreshold: DefaultBlitThreshold,
		PaddingRound:  true,
		Mirror:        true,
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAppLayers <= 0 {
		p.MaxAppLayers = DefaultMaxAppLayers
	}
	if p.BlitThreshold <= 0 {
		p.BlitThreshold = DefaultBlitThreshold
	}
	return p
}

// Checker reports what a layer needs from the hardware.
// *configurator.Configurator implements it.
type Checker interface {
	Requirements(l *hwc.Layer) configurator.Requirements
}

// Budget is the hardware a display may bind in one frame.
type Budget struct {
	// Pipes is the number of pipes across the display's mixers.
	Pipes int

	// Rotators is the number of rotator sessions.
	Rotators int

	// External reports a connected external display. Only the primary
	// display uses it.
	External bool

	// ExternalPipes is the number of pipes free on the external mixer.
	ExternalPipes int

	// PipeCaps lists the capabilities of the pipes behind Pipes, one entry
	// per pipe. Layers are only assigned while every chosen layer can be
	// matched to a distinct pipe that has what it needs. Nil skips the
	// check and treats pipes as interchangeable.
	PipeCaps []pipe.Caps

	// ExternalCaps lists the pipes the display already holds on the
	// external mixer. With PipeCaps it decides whether a TV pipe fits.
	ExternalCaps []pipe.Caps
}

// fits reports whether every need can be matched to a distinct pipe of
// pool whose capabilities cover it.
func fits(needs, pool []pipe.Caps) bool {
	if len(needs) > len(pool) {
		return false
	}
	owner := make([]int, len(pool))
	for i := range owner {
		owner[i] = -1
	}
	var seen []bool
	var augment func(n int) bool
	augment = func(n int) bool {
		for j, caps := range pool {
			if seen[j] || !caps.Has(needs[n]) {
				continue
			}
			seen[j] = true
			if owner[j] < 0 || augment(owner[j]) {
				owner[j] = n
				return true
			}
		}
		return false
	}
	for n := range needs {
		seen = make([]bool, len(pool))
		if !augment(n) {
			return false
		}
	}
	return true
}

// Plan is the outcome of planning one frame. Layer tags are written into
// the layers themselves.
type Plan struct {
	Display  hwc.DisplayID
	Stats    hwc.ListStats
	Strategy Strategy

	// Reason explains why the frame is not composed with overlays.
	Reason Reason

	// Target is the overlay state and bindings the frame needs.
	Target overlay.Target

	// TargetZ is the mixer stage of the framebuffer target.
	TargetZ int

	// Padding marks a frame composed on the GPU while the graph changes.
	Padding bool

	// Pipes is the number of pipes the bindings cost.
	Pipes int
}

// Count returns how many layers carry tag.
func Count(layers []*hwc.Layer, tag hwc.Tag) int {
	n := 0
	for _, l := range layers {
		if l != nil && l.Tag == tag {
			n++
		}
	}
	return n
}

func (p *Plan) String() string {
	s := fmt.Sprintf("Plan[%s %s %s, %d pipes, fb z%d", p.Display, p.Strategy, p.Target.State, p.Pipes, p.TargetZ)
	if p.Reason != ReasonNone {
		s += ", " + p.Reason.String()
	}
	return s + "]"
}

type displayState struct {
	attrs  hwc.DisplayAttributes
	warm   bool
	failed bool

	last      overlay.Key
	lastState overlay.State

	rejected map[uint64]bool
}

// Planner plans frames for every connected display.
//
// Planner keeps per-display state between frames and is not safe for
// concurrent use; the composer serializes frames.
type Planner struct {
	check    Checker
	policy   Policy
	displays map[hwc.DisplayID]*displayState
}

// New creates a Planner.
func New(check Checker, policy Policy) *Planner {
	return &Planner{
		check:    check,
		policy:   policy.withDefaults(),
		displays: make(map[hwc.DisplayID]*displayState),
	}
}

// Policy returns the policy in use.
func (p *Planner) Policy() Policy {
	return p.policy
}

// Connect starts planning for display. The first frame after Connect is
// composed on the GPU.
func (p *Planner) Connect(display hwc.DisplayID, attrs hwc.DisplayAttributes) {
	p.displays[display] = &displayState{attrs: attrs, last: overlay.Target{}.Key()}
}

// Disconnect forgets display.
func (p *Planner) Disconnect(display hwc.DisplayID) {
	delete(p.displays, display)
}

// Reset drops the cached state of display, as after a hot-plug.
func (p *Planner) Reset(display hwc.DisplayID) {
	if ds, ok := p.displays[display]; ok {
		p.Connect(display, ds.attrs)
	}
}

// SetFailed marks display failed or healthy. Frames of a failed display
// are composed on the GPU.
func (p *Planner) SetFailed(display hwc.DisplayID, failed bool) {
	if ds, ok := p.displays[display]; ok {
		ds.failed = failed
	}
}

// Failed reports whether display is marked failed.
func (p *Planner) Failed(display hwc.DisplayID) bool {
	ds, ok := p.displays[display]
	return ok && ds.failed
}

// Reject records that l could not be configured. The next frame keeps a
// layer showing the same buffer on the GPU.
func (p *Planner) Reject(display hwc.DisplayID, l *hwc.Layer) {
	ds, ok := p.displays[display]
	if !ok || l == nil || l.Buffer == nil {
		return
	}
	if ds.rejected == nil {
		ds.rejected = make(map[uint64]bool)
	}
	ds.rejected[l.Buffer.ID] = true
}

// Plan tags every layer of one frame and returns the overlay target.
func (p *Planner) Plan(display hwc.DisplayID, layers []*hwc.Layer, b Budget) (*Plan, error) {
	ds, ok := p.displays[display]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDisplay, display)
	}

	plan := &Plan{
		Display: display,
		Stats:   hwc.ComputeListStats(layers),
		Target:  overlay.Target{},
	}
	rejected := ds.rejected
	ds.rejected = nil

	cond := Conditions{FirstFrame: !ds.warm, Failed: ds.failed}
	ds.warm = true
	plan.Strategy, plan.Reason = SelectStrategy(plan.Stats, cond, p.policy)

	switch plan.Strategy {
	case StrategyOverlay:
		p.assign(plan, ds, layers, b, rejected)
	case StrategyBlit:
		p.blit(plan, ds, layers)
	default:
		tagAll(layers, hwc.TagFramebuffer)
	}
	if plan.Target.State.IsClosed() && plan.Strategy != StrategyBlit && !cond.FirstFrame && !cond.Failed {
		p.mirror(plan, b)
	}

	key := plan.Target.Key()
	if p.policy.PaddingRound && !plan.Target.State.IsClosed() && !ds.lastState.IsClosed() && key != ds.last {
		tagAll(layers, hwc.TagFramebuffer)
		plan.Strategy = StrategyGPU
		plan.Reason = ReasonPadding
		plan.Target = overlay.Target{}
		plan.TargetZ = 0
		plan.Pipes = 0
		plan.Padding = true
		key = plan.Target.Key()
	}
	ds.last = key
	ds.lastState = plan.Target.State

	hwc.Logger().Debug("planner: planned",
		"display", display.String(),
		"strategy", plan.Strategy.String(),
		"state", plan.Target.State.String(),
		"pipes", plan.Pipes,
		"reason", plan.Reason.String())
	return plan, nil
}

type candidate struct {
	index       int
	layer       *hwc.Layer
	req         configurator.Requirements
	left, right bool
	largeOpaque bool
	distance    int
}

func (c candidate) cost() int {
	if c.left && c.right {
		return 2
	}
	return 1
}

// compare orders candidates by pipe priority.
func (c candidate) compare(o candidate) int {
	return cmp.Or(
		boolFirst(c.layer.MustNotRedraw(), o.layer.MustNotRedraw()),
		boolFirst(c.layer.IsYUV(), o.layer.IsYUV()),
		boolFirst(c.largeOpaque, o.largeOpaque),
		cmp.Compare(c.distance, o.distance),
		cmp.Compare(o.index, c.index),
	)
}

func boolFirst(a, b bool) int {
	switch {
	case a == b:
		return 0
	case a:
		return -1
	default:
		return 1
	}
}

// assign hands pipes to layers in priority order.
func (p *Planner) assign(plan *Plan, ds *displayState, layers []*hwc.Layer, b Budget, rejected map[uint64]bool) {
	tagAll(layers, hwc.TagFramebuffer)

	bounds := ds.attrs.Bounds()
	top := plan.Stats.TargetIndex
	if top < 0 {
		top = len(layers)
	}
	onlyVideo := plan.Display == hwc.Primary && b.External

	var cands []candidate
	for i, l := range layers {
		if l == nil || l.IsTarget() || l.Buffer == nil || rejected[l.Buffer.ID] {
			continue
		}
		if onlyVideo && !l.IsYUV() {
			continue
		}
		req := p.check.Requirements(l)
		if !req.OK {
			continue
		}
		vis := l.Dest.Intersect(bounds)
		if vis.Empty() {
			continue
		}
		c := candidate{
			index:       i,
			layer:       l,
			req:         req,
			left:        true,
			largeOpaque: l.IsOpaque() && 4*hwc.Area(vis) >= hwc.Area(bounds),
			distance:    abs(top - i),
		}
		if ds.attrs.IsSplit() {
			c.left = vis.Min.X < ds.attrs.SplitX
			c.right = vis.Max.X > ds.attrs.SplitX
		}
		cands = append(cands, c)
	}
	slices.SortStableFunc(cands, candidate.compare)

	maxLayers := overlay.MaxBypassLayers
	if onlyVideo {
		maxLayers = 1
	}
	onPipe := make(map[int]bool)
	var chosen []candidate
	var needs []pipe.Caps
	used, rots := 0, 0
	for _, c := range cands {
		if len(chosen) == maxLayers {
			break
		}
		if used+c.cost() > b.Pipes || (c.req.Rotator && rots >= b.Rotators) {
			continue
		}
		more := needs
		for range c.cost() {
			more = append(more, c.req.Need)
		}
		if b.PipeCaps != nil && !fits(more, b.PipeCaps) {
			continue
		}
		onPipe[c.index] = true
		if showsGPUOutOfOrder(layers, onPipe, c.index) {
			delete(onPipe, c.index)
			continue
		}
		chosen = append(chosen, c)
		needs = more
		used += c.cost()
		if c.req.Rotator {
			rots++
		}
	}
	if len(chosen) == 0 {
		plan.Strategy = StrategyGPU
		plan.Reason = ReasonNoFit
		return
	}

	slices.SortFunc(chosen, func(a, b candidate) int { return cmp.Compare(a.index, b.index) })
	var zorder map[int]int
	plan.TargetZ, zorder = stages(layers, onPipe)
	for _, c := range chosen {
		c.layer.Tag = hwc.TagPipe
		hint := pipe.TypeAny
		if c.layer.IsYUV() {
			hint = pipe.TypeVG
		}
		plan.Target.Bindings = append(plan.Target.Bindings, overlay.Binding{
			Layer:   c.index,
			Need:    c.req.Need,
			Hint:    hint,
			Left:    c.left,
			Right:   c.right,
			Rotator: c.req.Rotator,
			ZOrder:  zorder[c.index],
		})
	}
	plan.Pipes = used

	switch {
	case len(chosen) == 1 && chosen[0].layer.IsYUV() && onlyVideo && p.policy.Mirror && b.ExternalPipes > 0 && tvFits(needs, b):
		plan.Target.State = overlay.State{Kind: overlay.SinglePipeOnPanelAndTV}
	case len(chosen) == 1 && chosen[0].layer.IsYUV():
		plan.Target.State = overlay.State{Kind: overlay.SinglePipeOnPanel}
	default:
		plan.Target.State = overlay.BypassOf(len(chosen))
	}
}

// tvFits reports whether the TV copy of the panel video finds a pipe next
// to the panel pipes in needs.
func tvFits(needs []pipe.Caps, b Budget) bool {
	if b.PipeCaps == nil {
		return true
	}
	tv := pipe.CapYUV | pipe.CapScale
	if len(needs) > 0 {
		tv |= needs[0]
	}
	pool := append(slices.Clip(b.PipeCaps), b.ExternalCaps...)
	return fits(append(slices.Clip(needs), tv), pool)
}

// showsGPUOutOfOrder reports whether the pipe layer at i sits between GPU
// layers and overlaps a GPU layer above it. The framebuffer target holding
// the GPU layers is blended below such a layer, so the overlapping content
// would end up underneath it.
func showsGPUOutOfOrder(layers []*hwc.Layer, onPipe map[int]bool, i int) bool {
	below := false
	for j := range i {
		if isGPU(layers[j], onPipe, j) {
			below = true
			break
		}
	}
	if !below {
		return false
	}
	dest := layers[i].Dest
	for k := i + 1; k < len(layers); k++ {
		if isGPU(layers[k], onPipe, k) && layers[k].Dest.Overlaps(dest) {
			return true
		}
	}
	return false
}

func isGPU(l *hwc.Layer, onPipe map[int]bool, i int) bool {
	return l != nil && !l.IsTarget() && !onPipe[i]
}

// stages assigns mixer stages bottom to top. The framebuffer target takes
// the stage of the lowest GPU layer, or the bottom stage when every layer
// is on a pipe.
func stages(layers []*hwc.Layer, onPipe map[int]bool) (target int, z map[int]int) {
	z = make(map[int]int, len(onPipe))
	next := 0
	placed := !anyGPU(layers, onPipe)
	if placed {
		next = 1
	}
	for i, l := range layers {
		if !placed && isGPU(l, onPipe, i) {
			target = next
			next++
			placed = true
		}
		if onPipe[i] {
			z[i] = next
			next++
		}
	}
	return target, z
}

func anyGPU(layers []*hwc.Layer, onPipe map[int]bool) bool {
	for i, l := range layers {
		if isGPU(l, onPipe, i) {
			return true
		}
	}
	return false
}

// blit tags layers for the blit engine where it is cheaper than the GPU.
func (p *Planner) blit(plan *Plan, ds *displayState, layers []*hwc.Layer) {
	ratio := float64(plan.Stats.RenderArea) / float64(max(hwc.Area(ds.attrs.Bounds()), 1))
	for _, l := range layers {
		if l == nil {
			continue
		}
		switch {
		case l.IsTarget():
			l.Tag = hwc.TagTarget
		case p.policy.Blit == BlitAlways,
			l.IsYUV(),
			ratio < p.policy.BlitThreshold:
			l.Tag = hwc.TagBlit
		default:
			l.Tag = hwc.TagFramebuffer
		}
	}
}

// mirror puts the primary framebuffer target on the external display when
// no overlay state needs the hardware.
func (p *Planner) mirror(plan *Plan, b Budget) {
	if plan.Display != hwc.Primary || !p.policy.Mirror || !b.External || b.ExternalPipes == 0 {
		return
	}
	plan.Target = overlay.Target{State: overlay.State{Kind: overlay.UIMirror}}
}

func tagAll(layers []*hwc.Layer, tag hwc.Tag) {
	for _, l := range layers {
		switch {
		case l == nil:
		case l.IsTarget():
			l.Tag = hwc.TagTarget
		default:
			l.Tag = tag
		}
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

var _ Checker = (*configurator.Configurator)(nil)

