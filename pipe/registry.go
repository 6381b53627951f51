package pipe

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/hwc"
	"github.com/gogpu/hwc/fence"
)

// Registry errors.
var (
	// ErrNoPipe is returned when no free pipe satisfies a request within the
	// mixer limits.
	ErrNoPipe = errors.New("pipe: no free pipe")

	// ErrRegistryClosed is returned when operating on a closed registry.
	ErrRegistryClosed = errors.New("pipe: registry closed")

	// ErrInvalidInventory is returned for an unusable inventory.
	ErrInvalidInventory = errors.New("pipe: invalid inventory")
)

// Default inventory limits.
const (
	// DefaultMaxPerMixer is the default number of stages per mixer.
	DefaultMaxPerMixer = 4
)

// Inventory describes the hardware pipes.
type Inventory struct {
	// Types lists one entry per hardware pipe; the index is the pipe ID.
	Types []Type

	// MaxPerMixer caps busy pipes of any type on one mixer.
	// Defaults to DefaultMaxPerMixer if <= 0.
	MaxPerMixer int

	// Limits caps busy pipes of one type on one mixer. Types without an
	// entry are capped by MaxPerMixer only.
	Limits map[Type]int
}

// DefaultInventory returns a six-pipe inventory: two of each type, at most
// four stages per mixer.
func DefaultInventory() Inventory {
	return Inventory{
		Types:       []Type{TypeVG, TypeVG, TypeRGB, TypeRGB, TypeDMA, TypeDMA},
		MaxPerMixer: DefaultMaxPerMixer,
		Limits:      map[Type]int{TypeVG: 2, TypeRGB: 2, TypeDMA: 2},
	}
}

// Validate reports malformed inventories.
func (inv Inventory) Validate() error {
	if len(inv.Types) == 0 {
		return fmt.Errorf("%w: no pipes", ErrInvalidInventory)
	}
	for i, t := range inv.Types {
		if t < TypeDMA || t > TypeVG {
			return fmt.Errorf("%w: pipe %d has type %s", ErrInvalidInventory, i, t)
		}
	}
	for t, n := range inv.Limits {
		if n < 0 {
			return fmt.Errorf("%w: negative limit %d for %s", ErrInvalidInventory, n, t)
		}
	}
	return nil
}

// Request describes the pipe a caller needs.
type Request struct {
	// Display is the display that will own the pipe.
	Display hwc.DisplayID

	// Mixer is the mixer the pipe will feed.
	Mixer Mixer

	// Hint is the preferred type. TypeAny picks the least capable pipe that
	// satisfies Need, which keeps video pipes for video.
	Hint Type

	// Need lists capabilities the pipe must have.
	Need Caps

	// Owner names the acquirer in logs.
	Owner string
}

// Stats contains registry statistics.
type Stats struct {
	// Total is the number of pipes.
	Total int

	// Free, Reserved, Active and Draining count pipes per state.
	Free, Reserved, Active, Draining int

	// Acquired counts successful acquisitions.
	Acquired uint64

	// Refused counts acquisitions that failed with ErrNoPipe.
	Refused uint64

	// Reclaimed counts draining pipes returned to the free list.
	Reclaimed uint64
}

// String returns a human-readable string of registry stats.
func (s Stats) String() string {
	return fmt.Sprintf("Pipes[%d/%d free, %d reserved, %d active, %d draining, %d acquired, %d refused, %d reclaimed]",
		s.Free, s.Total, s.Reserved, s.Active, s.Draining, s.Acquired, s.Refused, s.Reclaimed)
}

// Registry tracks the pipe inventory shared by all displays.
//
// Registry is safe for concurrent use, although the composer serializes
// displays so that only one display's frame mutates it at a time.
type Registry struct {
	mu sync.Mutex

	pipes       []*Pipe
	maxPerMixer int
	limits      map[Type]int

	acquired  uint64
	refused   uint64
	reclaimed uint64

	closed bool
}

// NewRegistry creates a registry for inv. An invalid inventory falls back to
// DefaultInventory.
func NewRegistry(inv Inventory) *Registry {
	if err := inv.Validate(); err != nil {
		hwc.Logger().Warn("pipe: using default inventory", "err", err)
		inv = DefaultInventory()
	}
	maxPerMixer := inv.MaxPerMixer
	if maxPerMixer <= 0 {
		maxPerMixer = DefaultMaxPerMixer
	}

	r := &Registry{
		pipes:       make([]*Pipe, len(inv.Types)),
		maxPerMixer: maxPerMixer,
		limits:      make(map[Type]int, len(inv.Limits)),
	}
	for i, t := range inv.Types {
		r.pipes[i] = &Pipe{ID: i, Type: t}
	}
	for t, n := range inv.Limits {
		r.limits[t] = n
	}
	return r
}

// Acquire reserves the best free pipe for req.
//
// The pipe is reserved until the display's next EndRound, which makes it
// active. Acquire returns ErrNoPipe when nothing fits.
func (r *Registry) Acquire(req Request) (*Pipe, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}

	p := r.pickLocked(req)
	if p == nil {
		r.refused++
		return nil, fmt.Errorf("%w: display %s mixer %s hint %s need %03b",
			ErrNoPipe, req.Display, req.Mixer, req.Hint, req.Need)
	}

	p.state = StateReserved
	p.display = req.Display
	p.mixer = req.Mixer
	p.owner = req.Owner
	p.config = Config{}
	r.acquired++

	hwc.Logger().Debug("pipe: acquired", "pipe", p.String(), "owner", req.Owner, "display", req.Display.String())
	return p, nil
}

// Reserve acquires a pipe that is on screen immediately, such as the base
// path of the framebuffer target set up at connect time.
func (r *Registry) Reserve(req Request) (*Pipe, error) {
	p, err := r.Acquire(req)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	p.state = StateActive
	r.mu.Unlock()
	return p, nil
}

// Release returns p to the registry.
//
// A reserved pipe becomes free at once. An active pipe becomes draining
// until its display obtains a later release fence. Releasing a nil, free or
// draining pipe is a no-op.
func (r *Registry) Release(p *Pipe) {
	if p == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch p.state {
	case StateReserved:
		r.freeLocked(p)
	case StateActive:
		p.state = StateDraining
		hwc.Logger().Debug("pipe: draining", "pipe", p.String(), "owner", p.owner)
	}
}

// EndRound closes one display's frame.
//
// Reserved pipes become active. When release is a valid fence, the
// display's draining pipes become free and every pipe scanned out this frame
// remembers a duplicate of it; without one, draining pipes wait for a later
// round. EndRound borrows release. It returns the number of pipes reclaimed.
func (r *Registry) EndRound(display hwc.DisplayID, release *fence.Fence) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	obtained := release.Valid()
	reclaimed := 0
	for _, p := range r.pipes {
		if p.display != display {
			continue
		}
		switch p.state {
		case StateReserved:
			p.state = StateActive
			if obtained {
				r.rememberLocked(p, release)
			}
		case StateActive:
			if obtained {
				r.rememberLocked(p, release)
			}
		case StateDraining:
			if !obtained {
				continue
			}
			r.rememberLocked(p, release)
			r.freeLocked(p)
			r.reclaimed++
			reclaimed++
		}
	}

	if !obtained {
		if n := r.countLocked(display, StateDraining); n > 0 {
			hwc.Logger().Debug("pipe: reclaim deferred", "display", display.String(), "draining", n)
		}
	}
	return reclaimed
}

// Drop frees every pipe of display without waiting, closing the remembered
// fences. It is used when the display disconnects and its mixers stop.
func (r *Registry) Drop(display hwc.DisplayID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.pipes {
		if p.state == StateFree || p.display != display {
			continue
		}
		r.freeLocked(p)
		_ = p.last.Close()
		p.last = nil
	}
}

// Pending returns the number of draining pipes of display.
func (r *Registry) Pending(display hwc.DisplayID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countLocked(display, StateDraining)
}

// Busy returns the reserved and active pipes of display in ID order.
func (r *Registry) Busy(display hwc.DisplayID) []*Pipe {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []*Pipe
	for _, p := range r.pipes {
		if p.display == display && (p.state == StateReserved || p.state == StateActive) {
			result = append(result, p)
		}
	}
	return result
}

// Available returns how many more pipes with caps need could be acquired
// for mixer m right now.
func (r *Registry) Available(m Mixer, need Caps) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	room := r.maxPerMixer - r.usedLocked(m, TypeAny)
	if room <= 0 {
		return 0
	}

	free := make(map[Type]int, 3)
	for _, p := range r.pipes {
		if p.state == StateFree && p.Caps().Has(need) {
			free[p.Type]++
		}
	}
	n := 0
	for t, f := range free {
		if limit, ok := r.limits[t]; ok {
			f = min(f, limit-r.usedLocked(m, t))
		}
		n += max(f, 0)
	}
	return min(n, room)
}

// Bindable returns the capabilities of every free pipe that could still be
// acquired for one of mixers, one entry per pipe, most capable first. A
// type is listed at most as often as its per-mixer limits leave room for.
func (r *Registry) Bindable(mixers ...Mixer) []Caps {
	r.mu.Lock()
	defer r.mu.Unlock()

	free := make(map[Type]int, 3)
	for _, p := range r.pipes {
		if p.state == StateFree {
			free[p.Type]++
		}
	}
	var out []Caps
	for _, t := range []Type{TypeVG, TypeRGB, TypeDMA} {
		n := free[t]
		if limit, ok := r.limits[t]; ok {
			room := 0
			for _, m := range mixers {
				room += max(limit-r.usedLocked(m, t), 0)
			}
			n = min(n, room)
		}
		for range n {
			out = append(out, t.Caps())
		}
	}
	return out
}

// Pipes returns every pipe in ID order. The slice is a copy.
func (r *Registry) Pipes() []*Pipe {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]*Pipe, len(r.pipes))
	copy(result, r.pipes)
	return result
}

// Stats returns current registry statistics.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Stats{
		Total:     len(r.pipes),
		Acquired:  r.acquired,
		Refused:   r.refused,
		Reclaimed: r.reclaimed,
	}
	for _, p := range r.pipes {
		switch p.state {
		case StateFree:
			s.Free++
		case StateReserved:
			s.Reserved++
		case StateActive:
			s.Active++
		case StateDraining:
			s.Draining++
		}
	}
	return s
}

// Close frees every pipe and closes remembered fences.
// The registry should not be used after Close is called.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	for _, p := range r.pipes {
		r.freeLocked(p)
		_ = p.last.Close()
		p.last = nil
	}
	r.closed = true
}

// pickLocked returns the best free pipe for req, or nil. Caller must hold mu.
func (r *Registry) pickLocked(req Request) *Pipe {
	if r.usedLocked(req.Mixer, TypeAny) >= r.maxPerMixer {
		return nil
	}

	var best *Pipe
	for _, p := range r.pipes {
		if p.state != StateFree || !p.Caps().Has(req.Need) {
			continue
		}
		if limit, ok := r.limits[p.Type]; ok && r.usedLocked(req.Mixer, p.Type) >= limit {
			continue
		}
		if best == nil || better(p, best, req.Hint) {
			best = p
		}
	}
	return best
}

// better reports whether a is a better fit than b. The hinted type wins,
// then the pipe with fewer capabilities; pipes are scanned in ID order so
// the lower ID wins remaining ties.
func better(a, b *Pipe, hint Type) bool {
	if hint != TypeAny {
		if am, bm := a.Type == hint, b.Type == hint; am != bm {
			return am
		}
	}
	return a.Caps().count() < b.Caps().count()
}

// usedLocked counts non-free pipes on mixer m, of type t unless t is
// TypeAny. Caller must hold mu.
func (r *Registry) usedLocked(m Mixer, t Type) int {
	n := 0
	for _, p := range r.pipes {
		if p.state == StateFree || p.mixer != m {
			continue
		}
		if t == TypeAny || p.Type == t {
			n++
		}
	}
	return n
}

// countLocked counts display's pipes in state s. Caller must hold mu.
func (r *Registry) countLocked(display hwc.DisplayID, s State) int {
	n := 0
	for _, p := range r.pipes {
		if p.display == display && p.state == s {
			n++
		}
	}
	return n
}

// rememberLocked replaces p's last release fence with a duplicate of f.
// Caller must hold mu.
func (r *Registry) rememberLocked(p *Pipe, f *fence.Fence) {
	d, err := f.Dup()
	if err != nil {
		hwc.Logger().Warn("pipe: dup release fence", "pipe", p.String(), "err", err)
		return
	}
	_ = p.last.Close()
	p.last = d
}

// freeLocked returns p to the free list. Caller must hold mu.
func (r *Registry) freeLocked(p *Pipe) {
	p.state = StateFree
	p.owner = ""
	p.display = 0
	p.mixer = 0
	p.config = Config{}
}
