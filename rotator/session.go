package rotator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gogpu/hwc"
	"github.com/gogpu/hwc/fence"
)

// slot is one scratch buffer of a generation.
type slot struct {
	// done signals when the rotation writing this slot completes.
	done *fence.Fence

	// release signals when the last frame scanning this slot let go of it.
	release *fence.Fence
}

// generation is one allocation of scratch memory.
type generation struct {
	id    uint64
	size  int
	slots [2]slot

	// last is the slot written most recently, or -1.
	last int
}

// fences returns every fence that must signal before the generation's
// memory may be reused or freed. The fences stay owned by the generation.
func (g *generation) fences() []*fence.Fence {
	fs := make([]*fence.Fence, 0, 4)
	for i := range g.slots {
		fs = append(fs, g.slots[i].done, g.slots[i].release)
	}
	return fs
}

// idle reports without blocking whether the generation is unused.
func (g *generation) idle() bool {
	for _, f := range g.fences() {
		if !f.Signaled() {
			return false
		}
	}
	return true
}

// waitIdle waits up to timeout for the generation to become unused.
func (g *generation) waitIdle(ctx context.Context, timeout time.Duration) error {
	m, err := fence.Merge(g.fences()...)
	if err != nil {
		return err
	}
	defer m.Close()
	return m.Wait(ctx, timeout)
}

func (g *generation) close() {
	for i := range g.slots {
		_ = fence.CloseAll(g.slots[i].done, g.slots[i].release)
		g.slots[i] = slot{}
	}
}

type sessionState uint8

const (
	sessionFree sessionState = iota
	sessionBusy
	sessionDraining
)

// Session is one rotator channel.
//
// A Session is used by its owner only, inside its display's frame.
type Session struct {
	// ID is the hardware session index.
	ID int

	pool    *Pool
	state   sessionState
	display hwc.DisplayID
	owner   string
	config  Config
	nextGen uint64

	curr    *generation
	prev    *generation
	pending []*generation

	// scanGen and scanSlot locate the buffer the pipe scans out.
	scanGen  *generation
	scanSlot int
}

// Owner returns the owner name given at acquisition.
func (s *Session) Owner() string {
	return s.owner
}

// Display returns the display owning the session.
func (s *Session) Display() hwc.DisplayID {
	return s.display
}

// Config returns the current configuration.
func (s *Session) Config() Config {
	return s.config
}

// Generation returns the current generation id, or 0 before the first
// Configure.
func (s *Session) Generation() uint64 {
	if s.curr == nil {
		return 0
	}
	return s.curr.id
}

// Configure programs the session. It allocates a new generation when the
// scratch size changes and keeps the current one otherwise.
func (s *Session) Configure(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	size := cfg.ScratchSize()
	if s.curr != nil && s.curr.size == size {
		s.config = cfg
		return nil
	}

	s.nextGen++
	g := &generation{id: s.nextGen, size: size, last: -1}
	if err := s.pool.engine.Allocate(s.ID, g.id, size); err != nil {
		return fmt.Errorf("rotator: allocate session %d generation %d: %w", s.ID, g.id, err)
	}

	if s.prev != nil {
		s.retire(ctx, s.prev)
	}
	s.prev = s.curr
	s.curr = g
	s.config = cfg
	if s.prev != nil {
		s.pool.swaps.Add(1)
		hwc.Logger().Debug("rotator: generation swap",
			"session", s.ID, "from", s.prev.id, "to", g.id, "bytes", size)
	}
	return nil
}

// retire disposes g if it becomes idle within the pool's bound and queues it
// for a later Reclaim otherwise.
func (s *Session) retire(ctx context.Context, g *generation) {
	if g == s.scanGen {
		s.pending = append(s.pending, g)
		return
	}
	if err := g.waitIdle(ctx, s.pool.cfg.WaitTimeout); err != nil {
		hwc.Logger().Debug("rotator: disposal deferred", "session", s.ID, "generation", g.id, "err", err)
		s.pending = append(s.pending, g)
		return
	}
	s.dispose(g)
}

func (s *Session) dispose(g *generation) {
	if s.scanGen == g {
		s.scanGen = nil
	}
	g.close()
	s.pool.engine.Free(s.ID, g.id)
	s.pool.disposed.Add(1)
}

// reclaim disposes idle retired generations without blocking. It returns the
// number disposed.
func (s *Session) reclaim() int {
	n := 0
	kept := s.pending[:0]
	for _, g := range s.pending {
		if g != s.scanGen && g.idle() {
			s.dispose(g)
			n++
			continue
		}
		kept = append(kept, g)
	}
	clear(s.pending[len(kept):])
	s.pending = kept

	if s.prev != nil && s.scanGen != s.prev && s.prev.idle() {
		s.dispose(s.prev)
		s.prev = nil
		n++
	}
	return n
}

// Queue rotates the configured crop of the source buffer into the next
// slot of the current generation and returns the completion fence, which
// the pipe uses as its acquire fence. The caller owns the returned fence;
// acquire stays owned by the caller.
//
// Queue returns ErrBusy, without rotating, when the previous generation or
// the target slot is still in use past the wait bound. The pipe then keeps
// scanning [Session.Output].
func (s *Session) Queue(ctx context.Context, src *hwc.Buffer, acquire *fence.Fence) (*fence.Fence, error) {
	if s.curr == nil {
		return nil, fmt.Errorf("%w: session %d not configured", ErrInvalidConfig, s.ID)
	}
	timeout := s.pool.cfg.WaitTimeout

	// Earlier generations must finish writing before the current one is
	// written.
	older := make([]*fence.Fence, 0, 2+2*len(s.pending))
	if s.prev != nil {
		older = append(older, s.prev.slots[0].done, s.prev.slots[1].done)
	}
	for _, g := range s.pending {
		older = append(older, g.slots[0].done, g.slots[1].done)
	}
	if err := waitAll(ctx, timeout, older...); err != nil {
		return nil, s.skip(err, "previous generation busy")
	}

	g := s.curr
	target := 0
	if g.last == 0 {
		target = 1
	}
	if err := g.slots[target].release.Wait(ctx, timeout); err != nil {
		// The other slot may have been released if the pipe moved on.
		other := 1 - target
		if g.last < 0 || !g.slots[other].release.Signaled() || s.scanning(g, other) {
			return nil, s.skip(err, "both slots held")
		}
		target = other
	}

	done, err := s.pool.engine.Rotate(ctx, Job{
		Session:    s.ID,
		Generation: g.id,
		Slot:       target,
		Config:     s.config,
		Source:     src,
		Acquire:    acquire,
	})
	if err != nil {
		return nil, fmt.Errorf("rotator: rotate session %d: %w", s.ID, err)
	}

	out, err := done.Dup()
	if err != nil {
		_ = done.Close()
		return nil, fmt.Errorf("rotator: session %d: %w", s.ID, err)
	}
	sl := &g.slots[target]
	_ = fence.CloseAll(sl.done, sl.release)
	sl.done = done
	sl.release = nil
	g.last = target
	s.scanGen, s.scanSlot = g, target
	s.pool.rotations.Add(1)
	return out, nil
}

func (s *Session) scanning(g *generation, i int) bool {
	return s.scanGen == g && s.scanSlot == i
}

func (s *Session) skip(cause error, reason string) error {
	s.pool.skipped.Add(1)
	hwc.Logger().Debug("rotator: rotation skipped", "session", s.ID, "reason", reason, "err", cause)
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", ErrBusy, reason, cause)
	}
	return fmt.Errorf("%w: %s", ErrBusy, reason)
}

// Output describes the buffer the pipe scans: the slot written by the last
// successful Queue. It reports false when nothing has been rotated yet.
func (s *Session) Output() (hwc.Buffer, bool) {
	if s.scanGen == nil {
		return hwc.Buffer{}, false
	}
	w, h := s.config.OutputSize()
	return hwc.Buffer{
		ID:     outputID(s.ID, s.scanGen.id, s.scanSlot),
		Width:  w,
		Height: h,
		Format: s.config.Format,
		Secure: s.config.Secure,
	}, true
}

// SetRelease stamps the frame's release fence on the slot being scanned.
// The session keeps a duplicate; f stays owned by the caller.
func (s *Session) SetRelease(f *fence.Fence) error {
	if s.scanGen == nil || !f.Valid() {
		return nil
	}
	d, err := f.Dup()
	if err != nil {
		return fmt.Errorf("rotator: session %d release: %w", s.ID, err)
	}
	sl := &s.scanGen.slots[s.scanSlot]
	_ = sl.release.Close()
	sl.release = d
	return nil
}

// String describes the session for logs.
func (s *Session) String() string {
	return fmt.Sprintf("rotator%d(gen %d)", s.ID, s.Generation())
}

// reset frees every generation without waiting.
func (s *Session) reset() {
	for _, g := range s.pending {
		s.dispose(g)
	}
	s.pending = nil
	if s.prev != nil {
		s.dispose(s.prev)
	}
	if s.curr != nil {
		s.dispose(s.curr)
	}
	s.prev, s.curr, s.scanGen = nil, nil, nil
	s.scanSlot = 0
	s.config = Config{}
	s.owner = ""
	s.display = 0
}

// generations returns every generation still holding memory.
func (s *Session) generations() []*generation {
	gs := make([]*generation, 0, 2+len(s.pending))
	if s.curr != nil {
		gs = append(gs, s.curr)
	}
	if s.prev != nil {
		gs = append(gs, s.prev)
	}
	return append(gs, s.pending...)
}

func outputID(session int, gen uint64, slot int) uint64 {
	return 1<<63 | uint64(session)<<40 | gen<<8 | uint64(slot)
}

func waitAll(ctx context.Context, timeout time.Duration, fs ...*fence.Fence) error {
	m, err := fence.Merge(fs...)
	if err != nil {
		return err
	}
	defer m.Close()
	return m.Wait(ctx, timeout)
}
