package rotator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/hwc"
	"github.com/gogpu/hwc/fence"
)

// Rotator errors.
var (
	// ErrNoRotator is returned when every session is in use.
	ErrNoRotator = errors.New("rotator: no free session")

	// ErrBusy is returned by Queue when scratch buffers are still in use
	// past the wait bound. The rotation was skipped.
	ErrBusy = errors.New("rotator: scratch buffers busy")

	// ErrInvalidConfig is returned for geometry the rotator cannot execute.
	ErrInvalidConfig = errors.New("rotator: invalid configuration")

	// ErrPoolClosed is returned when operating on a closed pool.
	ErrPoolClosed = errors.New("rotator: pool closed")
)

// Default pool settings.
const (
	// DefaultSessions is the default number of rotator sessions.
	DefaultSessions = 2

	// DefaultWaitTimeout bounds every fence wait of a session.
	DefaultWaitTimeout = 8 * time.Millisecond
)

// Job is one rotation handed to the Engine.
type Job struct {
	Session    int
	Generation uint64
	Slot       int
	Config     Config

	// Source is the buffer rotated.
	Source *hwc.Buffer

	// Acquire signals when Source is ready. The engine must not start
	// reading before it signals. It stays owned by the caller.
	Acquire *fence.Fence
}

// Engine is the rotator hardware.
type Engine interface {
	// Allocate reserves scratch memory for one generation (two slots of
	// size bytes).
	Allocate(session int, gen uint64, size int) error

	// Rotate starts a rotation and returns a fence that signals when the
	// output slot is written.
	Rotate(ctx context.Context, job Job) (*fence.Fence, error)

	// Free releases a generation's scratch memory.
	Free(session int, gen uint64)
}

// PoolConfig holds configuration for creating a Pool.
type PoolConfig struct {
	// Sessions is the number of hardware sessions.
	// Defaults to DefaultSessions if <= 0.
	Sessions int

	// WaitTimeout bounds fence waits.
	// Defaults to DefaultWaitTimeout if <= 0.
	WaitTimeout time.Duration
}

// Stats contains pool statistics.
type Stats struct {
	// Total, Free, Busy and Draining count sessions.
	Total, Free, Busy, Draining int

	// Pending counts generations waiting for disposal.
	Pending int

	// Rotations counts completed Queue calls.
	Rotations uint64

	// Skipped counts rotations skipped because buffers were busy.
	Skipped uint64

	// Swaps counts generation swaps.
	Swaps uint64

	// Disposed counts freed generations.
	Disposed uint64
}

// String returns a human-readable string of pool stats.
func (s Stats) String() string {
	return fmt.Sprintf("Rotators[%d/%d free, %d busy, %d draining, %d pending, %d rotations, %d skipped, %d swaps]",
		s.Free, s.Total, s.Busy, s.Draining, s.Pending, s.Rotations, s.Skipped, s.Swaps)
}

// Pool is the fixed inventory of rotator sessions shared by all displays.
//
// Acquisition and release are safe for concurrent use. A session itself is
// driven by its owner only.
type Pool struct {
	mu sync.Mutex

	engine   Engine
	cfg      PoolConfig
	sessions []*Session
	closed   bool

	rotations atomic.Uint64
	skipped   atomic.Uint64
	swaps     atomic.Uint64
	disposed  atomic.Uint64
}

// NewPool creates a pool of sessions driven by engine.
func NewPool(engine Engine, cfg PoolConfig) *Pool {
	if cfg.Sessions <= 0 {
		cfg.Sessions = DefaultSessions
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = DefaultWaitTimeout
	}
	p := &Pool{
		engine:   engine,
		cfg:      cfg,
		sessions: make([]*Session, cfg.Sessions),
	}
	for i := range p.sessions {
		p.sessions[i] = &Session{ID: i, pool: p}
	}
	return p
}

// Acquire returns a free session for display.
func (p *Pool) Acquire(display hwc.DisplayID, owner string) (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}
	for _, s := range p.sessions {
		if s.state != sessionFree {
			continue
		}
		s.state = sessionBusy
		s.display = display
		s.owner = owner
		hwc.Logger().Debug("rotator: acquired", "session", s.ID, "owner", owner, "display", display.String())
		return s, nil
	}
	return nil, fmt.Errorf("%w: display %s owner %s", ErrNoRotator, display, owner)
}

// Release returns s to the pool.
//
// A session that never rotated is freed at once. One whose output may be on
// screen drains until its display's EndRound finds every generation idle.
// Releasing a nil, free or draining session is a no-op.
func (p *Pool) Release(s *Session) {
	if s == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if s.state != sessionBusy {
		return
	}
	if s.scanGen == nil {
		s.reset()
		s.state = sessionFree
		return
	}
	s.state = sessionDraining
	hwc.Logger().Debug("rotator: draining", "session", s.ID, "owner", s.owner)
}

// EndRound closes one display's frame.
//
// Busy sessions of display get release stamped on the slot they scan.
// When release is valid, draining sessions whose memory is idle are freed.
// Retired generations are disposed once idle. EndRound borrows release and
// returns the number of sessions freed.
func (p *Pool) EndRound(display hwc.DisplayID, release *fence.Fence) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	freed := 0
	for _, s := range p.sessions {
		if s.display != display {
			continue
		}
		switch s.state {
		case sessionBusy:
			if err := s.SetRelease(release); err != nil {
				hwc.Logger().Warn("rotator: stamp release", "session", s.ID, "err", err)
			}
			s.reclaim()
		case sessionDraining:
			if !release.Valid() || !s.idle() {
				continue
			}
			s.reset()
			s.state = sessionFree
			freed++
		}
	}
	return freed
}

// Reclaim disposes, without blocking, every retired generation that became
// idle. It returns the number of generations disposed.
func (p *Pool) Reclaim() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, s := range p.sessions {
		if s.state == sessionFree {
			continue
		}
		n += s.reclaim()
	}
	return n
}

// Drop frees every session of display without waiting. It is used when the
// display disconnects.
func (p *Pool) Drop(display hwc.DisplayID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, s := range p.sessions {
		if s.state == sessionFree || s.display != display {
			continue
		}
		s.reset()
		s.state = sessionFree
	}
}

// Available returns the number of free sessions.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, s := range p.sessions {
		if s.state == sessionFree {
			n++
		}
	}
	return n
}

// Stats returns current pool statistics.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Stats{
		Total:     len(p.sessions),
		Rotations: p.rotations.Load(),
		Skipped:   p.skipped.Load(),
		Swaps:     p.swaps.Load(),
		Disposed:  p.disposed.Load(),
	}
	for _, s := range p.sessions {
		switch s.state {
		case sessionFree:
			st.Free++
		case sessionBusy:
			st.Busy++
		case sessionDraining:
			st.Draining++
		}
		st.Pending += len(s.pending)
	}
	return st
}

// Close frees every session. The pool should not be used after Close.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	for _, s := range p.sessions {
		if s.state != sessionFree {
			s.reset()
			s.state = sessionFree
		}
	}
	p.closed = true
}

// idle reports whether every generation of s is unused.
func (s *Session) idle() bool {
	for _, g := range s.generations() {
		if !g.idle() {
			return false
		}
	}
	return true
}
