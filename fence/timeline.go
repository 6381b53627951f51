package fence

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gogpu/wgpu/hal"
)

// Waiter waits for a value on a timeline fence.
// It is the fence subset of [hal.Device]; any HAL device satisfies it.
type Waiter interface {
	Wait(fence hal.Fence, value uint64, timeout time.Duration) (bool, error)
}

// signaler is implemented by HAL fences that can be signaled from the CPU,
// such as the noop backend's fence.
type signaler interface {
	Signal(value uint64)
}

// valuer is implemented by HAL fences that expose their completed value.
type valuer interface {
	GetValue() uint64
}

// Timeline issues monotonically increasing points on one HAL fence.
//
// The hardware (or a fake) advances the fence value; a point with value v
// signals once the fence value reaches v. Timeline is safe for concurrent use.
type Timeline struct {
	name   string
	dev    Waiter
	fence  hal.Fence
	issued atomic.Uint64
}

// NewTimeline wraps a HAL fence created by dev.
func NewTimeline(name string, dev Waiter, f hal.Fence) *Timeline {
	return &Timeline{name: name, dev: dev, fence: f}
}

// Name returns the timeline name used in logs.
func (t *Timeline) Name() string {
	return t.name
}

// Next issues a new point one past the last issued value.
func (t *Timeline) Next() *Fence {
	v := t.issued.Add(1)
	return t.Point(v)
}

// Point returns a Fence for an explicit value on the timeline.
func (t *Timeline) Point(value uint64) *Fence {
	return newFence(&timelinePoint{tl: t, value: value})
}

// Issued returns the last value handed out by Next.
func (t *Timeline) Issued() uint64 {
	return t.issued.Load()
}

// Completed returns the fence's current value, or 0 when the HAL fence does
// not expose it.
func (t *Timeline) Completed() uint64 {
	if v, ok := t.fence.(valuer); ok {
		return v.GetValue()
	}
	return 0
}

// Signal advances the fence to value from the CPU side.
// It reports false when the HAL fence cannot be signaled by software.
func (t *Timeline) Signal(value uint64) bool {
	s, ok := t.fence.(signaler)
	if !ok {
		return false
	}
	s.Signal(value)
	return true
}

// SignalAll signals every point issued so far.
func (t *Timeline) SignalAll() bool {
	return t.Signal(t.issued.Load())
}

// timelinePoint is one value on a Timeline. References are plain copies:
// the HAL fence itself belongs to the Timeline's creator.
type timelinePoint struct {
	tl       *Timeline
	value    uint64
	released bool
}

func (p *timelinePoint) wait(timeout time.Duration) (bool, error) {
	if p.released {
		return false, ErrClosed
	}
	return p.tl.dev.Wait(p.tl.fence, p.value, timeout)
}

func (p *timelinePoint) dup() (point, error) {
	if p.released {
		return nil, ErrClosed
	}
	return &timelinePoint{tl: p.tl, value: p.value}, nil
}

func (p *timelinePoint) release() error {
	p.released = true
	return nil
}

func (p *timelinePoint) String() string {
	return fmt.Sprintf("%s@%d", p.tl.name, p.value)
}
