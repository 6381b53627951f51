package fence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Fence errors.
var (
	// ErrTimeout is returned when a bounded wait expires before the point signals.
	ErrTimeout = errors.New("fence: wait timed out")

	// ErrClosed is returned when operating on a fence whose point was released.
	ErrClosed = errors.New("fence: closed")

	// ErrInvalid is returned when the underlying point is in an error state.
	ErrInvalid = errors.New("fence: invalid point")
)

// pollSlice bounds a single backend wait so that context cancellation is
// observed promptly even when the backend blocks for the whole slice.
const pollSlice = 2 * time.Millisecond

// point is one synchronization primitive behind a Fence.
type point interface {
	// wait blocks for at most timeout and reports whether the point signaled.
	wait(timeout time.Duration) (bool, error)

	// dup returns an independently owned reference to the same point.
	dup() (point, error)

	// release gives up this reference.
	release() error

	String() string
}

// Fence owns a single synchronization point.
//
// Fence is move-only by convention: hand it over with [Fence.Take] and make
// additional owners with [Fence.Dup]. Every owner must eventually call
// [Fence.Close]. A Fence is not safe for concurrent use; the point it refers
// to may be signaled from any goroutine.
type Fence struct {
	p      point
	closed bool
}

func newFence(p point) *Fence {
	return &Fence{p: p}
}

// Valid reports whether f owns a point.
func (f *Fence) Valid() bool {
	return f != nil && f.p != nil
}

// Signaled reports without blocking whether the point has signaled.
// A nil or empty fence is signaled.
func (f *Fence) Signaled() bool {
	if !f.Valid() {
		return true
	}
	ok, err := f.p.wait(0)
	return ok && err == nil
}

// Wait blocks until the point signals, ctx is done, or timeout elapses.
//
// A timeout <= 0 performs a single non-blocking check. Wait returns
// [ErrTimeout] when the bound expires and ctx.Err() when ctx is done first.
func (f *Fence) Wait(ctx context.Context, timeout time.Duration) error {
	if !f.Valid() {
		return nil
	}
	if timeout <= 0 {
		ok, err := f.p.wait(0)
		if err != nil {
			return fmt.Errorf("fence: wait %s: %w", f.p, err)
		}
		if !ok {
			return ErrTimeout
		}
		return nil
	}

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			ok, err := f.p.wait(0)
			if err != nil {
				return fmt.Errorf("fence: wait %s: %w", f.p, err)
			}
			if ok {
				return nil
			}
			return ErrTimeout
		}
		slice := min(remaining, pollSlice)

		start := time.Now()
		ok, err := f.p.wait(slice)
		if err != nil {
			return fmt.Errorf("fence: wait %s: %w", f.p, err)
		}
		if ok {
			return nil
		}

		// Backends that return early (non-blocking timelines) sleep out the
		// rest of the slice here instead of spinning.
		if rest := slice - time.Since(start); rest > 0 {
			t := time.NewTimer(rest)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// Dup returns a new, independently owned Fence for the same point.
// Duplicating a nil or empty fence returns an empty fence.
func (f *Fence) Dup() (*Fence, error) {
	if f != nil && f.closed {
		return nil, ErrClosed
	}
	if !f.Valid() {
		return &Fence{}, nil
	}
	p, err := f.p.dup()
	if err != nil {
		return nil, fmt.Errorf("fence: dup %s: %w", f.p, err)
	}
	return newFence(p), nil
}

// Take moves ownership of the point into a new Fence and leaves f empty.
// Taking from a nil fence returns nil.
func (f *Fence) Take() *Fence {
	if f == nil {
		return nil
	}
	p := f.p
	f.p = nil
	return newFence(p)
}

// Close releases the point. Close is idempotent and safe on a nil Fence.
func (f *Fence) Close() error {
	if f == nil || f.closed {
		return nil
	}
	f.closed = true
	p := f.p
	f.p = nil
	if p == nil {
		return nil
	}
	if err := p.release(); err != nil {
		return fmt.Errorf("fence: release %s: %w", p, err)
	}
	return nil
}

// String describes the point for logs.
func (f *Fence) String() string {
	if !f.Valid() {
		return "fence(none)"
	}
	return f.p.String()
}

// CloseAll closes every fence and returns the first error.
func CloseAll(fs ...*Fence) error {
	var first error
	for _, f := range fs {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Merge returns a Fence that signals when every input has signaled.
//
// The inputs are duplicated, so the caller keeps ownership of them. Nil and
// empty inputs are skipped; merging nothing yields an empty (signaled) fence.
func Merge(fs ...*Fence) (*Fence, error) {
	parts := make([]point, 0, len(fs))
	for _, f := range fs {
		if !f.Valid() {
			continue
		}
		p, err := f.p.dup()
		if err != nil {
			for _, q := range parts {
				_ = q.release()
			}
			return nil, fmt.Errorf("fence: merge %s: %w", f.p, err)
		}
		parts = append(parts, p)
	}
	switch len(parts) {
	case 0:
		return &Fence{}, nil
	case 1:
		return newFence(parts[0]), nil
	}
	return newFence(&merged{parts: parts}), nil
}

// merged signals once all of its parts have signaled.
type merged struct {
	parts []point
}

func (m *merged) wait(timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for _, p := range m.parts {
		remaining := max(time.Until(deadline), 0)
		ok, err := p.wait(remaining)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (m *merged) dup() (point, error) {
	parts := make([]point, 0, len(m.parts))
	for _, p := range m.parts {
		d, err := p.dup()
		if err != nil {
			for _, q := range parts {
				_ = q.release()
			}
			return nil, err
		}
		parts = append(parts, d)
	}
	return &merged{parts: parts}, nil
}

func (m *merged) release() error {
	var first error
	for _, p := range m.parts {
		if err := p.release(); err != nil && first == nil {
			first = err
		}
	}
	m.parts = nil
	return first
}

func (m *merged) String() string {
	names := make([]string, len(m.parts))
	for i, p := range m.parts {
		names[i] = p.String()
	}
	return "merge(" + strings.Join(names, ",") + ")"
}

// signaled is a point that has already signaled.
type signaled struct{}

func (signaled) wait(time.Duration) (bool, error) { return true, nil }
func (signaled) dup() (point, error)              { return signaled{}, nil }
func (signaled) release() error                   { return nil }
func (signaled) String() string                   { return "fence(signaled)" }

// Signaled returns a valid Fence that is already signaled.
// Backends without hardware fences hand these out.
func Signaled() *Fence {
	return newFence(signaled{})
}
