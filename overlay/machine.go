// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package overlay

import (
	"context"
	"errors"
	"fmt"

	"github.com/gogpu/hwc"
	"github.com/gogpu/hwc/configurator"
	"github.com/gogpu/hwc/pipe"
	"github.com/gogpu/hwc/rotator"
)

// Overlay errors.
var (
	// ErrCapacity is returned when a state cannot be built from the free
	// hardware. The machine is left CLOSED.
	ErrCapacity = errors.New("overlay: not enough hardware")

	// ErrInvalidTarget is returned for a target whose bindings do not
	// match its state's recipe.
	ErrInvalidTarget = errors.New("overlay: invalid target")
)

// Role is a built role: the recipe entry plus the hardware bound to it.
type Role struct {
	Spec    RoleSpec
	Binding Binding

	// Left and Right are the role's pipes. Right is only set for a layer
	// crossing the split of a dual-mixer panel.
	Left, Right *pipe.Pipe

	// Rotator is shared by every role driven by the same slot.
	Rotator *rotator.Session
}

// Assignment returns the hardware of r in the form the configurator takes.
func (r *Role) Assignment() configurator.Assignment {
	return configurator.Assignment{
		Left:    r.Left,
		Right:   r.Right,
		Rotator: r.Rotator,
		ZOrder:  r.Binding.ZOrder,
	}
}

// Pipes returns the non-nil pipes of r, left first.
func (r *Role) Pipes() []*pipe.Pipe {
	var ps []*pipe.Pipe
	for _, p := range []*pipe.Pipe{r.Left, r.Right} {
		if p != nil {
			ps = append(ps, p)
		}
	}
	return ps
}

// Machine is the overlay state machine of one display.
//
// Machine is not safe for concurrent use; the composer calls it from the
// display's frame critical section.
type Machine struct {
	display hwc.DisplayID
	pipes   *pipe.Registry
	rots    *rotator.Pool
	conf    *configurator.Configurator

	state State
	key   Key
	roles []*Role

	transitions int
}

// NewMachine creates a CLOSED machine for display drawing from the shared
// registry and pool. Pipes leaving the graph are unset through conf first;
// a nil conf only releases them.
func NewMachine(display hwc.DisplayID, pipes *pipe.Registry, rots *rotator.Pool, conf *configurator.Configurator) *Machine {
	return &Machine{
		display: display,
		pipes:   pipes,
		rots:    rots,
		conf:    conf,
		key:     Target{}.Key(),
	}
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Key returns the graph key of the current state.
func (m *Machine) Key() Key {
	return m.key
}

// Transitions returns how many times the graph was rebuilt or closed.
func (m *Machine) Transitions() int {
	return m.transitions
}

// Roles returns the built roles in recipe order.
func (m *Machine) Roles() []*Role {
	return append([]*Role(nil), m.roles...)
}

// UsesExternal reports whether any role feeds the external mixer.
func (m *Machine) UsesExternal() bool {
	for _, r := range m.roles {
		if r.Spec.Placement == OnExternal {
			return true
		}
	}
	return false
}

// Transition moves the machine to t.
//
// A target with the current key keeps the graph and only refreshes the
// bindings' layer indices and z-order. Any other target tears the graph
// down, releasing every pipe and rotator session, then builds t's recipe.
// When the hardware runs out the partial graph is released and the error
// wraps ErrCapacity.
func (m *Machine) Transition(t Target) error {
	rec, ok := RecipeFor(t.State)
	if !ok {
		return fmt.Errorf("%w: unknown state %s", ErrInvalidTarget, t.State)
	}
	if len(t.Bindings) != rec.Slots {
		return fmt.Errorf("%w: %s takes %d bindings, got %d", ErrInvalidTarget, t.State, rec.Slots, len(t.Bindings))
	}

	key := t.Key()
	if key == m.key {
		for _, r := range m.roles {
			if r.Spec.Slot >= 0 {
				r.Binding = t.Bindings[r.Spec.Slot]
			}
		}
		return nil
	}

	from := m.state
	m.teardown()
	m.transitions++
	if err := m.build(rec, t.Bindings); err != nil {
		m.teardown()
		hwc.Logger().Warn("overlay: build failed",
			"display", m.display.String(), "from", from.String(), "to", t.State.String(), "err", err)
		return fmt.Errorf("%w: %s: %w", ErrCapacity, t.State, err)
	}
	m.state = t.State
	m.key = key

	hwc.Logger().Info("overlay: transition",
		"display", m.display.String(), "from", from.String(), "to", t.State.String(), "roles", len(m.roles))
	return nil
}

// Close moves the machine to CLOSED at once, releasing every handle.
// Pipes on screen drain until the display's next release fence, or are
// dropped by the caller when the display is gone.
func (m *Machine) Close() {
	if m.state.IsClosed() && len(m.roles) == 0 {
		return
	}
	from := m.state
	m.teardown()
	m.transitions++
	hwc.Logger().Info("overlay: closed", "display", m.display.String(), "from", from.String())
}

func (m *Machine) build(rec Recipe, bindings []Binding) error {
	sessions := make(map[int]*rotator.Session)
	for _, spec := range rec.Roles {
		r := &Role{Spec: spec}
		m.roles = append(m.roles, r)
		if spec.Slot >= 0 {
			r.Binding = bindings[spec.Slot]
		}

		hint := spec.Hint
		if hint == pipe.TypeAny {
			hint = r.Binding.Hint
		}
		req := pipe.Request{
			Display: m.display,
			Hint:    hint,
			Need:    spec.Need | r.Binding.Need,
			Owner:   fmt.Sprintf("%s/%s", rec.State, spec.Name),
		}

		var err error
		switch spec.Placement {
		case OnExternal:
			req.Mixer = pipe.MixerExternal
			r.Left, err = m.pipes.Acquire(req)
		default:
			left, right := r.Binding.Left, r.Binding.Right
			if spec.Slot == SlotTarget || !right {
				left = true
			}
			if left {
				req.Mixer = pipe.MixerFor(m.display)
				if r.Left, err = m.pipes.Acquire(req); err != nil {
					return err
				}
			}
			if right {
				req.Mixer = pipe.MixerRight
				r.Right, err = m.pipes.Acquire(req)
			}
		}
		if err != nil {
			return err
		}

		if spec.Slot >= 0 && r.Binding.Rotator {
			s := sessions[spec.Slot]
			if s == nil {
				if s, err = m.rots.Acquire(m.display, req.Owner); err != nil {
					return err
				}
				sessions[spec.Slot] = s
			}
			r.Rotator = s
		}
	}
	return nil
}

// teardown unsets and releases every handle and leaves the machine CLOSED.
func (m *Machine) teardown() {
	for _, r := range m.roles {
		for _, p := range r.Pipes() {
			if m.conf != nil {
				if err := m.conf.Unset(context.Background(), p); err != nil {
					hwc.Logger().Warn("overlay: unset failed", "display", m.display.String(), "pipe", p.String(), "err", err)
				}
			}
			m.pipes.Release(p)
		}
		m.rots.Release(r.Rotator)
	}
	m.roles = nil
	m.state = State{}
	m.key = Target{}.Key()
}
