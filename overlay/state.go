// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package overlay

import (
	"fmt"
	"strings"

	"github.com/gogpu/hwc/pipe"
)

// Kind is the composition mode of a display.
type Kind uint8

const (
	// Closed uses no overlay pipes; the GPU composes every layer.
	Closed Kind = iota

	// SinglePipeOnPanel shows one video layer on a pipe of the panel.
	SinglePipeOnPanel

	// SinglePipeOnPanelAndTV shows one video layer on the panel and, full
	// screen, on the external display.
	SinglePipeOnPanelAndTV

	// UIMirror mirrors the panel's framebuffer target onto the external
	// display.
	UIMirror

	// Bypass puts up to MaxBypassLayers layers directly on pipes.
	Bypass
)

// MaxBypassLayers is the largest layer count of a bypass state.
const MaxBypassLayers = 3

// String returns the state kind name.
func (k Kind) String() string {
	switch k {
	case Closed:
		return "CLOSED"
	case SinglePipeOnPanel:
		return "SINGLE_PIPE_ON_PANEL"
	case SinglePipeOnPanelAndTV:
		return "SINGLE_PIPE_ON_PANEL_AND_TV"
	case UIMirror:
		return "UI_MIRROR"
	case Bypass:
		return "N_LAYER_BYPASS"
	default:
		return "UNKNOWN"
	}
}

// State is one overlay state. Layers is only meaningful for Bypass.
type State struct {
	Kind   Kind
	Layers int
}

// BypassOf returns the bypass state for n layers.
func BypassOf(n int) State {
	return State{Kind: Bypass, Layers: n}
}

// Valid reports whether s names a state with a recipe.
func (s State) Valid() bool {
	if s.Kind == Bypass {
		return s.Layers >= 1 && s.Layers <= MaxBypassLayers
	}
	return s.Kind <= UIMirror && s.Layers == 0
}

// IsClosed reports whether s uses no overlay hardware.
func (s State) IsClosed() bool {
	return s.Kind == Closed
}

func (s State) String() string {
	if s.Kind == Bypass {
		return fmt.Sprintf("%s(%d)", s.Kind, s.Layers)
	}
	return s.Kind.String()
}

// States returns every valid state.
func States() []State {
	states := []State{{Kind: Closed}, {Kind: SinglePipeOnPanel}, {Kind: SinglePipeOnPanelAndTV}, {Kind: UIMirror}}
	for n := 1; n <= MaxBypassLayers; n++ {
		states = append(states, BypassOf(n))
	}
	return states
}

// Binding describes the hardware one layer needs in a state.
type Binding struct {
	// Layer is the index of the layer in the frame's list.
	Layer int

	// Need lists capabilities every pipe of the layer must have.
	Need pipe.Caps

	// Hint is the preferred pipe type.
	Hint pipe.Type

	// Left and Right select the mixers of a split panel the layer covers.
	// On a panel without a split only Left is used.
	Left, Right bool

	// Rotator requests a rotator session in front of the pipes.
	Rotator bool

	// ZOrder is the mixer stage of the layer.
	ZOrder int
}

// signature covers the fields that decide which hardware is bound. Layer
// and ZOrder change without a rebuild.
func (b Binding) signature() string {
	return fmt.Sprintf("%03b:%s:%t:%t:%t", b.Need, b.Hint, b.Left, b.Right, b.Rotator)
}

// Key identifies a pipe graph. Two targets with the same key share one.
type Key string

// Target is the state and bindings a frame wants.
type Target struct {
	State    State
	Bindings []Binding
}

// Key returns the graph key of t.
func (t Target) Key() Key {
	if t.State.IsClosed() {
		return Key(t.State.String())
	}
	parts := make([]string, len(t.Bindings))
	for i, b := range t.Bindings {
		parts[i] = b.signature()
	}
	return Key(t.State.String() + "[" + strings.Join(parts, ",") + "]")
}
