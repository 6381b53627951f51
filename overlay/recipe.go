// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package overlay

import (
	"fmt"

	"github.com/gogpu/hwc/pipe"
)

// Slot values with a special meaning.
const (
	// SlotTarget feeds a role from the framebuffer target.
	SlotTarget = -1

	// slotEach expands a role once per binding.
	slotEach = -2
)

// Placement selects the mixer a role's pipes feed.
type Placement uint8

const (
	// OnPanel feeds the display's own mixer, both halves of a split panel
	// when the binding covers them.
	OnPanel Placement = iota

	// OnExternal feeds the external display's mixer.
	OnExternal
)

func (p Placement) String() string {
	if p == OnExternal {
		return "external"
	}
	return "panel"
}

// RoleSpec is one named role of a recipe.
type RoleSpec struct {
	Name string

	// Slot is the binding that drives the role, or SlotTarget.
	Slot int

	Placement Placement

	// Hint overrides the binding's preferred type unless TypeAny.
	Hint pipe.Type

	// Need is added to the binding's capabilities.
	Need pipe.Caps
}

// Recipe describes the graph of one state.
type Recipe struct {
	State State

	// Slots is the number of bindings a target of this state carries.
	Slots int

	Roles []RoleSpec
}

// recipes is the table every transition is driven from. Bypass recipes are
// templates expanded by RecipeFor.
var recipes = map[Kind]Recipe{
	Closed: {},
	SinglePipeOnPanel: {
		Slots: 1,
		Roles: []RoleSpec{
			{Name: "video", Slot: 0, Placement: OnPanel, Hint: pipe.TypeVG, Need: pipe.CapYUV},
		},
	},
	SinglePipeOnPanelAndTV: {
		Slots: 1,
		Roles: []RoleSpec{
			{Name: "video", Slot: 0, Placement: OnPanel, Hint: pipe.TypeVG, Need: pipe.CapYUV},
			{Name: "tv", Slot: 0, Placement: OnExternal, Hint: pipe.TypeVG, Need: pipe.CapYUV | pipe.CapScale},
		},
	},
	UIMirror: {
		Roles: []RoleSpec{
			{Name: "mirror", Slot: SlotTarget, Placement: OnExternal, Hint: pipe.TypeRGB, Need: pipe.CapScale},
		},
	},
	Bypass: {
		Roles: []RoleSpec{
			{Name: "layer", Slot: slotEach, Placement: OnPanel},
		},
	},
}

// RecipeFor returns the expanded recipe of s.
func RecipeFor(s State) (Recipe, bool) {
	if !s.Valid() {
		return Recipe{}, false
	}
	tmpl := recipes[s.Kind]
	r := Recipe{State: s, Slots: tmpl.Slots}
	for _, spec := range tmpl.Roles {
		if spec.Slot != slotEach {
			r.Roles = append(r.Roles, spec)
			continue
		}
		for i := range s.Layers {
			each := spec
			each.Name = fmt.Sprintf("%s%d", spec.Name, i)
			each.Slot = i
			r.Roles = append(r.Roles, each)
		}
	}
	if s.Kind == Bypass {
		r.Slots = s.Layers
	}
	return r, true
}
