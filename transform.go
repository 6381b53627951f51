package hwc

import (
	"fmt"
	"strings"
)

// Transform is the orientation applied to a layer's source before it is
// placed in its destination rectangle. Flips are applied first, then the
// 90° clockwise rotation.
type Transform uint8

const (
	// FlipH mirrors the source horizontally.
	FlipH Transform = 1 << iota

	// FlipV mirrors the source vertically.
	FlipV

	// Rot90 rotates the source 90° clockwise.
	Rot90
)

// Composite transforms.
const (
	TransformNone Transform = 0
	Rot180                  = FlipH | FlipV
	Rot270                  = FlipH | FlipV | Rot90
)

// Has reports whether every bit of other is set in t.
func (t Transform) Has(other Transform) bool {
	return t&other == other
}

// Swaps reports whether t exchanges width and height.
func (t Transform) Swaps() bool {
	return t.Has(Rot90)
}

// SplitRotation separates t into the 90° component a rotator performs and
// the residual flips a pipe performs on the rotated output.
//
// t is defined as flips-then-rotate. A rotator that rotates first needs the
// flips re-expressed in the rotated frame, where horizontal and vertical
// exchange places.
func (t Transform) SplitRotation() (rot, residual Transform) {
	if !t.Swaps() {
		return TransformNone, t
	}
	if t.Has(FlipH) {
		residual |= FlipV
	}
	if t.Has(FlipV) {
		residual |= FlipH
	}
	return Rot90, residual
}

// String returns a readable name such as "rot90|flipH".
func (t Transform) String() string {
	switch t {
	case TransformNone:
		return "none"
	case Rot180:
		return "rot180"
	case Rot270:
		return "rot270"
	}
	var parts []string
	if t.Has(Rot90) {
		parts = append(parts, "rot90")
	}
	if t.Has(FlipH) {
		parts = append(parts, "flipH")
	}
	if t.Has(FlipV) {
		parts = append(parts, "flipV")
	}
	return strings.Join(parts, "|")
}

// ParseTransform parses the names String returns, and "|"-joined
// combinations of rot90, flipH and flipV. Case is ignored.
func ParseTransform(s string) (Transform, error) {
	var t Transform
	for _, part := range strings.Split(s, "|") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "none", "":
		case "rot90":
			t |= Rot90
		case "rot180":
			t |= Rot180
		case "rot270":
			t |= Rot270
		case "fliph":
			t |= FlipH
		case "flipv":
			t |= FlipV
		default:
			return 0, fmt.Errorf("hwc: unknown transform %q", part)
		}
	}
	return t, nil
}
