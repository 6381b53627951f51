package hwc

import (
	"fmt"

	"github.com/gogpu/gputypes"
)

// Blend is how a layer is blended onto the layers below it.
type Blend uint8

const (
	// BlendNone ignores source alpha: the layer is opaque.
	BlendNone Blend = iota

	// BlendPremultiplied blends with color already multiplied by alpha.
	BlendPremultiplied

	// BlendCoverage blends straight (non-premultiplied) alpha.
	BlendCoverage
)

// String returns the blend mode name.
func (b Blend) String() string {
	switch b {
	case BlendNone:
		return "none"
	case BlendPremultiplied:
		return "premultiplied"
	case BlendCoverage:
		return "coverage"
	default:
		return "unknown"
	}
}

// ParseBlend parses "none", "premultiplied" or "coverage".
func ParseBlend(s string) (Blend, error) {
	for b := BlendNone; b <= BlendCoverage; b++ {
		if b.String() == s {
			return b, nil
		}
	}
	return BlendNone, fmt.Errorf("hwc: unknown blend mode %q", s)
}

// State returns the equivalent GPU blend state. Mixer stages are programmed
// with the same factors the GPU path would use, so a layer looks identical
// whichever engine composes it.
func (b Blend) State() gputypes.BlendState {
	switch b {
	case BlendPremultiplied:
		return gputypes.BlendStatePremultiplied()
	case BlendCoverage:
		return gputypes.BlendStateAlpha()
	default:
		return gputypes.BlendStateReplace()
	}
}
