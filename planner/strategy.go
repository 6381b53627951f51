package planner

import (
	"fmt"

	"github.com/gogpu/hwc"
)

// Strategy is the composition approach of one frame.
type Strategy int

const (
	// StrategyGPU composes every application layer on the GPU.
	StrategyGPU Strategy = iota

	// StrategyOverlay puts the layers that fit on hardware pipes and the
	// rest on the GPU.
	StrategyOverlay

	// StrategyBlit uses the 2D blit engine where it is cheaper than a GPU
	// redraw. Selected on hardware without overlay pipes.
	StrategyBlit
)

// String returns the strategy name.
func (s Strategy) String() string {
	switch s {
	case StrategyGPU:
		return "GPU"
	case StrategyOverlay:
		return "Overlay"
	case StrategyBlit:
		return "Blit"
	default:
		return "Unknown"
	}
}

// Reason explains a GPU fallback.
type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonNoLayers
	ReasonFirstFrame
	ReasonDisplayFailed
	ReasonSkipLayer
	ReasonTooManyLayers
	ReasonNoOverlay
	ReasonNoFit
	ReasonPadding
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonNoLayers:
		return "no layers"
	case ReasonFirstFrame:
		return "first frame"
	case ReasonDisplayFailed:
		return "display failed"
	case ReasonSkipLayer:
		return "skip layer"
	case ReasonTooManyLayers:
		return "too many layers"
	case ReasonNoOverlay:
		return "no overlay support"
	case ReasonNoFit:
		return "no layer fits"
	case ReasonPadding:
		return "padding round"
	default:
		return fmt.Sprintf("Reason(%d)", uint8(r))
	}
}

// BlitMode controls blit substitution on hardware without overlay pipes.
type BlitMode uint8

const (
	// BlitOff never uses the blit engine.
	BlitOff BlitMode = iota

	// BlitDynamic blits video always and other layers when the rendered
	// area is small against the display.
	BlitDynamic

	// BlitAlways blits every application layer.
	BlitAlways
)

func (m BlitMode) String() string {
	switch m {
	case BlitOff:
		return "off"
	case BlitDynamic:
		return "dynamic"
	case BlitAlways:
		return "always"
	default:
		return "unknown"
	}
}

// ParseBlitMode parses "off", "dynamic" or "always".
func ParseBlitMode(s string) (BlitMode, error) {
	switch s {
	case "off", "":
		return BlitOff, nil
	case "dynamic":
		return BlitDynamic, nil
	case "always":
		return BlitAlways, nil
	default:
		return BlitOff, fmt.Errorf("planner: unknown blit mode %q", s)
	}
}

// Conditions are the per-display facts strategy selection reads besides
// the layer list.
type Conditions struct {
	FirstFrame bool // no frame planned since connect or reset
	Failed     bool // the display is marked failed
}

// SelectStrategy chooses the composition strategy of a frame.
//
// Heuristics:
//   - Nothing to compose, the first frame after connect, or a failed
//     display: GPU (no cached state to build a pipe graph from)
//   - Any skip layer: GPU (its content is only known to the GPU)
//   - No overlay hardware: Blit when enabled, else GPU
//   - More application layers than MaxAppLayers: GPU
//   - Otherwise: Overlay
func SelectStrategy(stats hwc.ListStats, cond Conditions, p Policy) (Strategy, Reason) {
	switch {
	case stats.NumAppLayers == 0:
		return StrategyGPU, ReasonNoLayers
	case cond.Failed:
		return StrategyGPU, ReasonDisplayFailed
	case cond.FirstFrame:
		return StrategyGPU, ReasonFirstFrame
	case stats.SkipCount > 0:
		return StrategyGPU, ReasonSkipLayer
	}

	if !p.Overlay {
		if p.Blit != BlitOff {
			return StrategyBlit, ReasonNoOverlay
		}
		return StrategyGPU, ReasonNoOverlay
	}

	if stats.NumAppLayers > p.MaxAppLayers {
		return StrategyGPU, ReasonTooManyLayers
	}
	return StrategyOverlay, ReasonNone
}
