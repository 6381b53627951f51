package pipe

import (
	"fmt"
	"image"
	"strings"

	"github.com/gogpu/gputypes"
	"golang.org/x/image/math/fixed"

	"github.com/gogpu/hwc"
	"github.com/gogpu/hwc/fence"
)

// Type is a pipe type.
type Type uint8

const (
	// TypeAny is a request hint meaning "no preference". No pipe has it.
	TypeAny Type = iota

	// TypeDMA fetches RGB without scaling.
	TypeDMA

	// TypeRGB fetches RGB and scales.
	TypeRGB

	// TypeVG fetches RGB or YUV, scales and post-processes.
	TypeVG
)

// String returns the type name.
func (t Type) String() string {
	switch t {
	case TypeAny:
		return "any"
	case TypeDMA:
		return "DMA"
	case TypeRGB:
		return "RGB"
	case TypeVG:
		return "VG"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// Caps returns the capabilities of pipes of type t.
func (t Type) Caps() Caps {
	switch t {
	case TypeRGB:
		return CapScale
	case TypeVG:
		return CapYUV | CapScale | CapPostProcess
	default:
		return 0
	}
}

// ParseType parses a type name as written in configuration files.
func ParseType(s string) (Type, error) {
	switch s {
	case "DMA", "dma":
		return TypeDMA, nil
	case "RGB", "rgb":
		return TypeRGB, nil
	case "VG", "vg":
		return TypeVG, nil
	default:
		return TypeAny, fmt.Errorf("pipe: unknown pipe type %q", s)
	}
}

// Caps is a set of pipe capabilities.
type Caps uint8

const (
	// CapYUV fetches YUV buffers.
	CapYUV Caps = 1 << iota

	// CapScale scales between source and destination sizes.
	CapScale

	// CapPostProcess deinterlaces and applies color adjustments.
	CapPostProcess
)

// Has reports whether every capability in need is present.
func (c Caps) Has(need Caps) bool {
	return c&need == need
}

// String returns the capabilities joined by "|", or "none".
func (c Caps) String() string {
	var names []string
	if c.Has(CapYUV) {
		names = append(names, "yuv")
	}
	if c.Has(CapScale) {
		names = append(names, "scale")
	}
	if c.Has(CapPostProcess) {
		names = append(names, "pp")
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

func (c Caps) count() int {
	n := 0
	for v := c; v != 0; v &= v - 1 {
		n++
	}
	return n
}

// Mixer identifies a hardware compositing stage.
type Mixer uint8

const (
	// MixerLeft drives the primary panel, or its left half when split.
	MixerLeft Mixer = iota

	// MixerRight drives the right half of a split primary panel.
	MixerRight

	// MixerExternal drives the external display.
	MixerExternal

	// MixerWriteback drives the virtual (writeback) display.
	MixerWriteback

	// NumMixers is the number of mixers.
	NumMixers
)

// String returns the mixer name.
func (m Mixer) String() string {
	switch m {
	case MixerLeft:
		return "left"
	case MixerRight:
		return "right"
	case MixerExternal:
		return "external"
	case MixerWriteback:
		return "writeback"
	default:
		return fmt.Sprintf("Mixer(%d)", uint8(m))
	}
}

// MixerFor returns the first mixer driving display id.
func MixerFor(id hwc.DisplayID) Mixer {
	switch id {
	case hwc.External:
		return MixerExternal
	case hwc.Virtual:
		return MixerWriteback
	default:
		return MixerLeft
	}
}

// State is a pipe's allocation state.
type State uint8

const (
	// StateFree pipes can be acquired.
	StateFree State = iota

	// StateReserved pipes were acquired this round and are not yet on screen.
	StateReserved

	// StateActive pipes were committed and are being scanned out.
	StateActive

	// StateDraining pipes were released while on screen and wait for a
	// later frame's release fence.
	StateDraining
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateReserved:
		return "reserved"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// Flags are per-configuration pipe options.
type Flags uint8

const (
	// FlagDeinterlace enables the deinterlacer. VG only.
	FlagDeinterlace Flags = 1 << iota

	// FlagColorAdjust enables the post-processing color block. VG only.
	FlagColorAdjust

	// FlagSecure fetches from protected memory.
	FlagSecure

	// FlagRotated marks a source that is a rotator output.
	FlagRotated
)

// Has reports whether every bit of other is set in f.
func (f Flags) Has(other Flags) bool {
	return f&other == other
}

// Config is one pipe programming record.
type Config struct {
	// Format is the source pixel format.
	Format hwc.PixelFormat

	// SrcWidth and SrcHeight are the source buffer dimensions.
	SrcWidth, SrcHeight int

	// Crop is the fetched region of the source, in source pixels.
	Crop image.Rectangle

	// Dest is the output rectangle relative to the mixer origin.
	Dest image.Rectangle

	// ZOrder is the mixer stage; 0 is the bottom.
	ZOrder int

	// Flip holds the residual flips. Pipes never rotate.
	Flip hwc.Transform

	// Blend and Alpha control the mixer stage.
	Blend hwc.Blend
	Alpha uint8

	// Equation is the stage's blend equation, the one the GPU path uses
	// for Blend.
	Equation gputypes.BlendState

	// ScaleX and ScaleY are source/destination ratios (1.0 = unscaled,
	// greater than 1 downscales).
	ScaleX, ScaleY fixed.Int52_12

	// Flags are optional features.
	Flags Flags

	// Color is applied when FlagColorAdjust is set.
	Color hwc.ColorAdjust
}

// Pipe is one hardware composition channel.
//
// Identity (ID, Type) is fixed. Allocation state is owned by the Registry;
// the configuration is written by the current owner only.
type Pipe struct {
	// ID is the hardware pipe index.
	ID int

	// Type is the pipe type.
	Type Type

	state   State
	display hwc.DisplayID
	mixer   Mixer
	owner   string
	config  Config
	last    *fence.Fence
}

// Caps returns the pipe's capabilities.
func (p *Pipe) Caps() Caps {
	return p.Type.Caps()
}

// State returns the allocation state.
func (p *Pipe) State() State {
	return p.state
}

// Mixer returns the mixer the pipe is attached to.
func (p *Pipe) Mixer() Mixer {
	return p.mixer
}

// Display returns the display owning the pipe.
func (p *Pipe) Display() hwc.DisplayID {
	return p.display
}

// Owner returns the owner name given at acquisition.
func (p *Pipe) Owner() string {
	return p.owner
}

// Config returns the last programmed configuration.
func (p *Pipe) Config() Config {
	return p.config
}

// SetConfig records the configuration programmed into the hardware.
func (p *Pipe) SetConfig(c Config) {
	p.config = c
}

// ZOrder returns the programmed mixer stage.
func (p *Pipe) ZOrder() int {
	return p.config.ZOrder
}

// LastRelease returns the release fence of the last frame that scanned the
// pipe out. The registry keeps ownership; callers Dup it to keep it.
func (p *Pipe) LastRelease() *fence.Fence {
	return p.last
}

// String describes the pipe for logs.
func (p *Pipe) String() string {
	return fmt.Sprintf("pipe%d(%s/%s)", p.ID, p.Type, p.mixer)
}
