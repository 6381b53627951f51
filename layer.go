package hwc

import (
	"image"

	"github.com/gogpu/hwc/fence"
)

// Tag is the per-layer composition decision: which engine renders the layer.
type Tag uint8

const (
	// TagNone is the zero value. A planned layer never carries it.
	TagNone Tag = iota

	// TagFramebuffer sends the layer to the GPU, which draws it into the
	// framebuffer target.
	TagFramebuffer

	// TagPipe scans the layer out directly through a hardware pipe.
	TagPipe

	// TagBlit draws the layer with the 2D blit engine.
	TagBlit

	// TagTarget marks the framebuffer target layer itself.
	TagTarget
)

// String returns the tag name.
func (t Tag) String() string {
	switch t {
	case TagNone:
		return "none"
	case TagFramebuffer:
		return "framebuffer"
	case TagPipe:
		return "pipe"
	case TagBlit:
		return "blit"
	case TagTarget:
		return "target"
	default:
		return "unknown"
	}
}

// Flags carry per-layer hints from the caller.
type Flags uint8

const (
	// FlagSkip marks a layer the planner must not look into; its presence
	// forces the whole display onto the GPU.
	FlagSkip Flags = 1 << iota

	// FlagCursor marks a cursor layer.
	FlagCursor

	// FlagFramebufferTarget marks the layer the GPU renders into.
	FlagFramebufferTarget

	// FlagNoGPURedraw marks content the GPU should not redraw (video,
	// protected content). Such layers win contested pipes.
	FlagNoGPURedraw
)

// Has reports whether every bit of other is set in f.
func (f Flags) Has(other Flags) bool {
	return f&other == other
}

// Buffer describes the memory a layer reads from.
type Buffer struct {
	// ID identifies the buffer across frames.
	ID uint64

	// Width and Height are the allocated dimensions in pixels.
	Width, Height int

	// Format is the pixel layout.
	Format PixelFormat

	// Secure marks protected content that only secure paths may read.
	Secure bool
}

// Bounds returns the full buffer rectangle.
func (b *Buffer) Bounds() image.Rectangle {
	return image.Rect(0, 0, b.Width, b.Height)
}

// Layer is one visual layer of a frame.
//
// Layers are created by the caller every frame. The planner writes Tag, the
// frame-sync step writes Release; everything else is read-only input.
type Layer struct {
	// Buffer is the source buffer. Layers without a buffer stay on the GPU.
	Buffer *Buffer

	// Crop is the region of Buffer that is displayed, in buffer pixels.
	Crop image.Rectangle

	// Dest is where the cropped source lands on the display.
	Dest image.Rectangle

	// Transform orients the source.
	Transform Transform

	// Blend is the blend mode onto the layers below.
	Blend Blend

	// Alpha is the plane alpha; 255 is fully opaque.
	Alpha uint8

	// Damage lists the changed regions in display coordinates.
	// An empty list means the whole Dest changed.
	Damage []image.Rectangle

	// Flags carry caller hints.
	Flags Flags

	// Acquire signals when the producer finished writing Buffer.
	// The frame-sync step consumes it.
	Acquire *fence.Fence

	// Release is filled by the frame-sync step: it signals when the hardware
	// no longer reads Buffer. The caller owns it afterwards.
	Release *fence.Fence

	// Tag is the composition decision for this frame.
	Tag Tag
}

// IsYUV reports whether the layer carries YUV content.
func (l *Layer) IsYUV() bool {
	return l.Buffer != nil && l.Buffer.Format.IsYUV()
}

// IsSecure reports whether the layer shows protected content.
func (l *Layer) IsSecure() bool {
	return l.Buffer != nil && l.Buffer.Secure
}

// IsTarget reports whether the layer is the framebuffer target.
func (l *Layer) IsTarget() bool {
	return l.Flags.Has(FlagFramebufferTarget)
}

// MustNotRedraw reports whether the GPU should avoid redrawing the layer.
func (l *Layer) MustNotRedraw() bool {
	return l.Flags.Has(FlagNoGPURedraw) || l.IsSecure()
}

// IsOpaque reports whether the layer fully covers what is below it.
func (l *Layer) IsOpaque() bool {
	if l.Alpha != 255 {
		return false
	}
	if l.Blend == BlendNone {
		return true
	}
	return l.Buffer != nil && !l.Buffer.Format.HasAlpha()
}

// IsScaled reports whether the source size differs from the destination,
// accounting for a 90° transform.
func (l *Layer) IsScaled() bool {
	cw, ch := l.Crop.Dx(), l.Crop.Dy()
	if l.Transform.Swaps() {
		cw, ch = ch, cw
	}
	return cw != l.Dest.Dx() || ch != l.Dest.Dy()
}

// DamageBounds returns the union of the layer's damage, or Dest when no
// damage was reported.
func (l *Layer) DamageBounds() image.Rectangle {
	if len(l.Damage) == 0 {
		return l.Dest
	}
	var u image.Rectangle
	for _, r := range l.Damage {
		u = u.Union(r)
	}
	return u
}

// Area returns the number of pixels in r, or 0 for an empty rectangle.
func Area(r image.Rectangle) int {
	if r.Empty() {
		return 0
	}
	return r.Dx() * r.Dy()
}
