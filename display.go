package hwc

import (
	"fmt"
	"image"
	"time"
)

// DisplayID identifies a display.
type DisplayID uint8

const (
	// Primary is the built-in panel.
	Primary DisplayID = iota

	// External is the hot-pluggable external display (TV).
	External

	// Virtual is a writeback display.
	Virtual

	// NumDisplays is the number of display slots.
	NumDisplays
)

// String returns the display name.
func (d DisplayID) String() string {
	switch d {
	case Primary:
		return "primary"
	case External:
		return "external"
	case Virtual:
		return "virtual"
	default:
		return fmt.Sprintf("display(%d)", uint8(d))
	}
}

// DisplayAttributes describe a connected display's geometry.
type DisplayAttributes struct {
	// Width and Height are the active resolution in pixels.
	Width, Height int

	// SplitX is the x coordinate where a wide panel is divided between a
	// left and a right mixer. Zero means a single mixer drives the display.
	SplitX int

	// VsyncPeriod is the refresh period.
	VsyncPeriod time.Duration
}

// Bounds returns the display rectangle.
func (a DisplayAttributes) Bounds() image.Rectangle {
	return image.Rect(0, 0, a.Width, a.Height)
}

// IsSplit reports whether two mixers drive the display.
func (a DisplayAttributes) IsSplit() bool {
	return a.SplitX > 0 && a.SplitX < a.Width
}

// LeftBounds returns the region driven by the left (or only) mixer.
func (a DisplayAttributes) LeftBounds() image.Rectangle {
	if !a.IsSplit() {
		return a.Bounds()
	}
	return image.Rect(0, 0, a.SplitX, a.Height)
}

// RightBounds returns the region driven by the right mixer, or an empty
// rectangle when the display is not split.
func (a DisplayAttributes) RightBounds() image.Rectangle {
	if !a.IsSplit() {
		return image.Rectangle{}
	}
	return image.Rect(a.SplitX, 0, a.Width, a.Height)
}

// Validate reports malformed attributes.
func (a DisplayAttributes) Validate() error {
	if a.Width <= 0 || a.Height <= 0 {
		return fmt.Errorf("hwc: invalid display size %dx%d", a.Width, a.Height)
	}
	if a.SplitX != 0 && (a.SplitX < 0 || a.SplitX >= a.Width) {
		return fmt.Errorf("hwc: split %d outside display width %d", a.SplitX, a.Width)
	}
	return nil
}

// HotplugProvider reports the connection state of displays. It is polled at
// the start of every frame.
type HotplugProvider interface {
	Connected(id DisplayID) bool
}

// ColorAdjust holds picture adjustments carried in buffer metadata.
// Zero values mean "no adjustment".
type ColorAdjust struct {
	Hue        int
	Saturation int
	Contrast   int
	Intensity  int
}

// IsZero reports whether no adjustment is requested.
func (c ColorAdjust) IsZero() bool {
	return c == ColorAdjust{}
}

// Metadata is side-channel information attached to a buffer that affects how
// it must be scanned out.
type Metadata struct {
	// Interlaced content needs a deinterlacing pipe.
	Interlaced bool

	// Color holds picture adjustments; non-zero values need a pipe with
	// post-processing.
	Color ColorAdjust
}

// MetadataProvider reads buffer metadata.
type MetadataProvider interface {
	Metadata(b *Buffer) Metadata
}

// NoMetadata is a MetadataProvider that reports empty metadata for every buffer.
type NoMetadata struct{}

// Metadata implements MetadataProvider.
func (NoMetadata) Metadata(*Buffer) Metadata { return Metadata{} }
