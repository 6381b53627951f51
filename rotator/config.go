package rotator

import (
	"fmt"
	"image"

	"golang.org/x/image/math/fixed"

	"github.com/gogpu/hwc"
)

// MaxDecimation is the largest power-of-two downscale a rotator performs.
const MaxDecimation = 8

// Config is one rotator programming record.
type Config struct {
	// Format is the source format; the output keeps it.
	Format hwc.PixelFormat

	// SrcWidth and SrcHeight are the source buffer dimensions.
	SrcWidth, SrcHeight int

	// Crop is the region rotated, in source pixels.
	Crop image.Rectangle

	// Rotate requests a 90° clockwise rotation.
	Rotate bool

	// Decimation is the power-of-two downscale factor; 0 means 1.
	Decimation int

	// Secure rotates protected content into protected scratch memory.
	Secure bool
}

// Validate reports configurations the rotator cannot execute.
func (c Config) Validate() error {
	if c.SrcWidth <= 0 || c.SrcHeight <= 0 {
		return fmt.Errorf("%w: source %dx%d", ErrInvalidConfig, c.SrcWidth, c.SrcHeight)
	}
	if c.Crop.Empty() || !c.Crop.In(image.Rect(0, 0, c.SrcWidth, c.SrcHeight)) {
		return fmt.Errorf("%w: crop %v outside %dx%d", ErrInvalidConfig, c.Crop, c.SrcWidth, c.SrcHeight)
	}
	d := c.decimation()
	if d > MaxDecimation || d&(d-1) != 0 {
		return fmt.Errorf("%w: decimation %d", ErrInvalidConfig, d)
	}
	if w, h := c.OutputSize(); w <= 0 || h <= 0 {
		return fmt.Errorf("%w: crop %v decimated by %d is empty", ErrInvalidConfig, c.Crop, d)
	}
	return nil
}

func (c Config) decimation() int {
	if c.Decimation <= 0 {
		return 1
	}
	return c.Decimation
}

// OutputSize returns the dimensions of the rotated buffer. YUV outputs are
// rounded down to even dimensions.
func (c Config) OutputSize() (w, h int) {
	d := c.decimation()
	w, h = c.Crop.Dx()/d, c.Crop.Dy()/d
	if c.Format.IsYUV() {
		w &^= 1
		h &^= 1
	}
	if c.Rotate {
		w, h = h, w
	}
	return w, h
}

// ScratchSize returns the bytes one output slot needs.
func (c Config) ScratchSize() int {
	w, h := c.OutputSize()
	return w * h * c.Format.BitsPerPixel() / 8
}

// DecimationFor returns the smallest power-of-two decimation that brings a
// downscale ratio within what a pipe can do. It reports false when even
// MaxDecimation is not enough.
func DecimationFor(ratio, pipeMax fixed.Int52_12) (int, bool) {
	if pipeMax <= 0 {
		return 0, false
	}
	for d := 1; d <= MaxDecimation; d *= 2 {
		if ratio <= pipeMax*fixed.Int52_12(d) {
			return d, true
		}
	}
	return 0, false
}
