package hwc

import (
	"fmt"
	"strings"

	"github.com/gogpu/gputypes"
)

// PixelFormat identifies the memory layout of a layer buffer.
//
// RGB formats map onto [gputypes.TextureFormat] so the framebuffer target can
// be shared with the GPU path. YUV formats have no WebGPU equivalent; they
// can only be scanned out by video-capable pipes or converted by the GPU.
type PixelFormat uint16

const (
	// FormatUnknown is an unrecognized format. Layers with it stay on the GPU.
	FormatUnknown PixelFormat = iota

	// FormatRGBA8888 is 8-bit RGBA.
	FormatRGBA8888

	// FormatRGBX8888 is 8-bit RGB with an ignored alpha byte.
	FormatRGBX8888

	// FormatBGRA8888 is 8-bit BGRA.
	FormatBGRA8888

	// FormatRGB565 is packed 16-bit RGB.
	FormatRGB565

	// FormatRGBA1010102 is packed 10-bit RGB with 2-bit alpha.
	FormatRGBA1010102

	// FormatNV12 is 4:2:0 YUV, Y plane then interleaved CbCr.
	FormatNV12

	// FormatNV21 is 4:2:0 YUV, Y plane then interleaved CrCb.
	FormatNV21

	// FormatYV12 is 4:2:0 YUV with three planes (Y, Cr, Cb).
	FormatYV12

	// FormatNV16 is 4:2:2 YUV, Y plane then interleaved CbCr.
	FormatNV16

	// FormatYUYV is packed 4:2:2 YUV.
	FormatYUYV
)

var formatNames = map[PixelFormat]string{
	FormatUnknown:     "unknown",
	FormatRGBA8888:    "RGBA8888",
	FormatRGBX8888:    "RGBX8888",
	FormatBGRA8888:    "BGRA8888",
	FormatRGB565:      "RGB565",
	FormatRGBA1010102: "RGBA1010102",
	FormatNV12:        "NV12",
	FormatNV21:        "NV21",
	FormatYV12:        "YV12",
	FormatNV16:        "NV16",
	FormatYUYV:        "YUYV",
}

// String returns the format name.
func (f PixelFormat) String() string {
	if s, ok := formatNames[f]; ok {
		return s
	}
	return fmt.Sprintf("PixelFormat(%d)", uint16(f))
}

// ParsePixelFormat parses a format name as returned by String. Case is
// ignored.
func ParsePixelFormat(s string) (PixelFormat, error) {
	for f, name := range formatNames {
		if f != FormatUnknown && strings.EqualFold(name, s) {
			return f, nil
		}
	}
	return FormatUnknown, fmt.Errorf("hwc: unknown pixel format %q", s)
}

// IsYUV reports whether f is a YUV format.
func (f PixelFormat) IsYUV() bool {
	return f >= FormatNV12 && f <= FormatYUYV
}

// HasAlpha reports whether f carries a meaningful alpha channel.
func (f PixelFormat) HasAlpha() bool {
	switch f {
	case FormatRGBA8888, FormatBGRA8888, FormatRGBA1010102:
		return true
	default:
		return false
	}
}

// ChromaSubsampling returns the horizontal and vertical chroma subsampling
// factors (1 = none, 2 = half resolution).
func (f PixelFormat) ChromaSubsampling() (h, v int) {
	switch f {
	case FormatNV12, FormatNV21, FormatYV12:
		return 2, 2
	case FormatNV16, FormatYUYV:
		return 2, 1
	default:
		return 1, 1
	}
}

// BitsPerPixel returns the average storage cost of one pixel.
func (f PixelFormat) BitsPerPixel() int {
	switch f {
	case FormatRGBA8888, FormatRGBX8888, FormatBGRA8888, FormatRGBA1010102:
		return 32
	case FormatRGB565, FormatNV16, FormatYUYV:
		return 16
	case FormatNV12, FormatNV21, FormatYV12:
		return 12
	default:
		return 0
	}
}

// TextureFormat maps f onto the GPU texture format used by the framebuffer
// target. It reports false for formats the GPU path cannot sample directly.
func (f PixelFormat) TextureFormat() (gputypes.TextureFormat, bool) {
	switch f {
	case FormatRGBA8888, FormatRGBX8888:
		return gputypes.TextureFormatRGBA8Unorm, true
	case FormatBGRA8888:
		return gputypes.TextureFormatBGRA8Unorm, true
	case FormatRGBA1010102:
		return gputypes.TextureFormatRGB10A2Unorm, true
	default:
		return gputypes.TextureFormatUndefined, false
	}
}

// FormatFromTexture maps a GPU texture format back to a PixelFormat.
func FormatFromTexture(tf gputypes.TextureFormat) PixelFormat {
	switch tf {
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatRGBA8UnormSrgb:
		return FormatRGBA8888
	case gputypes.TextureFormatBGRA8Unorm, gputypes.TextureFormatBGRA8UnormSrgb:
		return FormatBGRA8888
	case gputypes.TextureFormatRGB10A2Unorm:
		return FormatRGBA1010102
	default:
		return FormatUnknown
	}
}
