package configurator

import (
	"image"
	"testing"

	"golang.org/x/image/math/fixed"

	"github.com/gogpu/hwc"
)

func TestClip(t *testing.T) {
	viewport := image.Rect(0, 0, 1000, 1000)
	tests := []struct {
		name      string
		crop      image.Rectangle
		dest      image.Rectangle
		transform hwc.Transform
		wantCrop  image.Rectangle
		wantDest  image.Rectangle
		wantOK    bool
	}{
		{
			name:     "inside",
			crop:     image.Rect(0, 0, 100, 100),
			dest:     image.Rect(10, 10, 110, 110),
			wantCrop: image.Rect(0, 0, 100, 100),
			wantDest: image.Rect(10, 10, 110, 110),
			wantOK:   true,
		},
		{
			name:     "left edge, 2x scale",
			crop:     image.Rect(0, 0, 100, 100),
			dest:     image.Rect(-100, 0, 100, 200),
			wantCrop: image.Rect(50, 0, 100, 100),
			wantDest: image.Rect(0, 0, 100, 200),
			wantOK:   true,
		},
		{
			name:      "left edge, flipped",
			crop:      image.Rect(0, 0, 100, 100),
			dest:      image.Rect(-50, 0, 50, 100),
			transform: hwc.FlipH,
			wantCrop:  image.Rect(0, 0, 50, 100),
			wantDest:  image.Rect(0, 0, 50, 100),
			wantOK:    true,
		},
		{
			name:      "left edge, rotated",
			crop:      image.Rect(0, 0, 200, 100),
			dest:      image.Rect(-50, 0, 50, 200),
			transform: hwc.Rot90,
			wantCrop:  image.Rect(0, 0, 200, 50),
			wantDest:  image.Rect(0, 0, 50, 200),
			wantOK:    true,
		},
		{
			name:      "top edge, rotated",
			crop:      image.Rect(0, 0, 200, 100),
			dest:      image.Rect(0, -50, 100, 150),
			transform: hwc.Rot90,
			wantCrop:  image.Rect(50, 0, 200, 100),
			wantDest:  image.Rect(0, 0, 100, 150),
			wantOK:    true,
		},
		{
			name:      "bottom edge, rot270",
			crop:      image.Rect(0, 0, 200, 100),
			dest:      image.Rect(0, 900, 100, 1100),
			transform: hwc.Rot270,
			wantCrop:  image.Rect(100, 0, 200, 100),
			wantDest:  image.Rect(0, 900, 100, 1000),
			wantOK:    true,
		},
		{
			name:   "off screen",
			crop:   image.Rect(0, 0, 100, 100),
			dest:   image.Rect(1000, 0, 1100, 100),
			wantOK: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			crop, dest, ok := Clip(tt.crop, tt.dest, viewport, tt.transform)
			if ok != tt.wantOK {
				t.Fatalf("Clip() ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if crop != tt.wantCrop || dest != tt.wantDest {
				t.Errorf("Clip() = %v, %v; want %v, %v", crop, dest, tt.wantCrop, tt.wantDest)
			}
		})
	}
}

func TestAlignChroma(t *testing.T) {
	tests := []struct {
		format hwc.PixelFormat
		in     image.Rectangle
		want   image.Rectangle
	}{
		{hwc.FormatNV12, image.Rect(1, 3, 101, 57), image.Rect(0, 2, 100, 56)},
		{hwc.FormatNV16, image.Rect(1, 3, 101, 57), image.Rect(0, 3, 100, 57)},
		{hwc.FormatRGBA8888, image.Rect(1, 3, 101, 57), image.Rect(1, 3, 101, 57)},
		{hwc.FormatNV12, image.Rect(-3, 0, 5, 4), image.Rect(-4, 0, 4, 4)},
	}
	for _, tt := range tests {
		if got := AlignChroma(tt.in, tt.format); got != tt.want {
			t.Errorf("AlignChroma(%v, %s) = %v, want %v", tt.in, tt.format, got, tt.want)
		}
	}
}

// TestSplitScenario covers a layer at x 100..300 on a panel split at 200.
func TestSplitScenario(t *testing.T) {
	const h = 400
	crop := image.Rect(0, 0, 200, h)
	dest := image.Rect(100, 0, 300, h)

	left, right := Split(crop, dest, 200, false, 1)

	if want := image.Rect(100, 0, 200, h); left.Dest != want {
		t.Errorf("left dest = %v, want %v", left.Dest, want)
	}
	if want := image.Rect(0, 0, 100, h); right.Dest != want {
		t.Errorf("right dest = %v, want %v", right.Dest, want)
	}
	if left.Crop.Max.X != right.Crop.Min.X {
		t.Errorf("crops not contiguous: left %v, right %v", left.Crop, right.Crop)
	}
	if want := image.Rect(0, 0, 100, h); left.Crop != want {
		t.Errorf("left crop = %v, want %v", left.Crop, want)
	}
}

func TestSplitOneSided(t *testing.T) {
	crop := image.Rect(0, 0, 50, 50)

	left, right := Split(crop, image.Rect(0, 0, 200, 50), 200, false, 1)
	if left.Dest != image.Rect(0, 0, 200, 50) || !right.Empty() {
		t.Errorf("left-only layer split into %v / %v", left, right)
	}

	left, right = Split(crop, image.Rect(250, 0, 300, 50), 200, false, 1)
	if !left.Empty() || right.Dest != image.Rect(50, 0, 100, 50) {
		t.Errorf("right-only layer split into %v / %v", left, right)
	}
}

// TestSplitContiguitySweep checks every straddling rectangle over a range of
// positions, widths, scales, flips and chroma alignments.
func TestSplitContiguitySweep(t *testing.T) {
	const splitX = 540
	for _, flip := range []bool{false, true} {
		for _, align := range []int{1, 2} {
			for _, cropW := range []int{64, 333, 1080, 1920} {
				for x0 := splitX - 400; x0 < splitX; x0 += 37 {
					for x1 := splitX + 1; x1 < splitX+500; x1 += 41 {
						crop := image.Rect(10, 0, 10+cropW, 100)
						dest := image.Rect(x0, 0, x1, 100)
						left, right := Split(crop, dest, splitX, flip, align)

						if left.Dest.Max.X != splitX || right.Dest.Min.X != 0 {
							t.Fatalf("dest %v: pieces %v / %v not at the boundary", dest, left.Dest, right.Dest)
						}
						if left.Dest.Dx()+right.Dest.Dx() != dest.Dx() {
							t.Fatalf("dest %v: widths %d + %d", dest, left.Dest.Dx(), right.Dest.Dx())
						}
						if left.Crop.Dx()+right.Crop.Dx() != crop.Dx() {
							t.Fatalf("crop %v: widths %d + %d (flip %v)", crop, left.Crop.Dx(), right.Crop.Dx(), flip)
						}
						if !flip && left.Crop.Max.X != right.Crop.Min.X {
							t.Fatalf("crop %v dest %v: left ends %d, right starts %d",
								crop, dest, left.Crop.Max.X, right.Crop.Min.X)
						}
						if flip && right.Crop.Max.X != left.Crop.Min.X {
							t.Fatalf("flipped crop %v dest %v: right ends %d, left starts %d",
								crop, dest, right.Crop.Max.X, left.Crop.Min.X)
						}
					}
				}
			}
		}
	}
}

func TestRatio(t *testing.T) {
	tests := []struct {
		src, dst int
		want     fixed.Int52_12
	}{
		{100, 100, hwc.Fixed(1)},
		{200, 100, hwc.Fixed(2)},
		{100, 200, hwc.Fixed(1) / 2},
		{100, 0, 0},
	}
	for _, tt := range tests {
		if got := Ratio(tt.src, tt.dst); got != tt.want {
			t.Errorf("Ratio(%d, %d) = %v, want %v", tt.src, tt.dst, got, tt.want)
		}
	}
}
