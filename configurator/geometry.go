package configurator

import (
	"image"

	"golang.org/x/image/math/fixed"

	"github.com/gogpu/hwc"
)

type side uint8

const (
	sideLeft side = iota
	sideTop
	sideRight
	sideBottom
)

// rotatedFrom maps a destination side to the source side that lands on it
// after a 90° clockwise rotation.
var rotatedFrom = [4]side{
	sideLeft:   sideBottom,
	sideTop:    sideLeft,
	sideRight:  sideTop,
	sideBottom: sideRight,
}

// sourceSide returns the side of the source crop that t places on
// destination side d.
func sourceSide(t hwc.Transform, d side) side {
	s := d
	if t.Has(hwc.Rot90) {
		s = rotatedFrom[d]
	}
	switch {
	case t.Has(hwc.FlipH) && s == sideLeft:
		s = sideRight
	case t.Has(hwc.FlipH) && s == sideRight:
		s = sideLeft
	case t.Has(hwc.FlipV) && s == sideTop:
		s = sideBottom
	case t.Has(hwc.FlipV) && s == sideBottom:
		s = sideTop
	}
	return s
}

func horizontal(s side) bool {
	return s == sideLeft || s == sideRight
}

// scaleEdge returns v*num/den rounded to nearest. All arguments are
// non-negative and den is positive.
func scaleEdge(v, num, den int) int {
	return (v*num + den/2) / den
}

// Clip clips dest to viewport and trims crop by the proportional amount on
// the source side that t maps to each clipped destination side. It reports
// false when nothing remains visible.
func Clip(crop, dest, viewport image.Rectangle, t hwc.Transform) (image.Rectangle, image.Rectangle, bool) {
	if crop.Empty() || dest.Empty() {
		return crop, dest, false
	}
	vis := dest.Intersect(viewport)
	if vis.Empty() {
		return crop, dest, false
	}
	if vis == dest {
		return crop, dest, true
	}

	trims := [4]int{
		sideLeft:   vis.Min.X - dest.Min.X,
		sideTop:    vis.Min.Y - dest.Min.Y,
		sideRight:  dest.Max.X - vis.Max.X,
		sideBottom: dest.Max.Y - vis.Max.Y,
	}
	out := crop
	for d, amount := range trims {
		if amount == 0 {
			continue
		}
		ds := side(d)
		ss := sourceSide(t, ds)
		destExtent := dest.Dy()
		if horizontal(ds) {
			destExtent = dest.Dx()
		}
		srcExtent := crop.Dy()
		if horizontal(ss) {
			srcExtent = crop.Dx()
		}
		n := scaleEdge(amount, srcExtent, destExtent)
		switch ss {
		case sideLeft:
			out.Min.X += n
		case sideTop:
			out.Min.Y += n
		case sideRight:
			out.Max.X -= n
		case sideBottom:
			out.Max.Y -= n
		}
	}
	if out.Empty() {
		return crop, dest, false
	}
	return out, vis, true
}

// AlignChroma floors every crop edge on a subsampled axis to a multiple of
// the subsampling factor and re-derives the size from the aligned edges.
func AlignChroma(crop image.Rectangle, f hwc.PixelFormat) image.Rectangle {
	h, v := f.ChromaSubsampling()
	if h > 1 {
		crop.Min.X = floorTo(crop.Min.X, h)
		crop.Max.X = floorTo(crop.Max.X, h)
	}
	if v > 1 {
		crop.Min.Y = floorTo(crop.Min.Y, v)
		crop.Max.Y = floorTo(crop.Max.Y, v)
	}
	return crop
}

func floorTo(x, n int) int {
	if x >= 0 {
		return x - x%n
	}
	return -((-x + n - 1) / n * n)
}

// Piece is the part of a layer one mixer composes.
type Piece struct {
	// Crop is the source region of this piece.
	Crop image.Rectangle

	// Dest is the output rectangle relative to the mixer origin.
	Dest image.Rectangle
}

// Empty reports whether the piece has nothing to show.
func (p Piece) Empty() bool {
	return p.Crop.Empty() || p.Dest.Empty()
}

// Split cuts a layer at the mixer boundary x = splitX.
//
// The left piece keeps display coordinates; the right piece's destination is
// relative to the right mixer's origin. The source is cut once: the left
// piece's crop ends where the right piece's crop begins (with a horizontal
// flip the roles mirror), so the pieces never gap or overlap. align, when
// greater than 1, floors the source cut to a multiple of align. A layer
// entirely on one side yields an empty piece for the other.
func Split(crop, dest image.Rectangle, splitX int, flipH bool, align int) (left, right Piece) {
	switch {
	case dest.Max.X <= splitX:
		return Piece{Crop: crop, Dest: dest}, Piece{}
	case dest.Min.X >= splitX:
		return Piece{}, Piece{Crop: crop, Dest: dest.Sub(image.Pt(splitX, 0))}
	}

	leftDest := image.Rect(dest.Min.X, dest.Min.Y, splitX, dest.Max.Y)
	rightDest := image.Rect(0, dest.Min.Y, dest.Max.X-splitX, dest.Max.Y)

	// Source columns covered by the left destination piece.
	n := scaleEdge(splitX-dest.Min.X, crop.Dx(), dest.Dx())
	leftCrop, rightCrop := crop, crop
	if !flipH {
		cut := crop.Min.X + n
		if align > 1 {
			cut = floorTo(cut, align)
		}
		leftCrop.Max.X = cut
		rightCrop.Min.X = leftCrop.Max.X
	} else {
		cut := crop.Max.X - n
		if align > 1 {
			cut = floorTo(cut, align)
		}
		leftCrop.Min.X = cut
		rightCrop.Max.X = leftCrop.Min.X
	}
	return Piece{Crop: leftCrop, Dest: leftDest}, Piece{Crop: rightCrop, Dest: rightDest}
}

// Ratio returns src/dst as a 52.12 fixed-point number, the format pipe
// scalers are programmed in. A ratio above 1 is a downscale.
func Ratio(src, dst int) fixed.Int52_12 {
	if dst <= 0 {
		return 0
	}
	return fixed.Int52_12((int64(src)<<12 + int64(dst)/2) / int64(dst))
}

// scaleRatios returns the horizontal and vertical source/destination
// ratios of crop shown in dest, accounting for a 90° swap.
func scaleRatios(crop, dest image.Rectangle, t hwc.Transform) (x, y fixed.Int52_12) {
	cw, ch := crop.Dx(), crop.Dy()
	if t.Swaps() {
		cw, ch = ch, cw
	}
	return Ratio(cw, dest.Dx()), Ratio(ch, dest.Dy())
}
