package hwc

import "fmt"

// ListStats aggregates one display's layer list for one frame.
// It is computed once per frame and read by every component.
type ListStats struct {
	// NumAppLayers counts layers other than the framebuffer target.
	NumAppLayers int

	// TargetIndex is the framebuffer target's index, or -1.
	TargetIndex int

	// CursorIndex is the last cursor layer's index, or -1.
	CursorIndex int

	// YUVIndices lists the indices of YUV layers in z-order.
	YUVIndices []int

	// SkipCount counts layers flagged FlagSkip.
	SkipCount int

	// SecureCount counts layers with protected buffers.
	SecureCount int

	// NoRedrawCount counts layers the GPU should not redraw.
	NoRedrawCount int

	// ScaledCount counts layers whose source and destination sizes differ.
	ScaledCount int

	// Premultiplied reports whether any app layer uses premultiplied blending.
	Premultiplied bool

	// RenderArea sums the destination area of every app layer.
	RenderArea int
}

// ComputeListStats scans layers once.
func ComputeListStats(layers []*Layer) ListStats {
	s := ListStats{TargetIndex: -1, CursorIndex: -1}
	for i, l := range layers {
		if l == nil {
			continue
		}
		if l.IsTarget() {
			s.TargetIndex = i
			continue
		}
		s.NumAppLayers++
		s.RenderArea += Area(l.Dest)
		if l.Flags.Has(FlagSkip) {
			s.SkipCount++
		}
		if l.Flags.Has(FlagCursor) {
			s.CursorIndex = i
		}
		if l.IsYUV() {
			s.YUVIndices = append(s.YUVIndices, i)
		}
		if l.IsSecure() {
			s.SecureCount++
		}
		if l.MustNotRedraw() {
			s.NoRedrawCount++
		}
		if l.IsScaled() {
			s.ScaledCount++
		}
		if l.Blend == BlendPremultiplied {
			s.Premultiplied = true
		}
	}
	return s
}

// YUVCount returns the number of YUV layers.
func (s ListStats) YUVCount() int {
	return len(s.YUVIndices)
}

// String returns a compact summary for logs.
func (s ListStats) String() string {
	return fmt.Sprintf("ListStats[app=%d target=%d yuv=%d skip=%d secure=%d area=%d]",
		s.NumAppLayers, s.TargetIndex, len(s.YUVIndices), s.SkipCount, s.SecureCount, s.RenderArea)
}
