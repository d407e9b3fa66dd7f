package vision

// Coordinate mapping between display space (pixels on the rendered video
// surface, letterbox padding included) and frame space (the detector's
// native decoded resolution). The rendered video uses an aspect-preserving
// "contain" fit, so the transform has to account for the centered content
// rectangle inside the display rect.
//
// These functions are pure; callers inject the live display surface. When
// dimensions are unknown the input point is returned unchanged and callers
// treat that as "mapping unavailable" and skip geometric tests.

// containFit computes the scale and centering offsets of an
// aspect-preserving contain fit of a frameW×frameH frame inside rect.
func containFit(rect Rect, frameW, frameH float64) (scale, offsetX, offsetY float64) {
	scale = rect.Width() / frameW
	if s := rect.Height() / frameH; s < scale {
		scale = s
	}
	contentW := frameW * scale
	contentH := frameH * scale
	offsetX = (rect.Width() - contentW) / 2
	offsetY = (rect.Height() - contentH) / 2
	return scale, offsetX, offsetY
}

func mappable(rect Rect, frameW, frameH float64) bool {
	return frameW > 0 && frameH > 0 && rect.Width() > 0 && rect.Height() > 0
}

// ToFrame maps a display-space point to frame space. Degenerate inputs
// (zero frame dimensions or an unmeasured display rect) return p unchanged.
func ToFrame(p Point, rect Rect, frameW, frameH float64) Point {
	if !mappable(rect, frameW, frameH) {
		return p
	}
	scale, offsetX, offsetY := containFit(rect, frameW, frameH)
	contentW := frameW * scale
	contentH := frameH * scale

	// Shift into the content rectangle and clamp to its bounds so points
	// in the letterbox padding map onto the nearest frame edge.
	x := clamp(p.X-rect.X1-offsetX, 0, contentW)
	y := clamp(p.Y-rect.Y1-offsetY, 0, contentH)

	return Point{
		X: x / contentW * frameW,
		Y: y / contentH * frameH,
	}
}

// ToDisplay maps a frame-space point back to display space. Degenerate
// inputs return p unchanged.
func ToDisplay(p Point, rect Rect, frameW, frameH float64) Point {
	if !mappable(rect, frameW, frameH) {
		return p
	}
	scale, offsetX, offsetY := containFit(rect, frameW, frameH)
	return Point{
		X: rect.X1 + offsetX + p.X*scale,
		Y: rect.Y1 + offsetY + p.Y*scale,
	}
}

// RectToFrame maps a display-space rectangle to frame space by mapping its
// corners. Returns false when the mapping is unavailable.
func RectToFrame(r Rect, rect Rect, frameW, frameH float64) (Rect, bool) {
	if !mappable(rect, frameW, frameH) {
		return r, false
	}
	a := ToFrame(Point{X: r.X1, Y: r.Y1}, rect, frameW, frameH)
	b := ToFrame(Point{X: r.X2, Y: r.Y2}, rect, frameW, frameH)
	return Rect{X1: a.X, Y1: a.Y, X2: b.X, Y2: b.Y}, true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
