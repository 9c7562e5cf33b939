// Package imaging holds the pure pixel-buffer operations used by question
// assembly: whitespace trimming and edge artifact peeling.
package imaging

import "image"

const (
	// inkAlphaMin is the minimum alpha for a pixel to count as content.
	inkAlphaMin = 16

	// inkBrightnessMax marks a pixel as ink when at least one channel
	// falls below it. Scanned paper backgrounds sit near 255.
	inkBrightnessMax = 242

	// peelMaxFraction bounds how much of a dimension EdgePeel may remove
	// from each edge. Keeps a border artifact scan from eating real
	// content that touches the edge.
	peelMaxFraction = 0.15
)

// Phase identifies which edge a trim scan is currently working on.
type Phase string

const (
	PhaseTop    Phase = "top"
	PhaseBottom Phase = "bottom"
	PhaseLeft   Phase = "left"
	PhaseRight  Phase = "right"
)

// ProgressFunc observes trim progress per edge. It has no effect on the
// result; long scans call it so interactive callers can stay responsive.
type ProgressFunc func(phase Phase)

func report(fn ProgressFunc, phase Phase) {
	if fn != nil {
		fn(phase)
	}
}

// isInk classifies one pixel of an RGBA buffer.
func isInk(img *image.RGBA, x, y int) bool {
	i := img.PixOffset(x, y)
	r, g, b, a := img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3]
	if a <= inkAlphaMin {
		return false
	}
	return r < inkBrightnessMax || g < inkBrightnessMax || b < inkBrightnessMax
}

func rowHasInk(img *image.RGBA, y, x0, x1 int) bool {
	for x := x0; x < x1; x++ {
		if isInk(img, x, y) {
			return true
		}
	}
	return false
}

func colHasInk(img *image.RGBA, x, y0, y1 int) bool {
	for y := y0; y < y1; y++ {
		if isInk(img, x, y) {
			return true
		}
	}
	return false
}

// TrimWhitespace returns the tightest rectangle containing any ink pixel.
// An entirely blank buffer yields the full bounds, so a blank scan is kept
// as-is rather than collapsed to nothing. Non-positive dimensions yield the
// zero rectangle.
func TrimWhitespace(img *image.RGBA, progress ProgressFunc) image.Rectangle {
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return image.Rectangle{}
	}

	top, bottom := b.Min.Y, b.Max.Y
	report(progress, PhaseTop)
	for top < bottom && !rowHasInk(img, top, b.Min.X, b.Max.X) {
		top++
	}
	if top == bottom {
		// No ink anywhere.
		return b
	}
	report(progress, PhaseBottom)
	for bottom > top && !rowHasInk(img, bottom-1, b.Min.X, b.Max.X) {
		bottom--
	}

	left, right := b.Min.X, b.Max.X
	report(progress, PhaseLeft)
	for left < right && !colHasInk(img, left, top, bottom) {
		left++
	}
	report(progress, PhaseRight)
	for right > left && !colHasInk(img, right-1, top, bottom) {
		right--
	}

	return image.Rect(left, top, right, bottom)
}

// EdgePeel removes thin scanner artifacts (border lines) sitting exactly at
// the buffer edges. Each edge is peeled inward while it still contains ink,
// but never past peelMaxFraction of that dimension; peeling stops at the
// bound even if ink persists. Non-positive dimensions yield the zero
// rectangle.
func EdgePeel(img *image.RGBA, progress ProgressFunc) image.Rectangle {
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return image.Rectangle{}
	}

	maxPeelY := int(float64(b.Dy()) * peelMaxFraction)
	maxPeelX := int(float64(b.Dx()) * peelMaxFraction)

	top, bottom := b.Min.Y, b.Max.Y
	report(progress, PhaseTop)
	for top < bottom && top-b.Min.Y < maxPeelY && rowHasInk(img, top, b.Min.X, b.Max.X) {
		top++
	}
	report(progress, PhaseBottom)
	for bottom > top && b.Max.Y-bottom < maxPeelY && rowHasInk(img, bottom-1, b.Min.X, b.Max.X) {
		bottom--
	}

	left, right := b.Min.X, b.Max.X
	report(progress, PhaseLeft)
	for left < right && left-b.Min.X < maxPeelX && colHasInk(img, left, top, bottom) {
		left++
	}
	report(progress, PhaseRight)
	for right > left && b.Max.X-right < maxPeelX && colHasInk(img, right-1, top, bottom) {
		right--
	}

	return image.Rect(left, top, right, bottom)
}
