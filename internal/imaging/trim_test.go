package imaging

import (
	"image"
	"image/color"
	"image/draw"
	"testing"
)

// whiteCanvas returns an opaque white RGBA buffer.
func whiteCanvas(t *testing.T, w, h int) *image.RGBA {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	return img
}

func fillBlack(img *image.RGBA, r image.Rectangle) {
	draw.Draw(img, r, image.NewUniform(color.Black), image.Point{}, draw.Src)
}

func TestTrimWhitespace_TightBox(t *testing.T) {
	img := whiteCanvas(t, 200, 100)
	fillBlack(img, image.Rect(40, 20, 160, 80))

	got := TrimWhitespace(img, nil)
	want := image.Rect(40, 20, 160, 80)
	if got != want {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestTrimWhitespace_BlankReturnsFullBounds(t *testing.T) {
	img := whiteCanvas(t, 50, 30)
	got := TrimWhitespace(img, nil)
	if got != img.Bounds() {
		t.Errorf("blank buffer should return full bounds, got %v", got)
	}
}

func TestTrimWhitespace_Idempotent(t *testing.T) {
	img := whiteCanvas(t, 200, 100)
	fillBlack(img, image.Rect(40, 20, 160, 80))

	first := TrimWhitespace(img, nil)
	cropped := img.SubImage(first).(*image.RGBA)

	// Re-trimming an already tight crop must not shrink further.
	second := TrimWhitespace(cropped, nil)
	if second != first {
		t.Errorf("expected idempotent trim %v, got %v", first, second)
	}
}

func TestTrimWhitespace_ZeroSize(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 0, 0))
	if got := TrimWhitespace(img, nil); got != (image.Rectangle{}) {
		t.Errorf("expected zero rect for empty buffer, got %v", got)
	}
}

func TestTrimWhitespace_ProgressPhases(t *testing.T) {
	img := whiteCanvas(t, 20, 20)
	fillBlack(img, image.Rect(5, 5, 15, 15))

	var phases []Phase
	TrimWhitespace(img, func(p Phase) { phases = append(phases, p) })

	want := []Phase{PhaseTop, PhaseBottom, PhaseLeft, PhaseRight}
	if len(phases) != len(want) {
		t.Fatalf("expected %d phases, got %d", len(want), len(phases))
	}
	for i, p := range want {
		if phases[i] != p {
			t.Errorf("phase %d: expected %s, got %s", i, p, phases[i])
		}
	}
}

func TestEdgePeel_RemovesBorderLines(t *testing.T) {
	img := whiteCanvas(t, 100, 100)
	// Thin artifact lines on the top and left edges, content in the middle.
	fillBlack(img, image.Rect(10, 0, 90, 3))
	fillBlack(img, image.Rect(0, 10, 3, 90))
	fillBlack(img, image.Rect(30, 30, 70, 70))

	got := EdgePeel(img, nil)
	want := image.Rect(3, 3, 100, 100)
	if got != want {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestEdgePeel_BoundedOnSolidInk(t *testing.T) {
	img := whiteCanvas(t, 100, 200)
	fillBlack(img, img.Bounds())

	got := EdgePeel(img, nil)

	// 15% of each dimension from each edge, never more.
	if got.Min.X != 15 || got.Max.X != 85 {
		t.Errorf("x peel exceeded bound: %v", got)
	}
	if got.Min.Y != 30 || got.Max.Y != 170 {
		t.Errorf("y peel exceeded bound: %v", got)
	}
}

func TestEdgePeel_CleanEdgesUntouched(t *testing.T) {
	img := whiteCanvas(t, 100, 100)
	fillBlack(img, image.Rect(30, 30, 70, 70))

	if got := EdgePeel(img, nil); got != img.Bounds() {
		t.Errorf("clean edges should not be peeled, got %v", got)
	}
}

func TestEdgePeel_ZeroSize(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 0))
	if got := EdgePeel(img, nil); got != (image.Rectangle{}) {
		t.Errorf("expected zero rect, got %v", got)
	}
}
