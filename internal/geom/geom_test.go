package geom

import (
	"encoding/json"
	"errors"
	"image"
	"testing"
)

func TestNormalize_FlatRectangle(t *testing.T) {
	rects, err := Normalize([]any{float64(10), float64(20), float64(300), float64(400)})
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if len(rects) != 1 {
		t.Fatalf("expected 1 rect, got %d", len(rects))
	}
	want := Rect{YMin: 10, XMin: 20, YMax: 300, XMax: 400}
	if rects[0] != want {
		t.Errorf("expected %+v, got %+v", want, rects[0])
	}
}

func TestNormalize_NestedRectangles(t *testing.T) {
	raw := []any{
		[]any{float64(0), float64(0), float64(100), float64(500)},
		[]any{float64(120), float64(0), float64(200), float64(500)},
	}
	rects, err := Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if len(rects) != 2 {
		t.Fatalf("expected 2 rects, got %d", len(rects))
	}
	if rects[1].YMin != 120 {
		t.Errorf("expected second rect ymin 120, got %v", rects[1].YMin)
	}
}

func TestNormalize_Malformed(t *testing.T) {
	cases := []struct {
		name string
		raw  []any
	}{
		{"empty", []any{}},
		{"string first", []any{"nope", float64(1)}},
		{"map first", []any{map[string]any{"y": 1.0}}},
		{"three numbers", []any{float64(1), float64(2), float64(3)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Normalize(tc.raw); !errors.Is(err, ErrMalformedBoxes) {
				t.Errorf("expected ErrMalformedBoxes, got %v", err)
			}
		})
	}
}

func TestNormalize_DropsDegenerate(t *testing.T) {
	raw := []any{
		[]any{float64(100), float64(0), float64(100), float64(500)}, // zero height
		[]any{float64(0), float64(0), float64(50), float64(500)},
	}
	rects, err := Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if len(rects) != 1 {
		t.Fatalf("expected degenerate rect dropped, got %d rects", len(rects))
	}
}

func TestBoxes_UnmarshalBothShapes(t *testing.T) {
	var flat Boxes
	if err := json.Unmarshal([]byte(`[0, 0, 200, 500]`), &flat); err != nil {
		t.Fatalf("flat unmarshal failed: %v", err)
	}
	if len(flat) != 1 {
		t.Fatalf("expected 1 rect from flat form, got %d", len(flat))
	}

	var nested Boxes
	if err := json.Unmarshal([]byte(`[[0, 0, 200, 500], [210, 0, 400, 500]]`), &nested); err != nil {
		t.Fatalf("nested unmarshal failed: %v", err)
	}
	if len(nested) != 2 {
		t.Fatalf("expected 2 rects from nested form, got %d", len(nested))
	}
}

func TestRect_ToPixels(t *testing.T) {
	r := Rect{YMin: 0, XMin: 0, YMax: 200, XMax: 500}
	px := r.ToPixels(1000, 1000, 0)
	want := image.Rect(0, 0, 500, 200)
	if px != want {
		t.Errorf("expected %v, got %v", want, px)
	}
}

func TestRect_ToPixelsPaddingClamped(t *testing.T) {
	r := Rect{YMin: 0, XMin: 0, YMax: 200, XMax: 500}
	px := r.ToPixels(1000, 1000, 10)
	// Padding cannot push past the page origin.
	if px.Min.X != 0 || px.Min.Y != 0 {
		t.Errorf("expected origin clamp, got %v", px.Min)
	}
	if px.Max.X != 510 || px.Max.Y != 210 {
		t.Errorf("expected padded max (510,210), got %v", px.Max)
	}
}

func TestRect_ToPixelsDegenerate(t *testing.T) {
	r := Rect{YMin: 500, XMin: 500, YMax: 400, XMax: 400}
	px := r.ToPixels(1000, 1000, 0)
	if !px.Empty() {
		t.Errorf("expected empty rect, got %v", px)
	}
}
