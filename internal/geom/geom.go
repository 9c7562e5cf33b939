// Package geom provides the normalized coordinate types shared by the
// detection, grouping and assembly packages.
//
// Detections arrive in a 0-1000 coordinate space relative to the page, as
// either a single rectangle or a list of rectangles. Everything downstream
// works on []Rect; the variant is collapsed at the boundary by Normalize.
package geom

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
)

// CoordSpace is the upper bound of the normalized detection coordinate space.
const CoordSpace = 1000.0

// ErrMalformedBoxes indicates a detection's box payload is neither a
// rectangle nor a list of rectangles.
var ErrMalformedBoxes = errors.New("malformed detection boxes")

// Rect is a detection rectangle in normalized 0-1000 page coordinates.
type Rect struct {
	YMin float64 `json:"ymin"`
	XMin float64 `json:"xmin"`
	YMax float64 `json:"ymax"`
	XMax float64 `json:"xmax"`
}

// Valid reports whether the rectangle has positive extent on both axes.
func (r Rect) Valid() bool {
	return r.YMin < r.YMax && r.XMin < r.XMax
}

// Clamp restricts the rectangle to the 0-1000 coordinate space.
func (r Rect) Clamp() Rect {
	clamp := func(v float64) float64 {
		if v < 0 {
			return 0
		}
		if v > CoordSpace {
			return CoordSpace
		}
		return v
	}
	return Rect{
		YMin: clamp(r.YMin),
		XMin: clamp(r.XMin),
		YMax: clamp(r.YMax),
		XMax: clamp(r.XMax),
	}
}

// ToPixels scales the normalized rectangle to a page of the given pixel
// dimensions, expanding by pad normalized units on every side first.
// The result is clamped to the page bounds and may be empty.
func (r Rect) ToPixels(width, height int, pad float64) image.Rectangle {
	padded := Rect{
		YMin: r.YMin - pad,
		XMin: r.XMin - pad,
		YMax: r.YMax + pad,
		XMax: r.XMax + pad,
	}.Clamp()
	if !padded.Valid() {
		// image.Rect would swap the corners of an inverted rectangle;
		// a degenerate crop must stay degenerate.
		return image.Rectangle{}
	}

	px := image.Rect(
		int(padded.XMin/CoordSpace*float64(width)),
		int(padded.YMin/CoordSpace*float64(height)),
		int(padded.XMax/CoordSpace*float64(width)),
		int(padded.YMax/CoordSpace*float64(height)),
	)
	return px.Intersect(image.Rect(0, 0, width, height))
}

// fromSlice builds a Rect from a 4-number slice in (ymin, xmin, ymax, xmax)
// order.
func fromSlice(vals []float64) Rect {
	return Rect{YMin: vals[0], XMin: vals[1], YMax: vals[2], XMax: vals[3]}
}

// Normalize collapses a detection box payload into a list of rectangles.
// The payload is either a flat 4-number rectangle or a list of such; the
// shape is decided by the first element. Rectangles without positive extent
// are dropped; a payload whose first element is neither a number nor a
// rectangle-shaped list fails with ErrMalformedBoxes.
func Normalize(raw []any) ([]Rect, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedBoxes)
	}

	if _, ok := asFloat(raw[0]); ok {
		// Flat rectangle form.
		vals, ok := numericSlice(raw)
		if !ok || len(vals) != 4 {
			return nil, fmt.Errorf("%w: expected 4 numbers, got %d elements", ErrMalformedBoxes, len(raw))
		}
		r := fromSlice(vals)
		if !r.Valid() {
			return nil, nil
		}
		return []Rect{r}, nil
	}

	if _, ok := raw[0].([]any); !ok {
		return nil, fmt.Errorf("%w: first element is %T", ErrMalformedBoxes, raw[0])
	}

	var rects []Rect
	for _, item := range raw {
		inner, ok := item.([]any)
		if !ok {
			continue
		}
		vals, ok := numericSlice(inner)
		if !ok || len(vals) != 4 {
			continue
		}
		if r := fromSlice(vals); r.Valid() {
			rects = append(rects, r)
		}
	}
	return rects, nil
}

func numericSlice(items []any) ([]float64, bool) {
	vals := make([]float64, 0, len(items))
	for _, item := range items {
		v, ok := asFloat(item)
		if !ok {
			return nil, false
		}
		vals = append(vals, v)
	}
	return vals, true
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// Boxes carries a detection's rectangles and accepts both wire shapes
// (flat rectangle or list of rectangles) when decoding JSON.
type Boxes []Rect

// UnmarshalJSON decodes either [y,x,y,x] or [[y,x,y,x], ...].
func (b *Boxes) UnmarshalJSON(data []byte) error {
	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	rects, err := Normalize(raw)
	if err != nil {
		return err
	}
	*b = rects
	return nil
}

// MarshalJSON always emits the list-of-rectangles form.
func (b Boxes) MarshalJSON() ([]byte, error) {
	out := make([][4]float64, len(b))
	for i, r := range b {
		out[i] = [4]float64{r.YMin, r.XMin, r.YMax, r.XMax}
	}
	return json.Marshal(out)
}
