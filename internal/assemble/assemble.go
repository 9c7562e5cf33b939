// Package assemble turns logical questions into cropped, stitched and
// trimmed question images, fanning the per-question work out over the
// worker pool and aligning widths per source file in a second pass.
package assemble

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"github.com/examsnip/examsnip/internal/imaging"
	"github.com/examsnip/examsnip/internal/questions"
)

// ErrDegenerateCrop marks a question whose every crop rectangle collapsed
// to zero area after clamping. The question resolves to no image; the batch
// continues.
var ErrDegenerateCrop = errors.New("degenerate crop region")

// Settings controls cropping and stitching geometry.
type Settings struct {
	// CropPadding expands each detection rectangle on all sides, in
	// normalized 0-1000 units, before scaling to pixels.
	CropPadding float64 `mapstructure:"crop_padding" yaml:"crop_padding"`

	// Canvas paddings are applied around each part's composited region,
	// in pixels.
	CanvasPaddingLeft  int `mapstructure:"canvas_padding_left" yaml:"canvas_padding_left"`
	CanvasPaddingRight int `mapstructure:"canvas_padding_right" yaml:"canvas_padding_right"`
	CanvasPaddingY     int `mapstructure:"canvas_padding_y" yaml:"canvas_padding_y"`

	// MergeOverlap is how many pixels a continuation part's top overlaps
	// the previous part's bottom when stitching, compensating for margin
	// captured by both crops.
	MergeOverlap int `mapstructure:"merge_overlap" yaml:"merge_overlap"`

	// EdgePeel enables bounded peeling of scanner border artifacts before
	// the whitespace trim. Off by default; it can remove up to 15% of a
	// crop that legitimately fills its frame.
	EdgePeel bool `mapstructure:"edge_peel" yaml:"edge_peel"`

	// Concurrency is the worker ceiling for the assembly pool.
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`
}

// DefaultSettings returns the crop settings used when none are configured.
func DefaultSettings() Settings {
	return Settings{
		CropPadding:        8,
		CanvasPaddingLeft:  16,
		CanvasPaddingRight: 16,
		CanvasPaddingY:     12,
		MergeOverlap:       6,
		Concurrency:        4,
	}
}

// assembled is the phase-1 product for one question: the untrimmed
// composite canvas plus its tight content box. Final alignment waits until
// every sibling question from the same file has reported its width.
type assembled struct {
	question questions.LogicalQuestion
	order    int
	canvas   *image.RGBA
	trimBox  image.Rectangle
}

// whiteCanvas allocates an opaque white buffer.
func whiteCanvas(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	return img
}

// cropRegion copies one clamped rectangle out of a source page.
func cropRegion(src *image.RGBA, r image.Rectangle) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(out, out.Bounds(), src, r.Min, draw.Src)
	return out
}

// compositePart crops every rectangle of one part and stacks them into a
// single padded region. Returns nil when every rectangle is degenerate.
func compositePart(page *image.RGBA, part questions.Part, s Settings, degenerate *int) *image.RGBA {
	pageW := part.Page.Width
	pageH := part.Page.Height

	var crops []*image.RGBA
	width, height := 0, 0
	for _, rect := range part.Detection.Boxes {
		px := rect.ToPixels(pageW, pageH, s.CropPadding)
		if px.Empty() {
			*degenerate++
			continue
		}
		crop := cropRegion(page, px)
		crops = append(crops, crop)
		if crop.Bounds().Dx() > width {
			width = crop.Bounds().Dx()
		}
		height += crop.Bounds().Dy()
	}
	if len(crops) == 0 {
		return nil
	}

	region := whiteCanvas(
		width+s.CanvasPaddingLeft+s.CanvasPaddingRight,
		height+2*s.CanvasPaddingY,
	)
	y := s.CanvasPaddingY
	for _, crop := range crops {
		dst := image.Rect(
			s.CanvasPaddingLeft, y,
			s.CanvasPaddingLeft+crop.Bounds().Dx(), y+crop.Bounds().Dy(),
		)
		draw.Draw(region, dst, crop, crop.Bounds().Min, draw.Src)
		y += crop.Bounds().Dy()
	}
	return region
}

// stitch appends the next part's region beneath the canvas, overlapping the
// seam by overlap pixels.
func stitch(canvas, next *image.RGBA, overlap int) *image.RGBA {
	if overlap < 0 {
		overlap = 0
	}
	ch, nh := canvas.Bounds().Dy(), next.Bounds().Dy()
	if overlap > ch {
		overlap = ch
	}

	width := canvas.Bounds().Dx()
	if next.Bounds().Dx() > width {
		width = next.Bounds().Dx()
	}

	out := whiteCanvas(width, ch+nh-overlap)
	draw.Draw(out, image.Rect(0, 0, canvas.Bounds().Dx(), ch), canvas, canvas.Bounds().Min, draw.Src)
	draw.Draw(out,
		image.Rect(0, ch-overlap, next.Bounds().Dx(), ch-overlap+nh),
		next, next.Bounds().Min, draw.Over)
	return out
}

// assembleOne runs phase 1 for a single logical question: crop each part's
// rectangles, composite per part, stitch parts vertically, then compute the
// tight content box (edge peel first, whitespace trim inside it).
func assembleOne(q questions.LogicalQuestion, order int, decoded map[*questions.Page]*image.RGBA, s Settings) (*assembled, error) {
	degenerate := 0
	var canvas *image.RGBA

	for _, part := range q.Parts {
		page, ok := decoded[part.Page]
		if !ok || page == nil {
			return nil, fmt.Errorf("page %s/%d has no pixels", part.Page.FileName, part.Page.PageNumber)
		}
		region := compositePart(page, part, s, &degenerate)
		if region == nil {
			continue
		}
		if canvas == nil {
			canvas = region
		} else {
			canvas = stitch(canvas, region, s.MergeOverlap)
		}
	}

	if canvas == nil {
		return nil, fmt.Errorf("%w: question %s (%d rects)", ErrDegenerateCrop, q.ID, degenerate)
	}

	region := canvas.Bounds()
	if s.EdgePeel {
		region = imaging.EdgePeel(canvas, nil)
	}
	inner := canvas.SubImage(region).(*image.RGBA)
	trimBox := imaging.TrimWhitespace(inner, nil)

	return &assembled{question: q, order: order, canvas: canvas, trimBox: trimBox}, nil
}

// alignWidths runs phase 2: every question from the same source file is
// re-padded to that file's maximum content width, then encoded.
func alignWidths(items []*assembled, s Settings) ([]questions.QuestionImage, error) {
	maxWidth := make(map[string]int)
	for _, a := range items {
		if w := a.trimBox.Dx(); w > maxWidth[a.question.FileName] {
			maxWidth[a.question.FileName] = w
		}
	}

	out := make([]questions.QuestionImage, 0, len(items))
	for _, a := range items {
		content := a.canvas.SubImage(a.trimBox).(*image.RGBA)

		w := maxWidth[a.question.FileName] + s.CanvasPaddingLeft + s.CanvasPaddingRight
		h := a.trimBox.Dy() + 2*s.CanvasPaddingY
		final := whiteCanvas(w, h)
		dst := image.Rect(
			s.CanvasPaddingLeft, s.CanvasPaddingY,
			s.CanvasPaddingLeft+a.trimBox.Dx(), s.CanvasPaddingY+a.trimBox.Dy(),
		)
		draw.Draw(final, dst, content, a.trimBox.Min, draw.Src)

		finalPNG, err := encodePNG(final)
		if err != nil {
			return nil, err
		}
		originalPNG, err := encodePNG(a.canvas)
		if err != nil {
			return nil, err
		}

		out = append(out, questions.QuestionImage{
			ID:         a.question.ID,
			FileName:   a.question.FileName,
			PageNumber: a.question.Parts[0].Page.PageNumber,
			Final:      finalPNG,
			Original:   originalPNG,
		})
	}
	return out, nil
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("png encode failed: %w", err)
	}
	return buf.Bytes(), nil
}
