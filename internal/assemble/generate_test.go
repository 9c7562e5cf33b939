package assemble

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	"sync"
	"testing"

	"github.com/examsnip/examsnip/internal/geom"
	"github.com/examsnip/examsnip/internal/pool"
	"github.com/examsnip/examsnip/internal/questions"
)

func decodeBytes(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	return img, err
}

func startTestPool(t *testing.T) *pool.Pool {
	t.Helper()
	p := pool.New(pool.Config{Concurrency: 2})
	ctx, cancel := context.WithCancel(context.Background())
	go p.Start(ctx)
	t.Cleanup(cancel)
	return p
}

// scenarioPages builds the two-page fixture: page 1 carries questions 1
// and 2, page 2 opens with a continuation of question 2. Detection areas
// are solid black so trim boxes are exact.
func scenarioPages(t *testing.T) []*questions.Page {
	t.Helper()

	render := func(areas ...image.Rectangle) []byte {
		img := image.NewRGBA(image.Rect(0, 0, 1000, 1000))
		draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
		for _, a := range areas {
			draw.Draw(img, a, image.NewUniform(color.Black), image.Point{}, draw.Src)
		}
		data, err := EncodePagePNG(img)
		if err != nil {
			t.Fatalf("encode fixture page: %v", err)
		}
		return data
	}

	return []*questions.Page{
		{
			FileName: "A", PageNumber: 1, Width: 1000, Height: 1000,
			Image: render(image.Rect(0, 0, 500, 200), image.Rect(0, 210, 500, 400)),
			Detections: []questions.Detection{
				{ID: "1", Boxes: geom.Boxes{{YMin: 0, XMin: 0, YMax: 200, XMax: 500}}},
				{ID: "2", Boxes: geom.Boxes{{YMin: 210, XMin: 0, YMax: 400, XMax: 500}}},
			},
		},
		{
			FileName: "A", PageNumber: 2, Width: 1000, Height: 1000,
			Image: render(image.Rect(0, 0, 500, 150)),
			Detections: []questions.Detection{
				{ID: questions.ContinuationID, Boxes: geom.Boxes{{YMin: 0, XMin: 0, YMax: 150, XMax: 500}}},
			},
		},
	}
}

func TestGenerate_TwoPageScenario(t *testing.T) {
	p := startTestPool(t)
	a := New(p, nil)

	s := Settings{MergeOverlap: 10, Concurrency: 2}
	out, stats, err := a.Generate(context.Background(), scenarioPages(t), s, nil)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if stats.Questions != 2 || stats.Assembled != 2 || stats.Failed != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 question images, got %d", len(out))
	}
	if out[0].ID != "1" || out[1].ID != "2" {
		t.Errorf("encounter order not preserved: %s, %s", out[0].ID, out[1].ID)
	}
	if out[1].PageNumber != 1 {
		t.Errorf("question 2 should report its first part's page, got %d", out[1].PageNumber)
	}

	q2, err := decodeBytes(out[1].Final)
	if err != nil {
		t.Fatalf("decode question 2: %v", err)
	}
	wantHeight := (400 - 210) + (150 - 0) - s.MergeOverlap
	if got := q2.Bounds().Dy(); got != wantHeight {
		t.Errorf("question 2 height: expected %d, got %d", wantHeight, got)
	}

	// Both questions aligned to the file's max content width.
	q1, err := decodeBytes(out[0].Final)
	if err != nil {
		t.Fatalf("decode question 1: %v", err)
	}
	if q1.Bounds().Dx() != q2.Bounds().Dx() {
		t.Errorf("widths not aligned: %d vs %d", q1.Bounds().Dx(), q2.Bounds().Dx())
	}
	if q1.Bounds().Dx() != 500 {
		t.Errorf("expected aligned width 500, got %d", q1.Bounds().Dx())
	}
}

func TestGenerate_FailedQuestionIsIsolated(t *testing.T) {
	p := startTestPool(t)
	a := New(p, nil)

	pages := scenarioPages(t)
	// Add a question whose only box is inverted; it must fail alone.
	pages[0].Detections = append(pages[0].Detections, questions.Detection{
		ID:    "3",
		Boxes: geom.Boxes{{YMin: 900, XMin: 900, YMax: 100, XMax: 100}},
	})

	out, stats, err := a.Generate(context.Background(), pages, Settings{}, nil)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if stats.Questions != 3 || stats.Assembled != 2 || stats.Failed != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if len(out) != 2 {
		t.Errorf("expected partial results (2 images), got %d", len(out))
	}
}

func TestGenerate_NothingToProcess(t *testing.T) {
	p := startTestPool(t)
	a := New(p, nil)

	out, stats, err := a.Generate(context.Background(), nil, Settings{}, nil)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(out) != 0 || stats.Questions != 0 {
		t.Errorf("expected empty run, got %d images, stats %+v", len(out), stats)
	}
}

func TestGenerate_CancelledBeforeSubmission(t *testing.T) {
	p := startTestPool(t)
	a := New(p, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := a.Generate(ctx, scenarioPages(t), Settings{}, nil)
	if err == nil {
		t.Fatal("expected context error from cancelled generate")
	}
}

func TestGenerate_ReportsProgress(t *testing.T) {
	p := startTestPool(t)
	a := New(p, nil)

	var mu sync.Mutex
	var stages []string
	_, _, err := a.Generate(context.Background(), scenarioPages(t), Settings{}, func(pr Progress) {
		mu.Lock()
		stages = append(stages, pr.Stage)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	seen := map[string]bool{}
	for _, s := range stages {
		seen[s] = true
	}
	for _, want := range []string{"grouping", "cropping", "aligning"} {
		if !seen[want] {
			t.Errorf("missing progress stage %q", want)
		}
	}
}
