package assemble

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg" // page images may arrive as JPEG scans
	"image/png"
	"log/slog"
	"sort"
	"sync"

	"github.com/examsnip/examsnip/internal/pool"
	"github.com/examsnip/examsnip/internal/questions"
)

// Progress reports pipeline advancement to an optional observer.
type Progress struct {
	Stage string // "grouping", "cropping", "aligning"
	Done  int
	Total int
}

// ProgressFunc observes progress. May be called from worker goroutines.
type ProgressFunc func(Progress)

// Stats summarizes one Generate run. Failures are isolated per question;
// callers distinguish "nothing to process" from "everything failed" here.
type Stats struct {
	Questions int // logical questions produced by grouping
	Assembled int // questions that yielded an image
	Failed    int // questions resolved with no image
	Orphans   int // orphan continuation fragments kept as standalone questions
}

// Assembler composes grouping, the worker pool and phase-2 alignment into
// the single question-generation entry point.
type Assembler struct {
	pool   *pool.Pool
	logger *slog.Logger
}

// New creates an Assembler on top of a started pool.
func New(p *pool.Pool, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{pool: p, logger: logger.With("component", "assemble")}
}

// Generate groups the pages' detections into logical questions, assembles
// each on the pool, and aligns widths per source file. Cancellation via ctx
// stops new submissions at file boundaries and before each question; work
// already dispatched runs to completion. Per-question failures produce a
// shorter result list and a Failed count, never an error for the batch.
func (a *Assembler) Generate(ctx context.Context, pages []*questions.Page, s Settings, progress ProgressFunc) ([]questions.QuestionImage, Stats, error) {
	report := func(p Progress) {
		if progress != nil {
			progress(p)
		}
	}

	decoded, err := decodePages(pages)
	if err != nil {
		return nil, Stats{}, err
	}

	report(Progress{Stage: "grouping"})
	grouped := questions.Group(pages, a.logger)
	stats := Stats{Questions: len(grouped.Questions), Orphans: grouped.Orphans}
	if len(grouped.Questions) == 0 {
		return nil, stats, nil
	}

	// Questions of one file stay contiguous in grouping output; walk them
	// file by file so cancellation can be checked at file boundaries.
	byFile := make(map[string][]int)
	var fileOrder []string
	for i, q := range grouped.Questions {
		if _, ok := byFile[q.FileName]; !ok {
			fileOrder = append(fileOrder, q.FileName)
		}
		byFile[q.FileName] = append(byFile[q.FileName], i)
	}

	var (
		mu        sync.Mutex
		collected []*assembled
		done      int
	)

	submitted := 0
	for _, file := range fileOrder {
		if ctx.Err() != nil {
			break
		}
		for _, qi := range byFile[file] {
			if ctx.Err() != nil {
				break
			}
			q := grouped.Questions[qi]
			order := qi
			err := a.pool.Submit(pool.Task{
				ID: fmt.Sprintf("%s/%s", q.FileName, q.ID),
				Run: func(ctx context.Context) (any, error) {
					return assembleOne(q, order, decoded, s)
				},
			}, func(res pool.Result) {
				mu.Lock()
				done++
				if res.Err == nil {
					collected = append(collected, res.Value.(*assembled))
				}
				d, total := done, stats.Questions
				mu.Unlock()
				report(Progress{Stage: "cropping", Done: d, Total: total})
			})
			if err != nil {
				a.logger.Error("submit failed", "question", q.ID, "error", err)
				mu.Lock()
				done++
				mu.Unlock()
				continue
			}
			submitted++
		}
	}

	a.logger.Debug("questions submitted", "count", submitted, "total", stats.Questions)

	if err := a.pool.OnIdle(ctx); err != nil {
		// Cancelled while draining; in-flight work is not interrupted,
		// we just stop waiting for it.
		return nil, stats, err
	}

	if err := ctx.Err(); err != nil {
		return nil, stats, err
	}

	mu.Lock()
	items := make([]*assembled, len(collected))
	copy(items, collected)
	mu.Unlock()

	stats.Assembled = len(items)
	stats.Failed = stats.Questions - stats.Assembled

	// Restore encounter order; completion order interleaves across files
	// under concurrency.
	sort.Slice(items, func(i, j int) bool { return items[i].order < items[j].order })

	report(Progress{Stage: "aligning", Done: 0, Total: len(items)})
	out, err := alignWidths(items, s)
	if err != nil {
		return nil, stats, err
	}
	return out, stats, nil
}

// decodePages decodes each page's encoded image into an RGBA buffer once,
// shared read-only by all assembly tasks.
func decodePages(pages []*questions.Page) (map[*questions.Page]*image.RGBA, error) {
	decoded := make(map[*questions.Page]*image.RGBA, len(pages))
	for _, p := range pages {
		if len(p.Image) == 0 {
			continue
		}
		img, _, err := image.Decode(bytes.NewReader(p.Image))
		if err != nil {
			return nil, fmt.Errorf("decode page %s/%d: %w", p.FileName, p.PageNumber, err)
		}
		rgba, ok := img.(*image.RGBA)
		if !ok {
			rgba = image.NewRGBA(img.Bounds())
			draw.Draw(rgba, rgba.Bounds(), img, img.Bounds().Min, draw.Src)
		}
		decoded[p] = rgba

		// Keep the declared page size honest; crops scale against it.
		if p.Width == 0 || p.Height == 0 {
			p.Width = rgba.Bounds().Dx()
			p.Height = rgba.Bounds().Dy()
		}
	}
	return decoded, nil
}

// EncodePagePNG encodes an RGBA buffer the way pages are stored.
func EncodePagePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
