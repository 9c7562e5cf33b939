// Package ingest renders scanned exam PDFs into page images ready for
// detection and assembly.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/png" // pdftoppm output
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/examsnip/examsnip/internal/questions"
)

// Request contains the parameters for rendering exam scans.
type Request struct {
	PDFPaths []string     // PDF file paths (sorted by numeric suffix)
	DPI      int          // Render resolution (default 300)
	Logger   *slog.Logger // Optional logger for progress updates

	// renderPage overrides the rasterizer in tests.
	renderPage func(pdfPath string, pageInPDF, dpi int) ([]byte, error)
}

// Render rasterizes every page of every requested PDF into a Page with
// PNG-encoded pixels. Page numbers are 1-based within each source file;
// page identity downstream is (fileName, pageNumber).
func Render(ctx context.Context, req Request) ([]*questions.Page, error) {
	log := req.Logger
	if log == nil {
		log = slog.Default()
	}

	if len(req.PDFPaths) == 0 {
		return nil, fmt.Errorf("no PDF paths provided")
	}
	for _, p := range req.PDFPaths {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("PDF not found: %s", p)
		}
	}

	dpi := req.DPI
	if dpi <= 0 {
		dpi = 300
	}
	render := req.renderPage
	if render == nil {
		render = renderPage
	}

	sortedPaths := sortPDFsByNumber(req.PDFPaths)
	log.Info("rendering scans", "pdfs", len(sortedPaths), "dpi", dpi)

	var pages []*questions.Page
	for _, pdfPath := range sortedPaths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		filePages, err := renderPDF(ctx, pdfPath, dpi, render)
		if err != nil {
			return nil, fmt.Errorf("failed to render %s: %w", filepath.Base(pdfPath), err)
		}
		log.Debug("rendered file", "file", filepath.Base(pdfPath), "pages", len(filePages))
		pages = append(pages, filePages...)
	}

	if len(pages) == 0 {
		return nil, fmt.Errorf("no pages rendered")
	}
	return pages, nil
}

// renderPDF rasterizes one PDF's pages concurrently, bounded by CPU count.
func renderPDF(ctx context.Context, pdfPath string, dpi int, render func(string, int, int) ([]byte, error)) ([]*questions.Page, error) {
	f, err := os.Open(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	pageCount, err := api.PageCount(f, nil)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to get page count: %w", err)
	}

	fileName := filepath.Base(pdfPath)
	pages := make([]*questions.Page, pageCount)

	type result struct {
		pageNum int
		err     error
	}
	results := make(chan result, pageCount)
	sem := make(chan struct{}, runtime.NumCPU())

	for page := 1; page <= pageCount; page++ {
		sem <- struct{}{} // acquire
		go func(pageNum int) {
			defer func() { <-sem }() // release

			data, err := render(pdfPath, pageNum, dpi)
			if err != nil {
				results <- result{pageNum: pageNum, err: err}
				return
			}
			cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
			if err != nil {
				results <- result{pageNum: pageNum, err: fmt.Errorf("decode rendered page: %w", err)}
				return
			}
			pages[pageNum-1] = &questions.Page{
				FileName:   fileName,
				PageNumber: pageNum,
				Width:      cfg.Width,
				Height:     cfg.Height,
				Image:      data,
			}
			results <- result{pageNum: pageNum}
		}(page)
	}

	for i := 0; i < pageCount; i++ {
		r := <-results
		if r.err != nil {
			return nil, fmt.Errorf("failed to render page %d: %w", r.pageNum, r.err)
		}
	}
	return pages, nil
}

// renderPage renders a single page from a PDF using pdftoppm (poppler-utils)
// and returns the PNG bytes.
func renderPage(pdfPath string, pageInPDF, dpi int) ([]byte, error) {
	tmpDir, err := os.MkdirTemp("", "examsnip-page-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	outputPrefix := filepath.Join(tmpDir, "page")

	pageStr := strconv.Itoa(pageInPDF)
	cmd := exec.Command("pdftoppm",
		"-png",
		"-f", pageStr,
		"-l", pageStr,
		"-r", strconv.Itoa(dpi),
		"-singlefile",
		pdfPath,
		outputPrefix,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("pdftoppm failed: %w (output: %s)", err, string(output))
	}

	data, err := os.ReadFile(outputPrefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("pdftoppm did not create expected output: %w", err)
	}
	return data, nil
}

// sortPDFsByNumber sorts PDF paths by their numeric suffix.
// e.g., ["exam-2.pdf", "exam-1.pdf", "exam-10.pdf"] -> ["exam-1.pdf", "exam-2.pdf", "exam-10.pdf"]
func sortPDFsByNumber(paths []string) []string {
	sorted := make([]string, len(paths))
	copy(sorted, paths)

	re := regexp.MustCompile(`-(\d+)\.pdf$`)

	sort.Slice(sorted, func(i, j int) bool {
		mi := re.FindStringSubmatch(sorted[i])
		mj := re.FindStringSubmatch(sorted[j])

		if len(mi) > 1 && len(mj) > 1 {
			ni, _ := strconv.Atoi(mi[1])
			nj, _ := strconv.Atoi(mj[1])
			return ni < nj
		}

		return sorted[i] < sorted[j]
	})

	return sorted
}
