package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/examsnip/examsnip/internal/assemble"
	"github.com/examsnip/examsnip/internal/cli"
	"github.com/examsnip/examsnip/internal/config"
	"github.com/examsnip/examsnip/internal/detect"
	"github.com/examsnip/examsnip/internal/home"
	"github.com/examsnip/examsnip/internal/ingest"
	"github.com/examsnip/examsnip/internal/pool"
	"github.com/examsnip/examsnip/internal/questions"
	"github.com/examsnip/examsnip/internal/store"
)

var (
	processName string
	processDPI  int
)

var processCmd = &cobra.Command{
	Use:   "process <exam.pdf> [more.pdf...]",
	Short: "Render, detect, and extract question images from exam PDFs",
	Long: `Process runs the full pipeline on one or more scanned exam PDFs:
render each page, detect question regions with the vision model, group
cross-page continuations, assemble one image per question, and save the
result to the local store.

Multi-part scans named with numeric suffixes (exam-1.pdf, exam-2.pdf)
are ordered by suffix.

Examples:
  examsnip process midterm.pdf
  examsnip process --name "Algebra Final" final-1.pdf final-2.pdf`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cm, err := config.NewManager(cfgFile)
		if err != nil {
			return err
		}
		cfg := cm.Get()
		logger := newLogger(cfg.LogLevel)

		h, err := home.New(homeDir)
		if err != nil {
			return err
		}
		if err := h.EnsureExists(); err != nil {
			return err
		}

		dpi := cfg.RenderDPI
		if processDPI > 0 {
			dpi = processDPI
		}
		pages, err := ingest.Render(ctx, ingest.Request{
			PDFPaths: args,
			DPI:      dpi,
			Logger:   logger,
		})
		if err != nil {
			return err
		}

		detector := detect.New(detect.Config{
			BaseURL:    cfg.Detector.BaseURL,
			Model:      cfg.Detector.Model,
			APIKey:     config.ResolveEnvVars(cfg.Detector.APIKey),
			MaxRetries: cfg.Detector.MaxRetries,
			MaxEdge:    cfg.Detector.MaxEdge,
			RateLimit:  cfg.Detector.RateLimit,
			Logger:     logger,
		})

		detected := 0
		for _, page := range pages {
			if err := ctx.Err(); err != nil {
				return err
			}
			dets, err := detector.DetectPage(ctx, page)
			if err != nil {
				logger.Warn("detection failed, page will have no questions",
					"file", page.FileName, "page", page.PageNumber, "error", err)
				continue
			}
			page.Detections = dets
			detected++
			logger.Info("detected questions",
				"file", page.FileName, "page", page.PageNumber, "count", len(dets))
		}
		if detected == 0 {
			return fmt.Errorf("detection failed for all %d pages", len(pages))
		}

		p := pool.New(pool.Config{
			Logger:      logger,
			Concurrency: cfg.Assembly.Concurrency,
		})
		go p.Start(ctx)

		// Config edits while a run is in flight adjust the pool ceiling.
		cm.OnChange(func(c *config.Config) {
			p.SetConcurrency(c.Assembly.Concurrency)
		})
		cm.WatchConfig()

		asm := assemble.New(p, logger)
		imgs, stats, err := asm.Generate(ctx, pages, cfg.Assembly, func(pr assemble.Progress) {
			logger.Debug("assembly progress", "stage", pr.Stage, "done", pr.Done, "total", pr.Total)
		})
		if err != nil {
			return err
		}

		st, err := store.Open(h.StorePath(), logger)
		if err != nil {
			return err
		}
		defer st.Close()

		name := processName
		if name == "" {
			name = defaultExamName(args[0])
		}
		pageVals := make([]questions.Page, len(pages))
		for i, pg := range pages {
			pageVals[i] = *pg
		}
		examID, err := st.Save("", name, pageVals, imgs)
		if err != nil {
			return err
		}

		return cli.Output(struct {
			ExamID    string `json:"examId" yaml:"examId"`
			Name      string `json:"name" yaml:"name"`
			Pages     int    `json:"pages" yaml:"pages"`
			Questions int    `json:"questions" yaml:"questions"`
			Assembled int    `json:"assembled" yaml:"assembled"`
			Failed    int    `json:"failed" yaml:"failed"`
			Orphans   int    `json:"orphans" yaml:"orphans"`
		}{
			ExamID:    examID,
			Name:      name,
			Pages:     len(pages),
			Questions: stats.Questions,
			Assembled: stats.Assembled,
			Failed:    stats.Failed,
			Orphans:   stats.Orphans,
		})
	},
}

// defaultExamName derives a display name from the first PDF's base name.
func defaultExamName(pdfPath string) string {
	base := filepath.Base(pdfPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func init() {
	processCmd.Flags().StringVar(&processName, "name", "", "Exam display name (default: first PDF's base name)")
	processCmd.Flags().IntVar(&processDPI, "dpi", 0, "Render resolution override")

	rootCmd.AddCommand(processCmd)
}
