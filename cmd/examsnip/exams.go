package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/examsnip/examsnip/internal/cli"
	"github.com/examsnip/examsnip/internal/config"
	"github.com/examsnip/examsnip/internal/home"
	"github.com/examsnip/examsnip/internal/store"
)

// openStore loads config, builds the logger, and opens the chunked store.
func openStore() (*store.Store, error) {
	cm, err := config.NewManager(cfgFile)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cm.Get().LogLevel)

	h, err := home.New(homeDir)
	if err != nil {
		return nil, err
	}
	if !h.Exists() {
		return nil, fmt.Errorf("home directory %s does not exist, run a process first", h.Path())
	}
	return store.Open(h.StorePath(), logger)
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored exams, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		exams, err := st.List()
		if err != nil {
			return err
		}
		return cli.Output(exams)
	},
}

var showExtractDir string

var showCmd = &cobra.Command{
	Use:   "show <exam-id>",
	Short: "Show one exam's pages and questions",
	Long: `Show prints an exam's metadata, page records, and question records.
Binary image data stays in the store; each record reports its chunk key
and hydration state instead.

With --extract, the final question images are hydrated and written as
PNG files into the given directory.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		exam, err := st.Load(args[0])
		if err != nil {
			return err
		}

		if showExtractDir != "" {
			n, err := extractQuestions(st, exam, showExtractDir)
			if err != nil {
				return err
			}
			fmt.Printf("wrote %d question images to %s\n", n, showExtractDir)
		}

		return cli.Output(struct {
			Meta      store.ExamMeta         `json:"meta" yaml:"meta"`
			Pages     []store.PageRecord     `json:"pages" yaml:"pages"`
			Questions []store.QuestionRecord `json:"questions" yaml:"questions"`
		}{
			Meta:      exam.Meta,
			Pages:     exam.RawPages,
			Questions: exam.Questions,
		})
	},
}

// extractQuestions hydrates each question's final image and writes it to dir.
func extractQuestions(st *store.Store, exam *store.Exam, dir string) (int, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create output directory: %w", err)
	}

	written := 0
	for i := range exam.Questions {
		q := &exam.Questions[i]
		ok, err := st.Hydrate(&q.Final)
		if err != nil {
			return written, err
		}
		if !ok {
			continue
		}
		name := fmt.Sprintf("%s_%s.png", q.FileName, q.ID)
		if err := os.WriteFile(filepath.Join(dir, name), q.Final.Data, 0o644); err != nil {
			return written, fmt.Errorf("failed to write %s: %w", name, err)
		}
		written++
	}
	return written, nil
}

var deleteCmd = &cobra.Command{
	Use:   "delete <exam-id> [more-ids...]",
	Short: "Delete exams and all their chunks",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.DeleteMany(args); err != nil {
			return err
		}
		return cli.Output(struct {
			Deleted []string `json:"deleted" yaml:"deleted"`
		}{Deleted: args})
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup <exam-id>",
	Short: "Remove duplicate page records from an exam",
	Long: `Cleanup deduplicates an exam's page records by (file, page number),
keeping the record with more detections when duplicates disagree.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		removed, err := st.Cleanup(args[0])
		if err != nil {
			return err
		}
		return cli.Output(struct {
			ExamID  string `json:"examId" yaml:"examId"`
			Removed int    `json:"removed" yaml:"removed"`
		}{ExamID: args[0], Removed: removed})
	},
}

func init() {
	showCmd.Flags().StringVar(&showExtractDir, "extract", "", "Write final question images to this directory")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(cleanupCmd)
}
