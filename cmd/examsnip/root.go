package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/examsnip/examsnip/internal/cli"
	"github.com/examsnip/examsnip/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "examsnip",
	Short: "Extract per-question images from scanned exam PDFs",
	Long: `Examsnip turns scanned exam PDFs into one clean image per question.

The pipeline includes:
  - PDF rasterization at configurable DPI
  - Vision-model detection of question regions
  - Cross-page continuation stitching
  - Whitespace trimming and per-file width alignment
  - A local chunked store for browsing past runs`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.examsnip/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "examsnip home directory (default: ~/.examsnip)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)

	// Set output format before any command runs
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		cli.SetOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(versionCmd)
}

// newLogger builds the CLI logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	}))
}
