// Package main provides the docbench CLI: it runs OCR + LLM extraction
// benchmarks over a labelled dataset and inspects the results they produce.
//
// # Basic Usage
//
// Benchmark the test split of CORD with few-shot prompting:
//
//	docbench split --dataset cord --out cord_split.json
//	docbench fewshot --dataset cord --split cord_split.json
//	docbench run --dataset cord --split cord_split.json --fewshot
//
// Inspect a results file:
//
//	docbench score benchmarks/cord_gpt-4o-mini_true_0.3.json
//	docbench top benchmarks/cord_gpt-4o-mini_true_0.3.json -n 5 --mode worst
//	docbench export benchmarks/cord_gpt-4o-mini_true_0.3.json
//
// # Environment Variables
//
// Settings are read from the environment (and from .env when present):
//
//   - DOCBENCH_DATASETS_DIR, DOCBENCH_OUTPUT_DIR, DOCBENCH_DATASET, DOCBENCH_MODEL
//   - DOCBENCH_OCR_WORKERS, DOCBENCH_LLM_WORKERS, DOCBENCH_MAX_RETRIES
//   - OCR_ENGINE (gosseract | tesseract), TESSDATA_PREFIX
//   - LLM_PROVIDER (openai | azure), OPENAI_API_KEY, AZUREOPENAI_BASE_URI
//   - DOCBENCH_LEDGER_DSN: sqlite path or postgres:// URL for the run ledger
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/docbench/internal/common"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	logLevel    string
	configPath  string
	envFile     string
	metricsAddr string
}

var global globalFlags

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("docbench failed", "error", err, "code", common.ErrorCode(err))
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "docbench",
		Short:         "Benchmark OCR + LLM document extraction against ground truth",
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadEnvFile(global.envFile); err != nil {
				return err
			}
			logger, err := newLogger(global.logLevel)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&global.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	pf.StringVar(&global.configPath, "config", "", "YAML file overriding benchmark settings")
	pf.StringVar(&global.envFile, "env-file", ".env", "Dotenv file loaded before reading the environment")
	pf.StringVar(&global.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during a run")

	root.AddCommand(
		buildRunCmd(),
		buildSplitCmd(),
		buildFewshotCmd(),
		buildScoreCmd(),
		buildTopCmd(),
		buildEvalCmd(),
		buildExportCmd(),
		buildWatchCmd(),
		buildRunsCmd(),
	)
	return root
}

// loadEnvFile loads a dotenv file; a missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// newLogger builds the JSON logger on stderr so stdout stays free for
// command output.
func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info", "":
		lvl = slog.LevelInfo
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, common.InvalidInputf("unknown log level %q", level)
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}

// loadConfig reads the environment and applies the --config overlay.
func loadConfig() (*common.Config, error) {
	cfg := common.LoadConfig()
	if global.configPath != "" {
		if err := cfg.ApplyOverlay(global.configPath); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
