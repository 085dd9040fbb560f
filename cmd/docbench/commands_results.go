package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/docbench/internal/benchmark"
	"github.com/joseph-ayodele/docbench/internal/metrics"
)

// =============================================================================
// Results Commands
// =============================================================================

// buildScoreCmd creates the "score" command.
func buildScoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "score <results.json>",
		Short: "Print the run score of a results file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScore(cmd, args[0])
		},
	}
}

// buildTopCmd creates the "top" command.
func buildTopCmd() *cobra.Command {
	var (
		n    int
		mode string
	)
	cmd := &cobra.Command{
		Use:   "top <results.json>",
		Short: "List the best or worst scoring files of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTop(cmd, args[0], n, benchmark.Mode(mode))
		},
	}
	cmd.Flags().IntVarP(&n, "count", "n", 5, "Number of files")
	cmd.Flags().StringVar(&mode, "mode", string(benchmark.ModeBest), "best or worst")
	return cmd
}

// buildEvalCmd creates the "eval" command.
func buildEvalCmd() *cobra.Command {
	var (
		dataset   string
		threshold float64
		tau       float64
	)
	cmd := &cobra.Command{
		Use:   "eval <ground-truth.json> <prediction.json>",
		Short: "Score one prediction against its ground truth",
		Long: `Flatten a ground-truth document and a prediction with the dataset's
adapter and print every metric the benchmark records for a file.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEval(cmd, evalOptions{
				gtPath:    args[0],
				predPath:  args[1],
				dataset:   dataset,
				threshold: threshold,
				tau:       tau,
			})
		},
	}
	cmd.Flags().StringVar(&dataset, "dataset", "", "Dataset adapter (cord, funsd, or flat)")
	cmd.Flags().Float64Var(&threshold, "threshold", metrics.DefaultThreshold, "Fuzzy match distance threshold")
	cmd.Flags().Float64Var(&tau, "tau", metrics.DefaultTau, "Canonical F1 similarity cutoff")
	return cmd
}

// buildExportCmd creates the "export" command.
func buildExportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export <results.json>",
		Short: "Export a results file to an XLSX workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, args[0], out)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Workbook path (default: results path with .xlsx)")
	return cmd
}

// buildWatchCmd creates the "watch" command.
func buildWatchCmd() *cobra.Command {
	var (
		initial  bool
		debounce time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch [dir]",
		Short: "Follow the results files of running benchmarks",
		Long: `Watch a benchmark output directory and print a line each time a results
file or its failure log changes. The directory defaults to the configured
output directory.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := ""
			if len(args) == 1 {
				dir = args[0]
			}
			return runWatch(cmd, dir, initial, debounce)
		},
	}
	cmd.Flags().BoolVar(&initial, "initial", true, "Print existing results files first")
	cmd.Flags().DurationVar(&debounce, "debounce", 500*time.Millisecond, "Coalesce bursts of writes")
	return cmd
}

// buildRunsCmd creates the "runs" command.
func buildRunsCmd() *cobra.Command {
	var (
		dataset string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List runs recorded in the ledger, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return runShowRun(cmd, args[0])
			}
			return runListRuns(cmd, dataset, limit)
		},
	}
	cmd.Flags().StringVar(&dataset, "dataset", "", "Only runs of this dataset")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum rows")
	return cmd
}
