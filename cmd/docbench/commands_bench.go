package main

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/docbench/constants"
	"github.com/joseph-ayodele/docbench/internal/benchmark"
)

// =============================================================================
// Benchmark Commands
// =============================================================================

var datasetUsage = "Dataset name (" + strings.Join(constants.KnownDatasets(), ", ") + ", or a flat-annotation dataset)"

// benchFlags override the matching config fields when set on the command line.
type benchFlags struct {
	dataset     string
	model       string
	temperature float64
	ocrWorkers  int
	llmWorkers  int
	maxRetries  int
	ocrTimeout  time.Duration
	llmTimeout  time.Duration
}

func (f *benchFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.dataset, "dataset", "", datasetUsage)
	fl.StringVar(&f.model, "model", "", "Model or Azure deployment name")
	fl.Float64Var(&f.temperature, "temperature", 0, "Sampling temperature")
	fl.IntVar(&f.ocrWorkers, "ocr-workers", 0, "Concurrent OCR calls")
	fl.IntVar(&f.llmWorkers, "llm-workers", 0, "Concurrent LLM calls")
	fl.IntVar(&f.maxRetries, "max-retries", 0, "Retries per stage after the first attempt (0-2)")
	fl.DurationVar(&f.ocrTimeout, "ocr-timeout", 0, "Per-attempt OCR timeout")
	fl.DurationVar(&f.llmTimeout, "llm-timeout", 0, "Per-attempt LLM timeout")
}

// buildRunCmd creates the "run" command.
func buildRunCmd() *cobra.Command {
	var (
		bf        benchFlags
		fewshot   bool
		iteration int
		files     []string
		splitPath string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a benchmark over a dataset",
		Long: `Run OCR and LLM extraction over a set of files and score every prediction
against its ground truth.

The file set is, in order of precedence:
- the ids given with --files
- the test ids of a split file written by "docbench split"
- every annotated file of the dataset

Results and failures are written next to each other in the output directory.
When DOCBENCH_LEDGER_DSN is set the run is also recorded in the ledger.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBenchmark(cmd, bf, runOptions{
				fewshot:   fewshot,
				iteration: iteration,
				files:     files,
				splitPath: splitPath,
			})
		},
	}
	bf.register(cmd)
	cmd.Flags().BoolVar(&fewshot, "fewshot", false, "Append the dataset's few-shot examples to the system prompt")
	cmd.Flags().IntVar(&iteration, "iteration", 0, "Iteration number appended to the results file name when non-zero")
	cmd.Flags().StringSliceVar(&files, "files", nil, "File ids to benchmark")
	cmd.Flags().StringVar(&splitPath, "split", "", "Split file whose test ids are benchmarked")
	return cmd
}

// buildSplitCmd creates the "split" command.
func buildSplitCmd() *cobra.Command {
	var (
		dataset   string
		trainSize int
		maxTest   int
		specific  []string
		seed      int64
		out       string
	)

	cmd := &cobra.Command{
		Use:   "split",
		Short: "Pick random train and test file sets",
		Long: `Pick a random training set from a dataset's annotations and return the
remaining files as the test set. The training set feeds "docbench fewshot";
the test set feeds "docbench run --split".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSplit(cmd, splitOptions{
				dataset:   dataset,
				trainSize: trainSize,
				maxTest:   maxTest,
				specific:  specific,
				seed:      seed,
				seedSet:   cmd.Flags().Changed("seed"),
				out:       out,
			})
		},
	}
	cmd.Flags().StringVar(&dataset, "dataset", "", datasetUsage)
	cmd.Flags().IntVar(&trainSize, "train-size", 3, "Number of training files")
	cmd.Flags().IntVar(&maxTest, "max-test", 0, "Sample the test set down to this size (0 keeps all)")
	cmd.Flags().StringSliceVar(&specific, "train", nil, "Use exactly these training ids")
	cmd.Flags().Int64Var(&seed, "seed", 0, "Random seed (default: time based)")
	cmd.Flags().StringVar(&out, "out", "", "Write the split to this file instead of stdout")
	return cmd
}

// buildFewshotCmd creates the "fewshot" command.
func buildFewshotCmd() *cobra.Command {
	var (
		dataset   string
		files     []string
		splitPath string
		workers   int
	)

	cmd := &cobra.Command{
		Use:   "fewshot",
		Short: "Build the few-shot examples file from training files",
		Long: `OCR each training file and pair the text with its ground truth. The
examples are written to <prompts-dir>/<dataset>/fewshot_examples.txt, where
"docbench run --fewshot" picks them up.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFewshot(cmd, fewshotOptions{
				dataset:   dataset,
				files:     files,
				splitPath: splitPath,
				workers:   workers,
			})
		},
	}
	cmd.Flags().StringVar(&dataset, "dataset", "", datasetUsage)
	cmd.Flags().StringSliceVar(&files, "files", nil, "Training file ids")
	cmd.Flags().StringVar(&splitPath, "split", "", "Split file whose train ids are used")
	cmd.Flags().IntVar(&workers, "workers", benchmark.DefaultFewshotWorkers, "Concurrent OCR calls")
	return cmd
}
