package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/docbench/internal/benchmark"
	"github.com/joseph-ayodele/docbench/internal/dataset"
	"github.com/joseph-ayodele/docbench/internal/export"
	"github.com/joseph-ayodele/docbench/internal/metrics"
	"github.com/joseph-ayodele/docbench/internal/repository"
	"github.com/joseph-ayodele/docbench/internal/watch"
)

// =============================================================================
// Results Command Handlers
// =============================================================================

type evalOptions struct {
	gtPath    string
	predPath  string
	dataset   string
	threshold float64
	tau       float64
}

// runScore handles the score command.
func runScore(cmd *cobra.Command, path string) error {
	score, err := benchmark.ScoreFile(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%.4f\n", score)
	return nil
}

// runTop handles the top command.
func runTop(cmd *cobra.Command, path string, n int, mode benchmark.Mode) error {
	ranked, err := benchmark.Rank(path, mode)
	if err != nil {
		return err
	}
	if n >= 0 && n < len(ranked) {
		ranked = ranked[:n]
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"#", "File", "Score"})
	for i, fs := range ranked {
		table.Append([]string{strconv.Itoa(i + 1), fs.FileID, fmt.Sprintf("%.4f", fs.Score)})
	}
	table.Render()
	return nil
}

// runEval handles the eval command.
func runEval(cmd *cobra.Command, opts evalOptions) error {
	if opts.dataset == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		opts.dataset = cfg.Bench.Dataset
	}
	gt, err := dataset.LoadAnnotation(opts.gtPath)
	if err != nil {
		return err
	}
	pred, err := os.ReadFile(opts.predPath)
	if err != nil {
		return fmt.Errorf("read prediction: %w", err)
	}
	res, err := metrics.Evaluate(opts.dataset, gt, pred, opts.threshold, opts.tau)
	if err != nil {
		return err
	}
	printResult(cmd.OutOrStdout(), res)
	return nil
}

func printResult(w io.Writer, r metrics.Result) {
	f := func(v float64) string { return fmt.Sprintf("%.4f", v) }
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Metric", "Fuzzy", "Exact"})
	table.Append([]string{"KV F1", f(r.KVF1Fuzzy), f(r.KVF1Exact)})
	table.Append([]string{"Precision", f(r.FuzzyPrecision), f(r.ExactPrecision)})
	table.Append([]string{"Recall", f(r.FuzzyRecall), f(r.ExactRecall)})
	table.Append([]string{"Accuracy", f(r.FuzzyAccuracy), f(r.ExactAccuracy)})
	table.Append([]string{"TP / FP / FN", confusion(r.FuzzyTP, r.FuzzyFP, r.FuzzyFN), confusion(r.ExactTP, r.ExactFP, r.ExactFN)})
	table.Render()

	fmt.Fprintf(w, "Canonical F1:        %s\n", f(r.CanonicalF1))
	fmt.Fprintf(w, "Value quality score: %s\n", f(r.ValueQualityScore))
	fmt.Fprintf(w, "Pairs (GT / pred):   %d / %d\n", r.TotalGTPairs, r.TotalPredPairs)
	fmt.Fprintf(w, "File score:          %s\n", f(r.Score()))
}

func confusion(tp, fp, fn int) string {
	return fmt.Sprintf("%d / %d / %d", tp, fp, fn)
}

// runExport handles the export command.
func runExport(cmd *cobra.Command, path, out string) error {
	if out == "" {
		out = strings.TrimSuffix(path, ".json") + ".xlsx"
	}
	data, err := export.NewService(slog.Default()).ResultsXLSX(path)
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", out)
	return nil
}

// runWatch handles the watch command. It returns when interrupted.
func runWatch(cmd *cobra.Command, dir string, initial bool, debounce time.Duration) error {
	if dir == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		dir = cfg.Bench.OutputDir
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	snaps, errs, err := watch.Start(ctx, watch.Config{Dir: dir, InitialScan: initial, Debounce: debounce}, slog.Default())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for snaps != nil || errs != nil {
		select {
		case s, ok := <-snaps:
			if !ok {
				snaps = nil
				continue
			}
			fmt.Fprintf(out, "%s  %-60s scored=%d failed=%d score=%.4f\n",
				s.At.Format(time.TimeOnly), s.ResultsPath, s.Scored, s.Failed, s.Score)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			slog.Warn("watch.error", "error", err)
		}
	}
	return nil
}

// runListRuns handles the runs command without an id.
func runListRuns(cmd *cobra.Command, ds string, limit int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	ledger, err := openLedger(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer ledger.Close()

	runs, err := ledger.ListRuns(ctx, ds, limit)
	if err != nil {
		return err
	}
	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"Started", "Run ID", "Dataset", "Model", "Few-shot", "Temp", "Iter", "OK/Total", "Score"})
	for _, r := range runs {
		table.Append(runRow(r))
	}
	table.Render()
	return nil
}

// runShowRun handles the runs command with an id.
func runShowRun(cmd *cobra.Command, id string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	ledger, err := openLedger(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer ledger.Close()

	r, err := ledger.GetRun(ctx, id)
	if err != nil {
		return err
	}
	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"Field", "Value"})
	table.SetAutoWrapText(false)
	table.Append([]string{"Run ID", r.ID})
	table.Append([]string{"Dataset", r.Dataset})
	table.Append([]string{"Model", r.Model})
	table.Append([]string{"Few-shot", strconv.FormatBool(r.Fewshot)})
	table.Append([]string{"Temperature", benchmark.FormatTemperature(r.Temperature)})
	table.Append([]string{"Iteration", strconv.Itoa(r.Iteration)})
	table.Append([]string{"Succeeded", strconv.Itoa(r.Succeeded)})
	table.Append([]string{"Failed", strconv.Itoa(r.Failed)})
	table.Append([]string{"Score", fmt.Sprintf("%.4f", r.Score)})
	table.Append([]string{"Started", r.StartedAt.Format(time.RFC3339)})
	table.Append([]string{"Finished", r.FinishedAt.Format(time.RFC3339)})
	table.Append([]string{"Results", r.ResultsPath})
	table.Render()
	return nil
}

func runRow(r repository.RunRecord) []string {
	return []string{
		r.StartedAt.Local().Format("2006-01-02 15:04"),
		r.ID,
		r.Dataset,
		r.Model,
		strconv.FormatBool(r.Fewshot),
		benchmark.FormatTemperature(r.Temperature),
		strconv.Itoa(r.Iteration),
		fmt.Sprintf("%d/%d", r.Succeeded, r.Total),
		fmt.Sprintf("%.4f", r.Score),
	}
}
