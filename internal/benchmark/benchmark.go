// Package benchmark bundles the constant parameters of a benchmark (dataset,
// model, adapters, thresholds) so a caller can run many file sets against
// them, and reads finished results files back for scoring.
package benchmark

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docbench/internal/common"
	"github.com/joseph-ayodele/docbench/internal/dataset"
	"github.com/joseph-ayodele/docbench/internal/extract"
	"github.com/joseph-ayodele/docbench/internal/metrics"
	"github.com/joseph-ayodele/docbench/internal/ratelimit"
	"github.com/joseph-ayodele/docbench/internal/scheduler"
	"github.com/joseph-ayodele/docbench/internal/store"
)

// Config is everything about a benchmark that stays fixed across runs.
type Config struct {
	Dataset      string
	DatasetsDir  string
	OutputDir    string
	Model        string
	Temperature  float64
	KVThreshold  float64
	CanonicalTau float64
	Schema       extract.Schema
}

// Run describes one finished run; it is what the ledger records.
type Run struct {
	ID          string
	Dataset     string
	Model       string
	Fewshot     bool
	Temperature float64
	Iteration   int
	Report      scheduler.Report
	Score       float64
	StartedAt   time.Time
	FinishedAt  time.Time
}

type Benchmarker struct {
	cfg       Config
	ocr       extract.OCRAdapter
	llm       extract.LLMAdapter
	limiter   *ratelimit.Limiter
	logger    *slog.Logger
	schedOpts []scheduler.Option
}

func New(cfg Config, ocr extract.OCRAdapter, llm extract.LLMAdapter, limiter *ratelimit.Limiter, logger *slog.Logger, opts ...scheduler.Option) *Benchmarker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "benchmarks"
	}
	if cfg.DatasetsDir == "" {
		cfg.DatasetsDir = "datasets"
	}
	if cfg.KVThreshold == 0 {
		cfg.KVThreshold = metrics.DefaultThreshold
	}
	if cfg.CanonicalTau == 0 {
		cfg.CanonicalTau = metrics.DefaultTau
	}
	return &Benchmarker{cfg: cfg, ocr: ocr, llm: llm, limiter: limiter, logger: logger, schedOpts: opts}
}

func (b *Benchmarker) Config() Config { return b.cfg }

// Layout is the dataset directory this benchmark reads from.
func (b *Benchmarker) Layout() dataset.Layout {
	return dataset.NewLayout(b.cfg.DatasetsDir, b.cfg.Dataset)
}

// Run benchmarks fileSet with systemPrompt. The results file name encodes
// dataset, model, fewshot, temperature and a non-zero iteration.
func (b *Benchmarker) Run(ctx context.Context, fileSet []string, systemPrompt string, fewshot bool, iteration int) (Run, error) {
	run := Run{
		ID:          uuid.New().String(),
		Dataset:     b.cfg.Dataset,
		Model:       b.cfg.Model,
		Fewshot:     fewshot,
		Temperature: b.cfg.Temperature,
		Iteration:   iteration,
		StartedAt:   time.Now().UTC(),
	}
	ctx = common.WithRunID(ctx, run.ID)
	logger := common.LoggerFromContext(ctx, b.logger)

	path := ResultsPath(b.cfg.OutputDir, b.cfg.Dataset, b.cfg.Model, fewshot, b.cfg.Temperature, iteration)
	results, err := store.Open(path, logger)
	if err != nil {
		return run, fmt.Errorf("open results: %w", err)
	}

	evaluator := metrics.Evaluator{Dataset: b.cfg.Dataset, Threshold: b.cfg.KVThreshold, Tau: b.cfg.CanonicalTau}
	sched := scheduler.New(b.ocr, b.llm, b.limiter, results, evaluator, logger, b.schedOpts...)

	rep, runErr := sched.Run(ctx, b.Layout().Tasks(fileSet), scheduler.ExtractionRequest{
		SystemPrompt: systemPrompt,
		Schema:       b.cfg.Schema,
		Model:        b.cfg.Model,
		Temperature:  b.cfg.Temperature,
	})
	run.Report = rep
	run.FinishedAt = time.Now().UTC()
	run.Score = metrics.MeanScore(toMetrics(results.Results()))

	logger.Info("benchmark.run.done",
		"dataset", run.Dataset,
		"model", run.Model,
		"fewshot", fewshot,
		"iteration", iteration,
		"succeeded", rep.Succeeded,
		"total", rep.Total,
		"score", run.Score,
		"results_path", rep.ResultsPath,
	)
	return run, runErr
}

// ResultsPath builds <dir>/<dataset>_<model>_<fewshot>_<temperature>[_<iteration>].json.
// The temperature always carries a decimal point (1 -> "1.0").
func ResultsPath(dir, dataset, model string, fewshot bool, temperature float64, iteration int) string {
	name := fmt.Sprintf("%s_%s_%t_%s", dataset, model, fewshot, FormatTemperature(temperature))
	if iteration != 0 {
		name += "_" + strconv.Itoa(iteration)
	}
	return filepath.Join(dir, name+".json")
}

// FormatTemperature prints the shortest decimal form with at least one
// fractional digit.
func FormatTemperature(t float64) string {
	s := strconv.FormatFloat(t, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

func toMetrics(records map[string]store.ResultRecord) map[string]metrics.Result {
	out := make(map[string]metrics.Result, len(records))
	for id, rec := range records {
		out[id] = rec.Result
	}
	return out
}
