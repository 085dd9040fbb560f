package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/docbench/internal/benchmark"
	"github.com/joseph-ayodele/docbench/internal/common"
	"github.com/joseph-ayodele/docbench/internal/dataset"
	"github.com/joseph-ayodele/docbench/internal/extract"
	"github.com/joseph-ayodele/docbench/internal/llm"
	"github.com/joseph-ayodele/docbench/internal/llm/openai"
	"github.com/joseph-ayodele/docbench/internal/ocr"
	"github.com/joseph-ayodele/docbench/internal/ratelimit"
	"github.com/joseph-ayodele/docbench/internal/repository"
	"github.com/joseph-ayodele/docbench/internal/scheduler"
	"github.com/joseph-ayodele/docbench/internal/schema"
)

// =============================================================================
// Benchmark Command Handlers
// =============================================================================

type runOptions struct {
	fewshot   bool
	iteration int
	files     []string
	splitPath string
}

type splitOptions struct {
	dataset   string
	trainSize int
	maxTest   int
	specific  []string
	seed      int64
	seedSet   bool
	out       string
}

type fewshotOptions struct {
	dataset   string
	files     []string
	splitPath string
	workers   int
}

// splitFile is what "docbench split" writes and --split reads.
type splitFile struct {
	Dataset string   `json:"dataset"`
	Seed    int64    `json:"seed"`
	Train   []string `json:"train"`
	Test    []string `json:"test"`
}

// runBenchmark handles the run command.
func runBenchmark(cmd *cobra.Command, bf benchFlags, opts runOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyBenchFlags(cmd, cfg, bf)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.ValidateLLM(); err != nil {
		return err
	}
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	desc, err := schema.For(cfg.Bench.Dataset)
	if err != nil {
		return err
	}
	prompt, err := llm.LoadSystemPrompt(cfg.Bench.PromptsDir, cfg.Bench.Dataset, opts.fewshot)
	if err != nil {
		return err
	}
	client, err := openai.NewClient(openai.Config{
		Provider:   cfg.LLM.Provider,
		APIKey:     cfg.LLM.APIKey,
		BaseURL:    cfg.LLM.BaseURL,
		APIVersion: cfg.LLM.APIVersion,
		Timeout:    cfg.LLM.Timeout,
	}, logger)
	if err != nil {
		return common.NewAppError("CONFIG_ERROR", "failed to create LLM client", err)
	}

	metrics := scheduler.NewMetrics(prometheus.DefaultRegisterer)
	if global.metricsAddr != "" {
		shutdown := startMetricsServer(global.metricsAddr, logger)
		defer shutdown()
	}

	bench := benchmark.New(benchConfig(cfg, desc), newOCREngine(cfg, logger), client,
		ratelimit.NewLimiter(cfg.Bench.OCRMinInterval), logger,
		schedulerOptions(cfg, metrics)...)

	ids, err := resolveFileSet(bench.Layout(), opts.files, opts.splitPath, false)
	if err != nil {
		return err
	}
	logger.Info("benchmark.start",
		"dataset", cfg.Bench.Dataset,
		"model", cfg.Bench.Model,
		"fewshot", opts.fewshot,
		"files", len(ids),
	)

	run, runErr := bench.Run(ctx, ids, prompt, opts.fewshot, opts.iteration)
	if cfg.Database.DSN != "" && run.Report.ResultsPath != "" {
		// A cancelled run is still recorded with what it finished.
		recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		if err := recordRun(recordCtx, cfg, run, logger); err != nil {
			logger.Error("ledger.record_failed", "run_id", run.ID, "error", err)
		}
		cancel()
	}
	printRunReport(cmd.OutOrStdout(), run)
	return runErr
}

// applyBenchFlags copies every flag the user set over the loaded config.
func applyBenchFlags(cmd *cobra.Command, cfg *common.Config, bf benchFlags) {
	fl := cmd.Flags()
	if fl.Changed("dataset") {
		cfg.Bench.Dataset = bf.dataset
	}
	if fl.Changed("model") {
		cfg.Bench.Model = bf.model
	}
	if fl.Changed("temperature") {
		cfg.Bench.Temperature = bf.temperature
	}
	if fl.Changed("ocr-workers") {
		cfg.Bench.OCRWorkers = bf.ocrWorkers
	}
	if fl.Changed("llm-workers") {
		cfg.Bench.LLMWorkers = bf.llmWorkers
	}
	if fl.Changed("max-retries") {
		cfg.Bench.MaxRetries = bf.maxRetries
	}
	if fl.Changed("ocr-timeout") {
		cfg.Bench.OCRTimeout = bf.ocrTimeout
	}
	if fl.Changed("llm-timeout") {
		cfg.Bench.LLMTimeout = bf.llmTimeout
	}
}

func benchConfig(cfg *common.Config, s extract.Schema) benchmark.Config {
	return benchmark.Config{
		Dataset:      cfg.Bench.Dataset,
		DatasetsDir:  cfg.Bench.DatasetsDir,
		OutputDir:    cfg.Bench.OutputDir,
		Model:        cfg.Bench.Model,
		Temperature:  cfg.Bench.Temperature,
		KVThreshold:  cfg.Bench.KVThreshold,
		CanonicalTau: cfg.Bench.CanonicalTau,
		Schema:       s,
	}
}

func schedulerOptions(cfg *common.Config, m *scheduler.Metrics) []scheduler.Option {
	return []scheduler.Option{
		scheduler.WithOCRWorkers(cfg.Bench.OCRWorkers),
		scheduler.WithLLMWorkers(cfg.Bench.LLMWorkers),
		scheduler.WithStageTimeouts(cfg.Bench.OCRTimeout, cfg.Bench.LLMTimeout),
		scheduler.WithPollInterval(cfg.Bench.PollInterval),
		scheduler.WithMaxRetries(cfg.Bench.MaxRetries),
		scheduler.WithMetrics(m),
	}
}

// newOCREngine picks the in-process engine or the tesseract CLI.
func newOCREngine(cfg *common.Config, logger *slog.Logger) extract.OCRAdapter {
	if cfg.OCR.Engine == "tesseract" {
		return ocr.NewEngine(ocr.Config{
			Tesseract:   cfg.OCR.TesseractBin,
			Language:    cfg.OCR.Language,
			TessdataDir: cfg.OCR.TessdataDir,
		}, logger)
	}
	return newInProcessOCR(cfg, logger)
}

// startMetricsServer serves /metrics until the returned func is called.
func startMetricsServer(addr string, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("metrics.listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics.serve_failed", "addr", addr, "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func openLedger(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*repository.Ledger, error) {
	if cfg.Database.DSN == "" {
		return nil, common.NewAppError("CONFIG_ERROR", "DOCBENCH_LEDGER_DSN is required", common.ErrInvalidInput)
	}
	ledger, err := repository.Open(ctx, repository.Config{
		DSN:             cfg.Database.DSN,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		DialTimeout:     cfg.Database.DialTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}
	if err := ledger.Migrate(ctx); err != nil {
		ledger.Close()
		return nil, err
	}
	return ledger, nil
}

func recordRun(ctx context.Context, cfg *common.Config, run benchmark.Run, logger *slog.Logger) error {
	ledger, err := openLedger(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer ledger.Close()

	return ledger.RecordRun(ctx, repository.RunRecord{
		ID:          run.ID,
		Dataset:     run.Dataset,
		Model:       run.Model,
		Fewshot:     run.Fewshot,
		Temperature: run.Temperature,
		Iteration:   run.Iteration,
		ResultsPath: run.Report.ResultsPath,
		Total:       run.Report.Total,
		Succeeded:   run.Report.Succeeded,
		Failed:      run.Report.Failed,
		Score:       run.Score,
		StartedAt:   run.StartedAt,
		FinishedAt:  run.FinishedAt,
	})
}

// resolveFileSet returns explicit ids, else one side of a split file, else
// every annotated id of the dataset.
func resolveFileSet(layout dataset.Layout, files []string, splitPath string, train bool) ([]string, error) {
	if len(files) > 0 {
		return files, nil
	}
	if splitPath != "" {
		split, err := readSplit(splitPath)
		if err != nil {
			return nil, err
		}
		if train {
			return split.Train, nil
		}
		return split.Test, nil
	}
	if train {
		return nil, common.InvalidInputf("training ids are required: pass --files or --split")
	}
	return layout.ListIDs()
}

func readSplit(path string) (splitFile, error) {
	var split splitFile
	data, err := os.ReadFile(path)
	if err != nil {
		return split, common.WrapError(err, "read split")
	}
	if err := json.Unmarshal(data, &split); err != nil {
		return split, common.InvalidInputf("split file %s: %v", path, err)
	}
	return split, nil
}

func printRunReport(w io.Writer, run benchmark.Run) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Field", "Value"})
	table.SetAutoWrapText(false)
	table.Append([]string{"Run ID", run.ID})
	table.Append([]string{"Dataset", run.Dataset})
	table.Append([]string{"Model", run.Model})
	table.Append([]string{"Few-shot", strconv.FormatBool(run.Fewshot)})
	table.Append([]string{"Temperature", benchmark.FormatTemperature(run.Temperature)})
	table.Append([]string{"Files", strconv.Itoa(run.Report.Total)})
	table.Append([]string{"Succeeded", strconv.Itoa(run.Report.Succeeded)})
	table.Append([]string{"Failed", strconv.Itoa(run.Report.Failed)})
	table.Append([]string{"Score", fmt.Sprintf("%.4f", run.Score)})
	table.Append([]string{"Elapsed", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond).String()})
	table.Append([]string{"Results", run.Report.ResultsPath})
	table.Append([]string{"Failures", run.Report.FailuresPath})
	table.Render()
}

// runSplit handles the split command.
func runSplit(cmd *cobra.Command, opts splitOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if opts.dataset != "" {
		cfg.Bench.Dataset = opts.dataset
	}
	ids, err := dataset.NewLayout(cfg.Bench.DatasetsDir, cfg.Bench.Dataset).ListIDs()
	if err != nil {
		return err
	}

	seed := opts.seed
	if !opts.seedSet {
		seed = time.Now().UnixNano()
	}
	train, test, err := dataset.SplitTrainTest(ids, opts.trainSize, opts.maxTest, opts.specific, rand.New(rand.NewSource(seed)))
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(splitFile{Dataset: cfg.Bench.Dataset, Seed: seed, Train: train, Test: test}, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if opts.out == "" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(opts.out, data, 0o644); err != nil {
		return fmt.Errorf("write split: %w", err)
	}
	slog.Info("split.written", "path", opts.out, "train", len(train), "test", len(test))
	return nil
}

// runFewshot handles the fewshot command.
func runFewshot(cmd *cobra.Command, opts fewshotOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if opts.dataset != "" {
		cfg.Bench.Dataset = opts.dataset
	}
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bench := benchmark.New(benchConfig(cfg, nil), newOCREngine(cfg, logger), nil,
		ratelimit.NewLimiter(cfg.Bench.OCRMinInterval), logger)

	ids, err := resolveFileSet(bench.Layout(), opts.files, opts.splitPath, true)
	if err != nil {
		return err
	}
	examples, err := bench.FewshotExamples(ctx, ids, opts.workers)
	if err != nil {
		return err
	}
	path, err := llm.WriteFewshotExamples(cfg.Bench.PromptsDir, cfg.Bench.Dataset, examples)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d examples to %s\n", len(examples), path)
	return nil
}
