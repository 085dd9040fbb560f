// Package export renders a results file as an XLSX workbook.
package export

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/docbench/internal/metrics"
	"github.com/joseph-ayodele/docbench/internal/store"
)

const (
	SheetResults  = "Results"
	SheetFailures = "Failures"
	SheetSummary  = "Summary"
)

var resultHeaders = []string{
	"File ID",
	"OCR Latency (s)",
	"LLM Latency (s)",
	"KV F1 Fuzzy",
	"KV F1 Exact",
	"Canonical F1",
	"Value Quality",
	"File Score",
	"Fuzzy TP",
	"Fuzzy FP",
	"Fuzzy FN",
	"Fuzzy Precision",
	"Fuzzy Recall",
	"Fuzzy Accuracy",
	"Exact TP",
	"Exact FP",
	"Exact FN",
	"Exact Precision",
	"Exact Recall",
	"Exact Accuracy",
	"GT Pairs",
	"Pred Pairs",
}

type Service struct {
	logger *slog.Logger
}

func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger}
}

// ResultsXLSX returns a workbook (as bytes) with one row per scored file, the
// failure log, and a summary sheet with the run score.
func (s *Service) ResultsXLSX(resultsPath string) ([]byte, error) {
	start := time.Now()

	records, err := store.LoadResults(resultsPath)
	if err != nil {
		return nil, fmt.Errorf("load results: %w", err)
	}
	failures, err := store.LoadFailures(store.FailuresPath(resultsPath))
	if err != nil {
		return nil, fmt.Errorf("load failures: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	// the default sheet becomes Results
	if err := f.SetSheetName("Sheet1", SheetResults); err != nil {
		return nil, err
	}
	for _, name := range []string{SheetFailures, SheetSummary} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, err
		}
	}

	writeRow(f, SheetResults, 1, toAny(resultHeaders))
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	scores := make(map[string]metrics.Result, len(records))
	var ocrTotal, llmTotal float64
	for i, id := range ids {
		r := records[id]
		scores[id] = r.Result
		ocrTotal += r.OCRLatency
		llmTotal += r.LLMLatency
		writeRow(f, SheetResults, i+2, []any{
			id,
			r.OCRLatency,
			r.LLMLatency,
			r.KVF1Fuzzy,
			r.KVF1Exact,
			r.CanonicalF1,
			r.ValueQualityScore,
			r.Score(),
			r.FuzzyTP,
			r.FuzzyFP,
			r.FuzzyFN,
			r.FuzzyPrecision,
			r.FuzzyRecall,
			r.FuzzyAccuracy,
			r.ExactTP,
			r.ExactFP,
			r.ExactFN,
			r.ExactPrecision,
			r.ExactRecall,
			r.ExactAccuracy,
			r.TotalGTPairs,
			r.TotalPredPairs,
		})
	}

	writeRow(f, SheetFailures, 1, []any{"File ID", "Kind", "Detail"})
	for i, fe := range failures {
		writeRow(f, SheetFailures, i+2, []any{fe.FileID, string(fe.Kind), truncate(fe.Detail, 500)})
	}

	summary := [][]any{
		{"Results File", resultsPath},
		{"Run Score", metrics.MeanScore(scores)},
		{"Files Scored", len(records)},
		{"Files Failed", len(failures)},
		{"Mean OCR Latency (s)", mean(ocrTotal, len(records))},
		{"Mean LLM Latency (s)", mean(llmTotal, len(records))},
	}
	for i, row := range summary {
		writeRow(f, SheetSummary, i+1, row)
	}

	_ = f.SetColWidth(SheetResults, "A", "A", 24)  // file id
	_ = f.SetColWidth(SheetResults, "B", "V", 14)  // numbers
	_ = f.SetColWidth(SheetFailures, "A", "B", 24) // id, kind
	_ = f.SetColWidth(SheetFailures, "C", "C", 80) // detail
	_ = f.SetColWidth(SheetSummary, "A", "A", 24)  // label
	_ = f.SetColWidth(SheetSummary, "B", "B", 60)  // value
	_ = f.SetPanes(SheetResults, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"results_path", resultsPath,
		"rows", len(records),
		"failures", len(failures),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) {
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func mean(total float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return total / float64(n)
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
