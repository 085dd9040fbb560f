//go:build nogosseract

package main

import (
	"log/slog"

	"github.com/joseph-ayodele/docbench/internal/common"
	"github.com/joseph-ayodele/docbench/internal/extract"
	"github.com/joseph-ayodele/docbench/internal/ocr"
)

// Built without libtesseract: the gosseract engine falls back to the CLI.
func newInProcessOCR(cfg *common.Config, logger *slog.Logger) extract.OCRAdapter {
	logger.Warn("ocr.gosseract.unavailable", "fallback", cfg.OCR.TesseractBin)
	return ocr.NewEngine(ocr.Config{
		Tesseract:   cfg.OCR.TesseractBin,
		Language:    cfg.OCR.Language,
		TessdataDir: cfg.OCR.TessdataDir,
	}, logger)
}
