//go:build !nogosseract

package main

import (
	"log/slog"
	"strings"

	"github.com/joseph-ayodele/docbench/internal/common"
	"github.com/joseph-ayodele/docbench/internal/extract"
	"github.com/joseph-ayodele/docbench/internal/ocr/gosseract"
)

func newInProcessOCR(cfg *common.Config, logger *slog.Logger) extract.OCRAdapter {
	return gosseract.NewEngine(gosseract.Config{
		Languages:   strings.Split(cfg.OCR.Language, "+"),
		TessdataDir: cfg.OCR.TessdataDir,
	}, logger)
}
