// Package gosseract is the in-process OCR engine backed by libtesseract.
// It needs cgo and the tesseract headers; the CLI engine in package ocr
// does not.
package gosseract

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/otiai10/gosseract/v2"

	"github.com/joseph-ayodele/docbench/internal/ocr"
)

// Config for the in-process engine.
type Config struct {
	Languages   []string // default ["eng"]
	TessdataDir string
}

// Engine runs libtesseract in-process with a fresh client per image, so
// concurrent calls never share tesseract state.
type Engine struct {
	cfg           Config
	clientFactory func() *gosseract.Client
	logger        *slog.Logger
}

func NewEngine(cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{"eng"}
	}
	return &Engine{cfg: cfg, clientFactory: gosseract.NewClient, logger: logger}
}

// Recognize implements extract.OCRAdapter.
func (e *Engine) Recognize(ctx context.Context, image []byte) (string, time.Duration, error) {
	rid := uuid.New().String()
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}

	c := e.clientFactory()
	defer c.Close()

	if e.cfg.TessdataDir != "" {
		if err := c.SetTessdataPrefix(e.cfg.TessdataDir); err != nil {
			return "", time.Since(start), fmt.Errorf("set tessdata prefix: %w", err)
		}
	}
	if err := c.SetLanguage(e.cfg.Languages...); err != nil {
		return "", time.Since(start), fmt.Errorf("set languages: %w", err)
	}
	if err := c.SetImageFromBytes(image); err != nil {
		return "", time.Since(start), fmt.Errorf("set image: %w", err)
	}

	// libtesseract has no cancellation hook; the scheduler abandons the
	// attempt on timeout and this call finishes in the background.
	text, err := c.Text()
	latency := time.Since(start)
	if err != nil {
		e.logger.Warn("ocr.gosseract.failed", "req_id", rid, "error", err, "elapsed_ms", latency.Milliseconds())
		return "", latency, fmt.Errorf("recognize text: %w", err)
	}

	txt := ocr.Normalize(text)
	e.logger.Debug("ocr.gosseract.ok",
		"req_id", rid,
		"bytes", len(image),
		"text_len", len(txt),
		"elapsed_ms", latency.Milliseconds(),
	)
	return txt, latency, nil
}
