package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"time"

	"github.com/google/uuid"
)

var reBoxNoise = regexp.MustCompile(`(?m)^\s*[_\-=]{3,}\s*$`)

// Config for the tesseract CLI engine.
type Config struct {
	Tesseract   string // binary name or absolute path; if empty -> "tesseract"
	Language    string // default "eng"
	TessdataDir string
	PSM         int    // page segmentation mode; 0 keeps the tesseract default
	TempDir     string // scratch dir for image bytes; empty -> os.TempDir()
}

// Engine runs the tesseract binary once per image. It satisfies
// extract.OCRAdapter.
type Engine struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewEngine(cfg Config, logger *slog.Logger) *Engine {
	return NewEngineWithRunner(cfg, execRunner{logger: logger}, logger)
}

// NewEngineWithRunner is NewEngine with a custom command runner.
func NewEngineWithRunner(cfg Config, runner Runner, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.Language == "" {
		cfg.Language = "eng"
	}
	return &Engine{cfg: cfg, runner: runner, logger: logger}
}

// Recognize writes the image to a scratch file, runs tesseract on it and
// returns the normalized text.
func (e *Engine) Recognize(ctx context.Context, image []byte) (string, time.Duration, error) {
	rid := uuid.New().String()
	start := time.Now()
	if len(image) == 0 {
		return "", 0, fmt.Errorf("ocr: empty image")
	}

	f, err := os.CreateTemp(e.cfg.TempDir, "docbench-ocr-*")
	if err != nil {
		return "", 0, fmt.Errorf("ocr: scratch file: %w", err)
	}
	path := f.Name()
	defer func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			e.logger.Warn("ocr.scratch.remove_failed", "req_id", rid, "path", path, "error", err)
		}
	}()
	if _, err := f.Write(image); err != nil {
		_ = f.Close()
		return "", 0, fmt.Errorf("ocr: write scratch file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", 0, fmt.Errorf("ocr: close scratch file: %w", err)
	}

	// tesseract <file> stdout -l <lang>
	args := []string{path, "stdout", "-l", e.cfg.Language}
	if e.cfg.PSM > 0 {
		args = append(args, "--psm", fmt.Sprintf("%d", e.cfg.PSM))
	}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}

	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, args...)
	latency := time.Since(start)
	if err != nil {
		e.logger.Warn("ocr.recognize.failed",
			"req_id", rid,
			"error", err,
			"stderr", truncate(string(errb), 512),
			"elapsed_ms", latency.Milliseconds(),
		)
		return "", latency, fmt.Errorf("tesseract: %w", err)
	}

	txt := Normalize(reBoxNoise.ReplaceAllString(string(out), ""))
	e.logger.Debug("ocr.recognize.ok",
		"req_id", rid,
		"bytes", len(image),
		"text_len", len(txt),
		"elapsed_ms", latency.Milliseconds(),
	)
	return txt, latency, nil
}
