// Package extract defines the two provider stages a benchmark drives:
// image -> text (OCR) and text -> structured JSON (LLM).
package extract

import (
	"context"
	"encoding/json"
	"time"
)

// OCRAdapter is Stage 1: image bytes -> text. Latency covers only the
// provider call.
type OCRAdapter interface {
	Recognize(ctx context.Context, image []byte) (text string, latency time.Duration, err error)
}

// Schema is the target output shape handed to the LLM stage. Implementations
// validate a raw completion and coerce it into the form that gets scored.
type Schema interface {
	Name() string
	JSONSchema() json.RawMessage
	Coerce(raw []byte) (json.RawMessage, error)
}

// LLMRequest is one extraction call.
type LLMRequest struct {
	SystemPrompt string
	UserText     string
	Schema       Schema
	Model        string
	Temperature  float64
}

// LLMAdapter is Stage 2: text -> structured value, already coerced by the
// request's Schema.
type LLMAdapter interface {
	Extract(ctx context.Context, req LLMRequest) (value json.RawMessage, latency time.Duration, err error)
}

// OCRFunc adapts a plain function to OCRAdapter.
type OCRFunc func(ctx context.Context, image []byte) (string, time.Duration, error)

func (f OCRFunc) Recognize(ctx context.Context, image []byte) (string, time.Duration, error) {
	return f(ctx, image)
}

// LLMFunc adapts a plain function to LLMAdapter.
type LLMFunc func(ctx context.Context, req LLMRequest) (json.RawMessage, time.Duration, error)

func (f LLMFunc) Extract(ctx context.Context, req LLMRequest) (json.RawMessage, time.Duration, error) {
	return f(ctx, req)
}
