package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const fewshotLead = "Use the following examples to guide your response:"

// ComposeSystemPrompt appends few-shot examples to a base prompt when
// enabled and examples are present.
func ComposeSystemPrompt(base, examples string, fewshot bool) string {
	if !fewshot || strings.TrimSpace(examples) == "" {
		return base
	}
	return base + "\n\n" + fewshotLead + "\n" + examples
}

// LoadSystemPrompt reads <dir>/<dataset>/prompt.txt and, when fewshot is
// set, <dir>/<dataset>/fewshot_examples.txt.
func LoadSystemPrompt(dir, dataset string, fewshot bool) (string, error) {
	base, err := os.ReadFile(filepath.Join(dir, dataset, "prompt.txt"))
	if err != nil {
		return "", fmt.Errorf("read base prompt: %w", err)
	}
	if !fewshot {
		return string(base), nil
	}
	examples, err := os.ReadFile(filepath.Join(dir, dataset, "fewshot_examples.txt"))
	if err != nil {
		return "", fmt.Errorf("read few-shot examples: %w", err)
	}
	return ComposeSystemPrompt(string(base), string(examples), true), nil
}

// Example is one few-shot pair: OCR text in, ground-truth JSON out.
type Example struct {
	Input  string
	Output json.RawMessage
}

// FormatFewshotExamples renders examples as the numbered INPUT/OUTPUT blocks
// appended to the system prompt. Outputs are re-indented with four spaces,
// keeping key order.
func FormatFewshotExamples(examples []Example) (string, error) {
	rule := strings.Repeat("=", 100)
	dash := strings.Repeat("-", 50)
	var b strings.Builder
	for i, ex := range examples {
		var out bytes.Buffer
		if err := json.Indent(&out, ex.Output, "", "    "); err != nil {
			return "", fmt.Errorf("example %d output: %w", i+1, err)
		}
		fmt.Fprintf(&b, "\n%s\nEXAMPLE %d\n%s\n\n", rule, i+1, rule)
		fmt.Fprintf(&b, "INPUT:\n%s\n%s\n%s\n\n", dash, ex.Input, dash)
		fmt.Fprintf(&b, "OUTPUT:\n%s\n%s\n%s\n\n", dash, out.String(), dash)
		fmt.Fprintf(&b, "%s\n\n", rule)
	}
	return b.String(), nil
}

// WriteFewshotExamples formats examples into <dir>/<dataset>/fewshot_examples.txt.
func WriteFewshotExamples(dir, dataset string, examples []Example) (string, error) {
	text, err := FormatFewshotExamples(examples)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, dataset, "fewshot_examples.txt")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("mkdir prompts: %w", err)
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("write few-shot examples: %w", err)
	}
	return path, nil
}
