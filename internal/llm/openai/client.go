package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/joseph-ayodele/docbench/internal/common"
	"github.com/joseph-ayodele/docbench/internal/extract"
	"github.com/joseph-ayodele/docbench/internal/llm"
)

// Extract implements extract.LLMAdapter with a single chat completion
// constrained to the request schema.
func (c *Client) Extract(ctx context.Context, req extract.LLMRequest) (json.RawMessage, time.Duration, error) {
	rid := uuid.New().String()
	start := time.Now()

	c.logger.Debug("llm.extract.start",
		"req_id", rid,
		"provider", c.cfg.Provider,
		"model", req.Model,
		"temp", req.Temperature,
		"text_len", len(req.UserText),
	)

	chatReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Temperature: float32(req.Temperature),
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: req.UserText},
		},
	}
	if req.Schema != nil {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   req.Schema.Name(),
				Schema: req.Schema.JSONSchema(),
			},
		}
	} else {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.api.CreateChatCompletion(ctx, chatReq)
	latency := time.Since(start)
	if err != nil {
		attrs := []any{"req_id", rid, "error", err, "elapsed_ms", latency.Milliseconds()}
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			attrs = append(attrs, "status", apiErr.HTTPStatusCode)
		}
		c.logger.Warn("llm.extract.http_error", attrs...)
		return nil, latency, fmt.Errorf("%w: chat completion: %w", common.ErrProvider, err)
	}
	if len(resp.Choices) == 0 {
		c.logger.Warn("llm.extract.no_choices", "req_id", rid, "elapsed_ms", latency.Milliseconds())
		return nil, latency, fmt.Errorf("%w: no choices in response", common.ErrProvider)
	}

	content := llm.CleanContent(resp.Choices[0].Message.Content)
	var value json.RawMessage
	if req.Schema != nil {
		value, err = req.Schema.Coerce(content)
		if err != nil {
			c.logger.Warn("llm.extract.schema_validation_failed",
				"req_id", rid, "schema", req.Schema.Name(), "error", err,
				"elapsed_ms", latency.Milliseconds(),
			)
			return nil, latency, err
		}
	} else {
		if !json.Valid(content) {
			c.logger.Warn("llm.extract.decode_error", "req_id", rid, "bytes", len(content))
			return nil, latency, fmt.Errorf("%w: completion is not JSON", common.ErrProvider)
		}
		value = json.RawMessage(content)
	}

	c.logger.Debug("llm.extract.ok",
		"req_id", rid,
		"model", req.Model,
		"bytes", len(value),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"elapsed_ms", latency.Milliseconds(),
	)
	return value, latency, nil
}
