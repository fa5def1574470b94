package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lucianodigital2b/clevernote-sub002/internal/llm"
)

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// CompleteJSON implements llm.Completer using chat/completions in JSON mode.
// Images are sent as image_url parts to the vision model.
func (c *Client) CompleteJSON(ctx context.Context, req llm.ChatRequest) ([]byte, error) {
	rid := uuid.New().String()
	start := time.Now()

	model := c.cfg.Model
	if req.Vision || len(req.Images) > 0 {
		model = c.cfg.VisionModel
	}
	c.log.Info("llm.complete.start",
		"req_id", rid,
		"shape", req.Name,
		"model", model,
		"temp", c.cfg.Temperature,
		"text_len", len(req.User),
		"images", len(req.Images),
	)

	var userContent any = req.User + "\n\nReturn ONLY JSON that matches the provided schema."
	if len(req.Images) > 0 {
		parts := []map[string]any{{"type": "text", "text": userContent}}
		for _, u := range req.Images {
			parts = append(parts, map[string]any{
				"type":      "image_url",
				"image_url": map[string]any{"url": u, "detail": "high"},
			})
		}
		userContent = parts
	}
	messages := []map[string]any{
		{"role": "system", "content": req.System},
		{"role": "user", "content": userContent},
	}
	if req.Schema != nil {
		messages = append(messages, map[string]any{"role": "system", "content": "JSON Schema:\n" + mustJSON(req.Schema)})
	}

	body := map[string]any{
		"model":           model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages":        messages,
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	raw, err := llm.SendJSON(ctx, c.http, endpoint, body, c.headers(), c.log)
	if err != nil {
		c.log.Error("llm.complete.http_error",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, decodeAPIError(err)
	}

	var cc chatResponse
	if err := json.Unmarshal(raw, &cc); err != nil {
		c.log.Error("llm.complete.decode_error",
			"req_id", rid, "error", err, "raw_bytes", len(raw),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, fmt.Errorf("%w: decode openai response: %w", llm.ErrInvalidResponse, err)
	}
	if len(cc.Choices) == 0 {
		c.log.Error("llm.complete.no_choices", "req_id", rid, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, fmt.Errorf("%w: no choices in openai response", llm.ErrInvalidResponse)
	}
	content := strings.TrimSpace(cc.Choices[0].Message.Content)
	if content == "" {
		return nil, fmt.Errorf("%w: empty content (finish_reason=%s)", llm.ErrInvalidResponse, cc.Choices[0].FinishReason)
	}

	c.log.Info("llm.complete.done",
		"req_id", rid,
		"shape", req.Name,
		"finish_reason", cc.Choices[0].FinishReason,
		"prompt_tokens", cc.Usage.PromptTokens,
		"completion_tokens", cc.Usage.CompletionTokens,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return llm.StripFences([]byte(content)), nil
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
