package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lucianodigital2b/clevernote-sub002/internal/llm"
)

// Transcribe implements llm.Transcriber via /audio/transcriptions.
func (c *Client) Transcribe(ctx context.Context, req llm.TranscribeRequest) (string, error) {
	start := time.Now()
	f, err := os.Open(req.Path)
	if err != nil {
		return "", fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile("file", filepath.Base(req.Path))
	if err != nil {
		return "", fmt.Errorf("create multipart file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("copy audio data: %w", err)
	}
	fields := map[string]string{
		"model":           c.cfg.TranscribeModel,
		"response_format": "json",
	}
	if req.Language != "" {
		fields["language"] = req.Language
	}
	if req.Prompt != "" {
		fields["prompt"] = req.Prompt
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return "", fmt.Errorf("write %s field: %w", k, err)
		}
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/audio/transcriptions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", fmt.Errorf("create transcription request: %w", err)
	}
	for k, v := range c.headers() {
		httpReq.Header.Set(k, v)
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())

	c.log.Info("llm.transcribe.start", "model", c.cfg.TranscribeModel, "file", filepath.Base(req.Path), "bytes", body.Len())
	raw, err := llm.SendRequest(c.http, httpReq, c.log)
	if err != nil {
		c.log.Error("llm.transcribe.http_error", "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return "", decodeAPIError(err)
	}

	var payload struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("%w: decode transcription response: %w", llm.ErrInvalidResponse, err)
	}
	text := strings.TrimSpace(payload.Text)
	c.log.Info("llm.transcribe.done", "chars", len(text), "elapsed_ms", time.Since(start).Milliseconds())
	return text, nil
}

// Speak implements llm.Speaker via /audio/speech and returns mp3 bytes.
func (c *Client) Speak(ctx context.Context, req llm.SpeakRequest) ([]byte, error) {
	voice := req.Voice
	if voice == "" {
		voice = "alloy"
	}
	body := map[string]any{
		"model":           c.cfg.TTSModel,
		"voice":           voice,
		"input":           req.Text,
		"response_format": "mp3",
	}
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/audio/speech"
	raw, err := llm.SendJSON(ctx, c.http, endpoint, body, c.headers(), c.log)
	if err != nil {
		c.log.Error("llm.speak.http_error", "voice", voice, "error", err)
		return nil, decodeAPIError(err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty audio", llm.ErrInvalidResponse)
	}
	return raw, nil
}
