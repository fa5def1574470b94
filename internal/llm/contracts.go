package llm

import (
	"context"
	"errors"
)

// ErrInvalidResponse is returned when the model output cannot be made to match its schema.
var ErrInvalidResponse = errors.New("invalid AI response")

// ChatRequest is a provider-agnostic structured completion request.
type ChatRequest struct {
	// Name identifies the output shape, e.g. "study_note" or "flashcards".
	Name   string
	System string
	User   string
	// Images are data URLs attached as vision input.
	Images []string
	Schema map[string]any
	Vision bool
	// Scope partitions cached answers. Generation requests carry the job and
	// attempt so a retry or regeneration always reaches the model.
	Scope string
}

// Completer returns the raw JSON content produced by a chat model.
type Completer interface {
	CompleteJSON(ctx context.Context, req ChatRequest) ([]byte, error)
}

type TranscribeRequest struct {
	Path     string
	Language string
	Prompt   string
}

// Transcriber turns an audio file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, req TranscribeRequest) (string, error)
}

type SpeakRequest struct {
	Text  string
	Voice string
}

// Speaker synthesises speech and returns mp3 bytes.
type Speaker interface {
	Speak(ctx context.Context, req SpeakRequest) ([]byte, error)
}
