package pipeline

import (
	"context"
	"errors"
	"strings"

	"github.com/lucianodigital2b/clevernote-sub002/internal/common"
	"github.com/lucianodigital2b/clevernote-sub002/internal/extract"
	"github.com/lucianodigital2b/clevernote-sub002/internal/llm"
	"github.com/lucianodigital2b/clevernote-sub002/internal/storage"
)

// User-facing failure reasons stored on notes and artifacts.
const (
	ReasonQuota       = "The AI service is busy or out of quota. Please try again later."
	ReasonTimeout     = "Processing took too long and timed out. Please try again."
	ReasonTooLarge    = "The file is too large to process."
	ReasonUnsupported = "This file format is not supported."
	ReasonEmpty       = "We couldn't find any readable content in this source."
	ReasonInvalidAI   = "The AI returned an unexpected response. Please try again."
	ReasonNotReady    = "The note must finish processing before study material can be generated."
	ReasonCrossword   = "Not enough words could be placed on the crossword grid."
	ReasonGeneric     = "Something went wrong while processing. Please try again."
)

// FriendlyReason maps an internal error onto a message safe to show to a student.
func FriendlyReason(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, common.ErrNotReady):
		return ReasonNotReady
	case errors.Is(err, ErrTooFewWords):
		return ReasonCrossword
	case errors.Is(err, extract.ErrEmptyContent):
		return ReasonEmpty
	case errors.Is(err, extract.ErrTooLarge), errors.Is(err, storage.ErrTooLarge):
		return ReasonTooLarge
	case errors.Is(err, extract.ErrUnsupportedFormat):
		return ReasonUnsupported
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, llm.ErrInvalidResponse):
		return ReasonInvalidAI
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "quota", "rate limit", "rate_limit", "status 429", "too many requests"):
		return ReasonQuota
	case containsAny(msg, "timeout", "timed out", "deadline exceeded"):
		return ReasonTimeout
	case containsAny(msg, "too large", "maximum size", "status 413"):
		return ReasonTooLarge
	case containsAny(msg, "unsupported", "invalid file format"):
		return ReasonUnsupported
	case containsAny(msg, "no readable", "empty content", "no text"):
		return ReasonEmpty
	case containsAny(msg, "invalid ai response", "invalid json", "schema validation"):
		return ReasonInvalidAI
	}
	return ReasonGeneric
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
