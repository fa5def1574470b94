package openai

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/lucianodigital2b/clevernote-sub002/internal/common"
	"github.com/lucianodigital2b/clevernote-sub002/internal/llm"
)

// APIError is a decoded OpenAI error response.
type APIError struct {
	Status  int
	Type    string
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("openai api error: status %d type %s message %s", e.Status, e.Type, e.Message)
}

// Retryable reports whether the queue should try again: rate limits and server errors.
func (e *APIError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// decodeAPIError turns a transport error from llm.SendJSON into an *APIError where possible.
// Non-retryable statuses are marked with common.ErrNonRetryable.
func decodeAPIError(err error) error {
	var se *llm.StatusError
	if !errors.As(err, &se) {
		return err
	}
	apiErr := &APIError{Status: se.Status, Message: string(se.Body)}
	var body struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    any    `json:"code"`
		} `json:"error"`
	}
	if json.Unmarshal(se.Body, &body) == nil && body.Error.Message != "" {
		apiErr.Message = body.Error.Message
		apiErr.Type = body.Error.Type
		if body.Error.Code != nil {
			apiErr.Code = fmt.Sprint(body.Error.Code)
		}
	}
	// insufficient_quota comes back as 429 but will not clear on its own
	if apiErr.Retryable() && apiErr.Code != "insufficient_quota" {
		return apiErr
	}
	return common.Permanent(apiErr)
}
