package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/lucianodigital2b/clevernote-sub002/constants"
)

// Artifact represents a generated study artifact for data transfer between layers.
type Artifact struct {
	ID            uuid.UUID                `json:"id"`
	NoteID        uuid.UUID                `json:"note_id"`
	Kind          constants.ArtifactKind   `json:"kind"`
	Status        constants.ArtifactStatus `json:"status"`
	FailureReason *string                  `json:"failure_reason,omitempty"`
	Options       json.RawMessage          `json:"options,omitempty"`
	Payload       json.RawMessage          `json:"payload,omitempty"`
	AudioPath     *string                  `json:"audio_path,omitempty"`
	Attempts      int                      `json:"attempts"`
	CreatedAt     time.Time                `json:"created_at"`
	UpdatedAt     time.Time                `json:"updated_at"`
	CompletedAt   *time.Time               `json:"completed_at,omitempty"`
}

// GenerateOptions are the per-request knobs for artifact generation.
// Zero values fall back to per-kind defaults.
type GenerateOptions struct {
	Count      int      `json:"count,omitempty"`
	Difficulty string   `json:"difficulty,omitempty"`
	Language   string   `json:"language,omitempty"`
	Voices     []string `json:"voices,omitempty"`
}

// ParseOptions decodes raw options; empty input yields zero options.
func ParseOptions(raw json.RawMessage) (GenerateOptions, error) {
	var o GenerateOptions
	if len(raw) == 0 || string(raw) == "null" {
		return o, nil
	}
	err := json.Unmarshal(raw, &o)
	return o, err
}
