package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/lucianodigital2b/clevernote-sub002/constants"
)

// Note represents a study note and the source it was built from.
type Note struct {
	ID            uuid.UUID            `json:"id"`
	Title         string               `json:"title"`
	Summary       string               `json:"summary"`
	Content       string               `json:"content"`
	SourceType    constants.SourceType `json:"source_type"`
	SourcePath    string               `json:"source_path,omitempty"`
	SourceURL     string               `json:"source_url,omitempty"`
	OriginalName  string               `json:"original_name,omitempty"`
	RawText       string               `json:"raw_text,omitempty"`
	Language      string               `json:"language"`
	Status        constants.NoteStatus `json:"status"`
	FailureReason *string              `json:"failure_reason,omitempty"`
	ContentHash   []byte               `json:"content_hash,omitempty"`
	Attempts      int                  `json:"attempts"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
	ProcessedAt   *time.Time           `json:"processed_at,omitempty"`
}

// StudyNote is the title/summary/content triple produced by the first-stage AI call.
type StudyNote struct {
	Title    string `json:"title"`
	Summary  string `json:"summary"`
	Content  string `json:"content"`
	Language string `json:"language,omitempty"`
}
