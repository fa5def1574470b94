package ingest

import (
	"context"

	"github.com/google/uuid"

	"github.com/lucianodigital2b/clevernote-sub002/constants"
	"github.com/lucianodigital2b/clevernote-sub002/internal/entity"
)

// IngestionResult is the per-file ingest outcome.
type IngestionResult struct {
	SourcePath   string
	NoteID       string
	SourceType   constants.SourceType
	Deduplicated bool
	HashHex      string
	Err          string
}

// DirStats summarizes a directory ingest.
type DirStats struct {
	Scanned      uint32
	Matched      uint32
	Succeeded    uint32
	Deduplicated uint32
	Failed       uint32
}

// Options apply to every ingest entry point.
type Options struct {
	// Language is a hint for extraction and generation; empty means auto.
	Language string
	// Title overrides the original name shown until the study note is generated.
	Title string
}

// Enqueuer schedules background processing for a freshly created note.
type Enqueuer interface {
	EnqueueNote(noteID uuid.UUID) error
}

// Ingestor is the behavior the servers and the watcher depend on.
type Ingestor interface {
	IngestFile(ctx context.Context, path string, opts Options) (IngestionResult, error)
	IngestBytes(ctx context.Context, filename string, data []byte, opts Options) (IngestionResult, error)
	IngestLink(ctx context.Context, link string, opts Options) (*entity.Note, error)
	IngestText(ctx context.Context, text string, opts Options) (*entity.Note, error)
	IngestDirectory(ctx context.Context, root string, skipHidden bool, opts Options) ([]IngestionResult, DirStats, error)
}
