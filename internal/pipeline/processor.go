// Package pipeline turns ingested sources into study notes and study notes into artifacts.
package pipeline

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Processor coordinates the note stage and the artifact stage for the queue and the CLI.
type Processor struct {
	Logger   *slog.Logger
	Note     *NoteStage
	Artifact *ArtifactStage
}

func NewProcessor(logger *slog.Logger, note *NoteStage, artifact *ArtifactStage) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{Logger: logger, Note: note, Artifact: artifact}
}

// ProcessNote runs extraction and study-note generation for noteID.
func (p *Processor) ProcessNote(ctx context.Context, noteID uuid.UUID) error {
	if err := p.Note.Run(ctx, noteID); err != nil {
		p.Logger.Error("processor.note.failed", "note_id", noteID, "err", err)
		return err
	}
	p.Logger.Info("processor.note.ok", "note_id", noteID)
	return nil
}

// GenerateArtifact runs the generator for artifactID.
func (p *Processor) GenerateArtifact(ctx context.Context, artifactID uuid.UUID) error {
	if err := p.Artifact.Run(ctx, artifactID); err != nil {
		p.Logger.Error("processor.artifact.failed", "artifact_id", artifactID, "err", err)
		return err
	}
	p.Logger.Info("processor.artifact.ok", "artifact_id", artifactID)
	return nil
}
