package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lucianodigital2b/clevernote-sub002/constants"
	"github.com/lucianodigital2b/clevernote-sub002/internal/common"
	"github.com/lucianodigital2b/clevernote-sub002/internal/entity"
	"github.com/lucianodigital2b/clevernote-sub002/internal/repository"
)

// Service is a tiny façade over repositories that renders notes and artifacts into files.
type Service struct {
	notes     repository.NoteRepository
	artifacts repository.ArtifactRepository
	logger    *slog.Logger
}

func NewService(notes repository.NoteRepository, artifacts repository.ArtifactRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{notes: notes, artifacts: artifacts, logger: logger}
}

// ExportNotePDF renders a processed note.
func (s *Service) ExportNotePDF(ctx context.Context, noteID uuid.UUID) ([]byte, error) {
	start := time.Now()
	n, err := s.notes.GetByID(ctx, noteID)
	if err != nil {
		return nil, err
	}
	if n.Status != constants.NoteStatusProcessed {
		return nil, fmt.Errorf("%w: note %s is %s", common.ErrNotReady, n.ID, n.Status)
	}
	out, err := NotePDF(n)
	if err != nil {
		return nil, err
	}
	s.logger.Info("export.pdf.ok", "note_id", noteID, "bytes", len(out), "elapsed_ms", time.Since(start).Milliseconds())
	return out, nil
}

// ExportArtifactXLSX renders a completed flashcard set or quiz as a workbook.
func (s *Service) ExportArtifactXLSX(ctx context.Context, artifactID uuid.UUID) ([]byte, error) {
	start := time.Now()
	a, err := s.artifacts.GetByID(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	if a.Status != constants.ArtifactStatusCompleted {
		return nil, fmt.Errorf("%w: artifact %s is %s", common.ErrNotReady, a.ID, a.Status)
	}

	var out []byte
	switch a.Kind {
	case constants.ArtifactFlashcards:
		var set entity.FlashcardSet
		if err := json.Unmarshal(a.Payload, &set); err != nil {
			return nil, fmt.Errorf("decode flashcards: %w", err)
		}
		out, err = FlashcardsXLSX(set)
	case constants.ArtifactQuiz:
		var q entity.Quiz
		if err := json.Unmarshal(a.Payload, &q); err != nil {
			return nil, fmt.Errorf("decode quiz: %w", err)
		}
		out, err = QuizXLSX(q)
	default:
		return nil, fmt.Errorf("%w: %s artifacts have no spreadsheet export", common.ErrInvalidInput, a.Kind)
	}
	if err != nil {
		return nil, err
	}
	s.logger.Info("export.xlsx.ok", "artifact_id", artifactID, "kind", a.Kind, "bytes", len(out),
		"elapsed_ms", time.Since(start).Milliseconds())
	return out, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
