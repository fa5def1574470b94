package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lucianodigital2b/clevernote-sub002/internal/common"
	"github.com/lucianodigital2b/clevernote-sub002/internal/entity"
	"github.com/lucianodigital2b/clevernote-sub002/internal/extract"
	"github.com/lucianodigital2b/clevernote-sub002/internal/llm"
	"github.com/lucianodigital2b/clevernote-sub002/internal/repository"
)

// TextExtractor turns a note's source into plain text.
type TextExtractor interface {
	Extract(ctx context.Context, note *entity.Note) (extract.Result, error)
}

// NoteStage converts a pending note into a processed study note.
type NoteStage struct {
	Notes         repository.NoteRepository
	Extractor     TextExtractor
	LLM           llm.Completer
	MaxInputChars int
	Logger        *slog.Logger
}

func NewNoteStage(notes repository.NoteRepository, ex TextExtractor, c llm.Completer, maxInputChars int, logger *slog.Logger) *NoteStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &NoteStage{Notes: notes, Extractor: ex, LLM: c, MaxInputChars: maxInputChars, Logger: logger}
}

// Run extracts text, asks the model for a study note, and persists it.
// Any failure after the note entered processing is persisted as failed with a
// friendly reason, and the original error is returned for the retry decision.
func (s *NoteStage) Run(ctx context.Context, noteID uuid.UUID) error {
	log := common.LoggerFromContext(ctx, s.Logger).With("note_id", noteID)
	start := time.Now()

	note, err := s.Notes.MarkProcessing(ctx, noteID)
	if err != nil {
		log.Error("pipeline.note.start_failed", "error", err)
		return claimError(err)
	}
	log.Info("pipeline.note.start", "source_type", note.SourceType, "attempt", note.Attempts)

	sn, text, err := s.process(ctx, note, log)
	if err != nil {
		s.fail(ctx, log, noteID, err)
		return err
	}

	pctx, cancel := persistContext(ctx)
	defer cancel()
	if err := s.Notes.MarkProcessed(pctx, noteID, sn, text); err != nil {
		log.Error("pipeline.note.persist_failed", "error", err)
		return err
	}
	log.Info("pipeline.note.processed", "title", sn.Title, "chars", len(text), "elapsed_ms", time.Since(start).Milliseconds())
	return nil
}

func (s *NoteStage) process(ctx context.Context, note *entity.Note, log *slog.Logger) (entity.StudyNote, string, error) {
	res, err := s.Extractor.Extract(ctx, note)
	if err != nil {
		return entity.StudyNote{}, "", fmt.Errorf("extract: %w", err)
	}
	lang := note.Language
	if res.Language != "" {
		lang = res.Language
	}
	sys, user := llm.BuildStudyNotePrompt(llm.StudyNoteInput{
		Text:         res.Text,
		SourceType:   note.SourceType,
		Language:     lang,
		OriginalName: note.OriginalName,
		SourceURL:    note.SourceURL,
	}, s.MaxInputChars)

	raw, err := llm.CompleteValidated(ctx, s.LLM, llm.ChatRequest{
		Name:   llm.SchemaStudyNote,
		System: sys,
		User:   user,
		Schema: llm.StudyNoteSchema(),
		Scope:  fmt.Sprintf("note/%s/%d", note.ID, note.Attempts),
	}, log)
	if err != nil {
		return entity.StudyNote{}, "", fmt.Errorf("study note: %w", err)
	}
	var sn entity.StudyNote
	if err := json.Unmarshal(raw, &sn); err != nil {
		return entity.StudyNote{}, "", fmt.Errorf("%w: decode study note: %w", llm.ErrInvalidResponse, err)
	}
	sn.Title = strings.TrimSpace(sn.Title)
	sn.Summary = strings.TrimSpace(sn.Summary)
	sn.Content = strings.TrimSpace(sn.Content)
	if sn.Title == "" || sn.Content == "" {
		return entity.StudyNote{}, "", fmt.Errorf("%w: study note without title or content", llm.ErrInvalidResponse)
	}
	return sn, res.Text, nil
}

func (s *NoteStage) fail(ctx context.Context, log *slog.Logger, id uuid.UUID, cause error) {
	reason := FriendlyReason(cause)
	pctx, cancel := persistContext(ctx)
	defer cancel()
	if err := s.Notes.MarkFailed(pctx, id, reason); err != nil {
		log.Error("pipeline.note.mark_failed_error", "error", err, "cause", cause)
		return
	}
	log.Warn("pipeline.note.failed", "reason", reason, "error", cause, "retryable", common.IsRetryable(cause))
}

// persistContext outlives a job deadline so a timed-out attempt can still record its failure.
func persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
}

// claimError marks errors from claiming a row that a retry cannot fix.
func claimError(err error) error {
	if errors.Is(err, common.ErrNotFound) || errors.Is(err, common.ErrInvalidTransition) {
		return common.Permanent(err)
	}
	return err
}
