package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lucianodigital2b/clevernote-sub002/constants"
	"github.com/lucianodigital2b/clevernote-sub002/internal/common"
	"github.com/lucianodigital2b/clevernote-sub002/internal/entity"
	"github.com/lucianodigital2b/clevernote-sub002/internal/llm"
	"github.com/lucianodigital2b/clevernote-sub002/internal/repository"
)

// FileRemover deletes files a failed run left behind.
type FileRemover interface {
	Remove(path string) error
}

// ArtifactStage runs the generator registered for an artifact's kind.
type ArtifactStage struct {
	Notes      repository.NoteRepository
	Artifacts  repository.ArtifactRepository
	Generators map[constants.ArtifactKind]Generator
	Files      FileRemover
	Logger     *slog.Logger
}

func NewArtifactStage(notes repository.NoteRepository, arts repository.ArtifactRepository, gens map[constants.ArtifactKind]Generator, files FileRemover, logger *slog.Logger) *ArtifactStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &ArtifactStage{Notes: notes, Artifacts: arts, Generators: gens, Files: files, Logger: logger}
}

// Run generates one artifact. The parent note must be processed; otherwise the
// artifact fails with a non-retryable ErrNotReady.
func (s *ArtifactStage) Run(ctx context.Context, artifactID uuid.UUID) error {
	log := common.LoggerFromContext(ctx, s.Logger).With("artifact_id", artifactID)
	start := time.Now()

	art, err := s.Artifacts.GetByID(ctx, artifactID)
	if err != nil {
		return claimError(err)
	}
	log = log.With("kind", art.Kind, "note_id", art.NoteID)

	note, err := s.Notes.GetByID(ctx, art.NoteID)
	if err != nil {
		return claimError(err)
	}
	if note.Status != constants.NoteStatusProcessed {
		err := common.Permanent(fmt.Errorf("%w: note %s is %s", common.ErrNotReady, note.ID, note.Status))
		s.fail(ctx, log, artifactID, err)
		return err
	}

	art, err = s.Artifacts.MarkGenerating(ctx, artifactID)
	if err != nil {
		return claimError(err)
	}
	log.Info("pipeline.artifact.start", "attempt", art.Attempts)

	out, err := s.generate(ctx, note, art)
	if err != nil {
		s.fail(ctx, log, artifactID, err)
		return err
	}

	pctx, cancel := persistContext(ctx)
	defer cancel()
	if err := s.Artifacts.MarkCompleted(pctx, artifactID, out.Payload, out.AudioPath); err != nil {
		log.Error("pipeline.artifact.persist_failed", "error", err)
		s.removeAudio(log, out.AudioPath)
		return err
	}
	log.Info("pipeline.artifact.completed", "bytes", len(out.Payload), "elapsed_ms", time.Since(start).Milliseconds())
	return nil
}

func (s *ArtifactStage) generate(ctx context.Context, note *entity.Note, art *entity.Artifact) (Output, error) {
	gen, ok := s.Generators[art.Kind]
	if !ok {
		return Output{}, common.Permanent(fmt.Errorf("no generator for artifact kind %q", art.Kind))
	}
	opts, err := entity.ParseOptions(art.Options)
	if err != nil {
		return Output{}, common.Permanent(fmt.Errorf("%w: options: %w", common.ErrInvalidInput, err))
	}
	out, err := gen.Generate(ctx, GenerateInput{Note: note, Artifact: art, Options: opts})
	if err != nil {
		return Output{}, err
	}
	// crossword and podcast payloads add layout and audio fields, and are checked by their generators
	if art.Kind == constants.ArtifactCrossword || art.Kind == constants.ArtifactPodcast {
		return out, nil
	}
	if err := llm.ValidateJSONAgainstSchema(llm.SchemaFor(string(art.Kind)), out.Payload); err != nil {
		return Output{}, fmt.Errorf("%w: %w", llm.ErrInvalidResponse, err)
	}
	return out, nil
}

func (s *ArtifactStage) removeAudio(log *slog.Logger, path *string) {
	if path == nil || s.Files == nil {
		return
	}
	if err := s.Files.Remove(*path); err != nil {
		log.Warn("pipeline.artifact.cleanup_failed", "path", *path, "error", err)
	}
}

func (s *ArtifactStage) fail(ctx context.Context, log *slog.Logger, id uuid.UUID, cause error) {
	reason := FriendlyReason(cause)
	pctx, cancel := persistContext(ctx)
	defer cancel()
	if err := s.Artifacts.MarkFailed(pctx, id, reason); err != nil {
		log.Error("pipeline.artifact.mark_failed_error", "error", err, "cause", cause)
		return
	}
	log.Warn("pipeline.artifact.failed", "reason", reason, "error", cause, "retryable", common.IsRetryable(cause))
}
