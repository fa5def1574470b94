package async

import (
	"context"
	"errors"
	"log/slog"

	"github.com/lucianodigital2b/clevernote-sub002/constants"
	"github.com/lucianodigital2b/clevernote-sub002/internal/common"
	"github.com/lucianodigital2b/clevernote-sub002/internal/entity"
	"github.com/lucianodigital2b/clevernote-sub002/internal/repository"
)

// ResetInterrupted returns a WithOnInterrupted hook that puts the job's row back
// to pending, so the next startup recovery runs it again.
func ResetInterrupted(notes repository.NoteRepository, artifacts repository.ArtifactRepository, logger *slog.Logger) func(context.Context, Job) {
	return func(ctx context.Context, job Job) {
		var err error
		switch job.Kind {
		case JobProcessNote:
			err = notes.ResetPending(ctx, job.TargetID)
		case JobGenerateArtifact:
			err = artifacts.ResetPending(ctx, job.TargetID)
		}
		switch {
		case err == nil:
			logger.Info("queue.job.reset_pending", "kind", job.Kind, "target_id", job.TargetID)
		case errors.Is(err, common.ErrInvalidTransition):
			// still processing/generating; the stale sweep owns it
			logger.Warn("queue.job.reset_skipped", "kind", job.Kind, "target_id", job.TargetID, "error", err)
		default:
			logger.Error("queue.job.reset_failed", "kind", job.Kind, "target_id", job.TargetID, "error", err)
		}
	}
}

// FailExhausted returns a WithOnExhausted hook that records the final failure on
// rows a stage could not settle itself, e.g. when persisting the result failed.
// Rows already marked failed by their stage are left alone.
func FailExhausted(notes repository.NoteRepository, artifacts repository.ArtifactRepository, reason func(error) string, logger *slog.Logger) func(context.Context, Job, error) {
	return func(ctx context.Context, job Job, cause error) {
		log := logger.With("kind", job.Kind, "target_id", job.TargetID, "attempt", job.Attempt)
		log.Warn("queue.job.exhausted", "error", cause, "retryable", common.IsRetryable(cause))

		var err error
		switch job.Kind {
		case JobProcessNote:
			var n *entity.Note
			if n, err = notes.GetByID(ctx, job.TargetID); err == nil && n.Status == constants.NoteStatusProcessing {
				err = notes.MarkFailed(ctx, job.TargetID, reason(cause))
			}
		case JobGenerateArtifact:
			var a *entity.Artifact
			if a, err = artifacts.GetByID(ctx, job.TargetID); err == nil && a.Status == constants.ArtifactStatusGenerating {
				err = artifacts.MarkFailed(ctx, job.TargetID, reason(cause))
			}
		}
		if err != nil && !errors.Is(err, common.ErrNotFound) {
			log.Error("queue.job.final_state_failed", "error", err)
		}
	}
}
