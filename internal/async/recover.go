package async

import (
	"context"
	"errors"
	"time"

	"github.com/lucianodigital2b/clevernote-sub002/constants"
	"github.com/lucianodigital2b/clevernote-sub002/internal/repository"
)

// RecoverStats counts the jobs re-enqueued on startup.
type RecoverStats struct {
	Notes     int
	Artifacts int
}

// Recover re-enqueues rows left behind by a previous run: every pending row, and
// processing/generating rows not touched for staleAfter.
func (q *ProcessorQueue) Recover(ctx context.Context, notes repository.NoteRepository, artifacts repository.ArtifactRepository, staleAfter time.Duration) (RecoverStats, error) {
	var stats RecoverStats

	pending, err := notes.List(ctx, repository.NoteFilter{Status: constants.NoteStatusPending})
	if err != nil {
		return stats, err
	}
	for _, n := range pending {
		if err := q.Enqueue(ctx, Job{Kind: JobProcessNote, TargetID: n.ID, Attempt: 1}); err != nil {
			return stats, err
		}
		stats.Notes++
	}

	pendingArts, err := artifacts.ListByStatus(ctx, constants.ArtifactStatusPending, 0)
	if err != nil {
		return stats, err
	}
	for _, a := range pendingArts {
		if err := q.Enqueue(ctx, Job{Kind: JobGenerateArtifact, TargetID: a.ID, Attempt: 1}); err != nil {
			return stats, err
		}
		stats.Artifacts++
	}

	stale, err := q.requeueStale(ctx, notes, artifacts, staleAfter)
	stats.Notes += stale.Notes
	stats.Artifacts += stale.Artifacts
	if err != nil {
		return stats, err
	}

	q.logger.Info("queue.recovered", "notes", stats.Notes, "artifacts", stats.Artifacts, "stale_after", staleAfter)
	return stats, nil
}

// Sweep re-enqueues stale processing/generating rows every interval until ctx
// ends or the queue shuts down. staleAfter must exceed the job timeout, or a
// running job would be picked up twice.
func (q *ProcessorQueue) Sweep(ctx context.Context, notes repository.NoteRepository, artifacts repository.ArtifactRepository, staleAfter, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		stats, err := q.requeueStale(ctx, notes, artifacts, staleAfter)
		if errors.Is(err, ErrQueueClosed) {
			return
		}
		if err != nil {
			q.logger.Warn("queue.sweep_failed", "error", err)
			continue
		}
		if stats.Notes+stats.Artifacts > 0 {
			q.logger.Info("queue.swept", "notes", stats.Notes, "artifacts", stats.Artifacts)
		}
	}
}

func (q *ProcessorQueue) requeueStale(ctx context.Context, notes repository.NoteRepository, artifacts repository.ArtifactRepository, staleAfter time.Duration) (RecoverStats, error) {
	var stats RecoverStats
	cutoff := time.Now().UTC().Add(-staleAfter)

	stale, err := notes.ListStale(ctx, constants.NoteStatusProcessing, cutoff)
	if err != nil {
		return stats, err
	}
	for _, n := range stale {
		if err := q.Enqueue(ctx, Job{Kind: JobProcessNote, TargetID: n.ID, Attempt: 1}); err != nil {
			return stats, err
		}
		stats.Notes++
	}

	staleArts, err := artifacts.ListStale(ctx, constants.ArtifactStatusGenerating, cutoff)
	if err != nil {
		return stats, err
	}
	for _, a := range staleArts {
		if err := q.Enqueue(ctx, Job{Kind: JobGenerateArtifact, TargetID: a.ID, Attempt: 1}); err != nil {
			return stats, err
		}
		stats.Artifacts++
	}
	return stats, nil
}
