package async

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucianodigital2b/clevernote-sub002/constants"
	"github.com/lucianodigital2b/clevernote-sub002/internal/common"
	"github.com/lucianodigital2b/clevernote-sub002/internal/repository"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// scriptedHandler fails each target with the queued errors, then succeeds.
type scriptedHandler struct {
	mu    sync.Mutex
	errs  map[uuid.UUID][]error
	calls map[uuid.UUID]int
	done  chan uuid.UUID
}

func newScripted() *scriptedHandler {
	return &scriptedHandler{
		errs:  map[uuid.UUID][]error{},
		calls: map[uuid.UUID]int{},
		done:  make(chan uuid.UUID, 16),
	}
}

func (h *scriptedHandler) next(id uuid.UUID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls[id]++
	if q := h.errs[id]; len(q) > 0 {
		h.errs[id] = q[1:]
		return q[0]
	}
	h.done <- id
	return nil
}

func (h *scriptedHandler) count(id uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[id]
}

func (h *scriptedHandler) ProcessNote(_ context.Context, id uuid.UUID) error { return h.next(id) }
func (h *scriptedHandler) GenerateArtifact(_ context.Context, id uuid.UUID) error { return h.next(id) }

func waitDone(t *testing.T, ch <-chan uuid.UUID, want uuid.UUID) {
	t.Helper()
	select {
	case got := <-ch:
		assert.Equal(t, want, got)
	case <-time.After(3 * time.Second):
		t.Fatal("job did not complete")
	}
}

func TestQueueRunsJobs(t *testing.T) {
	h := newScripted()
	q := NewProcessorQueue(h, discard(), WithWorkers(2), WithQueueSize(4))
	defer q.Shutdown(context.Background())

	note, art := uuid.New(), uuid.New()
	require.NoError(t, q.EnqueueNote(note))
	require.NoError(t, q.EnqueueArtifact(art))

	seen := map[uuid.UUID]bool{}
	for i := 0; i < 2; i++ {
		select {
		case id := <-h.done:
			seen[id] = true
		case <-time.After(3 * time.Second):
			t.Fatal("jobs did not complete")
		}
	}
	assert.True(t, seen[note])
	assert.True(t, seen[art])
}

func TestQueueRetriesRetryableErrors(t *testing.T) {
	h := newScripted()
	id := uuid.New()
	h.errs[id] = []error{errors.New("rate limited"), errors.New("timeout")}

	q := NewProcessorQueue(h, discard(), WithWorkers(1), WithMaxAttempts(3),
		WithBackoff(10*time.Millisecond, 20*time.Millisecond))
	defer q.Shutdown(context.Background())

	require.NoError(t, q.EnqueueNote(id))
	waitDone(t, h.done, id)
	assert.Equal(t, 3, h.count(id))
}

func TestQueueSkipsRetryForPermanentErrors(t *testing.T) {
	h := newScripted()
	id := uuid.New()
	h.errs[id] = []error{common.Permanent(errors.New("unsupported format"))}

	exhausted := make(chan Job, 1)
	q := NewProcessorQueue(h, discard(), WithWorkers(1), WithBackoff(time.Millisecond),
		WithOnExhausted(func(_ context.Context, job Job, err error) {
			assert.ErrorIs(t, err, common.ErrNonRetryable)
			exhausted <- job
		}))
	defer q.Shutdown(context.Background())

	require.NoError(t, q.EnqueueNote(id))
	select {
	case job := <-exhausted:
		assert.Equal(t, 1, job.Attempt)
		assert.Equal(t, JobProcessNote, job.Kind)
	case <-time.After(3 * time.Second):
		t.Fatal("exhausted hook not called")
	}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, h.count(id))
}

func TestQueueExhaustsAfterMaxAttempts(t *testing.T) {
	h := newScripted()
	id := uuid.New()
	boom := errors.New("upstream 503")
	h.errs[id] = []error{boom, boom, boom, boom}

	exhausted := make(chan Job, 1)
	q := NewProcessorQueue(h, discard(), WithWorkers(1), WithMaxAttempts(2),
		WithBackoff(5*time.Millisecond),
		WithOnExhausted(func(_ context.Context, job Job, _ error) { exhausted <- job }))
	defer q.Shutdown(context.Background())

	require.NoError(t, q.EnqueueArtifact(id))
	select {
	case job := <-exhausted:
		assert.Equal(t, 2, job.Attempt)
	case <-time.After(3 * time.Second):
		t.Fatal("exhausted hook not called")
	}
	assert.Equal(t, 2, h.count(id))
}

func TestQueueRecoversFromPanics(t *testing.T) {
	var calls atomic.Int32
	exhausted := make(chan error, 1)
	q := NewProcessorQueue(panicky{&calls}, discard(), WithWorkers(1),
		WithOnExhausted(func(_ context.Context, _ Job, err error) { exhausted <- err }))
	defer q.Shutdown(context.Background())

	require.NoError(t, q.EnqueueNote(uuid.New()))
	select {
	case err := <-exhausted:
		assert.ErrorIs(t, err, common.ErrNonRetryable)
	case <-time.After(3 * time.Second):
		t.Fatal("panic was not converted to a failure")
	}
	assert.Equal(t, int32(1), calls.Load())
}

type panicky struct{ calls *atomic.Int32 }

func (p panicky) ProcessNote(context.Context, uuid.UUID) error {
	p.calls.Add(1)
	panic("boom")
}
func (p panicky) GenerateArtifact(context.Context, uuid.UUID) error { return nil }

func TestDelayClampsToLastBackoff(t *testing.T) {
	q := NewProcessorQueue(newScripted(), discard(), WithBackoff(time.Second, 2*time.Second, 5*time.Second))
	defer q.Shutdown(context.Background())

	assert.Equal(t, time.Second, q.Delay(0))
	assert.Equal(t, time.Second, q.Delay(1))
	assert.Equal(t, 2*time.Second, q.Delay(2))
	assert.Equal(t, 5*time.Second, q.Delay(3))
	assert.Equal(t, 5*time.Second, q.Delay(10))
}

func TestShutdownCancelsRetriesAndRejectsJobs(t *testing.T) {
	h := newScripted()
	id := uuid.New()
	h.errs[id] = []error{errors.New("temporary")}

	q := NewProcessorQueue(h, discard(), WithWorkers(1), WithBackoff(time.Hour))
	require.NoError(t, q.EnqueueNote(id))
	require.Eventually(t, func() bool { return q.PendingRetries() == 1 }, 3*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	q.Shutdown(ctx)
	assert.Zero(t, q.PendingRetries())
	assert.ErrorIs(t, q.EnqueueNote(uuid.New()), ErrQueueClosed)

	// idempotent
	q.Shutdown(ctx)
}

func TestRecoverEnqueuesPendingAndStaleRows(t *testing.T) {
	ctx := context.Background()
	db, err := repository.Open(ctx, repository.Config{Driver: "sqlite", DSN: ":memory:"}, discard())
	require.NoError(t, err)
	require.NoError(t, repository.Migrate(ctx, db, discard()))
	defer repository.Close(db, discard())

	notes := repository.NewNoteRepository(db, discard())
	arts := repository.NewArtifactRepository(db, discard())

	pending, err := notes.Create(ctx, repository.NewNote{SourceType: constants.SourceText, RawText: "a"})
	require.NoError(t, err)
	running, err := notes.Create(ctx, repository.NewNote{SourceType: constants.SourceText, RawText: "b"})
	require.NoError(t, err)
	_, err = notes.MarkProcessing(ctx, running.ID)
	require.NoError(t, err)
	art, err := arts.Create(ctx, running.ID, constants.ArtifactQuiz, nil)
	require.NoError(t, err)

	h := newScripted()
	q := NewProcessorQueue(h, discard(), WithWorkers(1))
	defer q.Shutdown(ctx)

	// a zero stale window treats every running row as abandoned
	time.Sleep(10 * time.Millisecond)
	stats, err := q.Recover(ctx, notes, arts, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Notes)
	assert.Equal(t, 1, stats.Artifacts)

	seen := map[uuid.UUID]bool{}
	for i := 0; i < 3; i++ {
		select {
		case id := <-h.done:
			seen[id] = true
		case <-time.After(3 * time.Second):
			t.Fatal("recovered jobs did not run")
		}
	}
	assert.True(t, seen[pending.ID])
	assert.True(t, seen[running.ID])
	assert.True(t, seen[art.ID])
}

// blockingHandler runs until its context is cancelled.
type blockingHandler struct{ started chan uuid.UUID }

func (b blockingHandler) ProcessNote(ctx context.Context, id uuid.UUID) error {
	b.started <- id
	<-ctx.Done()
	return ctx.Err()
}
func (b blockingHandler) GenerateArtifact(ctx context.Context, id uuid.UUID) error {
	return b.ProcessNote(ctx, id)
}

func TestShutdownCancelsRunningJobs(t *testing.T) {
	h := blockingHandler{started: make(chan uuid.UUID, 1)}
	interrupted := make(chan Job, 1)
	var exhausted atomic.Int32
	q := NewProcessorQueue(h, discard(), WithWorkers(1), WithBackoff(time.Millisecond),
		WithOnInterrupted(func(_ context.Context, job Job) { interrupted <- job }),
		WithOnExhausted(func(context.Context, Job, error) { exhausted.Add(1) }))

	id := uuid.New()
	require.NoError(t, q.EnqueueNote(id))
	waitDone(t, h.started, id)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	q.Shutdown(ctx)

	select {
	case job := <-interrupted:
		assert.Equal(t, id, job.TargetID)
		assert.Equal(t, JobProcessNote, job.Kind)
	default:
		t.Fatal("interrupted hook not called")
	}
	assert.Zero(t, exhausted.Load())
	assert.Zero(t, q.PendingRetries())
}

func newRepos(t *testing.T) (repository.NoteRepository, repository.ArtifactRepository) {
	t.Helper()
	ctx := context.Background()
	db, err := repository.Open(ctx, repository.Config{Driver: "sqlite", DSN: ":memory:"}, discard())
	require.NoError(t, err)
	require.NoError(t, repository.Migrate(ctx, db, discard()))
	t.Cleanup(func() { repository.Close(db, discard()) })
	return repository.NewNoteRepository(db, discard()), repository.NewArtifactRepository(db, discard())
}

func TestSweepRequeuesStaleRowsOnly(t *testing.T) {
	ctx := context.Background()
	notes, arts := newRepos(t)

	_, err := notes.Create(ctx, repository.NewNote{SourceType: constants.SourceText, RawText: "queued"})
	require.NoError(t, err)
	running, err := notes.Create(ctx, repository.NewNote{SourceType: constants.SourceText, RawText: "stuck"})
	require.NoError(t, err)
	_, err = notes.MarkProcessing(ctx, running.ID)
	require.NoError(t, err)

	h := newScripted()
	q := NewProcessorQueue(h, discard(), WithWorkers(1))
	defer q.Shutdown(ctx)

	sctx, stop := context.WithCancel(ctx)
	swept := make(chan struct{})
	go func() {
		defer close(swept)
		q.Sweep(sctx, notes, arts, time.Millisecond, 20*time.Millisecond)
	}()

	waitDone(t, h.done, running.ID)
	stop()
	<-swept
	assert.GreaterOrEqual(t, h.count(running.ID), 1)
	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Len(t, h.calls, 1, "pending rows are left to startup recovery")
}

func TestResetInterruptedReturnsFailedRowsToPending(t *testing.T) {
	ctx := context.Background()
	notes, arts := newRepos(t)
	n, err := notes.Create(ctx, repository.NewNote{SourceType: constants.SourceText, RawText: "a"})
	require.NoError(t, err)
	_, err = notes.MarkProcessing(ctx, n.ID)
	require.NoError(t, err)
	require.NoError(t, notes.MarkFailed(ctx, n.ID, "interrupted"))

	stuck, err := notes.Create(ctx, repository.NewNote{SourceType: constants.SourceText, RawText: "b"})
	require.NoError(t, err)
	_, err = notes.MarkProcessing(ctx, stuck.ID)
	require.NoError(t, err)

	reset := ResetInterrupted(notes, arts, discard())
	reset(ctx, Job{Kind: JobProcessNote, TargetID: n.ID})
	reset(ctx, Job{Kind: JobProcessNote, TargetID: stuck.ID})

	got, err := notes.GetByID(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.NoteStatusPending, got.Status)
	assert.Nil(t, got.FailureReason)

	got, err = notes.GetByID(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.NoteStatusProcessing, got.Status)
}

func TestFailExhaustedSettlesUnfinishedRows(t *testing.T) {
	ctx := context.Background()
	notes, arts := newRepos(t)
	n, err := notes.Create(ctx, repository.NewNote{SourceType: constants.SourceText, RawText: "a"})
	require.NoError(t, err)
	_, err = notes.MarkProcessing(ctx, n.ID)
	require.NoError(t, err)

	a, err := arts.Create(ctx, n.ID, constants.ArtifactQuiz, nil)
	require.NoError(t, err)
	_, err = arts.MarkGenerating(ctx, a.ID)
	require.NoError(t, err)
	require.NoError(t, arts.MarkFailed(ctx, a.ID, "stage reason"))

	hook := FailExhausted(notes, arts, func(error) string { return "gave up" }, discard())
	hook(ctx, Job{Kind: JobProcessNote, TargetID: n.ID, Attempt: 3}, errors.New("db down"))
	hook(ctx, Job{Kind: JobGenerateArtifact, TargetID: a.ID, Attempt: 3}, errors.New("upstream 503"))
	hook(ctx, Job{Kind: JobProcessNote, TargetID: uuid.New()}, errors.New("gone"))

	gotNote, err := notes.GetByID(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.NoteStatusFailed, gotNote.Status)
	require.NotNil(t, gotNote.FailureReason)
	assert.Equal(t, "gave up", *gotNote.FailureReason)

	gotArt, err := arts.GetByID(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, gotArt.FailureReason)
	assert.Equal(t, "stage reason", *gotArt.FailureReason)
}
