package ingest

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucianodigital2b/clevernote-sub002/constants"
	"github.com/lucianodigital2b/clevernote-sub002/internal/common"
	"github.com/lucianodigital2b/clevernote-sub002/internal/repository"
	"github.com/lucianodigital2b/clevernote-sub002/internal/storage"
)

type recordingQueue struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (q *recordingQueue) EnqueueNote(id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, id)
	return nil
}

func (q *recordingQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newIngestor(t *testing.T) (*FSIngestor, repository.NoteRepository, *recordingQueue) {
	t.Helper()
	ctx := context.Background()
	db, err := repository.Open(ctx, repository.Config{Driver: "sqlite", DSN: ":memory:"}, discard())
	require.NoError(t, err)
	require.NoError(t, repository.Migrate(ctx, db, discard()))
	t.Cleanup(func() { repository.Close(db, discard()) })

	store, err := storage.NewFileStore(t.TempDir(), 1<<20, discard())
	require.NoError(t, err)

	notes := repository.NewNoteRepository(db, discard())
	q := &recordingQueue{}
	return NewFSIngestor(notes, store, q, discard()), notes, q
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestIngestFileCreatesPendingNote(t *testing.T) {
	ctx := context.Background()
	ing, notes, q := newIngestor(t)
	src := writeFile(t, t.TempDir(), "lecture.PDF", "%PDF-1.4 fake")

	res, err := ing.IngestFile(ctx, src, Options{Language: "pt"})
	require.NoError(t, err)
	assert.False(t, res.Deduplicated)
	assert.Equal(t, constants.SourcePDF, res.SourceType)
	assert.Len(t, res.HashHex, 64)

	n, err := notes.GetByID(ctx, uuid.MustParse(res.NoteID))
	require.NoError(t, err)
	assert.Equal(t, constants.NoteStatusPending, n.Status)
	assert.Equal(t, "lecture.PDF", n.OriginalName)
	assert.Equal(t, "pt", n.Language)
	assert.True(t, ing.Store.Owns(n.SourcePath))
	assert.NotEqual(t, src, n.SourcePath)
	assert.Equal(t, 1, q.count())
}

func TestIngestFileDeduplicates(t *testing.T) {
	ctx := context.Background()
	ing, _, q := newIngestor(t)
	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", "same content")
	b := writeFile(t, dir, "b.txt", "same content")

	first, err := ing.IngestFile(ctx, a, Options{})
	require.NoError(t, err)
	second, err := ing.IngestFile(ctx, b, Options{})
	require.NoError(t, err)

	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.NoteID, second.NoteID)
	assert.Equal(t, 1, q.count())

	entries, err := os.ReadDir(ing.Store.SourcesDir())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestIngestFileRejectsUnsupported(t *testing.T) {
	ing, _, _ := newIngestor(t)
	src := writeFile(t, t.TempDir(), "archive.zip", "PK")

	_, err := ing.IngestFile(context.Background(), src, Options{})
	require.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestIngestFileTooLarge(t *testing.T) {
	ing, _, q := newIngestor(t)
	big := make([]byte, 2<<20)
	src := filepath.Join(t.TempDir(), "huge.mp3")
	require.NoError(t, os.WriteFile(src, big, 0o644))

	_, err := ing.IngestFile(context.Background(), src, Options{})
	require.ErrorIs(t, err, storage.ErrTooLarge)
	assert.Zero(t, q.count())
}

func TestIngestBytes(t *testing.T) {
	ctx := context.Background()
	ing, notes, _ := newIngestor(t)

	res, err := ing.IngestBytes(ctx, "photo.jpg", []byte{0xff, 0xd8, 0xff}, Options{Title: "Board"})
	require.NoError(t, err)
	n, err := notes.GetByID(ctx, uuid.MustParse(res.NoteID))
	require.NoError(t, err)
	assert.Equal(t, constants.SourceImage, n.SourceType)
	assert.Equal(t, "Board", n.OriginalName)

	_, err = ing.IngestBytes(ctx, "photo.jpg", nil, Options{})
	require.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestIngestLinkAndText(t *testing.T) {
	ctx := context.Background()
	ing, _, q := newIngestor(t)

	n, err := ing.IngestLink(ctx, " https://example.com/cells ", Options{})
	require.NoError(t, err)
	assert.Equal(t, constants.SourceLink, n.SourceType)
	assert.Equal(t, "https://example.com/cells", n.SourceURL)
	assert.Equal(t, "example.com/cells", n.OriginalName)

	_, err = ing.IngestLink(ctx, "ftp://example.com/x", Options{})
	require.ErrorIs(t, err, common.ErrInvalidInput)
	_, err = ing.IngestLink(ctx, "not a url", Options{})
	require.ErrorIs(t, err, common.ErrInvalidInput)

	tn, err := ing.IngestText(ctx, "Mitochondria make ATP.", Options{Title: "Bio"})
	require.NoError(t, err)
	assert.Equal(t, constants.SourceText, tn.SourceType)
	assert.Equal(t, "Mitochondria make ATP.", tn.RawText)

	_, err = ing.IngestText(ctx, "   ", Options{})
	require.ErrorIs(t, err, common.ErrInvalidInput)

	assert.Equal(t, 2, q.count())
}

func TestIngestDirectory(t *testing.T) {
	ing, _, _ := newIngestor(t)
	root := t.TempDir()
	writeFile(t, root, "one.txt", "first")
	writeFile(t, root, "nested/two.md", "second")
	writeFile(t, root, "nested/dup.txt", "first")
	writeFile(t, root, "skip.exe", "binary")
	writeFile(t, root, ".hidden/three.txt", "third")

	results, stats, err := ing.IngestDirectory(context.Background(), root, true, Options{})
	require.NoError(t, err)
	assert.Equal(t, uint32(3), stats.Matched)
	assert.Equal(t, uint32(3), stats.Succeeded)
	assert.Equal(t, uint32(1), stats.Deduplicated)
	assert.Zero(t, stats.Failed)
	assert.Len(t, results, 3)

	_, _, err = ing.IngestDirectory(context.Background(), " ", true, Options{})
	assert.Error(t, err)
}

func TestWatcherEmitsDebouncedFiles(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	root := t.TempDir()
	existing := writeFile(t, root, "old.txt", "old")

	events, _, err := StartWatcher(ctx, WatchConfig{
		Roots:       []string{root},
		InitialScan: true,
		Debounce:    50 * time.Millisecond,
		Logger:      discard(),
	})
	require.NoError(t, err)

	select {
	case p := <-events:
		assert.Equal(t, existing, p)
	case <-time.After(2 * time.Second):
		t.Fatal("initial scan did not emit")
	}

	created := filepath.Join(root, "new.md")
	require.NoError(t, os.WriteFile(created, []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(created, []byte("ab"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "ignored.bin"), []byte("x"), 0o644))

	select {
	case p := <-events:
		assert.Equal(t, created, p)
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not emit created file")
	}

	select {
	case p := <-events:
		t.Fatalf("unexpected extra event for %s", p)
	case <-time.After(200 * time.Millisecond):
	}

	cancel()
	for range events {
	}
}

func TestStartWatcherRequiresRoots(t *testing.T) {
	_, _, err := StartWatcher(context.Background(), WatchConfig{})
	assert.Error(t, err)
}
