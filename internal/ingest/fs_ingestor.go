package ingest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/lucianodigital2b/clevernote-sub002/constants"
	"github.com/lucianodigital2b/clevernote-sub002/internal/common"
	"github.com/lucianodigital2b/clevernote-sub002/internal/entity"
	"github.com/lucianodigital2b/clevernote-sub002/internal/repository"
	"github.com/lucianodigital2b/clevernote-sub002/internal/storage"
)

// FSIngestor turns local files, links and pasted text into pending notes.
type FSIngestor struct {
	Notes repository.NoteRepository
	Store *storage.FileStore
	// Queue may be nil, in which case notes stay pending until processed explicitly.
	Queue Enqueuer
	log   *slog.Logger
}

func NewFSIngestor(notes repository.NoteRepository, store *storage.FileStore, queue Enqueuer, logger *slog.Logger) *FSIngestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &FSIngestor{Notes: notes, Store: store, Queue: queue, log: logger}
}

// IngestFile copies path into storage and creates a pending note for it.
// A file whose content hash matches an existing note returns that note instead.
func (i *FSIngestor) IngestFile(ctx context.Context, path string, opts Options) (IngestionResult, error) {
	out := IngestionResult{SourcePath: path}

	abs, err := filepath.Abs(path)
	if err != nil {
		i.log.Error("abs path error", "path", path, "error", err)
		return out, err
	}
	out.SourcePath = abs

	ext := constants.NormalizeExt(filepath.Ext(abs))
	if ext == "" || !AllowedExt(ext) {
		i.log.Warn("unsupported or missing extension", "path", abs, "ext", ext)
		return out, fmt.Errorf("%w: unsupported or missing extension %q", common.ErrInvalidInput, ext)
	}

	sum, err := hashFile(abs)
	if err != nil {
		i.log.Error("hash error", "path", abs, "error", err)
		return out, err
	}
	return i.create(ctx, out, sum, ext, filepath.Base(abs), opts, func() (string, error) {
		return i.Store.SaveFile(abs)
	})
}

// IngestBytes is IngestFile for content that arrived over the wire.
func (i *FSIngestor) IngestBytes(ctx context.Context, filename string, data []byte, opts Options) (IngestionResult, error) {
	out := IngestionResult{SourcePath: filename}
	ext := constants.NormalizeExt(filepath.Ext(filename))
	if ext == "" || !AllowedExt(ext) {
		return out, fmt.Errorf("%w: unsupported or missing extension %q", common.ErrInvalidInput, ext)
	}
	if len(data) == 0 {
		return out, fmt.Errorf("%w: empty file", common.ErrInvalidInput)
	}
	sum := sha256.Sum256(data)
	return i.create(ctx, out, sum[:], ext, filepath.Base(filename), opts, func() (string, error) {
		return i.Store.SaveSource(bytes.NewReader(data), ext)
	})
}

func (i *FSIngestor) create(ctx context.Context, out IngestionResult, sum []byte, ext, name string, opts Options, save func() (string, error)) (IngestionResult, error) {
	out.HashHex = hex.EncodeToString(sum)
	out.SourceType = constants.MapExtToSource(ext)

	existing, err := i.Notes.GetByHash(ctx, sum)
	switch {
	case err == nil:
		i.log.Info("ingest.dedup", "note_id", existing.ID, "hash", out.HashHex)
		out.NoteID = existing.ID.String()
		out.Deduplicated = true
		return out, nil
	case !errors.Is(err, common.ErrNotFound):
		return out, err
	}

	stored, err := save()
	if err != nil {
		i.log.Error("ingest.store_failed", "name", name, "error", err)
		return out, fmt.Errorf("store source: %w", err)
	}

	if opts.Title != "" {
		name = opts.Title
	}
	n, err := i.Notes.Create(ctx, repository.NewNote{
		SourceType:   out.SourceType,
		SourcePath:   stored,
		OriginalName: name,
		Language:     opts.Language,
		ContentHash:  sum,
	})
	if err != nil {
		if rmErr := i.Store.Remove(stored); rmErr != nil {
			i.log.Warn("ingest.cleanup_failed", "path", stored, "error", rmErr)
		}
		return out, err
	}
	out.NoteID = n.ID.String()
	i.enqueue(n)
	return out, nil
}

// IngestLink creates a pending note for a web page.
func (i *FSIngestor) IngestLink(ctx context.Context, link string, opts Options) (*entity.Note, error) {
	link = strings.TrimSpace(link)
	u, err := url.Parse(link)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: link must be an absolute http(s) URL", common.ErrInvalidInput)
	}
	name := opts.Title
	if name == "" {
		name = u.Host + u.Path
	}
	n, err := i.Notes.Create(ctx, repository.NewNote{
		SourceType:   constants.SourceLink,
		SourceURL:    u.String(),
		OriginalName: name,
		Language:     opts.Language,
	})
	if err != nil {
		return nil, err
	}
	i.enqueue(n)
	return n, nil
}

// IngestText creates a pending note from pasted text.
func (i *FSIngestor) IngestText(ctx context.Context, text string, opts Options) (*entity.Note, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text is empty", common.ErrInvalidInput)
	}
	n, err := i.Notes.Create(ctx, repository.NewNote{
		SourceType:   constants.SourceText,
		RawText:      text,
		OriginalName: opts.Title,
		Language:     opts.Language,
	})
	if err != nil {
		return nil, err
	}
	i.enqueue(n)
	return n, nil
}

// enqueue failures are logged only; startup recovery picks pending notes up again.
func (i *FSIngestor) enqueue(n *entity.Note) {
	if i.Queue == nil {
		return
	}
	if err := i.Queue.EnqueueNote(n.ID); err != nil {
		i.log.Warn("ingest.enqueue_failed", "note_id", n.ID, "error", err)
	}
}
