package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/lucianodigital2b/clevernote-sub002/constants"
	"github.com/lucianodigital2b/clevernote-sub002/internal/common"
	"github.com/lucianodigital2b/clevernote-sub002/internal/entity"
	"github.com/lucianodigital2b/clevernote-sub002/internal/export"
	"github.com/lucianodigital2b/clevernote-sub002/internal/ingest"
	"github.com/lucianodigital2b/clevernote-sub002/internal/repository"
	"github.com/lucianodigital2b/clevernote-sub002/internal/storage"
)

// Scheduler hands work to the background queue.
type Scheduler interface {
	EnqueueNote(noteID uuid.UUID) error
	EnqueueArtifact(artifactID uuid.UUID) error
}

// NoteService is the transport-independent surface shared by the gRPC and HTTP servers.
type NoteService struct {
	notes     repository.NoteRepository
	artifacts repository.ArtifactRepository
	ingestor  ingest.Ingestor
	queue     Scheduler
	exporter  *export.Service
	store     *storage.FileStore
	logger    *slog.Logger

	// pathRoots are the directories a caller may name in IngestFileRequest.Path
	pathRoots []string
}

type ServiceOption func(*NoteService)

// WithPathRoots allows server-side path ingestion below the given directories.
// Without it only inline uploads are accepted.
func WithPathRoots(roots ...string) ServiceOption {
	return func(s *NoteService) {
		for _, r := range roots {
			if abs, err := filepath.Abs(r); err == nil {
				if resolved, err := filepath.EvalSymlinks(abs); err == nil {
					abs = resolved
				}
				s.pathRoots = append(s.pathRoots, abs)
			}
		}
	}
}

func NewNoteService(
	notes repository.NoteRepository,
	artifacts repository.ArtifactRepository,
	ing ingest.Ingestor,
	queue Scheduler,
	exporter *export.Service,
	store *storage.FileStore,
	logger *slog.Logger,
	opts ...ServiceOption,
) *NoteService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &NoteService{
		notes:     notes,
		artifacts: artifacts,
		ingestor:  ing,
		queue:     queue,
		exporter:  exporter,
		store:     store,
		logger:    logger,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// IngestFileRequest names either a local path or an inline upload.
type IngestFileRequest struct {
	Path     string `json:"path,omitempty"`
	Filename string `json:"filename,omitempty"`
	// ContentBase64 carries the file bytes when Path is empty.
	ContentBase64 string `json:"content_base64,omitempty"`
	Language      string `json:"language,omitempty"`
	Title         string `json:"title,omitempty"`
}

// IngestResult is returned by every ingest call.
type IngestResult struct {
	Note         *entity.Note `json:"note"`
	Deduplicated bool         `json:"deduplicated"`
}

func (s *NoteService) IngestText(ctx context.Context, text string, opts ingest.Options) (*entity.Note, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text is required: %w", common.ErrInvalidInput)
	}
	return s.ingestor.IngestText(ctx, text, opts)
}

func (s *NoteService) IngestLink(ctx context.Context, link string, opts ingest.Options) (*entity.Note, error) {
	if strings.TrimSpace(link) == "" {
		return nil, fmt.Errorf("url is required: %w", common.ErrInvalidInput)
	}
	return s.ingestor.IngestLink(ctx, strings.TrimSpace(link), opts)
}

func (s *NoteService) IngestFile(ctx context.Context, req IngestFileRequest) (IngestResult, error) {
	opts := ingest.Options{Language: req.Language, Title: req.Title}

	var (
		r   ingest.IngestionResult
		err error
	)
	switch {
	case strings.TrimSpace(req.Path) != "":
		path, perr := s.allowedPath(strings.TrimSpace(req.Path))
		if perr != nil {
			s.logger.Warn("ingest.path_rejected", "path", req.Path, "error", perr)
			return IngestResult{}, perr
		}
		r, err = s.ingestor.IngestFile(ctx, path, opts)
	case req.ContentBase64 != "":
		if strings.TrimSpace(req.Filename) == "" {
			return IngestResult{}, fmt.Errorf("filename is required with inline content: %w", common.ErrInvalidInput)
		}
		data, decErr := base64.StdEncoding.DecodeString(req.ContentBase64)
		if decErr != nil {
			return IngestResult{}, fmt.Errorf("content_base64: %v: %w", decErr, common.ErrInvalidInput)
		}
		r, err = s.ingestor.IngestBytes(ctx, req.Filename, data, opts)
	default:
		return IngestResult{}, fmt.Errorf("path or content_base64 is required: %w", common.ErrInvalidInput)
	}
	if err != nil {
		return IngestResult{}, err
	}

	id, err := uuid.Parse(r.NoteID)
	if err != nil {
		return IngestResult{}, fmt.Errorf("ingest returned bad note id %q: %w", r.NoteID, err)
	}
	n, err := s.notes.GetByID(ctx, id)
	if err != nil {
		return IngestResult{}, err
	}
	return IngestResult{Note: n, Deduplicated: r.Deduplicated}, nil
}

// allowedPath resolves p and checks it lies inside a configured path root.
func (s *NoteService) allowedPath(p string) (string, error) {
	if len(s.pathRoots) == 0 {
		return "", fmt.Errorf("path ingestion is disabled, send content_base64: %w", common.ErrForbidden)
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("path: %v: %w", err, common.ErrInvalidInput)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("path %q is not readable: %w", p, common.ErrForbidden)
	}
	for _, root := range s.pathRoots {
		if rel, err := filepath.Rel(root, resolved); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return resolved, nil
		}
	}
	return "", fmt.Errorf("path %q is outside the ingest directories: %w", p, common.ErrForbidden)
}

func (s *NoteService) GetNote(ctx context.Context, id uuid.UUID) (*entity.Note, error) {
	return s.notes.GetByID(ctx, id)
}

// GenerateArtifact creates a pending artifact of the given kind and enqueues it.
// The note must already be processed.
func (s *NoteService) GenerateArtifact(ctx context.Context, noteID uuid.UUID, kind string, opts entity.GenerateOptions) (*entity.Artifact, error) {
	k, ok := constants.ParseArtifactKind(kind)
	if !ok {
		return nil, fmt.Errorf("unknown artifact kind %q, want one of %s: %w",
			kind, strings.Join(constants.AsStringSlice(), ", "), common.ErrInvalidInput)
	}
	n, err := s.notes.GetByID(ctx, noteID)
	if err != nil {
		return nil, err
	}
	if n.Status != constants.NoteStatusProcessed {
		return nil, fmt.Errorf("note %s is %s: %w", n.ID, n.Status, common.ErrNotReady)
	}

	raw, err := json.Marshal(opts)
	if err != nil {
		return nil, fmt.Errorf("encode options: %w", err)
	}
	a, err := s.artifacts.Create(ctx, noteID, k, raw)
	if err != nil {
		return nil, err
	}
	s.enqueueArtifact(ctx, a.ID)
	return a, nil
}

func (s *NoteService) GetArtifact(ctx context.Context, id uuid.UUID) (*entity.Artifact, error) {
	return s.artifacts.GetByID(ctx, id)
}

func (s *NoteService) ListArtifacts(ctx context.Context, noteID uuid.UUID) ([]*entity.Artifact, error) {
	if _, err := s.notes.GetByID(ctx, noteID); err != nil {
		return nil, err
	}
	return s.artifacts.ListByNote(ctx, noteID)
}

// RetryNote moves a failed note back to pending and enqueues it again.
func (s *NoteService) RetryNote(ctx context.Context, id uuid.UUID) (*entity.Note, error) {
	if err := s.notes.ResetPending(ctx, id); err != nil {
		return nil, err
	}
	if s.queue != nil {
		if err := s.queue.EnqueueNote(id); err != nil {
			common.LoggerFromContext(ctx, s.logger).Error("note.retry.enqueue_failed", "note_id", id, "err", err)
		}
	}
	return s.notes.GetByID(ctx, id)
}

// RetryArtifact moves a failed artifact back to pending and enqueues it again.
func (s *NoteService) RetryArtifact(ctx context.Context, id uuid.UUID) (*entity.Artifact, error) {
	if err := s.artifacts.ResetPending(ctx, id); err != nil {
		return nil, err
	}
	s.enqueueArtifact(ctx, id)
	return s.artifacts.GetByID(ctx, id)
}

func (s *NoteService) ExportNotePDF(ctx context.Context, id uuid.UUID) ([]byte, error) {
	return s.exporter.ExportNotePDF(ctx, id)
}

func (s *NoteService) ExportArtifactXLSX(ctx context.Context, id uuid.UUID) ([]byte, error) {
	return s.exporter.ExportArtifactXLSX(ctx, id)
}

// PodcastAudio returns the local mp3 path of a completed podcast artifact.
func (s *NoteService) PodcastAudio(ctx context.Context, id uuid.UUID) (string, error) {
	a, err := s.artifacts.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if a.Kind != constants.ArtifactPodcast {
		return "", fmt.Errorf("artifact %s is %s, not a podcast: %w", a.ID, a.Kind, common.ErrInvalidInput)
	}
	if a.Status != constants.ArtifactStatusCompleted || a.AudioPath == nil {
		return "", fmt.Errorf("podcast %s is %s: %w", a.ID, a.Status, common.ErrNotReady)
	}
	if s.store == nil || !s.store.Owns(*a.AudioPath) {
		return "", fmt.Errorf("audio for %s: %w", a.ID, common.ErrNotFound)
	}
	return *a.AudioPath, nil
}

// enqueue failures are logged only; Recover picks pending rows up on the next start.
func (s *NoteService) enqueueArtifact(ctx context.Context, id uuid.UUID) {
	if s.queue == nil {
		return
	}
	if err := s.queue.EnqueueArtifact(id); err != nil {
		common.LoggerFromContext(ctx, s.logger).Error("artifact.enqueue_failed", "artifact_id", id, "err", err)
	}
}
