package storage

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/lucianodigital2b/clevernote-sub002/constants"
)

// ErrTooLarge is returned when a copied file exceeds the configured upload cap.
var ErrTooLarge = errors.New("file too large")

// FileStore owns the on-disk layout under the data directory:
//
//	<base>/sources   uploaded source files, one per note
//	<base>/podcasts  rendered podcast audio
//	<base>/tmp       scratch space, removed by callers
type FileStore struct {
	baseDir        string
	sourcesDir     string
	podcastsDir    string
	tmpDir         string
	maxUploadBytes int64
	log            *slog.Logger
}

func NewFileStore(baseDir string, maxUploadBytes int64, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve data dir: %w", err)
	}
	fs := &FileStore{
		baseDir:        abs,
		sourcesDir:     filepath.Join(abs, "sources"),
		podcastsDir:    filepath.Join(abs, "podcasts"),
		tmpDir:         filepath.Join(abs, "tmp"),
		maxUploadBytes: maxUploadBytes,
		log:            logger,
	}
	for _, dir := range []string{fs.baseDir, fs.sourcesDir, fs.podcastsDir, fs.tmpDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create dir %s: %w", dir, err)
		}
	}
	return fs, nil
}

func (s *FileStore) BaseDir() string     { return s.baseDir }
func (s *FileStore) SourcesDir() string  { return s.sourcesDir }
func (s *FileStore) PodcastsDir() string { return s.podcastsDir }
func (s *FileStore) TmpDir() string      { return s.tmpDir }

// PodcastPath is where the rendered audio of an artifact lives.
func (s *FileStore) PodcastPath(artifactID uuid.UUID) string {
	return filepath.Join(s.podcastsDir, artifactID.String()+".mp3")
}

// SaveSource copies r into the sources directory under a fresh name that keeps ext.
func (s *FileStore) SaveSource(r io.Reader, ext string) (string, error) {
	ext = constants.NormalizeExt(ext)
	if ext == "" {
		ext = "bin"
	}
	path := filepath.Join(s.sourcesDir, fmt.Sprintf("%s.%s", uuid.NewString(), ext))
	if err := s.writeWithLimit(path, r); err != nil {
		return "", err
	}
	s.log.Debug("storage.source.saved", "path", path)
	return path, nil
}

// SaveFile copies a file from disk into the sources directory.
func (s *FileStore) SaveFile(src string) (string, error) {
	f, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open source: %w", err)
	}
	defer f.Close()
	return s.SaveSource(f, filepath.Ext(src))
}

// WritePodcast stores rendered audio for an artifact, replacing any earlier render.
func (s *FileStore) WritePodcast(artifactID uuid.UUID, r io.Reader) (string, error) {
	path := s.PodcastPath(artifactID)
	tmp, err := s.TempFile("podcast-*.mp3")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("write podcast: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("close podcast: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("move podcast: %w", err)
	}
	return path, nil
}

// TempFile creates a scratch file under tmp. The caller removes it.
func (s *FileStore) TempFile(pattern string) (*os.File, error) {
	f, err := os.CreateTemp(s.tmpDir, pattern)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return f, nil
}

// TempDir creates a scratch directory under tmp and a cleanup func for it.
func (s *FileStore) TempDir(pattern string) (string, func(), error) {
	dir, err := os.MkdirTemp(s.tmpDir, pattern)
	if err != nil {
		return "", func() {}, fmt.Errorf("create temp dir: %w", err)
	}
	return dir, func() {
		if err := os.RemoveAll(dir); err != nil {
			s.log.Warn("storage.tmp.cleanup_failed", "dir", dir, "error", err)
		}
	}, nil
}

// Remove deletes a file owned by the store. Paths outside the data dir are refused.
func (s *FileStore) Remove(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if !s.Owns(path) {
		return fmt.Errorf("refusing to remove %q outside data dir", path)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

// Owns reports whether path resolves inside the data directory.
func (s *FileStore) Owns(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(s.baseDir, abs)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (s *FileStore) writeWithLimit(path string, r io.Reader) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	cleanup := func(err error) error {
		out.Close()
		os.Remove(path)
		return err
	}

	src := r
	if s.maxUploadBytes > 0 {
		// one extra byte distinguishes "exactly at the cap" from "over it"
		src = io.LimitReader(r, s.maxUploadBytes+1)
	}
	n, err := io.Copy(out, src)
	if err != nil {
		return cleanup(fmt.Errorf("write file: %w", err))
	}
	if s.maxUploadBytes > 0 && n > s.maxUploadBytes {
		return cleanup(fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, s.maxUploadBytes))
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("close file: %w", err)
	}
	return nil
}
