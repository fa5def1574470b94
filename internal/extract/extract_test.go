package extract

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucianodigital2b/clevernote-sub002/constants"
	"github.com/lucianodigital2b/clevernote-sub002/internal/common"
	"github.com/lucianodigital2b/clevernote-sub002/internal/entity"
	"github.com/lucianodigital2b/clevernote-sub002/internal/llm"
)

type call struct {
	name string
	args []string
}

// fakeRunner answers commands through a per-binary handler and records the calls.
type fakeRunner struct {
	mu       sync.Mutex
	calls    []call
	handlers map[string]func(args []string) ([]byte, []byte, error)
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{name, args})
	f.mu.Unlock()
	if h, ok := f.handlers[name]; ok {
		return h(args)
	}
	return nil, []byte("not found"), errors.New("exec: not found")
}

type fakeVision struct {
	text   string
	images int
	calls  int
}

func (f *fakeVision) CompleteJSON(_ context.Context, req llm.ChatRequest) ([]byte, error) {
	f.calls++
	f.images += len(req.Images)
	return []byte(`{"text":"` + f.text + `"}`), nil
}

type fakeTranscriber struct {
	path string
}

func (f *fakeTranscriber) Transcribe(_ context.Context, req llm.TranscribeRequest) (string, error) {
	f.path = req.Path
	return "transcribed lecture about enzymes", nil
}

func newTestExtractor(t *testing.T, r Runner, cfg Config) (*Extractor, *fakeVision, *fakeTranscriber) {
	t.Helper()
	v := &fakeVision{text: "slide text about photosynthesis"}
	tr := &fakeTranscriber{}
	cfg.TempDir = t.TempDir()
	e := NewExtractor(cfg, v, tr, slog.New(slog.NewTextHandler(io.Discard, nil)), WithRunner(r))
	return e, v, tr
}

func writeFile(t *testing.T, name string, size int) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, make([]byte, size), 0o600))
	return p
}

func TestExtractPDFTextLayer(t *testing.T) {
	r := &fakeRunner{handlers: map[string]func([]string) ([]byte, []byte, error){
		"pdftotext": func([]string) ([]byte, []byte, error) {
			return []byte("Chapter 1\t\tCells\n\n\n\nThe cell is the basic unit of life.\fPage two text here."), nil, nil
		},
	}}
	e, v, _ := newTestExtractor(t, r, Config{})

	res, err := e.Extract(context.Background(), &entity.Note{SourceType: constants.SourcePDF, SourcePath: "doc.pdf"})
	require.NoError(t, err)
	assert.Equal(t, "pdf-text", res.Method)
	assert.Equal(t, 2, res.Pages)
	assert.Contains(t, res.Text, "Chapter 1 Cells\n\nThe cell")
	assert.Equal(t, 0, v.calls)
}

func TestExtractPDFFallsBackToVision(t *testing.T) {
	r := &fakeRunner{handlers: map[string]func([]string) ([]byte, []byte, error){
		"pdftotext": func([]string) ([]byte, []byte, error) { return []byte("\f\f"), nil, nil },
		"pdftoppm": func(args []string) ([]byte, []byte, error) {
			prefix := args[len(args)-1]
			for _, n := range []string{"1", "2", "3"} {
				if err := os.WriteFile(prefix+"-"+n+".jpg", []byte("jpeg"), 0o600); err != nil {
					return nil, nil, err
				}
			}
			return nil, nil, nil
		},
	}}
	e, v, _ := newTestExtractor(t, r, Config{PagesPerCall: 2})

	res, err := e.Extract(context.Background(), &entity.Note{SourceType: constants.SourcePDF, SourcePath: "scan.pdf"})
	require.NoError(t, err)
	assert.Equal(t, "pdf-vision", res.Method)
	assert.Equal(t, 3, res.Pages)
	assert.Equal(t, 2, v.calls)
	assert.Equal(t, 3, v.images)

	entries, err := os.ReadDir(e.cfg.TempDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temp files must be removed")
}

func TestExtractImageHEIC(t *testing.T) {
	r := &fakeRunner{handlers: map[string]func([]string) ([]byte, []byte, error){
		"magick": func(args []string) ([]byte, []byte, error) {
			return nil, nil, os.WriteFile(args[len(args)-1], []byte("png"), 0o600)
		},
	}}
	e, v, _ := newTestExtractor(t, r, Config{HeicConverter: "magick"})

	res, err := e.Extract(context.Background(), &entity.Note{SourceType: constants.SourceImage, SourcePath: writeFile(t, "board.heic", 10)})
	require.NoError(t, err)
	assert.Equal(t, "image-vision", res.Method)
	assert.Equal(t, "slide text about photosynthesis", res.Text)
	assert.Equal(t, 1, v.images)
	require.Len(t, r.calls, 1)
	assert.Equal(t, "magick", r.calls[0].name)
}

func TestExtractImageHEICWithoutConverter(t *testing.T) {
	e, _, _ := newTestExtractor(t, &fakeRunner{}, Config{})
	_, err := e.Extract(context.Background(), &entity.Note{SourceType: constants.SourceImage, SourcePath: writeFile(t, "a.heic", 10)})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.False(t, common.IsRetryable(err))
}

func TestExtractImageTooLarge(t *testing.T) {
	e, _, _ := newTestExtractor(t, &fakeRunner{}, Config{MaxImageMB: 1})
	_, err := e.Extract(context.Background(), &entity.Note{SourceType: constants.SourceImage, SourcePath: writeFile(t, "big.png", 2<<20)})
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestExtractAudioCompressesLargeFiles(t *testing.T) {
	var bitrates []string
	r := &fakeRunner{handlers: map[string]func([]string) ([]byte, []byte, error){
		"ffmpeg": func(args []string) ([]byte, []byte, error) {
			br := args[9]
			bitrates = append(bitrates, br)
			size := 3 << 20
			if br == "64k" {
				size = 1 << 20
			}
			return nil, nil, os.WriteFile(args[len(args)-1], make([]byte, size), 0o600)
		},
	}}
	e, _, tr := newTestExtractor(t, r, Config{MaxTranscribeMB: 2})

	res, err := e.Extract(context.Background(), &entity.Note{SourceType: constants.SourceAudio, SourcePath: writeFile(t, "lecture.m4a", 3<<20), Language: "en"})
	require.NoError(t, err)
	assert.Equal(t, "audio-transcribe", res.Method)
	assert.Equal(t, []string{"128k", "96k", "64k"}, bitrates)
	assert.True(t, strings.HasSuffix(tr.path, "lecture_compressed.mp3"))
	assert.Len(t, res.Warnings, 2)
}

func TestExtractAudioSmallFileSkipsCompression(t *testing.T) {
	r := &fakeRunner{}
	e, _, tr := newTestExtractor(t, r, Config{})
	path := writeFile(t, "memo.mp3", 100)

	_, err := e.Extract(context.Background(), &entity.Note{SourceType: constants.SourceAudio, SourcePath: path})
	require.NoError(t, err)
	assert.Equal(t, path, tr.path)
	assert.Empty(t, r.calls)
}

func TestExtractAudioStillTooLarge(t *testing.T) {
	r := &fakeRunner{handlers: map[string]func([]string) ([]byte, []byte, error){
		"ffmpeg": func(args []string) ([]byte, []byte, error) {
			return nil, nil, os.WriteFile(args[len(args)-1], make([]byte, 3<<20), 0o600)
		},
	}}
	e, _, _ := newTestExtractor(t, r, Config{MaxTranscribeMB: 2})
	_, err := e.Extract(context.Background(), &entity.Note{SourceType: constants.SourceAudio, SourcePath: writeFile(t, "long.wav", 3<<20)})
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.Len(t, r.calls, len(compressionProfiles))
}

func TestExtractLink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/article":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(`<html><head><title>Mitosis</title><style>p{}</style></head>
<body><nav>Home | About</nav><article><h1>Cell division</h1><p>Mitosis has four phases.</p>
<script>track()</script><ul><li>Prophase</li><li>Metaphase</li></ul></article><footer>(c) 2024</footer></body></html>`))
		case "/missing":
			http.NotFound(w, r)
		case "/binary":
			w.Header().Set("Content-Type", "application/zip")
			_, _ = w.Write([]byte("PK"))
		}
	}))
	defer srv.Close()

	e, _, _ := newTestExtractor(t, &fakeRunner{}, Config{})
	res, err := e.Extract(context.Background(), &entity.Note{SourceType: constants.SourceLink, SourceURL: srv.URL + "/article"})
	require.NoError(t, err)
	assert.Equal(t, "link-html", res.Method)
	assert.True(t, strings.HasPrefix(res.Text, "Mitosis\n\nCell division"))
	assert.Contains(t, res.Text, "Mitosis has four phases.")
	assert.Contains(t, res.Text, "Prophase")
	assert.NotContains(t, res.Text, "track()")
	assert.NotContains(t, res.Text, "Home | About")
	assert.NotContains(t, res.Text, "(c) 2024")

	_, err = e.Extract(context.Background(), &entity.Note{SourceType: constants.SourceLink, SourceURL: srv.URL + "/missing"})
	assert.Error(t, err)
	assert.False(t, common.IsRetryable(err))

	_, err = e.Extract(context.Background(), &entity.Note{SourceType: constants.SourceLink, SourceURL: srv.URL + "/binary"})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = e.Extract(context.Background(), &entity.Note{SourceType: constants.SourceLink, SourceURL: "ftp://example.com"})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestExtractTextAndEmpty(t *testing.T) {
	e, _, _ := newTestExtractor(t, &fakeRunner{}, Config{})
	res, err := e.Extract(context.Background(), &entity.Note{SourceType: constants.SourceText, RawText: "  my   notes \r\n"})
	require.NoError(t, err)
	assert.Equal(t, "my notes", res.Text)

	_, err = e.Extract(context.Background(), &entity.Note{SourceType: constants.SourceText, RawText: " \n\t "})
	assert.ErrorIs(t, err, ErrEmptyContent)
	assert.False(t, common.IsRetryable(err))
}

func TestExtractStoredTextFile(t *testing.T) {
	e, _, _ := newTestExtractor(t, &fakeRunner{}, Config{MaxTextBytes: 16})
	p := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(p, []byte("Krebs cycle\nhas eight steps"), 0o600))

	res, err := e.Extract(context.Background(), &entity.Note{SourceType: constants.SourceText, SourcePath: p})
	require.NoError(t, err)
	assert.Equal(t, "text-file", res.Method)
	assert.Equal(t, "Krebs cycle\nhas", res.Text)
	assert.Equal(t, []string{"text truncated"}, res.Warnings)

	_, err = e.Extract(context.Background(), &entity.Note{SourceType: constants.SourceText, SourcePath: filepath.Join(t.TempDir(), "gone.txt")})
	require.Error(t, err)
	assert.False(t, common.IsRetryable(err))
}

func TestExtractStoredTextFileTruncatesOnRuneBoundary(t *testing.T) {
	e, _, _ := newTestExtractor(t, &fakeRunner{}, Config{MaxTextBytes: 4})
	p := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(p, []byte("noté"), 0o600))

	res, err := e.Extract(context.Background(), &entity.Note{SourceType: constants.SourceText, SourcePath: p})
	require.NoError(t, err)
	assert.Equal(t, "not", res.Text)
}

func TestNormalize(t *testing.T) {
	in := "Photo-\nsynthesis  uses\tlight\r\n\r\n\r\n\r\n-----\nEnd  "
	assert.Equal(t, "Photosynthesis uses light\n\nEnd", Normalize(in))
	assert.Equal(t, "", Normalize(""))
}

func TestExtractFileSourceWithoutPath(t *testing.T) {
	e, _, _ := newTestExtractor(t, &fakeRunner{}, Config{})
	_, err := e.Extract(context.Background(), &entity.Note{SourceType: constants.SourceAudio})
	require.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.False(t, common.IsRetryable(err))
}
