package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/lucianodigital2b/clevernote-sub002/constants"
	"github.com/lucianodigital2b/clevernote-sub002/internal/common"
	"github.com/lucianodigital2b/clevernote-sub002/internal/entity"
	"github.com/lucianodigital2b/clevernote-sub002/internal/llm"
)

var (
	ErrEmptyContent      = errors.New("no readable content")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrTooLarge          = errors.New("file too large")
)

type Config struct {
	Pdftotext     string // binary name or absolute path; if empty -> "pdftotext"
	Pdftoppm      string // binary name or absolute path; if empty -> "pdftoppm"
	Ffmpeg        string // if empty -> "ffmpeg"
	HeicConverter string // heif-convert | magick | sips

	DPI          int // rasterisation DPI for scanned PDFs, default 150
	MaxPages     int // pages sent to the vision model, default 20
	PagesPerCall int // images per vision request, default 5
	MinTextChars int // below this a PDF text layer counts as missing, default 40

	MaxImageMB      int
	MaxLinkBytes    int64
	MaxTextBytes    int64
	MaxTranscribeMB int

	TempDir string
}

type Result struct {
	Text     string
	Method   string // pdf-text | pdf-vision | image-vision | audio-transcribe | link-html | link-text | text | text-file
	Pages    int
	Language string
	Duration time.Duration
	Warnings []string
}

type Extractor struct {
	cfg         Config
	runner      Runner
	vision      llm.Completer
	transcriber llm.Transcriber
	http        *http.Client
	log         *slog.Logger
}

type Option func(*Extractor)

func WithRunner(r Runner) Option { return func(e *Extractor) { e.runner = r } }

func WithHTTPClient(c *http.Client) Option { return func(e *Extractor) { e.http = c } }

func NewExtractor(cfg Config, vision llm.Completer, transcriber llm.Transcriber, logger *slog.Logger, opts ...Option) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftotext == "" {
		cfg.Pdftotext = "pdftotext"
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Ffmpeg == "" {
		cfg.Ffmpeg = "ffmpeg"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 150
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 20
	}
	if cfg.PagesPerCall <= 0 {
		cfg.PagesPerCall = 5
	}
	if cfg.MinTextChars <= 0 {
		cfg.MinTextChars = 40
	}
	if cfg.MaxImageMB <= 0 {
		cfg.MaxImageMB = constants.MaxVisionMBDefault
	}
	if cfg.MaxLinkBytes <= 0 {
		cfg.MaxLinkBytes = 5 << 20
	}
	if cfg.MaxTextBytes <= 0 {
		cfg.MaxTextBytes = 5 << 20
	}
	e := &Extractor{
		cfg:         cfg,
		vision:      vision,
		transcriber: transcriber,
		http:        &http.Client{Timeout: 30 * time.Second},
		log:         logger,
	}
	e.runner = ExecRunner{Log: logger}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract picks a strategy based on the note's source type and returns normalised text.
func (e *Extractor) Extract(ctx context.Context, note *entity.Note) (Result, error) {
	start := time.Now()
	e.log.Debug("extract.start", "note_id", note.ID, "source_type", note.SourceType)

	if note.SourceType.HasFile() && note.SourcePath == "" {
		return Result{}, common.Permanent(fmt.Errorf("%w: %s note has no stored file", ErrUnsupportedFormat, note.SourceType))
	}

	var (
		res Result
		err error
	)
	switch note.SourceType {
	case constants.SourcePDF:
		res, err = e.extractPDF(ctx, note.SourcePath)
	case constants.SourceImage:
		res, err = e.extractImage(ctx, note.SourcePath)
	case constants.SourceAudio:
		res, err = e.extractAudio(ctx, note.SourcePath, note.Language)
	case constants.SourceLink:
		res, err = e.extractLink(ctx, note.SourceURL)
	case constants.SourceText:
		if note.RawText == "" && note.SourcePath != "" {
			res, err = e.extractTextFile(note.SourcePath)
		} else {
			res = Result{Text: note.RawText, Method: "text"}
		}
	default:
		err = common.Permanent(fmt.Errorf("%w: source type %q", ErrUnsupportedFormat, note.SourceType))
	}
	res.Duration = time.Since(start)
	if err != nil {
		e.log.Error("extract.failed", "note_id", note.ID, "source_type", note.SourceType, "error", err)
		return res, err
	}

	res.Text = Normalize(res.Text)
	if res.Text == "" {
		return res, common.Permanent(ErrEmptyContent)
	}
	e.log.Info("extract.ok",
		"note_id", note.ID,
		"method", res.Method,
		"chars", len(res.Text),
		"pages", res.Pages,
		"warnings", len(res.Warnings),
		"elapsed_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

func (e *Extractor) tempDir(pattern string) (string, func(), error) {
	dir, err := os.MkdirTemp(e.cfg.TempDir, pattern)
	if err != nil {
		return "", nil, err
	}
	return dir, func() {
		if err := os.RemoveAll(dir); err != nil {
			e.log.Warn("failed to remove temp dir", "dir", dir, "error", err)
		}
	}, nil
}

// describe asks the vision model to transcribe a batch of image data URLs.
func (e *Extractor) describe(ctx context.Context, images []string, hint string) (string, error) {
	if e.vision == nil {
		return "", common.Permanent(errors.New("vision model not configured"))
	}
	sys, user := llm.BuildPageTextPrompt(hint)
	raw, err := llm.CompleteValidated(ctx, e.vision, llm.ChatRequest{
		Name:   llm.SchemaPageText,
		System: sys,
		User:   user,
		Images: images,
		Schema: llm.PageTextSchema(),
		Vision: true,
	}, e.log)
	if err != nil {
		return "", err
	}
	var out struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", err
	}
	return out.Text, nil
}
