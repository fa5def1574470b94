package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lucianodigital2b/clevernote-sub002/constants"
	"github.com/lucianodigital2b/clevernote-sub002/internal/common"
	"github.com/lucianodigital2b/clevernote-sub002/internal/llm"
)

func (e *Extractor) extractImage(ctx context.Context, path string) (Result, error) {
	var warns []string
	if constants.IsHEICExt(filepath.Ext(path)) {
		out, w, cleanup, err := e.convertHEICtoPNG(ctx, path)
		if cleanup != nil {
			defer cleanup()
		}
		warns = append(warns, w...)
		if err != nil {
			return Result{Method: "image-vision", Warnings: warns}, err
		}
		path = out
	}

	st, err := os.Stat(path)
	if err != nil {
		return Result{}, common.Permanent(err)
	}
	if st.Size() > int64(e.cfg.MaxImageMB)<<20 {
		return Result{}, common.Permanent(fmt.Errorf("%w: image is %d bytes (max %d MB)", ErrTooLarge, st.Size(), e.cfg.MaxImageMB))
	}
	u, err := llm.ImageDataURL(path, e.cfg.MaxImageMB)
	if err != nil {
		return Result{}, common.Permanent(err)
	}
	text, err := e.describe(ctx, []string{u}, filepath.Base(path))
	if err != nil {
		return Result{Method: "image-vision", Warnings: warns}, err
	}
	return Result{Text: text, Method: "image-vision", Pages: 1, Warnings: warns}, nil
}

// convertHEICtoPNG converts a HEIC/HEIF file to a temporary PNG.
// Returns (outPath, warnings, cleanup, err). Call cleanup() to remove temp files.
func (e *Extractor) convertHEICtoPNG(ctx context.Context, in string) (string, []string, func(), error) {
	tmpDir, cleanup, err := e.tempDir("cn-heic-*")
	if err != nil {
		return "", nil, nil, err
	}
	out := filepath.Join(tmpDir, "page.png")

	var args []string
	switch e.cfg.HeicConverter {
	case "heif-convert", "magick":
		args = []string{in, out}
	case "sips":
		args = []string{"-s", "format", "png", in, "--out", out}
	default:
		return "", nil, cleanup, common.Permanent(fmt.Errorf("%w: HEIC needs a converter (heif-convert | magick | sips)", ErrUnsupportedFormat))
	}
	if _, errb, err := e.runner.Run(ctx, e.cfg.HeicConverter, args...); err != nil {
		return "", []string{string(errb)}, cleanup, fmt.Errorf("%s failed: %w", e.cfg.HeicConverter, err)
	}
	if _, statErr := os.Stat(out); statErr != nil {
		return "", nil, cleanup, fmt.Errorf("HEIC conversion produced no output: %v", statErr)
	}
	return out, nil, cleanup, nil
}
