package extract

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lucianodigital2b/clevernote-sub002/internal/common"
	"github.com/lucianodigital2b/clevernote-sub002/internal/llm"
)

// extractPDF reads the text layer and falls back to the vision model for scanned documents.
func (e *Extractor) extractPDF(ctx context.Context, path string) (Result, error) {
	text, pages, warns, err := e.pdfToText(ctx, path)
	if err != nil {
		e.log.Warn("pdftotext failed, trying vision", "path", path, "error", err)
		warns = append(warns, "pdftotext: "+err.Error())
	} else if len(strings.TrimSpace(Normalize(text))) >= e.cfg.MinTextChars {
		return Result{Text: text, Method: "pdf-text", Pages: pages, Warnings: warns}, nil
	}

	vtext, vpages, vwarns, verr := e.pdfToVision(ctx, path)
	warns = append(warns, vwarns...)
	if verr != nil {
		return Result{Method: "pdf-vision", Warnings: warns}, verr
	}
	return Result{Text: vtext, Method: "pdf-vision", Pages: vpages, Warnings: warns}, nil
}

func (e *Extractor) pdfToText(ctx context.Context, path string) (string, int, []string, error) {
	// pdftotext -layout -enc UTF-8 -eol unix <path> -
	out, errb, err := e.runner.Run(ctx, e.cfg.Pdftotext, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err != nil {
		return "", 0, []string{string(errb)}, err
	}
	text := string(out)
	// form feed separates pages
	pages := 1 + strings.Count(strings.TrimRight(text, "\f"), "\f")
	return text, pages, nil, nil
}

func (e *Extractor) pdfToVision(ctx context.Context, path string) (string, int, []string, error) {
	tmpDir, cleanup, err := e.tempDir("cn-pp-*")
	if err != nil {
		return "", 0, nil, err
	}
	defer cleanup()

	prefix := filepath.Join(tmpDir, "page")
	// pdftoppm -r 150 -l N -jpeg <in.pdf> <tmp/page>
	_, errb, err := e.runner.Run(ctx, e.cfg.Pdftoppm,
		"-r", fmt.Sprintf("%d", e.cfg.DPI),
		"-l", fmt.Sprintf("%d", e.cfg.MaxPages),
		"-jpeg", path, prefix)
	if err != nil {
		return "", 0, []string{string(errb)}, fmt.Errorf("pdftoppm: %w", err)
	}

	// prefix-1.jpg, prefix-2.jpg, ... (zero padded when there are many pages)
	matches, _ := filepath.Glob(prefix + "-*.jpg")
	sort.Strings(matches)
	if len(matches) > e.cfg.MaxPages {
		matches = matches[:e.cfg.MaxPages]
	}
	if len(matches) == 0 {
		return "", 0, []string{"pdftoppm produced no images"}, common.Permanent(fmt.Errorf("%w: no pages rendered", ErrEmptyContent))
	}

	var (
		b     strings.Builder
		warns []string
	)
	for i := 0; i < len(matches); i += e.cfg.PagesPerCall {
		end := min(i+e.cfg.PagesPerCall, len(matches))
		var urls []string
		for _, img := range matches[i:end] {
			u, err := llm.ImageDataURL(img, e.cfg.MaxImageMB)
			if err != nil {
				warns = append(warns, filepath.Base(img)+": "+err.Error())
				continue
			}
			urls = append(urls, u)
		}
		if len(urls) == 0 {
			continue
		}
		txt, err := e.describe(ctx, urls, filepath.Base(path))
		if err != nil {
			return "", 0, warns, err
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(txt)
	}
	return b.String(), len(matches), warns, nil
}
