package extract

import (
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"github.com/lucianodigital2b/clevernote-sub002/internal/common"
)

// extractTextFile reads an uploaded .txt/.md source, truncated to MaxTextBytes.
func (e *Extractor) extractTextFile(path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, common.Permanent(fmt.Errorf("open text source: %w", err))
	}
	defer f.Close()

	b, err := io.ReadAll(io.LimitReader(f, e.cfg.MaxTextBytes+1))
	if err != nil {
		return Result{}, fmt.Errorf("read text source: %w", err)
	}
	var warns []string
	if int64(len(b)) > e.cfg.MaxTextBytes {
		b = b[:e.cfg.MaxTextBytes]
		for i := 0; i < utf8.UTFMax-1 && len(b) > 0; i++ {
			if r, _ := utf8.DecodeLastRune(b); r != utf8.RuneError {
				break
			}
			b = b[:len(b)-1]
		}
		warns = append(warns, "text truncated")
	}
	if !utf8.Valid(b) {
		return Result{}, common.Permanent(fmt.Errorf("%w: text source is not valid UTF-8", ErrUnsupportedFormat))
	}
	return Result{Text: string(b), Method: "text-file", Warnings: warns}, nil
}
