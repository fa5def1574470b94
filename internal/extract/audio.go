package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lucianodigital2b/clevernote-sub002/constants"
	"github.com/lucianodigital2b/clevernote-sub002/internal/common"
	"github.com/lucianodigital2b/clevernote-sub002/internal/llm"
)

// compressionProfiles is the ladder tried, best quality first, until the file fits the
// transcription upload cap.
var compressionProfiles = []struct {
	bitrate    string
	sampleRate string
}{
	{bitrate: "128k", sampleRate: "44100"},
	{bitrate: "96k", sampleRate: "32000"},
	{bitrate: "64k", sampleRate: "22050"},
	{bitrate: "48k", sampleRate: "16000"},
	{bitrate: "32k", sampleRate: "12000"},
}

func (e *Extractor) transcribeLimit() int64 {
	if e.cfg.MaxTranscribeMB > 0 {
		return int64(e.cfg.MaxTranscribeMB) << 20
	}
	return constants.MaxTranscriptionBytes
}

func (e *Extractor) extractAudio(ctx context.Context, path, language string) (Result, error) {
	if e.transcriber == nil {
		return Result{}, common.Permanent(fmt.Errorf("transcription not configured"))
	}
	st, err := os.Stat(path)
	if err != nil {
		return Result{}, common.Permanent(err)
	}

	var warns []string
	input := path
	if st.Size() > e.transcribeLimit() {
		out, cleanup, w, err := e.compressAudio(ctx, path)
		if cleanup != nil {
			defer cleanup()
		}
		warns = append(warns, w...)
		if err != nil {
			return Result{Method: "audio-transcribe", Warnings: warns}, err
		}
		input = out
	}

	text, err := e.transcriber.Transcribe(ctx, llm.TranscribeRequest{Path: input, Language: language})
	if err != nil {
		return Result{Method: "audio-transcribe", Warnings: warns}, err
	}
	return Result{Text: text, Method: "audio-transcribe", Language: language, Warnings: warns}, nil
}

// compressAudio re-encodes to mono mp3, stepping down the ladder until the output fits.
func (e *Extractor) compressAudio(ctx context.Context, in string) (string, func(), []string, error) {
	tmpDir, cleanup, err := e.tempDir("cn-audio-*")
	if err != nil {
		return "", nil, nil, err
	}
	base := strings.TrimSuffix(filepath.Base(in), filepath.Ext(in))
	out := filepath.Join(tmpDir, base+"_compressed.mp3")
	limit := e.transcribeLimit()

	var warns []string
	for _, p := range compressionProfiles {
		_ = os.Remove(out)
		args := []string{"-y", "-i", in, "-vn", "-ac", "1", "-acodec", "libmp3lame", "-b:a", p.bitrate, "-ar", p.sampleRate, out}
		if _, errb, err := e.runner.Run(ctx, e.cfg.Ffmpeg, args...); err != nil {
			warns = append(warns, fmt.Sprintf("ffmpeg %s: %s", p.bitrate, truncate(strings.TrimSpace(string(errb)), 512)))
			if ctx.Err() != nil {
				return "", cleanup, warns, ctx.Err()
			}
			continue
		}
		st, err := os.Stat(out)
		if err != nil {
			warns = append(warns, fmt.Sprintf("ffmpeg %s: no output", p.bitrate))
			continue
		}
		if st.Size() <= limit {
			e.log.Info("audio compressed", "bitrate", p.bitrate, "bytes", st.Size())
			return out, cleanup, warns, nil
		}
		warns = append(warns, fmt.Sprintf("ffmpeg %s: %.2f MB still too large", p.bitrate, float64(st.Size())/1024/1024))
	}
	return "", cleanup, warns, common.Permanent(fmt.Errorf("%w: audio exceeds the %d MB transcription limit after compression", ErrTooLarge, limit>>20))
}
