package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/lucianodigital2b/clevernote-sub002/constants"
	"github.com/lucianodigital2b/clevernote-sub002/internal/common"
	"github.com/lucianodigital2b/clevernote-sub002/internal/crossword"
	"github.com/lucianodigital2b/clevernote-sub002/internal/entity"
	"github.com/lucianodigital2b/clevernote-sub002/internal/llm"
	"github.com/lucianodigital2b/clevernote-sub002/internal/storage"
)

// ErrTooFewWords is returned when a crossword has fewer than MinCrosswordWords on the grid.
var ErrTooFewWords = errors.New("too few crossword words placed")

const MinCrosswordWords = 3

// spoken words per minute used to estimate podcast duration
const wordsPerMinute = 150

// GenerateInput is what every generator receives.
type GenerateInput struct {
	Note     *entity.Note
	Artifact *entity.Artifact
	Options  entity.GenerateOptions
}

// Output is the persisted result of a generator.
type Output struct {
	Payload   json.RawMessage
	AudioPath *string
}

type Generator interface {
	Generate(ctx context.Context, in GenerateInput) (Output, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, in GenerateInput) (Output, error)

func (f GeneratorFunc) Generate(ctx context.Context, in GenerateInput) (Output, error) {
	return f(ctx, in)
}

// GeneratorDeps are the collaborators the built-in generators share.
type GeneratorDeps struct {
	LLM           llm.Completer
	Speaker       llm.Speaker
	Store         *storage.FileStore
	MaxInputChars int
	// Voices are the default TTS voices for the two podcast hosts.
	Voices       []string
	CrosswordMax int
	Logger       *slog.Logger
}

// DefaultGenerators returns a generator for every artifact kind.
func DefaultGenerators(d GeneratorDeps) map[constants.ArtifactKind]Generator {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return map[constants.ArtifactKind]Generator{
		constants.ArtifactFlashcards: GeneratorFunc(d.flashcards),
		constants.ArtifactQuiz:       GeneratorFunc(d.quiz),
		constants.ArtifactMindmap:    GeneratorFunc(d.mindmap),
		constants.ArtifactCrossword:  GeneratorFunc(d.crossword),
		constants.ArtifactPodcast:    GeneratorFunc(d.podcast),
	}
}

// complete runs the kind's prompt through the schema-validated completion path and decodes into v.
func (d GeneratorDeps) complete(ctx context.Context, in GenerateInput, v any) error {
	kind := in.Artifact.Kind
	sys, user, err := llm.BuildArtifactPrompt(kind, in.Note, in.Options, d.MaxInputChars)
	if err != nil {
		return common.Permanent(err)
	}
	log := common.LoggerFromContext(ctx, d.Logger)
	raw, err := llm.CompleteValidated(ctx, d.LLM, llm.ChatRequest{
		Name:   string(kind),
		System: sys,
		User:   user,
		Schema: llm.SchemaFor(string(kind)),
		Scope:  fmt.Sprintf("artifact/%s/%d", in.Artifact.ID, in.Artifact.Attempts),
	}, log)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: decode %s: %w", llm.ErrInvalidResponse, kind, err)
	}
	return nil
}

func encode(v any) (Output, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Output{}, err
	}
	return Output{Payload: b}, nil
}

func (d GeneratorDeps) flashcards(ctx context.Context, in GenerateInput) (Output, error) {
	var set entity.FlashcardSet
	if err := d.complete(ctx, in, &set); err != nil {
		return Output{}, err
	}
	seen := map[string]bool{}
	cards := set.Cards[:0]
	for _, c := range set.Cards {
		c.Front, c.Back = strings.TrimSpace(c.Front), strings.TrimSpace(c.Back)
		key := strings.ToLower(c.Front)
		if c.Front == "" || c.Back == "" || seen[key] {
			continue
		}
		seen[key] = true
		cards = append(cards, c)
	}
	if len(cards) == 0 {
		return Output{}, fmt.Errorf("%w: no usable flashcards", llm.ErrInvalidResponse)
	}
	set.Cards = cards
	return encode(set)
}

func (d GeneratorDeps) quiz(ctx context.Context, in GenerateInput) (Output, error) {
	var q entity.Quiz
	if err := d.complete(ctx, in, &q); err != nil {
		return Output{}, err
	}
	kept := q.Questions[:0]
	for _, qq := range q.Questions {
		if len(qq.Options) < 2 || qq.AnswerIndex < 0 || qq.AnswerIndex >= len(qq.Options) {
			d.Logger.Warn("pipeline.quiz.question_dropped", "question", qq.Question, "answer_index", qq.AnswerIndex)
			continue
		}
		kept = append(kept, qq)
	}
	if len(kept) == 0 {
		return Output{}, fmt.Errorf("%w: no valid quiz questions", llm.ErrInvalidResponse)
	}
	q.Questions = kept
	return encode(q)
}

func (d GeneratorDeps) mindmap(ctx context.Context, in GenerateInput) (Output, error) {
	var m entity.Mindmap
	if err := d.complete(ctx, in, &m); err != nil {
		return Output{}, err
	}
	if m.Root.Size() < 2 {
		return Output{}, fmt.Errorf("%w: mind map has no branches", llm.ErrInvalidResponse)
	}
	return encode(m)
}

func (d GeneratorDeps) crossword(ctx context.Context, in GenerateInput) (Output, error) {
	var list struct {
		Words []entity.CrosswordWord `json:"words"`
	}
	if err := d.complete(ctx, in, &list); err != nil {
		return Output{}, err
	}
	cw := crossword.Layout(list.Words, d.CrosswordMax)
	if len(cw.Entries) < MinCrosswordWords {
		return Output{}, common.Permanent(fmt.Errorf("%w: %d of %d", ErrTooFewWords, len(cw.Entries), len(list.Words)))
	}
	return encode(cw)
}

func (d GeneratorDeps) podcast(ctx context.Context, in GenerateInput) (Output, error) {
	if d.Speaker == nil || d.Store == nil {
		return Output{}, common.Permanent(errors.New("text-to-speech is not configured"))
	}
	var p entity.Podcast
	if err := d.complete(ctx, in, &p); err != nil {
		return Output{}, err
	}

	voices := in.Options.Voices
	if len(voices) == 0 {
		voices = d.Voices
	}
	if len(voices) == 0 {
		voices = []string{"alloy", "nova"}
	}
	voiceOf := map[string]string{}

	dir, cleanup, err := d.Store.TempDir("podcast-*")
	if err != nil {
		return Output{}, err
	}
	defer cleanup()

	segments := make([]string, 0, len(p.Segments))
	words := 0
	for i, seg := range p.Segments {
		voice, ok := voiceOf[seg.Speaker]
		if !ok {
			voice = voices[len(voiceOf)%len(voices)]
			voiceOf[seg.Speaker] = voice
		}
		audio, err := d.Speaker.Speak(ctx, llm.SpeakRequest{Text: seg.Text, Voice: voice})
		if err != nil {
			return Output{}, fmt.Errorf("speak segment %d: %w", i, err)
		}
		path := filepath.Join(dir, fmt.Sprintf("%03d.mp3", i))
		if err := os.WriteFile(path, audio, 0o644); err != nil {
			return Output{}, fmt.Errorf("write segment %d: %w", i, err)
		}
		segments = append(segments, path)
		words += len(strings.Fields(seg.Text))
	}

	out, err := d.concat(in.Artifact, segments)
	if err != nil {
		return Output{}, err
	}
	p.DurationMS = int64(words) * 60_000 / wordsPerMinute
	res, err := encode(p)
	if err != nil {
		return Output{}, err
	}
	res.AudioPath = &out
	d.Logger.Info("pipeline.podcast.rendered", "artifact_id", in.Artifact.ID, "segments", len(segments), "path", out)
	return res, nil
}

// concat joins mp3 segments frame-wise; MP3 streams stay playable when appended.
func (d GeneratorDeps) concat(a *entity.Artifact, paths []string) (string, error) {
	files := make([]*os.File, 0, len(paths))
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()
	readers := make([]io.Reader, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return "", err
		}
		files = append(files, f)
		readers = append(readers, f)
	}
	return d.Store.WritePodcast(a.ID, io.MultiReader(readers...))
}
