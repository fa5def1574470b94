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
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucianodigital2b/clevernote-sub002/constants"
	"github.com/lucianodigital2b/clevernote-sub002/internal/common"
	"github.com/lucianodigital2b/clevernote-sub002/internal/entity"
	"github.com/lucianodigital2b/clevernote-sub002/internal/extract"
	"github.com/lucianodigital2b/clevernote-sub002/internal/llm"
	"github.com/lucianodigital2b/clevernote-sub002/internal/repository"
	"github.com/lucianodigital2b/clevernote-sub002/internal/storage"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// scriptedLLM answers by output shape name.
type scriptedLLM struct {
	mu   sync.Mutex
	out  map[string]string
	err  error
	seen []string
}

func (s *scriptedLLM) CompleteJSON(_ context.Context, req llm.ChatRequest) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, req.Name)
	if s.err != nil {
		return nil, s.err
	}
	out, ok := s.out[req.Name]
	if !ok {
		return nil, fmt.Errorf("no scripted response for %s", req.Name)
	}
	return []byte(out), nil
}

type stubExtractor struct {
	res extract.Result
	err error
}

func (s stubExtractor) Extract(_ context.Context, n *entity.Note) (extract.Result, error) {
	if s.err != nil {
		return extract.Result{}, s.err
	}
	if s.res.Text == "" {
		return extract.Result{Text: n.RawText, Method: "text"}, nil
	}
	return s.res, nil
}

type recordingSpeaker struct {
	mu     sync.Mutex
	voices []string
}

func (r *recordingSpeaker) Speak(_ context.Context, req llm.SpeakRequest) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.voices = append(r.voices, req.Voice)
	return []byte("[" + req.Voice + "]"), nil
}

type fixture struct {
	notes     repository.NoteRepository
	artifacts repository.ArtifactRepository
	store     *storage.FileStore
	llm       *scriptedLLM
	speaker   *recordingSpeaker
	proc      *Processor
}

const studyNote = `{"title":"Photosynthesis","summary":"How plants make food.","content":"# Photosynthesis\n- light\n- chlorophyll","language":"en"}`

func newFixture(t *testing.T, ex TextExtractor) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := repository.Open(ctx, repository.Config{Driver: "sqlite", DSN: ":memory:"}, discard())
	require.NoError(t, err)
	require.NoError(t, repository.Migrate(ctx, db, discard()))
	t.Cleanup(func() { repository.Close(db, discard()) })

	store, err := storage.NewFileStore(t.TempDir(), 0, discard())
	require.NoError(t, err)

	f := &fixture{
		notes:     repository.NewNoteRepository(db, discard()),
		artifacts: repository.NewArtifactRepository(db, discard()),
		store:     store,
		llm:       &scriptedLLM{out: map[string]string{llm.SchemaStudyNote: studyNote}},
		speaker:   &recordingSpeaker{},
	}
	if ex == nil {
		ex = stubExtractor{}
	}
	gens := DefaultGenerators(GeneratorDeps{
		LLM:          f.llm,
		Speaker:      f.speaker,
		Store:        store,
		Voices:       []string{"alloy", "nova"},
		CrosswordMax: 15,
		Logger:       discard(),
	})
	f.proc = NewProcessor(discard(),
		NewNoteStage(f.notes, ex, f.llm, 0, discard()),
		NewArtifactStage(f.notes, f.artifacts, gens, store, discard()),
	)
	return f
}

func (f *fixture) processedNote(t *testing.T) *entity.Note {
	t.Helper()
	ctx := context.Background()
	n, err := f.notes.Create(ctx, repository.NewNote{SourceType: constants.SourceText, RawText: "Plants use light."})
	require.NoError(t, err)
	require.NoError(t, f.proc.ProcessNote(ctx, n.ID))
	n, err = f.notes.GetByID(ctx, n.ID)
	require.NoError(t, err)
	require.Equal(t, constants.NoteStatusProcessed, n.Status)
	return n
}

func (f *fixture) generate(t *testing.T, noteID uuid.UUID, kind constants.ArtifactKind, opts string) (*entity.Artifact, error) {
	t.Helper()
	ctx := context.Background()
	var raw json.RawMessage
	if opts != "" {
		raw = json.RawMessage(opts)
	}
	a, err := f.artifacts.Create(ctx, noteID, kind, raw)
	require.NoError(t, err)
	runErr := f.proc.GenerateArtifact(ctx, a.ID)
	a, err = f.artifacts.GetByID(ctx, a.ID)
	require.NoError(t, err)
	return a, runErr
}

func TestProcessNoteSuccess(t *testing.T) {
	f := newFixture(t, nil)
	n := f.processedNote(t)

	assert.Equal(t, "Photosynthesis", n.Title)
	assert.Equal(t, "How plants make food.", n.Summary)
	assert.Contains(t, n.Content, "chlorophyll")
	assert.Equal(t, "Plants use light.", n.RawText)
	assert.Nil(t, n.FailureReason)
	assert.NotNil(t, n.ProcessedAt)
}

func TestProcessNoteExtractFailureIsPermanent(t *testing.T) {
	f := newFixture(t, stubExtractor{err: common.Permanent(extract.ErrEmptyContent)})
	ctx := context.Background()
	n, err := f.notes.Create(ctx, repository.NewNote{SourceType: constants.SourcePDF, SourcePath: "/x.pdf"})
	require.NoError(t, err)

	err = f.proc.ProcessNote(ctx, n.ID)
	require.Error(t, err)
	assert.False(t, common.IsRetryable(err))

	n, err = f.notes.GetByID(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.NoteStatusFailed, n.Status)
	require.NotNil(t, n.FailureReason)
	assert.Equal(t, ReasonEmpty, *n.FailureReason)
	assert.Empty(t, f.llm.seen, "no model call after a failed extraction")
}

func TestProcessNoteInvalidAIResponseIsRetryable(t *testing.T) {
	f := newFixture(t, nil)
	f.llm.out[llm.SchemaStudyNote] = `{"headline": 3}`
	ctx := context.Background()
	n, err := f.notes.Create(ctx, repository.NewNote{SourceType: constants.SourceText, RawText: "text"})
	require.NoError(t, err)

	err = f.proc.ProcessNote(ctx, n.ID)
	require.ErrorIs(t, err, llm.ErrInvalidResponse)
	assert.True(t, common.IsRetryable(err))

	n, err = f.notes.GetByID(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.NoteStatusFailed, n.Status)
	assert.Equal(t, ReasonInvalidAI, *n.FailureReason)

	// the next attempt succeeds from failed
	f.llm.out[llm.SchemaStudyNote] = studyNote
	require.NoError(t, f.proc.ProcessNote(ctx, n.ID))
	n, err = f.notes.GetByID(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.NoteStatusProcessed, n.Status)
	assert.Equal(t, 2, n.Attempts)
}

func TestProcessNoteUnknownID(t *testing.T) {
	f := newFixture(t, nil)
	err := f.proc.ProcessNote(context.Background(), uuid.New())
	require.ErrorIs(t, err, common.ErrNotFound)
	assert.False(t, common.IsRetryable(err))
}

func TestGenerateRequiresProcessedNote(t *testing.T) {
	f := newFixture(t, nil)
	n, err := f.notes.Create(context.Background(), repository.NewNote{SourceType: constants.SourceText, RawText: "x"})
	require.NoError(t, err)

	a, err := f.generate(t, n.ID, constants.ArtifactFlashcards, "")
	require.ErrorIs(t, err, common.ErrNotReady)
	assert.False(t, common.IsRetryable(err))
	assert.Equal(t, constants.ArtifactStatusFailed, a.Status)
	assert.Equal(t, ReasonNotReady, *a.FailureReason)
}

func TestGenerateFlashcards(t *testing.T) {
	f := newFixture(t, nil)
	n := f.processedNote(t)
	f.llm.out["flashcards"] = `{"cards":[{"front":"Chlorophyll","back":"Green pigment"},{"front":"chlorophyll ","back":"dup"},{"front":"ATP","back":"Energy carrier"}]}`

	a, err := f.generate(t, n.ID, constants.ArtifactFlashcards, `{"count":2}`)
	require.NoError(t, err)
	assert.Equal(t, constants.ArtifactStatusCompleted, a.Status)

	var set entity.FlashcardSet
	require.NoError(t, json.Unmarshal(a.Payload, &set))
	require.Len(t, set.Cards, 2)
	assert.Equal(t, "ATP", set.Cards[1].Front)
}

func TestGenerateQuizDropsBadQuestions(t *testing.T) {
	f := newFixture(t, nil)
	n := f.processedNote(t)
	f.llm.out["quiz"] = `{"questions":[
		{"question":"Pigment?","options":["Chlorophyll","Keratin"],"answer_index":0},
		{"question":"Broken","options":["a","b"],"answer_index":5}
	]}`

	a, err := f.generate(t, n.ID, constants.ArtifactQuiz, "")
	require.NoError(t, err)
	var q entity.Quiz
	require.NoError(t, json.Unmarshal(a.Payload, &q))
	require.Len(t, q.Questions, 1)
	assert.Equal(t, "Pigment?", q.Questions[0].Question)
}

func TestGenerateRetryAfterRejectedAnswerBypassesCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	n := f.processedNote(t)
	cc, err := llm.OpenCachedCompleter(filepath.Join(t.TempDir(), "cache.db"), f.llm, discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = cc.Close() })
	f.proc.Artifact.Generators = DefaultGenerators(GeneratorDeps{LLM: cc, Store: f.store, Logger: discard()})

	f.llm.out["quiz"] = `{"questions":[{"question":"Broken","options":["a","b"],"answer_index":7}]}`
	a, err := f.generate(t, n.ID, constants.ArtifactQuiz, "")
	require.ErrorIs(t, err, llm.ErrInvalidResponse)
	assert.True(t, common.IsRetryable(err))
	assert.Equal(t, constants.ArtifactStatusFailed, a.Status)

	f.llm.out["quiz"] = `{"questions":[{"question":"Pigment?","options":["Chlorophyll","Keratin"],"answer_index":0}]}`
	require.NoError(t, f.proc.GenerateArtifact(ctx, a.ID))
	a, err = f.artifacts.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.ArtifactStatusCompleted, a.Status)
	assert.Contains(t, string(a.Payload), "Pigment?")

	calls := 0
	for _, name := range f.llm.seen {
		if name == "quiz" {
			calls++
		}
	}
	assert.Equal(t, 2, calls)
}

func TestGenerateMindmap(t *testing.T) {
	f := newFixture(t, nil)
	n := f.processedNote(t)
	f.llm.out["mindmap"] = `{"root":{"label":"Photosynthesis","children":[{"label":"Light"},{"label":"Chlorophyll"}]}}`

	a, err := f.generate(t, n.ID, constants.ArtifactMindmap, "")
	require.NoError(t, err)
	var m entity.Mindmap
	require.NoError(t, json.Unmarshal(a.Payload, &m))
	assert.Equal(t, 3, m.Root.Size())
}

func TestGenerateCrossword(t *testing.T) {
	f := newFixture(t, nil)
	n := f.processedNote(t)
	f.llm.out["crossword"] = `{"words":[
		{"answer":"CROSSWORD","clue":"This puzzle"},
		{"answer":"cat","clue":"Pet"},
		{"answer":"DOG","clue":"Other pet"}
	]}`

	a, err := f.generate(t, n.ID, constants.ArtifactCrossword, "")
	require.NoError(t, err)
	var cw entity.Crossword
	require.NoError(t, json.Unmarshal(a.Payload, &cw))
	assert.Len(t, cw.Entries, 3)
	assert.Equal(t, cw.Rows, len(cw.Grid))
}

func TestGenerateCrosswordTooSparse(t *testing.T) {
	f := newFixture(t, nil)
	n := f.processedNote(t)
	f.llm.out["crossword"] = `{"words":[{"answer":"ABC","clue":"a"},{"answer":"DEF","clue":"d"},{"answer":"GHI","clue":"g"}]}`

	a, err := f.generate(t, n.ID, constants.ArtifactCrossword, "")
	require.ErrorIs(t, err, ErrTooFewWords)
	assert.False(t, common.IsRetryable(err))
	assert.Equal(t, constants.ArtifactStatusFailed, a.Status)
	assert.Equal(t, ReasonCrossword, *a.FailureReason)
}

func TestGeneratePodcast(t *testing.T) {
	f := newFixture(t, nil)
	n := f.processedNote(t)
	f.llm.out["podcast"] = `{"title":"Plants","segments":[
		{"speaker":"HOST_A","text":"Welcome back."},
		{"speaker":"HOST_B","text":"Today, plants."},
		{"speaker":"HOST_A","text":"Let's go."}
	]}`

	a, err := f.generate(t, n.ID, constants.ArtifactPodcast, "")
	require.NoError(t, err)
	require.NotNil(t, a.AudioPath)
	assert.Equal(t, f.store.PodcastPath(a.ID), *a.AudioPath)

	audio, err := os.ReadFile(*a.AudioPath)
	require.NoError(t, err)
	assert.Equal(t, "[alloy][nova][alloy]", string(audio))
	assert.Equal(t, []string{"alloy", "nova", "alloy"}, f.speaker.voices)

	var p entity.Podcast
	require.NoError(t, json.Unmarshal(a.Payload, &p))
	assert.Len(t, p.Segments, 3)
	assert.Positive(t, p.DurationMS)

	entries, err := os.ReadDir(f.store.TmpDir())
	require.NoError(t, err)
	assert.Empty(t, entries, "segment files are removed")
}

// completeFails loses the final write of an otherwise successful run.
type completeFails struct {
	repository.ArtifactRepository
}

func (completeFails) MarkCompleted(context.Context, uuid.UUID, json.RawMessage, *string) error {
	return errors.New("database is locked")
}

func TestGeneratePodcastRemovesAudioWhenPersistFails(t *testing.T) {
	f := newFixture(t, nil)
	n := f.processedNote(t)
	f.llm.out["podcast"] = `{"title":"Plants","segments":[
		{"speaker":"HOST_A","text":"Welcome back."},
		{"speaker":"HOST_B","text":"Today, plants."}
	]}`
	f.proc.Artifact.Artifacts = completeFails{f.artifacts}

	a, err := f.generate(t, n.ID, constants.ArtifactPodcast, "")
	require.Error(t, err)
	assert.Equal(t, constants.ArtifactStatusGenerating, a.Status)
	assert.NoFileExists(t, f.store.PodcastPath(a.ID))
}

func TestGeneratePodcastCustomVoices(t *testing.T) {
	f := newFixture(t, nil)
	n := f.processedNote(t)
	f.llm.out["podcast"] = `{"title":"P","segments":[{"speaker":"A","text":"one"},{"speaker":"B","text":"two"}]}`

	_, err := f.generate(t, n.ID, constants.ArtifactPodcast, `{"voices":["echo","shimmer"]}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"echo", "shimmer"}, f.speaker.voices)
}

func TestGenerateUpstreamErrorKeepsRetryable(t *testing.T) {
	f := newFixture(t, nil)
	n := f.processedNote(t)
	f.llm.err = errors.New("openai api error: status 429 type requests message Rate limit reached")

	a, err := f.generate(t, n.ID, constants.ArtifactFlashcards, "")
	require.Error(t, err)
	assert.True(t, common.IsRetryable(err))
	assert.Equal(t, ReasonQuota, *a.FailureReason)
}

func TestFriendlyReason(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{common.Permanent(extract.ErrEmptyContent), ReasonEmpty},
		{fmt.Errorf("save: %w", storage.ErrTooLarge), ReasonTooLarge},
		{extract.ErrTooLarge, ReasonTooLarge},
		{extract.ErrUnsupportedFormat, ReasonUnsupported},
		{context.DeadlineExceeded, ReasonTimeout},
		{fmt.Errorf("wrap: %w", llm.ErrInvalidResponse), ReasonInvalidAI},
		{common.ErrNotReady, ReasonNotReady},
		{errors.New("You exceeded your current quota"), ReasonQuota},
		{errors.New("net/http: request canceled (Client.Timeout exceeded)"), ReasonTimeout},
		{errors.New("disk on fire"), ReasonGeneric},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, FriendlyReason(c.err), "%v", c.err)
	}
}

func TestFriendlyReasonNeverLeaksInternals(t *testing.T) {
	r := FriendlyReason(errors.New("pq: relation \"notes\" does not exist"))
	assert.False(t, strings.Contains(r, "pq"))
}
