package llm

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/lucianodigital2b/clevernote-sub002/constants"
	"github.com/lucianodigital2b/clevernote-sub002/internal/entity"
)

// DefaultMaxInputChars bounds the source text embedded in a prompt.
const DefaultMaxInputChars = 60000

// Per-kind item counts: default, min, max.
var countLimits = map[constants.ArtifactKind][3]int{
	constants.ArtifactFlashcards: {10, 1, 50},
	constants.ArtifactQuiz:       {10, 1, 30},
	constants.ArtifactCrossword:  {10, 3, 20},
	constants.ArtifactPodcast:    {12, 4, 40},
	constants.ArtifactMindmap:    {5, 2, 12},
}

// Count returns the requested item count for kind, clamped to its limits.
func Count(kind constants.ArtifactKind, requested int) int {
	l, ok := countLimits[kind]
	if !ok {
		return requested
	}
	switch {
	case requested <= 0:
		return l[0]
	case requested < l[1]:
		return l[1]
	case requested > l[2]:
		return l[2]
	}
	return requested
}

func difficulty(d string) string {
	switch strings.ToLower(strings.TrimSpace(d)) {
	case "easy", "hard":
		return strings.ToLower(strings.TrimSpace(d))
	}
	return "medium"
}

// StudyNoteInput is the material for the first-stage prompt.
type StudyNoteInput struct {
	Text         string
	SourceType   constants.SourceType
	Language     string
	OriginalName string
	SourceURL    string
}

// BuildStudyNotePrompt returns the system and user messages for turning raw text into a study note.
func BuildStudyNotePrompt(in StudyNoteInput, maxChars int) (string, string) {
	parts := []string{
		"You are a study assistant. Turn the provided material into a structured study note.",
		"Return ONLY JSON that matches the provided JSON Schema.",
		"'title' is a short descriptive title (max 80 characters).",
		"'summary' is 2 to 4 sentences.",
		"'content' is the full study note in Markdown with headings, bullet points and key definitions.",
		languageHint(in.Language),
		"Set 'language' to the ISO 639-1 code of the language you wrote in.",
		"Never output null. Do not invent facts that are not in the material.",
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Source type: %s\n", in.SourceType)
	if in.OriginalName != "" {
		fmt.Fprintf(&b, "File name: %s\n", in.OriginalName)
	}
	if in.SourceURL != "" {
		fmt.Fprintf(&b, "URL: %s\n", in.SourceURL)
	}
	b.WriteString("\nMaterial:\n")
	b.WriteString(Truncate(in.Text, maxChars))
	return strings.Join(parts, " "), b.String()
}

// BuildArtifactPrompt returns the messages for generating kind from a processed note.
func BuildArtifactPrompt(kind constants.ArtifactKind, note *entity.Note, opts entity.GenerateOptions, maxChars int) (string, string, error) {
	lang := opts.Language
	if lang == "" {
		lang = note.Language
	}
	n := Count(kind, opts.Count)

	var task []string
	switch kind {
	case constants.ArtifactFlashcards:
		task = []string{
			fmt.Sprintf("Create exactly %d flashcards from the study note.", n),
			"'front' is a question or term, 'back' is a concise answer (max 2 sentences).",
			"Cover the most important concepts and avoid duplicates.",
		}
	case constants.ArtifactQuiz:
		task = []string{
			fmt.Sprintf("Create a %s multiple-choice quiz with exactly %d questions.", difficulty(opts.Difficulty), n),
			"Each question has 4 'options' and exactly one correct answer.",
			"'answer_index' is the zero-based index of the correct option.",
			"'explanation' briefly explains why the answer is correct.",
		}
	case constants.ArtifactMindmap:
		task = []string{
			"Create a mind map of the study note.",
			"'root' is the central topic.",
			fmt.Sprintf("Give the root about %d main branches, each with 2 to 5 children; at most 3 levels deep.", n),
			"Labels are short phrases (max 6 words).",
		}
	case constants.ArtifactCrossword:
		task = []string{
			fmt.Sprintf("Pick %d key terms from the study note for a crossword puzzle.", n),
			"Each 'answer' is a single word of 3 to 12 letters A-Z, without spaces, digits or accents.",
			"Each 'clue' is a short definition that does not contain the answer.",
		}
	case constants.ArtifactPodcast:
		task = []string{
			"Write a podcast script where two hosts discuss the study note in a friendly, educational way.",
			fmt.Sprintf("Use about %d alternating segments. 'speaker' is HOST_A or HOST_B.", n),
			"Each 'text' is 1 to 4 spoken sentences without stage directions or markup.",
			"'title' is the episode title.",
		}
	default:
		return "", "", fmt.Errorf("unsupported artifact kind %q", kind)
	}

	sys := append([]string{
		"You are a study assistant generating learning material.",
		"Return ONLY JSON that matches the provided JSON Schema.",
	}, task...)
	sys = append(sys, languageHint(lang), "Never output null.")

	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", note.Title)
	if note.Summary != "" {
		fmt.Fprintf(&b, "Summary: %s\n", note.Summary)
	}
	b.WriteString("\nStudy note:\n")
	b.WriteString(Truncate(note.Content, maxChars))
	return strings.Join(sys, " "), b.String(), nil
}

func languageHint(lang string) string {
	if strings.TrimSpace(lang) == "" {
		return "Write in the same language as the material."
	}
	return "Write in the language with ISO code '" + strings.TrimSpace(lang) + "'."
}

// Truncate cuts s to at most max bytes on a rune boundary.
func Truncate(s string, max int) string {
	if max <= 0 {
		max = DefaultMaxInputChars
	}
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// BuildPageTextPrompt asks the vision model to transcribe the attached images.
func BuildPageTextPrompt(hint string) (string, string) {
	sys := strings.Join([]string{
		"You transcribe study material from images: slides, handwritten notes, book pages, whiteboards.",
		"Return ONLY JSON that matches the provided JSON Schema.",
		"Put all readable text in 'text' in reading order, keeping headings and list structure.",
		"Describe diagrams in one short sentence in square brackets.",
		"If nothing is readable, return an empty 'text'.",
	}, " ")
	user := "Transcribe the attached images."
	if hint != "" {
		user += "\nFile name: " + hint
	}
	return sys, user
}
