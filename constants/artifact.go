package constants

import "strings"

// ArtifactKind names a study artifact derived from a processed note.
type ArtifactKind string

const (
	ArtifactFlashcards ArtifactKind = "flashcards"
	ArtifactQuiz       ArtifactKind = "quiz"
	ArtifactMindmap    ArtifactKind = "mindmap"
	ArtifactCrossword  ArtifactKind = "crossword"
	ArtifactPodcast    ArtifactKind = "podcast"
)

var ArtifactKinds = []ArtifactKind{
	ArtifactFlashcards,
	ArtifactQuiz,
	ArtifactMindmap,
	ArtifactCrossword,
	ArtifactPodcast,
}

// ParseArtifactKind accepts a few plural/singular spellings.
func ParseArtifactKind(s string) (ArtifactKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "flashcards", "flashcard", "cards":
		return ArtifactFlashcards, true
	case "quiz", "quizzes":
		return ArtifactQuiz, true
	case "mindmap", "mind_map", "mindmaps":
		return ArtifactMindmap, true
	case "crossword", "crosswords":
		return ArtifactCrossword, true
	case "podcast", "podcasts":
		return ArtifactPodcast, true
	}
	return "", false
}

func AsStringSlice() []string {
	out := make([]string, len(ArtifactKinds))
	for i, k := range ArtifactKinds {
		out[i] = string(k)
	}
	return out
}
