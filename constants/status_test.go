package constants

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoteStatusTransitions(t *testing.T) {
	assert.True(t, NoteStatusPending.CanTransition(NoteStatusProcessing))
	assert.True(t, NoteStatusProcessing.CanTransition(NoteStatusProcessed))
	assert.True(t, NoteStatusProcessing.CanTransition(NoteStatusFailed))
	assert.True(t, NoteStatusProcessing.CanTransition(NoteStatusProcessing), "redelivered job")
	assert.True(t, NoteStatusFailed.CanTransition(NoteStatusProcessing), "retry")

	assert.False(t, NoteStatusProcessed.CanTransition(NoteStatusPending))
	assert.False(t, NoteStatusPending.CanTransition(NoteStatusProcessed))
	assert.False(t, NoteStatus("bogus").CanTransition(NoteStatusProcessing))
}

func TestArtifactStatusTransitions(t *testing.T) {
	assert.True(t, ArtifactStatusPending.CanTransition(ArtifactStatusGenerating))
	assert.True(t, ArtifactStatusGenerating.CanTransition(ArtifactStatusCompleted))
	assert.True(t, ArtifactStatusFailed.CanTransition(ArtifactStatusGenerating))

	assert.False(t, ArtifactStatusPending.CanTransition(ArtifactStatusCompleted))
	assert.False(t, ArtifactStatusCompleted.CanTransition(ArtifactStatusFailed))
}

func TestTerminal(t *testing.T) {
	assert.True(t, NoteStatusProcessed.IsTerminal())
	assert.True(t, NoteStatusFailed.IsTerminal())
	assert.False(t, NoteStatusProcessing.IsTerminal())
	assert.True(t, ArtifactStatusCompleted.IsTerminal())
	assert.False(t, ArtifactStatusGenerating.IsTerminal())
}

func TestMapExtToSource(t *testing.T) {
	assert.Equal(t, SourcePDF, MapExtToSource(".PDF"))
	assert.Equal(t, SourceAudio, MapExtToSource("m4a"))
	assert.Equal(t, SourceImage, MapExtToSource(".heic"))
	assert.Equal(t, SourceType(""), MapExtToSource(".exe"))
	assert.True(t, IsHEICExt(".HEIF"))
}

func TestParseArtifactKind(t *testing.T) {
	k, ok := ParseArtifactKind(" Flashcard ")
	assert.True(t, ok)
	assert.Equal(t, ArtifactFlashcards, k)

	_, ok = ParseArtifactKind("essay")
	assert.False(t, ok)
}
