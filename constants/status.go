package constants

// NoteStatus is the lifecycle of a source note. Store these exact strings in the DB.
type NoteStatus string

const (
	NoteStatusPending    NoteStatus = "pending"
	NoteStatusProcessing NoteStatus = "processing"
	NoteStatusProcessed  NoteStatus = "processed"
	NoteStatusFailed     NoteStatus = "failed"
)

// ArtifactStatus is the lifecycle of a derived artifact.
type ArtifactStatus string

const (
	ArtifactStatusPending    ArtifactStatus = "pending"
	ArtifactStatusGenerating ArtifactStatus = "generating"
	ArtifactStatusCompleted  ArtifactStatus = "completed"
	ArtifactStatusFailed     ArtifactStatus = "failed"
)

// Jobs are delivered at-least-once, so a running row may be picked up again
// (processing -> processing). A finished row can only be restarted.
var noteTransitions = map[NoteStatus][]NoteStatus{
	NoteStatusPending:    {NoteStatusProcessing, NoteStatusFailed},
	NoteStatusProcessing: {NoteStatusProcessing, NoteStatusProcessed, NoteStatusFailed},
	NoteStatusProcessed:  {NoteStatusProcessing},
	NoteStatusFailed:     {NoteStatusProcessing, NoteStatusPending},
}

var artifactTransitions = map[ArtifactStatus][]ArtifactStatus{
	ArtifactStatusPending:    {ArtifactStatusGenerating, ArtifactStatusFailed},
	ArtifactStatusGenerating: {ArtifactStatusGenerating, ArtifactStatusCompleted, ArtifactStatusFailed},
	ArtifactStatusCompleted:  {ArtifactStatusGenerating},
	ArtifactStatusFailed:     {ArtifactStatusGenerating, ArtifactStatusPending},
}

func (s NoteStatus) Valid() bool {
	_, ok := noteTransitions[s]
	return ok
}

// CanTransition reports whether a note may move from s to next.
func (s NoteStatus) CanTransition(next NoteStatus) bool {
	for _, allowed := range noteTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s NoteStatus) IsTerminal() bool {
	return s == NoteStatusProcessed || s == NoteStatusFailed
}

func (s ArtifactStatus) Valid() bool {
	_, ok := artifactTransitions[s]
	return ok
}

// CanTransition reports whether an artifact may move from s to next.
func (s ArtifactStatus) CanTransition(next ArtifactStatus) bool {
	for _, allowed := range artifactTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s ArtifactStatus) IsTerminal() bool {
	return s == ArtifactStatusCompleted || s == ArtifactStatusFailed
}
