package async

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// JobKind selects which pipeline stage a job runs.
type JobKind string

const (
	JobProcessNote      JobKind = "process_note"
	JobGenerateArtifact JobKind = "generate_artifact"
)

// Job is one unit of background work. Attempt starts at 1 and grows on retry.
type Job struct {
	Kind        JobKind
	TargetID    uuid.UUID
	Attempt     int
	SubmittedAt time.Time
	TraceID     string
}

// Handler runs the pipeline stages on behalf of the queue.
type Handler interface {
	ProcessNote(ctx context.Context, noteID uuid.UUID) error
	GenerateArtifact(ctx context.Context, artifactID uuid.UUID) error
}

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	EnqueueNote(noteID uuid.UUID) error
	EnqueueArtifact(artifactID uuid.UUID) error
	Shutdown(ctx context.Context)
}
