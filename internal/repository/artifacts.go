package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/lucianodigital2b/clevernote-sub002/constants"
	"github.com/lucianodigital2b/clevernote-sub002/internal/common"
	"github.com/lucianodigital2b/clevernote-sub002/internal/entity"
)

const artifactsTable = "artifacts"

var artifactColumns = []string{
	"id", "note_id", "kind", "status", "failure_reason", "options", "payload",
	"audio_path", "attempts", "created_at", "updated_at", "completed_at",
}

type ArtifactRepository interface {
	Create(ctx context.Context, noteID uuid.UUID, kind constants.ArtifactKind, options json.RawMessage) (*entity.Artifact, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Artifact, error)
	ListByNote(ctx context.Context, noteID uuid.UUID) ([]*entity.Artifact, error)
	ListByStatus(ctx context.Context, status constants.ArtifactStatus, limit int) ([]*entity.Artifact, error)
	MarkGenerating(ctx context.Context, id uuid.UUID) (*entity.Artifact, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, payload json.RawMessage, audioPath *string) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	ResetPending(ctx context.Context, id uuid.UUID) error
	ListStale(ctx context.Context, status constants.ArtifactStatus, olderThan time.Time) ([]*entity.Artifact, error)
}

type artifactRepo struct {
	db  *DB
	log *slog.Logger
}

func NewArtifactRepository(db *DB, log *slog.Logger) ArtifactRepository {
	return &artifactRepo{db: db, log: log}
}

func (r *artifactRepo) Create(ctx context.Context, noteID uuid.UUID, kind constants.ArtifactKind, options json.RawMessage) (*entity.Artifact, error) {
	k, ok := constants.ParseArtifactKind(string(kind))
	if !ok {
		return nil, fmt.Errorf("%w: artifact kind %q", common.ErrInvalidInput, kind)
	}
	kind = k
	ts := now()
	a := &entity.Artifact{
		ID:        uuid.New(),
		NoteID:    noteID,
		Kind:      kind,
		Status:    constants.ArtifactStatusPending,
		Options:   options,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	query, args := r.db.builder().Insert(artifactsTable).
		Columns("id", "note_id", "kind", "status", "options", "attempts", "created_at", "updated_at").
		Values(a.ID, a.NoteID, string(a.Kind), string(a.Status), nullJSON(options), 0, ts, ts).
		Query()
	if _, err := r.db.SQL().ExecContext(ctx, query, args...); err != nil {
		r.log.Error("artifact create failed", "note_id", noteID, "kind", kind, "err", err)
		return nil, fmt.Errorf("%w: create artifact: %w", common.ErrDatabase, err)
	}
	r.log.Info("artifact created", "artifact_id", a.ID, "note_id", noteID, "kind", kind)
	return a, nil
}

func (r *artifactRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.Artifact, error) {
	b := r.db.builder()
	query, args := b.Select(artifactColumns...).
		From(b.Table(artifactsTable)).
		Where(entsql.EQ("id", id)).
		Query()
	a, err := scanArtifact(r.db.SQL().QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get artifact: %w", common.ErrDatabase, err)
	}
	return a, nil
}

func (r *artifactRepo) ListByNote(ctx context.Context, noteID uuid.UUID) ([]*entity.Artifact, error) {
	b := r.db.builder()
	query, args := b.Select(artifactColumns...).
		From(b.Table(artifactsTable)).
		Where(entsql.EQ("note_id", noteID)).
		OrderBy(entsql.Asc("created_at")).
		Query()
	return r.query(ctx, query, args)
}

func (r *artifactRepo) ListByStatus(ctx context.Context, status constants.ArtifactStatus, limit int) ([]*entity.Artifact, error) {
	b := r.db.builder()
	sel := b.Select(artifactColumns...).
		From(b.Table(artifactsTable)).
		Where(entsql.EQ("status", string(status))).
		OrderBy(entsql.Asc("created_at"))
	if limit > 0 {
		sel = sel.Limit(limit)
	}
	query, args := sel.Query()
	return r.query(ctx, query, args)
}

func (r *artifactRepo) ListStale(ctx context.Context, status constants.ArtifactStatus, olderThan time.Time) ([]*entity.Artifact, error) {
	b := r.db.builder()
	query, args := b.Select(artifactColumns...).
		From(b.Table(artifactsTable)).
		Where(entsql.And(
			entsql.EQ("status", string(status)),
			entsql.LT("updated_at", olderThan.UTC()),
		)).
		OrderBy(entsql.Asc("updated_at")).
		Query()
	return r.query(ctx, query, args)
}

func (r *artifactRepo) query(ctx context.Context, query string, args []any) ([]*entity.Artifact, error) {
	rows, err := r.db.SQL().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list artifacts: %w", common.ErrDatabase, err)
	}
	defer rows.Close()
	var out []*entity.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan artifact: %w", common.ErrDatabase, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// MarkGenerating moves the artifact to generating and increments attempts.
func (r *artifactRepo) MarkGenerating(ctx context.Context, id uuid.UUID) (*entity.Artifact, error) {
	a, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	ts := now()
	err = r.transition(ctx, a, constants.ArtifactStatusGenerating, func(u *entsql.UpdateBuilder) {
		u.Set("failure_reason", nil).Add("attempts", 1)
	}, ts)
	if err != nil {
		return nil, err
	}
	a.Status = constants.ArtifactStatusGenerating
	a.FailureReason = nil
	a.Attempts++
	a.UpdatedAt = ts
	r.log.Info("artifact generating", "artifact_id", id, "kind", a.Kind, "attempt", a.Attempts)
	return a, nil
}

func (r *artifactRepo) MarkCompleted(ctx context.Context, id uuid.UUID, payload json.RawMessage, audioPath *string) error {
	a, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	ts := now()
	err = r.transition(ctx, a, constants.ArtifactStatusCompleted, func(u *entsql.UpdateBuilder) {
		u.Set("payload", nullJSON(payload)).
			Set("audio_path", nullString(audioPath)).
			Set("failure_reason", nil).
			Set("completed_at", ts)
	}, ts)
	if err != nil {
		return err
	}
	r.log.Info("artifact completed", "artifact_id", id, "kind", a.Kind, "bytes", len(payload))
	return nil
}

func (r *artifactRepo) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	a, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	err = r.transition(ctx, a, constants.ArtifactStatusFailed, func(u *entsql.UpdateBuilder) {
		u.Set("failure_reason", reason)
	}, now())
	if err != nil {
		return err
	}
	r.log.Warn("artifact failed", "artifact_id", id, "kind", a.Kind, "reason", reason)
	return nil
}

func (r *artifactRepo) ResetPending(ctx context.Context, id uuid.UUID) error {
	a, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return r.transition(ctx, a, constants.ArtifactStatusPending, func(u *entsql.UpdateBuilder) {
		u.Set("failure_reason", nil)
	}, now())
}

func (r *artifactRepo) transition(ctx context.Context, a *entity.Artifact, next constants.ArtifactStatus, set func(*entsql.UpdateBuilder), ts time.Time) error {
	if !a.Status.CanTransition(next) {
		return fmt.Errorf("%w: artifact %s %s -> %s", common.ErrInvalidTransition, a.ID, a.Status, next)
	}
	u := r.db.builder().Update(artifactsTable).
		Set("status", string(next)).
		Set("updated_at", ts)
	if set != nil {
		set(u)
	}
	query, args := u.Where(entsql.And(
		entsql.EQ("id", a.ID),
		entsql.EQ("status", string(a.Status)),
	)).Query()
	res, err := r.db.SQL().ExecContext(ctx, query, args...)
	if err != nil {
		r.log.Error("artifact status update failed", "artifact_id", a.ID, "to", next, "err", err)
		return fmt.Errorf("%w: update artifact: %w", common.ErrDatabase, err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("%w: artifact %s changed concurrently", common.ErrInvalidTransition, a.ID)
	}
	return nil
}

func scanArtifact(s rowScanner) (*entity.Artifact, error) {
	var (
		a           entity.Artifact
		kind        string
		status      string
		reason      sql.NullString
		options     sql.NullString
		payload     sql.NullString
		audioPath   sql.NullString
		completedAt sql.NullTime
	)
	err := s.Scan(&a.ID, &a.NoteID, &kind, &status, &reason, &options, &payload,
		&audioPath, &a.Attempts, &a.CreatedAt, &a.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	a.Kind = constants.ArtifactKind(kind)
	a.Status = constants.ArtifactStatus(status)
	a.FailureReason = strPtr(reason)
	a.AudioPath = strPtr(audioPath)
	a.CompletedAt = timePtr(completedAt)
	if options.Valid {
		a.Options = json.RawMessage(options.String)
	}
	if payload.Valid {
		a.Payload = json.RawMessage(payload.String)
	}
	return &a, nil
}
