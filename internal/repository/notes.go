package repository

import (
	"context"
	"database/sql"
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

const notesTable = "notes"

var noteColumns = []string{
	"id", "title", "summary", "content", "source_type", "source_path", "source_url",
	"original_name", "raw_text", "language", "status", "failure_reason", "content_hash",
	"attempts", "created_at", "updated_at", "processed_at",
}

// NewNote carries the fields known at ingest time.
type NewNote struct {
	SourceType   constants.SourceType
	SourcePath   string
	SourceURL    string
	OriginalName string
	RawText      string
	Language     string
	ContentHash  []byte
}

type NoteFilter struct {
	Status constants.NoteStatus
	Limit  int
}

type NoteRepository interface {
	Create(ctx context.Context, in NewNote) (*entity.Note, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Note, error)
	GetByHash(ctx context.Context, hash []byte) (*entity.Note, error)
	List(ctx context.Context, f NoteFilter) ([]*entity.Note, error)
	MarkProcessing(ctx context.Context, id uuid.UUID) (*entity.Note, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, sn entity.StudyNote, rawText string) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	ResetPending(ctx context.Context, id uuid.UUID) error
	ListStale(ctx context.Context, status constants.NoteStatus, olderThan time.Time) ([]*entity.Note, error)
}

type noteRepo struct {
	db  *DB
	log *slog.Logger
}

func NewNoteRepository(db *DB, log *slog.Logger) NoteRepository {
	return &noteRepo{db: db, log: log}
}

func (r *noteRepo) Create(ctx context.Context, in NewNote) (*entity.Note, error) {
	if !in.SourceType.Valid() {
		return nil, fmt.Errorf("%w: source type %q", common.ErrInvalidInput, in.SourceType)
	}
	lang := in.Language
	if lang == "" {
		lang = constants.DefaultLanguage
	}
	ts := now()
	n := &entity.Note{
		ID:           uuid.New(),
		SourceType:   in.SourceType,
		SourcePath:   in.SourcePath,
		SourceURL:    in.SourceURL,
		OriginalName: in.OriginalName,
		RawText:      in.RawText,
		Language:     lang,
		Status:       constants.NoteStatusPending,
		ContentHash:  in.ContentHash,
		CreatedAt:    ts,
		UpdatedAt:    ts,
	}
	query, args := r.db.builder().Insert(notesTable).
		Columns("id", "source_type", "source_path", "source_url", "original_name", "raw_text",
			"language", "status", "content_hash", "attempts", "created_at", "updated_at").
		Values(n.ID, string(n.SourceType), n.SourcePath, n.SourceURL, n.OriginalName, n.RawText,
			n.Language, string(n.Status), nullBytes(n.ContentHash), 0, ts, ts).
		Query()
	if _, err := r.db.SQL().ExecContext(ctx, query, args...); err != nil {
		r.log.Error("note create failed", "source_type", in.SourceType, "err", err)
		return nil, fmt.Errorf("%w: create note: %w", common.ErrDatabase, err)
	}
	r.log.Info("note created", "note_id", n.ID, "source_type", n.SourceType)
	return n, nil
}

func (r *noteRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.Note, error) {
	return r.getOne(ctx, entsql.EQ("id", id))
}

// GetByHash returns the most recent note with the given content hash.
func (r *noteRepo) GetByHash(ctx context.Context, hash []byte) (*entity.Note, error) {
	if len(hash) == 0 {
		return nil, common.ErrNotFound
	}
	return r.getOne(ctx, entsql.EQ("content_hash", hash))
}

func (r *noteRepo) getOne(ctx context.Context, p *entsql.Predicate) (*entity.Note, error) {
	b := r.db.builder()
	query, args := b.Select(noteColumns...).
		From(b.Table(notesTable)).
		Where(p).
		OrderBy(entsql.Desc("created_at")).
		Limit(1).
		Query()
	n, err := scanNote(r.db.SQL().QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get note: %w", common.ErrDatabase, err)
	}
	return n, nil
}

func (r *noteRepo) List(ctx context.Context, f NoteFilter) ([]*entity.Note, error) {
	b := r.db.builder()
	sel := b.Select(noteColumns...).From(b.Table(notesTable)).OrderBy(entsql.Asc("created_at"))
	if f.Status != "" {
		sel = sel.Where(entsql.EQ("status", string(f.Status)))
	}
	if f.Limit > 0 {
		sel = sel.Limit(f.Limit)
	}
	query, args := sel.Query()
	return r.query(ctx, query, args)
}

func (r *noteRepo) ListStale(ctx context.Context, status constants.NoteStatus, olderThan time.Time) ([]*entity.Note, error) {
	b := r.db.builder()
	query, args := b.Select(noteColumns...).
		From(b.Table(notesTable)).
		Where(entsql.And(
			entsql.EQ("status", string(status)),
			entsql.LT("updated_at", olderThan.UTC()),
		)).
		OrderBy(entsql.Asc("updated_at")).
		Query()
	return r.query(ctx, query, args)
}

func (r *noteRepo) query(ctx context.Context, query string, args []any) ([]*entity.Note, error) {
	rows, err := r.db.SQL().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list notes: %w", common.ErrDatabase, err)
	}
	defer rows.Close()
	var out []*entity.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan note: %w", common.ErrDatabase, err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkProcessing moves the note to processing and bumps its attempt counter.
func (r *noteRepo) MarkProcessing(ctx context.Context, id uuid.UUID) (*entity.Note, error) {
	n, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	ts := now()
	err = r.transition(ctx, n, constants.NoteStatusProcessing, func(u *entsql.UpdateBuilder) {
		u.Set("failure_reason", nil).Add("attempts", 1)
	}, ts)
	if err != nil {
		return nil, err
	}
	n.Status = constants.NoteStatusProcessing
	n.FailureReason = nil
	n.Attempts++
	n.UpdatedAt = ts
	r.log.Info("note processing", "note_id", id, "attempt", n.Attempts)
	return n, nil
}

func (r *noteRepo) MarkProcessed(ctx context.Context, id uuid.UUID, sn entity.StudyNote, rawText string) error {
	n, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	lang := sn.Language
	if lang == "" {
		lang = n.Language
	}
	ts := now()
	err = r.transition(ctx, n, constants.NoteStatusProcessed, func(u *entsql.UpdateBuilder) {
		u.Set("title", sn.Title).
			Set("summary", sn.Summary).
			Set("content", sn.Content).
			Set("language", lang).
			Set("raw_text", rawText).
			Set("failure_reason", nil).
			Set("processed_at", ts)
	}, ts)
	if err != nil {
		return err
	}
	r.log.Info("note processed", "note_id", id, "title", sn.Title)
	return nil
}

func (r *noteRepo) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	n, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	err = r.transition(ctx, n, constants.NoteStatusFailed, func(u *entsql.UpdateBuilder) {
		u.Set("failure_reason", reason)
	}, now())
	if err != nil {
		return err
	}
	r.log.Warn("note failed", "note_id", id, "reason", reason)
	return nil
}

// ResetPending puts a failed note back in the queue.
func (r *noteRepo) ResetPending(ctx context.Context, id uuid.UUID) error {
	n, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return r.transition(ctx, n, constants.NoteStatusPending, func(u *entsql.UpdateBuilder) {
		u.Set("failure_reason", nil)
	}, now())
}

// transition writes next only if the table allows it and the row still holds the status we read.
func (r *noteRepo) transition(ctx context.Context, n *entity.Note, next constants.NoteStatus, set func(*entsql.UpdateBuilder), ts time.Time) error {
	if !n.Status.CanTransition(next) {
		return fmt.Errorf("%w: note %s %s -> %s", common.ErrInvalidTransition, n.ID, n.Status, next)
	}
	u := r.db.builder().Update(notesTable).
		Set("status", string(next)).
		Set("updated_at", ts)
	if set != nil {
		set(u)
	}
	query, args := u.Where(entsql.And(
		entsql.EQ("id", n.ID),
		entsql.EQ("status", string(n.Status)),
	)).Query()
	res, err := r.db.SQL().ExecContext(ctx, query, args...)
	if err != nil {
		r.log.Error("note status update failed", "note_id", n.ID, "to", next, "err", err)
		return fmt.Errorf("%w: update note: %w", common.ErrDatabase, err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("%w: note %s changed concurrently", common.ErrInvalidTransition, n.ID)
	}
	return nil
}

func scanNote(s rowScanner) (*entity.Note, error) {
	var (
		n           entity.Note
		sourceType  string
		status      string
		reason      sql.NullString
		processedAt sql.NullTime
	)
	err := s.Scan(&n.ID, &n.Title, &n.Summary, &n.Content, &sourceType, &n.SourcePath, &n.SourceURL,
		&n.OriginalName, &n.RawText, &n.Language, &status, &reason, &n.ContentHash,
		&n.Attempts, &n.CreatedAt, &n.UpdatedAt, &processedAt)
	if err != nil {
		return nil, err
	}
	n.SourceType = constants.SourceType(sourceType)
	n.Status = constants.NoteStatus(status)
	n.FailureReason = strPtr(reason)
	n.ProcessedAt = timePtr(processedAt)
	return &n, nil
}
