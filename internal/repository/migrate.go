package repository

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"entgo.io/ent/dialect"
)

type columnTypes struct {
	uuid, ts, json, bytes string
}

func typesFor(d string) columnTypes {
	if d == dialect.Postgres {
		return columnTypes{uuid: "UUID", ts: "TIMESTAMPTZ", json: "JSONB", bytes: "BYTEA"}
	}
	return columnTypes{uuid: "TEXT", ts: "DATETIME", json: "TEXT", bytes: "BLOB"}
}

const notesDDL = `CREATE TABLE IF NOT EXISTS notes (
	id {{uuid}} PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	summary TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL DEFAULT '',
	source_type TEXT NOT NULL,
	source_path TEXT NOT NULL DEFAULT '',
	source_url TEXT NOT NULL DEFAULT '',
	original_name TEXT NOT NULL DEFAULT '',
	raw_text TEXT NOT NULL DEFAULT '',
	language TEXT NOT NULL DEFAULT 'en',
	status TEXT NOT NULL DEFAULT 'pending',
	failure_reason TEXT,
	content_hash {{bytes}},
	attempts INTEGER NOT NULL DEFAULT 0,
	created_at {{ts}} NOT NULL,
	updated_at {{ts}} NOT NULL,
	processed_at {{ts}}
)`

const artifactsDDL = `CREATE TABLE IF NOT EXISTS artifacts (
	id {{uuid}} PRIMARY KEY,
	note_id {{uuid}} NOT NULL REFERENCES notes(id) ON DELETE CASCADE,
	kind TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	failure_reason TEXT,
	options {{json}},
	payload {{json}},
	audio_path TEXT,
	attempts INTEGER NOT NULL DEFAULT 0,
	created_at {{ts}} NOT NULL,
	updated_at {{ts}} NOT NULL,
	completed_at {{ts}}
)`

var indexDDL = []string{
	`CREATE INDEX IF NOT EXISTS notes_status_updated_idx ON notes (status, updated_at)`,
	`CREATE INDEX IF NOT EXISTS notes_content_hash_idx ON notes (content_hash)`,
	`CREATE INDEX IF NOT EXISTS artifacts_note_idx ON artifacts (note_id, kind)`,
	`CREATE INDEX IF NOT EXISTS artifacts_status_updated_idx ON artifacts (status, updated_at)`,
}

func render(ddl string, t columnTypes) string {
	return strings.NewReplacer(
		"{{uuid}}", t.uuid,
		"{{ts}}", t.ts,
		"{{json}}", t.json,
		"{{bytes}}", t.bytes,
	).Replace(ddl)
}

// Migrate creates the notes and artifacts tables if they do not exist.
func Migrate(ctx context.Context, db *DB, logger *slog.Logger) error {
	t := typesFor(db.dialect)
	stmts := append([]string{render(notesDDL, t), render(artifactsDDL, t)}, indexDDL...)
	for i, stmt := range stmts {
		if _, err := db.SQL().ExecContext(ctx, stmt); err != nil {
			logger.Error("migration failed", "step", i, "error", err)
			return fmt.Errorf("migrate step %d: %w", i, err)
		}
	}
	logger.Info("schema up to date", "dialect", db.dialect)
	return nil
}
