// Package journal keeps a SQLite history of decisions, photos and
// autonomous thoughts.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/teslashibe/go-spider/pkg/command"
	"github.com/teslashibe/go-spider/pkg/photos"
)

const schema = `
CREATE TABLE IF NOT EXISTS decisions (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	command_id TEXT NOT NULL,
	command    TEXT NOT NULL,
	source     TEXT NOT NULL,
	kind       TEXT NOT NULL,
	maneuver   TEXT NOT NULL DEFAULT '',
	text       TEXT NOT NULL DEFAULT '',
	reason     TEXT NOT NULL DEFAULT '',
	at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_decisions_at ON decisions(at_unix_ms);

CREATE TABLE IF NOT EXISTS photos (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	path       TEXT NOT NULL,
	size       INTEGER NOT NULL DEFAULT 0,
	remote_id  TEXT NOT NULL DEFAULT '',
	taken_unix_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS thoughts (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	thought    TEXT NOT NULL,
	emotion    TEXT NOT NULL DEFAULT '',
	action     TEXT NOT NULL DEFAULT '',
	at_unix_ms INTEGER NOT NULL
);
`

// Thought is one recorded autonomous thought.
type Thought struct {
	Thought string    `json:"thought"`
	Emotion string    `json:"emotion"`
	Action  string    `json:"action,omitempty"`
	At      time.Time `json:"at"`
}

// Journal is the history store.
type Journal struct {
	db   *sql.DB
	path string
}

// Open opens or creates the database at path. ":memory:" gives a
// throwaway journal.
func Open(path string) (*Journal, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("journal: create dir: %w", err)
			}
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	// single writer; also keeps :memory: on one connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return &Journal{db: db, path: path}, nil
}

// Close closes the database.
func (j *Journal) Close() error { return j.db.Close() }

// Ping checks the database is reachable.
func (j *Journal) Ping(ctx context.Context) error { return j.db.PingContext(ctx) }

// RecordOutcome appends a decision.
func (j *Journal) RecordOutcome(ctx context.Context, o command.Outcome) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO decisions (command_id, command, source, kind, maneuver, text, reason, at_unix_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		o.CommandID, o.Command, string(o.Source), string(o.Kind), o.Maneuver, o.Text, o.Reason, o.At.UnixMilli())
	if err != nil {
		return fmt.Errorf("journal: record outcome: %w", err)
	}
	return nil
}

// RecentOutcomes returns up to limit decisions, newest first.
func (j *Journal) RecentOutcomes(ctx context.Context, limit int) ([]command.Outcome, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT command_id, command, source, kind, maneuver, text, reason, at_unix_ms
		 FROM decisions ORDER BY id DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("journal: query outcomes: %w", err)
	}
	defer rows.Close()

	var out []command.Outcome
	for rows.Next() {
		var (
			o            command.Outcome
			source, kind string
			at           int64
		)
		if err := rows.Scan(&o.CommandID, &o.Command, &source, &kind, &o.Maneuver, &o.Text, &o.Reason, &at); err != nil {
			return nil, fmt.Errorf("journal: scan outcome: %w", err)
		}
		o.Source = command.Source(source)
		o.Kind = command.OutcomeKind(kind)
		o.At = time.UnixMilli(at)
		out = append(out, o)
	}
	return out, rows.Err()
}

// RecordPhoto inserts or updates a photo. A later call with the same ID
// (after upload) fills in the remote ID.
func (j *Journal) RecordPhoto(ctx context.Context, p photos.Photo) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO photos (id, name, path, size, remote_id, taken_unix_ms) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET remote_id = excluded.remote_id`,
		p.ID, p.Name, p.Path, p.Size, p.RemoteID, p.TakenAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("journal: record photo: %w", err)
	}
	return nil
}

// RecentPhotos returns up to limit photos, newest first.
func (j *Journal) RecentPhotos(ctx context.Context, limit int) ([]photos.Photo, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, name, path, size, remote_id, taken_unix_ms FROM photos
		 ORDER BY taken_unix_ms DESC, rowid DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("journal: query photos: %w", err)
	}
	defer rows.Close()

	var out []photos.Photo
	for rows.Next() {
		var (
			p  photos.Photo
			at int64
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Path, &p.Size, &p.RemoteID, &at); err != nil {
			return nil, fmt.Errorf("journal: scan photo: %w", err)
		}
		p.TakenAt = time.UnixMilli(at)
		out = append(out, p)
	}
	return out, rows.Err()
}

// RecordThought appends an autonomous thought.
func (j *Journal) RecordThought(ctx context.Context, th Thought) error {
	if th.At.IsZero() {
		th.At = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO thoughts (thought, emotion, action, at_unix_ms) VALUES (?, ?, ?, ?)`,
		th.Thought, th.Emotion, th.Action, th.At.UnixMilli())
	if err != nil {
		return fmt.Errorf("journal: record thought: %w", err)
	}
	return nil
}

// RecentThoughts returns up to limit thoughts, newest first.
func (j *Journal) RecentThoughts(ctx context.Context, limit int) ([]Thought, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT thought, emotion, action, at_unix_ms FROM thoughts ORDER BY id DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("journal: query thoughts: %w", err)
	}
	defer rows.Close()

	var out []Thought
	for rows.Next() {
		var (
			th Thought
			at int64
		)
		if err := rows.Scan(&th.Thought, &th.Emotion, &th.Action, &at); err != nil {
			return nil, fmt.Errorf("journal: scan thought: %w", err)
		}
		th.At = time.UnixMilli(at)
		out = append(out, th)
	}
	return out, rows.Err()
}

func clampLimit(n int) int {
	if n <= 0 || n > 500 {
		return 50
	}
	return n
}
