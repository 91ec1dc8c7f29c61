// Package store keeps transcription history in a local SQLite database.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/Dcomtech1/whisper-transcriber-site/internal/whisper"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("transcript not found")

//go:embed migrations/*.sql
var migrations embed.FS

type Transcript struct {
	ID              string            `json:"id"`
	Filename        string            `json:"filename"`
	Model           string            `json:"model"`
	Language        string            `json:"language"`
	DurationSeconds float64           `json:"duration_seconds"`
	Text            string            `json:"text"`
	DocxFile        string            `json:"docx_file"`
	Segments        []whisper.Segment `json:"segments"`
	Silent          bool              `json:"silent"`
	CreatedAt       time.Time         `json:"created_at"`
}

type Store struct {
	db *sql.DB
}

// Open creates the database file if needed and applies pending migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		create table if not exists schema_migrations (
			name text primary key,
			applied_at integer not null
		)`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	for _, file := range files {
		var applied int
		if err := s.db.QueryRowContext(ctx, `select count(*) from schema_migrations where name = ?`, file).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", file, err)
		}
		if applied > 0 {
			continue
		}

		data, err := fs.ReadFile(migrations, "migrations/"+file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", file, err)
		}
		if _, err := tx.ExecContext(ctx, string(data)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
		if _, err := tx.ExecContext(ctx, `insert into schema_migrations (name, applied_at) values (?, ?)`, file, time.Now().UnixMilli()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", file, err)
		}
	}

	return nil
}

func (s *Store) Save(ctx context.Context, t Transcript) error {
	if t.ID == "" {
		return errors.New("transcript id is required")
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}

	segments := t.Segments
	if segments == nil {
		segments = []whisper.Segment{}
	}
	encoded, err := json.Marshal(segments)
	if err != nil {
		return fmt.Errorf("encode segments: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		insert into transcripts (
			id, filename, model, language, duration_seconds, text, docx_file, segments, silent, created_at
		) values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID,
		t.Filename,
		t.Model,
		t.Language,
		t.DurationSeconds,
		t.Text,
		t.DocxFile,
		string(encoded),
		t.Silent,
		t.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save transcript: %w", err)
	}

	return nil
}

const selectColumns = `id, filename, model, language, duration_seconds, text, docx_file, segments, silent, created_at`

func (s *Store) Get(ctx context.Context, id string) (*Transcript, error) {
	row := s.db.QueryRowContext(ctx, `select `+selectColumns+` from transcripts where id = ?`, id)

	t, err := scanTranscript(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transcript: %w", err)
	}

	return t, nil
}

// List returns up to limit transcripts, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Transcript, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `select `+selectColumns+` from transcripts order by created_at desc, id limit ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transcripts: %w", err)
	}
	defer rows.Close()

	transcripts := []Transcript{}
	for rows.Next() {
		t, err := scanTranscript(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transcript: %w", err)
		}
		transcripts = append(transcripts, *t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list transcripts: %w", err)
	}

	return transcripts, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTranscript(row scanner) (*Transcript, error) {
	var (
		t         Transcript
		segments  string
		createdAt int64
	)

	if err := row.Scan(
		&t.ID,
		&t.Filename,
		&t.Model,
		&t.Language,
		&t.DurationSeconds,
		&t.Text,
		&t.DocxFile,
		&segments,
		&t.Silent,
		&createdAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(segments), &t.Segments); err != nil {
		return nil, fmt.Errorf("decode segments: %w", err)
	}
	t.CreatedAt = time.UnixMilli(createdAt)

	return &t, nil
}
