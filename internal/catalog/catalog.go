// Package catalog keeps a record of every mixdown written to the output
// directory in a small SQLite database.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("export not found")

// Entry describes one exported mixdown.
type Entry struct {
	ID         string
	Name       string
	Path       string
	Size       int64
	SampleRate int
	Duration   time.Duration
	CreatedAt  time.Time
}

type Catalog struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS exports (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	path TEXT NOT NULL,
	size INTEGER NOT NULL,
	sample_rate INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_exports_created ON exports(created_at);
CREATE INDEX IF NOT EXISTS idx_exports_name ON exports(name);
`

// Open opens or creates the catalog database at path.
func Open(path string) (*Catalog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create catalog directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	// SQLite allows a single writer
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create catalog schema: %w", err)
	}

	slog.Debug("Export catalog opened", "path", path)
	return &Catalog{db: db}, nil
}

func (c *Catalog) Close() error {
	return c.db.Close()
}

// Add stores e, assigning an ID and creation time when they are unset.
func (c *Catalog) Add(ctx context.Context, e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	_, err := c.db.ExecContext(ctx,
		`INSERT INTO exports (id, name, path, size, sample_rate, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Name, e.Path, e.Size, e.SampleRate, e.Duration.Milliseconds(), e.CreatedAt.UnixMilli())
	if err != nil {
		return Entry{}, fmt.Errorf("failed to record export: %w", err)
	}
	return e, nil
}

// List returns every export, newest first.
func (c *Catalog) List(ctx context.Context) ([]Entry, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, name, path, size, sample_rate, duration_ms, created_at
		 FROM exports ORDER BY created_at DESC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list exports: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Get looks an export up by ID.
func (c *Catalog) Get(ctx context.Context, id string) (Entry, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT id, name, path, size, sample_rate, duration_ms, created_at
		 FROM exports WHERE id = ?`, id)

	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, err
}

// Delete removes the record for id. The file itself is left alone.
func (c *Catalog) Delete(ctx context.Context, id string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM exports WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete export: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Prune drops records whose file no longer passes exists.
func (c *Catalog) Prune(ctx context.Context, exists func(path string) bool) (int, error) {
	entries, err := c.List(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, e := range entries {
		if exists(e.Path) {
			continue
		}
		if err := c.Delete(ctx, e.ID); err != nil {
			return removed, err
		}
		slog.Info("Pruned missing export", "name", e.Name, "path", e.Path)
		removed++
	}
	return removed, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var e Entry
	var durationMs, createdMs int64
	if err := s.Scan(&e.ID, &e.Name, &e.Path, &e.Size, &e.SampleRate, &durationMs, &createdMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("failed to read export: %w", err)
	}
	e.Duration = time.Duration(durationMs) * time.Millisecond
	e.CreatedAt = time.UnixMilli(createdMs)
	return e, nil
}
