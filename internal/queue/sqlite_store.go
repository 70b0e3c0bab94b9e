package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS notes (
  id          TEXT PRIMARY KEY,
  content     TEXT NOT NULL,
  target      TEXT NOT NULL,
  status      TEXT NOT NULL,
  retry_count INTEGER NOT NULL DEFAULT 0,
  last_error  TEXT NOT NULL DEFAULT '',
  created_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_notes_status_created
ON notes(status, created_at);
`

type sqliteStore struct {
	db    *sql.DB
	clock func() time.Time
}

// NewSQLiteStore opens (creating if needed) the queue database at path.
// WAL plus a busy timeout keeps a desktop process responsive when the
// drain loop and a submit race on the same file.
func NewSQLiteStore(path string) (Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if _, err := db.Exec(`UPDATE notes SET status = ? WHERE status = ?`, StatusPending, StatusInFlight); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return &sqliteStore{db: db, clock: time.Now}, nil
}

func (s *sqliteStore) Enqueue(ctx context.Context, content, target string) (Note, error) {
	if strings.TrimSpace(content) == "" || strings.TrimSpace(target) == "" {
		return Note{}, ErrInvalidInput
	}
	now := s.clock().UTC()
	note := Note{
		ID:        NewNoteID(now),
		Content:   content,
		Target:    target,
		CreatedAt: now,
		Status:    StatusPending,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notes (id, content, target, status, retry_count, last_error, created_at)
		 VALUES (?, ?, ?, ?, 0, '', ?)`,
		note.ID, note.Content, note.Target, note.Status, note.CreatedAt.UnixMicro())
	if err != nil {
		return Note{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return note, nil
}

func (s *sqliteStore) ListByStatus(ctx context.Context, status Status) ([]Note, error) {
	if !validStatus(status) {
		return nil, ErrInvalidInput
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, target, status, retry_count, last_error, created_at
		 FROM notes WHERE status = ? ORDER BY created_at ASC, id ASC`, status)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()
	var notes []Note
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		notes = append(notes, note)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return notes, nil
}

func (s *sqliteStore) UpdateStatus(ctx context.Context, id string, status Status, lastErr string) (Note, error) {
	if !validStatus(status) {
		return Note{}, ErrInvalidInput
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Note{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT id, content, target, status, retry_count, last_error, created_at
		 FROM notes WHERE id = ?`, id)
	note, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Note{}, ErrNotFound
	}
	if err != nil {
		return Note{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	applyUpdate(&note, status, lastErr)
	if status == StatusDone {
		if _, err := tx.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id); err != nil {
			return Note{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	} else {
		if _, err := tx.ExecContext(ctx,
			`UPDATE notes SET status = ?, retry_count = ?, last_error = ? WHERE id = ?`,
			note.Status, note.RetryCount, note.LastError, id); err != nil {
			return Note{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return Note{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return note, nil
}

func (s *sqliteStore) Remove(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return affected > 0, nil
}

func (s *sqliteStore) Count(ctx context.Context, status Status) (int, error) {
	var (
		row *sql.Row
	)
	if status == "" {
		row = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notes`)
	} else {
		if !validStatus(status) {
			return 0, ErrInvalidInput
		}
		row = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notes WHERE status = ?`, status)
	}
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return count, nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(row rowScanner) (Note, error) {
	var (
		note      Note
		createdAt int64
	)
	if err := row.Scan(&note.ID, &note.Content, &note.Target, &note.Status,
		&note.RetryCount, &note.LastError, &createdAt); err != nil {
		return Note{}, err
	}
	note.CreatedAt = time.UnixMicro(createdAt).UTC()
	return note, nil
}
