package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresNotesTable       = "noterelay_notes"
	postgresOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

type postgresStore struct {
	dsn       string
	tableName string
	openDB    sqlOpenFunc
	clock     func() time.Time

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

// NewPostgresStore defers connecting until first use, matching the lazy
// ensureReady shape the other SQL-backed stores in this codebase use.
func NewPostgresStore(dsn string) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &postgresStore{
		dsn:       dsn,
		tableName: postgresNotesTable,
		openDB:    sql.Open,
		clock:     time.Now,
	}, nil
}

func (s *postgresStore) ensureReady() error {
	s.initOnce.Do(func() {
		db, err := s.openDB("postgres", s.dsn)
		if err != nil {
			s.initErr = fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()
		schema := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id          TEXT PRIMARY KEY,
				content     TEXT NOT NULL,
				target      TEXT NOT NULL,
				status      TEXT NOT NULL,
				retry_count INTEGER NOT NULL DEFAULT 0,
				last_error  TEXT NOT NULL DEFAULT '',
				created_at  BIGINT NOT NULL
			)`, s.tableName)
		if _, err := db.ExecContext(ctx, schema); err != nil {
			db.Close()
			s.initErr = fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			return
		}
		reset := fmt.Sprintf(`UPDATE %s SET status = $1 WHERE status = $2`, s.tableName)
		if _, err := db.ExecContext(ctx, reset, StatusPending, StatusInFlight); err != nil {
			db.Close()
			s.initErr = fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			return
		}
		s.db = db
	})
	return s.initErr
}

func (s *postgresStore) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, postgresOperationTimeout)
}

func (s *postgresStore) Enqueue(ctx context.Context, content, target string) (Note, error) {
	if strings.TrimSpace(content) == "" || strings.TrimSpace(target) == "" {
		return Note{}, ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return Note{}, err
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	now := s.clock().UTC()
	note := Note{
		ID:        NewNoteID(now),
		Content:   content,
		Target:    target,
		CreatedAt: now,
		Status:    StatusPending,
	}
	query := fmt.Sprintf(`INSERT INTO %s (id, content, target, status, retry_count, last_error, created_at)
		VALUES ($1, $2, $3, $4, 0, '', $5)`, s.tableName)
	if _, err := s.db.ExecContext(ctx, query, note.ID, note.Content, note.Target, note.Status, note.CreatedAt.UnixMicro()); err != nil {
		return Note{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return note, nil
}

func (s *postgresStore) ListByStatus(ctx context.Context, status Status) ([]Note, error) {
	if !validStatus(status) {
		return nil, ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	query := fmt.Sprintf(`SELECT id, content, target, status, retry_count, last_error, created_at
		FROM %s WHERE status = $1 ORDER BY created_at ASC, id ASC`, s.tableName)
	rows, err := s.db.QueryContext(ctx, query, status)
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

func (s *postgresStore) UpdateStatus(ctx context.Context, id string, status Status, lastErr string) (Note, error) {
	if !validStatus(status) {
		return Note{}, ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return Note{}, err
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Note{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`SELECT id, content, target, status, retry_count, last_error, created_at
		FROM %s WHERE id = $1 FOR UPDATE`, s.tableName)
	note, err := scanNote(tx.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Note{}, ErrNotFound
	}
	if err != nil {
		return Note{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	applyUpdate(&note, status, lastErr)
	if status == StatusDone {
		del := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.tableName)
		if _, err := tx.ExecContext(ctx, del, id); err != nil {
			return Note{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	} else {
		update := fmt.Sprintf(`UPDATE %s SET status = $1, retry_count = $2, last_error = $3 WHERE id = $4`, s.tableName)
		if _, err := tx.ExecContext(ctx, update, note.Status, note.RetryCount, note.LastError, id); err != nil {
			return Note{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return Note{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return note, nil
}

func (s *postgresStore) Remove(ctx context.Context, id string) (bool, error) {
	if err := s.ensureReady(); err != nil {
		return false, err
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.tableName)
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return affected > 0, nil
}

func (s *postgresStore) Count(ctx context.Context, status Status) (int, error) {
	if err := s.ensureReady(); err != nil {
		return 0, err
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	var row *sql.Row
	if status == "" {
		row = s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.tableName))
	} else {
		if !validStatus(status) {
			return 0, ErrInvalidInput
		}
		row = s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE status = $1`, s.tableName), status)
	}
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return count, nil
}

func (s *postgresStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
