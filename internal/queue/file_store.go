package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type fileStore struct {
	path  string
	mu    sync.Mutex
	notes map[string]Note
	clock func() time.Time
}

type fileStoreState struct {
	Notes []Note `json:"notes"`
}

// NewFileStore persists the queue as a single JSON document written with
// tmp+rename so a crash mid-save never corrupts the previous snapshot.
func NewFileStore(path string) (Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	s := &fileStore{
		path:  path,
		notes: map[string]Note{},
		clock: time.Now,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *fileStore) Enqueue(ctx context.Context, content, target string) (Note, error) {
	if strings.TrimSpace(content) == "" || strings.TrimSpace(target) == "" {
		return Note{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock().UTC()
	note := Note{
		ID:        NewNoteID(now),
		Content:   content,
		Target:    target,
		CreatedAt: now,
		Status:    StatusPending,
	}
	s.notes[note.ID] = note
	if err := s.saveLocked(); err != nil {
		delete(s.notes, note.ID)
		return Note{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return note, nil
}

func (s *fileStore) ListByStatus(ctx context.Context, status Status) ([]Note, error) {
	if !validStatus(status) {
		return nil, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortNotes(collectByStatus(s.notes, status)), nil
}

func (s *fileStore) UpdateStatus(ctx context.Context, id string, status Status, lastErr string) (Note, error) {
	if !validStatus(status) {
		return Note{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.notes[id]
	if !ok {
		return Note{}, ErrNotFound
	}
	note := prev
	applyUpdate(&note, status, lastErr)
	if status == StatusDone {
		delete(s.notes, id)
	} else {
		s.notes[id] = note
	}
	if err := s.saveLocked(); err != nil {
		s.notes[id] = prev
		return Note{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return note, nil
}

func (s *fileStore) Remove(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.notes[id]
	if !ok {
		return false, nil
	}
	delete(s.notes, id)
	if err := s.saveLocked(); err != nil {
		s.notes[id] = prev
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return true, nil
}

func (s *fileStore) Count(ctx context.Context, status Status) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == "" {
		return len(s.notes), nil
	}
	if !validStatus(status) {
		return 0, ErrInvalidInput
	}
	return len(collectByStatus(s.notes, status)), nil
}

func (s *fileStore) Close() error {
	return nil
}

func (s *fileStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	var snapshot fileStoreState
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	dirty := false
	for _, note := range snapshot.Notes {
		// In-flight is a live-process state only.
		if note.Status == StatusInFlight {
			note.Status = StatusPending
			dirty = true
		}
		s.notes[note.ID] = note
	}
	if dirty {
		return s.saveLocked()
	}
	return nil
}

func (s *fileStore) saveLocked() error {
	snapshot := fileStoreState{Notes: sortNotes(collectAll(s.notes))}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func collectAll(notes map[string]Note) []Note {
	out := make([]Note, 0, len(notes))
	for _, note := range notes {
		out = append(out, note)
	}
	return out
}
